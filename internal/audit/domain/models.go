// Package domain contains the append-only audit trail model. Entries are
// never updated or deleted, mirroring the ledger's immutability contract.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type AuditLog struct {
	ID           snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID        *snowflake.ID     `gorm:"index" json:"org_id,omitempty"`
	ActorAgentID *snowflake.ID     `gorm:"index" json:"actor_agent_id,omitempty"`
	Action       string            `gorm:"type:text;not null;index" json:"action"`
	TargetType   string            `gorm:"type:text;not null" json:"target_type"`
	TargetID     *string           `gorm:"type:text" json:"target_id,omitempty"`
	Description  string            `gorm:"type:text" json:"description,omitempty"`
	Metadata     datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
}

// TableName sets the database table name.
func (AuditLog) TableName() string { return "audit_logs" }
