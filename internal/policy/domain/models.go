package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"

	hierarchydomain "github.com/credgate/credgate/internal/hierarchy/domain"
)

// Policy restricts what a single hierarchy node (and everything below it)
// may request. A nil AllowedModels leaves model choice unrestricted; nil
// numeric limits leave that dimension unbounded. Several policies may
// target the same node.
type Policy struct {
	ID              snowflake.ID                `gorm:"primaryKey" json:"id"`
	TargetLevel     hierarchydomain.Level       `gorm:"column:target_level;type:text;not null;index:idx_policies_target,priority:1" json:"target_level"`
	TargetID        snowflake.ID                `gorm:"column:target_id;not null;index:idx_policies_target,priority:2" json:"target_id"`
	Name            string                      `gorm:"type:text;not null" json:"name"`
	AllowedModels   datatypes.JSONSlice[string] `gorm:"column:allowed_models" json:"allowed_models,omitempty"`
	MaxInputTokens  *int                        `gorm:"column:max_input_tokens" json:"max_input_tokens,omitempty"`
	MaxOutputTokens *int                        `gorm:"column:max_output_tokens" json:"max_output_tokens,omitempty"`
	RPMLimit        *int                        `gorm:"column:rpm_limit" json:"rpm_limit,omitempty"`
	CreatedAt       time.Time                   `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time                   `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Policy) TableName() string { return "policies" }

// Target returns the node this policy attaches to.
func (p *Policy) Target() hierarchydomain.Target {
	return hierarchydomain.Target{Level: p.TargetLevel, ID: p.TargetID}
}
