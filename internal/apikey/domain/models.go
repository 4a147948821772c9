package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// APIKey stores hashed gateway credentials bound to a single agent. The
// plaintext key is shown once at issue time and never persisted; only the
// SHA-256 digest and the last characters survive for display.
type APIKey struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	AgentID    snowflake.ID `gorm:"column:agent_id;not null;index"`
	Name       string       `gorm:"type:text;not null"`
	KeyHash    string       `gorm:"column:key_hash;type:text;not null;uniqueIndex"`
	KeySuffix  string       `gorm:"column:key_suffix;type:text;not null"`
	IsActive   bool         `gorm:"column:is_active;not null;default:true"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	LastUsedAt *time.Time   `gorm:"column:last_used_at"`
	RevokedAt  *time.Time   `gorm:"column:revoked_at"`
}

// TableName sets the database table name.
func (APIKey) TableName() string { return "api_keys" }
