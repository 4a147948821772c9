// Package domain contains persistence models for gateway usage events.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Status is the terminal outcome of one gateway request.
type Status string

const (
	StatusSuccess        Status = "SUCCESS"
	StatusError          Status = "ERROR"
	StatusPolicyBlocked  Status = "POLICY_BLOCKED"
	StatusBudgetExceeded Status = "BUDGET_EXCEEDED"
)

// Valid reports whether s names a known terminal status.
func (s Status) Valid() bool {
	switch s {
	case StatusSuccess, StatusError, StatusPolicyBlocked, StatusBudgetExceeded:
		return true
	default:
		return false
	}
}

// UsageEvent records the outcome of exactly one gateway request. Events are
// append-only; the unique request id index is what makes "exactly one" hold
// under client retries and at-least-once redelivery.
type UsageEvent struct {
	ID             snowflake.ID      `gorm:"primaryKey"`
	RequestID      string            `gorm:"column:request_id;type:text;not null;uniqueIndex"`
	AgentID        snowflake.ID      `gorm:"column:agent_id;not null;index"`
	OrgID          snowflake.ID      `gorm:"column:org_id;not null;index"`
	Provider       string            `gorm:"type:text;not null"`
	Model          string            `gorm:"type:text;not null"`
	InputTokens    int               `gorm:"column:input_tokens;not null"`
	OutputTokens   int               `gorm:"column:output_tokens;not null"`
	CostUSD        decimal.Decimal   `gorm:"column:cost_usd;type:numeric(18,8);not null"`
	CreditsCharged int64             `gorm:"column:credits_charged;not null"`
	LatencyMs      int64             `gorm:"column:latency_ms;not null"`
	Status         Status            `gorm:"type:text;not null;index"`
	ErrorMessage   string            `gorm:"column:error_message;type:text"`
	Metadata       datatypes.JSONMap `gorm:"column:metadata"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP;index"`
}

// TableName sets the database table name.
func (UsageEvent) TableName() string { return "usage_events" }
