package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"

	hierarchydomain "github.com/credgate/credgate/internal/hierarchy/domain"
)

// Period determines how a budget's spending window resets.
type Period string

const (
	PeriodDaily   Period = "DAILY"
	PeriodMonthly Period = "MONTHLY"
	PeriodTotal   Period = "TOTAL"
)

// Valid reports whether p names a known period.
func (p Period) Valid() bool {
	switch p {
	case PeriodDaily, PeriodMonthly, PeriodTotal:
		return true
	default:
		return false
	}
}

// Budget caps credit spend for one hierarchy node and everything below it.
// DAILY and MONTHLY windows reset at their UTC boundaries; TOTAL never
// resets. With AutoDisable set, an overrun also deactivates the node.
type Budget struct {
	ID          snowflake.ID          `gorm:"primaryKey" json:"id"`
	TargetLevel hierarchydomain.Level `gorm:"column:target_level;type:text;not null;index:idx_budgets_target,priority:1" json:"target_level"`
	TargetID    snowflake.ID          `gorm:"column:target_id;not null;index:idx_budgets_target,priority:2" json:"target_id"`
	Name        string                `gorm:"type:text;not null" json:"name"`
	Period      Period                `gorm:"type:text;not null" json:"period"`
	CreditLimit int64                 `gorm:"column:credit_limit;not null" json:"credit_limit"`
	AutoDisable bool                  `gorm:"column:auto_disable;not null;default:false" json:"auto_disable"`
	IsActive    bool                  `gorm:"column:is_active;not null;default:true" json:"is_active"`
	CreatedAt   time.Time             `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time             `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Budget) TableName() string { return "budgets" }

// Target returns the node this budget attaches to.
func (b *Budget) Target() hierarchydomain.Target {
	return hierarchydomain.Target{Level: b.TargetLevel, ID: b.TargetID}
}

// WindowStart returns the UTC start of the budget's current window, or nil
// for TOTAL budgets which span all time.
func (b *Budget) WindowStart(now time.Time) *time.Time {
	now = now.UTC()
	switch b.Period {
	case PeriodDaily:
		start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		return &start
	case PeriodMonthly:
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return &start
	default:
		return nil
	}
}
