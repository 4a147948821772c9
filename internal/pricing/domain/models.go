package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// PricingRule sets the USD cost of one model, quoted per 1000 tokens the
// way providers publish their price sheets.
type PricingRule struct {
	ID              snowflake.ID    `gorm:"primaryKey" json:"id"`
	Provider        string          `gorm:"type:text;not null;uniqueIndex:ux_pricing_provider_model,priority:1" json:"provider"`
	Model           string          `gorm:"type:text;not null;uniqueIndex:ux_pricing_provider_model,priority:2" json:"model"`
	InputCostPer1K  decimal.Decimal `gorm:"column:input_cost_per_1k;type:numeric(18,8);not null" json:"input_cost_per_1k"`
	OutputCostPer1K decimal.Decimal `gorm:"column:output_cost_per_1k;type:numeric(18,8);not null" json:"output_cost_per_1k"`
	IsActive        bool            `gorm:"column:is_active;not null;default:true" json:"is_active"`
	CreatedAt       time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (PricingRule) TableName() string { return "pricing_rules" }

var oneThousand = decimal.NewFromInt(1000)

// Cost computes the USD cost of a request against this rule.
func (r *PricingRule) Cost(inputTokens, outputTokens int) decimal.Decimal {
	input := r.InputCostPer1K.Mul(decimal.NewFromInt(int64(inputTokens))).Div(oneThousand)
	output := r.OutputCostPer1K.Mul(decimal.NewFromInt(int64(outputTokens))).Div(oneThousand)
	return input.Add(output)
}
