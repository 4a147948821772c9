package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

type UpsertRequest struct {
	Provider        string          `json:"provider"`
	Model           string          `json:"model"`
	InputCostPer1K  decimal.Decimal `json:"input_cost_per_1k"`
	OutputCostPer1K decimal.Decimal `json:"output_cost_per_1k"`
}

type Service interface {
	Upsert(ctx context.Context, req UpsertRequest) (*PricingRule, error)
	List(ctx context.Context) ([]PricingRule, error)

	// RateFor returns the active rule for a provider/model pair, or
	// ErrNotFound when the model has no configured price.
	RateFor(ctx context.Context, provider, model string) (*PricingRule, error)
}

var (
	ErrNotFound        = errors.New("pricing_not_found")
	ErrInvalidProvider = errors.New("invalid_provider")
	ErrInvalidModel    = errors.New("invalid_model")
	ErrInvalidCost     = errors.New("invalid_cost")
)

// CostToCredits converts a USD cost to whole credits, always rounding up
// so fractional cost never bills as zero.
func CostToCredits(costUSD decimal.Decimal, creditsPerUSD int64) int64 {
	if costUSD.Sign() <= 0 {
		return 0
	}
	return costUSD.Mul(decimal.NewFromInt(creditsPerUSD)).Ceil().IntPart()
}
