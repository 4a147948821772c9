package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestCostQuotedPerThousandTokens(t *testing.T) {
	rule := PricingRule{
		InputCostPer1K:  decimal.RequireFromString("0.005"),
		OutputCostPer1K: decimal.RequireFromString("0.015"),
	}

	cost := rule.Cost(2000, 1000)
	require.True(t, cost.Equal(decimal.RequireFromString("0.025")), "got %s", cost)

	zero := rule.Cost(0, 0)
	require.True(t, zero.IsZero())
}

func TestCostToCreditsRoundsUp(t *testing.T) {
	cases := []struct {
		cost          string
		creditsPerUSD int64
		want          int64
	}{
		{"0.0001", 100, 1},
		{"0.01", 100, 1},
		{"0.011", 100, 2},
		{"0.25", 100, 25},
		{"1", 100, 100},
		{"0.0001", 1000, 1},
		{"0", 100, 0},
	}

	for _, tc := range cases {
		got := CostToCredits(decimal.RequireFromString(tc.cost), tc.creditsPerUSD)
		require.Equal(t, tc.want, got, "cost %s at %d credits/usd", tc.cost, tc.creditsPerUSD)
	}
}

func TestCostToCreditsNeverNegative(t *testing.T) {
	require.Equal(t, int64(0), CostToCredits(decimal.RequireFromString("-0.5"), 100))
}
