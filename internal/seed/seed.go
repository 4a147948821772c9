// Package seed bootstraps a fresh installation with a default
// organization and a starter price sheet so the gateway is usable out of
// the box.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/credgate/credgate/internal/config"
	hierarchydomain "github.com/credgate/credgate/internal/hierarchy/domain"
	ledgerdomain "github.com/credgate/credgate/internal/ledger/domain"
	pricingdomain "github.com/credgate/credgate/internal/pricing/domain"
)

const (
	defaultOrgName = "Main"
	defaultOrgSlug = "main"
)

// Ensure seeds the default organization and pricing rules. It is safe to
// run on every startup.
func Ensure(db *gorm.DB, cfg config.Config) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := ensureMainOrgTx(ctx, tx, node, cfg); err != nil {
			return err
		}
		return ensurePricingRulesTx(ctx, tx, node)
	})
}

func ensureMainOrgTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, cfg config.Config) (hierarchydomain.Organization, error) {
	var org hierarchydomain.Organization
	err := tx.WithContext(ctx).Where("slug = ?", defaultOrgSlug).First(&org).Error
	if err == nil {
		return org, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return org, err
	}

	now := time.Now().UTC()
	account := ledgerdomain.Account{
		ID:        node.Generate(),
		Name:      defaultOrgName + " billing",
		CreatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(&account).Error; err != nil {
		return org, err
	}

	creditsPerUSD := cfg.CreditsPerUSD
	if creditsPerUSD <= 0 {
		creditsPerUSD = 100
	}

	org = hierarchydomain.Organization{
		ID:               node.Generate(),
		Name:             defaultOrgName,
		Slug:             defaultOrgSlug,
		BillingAccountID: account.ID,
		CreditsPerUSD:    creditsPerUSD,
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := tx.WithContext(ctx).Create(&org).Error; err != nil {
		return org, err
	}

	return org, nil
}

type seedRate struct {
	provider string
	model    string
	input    string
	output   string
}

// Per-1k-token USD rates matching the public provider price sheets at the
// time of writing. Operators override these through the pricing API.
var defaultRates = []seedRate{
	{provider: "openai", model: "gpt-4o", input: "0.0025", output: "0.01"},
	{provider: "openai", model: "gpt-4o-mini", input: "0.00015", output: "0.0006"},
	{provider: "anthropic", model: "claude-3-5-sonnet-20241022", input: "0.003", output: "0.015"},
	{provider: "anthropic", model: "claude-3-haiku-20240307", input: "0.00025", output: "0.00125"},
	{provider: "mock", model: "mock-model", input: "0.001", output: "0.002"},
}

func ensurePricingRulesTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node) error {
	now := time.Now().UTC()
	for _, rate := range defaultRates {
		input, err := decimal.NewFromString(rate.input)
		if err != nil {
			return err
		}
		output, err := decimal.NewFromString(rate.output)
		if err != nil {
			return err
		}

		rule := pricingdomain.PricingRule{
			ID:              node.Generate(),
			Provider:        rate.provider,
			Model:           rate.model,
			InputCostPer1K:  input,
			OutputCostPer1K: output,
			IsActive:        true,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		err = tx.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "provider"}, {Name: "model"}},
				DoNothing: true,
			}).
			Create(&rule).Error
		if err != nil {
			return err
		}
	}
	return nil
}
