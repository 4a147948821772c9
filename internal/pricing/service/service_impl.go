package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	pricingdomain "github.com/credgate/credgate/internal/pricing/domain"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewService(p Params) pricingdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("pricing.service"),
		genID: p.GenID,
	}
}

func (s *Service) Upsert(ctx context.Context, req pricingdomain.UpsertRequest) (*pricingdomain.PricingRule, error) {
	provider := strings.TrimSpace(strings.ToLower(req.Provider))
	if provider == "" {
		return nil, pricingdomain.ErrInvalidProvider
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		return nil, pricingdomain.ErrInvalidModel
	}
	if req.InputCostPer1K.IsNegative() || req.OutputCostPer1K.IsNegative() {
		return nil, pricingdomain.ErrInvalidCost
	}

	now := time.Now().UTC()
	rule := pricingdomain.PricingRule{
		ID:              s.genID.Generate(),
		Provider:        provider,
		Model:           model,
		InputCostPer1K:  req.InputCostPer1K,
		OutputCostPer1K: req.OutputCostPer1K,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "provider"}, {Name: "model"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"input_cost_per_1k", "output_cost_per_1k", "is_active", "updated_at",
			}),
		}).
		Create(&rule).Error
	if err != nil {
		return nil, err
	}

	// Re-read so an update returns the surviving row, not the candidate.
	return s.RateFor(ctx, provider, model)
}

func (s *Service) List(ctx context.Context) ([]pricingdomain.PricingRule, error) {
	var rules []pricingdomain.PricingRule
	if err := s.db.WithContext(ctx).
		Order("provider ASC, model ASC").
		Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

func (s *Service) RateFor(ctx context.Context, provider, model string) (*pricingdomain.PricingRule, error) {
	var rule pricingdomain.PricingRule
	err := s.db.WithContext(ctx).
		Where("provider = ? AND model = ? AND is_active = ?", strings.ToLower(provider), model, true).
		First(&rule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pricingdomain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}
