package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	hierarchydomain "github.com/credgate/credgate/internal/hierarchy/domain"
	policydomain "github.com/credgate/credgate/internal/policy/domain"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Hierarchy hierarchydomain.Service
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	hierarchy hierarchydomain.Service
}

func NewService(p Params) policydomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("policy.service"),
		genID:     p.GenID,
		hierarchy: p.Hierarchy,
	}
}

func (s *Service) Create(ctx context.Context, req policydomain.CreateRequest) (*policydomain.Policy, error) {
	if !req.Target.Valid() {
		return nil, policydomain.ErrInvalidTarget
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, policydomain.ErrInvalidName
	}
	for _, limit := range []*int{req.MaxInputTokens, req.MaxOutputTokens, req.RPMLimit} {
		if limit != nil && *limit <= 0 {
			return nil, policydomain.ErrInvalidLimit
		}
	}

	now := time.Now().UTC()
	policy := policydomain.Policy{
		ID:              s.genID.Generate(),
		TargetLevel:     req.Target.Level,
		TargetID:        req.Target.ID,
		Name:            name,
		MaxInputTokens:  req.MaxInputTokens,
		MaxOutputTokens: req.MaxOutputTokens,
		RPMLimit:        req.RPMLimit,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.AllowedModels != nil {
		policy.AllowedModels = datatypes.NewJSONSlice(req.AllowedModels)
	}

	if err := s.db.WithContext(ctx).Create(&policy).Error; err != nil {
		return nil, err
	}

	return &policy, nil
}

func (s *Service) List(ctx context.Context, target hierarchydomain.Target) ([]policydomain.Policy, error) {
	if !target.Valid() {
		return nil, policydomain.ErrInvalidTarget
	}

	var policies []policydomain.Policy
	if err := s.db.WithContext(ctx).
		Where("target_level = ? AND target_id = ?", target.Level, target.ID).
		Order("created_at ASC").
		Find(&policies).Error; err != nil {
		return nil, err
	}

	return policies, nil
}

func (s *Service) Delete(ctx context.Context, id snowflake.ID) error {
	result := s.db.WithContext(ctx).Delete(&policydomain.Policy{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return policydomain.ErrNotFound
	}
	return nil
}

func (s *Service) Effective(ctx context.Context, agentID snowflake.ID) (policydomain.EffectivePolicy, error) {
	chain, err := s.hierarchy.Chain(ctx, agentID)
	if err != nil {
		return policydomain.EffectivePolicy{}, err
	}

	policies, err := s.policiesForTargets(ctx, chain.Targets())
	if err != nil {
		return policydomain.EffectivePolicy{}, err
	}

	return policydomain.Merge(policies), nil
}

func (s *Service) policiesForTargets(ctx context.Context, targets []hierarchydomain.Target) ([]policydomain.Policy, error) {
	query := s.db.WithContext(ctx).Model(&policydomain.Policy{})
	for i, target := range targets {
		cond := s.db.Where("target_level = ? AND target_id = ?", target.Level, target.ID)
		if i == 0 {
			query = query.Where(cond)
		} else {
			query = query.Or(cond)
		}
	}

	var policies []policydomain.Policy
	if err := query.Find(&policies).Error; err != nil {
		return nil, err
	}
	return policies, nil
}
