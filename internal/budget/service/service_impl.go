package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	budgetdomain "github.com/credgate/credgate/internal/budget/domain"
	"github.com/credgate/credgate/internal/clock"
	hierarchydomain "github.com/credgate/credgate/internal/hierarchy/domain"
	usagedomain "github.com/credgate/credgate/internal/usage/domain"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Hierarchy hierarchydomain.Service
	Usage     usagedomain.Service
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	hierarchy hierarchydomain.Service
	usage     usagedomain.Service
}

func NewService(p Params) budgetdomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("budget.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		hierarchy: p.Hierarchy,
		usage:     p.Usage,
	}
}

func (s *Service) Create(ctx context.Context, req budgetdomain.CreateRequest) (*budgetdomain.Budget, error) {
	if !req.Target.Valid() {
		return nil, budgetdomain.ErrInvalidTarget
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, budgetdomain.ErrInvalidName
	}
	if !req.Period.Valid() {
		return nil, budgetdomain.ErrInvalidPeriod
	}
	if req.CreditLimit <= 0 {
		return nil, budgetdomain.ErrInvalidLimit
	}

	now := time.Now().UTC()
	budget := budgetdomain.Budget{
		ID:          s.genID.Generate(),
		TargetLevel: req.Target.Level,
		TargetID:    req.Target.ID,
		Name:        name,
		Period:      req.Period,
		CreditLimit: req.CreditLimit,
		AutoDisable: req.AutoDisable,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.db.WithContext(ctx).Create(&budget).Error; err != nil {
		return nil, err
	}

	return &budget, nil
}

func (s *Service) List(ctx context.Context, target hierarchydomain.Target) ([]budgetdomain.Budget, error) {
	if !target.Valid() {
		return nil, budgetdomain.ErrInvalidTarget
	}

	var budgets []budgetdomain.Budget
	if err := s.db.WithContext(ctx).
		Where("target_level = ? AND target_id = ?", target.Level, target.ID).
		Order("created_at ASC").
		Find(&budgets).Error; err != nil {
		return nil, err
	}

	return budgets, nil
}

func (s *Service) Delete(ctx context.Context, id snowflake.ID) error {
	result := s.db.WithContext(ctx).Delete(&budgetdomain.Budget{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return budgetdomain.ErrNotFound
	}
	return nil
}

func (s *Service) Check(ctx context.Context, agentID snowflake.ID, credits int64) error {
	chain, err := s.hierarchy.Chain(ctx, agentID)
	if err != nil {
		return err
	}

	budgets, err := s.budgetsForTargets(ctx, chain.Targets())
	if err != nil {
		return err
	}
	if len(budgets) == 0 {
		return nil
	}

	now := s.clock.Now()

	// Every violated budget runs its own auto-disable before the first
	// violation is reported, so one overrun cannot mask another node's
	// deactivation.
	var violation *budgetdomain.ExceededError
	for i := range budgets {
		budget := &budgets[i]

		spent, err := s.spentUnder(ctx, budget.Target(), budget.WindowStart(now))
		if err != nil {
			return err
		}
		if spent+credits <= budget.CreditLimit {
			continue
		}

		s.log.Warn("budget exceeded",
			zap.String("budget_id", budget.ID.String()),
			zap.String("target_level", string(budget.TargetLevel)),
			zap.String("target_id", budget.TargetID.String()),
			zap.Int64("credit_limit", budget.CreditLimit),
			zap.Int64("spent", spent),
			zap.Int64("requested", credits),
		)

		if budget.AutoDisable {
			if err := s.hierarchy.Disable(ctx, budget.Target()); err != nil {
				return err
			}
		}

		if violation == nil {
			violation = &budgetdomain.ExceededError{
				BudgetID:    budget.ID,
				BudgetName:  budget.Name,
				Target:      budget.Target(),
				Period:      budget.Period,
				CreditLimit: budget.CreditLimit,
				Spent:       spent,
				Requested:   credits,
			}
		}
	}

	if violation != nil {
		return violation
	}
	return nil
}

// spentUnder sums credits charged to successful requests from every agent
// at or below the target since the window start.
func (s *Service) spentUnder(ctx context.Context, target hierarchydomain.Target, since *time.Time) (int64, error) {
	agentIDs, err := s.hierarchy.AgentIDsUnder(ctx, target)
	if err != nil {
		return 0, err
	}
	return s.usage.SumCharged(ctx, agentIDs, since)
}

func (s *Service) budgetsForTargets(ctx context.Context, targets []hierarchydomain.Target) ([]budgetdomain.Budget, error) {
	query := s.db.WithContext(ctx).Model(&budgetdomain.Budget{}).Where("is_active = ?", true)

	targetCond := s.db.Where("1 = 0")
	for _, target := range targets {
		targetCond = targetCond.Or(
			s.db.Where("target_level = ? AND target_id = ?", target.Level, target.ID),
		)
	}
	query = query.Where(targetCond)

	var budgets []budgetdomain.Budget
	if err := query.Find(&budgets).Error; err != nil {
		return nil, err
	}
	return budgets, nil
}
