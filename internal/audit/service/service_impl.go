package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/credgate/credgate/internal/audit/domain"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewService(p Params) domain.Service {
	return &service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
	}
}

func (s *service) Log(ctx context.Context, event domain.Event) error {
	if event.Action == "" {
		return domain.ErrInvalidAction
	}

	entry := domain.AuditLog{
		ID:           s.genID.Generate(),
		OrgID:        event.OrgID,
		ActorAgentID: event.ActorAgentID,
		Action:       event.Action,
		TargetType:   event.TargetType,
		TargetID:     event.TargetID,
		Description:  event.Description,
	}
	if event.Metadata != nil {
		entry.Metadata = datatypes.JSONMap(event.Metadata)
	}

	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		s.log.Error("failed to write audit log",
			zap.String("action", event.Action),
			zap.Error(err),
		)
		return err
	}

	return nil
}

func (s *service) List(ctx context.Context, req domain.ListRequest) ([]domain.AuditLog, error) {
	if req.OrgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	if req.StartAt != nil && req.EndAt != nil && req.EndAt.Before(*req.StartAt) {
		return nil, domain.ErrInvalidTimeRange
	}

	limit := req.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := s.db.WithContext(ctx).
		Model(&domain.AuditLog{}).
		Where("org_id = ?", req.OrgID)

	if req.Action != "" {
		query = query.Where("action = ?", req.Action)
	}
	if req.StartAt != nil {
		query = query.Where("created_at >= ?", *req.StartAt)
	}
	if req.EndAt != nil {
		query = query.Where("created_at < ?", *req.EndAt)
	}

	var logs []domain.AuditLog
	if err := query.Order("created_at DESC").Limit(limit).Find(&logs).Error; err != nil {
		return nil, err
	}

	return logs, nil
}
