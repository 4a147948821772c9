package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	obsmetrics "github.com/credgate/credgate/internal/observability/metrics"
	usagedomain "github.com/credgate/credgate/internal/usage/domain"
	"github.com/credgate/credgate/pkg/db"
	"github.com/credgate/credgate/pkg/db/pagination"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) usagedomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("usage.service"),
		genID:      p.GenID,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Record(ctx context.Context, req usagedomain.RecordRequest) (*usagedomain.UsageEvent, error) {
	requestID := strings.TrimSpace(req.RequestID)
	if requestID == "" {
		return nil, usagedomain.ErrInvalidRequestID
	}
	if req.AgentID == 0 {
		return nil, usagedomain.ErrInvalidAgent
	}
	if !req.Status.Valid() {
		return nil, usagedomain.ErrInvalidStatus
	}

	if existing, err := s.findByRequestID(ctx, requestID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	event := usagedomain.UsageEvent{
		ID:             s.genID.Generate(),
		RequestID:      requestID,
		AgentID:        req.AgentID,
		OrgID:          req.OrgID,
		Provider:       req.Provider,
		Model:          req.Model,
		InputTokens:    req.InputTokens,
		OutputTokens:   req.OutputTokens,
		CostUSD:        req.CostUSD,
		CreditsCharged: req.CreditsCharged,
		LatencyMs:      req.LatencyMs,
		Status:         req.Status,
		ErrorMessage:   req.ErrorMessage,
		CreatedAt:      time.Now().UTC(),
	}
	if req.Metadata != nil {
		event.Metadata = datatypes.JSONMap(req.Metadata)
	}

	if err := s.db.WithContext(ctx).Create(&event).Error; err != nil {
		// Unique-index race on the request id: another writer recorded
		// this request first, return its event.
		if db.IsDuplicateKeyErr(err) {
			if existing, lookupErr := s.findByRequestID(ctx, requestID); lookupErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordGatewayRequest(string(event.Status), event.Provider, event.Model)
		if event.CreditsCharged > 0 {
			s.obsMetrics.RecordCreditsCharged(event.CreditsCharged)
		}
	}

	return &event, nil
}

func (s *Service) List(ctx context.Context, req usagedomain.ListRequest) (usagedomain.ListResponse, error) {
	pageSize := req.PageSize
	if pageSize <= 0 || pageSize > 250 {
		pageSize = 50
	}

	query := s.db.WithContext(ctx).Model(&usagedomain.UsageEvent{})
	if req.AgentID != 0 {
		query = query.Where("agent_id = ?", req.AgentID)
	}
	if req.OrgID != 0 {
		query = query.Where("org_id = ?", req.OrgID)
	}
	if req.Status != "" {
		if !req.Status.Valid() {
			return usagedomain.ListResponse{}, usagedomain.ErrInvalidStatus
		}
		query = query.Where("status = ?", req.Status)
	}

	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return usagedomain.ListResponse{}, err
		}
		query = query.Where("id < ?", cursor.ID)
	}

	var events []usagedomain.UsageEvent
	if err := query.Order("id DESC").Limit(pageSize + 1).Find(&events).Error; err != nil {
		return usagedomain.ListResponse{}, err
	}

	resp := usagedomain.ListResponse{UsageEvents: events}
	if len(events) > pageSize {
		resp.UsageEvents = events[:pageSize]
		resp.HasMore = true
		last := resp.UsageEvents[len(resp.UsageEvents)-1]
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: last.ID.String()})
		if err != nil {
			return usagedomain.ListResponse{}, err
		}
		resp.NextPageToken = token
	}

	return resp, nil
}

func (s *Service) SumCharged(ctx context.Context, agentIDs []snowflake.ID, since *time.Time) (int64, error) {
	if len(agentIDs) == 0 {
		return 0, nil
	}

	query := s.db.WithContext(ctx).
		Model(&usagedomain.UsageEvent{}).
		Where("agent_id IN ?", agentIDs).
		Where("status = ?", usagedomain.StatusSuccess)
	if since != nil {
		query = query.Where("created_at >= ?", *since)
	}

	var total int64
	if err := query.
		Select("COALESCE(SUM(credits_charged), 0)").
		Scan(&total).Error; err != nil {
		return 0, err
	}

	return total, nil
}

func (s *Service) findByRequestID(ctx context.Context, requestID string) (*usagedomain.UsageEvent, error) {
	var event usagedomain.UsageEvent
	err := s.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}
