package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	usagedomain "github.com/credgate/credgate/internal/usage/domain"
)

type QueueParams struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

// Queue accepts usage events for asynchronous recording.
type Queue struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewQueue(p QueueParams) *Queue {
	return &Queue{
		db:    p.DB,
		log:   p.Log.Named("worker.queue"),
		genID: p.GenID,
	}
}

// Enqueue stores one usage event for the worker to record. Re-enqueueing
// a request id that is already queued or processed is a no-op.
func (q *Queue) Enqueue(ctx context.Context, req usagedomain.RecordRequest) (*UsageJob, error) {
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

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job := UsageJob{
		ID:        q.genID.Generate(),
		RequestID: requestID,
		Payload:   payload,
		Status:    JobStatusPending,
		NextRunAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = q.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "request_id"}},
			DoNothing: true,
		}).
		Create(&job).Error
	if err != nil {
		return nil, err
	}

	var stored UsageJob
	if err := q.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		First(&stored).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &job, nil
		}
		return nil, err
	}

	return &stored, nil
}
