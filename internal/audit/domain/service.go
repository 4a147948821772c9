package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Event struct {
	OrgID        *snowflake.ID
	ActorAgentID *snowflake.ID
	Action       string
	TargetType   string
	TargetID     *string
	Description  string
	Metadata     map[string]any
}

type ListRequest struct {
	OrgID   snowflake.ID
	Action  string
	StartAt *time.Time
	EndAt   *time.Time
	Limit   int
}

type Service interface {
	Log(ctx context.Context, event Event) error
	List(ctx context.Context, req ListRequest) ([]AuditLog, error)
}

var (
	ErrInvalidAction       = errors.New("invalid_action")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidTimeRange    = errors.New("invalid_time_range")
)
