package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"

	"github.com/credgate/credgate/pkg/db/pagination"
)

type RecordRequest struct {
	RequestID      string          `json:"request_id"`
	AgentID        snowflake.ID    `json:"agent_id"`
	OrgID          snowflake.ID    `json:"org_id"`
	Provider       string          `json:"provider"`
	Model          string          `json:"model"`
	InputTokens    int             `json:"input_tokens"`
	OutputTokens   int             `json:"output_tokens"`
	CostUSD        decimal.Decimal `json:"cost_usd"`
	CreditsCharged int64           `json:"credits_charged"`
	LatencyMs      int64           `json:"latency_ms"`
	Status         Status          `json:"status"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
}

type ListRequest struct {
	pagination.Pagination
	AgentID snowflake.ID `form:"agent_id"`
	OrgID   snowflake.ID `form:"org_id"`
	Status  Status       `form:"status"`
}

type ListResponse struct {
	pagination.PageInfo
	UsageEvents []UsageEvent `json:"usage_events"`
}

type Service interface {
	// Record appends the terminal outcome of one gateway request. A
	// replay of an already recorded request id returns the existing
	// event unchanged.
	Record(ctx context.Context, req RecordRequest) (*UsageEvent, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)

	// SumCharged totals credits charged to successful requests from the
	// given agents. A nil since spans all time.
	SumCharged(ctx context.Context, agentIDs []snowflake.ID, since *time.Time) (int64, error)
}

var (
	ErrInvalidRequestID = errors.New("invalid_request_id")
	ErrInvalidAgent     = errors.New("invalid_agent")
	ErrInvalidStatus    = errors.New("invalid_status")
)
