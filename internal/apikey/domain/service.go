package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	Issue(ctx context.Context, req IssueRequest) (*SecretResponse, error)
	// Resolve maps a presented plaintext key to its agent. Revoked and
	// unknown keys fail with ErrInvalidKey.
	Resolve(ctx context.Context, rawKey string) (*APIKey, error)
	List(ctx context.Context, agentID snowflake.ID) ([]Response, error)
	Revoke(ctx context.Context, keyID snowflake.ID) error
}

type IssueRequest struct {
	AgentID snowflake.ID `json:"agent_id"`
	Name    string       `json:"name"`
}

type Response struct {
	ID         snowflake.ID `json:"id"`
	AgentID    snowflake.ID `json:"agent_id"`
	Name       string       `json:"name"`
	KeySuffix  string       `json:"key_suffix"`
	IsActive   bool         `json:"is_active"`
	CreatedAt  time.Time    `json:"created_at"`
	LastUsedAt *time.Time   `json:"last_used_at"`
	RevokedAt  *time.Time   `json:"revoked_at"`
}

type SecretResponse struct {
	ID     snowflake.ID `json:"id"`
	APIKey string       `json:"api_key"`
}

var (
	ErrInvalidAgent = errors.New("invalid_agent")
	ErrInvalidName  = errors.New("invalid_name")
	ErrInvalidKey   = errors.New("invalid_api_key")
	ErrNotFound     = errors.New("not_found")
)
