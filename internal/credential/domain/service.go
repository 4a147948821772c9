package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type UpsertRequest struct {
	OrgID    snowflake.ID `json:"org_id"`
	Provider string       `json:"provider"`
	APIKey   string       `json:"api_key"`
	BaseURL  string       `json:"base_url,omitempty"`
}

// Response is the read view of a credential; the key is always masked.
type Response struct {
	ID        snowflake.ID `json:"id"`
	OrgID     snowflake.ID `json:"org_id"`
	Provider  string       `json:"provider"`
	MaskedKey string       `json:"masked_key"`
	BaseURL   string       `json:"base_url,omitempty"`
	IsActive  bool         `json:"is_active"`
	CreatedAt time.Time    `json:"created_at"`
}

type Service interface {
	Upsert(ctx context.Context, req UpsertRequest) (*Response, error)
	List(ctx context.Context, orgID snowflake.ID) ([]Response, error)
	Delete(ctx context.Context, id snowflake.ID) error

	// ActiveFor returns the org's active credential for a provider, or
	// nil when the org has none and the platform key should be used.
	ActiveFor(ctx context.Context, orgID snowflake.ID, provider string) (*ProviderCredential, error)
}

var (
	ErrNotFound            = errors.New("not_found")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidProvider     = errors.New("invalid_provider")
	ErrInvalidKey          = errors.New("invalid_key")
)
