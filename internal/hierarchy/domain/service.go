package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type CreateOrgRequest struct {
	Name          string `json:"name"`
	Slug          string `json:"slug"`
	CreditsPerUSD int64  `json:"credits_per_usd"`
}

type CreateWorkspaceRequest struct {
	OrgID string `json:"org_id"`
	Name  string `json:"name"`
}

type CreateAgentGroupRequest struct {
	WorkspaceID string `json:"workspace_id"`
	Name        string `json:"name"`
}

type CreateAgentRequest struct {
	AgentGroupID string `json:"agent_group_id"`
	Name         string `json:"name"`
}

type Service interface {
	CreateOrg(ctx context.Context, req CreateOrgRequest) (*Organization, error)
	CreateWorkspace(ctx context.Context, req CreateWorkspaceRequest) (*Workspace, error)
	CreateAgentGroup(ctx context.Context, req CreateAgentGroupRequest) (*AgentGroup, error)
	CreateAgent(ctx context.Context, req CreateAgentRequest) (*Agent, error)

	GetOrg(ctx context.Context, id snowflake.ID) (*Organization, error)
	GetAgent(ctx context.Context, id snowflake.ID) (*Agent, error)
	ListOrgs(ctx context.Context) ([]Organization, error)

	// Chain walks Agent → AgentGroup → Workspace → Org. A dangling parent
	// reference fails closed with ErrNotFound.
	Chain(ctx context.Context, agentID snowflake.ID) (Chain, error)

	// AgentIDsUnder returns the IDs of every agent at or below the target.
	AgentIDsUnder(ctx context.Context, target Target) ([]snowflake.ID, error)

	// SetAgentStatus transitions an agent's lifecycle state. Setting the
	// current state again is a no-op.
	SetAgentStatus(ctx context.Context, agentID snowflake.ID, status AgentStatus) error

	// Disable deactivates the targeted node: agents move to
	// BUDGET_EXHAUSTED, containers to inactive. Idempotent.
	Disable(ctx context.Context, target Target) error
}

var (
	ErrNotFound      = errors.New("not_found")
	ErrInvalidName   = errors.New("invalid_name")
	ErrInvalidSlug   = errors.New("invalid_slug")
	ErrInvalidParent = errors.New("invalid_parent")
	ErrInvalidTarget = errors.New("invalid_target")
	ErrSlugTaken     = errors.New("slug_taken")
	ErrInvalidStatus = errors.New("invalid_status")
	ErrInvalidAgent  = errors.New("invalid_agent")
)
