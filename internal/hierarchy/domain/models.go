// Package domain contains the tenancy hierarchy models.
//
// The hierarchy is a fixed-depth tree: Organization → Workspace →
// AgentGroup → Agent. Container levels carry an is_active flag; agents
// carry a richer status so a budget exhaustion is distinguishable from an
// operator disable.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// AgentStatus is the lifecycle state of an agent.
type AgentStatus string

const (
	AgentStatusActive          AgentStatus = "ACTIVE"
	AgentStatusDisabled        AgentStatus = "DISABLED"
	AgentStatusBudgetExhausted AgentStatus = "BUDGET_EXHAUSTED"
)

// Organization is the outermost tenancy level. Credits are held by the
// organization's billing account in the ledger.
type Organization struct {
	ID               snowflake.ID `gorm:"primaryKey" json:"id"`
	Name             string       `gorm:"type:text;not null" json:"name"`
	Slug             string       `gorm:"type:text;not null;uniqueIndex" json:"slug"`
	BillingAccountID snowflake.ID `gorm:"not null;index" json:"billing_account_id"`
	CreditsPerUSD    int64        `gorm:"not null;default:100" json:"credits_per_usd"`
	IsActive         bool         `gorm:"not null;default:true" json:"is_active"`
	CreatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Organization) TableName() string { return "organizations" }

type Workspace struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID `gorm:"not null;index" json:"org_id"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	IsActive  bool         `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Workspace) TableName() string { return "workspaces" }

type AgentGroup struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	WorkspaceID snowflake.ID `gorm:"not null;index" json:"workspace_id"`
	Name        string       `gorm:"type:text;not null" json:"name"`
	IsActive    bool         `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (AgentGroup) TableName() string { return "agent_groups" }

type Agent struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	AgentGroupID snowflake.ID `gorm:"not null;index" json:"agent_group_id"`
	Name         string       `gorm:"type:text;not null" json:"name"`
	Status       AgentStatus  `gorm:"type:text;not null;default:ACTIVE" json:"status"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Agent) TableName() string { return "agents" }

// Chain is the resolved ancestor chain of an agent, innermost first.
type Chain struct {
	Agent      Agent
	AgentGroup AgentGroup
	Workspace  Workspace
	Org        Organization
}

// AllActive reports whether every container in the chain is active and the
// agent itself is ACTIVE.
func (c Chain) AllActive() bool {
	return c.Agent.Status == AgentStatusActive &&
		c.AgentGroup.IsActive &&
		c.Workspace.IsActive &&
		c.Org.IsActive
}
