package domain

import "github.com/bwmarrin/snowflake"

// Level identifies one tier of the hierarchy.
type Level string

const (
	LevelOrg        Level = "org"
	LevelWorkspace  Level = "workspace"
	LevelAgentGroup Level = "agent_group"
	LevelAgent      Level = "agent"
)

// Target is a reference to exactly one hierarchy node. Policies and budgets
// attach to a Target; the single-target invariant is unrepresentable as
// anything else here.
type Target struct {
	Level Level        `json:"level"`
	ID    snowflake.ID `json:"id"`
}

func OrgTarget(id snowflake.ID) Target        { return Target{Level: LevelOrg, ID: id} }
func WorkspaceTarget(id snowflake.ID) Target  { return Target{Level: LevelWorkspace, ID: id} }
func AgentGroupTarget(id snowflake.ID) Target { return Target{Level: LevelAgentGroup, ID: id} }
func AgentTarget(id snowflake.ID) Target      { return Target{Level: LevelAgent, ID: id} }

// Valid reports whether the target names a known level and a non-zero node.
func (t Target) Valid() bool {
	if t.ID == 0 {
		return false
	}
	switch t.Level {
	case LevelOrg, LevelWorkspace, LevelAgentGroup, LevelAgent:
		return true
	default:
		return false
	}
}

// Targets returns the four targets covering the chain, innermost first.
func (c Chain) Targets() []Target {
	return []Target{
		AgentTarget(c.Agent.ID),
		AgentGroupTarget(c.AgentGroup.ID),
		WorkspaceTarget(c.Workspace.ID),
		OrgTarget(c.Org.ID),
	}
}
