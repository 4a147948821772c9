package service

import (
	"context"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	apikeydomain "github.com/credgate/credgate/internal/apikey/domain"
	hierarchydomain "github.com/credgate/credgate/internal/hierarchy/domain"
	hierarchyservice "github.com/credgate/credgate/internal/hierarchy/service"
	ledgerdomain "github.com/credgate/credgate/internal/ledger/domain"
)

type fixture struct {
	keys  apikeydomain.Service
	agent *hierarchydomain.Agent
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&ledgerdomain.Account{},
		&hierarchydomain.Organization{},
		&hierarchydomain.Workspace{},
		&hierarchydomain.AgentGroup{},
		&hierarchydomain.Agent{},
		&apikeydomain.APIKey{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	log := zap.NewNop()

	hierarchySvc := hierarchyservice.NewService(hierarchyservice.Params{DB: db, Log: log, GenID: node})
	keySvc := NewService(Params{DB: db, Log: log, GenID: node, Hierarchy: hierarchySvc})

	ctx := context.Background()
	org, err := hierarchySvc.CreateOrg(ctx, hierarchydomain.CreateOrgRequest{Name: "Acme", Slug: "acme"})
	require.NoError(t, err)
	ws, err := hierarchySvc.CreateWorkspace(ctx, hierarchydomain.CreateWorkspaceRequest{OrgID: org.ID.String(), Name: "prod"})
	require.NoError(t, err)
	group, err := hierarchySvc.CreateAgentGroup(ctx, hierarchydomain.CreateAgentGroupRequest{WorkspaceID: ws.ID.String(), Name: "assistants"})
	require.NoError(t, err)
	agent, err := hierarchySvc.CreateAgent(ctx, hierarchydomain.CreateAgentRequest{AgentGroupID: group.ID.String(), Name: "support-bot"})
	require.NoError(t, err)

	return &fixture{keys: keySvc, agent: agent}
}

func TestIssueAndResolveRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	secret, err := f.keys.Issue(ctx, apikeydomain.IssueRequest{AgentID: f.agent.ID, Name: "ci"})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(secret.APIKey, apiKeyPrefix))

	resolved, err := f.keys.Resolve(ctx, secret.APIKey)
	require.NoError(t, err)
	require.Equal(t, secret.ID, resolved.ID)
	require.Equal(t, f.agent.ID, resolved.AgentID)
	require.NotNil(t, resolved.LastUsedAt)
}

func TestIssueRejectsUnknownAgent(t *testing.T) {
	f := newFixture(t)

	_, err := f.keys.Issue(context.Background(), apikeydomain.IssueRequest{AgentID: snowflake.ID(42), Name: "ci"})
	require.ErrorIs(t, err, apikeydomain.ErrInvalidAgent)
}

func TestResolveRejectsMalformedKey(t *testing.T) {
	f := newFixture(t)

	_, err := f.keys.Resolve(context.Background(), "sk-not-ours")
	require.ErrorIs(t, err, apikeydomain.ErrInvalidKey)
}

func TestResolveRejectsTamperedKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	secret, err := f.keys.Issue(ctx, apikeydomain.IssueRequest{AgentID: f.agent.ID, Name: "ci"})
	require.NoError(t, err)

	tampered := secret.APIKey[:len(secret.APIKey)-1] + "x"
	if tampered == secret.APIKey {
		tampered = secret.APIKey[:len(secret.APIKey)-1] + "y"
	}
	_, err = f.keys.Resolve(ctx, tampered)
	require.ErrorIs(t, err, apikeydomain.ErrInvalidKey)
}

func TestRevokedKeyStopsResolving(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	secret, err := f.keys.Issue(ctx, apikeydomain.IssueRequest{AgentID: f.agent.ID, Name: "ci"})
	require.NoError(t, err)

	require.NoError(t, f.keys.Revoke(ctx, secret.ID))

	_, err = f.keys.Resolve(ctx, secret.APIKey)
	require.ErrorIs(t, err, apikeydomain.ErrInvalidKey)

	// Revoking twice reports the key as gone.
	require.ErrorIs(t, f.keys.Revoke(ctx, secret.ID), apikeydomain.ErrNotFound)
}

func TestListShowsSuffixOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	secret, err := f.keys.Issue(ctx, apikeydomain.IssueRequest{AgentID: f.agent.ID, Name: "ci"})
	require.NoError(t, err)

	list, err := f.keys.List(ctx, f.agent.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "ci", list[0].Name)
	require.Equal(t, secret.APIKey[len(secret.APIKey)-apiKeySuffixLen:], list[0].KeySuffix)
	require.True(t, list[0].IsActive)
}
