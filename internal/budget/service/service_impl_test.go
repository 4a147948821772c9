package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	budgetdomain "github.com/credgate/credgate/internal/budget/domain"
	"github.com/credgate/credgate/internal/clock"
	hierarchydomain "github.com/credgate/credgate/internal/hierarchy/domain"
	hierarchyservice "github.com/credgate/credgate/internal/hierarchy/service"
	ledgerdomain "github.com/credgate/credgate/internal/ledger/domain"
	usagedomain "github.com/credgate/credgate/internal/usage/domain"
	usageservice "github.com/credgate/credgate/internal/usage/service"
)

type fixture struct {
	db        *gorm.DB
	clock     *clock.FakeClock
	hierarchy hierarchydomain.Service
	usage     usagedomain.Service
	budgets   budgetdomain.Service

	org   *hierarchydomain.Organization
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
		&budgetdomain.Budget{},
		&usagedomain.UsageEvent{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	log := zap.NewNop()

	fake := clock.NewFakeClock(time.Date(2025, time.March, 15, 12, 0, 0, 0, time.UTC))

	hierarchySvc := hierarchyservice.NewService(hierarchyservice.Params{DB: db, Log: log, GenID: node})
	usageSvc := usageservice.NewService(usageservice.Params{DB: db, Log: log, GenID: node})
	budgetSvc := NewService(Params{
		DB:        db,
		Log:       log,
		GenID:     node,
		Clock:     fake,
		Hierarchy: hierarchySvc,
		Usage:     usageSvc,
	})

	ctx := context.Background()
	org, err := hierarchySvc.CreateOrg(ctx, hierarchydomain.CreateOrgRequest{Name: "Acme", Slug: "acme"})
	require.NoError(t, err)
	ws, err := hierarchySvc.CreateWorkspace(ctx, hierarchydomain.CreateWorkspaceRequest{OrgID: org.ID.String(), Name: "prod"})
	require.NoError(t, err)
	group, err := hierarchySvc.CreateAgentGroup(ctx, hierarchydomain.CreateAgentGroupRequest{WorkspaceID: ws.ID.String(), Name: "assistants"})
	require.NoError(t, err)
	agent, err := hierarchySvc.CreateAgent(ctx, hierarchydomain.CreateAgentRequest{AgentGroupID: group.ID.String(), Name: "support-bot"})
	require.NoError(t, err)

	return &fixture{
		db:        db,
		clock:     fake,
		hierarchy: hierarchySvc,
		usage:     usageSvc,
		budgets:   budgetSvc,
		org:       org,
		agent:     agent,
	}
}

func (f *fixture) recordSpend(t *testing.T, credits int64) {
	t.Helper()
	_, err := f.usage.Record(context.Background(), usagedomain.RecordRequest{
		RequestID:      fmt.Sprintf("req-%d", time.Now().UnixNano()),
		AgentID:        f.agent.ID,
		OrgID:          f.org.ID,
		Provider:       "mock",
		Model:          "mock-model",
		CreditsCharged: credits,
		Status:         usagedomain.StatusSuccess,
	})
	require.NoError(t, err)
}

func TestCheckPassesUnderLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.budgets.Create(ctx, budgetdomain.CreateRequest{
		Target:      hierarchydomain.AgentTarget(f.agent.ID),
		Name:        "agent-monthly",
		Period:      budgetdomain.PeriodMonthly,
		CreditLimit: 1000,
	})
	require.NoError(t, err)

	f.recordSpend(t, 500)

	require.NoError(t, f.budgets.Check(ctx, f.agent.ID, 100))
}

func TestCheckRejectsWhenEstimateOverruns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	budget, err := f.budgets.Create(ctx, budgetdomain.CreateRequest{
		Target:      hierarchydomain.AgentTarget(f.agent.ID),
		Name:        "agent-monthly",
		Period:      budgetdomain.PeriodMonthly,
		CreditLimit: 1000,
	})
	require.NoError(t, err)

	f.recordSpend(t, 950)

	err = f.budgets.Check(ctx, f.agent.ID, 100)
	require.Error(t, err)
	require.True(t, budgetdomain.IsExceeded(err))

	var exceeded *budgetdomain.ExceededError
	require.ErrorAs(t, err, &exceeded)
	require.Equal(t, budget.ID, exceeded.BudgetID)
	require.Equal(t, int64(950), exceeded.Spent)
	require.Equal(t, int64(100), exceeded.Requested)

	// Exactly at the limit is still allowed.
	require.NoError(t, f.budgets.Check(ctx, f.agent.ID, 50))
}

func TestCheckAutoDisableExhaustsAgent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.budgets.Create(ctx, budgetdomain.CreateRequest{
		Target:      hierarchydomain.AgentTarget(f.agent.ID),
		Name:        "hard-cap",
		Period:      budgetdomain.PeriodTotal,
		CreditLimit: 1000,
		AutoDisable: true,
	})
	require.NoError(t, err)

	f.recordSpend(t, 950)

	err = f.budgets.Check(ctx, f.agent.ID, 100)
	require.True(t, budgetdomain.IsExceeded(err))

	agent, err := f.hierarchy.GetAgent(ctx, f.agent.ID)
	require.NoError(t, err)
	require.Equal(t, hierarchydomain.AgentStatusBudgetExhausted, agent.Status)

	// A second overrun against the already-exhausted agent is a no-op
	// on state, not an error.
	err = f.budgets.Check(ctx, f.agent.ID, 100)
	require.True(t, budgetdomain.IsExceeded(err))
}

func TestCheckWithoutAutoDisableLeavesAgentActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.budgets.Create(ctx, budgetdomain.CreateRequest{
		Target:      hierarchydomain.AgentTarget(f.agent.ID),
		Name:        "soft-cap",
		Period:      budgetdomain.PeriodTotal,
		CreditLimit: 100,
	})
	require.NoError(t, err)

	f.recordSpend(t, 90)

	err = f.budgets.Check(ctx, f.agent.ID, 20)
	require.True(t, budgetdomain.IsExceeded(err))

	agent, err := f.hierarchy.GetAgent(ctx, f.agent.ID)
	require.NoError(t, err)
	require.Equal(t, hierarchydomain.AgentStatusActive, agent.Status)
}

func TestCheckOrgBudgetCountsDescendantSpend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.budgets.Create(ctx, budgetdomain.CreateRequest{
		Target:      hierarchydomain.OrgTarget(f.org.ID),
		Name:        "org-monthly",
		Period:      budgetdomain.PeriodMonthly,
		CreditLimit: 500,
	})
	require.NoError(t, err)

	f.recordSpend(t, 400)

	err = f.budgets.Check(ctx, f.agent.ID, 200)
	require.True(t, budgetdomain.IsExceeded(err))
}

func TestDailyWindowResetsAtUTCMidnight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.budgets.Create(ctx, budgetdomain.CreateRequest{
		Target:      hierarchydomain.AgentTarget(f.agent.ID),
		Name:        "daily",
		Period:      budgetdomain.PeriodDaily,
		CreditLimit: 100,
	})
	require.NoError(t, err)

	f.recordSpend(t, 100)

	err = f.budgets.Check(ctx, f.agent.ID, 1)
	require.True(t, budgetdomain.IsExceeded(err))

	// Past midnight UTC the window restarts and yesterday's spend no
	// longer counts.
	f.clock.Advance(24 * time.Hour)
	require.NoError(t, f.budgets.Check(ctx, f.agent.ID, 1))
}

func TestTotalBudgetNeverResets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.budgets.Create(ctx, budgetdomain.CreateRequest{
		Target:      hierarchydomain.AgentTarget(f.agent.ID),
		Name:        "lifetime",
		Period:      budgetdomain.PeriodTotal,
		CreditLimit: 100,
	})
	require.NoError(t, err)

	f.recordSpend(t, 100)

	f.clock.Advance(90 * 24 * time.Hour)
	err = f.budgets.Check(ctx, f.agent.ID, 1)
	require.True(t, budgetdomain.IsExceeded(err))
}

func TestFailedRequestsDoNotCountAsSpend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.budgets.Create(ctx, budgetdomain.CreateRequest{
		Target:      hierarchydomain.AgentTarget(f.agent.ID),
		Name:        "cap",
		Period:      budgetdomain.PeriodTotal,
		CreditLimit: 100,
	})
	require.NoError(t, err)

	_, err = f.usage.Record(ctx, usagedomain.RecordRequest{
		RequestID: "req-error",
		AgentID:   f.agent.ID,
		OrgID:     f.org.ID,
		Provider:  "mock",
		Model:     "mock-model",
		Status:    usagedomain.StatusError,
	})
	require.NoError(t, err)

	require.NoError(t, f.budgets.Check(ctx, f.agent.ID, 100))
}

func TestCreateValidatesInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.budgets.Create(ctx, budgetdomain.CreateRequest{
		Target:      hierarchydomain.Target{},
		Name:        "bad",
		Period:      budgetdomain.PeriodDaily,
		CreditLimit: 10,
	})
	require.ErrorIs(t, err, budgetdomain.ErrInvalidTarget)

	_, err = f.budgets.Create(ctx, budgetdomain.CreateRequest{
		Target:      hierarchydomain.AgentTarget(f.agent.ID),
		Name:        "bad",
		Period:      budgetdomain.Period("WEEKLY"),
		CreditLimit: 10,
	})
	require.ErrorIs(t, err, budgetdomain.ErrInvalidPeriod)

	_, err = f.budgets.Create(ctx, budgetdomain.CreateRequest{
		Target:      hierarchydomain.AgentTarget(f.agent.ID),
		Name:        "bad",
		Period:      budgetdomain.PeriodDaily,
		CreditLimit: 0,
	})
	require.ErrorIs(t, err, budgetdomain.ErrInvalidLimit)
}
