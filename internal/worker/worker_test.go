package worker

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	budgetdomain "github.com/credgate/credgate/internal/budget/domain"
	budgetservice "github.com/credgate/credgate/internal/budget/service"
	"github.com/credgate/credgate/internal/clock"
	"github.com/credgate/credgate/internal/config"
	hierarchydomain "github.com/credgate/credgate/internal/hierarchy/domain"
	hierarchyservice "github.com/credgate/credgate/internal/hierarchy/service"
	ledgerdomain "github.com/credgate/credgate/internal/ledger/domain"
	ledgerservice "github.com/credgate/credgate/internal/ledger/service"
	pricingdomain "github.com/credgate/credgate/internal/pricing/domain"
	pricingservice "github.com/credgate/credgate/internal/pricing/service"
	usagedomain "github.com/credgate/credgate/internal/usage/domain"
	usageservice "github.com/credgate/credgate/internal/usage/service"
)

type fixture struct {
	db     *gorm.DB
	queue  *Queue
	worker *Worker

	hierarchy hierarchydomain.Service
	ledger    ledgerdomain.Service
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
		&ledgerdomain.LedgerEntry{},
		&hierarchydomain.Organization{},
		&hierarchydomain.Workspace{},
		&hierarchydomain.AgentGroup{},
		&hierarchydomain.Agent{},
		&budgetdomain.Budget{},
		&pricingdomain.PricingRule{},
		&usagedomain.UsageEvent{},
		&UsageJob{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	log := zap.NewNop()
	fake := clock.NewFakeClock(time.Date(2025, time.March, 15, 12, 0, 0, 0, time.UTC))

	hierarchySvc := hierarchyservice.NewService(hierarchyservice.Params{DB: db, Log: log, GenID: node})
	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{DB: db, Log: log, GenID: node})
	usageSvc := usageservice.NewService(usageservice.Params{DB: db, Log: log, GenID: node})
	pricingSvc := pricingservice.NewService(pricingservice.Params{DB: db, Log: log, GenID: node})
	budgetSvc := budgetservice.NewService(budgetservice.Params{
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
	group, err := hierarchySvc.CreateAgentGroup(ctx, hierarchydomain.CreateAgentGroupRequest{WorkspaceID: ws.ID.String(), Name: "batch"})
	require.NoError(t, err)
	agent, err := hierarchySvc.CreateAgent(ctx, hierarchydomain.CreateAgentRequest{AgentGroupID: group.ID.String(), Name: "importer"})
	require.NoError(t, err)

	// 2 USD per 1k input, 4 USD per 1k output at 100 credits/USD.
	_, err = pricingSvc.Upsert(ctx, pricingdomain.UpsertRequest{
		Provider:        "mock",
		Model:           "mock-model",
		InputCostPer1K:  decimal.NewFromInt(2),
		OutputCostPer1K: decimal.NewFromInt(4),
	})
	require.NoError(t, err)

	queue := NewQueue(QueueParams{DB: db, Log: log, GenID: node})
	worker := NewWorker(WorkerParams{
		DB:        db,
		Log:       log,
		Config:    &config.Config{Worker: config.WorkerConfig{MaxAttempts: 3, BatchSize: 10}},
		Usage:     usageSvc,
		Pricing:   pricingSvc,
		Budgets:   budgetSvc,
		Ledger:    ledgerSvc,
		Hierarchy: hierarchySvc,
	})

	return &fixture{
		db:        db,
		queue:     queue,
		worker:    worker,
		hierarchy: hierarchySvc,
		ledger:    ledgerSvc,
		usage:     usageSvc,
		budgets:   budgetSvc,
		org:       org,
		agent:     agent,
	}
}

func (f *fixture) purchase(t *testing.T, credits int64) {
	t.Helper()
	_, err := f.ledger.AppendEntry(context.Background(), ledgerdomain.AppendRequest{
		AccountID: f.org.BillingAccountID,
		Amount:    credits,
		Type:      ledgerdomain.TransactionTypePurchase,
	})
	require.NoError(t, err)
}

func (f *fixture) rawEvent(requestID string, inputTokens, outputTokens int) usagedomain.RecordRequest {
	return usagedomain.RecordRequest{
		RequestID:    requestID,
		AgentID:      f.agent.ID,
		OrgID:        f.org.ID,
		Provider:     "mock",
		Model:        "mock-model",
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Status:       usagedomain.StatusSuccess,
	}
}

func (f *fixture) eventFor(t *testing.T, requestID string) *usagedomain.UsageEvent {
	t.Helper()
	var event usagedomain.UsageEvent
	require.NoError(t, f.db.First(&event, "request_id = ?", requestID).Error)
	return &event
}

func TestEnqueueDeduplicatesByRequestID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.queue.Enqueue(ctx, f.rawEvent("req-1", 100, 100))
	require.NoError(t, err)

	second, err := f.queue.Enqueue(ctx, f.rawEvent("req-1", 100, 100))
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, f.db.Model(&UsageJob{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestRunOnceBillsAndRecordsQueuedEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.purchase(t, 10_000)

	// 1000 in at 2 USD/1k + 500 out at 4 USD/1k = 4 USD = 400 credits.
	_, err := f.queue.Enqueue(ctx, f.rawEvent("req-a", 1000, 500))
	require.NoError(t, err)

	processed, err := f.worker.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, processed)

	event := f.eventFor(t, "req-a")
	require.Equal(t, usagedomain.StatusSuccess, event.Status)
	require.Equal(t, int64(400), event.CreditsCharged)
	require.True(t, event.CostUSD.Equal(decimal.NewFromInt(4)))

	balance, err := f.ledger.Balance(ctx, f.org.BillingAccountID)
	require.NoError(t, err)
	require.Equal(t, int64(9_600), balance)

	// A drained queue does nothing on the next pass.
	processed, err = f.worker.RunOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, processed)
}

func TestPrepricedEventRecordsWithoutDeduction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.purchase(t, 1_000)

	req := f.rawEvent("req-priced", 100, 100)
	req.CreditsCharged = 25
	_, err := f.queue.Enqueue(ctx, req)
	require.NoError(t, err)

	processed, err := f.worker.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, processed)

	require.Equal(t, int64(25), f.eventFor(t, "req-priced").CreditsCharged)

	balance, err := f.ledger.Balance(ctx, f.org.BillingAccountID)
	require.NoError(t, err)
	require.Equal(t, int64(1_000), balance)
}

func TestBudgetRejectionIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.purchase(t, 10_000)

	_, err := f.budgets.Create(ctx, budgetdomain.CreateRequest{
		Target:      hierarchydomain.AgentTarget(f.agent.ID),
		Name:        "agent-total",
		Period:      budgetdomain.PeriodTotal,
		CreditLimit: 100,
	})
	require.NoError(t, err)

	_, err = f.queue.Enqueue(ctx, f.rawEvent("req-over", 1000, 500))
	require.NoError(t, err)

	processed, err := f.worker.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, processed)

	event := f.eventFor(t, "req-over")
	require.Equal(t, usagedomain.StatusBudgetExceeded, event.Status)
	require.Zero(t, event.CreditsCharged)

	balance, err := f.ledger.Balance(ctx, f.org.BillingAccountID)
	require.NoError(t, err)
	require.Equal(t, int64(10_000), balance)
}

func TestInsufficientCreditsIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.purchase(t, 10)

	_, err := f.queue.Enqueue(ctx, f.rawEvent("req-broke", 1000, 500))
	require.NoError(t, err)

	processed, err := f.worker.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, processed)

	event := f.eventFor(t, "req-broke")
	require.Equal(t, usagedomain.StatusBudgetExceeded, event.Status)
	require.Zero(t, event.CreditsCharged)
}

func TestUnpricedModelRecordsError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.rawEvent("req-nomodel", 100, 100)
	req.Model = "mock-unpriced"
	_, err := f.queue.Enqueue(ctx, req)
	require.NoError(t, err)

	processed, err := f.worker.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, processed)

	event := f.eventFor(t, "req-nomodel")
	require.Equal(t, usagedomain.StatusError, event.Status)
	require.Zero(t, event.CreditsCharged)
}

func TestRedeliveredJobDoesNotDoubleCharge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.purchase(t, 10_000)

	job, err := f.queue.Enqueue(ctx, f.rawEvent("req-redeliver", 1000, 500))
	require.NoError(t, err)

	_, err = f.worker.RunOnce(ctx)
	require.NoError(t, err)

	// Simulate an at-least-once redelivery of an already processed job.
	require.NoError(t, f.db.Model(&UsageJob{}).
		Where("id = ?", job.ID).
		Updates(map[string]any{"status": JobStatusPending, "next_run_at": time.Now().UTC().Add(-time.Second)}).Error)

	processed, err := f.worker.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, processed)

	balance, err := f.ledger.Balance(ctx, f.org.BillingAccountID)
	require.NoError(t, err)
	require.Equal(t, int64(9_600), balance)

	var events int64
	require.NoError(t, f.db.Model(&usagedomain.UsageEvent{}).
		Where("request_id = ?", "req-redeliver").
		Count(&events).Error)
	require.Equal(t, int64(1), events)
}

func TestInvalidPayloadRetriesThenFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.queue.Enqueue(ctx, f.rawEvent("req-bad", 100, 100))
	require.NoError(t, err)

	// Corrupt the payload so recording keeps failing validation.
	require.NoError(t, f.db.Model(&UsageJob{}).
		Where("id = ?", job.ID).
		Update("payload", []byte(`{"request_id":"req-bad","agent_id":0,"status":"SUCCESS"}`)).Error)

	processed, err := f.worker.RunOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, processed)

	var stored UsageJob
	require.NoError(t, f.db.First(&stored, "id = ?", job.ID).Error)
	require.Equal(t, JobStatusPending, stored.Status)
	require.Equal(t, 1, stored.Attempts)
	require.NotEmpty(t, stored.LastError)
	require.True(t, stored.NextRunAt.After(time.Now().UTC()), "retry must be deferred")

	// Exhaust the remaining attempts.
	for i := 0; i < 2; i++ {
		require.NoError(t, f.db.Model(&UsageJob{}).
			Where("id = ?", job.ID).
			Update("next_run_at", time.Now().UTC().Add(-time.Second)).Error)
		_, err = f.worker.RunOnce(ctx)
		require.NoError(t, err)
	}

	require.NoError(t, f.db.First(&stored, "id = ?", job.ID).Error)
	require.Equal(t, JobStatusFailed, stored.Status)
	require.Equal(t, 3, stored.Attempts)
}

func TestMalformedPayloadFailsImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.queue.Enqueue(ctx, f.rawEvent("req-garbled", 100, 100))
	require.NoError(t, err)

	require.NoError(t, f.db.Model(&UsageJob{}).
		Where("id = ?", job.ID).
		Update("payload", []byte("not json")).Error)

	_, err = f.worker.RunOnce(ctx)
	require.NoError(t, err)

	var stored UsageJob
	require.NoError(t, f.db.First(&stored, "id = ?", job.ID).Error)
	require.Equal(t, JobStatusFailed, stored.Status)
}
