package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	apikeydomain "github.com/credgate/credgate/internal/apikey/domain"
	apikeyservice "github.com/credgate/credgate/internal/apikey/service"
	auditdomain "github.com/credgate/credgate/internal/audit/domain"
	auditservice "github.com/credgate/credgate/internal/audit/service"
	budgetdomain "github.com/credgate/credgate/internal/budget/domain"
	budgetservice "github.com/credgate/credgate/internal/budget/service"
	"github.com/credgate/credgate/internal/clock"
	"github.com/credgate/credgate/internal/config"
	credentialdomain "github.com/credgate/credgate/internal/credential/domain"
	credentialservice "github.com/credgate/credgate/internal/credential/service"
	gatewaydomain "github.com/credgate/credgate/internal/gateway/domain"
	hierarchydomain "github.com/credgate/credgate/internal/hierarchy/domain"
	hierarchyservice "github.com/credgate/credgate/internal/hierarchy/service"
	ledgerdomain "github.com/credgate/credgate/internal/ledger/domain"
	ledgerservice "github.com/credgate/credgate/internal/ledger/service"
	obscontext "github.com/credgate/credgate/internal/observability/context"
	policydomain "github.com/credgate/credgate/internal/policy/domain"
	policyservice "github.com/credgate/credgate/internal/policy/service"
	pricingdomain "github.com/credgate/credgate/internal/pricing/domain"
	pricingservice "github.com/credgate/credgate/internal/pricing/service"
	"github.com/credgate/credgate/internal/provider"
	usagedomain "github.com/credgate/credgate/internal/usage/domain"
	usageservice "github.com/credgate/credgate/internal/usage/service"
)

// hundredChars prices to exactly 25 input and 50 output tokens on the
// mock provider.
var hundredChars = strings.Repeat("x", 100)

type fixture struct {
	db        *gorm.DB
	hierarchy hierarchydomain.Service
	apiKeys   apikeydomain.Service
	policies  policydomain.Service
	budgets   budgetdomain.Service
	pricing   pricingdomain.Service
	ledger    ledgerdomain.Service
	usage     usagedomain.Service
	gateway   gatewaydomain.Service

	org    *hierarchydomain.Organization
	group  *hierarchydomain.AgentGroup
	agent  *hierarchydomain.Agent
	apiKey string
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
		&apikeydomain.APIKey{},
		&policydomain.Policy{},
		&budgetdomain.Budget{},
		&pricingdomain.PricingRule{},
		&credentialdomain.ProviderCredential{},
		&usagedomain.UsageEvent{},
		&auditdomain.AuditLog{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	log := zap.NewNop()
	ctx := context.Background()

	hierarchySvc := hierarchyservice.NewService(hierarchyservice.Params{DB: db, Log: log, GenID: node})
	auditSvc := auditservice.NewService(auditservice.Params{DB: db, Log: log, GenID: node})
	apiKeySvc := apikeyservice.NewService(apikeyservice.Params{DB: db, Log: log, GenID: node, Hierarchy: hierarchySvc})
	policySvc := policyservice.NewService(policyservice.Params{DB: db, Log: log, GenID: node, Hierarchy: hierarchySvc})
	usageSvc := usageservice.NewService(usageservice.Params{DB: db, Log: log, GenID: node})
	budgetSvc := budgetservice.NewService(budgetservice.Params{
		DB: db, Log: log, GenID: node,
		Clock:     clock.NewSystemClock(),
		Hierarchy: hierarchySvc,
		Usage:     usageSvc,
	})
	pricingSvc := pricingservice.NewService(pricingservice.Params{DB: db, Log: log, GenID: node})
	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{DB: db, Log: log, GenID: node, AuditSvc: auditSvc})
	credentialSvc := credentialservice.NewService(credentialservice.Params{DB: db, Log: log, GenID: node})

	cfg := &config.Config{Providers: config.ProviderConfig{TimeoutSeconds: 5}}
	registry := provider.NewRegistry(provider.RegistryParams{
		Config:      cfg,
		Log:         log,
		Credentials: credentialSvc,
	})

	gatewaySvc := NewService(Params{
		Log:       log,
		APIKeys:   apiKeySvc,
		Hierarchy: hierarchySvc,
		Policies:  policySvc,
		Budgets:   budgetSvc,
		Pricing:   pricingSvc,
		Ledger:    ledgerSvc,
		Usage:     usageSvc,
		Audit:     auditSvc,
		Registry:  registry,
	})

	org, err := hierarchySvc.CreateOrg(ctx, hierarchydomain.CreateOrgRequest{Name: "Acme", Slug: "acme"})
	require.NoError(t, err)
	ws, err := hierarchySvc.CreateWorkspace(ctx, hierarchydomain.CreateWorkspaceRequest{OrgID: org.ID.String(), Name: "prod"})
	require.NoError(t, err)
	group, err := hierarchySvc.CreateAgentGroup(ctx, hierarchydomain.CreateAgentGroupRequest{WorkspaceID: ws.ID.String(), Name: "assistants"})
	require.NoError(t, err)
	agent, err := hierarchySvc.CreateAgent(ctx, hierarchydomain.CreateAgentRequest{AgentGroupID: group.ID.String(), Name: "support-bot"})
	require.NoError(t, err)

	secret, err := apiKeySvc.Issue(ctx, apikeydomain.IssueRequest{AgentID: agent.ID, Name: "default"})
	require.NoError(t, err)

	// 25 input + 50 output mock tokens price to 0.25 USD, 25 credits at
	// the default 100 credits per USD.
	_, err = pricingSvc.Upsert(ctx, pricingdomain.UpsertRequest{
		Provider:        "mock",
		Model:           "mock-model",
		InputCostPer1K:  decimal.RequireFromString("2"),
		OutputCostPer1K: decimal.RequireFromString("4"),
	})
	require.NoError(t, err)

	return &fixture{
		db:        db,
		hierarchy: hierarchySvc,
		apiKeys:   apiKeySvc,
		policies:  policySvc,
		budgets:   budgetSvc,
		pricing:   pricingSvc,
		ledger:    ledgerSvc,
		usage:     usageSvc,
		gateway:   gatewaySvc,
		org:       org,
		group:     group,
		agent:     agent,
		apiKey:    secret.APIKey,
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

func (f *fixture) balance(t *testing.T) int64 {
	t.Helper()
	balance, err := f.ledger.Balance(context.Background(), f.org.BillingAccountID)
	require.NoError(t, err)
	return balance
}

func (f *fixture) lastEvent(t *testing.T) usagedomain.UsageEvent {
	t.Helper()
	resp, err := f.usage.List(context.Background(), usagedomain.ListRequest{AgentID: f.agent.ID})
	require.NoError(t, err)
	require.NotEmpty(t, resp.UsageEvents)
	return resp.UsageEvents[0]
}

func (f *fixture) eventCount(t *testing.T) int {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&usagedomain.UsageEvent{}).Count(&count).Error)
	return int(count)
}

func chatRequest() gatewaydomain.ChatCompletionRequest {
	return gatewaydomain.ChatCompletionRequest{
		Model:    "mock-model",
		Messages: []gatewaydomain.Message{{Role: "user", Content: hundredChars}},
	}
}

func TestCompleteChargesActualUsage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.purchase(t, 10000)

	resp, err := f.gateway.Complete(ctx, f.apiKey, chatRequest())
	require.NoError(t, err)

	require.Equal(t, int64(25), resp.Extension.CreditsCharged)
	require.Equal(t, 25, resp.Usage.PromptTokens)
	require.Equal(t, 50, resp.Usage.CompletionTokens)
	require.Equal(t, 75, resp.Usage.TotalTokens)
	require.NotEmpty(t, resp.Extension.RequestID)
	require.Len(t, resp.Choices, 1)
	require.Equal(t, "assistant", resp.Choices[0].Message.Role)

	require.Equal(t, int64(9975), f.balance(t))

	event := f.lastEvent(t)
	require.Equal(t, usagedomain.StatusSuccess, event.Status)
	require.Equal(t, int64(25), event.CreditsCharged)
	require.Equal(t, "mock", event.Provider)
}

func TestCompleteRetryDoesNotDoubleCharge(t *testing.T) {
	f := newFixture(t)
	f.purchase(t, 10000)

	ctx := obscontext.WithRequestID(context.Background(), "req-retry-1")

	first, err := f.gateway.Complete(ctx, f.apiKey, chatRequest())
	require.NoError(t, err)
	require.Equal(t, int64(9975), f.balance(t))

	second, err := f.gateway.Complete(ctx, f.apiKey, chatRequest())
	require.NoError(t, err)

	require.Equal(t, first.Extension.CreditsCharged, second.Extension.CreditsCharged)
	require.Equal(t, int64(9975), f.balance(t), "retry must not move the balance")
	require.Equal(t, 1, f.eventCount(t), "retry must not write a second usage event")
}

func TestCompletePolicyBlockedModel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.purchase(t, 10000)

	_, err := f.policies.Create(ctx, policydomain.CreateRequest{
		Target:        hierarchydomain.OrgTarget(f.org.ID),
		Name:          "models",
		AllowedModels: []string{"gpt-4o"},
	})
	require.NoError(t, err)

	_, err = f.gateway.Complete(ctx, f.apiKey, chatRequest())
	require.True(t, policydomain.IsViolation(err))

	event := f.lastEvent(t)
	require.Equal(t, usagedomain.StatusPolicyBlocked, event.Status)
	require.Zero(t, event.CreditsCharged)
	require.Equal(t, int64(10000), f.balance(t))
}

func TestCompleteAllowListIntersection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.purchase(t, 10000)

	_, err := f.policies.Create(ctx, policydomain.CreateRequest{
		Target:        hierarchydomain.OrgTarget(f.org.ID),
		Name:          "org-models",
		AllowedModels: []string{"mock-model", "gpt-4o"},
	})
	require.NoError(t, err)
	_, err = f.policies.Create(ctx, policydomain.CreateRequest{
		Target:        hierarchydomain.AgentGroupTarget(f.group.ID),
		Name:          "group-models",
		AllowedModels: []string{"gpt-4o", "claude-3-haiku"},
	})
	require.NoError(t, err)

	// mock-model fell out of the intersection.
	_, err = f.gateway.Complete(ctx, f.apiKey, chatRequest())
	require.True(t, policydomain.IsViolation(err))
}

func TestCompleteBudgetExceededBeforeProviderCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.purchase(t, 10000)

	// The pre-flight estimate assumes the full default output window,
	// which prices far above this limit.
	_, err := f.budgets.Create(ctx, budgetdomain.CreateRequest{
		Target:      hierarchydomain.AgentTarget(f.agent.ID),
		Name:        "tight",
		Period:      budgetdomain.PeriodTotal,
		CreditLimit: 10,
	})
	require.NoError(t, err)

	_, err = f.gateway.Complete(ctx, f.apiKey, chatRequest())
	require.True(t, budgetdomain.IsExceeded(err))

	event := f.lastEvent(t)
	require.Equal(t, usagedomain.StatusBudgetExceeded, event.Status)
	require.Zero(t, event.CreditsCharged)
	require.Equal(t, int64(10000), f.balance(t))
}

func TestCompleteAutoDisableBudgetExhaustsAgent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.purchase(t, 10000)

	_, err := f.budgets.Create(ctx, budgetdomain.CreateRequest{
		Target:      hierarchydomain.AgentTarget(f.agent.ID),
		Name:        "hard-cap",
		Period:      budgetdomain.PeriodTotal,
		CreditLimit: 10,
		AutoDisable: true,
	})
	require.NoError(t, err)

	_, err = f.gateway.Complete(ctx, f.apiKey, chatRequest())
	require.True(t, budgetdomain.IsExceeded(err))

	agent, err := f.hierarchy.GetAgent(ctx, f.agent.ID)
	require.NoError(t, err)
	require.Equal(t, hierarchydomain.AgentStatusBudgetExhausted, agent.Status)

	// The next request is turned away at admission.
	_, err = f.gateway.Complete(ctx, f.apiKey, chatRequest())
	require.True(t, gatewaydomain.IsForbidden(err))
}

func TestCompleteInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.purchase(t, 5)

	_, err := f.gateway.Complete(ctx, f.apiKey, chatRequest())

	var icErr *ledgerdomain.InsufficientCreditsError
	require.ErrorAs(t, err, &icErr)
	require.Equal(t, int64(5), icErr.Balance)

	event := f.lastEvent(t)
	require.Equal(t, usagedomain.StatusBudgetExceeded, event.Status)
	require.Equal(t, int64(5), f.balance(t))
}

func TestCompleteInvalidKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.purchase(t, 10000)

	_, err := f.gateway.Complete(ctx, "cgk_definitely-not-issued", chatRequest())
	require.ErrorIs(t, err, apikeydomain.ErrInvalidKey)
	require.Zero(t, f.eventCount(t))
}

func TestCompleteRevokedKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.purchase(t, 10000)

	keys, err := f.apiKeys.List(ctx, f.agent.ID)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.NoError(t, f.apiKeys.Revoke(ctx, keys[0].ID))

	_, err = f.gateway.Complete(ctx, f.apiKey, chatRequest())
	require.ErrorIs(t, err, apikeydomain.ErrInvalidKey)
}

func TestCompleteDisabledAgentForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.purchase(t, 10000)

	require.NoError(t, f.hierarchy.SetAgentStatus(ctx, f.agent.ID, hierarchydomain.AgentStatusDisabled))

	_, err := f.gateway.Complete(ctx, f.apiKey, chatRequest())
	require.True(t, gatewaydomain.IsForbidden(err))

	event := f.lastEvent(t)
	require.Equal(t, usagedomain.StatusPolicyBlocked, event.Status)
}

func TestCompleteMissingPricing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.purchase(t, 10000)

	req := chatRequest()
	req.Model = "mock-unpriced"

	_, err := f.gateway.Complete(ctx, f.apiKey, req)
	require.ErrorIs(t, err, pricingdomain.ErrNotFound)

	event := f.lastEvent(t)
	require.Equal(t, usagedomain.StatusError, event.Status)
}

func TestCompleteClampsOutputTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.purchase(t, 10000)

	maxOut := 100
	_, err := f.policies.Create(ctx, policydomain.CreateRequest{
		Target:          hierarchydomain.OrgTarget(f.org.ID),
		Name:            "output-cap",
		MaxOutputTokens: &maxOut,
	})
	require.NoError(t, err)

	big := 4096
	req := chatRequest()
	req.MaxTokens = &big

	// The mock provider ignores the cap for its token math, but the
	// clamped value drives the pre-flight estimate: 100 output tokens
	// at 4 USD per 1k is 0.4 USD, 40 credits.
	balanceBefore := f.balance(t)
	resp, err := f.gateway.Complete(ctx, f.apiKey, req)
	require.NoError(t, err)
	require.Equal(t, balanceBefore-resp.Extension.CreditsCharged, f.balance(t))
}

func TestCompleteInputTokenLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.purchase(t, 10000)

	maxIn := 10
	_, err := f.policies.Create(ctx, policydomain.CreateRequest{
		Target:         hierarchydomain.OrgTarget(f.org.ID),
		Name:           "input-cap",
		MaxInputTokens: &maxIn,
	})
	require.NoError(t, err)

	// 100 chars estimate to 25 input tokens, over the 10 token cap.
	_, err = f.gateway.Complete(ctx, f.apiKey, chatRequest())
	require.True(t, policydomain.IsViolation(err))
}

func TestCompleteExactlyOneEventPerRequest(t *testing.T) {
	f := newFixture(t)
	f.purchase(t, 10000)

	for i, requestID := range []string{"one", "two", "three"} {
		ctx := obscontext.WithRequestID(context.Background(), requestID)
		_, err := f.gateway.Complete(ctx, f.apiKey, chatRequest())
		require.NoError(t, err)
		require.Equal(t, i+1, f.eventCount(t))
	}
}

func TestCompleteLatencyRecorded(t *testing.T) {
	f := newFixture(t)
	f.purchase(t, 10000)

	start := time.Now()
	resp, err := f.gateway.Complete(context.Background(), f.apiKey, chatRequest())
	require.NoError(t, err)
	require.GreaterOrEqual(t, resp.Extension.LatencyMs, int64(0))
	require.LessOrEqual(t, resp.Extension.LatencyMs, time.Since(start).Milliseconds()+1)
}
