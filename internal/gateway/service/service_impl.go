package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"

	apikeydomain "github.com/credgate/credgate/internal/apikey/domain"
	auditdomain "github.com/credgate/credgate/internal/audit/domain"
	budgetdomain "github.com/credgate/credgate/internal/budget/domain"
	gatewaydomain "github.com/credgate/credgate/internal/gateway/domain"
	hierarchydomain "github.com/credgate/credgate/internal/hierarchy/domain"
	ledgerdomain "github.com/credgate/credgate/internal/ledger/domain"
	obscontext "github.com/credgate/credgate/internal/observability/context"
	obsmetrics "github.com/credgate/credgate/internal/observability/metrics"
	policydomain "github.com/credgate/credgate/internal/policy/domain"
	pricingdomain "github.com/credgate/credgate/internal/pricing/domain"
	"github.com/credgate/credgate/internal/provider"
	"github.com/credgate/credgate/internal/ratelimit"
	usagedomain "github.com/credgate/credgate/internal/usage/domain"
)

type Params struct {
	fx.In

	Log       *zap.Logger
	APIKeys   apikeydomain.Service
	Hierarchy hierarchydomain.Service
	Policies  policydomain.Service
	Budgets   budgetdomain.Service
	Pricing   pricingdomain.Service
	Ledger    ledgerdomain.Service
	Usage     usagedomain.Service
	Registry  *provider.Registry

	Audit      auditdomain.Service       `optional:"true"`
	Limiter    *ratelimit.RequestLimiter `optional:"true"`
	ObsMetrics *obsmetrics.Metrics       `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	apiKeys    apikeydomain.Service
	hierarchy  hierarchydomain.Service
	policies   policydomain.Service
	budgets    budgetdomain.Service
	pricing    pricingdomain.Service
	ledger     ledgerdomain.Service
	usage      usagedomain.Service
	audit      auditdomain.Service
	registry   *provider.Registry
	limiter    *ratelimit.RequestLimiter
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) gatewaydomain.Service {
	return &Service{
		log:        p.Log.Named("gateway.service"),
		apiKeys:    p.APIKeys,
		hierarchy:  p.Hierarchy,
		policies:   p.Policies,
		budgets:    p.Budgets,
		pricing:    p.Pricing,
		ledger:     p.Ledger,
		usage:      p.Usage,
		audit:      p.Audit,
		registry:   p.Registry,
		limiter:    p.Limiter,
		obsMetrics: p.ObsMetrics,
	}
}

// outcome carries everything the terminal Record stage needs.
type outcome struct {
	requestID    string
	chain        hierarchydomain.Chain
	providerName string
	model        string
	inputTokens  int
	outputTokens int
	costUSD      decimal.Decimal
	credits      int64
	latencyMs    int64
	status       usagedomain.Status
	errMessage   string
}

func (s *Service) Complete(ctx context.Context, apiKey string, req gatewaydomain.ChatCompletionRequest) (*gatewaydomain.ChatCompletionResponse, error) {
	requestID := obscontext.RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	if req.Model == "" || len(req.Messages) == 0 {
		return nil, gatewaydomain.ErrInvalidRequest
	}

	// Authenticate. No usage event is written before the credential
	// resolves: an unattributable request has no agent to bill it to.
	key, err := s.apiKeys.Resolve(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	chain, err := s.hierarchy.Chain(ctx, key.AgentID)
	if err != nil {
		if errors.Is(err, hierarchydomain.ErrNotFound) {
			return nil, apikeydomain.ErrInvalidKey
		}
		return nil, err
	}

	out := outcome{
		requestID: requestID,
		chain:     chain,
		model:     req.Model,
		costUSD:   decimal.Zero,
	}

	// Admit.
	if !chain.AllActive() {
		reason := inactiveReason(chain)
		s.record(ctx, out.with(usagedomain.StatusPolicyBlocked, reason))
		return nil, &gatewaydomain.ForbiddenError{Reason: reason}
	}

	// Authorize.
	effective, err := s.policies.Effective(ctx, key.AgentID)
	if err != nil {
		return nil, err
	}

	requestedMax := gatewaydomain.DefaultMaxOutputTokens
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		requestedMax = *req.MaxTokens
	}
	maxOutputTokens, err := policydomain.Enforce(effective, req.Model, requestedMax)
	if err != nil {
		s.record(ctx, out.with(usagedomain.StatusPolicyBlocked, err.Error()))
		return nil, err
	}

	if effective.MaxInputTokens != nil && estimateInputTokens(req.Messages) > *effective.MaxInputTokens {
		verr := &policydomain.ViolationError{
			Model:  req.Model,
			Reason: fmt.Sprintf("input exceeds %d token limit", *effective.MaxInputTokens),
		}
		s.record(ctx, out.with(usagedomain.StatusPolicyBlocked, verr.Reason))
		return nil, verr
	}

	if effective.RPMLimit != nil {
		result, err := s.limiter.AllowAgent(ctx, key.AgentID, *effective.RPMLimit)
		if err != nil {
			return nil, err
		}
		if !result.Allowed {
			if s.obsMetrics != nil {
				s.obsMetrics.RecordRateLimitDenied()
			}
			s.record(ctx, out.with(usagedomain.StatusPolicyBlocked, "rate limit exceeded"))
			return nil, gatewaydomain.ErrRateLimited
		}
	}

	// Pre-budget. The estimate assumes zero input and a full output
	// window; exact cost is only known after the provider responds.
	providerName, err := provider.NameForModel(req.Model)
	if err != nil {
		s.record(ctx, out.with(usagedomain.StatusError, err.Error()))
		return nil, pricingdomain.ErrNotFound
	}
	out.providerName = providerName

	rate, err := s.pricing.RateFor(ctx, providerName, req.Model)
	if err != nil {
		if errors.Is(err, pricingdomain.ErrNotFound) {
			s.record(ctx, out.with(usagedomain.StatusError, "no pricing configured"))
		}
		return nil, err
	}

	creditsPerUSD := chain.Org.CreditsPerUSD
	estimate := pricingdomain.CostToCredits(rate.Cost(0, maxOutputTokens), creditsPerUSD)

	if err := s.budgets.Check(ctx, key.AgentID, estimate); err != nil {
		if budgetdomain.IsExceeded(err) {
			s.record(ctx, out.with(usagedomain.StatusBudgetExceeded, err.Error()))
		}
		return nil, err
	}

	// Pre-balance. Advisory only: the deduction at commit re-checks
	// under the account's exclusive section.
	balance, err := s.ledger.Balance(ctx, chain.Org.BillingAccountID)
	if err != nil {
		return nil, err
	}
	if balance < estimate {
		icErr := &ledgerdomain.InsufficientCreditsError{Balance: balance, Required: estimate}
		s.record(ctx, out.with(usagedomain.StatusBudgetExceeded, icErr.Error()))
		return nil, icErr
	}

	// Invoke the provider. No lock is held here: upstream calls can take
	// seconds and must not serialize other traffic on the same account.
	upstream, err := s.registry.ForModel(ctx, chain.Org.ID, req.Model)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	completion, err := upstream.Complete(ctx, provider.Request{
		Model:           req.Model,
		Messages:        toProviderMessages(req.Messages),
		MaxOutputTokens: maxOutputTokens,
		Temperature:     req.Temperature,
	})
	out.latencyMs = time.Since(start).Milliseconds()
	if s.obsMetrics != nil {
		s.obsMetrics.RecordProviderLatency(providerName, time.Since(start))
	}
	if err != nil {
		s.record(ctx, out.with(usagedomain.StatusError, err.Error()))
		return nil, err
	}

	// Price the actual usage.
	out.inputTokens = completion.InputTokens
	out.outputTokens = completion.OutputTokens
	out.costUSD = rate.Cost(completion.InputTokens, completion.OutputTokens)
	credits := pricingdomain.CostToCredits(out.costUSD, creditsPerUSD)

	// Commit. The request id keys the deduction, so a retried request
	// observes the original entry instead of debiting twice.
	if credits > 0 {
		entry, err := s.ledger.Deduct(ctx, ledgerdomain.DeductRequest{
			AccountID:      chain.Org.BillingAccountID,
			Amount:         credits,
			IdempotencyKey: "gateway:" + requestID,
			Metadata: map[string]any{
				"request_id": requestID,
				"model":      req.Model,
				"agent_id":   key.AgentID.String(),
			},
		})
		if err != nil {
			if icErr, ok := ledgerdomain.IsInsufficientCredits(err); ok {
				s.record(ctx, out.with(usagedomain.StatusBudgetExceeded, icErr.Error()))
				return nil, icErr
			}
			s.record(ctx, out.with(usagedomain.StatusError, err.Error()))
			return nil, err
		}
		// A replayed idempotency key returns the original entry; its
		// amount is the authoritative charge.
		credits = -entry.Amount
	}
	out.credits = credits

	s.record(ctx, out.with(usagedomain.StatusSuccess, ""))

	return &gatewaydomain.ChatCompletionResponse{
		ID:      "chatcmpl-" + requestID,
		Object:  "chat.completion",
		Created: time.Now().UTC().Unix(),
		Model:   req.Model,
		Choices: []gatewaydomain.Choice{{
			Index: 0,
			Message: gatewaydomain.Message{
				Role:    "assistant",
				Content: completion.Content,
			},
			FinishReason: completion.FinishReason,
		}},
		Usage: gatewaydomain.Usage{
			PromptTokens:     completion.InputTokens,
			CompletionTokens: completion.OutputTokens,
			TotalTokens:      completion.InputTokens + completion.OutputTokens,
		},
		Extension: gatewaydomain.Extension{
			CreditsCharged: credits,
			LatencyMs:      out.latencyMs,
			RequestID:      requestID,
		},
	}, nil
}

func (o outcome) with(status usagedomain.Status, errMessage string) outcome {
	o.status = status
	o.errMessage = errMessage
	if status != usagedomain.StatusSuccess {
		o.credits = 0
	}
	return o
}

// record writes the single terminal usage event and its audit entry. A
// failed write is logged, never surfaced: the caller's outcome is already
// decided.
func (s *Service) record(ctx context.Context, out outcome) {
	providerName := out.providerName
	if providerName == "" {
		providerName = "unknown"
	}

	_, err := s.usage.Record(ctx, usagedomain.RecordRequest{
		RequestID:      out.requestID,
		AgentID:        out.chain.Agent.ID,
		OrgID:          out.chain.Org.ID,
		Provider:       providerName,
		Model:          out.model,
		InputTokens:    out.inputTokens,
		OutputTokens:   out.outputTokens,
		CostUSD:        out.costUSD,
		CreditsCharged: out.credits,
		LatencyMs:      out.latencyMs,
		Status:         out.status,
		ErrorMessage:   out.errMessage,
	})
	if err != nil {
		s.log.Error("failed to record usage event",
			zap.String("request_id", out.requestID),
			zap.String("status", string(out.status)),
			zap.Error(err),
		)
	}

	if s.audit != nil {
		orgID := out.chain.Org.ID
		agentID := out.chain.Agent.ID
		requestID := out.requestID
		if err := s.audit.Log(ctx, auditdomain.Event{
			OrgID:        &orgID,
			ActorAgentID: &agentID,
			Action:       "gateway.request",
			TargetType:   "usage_event",
			TargetID:     &requestID,
			Metadata: map[string]any{
				"status":          string(out.status),
				"model":           out.model,
				"credits_charged": out.credits,
			},
		}); err != nil {
			s.log.Warn("failed to write gateway audit log", zap.Error(err))
		}
	}
}

func inactiveReason(chain hierarchydomain.Chain) string {
	switch {
	case chain.Agent.Status == hierarchydomain.AgentStatusBudgetExhausted:
		return "agent budget exhausted"
	case chain.Agent.Status != hierarchydomain.AgentStatusActive:
		return "agent disabled"
	case !chain.AgentGroup.IsActive:
		return "agent group inactive"
	case !chain.Workspace.IsActive:
		return "workspace inactive"
	default:
		return "organization inactive"
	}
}

// estimateInputTokens approximates prompt size at four characters per
// token, matching the mock provider's accounting.
func estimateInputTokens(messages []gatewaydomain.Message) int {
	chars := 0
	for _, m := range messages {
		chars += len(m.Content)
	}
	return chars / 4
}

func toProviderMessages(messages []gatewaydomain.Message) []provider.Message {
	out := make([]provider.Message, len(messages))
	for i, m := range messages {
		out[i] = provider.Message{Role: m.Role, Content: m.Content}
	}
	return out
}
