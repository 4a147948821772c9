package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	budgetdomain "github.com/credgate/credgate/internal/budget/domain"
	"github.com/credgate/credgate/internal/config"
	hierarchydomain "github.com/credgate/credgate/internal/hierarchy/domain"
	ledgerdomain "github.com/credgate/credgate/internal/ledger/domain"
	pricingdomain "github.com/credgate/credgate/internal/pricing/domain"
	usagedomain "github.com/credgate/credgate/internal/usage/domain"
)

type WorkerParams struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Config    *config.Config
	Usage     usagedomain.Service
	Pricing   pricingdomain.Service
	Budgets   budgetdomain.Service
	Ledger    ledgerdomain.Service
	Hierarchy hierarchydomain.Service
}

// Worker polls the usage-job queue and bills then records each event with
// bounded retry. Events that arrive unpriced go through the same price,
// budget-check and deduct sequence the gateway applies inline.
type Worker struct {
	db        *gorm.DB
	log       *zap.Logger
	usage     usagedomain.Service
	pricing   pricingdomain.Service
	budgets   budgetdomain.Service
	ledger    ledgerdomain.Service
	hierarchy hierarchydomain.Service

	maxAttempts     int
	initialInterval time.Duration
	maxInterval     time.Duration
	pollInterval    time.Duration
	batchSize       int
}

func NewWorker(p WorkerParams) *Worker {
	cfg := p.Config.Worker
	w := &Worker{
		db:              p.DB,
		log:             p.Log.Named("worker"),
		usage:           p.Usage,
		pricing:         p.Pricing,
		budgets:         p.Budgets,
		ledger:          p.Ledger,
		hierarchy:       p.Hierarchy,
		maxAttempts:     cfg.MaxAttempts,
		initialInterval: time.Duration(cfg.InitialInterval) * time.Second,
		maxInterval:     time.Duration(cfg.MaxInterval) * time.Second,
		pollInterval:    time.Duration(cfg.PollInterval) * time.Second,
		batchSize:       cfg.BatchSize,
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = 3
	}
	if w.initialInterval <= 0 {
		w.initialInterval = time.Second
	}
	if w.maxInterval <= 0 {
		w.maxInterval = 30 * time.Second
	}
	if w.pollInterval <= 0 {
		w.pollInterval = 5 * time.Second
	}
	if w.batchSize <= 0 {
		w.batchSize = 50
	}
	return w
}

func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil {
			w.log.Warn("usage job run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce drains one batch of due jobs and reports how many recorded.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	var jobs []UsageJob
	err := w.db.WithContext(ctx).
		Where("status = ? AND next_run_at <= ?", JobStatusPending, time.Now().UTC()).
		Order("next_run_at ASC").
		Limit(w.batchSize).
		Find(&jobs).Error
	if err != nil {
		return 0, err
	}

	processed := 0
	for i := range jobs {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		if w.processJob(ctx, &jobs[i]) {
			processed++
		}
	}

	return processed, nil
}

// processJob records one job's event, reporting success. Failures
// reschedule with exponential backoff until attempts run out.
func (w *Worker) processJob(ctx context.Context, job *UsageJob) bool {
	var req usagedomain.RecordRequest
	if err := json.Unmarshal(job.Payload, &req); err != nil {
		// A payload that cannot parse will never succeed.
		w.markFailed(ctx, job, err)
		return false
	}

	err := w.billIfUnpriced(ctx, job.RequestID, &req)
	if err == nil {
		_, err = w.usage.Record(ctx, req)
	}
	if err != nil {
		job.Attempts++
		if job.Attempts >= w.maxAttempts {
			w.markFailed(ctx, job, err)
		} else {
			w.reschedule(ctx, job, err)
		}
		return false
	}

	w.update(ctx, job, map[string]any{
		"status":     JobStatusDone,
		"updated_at": time.Now().UTC(),
	})
	return true
}

// billIfUnpriced runs an unpriced SUCCESS event through the price, budget
// and deduct sequence. Business rejections rewrite the event's terminal
// status and return nil; infrastructure failures return an error so the
// job retries.
func (w *Worker) billIfUnpriced(ctx context.Context, requestID string, req *usagedomain.RecordRequest) error {
	if req.Status != usagedomain.StatusSuccess || req.CreditsCharged != 0 {
		return nil
	}

	rate, err := w.pricing.RateFor(ctx, req.Provider, req.Model)
	if err != nil {
		if errors.Is(err, pricingdomain.ErrNotFound) {
			req.Status = usagedomain.StatusError
			req.ErrorMessage = "no pricing configured"
			return nil
		}
		return err
	}

	org, err := w.hierarchy.GetOrg(ctx, req.OrgID)
	if err != nil {
		if errors.Is(err, hierarchydomain.ErrNotFound) {
			req.Status = usagedomain.StatusError
			req.ErrorMessage = "unknown organization"
			return nil
		}
		return err
	}

	cost := rate.Cost(req.InputTokens, req.OutputTokens)
	credits := pricingdomain.CostToCredits(cost, org.CreditsPerUSD)

	if err := w.budgets.Check(ctx, req.AgentID, credits); err != nil {
		if budgetdomain.IsExceeded(err) {
			req.Status = usagedomain.StatusBudgetExceeded
			req.ErrorMessage = err.Error()
			return nil
		}
		return err
	}

	if credits > 0 {
		entry, err := w.ledger.Deduct(ctx, ledgerdomain.DeductRequest{
			AccountID:      org.BillingAccountID,
			Amount:         credits,
			IdempotencyKey: "usage_job:" + requestID,
			Metadata: map[string]any{
				"request_id": requestID,
				"model":      req.Model,
				"agent_id":   req.AgentID.String(),
			},
		})
		if err != nil {
			if icErr, ok := ledgerdomain.IsInsufficientCredits(err); ok {
				req.Status = usagedomain.StatusBudgetExceeded
				req.ErrorMessage = icErr.Error()
				return nil
			}
			return err
		}
		// A replayed idempotency key returns the original entry; its
		// amount is the authoritative charge.
		credits = -entry.Amount
	}

	req.CostUSD = cost
	req.CreditsCharged = credits
	return nil
}

func (w *Worker) reschedule(ctx context.Context, job *UsageJob, cause error) {
	delay := w.backoffFor(job.Attempts)
	w.log.Warn("usage job failed, rescheduling",
		zap.String("request_id", job.RequestID),
		zap.Int("attempts", job.Attempts),
		zap.Duration("delay", delay),
		zap.Error(cause),
	)
	w.update(ctx, job, map[string]any{
		"attempts":    job.Attempts,
		"last_error":  cause.Error(),
		"next_run_at": time.Now().UTC().Add(delay),
		"updated_at":  time.Now().UTC(),
	})
}

func (w *Worker) markFailed(ctx context.Context, job *UsageJob, cause error) {
	w.log.Error("usage job failed permanently",
		zap.String("request_id", job.RequestID),
		zap.Int("attempts", job.Attempts),
		zap.Error(cause),
	)
	w.update(ctx, job, map[string]any{
		"status":     JobStatusFailed,
		"attempts":   job.Attempts,
		"last_error": cause.Error(),
		"updated_at": time.Now().UTC(),
	})
}

func (w *Worker) update(ctx context.Context, job *UsageJob, fields map[string]any) {
	if err := w.db.WithContext(ctx).
		Model(&UsageJob{}).
		Where("id = ?", job.ID).
		Updates(fields).Error; err != nil {
		w.log.Error("failed to update usage job",
			zap.String("request_id", job.RequestID),
			zap.Error(err),
		)
	}
}

// backoffFor replays the exponential schedule up to the attempt count.
func (w *Worker) backoffFor(attempts int) time.Duration {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = w.initialInterval
	eb.MaxInterval = w.maxInterval

	delay := eb.NextBackOff()
	for i := 1; i < attempts; i++ {
		delay = eb.NextBackOff()
	}
	if delay > w.maxInterval {
		delay = w.maxInterval
	}
	return delay
}
