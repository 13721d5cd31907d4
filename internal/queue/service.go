// Package queue is the durable status-refresh queue: at-least-once,
// one live job per invoice, multi-worker safe through the store's atomic
// claim. Everything inside the processing loop is caught and converted
// into backoff or dead-letter so one bad invoice cannot halt a batch.
package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/styryl1/invoicecore/internal/domain"
	"github.com/styryl1/invoicecore/internal/provider"
	"github.com/styryl1/invoicecore/internal/reconcile"
	"github.com/styryl1/invoicecore/internal/repository"
	"github.com/styryl1/invoicecore/internal/telemetry"
)

// Re-poll cadence per provider. Moneybird pushes webhooks, so its poll
// is a daily safety net; the others have no webhooks and need an active
// cadence.
const (
	cadenceWebhookBacked = 24 * time.Hour
	cadencePolled        = 5 * time.Minute
)

// Store is the repository slice the queue needs.
type Store interface {
	repository.InvoiceStore
	repository.QueueStore
}

// Config tunes queue behavior.
type Config struct {
	Lease       time.Duration
	MaxAttempts int32
	BackoffBase time.Duration
}

// Service orchestrates enqueueing and processing of refresh jobs.
type Service struct {
	store      Store
	registry   provider.Registry
	reconciler *reconcile.Reconciler
	metrics    *telemetry.Metrics
	logger     *slog.Logger
	cfg        Config
}

func NewService(store Store, registry provider.Registry, reconciler *reconcile.Reconciler, metrics *telemetry.Metrics, logger *slog.Logger, cfg Config) *Service {
	if cfg.Lease <= 0 {
		cfg.Lease = 2 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 7
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	return &Service{
		store:      store,
		registry:   registry,
		reconciler: reconciler,
		metrics:    metrics,
		logger:     logger,
		cfg:        cfg,
	}
}

// Enqueue registers an invoice for polling, due immediately. Idempotent:
// an existing job keeps its attempt count and is pulled forward.
func (s *Service) Enqueue(ctx context.Context, inv domain.Invoice) error {
	_, err := s.store.UpsertRefreshJob(ctx, repository.UpsertRefreshJobParams{
		InvoiceID:   inv.ID,
		TenantID:    inv.TenantID,
		Provider:    inv.Provider,
		ExternalID:  inv.ExternalID,
		RunAfter:    time.Now(),
		MaxAttempts: s.cfg.MaxAttempts,
	})
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.JobsEnqueued.WithLabelValues(inv.Provider.String()).Inc()
	}
	return nil
}

// RunDue claims up to batchSize due jobs and processes them
// sequentially. Per-job failures feed the backoff/dead-letter path and
// never abort the batch; only a claim failure is returned.
func (s *Service) RunDue(ctx context.Context, batchSize int32) (int, error) {
	jobs, err := s.store.ClaimDueJobs(ctx, batchSize, s.cfg.Lease)
	if err != nil {
		return 0, err
	}

	for _, job := range jobs {
		start := time.Now()
		if err := s.process(ctx, job); err != nil {
			s.fail(ctx, job, err)
		} else if s.metrics != nil {
			s.metrics.JobsProcessed.WithLabelValues(job.Provider.String()).Inc()
		}
		if s.metrics != nil {
			s.metrics.JobDuration.WithLabelValues(job.Provider.String()).Observe(time.Since(start).Seconds())
		}
	}
	return len(jobs), nil
}

// process polls one invoice and reschedules or retires its job.
func (s *Service) process(ctx context.Context, job repository.RefreshJob) error {
	inv, err := s.store.GetInvoice(ctx, job.TenantID, job.InvoiceID)
	if err != nil {
		if domain.IsCode(err, domain.ENOTFOUND) {
			// The invoice is gone; the job has nothing left to poll.
			return s.store.DeleteRefreshJob(ctx, job.InvoiceID)
		}
		return err
	}

	if inv.Status.Terminal() {
		return s.store.DeleteRefreshJob(ctx, job.InvoiceID)
	}

	adapter, err := s.registry.Adapter(ctx, job.TenantID, job.Provider)
	if err != nil {
		return err
	}

	snap, err := adapter.FetchSnapshot(ctx, job.ExternalID)
	if err != nil {
		return err
	}

	if _, err := s.reconciler.Apply(ctx, inv, snap); err != nil {
		return err
	}

	if snap.Status.Terminal() {
		return s.store.DeleteRefreshJob(ctx, job.InvoiceID)
	}
	return s.store.RescheduleRefreshJob(ctx, job.ID, time.Now().Add(cadence(job.Provider)))
}

// fail records a processing failure: backoff on remaining budget,
// dead-letter exactly once when the budget is spent.
func (s *Service) fail(ctx context.Context, job repository.RefreshJob, cause error) {
	attempts := job.Attempts + 1

	if s.metrics != nil {
		s.metrics.JobsFailed.WithLabelValues(job.Provider.String()).Inc()
	}
	s.logger.Warn("refresh job failed",
		slog.String("invoice_id", job.InvoiceID.String()),
		slog.String("provider", job.Provider.String()),
		slog.Int("attempts", int(attempts)),
		slog.String("error", cause.Error()),
	)

	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.cfg.MaxAttempts
	}

	if attempts >= maxAttempts {
		s.deadLetter(ctx, job, attempts, cause)
		return
	}

	runAfter := time.Now().Add(backoffDelay(s.cfg.BackoffBase, attempts))
	if err := s.store.FailRefreshJob(ctx, job.ID, attempts, runAfter, cause.Error()); err != nil {
		s.logger.Error("failed to record job failure",
			slog.String("invoice_id", job.InvoiceID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) deadLetter(ctx context.Context, job repository.RefreshJob, attempts int32, cause error) {
	err := s.store.CreateDeadLetter(ctx, repository.DeadLetter{
		InvoiceID:  job.InvoiceID,
		TenantID:   job.TenantID,
		Provider:   job.Provider,
		ExternalID: job.ExternalID,
		Attempts:   attempts,
		LastError:  cause.Error(),
	})
	if err != nil {
		s.logger.Error("failed to record dead letter",
			slog.String("invoice_id", job.InvoiceID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := s.store.DeleteRefreshJob(ctx, job.InvoiceID); err != nil {
		s.logger.Error("failed to remove dead-lettered job",
			slog.String("invoice_id", job.InvoiceID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	if s.metrics != nil {
		s.metrics.JobsDeadLettered.WithLabelValues(job.Provider.String()).Inc()
	}
	s.logger.Error("refresh job dead-lettered",
		slog.String("invoice_id", job.InvoiceID.String()),
		slog.String("provider", job.Provider.String()),
		slog.Int("attempts", int(attempts)),
	)
}

// ReenqueueDeadLetter puts a dead-lettered invoice back under active
// polling through the same idempotent upsert as a fresh enqueue.
func (s *Service) ReenqueueDeadLetter(ctx context.Context, tenantID, invoiceID uuid.UUID) error {
	inv, err := s.store.GetInvoice(ctx, tenantID, invoiceID)
	if err != nil {
		return err
	}
	return s.Enqueue(ctx, inv)
}

func cadence(p domain.Provider) time.Duration {
	if p == domain.ProviderMoneybird {
		return cadenceWebhookBacked
	}
	return cadencePolled
}
