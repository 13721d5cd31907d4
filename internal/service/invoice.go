// Package service is the caller-facing boundary of the invoicing core.
// Everything upstream (HTTP handlers, schedulers, operator tooling)
// goes through InvoiceService; nothing upstream touches adapters or the
// repository directly.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/styryl1/invoicecore/internal/credential"
	"github.com/styryl1/invoicecore/internal/domain"
	"github.com/styryl1/invoicecore/internal/events"
	"github.com/styryl1/invoicecore/internal/provider"
	"github.com/styryl1/invoicecore/internal/queue"
	"github.com/styryl1/invoicecore/internal/repository"
	"github.com/styryl1/invoicecore/internal/telemetry"
)

// ProviderHealth describes the connection state of one provider for a
// tenant: deployment flag, stored credentials and token freshness.
type ProviderHealth struct {
	Provider       domain.Provider
	Enabled        bool
	Connected      bool
	TokenExpiresAt *time.Time
	TokenExpired   bool
}

// InvoiceService orchestrates the invoice lifecycle: draft creation,
// the synchronous send, refresh scheduling and the credential surface.
type InvoiceService struct {
	store       repository.Store
	registry    provider.Registry
	credentials *credential.Service
	queue       *queue.Service
	publisher   events.Publisher
	metrics     *telemetry.Metrics
	validate    *validator.Validate
	logger      *slog.Logger
	enabled     map[domain.Provider]bool
}

func NewInvoiceService(
	store repository.Store,
	registry provider.Registry,
	credentials *credential.Service,
	q *queue.Service,
	publisher events.Publisher,
	metrics *telemetry.Metrics,
	logger *slog.Logger,
	enabled map[domain.Provider]bool,
) *InvoiceService {
	return &InvoiceService{
		store:       store,
		registry:    registry,
		credentials: credentials,
		queue:       q,
		publisher:   publisher,
		metrics:     metrics,
		validate:    validator.New(),
		logger:      logger,
		enabled:     enabled,
	}
}

// CreateDraftFor creates a draft at the provider and mirrors it locally.
// The local row exists before the provider call so a provider-side draft
// is never orphaned without a trace; if draft creation fails the row
// stays unlinked and editable.
func (s *InvoiceService) CreateDraftFor(ctx context.Context, tenantID uuid.UUID, p domain.Provider, input domain.DraftInput) (domain.Invoice, error) {
	const op = "invoice.create_draft"

	if !p.Valid() {
		return domain.Invoice{}, domain.Invalid(op, "unknown provider: "+string(p))
	}
	if err := s.validate.Struct(input); err != nil {
		return domain.Invoice{}, domain.WrapError(err, domain.EINVALID, op, "invalid draft input")
	}

	// Resolve the adapter first: a disabled or unconnected provider must
	// fail before anything is written.
	adapter, err := s.registry.Adapter(ctx, tenantID, p)
	if err != nil {
		return domain.Invoice{}, err
	}

	inv, err := s.store.CreateInvoice(ctx, domain.Invoice{
		TenantID:           tenantID,
		Status:             domain.InvoiceStatusDraft,
		CustomerName:       input.CustomerName,
		CustomerEmail:      input.CustomerEmail,
		CustomerPostalCode: input.CustomerPostalCode,
		TotalCents:         input.TotalCents,
		Currency:           input.Currency,
		Notes:              input.Notes,
	})
	if err != nil {
		return domain.Invoice{}, err
	}

	res, err := adapter.CreateDraft(ctx, input)
	if err != nil {
		s.logger.Warn("provider draft creation failed, local row stays unlinked",
			slog.String("invoice_id", inv.ID.String()),
			slog.String("provider", p.String()),
			slog.String("error", err.Error()),
		)
		return domain.Invoice{}, domain.WrapError(err, domain.EUNAVAILABLE, op, "provider draft creation failed")
	}

	if err := s.store.LinkProvider(ctx, inv.ID, p, res.ExternalID); err != nil {
		return domain.Invoice{}, err
	}

	s.logger.Info("draft created",
		slog.String("invoice_id", inv.ID.String()),
		slog.String("provider", p.String()),
		slog.String("external_id", res.ExternalID),
	)
	return s.store.GetInvoice(ctx, tenantID, inv.ID)
}

// SendInvoice finalizes and sends a draft through its provider. This is
// the one synchronous provider call in the lifecycle: the caller waits,
// and a provider rejection surfaces with the raw provider message. On
// success the invoice is stamped issued and enters the refresh queue.
func (s *InvoiceService) SendInvoice(ctx context.Context, tenantID, invoiceID uuid.UUID) (domain.Invoice, error) {
	const op = "invoice.send"

	inv, err := s.store.GetInvoice(ctx, tenantID, invoiceID)
	if err != nil {
		return domain.Invoice{}, err
	}
	if inv.Locked() {
		return domain.Invoice{}, domain.Locked(op)
	}
	if inv.Provider == "" || inv.ExternalID == "" {
		return domain.Invoice{}, domain.Invalid(op, "draft is not linked to a provider")
	}

	adapter, err := s.registry.Adapter(ctx, tenantID, inv.Provider)
	if err != nil {
		return domain.Invoice{}, err
	}

	snap, err := adapter.FinalizeAndSend(ctx, inv.ExternalID)
	if err != nil {
		if s.metrics != nil {
			s.metrics.SendFailed.WithLabelValues(inv.Provider.String()).Inc()
		}
		return domain.Invoice{}, domain.SendFailed(op, err)
	}

	// The provider accepted the send, so the invoice is locked from here
	// even if it reported a status outside the locked set.
	status := snap.Status
	if !status.Locked() {
		status = domain.InvoiceStatusSent
	}

	now := time.Now()
	if err := s.store.ApplySync(ctx, inv.ID, repository.SyncUpdate{
		Status:         status,
		ProviderStatus: snap.ProviderStatus,
		ProviderNumber: snap.ProviderNumber,
		PDFURL:         snap.PDFURL,
		UBLURL:         snap.UBLURL,
		PaymentURL:     snap.PaymentURL,
		IssuedAt:       &now,
	}); err != nil {
		return domain.Invoice{}, err
	}

	if err := s.store.AppendAudit(ctx, repository.AuditRecord{
		InvoiceID:  inv.ID,
		TenantID:   inv.TenantID,
		Provider:   inv.Provider,
		FromStatus: inv.Status,
		ToStatus:   status,
		Note:       "invoice sent",
	}); err != nil {
		return domain.Invoice{}, err
	}

	if s.metrics != nil {
		s.metrics.InvoicesSent.WithLabelValues(inv.Provider.String()).Inc()
		s.metrics.StatusTransitions.WithLabelValues(inv.Provider.String(), inv.Status.String(), status.String()).Inc()
	}

	if err := s.publisher.PublishStatusChanged(ctx, events.StatusChanged{
		InvoiceID:  inv.ID,
		TenantID:   inv.TenantID,
		Provider:   inv.Provider,
		FromStatus: inv.Status,
		ToStatus:   status,
		ObservedAt: now,
	}); err != nil {
		s.logger.Warn("failed to publish send transition",
			slog.String("invoice_id", inv.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	sent, err := s.store.GetInvoice(ctx, tenantID, inv.ID)
	if err != nil {
		return domain.Invoice{}, err
	}

	if err := s.queue.Enqueue(ctx, sent); err != nil {
		// The send itself succeeded; polling will be picked up by the
		// next explicit refresh.
		s.logger.Error("failed to enqueue refresh after send",
			slog.String("invoice_id", inv.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("invoice sent",
		slog.String("invoice_id", inv.ID.String()),
		slog.String("provider", inv.Provider.String()),
		slog.String("provider_number", sent.ProviderNumber),
	)
	return sent, nil
}

// GetInvoice loads one invoice scoped to the tenant.
func (s *InvoiceService) GetInvoice(ctx context.Context, tenantID, invoiceID uuid.UUID) (domain.Invoice, error) {
	return s.store.GetInvoice(ctx, tenantID, invoiceID)
}

// RefreshOne schedules an immediate status refresh for an invoice.
// Idempotent: an already queued invoice is pulled forward, not doubled.
func (s *InvoiceService) RefreshOne(ctx context.Context, tenantID, invoiceID uuid.UUID) error {
	inv, err := s.store.GetInvoice(ctx, tenantID, invoiceID)
	if err != nil {
		return err
	}
	if inv.Provider == "" || inv.ExternalID == "" {
		return domain.Invalid("invoice.refresh", "invoice is not linked to a provider")
	}
	return s.queue.Enqueue(ctx, inv)
}

// RunDueJobs processes one batch of due refresh jobs.
func (s *InvoiceService) RunDueJobs(ctx context.Context, batchSize int32) (int, error) {
	return s.queue.RunDue(ctx, batchSize)
}

// GetProviderHealth reports the connection state for a tenant/provider
// pair without calling the provider.
func (s *InvoiceService) GetProviderHealth(ctx context.Context, tenantID uuid.UUID, p domain.Provider) (ProviderHealth, error) {
	if !p.Valid() {
		return ProviderHealth{}, domain.Invalid("provider.health", "unknown provider: "+string(p))
	}

	health := ProviderHealth{Provider: p, Enabled: s.enabled[p]}

	connected, err := s.credentials.Has(ctx, tenantID, p)
	if err != nil {
		return ProviderHealth{}, err
	}
	health.Connected = connected
	if !connected {
		return health, nil
	}

	cred, err := s.credentials.Get(ctx, tenantID, p)
	if err != nil {
		return ProviderHealth{}, err
	}
	if !cred.ExpiresAt.IsZero() {
		expiresAt := cred.ExpiresAt
		health.TokenExpiresAt = &expiresAt
		health.TokenExpired = expiresAt.Before(time.Now())
	}
	return health, nil
}

// ConnectProvider stores the tenant's credential and drops any cached
// adapter built from the old one.
func (s *InvoiceService) ConnectProvider(ctx context.Context, tenantID uuid.UUID, p domain.Provider, input credential.ConnectInput) error {
	if _, err := s.credentials.Connect(ctx, tenantID, p, input); err != nil {
		return err
	}
	s.registry.InvalidateCache(tenantID, p)
	return nil
}

// DisconnectProvider removes the tenant's credential and cached adapter.
// Already synced invoices keep their mirrored state.
func (s *InvoiceService) DisconnectProvider(ctx context.Context, tenantID uuid.UUID, p domain.Provider) error {
	if err := s.credentials.Disconnect(ctx, tenantID, p); err != nil {
		return err
	}
	s.registry.InvalidateCache(tenantID, p)
	return nil
}

// ReenqueueDeadLetter puts a dead-lettered invoice back under polling
// with a fresh attempt budget.
func (s *InvoiceService) ReenqueueDeadLetter(ctx context.Context, tenantID, invoiceID uuid.UUID) error {
	return s.queue.ReenqueueDeadLetter(ctx, tenantID, invoiceID)
}

// ListDeadLetters returns the tenant's dead-lettered refresh jobs.
func (s *InvoiceService) ListDeadLetters(ctx context.Context, tenantID uuid.UUID, limit int32) ([]repository.DeadLetter, error) {
	return s.store.ListDeadLetters(ctx, tenantID, limit)
}

// ListAuditForInvoice returns the recorded status transitions.
func (s *InvoiceService) ListAuditForInvoice(ctx context.Context, invoiceID uuid.UUID) ([]repository.AuditRecord, error) {
	return s.store.ListAuditForInvoice(ctx, invoiceID)
}
