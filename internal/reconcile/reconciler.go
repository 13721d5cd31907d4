// Package reconcile applies provider status snapshots to the local
// invoice cache. The refresh queue and the webhook handlers both funnel
// through this one routine, so the two channels cannot diverge on how a
// snapshot is interpreted.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/styryl1/invoicecore/internal/domain"
	"github.com/styryl1/invoicecore/internal/events"
	"github.com/styryl1/invoicecore/internal/repository"
	"github.com/styryl1/invoicecore/internal/telemetry"
)

// Store is the slice of the repository reconciliation needs.
type Store interface {
	repository.InvoiceStore
	repository.AuditStore
}

// Reconciler diffs snapshots against cached invoice state and writes
// only observed changes. Applying the same or an older snapshot twice is
// a no-op, which is what makes racing channels safe without locks.
type Reconciler struct {
	store     Store
	publisher events.Publisher
	metrics   *telemetry.Metrics
	logger    *slog.Logger
}

func New(store Store, publisher events.Publisher, metrics *telemetry.Metrics, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:     store,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
	}
}

// Apply reconciles one snapshot into the invoice row. Returns whether
// anything was written. Exactly one audit row is appended per observed
// status transition; a no-op poll appends nothing.
func (r *Reconciler) Apply(ctx context.Context, inv domain.Invoice, snap domain.StatusSnapshot) (bool, error) {
	newStatus := snap.Status

	// A locked invoice never moves back to draft, whatever the provider
	// reports. The raw mirror still updates below so operators can see
	// the discrepancy.
	if newStatus == domain.InvoiceStatusDraft && inv.Locked() {
		newStatus = inv.Status
	}

	changed := newStatus != inv.Status ||
		snap.ProviderStatus != inv.ProviderStatus ||
		(snap.ProviderNumber != "" && snap.ProviderNumber != inv.ProviderNumber) ||
		(snap.PDFURL != "" && snap.PDFURL != inv.PDFURL) ||
		(snap.UBLURL != "" && snap.UBLURL != inv.UBLURL) ||
		(snap.PaymentURL != "" && snap.PaymentURL != inv.PaymentURL)
	if !changed {
		return false, nil
	}

	if err := r.store.ApplySync(ctx, inv.ID, repository.SyncUpdate{
		Status:         newStatus,
		ProviderStatus: snap.ProviderStatus,
		ProviderNumber: snap.ProviderNumber,
		PDFURL:         snap.PDFURL,
		UBLURL:         snap.UBLURL,
		PaymentURL:     snap.PaymentURL,
	}); err != nil {
		return false, err
	}

	if newStatus == inv.Status {
		return true, nil
	}

	if err := r.store.AppendAudit(ctx, repository.AuditRecord{
		InvoiceID:  inv.ID,
		TenantID:   inv.TenantID,
		Provider:   inv.Provider,
		FromStatus: inv.Status,
		ToStatus:   newStatus,
		Note:       "provider status sync",
	}); err != nil {
		return false, err
	}

	if r.metrics != nil {
		r.metrics.StatusTransitions.WithLabelValues(inv.Provider.String(), inv.Status.String(), newStatus.String()).Inc()
	}

	// Publishing is best-effort. The row and audit record are already
	// durable; a broker hiccup must not fail the sync.
	if err := r.publisher.PublishStatusChanged(ctx, events.StatusChanged{
		InvoiceID:  inv.ID,
		TenantID:   inv.TenantID,
		Provider:   inv.Provider,
		FromStatus: inv.Status,
		ToStatus:   newStatus,
		ObservedAt: time.Now(),
	}); err != nil {
		r.logger.Warn("failed to publish status transition",
			slog.String("invoice_id", inv.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	r.logger.Info("invoice status transition",
		slog.String("invoice_id", inv.ID.String()),
		slog.String("provider", inv.Provider.String()),
		slog.String("from", inv.Status.String()),
		slog.String("to", newStatus.String()),
	)
	return true, nil
}
