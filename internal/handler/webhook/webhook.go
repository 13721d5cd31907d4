// Package webhook ingests push notifications from invoicing providers.
//
// Handlers verify the request signature, record the delivery before
// acting on it (the unique (provider, event_id) index is the dedup
// gate), and then refresh the invoice through the shared reconciler.
// Authenticated deliveries always get a 200 so providers do not retry
// events that will fail again; only signature failures are rejected.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/styryl1/invoicecore/internal/domain"
	"github.com/styryl1/invoicecore/internal/provider"
	"github.com/styryl1/invoicecore/internal/reconcile"
	"github.com/styryl1/invoicecore/internal/repository"
	"github.com/styryl1/invoicecore/internal/telemetry"
)

// Store is the repository slice webhook ingestion needs.
type Store interface {
	repository.InvoiceStore
	repository.WebhookEventStore
}

// Config carries the per-provider webhook signing secrets.
type Config struct {
	MoneybirdSecret string
	WeFactSecret    string
}

// Handler serves the provider webhook endpoints.
type Handler struct {
	store      Store
	registry   provider.Registry
	reconciler *reconcile.Reconciler
	metrics    *telemetry.Metrics
	logger     *slog.Logger
	cfg        Config
}

func NewHandler(store Store, registry provider.Registry, reconciler *reconcile.Reconciler, metrics *telemetry.Metrics, logger *slog.Logger, cfg Config) *Handler {
	return &Handler{
		store:      store,
		registry:   registry,
		reconciler: reconciler,
		metrics:    metrics,
		logger:     logger,
		cfg:        cfg,
	}
}

// verifySignature checks a hex-encoded HMAC-SHA256 digest of the raw
// request body against the shared secret.
func verifySignature(payload []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ingest is the shared pipeline behind every provider endpoint.
//
// The event row is inserted before any side effect: a redelivery hits
// the unique index, comes back as a duplicate and is dropped without
// touching the invoice. An event for an invoice we do not track is
// recorded and acknowledged without any mutation.
//
// entityID is whatever the provider calls the invoice in its payload.
// Moneybird sends the external id; WeFact sends the invoice code, which
// we store as the provider number.
func (h *Handler) ingest(ctx context.Context, p domain.Provider, eventID, eventType, entityID string) {
	start := time.Now()
	if h.metrics != nil {
		h.metrics.WebhookReceived.WithLabelValues(p.String()).Inc()
		defer func() {
			h.metrics.WebhookLatency.WithLabelValues(p.String()).Observe(time.Since(start).Seconds())
		}()
	}

	inserted, err := h.store.InsertWebhookEvent(ctx, repository.WebhookEvent{
		Provider:   p,
		EventID:    eventID,
		EntityType: "invoice",
		EntityID:   entityID,
		EventType:  eventType,
	})
	if err != nil {
		h.fail(p, "event_insert", eventID, err)
		return
	}
	if !inserted {
		if h.metrics != nil {
			h.metrics.WebhookDuplicate.WithLabelValues(p.String()).Inc()
		}
		h.logger.Debug("duplicate webhook delivery dropped",
			slog.String("provider", p.String()),
			slog.String("event_id", eventID),
		)
		return
	}

	var inv domain.Invoice
	switch p {
	case domain.ProviderWeFact:
		inv, err = h.store.GetInvoiceByProviderNumber(ctx, p, entityID)
	default:
		inv, err = h.store.GetInvoiceByExternalID(ctx, p, entityID)
	}
	if err != nil {
		if domain.IsCode(err, domain.ENOTFOUND) {
			h.logger.Info("webhook for unknown invoice recorded",
				slog.String("provider", p.String()),
				slog.String("entity_id", entityID),
			)
			return
		}
		h.fail(p, "invoice_lookup", eventID, err)
		return
	}

	adapter, err := h.registry.Adapter(ctx, inv.TenantID, p)
	if err != nil {
		h.fail(p, "adapter", eventID, err)
		return
	}

	// The payload is only a poke. The provider is fetched for the
	// authoritative state so a reordered or stale delivery cannot
	// write an old status.
	snap, err := adapter.FetchSnapshot(ctx, inv.ExternalID)
	if err != nil {
		h.fail(p, "fetch_snapshot", eventID, err)
		return
	}

	if _, err := h.reconciler.Apply(ctx, inv, snap); err != nil {
		h.fail(p, "reconcile", eventID, err)
		return
	}

	if h.metrics != nil {
		h.metrics.WebhookProcessed.WithLabelValues(p.String(), eventType).Inc()
	}
}

func (h *Handler) fail(p domain.Provider, reason, eventID string, err error) {
	if h.metrics != nil {
		h.metrics.WebhookFailed.WithLabelValues(p.String(), reason).Inc()
	}
	h.logger.Error("webhook processing failed",
		slog.String("provider", p.String()),
		slog.String("event_id", eventID),
		slog.String("reason", reason),
		slog.String("error", err.Error()),
	)
}
