package reconcile

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/styryl1/invoicecore/internal/domain"
	"github.com/styryl1/invoicecore/internal/events"
	"github.com/styryl1/invoicecore/internal/repository"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []events.StatusChanged
}

func (p *capturePublisher) PublishStatusChanged(ctx context.Context, ev events.StatusChanged) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *capturePublisher) Close() {}

func newTestReconciler(store *repository.MemoryStore) (*Reconciler, *capturePublisher) {
	pub := &capturePublisher{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, pub, nil, logger), pub
}

func seedInvoice(t *testing.T, store *repository.MemoryStore, status domain.InvoiceStatus, providerStatus string) domain.Invoice {
	t.Helper()
	inv, err := store.CreateInvoice(context.Background(), domain.Invoice{
		TenantID:       uuid.New(),
		Provider:       domain.ProviderWeFact,
		ExternalID:     "wf-1",
		Status:         status,
		ProviderStatus: providerStatus,
	})
	require.NoError(t, err)
	return inv
}

func TestApplyTransitionWritesOneAuditRow(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	rec, pub := newTestReconciler(store)

	inv := seedInvoice(t, store, domain.InvoiceStatusSent, "verzonden")

	snap := domain.StatusSnapshot{
		Status:         domain.InvoiceStatusPaid,
		ProviderStatus: "betaald",
		ProviderNumber: "2026-0042",
	}

	changed, err := rec.Apply(ctx, inv, snap)
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := store.GetInvoice(ctx, inv.TenantID, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusPaid, got.Status)
	assert.Equal(t, "betaald", got.ProviderStatus)
	assert.Equal(t, "2026-0042", got.ProviderNumber)

	audits, err := store.ListAuditForInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.Equal(t, domain.InvoiceStatusSent, audits[0].FromStatus)
	assert.Equal(t, domain.InvoiceStatusPaid, audits[0].ToStatus)

	require.Len(t, pub.events, 1)
	assert.Equal(t, domain.InvoiceStatusPaid, pub.events[0].ToStatus)
}

func TestApplyIdenticalSnapshotIsNoOp(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	rec, pub := newTestReconciler(store)

	inv := seedInvoice(t, store, domain.InvoiceStatusSent, "verzonden")
	snap := domain.StatusSnapshot{Status: domain.InvoiceStatusPaid, ProviderStatus: "betaald"}

	changed, err := rec.Apply(ctx, inv, snap)
	require.NoError(t, err)
	require.True(t, changed)

	// Second identical poll against the updated row changes nothing.
	updated, err := store.GetInvoice(ctx, inv.TenantID, inv.ID)
	require.NoError(t, err)

	changed, err = rec.Apply(ctx, updated, snap)
	require.NoError(t, err)
	assert.False(t, changed)

	audits, err := store.ListAuditForInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Len(t, audits, 1, "no audit row on a no-op poll")
	assert.Len(t, pub.events, 1)
}

func TestApplyNeverMovesLockedInvoiceToDraft(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	rec, _ := newTestReconciler(store)

	inv := seedInvoice(t, store, domain.InvoiceStatusSent, "open")

	changed, err := rec.Apply(ctx, inv, domain.StatusSnapshot{
		Status:         domain.InvoiceStatusDraft,
		ProviderStatus: "draft",
	})
	require.NoError(t, err)
	assert.True(t, changed, "raw mirror still updates")

	got, err := store.GetInvoice(ctx, inv.TenantID, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusSent, got.Status, "canonical status holds")
	assert.Equal(t, "draft", got.ProviderStatus)

	audits, err := store.ListAuditForInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Empty(t, audits, "no transition, no audit row")
}

func TestApplyURLOnlyChangeSkipsAudit(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	rec, pub := newTestReconciler(store)

	inv := seedInvoice(t, store, domain.InvoiceStatusSent, "verzonden")

	changed, err := rec.Apply(ctx, inv, domain.StatusSnapshot{
		Status:         domain.InvoiceStatusSent,
		ProviderStatus: "verzonden",
		PDFURL:         "https://cdn.example/invoice.pdf",
	})
	require.NoError(t, err)
	assert.True(t, changed)

	audits, err := store.ListAuditForInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Empty(t, audits)
	assert.Empty(t, pub.events)
}
