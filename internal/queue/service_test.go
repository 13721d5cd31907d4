package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/styryl1/invoicecore/internal/domain"
	"github.com/styryl1/invoicecore/internal/events"
	"github.com/styryl1/invoicecore/internal/provider"
	"github.com/styryl1/invoicecore/internal/reconcile"
	"github.com/styryl1/invoicecore/internal/repository"
)

// mockAdapter returns a fixed snapshot or error from FetchSnapshot.
type mockAdapter struct {
	snap     domain.StatusSnapshot
	fetchErr error
	fetches  int
}

func (m *mockAdapter) CreateDraft(ctx context.Context, input domain.DraftInput) (domain.DraftResult, error) {
	return domain.DraftResult{}, errors.New("not used")
}

func (m *mockAdapter) FinalizeAndSend(ctx context.Context, externalID string) (domain.StatusSnapshot, error) {
	return domain.StatusSnapshot{}, errors.New("not used")
}

func (m *mockAdapter) FetchSnapshot(ctx context.Context, externalID string) (domain.StatusSnapshot, error) {
	m.fetches++
	if m.fetchErr != nil {
		return domain.StatusSnapshot{}, m.fetchErr
	}
	return m.snap, nil
}

func (m *mockAdapter) Capabilities() provider.Capabilities { return provider.Capabilities{} }

// mockRegistry hands out one adapter for every lookup.
type mockRegistry struct {
	adapter provider.Adapter
	err     error
}

func (r *mockRegistry) Adapter(ctx context.Context, tenantID uuid.UUID, p domain.Provider) (provider.Adapter, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.adapter, nil
}

func (r *mockRegistry) InvalidateCache(tenantID uuid.UUID, p domain.Provider) {}
func (r *mockRegistry) InvalidateAllCache()                                   {}

func newTestService(store *repository.MemoryStore, adapter provider.Adapter) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := reconcile.New(store, events.NoopPublisher{}, nil, logger)
	return NewService(store, &mockRegistry{adapter: adapter}, rec, nil, logger, Config{
		Lease:       time.Minute,
		MaxAttempts: 7,
		BackoffBase: 30 * time.Second,
	})
}

func seedSentInvoice(t *testing.T, store *repository.MemoryStore, p domain.Provider) domain.Invoice {
	t.Helper()
	inv, err := store.CreateInvoice(context.Background(), domain.Invoice{
		TenantID:       uuid.New(),
		Provider:       p,
		ExternalID:     "ext-1",
		Status:         domain.InvoiceStatusSent,
		ProviderStatus: "sent",
	})
	require.NoError(t, err)
	return inv
}

func TestEnqueueIdempotent(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	svc := newTestService(store, &mockAdapter{})

	inv := seedSentInvoice(t, store, domain.ProviderWeFact)

	require.NoError(t, svc.Enqueue(ctx, inv))
	first, err := store.GetRefreshJob(ctx, inv.ID)
	require.NoError(t, err)

	require.NoError(t, svc.Enqueue(ctx, inv))
	second, err := store.GetRefreshJob(ctx, inv.ID)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "exactly one live job per invoice")
}

func TestRunDueReschedulesByProvider(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		provider domain.Provider
		min, max time.Duration
	}{
		{domain.ProviderMoneybird, 23 * time.Hour, 25 * time.Hour},
		{domain.ProviderWeFact, 4 * time.Minute, 6 * time.Minute},
		{domain.ProviderEBoekhouden, 4 * time.Minute, 6 * time.Minute},
	}

	for _, tc := range cases {
		store := repository.NewMemoryStore()
		adapter := &mockAdapter{snap: domain.StatusSnapshot{
			Status:         domain.InvoiceStatusViewed,
			ProviderStatus: "viewed",
		}}
		svc := newTestService(store, adapter)

		inv := seedSentInvoice(t, store, tc.provider)
		require.NoError(t, svc.Enqueue(ctx, inv))

		n, err := svc.RunDue(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		job, err := store.GetRefreshJob(ctx, inv.ID)
		require.NoError(t, err)
		until := time.Until(job.RunAfter)
		assert.Greater(t, until, tc.min, "provider %s", tc.provider)
		assert.Less(t, until, tc.max, "provider %s", tc.provider)
		assert.Equal(t, int32(0), job.Attempts)
	}
}

func TestRunDueRemovesJobOnTerminalStatus(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	adapter := &mockAdapter{snap: domain.StatusSnapshot{
		Status:         domain.InvoiceStatusPaid,
		ProviderStatus: "paid",
	}}
	svc := newTestService(store, adapter)

	inv := seedSentInvoice(t, store, domain.ProviderWeFact)
	require.NoError(t, svc.Enqueue(ctx, inv))

	_, err := svc.RunDue(ctx, 10)
	require.NoError(t, err)

	_, err = store.GetRefreshJob(ctx, inv.ID)
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err), "terminal status retires the job")

	got, err := store.GetInvoice(ctx, inv.TenantID, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusPaid, got.Status)
}

func TestRunDueFailureBacksOff(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	adapter := &mockAdapter{fetchErr: errors.New("connection reset")}
	svc := newTestService(store, adapter)

	inv := seedSentInvoice(t, store, domain.ProviderWeFact)
	require.NoError(t, svc.Enqueue(ctx, inv))

	_, err := svc.RunDue(ctx, 10)
	require.NoError(t, err, "per-job failures never abort the batch")

	job, err := store.GetRefreshJob(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(1), job.Attempts)
	assert.Equal(t, "connection reset", job.LastError)
	assert.True(t, job.RunAfter.After(time.Now()), "backoff pushes run_after into the future")
}

func TestRunDueDeadLettersAtMaxAttempts(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	adapter := &mockAdapter{fetchErr: errors.New("http 500")}
	svc := newTestService(store, adapter)

	inv := seedSentInvoice(t, store, domain.ProviderMoneybird)
	require.NoError(t, svc.Enqueue(ctx, inv))

	// Simulate a job that has already burned six of its seven attempts.
	job, err := store.GetRefreshJob(ctx, inv.ID)
	require.NoError(t, err)
	require.NoError(t, store.FailRefreshJob(ctx, job.ID, 6, time.Now().Add(-time.Second), "http 500"))

	_, err = svc.RunDue(ctx, 10)
	require.NoError(t, err)

	_, err = store.GetRefreshJob(ctx, inv.ID)
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err), "queue row is gone")

	letters, err := store.ListDeadLetters(ctx, inv.TenantID, 10)
	require.NoError(t, err)
	require.Len(t, letters, 1, "dead-lettered exactly once")
	assert.Equal(t, inv.ID, letters[0].InvoiceID)
	assert.Equal(t, int32(7), letters[0].Attempts)
	assert.Equal(t, "http 500", letters[0].LastError)
}

func TestRunDueSkipsAlreadyTerminalInvoice(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	adapter := &mockAdapter{snap: domain.StatusSnapshot{Status: domain.InvoiceStatusPaid}}
	svc := newTestService(store, adapter)

	inv, err := store.CreateInvoice(ctx, domain.Invoice{
		TenantID:   uuid.New(),
		Provider:   domain.ProviderWeFact,
		ExternalID: "ext-9",
		Status:     domain.InvoiceStatusPaid,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Enqueue(ctx, inv))

	_, err = svc.RunDue(ctx, 10)
	require.NoError(t, err)

	assert.Equal(t, 0, adapter.fetches, "terminal invoices are retired without a provider call")
	_, err = store.GetRefreshJob(ctx, inv.ID)
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}

func TestReenqueueDeadLetter(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	svc := newTestService(store, &mockAdapter{})

	inv := seedSentInvoice(t, store, domain.ProviderWeFact)

	require.NoError(t, svc.ReenqueueDeadLetter(ctx, inv.TenantID, inv.ID))

	job, err := store.GetRefreshJob(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(0), job.Attempts, "operator re-enqueue starts a fresh budget")
}
