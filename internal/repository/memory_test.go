package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/styryl1/invoicecore/internal/domain"
)

func TestMemoryStoreInvoiceLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tenantID := uuid.New()

	inv, err := store.CreateInvoice(ctx, domain.Invoice{
		TenantID:     tenantID,
		Status:       domain.InvoiceStatusDraft,
		CustomerName: "Jansen Loodgieters BV",
		TotalCents:   12100,
		Currency:     "EUR",
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, inv.ID)

	require.NoError(t, store.LinkProvider(ctx, inv.ID, domain.ProviderMoneybird, "mb-4711"))

	got, err := store.GetInvoiceByExternalID(ctx, domain.ProviderMoneybird, "mb-4711")
	require.NoError(t, err)
	assert.Equal(t, inv.ID, got.ID)

	// Another tenant cannot see the invoice.
	_, err = store.GetInvoice(ctx, uuid.New(), inv.ID)
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}

func TestMemoryStoreGetInvoiceByProviderNumber(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	inv, err := store.CreateInvoice(ctx, domain.Invoice{
		TenantID:       uuid.New(),
		Provider:       domain.ProviderWeFact,
		ExternalID:     "8231",
		ProviderNumber: "F0001",
		Status:         domain.InvoiceStatusSent,
	})
	require.NoError(t, err)

	got, err := store.GetInvoiceByProviderNumber(ctx, domain.ProviderWeFact, "F0001")
	require.NoError(t, err)
	assert.Equal(t, inv.ID, got.ID)

	// The number is scoped to the provider.
	_, err = store.GetInvoiceByProviderNumber(ctx, domain.ProviderMoneybird, "F0001")
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))

	// An empty number never matches the unsent invoices that share it.
	_, err = store.GetInvoiceByProviderNumber(ctx, domain.ProviderWeFact, "")
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}

func TestMemoryStoreLinkProviderRejectsLocked(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	inv, err := store.CreateInvoice(ctx, domain.Invoice{
		TenantID: uuid.New(),
		Status:   domain.InvoiceStatusSent,
	})
	require.NoError(t, err)

	err = store.LinkProvider(ctx, inv.ID, domain.ProviderWeFact, "wf-1")
	assert.Equal(t, domain.ELOCKED, domain.ErrorCode(err))
}

func TestMemoryStoreApplySyncSetsIssuedAtOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tenantID := uuid.New()

	inv, err := store.CreateInvoice(ctx, domain.Invoice{TenantID: tenantID, Status: domain.InvoiceStatusDraft})
	require.NoError(t, err)

	first := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.ApplySync(ctx, inv.ID, SyncUpdate{
		Status:   domain.InvoiceStatusSent,
		IssuedAt: &first,
	}))

	later := first.Add(48 * time.Hour)
	require.NoError(t, store.ApplySync(ctx, inv.ID, SyncUpdate{
		Status:   domain.InvoiceStatusPaid,
		IssuedAt: &later,
	}))

	got, err := store.GetInvoice(ctx, tenantID, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusPaid, got.Status)
	require.NotNil(t, got.IssuedAt)
	assert.Equal(t, first, *got.IssuedAt)
}

func TestMemoryStoreUpsertRefreshJobIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	invoiceID := uuid.New()
	tenantID := uuid.New()

	job, err := store.UpsertRefreshJob(ctx, UpsertRefreshJobParams{
		InvoiceID:   invoiceID,
		TenantID:    tenantID,
		Provider:    domain.ProviderWeFact,
		ExternalID:  "wf-9",
		RunAfter:    time.Now().Add(time.Hour),
		MaxAttempts: 7,
	})
	require.NoError(t, err)

	// Record a few failures, then re-enqueue sooner.
	require.NoError(t, store.FailRefreshJob(ctx, job.ID, 3, time.Now().Add(2*time.Hour), "timeout"))

	soon := time.Now().Add(time.Minute)
	again, err := store.UpsertRefreshJob(ctx, UpsertRefreshJobParams{
		InvoiceID:   invoiceID,
		TenantID:    tenantID,
		Provider:    domain.ProviderWeFact,
		ExternalID:  "wf-9",
		RunAfter:    soon,
		MaxAttempts: 7,
	})
	require.NoError(t, err)

	assert.Equal(t, job.ID, again.ID, "re-enqueue must reuse the existing row")
	assert.Equal(t, int32(3), again.Attempts, "attempt count survives re-enqueue")
	assert.Equal(t, soon, again.RunAfter)
}

func TestMemoryStoreClaimDueJobsExclusive(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.UpsertRefreshJob(ctx, UpsertRefreshJobParams{
		InvoiceID:   uuid.New(),
		TenantID:    uuid.New(),
		Provider:    domain.ProviderMoneybird,
		ExternalID:  "mb-1",
		RunAfter:    time.Now().Add(-time.Minute),
		MaxAttempts: 7,
	})
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	claims := make(chan int, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			jobs, err := store.ClaimDueJobs(ctx, 10, time.Minute)
			assert.NoError(t, err)
			claims <- len(jobs)
		}()
	}
	wg.Wait()
	close(claims)

	total := 0
	for n := range claims {
		total += n
	}
	assert.Equal(t, 1, total, "exactly one worker wins the claim")
}

func TestMemoryStoreClaimSkipsFutureAndLeased(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.UpsertRefreshJob(ctx, UpsertRefreshJobParams{
		InvoiceID:   uuid.New(),
		TenantID:    uuid.New(),
		Provider:    domain.ProviderEBoekhouden,
		ExternalID:  "eb-1",
		RunAfter:    time.Now().Add(time.Hour),
		MaxAttempts: 7,
	})
	require.NoError(t, err)

	jobs, err := store.ClaimDueJobs(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, jobs, "future jobs are not due")

	due, err := store.UpsertRefreshJob(ctx, UpsertRefreshJobParams{
		InvoiceID:   uuid.New(),
		TenantID:    uuid.New(),
		Provider:    domain.ProviderEBoekhouden,
		ExternalID:  "eb-2",
		RunAfter:    time.Now().Add(-time.Second),
		MaxAttempts: 7,
	})
	require.NoError(t, err)

	jobs, err = store.ClaimDueJobs(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, due.ID, jobs[0].ID)

	// The lease blocks a second claim until released.
	jobs, err = store.ClaimDueJobs(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	require.NoError(t, store.RescheduleRefreshJob(ctx, due.ID, time.Now().Add(-time.Second)))
	jobs, err = store.ClaimDueJobs(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Len(t, jobs, 1, "released jobs become claimable again")
}

func TestMemoryStoreRescheduleResetsAttempts(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	invoiceID := uuid.New()

	job, err := store.UpsertRefreshJob(ctx, UpsertRefreshJobParams{
		InvoiceID:   invoiceID,
		TenantID:    uuid.New(),
		Provider:    domain.ProviderMoneybird,
		ExternalID:  "mb-2",
		RunAfter:    time.Now().Add(-time.Second),
		MaxAttempts: 7,
	})
	require.NoError(t, err)

	require.NoError(t, store.FailRefreshJob(ctx, job.ID, 5, time.Now().Add(time.Hour), "http 500"))
	require.NoError(t, store.RescheduleRefreshJob(ctx, job.ID, time.Now().Add(24*time.Hour)))

	got, err := store.GetRefreshJob(ctx, invoiceID)
	require.NoError(t, err)
	assert.Equal(t, int32(0), got.Attempts)
	assert.Empty(t, got.LastError)
	assert.Nil(t, got.ClaimedUntil)
}

func TestMemoryStoreWebhookEventDedup(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	ev := WebhookEvent{
		Provider:   domain.ProviderWeFact,
		EventID:    "tr_123:paid",
		EntityType: "invoice",
		EntityID:   "wf-9",
		EventType:  "paid",
	}

	inserted, err := store.InsertWebhookEvent(ctx, ev)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = store.InsertWebhookEvent(ctx, ev)
	require.NoError(t, err)
	assert.False(t, inserted, "duplicate event id must be rejected silently")

	// Same id under another provider is a distinct event.
	ev.Provider = domain.ProviderMoneybird
	inserted, err = store.InsertWebhookEvent(ctx, ev)
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestMemoryStoreCredentials(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tenantID := uuid.New()

	cred, err := store.UpsertCredential(ctx, Credential{
		TenantID:    tenantID,
		Provider:    domain.ProviderMoneybird,
		AccessToken: "tok-1",
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, cred.ID)

	// Reconnect keeps the row identity.
	again, err := store.UpsertCredential(ctx, Credential{
		TenantID:    tenantID,
		Provider:    domain.ProviderMoneybird,
		AccessToken: "tok-2",
	})
	require.NoError(t, err)
	assert.Equal(t, cred.ID, again.ID)

	expiry := time.Now().Add(time.Hour)
	require.NoError(t, store.UpdateCredentialTokens(ctx, tenantID, domain.ProviderMoneybird, "tok-3", "ref-3", expiry))

	got, err := store.GetCredential(ctx, tenantID, domain.ProviderMoneybird)
	require.NoError(t, err)
	assert.Equal(t, "tok-3", got.AccessToken)
	assert.Equal(t, "ref-3", got.RefreshToken)

	require.NoError(t, store.DeleteCredential(ctx, tenantID, domain.ProviderMoneybird))
	has, err := store.HasCredential(ctx, tenantID, domain.ProviderMoneybird)
	require.NoError(t, err)
	assert.False(t, has)
}
