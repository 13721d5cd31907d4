package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/styryl1/invoicecore/internal/domain"
	"github.com/styryl1/invoicecore/internal/events"
	"github.com/styryl1/invoicecore/internal/provider"
	"github.com/styryl1/invoicecore/internal/reconcile"
	"github.com/styryl1/invoicecore/internal/repository"
)

const (
	moneybirdSecret = "mb_secret"
	wefactSecret    = "wf_secret"
)

type mockAdapter struct {
	snap      domain.StatusSnapshot
	fetchErr  error
	fetches   int
	fetchedID string
}

func (m *mockAdapter) CreateDraft(ctx context.Context, input domain.DraftInput) (domain.DraftResult, error) {
	return domain.DraftResult{}, errors.New("not used")
}

func (m *mockAdapter) FinalizeAndSend(ctx context.Context, externalID string) (domain.StatusSnapshot, error) {
	return domain.StatusSnapshot{}, errors.New("not used")
}

func (m *mockAdapter) FetchSnapshot(ctx context.Context, externalID string) (domain.StatusSnapshot, error) {
	m.fetches++
	m.fetchedID = externalID
	if m.fetchErr != nil {
		return domain.StatusSnapshot{}, m.fetchErr
	}
	return m.snap, nil
}

func (m *mockAdapter) Capabilities() provider.Capabilities { return provider.Capabilities{} }

type mockRegistry struct {
	adapter provider.Adapter
}

func (r *mockRegistry) Adapter(ctx context.Context, tenantID uuid.UUID, p domain.Provider) (provider.Adapter, error) {
	return r.adapter, nil
}

func (r *mockRegistry) InvalidateCache(tenantID uuid.UUID, p domain.Provider) {}
func (r *mockRegistry) InvalidateAllCache()                                   {}

func newTestHandler(store *repository.MemoryStore, adapter provider.Adapter) *Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := reconcile.New(store, events.NoopPublisher{}, nil, logger)
	return NewHandler(store, &mockRegistry{adapter: adapter}, rec, nil, logger, Config{
		MoneybirdSecret: moneybirdSecret,
		WeFactSecret:    wefactSecret,
	})
}

func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func post(t *testing.T, handler func(echo.Context) error, path, header string, payload []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if signature != "" {
		req.Header.Set(header, signature)
	}
	rr := httptest.NewRecorder()
	require.NoError(t, handler(e.NewContext(req, rr)))
	return rr
}

func seedInvoice(t *testing.T, store *repository.MemoryStore, p domain.Provider, externalID string) domain.Invoice {
	t.Helper()
	inv, err := store.CreateInvoice(context.Background(), domain.Invoice{
		TenantID:       uuid.New(),
		Provider:       p,
		ExternalID:     externalID,
		Status:         domain.InvoiceStatusSent,
		ProviderStatus: "open",
	})
	require.NoError(t, err)
	return inv
}

// seedWeFactInvoice keeps the external id (WeFact's Identifier) and the
// provider number (the invoice code) distinct, the way the adapter
// stores them.
func seedWeFactInvoice(t *testing.T, store *repository.MemoryStore, externalID, providerNumber string) domain.Invoice {
	t.Helper()
	inv, err := store.CreateInvoice(context.Background(), domain.Invoice{
		TenantID:       uuid.New(),
		Provider:       domain.ProviderWeFact,
		ExternalID:     externalID,
		ProviderNumber: providerNumber,
		Status:         domain.InvoiceStatusSent,
		ProviderStatus: "open",
	})
	require.NoError(t, err)
	return inv
}

func TestMoneybirdRejectsBadSignature(t *testing.T) {
	store := repository.NewMemoryStore()
	adapter := &mockAdapter{}
	h := newTestHandler(store, adapter)

	payload := []byte(`{"id": "evt-1", "action": "sales_invoice_state_changed", "entity_id": "mb-1"}`)

	rr := post(t, h.HandleMoneybird, "/webhooks/moneybird", "X-Moneybird-Signature", payload, "deadbeef")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = post(t, h.HandleMoneybird, "/webhooks/moneybird", "X-Moneybird-Signature", payload, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "missing signature is rejected")

	assert.Equal(t, 0, adapter.fetches, "rejected deliveries never reach the provider")
}

func TestMoneybirdAppliesStatusChange(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	adapter := &mockAdapter{snap: domain.StatusSnapshot{
		Status:         domain.InvoiceStatusPaid,
		ProviderStatus: "paid",
	}}
	h := newTestHandler(store, adapter)

	inv := seedInvoice(t, store, domain.ProviderMoneybird, "mb-1")

	payload := []byte(`{"id": "evt-1", "action": "sales_invoice_state_changed", "entity_id": "mb-1"}`)
	rr := post(t, h.HandleMoneybird, "/webhooks/moneybird", "X-Moneybird-Signature", payload, sign(payload, moneybirdSecret))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"received": true}`, rr.Body.String())

	got, err := store.GetInvoice(ctx, inv.TenantID, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusPaid, got.Status)
	assert.Equal(t, 1, adapter.fetches)
}

func TestMoneybirdDuplicateDeliveryIsNoOp(t *testing.T) {
	store := repository.NewMemoryStore()
	adapter := &mockAdapter{snap: domain.StatusSnapshot{
		Status:         domain.InvoiceStatusPaid,
		ProviderStatus: "paid",
	}}
	h := newTestHandler(store, adapter)

	seedInvoice(t, store, domain.ProviderMoneybird, "mb-1")

	payload := []byte(`{"id": "evt-1", "action": "sales_invoice_state_changed", "entity_id": "mb-1"}`)
	signature := sign(payload, moneybirdSecret)

	rr := post(t, h.HandleMoneybird, "/webhooks/moneybird", "X-Moneybird-Signature", payload, signature)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = post(t, h.HandleMoneybird, "/webhooks/moneybird", "X-Moneybird-Signature", payload, signature)
	assert.Equal(t, http.StatusOK, rr.Code, "redelivery is acknowledged")

	assert.Equal(t, 1, adapter.fetches, "redelivery causes no second provider call")
}

func TestMoneybirdUnknownInvoiceIsRecorded(t *testing.T) {
	store := repository.NewMemoryStore()
	adapter := &mockAdapter{}
	h := newTestHandler(store, adapter)

	payload := []byte(`{"id": "evt-9", "action": "sales_invoice_state_changed", "entity_id": "mb-unknown"}`)
	rr := post(t, h.HandleMoneybird, "/webhooks/moneybird", "X-Moneybird-Signature", payload, sign(payload, moneybirdSecret))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 0, adapter.fetches, "no invoice, no provider call")

	// The recorded delivery still dedups a redelivery.
	inserted, err := store.InsertWebhookEvent(context.Background(), repository.WebhookEvent{
		Provider: domain.ProviderMoneybird,
		EventID:  "evt-9",
	})
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestMoneybirdFetchFailureStillAcknowledges(t *testing.T) {
	store := repository.NewMemoryStore()
	adapter := &mockAdapter{fetchErr: errors.New("http 503")}
	h := newTestHandler(store, adapter)

	seedInvoice(t, store, domain.ProviderMoneybird, "mb-1")

	payload := []byte(`{"id": "evt-1", "action": "sales_invoice_state_changed", "entity_id": "mb-1"}`)
	rr := post(t, h.HandleMoneybird, "/webhooks/moneybird", "X-Moneybird-Signature", payload, sign(payload, moneybirdSecret))

	assert.Equal(t, http.StatusOK, rr.Code, "authenticated deliveries always get a 200")
}

func TestMoneybirdRejectsMalformedPayload(t *testing.T) {
	store := repository.NewMemoryStore()
	h := newTestHandler(store, &mockAdapter{})

	payload := []byte(`{"invalid json`)
	rr := post(t, h.HandleMoneybird, "/webhooks/moneybird", "X-Moneybird-Signature", payload, sign(payload, moneybirdSecret))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	payload = []byte(`{"action": "sales_invoice_state_changed"}`)
	rr = post(t, h.HandleMoneybird, "/webhooks/moneybird", "X-Moneybird-Signature", payload, sign(payload, moneybirdSecret))
	assert.Equal(t, http.StatusBadRequest, rr.Code, "missing ids are rejected")
}

func TestWeFactStatusChangeAppliedOnce(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	adapter := &mockAdapter{snap: domain.StatusSnapshot{
		Status:         domain.InvoiceStatusPaid,
		ProviderStatus: "betaald",
	}}
	h := newTestHandler(store, adapter)

	inv := seedWeFactInvoice(t, store, "8231", "F0001")

	payload := []byte(`{"controller": "invoice", "action": "status", "InvoiceCode": "F0001", "Status": "paid"}`)
	signature := sign(payload, wefactSecret)

	rr := post(t, h.HandleWeFact, "/webhooks/wefact", "X-WeFact-Signature", payload, signature)
	assert.Equal(t, http.StatusOK, rr.Code)

	// Same invoice, same status: the derived event id collides and the
	// redelivery is dropped.
	rr = post(t, h.HandleWeFact, "/webhooks/wefact", "X-WeFact-Signature", payload, signature)
	assert.Equal(t, http.StatusOK, rr.Code)

	assert.Equal(t, 1, adapter.fetches, "one side effect for two identical notifications")

	got, err := store.GetInvoice(ctx, inv.TenantID, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusPaid, got.Status)

	audits, err := store.ListAuditForInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Len(t, audits, 1)
}

func TestWeFactDistinctStatusesAreDistinctEvents(t *testing.T) {
	store := repository.NewMemoryStore()
	adapter := &mockAdapter{snap: domain.StatusSnapshot{
		Status:         domain.InvoiceStatusViewed,
		ProviderStatus: "bekeken",
	}}
	h := newTestHandler(store, adapter)

	seedWeFactInvoice(t, store, "8231", "F0001")

	viewed := []byte(`{"controller": "invoice", "action": "status", "InvoiceCode": "F0001", "Status": "viewed"}`)
	paid := []byte(`{"controller": "invoice", "action": "status", "InvoiceCode": "F0001", "Status": "paid"}`)

	rr := post(t, h.HandleWeFact, "/webhooks/wefact", "X-WeFact-Signature", viewed, sign(viewed, wefactSecret))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = post(t, h.HandleWeFact, "/webhooks/wefact", "X-WeFact-Signature", paid, sign(paid, wefactSecret))
	assert.Equal(t, http.StatusOK, rr.Code)

	assert.Equal(t, 2, adapter.fetches, "a new status is a new event")
}

func TestWeFactResolvesInvoiceByProviderNumber(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	adapter := &mockAdapter{snap: domain.StatusSnapshot{
		Status:         domain.InvoiceStatusPaid,
		ProviderStatus: "betaald",
	}}
	h := newTestHandler(store, adapter)

	// The notification names the invoice by its code; the identifier we
	// track as external id never matches it.
	inv := seedWeFactInvoice(t, store, "8231", "F0001")

	payload := []byte(`{"controller": "invoice", "action": "status", "InvoiceCode": "F0001", "Status": "paid"}`)
	rr := post(t, h.HandleWeFact, "/webhooks/wefact", "X-WeFact-Signature", payload, sign(payload, wefactSecret))
	assert.Equal(t, http.StatusOK, rr.Code)

	got, err := store.GetInvoice(ctx, inv.TenantID, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusPaid, got.Status)

	require.Equal(t, 1, adapter.fetches)
	assert.Equal(t, "8231", adapter.fetchedID, "snapshot is fetched by the stored identifier, not the code")
}

func TestWeFactRejectsBadSignature(t *testing.T) {
	store := repository.NewMemoryStore()
	adapter := &mockAdapter{}
	h := newTestHandler(store, adapter)

	payload := []byte(`{"controller": "invoice", "action": "status", "InvoiceCode": "F0001", "Status": "paid"}`)
	rr := post(t, h.HandleWeFact, "/webhooks/wefact", "X-WeFact-Signature", payload, sign(payload, "wrong_secret"))

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, 0, adapter.fetches)
}
