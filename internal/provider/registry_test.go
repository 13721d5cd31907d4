package provider

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/styryl1/invoicecore/internal/domain"
)

type stubAdapter struct{ caps Capabilities }

func (s *stubAdapter) CreateDraft(ctx context.Context, input domain.DraftInput) (domain.DraftResult, error) {
	return domain.DraftResult{ExternalID: "stub-1"}, nil
}

func (s *stubAdapter) FinalizeAndSend(ctx context.Context, externalID string) (domain.StatusSnapshot, error) {
	return domain.StatusSnapshot{Status: domain.InvoiceStatusSent}, nil
}

func (s *stubAdapter) FetchSnapshot(ctx context.Context, externalID string) (domain.StatusSnapshot, error) {
	return domain.StatusSnapshot{Status: domain.InvoiceStatusSent}, nil
}

func (s *stubAdapter) Capabilities() Capabilities { return s.caps }

func TestRegistryDisabledProvider(t *testing.T) {
	reg := NewRegistry(
		map[domain.Provider]Builder{
			domain.ProviderMoneybird: func(ctx context.Context, tenantID uuid.UUID) (Adapter, error) {
				return &stubAdapter{}, nil
			},
		},
		map[domain.Provider]bool{domain.ProviderMoneybird: false},
		time.Hour,
	)

	_, err := reg.Adapter(context.Background(), uuid.New(), domain.ProviderMoneybird)
	assert.Equal(t, domain.ENOTIMPL, domain.ErrorCode(err))
	assert.Equal(t, "provider not connected", domain.ErrorMessage(err))
}

func TestRegistryUnknownProvider(t *testing.T) {
	reg := NewRegistry(nil, nil, time.Hour)

	_, err := reg.Adapter(context.Background(), uuid.New(), domain.Provider("quickbooks"))
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func TestRegistryCachesPerTenant(t *testing.T) {
	builds := 0
	reg := NewRegistry(
		map[domain.Provider]Builder{
			domain.ProviderWeFact: func(ctx context.Context, tenantID uuid.UUID) (Adapter, error) {
				builds++
				return &stubAdapter{}, nil
			},
		},
		map[domain.Provider]bool{domain.ProviderWeFact: true},
		time.Hour,
	)

	tenantA := uuid.New()
	tenantB := uuid.New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := reg.Adapter(ctx, tenantA, domain.ProviderWeFact)
		require.NoError(t, err)
	}
	_, err := reg.Adapter(ctx, tenantB, domain.ProviderWeFact)
	require.NoError(t, err)

	assert.Equal(t, 2, builds, "one build per tenant")

	reg.InvalidateCache(tenantA, domain.ProviderWeFact)
	_, err = reg.Adapter(ctx, tenantA, domain.ProviderWeFact)
	require.NoError(t, err)
	assert.Equal(t, 3, builds, "invalidation forces a rebuild")
}

func TestHTTPErrorRetryable(t *testing.T) {
	assert.True(t, (&HTTPError{StatusCode: 500}).Retryable())
	assert.True(t, (&HTTPError{StatusCode: 429}).Retryable())
	assert.False(t, (&HTTPError{StatusCode: 401}).Retryable())
	assert.False(t, (&HTTPError{StatusCode: 422}).Retryable())
}

func TestHTTPErrorPrefersRawBody(t *testing.T) {
	err := &HTTPError{Provider: "wefact", Operation: "send", StatusCode: 422, RawBody: `{"error":"Debiteur ontbreekt"}`}
	assert.Equal(t, `{"error":"Debiteur ontbreekt"}`, err.Error())

	bare := &HTTPError{Provider: "wefact", Operation: "send", StatusCode: 503}
	assert.Equal(t, "wefact send: http 503", bare.Error())
}
