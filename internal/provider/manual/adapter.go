// Package manual implements the stub adapter used where no external
// provider is wired. It satisfies the full adapter contract with
// deterministic synthetic identifiers and fixed statuses, so callers
// cannot tell "not integrated" apart from "integrated but quiet" except
// through the availability flag.
package manual

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/styryl1/invoicecore/internal/domain"
	"github.com/styryl1/invoicecore/internal/provider"
)

// Adapter is the no-op stub provider.
type Adapter struct {
	tenantID uuid.UUID
}

var _ provider.Adapter = (*Adapter)(nil)

func NewAdapter(tenantID uuid.UUID) *Adapter {
	return &Adapter{tenantID: tenantID}
}

func (a *Adapter) Capabilities() provider.Capabilities {
	return provider.Capabilities{PaymentURL: false, UBL: true}
}

// CreateDraft mints a deterministic external id from the tenant and the
// draft contents, so a retried create converges on the same identifier.
func (a *Adapter) CreateDraft(ctx context.Context, input domain.DraftInput) (domain.DraftResult, error) {
	seed := fmt.Sprintf("%s|%s|%s|%d", a.tenantID, input.CustomerName, input.Currency, input.TotalCents)
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed))
	return domain.DraftResult{ExternalID: "manual-" + id.String()}, nil
}

// FinalizeAndSend reports sent immediately; there is no remote side.
func (a *Adapter) FinalizeAndSend(ctx context.Context, externalID string) (domain.StatusSnapshot, error) {
	return domain.StatusSnapshot{
		Status:         domain.InvoiceStatusSent,
		ProviderStatus: "sent",
		UBLURL:         a.ublURL(externalID),
	}, nil
}

// FetchSnapshot always reports the sent state.
func (a *Adapter) FetchSnapshot(ctx context.Context, externalID string) (domain.StatusSnapshot, error) {
	return domain.StatusSnapshot{
		Status:         domain.InvoiceStatusSent,
		ProviderStatus: "sent",
		UBLURL:         a.ublURL(externalID),
	}, nil
}

func (a *Adapter) ublURL(externalID string) string {
	return fmt.Sprintf("/documents/invoices/%s/%s.xml", a.tenantID, externalID)
}
