package domain

import (
	"time"

	"github.com/google/uuid"
)

// Invoice is the locally cached copy of a provider-owned invoice. After
// send, the assigned provider owns numbering, delivery and status; this
// row only mirrors what the provider reports.
type Invoice struct {
	ID       uuid.UUID
	TenantID uuid.UUID

	// Provider is empty until a draft has been created remotely.
	Provider Provider

	// ExternalID is the opaque identifier minted by the provider.
	ExternalID string

	Status InvoiceStatus

	// ProviderStatus mirrors the provider's raw status string as last seen,
	// so reconciliation can short-circuit on unchanged polls.
	ProviderStatus string

	// ProviderNumber is the legal invoice number assigned by the provider
	// on finalize. This core never mints numbers itself.
	ProviderNumber string

	PDFURL     string
	UBLURL     string
	PaymentURL string

	// Draft-authoring fields, frozen by the post-send lock.
	CustomerName       string
	CustomerEmail      string
	CustomerPostalCode string
	TotalCents         int64
	Currency           string
	Notes              string

	// IssuedAt is set when the invoice is finalized and sent. Non-nil
	// means locked.
	IssuedAt *time.Time

	// IsLegacy marks invoices that predate this subsystem. They are always
	// locked to this core.
	IsLegacy bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Locked reports whether any mutation outside status sync must be rejected.
func (inv *Invoice) Locked() bool {
	return inv.IssuedAt != nil || inv.Status.Locked() || inv.IsLegacy
}

// DraftLine is a single invoice line in integer minor-currency units.
type DraftLine struct {
	Description    string `validate:"required"`
	Quantity       int32  `validate:"gt=0"`
	UnitPriceCents int64  `validate:"gte=0"`

	// VATRate is a percentage from the fixed set {0, 9, 21}.
	VATRate int32 `validate:"oneof=0 9 21"`
}

// DraftInput is the tenant-agnostic draft handed to a provider adapter.
// Totals are computed upstream; adapters only convert representation.
type DraftInput struct {
	CustomerName       string `validate:"required"`
	CustomerEmail      string `validate:"omitempty,email"`
	CustomerPostalCode string
	Lines              []DraftLine `validate:"required,min=1,dive"`
	Currency           string      `validate:"required,len=3"`
	TotalCents         int64       `validate:"gte=0"`
	IssueDate          *time.Time
	Notes              string
}

// DraftResult is what a provider discloses after draft creation.
type DraftResult struct {
	ExternalID string
}

// StatusSnapshot is the provider's current view of an invoice, returned by
// both finalize-and-send and read-only status pulls. Optional fields are
// empty when the provider does not (yet) disclose them; callers must check
// the adapter's capability flags before relying on PaymentURL or UBLURL.
type StatusSnapshot struct {
	Status         InvoiceStatus
	ProviderStatus string
	ProviderNumber string
	PDFURL         string
	UBLURL         string
	PaymentURL     string
}
