// Package provider defines the adapter contract every invoice provider
// implements, plus the registry that hands out per-tenant adapter
// instances. Core code dispatches through this interface only; no
// provider-specific branching leaks past this package.
package provider

import (
	"context"

	"github.com/google/uuid"

	"github.com/styryl1/invoicecore/internal/domain"
)

// Capabilities declares which optional artifacts a provider can deliver.
// Callers must check these before surfacing payment links or UBL
// downloads; an unsupported artifact is simply absent, never an error.
type Capabilities struct {
	PaymentURL bool
	UBL        bool
}

// Adapter is the uniform surface over one invoice provider for one
// tenant. Implementations own their dialect: auth scheme, payload shape,
// status vocabulary and document delivery all stay behind this interface.
type Adapter interface {
	// CreateDraft creates an editable draft remotely and returns the
	// provider-minted external id. Nothing is numbered or delivered yet.
	CreateDraft(ctx context.Context, input domain.DraftInput) (domain.DraftResult, error)

	// FinalizeAndSend irreversibly finalizes the draft: the provider
	// assigns the legal invoice number and delivers the invoice. The
	// returned snapshot reflects the post-send state.
	FinalizeAndSend(ctx context.Context, externalID string) (domain.StatusSnapshot, error)

	// FetchSnapshot reads the provider's current view of the invoice
	// without mutating anything.
	FetchSnapshot(ctx context.Context, externalID string) (domain.StatusSnapshot, error)

	// Capabilities reports which optional artifacts this provider delivers.
	Capabilities() Capabilities
}

// Builder constructs an adapter bound to one tenant's credentials.
// Builders run on registry cache misses.
type Builder func(ctx context.Context, tenantID uuid.UUID) (Adapter, error)
