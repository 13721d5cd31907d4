// Package repository defines the persistence boundary of the invoicing
// core. The relational store behind it is opaque: row CRUD plus one atomic
// claim operation. Implementations: postgres (pgx) and an in-memory store
// used by tests.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/styryl1/invoicecore/internal/domain"
)

// Credential is one row per (tenant, provider): the tenant's secrets for
// that provider. Refresh token and expiry are empty for API-key providers.
type Credential struct {
	ID               uuid.UUID
	TenantID         uuid.UUID
	Provider         domain.Provider
	AccessToken      string
	RefreshToken     string
	ExpiresAt        time.Time
	Scopes           []string
	AdministrationID string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// RefreshJob is one row per invoice under active polling. InvoiceID is
// unique: re-enqueueing an invoice updates the existing row.
type RefreshJob struct {
	ID          uuid.UUID
	InvoiceID   uuid.UUID
	TenantID    uuid.UUID
	Provider    domain.Provider
	ExternalID  string
	Attempts    int32
	MaxAttempts int32
	RunAfter    time.Time

	// ClaimedUntil is the claim lease. A job is due when RunAfter <= now
	// and the lease is absent or expired.
	ClaimedUntil *time.Time

	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DeadLetter is an append-only copy of a job that exhausted its retry
// budget. Never mutated; re-enqueue goes through the normal upsert.
type DeadLetter struct {
	ID             uuid.UUID
	InvoiceID      uuid.UUID
	TenantID       uuid.UUID
	Provider       domain.Provider
	ExternalID     string
	Attempts       int32
	LastError      string
	DeadLetteredAt time.Time
}

// WebhookEvent is the dedup ledger row, unique on (provider, event id).
type WebhookEvent struct {
	ID          uuid.UUID
	Provider    domain.Provider
	EventID     string
	EntityType  string
	EntityID    string
	EventType   string
	ProcessedAt time.Time
}

// AuditRecord captures one observed status transition. Appended only when
// reconciliation sees a real change, never on a no-op poll.
type AuditRecord struct {
	ID         uuid.UUID
	InvoiceID  uuid.UUID
	TenantID   uuid.UUID
	Provider   domain.Provider
	FromStatus domain.InvoiceStatus
	ToStatus   domain.InvoiceStatus
	Note       string
	CreatedAt  time.Time
}

// SyncUpdate is the only write shape allowed against a locked invoice:
// the status-sync fields owned by reconciliation.
type SyncUpdate struct {
	Status         domain.InvoiceStatus
	ProviderStatus string
	ProviderNumber string
	PDFURL         string
	UBLURL         string
	PaymentURL     string

	// IssuedAt is set exactly once, by finalize-and-send.
	IssuedAt *time.Time
}

// UpsertRefreshJobParams enqueues or refreshes the polling job for an
// invoice. On conflict the existing row keeps its attempt count and pulls
// RunAfter forward.
type UpsertRefreshJobParams struct {
	InvoiceID   uuid.UUID
	TenantID    uuid.UUID
	Provider    domain.Provider
	ExternalID  string
	RunAfter    time.Time
	MaxAttempts int32
}

// InvoiceStore is row CRUD for the invoices table, restricted to what this
// core owns: draft creation, provider linkage and status sync.
type InvoiceStore interface {
	CreateInvoice(ctx context.Context, inv domain.Invoice) (domain.Invoice, error)
	GetInvoice(ctx context.Context, tenantID, invoiceID uuid.UUID) (domain.Invoice, error)
	GetInvoiceByExternalID(ctx context.Context, provider domain.Provider, externalID string) (domain.Invoice, error)

	// GetInvoiceByProviderNumber resolves an invoice by the number the
	// provider assigned at finalize. WeFact notifications carry only this
	// number, never the internal identifier stored as the external id.
	GetInvoiceByProviderNumber(ctx context.Context, provider domain.Provider, providerNumber string) (domain.Invoice, error)

	// LinkProvider records the provider and its freshly minted external id
	// after draft creation. Fails on a locked invoice.
	LinkProvider(ctx context.Context, invoiceID uuid.UUID, provider domain.Provider, externalID string) error

	// ApplySync writes status-sync fields. The sole mutation permitted
	// after the post-send lock engages.
	ApplySync(ctx context.Context, invoiceID uuid.UUID, upd SyncUpdate) error
}

// CredentialStore is per-tenant, per-provider secret storage.
type CredentialStore interface {
	// UpsertCredential is the idempotent connect/reconnect write, keyed on
	// (tenant, provider).
	UpsertCredential(ctx context.Context, cred Credential) (Credential, error)
	GetCredential(ctx context.Context, tenantID uuid.UUID, provider domain.Provider) (Credential, error)
	HasCredential(ctx context.Context, tenantID uuid.UUID, provider domain.Provider) (bool, error)

	// UpdateCredentialTokens persists a refreshed token pair. Called by
	// adapters after an OAuth2 refresh; the only credential write adapters
	// may trigger.
	UpdateCredentialTokens(ctx context.Context, tenantID uuid.UUID, provider domain.Provider, accessToken, refreshToken string, expiresAt time.Time) error
	DeleteCredential(ctx context.Context, tenantID uuid.UUID, provider domain.Provider) error
}

// QueueStore is the durable refresh queue plus its dead-letter table.
// ClaimDueJobs is the one operation that must be transactionally atomic at
// the datastore level; every other write is a race-tolerant upsert/update.
type QueueStore interface {
	UpsertRefreshJob(ctx context.Context, params UpsertRefreshJobParams) (RefreshJob, error)
	GetRefreshJob(ctx context.Context, invoiceID uuid.UUID) (RefreshJob, error)

	// ClaimDueJobs atomically selects up to limit due jobs and leases them
	// until now+lease. Concurrent callers never receive the same job.
	ClaimDueJobs(ctx context.Context, limit int32, lease time.Duration) ([]RefreshJob, error)

	// RescheduleRefreshJob releases the claim after a successful poll,
	// resetting the attempt count and setting the next run.
	RescheduleRefreshJob(ctx context.Context, jobID uuid.UUID, runAfter time.Time) error

	// FailRefreshJob releases the claim after a failed poll, recording the
	// attempt count, backoff schedule and error text.
	FailRefreshJob(ctx context.Context, jobID uuid.UUID, attempts int32, runAfter time.Time, lastError string) error

	DeleteRefreshJob(ctx context.Context, invoiceID uuid.UUID) error

	CreateDeadLetter(ctx context.Context, dl DeadLetter) error
	ListDeadLetters(ctx context.Context, tenantID uuid.UUID, limit int32) ([]DeadLetter, error)
}

// WebhookEventStore is the insert-only dedup ledger.
type WebhookEventStore interface {
	// InsertWebhookEvent records the event. Returns false when the
	// (provider, event id) pair already exists; that is the dedup signal,
	// not an error.
	InsertWebhookEvent(ctx context.Context, ev WebhookEvent) (bool, error)
}

// AuditStore appends and reads the invoice audit trail.
type AuditStore interface {
	AppendAudit(ctx context.Context, rec AuditRecord) error
	ListAuditForInvoice(ctx context.Context, invoiceID uuid.UUID) ([]AuditRecord, error)
}

// Store is the full persistence boundary consumed by the services.
type Store interface {
	InvoiceStore
	CredentialStore
	QueueStore
	WebhookEventStore
	AuditStore
}
