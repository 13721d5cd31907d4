package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/styryl1/invoicecore/internal/domain"
)

// MemoryStore is an in-memory Store used by tests and local runs without a
// database. All methods are safe for concurrent use; the claim operation
// holds the store lock for its full duration, giving the same exclusivity
// the postgres implementation gets from SKIP LOCKED.
type MemoryStore struct {
	mu sync.Mutex

	invoices map[uuid.UUID]domain.Invoice
	byExtID  map[extKey]uuid.UUID
	creds    map[credKey]Credential
	jobs     map[uuid.UUID]RefreshJob // keyed by invoice id
	dead     []DeadLetter
	events   map[eventKey]WebhookEvent
	audits   []AuditRecord
}

type extKey struct {
	provider   domain.Provider
	externalID string
}

type credKey struct {
	tenantID uuid.UUID
	provider domain.Provider
}

type eventKey struct {
	provider domain.Provider
	eventID  string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		invoices: make(map[uuid.UUID]domain.Invoice),
		byExtID:  make(map[extKey]uuid.UUID),
		creds:    make(map[credKey]Credential),
		jobs:     make(map[uuid.UUID]RefreshJob),
		events:   make(map[eventKey]WebhookEvent),
	}
}

var _ Store = (*MemoryStore)(nil)

// =============================================================================
// Invoices
// =============================================================================

func (s *MemoryStore) CreateInvoice(ctx context.Context, inv domain.Invoice) (domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	now := time.Now()
	inv.CreatedAt = now
	inv.UpdatedAt = now
	s.invoices[inv.ID] = inv
	if inv.Provider != "" && inv.ExternalID != "" {
		s.byExtID[extKey{inv.Provider, inv.ExternalID}] = inv.ID
	}
	return inv, nil
}

func (s *MemoryStore) GetInvoice(ctx context.Context, tenantID, invoiceID uuid.UUID) (domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[invoiceID]
	if !ok || inv.TenantID != tenantID {
		return domain.Invoice{}, domain.NotFound("invoice.get", "invoice", invoiceID.String())
	}
	return inv, nil
}

func (s *MemoryStore) GetInvoiceByExternalID(ctx context.Context, provider domain.Provider, externalID string) (domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byExtID[extKey{provider, externalID}]
	if !ok {
		return domain.Invoice{}, domain.NotFound("invoice.get_external", "invoice", externalID)
	}
	return s.invoices[id], nil
}

func (s *MemoryStore) GetInvoiceByProviderNumber(ctx context.Context, provider domain.Provider, providerNumber string) (domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if providerNumber != "" {
		for _, inv := range s.invoices {
			if inv.Provider == provider && inv.ProviderNumber == providerNumber {
				return inv, nil
			}
		}
	}
	return domain.Invoice{}, domain.NotFound("invoice.get_number", "invoice", providerNumber)
}

func (s *MemoryStore) LinkProvider(ctx context.Context, invoiceID uuid.UUID, provider domain.Provider, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[invoiceID]
	if !ok {
		return domain.NotFound("invoice.link", "invoice", invoiceID.String())
	}
	if inv.Locked() {
		return domain.Locked("invoice.link")
	}
	inv.Provider = provider
	inv.ExternalID = externalID
	inv.UpdatedAt = time.Now()
	s.invoices[invoiceID] = inv
	s.byExtID[extKey{provider, externalID}] = invoiceID
	return nil
}

func (s *MemoryStore) ApplySync(ctx context.Context, invoiceID uuid.UUID, upd SyncUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[invoiceID]
	if !ok {
		return domain.NotFound("invoice.sync", "invoice", invoiceID.String())
	}

	inv.Status = upd.Status
	inv.ProviderStatus = upd.ProviderStatus
	if upd.ProviderNumber != "" {
		inv.ProviderNumber = upd.ProviderNumber
	}
	if upd.PDFURL != "" {
		inv.PDFURL = upd.PDFURL
	}
	if upd.UBLURL != "" {
		inv.UBLURL = upd.UBLURL
	}
	if upd.PaymentURL != "" {
		inv.PaymentURL = upd.PaymentURL
	}
	if inv.IssuedAt == nil && upd.IssuedAt != nil {
		t := *upd.IssuedAt
		inv.IssuedAt = &t
	}
	inv.UpdatedAt = time.Now()
	s.invoices[invoiceID] = inv
	return nil
}

// =============================================================================
// Credentials
// =============================================================================

func (s *MemoryStore) UpsertCredential(ctx context.Context, cred Credential) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := credKey{cred.TenantID, cred.Provider}
	now := time.Now()
	if existing, ok := s.creds[key]; ok {
		cred.ID = existing.ID
		cred.CreatedAt = existing.CreatedAt
	} else {
		cred.ID = uuid.New()
		cred.CreatedAt = now
	}
	cred.UpdatedAt = now
	s.creds[key] = cred
	return cred, nil
}

func (s *MemoryStore) GetCredential(ctx context.Context, tenantID uuid.UUID, provider domain.Provider) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.creds[credKey{tenantID, provider}]
	if !ok {
		return Credential{}, domain.NotFound("credential.get", "credential", string(provider))
	}
	return cred, nil
}

func (s *MemoryStore) HasCredential(ctx context.Context, tenantID uuid.UUID, provider domain.Provider) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.creds[credKey{tenantID, provider}]
	return ok, nil
}

func (s *MemoryStore) UpdateCredentialTokens(ctx context.Context, tenantID uuid.UUID, provider domain.Provider, accessToken, refreshToken string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := credKey{tenantID, provider}
	cred, ok := s.creds[key]
	if !ok {
		return domain.NotFound("credential.update", "credential", string(provider))
	}
	cred.AccessToken = accessToken
	cred.RefreshToken = refreshToken
	cred.ExpiresAt = expiresAt
	cred.UpdatedAt = time.Now()
	s.creds[key] = cred
	return nil
}

func (s *MemoryStore) DeleteCredential(ctx context.Context, tenantID uuid.UUID, provider domain.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.creds, credKey{tenantID, provider})
	return nil
}

// =============================================================================
// Refresh queue
// =============================================================================

func (s *MemoryStore) UpsertRefreshJob(ctx context.Context, params UpsertRefreshJobParams) (RefreshJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if job, ok := s.jobs[params.InvoiceID]; ok {
		// Idempotent re-enqueue: pull the schedule forward, keep attempts.
		job.RunAfter = params.RunAfter
		job.ExternalID = params.ExternalID
		job.UpdatedAt = now
		s.jobs[params.InvoiceID] = job
		return job, nil
	}

	job := RefreshJob{
		ID:          uuid.New(),
		InvoiceID:   params.InvoiceID,
		TenantID:    params.TenantID,
		Provider:    params.Provider,
		ExternalID:  params.ExternalID,
		MaxAttempts: params.MaxAttempts,
		RunAfter:    params.RunAfter,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.jobs[params.InvoiceID] = job
	return job, nil
}

func (s *MemoryStore) GetRefreshJob(ctx context.Context, invoiceID uuid.UUID) (RefreshJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[invoiceID]
	if !ok {
		return RefreshJob{}, domain.NotFound("queue.get", "refresh job", invoiceID.String())
	}
	return job, nil
}

func (s *MemoryStore) ClaimDueJobs(ctx context.Context, limit int32, lease time.Duration) ([]RefreshJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var due []RefreshJob
	for _, job := range s.jobs {
		if job.RunAfter.After(now) {
			continue
		}
		if job.ClaimedUntil != nil && job.ClaimedUntil.After(now) {
			continue
		}
		due = append(due, job)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].RunAfter.Before(due[j].RunAfter) })
	if int32(len(due)) > limit {
		due = due[:limit]
	}

	until := now.Add(lease)
	for i := range due {
		due[i].ClaimedUntil = &until
		due[i].UpdatedAt = now
		s.jobs[due[i].InvoiceID] = due[i]
	}
	return due, nil
}

func (s *MemoryStore) RescheduleRefreshJob(ctx context.Context, jobID uuid.UUID, runAfter time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, job := range s.jobs {
		if job.ID == jobID {
			job.Attempts = 0
			job.RunAfter = runAfter
			job.ClaimedUntil = nil
			job.LastError = ""
			job.UpdatedAt = time.Now()
			s.jobs[key] = job
			return nil
		}
	}
	return domain.NotFound("queue.reschedule", "refresh job", jobID.String())
}

func (s *MemoryStore) FailRefreshJob(ctx context.Context, jobID uuid.UUID, attempts int32, runAfter time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, job := range s.jobs {
		if job.ID == jobID {
			job.Attempts = attempts
			job.RunAfter = runAfter
			job.ClaimedUntil = nil
			job.LastError = lastError
			job.UpdatedAt = time.Now()
			s.jobs[key] = job
			return nil
		}
	}
	return domain.NotFound("queue.fail", "refresh job", jobID.String())
}

func (s *MemoryStore) DeleteRefreshJob(ctx context.Context, invoiceID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.jobs, invoiceID)
	return nil
}

func (s *MemoryStore) CreateDeadLetter(ctx context.Context, dl DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dl.ID == uuid.Nil {
		dl.ID = uuid.New()
	}
	if dl.DeadLetteredAt.IsZero() {
		dl.DeadLetteredAt = time.Now()
	}
	s.dead = append(s.dead, dl)
	return nil
}

func (s *MemoryStore) ListDeadLetters(ctx context.Context, tenantID uuid.UUID, limit int32) ([]DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []DeadLetter
	for _, dl := range s.dead {
		if dl.TenantID == tenantID {
			out = append(out, dl)
		}
		if int32(len(out)) == limit {
			break
		}
	}
	return out, nil
}

// =============================================================================
// Webhook events / audit log
// =============================================================================

func (s *MemoryStore) InsertWebhookEvent(ctx context.Context, ev WebhookEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := eventKey{ev.Provider, ev.EventID}
	if _, ok := s.events[key]; ok {
		return false, nil
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.ProcessedAt.IsZero() {
		ev.ProcessedAt = time.Now()
	}
	s.events[key] = ev
	return true, nil
}

func (s *MemoryStore) AppendAudit(ctx context.Context, rec AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	s.audits = append(s.audits, rec)
	return nil
}

func (s *MemoryStore) ListAuditForInvoice(ctx context.Context, invoiceID uuid.UUID) ([]AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []AuditRecord
	for _, rec := range s.audits {
		if rec.InvoiceID == invoiceID {
			out = append(out, rec)
		}
	}
	return out, nil
}
