package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/styryl1/invoicecore/internal/domain"
	"github.com/styryl1/invoicecore/internal/repository"
)

const invoiceColumns = `
	id, tenant_id, provider, external_id, status, provider_status,
	provider_number, pdf_url, ubl_url, payment_url,
	customer_name, customer_email, customer_postal_code,
	total_cents, currency, notes, issued_at, is_legacy,
	created_at, updated_at`

func (s *Store) CreateInvoice(ctx context.Context, inv domain.Invoice) (domain.Invoice, error) {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	if inv.Status == "" {
		inv.Status = domain.InvoiceStatusDraft
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO invoices (
			id, tenant_id, provider, external_id, status, provider_status,
			provider_number, pdf_url, ubl_url, payment_url,
			customer_name, customer_email, customer_postal_code,
			total_cents, currency, notes, issued_at, is_legacy
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING`+invoiceColumns,
		inv.ID, inv.TenantID, string(inv.Provider), inv.ExternalID, string(inv.Status),
		inv.ProviderStatus, inv.ProviderNumber, inv.PDFURL, inv.UBLURL, inv.PaymentURL,
		inv.CustomerName, inv.CustomerEmail, inv.CustomerPostalCode,
		inv.TotalCents, inv.Currency, inv.Notes, inv.IssuedAt, inv.IsLegacy,
	)

	created, err := scanInvoice(row)
	if err != nil {
		return domain.Invoice{}, domain.Internal(err, "invoice.create", "failed to create invoice")
	}
	return created, nil
}

func (s *Store) GetInvoice(ctx context.Context, tenantID, invoiceID uuid.UUID) (domain.Invoice, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT`+invoiceColumns+`
		FROM invoices
		WHERE id = $1 AND tenant_id = $2`,
		invoiceID, tenantID,
	)

	inv, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Invoice{}, domain.NotFound("invoice.get", "invoice", invoiceID.String())
		}
		return domain.Invoice{}, domain.Internal(err, "invoice.get", "failed to get invoice")
	}
	return inv, nil
}

func (s *Store) GetInvoiceByExternalID(ctx context.Context, provider domain.Provider, externalID string) (domain.Invoice, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT`+invoiceColumns+`
		FROM invoices
		WHERE provider = $1 AND external_id = $2`,
		string(provider), externalID,
	)

	inv, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Invoice{}, domain.NotFound("invoice.get_external", "invoice", externalID)
		}
		return domain.Invoice{}, domain.Internal(err, "invoice.get_external", "failed to get invoice by external id")
	}
	return inv, nil
}

func (s *Store) GetInvoiceByProviderNumber(ctx context.Context, provider domain.Provider, providerNumber string) (domain.Invoice, error) {
	if providerNumber == "" {
		return domain.Invoice{}, domain.NotFound("invoice.get_number", "invoice", providerNumber)
	}

	row := s.pool.QueryRow(ctx, `
		SELECT`+invoiceColumns+`
		FROM invoices
		WHERE provider = $1 AND provider_number = $2`,
		string(provider), providerNumber,
	)

	inv, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Invoice{}, domain.NotFound("invoice.get_number", "invoice", providerNumber)
		}
		return domain.Invoice{}, domain.Internal(err, "invoice.get_number", "failed to get invoice by provider number")
	}
	return inv, nil
}

func (s *Store) LinkProvider(ctx context.Context, invoiceID uuid.UUID, provider domain.Provider, externalID string) error {
	// The WHERE clause re-checks the lock at the database so a concurrent
	// send cannot slip a link past a stale read.
	tag, err := s.pool.Exec(ctx, `
		UPDATE invoices
		SET provider = $2, external_id = $3, updated_at = now()
		WHERE id = $1
		  AND issued_at IS NULL
		  AND is_legacy = false
		  AND status = 'draft'`,
		invoiceID, string(provider), externalID,
	)
	if err != nil {
		return domain.Internal(err, "invoice.link", "failed to link provider")
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM invoices WHERE id = $1)`, invoiceID).Scan(&exists); err != nil {
			return domain.Internal(err, "invoice.link", "failed to link provider")
		}
		if !exists {
			return domain.NotFound("invoice.link", "invoice", invoiceID.String())
		}
		return domain.Locked("invoice.link")
	}
	return nil
}

func (s *Store) ApplySync(ctx context.Context, invoiceID uuid.UUID, upd repository.SyncUpdate) error {
	// issued_at is write-once: COALESCE keeps the first value forever.
	tag, err := s.pool.Exec(ctx, `
		UPDATE invoices
		SET status          = $2,
		    provider_status = $3,
		    provider_number = CASE WHEN $4 <> '' THEN $4 ELSE provider_number END,
		    pdf_url         = CASE WHEN $5 <> '' THEN $5 ELSE pdf_url END,
		    ubl_url         = CASE WHEN $6 <> '' THEN $6 ELSE ubl_url END,
		    payment_url     = CASE WHEN $7 <> '' THEN $7 ELSE payment_url END,
		    issued_at       = COALESCE(issued_at, $8),
		    updated_at      = now()
		WHERE id = $1`,
		invoiceID, string(upd.Status), upd.ProviderStatus, upd.ProviderNumber,
		upd.PDFURL, upd.UBLURL, upd.PaymentURL, upd.IssuedAt,
	)
	if err != nil {
		return domain.Internal(err, "invoice.sync", "failed to apply status sync")
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("invoice.sync", "invoice", invoiceID.String())
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (domain.Invoice, error) {
	var (
		inv      domain.Invoice
		provider string
		status   string
	)
	err := row.Scan(
		&inv.ID, &inv.TenantID, &provider, &inv.ExternalID, &status, &inv.ProviderStatus,
		&inv.ProviderNumber, &inv.PDFURL, &inv.UBLURL, &inv.PaymentURL,
		&inv.CustomerName, &inv.CustomerEmail, &inv.CustomerPostalCode,
		&inv.TotalCents, &inv.Currency, &inv.Notes, &inv.IssuedAt, &inv.IsLegacy,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return domain.Invoice{}, err
	}
	inv.Provider = domain.Provider(provider)
	inv.Status = domain.InvoiceStatus(status)
	return inv, nil
}
