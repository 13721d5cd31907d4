package postgres

import (
	"context"

	"github.com/google/uuid"

	"github.com/styryl1/invoicecore/internal/domain"
	"github.com/styryl1/invoicecore/internal/repository"
)

func (s *Store) AppendAudit(ctx context.Context, rec repository.AuditRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO invoice_audit_log (id, invoice_id, tenant_id, provider, from_status, to_status, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.InvoiceID, rec.TenantID, string(rec.Provider),
		string(rec.FromStatus), string(rec.ToStatus), rec.Note,
	)
	if err != nil {
		return domain.Internal(err, "audit.append", "failed to append audit record")
	}
	return nil
}

func (s *Store) ListAuditForInvoice(ctx context.Context, invoiceID uuid.UUID) ([]repository.AuditRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, invoice_id, tenant_id, provider, from_status, to_status, note, created_at
		FROM invoice_audit_log
		WHERE invoice_id = $1
		ORDER BY created_at`,
		invoiceID,
	)
	if err != nil {
		return nil, domain.Internal(err, "audit.list", "failed to list audit records")
	}
	defer rows.Close()

	var out []repository.AuditRecord
	for rows.Next() {
		var (
			rec      repository.AuditRecord
			provider string
			from, to string
		)
		if err := rows.Scan(&rec.ID, &rec.InvoiceID, &rec.TenantID, &provider, &from, &to, &rec.Note, &rec.CreatedAt); err != nil {
			return nil, domain.Internal(err, "audit.list", "failed to scan audit record")
		}
		rec.Provider = domain.Provider(provider)
		rec.FromStatus = domain.InvoiceStatus(from)
		rec.ToStatus = domain.InvoiceStatus(to)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err, "audit.list", "failed to read audit records")
	}
	return out, nil
}
