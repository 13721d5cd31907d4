package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/styryl1/invoicecore/internal/domain"
	"github.com/styryl1/invoicecore/internal/repository"
)

const refreshJobColumns = `
	id, invoice_id, tenant_id, provider, external_id, attempts, max_attempts,
	run_after, claimed_until, last_error, created_at, updated_at`

func (s *Store) UpsertRefreshJob(ctx context.Context, params repository.UpsertRefreshJobParams) (repository.RefreshJob, error) {
	// Conflict on invoice_id keeps the attempt count so a re-enqueue cannot
	// reset a failing job's retry budget; it only pulls the schedule forward.
	row := s.pool.QueryRow(ctx, `
		INSERT INTO invoice_status_refresh_queue (
			id, invoice_id, tenant_id, provider, external_id, max_attempts, run_after
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (invoice_id) DO UPDATE SET
			external_id = EXCLUDED.external_id,
			run_after   = EXCLUDED.run_after,
			updated_at  = now()
		RETURNING`+refreshJobColumns,
		uuid.New(), params.InvoiceID, params.TenantID, string(params.Provider),
		params.ExternalID, params.MaxAttempts, params.RunAfter,
	)

	job, err := scanRefreshJob(row)
	if err != nil {
		return repository.RefreshJob{}, domain.Internal(err, "queue.upsert", "failed to enqueue refresh job")
	}
	return job, nil
}

func (s *Store) GetRefreshJob(ctx context.Context, invoiceID uuid.UUID) (repository.RefreshJob, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT`+refreshJobColumns+`
		FROM invoice_status_refresh_queue
		WHERE invoice_id = $1`,
		invoiceID,
	)

	job, err := scanRefreshJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.RefreshJob{}, domain.NotFound("queue.get", "refresh job", invoiceID.String())
		}
		return repository.RefreshJob{}, domain.Internal(err, "queue.get", "failed to get refresh job")
	}
	return job, nil
}

func (s *Store) ClaimDueJobs(ctx context.Context, limit int32, lease time.Duration) ([]repository.RefreshJob, error) {
	// FOR UPDATE SKIP LOCKED makes concurrent pollers partition the due set
	// instead of blocking on or double-claiming each other's rows.
	rows, err := s.pool.Query(ctx, `
		UPDATE invoice_status_refresh_queue
		SET claimed_until = now() + $2, updated_at = now()
		WHERE id IN (
			SELECT id FROM invoice_status_refresh_queue
			WHERE run_after <= now()
			  AND (claimed_until IS NULL OR claimed_until <= now())
			ORDER BY run_after
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING`+refreshJobColumns,
		limit, lease,
	)
	if err != nil {
		return nil, domain.Internal(err, "queue.claim", "failed to claim due jobs")
	}
	defer rows.Close()

	var jobs []repository.RefreshJob
	for rows.Next() {
		job, err := scanRefreshJob(rows)
		if err != nil {
			return nil, domain.Internal(err, "queue.claim", "failed to scan claimed job")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err, "queue.claim", "failed to read claimed jobs")
	}
	return jobs, nil
}

func (s *Store) RescheduleRefreshJob(ctx context.Context, jobID uuid.UUID, runAfter time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE invoice_status_refresh_queue
		SET attempts = 0, run_after = $2, claimed_until = NULL, last_error = '', updated_at = now()
		WHERE id = $1`,
		jobID, runAfter,
	)
	if err != nil {
		return domain.Internal(err, "queue.reschedule", "failed to reschedule job")
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("queue.reschedule", "refresh job", jobID.String())
	}
	return nil
}

func (s *Store) FailRefreshJob(ctx context.Context, jobID uuid.UUID, attempts int32, runAfter time.Time, lastError string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE invoice_status_refresh_queue
		SET attempts = $2, run_after = $3, claimed_until = NULL, last_error = $4, updated_at = now()
		WHERE id = $1`,
		jobID, attempts, runAfter, lastError,
	)
	if err != nil {
		return domain.Internal(err, "queue.fail", "failed to record job failure")
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("queue.fail", "refresh job", jobID.String())
	}
	return nil
}

func (s *Store) DeleteRefreshJob(ctx context.Context, invoiceID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM invoice_status_refresh_queue
		WHERE invoice_id = $1`,
		invoiceID,
	)
	if err != nil {
		return domain.Internal(err, "queue.delete", "failed to delete refresh job")
	}
	return nil
}

func (s *Store) CreateDeadLetter(ctx context.Context, dl repository.DeadLetter) error {
	if dl.ID == uuid.Nil {
		dl.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO invoice_status_refresh_dead_letters (
			id, invoice_id, tenant_id, provider, external_id, attempts, last_error
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		dl.ID, dl.InvoiceID, dl.TenantID, string(dl.Provider), dl.ExternalID,
		dl.Attempts, dl.LastError,
	)
	if err != nil {
		return domain.Internal(err, "queue.dead_letter", "failed to record dead letter")
	}
	return nil
}

func (s *Store) ListDeadLetters(ctx context.Context, tenantID uuid.UUID, limit int32) ([]repository.DeadLetter, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, invoice_id, tenant_id, provider, external_id, attempts, last_error, dead_lettered_at
		FROM invoice_status_refresh_dead_letters
		WHERE tenant_id = $1
		ORDER BY dead_lettered_at DESC
		LIMIT $2`,
		tenantID, limit,
	)
	if err != nil {
		return nil, domain.Internal(err, "queue.list_dead_letters", "failed to list dead letters")
	}
	defer rows.Close()

	var out []repository.DeadLetter
	for rows.Next() {
		var (
			dl       repository.DeadLetter
			provider string
		)
		if err := rows.Scan(&dl.ID, &dl.InvoiceID, &dl.TenantID, &provider, &dl.ExternalID, &dl.Attempts, &dl.LastError, &dl.DeadLetteredAt); err != nil {
			return nil, domain.Internal(err, "queue.list_dead_letters", "failed to scan dead letter")
		}
		dl.Provider = domain.Provider(provider)
		out = append(out, dl)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err, "queue.list_dead_letters", "failed to read dead letters")
	}
	return out, nil
}

func scanRefreshJob(row rowScanner) (repository.RefreshJob, error) {
	var (
		job      repository.RefreshJob
		provider string
	)
	err := row.Scan(
		&job.ID, &job.InvoiceID, &job.TenantID, &provider, &job.ExternalID,
		&job.Attempts, &job.MaxAttempts, &job.RunAfter, &job.ClaimedUntil,
		&job.LastError, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return repository.RefreshJob{}, err
	}
	job.Provider = domain.Provider(provider)
	return job, nil
}
