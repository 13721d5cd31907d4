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

const credentialColumns = `
	id, tenant_id, provider, access_token, refresh_token, expires_at,
	scopes, administration_id, created_at, updated_at`

func (s *Store) UpsertCredential(ctx context.Context, cred repository.Credential) (repository.Credential, error) {
	if cred.ID == uuid.Nil {
		cred.ID = uuid.New()
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO invoice_provider_credentials (
			id, tenant_id, provider, access_token, refresh_token, expires_at,
			scopes, administration_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id, provider) DO UPDATE SET
			access_token      = EXCLUDED.access_token,
			refresh_token     = EXCLUDED.refresh_token,
			expires_at        = EXCLUDED.expires_at,
			scopes            = EXCLUDED.scopes,
			administration_id = EXCLUDED.administration_id,
			updated_at        = now()
		RETURNING`+credentialColumns,
		cred.ID, cred.TenantID, string(cred.Provider), cred.AccessToken, cred.RefreshToken,
		cred.ExpiresAt, cred.Scopes, cred.AdministrationID,
	)

	saved, err := scanCredential(row)
	if err != nil {
		return repository.Credential{}, domain.Internal(err, "credential.upsert", "failed to save credential")
	}
	return saved, nil
}

func (s *Store) GetCredential(ctx context.Context, tenantID uuid.UUID, provider domain.Provider) (repository.Credential, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT`+credentialColumns+`
		FROM invoice_provider_credentials
		WHERE tenant_id = $1 AND provider = $2`,
		tenantID, string(provider),
	)

	cred, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.Credential{}, domain.NotFound("credential.get", "credential", string(provider))
		}
		return repository.Credential{}, domain.Internal(err, "credential.get", "failed to get credential")
	}
	return cred, nil
}

func (s *Store) HasCredential(ctx context.Context, tenantID uuid.UUID, provider domain.Provider) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM invoice_provider_credentials
			WHERE tenant_id = $1 AND provider = $2
		)`,
		tenantID, string(provider),
	).Scan(&exists)
	if err != nil {
		return false, domain.Internal(err, "credential.has", "failed to check credential")
	}
	return exists, nil
}

func (s *Store) UpdateCredentialTokens(ctx context.Context, tenantID uuid.UUID, provider domain.Provider, accessToken, refreshToken string, expiresAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE invoice_provider_credentials
		SET access_token = $3, refresh_token = $4, expires_at = $5, updated_at = now()
		WHERE tenant_id = $1 AND provider = $2`,
		tenantID, string(provider), accessToken, refreshToken, expiresAt,
	)
	if err != nil {
		return domain.Internal(err, "credential.update_tokens", "failed to update tokens")
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("credential.update_tokens", "credential", string(provider))
	}
	return nil
}

func (s *Store) DeleteCredential(ctx context.Context, tenantID uuid.UUID, provider domain.Provider) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM invoice_provider_credentials
		WHERE tenant_id = $1 AND provider = $2`,
		tenantID, string(provider),
	)
	if err != nil {
		return domain.Internal(err, "credential.delete", "failed to delete credential")
	}
	return nil
}

func scanCredential(row rowScanner) (repository.Credential, error) {
	var (
		cred     repository.Credential
		provider string
	)
	err := row.Scan(
		&cred.ID, &cred.TenantID, &provider, &cred.AccessToken, &cred.RefreshToken,
		&cred.ExpiresAt, &cred.Scopes, &cred.AdministrationID, &cred.CreatedAt, &cred.UpdatedAt,
	)
	if err != nil {
		return repository.Credential{}, err
	}
	cred.Provider = domain.Provider(provider)
	return cred, nil
}
