// Package credential owns the per-tenant provider credential lifecycle:
// connect, reconnect, token refresh bookkeeping and disconnect.
package credential

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/styryl1/invoicecore/internal/domain"
	"github.com/styryl1/invoicecore/internal/repository"
)

// ConnectInput is what a tenant supplies when linking a provider.
// OAuth2 providers carry the full token pair; API-key providers only
// AccessToken; the session-token and stub providers need nothing beyond
// the administration linkage.
type ConnectInput struct {
	AccessToken      string
	RefreshToken     string
	ExpiresAt        time.Time
	Scopes           []string
	AdministrationID string
}

// Service manages ProviderCredential rows. It is the only writer of the
// credential table apart from the OAuth2 refresh path, which reports new
// tokens through UpdateTokens.
type Service struct {
	store  repository.CredentialStore
	logger *slog.Logger
}

func NewService(store repository.CredentialStore, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Connect stores or replaces the tenant's credential for a provider.
// Idempotent: reconnecting overwrites the secret, keeping row identity.
func (s *Service) Connect(ctx context.Context, tenantID uuid.UUID, p domain.Provider, input ConnectInput) (repository.Credential, error) {
	if !p.Valid() {
		return repository.Credential{}, domain.Invalid("credential.connect", "unknown provider: "+string(p))
	}
	if p == domain.ProviderMoneybird || p == domain.ProviderWeFact {
		if input.AccessToken == "" {
			return repository.Credential{}, domain.Invalid("credential.connect", "access token is required")
		}
	}

	cred, err := s.store.UpsertCredential(ctx, repository.Credential{
		TenantID:         tenantID,
		Provider:         p,
		AccessToken:      input.AccessToken,
		RefreshToken:     input.RefreshToken,
		ExpiresAt:        input.ExpiresAt,
		Scopes:           input.Scopes,
		AdministrationID: input.AdministrationID,
	})
	if err != nil {
		return repository.Credential{}, err
	}

	s.logger.Info("provider connected",
		slog.String("tenant_id", tenantID.String()),
		slog.String("provider", p.String()),
	)
	return cred, nil
}

// Disconnect removes the tenant's credential. Idempotent.
func (s *Service) Disconnect(ctx context.Context, tenantID uuid.UUID, p domain.Provider) error {
	if !p.Valid() {
		return domain.Invalid("credential.disconnect", "unknown provider: "+string(p))
	}
	if err := s.store.DeleteCredential(ctx, tenantID, p); err != nil {
		return err
	}

	s.logger.Info("provider disconnected",
		slog.String("tenant_id", tenantID.String()),
		slog.String("provider", p.String()),
	)
	return nil
}

// Has is a cheap existence check for health displays.
func (s *Service) Has(ctx context.Context, tenantID uuid.UUID, p domain.Provider) (bool, error) {
	return s.store.HasCredential(ctx, tenantID, p)
}

// Get loads the tenant's credential for adapter construction.
func (s *Service) Get(ctx context.Context, tenantID uuid.UUID, p domain.Provider) (repository.Credential, error) {
	return s.store.GetCredential(ctx, tenantID, p)
}

// UpdateTokens persists a refreshed OAuth2 token pair reported by an
// adapter.
func (s *Service) UpdateTokens(ctx context.Context, tenantID uuid.UUID, p domain.Provider, accessToken, refreshToken string, expiresAt time.Time) error {
	return s.store.UpdateCredentialTokens(ctx, tenantID, p, accessToken, refreshToken, expiresAt)
}
