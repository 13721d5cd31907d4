// Package bootstrap wires configuration into runnable components: the
// per-provider adapter builders and the enable-flag map the registry and
// the service boundary consume.
package bootstrap

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/styryl1/invoicecore/internal"
	"github.com/styryl1/invoicecore/internal/credential"
	"github.com/styryl1/invoicecore/internal/domain"
	"github.com/styryl1/invoicecore/internal/provider"
	"github.com/styryl1/invoicecore/internal/provider/eboekhouden"
	"github.com/styryl1/invoicecore/internal/provider/manual"
	"github.com/styryl1/invoicecore/internal/provider/moneybird"
	"github.com/styryl1/invoicecore/internal/provider/wefact"
	"github.com/styryl1/invoicecore/internal/storage"
)

// EnabledProviders translates the config flags into the map the registry
// and the health endpoint share.
func EnabledProviders(cfg *internal.Config) map[domain.Provider]bool {
	return map[domain.Provider]bool{
		domain.ProviderMoneybird:   cfg.Providers.Moneybird.Enabled,
		domain.ProviderWeFact:      cfg.Providers.WeFact.Enabled,
		domain.ProviderEBoekhouden: cfg.Providers.EBoekhouden.Enabled,
		domain.ProviderManual:      cfg.Providers.Manual.Enabled,
	}
}

// ProviderBuilders constructs the adapter builder per provider. Builders
// run on registry cache miss; each loads the tenant's credential and
// assembles an authenticated adapter. A tenant without a credential row
// surfaces as not connected.
//
// The e-boekhouden HTTP client is deployment-scoped (one credential pair
// for the whole installation) and therefore shared across builders; the
// other clients are per tenant.
func ProviderBuilders(cfg *internal.Config, creds *credential.Service, blobs storage.Storage, logger *slog.Logger) map[domain.Provider]provider.Builder {
	builders := make(map[domain.Provider]provider.Builder)

	if cfg.Providers.Moneybird.Enabled {
		mb := cfg.Providers.Moneybird
		builders[domain.ProviderMoneybird] = func(ctx context.Context, tenantID uuid.UUID) (provider.Adapter, error) {
			cred, err := creds.Get(ctx, tenantID, domain.ProviderMoneybird)
			if err != nil {
				if domain.IsCode(err, domain.ENOTFOUND) {
					return nil, domain.NotConnected("moneybird.build", domain.ProviderMoneybird)
				}
				return nil, err
			}
			client := moneybird.NewClient(moneybird.ClientConfig{
				BaseURL:      mb.BaseURL,
				ClientID:     mb.ClientID,
				ClientSecret: mb.ClientSecret,
				TenantID:     tenantID,
				AccessToken:  cred.AccessToken,
				RefreshToken: cred.RefreshToken,
				ExpiresAt:    cred.ExpiresAt,
			}, creds)
			return moneybird.NewAdapter(client, cred.AdministrationID, logger), nil
		}
	}

	if cfg.Providers.WeFact.Enabled {
		wf := cfg.Providers.WeFact
		builders[domain.ProviderWeFact] = func(ctx context.Context, tenantID uuid.UUID) (provider.Adapter, error) {
			cred, err := creds.Get(ctx, tenantID, domain.ProviderWeFact)
			if err != nil {
				if domain.IsCode(err, domain.ENOTFOUND) {
					return nil, domain.NotConnected("wefact.build", domain.ProviderWeFact)
				}
				return nil, err
			}
			client := wefact.NewClient(wf.BaseURL, cred.AccessToken)
			return wefact.NewAdapter(client, tenantID, blobs, logger), nil
		}
	}

	if cfg.Providers.EBoekhouden.Enabled {
		eb := cfg.Providers.EBoekhouden
		shared := eboekhouden.NewClient(eb.BaseURL, eboekhouden.Credentials{
			Username:      eb.Username,
			SecurityCode1: eb.SecurityCode1,
			SecurityCode2: eb.SecurityCode2,
		})
		builders[domain.ProviderEBoekhouden] = func(ctx context.Context, tenantID uuid.UUID) (provider.Adapter, error) {
			cred, err := creds.Get(ctx, tenantID, domain.ProviderEBoekhouden)
			if err != nil {
				if domain.IsCode(err, domain.ENOTFOUND) {
					return nil, domain.NotConnected("eboekhouden.build", domain.ProviderEBoekhouden)
				}
				return nil, err
			}
			return eboekhouden.NewAdapter(shared, tenantID, cred.AdministrationID, blobs, logger), nil
		}
	}

	if cfg.Providers.Manual.Enabled {
		builders[domain.ProviderManual] = func(ctx context.Context, tenantID uuid.UUID) (provider.Adapter, error) {
			return manual.NewAdapter(tenantID), nil
		}
	}

	return builders
}
