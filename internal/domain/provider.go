package domain

// Provider identifies an external invoicing/bookkeeping service.
// The set is closed: adding a provider means adding an adapter
// implementation, so unknown values are a configuration error, not data.
type Provider string

const (
	// ProviderMoneybird is the OAuth2-based Moneybird integration.
	ProviderMoneybird Provider = "moneybird"

	// ProviderWeFact is the API-key-based WeFact integration.
	ProviderWeFact Provider = "wefact"

	// ProviderEBoekhouden is the session-token-based e-Boekhouden integration.
	ProviderEBoekhouden Provider = "eboekhouden"

	// ProviderManual is the stub used when no real integration is wired.
	ProviderManual Provider = "manual"
)

// Providers lists every known provider in a stable order.
var Providers = []Provider{
	ProviderMoneybird,
	ProviderWeFact,
	ProviderEBoekhouden,
	ProviderManual,
}

// Valid reports whether p is one of the known providers.
func (p Provider) Valid() bool {
	switch p {
	case ProviderMoneybird, ProviderWeFact, ProviderEBoekhouden, ProviderManual:
		return true
	}
	return false
}

func (p Provider) String() string { return string(p) }
