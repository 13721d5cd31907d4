package moneybird

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/styryl1/invoicecore/internal/domain"
	"github.com/styryl1/invoicecore/internal/provider"
)

// taxRateCacheTTL bounds how long the administration's tax rate catalog
// is reused before a fresh fetch.
const taxRateCacheTTL = time.Hour

// Adapter implements provider.Adapter for Moneybird.
type Adapter struct {
	client           *Client
	administrationID string
	logger           *slog.Logger

	rateMu       sync.Mutex
	rates        map[int32]string // VAT percentage -> moneybird tax rate id
	ratesFetched time.Time
	rateGroup    singleflight.Group
}

var _ provider.Adapter = (*Adapter)(nil)

func NewAdapter(client *Client, administrationID string, logger *slog.Logger) *Adapter {
	return &Adapter{
		client:           client,
		administrationID: administrationID,
		logger:           logger,
	}
}

func (a *Adapter) Capabilities() provider.Capabilities {
	return provider.Capabilities{PaymentURL: true, UBL: false}
}

type contact struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	ZipCode     string `json:"zipcode"`
	CompanyName string `json:"company_name"`
}

type invoiceDetail struct {
	Description string `json:"description"`
	Amount      string `json:"amount,omitempty"`
	Price       string `json:"price"`
	TaxRateID   string `json:"tax_rate_id,omitempty"`
}

type salesInvoice struct {
	ID         string `json:"id"`
	State      string `json:"state"`
	InvoiceID  string `json:"invoice_id"`
	PaymentURL string `json:"payment_url"`
	URL        string `json:"url"`
}

// CreateDraft resolves the contact, converts lines to decimal-string
// pricing and creates a draft sales invoice.
func (a *Adapter) CreateDraft(ctx context.Context, input domain.DraftInput) (domain.DraftResult, error) {
	contactID, err := a.resolveContact(ctx, input)
	if err != nil {
		return domain.DraftResult{}, err
	}

	details := make([]invoiceDetail, len(input.Lines))
	for i, line := range input.Lines {
		rateID, err := a.taxRateID(ctx, line.VATRate)
		if err != nil {
			return domain.DraftResult{}, err
		}
		details[i] = invoiceDetail{
			Description: line.Description,
			Amount:      fmt.Sprintf("%d", line.Quantity),
			Price:       decimal.New(line.UnitPriceCents, -2).StringFixed(2),
			TaxRateID:   rateID,
		}
	}

	payload := map[string]interface{}{
		"sales_invoice": map[string]interface{}{
			"contact_id":          contactID,
			"currency":            input.Currency,
			"details_attributes":  details,
			"discount":            "0",
			"prices_are_incl_tax": false,
		},
	}

	var created salesInvoice
	path := fmt.Sprintf("/administrations/%s/sales_invoices", a.administrationID)
	if err := a.client.do(ctx, "POST", path, payload, &created); err != nil {
		return domain.DraftResult{}, err
	}
	return domain.DraftResult{ExternalID: created.ID}, nil
}

// FinalizeAndSend triggers Moneybird's send action. Moneybird assigns
// the legal invoice number here, not at draft time.
func (a *Adapter) FinalizeAndSend(ctx context.Context, externalID string) (domain.StatusSnapshot, error) {
	payload := map[string]interface{}{
		"sales_invoice_sending": map[string]interface{}{
			"delivery_method": "Email",
		},
	}

	var sent salesInvoice
	path := fmt.Sprintf("/administrations/%s/sales_invoices/%s/send_invoice", a.administrationID, externalID)
	if err := a.client.do(ctx, "PATCH", path, payload, &sent); err != nil {
		return domain.StatusSnapshot{}, err
	}
	return a.snapshot(sent), nil
}

// FetchSnapshot reads the current sales invoice state.
func (a *Adapter) FetchSnapshot(ctx context.Context, externalID string) (domain.StatusSnapshot, error) {
	var inv salesInvoice
	path := fmt.Sprintf("/administrations/%s/sales_invoices/%s", a.administrationID, externalID)
	if err := a.client.do(ctx, "GET", path, nil, &inv); err != nil {
		return domain.StatusSnapshot{}, err
	}
	return a.snapshot(inv), nil
}

func (a *Adapter) snapshot(inv salesInvoice) domain.StatusSnapshot {
	snap := domain.StatusSnapshot{
		Status:         mapStatus(inv.State, a.logger),
		ProviderStatus: inv.State,
		ProviderNumber: inv.InvoiceID,
		PaymentURL:     inv.PaymentURL,
	}
	if inv.URL != "" {
		snap.PDFURL = inv.URL + ".pdf"
	}
	return snap
}

// resolveContact searches by email, falls back to company name plus
// postal code as tie-break, and creates the contact only on a total miss.
func (a *Adapter) resolveContact(ctx context.Context, input domain.DraftInput) (string, error) {
	if input.CustomerEmail != "" {
		if id, ok, err := a.searchContact(ctx, input.CustomerEmail, "", ""); err != nil {
			return "", err
		} else if ok {
			return id, nil
		}
	}

	if id, ok, err := a.searchContact(ctx, input.CustomerName, input.CustomerName, input.CustomerPostalCode); err != nil {
		return "", err
	} else if ok {
		return id, nil
	}

	payload := map[string]interface{}{
		"contact": map[string]interface{}{
			"company_name":           input.CustomerName,
			"send_invoices_to_email": input.CustomerEmail,
			"zipcode":                input.CustomerPostalCode,
		},
	}
	var created contact
	path := fmt.Sprintf("/administrations/%s/contacts", a.administrationID)
	if err := a.client.do(ctx, "POST", path, payload, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

func (a *Adapter) searchContact(ctx context.Context, query, matchName, matchZip string) (string, bool, error) {
	var results []contact
	path := fmt.Sprintf("/administrations/%s/contacts?query=%s", a.administrationID, url.QueryEscape(query))
	if err := a.client.do(ctx, "GET", path, nil, &results); err != nil {
		return "", false, err
	}
	if len(results) == 0 {
		return "", false, nil
	}
	if matchName == "" {
		return results[0].ID, true, nil
	}
	for _, c := range results {
		if c.CompanyName == matchName && (matchZip == "" || c.ZipCode == matchZip) {
			return c.ID, true, nil
		}
	}
	return "", false, nil
}

type taxRate struct {
	ID         string `json:"id"`
	Percentage string `json:"percentage"`
	Active     bool   `json:"active"`
}

// taxRateID maps a VAT percentage from the fixed set to Moneybird's
// tax rate identifier, fetching the catalog at most once per TTL.
func (a *Adapter) taxRateID(ctx context.Context, vatRate int32) (string, error) {
	a.rateMu.Lock()
	fresh := a.rates != nil && time.Since(a.ratesFetched) < taxRateCacheTTL
	if fresh {
		id, ok := a.rates[vatRate]
		a.rateMu.Unlock()
		if !ok {
			return "", domain.Invalid("moneybird.tax_rate", fmt.Sprintf("no tax rate for %d%%", vatRate))
		}
		return id, nil
	}
	a.rateMu.Unlock()

	_, err, _ := a.rateGroup.Do("tax_rates", func() (interface{}, error) {
		var raw []taxRate
		path := fmt.Sprintf("/administrations/%s/tax_rates?filter=tax_rate_type:sales_invoice", a.administrationID)
		if err := a.client.do(ctx, "GET", path, nil, &raw); err != nil {
			return nil, err
		}

		rates := make(map[int32]string)
		for _, r := range raw {
			if !r.Active {
				continue
			}
			pct, err := decimal.NewFromString(r.Percentage)
			if err != nil {
				continue
			}
			rates[int32(pct.IntPart())] = r.ID
		}

		a.rateMu.Lock()
		a.rates = rates
		a.ratesFetched = time.Now()
		a.rateMu.Unlock()
		return nil, nil
	})
	if err != nil {
		return "", err
	}

	a.rateMu.Lock()
	id, ok := a.rates[vatRate]
	a.rateMu.Unlock()
	if !ok {
		return "", domain.Invalid("moneybird.tax_rate", fmt.Sprintf("no tax rate for %d%%", vatRate))
	}
	return id, nil
}
