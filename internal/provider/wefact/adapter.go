package wefact

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/styryl1/invoicecore/internal/domain"
	"github.com/styryl1/invoicecore/internal/provider"
	"github.com/styryl1/invoicecore/internal/storage"
)

const signedURLTTL = 15 * time.Minute

// Adapter implements provider.Adapter for WeFact.
type Adapter struct {
	client   *Client
	tenantID uuid.UUID
	blobs    storage.Storage
	logger   *slog.Logger
}

var _ provider.Adapter = (*Adapter)(nil)

func NewAdapter(client *Client, tenantID uuid.UUID, blobs storage.Storage, logger *slog.Logger) *Adapter {
	return &Adapter{
		client:   client,
		tenantID: tenantID,
		blobs:    blobs,
		logger:   logger,
	}
}

func (a *Adapter) Capabilities() provider.Capabilities {
	return provider.Capabilities{PaymentURL: false, UBL: false}
}

type debtor struct {
	Identifier   string `json:"Identifier"`
	CompanyName  string `json:"CompanyName"`
	EmailAddress string `json:"EmailAddress"`
	ZipCode      string `json:"ZipCode"`
}

type invoiceLine struct {
	Description   string `json:"Description"`
	Number        int32  `json:"Number"`
	PriceExcl     string `json:"PriceExcl"`
	TaxPercentage string `json:"TaxPercentage"`
}

type invoicePayload struct {
	Invoice struct {
		Identifier  string `json:"Identifier"`
		InvoiceCode string `json:"InvoiceCode"`
		Status      string `json:"Status"`
	} `json:"invoice"`
}

// CreateDraft resolves the debtor and creates a concept invoice.
func (a *Adapter) CreateDraft(ctx context.Context, input domain.DraftInput) (domain.DraftResult, error) {
	debtorID, err := a.resolveDebtor(ctx, input)
	if err != nil {
		return domain.DraftResult{}, err
	}

	lines := make([]invoiceLine, len(input.Lines))
	for i, line := range input.Lines {
		lines[i] = invoiceLine{
			Description:   line.Description,
			Number:        line.Quantity,
			PriceExcl:     decimal.New(line.UnitPriceCents, -2).StringFixed(2),
			TaxPercentage: fmt.Sprintf("%d", line.VATRate),
		}
	}

	var created invoicePayload
	err = a.client.do(ctx, "invoice", "add", map[string]interface{}{
		"Debtor":       debtorID,
		"Currency":     input.Currency,
		"InvoiceLines": lines,
		"Comment":      input.Notes,
	}, &created)
	if err != nil {
		return domain.DraftResult{}, err
	}
	return domain.DraftResult{ExternalID: created.Invoice.Identifier}, nil
}

// FinalizeAndSend asks WeFact to send the invoice by email, then reads
// the post-send state back.
func (a *Adapter) FinalizeAndSend(ctx context.Context, externalID string) (domain.StatusSnapshot, error) {
	err := a.client.do(ctx, "invoice", "sendbyemail", map[string]interface{}{
		"Identifier": externalID,
	}, nil)
	if err != nil {
		return domain.StatusSnapshot{}, err
	}
	return a.FetchSnapshot(ctx, externalID)
}

// FetchSnapshot reads the invoice and caches its PDF when available.
func (a *Adapter) FetchSnapshot(ctx context.Context, externalID string) (domain.StatusSnapshot, error) {
	var shown invoicePayload
	err := a.client.do(ctx, "invoice", "show", map[string]interface{}{
		"Identifier": externalID,
	}, &shown)
	if err != nil {
		return domain.StatusSnapshot{}, err
	}

	snap := domain.StatusSnapshot{
		Status:         mapStatus(shown.Invoice.Status, a.logger),
		ProviderStatus: shown.Invoice.Status,
		ProviderNumber: shown.Invoice.InvoiceCode,
	}

	// WeFact returns PDF bytes, not a hosted link. A missing document
	// must not block status progress, so upload failure only degrades
	// the URL.
	if snap.Status != domain.InvoiceStatusDraft {
		if url, err := a.cachePDF(ctx, externalID); err != nil {
			a.logger.Warn("failed to cache invoice pdf",
				slog.String("provider", domain.ProviderWeFact.String()),
				slog.String("external_id", externalID),
				slog.String("error", err.Error()),
			)
		} else {
			snap.PDFURL = url
		}
	}
	return snap, nil
}

// cachePDF downloads the base64 PDF, parks it in blob storage and
// returns a short-lived signed URL.
func (a *Adapter) cachePDF(ctx context.Context, externalID string) (string, error) {
	var download struct {
		Invoice struct {
			Filename string `json:"Filename"`
			Document string `json:"Document"` // base64
		} `json:"invoice"`
	}
	err := a.client.do(ctx, "invoice", "download", map[string]interface{}{
		"Identifier": externalID,
	}, &download)
	if err != nil {
		return "", err
	}

	pdf, err := base64.StdEncoding.DecodeString(download.Invoice.Document)
	if err != nil {
		return "", fmt.Errorf("failed to decode pdf: %w", err)
	}

	key := fmt.Sprintf("invoices/%s/%s.pdf", a.tenantID, externalID)
	if _, err := a.blobs.Put(ctx, key, bytes.NewReader(pdf), "application/pdf"); err != nil {
		return "", err
	}
	return a.blobs.SignedURL(ctx, key, signedURLTTL)
}

// resolveDebtor searches by email, falls back to name plus postal code,
// and creates the debtor only on a total miss.
func (a *Adapter) resolveDebtor(ctx context.Context, input domain.DraftInput) (string, error) {
	var list struct {
		Debtors []debtor `json:"debtors"`
	}
	params := map[string]interface{}{}
	if input.CustomerEmail != "" {
		params["searchfor"] = input.CustomerEmail
	} else {
		params["searchfor"] = input.CustomerName
	}
	if err := a.client.do(ctx, "debtor", "list", params, &list); err != nil {
		return "", err
	}

	for _, d := range list.Debtors {
		if input.CustomerEmail != "" && d.EmailAddress == input.CustomerEmail {
			return d.Identifier, nil
		}
	}
	for _, d := range list.Debtors {
		if d.CompanyName == input.CustomerName && (input.CustomerPostalCode == "" || d.ZipCode == input.CustomerPostalCode) {
			return d.Identifier, nil
		}
	}

	var created struct {
		Debtor debtor `json:"debtor"`
	}
	err := a.client.do(ctx, "debtor", "add", map[string]interface{}{
		"CompanyName":  input.CustomerName,
		"EmailAddress": input.CustomerEmail,
		"ZipCode":      input.CustomerPostalCode,
	}, &created)
	if err != nil {
		return "", err
	}
	return created.Debtor.Identifier, nil
}
