package eboekhouden

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

// Adapter implements provider.Adapter for e-Boekhouden. The client is
// shared across tenants (one deployment credential); the adapter binds
// the tenant for blob scoping and administration selection.
type Adapter struct {
	client           *Client
	tenantID         uuid.UUID
	administrationID string
	blobs            storage.Storage
	logger           *slog.Logger
}

var _ provider.Adapter = (*Adapter)(nil)

func NewAdapter(client *Client, tenantID uuid.UUID, administrationID string, blobs storage.Storage, logger *slog.Logger) *Adapter {
	return &Adapter{
		client:           client,
		tenantID:         tenantID,
		administrationID: administrationID,
		blobs:            blobs,
		logger:           logger,
	}
}

func (a *Adapter) Capabilities() provider.Capabilities {
	return provider.Capabilities{PaymentURL: false, UBL: false}
}

type relation struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	ZipCode string `json:"postalCode"`
}

type invoiceResponse struct {
	ID            int64  `json:"id"`
	InvoiceNumber string `json:"invoiceNumber"`
	Status        string `json:"status"`
	PDFDocument   string `json:"pdfDocument"` // base64, optional
}

// CreateDraft resolves the relation and creates a concept invoice.
func (a *Adapter) CreateDraft(ctx context.Context, input domain.DraftInput) (domain.DraftResult, error) {
	relationID, err := a.resolveRelation(ctx, input)
	if err != nil {
		return domain.DraftResult{}, err
	}

	lines := make([]map[string]interface{}, len(input.Lines))
	for i, line := range input.Lines {
		lines[i] = map[string]interface{}{
			"description":   line.Description,
			"quantity":      line.Quantity,
			"pricePerUnit":  decimal.New(line.UnitPriceCents, -2).StringFixed(2),
			"vatPercentage": line.VATRate,
		}
	}

	var created invoiceResponse
	err = a.client.do(ctx, "POST", "/invoice", map[string]interface{}{
		"administrationId": a.administrationID,
		"relationId":       relationID,
		"currency":         input.Currency,
		"lines":            lines,
		"notes":            input.Notes,
		"concept":          true,
	}, &created)
	if err != nil {
		return domain.DraftResult{}, err
	}
	return domain.DraftResult{ExternalID: fmt.Sprintf("%d", created.ID)}, nil
}

// FinalizeAndSend finalizes the concept and emails it.
func (a *Adapter) FinalizeAndSend(ctx context.Context, externalID string) (domain.StatusSnapshot, error) {
	var sent invoiceResponse
	err := a.client.do(ctx, "POST", "/invoice/"+externalID+"/send", map[string]interface{}{
		"method": "email",
	}, &sent)
	if err != nil {
		return domain.StatusSnapshot{}, err
	}
	return a.snapshot(ctx, externalID, sent), nil
}

// FetchSnapshot reads the invoice's current state.
func (a *Adapter) FetchSnapshot(ctx context.Context, externalID string) (domain.StatusSnapshot, error) {
	var inv invoiceResponse
	if err := a.client.do(ctx, "GET", "/invoice/"+externalID, nil, &inv); err != nil {
		return domain.StatusSnapshot{}, err
	}
	return a.snapshot(ctx, externalID, inv), nil
}

func (a *Adapter) snapshot(ctx context.Context, externalID string, inv invoiceResponse) domain.StatusSnapshot {
	snap := domain.StatusSnapshot{
		Status:         mapStatus(inv.Status, a.logger),
		ProviderStatus: inv.Status,
		ProviderNumber: inv.InvoiceNumber,
	}

	// PDF comes inline as base64. Upload failure degrades to an empty
	// URL; the document must not block status progress.
	if inv.PDFDocument != "" {
		if url, err := a.cachePDF(ctx, externalID, inv.PDFDocument); err != nil {
			a.logger.Warn("failed to cache invoice pdf",
				slog.String("provider", domain.ProviderEBoekhouden.String()),
				slog.String("external_id", externalID),
				slog.String("error", err.Error()),
			)
		} else {
			snap.PDFURL = url
		}
	}
	return snap
}

func (a *Adapter) cachePDF(ctx context.Context, externalID, encoded string) (string, error) {
	pdf, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode pdf: %w", err)
	}

	key := fmt.Sprintf("invoices/%s/%s.pdf", a.tenantID, externalID)
	if _, err := a.blobs.Put(ctx, key, bytes.NewReader(pdf), "application/pdf"); err != nil {
		return "", err
	}
	return a.blobs.SignedURL(ctx, key, signedURLTTL)
}

// resolveRelation searches by email, falls back to name plus postal
// code, and creates the relation only on a total miss.
func (a *Adapter) resolveRelation(ctx context.Context, input domain.DraftInput) (int64, error) {
	var relations []relation
	if err := a.client.do(ctx, "GET", "/relation?administrationId="+a.administrationID, nil, &relations); err != nil {
		return 0, err
	}

	if input.CustomerEmail != "" {
		for _, r := range relations {
			if r.Email == input.CustomerEmail {
				return r.ID, nil
			}
		}
	}
	for _, r := range relations {
		if r.Name == input.CustomerName && (input.CustomerPostalCode == "" || r.ZipCode == input.CustomerPostalCode) {
			return r.ID, nil
		}
	}

	var created relation
	err := a.client.do(ctx, "POST", "/relation", map[string]interface{}{
		"administrationId": a.administrationID,
		"name":             input.CustomerName,
		"email":            input.CustomerEmail,
		"postalCode":       input.CustomerPostalCode,
	}, &created)
	if err != nil {
		return 0, err
	}
	return created.ID, nil
}
