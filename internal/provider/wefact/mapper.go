package wefact

import (
	"log/slog"
	"strings"

	"github.com/styryl1/invoicecore/internal/domain"
)

// mapStatus translates a WeFact invoice status to the canonical enum.
// WeFact surfaces Dutch terms in some payloads and English in others, so
// both vocabularies are recognized. Unrecognized values map to unknown
// with a structured warning.
func mapStatus(raw string, logger *slog.Logger) domain.InvoiceStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "concept", "draft":
		return domain.InvoiceStatusDraft
	// Partial payment keeps the invoice outstanding.
	case "verzonden", "sent", "deels betaald", "partially paid":
		return domain.InvoiceStatusSent
	case "bekeken", "viewed":
		return domain.InvoiceStatusViewed
	case "betaald", "paid":
		return domain.InvoiceStatusPaid
	case "vervallen", "verlopen", "expired", "overdue":
		return domain.InvoiceStatusOverdue
	case "gecrediteerd", "geannuleerd", "credited", "cancelled":
		return domain.InvoiceStatusCancelled
	default:
		logger.Warn("unmapped provider status",
			slog.String("provider", domain.ProviderWeFact.String()),
			slog.String("raw_status", raw),
		)
		return domain.InvoiceStatusUnknown
	}
}
