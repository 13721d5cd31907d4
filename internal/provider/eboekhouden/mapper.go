package eboekhouden

import (
	"log/slog"
	"strings"

	"github.com/styryl1/invoicecore/internal/domain"
)

// mapStatus translates an e-Boekhouden invoice status to the canonical
// enum. Dutch and English terms both occur. Unrecognized values map to
// unknown with a structured warning.
func mapStatus(raw string, logger *slog.Logger) domain.InvoiceStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "concept", "draft":
		return domain.InvoiceStatusDraft
	case "open", "verzonden", "sent":
		return domain.InvoiceStatusSent
	case "betaald", "paid", "voldaan":
		return domain.InvoiceStatusPaid
	case "vervallen", "overdue":
		return domain.InvoiceStatusOverdue
	case "gecrediteerd", "geannuleerd", "cancelled":
		return domain.InvoiceStatusCancelled
	default:
		logger.Warn("unmapped provider status",
			slog.String("provider", domain.ProviderEBoekhouden.String()),
			slog.String("raw_status", raw),
		)
		return domain.InvoiceStatusUnknown
	}
}
