package moneybird

import (
	"log/slog"
	"strings"

	"github.com/styryl1/invoicecore/internal/domain"
)

// mapStatus translates a Moneybird sales invoice state to the canonical
// status. Unrecognized values map to unknown with a structured warning;
// providers grow new states and that must never break reconciliation.
func mapStatus(raw string, logger *slog.Logger) domain.InvoiceStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "draft":
		return domain.InvoiceStatusDraft
	case "open", "scheduled", "pending_payment":
		return domain.InvoiceStatusSent
	case "late", "reminded":
		return domain.InvoiceStatusOverdue
	case "paid":
		return domain.InvoiceStatusPaid
	case "uncollectible":
		return domain.InvoiceStatusCancelled
	default:
		logger.Warn("unmapped provider status",
			slog.String("provider", domain.ProviderMoneybird.String()),
			slog.String("raw_status", raw),
		)
		return domain.InvoiceStatusUnknown
	}
}
