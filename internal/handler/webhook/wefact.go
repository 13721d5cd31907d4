package webhook

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/styryl1/invoicecore/internal/domain"
)

// wefactEvent is the notification WeFact posts on invoice changes.
// WeFact sends no delivery id, so the dedup key is derived from the
// invoice code and the reported status: a genuine status change always
// produces a fresh key, a redelivery repeats the old one.
//
// The invoice code is WeFact's human-facing number, stored on our side
// as the provider number. The Identifier we keep as external id never
// appears in the notification, so ingestion resolves the invoice by
// provider number for this channel.
type wefactEvent struct {
	Controller  string `json:"controller"`
	Action      string `json:"action"`
	InvoiceCode string `json:"InvoiceCode"`
	Status      string `json:"Status"`
}

// HandleWeFact processes WeFact webhook notifications.
func (h *Handler) HandleWeFact(c echo.Context) error {
	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unreadable body"})
	}

	signature := c.Request().Header.Get("X-WeFact-Signature")
	if !verifySignature(payload, signature, h.cfg.WeFactSecret) {
		h.logger.Warn("wefact webhook signature rejected")
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
	}

	var event wefactEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid payload"})
	}
	if event.InvoiceCode == "" || event.Status == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing invoice code or status"})
	}

	eventID := event.InvoiceCode + ":" + event.Status
	h.ingest(c.Request().Context(), domain.ProviderWeFact, eventID, event.Action, event.InvoiceCode)

	return c.JSON(http.StatusOK, map[string]bool{"received": true})
}
