package webhook

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/styryl1/invoicecore/internal/domain"
)

// moneybirdEvent is the delivery envelope Moneybird posts. Every
// delivery carries its own id, which is the dedup key.
type moneybirdEvent struct {
	ID               string `json:"id"`
	Action           string `json:"action"`
	EntityType       string `json:"entity_type"`
	EntityID         string `json:"entity_id"`
	AdministrationID string `json:"administration_id"`
	Entity           struct {
		ID    string `json:"id"`
		State string `json:"state"`
	} `json:"entity"`
}

// HandleMoneybird processes Moneybird webhook deliveries.
func (h *Handler) HandleMoneybird(c echo.Context) error {
	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unreadable body"})
	}

	signature := c.Request().Header.Get("X-Moneybird-Signature")
	if !verifySignature(payload, signature, h.cfg.MoneybirdSecret) {
		h.logger.Warn("moneybird webhook signature rejected")
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
	}

	var event moneybirdEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid payload"})
	}

	externalID := event.EntityID
	if externalID == "" {
		externalID = event.Entity.ID
	}
	if event.ID == "" || externalID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing event id or entity id"})
	}

	h.ingest(c.Request().Context(), domain.ProviderMoneybird, event.ID, event.Action, externalID)

	return c.JSON(http.StatusOK, map[string]bool{"received": true})
}
