// Package ops exposes the operator surface over HTTP: the poller
// trigger and the dead-letter queue. These endpoints sit behind the
// deployment's internal network, not in front of tenants.
package ops

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/styryl1/invoicecore/internal/domain"
	"github.com/styryl1/invoicecore/internal/service"
)

type Handler struct {
	svc       *service.InvoiceService
	batchSize int32
	logger    *slog.Logger
}

func NewHandler(svc *service.InvoiceService, batchSize int32, logger *slog.Logger) *Handler {
	if batchSize <= 0 {
		batchSize = 25
	}
	return &Handler{svc: svc, batchSize: batchSize, logger: logger}
}

// RunDue processes one batch of due refresh jobs on demand. The
// background poller calls the same service method; this endpoint exists
// for operators and scheduled triggers.
func (h *Handler) RunDue(c echo.Context) error {
	n, err := h.svc.RunDueJobs(c.Request().Context(), h.batchSize)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int{"processed": n})
}

// ListDeadLetters returns the tenant's dead-lettered refresh jobs.
func (h *Handler) ListDeadLetters(c echo.Context) error {
	tenantID, err := uuid.Parse(c.QueryParam("tenant_id"))
	if err != nil {
		return errorResponse(c, domain.Invalid("ops.dead_letters", "invalid tenant_id"))
	}

	letters, err := h.svc.ListDeadLetters(c.Request().Context(), tenantID, 100)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"dead_letters": letters})
}

// ReenqueueDeadLetter puts a dead-lettered invoice back under polling.
func (h *Handler) ReenqueueDeadLetter(c echo.Context) error {
	tenantID, err := uuid.Parse(c.QueryParam("tenant_id"))
	if err != nil {
		return errorResponse(c, domain.Invalid("ops.reenqueue", "invalid tenant_id"))
	}
	invoiceID, err := uuid.Parse(c.Param("invoice_id"))
	if err != nil {
		return errorResponse(c, domain.Invalid("ops.reenqueue", "invalid invoice_id"))
	}

	if err := h.svc.ReenqueueDeadLetter(c.Request().Context(), tenantID, invoiceID); err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"enqueued": true})
}

// errorResponse maps domain error codes onto HTTP statuses and returns
// the canonical user-facing message unrephrased.
func errorResponse(c echo.Context, err error) error {
	return c.JSON(statusFromCode(domain.ErrorCode(err)), map[string]string{
		"error": domain.ErrorMessage(err),
		"code":  domain.ErrorCode(err),
	})
}

func statusFromCode(code string) int {
	switch code {
	case domain.EINVALID:
		return http.StatusBadRequest
	case domain.ENOTFOUND:
		return http.StatusNotFound
	case domain.EUNAUTHORIZED:
		return http.StatusUnauthorized
	case domain.ELOCKED, domain.ECONFLICT:
		return http.StatusConflict
	case domain.EUNAVAILABLE:
		return http.StatusBadGateway
	case domain.ENOTIMPL:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
