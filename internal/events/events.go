// Package events publishes invoice status transitions so downstream
// systems (dunning, bookkeeping exports, notifications) can react without
// polling this core.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/styryl1/invoicecore/internal/domain"
)

// StatusChanged is emitted once per observed status transition, after the
// invoice row and audit record are durable.
type StatusChanged struct {
	InvoiceID  uuid.UUID            `json:"invoice_id"`
	TenantID   uuid.UUID            `json:"tenant_id"`
	Provider   domain.Provider      `json:"provider"`
	FromStatus domain.InvoiceStatus `json:"from_status"`
	ToStatus   domain.InvoiceStatus `json:"to_status"`
	ObservedAt time.Time            `json:"observed_at"`
}

// Publisher delivers status-transition events. Publishing is best-effort;
// the reconciliation write never rolls back on a publish failure.
type Publisher interface {
	PublishStatusChanged(ctx context.Context, ev StatusChanged) error
	Close()
}

// NoopPublisher drops every event. Used when eventing is disabled.
type NoopPublisher struct{}

func (NoopPublisher) PublishStatusChanged(ctx context.Context, ev StatusChanged) error { return nil }
func (NoopPublisher) Close()                                                           {}
