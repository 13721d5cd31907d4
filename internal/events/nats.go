package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NatsPublisher publishes events to NATS on invoice.status.<tenant_id>,
// letting subscribers filter per tenant with a plain subject subscription.
type NatsPublisher struct {
	conn *nats.Conn
}

var _ Publisher = (*NatsPublisher)(nil)

// NewNatsPublisher connects to the NATS server at url.
func NewNatsPublisher(url string) (*NatsPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("invoicecore"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NatsPublisher{conn: conn}, nil
}

func (p *NatsPublisher) PublishStatusChanged(ctx context.Context, ev StatusChanged) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	subject := fmt.Sprintf("invoice.status.%s", ev.TenantID)
	if err := p.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (p *NatsPublisher) Close() {
	p.conn.Drain()
}
