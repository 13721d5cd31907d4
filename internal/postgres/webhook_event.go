package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/styryl1/invoicecore/internal/domain"
	"github.com/styryl1/invoicecore/internal/repository"
)

// uniqueViolation is the postgres error code for a unique constraint hit.
const uniqueViolation = "23505"

func (s *Store) InsertWebhookEvent(ctx context.Context, ev repository.WebhookEvent) (bool, error) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}

	// Insert-first dedup: the unique index on (provider, event_id) is the
	// arbiter, so two handlers racing on the same delivery cannot both win.
	_, err := s.pool.Exec(ctx, `
		INSERT INTO webhook_events (id, provider, event_id, entity_type, entity_id, event_type)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, string(ev.Provider), ev.EventID, ev.EntityType, ev.EntityID, ev.EventType,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return false, nil
		}
		return false, domain.Internal(err, "webhook.record", "failed to record webhook event")
	}
	return true, nil
}
