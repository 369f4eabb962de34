// Package inbox deduplicates consumed events by recording their ids in the
// same transaction as the state change they cause.
package inbox

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/lunchpass/libs/db"
	"github.com/md-rashed-zaman/lunchpass/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Record reports false when eventID was already processed.
func (r *Repository) Record(ctx context.Context, tx pgx.Tx, eventID string, eventType string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO inbox_events (event_id, event_type)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, eventType)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Apply handles one event inside a transaction.
type Apply func(ctx context.Context, tx pgx.Tx, meta kafkax.EventMeta, msg kafka.Message) error

// Handler wraps apply so each event id takes effect at most once.
func Handler(pool *db.Pool, repo *Repository, logger *slog.Logger, apply Apply) kafkax.Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		meta := kafkax.ExtractEventMeta(msg)
		return pool.InTx(ctx, func(tx pgx.Tx) error {
			fresh, err := repo.Record(ctx, tx, meta.EventID, meta.EventType)
			if err != nil {
				return err
			}
			if !fresh {
				logger.Info("duplicate event ignored", "event_id", meta.EventID, "event_type", meta.EventType)
				return nil
			}
			return apply(ctx, tx, meta, msg)
		})
	}
}
