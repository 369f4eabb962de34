package outbox

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/lunchpass/libs/httpx"
	otelx "github.com/md-rashed-zaman/lunchpass/libs/otel"
)

// Repository reads and writes the outbox_events table every publishing
// service migrates. It holds no state; callers pass the transaction.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// execer is satisfied by pgx.Tx and *pgxpool.Pool.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Insert stores evt inside tx together with the caller's trace context and
// request id, so the consumer's logs and spans line up with the request.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, evt Event) error {
	tc := otelx.Capture(ctx)
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_events
			(topic, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate, request_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, evt.Topic, evt.AggregateType, evt.AggregateID, evt.EventType, evt.Payload,
		tc.Parent, tc.State, httpx.RequestIDFromContext(ctx))
	return err
}

// Record is one stored, not yet published event.
type Record struct {
	ID            int64
	EventID       string
	Topic         string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Trace         otelx.Carrier
	RequestID     string
	CreatedAt     time.Time
}

// FetchUnpublished locks the oldest pending rows. Concurrent publishers skip
// each other's rows instead of waiting on them.
func (r *Repository) FetchUnpublished(ctx context.Context, tx pgx.Tx, limit int) ([]Record, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, event_id::text, topic, aggregate_type, aggregate_id, event_type, payload,
		       traceparent, tracestate, request_id, created_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		var rec Record
		err := row.Scan(&rec.ID, &rec.EventID, &rec.Topic, &rec.AggregateType, &rec.AggregateID,
			&rec.EventType, &rec.Payload, &rec.Trace.Parent, &rec.Trace.State, &rec.RequestID, &rec.CreatedAt)
		return rec, err
	})
}

func (r *Repository) MarkPublished(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `UPDATE outbox_events SET published_at = now() WHERE id = ANY($1)`, ids)
	return err
}

// PurgePublished deletes rows published before cutoff and reports how many.
func (r *Repository) PurgePublished(ctx context.Context, db execer, cutoff time.Time) (int64, error) {
	tag, err := db.Exec(ctx, `DELETE FROM outbox_events WHERE published_at IS NOT NULL AND published_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
