// Package ingest records consumed events as analytics facts.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/lunchpass/libs/entitlement"
	"github.com/md-rashed-zaman/lunchpass/libs/events"
	"github.com/md-rashed-zaman/lunchpass/libs/inbox"
	"github.com/md-rashed-zaman/lunchpass/libs/kafkax"
	"github.com/md-rashed-zaman/lunchpass/libs/metrics"
	"github.com/md-rashed-zaman/lunchpass/services/analytics-service/internal/storage"
	"github.com/segmentio/kafka-go"
)

var factsRecorded = metrics.NewCounterVec("analytics", "events_recorded_total", "Events stored as facts, by type.", "event_type")

type Store interface {
	InsertFact(ctx context.Context, tx pgx.Tx, f storage.MealFact) (bool, error)
	InsertDeadJob(ctx context.Context, tx pgx.Tx, j storage.DeadJob) error
}

func Topics() []string {
	return []string{events.TopicOrder, events.TopicAllowanceDLQ}
}

// FactFor maps a meal.consumed payload onto a fact dated in loc.
func FactFor(v events.MealConsumedV1, loc *time.Location) (storage.MealFact, error) {
	if v.TransactionID == "" || v.CompanyID == "" || v.UserID == "" || v.RestaurantID == "" {
		return storage.MealFact{}, errors.New("meal.consumed without ids")
	}
	if v.ConsumedAt.IsZero() {
		return storage.MealFact{}, errors.New("meal.consumed without consumed_at")
	}
	return storage.MealFact{
		TransactionID: v.TransactionID,
		CompanyID:     v.CompanyID,
		UserID:        v.UserID,
		RestaurantID:  v.RestaurantID,
		ConsumedAt:    v.ConsumedAt.UTC(),
		Day:           entitlement.FormatDate(v.ConsumedAt.In(loc)),
	}, nil
}

func Apply(store Store, logger *slog.Logger, loc *time.Location) inbox.Apply {
	return func(ctx context.Context, tx pgx.Tx, meta kafkax.EventMeta, msg kafka.Message) error {
		switch meta.EventType {
		case events.MealConsumed:
			v, err := events.Decode[events.MealConsumedV1](meta.EventType, msg.Value)
			if err != nil {
				logger.Warn("event rejected", "event_id", meta.EventID, "event_type", meta.EventType, "err", err)
				return nil
			}
			f, err := FactFor(v, loc)
			if err != nil {
				logger.Warn("event rejected", "event_id", meta.EventID, "event_type", meta.EventType, "err", err)
				return nil
			}
			if _, err := store.InsertFact(ctx, tx, f); err != nil {
				return err
			}
			factsRecorded.WithLabelValues(meta.EventType).Inc()
			return nil
		case events.AllowanceJobFailed:
			v, err := events.Decode[events.AllowanceJobFailedV1](meta.EventType, msg.Value)
			if err != nil {
				logger.Warn("event rejected", "event_id", meta.EventID, "event_type", meta.EventType, "err", err)
				return nil
			}
			if err := store.InsertDeadJob(ctx, tx, storage.DeadJob{
				EventID:      meta.EventID,
				MembershipID: v.Job.MembershipID,
				CompanyID:    v.Job.CompanyID,
				Kind:         v.Kind,
				Attempts:     v.Attempts,
				Reason:       v.Reason,
				FailedAt:     v.FailedAt,
			}); err != nil {
				return err
			}
			factsRecorded.WithLabelValues(meta.EventType).Inc()
			logger.Warn("allowance dlq recorded", "membership_id", v.Job.MembershipID, "kind", v.Kind)
			return nil
		}
		return nil
	}
}
