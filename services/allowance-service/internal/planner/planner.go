// Package planner turns membership events into allowance jobs.
package planner

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
	"github.com/md-rashed-zaman/lunchpass/services/allowance-service/internal/jobs"
	"github.com/segmentio/kafka-go"
)

// Schedule is what one membership event asks of the job table.
type Schedule struct {
	// CancelPending drops jobs of the membership that have not run yet.
	CancelPending bool
	Jobs          []jobs.Job
}

// Plan schedules the period open at the start of start_date and the close at
// the start of the day after end_date. A cancellation closes at now.
func Plan(eventType string, v events.MembershipV1, now time.Time, loc *time.Location) (Schedule, error) {
	if v.MembershipID == "" || v.CompanyID == "" {
		return Schedule{}, errors.New("membership event without ids")
	}
	p, err := entitlement.PeriodFromDates(v.StartDate, v.EndDate, loc)
	if err != nil {
		return Schedule{}, err
	}
	base := jobs.Job{
		MembershipID: v.MembershipID,
		CompanyID:    v.CompanyID,
		PlanType:     entitlement.NormalizeTier(v.PlanType),
		MealsPerWeek: v.MealsPerWeek,
		StartDate:    v.StartDate,
		EndDate:      v.EndDate,
	}
	switch eventType {
	case events.MembershipActivated:
		y, m, d := p.End.Date()
		opening, closing := base, base
		opening.Kind, opening.RunAt = jobs.KindOpen, p.Start
		opening.IdempotencyKey = v.MembershipID + ":" + jobs.KindOpen
		closing.Kind, closing.RunAt = jobs.KindClose, time.Date(y, m, d+1, 0, 0, 0, 0, loc)
		closing.IdempotencyKey = v.MembershipID + ":" + jobs.KindClose
		return Schedule{Jobs: []jobs.Job{opening, closing}}, nil
	case events.MembershipCanceled:
		closing := base
		closing.Kind, closing.RunAt = jobs.KindClose, now
		closing.IdempotencyKey = v.MembershipID + ":" + jobs.KindClose + ":canceled"
		return Schedule{CancelPending: true, Jobs: []jobs.Job{closing}}, nil
	}
	return Schedule{}, nil
}

// Store is implemented by *jobs.Repository.
type Store interface {
	Insert(ctx context.Context, tx pgx.Tx, job jobs.Job) (bool, error)
	CancelPending(ctx context.Context, tx pgx.Tx, membershipID string) (int64, error)
}

// Apply consumes membership.events. Malformed events are logged and dropped.
func Apply(store Store, logger *slog.Logger, loc *time.Location, now func() time.Time) inbox.Apply {
	return func(ctx context.Context, tx pgx.Tx, meta kafkax.EventMeta, msg kafka.Message) error {
		if meta.EventType != events.MembershipActivated && meta.EventType != events.MembershipCanceled {
			return nil
		}
		v, err := events.Decode[events.MembershipV1](meta.EventType, msg.Value)
		if err != nil {
			logger.Warn("event rejected", "event_id", meta.EventID, "err", err)
			return nil
		}
		s, err := Plan(meta.EventType, v, now().UTC(), loc)
		if err != nil {
			logger.Warn("event rejected", "event_id", meta.EventID, "membership_id", v.MembershipID, "err", err)
			return nil
		}
		if s.CancelPending {
			n, err := store.CancelPending(ctx, tx, v.MembershipID)
			if err != nil {
				return err
			}
			logger.Info("pending allowance jobs canceled", "membership_id", v.MembershipID, "count", n)
		}
		for _, job := range s.Jobs {
			created, err := store.Insert(ctx, tx, job)
			if err != nil {
				return err
			}
			if created {
				logger.Info("allowance job scheduled", "membership_id", job.MembershipID, "kind", job.Kind, "run_at", job.RunAt)
			}
		}
		return nil
	}
}
