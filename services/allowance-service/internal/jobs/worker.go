package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/lunchpass/libs/db"
	"github.com/md-rashed-zaman/lunchpass/libs/entitlement"
	"github.com/md-rashed-zaman/lunchpass/libs/events"
	"github.com/md-rashed-zaman/lunchpass/libs/metrics"
	"github.com/md-rashed-zaman/lunchpass/libs/outbox"
)

var jobsRun = metrics.NewCounterVec("allowance", "jobs_total", "Allowance jobs run, by kind and outcome.", "kind", "outcome")

type Worker struct {
	pool       *db.Pool
	repo       *Repository
	outbox     *outbox.Repository
	logger     *slog.Logger
	interval   time.Duration
	batchSize  int
	backoff    time.Duration
	maxBackoff time.Duration
	now        func() time.Time
}

type WorkerConfig struct {
	Interval   time.Duration
	BatchSize  int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

func NewWorker(pool *db.Pool, repo *Repository, outboxRepo *outbox.Repository, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 1 * time.Minute
	}
	if cfg.MaxBackoff < cfg.Backoff {
		cfg.MaxBackoff = 1 * time.Hour
	}
	return &Worker{
		pool:       pool,
		repo:       repo,
		outbox:     outboxRepo,
		logger:     logger,
		interval:   cfg.Interval,
		batchSize:  cfg.BatchSize,
		backoff:    cfg.Backoff,
		maxBackoff: cfg.MaxBackoff,
		now:        time.Now,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.processBatch(ctx); err != nil {
				w.logger.Error("allowance batch failed", "err", err)
			}
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) error {
	return w.pool.InTx(ctx, func(tx pgx.Tx) error {
		now := w.now().UTC()
		jobs, err := w.repo.FetchDue(ctx, tx, now, w.batchSize)
		if err != nil {
			return err
		}

		var ids []int64
		for _, job := range jobs {
			jobCtx := job.Trace.Attach(ctx)
			if err := w.publish(jobCtx, tx, job); err != nil {
				if err := w.fail(jobCtx, tx, job, now, err); err != nil {
					return err
				}
				continue
			}
			jobsRun.WithLabelValues(job.Kind, "processed").Inc()
			w.logger.Info("allowance job processed", "job_id", job.ID, "kind", job.Kind, "membership_id", job.MembershipID)
			ids = append(ids, job.ID)
		}
		return w.repo.MarkProcessed(ctx, tx, ids)
	})
}

// publish writes the job's event under a savepoint so one bad job does not
// abort the batch.
func (w *Worker) publish(ctx context.Context, tx pgx.Tx, job Job) error {
	evt, err := EventFor(job)
	if err != nil {
		return err
	}
	sp, err := tx.Begin(ctx)
	if err != nil {
		return err
	}
	if err := w.outbox.Insert(ctx, sp, evt); err != nil {
		_ = sp.Rollback(ctx)
		return err
	}
	return sp.Commit(ctx)
}

func (w *Worker) fail(ctx context.Context, tx pgx.Tx, job Job, now time.Time, cause error) error {
	attempts := job.Attempts + 1
	next := now.Add(Backoff(w.backoff, w.maxBackoff, attempts))
	if err := w.repo.MarkFailed(ctx, tx, job.ID, attempts, job.MaxAttempts, next, cause.Error()); err != nil {
		return err
	}
	if attempts < job.MaxAttempts {
		jobsRun.WithLabelValues(job.Kind, "retry").Inc()
		w.logger.Warn("allowance job failed, retrying", "job_id", job.ID, "attempts", attempts, "next_run_at", next, "err", cause)
		return nil
	}
	jobsRun.WithLabelValues(job.Kind, "dead").Inc()
	w.logger.Error("allowance job dead-lettered", "job_id", job.ID, "attempts", attempts, "err", cause)
	evt, err := outbox.NewEvent(events.TopicAllowanceDLQ, "allowance_job", job.MembershipID, events.AllowanceJobFailed, events.AllowanceJobFailedV1{
		Job:      periodPayload(job),
		Kind:     job.Kind,
		Attempts: attempts,
		Reason:   cause.Error(),
		FailedAt: now,
	})
	if err != nil {
		return err
	}
	return w.outbox.Insert(ctx, tx, evt)
}

// Backoff doubles base for every attempt after the first, capped at limit.
func Backoff(base, limit time.Duration, attempts int) time.Duration {
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	return d
}

// EventFor builds the allowance event a due job publishes.
func EventFor(job Job) (outbox.Event, error) {
	var eventType string
	switch job.Kind {
	case KindOpen:
		eventType = events.PeriodOpened
	case KindClose:
		eventType = events.PeriodClosed
	default:
		return outbox.Event{}, fmt.Errorf("unknown job kind %q", job.Kind)
	}
	if _, err := entitlement.PeriodFromDates(job.StartDate, job.EndDate, time.UTC); err != nil {
		return outbox.Event{}, err
	}
	return outbox.NewEvent(events.TopicAllowance, "membership", job.MembershipID, eventType, periodPayload(job))
}

func periodPayload(job Job) events.PeriodV1 {
	return events.PeriodV1{
		MembershipID: job.MembershipID,
		CompanyID:    job.CompanyID,
		PlanType:     job.PlanType,
		MealsPerWeek: job.MealsPerWeek,
		StartDate:    job.StartDate,
		EndDate:      job.EndDate,
		OccurredAt:   job.RunAt.UTC(),
	}
}
