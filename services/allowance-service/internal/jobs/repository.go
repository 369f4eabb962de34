package jobs

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	otelx "github.com/md-rashed-zaman/lunchpass/libs/otel"
)

const (
	KindOpen  = "period.open"
	KindClose = "period.close"
)

type Job struct {
	ID             int64
	IdempotencyKey string
	Kind           string
	MembershipID   string
	CompanyID      string
	PlanType       string
	MealsPerWeek   int
	StartDate      string
	EndDate        string
	RunAt          time.Time
	Trace          otelx.Carrier
	Attempts       int
	MaxAttempts    int
	NextRunAt      time.Time
}

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Insert schedules job once per idempotency key. It reports false when the
// key was already taken.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, job Job) (bool, error) {
	tc := otelx.Capture(ctx)
	tag, err := tx.Exec(ctx, `
		INSERT INTO allowance_jobs (idempotency_key, kind, membership_id, company_id, plan_type, meals_per_week, start_date, end_date, run_at, next_run_at, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6, $7::date, $8::date, $9, $9, $10, $11)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, job.IdempotencyKey, job.Kind, job.MembershipID, job.CompanyID, job.PlanType, job.MealsPerWeek, job.StartDate, job.EndDate, job.RunAt, tc.Parent, tc.State)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CancelPending cancels the membership's jobs that have not run yet.
func (r *Repository) CancelPending(ctx context.Context, tx pgx.Tx, membershipID string) (int64, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE allowance_jobs
		SET status = 'canceled', updated_at = now()
		WHERE membership_id = $1 AND status = 'pending'
	`, membershipID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) FetchDue(ctx context.Context, tx pgx.Tx, now time.Time, limit int) ([]Job, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, idempotency_key, kind, membership_id::text, company_id::text, plan_type, meals_per_week,
		       to_char(start_date, 'YYYY-MM-DD'), to_char(end_date, 'YYYY-MM-DD'),
		       run_at, traceparent, tracestate, attempts, max_attempts, next_run_at
		FROM allowance_jobs
		WHERE status = 'pending' AND next_run_at <= $1
		ORDER BY next_run_at, id
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.IdempotencyKey, &j.Kind, &j.MembershipID, &j.CompanyID, &j.PlanType, &j.MealsPerWeek,
			&j.StartDate, &j.EndDate, &j.RunAt, &j.Trace.Parent, &j.Trace.State, &j.Attempts, &j.MaxAttempts, &j.NextRunAt); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return jobs, nil
}

func (r *Repository) MarkProcessed(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE allowance_jobs
		SET status = 'processed', updated_at = now()
		WHERE id = ANY($1)
	`, ids)
	return err
}

func (r *Repository) MarkFailed(ctx context.Context, tx pgx.Tx, id int64, attempts int, maxAttempts int, nextRunAt time.Time, lastError string) error {
	status := "pending"
	if attempts >= maxAttempts {
		status = "failed"
	}
	_, err := tx.Exec(ctx, `
		UPDATE allowance_jobs
		SET attempts = $2,
		    status = $3,
		    next_run_at = $4,
		    last_error = $5,
		    updated_at = now()
		WHERE id = $1
	`, id, attempts, status, nextRunAt, lastError)
	return err
}
