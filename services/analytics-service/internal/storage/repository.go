package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/lunchpass/libs/db"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

type MealFact struct {
	TransactionID string
	CompanyID     string
	UserID        string
	RestaurantID  string
	ConsumedAt    time.Time
	Day           string
}

// InsertFact reports false when the transaction was already recorded.
func (r *Repository) InsertFact(ctx context.Context, tx pgx.Tx, f MealFact) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO meal_facts (transaction_id, company_id, user_id, restaurant_id, consumed_at, day)
		VALUES ($1, $2, $3, $4, $5, $6::date)
		ON CONFLICT (transaction_id) DO NOTHING
	`, f.TransactionID, f.CompanyID, f.UserID, f.RestaurantID, f.ConsumedAt, f.Day)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

type DeadJob struct {
	EventID      string
	MembershipID string
	CompanyID    string
	Kind         string
	Attempts     int
	Reason       string
	FailedAt     time.Time
}

func (r *Repository) InsertDeadJob(ctx context.Context, tx pgx.Tx, j DeadJob) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO allowance_dlq_events (event_id, membership_id, company_id, kind, attempts, error_reason, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id) DO NOTHING
	`, j.EventID, j.MembershipID, j.CompanyID, j.Kind, j.Attempts, j.Reason, j.FailedAt)
	return err
}

// RollupDay rebuilds daily_company_stats for one day from the facts, so
// running it twice gives the same rows.
func (r *Repository) RollupDay(ctx context.Context, day string) (int64, error) {
	var n int64
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM daily_company_stats WHERE day = $1::date`, day); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			INSERT INTO daily_company_stats (company_id, day, restaurant_id, meals, employees)
			SELECT company_id, day, restaurant_id, count(*), count(DISTINCT user_id)
			FROM meal_facts
			WHERE day = $1::date
			GROUP BY company_id, day, restaurant_id
		`, day)
		if err != nil {
			return err
		}
		n = tag.RowsAffected()
		return nil
	})
	return n, err
}

type DayTotal struct {
	Day       string `json:"day"`
	Meals     int    `json:"meals"`
	Employees int    `json:"employees"`
}

type RestaurantTotal struct {
	RestaurantID string `json:"restaurant_id"`
	Meals        int    `json:"meals"`
}

// CompanyStats reads rolled up totals for the inclusive day range. Employees
// per day counts distinct employees across all restaurants.
func (r *Repository) CompanyStats(ctx context.Context, companyID, from, to string) ([]DayTotal, []RestaurantTotal, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT to_char(s.day, 'YYYY-MM-DD'), sum(s.meals)::int,
		       (SELECT count(DISTINCT f.user_id) FROM meal_facts f WHERE f.company_id = s.company_id AND f.day = s.day)::int
		FROM daily_company_stats s
		WHERE s.company_id = $1 AND s.day BETWEEN $2::date AND $3::date
		GROUP BY s.company_id, s.day
		ORDER BY s.day
	`, companyID, from, to)
	if err != nil {
		return nil, nil, err
	}
	days := []DayTotal{}
	for rows.Next() {
		var d DayTotal
		if err := rows.Scan(&d.Day, &d.Meals, &d.Employees); err != nil {
			rows.Close()
			return nil, nil, err
		}
		days = append(days, d)
	}
	rows.Close()
	if rows.Err() != nil {
		return nil, nil, rows.Err()
	}

	rows, err = r.pool.Query(ctx, `
		SELECT restaurant_id::text, sum(meals)::int
		FROM daily_company_stats
		WHERE company_id = $1 AND day BETWEEN $2::date AND $3::date
		GROUP BY restaurant_id
		ORDER BY 2 DESC, 1
	`, companyID, from, to)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	restaurants := []RestaurantTotal{}
	for rows.Next() {
		var t RestaurantTotal
		if err := rows.Scan(&t.RestaurantID, &t.Meals); err != nil {
			return nil, nil, err
		}
		restaurants = append(restaurants, t)
	}
	return days, restaurants, rows.Err()
}
