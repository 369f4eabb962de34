package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/lunchpass/libs/db"
)

// ErrNoMealsLeft means the balance row had nothing left to decrement.
var ErrNoMealsLeft = errors.New("no meals left")

// Period is an allowance period opened for a membership.
type Period struct {
	MembershipID string
	CompanyID    string
	PlanType     string
	MealsPerWeek int
	StartDate    string
	EndDate      string
	Status       string
}

// OpenPeriod reports false when the period was already known.
func (r *Repository) OpenPeriod(ctx context.Context, tx pgx.Tx, p Period) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO periods (membership_id, company_id, plan_type, meals_per_week, start_date, end_date, status)
		VALUES ($1, $2, $3, $4, $5::date, $6::date, 'open')
		ON CONFLICT (membership_id) DO NOTHING
	`, p.MembershipID, p.CompanyID, p.PlanType, p.MealsPerWeek, p.StartDate, p.EndDate)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) OpenPeriodForCompany(ctx context.Context, tx pgx.Tx, companyID string) (Period, error) {
	var p Period
	err := tx.QueryRow(ctx, `
		SELECT membership_id::text, company_id::text, plan_type, meals_per_week,
		       to_char(start_date, 'YYYY-MM-DD'), to_char(end_date, 'YYYY-MM-DD'), status
		FROM periods
		WHERE company_id = $1 AND status = 'open'
		ORDER BY start_date DESC
		LIMIT 1
	`, companyID).Scan(&p.MembershipID, &p.CompanyID, &p.PlanType, &p.MealsPerWeek, &p.StartDate, &p.EndDate, &p.Status)
	if db.IsNotFound(err) {
		return Period{}, ErrNotFound
	}
	return p, err
}

// ClosePeriod closes the period and zeroes every balance opened for it. A
// close for an unknown period is still recorded so a late open stays closed.
func (r *Repository) ClosePeriod(ctx context.Context, tx pgx.Tx, p Period, at time.Time) (int64, error) {
	if _, err := tx.Exec(ctx, `
		INSERT INTO periods (membership_id, company_id, plan_type, meals_per_week, start_date, end_date, status, closed_at)
		VALUES ($1, $2, $3, $4, $5::date, $6::date, 'closed', $7)
		ON CONFLICT (membership_id) DO UPDATE SET status = 'closed', closed_at = EXCLUDED.closed_at
	`, p.MembershipID, p.CompanyID, p.PlanType, p.MealsPerWeek, p.StartDate, p.EndDate, at); err != nil {
		return 0, err
	}
	tag, err := tx.Exec(ctx, `
		UPDATE balances
		SET remaining_meals = 0, status = 'closed', closed_at = $2
		WHERE membership_id = $1 AND status = 'open'
	`, p.MembershipID, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type Balance struct {
	UserID         string
	MembershipID   string
	CompanyID      string
	PeriodStart    string
	PeriodEnd      string
	MealsPerWeek   int
	Allotted       int
	RemainingMeals int
	Status         string
}

// EnsureBalance creates the balance unless the user already has one for the
// membership.
func (r *Repository) EnsureBalance(ctx context.Context, tx pgx.Tx, b Balance) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO balances (user_id, membership_id, company_id, period_start, period_end, meals_per_week, allotted, remaining_meals, status)
		VALUES ($1, $2, $3, $4::date, $5::date, $6, $7, $7, 'open')
		ON CONFLICT (user_id, membership_id) DO NOTHING
	`, b.UserID, b.MembershipID, b.CompanyID, b.PeriodStart, b.PeriodEnd, b.MealsPerWeek, b.Allotted)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) CloseUserBalances(ctx context.Context, tx pgx.Tx, companyID, userID string, at time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE balances
		SET remaining_meals = 0, status = 'closed', closed_at = $3
		WHERE company_id = $1 AND user_id = $2 AND status = 'open'
	`, companyID, userID, at)
	return err
}

const balanceColumns = `user_id::text, membership_id::text, company_id::text,
	to_char(period_start, 'YYYY-MM-DD'), to_char(period_end, 'YYYY-MM-DD'),
	meals_per_week, allotted, remaining_meals, status`

func scanBalance(row pgx.Row) (Balance, error) {
	var b Balance
	err := row.Scan(&b.UserID, &b.MembershipID, &b.CompanyID, &b.PeriodStart, &b.PeriodEnd, &b.MealsPerWeek, &b.Allotted, &b.RemainingMeals, &b.Status)
	if db.IsNotFound(err) {
		return Balance{}, ErrNotFound
	}
	return b, err
}

const openBalanceQuery = `SELECT ` + balanceColumns + ` FROM balances
	WHERE user_id = $1 AND company_id = $2 AND status = 'open'
	ORDER BY period_start DESC
	LIMIT 1`

func (r *Repository) OpenBalance(ctx context.Context, userID, companyID string) (Balance, error) {
	return scanBalance(r.pool.QueryRow(ctx, openBalanceQuery, userID, companyID))
}

// OpenBalanceForUpdate locks the balance row; concurrent orders of the same
// employee queue behind it.
func (r *Repository) OpenBalanceForUpdate(ctx context.Context, tx pgx.Tx, userID, companyID string) (Balance, error) {
	return scanBalance(tx.QueryRow(ctx, openBalanceQuery+` FOR UPDATE`, userID, companyID))
}

// ListOpenBalances returns the company's open balances keyed by user id.
func (r *Repository) ListOpenBalances(ctx context.Context, companyID string) (map[string]Balance, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+balanceColumns+` FROM balances WHERE company_id = $1 AND status = 'open' ORDER BY period_start`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]Balance{}
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		out[b.UserID] = b
	}
	return out, rows.Err()
}

// DecrementBalance takes one meal and returns what is left.
func (r *Repository) DecrementBalance(ctx context.Context, tx pgx.Tx, userID, membershipID string) (int, error) {
	var remaining int
	err := tx.QueryRow(ctx, `
		UPDATE balances
		SET remaining_meals = remaining_meals - 1
		WHERE user_id = $1 AND membership_id = $2 AND status = 'open' AND remaining_meals > 0
		RETURNING remaining_meals
	`, userID, membershipID).Scan(&remaining)
	if db.IsNotFound(err) {
		return 0, ErrNoMealsLeft
	}
	return remaining, err
}

type Transaction struct {
	ID             string
	UserID         string
	CompanyID      string
	MembershipID   string
	RestaurantID   string
	MenuItemID     string
	RemainingMeals int
	IdempotencyKey string
	ConsumedAt     time.Time
}

func (r *Repository) InsertTransaction(ctx context.Context, tx pgx.Tx, t Transaction) (Transaction, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO transactions (id, user_id, company_id, membership_id, restaurant_id, menu_item_id, remaining_meals, idempotency_key, consumed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING consumed_at
	`, t.ID, t.UserID, t.CompanyID, t.MembershipID, t.RestaurantID, nullIfEmpty(t.MenuItemID), t.RemainingMeals, nullIfEmpty(t.IdempotencyKey), t.ConsumedAt).Scan(&t.ConsumedAt)
	return t, err
}

const transactionColumns = `id::text, user_id::text, company_id::text, membership_id::text, restaurant_id::text,
	COALESCE(menu_item_id::text, ''), remaining_meals, COALESCE(idempotency_key, ''), consumed_at`

func scanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	err := row.Scan(&t.ID, &t.UserID, &t.CompanyID, &t.MembershipID, &t.RestaurantID, &t.MenuItemID, &t.RemainingMeals, &t.IdempotencyKey, &t.ConsumedAt)
	if db.IsNotFound(err) {
		return Transaction{}, ErrNotFound
	}
	return t, err
}

func (r *Repository) TransactionByIdempotencyKey(ctx context.Context, tx pgx.Tx, userID, key string) (Transaction, error) {
	return scanTransaction(tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE user_id = $1 AND idempotency_key = $2`, userID, key))
}

// CountConsumedSince counts the meals a user took from a membership since t.
func (r *Repository) CountConsumedSince(ctx context.Context, tx pgx.Tx, userID, membershipID string, since time.Time) (int, error) {
	return countConsumed(ctx, tx, userID, membershipID, since)
}

func (r *Repository) CountConsumed(ctx context.Context, userID, membershipID string, since time.Time) (int, error) {
	return countConsumed(ctx, r.pool, userID, membershipID, since)
}

func countConsumed(ctx context.Context, q querier, userID, membershipID string, since time.Time) (int, error) {
	var n int
	err := q.QueryRow(ctx, `
		SELECT COUNT(*) FROM transactions
		WHERE user_id = $1 AND membership_id = $2 AND consumed_at >= $3
	`, userID, membershipID, since).Scan(&n)
	return n, err
}

func (r *Repository) ListTransactions(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE user_id = $1 ORDER BY consumed_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
