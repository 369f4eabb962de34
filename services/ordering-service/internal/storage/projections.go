package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/lunchpass/libs/availability"
	"github.com/md-rashed-zaman/lunchpass/libs/db"
)

var ErrNotFound = errors.New("not found")

// querier is satisfied by both *db.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) InTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return r.pool.InTx(ctx, fn)
}

// Membership is the company's current membership as last announced.
type Membership struct {
	CompanyID    string
	MembershipID string
	PlanType     string
	MealsPerWeek int
	StartDate    string
	EndDate      string
	Status       string
}

func (m Membership) Active() bool { return m.Status == "active" }

func (r *Repository) UpsertMembership(ctx context.Context, tx pgx.Tx, m Membership) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO company_memberships (company_id, membership_id, plan_type, meals_per_week, start_date, end_date, status)
		VALUES ($1, $2, $3, $4, $5::date, $6::date, $7)
		ON CONFLICT (company_id) DO UPDATE
		SET membership_id = EXCLUDED.membership_id,
		    plan_type = EXCLUDED.plan_type,
		    meals_per_week = EXCLUDED.meals_per_week,
		    start_date = EXCLUDED.start_date,
		    end_date = EXCLUDED.end_date,
		    status = EXCLUDED.status,
		    updated_at = now()
	`, m.CompanyID, m.MembershipID, m.PlanType, m.MealsPerWeek, m.StartDate, m.EndDate, m.Status)
	return err
}

// DeactivateMembership only touches the row when it still holds membershipID,
// so a late cancel of a replaced membership is a no-op.
func (r *Repository) DeactivateMembership(ctx context.Context, tx pgx.Tx, companyID, membershipID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE company_memberships
		SET status = 'inactive', updated_at = now()
		WHERE company_id = $1 AND membership_id = $2
	`, companyID, membershipID)
	return err
}

func (r *Repository) CompanyMembership(ctx context.Context, companyID string) (Membership, error) {
	return companyMembership(ctx, r.pool, companyID)
}

func (r *Repository) CompanyMembershipTx(ctx context.Context, tx pgx.Tx, companyID string) (Membership, error) {
	return companyMembership(ctx, tx, companyID)
}

func companyMembership(ctx context.Context, q querier, companyID string) (Membership, error) {
	var m Membership
	err := q.QueryRow(ctx, `
		SELECT company_id::text, membership_id::text, plan_type, meals_per_week,
		       to_char(start_date, 'YYYY-MM-DD'), to_char(end_date, 'YYYY-MM-DD'), status
		FROM company_memberships
		WHERE company_id = $1
	`, companyID).Scan(&m.CompanyID, &m.MembershipID, &m.PlanType, &m.MealsPerWeek, &m.StartDate, &m.EndDate, &m.Status)
	if db.IsNotFound(err) {
		return Membership{}, ErrNotFound
	}
	return m, err
}

type RosterEntry struct {
	CompanyID string
	UserID    string
	Email     string
}

// AddRosterEntry reports false when the employee was already listed.
func (r *Repository) AddRosterEntry(ctx context.Context, tx pgx.Tx, e RosterEntry) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO roster (company_id, user_id, email)
		VALUES ($1, $2, $3)
		ON CONFLICT (company_id, user_id) DO NOTHING
	`, e.CompanyID, e.UserID, e.Email)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) RemoveRosterEntry(ctx context.Context, tx pgx.Tx, companyID, userID string) error {
	_, err := tx.Exec(ctx, `DELETE FROM roster WHERE company_id = $1 AND user_id = $2`, companyID, userID)
	return err
}

func (r *Repository) ListRoster(ctx context.Context, companyID string) ([]RosterEntry, error) {
	return listRoster(ctx, r.pool, companyID)
}

func (r *Repository) ListRosterTx(ctx context.Context, tx pgx.Tx, companyID string) ([]RosterEntry, error) {
	return listRoster(ctx, tx, companyID)
}

func listRoster(ctx context.Context, q querier, companyID string) ([]RosterEntry, error) {
	rows, err := q.Query(ctx, `
		SELECT company_id::text, user_id::text, email
		FROM roster
		WHERE company_id = $1
		ORDER BY email, user_id
	`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RosterEntry
	for rows.Next() {
		var e RosterEntry
		if err := rows.Scan(&e.CompanyID, &e.UserID, &e.Email); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repository) RosterEmail(ctx context.Context, tx pgx.Tx, companyID, userID string) (string, error) {
	var email string
	err := tx.QueryRow(ctx, `SELECT email FROM roster WHERE company_id = $1 AND user_id = $2`, companyID, userID).Scan(&email)
	if db.IsNotFound(err) {
		return "", ErrNotFound
	}
	return email, err
}

type AllowedRestaurant struct {
	RestaurantID string
	DistanceKM   *float64
}

func (r *Repository) ReplaceAllowedRestaurants(ctx context.Context, tx pgx.Tx, companyID string, list []AllowedRestaurant) error {
	if _, err := tx.Exec(ctx, `DELETE FROM allowed_restaurants WHERE company_id = $1`, companyID); err != nil {
		return err
	}
	for _, a := range list {
		if _, err := tx.Exec(ctx, `
			INSERT INTO allowed_restaurants (company_id, restaurant_id, distance_km)
			VALUES ($1, $2, $3)
			ON CONFLICT (company_id, restaurant_id) DO UPDATE SET distance_km = EXCLUDED.distance_km
		`, companyID, a.RestaurantID, a.DistanceKM); err != nil {
			return err
		}
	}
	return nil
}

type Restaurant struct {
	ID         string
	Name       string
	Tier       string
	Address    string
	Active     bool
	Hours      *availability.HoursRange
	DistanceKM *float64
}

type MenuItem struct {
	ID           string
	RestaurantID string
	Name         string
	PriceCents   int
	Days         []string
	Active       bool
}

// UpsertRestaurant applies a full restaurant snapshot. Snapshots older than
// the stored one are skipped and reported as not applied.
func (r *Repository) UpsertRestaurant(ctx context.Context, tx pgx.Tx, rs Restaurant, updatedAt time.Time, menu []MenuItem) (bool, error) {
	var from, to *string
	if rs.Hours != nil {
		from, to = &rs.Hours.From, &rs.Hours.To
	}
	tag, err := tx.Exec(ctx, `
		INSERT INTO restaurants (id, name, tier, address, active, hours_from, hours_to, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    tier = EXCLUDED.tier,
		    address = EXCLUDED.address,
		    active = EXCLUDED.active,
		    hours_from = EXCLUDED.hours_from,
		    hours_to = EXCLUDED.hours_to,
		    updated_at = EXCLUDED.updated_at
		WHERE restaurants.updated_at <= EXCLUDED.updated_at
	`, rs.ID, rs.Name, rs.Tier, rs.Address, rs.Active, from, to, updatedAt)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if _, err := tx.Exec(ctx, `DELETE FROM menu_items WHERE restaurant_id = $1`, rs.ID); err != nil {
		return false, err
	}
	for _, m := range menu {
		days := m.Days
		if days == nil {
			days = []string{}
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO menu_items (id, restaurant_id, name, price_cents, days, active)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, m.ID, rs.ID, m.Name, m.PriceCents, days, m.Active); err != nil {
			return false, err
		}
	}
	return true, nil
}

func scanRestaurant(row pgx.Row) (Restaurant, error) {
	var (
		rs       Restaurant
		from, to *string
	)
	if err := row.Scan(&rs.ID, &rs.Name, &rs.Tier, &rs.Address, &rs.Active, &from, &to, &rs.DistanceKM); err != nil {
		if db.IsNotFound(err) {
			return Restaurant{}, ErrNotFound
		}
		return Restaurant{}, err
	}
	if from != nil && to != nil {
		rs.Hours = &availability.HoursRange{From: *from, To: *to}
	}
	return rs, nil
}

const allowedRestaurantQuery = `
	SELECT r.id::text, r.name, r.tier, r.address, r.active, r.hours_from, r.hours_to, a.distance_km
	FROM allowed_restaurants a
	JOIN restaurants r ON r.id = a.restaurant_id
	WHERE a.company_id = $1`

// ListAllowedRestaurants joins the company's list with known restaurants.
// Allowed ids without a snapshot yet are left out.
func (r *Repository) ListAllowedRestaurants(ctx context.Context, companyID string) ([]Restaurant, error) {
	rows, err := r.pool.Query(ctx, allowedRestaurantQuery+` ORDER BY r.name`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Restaurant
	for rows.Next() {
		rs, err := scanRestaurant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rs)
	}
	return out, rows.Err()
}

func (r *Repository) AllowedRestaurant(ctx context.Context, tx pgx.Tx, companyID, restaurantID string) (Restaurant, error) {
	return scanRestaurant(tx.QueryRow(ctx, allowedRestaurantQuery+` AND r.id = $2`, companyID, restaurantID))
}

func (r *Repository) MenuItem(ctx context.Context, tx pgx.Tx, restaurantID, itemID string) (MenuItem, error) {
	var m MenuItem
	err := tx.QueryRow(ctx, `
		SELECT id::text, restaurant_id::text, name, price_cents, days, active
		FROM menu_items
		WHERE restaurant_id = $1 AND id = $2
	`, restaurantID, itemID).Scan(&m.ID, &m.RestaurantID, &m.Name, &m.PriceCents, &m.Days, &m.Active)
	if db.IsNotFound(err) {
		return MenuItem{}, ErrNotFound
	}
	return m, err
}
