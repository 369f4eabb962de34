package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/lunchpass/libs/db"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrDuplicateProviderEvent = errors.New("duplicate provider event")
)

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) InTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return r.pool.InTx(ctx, fn)
}

type Company struct {
	ID               string
	Name             string
	StripeCustomerID string
	ProviderRef      string
	CreatedAt        time.Time
}

func (r *Repository) CreateCompany(ctx context.Context, tx pgx.Tx, name, providerRef string) (Company, error) {
	c := Company{ID: uuid.NewString(), Name: name, ProviderRef: providerRef}
	err := tx.QueryRow(ctx, `
		INSERT INTO companies (id, name, provider_ref)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, c.ID, name, nullIfEmpty(providerRef)).Scan(&c.CreatedAt)
	return c, err
}

func (r *Repository) GetCompany(ctx context.Context, id string) (Company, error) {
	var c Company
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, name, COALESCE(stripe_customer_id, ''), COALESCE(provider_ref, ''), created_at
		FROM companies
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.StripeCustomerID, &c.ProviderRef, &c.CreatedAt)
	if db.IsNotFound(err) {
		return Company{}, ErrNotFound
	}
	return c, err
}

func (r *Repository) CompanyExists(ctx context.Context, tx pgx.Tx, id string) (bool, error) {
	var ok bool
	err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM companies WHERE id = $1)`, id).Scan(&ok)
	return ok, err
}

func (r *Repository) SetStripeCustomer(ctx context.Context, tx pgx.Tx, companyID, customerID string) error {
	if strings.TrimSpace(customerID) == "" {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE companies SET stripe_customer_id = $2, updated_at = now()
		WHERE id = $1 AND stripe_customer_id IS DISTINCT FROM $2
	`, companyID, customerID)
	return err
}

type Employee struct {
	CompanyID string
	UserID    string
	Email     string
	AddedAt   time.Time
}

func (r *Repository) ListEmployees(ctx context.Context, companyID string) ([]Employee, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT company_id::text, user_id::text, email, added_at
		FROM company_employees
		WHERE company_id = $1
		ORDER BY added_at, user_id
	`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Employee
	for rows.Next() {
		var e Employee
		if err := rows.Scan(&e.CompanyID, &e.UserID, &e.Email, &e.AddedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AddEmployee reports false when the user was already on the roster.
func (r *Repository) AddEmployee(ctx context.Context, tx pgx.Tx, e Employee) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO company_employees (company_id, user_id, email)
		VALUES ($1, $2, $3)
		ON CONFLICT (company_id, user_id) DO NOTHING
	`, e.CompanyID, e.UserID, e.Email)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return false, ErrNotFound
		}
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) RemoveEmployee(ctx context.Context, tx pgx.Tx, companyID, userID string) (Employee, error) {
	e := Employee{CompanyID: companyID, UserID: userID}
	err := tx.QueryRow(ctx, `
		DELETE FROM company_employees
		WHERE company_id = $1 AND user_id = $2
		RETURNING email
	`, companyID, userID).Scan(&e.Email)
	if db.IsNotFound(err) {
		return Employee{}, ErrNotFound
	}
	return e, err
}

type AllowedRestaurant struct {
	RestaurantID string
	DistanceKM   *float64
}

func (r *Repository) ListAllowedRestaurants(ctx context.Context, companyID string) ([]AllowedRestaurant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT restaurant_id::text, distance_km
		FROM allowed_restaurants
		WHERE company_id = $1
		ORDER BY restaurant_id
	`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AllowedRestaurant
	for rows.Next() {
		var a AllowedRestaurant
		if err := rows.Scan(&a.RestaurantID, &a.DistanceKM); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ReplaceAllowedRestaurants swaps the whole list inside tx.
func (r *Repository) ReplaceAllowedRestaurants(ctx context.Context, tx pgx.Tx, companyID string, list []AllowedRestaurant) error {
	if _, err := tx.Exec(ctx, `DELETE FROM allowed_restaurants WHERE company_id = $1`, companyID); err != nil {
		return err
	}
	for _, a := range list {
		if _, err := tx.Exec(ctx, `
			INSERT INTO allowed_restaurants (company_id, restaurant_id, distance_km)
			VALUES ($1, $2, $3)
		`, companyID, a.RestaurantID, a.DistanceKM); err != nil {
			if db.IsForeignKeyViolation(err) {
				return ErrNotFound
			}
			return err
		}
	}
	return nil
}

// Membership dates are calendar days formatted as YYYY-MM-DD.
type Membership struct {
	ID                   string
	CompanyID            string
	PlanType             string
	MealsPerWeek         int
	StartDate            string
	EndDate              string
	Status               string
	Provider             string
	StripeCustomerID     string
	StripeSubscriptionID string
	UpdatedAt            time.Time
}

const membershipColumns = `
	id::text, company_id::text, plan_type, meals_per_week,
	to_char(start_date, 'YYYY-MM-DD'), to_char(end_date, 'YYYY-MM-DD'), status, provider,
	COALESCE(stripe_customer_id, ''), COALESCE(stripe_subscription_id, ''), updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMembership(row rowScanner) (Membership, error) {
	var m Membership
	err := row.Scan(&m.ID, &m.CompanyID, &m.PlanType, &m.MealsPerWeek, &m.StartDate, &m.EndDate, &m.Status, &m.Provider, &m.StripeCustomerID, &m.StripeSubscriptionID, &m.UpdatedAt)
	if db.IsNotFound(err) {
		return Membership{}, ErrNotFound
	}
	return m, err
}

func (r *Repository) ActiveMembership(ctx context.Context, companyID string) (Membership, error) {
	return scanMembership(r.pool.QueryRow(ctx, `SELECT `+membershipColumns+` FROM memberships WHERE company_id = $1 AND status = 'active'`, companyID))
}

// ActiveMembershipForUpdate locks the company's active membership row, if any.
func (r *Repository) ActiveMembershipForUpdate(ctx context.Context, tx pgx.Tx, companyID string) (Membership, bool, error) {
	m, err := scanMembership(tx.QueryRow(ctx, `SELECT `+membershipColumns+` FROM memberships WHERE company_id = $1 AND status = 'active' FOR UPDATE`, companyID))
	if errors.Is(err, ErrNotFound) {
		return Membership{}, false, nil
	}
	return m, err == nil, err
}

func (r *Repository) GetMembershipForUpdate(ctx context.Context, tx pgx.Tx, id string) (Membership, error) {
	return scanMembership(tx.QueryRow(ctx, `SELECT `+membershipColumns+` FROM memberships WHERE id = $1 FOR UPDATE`, id))
}

func (r *Repository) MembershipBySubscription(ctx context.Context, tx pgx.Tx, stripeSubscriptionID string) (Membership, error) {
	return scanMembership(tx.QueryRow(ctx, `
		SELECT `+membershipColumns+` FROM memberships
		WHERE stripe_subscription_id = $1
		ORDER BY (status = 'active') DESC, updated_at DESC
		LIMIT 1
		FOR UPDATE
	`, stripeSubscriptionID))
}

func (r *Repository) InsertMembership(ctx context.Context, tx pgx.Tx, m Membership) (Membership, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO memberships (id, company_id, plan_type, meals_per_week, start_date, end_date, status, provider, stripe_customer_id, stripe_subscription_id)
		VALUES ($1, $2, $3, $4, $5::date, $6::date, $7, $8, $9, $10)
		RETURNING updated_at
	`, m.ID, m.CompanyID, m.PlanType, m.MealsPerWeek, m.StartDate, m.EndDate, m.Status, defaultIfEmpty(m.Provider, "local"), nullIfEmpty(m.StripeCustomerID), nullIfEmpty(m.StripeSubscriptionID)).Scan(&m.UpdatedAt)
	if db.IsForeignKeyViolation(err) {
		return Membership{}, ErrNotFound
	}
	return m, err
}

func (r *Repository) SetMembershipStatus(ctx context.Context, tx pgx.Tx, id, status string) error {
	_, err := tx.Exec(ctx, `UPDATE memberships SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	return err
}

func (r *Repository) listMemberships(ctx context.Context, sql string, args ...any) ([]Membership, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListStripeMemberships returns active memberships backed by a Stripe subscription.
func (r *Repository) ListStripeMemberships(ctx context.Context, limit int) ([]Membership, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.listMemberships(ctx, `
		SELECT `+membershipColumns+` FROM memberships
		WHERE status = 'active' AND provider = 'stripe' AND COALESCE(stripe_subscription_id, '') <> ''
		ORDER BY updated_at
		LIMIT $1
	`, limit)
}

// ListExpired returns active memberships whose end_date is before today.
func (r *Repository) ListExpired(ctx context.Context, today string, limit int) ([]Membership, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.listMemberships(ctx, `
		SELECT `+membershipColumns+` FROM memberships
		WHERE status = 'active' AND end_date < $1::date
		ORDER BY end_date
		LIMIT $2
	`, today, limit)
}

type CheckoutSession struct {
	SessionID            string
	CompanyID            string
	PlanType             string
	Status               string
	URL                  string
	StripeCustomerID     string
	StripeSubscriptionID string
	CreatedAt            time.Time
	UpdatedAt            time.Time
	CompletedAt          *time.Time
	ExpiredAt            *time.Time
}

func (r *Repository) UpsertCheckoutSession(ctx context.Context, tx pgx.Tx, s CheckoutSession) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO checkout_sessions (session_id, company_id, plan_type, status, url)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id)
		DO UPDATE SET company_id = EXCLUDED.company_id,
		              plan_type = EXCLUDED.plan_type,
		              status = EXCLUDED.status,
		              url = EXCLUDED.url,
		              updated_at = now()
	`, s.SessionID, s.CompanyID, s.PlanType, s.Status, nullIfEmpty(s.URL))
	return err
}

func (r *Repository) MarkCheckoutSessionCompleted(ctx context.Context, tx pgx.Tx, sessionID string, completedAt time.Time, customerID, subscriptionID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE checkout_sessions
		SET status = 'completed',
		    stripe_customer_id = $3,
		    stripe_subscription_id = $4,
		    completed_at = $2,
		    updated_at = now()
		WHERE session_id = $1
	`, sessionID, completedAt, nullIfEmpty(customerID), nullIfEmpty(subscriptionID))
	return err
}

func (r *Repository) MarkCheckoutSessionExpired(ctx context.Context, tx pgx.Tx, sessionID string, expiredAt time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE checkout_sessions
		SET status = 'expired', expired_at = $2, updated_at = now()
		WHERE session_id = $1 AND status <> 'completed'
	`, sessionID, expiredAt)
	return err
}

func (r *Repository) GetCheckoutSession(ctx context.Context, sessionID string) (CheckoutSession, error) {
	var s CheckoutSession
	err := r.pool.QueryRow(ctx, `
		SELECT session_id, company_id::text, plan_type, status, COALESCE(url, ''),
		       COALESCE(stripe_customer_id, ''), COALESCE(stripe_subscription_id, ''),
		       created_at, updated_at, completed_at, expired_at
		FROM checkout_sessions
		WHERE session_id = $1
	`, sessionID).Scan(&s.SessionID, &s.CompanyID, &s.PlanType, &s.Status, &s.URL,
		&s.StripeCustomerID, &s.StripeSubscriptionID, &s.CreatedAt, &s.UpdatedAt, &s.CompletedAt, &s.ExpiredAt)
	if db.IsNotFound(err) {
		return CheckoutSession{}, ErrNotFound
	}
	return s, err
}

type ProviderEvent struct {
	Provider        string
	ProviderEventID string
	EventType       string
	Payload         []byte
}

// InsertProviderEvent returns ErrDuplicateProviderEvent for a replayed event.
func (r *Repository) InsertProviderEvent(ctx context.Context, tx pgx.Tx, evt ProviderEvent) error {
	if !json.Valid(evt.Payload) {
		return errors.New("provider event payload is not JSON")
	}
	tag, err := tx.Exec(ctx, `
		INSERT INTO provider_events (provider, provider_event_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, provider_event_id) DO NOTHING
	`, evt.Provider, evt.ProviderEventID, evt.EventType, json.RawMessage(evt.Payload))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateProviderEvent
	}
	return nil
}

type AuditEvent struct {
	EventType string
	ActorType string
	ActorID   string
	CompanyID string
	Metadata  map[string]any
}

func (r *Repository) InsertAuditEvent(ctx context.Context, tx pgx.Tx, evt AuditEvent) error {
	metadata := evt.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO audit_events (event_type, actor_type, actor_id, company_id, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`, evt.EventType, defaultIfEmpty(evt.ActorType, "system"), nullIfEmpty(evt.ActorID), nullIfEmpty(evt.CompanyID), metadata)
	return err
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func defaultIfEmpty(s string, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
