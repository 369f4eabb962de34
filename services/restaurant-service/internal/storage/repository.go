package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/lunchpass/libs/availability"
	"github.com/md-rashed-zaman/lunchpass/libs/db"
	"github.com/md-rashed-zaman/lunchpass/libs/events"
	"github.com/md-rashed-zaman/lunchpass/libs/outbox"
)

var ErrNotFound = errors.New("not found")

type Repository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool, outbox: outbox.NewRepository()}
}

type Restaurant struct {
	ID        string
	Name      string
	Tier      string
	Address   string
	Active    bool
	Hours     *availability.HoursRange
	UpdatedAt time.Time
}

type MenuItem struct {
	ID           string
	RestaurantID string
	Name         string
	Description  string
	PriceCents   int
	Days         []string
	Active       bool
}

type RestaurantInput struct {
	Name    string
	Tier    string
	Address string
	Active  bool
}

type MenuItemInput struct {
	Name        string
	Description string
	PriceCents  int
	Days        []string
	Active      bool
}

const restaurantColumns = `id::text, name, tier, address, active, hours_from, hours_to, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRestaurant(row rowScanner) (Restaurant, error) {
	var (
		rs       Restaurant
		from, to *string
	)
	if err := row.Scan(&rs.ID, &rs.Name, &rs.Tier, &rs.Address, &rs.Active, &from, &to, &rs.UpdatedAt); err != nil {
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

func (r *Repository) GetRestaurant(ctx context.Context, id string) (Restaurant, error) {
	return scanRestaurant(r.pool.QueryRow(ctx, `SELECT `+restaurantColumns+` FROM restaurants WHERE id = $1`, id))
}

func (r *Repository) ListRestaurants(ctx context.Context, limit int) ([]Restaurant, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT `+restaurantColumns+` FROM restaurants ORDER BY name LIMIT $1`, limit)
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

func (r *Repository) CreateRestaurant(ctx context.Context, in RestaurantInput) (Restaurant, error) {
	id := uuid.NewString()
	var out Restaurant
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO restaurants (id, name, tier, address, active)
			VALUES ($1, $2, $3, $4, $5)
		`, id, in.Name, in.Tier, in.Address, in.Active)
		if err != nil {
			return err
		}
		out, err = r.publishSnapshot(ctx, tx, id)
		return err
	})
	return out, err
}

func (r *Repository) UpdateRestaurant(ctx context.Context, id string, in RestaurantInput) (Restaurant, error) {
	var out Restaurant
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE restaurants
			SET name = $2, tier = $3, address = $4, active = $5, updated_at = now()
			WHERE id = $1
		`, id, in.Name, in.Tier, in.Address, in.Active)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		out, err = r.publishSnapshot(ctx, tx, id)
		return err
	})
	return out, err
}

// SetHours stores the lunch window; nil clears it.
func (r *Repository) SetHours(ctx context.Context, id string, hours *availability.HoursRange) (Restaurant, error) {
	var from, to *string
	if hours != nil {
		from, to = &hours.From, &hours.To
	}
	var out Restaurant
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE restaurants SET hours_from = $2, hours_to = $3, updated_at = now()
			WHERE id = $1
		`, id, from, to)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		out, err = r.publishSnapshot(ctx, tx, id)
		return err
	})
	return out, err
}

func (r *Repository) ListMenu(ctx context.Context, restaurantID string) ([]MenuItem, error) {
	return listMenu(ctx, r.pool, restaurantID)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listMenu(ctx context.Context, q querier, restaurantID string) ([]MenuItem, error) {
	rows, err := q.Query(ctx, `
		SELECT id::text, restaurant_id::text, name, description, price_cents, days, active
		FROM menu_items
		WHERE restaurant_id = $1
		ORDER BY name, id
	`, restaurantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MenuItem
	for rows.Next() {
		var m MenuItem
		if err := rows.Scan(&m.ID, &m.RestaurantID, &m.Name, &m.Description, &m.PriceCents, &m.Days, &m.Active); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *Repository) CreateMenuItem(ctx context.Context, restaurantID string, in MenuItemInput) (MenuItem, error) {
	item := MenuItem{
		ID:           uuid.NewString(),
		RestaurantID: restaurantID,
		Name:         in.Name,
		Description:  in.Description,
		PriceCents:   in.PriceCents,
		Days:         in.Days,
		Active:       in.Active,
	}
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO menu_items (id, restaurant_id, name, description, price_cents, days, active)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, item.ID, restaurantID, in.Name, in.Description, in.PriceCents, in.Days, in.Active)
		if err != nil {
			if db.IsForeignKeyViolation(err) {
				return ErrNotFound
			}
			return err
		}
		_, err = r.publishSnapshot(ctx, tx, restaurantID)
		return err
	})
	return item, err
}

func (r *Repository) UpdateMenuItem(ctx context.Context, restaurantID, itemID string, in MenuItemInput) (MenuItem, error) {
	item := MenuItem{
		ID:           itemID,
		RestaurantID: restaurantID,
		Name:         in.Name,
		Description:  in.Description,
		PriceCents:   in.PriceCents,
		Days:         in.Days,
		Active:       in.Active,
	}
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE menu_items
			SET name = $3, description = $4, price_cents = $5, days = $6, active = $7, updated_at = now()
			WHERE id = $1 AND restaurant_id = $2
		`, itemID, restaurantID, in.Name, in.Description, in.PriceCents, in.Days, in.Active)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		_, err = r.publishSnapshot(ctx, tx, restaurantID)
		return err
	})
	return item, err
}

func (r *Repository) DeleteMenuItem(ctx context.Context, restaurantID, itemID string) error {
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM menu_items WHERE id = $1 AND restaurant_id = $2`, itemID, restaurantID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		_, err = r.publishSnapshot(ctx, tx, restaurantID)
		return err
	})
}

// publishSnapshot reloads the restaurant inside tx and queues a
// restaurant.updated event carrying its full state.
func (r *Repository) publishSnapshot(ctx context.Context, tx pgx.Tx, id string) (Restaurant, error) {
	rs, err := scanRestaurant(tx.QueryRow(ctx, `SELECT `+restaurantColumns+` FROM restaurants WHERE id = $1`, id))
	if err != nil {
		return Restaurant{}, err
	}
	menu, err := listMenu(ctx, tx, id)
	if err != nil {
		return Restaurant{}, err
	}
	evt, err := outbox.NewEvent(events.TopicRestaurant, "restaurant", id, events.RestaurantUpdated, Snapshot(rs, menu))
	if err != nil {
		return Restaurant{}, err
	}
	return rs, r.outbox.Insert(ctx, tx, evt)
}

func Snapshot(rs Restaurant, menu []MenuItem) events.RestaurantUpdatedV1 {
	items := make([]events.MenuItemV1, 0, len(menu))
	for _, m := range menu {
		days := m.Days
		if days == nil {
			days = []string{}
		}
		items = append(items, events.MenuItemV1{
			ID:          m.ID,
			Name:        m.Name,
			Description: m.Description,
			PriceCents:  m.PriceCents,
			Days:        days,
			Active:      m.Active,
		})
	}
	return events.RestaurantUpdatedV1{
		RestaurantID: rs.ID,
		Name:         rs.Name,
		Tier:         rs.Tier,
		Address:      rs.Address,
		Active:       rs.Active,
		LunchHours:   rs.Hours,
		Menu:         items,
		UpdatedAt:    rs.UpdatedAt,
	}
}
