package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/lunchpass/libs/db"
	"github.com/md-rashed-zaman/lunchpass/libs/events"
	"github.com/md-rashed-zaman/lunchpass/libs/outbox"
)

var (
	ErrNotFound   = errors.New("user not found")
	ErrEmailTaken = errors.New("email already registered")
)

type User struct {
	ID           string
	Email        string
	PasswordHash string
	Role         string
	CompanyID    string
	RestaurantID string
	CreatedAt    time.Time
}

type UserRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewUserRepository(pool *db.Pool, outboxRepo *outbox.Repository) *UserRepository {
	return &UserRepository{pool: pool, outbox: outboxRepo}
}

// Create inserts the user and its user.created event in one transaction.
func (r *UserRepository) Create(ctx context.Context, u User) (User, error) {
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO app_users (id, email, password_hash, role, company_id, restaurant_id)
			VALUES ($1, $2, $3, $4, NULLIF($5, '')::uuid, NULLIF($6, '')::uuid)
			RETURNING created_at
		`, u.ID, u.Email, u.PasswordHash, u.Role, u.CompanyID, u.RestaurantID).Scan(&u.CreatedAt)
		if db.IsUniqueViolation(err) {
			return ErrEmailTaken
		}
		if err != nil {
			return err
		}
		evt, err := outbox.NewEvent(events.TopicUser, "user", u.ID, events.UserCreated, events.UserCreatedV1{
			UserID:       u.ID,
			Email:        u.Email,
			Role:         u.Role,
			CompanyID:    u.CompanyID,
			RestaurantID: u.RestaurantID,
			CreatedAt:    u.CreatedAt.UTC(),
		})
		if err != nil {
			return err
		}
		return r.outbox.Insert(ctx, tx, evt)
	})
	return u, err
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (User, error) {
	return r.get(ctx, `WHERE email = $1`, email)
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (User, error) {
	return r.get(ctx, `WHERE id = $1`, id)
}

func (r *UserRepository) get(ctx context.Context, where string, arg string) (User, error) {
	var u User
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, email, password_hash, role, COALESCE(company_id::text, ''), COALESCE(restaurant_id::text, ''), created_at
		FROM app_users
		`+where, arg).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.CompanyID, &u.RestaurantID, &u.CreatedAt)
	if db.IsNotFound(err) {
		return User{}, ErrNotFound
	}
	return u, err
}
