package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// Repository works inside the consumer's transaction only.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

type Recipient struct {
	CompanyID string
	UserID    string
	Email     string
}

func (r *Repository) UpsertRecipient(ctx context.Context, tx pgx.Tx, rc Recipient) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO recipients (company_id, user_id, email)
		VALUES ($1, $2, $3)
		ON CONFLICT (company_id, user_id) DO UPDATE SET email = EXCLUDED.email
	`, rc.CompanyID, rc.UserID, rc.Email)
	return err
}

func (r *Repository) RemoveRecipient(ctx context.Context, tx pgx.Tx, companyID, userID string) error {
	_, err := tx.Exec(ctx, `DELETE FROM recipients WHERE company_id = $1 AND user_id = $2`, companyID, userID)
	return err
}

func (r *Repository) ListRecipients(ctx context.Context, tx pgx.Tx, companyID string) ([]Recipient, error) {
	rows, err := tx.Query(ctx, `
		SELECT company_id::text, user_id::text, email
		FROM recipients
		WHERE company_id = $1 AND email <> ''
		ORDER BY user_id
	`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Recipient
	for rows.Next() {
		var rc Recipient
		if err := rows.Scan(&rc.CompanyID, &rc.UserID, &rc.Email); err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

type Notification struct {
	EventID   string
	Kind      string
	UserID    string
	Recipient string
	Subject   string
}

// Claim records a pending notification and reports false when this event
// already produced one for the user.
func (r *Repository) Claim(ctx context.Context, tx pgx.Tx, n Notification) (int64, bool, error) {
	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO notifications (event_id, kind, user_id, recipient, subject)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id, user_id) DO NOTHING
		RETURNING id
	`, n.EventID, n.Kind, n.UserID, n.Recipient, n.Subject).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (r *Repository) MarkResult(ctx context.Context, tx pgx.Tx, id int64, status, provider, lastError string) error {
	_, err := tx.Exec(ctx, `
		UPDATE notifications
		SET status = $2, provider = $3, last_error = $4, updated_at = now()
		WHERE id = $1
	`, id, status, provider, lastError)
	return err
}
