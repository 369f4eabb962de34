package memberships

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/lunchpass/services/membership-service/internal/storage"
)

type UpdateKind int

const (
	UpdateIgnore UpdateKind = iota
	UpdateActivate
	UpdateCancel
	UpdateSessionCompleted
	UpdateSessionExpired
)

// ProviderUpdate is a payment provider event reduced to what it means for a
// membership. Event is stored for dedupe before anything else happens.
type ProviderUpdate struct {
	Event      storage.ProviderEvent
	Kind       UpdateKind
	Activation Activation
	// CompanyID and StripeSubscriptionID locate the membership to cancel.
	CompanyID            string
	StripeSubscriptionID string
	SessionID            string
	OccurredAt           time.Time
}

// ApplyProviderUpdate records u.Event and applies the update in one
// transaction. duplicate is true when the event was seen before.
func (s *Service) ApplyProviderUpdate(ctx context.Context, u ProviderUpdate) (duplicate bool, err error) {
	err = s.repo.InTx(ctx, func(tx pgx.Tx) error {
		if err := s.repo.InsertProviderEvent(ctx, tx, u.Event); err != nil {
			return err
		}
		if err := s.repo.InsertAuditEvent(ctx, tx, storage.AuditEvent{
			EventType: "billing.provider." + u.Event.Provider + ".webhook",
			ActorType: "provider",
			CompanyID: u.Company(),
			Metadata: map[string]any{
				"provider_event_id": u.Event.ProviderEventID,
				"event_type":        u.Event.EventType,
				"occurred_at":       u.OccurredAt.UTC().Format(time.RFC3339),
			},
		}); err != nil {
			return err
		}
		return s.applyUpdate(ctx, tx, u)
	})
	if errors.Is(err, storage.ErrDuplicateProviderEvent) {
		return true, nil
	}
	return false, err
}

// Company is the company the update concerns.
func (u ProviderUpdate) Company() string {
	if u.Activation.CompanyID != "" {
		return u.Activation.CompanyID
	}
	return u.CompanyID
}

func (s *Service) applyUpdate(ctx context.Context, tx pgx.Tx, u ProviderUpdate) error {
	switch u.Kind {
	case UpdateActivate:
		if u.SessionID != "" {
			if err := s.repo.MarkCheckoutSessionCompleted(ctx, tx, u.SessionID, u.OccurredAt, u.Activation.StripeCustomerID, u.Activation.StripeSubscriptionID); err != nil {
				return err
			}
		}
		_, _, err := s.Activate(ctx, tx, u.Activation)
		return err

	case UpdateCancel:
		m, err := s.locateForCancel(ctx, tx, u)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return s.Cancel(ctx, tx, m)

	case UpdateSessionCompleted:
		if err := s.repo.SetStripeCustomer(ctx, tx, u.Activation.CompanyID, u.Activation.StripeCustomerID); err != nil {
			return err
		}
		return s.repo.MarkCheckoutSessionCompleted(ctx, tx, u.SessionID, u.OccurredAt, u.Activation.StripeCustomerID, u.Activation.StripeSubscriptionID)

	case UpdateSessionExpired:
		return s.repo.MarkCheckoutSessionExpired(ctx, tx, u.SessionID, u.OccurredAt)
	}
	return nil
}

func (s *Service) locateForCancel(ctx context.Context, tx pgx.Tx, u ProviderUpdate) (storage.Membership, error) {
	if u.StripeSubscriptionID != "" {
		return s.repo.MembershipBySubscription(ctx, tx, u.StripeSubscriptionID)
	}
	m, ok, err := s.repo.ActiveMembershipForUpdate(ctx, tx, u.CompanyID)
	if err != nil {
		return storage.Membership{}, err
	}
	if !ok {
		return storage.Membership{}, storage.ErrNotFound
	}
	return m, nil
}

func (s *Service) GetCheckoutSession(ctx context.Context, id string) (storage.CheckoutSession, error) {
	return s.repo.GetCheckoutSession(ctx, id)
}

// RecordCheckoutSession stores a freshly created provider session.
func (s *Service) RecordCheckoutSession(ctx context.Context, cs storage.CheckoutSession, actorID string) error {
	return s.repo.InTx(ctx, func(tx pgx.Tx) error {
		if err := s.repo.UpsertCheckoutSession(ctx, tx, cs); err != nil {
			return err
		}
		return s.repo.InsertAuditEvent(ctx, tx, storage.AuditEvent{
			EventType: "billing.checkout.created",
			ActorType: "user",
			ActorID:   actorID,
			CompanyID: cs.CompanyID,
			Metadata:  map[string]any{"plan_type": cs.PlanType, "session_id": cs.SessionID},
		})
	})
}
