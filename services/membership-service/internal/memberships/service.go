// Package memberships applies membership state transitions and queues their
// events. HTTP handlers, webhooks and the reconciler all go through it.
package memberships

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/lunchpass/libs/entitlement"
	"github.com/md-rashed-zaman/lunchpass/libs/events"
	"github.com/md-rashed-zaman/lunchpass/libs/outbox"
	"github.com/md-rashed-zaman/lunchpass/services/membership-service/internal/plans"
	"github.com/md-rashed-zaman/lunchpass/services/membership-service/internal/storage"
)

var (
	ErrInvalid   = errors.New("invalid membership")
	ErrForbidden = errors.New("forbidden")
)

type Service struct {
	repo    *storage.Repository
	outbox  *outbox.Repository
	catalog *plans.Catalog
	loc     *time.Location
	now     func() time.Time
}

func New(repo *storage.Repository, outboxRepo *outbox.Repository, catalog *plans.Catalog, loc *time.Location) *Service {
	return &Service{repo: repo, outbox: outboxRepo, catalog: catalog, loc: loc, now: time.Now}
}

func (s *Service) Catalog() *plans.Catalog { return s.catalog }

// Activation describes a membership to start. Empty dates default to a plan
// period starting today; a nil MealsPerWeek takes the plan default.
type Activation struct {
	CompanyID            string
	PlanType             string
	MealsPerWeek         *int
	StartDate            string
	EndDate              string
	Provider             string
	StripeCustomerID     string
	StripeSubscriptionID string
}

// Resolve fills defaults from the catalog and validates the period.
func (s *Service) Resolve(a Activation) (storage.Membership, error) {
	plan, err := s.catalog.Lookup(a.PlanType)
	if err != nil {
		return storage.Membership{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	m := storage.Membership{
		CompanyID:            strings.TrimSpace(a.CompanyID),
		PlanType:             plan.Type,
		MealsPerWeek:         plan.MealsPerWeek,
		StartDate:            strings.TrimSpace(a.StartDate),
		EndDate:              strings.TrimSpace(a.EndDate),
		Status:               storage.StatusActive,
		Provider:             a.Provider,
		StripeCustomerID:     a.StripeCustomerID,
		StripeSubscriptionID: a.StripeSubscriptionID,
	}
	if m.CompanyID == "" {
		return storage.Membership{}, fmt.Errorf("%w: company_id is required", ErrInvalid)
	}
	if a.MealsPerWeek != nil {
		if *a.MealsPerWeek < 0 {
			return storage.Membership{}, fmt.Errorf("%w: meals_per_week must not be negative", ErrInvalid)
		}
		m.MealsPerWeek = *a.MealsPerWeek
	}
	if m.StartDate == "" {
		m.StartDate = entitlement.FormatDate(s.now().In(s.loc))
	}
	start, err := entitlement.ParseDate(m.StartDate, s.loc)
	if err != nil {
		return storage.Membership{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if m.EndDate == "" {
		m.EndDate = entitlement.FormatDate(start.AddDate(0, 0, plan.PeriodDays-1))
	}
	if _, err := entitlement.PeriodFromDates(m.StartDate, m.EndDate, s.loc); err != nil {
		return storage.Membership{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return m, nil
}

// Activate makes a the company's active membership inside tx. An identical
// active membership is left alone and changed is false; any other active one
// is canceled first.
func (s *Service) Activate(ctx context.Context, tx pgx.Tx, a Activation) (m storage.Membership, changed bool, err error) {
	want, err := s.Resolve(a)
	if err != nil {
		return storage.Membership{}, false, err
	}
	existing, ok, err := s.repo.ActiveMembershipForUpdate(ctx, tx, want.CompanyID)
	if err != nil {
		return storage.Membership{}, false, err
	}
	if ok {
		if sameEntitlement(existing, want) {
			return existing, false, nil
		}
		if err := s.cancel(ctx, tx, existing); err != nil {
			return storage.Membership{}, false, err
		}
	}

	m, err = s.repo.InsertMembership(ctx, tx, want)
	if err != nil {
		return storage.Membership{}, false, err
	}
	if err := s.repo.SetStripeCustomer(ctx, tx, m.CompanyID, m.StripeCustomerID); err != nil {
		return storage.Membership{}, false, err
	}
	return m, true, s.emit(ctx, tx, events.MembershipActivated, m)
}

// Cancel deactivates m inside tx. Inactive memberships are left alone.
func (s *Service) Cancel(ctx context.Context, tx pgx.Tx, m storage.Membership) error {
	if m.Status != storage.StatusActive {
		return nil
	}
	return s.cancel(ctx, tx, m)
}

func (s *Service) cancel(ctx context.Context, tx pgx.Tx, m storage.Membership) error {
	if err := s.repo.SetMembershipStatus(ctx, tx, m.ID, storage.StatusInactive); err != nil {
		return err
	}
	m.Status = storage.StatusInactive
	return s.emit(ctx, tx, events.MembershipCanceled, m)
}

func sameEntitlement(a, b storage.Membership) bool {
	return a.PlanType == b.PlanType &&
		a.MealsPerWeek == b.MealsPerWeek &&
		a.StartDate == b.StartDate &&
		a.EndDate == b.EndDate
}

func (s *Service) emit(ctx context.Context, tx pgx.Tx, eventType string, m storage.Membership) error {
	evt, err := outbox.NewEvent(events.TopicMembership, "membership", m.CompanyID, eventType, events.MembershipV1{
		MembershipID: m.ID,
		CompanyID:    m.CompanyID,
		PlanType:     m.PlanType,
		MealsPerWeek: m.MealsPerWeek,
		StartDate:    m.StartDate,
		EndDate:      m.EndDate,
		Status:       m.Status,
		OccurredAt:   s.now().UTC(),
	})
	if err != nil {
		return err
	}
	return s.outbox.Insert(ctx, tx, evt)
}

func (s *Service) Current(ctx context.Context, companyID string) (storage.Membership, error) {
	return s.repo.ActiveMembership(ctx, companyID)
}

// ActivateDirect activates without a payment provider, recording who did it.
func (s *Service) ActivateDirect(ctx context.Context, a Activation, actorID string) (storage.Membership, error) {
	var m storage.Membership
	err := s.repo.InTx(ctx, func(tx pgx.Tx) error {
		var err error
		m, _, err = s.Activate(ctx, tx, a)
		if err != nil {
			return err
		}
		return s.repo.InsertAuditEvent(ctx, tx, storage.AuditEvent{
			EventType: "membership.activated.direct",
			ActorType: "super_admin",
			ActorID:   actorID,
			CompanyID: m.CompanyID,
			Metadata:  map[string]any{"membership_id": m.ID, "plan_type": m.PlanType},
		})
	})
	return m, err
}

// CancelByID cancels one membership. allow is consulted with the company
// before anything changes.
func (s *Service) CancelByID(ctx context.Context, id string, allow func(companyID string) bool, actorID string) (storage.Membership, error) {
	var m storage.Membership
	err := s.repo.InTx(ctx, func(tx pgx.Tx) error {
		var err error
		m, err = s.repo.GetMembershipForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if allow != nil && !allow(m.CompanyID) {
			return ErrForbidden
		}
		if err := s.Cancel(ctx, tx, m); err != nil {
			return err
		}
		m.Status = storage.StatusInactive
		return s.repo.InsertAuditEvent(ctx, tx, storage.AuditEvent{
			EventType: "membership.canceled",
			ActorType: "user",
			ActorID:   actorID,
			CompanyID: m.CompanyID,
			Metadata:  map[string]any{"membership_id": m.ID},
		})
	})
	return m, err
}

// ExpireDue deactivates memberships that ended before today and reports how
// many it closed.
func (s *Service) ExpireDue(ctx context.Context, limit int) (int, error) {
	today := entitlement.FormatDate(s.now().In(s.loc))
	due, err := s.repo.ListExpired(ctx, today, limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range due {
		err := s.repo.InTx(ctx, func(tx pgx.Tx) error {
			cur, err := s.repo.GetMembershipForUpdate(ctx, tx, m.ID)
			if err != nil {
				return err
			}
			return s.Cancel(ctx, tx, cur)
		})
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
