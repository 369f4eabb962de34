// Package projections keeps ordering-service's local copies of membership,
// roster, restaurant and allowance state current from Kafka events.
package projections

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/lunchpass/libs/entitlement"
	"github.com/md-rashed-zaman/lunchpass/libs/events"
	"github.com/md-rashed-zaman/lunchpass/libs/inbox"
	"github.com/md-rashed-zaman/lunchpass/libs/kafkax"
	"github.com/md-rashed-zaman/lunchpass/services/ordering-service/internal/storage"
	"github.com/segmentio/kafka-go"
)

// Store is implemented by *storage.Repository.
type Store interface {
	UpsertMembership(ctx context.Context, tx pgx.Tx, m storage.Membership) error
	DeactivateMembership(ctx context.Context, tx pgx.Tx, companyID, membershipID string) error
	AddRosterEntry(ctx context.Context, tx pgx.Tx, e storage.RosterEntry) (bool, error)
	RemoveRosterEntry(ctx context.Context, tx pgx.Tx, companyID, userID string) error
	ListRosterTx(ctx context.Context, tx pgx.Tx, companyID string) ([]storage.RosterEntry, error)
	ReplaceAllowedRestaurants(ctx context.Context, tx pgx.Tx, companyID string, list []storage.AllowedRestaurant) error
	UpsertRestaurant(ctx context.Context, tx pgx.Tx, rs storage.Restaurant, updatedAt time.Time, menu []storage.MenuItem) (bool, error)
	OpenPeriod(ctx context.Context, tx pgx.Tx, p storage.Period) (bool, error)
	OpenPeriodForCompany(ctx context.Context, tx pgx.Tx, companyID string) (storage.Period, error)
	ClosePeriod(ctx context.Context, tx pgx.Tx, p storage.Period, at time.Time) (int64, error)
	EnsureBalance(ctx context.Context, tx pgx.Tx, b storage.Balance) (bool, error)
	CloseUserBalances(ctx context.Context, tx pgx.Tx, companyID, userID string, at time.Time) error
}

type Projector struct {
	store  Store
	logger *slog.Logger
	loc    *time.Location
	now    func() time.Time
}

func New(store Store, logger *slog.Logger, loc *time.Location) *Projector {
	return &Projector{store: store, logger: logger, loc: loc, now: time.Now}
}

// Topics are the topics Apply understands.
func Topics() []string {
	return []string{events.TopicMembership, events.TopicRestaurant, events.TopicAllowance}
}

// Apply dispatches on the event type. Undecodable payloads are logged and
// dropped; storage errors are returned so the consumer retries.
func (p *Projector) Apply() inbox.Apply {
	return func(ctx context.Context, tx pgx.Tx, meta kafkax.EventMeta, msg kafka.Message) error {
		var err error
		switch meta.EventType {
		case events.MembershipActivated, events.MembershipCanceled:
			err = decodeAnd(meta, msg, func(v events.MembershipV1) error { return p.membership(ctx, tx, meta.EventType, v) })
		case events.EmployeeAdded:
			err = decodeAnd(meta, msg, func(v events.EmployeeV1) error { return p.employeeAdded(ctx, tx, v) })
		case events.EmployeeRemoved:
			err = decodeAnd(meta, msg, func(v events.EmployeeV1) error { return p.employeeRemoved(ctx, tx, v) })
		case events.RestaurantsAllowed:
			err = decodeAnd(meta, msg, func(v events.AllowedRestaurantsV1) error { return p.allowed(ctx, tx, v) })
		case events.RestaurantUpdated:
			err = decodeAnd(meta, msg, func(v events.RestaurantUpdatedV1) error { return p.restaurant(ctx, tx, v) })
		case events.PeriodOpened:
			err = decodeAnd(meta, msg, func(v events.PeriodV1) error { return p.periodOpened(ctx, tx, v) })
		case events.PeriodClosed:
			err = decodeAnd(meta, msg, func(v events.PeriodV1) error { return p.periodClosed(ctx, tx, v) })
		default:
			return nil
		}
		var bad *badPayload
		if errors.As(err, &bad) {
			p.logger.Warn("event rejected", "event_id", meta.EventID, "event_type", meta.EventType, "err", bad.err)
			return nil
		}
		return err
	}
}

type badPayload struct{ err error }

func (b *badPayload) Error() string { return b.err.Error() }

func decodeAnd[T any](meta kafkax.EventMeta, msg kafka.Message, fn func(T) error) error {
	v, err := events.Decode[T](meta.EventType, msg.Value)
	if err != nil {
		return &badPayload{err: err}
	}
	return fn(v)
}

func (p *Projector) membership(ctx context.Context, tx pgx.Tx, eventType string, v events.MembershipV1) error {
	if v.CompanyID == "" || v.MembershipID == "" {
		return &badPayload{err: errors.New("membership event without ids")}
	}
	if eventType == events.MembershipCanceled {
		return p.store.DeactivateMembership(ctx, tx, v.CompanyID, v.MembershipID)
	}
	return p.store.UpsertMembership(ctx, tx, storage.Membership{
		CompanyID:    v.CompanyID,
		MembershipID: v.MembershipID,
		PlanType:     entitlement.NormalizeTier(v.PlanType),
		MealsPerWeek: v.MealsPerWeek,
		StartDate:    v.StartDate,
		EndDate:      v.EndDate,
		Status:       "active",
	})
}

// employeeAdded also grants a balance when the company's period is already
// open. The allotment then covers the rest of the period from the day the
// employee joined.
func (p *Projector) employeeAdded(ctx context.Context, tx pgx.Tx, v events.EmployeeV1) error {
	if v.CompanyID == "" || v.UserID == "" {
		return &badPayload{err: errors.New("employee event without ids")}
	}
	if _, err := p.store.AddRosterEntry(ctx, tx, storage.RosterEntry{CompanyID: v.CompanyID, UserID: v.UserID, Email: v.Email}); err != nil {
		return err
	}
	period, err := p.store.OpenPeriodForCompany(ctx, tx, v.CompanyID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	joined := v.OccurredAt
	if joined.IsZero() {
		joined = p.now()
	}
	b, ok := balanceFor(period, v.UserID, joined.In(p.loc), p.loc)
	if !ok {
		return nil
	}
	_, err = p.store.EnsureBalance(ctx, tx, b)
	return err
}

func (p *Projector) employeeRemoved(ctx context.Context, tx pgx.Tx, v events.EmployeeV1) error {
	if err := p.store.RemoveRosterEntry(ctx, tx, v.CompanyID, v.UserID); err != nil {
		return err
	}
	return p.store.CloseUserBalances(ctx, tx, v.CompanyID, v.UserID, eventTime(v.OccurredAt, p.now))
}

func (p *Projector) allowed(ctx context.Context, tx pgx.Tx, v events.AllowedRestaurantsV1) error {
	list := make([]storage.AllowedRestaurant, 0, len(v.Restaurants))
	for _, a := range v.Restaurants {
		list = append(list, storage.AllowedRestaurant{RestaurantID: a.RestaurantID, DistanceKM: a.DistanceKM})
	}
	return p.store.ReplaceAllowedRestaurants(ctx, tx, v.CompanyID, list)
}

func (p *Projector) restaurant(ctx context.Context, tx pgx.Tx, v events.RestaurantUpdatedV1) error {
	menu := make([]storage.MenuItem, 0, len(v.Menu))
	for _, m := range v.Menu {
		menu = append(menu, storage.MenuItem{
			ID:           m.ID,
			RestaurantID: v.RestaurantID,
			Name:         m.Name,
			PriceCents:   m.PriceCents,
			Days:         m.Days,
			Active:       m.Active,
		})
	}
	applied, err := p.store.UpsertRestaurant(ctx, tx, storage.Restaurant{
		ID:      v.RestaurantID,
		Name:    v.Name,
		Tier:    entitlement.NormalizeTier(v.Tier),
		Address: v.Address,
		Active:  v.Active,
		Hours:   v.LunchHours,
	}, v.UpdatedAt, menu)
	if err == nil && !applied {
		p.logger.Info("stale restaurant snapshot skipped", "restaurant_id", v.RestaurantID, "updated_at", v.UpdatedAt)
	}
	return err
}

func (p *Projector) periodOpened(ctx context.Context, tx pgx.Tx, v events.PeriodV1) error {
	period := periodOf(v)
	if _, err := entitlement.PeriodFromDates(period.StartDate, period.EndDate, p.loc); err != nil {
		return &badPayload{err: err}
	}
	fresh, err := p.store.OpenPeriod(ctx, tx, period)
	if err != nil || !fresh {
		return err
	}
	roster, err := p.store.ListRosterTx(ctx, tx, v.CompanyID)
	if err != nil {
		return err
	}
	opened := 0
	for _, e := range roster {
		b, ok := balanceFor(period, e.UserID, time.Time{}, p.loc)
		if !ok {
			continue
		}
		created, err := p.store.EnsureBalance(ctx, tx, b)
		if err != nil {
			return err
		}
		if created {
			opened++
		}
	}
	p.logger.Info("allowance period opened", "membership_id", v.MembershipID, "company_id", v.CompanyID, "balances", opened)
	return nil
}

func (p *Projector) periodClosed(ctx context.Context, tx pgx.Tx, v events.PeriodV1) error {
	n, err := p.store.ClosePeriod(ctx, tx, periodOf(v), eventTime(v.OccurredAt, p.now))
	if err != nil {
		return err
	}
	p.logger.Info("allowance period closed", "membership_id", v.MembershipID, "company_id", v.CompanyID, "balances", n)
	return nil
}

func periodOf(v events.PeriodV1) storage.Period {
	return storage.Period{
		MembershipID: v.MembershipID,
		CompanyID:    v.CompanyID,
		PlanType:     entitlement.NormalizeTier(v.PlanType),
		MealsPerWeek: v.MealsPerWeek,
		StartDate:    v.StartDate,
		EndDate:      v.EndDate,
	}
}

// balanceFor sizes a balance for the period. A zero from grants the whole
// period; otherwise the allotment runs from the later of from and the start.
func balanceFor(period storage.Period, userID string, from time.Time, loc *time.Location) (storage.Balance, bool) {
	p, err := entitlement.PeriodFromDates(period.StartDate, period.EndDate, loc)
	if err != nil {
		return storage.Balance{}, false
	}
	grant := p
	if !from.IsZero() && from.After(p.Start) {
		if from.After(p.End) {
			return storage.Balance{}, false
		}
		grant = entitlement.PeriodOf(from, p.End)
	}
	return storage.Balance{
		UserID:       userID,
		MembershipID: period.MembershipID,
		CompanyID:    period.CompanyID,
		PeriodStart:  period.StartDate,
		PeriodEnd:    period.EndDate,
		MealsPerWeek: period.MealsPerWeek,
		Allotted:     entitlement.PeriodAllotment(grant, period.MealsPerWeek),
	}, true
}

func eventTime(t time.Time, now func() time.Time) time.Time {
	if t.IsZero() {
		return now().UTC()
	}
	return t.UTC()
}
