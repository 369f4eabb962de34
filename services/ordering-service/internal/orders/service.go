package orders

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/lunchpass/libs/availability"
	"github.com/md-rashed-zaman/lunchpass/libs/db"
	"github.com/md-rashed-zaman/lunchpass/libs/entitlement"
	"github.com/md-rashed-zaman/lunchpass/libs/events"
	"github.com/md-rashed-zaman/lunchpass/libs/metrics"
	"github.com/md-rashed-zaman/lunchpass/libs/outbox"
	"github.com/md-rashed-zaman/lunchpass/services/ordering-service/internal/storage"
)

var (
	mealsConsumed  = metrics.NewCounterVec("ordering", "meals_consumed_total", "Meals taken, by membership plan.", "plan_type")
	ordersRejected = metrics.NewCounterVec("ordering", "orders_rejected_total", "Orders refused, by reason.", "reason")
)

// ErrDuplicateKey means another order with the idempotency key won a race.
var ErrDuplicateKey = errors.New("idempotency key already used")

// Store is the slice of storage.Repository the service reads and writes.
type Store interface {
	InTx(ctx context.Context, fn func(pgx.Tx) error) error
	OpenBalance(ctx context.Context, userID, companyID string) (storage.Balance, error)
	OpenBalanceForUpdate(ctx context.Context, tx pgx.Tx, userID, companyID string) (storage.Balance, error)
	ListOpenBalances(ctx context.Context, companyID string) (map[string]storage.Balance, error)
	DecrementBalance(ctx context.Context, tx pgx.Tx, userID, membershipID string) (int, error)
	InsertTransaction(ctx context.Context, tx pgx.Tx, t storage.Transaction) (storage.Transaction, error)
	TransactionByIdempotencyKey(ctx context.Context, tx pgx.Tx, userID, key string) (storage.Transaction, error)
	CountConsumedSince(ctx context.Context, tx pgx.Tx, userID, membershipID string, since time.Time) (int, error)
	CountConsumed(ctx context.Context, userID, membershipID string, since time.Time) (int, error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]storage.Transaction, error)
	CompanyMembership(ctx context.Context, companyID string) (storage.Membership, error)
	CompanyMembershipTx(ctx context.Context, tx pgx.Tx, companyID string) (storage.Membership, error)
	ListRoster(ctx context.Context, companyID string) ([]storage.RosterEntry, error)
	RosterEmail(ctx context.Context, tx pgx.Tx, companyID, userID string) (string, error)
	ListAllowedRestaurants(ctx context.Context, companyID string) ([]storage.Restaurant, error)
	AllowedRestaurant(ctx context.Context, tx pgx.Tx, companyID, restaurantID string) (storage.Restaurant, error)
	MenuItem(ctx context.Context, tx pgx.Tx, restaurantID, itemID string) (storage.MenuItem, error)
}

// OutboxWriter stages an event in the caller's transaction.
type OutboxWriter interface {
	Insert(ctx context.Context, tx pgx.Tx, evt outbox.Event) error
}

type Service struct {
	repo   Store
	outbox OutboxWriter
	eval   availability.Evaluator
	loc    *time.Location
	now    func() time.Time
}

func New(repo Store, outboxRepo OutboxWriter, loc *time.Location) *Service {
	return &Service{repo: repo, outbox: outboxRepo, eval: availability.Default, loc: loc, now: time.Now}
}

type PlaceRequest struct {
	UserID         string
	CompanyID      string
	RestaurantID   string
	MenuItemID     string
	IdempotencyKey string
}

type Receipt struct {
	Transaction storage.Transaction
	Replayed    bool
}

// Place takes one meal from the employee's balance. The balance row is
// locked first, so a replayed idempotency key sees the committed original.
func (s *Service) Place(ctx context.Context, req PlaceRequest) (Receipt, error) {
	now := s.now().In(s.loc)
	var (
		out      Receipt
		planType string
	)
	err := s.repo.InTx(ctx, func(tx pgx.Tx) error {
		var bal *storage.Balance
		b, err := s.repo.OpenBalanceForUpdate(ctx, tx, req.UserID, req.CompanyID)
		switch {
		case err == nil:
			bal = &b
		case !errors.Is(err, storage.ErrNotFound):
			return err
		}

		if req.IdempotencyKey != "" {
			prev, err := s.repo.TransactionByIdempotencyKey(ctx, tx, req.UserID, req.IdempotencyKey)
			if err == nil {
				out = Receipt{Transaction: prev, Replayed: true}
				return nil
			}
			if !errors.Is(err, storage.ErrNotFound) {
				return err
			}
		}

		var membership *storage.Membership
		m, err := s.repo.CompanyMembershipTx(ctx, tx, req.CompanyID)
		switch {
		case err == nil:
			membership = &m
			planType = m.PlanType
		case !errors.Is(err, storage.ErrNotFound):
			return err
		}

		var restaurant *storage.Restaurant
		rs, err := s.repo.AllowedRestaurant(ctx, tx, req.CompanyID, req.RestaurantID)
		switch {
		case err == nil:
			restaurant = &rs
		case !errors.Is(err, storage.ErrNotFound):
			return err
		}
		if err := CheckRestaurant(s.eval, restaurant, membership, now); err != nil {
			return err
		}

		if req.MenuItemID != "" {
			var item *storage.MenuItem
			mi, err := s.repo.MenuItem(ctx, tx, req.RestaurantID, req.MenuItemID)
			switch {
			case err == nil:
				item = &mi
			case !errors.Is(err, storage.ErrNotFound):
				return err
			}
			if err := CheckMenuItem(item, now); err != nil {
				return err
			}
		}

		consumed := 0
		if bal != nil {
			consumed, err = s.repo.CountConsumedSince(ctx, tx, req.UserID, bal.MembershipID, entitlement.WeekStart(now))
			if err != nil {
				return err
			}
		}
		if err := CheckBalance(bal, consumed, now); err != nil {
			return err
		}

		remaining, err := s.repo.DecrementBalance(ctx, tx, req.UserID, bal.MembershipID)
		if errors.Is(err, storage.ErrNoMealsLeft) {
			return ErrBalanceExhausted
		}
		if err != nil {
			return err
		}
		t, err := s.repo.InsertTransaction(ctx, tx, storage.Transaction{
			UserID:         req.UserID,
			CompanyID:      req.CompanyID,
			MembershipID:   bal.MembershipID,
			RestaurantID:   req.RestaurantID,
			MenuItemID:     req.MenuItemID,
			RemainingMeals: remaining,
			IdempotencyKey: req.IdempotencyKey,
			ConsumedAt:     now.UTC(),
		})
		if db.IsUniqueViolation(err) {
			return ErrDuplicateKey
		}
		if err != nil {
			return err
		}

		email, err := s.repo.RosterEmail(ctx, tx, req.CompanyID, req.UserID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		evt, err := outbox.NewEvent(events.TopicOrder, "transaction", t.ID, events.MealConsumed, events.MealConsumedV1{
			TransactionID:  t.ID,
			UserID:         t.UserID,
			Email:          email,
			CompanyID:      t.CompanyID,
			RestaurantID:   t.RestaurantID,
			MenuItemID:     t.MenuItemID,
			RemainingMeals: remaining,
			ConsumedAt:     t.ConsumedAt.UTC(),
		})
		if err != nil {
			return err
		}
		if err := s.outbox.Insert(ctx, tx, evt); err != nil {
			return err
		}
		out = Receipt{Transaction: t}
		return nil
	})
	if err != nil {
		ordersRejected.WithLabelValues(RejectReason(err)).Inc()
		return Receipt{}, err
	}
	if !out.Replayed {
		mealsConsumed.WithLabelValues(planType).Inc()
	}
	return out, nil
}

func (s *Service) List(ctx context.Context, userID string, limit int) ([]storage.Transaction, error) {
	return s.repo.ListTransactions(ctx, userID, limit)
}

func (s *Service) activeMembership(ctx context.Context, companyID string) (storage.Membership, bool, error) {
	m, err := s.repo.CompanyMembership(ctx, companyID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Membership{}, false, nil
	}
	if err != nil {
		return storage.Membership{}, false, err
	}
	return m, m.Active(), nil
}

// Restaurants lists what the company's employees can order from right now.
func (s *Service) Restaurants(ctx context.Context, companyID string) ([]RestaurantView, error) {
	m, ok, err := s.activeMembership(ctx, companyID)
	if err != nil || !ok {
		return []RestaurantView{}, err
	}
	list, err := s.repo.ListAllowedRestaurants(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return VisibleRestaurants(s.eval, list, m.PlanType, s.now().In(s.loc)), nil
}

func (s *Service) Entitlement(ctx context.Context, userID, companyID string) (EntitlementView, error) {
	now := s.now().In(s.loc)
	m, ok, err := s.activeMembership(ctx, companyID)
	if err != nil {
		return EntitlementView{}, err
	}
	planType := ""
	if ok {
		planType = m.PlanType
	}
	b, err := s.repo.OpenBalance(ctx, userID, companyID)
	if errors.Is(err, storage.ErrNotFound) {
		return EntitlementOf(nil, planType, 0, now), nil
	}
	if err != nil {
		return EntitlementView{}, err
	}
	consumed, err := s.repo.CountConsumed(ctx, userID, b.MembershipID, entitlement.WeekStart(now))
	if err != nil {
		return EntitlementView{}, err
	}
	return EntitlementOf(&b, planType, consumed, now), nil
}

func (s *Service) EmployerEntitlements(ctx context.Context, companyID string) ([]EmployeeEntitlement, error) {
	roster, err := s.repo.ListRoster(ctx, companyID)
	if err != nil {
		return nil, err
	}
	balances, err := s.repo.ListOpenBalances(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return EmployerView(roster, balances, s.now().In(s.loc)), nil
}
