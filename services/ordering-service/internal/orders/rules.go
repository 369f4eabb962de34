// Package orders decides whether an employee may take a meal and keeps the
// balance and transaction log consistent when they do.
package orders

import (
	"errors"
	"time"

	"github.com/md-rashed-zaman/lunchpass/libs/availability"
	"github.com/md-rashed-zaman/lunchpass/libs/entitlement"
	"github.com/md-rashed-zaman/lunchpass/services/ordering-service/internal/storage"
)

var (
	ErrRestaurantNotFound = errors.New("restaurant not available for this company")
	ErrMenuItemNotFound   = errors.New("menu item not found")
	ErrNotServedToday     = errors.New("menu item is not served today")
	ErrNoMembership       = errors.New("company has no active membership")
	ErrNoBalance          = errors.New("no active meal balance")
	ErrBalanceExhausted   = errors.New("meal balance exhausted")
	ErrWeeklyLimit        = errors.New("weekly meal limit reached")
	ErrClosed             = errors.New("restaurant is not taking lunch orders")
)

// ClosedError carries the availability verdict behind ErrClosed.
type ClosedError struct {
	Status  availability.Status
	Message string
}

func (e *ClosedError) Error() string {
	return ErrClosed.Error() + ": " + string(e.Status.Reason)
}

func (e *ClosedError) Unwrap() error { return ErrClosed }

// CheckRestaurant validates the restaurant half of an order. rs is nil when
// the restaurant is not on the company's list. A nil ev means
// availability.Default.
func CheckRestaurant(ev availability.Evaluator, rs *storage.Restaurant, m *storage.Membership, now time.Time) error {
	if m == nil || !m.Active() {
		return ErrNoMembership
	}
	if rs == nil || !rs.Active || !entitlement.IsRestaurantVisibleForTier(rs.Tier, m.PlanType) {
		return ErrRestaurantNotFound
	}
	st := evaluator(ev).Status(rs.Hours, now)
	if !st.Open {
		return &ClosedError{Status: st, Message: availability.Message(rs.Hours, st)}
	}
	return nil
}

func evaluator(ev availability.Evaluator) availability.Evaluator {
	if ev == nil {
		return availability.Default
	}
	return ev
}

// CheckMenuItem validates an optional menu item. item is nil when not found.
func CheckMenuItem(item *storage.MenuItem, now time.Time) error {
	if item == nil || !item.Active {
		return ErrMenuItemNotFound
	}
	if !availability.ServedOn(item.Days, now) {
		return ErrNotServedToday
	}
	return nil
}

// CheckBalance validates the balance half of an order. consumedThisWeek
// counts the meals taken from b's membership since Monday.
func CheckBalance(b *storage.Balance, consumedThisWeek int, now time.Time) error {
	if b == nil || b.Status != "open" {
		return ErrNoBalance
	}
	p, err := entitlement.PeriodFromDates(b.PeriodStart, b.PeriodEnd, now.Location())
	if err != nil || !p.Contains(now) {
		return ErrNoBalance
	}
	if b.RemainingMeals <= 0 {
		return ErrBalanceExhausted
	}
	if consumedThisWeek >= b.MealsPerWeek {
		return ErrWeeklyLimit
	}
	return nil
}

// RejectReason is the metric label for a refused order.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, ErrClosed):
		var ce *ClosedError
		if errors.As(err, &ce) {
			return "closed_" + string(ce.Status.Reason)
		}
		return "closed"
	case errors.Is(err, ErrRestaurantNotFound):
		return "restaurant_not_found"
	case errors.Is(err, ErrMenuItemNotFound):
		return "menu_item_not_found"
	case errors.Is(err, ErrNotServedToday):
		return "not_served_today"
	case errors.Is(err, ErrNoMembership):
		return "no_membership"
	case errors.Is(err, ErrNoBalance):
		return "no_balance"
	case errors.Is(err, ErrBalanceExhausted):
		return "balance_exhausted"
	case errors.Is(err, ErrWeeklyLimit):
		return "weekly_limit"
	default:
		return "error"
	}
}
