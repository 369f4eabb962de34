package orders

import (
	"time"

	"github.com/md-rashed-zaman/lunchpass/libs/availability"
	"github.com/md-rashed-zaman/lunchpass/libs/entitlement"
	"github.com/md-rashed-zaman/lunchpass/services/ordering-service/internal/storage"
)

type RestaurantView struct {
	ID         string                   `json:"id"`
	Name       string                   `json:"name"`
	Tier       string                   `json:"tier"`
	Address    string                   `json:"address"`
	DistanceKM *float64                 `json:"distance_km"`
	LunchHours *availability.HoursRange `json:"lunch_hours"`
	Open       bool                     `json:"open"`
	Reason     availability.Reason      `json:"reason,omitempty"`
	Message    string                   `json:"message"`
}

// VisibleRestaurants keeps the active restaurants planType may see, nearest
// first, each with its current lunch status as judged by ev.
func VisibleRestaurants(ev availability.Evaluator, list []storage.Restaurant, planType string, now time.Time) []RestaurantView {
	ev = evaluator(ev)
	visible := make([]storage.Restaurant, 0, len(list))
	for _, rs := range list {
		if rs.Active && entitlement.IsRestaurantVisibleForTier(rs.Tier, planType) {
			visible = append(visible, rs)
		}
	}
	entitlement.SortByDistance(visible, func(rs storage.Restaurant) *float64 { return rs.DistanceKM })

	out := make([]RestaurantView, 0, len(visible))
	for _, rs := range visible {
		st := ev.Status(rs.Hours, now)
		out = append(out, RestaurantView{
			ID:         rs.ID,
			Name:       rs.Name,
			Tier:       rs.Tier,
			Address:    rs.Address,
			DistanceKM: rs.DistanceKM,
			LunchHours: rs.Hours,
			Open:       st.Open,
			Reason:     st.Reason,
			Message:    availability.Message(rs.Hours, st),
		})
	}
	return out
}

type PeriodView struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type EntitlementView struct {
	Status           string      `json:"status"`
	PlanType         string      `json:"plan_type,omitempty"`
	MealsPerWeek     int         `json:"meals_per_week"`
	RemainingMeals   int         `json:"remaining_meals"`
	WeeklyRemaining  int         `json:"weekly_remaining"`
	MonthlyRemaining int         `json:"monthly_remaining"`
	ConsumedThisWeek int         `json:"consumed_this_week"`
	Period           *PeriodView `json:"period,omitempty"`
	Weekday          string      `json:"weekday"`
	WeekdayDE        string      `json:"weekday_de"`
}

// EntitlementOf builds the employee's balance view. b is nil without an
// open balance.
func EntitlementOf(b *storage.Balance, planType string, consumedThisWeek int, now time.Time) EntitlementView {
	v := EntitlementView{
		Status:    "none",
		PlanType:  planType,
		Weekday:   availability.WeekdayName(now),
		WeekdayDE: availability.WeekdayNameDE(now),
	}
	if b == nil {
		return v
	}
	v.Status = "active"
	v.MealsPerWeek = b.MealsPerWeek
	v.RemainingMeals = b.RemainingMeals
	v.MonthlyRemaining = entitlement.MonthlyMealsRemaining(b.RemainingMeals)
	v.ConsumedThisWeek = consumedThisWeek
	v.Period = &PeriodView{Start: b.PeriodStart, End: b.PeriodEnd}
	if p, err := entitlement.PeriodFromDates(b.PeriodStart, b.PeriodEnd, now.Location()); err == nil {
		v.WeeklyRemaining = entitlement.WeeklyMealsRemainingFromBalance(p.Start, p.End, b.RemainingMeals, b.MealsPerWeek, now)
	}
	return v
}

type EmployeeEntitlement struct {
	UserID          string      `json:"user_id"`
	Email           string      `json:"email"`
	MealsPerWeek    int         `json:"meals_per_week"`
	WeeklyRemaining int         `json:"weekly_remaining"`
	RemainingMeals  int         `json:"remaining_meals"`
	Period          *PeriodView `json:"period,omitempty"`
}

// EmployerView lists every roster employee with the weekly allotment left
// and their balance. Employees without a balance show zeros.
func EmployerView(roster []storage.RosterEntry, balances map[string]storage.Balance, now time.Time) []EmployeeEntitlement {
	out := make([]EmployeeEntitlement, 0, len(roster))
	for _, e := range roster {
		row := EmployeeEntitlement{UserID: e.UserID, Email: e.Email}
		if b, ok := balances[e.UserID]; ok {
			row.MealsPerWeek = b.MealsPerWeek
			row.RemainingMeals = b.RemainingMeals
			row.Period = &PeriodView{Start: b.PeriodStart, End: b.PeriodEnd}
			if p, err := entitlement.PeriodFromDates(b.PeriodStart, b.PeriodEnd, now.Location()); err == nil {
				row.WeeklyRemaining = entitlement.WeeklyMealsRemaining(p.Start, p.End, b.MealsPerWeek, now)
			}
		}
		out = append(out, row)
	}
	return out
}
