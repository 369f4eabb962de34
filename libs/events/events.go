// Package events defines the Kafka topics, event types and JSON payloads
// exchanged between services. Payload structs are versioned by suffix; a
// breaking change adds a new struct rather than editing one.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/lunchpass/libs/availability"
)

const (
	TopicUser         = "user.events"
	TopicRestaurant   = "restaurant.events"
	TopicMembership   = "membership.events"
	TopicOrder        = "order.events"
	TopicAllowance    = "allowance.events"
	TopicAllowanceDLQ = "allowance.events.dlq"
)

const (
	UserCreated = "user.created"

	RestaurantUpdated = "restaurant.updated"

	MembershipActivated = "membership.activated"
	MembershipCanceled  = "membership.canceled"
	EmployeeAdded       = "company.employee_added"
	EmployeeRemoved     = "company.employee_removed"
	RestaurantsAllowed  = "company.restaurants_updated"

	MealConsumed = "meal.consumed"

	PeriodOpened = "allowance.period_opened"
	PeriodClosed = "allowance.period_closed"

	AllowanceJobFailed = "allowance.job_failed"
)

type UserCreatedV1 struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	Role         string    `json:"role"`
	CompanyID    string    `json:"company_id,omitempty"`
	RestaurantID string    `json:"restaurant_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type MenuItemV1 struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	PriceCents  int      `json:"price_cents"`
	Days        []string `json:"days"`
	Active      bool     `json:"active"`
}

// RestaurantUpdatedV1 carries the full restaurant state, so consumers replace
// their snapshot instead of patching it.
type RestaurantUpdatedV1 struct {
	RestaurantID string                   `json:"restaurant_id"`
	Name         string                   `json:"name"`
	Tier         string                   `json:"tier"`
	Address      string                   `json:"address"`
	Active       bool                     `json:"active"`
	LunchHours   *availability.HoursRange `json:"lunch_hours"`
	Menu         []MenuItemV1             `json:"menu"`
	UpdatedAt    time.Time                `json:"updated_at"`
}

// MembershipV1 is emitted on activation and cancellation. Dates are ISO
// calendar days in the company's lunch time zone.
type MembershipV1 struct {
	MembershipID string    `json:"membership_id"`
	CompanyID    string    `json:"company_id"`
	PlanType     string    `json:"plan_type"`
	MealsPerWeek int       `json:"meals_per_week"`
	StartDate    string    `json:"start_date"`
	EndDate      string    `json:"end_date"`
	Status       string    `json:"status"`
	OccurredAt   time.Time `json:"occurred_at"`
}

type EmployeeV1 struct {
	CompanyID  string    `json:"company_id"`
	UserID     string    `json:"user_id"`
	Email      string    `json:"email"`
	OccurredAt time.Time `json:"occurred_at"`
}

type AllowedRestaurantV1 struct {
	RestaurantID string   `json:"restaurant_id"`
	DistanceKM   *float64 `json:"distance_km"`
}

type AllowedRestaurantsV1 struct {
	CompanyID   string                `json:"company_id"`
	Restaurants []AllowedRestaurantV1 `json:"restaurants"`
	OccurredAt  time.Time             `json:"occurred_at"`
}

type MealConsumedV1 struct {
	TransactionID  string    `json:"transaction_id"`
	UserID         string    `json:"user_id"`
	Email          string    `json:"email,omitempty"`
	CompanyID      string    `json:"company_id"`
	RestaurantID   string    `json:"restaurant_id"`
	MenuItemID     string    `json:"menu_item_id,omitempty"`
	RemainingMeals int       `json:"remaining_meals"`
	ConsumedAt     time.Time `json:"consumed_at"`
}

// PeriodV1 marks a membership's balance period opening or closing.
type PeriodV1 struct {
	MembershipID string    `json:"membership_id"`
	CompanyID    string    `json:"company_id"`
	PlanType     string    `json:"plan_type"`
	MealsPerWeek int       `json:"meals_per_week"`
	StartDate    string    `json:"start_date"`
	EndDate      string    `json:"end_date"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// AllowanceJobFailedV1 is published to the dead letter topic once a period
// job runs out of attempts.
type AllowanceJobFailedV1 struct {
	Job      PeriodV1  `json:"job"`
	Kind     string    `json:"kind"`
	Attempts int       `json:"attempts"`
	Reason   string    `json:"error_reason"`
	FailedAt time.Time `json:"failed_at"`
}

// Decode unmarshals a payload of type T.
func Decode[T any](eventType string, payload []byte) (T, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", eventType, err)
	}
	return v, nil
}
