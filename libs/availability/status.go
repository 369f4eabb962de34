package availability

import "time"

type Reason string

const (
	ReasonNone             Reason = ""
	ReasonWeekend          Reason = "weekend"
	ReasonHoursUnavailable Reason = "hours_unavailable"
	ReasonOutsideHours     Reason = "outside_hours"
)

// Status is Open, or Closed with a Reason.
type Status struct {
	Open   bool   `json:"open"`
	Reason Reason `json:"reason,omitempty"`
}

var Open = Status{Open: true}

func Closed(reason Reason) Status {
	return Status{Reason: reason}
}

// IsOrderableNow evaluates hours at now, in now's location. Weekends are
// checked before hours, so a restaurant without hours is still reported as
// closed for the weekend on Saturday and Sunday.
func IsOrderableNow(hours *HoursRange, now time.Time) Status {
	if IsWeekend(now) {
		return Closed(ReasonWeekend)
	}
	from, to, ok := hours.Minutes()
	if !ok {
		return Closed(ReasonHoursUnavailable)
	}
	cur := minuteOfDay(now)
	if from <= cur && cur <= to {
		return Open
	}
	return Closed(ReasonOutsideHours)
}

func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// Message is the line shown next to a restaurant.
func Message(hours *HoursRange, st Status) string {
	switch {
	case st.Open:
		if hours != nil {
			if until := FormatTime12h(hours.To); until != "" {
				return "Open for lunch until " + until
			}
		}
		return "Open for lunch"
	case st.Reason == ReasonWeekend:
		return "Closed on weekends"
	case st.Reason == ReasonOutsideHours && hours != nil:
		return "Lunch orders from " + FormatTime12h(hours.From) + " to " + FormatTime12h(hours.To)
	default:
		return "Lunch hours not available"
	}
}

// Evaluator lets handlers take the clock-free evaluation as a dependency.
type Evaluator interface {
	Status(hours *HoursRange, now time.Time) Status
}

type pure struct{}

func (pure) Status(hours *HoursRange, now time.Time) Status { return IsOrderableNow(hours, now) }

// Default evaluates with IsOrderableNow.
var Default Evaluator = pure{}
