package entitlement

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Period is a membership or balance window. End is inclusive.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && !t.After(p.End)
}

// ParseDate reads an ISO calendar date as midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(dateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return t, nil
}

// PeriodFromDates spans from midnight of start to the last millisecond of
// end, so both calendar dates are part of the period.
func PeriodFromDates(start, end string, loc *time.Location) (Period, error) {
	s, err := ParseDate(start, loc)
	if err != nil {
		return Period{}, err
	}
	e, err := ParseDate(end, loc)
	if err != nil {
		return Period{}, err
	}
	if e.Before(s) {
		return Period{}, fmt.Errorf("end date %s is before start date %s", end, start)
	}
	return PeriodOf(s, e), nil
}

// PeriodOf builds a period from two calendar days already loaded as times.
func PeriodOf(startDay, endDay time.Time) Period {
	y, m, d := startDay.Date()
	return Period{
		Start: time.Date(y, m, d, 0, 0, 0, 0, startDay.Location()),
		End:   endOfDay(endDay, 0),
	}
}

// FormatDate renders the calendar date of t.
func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}
