// Package availability decides whether a restaurant takes lunch orders at a
// given instant. Every function is pure; callers pass the evaluation time.
package availability

import (
	"fmt"
	"strings"
	"time"
)

// HoursRange is an inclusive daily window in 24-hour HH:MM. A nil
// *HoursRange means no hours are configured.
type HoursRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ParseClock returns minutes since midnight for "HH:MM" or "HH:MM:SS".
// Each part is one or two ASCII digits. Seconds must be valid but are ignored.
func ParseClock(hhmm string) (int, bool) {
	parts := strings.Split(strings.TrimSpace(hhmm), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	limits := []int{23, 59, 59}
	vals := make([]int, len(parts))
	for i, p := range parts {
		n, ok := clockPart(p)
		if !ok || n > limits[i] {
			return 0, false
		}
		vals[i] = n
	}
	return vals[0]*60 + vals[1], true
}

func clockPart(p string) (int, bool) {
	if len(p) == 0 || len(p) > 2 {
		return 0, false
	}
	n := 0
	for _, c := range []byte(p) {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

// Minutes returns the window bounds in minutes since midnight. ok is false
// when the range is nil or either bound is empty or malformed.
func (r *HoursRange) Minutes() (from, to int, ok bool) {
	if r == nil || r.From == "" || r.To == "" {
		return 0, 0, false
	}
	from, okFrom := ParseClock(r.From)
	to, okTo := ParseClock(r.To)
	if !okFrom || !okTo {
		return 0, 0, false
	}
	return from, to, true
}

// Validate is used on writes. Stored data is never validated on read.
func (r HoursRange) Validate() error {
	from, ok := ParseClock(r.From)
	if !ok {
		return fmt.Errorf("from must be HH:MM (got %q)", r.From)
	}
	to, ok := ParseClock(r.To)
	if !ok {
		return fmt.Errorf("to must be HH:MM (got %q)", r.To)
	}
	if from >= to {
		return fmt.Errorf("from %s must be before to %s", r.From, r.To)
	}
	return nil
}

// FormatTime12h renders "13:05" as "1:05 PM". Empty or malformed input yields "".
func FormatTime12h(hhmm string) string {
	mins, ok := ParseClock(hhmm)
	if !ok {
		return ""
	}
	h, m := mins/60, mins%60
	suffix := "AM"
	if h >= 12 {
		suffix = "PM"
	}
	h %= 12
	if h == 0 {
		h = 12
	}
	return fmt.Sprintf("%d:%02d %s", h, m, suffix)
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}
