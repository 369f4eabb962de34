package availability

import (
	"strings"
	"time"
)

var (
	weekdayNames = [7]string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}
	// German display names, indexed like time.Weekday.
	weekdayNamesDE = [7]string{"SONNTAG", "MONTAG", "DIENSTAG", "MITTWOCH", "DONNERSTAG", "FREITAG", "SAMSTAG"}
)

// WeekdayName is the lowercase English day, the key menu items are tagged with.
func WeekdayName(now time.Time) string {
	return weekdayNames[now.Weekday()]
}

func WeekdayNameDE(now time.Time) string {
	return weekdayNamesDE[now.Weekday()]
}

// ParseWeekday accepts the lowercase names WeekdayName produces, in any case.
func ParseWeekday(name string) (time.Weekday, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range weekdayNames {
		if n == name {
			return time.Weekday(i), true
		}
	}
	return 0, false
}

// ServedOn reports whether a menu item tagged with dayTags is on today's menu.
// Untagged items are served every day.
func ServedOn(dayTags []string, now time.Time) bool {
	return ServedOnDay(dayTags, WeekdayName(now))
}

// ServedOnDay matches tags against a lowercase day name.
func ServedOnDay(dayTags []string, day string) bool {
	if len(dayTags) == 0 {
		return true
	}
	for _, tag := range dayTags {
		if strings.EqualFold(strings.TrimSpace(tag), day) {
			return true
		}
	}
	return false
}

// NormalizeDayTags lowercases and dedupes tags, rejecting unknown day names.
func NormalizeDayTags(tags []string) ([]string, bool) {
	seen := map[string]bool{}
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		wd, ok := ParseWeekday(tag)
		if !ok {
			return nil, false
		}
		name := weekdayNames[wd]
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out, true
}
