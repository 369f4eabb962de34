package entitlement

import (
	"testing"
	"testing/quick"
	"time"
)

var (
	year2024Start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	year2024End   = time.Date(2024, 12, 31, 23, 59, 59, 0, time.UTC)
)

// January 2024: Mon 1st, Wed 3rd, Fri 5th, Sat 6th, Sun 7th.
func jan(day, hour int) time.Time {
	return time.Date(2024, 1, day, hour, 0, 0, 0, time.UTC)
}

func TestWeekStart(t *testing.T) {
	cases := map[int]int{1: 1, 3: 1, 5: 1, 6: 1, 7: 1, 8: 8}
	for day, wantMonday := range cases {
		got := WeekStart(jan(day, 15))
		if !got.Equal(time.Date(2024, 1, wantMonday, 0, 0, 0, 0, time.UTC)) {
			t.Fatalf("WeekStart(Jan %d) = %s", day, got)
		}
	}
}

func TestWeekStart_KeepsLocation(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	// 2024-01-07 23:30 UTC is Monday 00:30 in CET.
	now := time.Date(2024, 1, 7, 23, 30, 0, 0, time.UTC).In(loc)
	got := WeekStart(now)
	if got.Location() != loc || got.Day() != 8 || got.Hour() != 0 {
		t.Fatalf("WeekStart = %s", got)
	}
}

func TestWeeklyMealsRemaining_Allotment(t *testing.T) {
	cases := []struct {
		day  int
		want int
	}{
		{1, 3}, // Monday: five weekdays left, capped at 3
		{3, 3}, // Wednesday: Wed, Thu, Fri
		{4, 2},
		{5, 1},
		{6, 0}, // Saturday
		{7, 0}, // Sunday
	}
	for _, tc := range cases {
		if got := WeeklyMealsRemaining(year2024Start, year2024End, 3, jan(tc.day, 12)); got != tc.want {
			t.Fatalf("Jan %d: got %d, want %d", tc.day, got, tc.want)
		}
	}
}

func TestWeeklyMealsRemaining_BelowCap(t *testing.T) {
	if got := WeeklyMealsRemaining(year2024Start, year2024End, 10, jan(1, 9)); got != 5 {
		t.Fatalf("got %d, want 5 weekdays", got)
	}
	if got := WeeklyMealsRemaining(year2024Start, year2024End, 0, jan(3, 9)); got != 0 {
		t.Fatalf("got %d, want 0", got)
	}
}

func TestWeeklyMealsRemaining_NoOverlap(t *testing.T) {
	// Period starts on the Saturday after the Mon-Fri week.
	start := time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	if got := WeeklyMealsRemaining(start, end, 3, jan(5, 12)); got != 0 {
		t.Fatalf("got %d, want 0", got)
	}
	// Period ended the week before.
	if got := WeeklyMealsRemaining(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC), 3, jan(3, 12)); got != 0 {
		t.Fatalf("got %d, want 0", got)
	}
}

func TestWeeklyMealsRemaining_PeriodTouchingWeekCounts(t *testing.T) {
	// A period that starts on Friday still overlaps the week, so Wednesday shows the cap.
	start := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	if got := WeeklyMealsRemaining(start, year2024End, 3, jan(3, 12)); got != 3 {
		t.Fatalf("got %d, want 3", got)
	}
}

func TestWeeklyMealsRemainingFromBalance(t *testing.T) {
	now := jan(3, 10)
	end := now.Add(28 * 24 * time.Hour)
	if got := WeeklyMealsRemainingFromBalance(now, end, 8, 3, now); got != 2 {
		t.Fatalf("got %d, want min(3, 8/4)=2", got)
	}
	if got := WeeklyMealsRemainingFromBalance(now, end, 20, 3, now); got != 3 {
		t.Fatalf("got %d, want cap 3", got)
	}
	if got := WeeklyMealsRemainingFromBalance(now, end, 3, 3, now); got != 0 {
		t.Fatalf("got %d, want floor(3/4)=0", got)
	}
}

func TestWeeklyMealsRemainingFromBalance_PartialWeekRoundsUp(t *testing.T) {
	now := jan(3, 10)
	end := now.Add(29 * 24 * time.Hour) // 4 weeks and a day -> 5 weeks
	if got := WeeklyMealsRemainingFromBalance(now, end, 10, 3, now); got != 2 {
		t.Fatalf("got %d, want 10/5=2", got)
	}
}

func TestWeeklyMealsRemainingFromBalance_PeriodOver(t *testing.T) {
	now := jan(3, 10)
	// Period ends earlier this week: overlapping, but no weeks remain.
	if got := WeeklyMealsRemainingFromBalance(jan(1, 0), jan(2, 0), 8, 3, now); got != 0 {
		t.Fatalf("got %d, want 0", got)
	}
	if got := WeeklyMealsRemainingFromBalance(jan(1, 0), now, 8, 3, now); got != 0 {
		t.Fatalf("end == now: got %d, want 0", got)
	}
	// Period in a previous month never overlaps.
	past := time.Date(2023, 11, 1, 0, 0, 0, 0, time.UTC)
	if got := WeeklyMealsRemainingFromBalance(past, past.AddDate(0, 1, 0), 8, 3, now); got != 0 {
		t.Fatalf("got %d, want 0", got)
	}
}

func TestWeeklyMealsRemainingFromBalance_SundayInWeek(t *testing.T) {
	// The balance week runs through Sunday; a period starting Sunday overlaps.
	sunday := jan(7, 0)
	end := sunday.Add(14 * 24 * time.Hour)
	if got := WeeklyMealsRemainingFromBalance(sunday, end, 6, 5, jan(3, 12)); got != 2 {
		t.Fatalf("got %d, want 6/ceil(~2.5w)=2", got)
	}
}

func TestWeeklyMealsRemainingFromBalance_NegativeBalance(t *testing.T) {
	now := jan(3, 10)
	if got := WeeklyMealsRemainingFromBalance(now, now.AddDate(0, 0, 7), -4, 3, now); got != 0 {
		t.Fatalf("got %d, want 0", got)
	}
}

func TestMonthlyMealsRemaining(t *testing.T) {
	for _, n := range []int{0, 1, 17} {
		if MonthlyMealsRemaining(n) != n {
			t.Fatalf("MonthlyMealsRemaining(%d) changed the value", n)
		}
	}
}

func TestPeriodAllotment(t *testing.T) {
	p, err := PeriodFromDates("2024-01-01", "2024-01-28", time.UTC)
	if err != nil {
		t.Fatalf("PeriodFromDates: %v", err)
	}
	if got := PeriodAllotment(p, 3); got != 12 {
		t.Fatalf("got %d, want 4 weeks * 3", got)
	}
	oneDay, _ := PeriodFromDates("2024-01-03", "2024-01-03", time.UTC)
	if got := PeriodAllotment(oneDay, 3); got != 3 {
		t.Fatalf("got %d, want 3", got)
	}
	if got := PeriodAllotment(p, 0); got != 0 {
		t.Fatalf("got %d, want 0", got)
	}
}

func TestWeeklyFunctionsAreDeterministic(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	prop := func(startOff, length, nowOff uint16, remaining, perWeek uint8) bool {
		start := base.Add(time.Duration(startOff) * time.Hour)
		end := start.Add(time.Duration(length) * time.Hour)
		now := base.Add(time.Duration(nowOff) * time.Hour)
		a := WeeklyMealsRemaining(start, end, int(perWeek), now)
		b := WeeklyMealsRemainingFromBalance(start, end, int(remaining), int(perWeek), now)
		return a == WeeklyMealsRemaining(start, end, int(perWeek), now) &&
			b == WeeklyMealsRemainingFromBalance(start, end, int(remaining), int(perWeek), now) &&
			a >= 0 && a <= int(perWeek) && b >= 0 && b <= int(perWeek)
	}
	if err := quick.Check(prop, nil); err != nil {
		t.Fatal(err)
	}
}
