package availability

import (
	"fmt"
	"testing"
	"testing/quick"
	"time"
)

// 2024-01-03 is a Wednesday.
func wednesdayAt(h, m int) time.Time {
	return time.Date(2024, 1, 3, h, m, 0, 0, time.UTC)
}

func TestIsOrderableNow_BoundariesInclusive(t *testing.T) {
	hours := &HoursRange{From: "12:00", To: "14:00"}
	cases := []struct {
		h, m int
		want Status
	}{
		{11, 59, Closed(ReasonOutsideHours)},
		{12, 0, Open},
		{13, 30, Open},
		{14, 0, Open},
		{14, 1, Closed(ReasonOutsideHours)},
	}
	for _, tc := range cases {
		if got := IsOrderableNow(hours, wednesdayAt(tc.h, tc.m)); got != tc.want {
			t.Fatalf("%02d:%02d: got %+v, want %+v", tc.h, tc.m, got, tc.want)
		}
	}
}

func TestIsOrderableNow_IgnoresSeconds(t *testing.T) {
	hours := &HoursRange{From: "12:00", To: "14:00"}
	now := time.Date(2024, 1, 3, 14, 0, 59, 999, time.UTC)
	if got := IsOrderableNow(hours, now); !got.Open {
		t.Fatalf("14:00:59 should still be inside a window ending 14:00, got %+v", got)
	}
}

func TestIsOrderableNow_Weekend(t *testing.T) {
	hours := &HoursRange{From: "00:00", To: "23:59"}
	sat := time.Date(2024, 1, 6, 12, 0, 0, 0, time.UTC)
	sun := time.Date(2024, 1, 7, 12, 0, 0, 0, time.UTC)
	for _, now := range []time.Time{sat, sun} {
		if got := IsOrderableNow(hours, now); got != Closed(ReasonWeekend) {
			t.Fatalf("%s: got %+v", now.Weekday(), got)
		}
		if got := IsOrderableNow(nil, now); got != Closed(ReasonWeekend) {
			t.Fatalf("%s with nil hours: got %+v", now.Weekday(), got)
		}
	}
}

func TestIsOrderableNow_WeekendForAnyHours(t *testing.T) {
	sat := time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC)
	prop := func(fromMin, toMin uint16, offset uint32) bool {
		hours := &HoursRange{From: clock(int(fromMin) % 1440), To: clock(int(toMin) % 1440)}
		now := sat.Add(time.Duration(offset%(2*24*3600)) * time.Second)
		return IsOrderableNow(hours, now) == Closed(ReasonWeekend)
	}
	if err := quick.Check(prop, nil); err != nil {
		t.Fatal(err)
	}
}

func TestIsOrderableNow_HoursUnavailable(t *testing.T) {
	now := wednesdayAt(12, 30)
	for _, hours := range []*HoursRange{
		nil,
		{From: "", To: "14:00"},
		{From: "12:00", To: ""},
		{From: "noon", To: "14:00"},
		{From: "12:xx", To: "14:00"},
		{From: "25:00", To: "26:00"},
		{From: "12", To: "14"},
		{From: "12:00:xx", To: "14:00"},
		{From: "12:00:99", To: "14:00"},
		{From: "+12:00", To: "14:00"},
		{From: "-0:00", To: "14:00"},
		{From: "12: 00", To: "14:00"},
		{From: "012:00", To: "14:00"},
	} {
		if got := IsOrderableNow(hours, now); got != Closed(ReasonHoursUnavailable) {
			t.Fatalf("%+v: got %+v", hours, got)
		}
	}
}

func TestIsOrderableNow_InvertedWindowNeverOpen(t *testing.T) {
	hours := &HoursRange{From: "14:00", To: "12:00"}
	for _, now := range []time.Time{wednesdayAt(11, 0), wednesdayAt(13, 0), wednesdayAt(15, 0)} {
		if got := IsOrderableNow(hours, now); got != Closed(ReasonOutsideHours) {
			t.Fatalf("%s: got %+v", now.Format("15:04"), got)
		}
	}
}

func TestIsOrderableNow_AcceptsSeconds(t *testing.T) {
	hours := &HoursRange{From: "11:30:00", To: "14:00:00"}
	if got := IsOrderableNow(hours, wednesdayAt(11, 30)); !got.Open {
		t.Fatalf("expected open, got %+v", got)
	}
}

func TestIsOrderableNow_UsesLocationOfNow(t *testing.T) {
	berlin := time.FixedZone("CET", 3600)
	hours := &HoursRange{From: "12:00", To: "14:00"}
	now := time.Date(2024, 1, 3, 11, 30, 0, 0, time.UTC).In(berlin) // 12:30 local
	if got := IsOrderableNow(hours, now); !got.Open {
		t.Fatalf("expected open at 12:30 local, got %+v", got)
	}
}

func TestIsOrderableNow_Deterministic(t *testing.T) {
	prop := func(fromMin, toMin uint16, unix int32) bool {
		hours := &HoursRange{From: clock(int(fromMin) % 1440), To: clock(int(toMin) % 1440)}
		now := time.Unix(int64(unix), 0).UTC()
		return IsOrderableNow(hours, now) == IsOrderableNow(hours, now)
	}
	if err := quick.Check(prop, nil); err != nil {
		t.Fatal(err)
	}
}

func TestFormatTime12h(t *testing.T) {
	cases := map[string]string{
		"00:05":    "12:05 AM",
		"13:00":    "1:00 PM",
		"12:00":    "12:00 PM",
		"11:59":    "11:59 AM",
		"23:30:00": "11:30 PM",
		"":         "",
		"bogus":    "",
		"12:00:xx": "",
		"12:00:99": "",
		"+12:00":   "",
		"-0:00":    "",
		"9:05":     "9:05 AM",
	}
	for in, want := range cases {
		if got := FormatTime12h(in); got != want {
			t.Fatalf("FormatTime12h(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMessage(t *testing.T) {
	hours := &HoursRange{From: "12:00", To: "14:30"}
	cases := []struct {
		st   Status
		h    *HoursRange
		want string
	}{
		{Open, hours, "Open for lunch until 2:30 PM"},
		{Closed(ReasonWeekend), hours, "Closed on weekends"},
		{Closed(ReasonOutsideHours), hours, "Lunch orders from 12:00 PM to 2:30 PM"},
		{Closed(ReasonHoursUnavailable), nil, "Lunch hours not available"},
	}
	for _, tc := range cases {
		if got := Message(tc.h, tc.st); got != tc.want {
			t.Fatalf("Message(%+v) = %q, want %q", tc.st, got, tc.want)
		}
	}
}

func TestValidate(t *testing.T) {
	if err := (HoursRange{From: "12:00", To: "14:00"}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, r := range []HoursRange{{From: "14:00", To: "12:00"}, {From: "12:00", To: "12:00"}, {From: "x", To: "12:00"}} {
		if err := r.Validate(); err == nil {
			t.Fatalf("%+v: expected error", r)
		}
	}
}

func TestDefaultEvaluator(t *testing.T) {
	hours := &HoursRange{From: "12:00", To: "14:00"}
	now := wednesdayAt(12, 0)
	if Default.Status(hours, now) != IsOrderableNow(hours, now) {
		t.Fatal("Default must match IsOrderableNow")
	}
}

func clock(mins int) string {
	return fmt.Sprintf("%02d:%02d", mins/60, mins%60)
}
