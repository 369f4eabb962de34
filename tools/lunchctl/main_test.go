package main

import (
	"bytes"
	"strings"
	"testing"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestStatus(t *testing.T) {
	out, err := run(t, "status", "--from", "12:00", "--to", "14:00", "--at", "2025-01-15T12:30:00+01:00")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "open:    true") || !strings.Contains(out, "Open for lunch until 2:00 PM") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if !strings.Contains(out, "wednesday") || !strings.Contains(out, "MITTWOCH") {
		t.Fatalf("weekday names missing:\n%s", out)
	}

	out, err = run(t, "status", "--from", "12:00", "--to", "14:00", "--at", "2025-01-18T12:30:00+01:00")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "reason:  weekend") {
		t.Fatalf("expected weekend closure:\n%s", out)
	}

	out, _ = run(t, "status", "--at", "2025-01-15T12:30:00+01:00")
	if !strings.Contains(out, "reason:  hours_unavailable") {
		t.Fatalf("expected missing hours:\n%s", out)
	}
}

func TestStatusRejectsBadInstant(t *testing.T) {
	if _, err := run(t, "status", "--at", "tomorrow"); err == nil {
		t.Fatal("expected an error for a non RFC3339 --at")
	}
}

func TestWeekly(t *testing.T) {
	out, err := run(t, "weekly", "--start", "2025-01-01", "--end", "2025-01-30", "--meals-per-week", "3",
		"--remaining", "7", "--at", "2025-01-15T10:00:00+01:00")
	if err != nil {
		t.Fatalf("weekly: %v", err)
	}
	for _, want := range []string{
		"allotment:        15",
		"remaining weeks:  3",
		"employer weekly:  3",
		"employee weekly:  2",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}

	out, err = run(t, "weekly", "--start", "2025-01-01", "--end", "2025-01-30", "--meals-per-week", "3", "--at", "2025-01-15T10:00:00+01:00")
	if err != nil {
		t.Fatalf("weekly: %v", err)
	}
	if strings.Contains(out, "employee weekly") {
		t.Fatalf("employee view printed without --remaining:\n%s", out)
	}

	if _, err := run(t, "weekly", "--start", "2025-02-01", "--end", "2025-01-01", "--meals-per-week", "3"); err == nil {
		t.Fatal("expected an error for an inverted period")
	}
}

func TestVisible(t *testing.T) {
	out, err := run(t, "visible", "--restaurant-tier", "l", "--plan", " m ")
	if err != nil {
		t.Fatalf("visible: %v", err)
	}
	if !strings.Contains(out, "tier L on plan M: visible=false") {
		t.Fatalf("unexpected output: %s", out)
	}
	out, _ = run(t, "visible", "--restaurant-tier", "S", "--plan", "L")
	if !strings.Contains(out, "visible=true") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestMigrateUnknownService(t *testing.T) {
	_, err := run(t, "migrate", "--service", "billing", "--database-url", "postgres://localhost/x")
	if err == nil || !strings.Contains(err.Error(), "unknown service") {
		t.Fatalf("expected unknown service error, got %v", err)
	}
}
