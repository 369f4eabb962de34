package jobs

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/md-rashed-zaman/lunchpass/libs/events"
)

func TestBackoffDoublesUpToLimit(t *testing.T) {
	cases := map[int]time.Duration{
		1: time.Minute,
		2: 2 * time.Minute,
		3: 4 * time.Minute,
		4: 8 * time.Minute,
		8: 30 * time.Minute,
	}
	for attempts, want := range cases {
		if got := Backoff(time.Minute, 30*time.Minute, attempts); got != want {
			t.Fatalf("attempts %d: expected %v, got %v", attempts, want, got)
		}
	}
}

func TestEventFor(t *testing.T) {
	job := Job{
		Kind:         KindOpen,
		MembershipID: "m1",
		CompanyID:    "c1",
		PlanType:     "M",
		MealsPerWeek: 4,
		StartDate:    "2025-03-01",
		EndDate:      "2025-03-31",
		RunAt:        time.Date(2025, 2, 28, 23, 0, 0, 0, time.UTC),
	}
	evt, err := EventFor(job)
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	if evt.Topic != events.TopicAllowance || evt.EventType != events.PeriodOpened || evt.AggregateID != "m1" {
		t.Fatalf("unexpected envelope %+v", evt)
	}
	var p events.PeriodV1
	if err := json.Unmarshal(evt.Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.MealsPerWeek != 4 || p.EndDate != "2025-03-31" || !p.OccurredAt.Equal(job.RunAt) {
		t.Fatalf("unexpected payload %+v", p)
	}

	job.Kind = KindClose
	if evt, err := EventFor(job); err != nil || evt.EventType != events.PeriodClosed {
		t.Fatalf("close: %+v %v", evt, err)
	}

	job.Kind = "period.unknown"
	if _, err := EventFor(job); err == nil {
		t.Fatal("expected unknown kind to fail")
	}
	job.Kind, job.StartDate = KindOpen, "03/01/2025"
	if _, err := EventFor(job); err == nil {
		t.Fatal("expected bad dates to fail")
	}
}
