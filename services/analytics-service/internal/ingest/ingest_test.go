package ingest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/lunchpass/libs/events"
	"github.com/md-rashed-zaman/lunchpass/libs/kafkax"
	"github.com/md-rashed-zaman/lunchpass/services/analytics-service/internal/storage"
	"github.com/segmentio/kafka-go"
)

type fakeStore struct {
	facts []storage.MealFact
	dead  []storage.DeadJob
}

func (f *fakeStore) InsertFact(_ context.Context, _ pgx.Tx, m storage.MealFact) (bool, error) {
	f.facts = append(f.facts, m)
	return true, nil
}

func (f *fakeStore) InsertDeadJob(_ context.Context, _ pgx.Tx, j storage.DeadJob) error {
	f.dead = append(f.dead, j)
	return nil
}

func TestFactForUsesLunchDay(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Fatalf("tz: %v", err)
	}
	v := events.MealConsumedV1{
		TransactionID: "t1",
		UserID:        "u1",
		CompanyID:     "c1",
		RestaurantID:  "r1",
		// 23:30 UTC is already the next day in Berlin.
		ConsumedAt: time.Date(2025, 1, 14, 23, 30, 0, 0, time.UTC),
	}
	f, err := FactFor(v, berlin)
	if err != nil {
		t.Fatalf("fact: %v", err)
	}
	if f.Day != "2025-01-15" {
		t.Fatalf("expected 2025-01-15, got %s", f.Day)
	}
	v.RestaurantID = ""
	if _, err := FactFor(v, berlin); err == nil {
		t.Fatal("expected missing restaurant to fail")
	}
}

func TestApplyRoutesEvents(t *testing.T) {
	store := &fakeStore{}
	apply := Apply(store, slog.New(slog.NewTextHandler(io.Discard, nil)), time.UTC)
	ctx := context.Background()

	meal, _ := json.Marshal(events.MealConsumedV1{TransactionID: "t1", UserID: "u1", CompanyID: "c1", RestaurantID: "r1", ConsumedAt: time.Now()})
	if err := apply(ctx, nil, kafkax.EventMeta{EventID: "e1", EventType: events.MealConsumed}, kafka.Message{Value: meal}); err != nil {
		t.Fatalf("meal: %v", err)
	}
	dead, _ := json.Marshal(events.AllowanceJobFailedV1{Job: events.PeriodV1{MembershipID: "m1", CompanyID: "c1"}, Kind: "period.open", Attempts: 5, Reason: "boom"})
	if err := apply(ctx, nil, kafkax.EventMeta{EventID: "e2", EventType: events.AllowanceJobFailed}, kafka.Message{Value: dead}); err != nil {
		t.Fatalf("dlq: %v", err)
	}
	if err := apply(ctx, nil, kafkax.EventMeta{EventID: "e3", EventType: events.MealConsumed}, kafka.Message{Value: []byte("{}")}); err != nil {
		t.Fatalf("incomplete payloads are dropped, got %v", err)
	}
	if len(store.facts) != 1 || len(store.dead) != 1 || store.dead[0].EventID != "e2" || store.dead[0].Attempts != 5 {
		t.Fatalf("unexpected store state %+v", store)
	}
}
