package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/lunchpass/libs/events"
	"github.com/md-rashed-zaman/lunchpass/libs/kafkax"
	"github.com/md-rashed-zaman/lunchpass/services/notification-service/internal/email"
	"github.com/md-rashed-zaman/lunchpass/services/notification-service/internal/storage"
	"github.com/segmentio/kafka-go"
)

type fakeStore struct {
	recipients map[string]storage.Recipient
	claimed    map[string]bool
	results    []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{recipients: map[string]storage.Recipient{}, claimed: map[string]bool{}}
}

func (f *fakeStore) UpsertRecipient(_ context.Context, _ pgx.Tx, rc storage.Recipient) error {
	f.recipients[rc.UserID] = rc
	return nil
}

func (f *fakeStore) RemoveRecipient(_ context.Context, _ pgx.Tx, _, userID string) error {
	delete(f.recipients, userID)
	return nil
}

func (f *fakeStore) ListRecipients(_ context.Context, _ pgx.Tx, companyID string) ([]storage.Recipient, error) {
	var out []storage.Recipient
	for _, rc := range f.recipients {
		if rc.CompanyID == companyID {
			out = append(out, rc)
		}
	}
	return out, nil
}

func (f *fakeStore) Claim(_ context.Context, _ pgx.Tx, n storage.Notification) (int64, bool, error) {
	key := n.EventID + "/" + n.UserID
	if f.claimed[key] {
		return 0, false, nil
	}
	f.claimed[key] = true
	return int64(len(f.claimed)), true, nil
}

func (f *fakeStore) MarkResult(_ context.Context, _ pgx.Tx, _ int64, status, _, _ string) error {
	f.results = append(f.results, status)
	return nil
}

type fakeSender struct {
	to  []string
	err error
}

func (s *fakeSender) Send(_ context.Context, m email.Message) error {
	s.to = append(s.to, m.To)
	return s.err
}

func (s *fakeSender) ProviderID() string { return "fake" }

func apply(t *testing.T, n *Notifier, eventID, eventType string, payload any) {
	t.Helper()
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := n.Apply()(context.Background(), nil, kafkax.EventMeta{EventID: eventID, EventType: eventType}, kafka.Message{Value: b}); err != nil {
		t.Fatalf("apply %s: %v", eventType, err)
	}
}

func newTestNotifier(store Store, sender *fakeSender) *Notifier {
	return New(store, sender, slog.New(slog.NewTextHandler(io.Discard, nil)), 2)
}

func TestLowBalanceThreshold(t *testing.T) {
	sender := &fakeSender{}
	n := newTestNotifier(newFakeStore(), sender)
	apply(t, n, "e1", events.MealConsumed, events.MealConsumedV1{UserID: "u1", Email: "a@x", RemainingMeals: 3})
	apply(t, n, "e2", events.MealConsumed, events.MealConsumedV1{UserID: "u1", Email: "a@x", RemainingMeals: 2})
	apply(t, n, "e2", events.MealConsumed, events.MealConsumedV1{UserID: "u1", Email: "a@x", RemainingMeals: 2})
	apply(t, n, "e3", events.MealConsumed, events.MealConsumedV1{UserID: "u2", RemainingMeals: 0})
	if len(sender.to) != 1 || sender.to[0] != "a@x" {
		t.Fatalf("expected one low balance email, got %v", sender.to)
	}
}

func TestWelcomeGoesToRoster(t *testing.T) {
	store := newFakeStore()
	sender := &fakeSender{}
	n := newTestNotifier(store, sender)
	apply(t, n, "a1", events.EmployeeAdded, events.EmployeeV1{CompanyID: "c1", UserID: "u1", Email: "a@x"})
	apply(t, n, "a2", events.EmployeeAdded, events.EmployeeV1{CompanyID: "c1", UserID: "u2", Email: "b@x"})
	apply(t, n, "a3", events.EmployeeAdded, events.EmployeeV1{CompanyID: "c2", UserID: "u3", Email: "c@x"})
	apply(t, n, "a4", events.EmployeeRemoved, events.EmployeeV1{CompanyID: "c1", UserID: "u2"})
	apply(t, n, "p1", events.PeriodOpened, events.PeriodV1{CompanyID: "c1", PlanType: "S", MealsPerWeek: 3, StartDate: "2025-03-01", EndDate: "2025-03-31"})
	if len(sender.to) != 1 || sender.to[0] != "a@x" {
		t.Fatalf("expected welcome for u1 only, got %v", sender.to)
	}
}

func TestFailedSendIsRecorded(t *testing.T) {
	store := newFakeStore()
	n := newTestNotifier(store, &fakeSender{err: errors.New("smtp down")})
	apply(t, n, "e1", events.MealConsumed, events.MealConsumedV1{UserID: "u1", Email: "a@x", RemainingMeals: 1})
	if len(store.results) != 1 || store.results[0] != "failed" {
		t.Fatalf("expected failed result, got %v", store.results)
	}
}

func TestMessages(t *testing.T) {
	if s, _ := LowBalanceMessage(1); s != "One lunch left" {
		t.Fatalf("unexpected subject %q", s)
	}
	if s, _ := LowBalanceMessage(2); s != "2 lunches left" {
		t.Fatalf("unexpected subject %q", s)
	}
	_, body := WelcomeMessage(events.PeriodV1{PlanType: "M", MealsPerWeek: 4, StartDate: "2025-03-01", EndDate: "2025-03-31"})
	if body != "Your M plan covers 4 lunches per week from 2025-03-01 to 2025-03-31. Pick a restaurant in the app to order." {
		t.Fatalf("unexpected body %q", body)
	}
}
