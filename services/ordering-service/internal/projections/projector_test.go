package projections

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/lunchpass/libs/events"
	"github.com/md-rashed-zaman/lunchpass/libs/kafkax"
	"github.com/md-rashed-zaman/lunchpass/services/ordering-service/internal/storage"
	"github.com/segmentio/kafka-go"
)

type fakeStore struct {
	memberships map[string]storage.Membership
	roster      map[string][]storage.RosterEntry
	periods     map[string]storage.Period
	balances    map[string]storage.Balance
	closedUsers []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		memberships: map[string]storage.Membership{},
		roster:      map[string][]storage.RosterEntry{},
		periods:     map[string]storage.Period{},
		balances:    map[string]storage.Balance{},
	}
}

func (f *fakeStore) UpsertMembership(_ context.Context, _ pgx.Tx, m storage.Membership) error {
	f.memberships[m.CompanyID] = m
	return nil
}

func (f *fakeStore) DeactivateMembership(_ context.Context, _ pgx.Tx, companyID, membershipID string) error {
	if m, ok := f.memberships[companyID]; ok && m.MembershipID == membershipID {
		m.Status = "inactive"
		f.memberships[companyID] = m
	}
	return nil
}

func (f *fakeStore) AddRosterEntry(_ context.Context, _ pgx.Tx, e storage.RosterEntry) (bool, error) {
	for _, x := range f.roster[e.CompanyID] {
		if x.UserID == e.UserID {
			return false, nil
		}
	}
	f.roster[e.CompanyID] = append(f.roster[e.CompanyID], e)
	return true, nil
}

func (f *fakeStore) RemoveRosterEntry(_ context.Context, _ pgx.Tx, companyID, userID string) error {
	kept := f.roster[companyID][:0]
	for _, x := range f.roster[companyID] {
		if x.UserID != userID {
			kept = append(kept, x)
		}
	}
	f.roster[companyID] = kept
	return nil
}

func (f *fakeStore) ListRosterTx(_ context.Context, _ pgx.Tx, companyID string) ([]storage.RosterEntry, error) {
	return f.roster[companyID], nil
}

func (f *fakeStore) ReplaceAllowedRestaurants(context.Context, pgx.Tx, string, []storage.AllowedRestaurant) error {
	return nil
}

func (f *fakeStore) UpsertRestaurant(context.Context, pgx.Tx, storage.Restaurant, time.Time, []storage.MenuItem) (bool, error) {
	return true, nil
}

func (f *fakeStore) OpenPeriod(_ context.Context, _ pgx.Tx, p storage.Period) (bool, error) {
	if _, ok := f.periods[p.MembershipID]; ok {
		return false, nil
	}
	p.Status = "open"
	f.periods[p.MembershipID] = p
	return true, nil
}

func (f *fakeStore) OpenPeriodForCompany(_ context.Context, _ pgx.Tx, companyID string) (storage.Period, error) {
	for _, p := range f.periods {
		if p.CompanyID == companyID && p.Status == "open" {
			return p, nil
		}
	}
	return storage.Period{}, storage.ErrNotFound
}

func (f *fakeStore) ClosePeriod(_ context.Context, _ pgx.Tx, p storage.Period, _ time.Time) (int64, error) {
	p.Status = "closed"
	f.periods[p.MembershipID] = p
	var n int64
	for k, b := range f.balances {
		if b.MembershipID == p.MembershipID && b.Status == "open" {
			b.Status, b.RemainingMeals = "closed", 0
			f.balances[k] = b
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) EnsureBalance(_ context.Context, _ pgx.Tx, b storage.Balance) (bool, error) {
	key := b.UserID + "/" + b.MembershipID
	if _, ok := f.balances[key]; ok {
		return false, nil
	}
	b.Status, b.RemainingMeals = "open", b.Allotted
	f.balances[key] = b
	return true, nil
}

func (f *fakeStore) CloseUserBalances(_ context.Context, _ pgx.Tx, _, userID string, _ time.Time) error {
	f.closedUsers = append(f.closedUsers, userID)
	return nil
}

func deliver(t *testing.T, p *Projector, eventType string, payload any) {
	t.Helper()
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	meta := kafkax.EventMeta{EventID: eventType, EventType: eventType}
	if err := p.Apply()(context.Background(), nil, meta, kafka.Message{Value: b}); err != nil {
		t.Fatalf("apply %s: %v", eventType, err)
	}
}

func newTestProjector(store Store) *Projector {
	return New(store, slog.New(slog.NewTextHandler(io.Discard, nil)), time.UTC)
}

func TestMembershipLifecycle(t *testing.T) {
	store := newFakeStore()
	p := newTestProjector(store)
	deliver(t, p, events.MembershipActivated, events.MembershipV1{MembershipID: "m1", CompanyID: "c1", PlanType: " m ", MealsPerWeek: 4, StartDate: "2025-01-01", EndDate: "2025-01-30"})
	if m := store.memberships["c1"]; !m.Active() || m.PlanType != "M" {
		t.Fatalf("unexpected membership %+v", m)
	}
	// A late cancel for an older membership leaves the current one alone.
	deliver(t, p, events.MembershipCanceled, events.MembershipV1{MembershipID: "m0", CompanyID: "c1"})
	if !store.memberships["c1"].Active() {
		t.Fatal("cancel of another membership must not deactivate")
	}
	deliver(t, p, events.MembershipCanceled, events.MembershipV1{MembershipID: "m1", CompanyID: "c1"})
	if store.memberships["c1"].Active() {
		t.Fatal("expected membership to be inactive")
	}
}

func TestPeriodOpenedGrantsRosterBalances(t *testing.T) {
	store := newFakeStore()
	p := newTestProjector(store)
	deliver(t, p, events.EmployeeAdded, events.EmployeeV1{CompanyID: "c1", UserID: "u1", Email: "a@x"})
	deliver(t, p, events.EmployeeAdded, events.EmployeeV1{CompanyID: "c1", UserID: "u2", Email: "b@x"})

	period := events.PeriodV1{MembershipID: "m1", CompanyID: "c1", PlanType: "S", MealsPerWeek: 3, StartDate: "2025-01-01", EndDate: "2025-01-30"}
	deliver(t, p, events.PeriodOpened, period)
	if len(store.balances) != 2 {
		t.Fatalf("expected 2 balances, got %d", len(store.balances))
	}
	// 30 days span five started weeks.
	if b := store.balances["u1/m1"]; b.Allotted != 15 || b.RemainingMeals != 15 {
		t.Fatalf("unexpected balance %+v", b)
	}

	// Joining mid period grants the rest of the period only.
	deliver(t, p, events.EmployeeAdded, events.EmployeeV1{CompanyID: "c1", UserID: "u3", OccurredAt: time.Date(2025, 1, 24, 9, 0, 0, 0, time.UTC)})
	if b := store.balances["u3/m1"]; b.Allotted != 3 {
		t.Fatalf("expected one week of meals for late joiner, got %+v", b)
	}

	deliver(t, p, events.PeriodClosed, period)
	for k, b := range store.balances {
		if b.Status != "closed" || b.RemainingMeals != 0 {
			t.Fatalf("balance %s not closed: %+v", k, b)
		}
	}
}

func TestEmployeeRemovedClosesBalance(t *testing.T) {
	store := newFakeStore()
	p := newTestProjector(store)
	deliver(t, p, events.EmployeeAdded, events.EmployeeV1{CompanyID: "c1", UserID: "u1"})
	deliver(t, p, events.EmployeeRemoved, events.EmployeeV1{CompanyID: "c1", UserID: "u1"})
	if len(store.roster["c1"]) != 0 || len(store.closedUsers) != 1 {
		t.Fatalf("expected roster empty and balance closed, got %+v / %v", store.roster, store.closedUsers)
	}
}

func TestBadPayloadIsDropped(t *testing.T) {
	p := newTestProjector(newFakeStore())
	meta := kafkax.EventMeta{EventID: "e1", EventType: events.MembershipActivated}
	if err := p.Apply()(context.Background(), nil, meta, kafka.Message{Value: []byte("{not json")}); err != nil {
		t.Fatalf("expected bad payload to be dropped, got %v", err)
	}
	if err := p.Apply()(context.Background(), nil, kafkax.EventMeta{EventType: "something.else"}, kafka.Message{}); err != nil {
		t.Fatalf("unknown events are ignored, got %v", err)
	}
}
