package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/lunchpass/libs/availability"
	"github.com/md-rashed-zaman/lunchpass/libs/events"
	"github.com/md-rashed-zaman/lunchpass/libs/outbox"
	"github.com/md-rashed-zaman/lunchpass/services/ordering-service/internal/storage"
)

// fakeStore serves a single employee of company c1 and records the order of
// the calls Place makes.
type fakeStore struct {
	calls       []string
	balance     *storage.Balance
	membership  *storage.Membership
	restaurant  *storage.Restaurant
	items       map[string]storage.MenuItem
	byKey       map[string]storage.Transaction
	consumed    int
	email       string
	inserted    []storage.Transaction
	insertErr   error
	decremented int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		balance: &storage.Balance{
			UserID: "u1", CompanyID: "c1", MembershipID: "m1",
			PeriodStart: "2025-01-01", PeriodEnd: "2025-01-28",
			MealsPerWeek: 3, Allotted: 12, RemainingMeals: 6, Status: "open",
		},
		membership: &storage.Membership{CompanyID: "c1", MembershipID: "m1", PlanType: "M", MealsPerWeek: 3, Status: "active"},
		restaurant: &storage.Restaurant{ID: "r1", Tier: "S", Active: true, Hours: &availability.HoursRange{From: "11:30", To: "14:00"}},
		items:      map[string]storage.MenuItem{},
		byKey:      map[string]storage.Transaction{},
		email:      "ada@acme.de",
	}
}

func (f *fakeStore) record(name string) { f.calls = append(f.calls, name) }

func (f *fakeStore) InTx(_ context.Context, fn func(pgx.Tx) error) error { return fn(nil) }

func (f *fakeStore) OpenBalance(context.Context, string, string) (storage.Balance, error) {
	if f.balance == nil {
		return storage.Balance{}, storage.ErrNotFound
	}
	return *f.balance, nil
}

func (f *fakeStore) OpenBalanceForUpdate(context.Context, pgx.Tx, string, string) (storage.Balance, error) {
	f.record("balance")
	if f.balance == nil {
		return storage.Balance{}, storage.ErrNotFound
	}
	return *f.balance, nil
}

func (f *fakeStore) ListOpenBalances(context.Context, string) (map[string]storage.Balance, error) {
	return map[string]storage.Balance{}, nil
}

func (f *fakeStore) DecrementBalance(context.Context, pgx.Tx, string, string) (int, error) {
	f.record("decrement")
	if f.balance.RemainingMeals <= 0 {
		return 0, storage.ErrNoMealsLeft
	}
	f.balance.RemainingMeals--
	f.decremented++
	return f.balance.RemainingMeals, nil
}

func (f *fakeStore) InsertTransaction(_ context.Context, _ pgx.Tx, t storage.Transaction) (storage.Transaction, error) {
	f.record("insert")
	if f.insertErr != nil {
		return storage.Transaction{}, f.insertErr
	}
	t.ID = fmt.Sprintf("t%d", len(f.inserted)+1)
	f.inserted = append(f.inserted, t)
	return t, nil
}

func (f *fakeStore) TransactionByIdempotencyKey(_ context.Context, _ pgx.Tx, _ string, key string) (storage.Transaction, error) {
	f.record("replay")
	t, ok := f.byKey[key]
	if !ok {
		return storage.Transaction{}, storage.ErrNotFound
	}
	return t, nil
}

func (f *fakeStore) CountConsumedSince(context.Context, pgx.Tx, string, string, time.Time) (int, error) {
	f.record("count")
	return f.consumed, nil
}

func (f *fakeStore) CountConsumed(context.Context, string, string, time.Time) (int, error) {
	return f.consumed, nil
}

func (f *fakeStore) ListTransactions(context.Context, string, int) ([]storage.Transaction, error) {
	return f.inserted, nil
}

func (f *fakeStore) CompanyMembership(context.Context, string) (storage.Membership, error) {
	if f.membership == nil {
		return storage.Membership{}, storage.ErrNotFound
	}
	return *f.membership, nil
}

func (f *fakeStore) CompanyMembershipTx(context.Context, pgx.Tx, string) (storage.Membership, error) {
	f.record("membership")
	if f.membership == nil {
		return storage.Membership{}, storage.ErrNotFound
	}
	return *f.membership, nil
}

func (f *fakeStore) ListRoster(context.Context, string) ([]storage.RosterEntry, error) {
	return nil, nil
}

func (f *fakeStore) RosterEmail(context.Context, pgx.Tx, string, string) (string, error) {
	f.record("email")
	return f.email, nil
}

func (f *fakeStore) ListAllowedRestaurants(context.Context, string) ([]storage.Restaurant, error) {
	if f.restaurant == nil {
		return nil, nil
	}
	return []storage.Restaurant{*f.restaurant}, nil
}

func (f *fakeStore) AllowedRestaurant(_ context.Context, _ pgx.Tx, _ string, restaurantID string) (storage.Restaurant, error) {
	f.record("restaurant")
	if f.restaurant == nil || f.restaurant.ID != restaurantID {
		return storage.Restaurant{}, storage.ErrNotFound
	}
	return *f.restaurant, nil
}

func (f *fakeStore) MenuItem(_ context.Context, _ pgx.Tx, _ string, itemID string) (storage.MenuItem, error) {
	f.record("menu_item")
	item, ok := f.items[itemID]
	if !ok {
		return storage.MenuItem{}, storage.ErrNotFound
	}
	return item, nil
}

type fakeOutbox struct {
	events []outbox.Event
}

func (o *fakeOutbox) Insert(_ context.Context, _ pgx.Tx, evt outbox.Event) error {
	o.events = append(o.events, evt)
	return nil
}

func newTestService(t *testing.T, store *fakeStore, ob *fakeOutbox) *Service {
	t.Helper()
	loc := berlin(t)
	s := New(store, ob, loc)
	// Wednesday, inside 11:30-14:00.
	s.now = func() time.Time { return time.Date(2025, 1, 15, 12, 0, 0, 0, loc) }
	return s
}

func TestPlaceDecrementsAndStagesEvent(t *testing.T) {
	store, ob := newFakeStore(), &fakeOutbox{}
	s := newTestService(t, store, ob)

	got, err := s.Place(context.Background(), PlaceRequest{UserID: "u1", CompanyID: "c1", RestaurantID: "r1", IdempotencyKey: "k1"})
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if got.Replayed || got.Transaction.RemainingMeals != 5 || store.balance.RemainingMeals != 5 {
		t.Fatalf("unexpected receipt %+v, balance %d", got, store.balance.RemainingMeals)
	}
	want := "balance,replay,membership,restaurant,count,decrement,insert,email"
	if strings.Join(store.calls, ",") != want {
		t.Fatalf("call order %v, want %s", store.calls, want)
	}
	if !got.Transaction.ConsumedAt.Equal(time.Date(2025, 1, 15, 11, 0, 0, 0, time.UTC)) {
		t.Fatalf("consumed_at %v", got.Transaction.ConsumedAt)
	}

	if len(ob.events) != 1 {
		t.Fatalf("expected one outbox event, got %d", len(ob.events))
	}
	evt := ob.events[0]
	if evt.Topic != events.TopicOrder || evt.EventType != events.MealConsumed || evt.AggregateID != got.Transaction.ID {
		t.Fatalf("unexpected event %+v", evt)
	}
	var payload events.MealConsumedV1
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.Email != "ada@acme.de" || payload.RemainingMeals != 5 || payload.RestaurantID != "r1" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestPlaceReplaysIdempotencyKey(t *testing.T) {
	store, ob := newFakeStore(), &fakeOutbox{}
	prev := storage.Transaction{ID: "t0", UserID: "u1", RemainingMeals: 6, IdempotencyKey: "k1"}
	store.byKey["k1"] = prev
	// The replay must win even after the membership has lapsed.
	store.membership = nil
	s := newTestService(t, store, ob)

	got, err := s.Place(context.Background(), PlaceRequest{UserID: "u1", CompanyID: "c1", RestaurantID: "r1", IdempotencyKey: "k1"})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !got.Replayed || got.Transaction.ID != "t0" {
		t.Fatalf("expected replay of t0, got %+v", got)
	}
	if store.decremented != 0 || len(store.inserted) != 0 || len(ob.events) != 0 {
		t.Fatalf("replay must not write: decremented=%d inserted=%d events=%d", store.decremented, len(store.inserted), len(ob.events))
	}
	if strings.Join(store.calls, ",") != "balance,replay" {
		t.Fatalf("replay should stop after the key lookup, calls %v", store.calls)
	}
}

func TestPlaceWeeklyLimit(t *testing.T) {
	store, ob := newFakeStore(), &fakeOutbox{}
	store.consumed = 3
	s := newTestService(t, store, ob)

	_, err := s.Place(context.Background(), PlaceRequest{UserID: "u1", CompanyID: "c1", RestaurantID: "r1"})
	if !errors.Is(err, ErrWeeklyLimit) {
		t.Fatalf("expected ErrWeeklyLimit, got %v", err)
	}
	if store.decremented != 0 || len(ob.events) != 0 {
		t.Fatalf("limit must not decrement or publish")
	}
	for _, c := range store.calls {
		if c == "replay" {
			t.Fatal("no idempotency key, no lookup expected")
		}
	}
}

func TestPlaceChecksRestaurantBeforeBalance(t *testing.T) {
	store, ob := newFakeStore(), &fakeOutbox{}
	store.balance = nil
	s := newTestService(t, store, ob)
	s.eval = &fixedEvaluator{st: availability.Closed(availability.ReasonOutsideHours)}

	_, err := s.Place(context.Background(), PlaceRequest{UserID: "u1", CompanyID: "c1", RestaurantID: "r1"})
	var closed *ClosedError
	if !errors.As(err, &closed) || closed.Status.Reason != availability.ReasonOutsideHours {
		t.Fatalf("closed restaurant should be reported before the missing balance, got %v", err)
	}

	s.eval = availability.Default
	if _, err := s.Place(context.Background(), PlaceRequest{UserID: "u1", CompanyID: "c1", RestaurantID: "r1"}); !errors.Is(err, ErrNoBalance) {
		t.Fatalf("expected ErrNoBalance, got %v", err)
	}
}

func TestPlaceMenuItemChecked(t *testing.T) {
	store, ob := newFakeStore(), &fakeOutbox{}
	s := newTestService(t, store, ob)

	_, err := s.Place(context.Background(), PlaceRequest{UserID: "u1", CompanyID: "c1", RestaurantID: "r1", MenuItemID: "missing"})
	if !errors.Is(err, ErrMenuItemNotFound) {
		t.Fatalf("expected ErrMenuItemNotFound, got %v", err)
	}
	if store.decremented != 0 {
		t.Fatal("unknown item must not decrement")
	}
}

func TestPlaceMapsStorageErrors(t *testing.T) {
	store, ob := newFakeStore(), &fakeOutbox{}
	s := newTestService(t, store, ob)

	store.insertErr = &pgconn.PgError{Code: "23505"}
	if _, err := s.Place(context.Background(), PlaceRequest{UserID: "u1", CompanyID: "c1", RestaurantID: "r1", IdempotencyKey: "k2"}); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
	if len(ob.events) != 0 {
		t.Fatal("failed insert must not stage an event")
	}
}

func TestRestaurantsUsesEvaluator(t *testing.T) {
	store, ob := newFakeStore(), &fakeOutbox{}
	s := newTestService(t, store, ob)
	ev := &fixedEvaluator{st: availability.Closed(availability.ReasonOutsideHours)}
	s.eval = ev

	views, err := s.Restaurants(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Restaurants: %v", err)
	}
	if len(views) != 1 || views[0].Open || ev.calls != 1 {
		t.Fatalf("unexpected views %+v (calls %d)", views, ev.calls)
	}

	store.membership.Status = "inactive"
	views, err = s.Restaurants(context.Background(), "c1")
	if err != nil || len(views) != 0 {
		t.Fatalf("inactive membership sees nothing, got %+v %v", views, err)
	}
}
