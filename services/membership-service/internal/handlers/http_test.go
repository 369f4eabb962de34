package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/md-rashed-zaman/lunchpass/libs/auth"
	"github.com/md-rashed-zaman/lunchpass/services/membership-service/internal/memberships"
	"github.com/md-rashed-zaman/lunchpass/services/membership-service/internal/plans"
	"github.com/md-rashed-zaman/lunchpass/services/membership-service/internal/storage"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

const (
	companyID = "0b9f3c0e-1f6e-4d3a-9a51-5f1f6f0c2a11"
	rest1     = "5b0c7c55-3d4e-4a8d-8f3f-0f4b0b9a1c01"
	rest2     = "5b0c7c55-3d4e-4a8d-8f3f-0f4b0b9a1c02"
)

type fakeCompanies struct {
	allowed   []storage.AllowedRestaurant
	employees []storage.Employee
}

func (f *fakeCompanies) CreateCompany(_ context.Context, name, ref string) (storage.Company, error) {
	return storage.Company{ID: companyID, Name: name, ProviderRef: ref}, nil
}

func (f *fakeCompanies) GetCompany(_ context.Context, id string) (storage.Company, error) {
	if id != companyID {
		return storage.Company{}, storage.ErrNotFound
	}
	return storage.Company{ID: id, Name: "Acme"}, nil
}

func (f *fakeCompanies) ListEmployees(context.Context, string) ([]storage.Employee, error) {
	return f.employees, nil
}

func (f *fakeCompanies) AddEmployee(_ context.Context, cid, uid, email string) (bool, error) {
	for _, e := range f.employees {
		if e.UserID == uid {
			return false, nil
		}
	}
	f.employees = append(f.employees, storage.Employee{CompanyID: cid, UserID: uid, Email: email})
	return true, nil
}

func (f *fakeCompanies) RemoveEmployee(context.Context, string, string) error { return storage.ErrNotFound }

func (f *fakeCompanies) ListAllowedRestaurants(context.Context, string) ([]storage.AllowedRestaurant, error) {
	return f.allowed, nil
}

func (f *fakeCompanies) ReplaceAllowedRestaurants(_ context.Context, _ string, list []storage.AllowedRestaurant) error {
	f.allowed = list
	return nil
}

type fakeMemberships struct {
	catalog *plans.Catalog
	updates []memberships.ProviderUpdate
	seen    map[string]bool
}

func (f *fakeMemberships) Catalog() *plans.Catalog { return f.catalog }

func (f *fakeMemberships) Current(context.Context, string) (storage.Membership, error) {
	return storage.Membership{}, storage.ErrNotFound
}

func (f *fakeMemberships) ActivateDirect(_ context.Context, a memberships.Activation, _ string) (storage.Membership, error) {
	return storage.Membership{ID: "m1", CompanyID: a.CompanyID, PlanType: a.PlanType, Status: storage.StatusActive}, nil
}

func (f *fakeMemberships) CancelByID(_ context.Context, _ string, allow func(string) bool, _ string) (storage.Membership, error) {
	if !allow(companyID) {
		return storage.Membership{}, memberships.ErrForbidden
	}
	return storage.Membership{ID: "m1", CompanyID: companyID, Status: storage.StatusInactive}, nil
}

func (f *fakeMemberships) ApplyProviderUpdate(_ context.Context, u memberships.ProviderUpdate) (bool, error) {
	if f.seen[u.Event.ProviderEventID] {
		return true, nil
	}
	f.seen[u.Event.ProviderEventID] = true
	f.updates = append(f.updates, u)
	return false, nil
}

func (f *fakeMemberships) GetCheckoutSession(context.Context, string) (storage.CheckoutSession, error) {
	return storage.CheckoutSession{}, storage.ErrNotFound
}

func (f *fakeMemberships) RecordCheckoutSession(context.Context, storage.CheckoutSession, string) error {
	return nil
}

const webhookSecret = "whsec_test"

func newTestHandler(t *testing.T, allowLocal bool) (http.Handler, *fakeCompanies, *fakeMemberships) {
	t.Helper()
	catalog, err := plans.Load("")
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	companies := &fakeCompanies{}
	ms := &fakeMemberships{catalog: catalog, seen: map[string]bool{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := New(companies, ms, NewCheckoutProvider(""), logger, time.UTC, Config{
		StripeWebhookSecret: webhookSecret,
		AllowLocalWebhook:   allowLocal,
		CheckoutSuccessURL:  "http://localhost/success",
		CheckoutCancelURL:   "http://localhost/cancel",
	})
	return h.Routes(), companies, ms
}

func send(h http.Handler, method, path, body string, p auth.Principal) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(auth.HeaderUserID, "u1")
	req.Header.Set(auth.HeaderRole, p.Role)
	req.Header.Set(auth.HeaderCompanyID, p.CompanyID)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

var employer = auth.Principal{Role: auth.RoleEmployer, CompanyID: companyID}

func TestCompanyRoutesAreScoped(t *testing.T) {
	h, _, _ := newTestHandler(t, false)
	other := auth.Principal{Role: auth.RoleEmployer, CompanyID: "someone-else"}
	if rec := send(h, http.MethodGet, "/v1/companies/"+companyID, "", other); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for other employer, got %d", rec.Code)
	}
	if rec := send(h, http.MethodGet, "/v1/companies/"+companyID, "", auth.Principal{Role: auth.RoleEmployee, CompanyID: companyID}); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for employee, got %d", rec.Code)
	}
	if rec := send(h, http.MethodGet, "/v1/companies/"+companyID, "", employer); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for own employer, got %d", rec.Code)
	}
	if rec := send(h, http.MethodPost, "/v1/companies", `{"name":"X"}`, employer); rec.Code != http.StatusForbidden {
		t.Fatalf("only super admins create companies, got %d", rec.Code)
	}
}

func TestReplaceAllowedRestaurantsValidates(t *testing.T) {
	h, companies, _ := newTestHandler(t, false)
	path := "/v1/companies/" + companyID + "/restaurants"

	bad := []string{
		`{"restaurants":[{"restaurant_id":"nope"}]}`,
		`{"restaurants":[{"restaurant_id":"` + rest1 + `","distance_km":-1}]}`,
		`{"restaurants":[{"restaurant_id":"` + rest1 + `"},{"restaurant_id":"` + rest1 + `"}]}`,
	}
	for _, body := range bad {
		if rec := send(h, http.MethodPut, path, body, employer); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, rec.Code)
		}
	}

	body := `{"restaurants":[{"restaurant_id":"` + rest1 + `","distance_km":2.5},{"restaurant_id":"` + rest2 + `","distance_km":null}]}`
	if rec := send(h, http.MethodPut, path, body, employer); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(companies.allowed) != 2 || companies.allowed[1].DistanceKM != nil {
		t.Fatalf("unexpected stored list %+v", companies.allowed)
	}
}

func TestAddEmployeeIsIdempotent(t *testing.T) {
	h, _, _ := newTestHandler(t, false)
	path := "/v1/companies/" + companyID + "/employees"
	body := `{"user_id":"7e0c1d7a-8d1c-4e61-9d8e-2c4f5e6a7b8c","email":"Ann@Example.com"}`
	if rec := send(h, http.MethodPost, path, body, employer); rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if rec := send(h, http.MethodPost, path, body, employer); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on repeat, got %d", rec.Code)
	}
	if rec := send(h, http.MethodPost, path, `{"user_id":"x"}`, employer); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad user id, got %d", rec.Code)
	}
}

func TestCheckoutUsesStubWithoutStripeKey(t *testing.T) {
	h, _, _ := newTestHandler(t, false)
	rec := send(h, http.MethodPost, "/v1/companies/"+companyID+"/checkout", `{"plan_type":"L"}`, employer)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		SessionID string `json:"session_id"`
		URL       string `json:"url"`
		Provider  string `json:"provider"`
	}
	_ = json.NewDecoder(rec.Body).Decode(&body)
	if body.Provider != "local" || !strings.HasPrefix(body.SessionID, "cs_local_") || !strings.Contains(body.URL, "session_id="+body.SessionID) {
		t.Fatalf("unexpected checkout response %+v", body)
	}

	rec = send(h, http.MethodPost, "/v1/companies/"+companyID+"/checkout", `{"plan_type":"XXL"}`, employer)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown plan, got %d", rec.Code)
	}
}

func TestCancelMembershipChecksCompany(t *testing.T) {
	h, _, _ := newTestHandler(t, false)
	other := auth.Principal{Role: auth.RoleEmployer, CompanyID: "other"}
	if rec := send(h, http.MethodPost, "/v1/memberships/m1/cancel", "", other); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if rec := send(h, http.MethodPost, "/v1/memberships/m1/cancel", "", employer); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestLocalWebhookDisabledByDefault(t *testing.T) {
	h, _, _ := newTestHandler(t, false)
	body := `{"event_id":"e1","type":"membership.activated","company_id":"` + companyID + `","plan_type":"S","occurred_at":"2025-01-06T10:00:00Z"}`
	if rec := send(h, http.MethodPost, "/v1/billing/webhook/local", body, auth.Principal{}); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	h, _, ms := newTestHandler(t, true)
	if rec := send(h, http.MethodPost, "/v1/billing/webhook/local", body, auth.Principal{}); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rec := send(h, http.MethodPost, "/v1/billing/webhook/local", body, auth.Principal{})
	if !strings.Contains(rec.Body.String(), "duplicate") {
		t.Fatalf("expected duplicate, got %s", rec.Body.String())
	}
	if len(ms.updates) != 1 || ms.updates[0].Kind != memberships.UpdateActivate || ms.updates[0].Activation.PlanType != "S" {
		t.Fatalf("unexpected updates %+v", ms.updates)
	}
}

func signedStripeRequest(t *testing.T, payload []byte, secret string) *http.Request {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/billing/webhook", strings.NewReader(string(payload)))
	req.Header.Set("Stripe-Signature", signed.Header)
	return req
}

func subscriptionEvent(id, eventType, status string) []byte {
	b, _ := json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"created":     time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC).Unix(),
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"data": map[string]any{
			"object": map[string]any{
				"id":                   "sub_123",
				"object":               "subscription",
				"status":               status,
				"current_period_start": time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC).Unix(),
				"current_period_end":   time.Date(2025, 2, 6, 8, 0, 0, 0, time.UTC).Unix(),
				"metadata":             map[string]any{"company_id": companyID, "plan_type": "M"},
			},
		},
	})
	return b
}

func TestStripeWebhookVerifiesSignature(t *testing.T) {
	h, _, ms := newTestHandler(t, false)
	payload := subscriptionEvent("evt_1", "customer.subscription.created", "active")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedStripeRequest(t, payload, "whsec_wrong"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad signature, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, signedStripeRequest(t, payload, webhookSecret))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(ms.updates) != 1 {
		t.Fatalf("expected one update, got %d", len(ms.updates))
	}
	a := ms.updates[0].Activation
	if ms.updates[0].Kind != memberships.UpdateActivate || a.StartDate != "2025-01-06" || a.EndDate != "2025-02-06" || a.StripeSubscriptionID != "sub_123" {
		t.Fatalf("unexpected activation %+v", ms.updates[0])
	}
}

func TestStripeUpdateKinds(t *testing.T) {
	cases := []struct {
		eventType string
		status    string
		want      memberships.UpdateKind
	}{
		{"customer.subscription.updated", "active", memberships.UpdateActivate},
		{"customer.subscription.updated", "past_due", memberships.UpdateIgnore},
		{"customer.subscription.updated", "canceled", memberships.UpdateCancel},
		{"customer.subscription.deleted", "canceled", memberships.UpdateCancel},
		{"invoice.paid", "", memberships.UpdateIgnore},
	}
	for _, tc := range cases {
		var evt stripe.Event
		raw := subscriptionEvent("evt", tc.eventType, tc.status)
		if err := json.Unmarshal(raw, &evt); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		u, err := stripeUpdate(evt, raw, time.UTC)
		if err != nil {
			t.Fatalf("%s/%s: %v", tc.eventType, tc.status, err)
		}
		if u.Kind != tc.want {
			t.Fatalf("%s/%s: expected kind %d, got %d", tc.eventType, tc.status, tc.want, u.Kind)
		}
	}
}
