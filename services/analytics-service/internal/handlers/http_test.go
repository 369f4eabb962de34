package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/md-rashed-zaman/lunchpass/libs/auth"
	"github.com/md-rashed-zaman/lunchpass/services/analytics-service/internal/storage"
)

type fakeStats struct {
	company, from, to string
}

func (f *fakeStats) CompanyStats(_ context.Context, companyID, from, to string) ([]storage.DayTotal, []storage.RestaurantTotal, error) {
	f.company, f.from, f.to = companyID, from, to
	return []storage.DayTotal{{Day: from, Meals: 3, Employees: 2}, {Day: to, Meals: 4, Employees: 4}},
		[]storage.RestaurantTotal{{RestaurantID: "r1", Meals: 7}}, nil
}

func get(h http.Handler, path, role, company string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set(auth.HeaderUserID, "u1")
	req.Header.Set(auth.HeaderRole, role)
	req.Header.Set(auth.HeaderCompanyID, company)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func newTestHandler() (http.Handler, *fakeStats) {
	fs := &fakeStats{}
	h := New(fs, slog.New(slog.NewTextHandler(io.Discard, nil)), time.UTC)
	h.now = func() time.Time { return time.Date(2025, 3, 31, 10, 0, 0, 0, time.UTC) }
	return h.Routes(), fs
}

func TestEmployerStats(t *testing.T) {
	h, fs := newTestHandler()
	rec := get(h, "/v1/employer/stats?from=2025-03-01&to=2025-03-07", auth.RoleEmployer, "c1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		TotalMeals int `json:"total_meals"`
		Days       []storage.DayTotal
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.TotalMeals != 7 || len(body.Days) != 2 || fs.company != "c1" || fs.from != "2025-03-01" {
		t.Fatalf("unexpected response %+v (%+v)", body, fs)
	}
}

func TestEmployerStatsDefaultsAndValidation(t *testing.T) {
	h, fs := newTestHandler()
	if rec := get(h, "/v1/employer/stats", auth.RoleEmployer, "c1"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if fs.from != "2025-03-01" || fs.to != "2025-03-31" {
		t.Fatalf("unexpected default range %s..%s", fs.from, fs.to)
	}
	for _, q := range []string{"?from=2025-03-07&to=2025-03-01", "?from=march", "?from=2023-01-01&to=2025-01-01"} {
		if rec := get(h, "/v1/employer/stats"+q, auth.RoleEmployer, "c1"); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", q, rec.Code)
		}
	}
}

func TestEmployerStatsScoping(t *testing.T) {
	h, fs := newTestHandler()
	if rec := get(h, "/v1/employer/stats", auth.RoleEmployee, "c1"); rec.Code != http.StatusForbidden {
		t.Fatalf("employee: expected 403, got %d", rec.Code)
	}
	if rec := get(h, "/v1/employer/stats", auth.RoleSuperAdmin, ""); rec.Code != http.StatusForbidden {
		t.Fatalf("super admin without company: expected 403, got %d", rec.Code)
	}
	if rec := get(h, "/v1/employer/stats?company_id=c9", auth.RoleSuperAdmin, ""); rec.Code != http.StatusOK || fs.company != "c9" {
		t.Fatalf("super admin: expected 200 for c9, got %d (%s)", rec.Code, fs.company)
	}
}
