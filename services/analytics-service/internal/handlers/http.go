package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/md-rashed-zaman/lunchpass/libs/auth"
	"github.com/md-rashed-zaman/lunchpass/libs/entitlement"
	"github.com/md-rashed-zaman/lunchpass/libs/httpx"
	"github.com/md-rashed-zaman/lunchpass/services/analytics-service/internal/storage"
)

const maxRangeDays = 366

// Stats is implemented by *storage.Repository.
type Stats interface {
	CompanyStats(ctx context.Context, companyID, from, to string) ([]storage.DayTotal, []storage.RestaurantTotal, error)
}

type Handler struct {
	stats  Stats
	logger *slog.Logger
	loc    *time.Location
	now    func() time.Time
}

func New(stats Stats, logger *slog.Logger, loc *time.Location) *Handler {
	return &Handler{stats: stats, logger: logger, loc: loc, now: time.Now}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/v1/employer/stats", h.EmployerStats)
	return r
}

// EmployerStats returns totals for the inclusive from..to range, defaulting
// to the last 30 days. Super admins pick the company through ?company_id=.
func (h *Handler) EmployerStats(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromRequest(r)
	q := r.URL.Query()
	companyID := p.CompanyID
	if p.Is(auth.RoleSuperAdmin) {
		companyID = strings.TrimSpace(q.Get("company_id"))
	}
	if companyID == "" || !p.CanManageCompany(companyID) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	today := h.now().In(h.loc)
	from, to := entitlement.FormatDate(today.AddDate(0, 0, -30)), entitlement.FormatDate(today)
	if v := strings.TrimSpace(q.Get("from")); v != "" {
		from = v
	}
	if v := strings.TrimSpace(q.Get("to")); v != "" {
		to = v
	}
	period, err := entitlement.PeriodFromDates(from, to, h.loc)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if period.End.Sub(period.Start) > maxRangeDays*24*time.Hour {
		http.Error(w, "range is limited to 366 days", http.StatusBadRequest)
		return
	}

	days, restaurants, err := h.stats.CompanyStats(r.Context(), companyID, from, to)
	if err != nil {
		h.logger.Error("company stats failed", "err", err)
		http.Error(w, "failed to load stats", http.StatusInternalServerError)
		return
	}
	total := 0
	for _, d := range days {
		total += d.Meals
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"company_id":  companyID,
		"from":        from,
		"to":          to,
		"total_meals": total,
		"days":        days,
		"restaurants": restaurants,
	})
}
