package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/md-rashed-zaman/lunchpass/libs/auth"
	"github.com/md-rashed-zaman/lunchpass/libs/httpx"
	"github.com/md-rashed-zaman/lunchpass/services/membership-service/internal/memberships"
	"github.com/md-rashed-zaman/lunchpass/services/membership-service/internal/plans"
	"github.com/md-rashed-zaman/lunchpass/services/membership-service/internal/storage"
)

// Companies is implemented by *roster.Service.
type Companies interface {
	CreateCompany(ctx context.Context, name, providerRef string) (storage.Company, error)
	GetCompany(ctx context.Context, id string) (storage.Company, error)
	ListEmployees(ctx context.Context, companyID string) ([]storage.Employee, error)
	AddEmployee(ctx context.Context, companyID, userID, email string) (bool, error)
	RemoveEmployee(ctx context.Context, companyID, userID string) error
	ListAllowedRestaurants(ctx context.Context, companyID string) ([]storage.AllowedRestaurant, error)
	ReplaceAllowedRestaurants(ctx context.Context, companyID string, list []storage.AllowedRestaurant) error
}

// Memberships is implemented by *memberships.Service.
type Memberships interface {
	Catalog() *plans.Catalog
	Current(ctx context.Context, companyID string) (storage.Membership, error)
	ActivateDirect(ctx context.Context, a memberships.Activation, actorID string) (storage.Membership, error)
	CancelByID(ctx context.Context, id string, allow func(companyID string) bool, actorID string) (storage.Membership, error)
	ApplyProviderUpdate(ctx context.Context, u memberships.ProviderUpdate) (bool, error)
	GetCheckoutSession(ctx context.Context, id string) (storage.CheckoutSession, error)
	RecordCheckoutSession(ctx context.Context, cs storage.CheckoutSession, actorID string) error
}

type Config struct {
	StripeWebhookSecret    string
	StripeWebhookTolerance time.Duration
	AllowLocalWebhook      bool
	CheckoutSuccessURL     string
	CheckoutCancelURL      string
}

type Handler struct {
	companies   Companies
	memberships Memberships
	checkout    CheckoutProvider
	logger      *slog.Logger
	loc         *time.Location
	cfg         Config
}

func New(companies Companies, ms Memberships, checkout CheckoutProvider, logger *slog.Logger, loc *time.Location, cfg Config) *Handler {
	if cfg.StripeWebhookTolerance <= 0 {
		cfg.StripeWebhookTolerance = 300 * time.Second
	}
	cfg.StripeWebhookSecret = strings.TrimSpace(cfg.StripeWebhookSecret)
	return &Handler{companies: companies, memberships: ms, checkout: checkout, logger: logger, loc: loc, cfg: cfg}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/v1/plans", h.ListPlans)

	r.Route("/v1/companies", func(r chi.Router) {
		r.Post("/", h.CreateCompany)
		r.Route("/{id}", func(r chi.Router) {
			r.Use(requireCompanyScope)
			r.Get("/", h.GetCompany)
			r.Get("/employees", h.ListEmployees)
			r.Post("/employees", h.AddEmployee)
			r.Delete("/employees/{userID}", h.RemoveEmployee)
			r.Get("/restaurants", h.ListAllowedRestaurants)
			r.Put("/restaurants", h.ReplaceAllowedRestaurants)
			r.Get("/membership", h.GetMembership)
			r.Post("/checkout", h.CreateCheckout)
		})
	})

	r.Post("/v1/memberships", h.CreateMembership)
	r.Post("/v1/memberships/{id}/cancel", h.CancelMembership)

	r.Get("/v1/billing/checkout/{sessionID}", h.CheckoutSessionStatus)
	r.Post("/v1/billing/webhook", h.StripeWebhook)
	r.Post("/v1/billing/webhook/local", h.LocalWebhook)
	return r
}

func requireCompanyScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.PrincipalFromRequest(r).CanManageCompany(chi.URLParam(r, "id")) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, err error, what string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		http.Error(w, what+" not found", http.StatusNotFound)
	case errors.Is(err, memberships.ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, memberships.ErrInvalid):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "failed to access "+what, http.StatusInternalServerError)
	}
}

func (h *Handler) ListPlans(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, h.memberships.Catalog().All())
}

func (h *Handler) CreateCompany(w http.ResponseWriter, r *http.Request) {
	if !auth.PrincipalFromRequest(r).Is(auth.RoleSuperAdmin) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	var req struct {
		Name        string `json:"name"`
		ProviderRef string `json:"provider_ref"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", httpx.DecodeStatus(err))
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	c, err := h.companies.CreateCompany(r.Context(), req.Name, strings.TrimSpace(req.ProviderRef))
	if err != nil {
		writeError(w, err, "company")
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, companyJSON(c))
}

func companyJSON(c storage.Company) map[string]any {
	return map[string]any{
		"id":           c.ID,
		"name":         c.Name,
		"provider_ref": c.ProviderRef,
		"created_at":   c.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *Handler) GetCompany(w http.ResponseWriter, r *http.Request) {
	c, err := h.companies.GetCompany(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err, "company")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, companyJSON(c))
}

func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	list, err := h.companies.ListEmployees(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err, "employees")
		return
	}
	out := make([]map[string]any, 0, len(list))
	for _, e := range list {
		out = append(out, map[string]any{
			"user_id":  e.UserID,
			"email":    e.Email,
			"added_at": e.AddedAt.UTC().Format(time.RFC3339),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) AddEmployee(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
		Email  string `json:"email"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", httpx.DecodeStatus(err))
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if _, err := uuid.Parse(req.UserID); err != nil {
		http.Error(w, "user_id must be a uuid", http.StatusBadRequest)
		return
	}
	added, err := h.companies.AddEmployee(r.Context(), chi.URLParam(r, "id"), req.UserID, strings.TrimSpace(strings.ToLower(req.Email)))
	if err != nil {
		writeError(w, err, "company")
		return
	}
	status := http.StatusCreated
	if !added {
		status = http.StatusOK
	}
	httpx.WriteJSON(w, status, map[string]any{"user_id": req.UserID, "added": added})
}

func (h *Handler) RemoveEmployee(w http.ResponseWriter, r *http.Request) {
	if err := h.companies.RemoveEmployee(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "userID")); err != nil {
		writeError(w, err, "employee")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type allowedRestaurantJSON struct {
	RestaurantID string   `json:"restaurant_id"`
	DistanceKM   *float64 `json:"distance_km"`
}

func (h *Handler) ListAllowedRestaurants(w http.ResponseWriter, r *http.Request) {
	list, err := h.companies.ListAllowedRestaurants(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err, "restaurants")
		return
	}
	out := make([]allowedRestaurantJSON, 0, len(list))
	for _, a := range list {
		out = append(out, allowedRestaurantJSON{RestaurantID: a.RestaurantID, DistanceKM: a.DistanceKM})
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) ReplaceAllowedRestaurants(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Restaurants []allowedRestaurantJSON `json:"restaurants"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", httpx.DecodeStatus(err))
		return
	}
	seen := map[string]bool{}
	list := make([]storage.AllowedRestaurant, 0, len(req.Restaurants))
	for _, a := range req.Restaurants {
		id := strings.TrimSpace(a.RestaurantID)
		if _, err := uuid.Parse(id); err != nil {
			http.Error(w, "restaurant_id must be a uuid", http.StatusBadRequest)
			return
		}
		if a.DistanceKM != nil && *a.DistanceKM < 0 {
			http.Error(w, "distance_km must not be negative", http.StatusBadRequest)
			return
		}
		if seen[id] {
			http.Error(w, "duplicate restaurant_id "+id, http.StatusBadRequest)
			return
		}
		seen[id] = true
		list = append(list, storage.AllowedRestaurant{RestaurantID: id, DistanceKM: a.DistanceKM})
	}
	if err := h.companies.ReplaceAllowedRestaurants(r.Context(), chi.URLParam(r, "id"), list); err != nil {
		writeError(w, err, "company")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
