package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/md-rashed-zaman/lunchpass/libs/auth"
	"github.com/md-rashed-zaman/lunchpass/libs/availability"
	"github.com/md-rashed-zaman/lunchpass/libs/entitlement"
	"github.com/md-rashed-zaman/lunchpass/libs/httpx"
	"github.com/md-rashed-zaman/lunchpass/services/restaurant-service/internal/storage"
)

// Store is the persistence the handlers need; *storage.Repository implements it.
type Store interface {
	GetRestaurant(ctx context.Context, id string) (storage.Restaurant, error)
	ListRestaurants(ctx context.Context, limit int) ([]storage.Restaurant, error)
	CreateRestaurant(ctx context.Context, in storage.RestaurantInput) (storage.Restaurant, error)
	UpdateRestaurant(ctx context.Context, id string, in storage.RestaurantInput) (storage.Restaurant, error)
	SetHours(ctx context.Context, id string, hours *availability.HoursRange) (storage.Restaurant, error)
	ListMenu(ctx context.Context, restaurantID string) ([]storage.MenuItem, error)
	CreateMenuItem(ctx context.Context, restaurantID string, in storage.MenuItemInput) (storage.MenuItem, error)
	UpdateMenuItem(ctx context.Context, restaurantID, itemID string, in storage.MenuItemInput) (storage.MenuItem, error)
	DeleteMenuItem(ctx context.Context, restaurantID, itemID string) error
}

type Handler struct {
	store Store
	eval  availability.Evaluator
	loc   *time.Location
	now   func() time.Time
}

// New evaluates opening hours in loc.
func New(store Store, loc *time.Location) *Handler {
	return &Handler{store: store, eval: availability.Default, loc: loc, now: time.Now}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Route("/v1/restaurants", func(r chi.Router) {
		r.Get("/", h.ListRestaurants)
		r.Get("/{id}", h.GetRestaurant)
		r.Get("/{id}/status", h.GetStatus)
		r.Get("/{id}/menu", h.GetMenu)
	})
	r.Route("/v1/admin/restaurants", func(r chi.Router) {
		r.Post("/", h.CreateRestaurant)
		r.Route("/{id}", func(r chi.Router) {
			r.Use(h.requireRestaurantScope)
			r.Put("/", h.UpdateRestaurant)
			r.Put("/hours", h.PutHours)
			r.Post("/menu", h.CreateMenuItem)
			r.Put("/menu/{itemID}", h.UpdateMenuItem)
			r.Delete("/menu/{itemID}", h.DeleteMenuItem)
		})
	})
	return r
}

func (h *Handler) clock() time.Time {
	return h.now().In(h.loc)
}

func (h *Handler) requireRestaurantScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.PrincipalFromRequest(r).CanManageRestaurant(chi.URLParam(r, "id")) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type restaurantResponse struct {
	ID         string                   `json:"id"`
	Name       string                   `json:"name"`
	Tier       string                   `json:"tier"`
	Address    string                   `json:"address"`
	Active     bool                     `json:"active"`
	LunchHours *availability.HoursRange `json:"lunch_hours"`
	UpdatedAt  time.Time                `json:"updated_at"`
}

func toResponse(rs storage.Restaurant) restaurantResponse {
	return restaurantResponse{
		ID:         rs.ID,
		Name:       rs.Name,
		Tier:       rs.Tier,
		Address:    rs.Address,
		Active:     rs.Active,
		LunchHours: rs.Hours,
		UpdatedAt:  rs.UpdatedAt,
	}
}

type menuItemResponse struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	PriceCents  int      `json:"price_cents"`
	Days        []string `json:"days"`
	Active      bool     `json:"active"`
}

func toMenuResponse(m storage.MenuItem) menuItemResponse {
	days := m.Days
	if days == nil {
		days = []string{}
	}
	return menuItemResponse{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		PriceCents:  m.PriceCents,
		Days:        days,
		Active:      m.Active,
	}
}

func writeStoreError(w http.ResponseWriter, err error, what string) {
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, what+" not found", http.StatusNotFound)
		return
	}
	http.Error(w, "failed to access "+what, http.StatusInternalServerError)
}

func (h *Handler) ListRestaurants(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListRestaurants(r.Context(), 100)
	if err != nil {
		writeStoreError(w, err, "restaurants")
		return
	}
	out := make([]restaurantResponse, 0, len(list))
	for _, rs := range list {
		out = append(out, toResponse(rs))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) GetRestaurant(w http.ResponseWriter, r *http.Request) {
	rs, err := h.store.GetRestaurant(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err, "restaurant")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(rs))
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	rs, err := h.store.GetRestaurant(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err, "restaurant")
		return
	}
	now := h.clock()
	st := h.eval.Status(rs.Hours, now)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"restaurant_id": rs.ID,
		"open":          st.Open,
		"reason":        st.Reason,
		"message":       availability.Message(rs.Hours, st),
		"weekday":       availability.WeekdayName(now),
		"weekday_de":    availability.WeekdayNameDE(now),
	})
}

// GetMenu returns the items served today. ?day=<weekday> picks another day
// and ?day=all returns everything, inactive items included.
func (h *Handler) GetMenu(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.store.GetRestaurant(r.Context(), id); err != nil {
		writeStoreError(w, err, "restaurant")
		return
	}
	items, err := h.store.ListMenu(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "menu")
		return
	}

	day := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("day")))
	switch day {
	case "":
		day = availability.WeekdayName(h.clock())
	case "all":
	default:
		if _, ok := availability.ParseWeekday(day); !ok {
			http.Error(w, "invalid day", http.StatusBadRequest)
			return
		}
	}

	out := make([]menuItemResponse, 0, len(items))
	for _, m := range items {
		if day != "all" && (!m.Active || !availability.ServedOnDay(m.Days, day)) {
			continue
		}
		out = append(out, toMenuResponse(m))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"restaurant_id": id,
		"day":           day,
		"items":         out,
	})
}

type restaurantRequest struct {
	Name    string `json:"name"`
	Tier    string `json:"tier"`
	Address string `json:"address"`
	Active  *bool  `json:"active"`
}

func (req restaurantRequest) input() (storage.RestaurantInput, error) {
	in := storage.RestaurantInput{
		Name:    strings.TrimSpace(req.Name),
		Tier:    entitlement.NormalizeTier(req.Tier),
		Address: strings.TrimSpace(req.Address),
		Active:  true,
	}
	if req.Active != nil {
		in.Active = *req.Active
	}
	if in.Name == "" {
		return in, errors.New("name is required")
	}
	if !entitlement.ValidTier(in.Tier) {
		return in, errors.New("tier must be S, M or L")
	}
	return in, nil
}

func (h *Handler) CreateRestaurant(w http.ResponseWriter, r *http.Request) {
	if !auth.PrincipalFromRequest(r).Is(auth.RoleSuperAdmin) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	var req restaurantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", httpx.DecodeStatus(err))
		return
	}
	in, err := req.input()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rs, err := h.store.CreateRestaurant(r.Context(), in)
	if err != nil {
		writeStoreError(w, err, "restaurant")
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toResponse(rs))
}

func (h *Handler) UpdateRestaurant(w http.ResponseWriter, r *http.Request) {
	var req restaurantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", httpx.DecodeStatus(err))
		return
	}
	in, err := req.input()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	// Restaurant admins edit their listing but cannot change its tier.
	id := chi.URLParam(r, "id")
	if !auth.PrincipalFromRequest(r).Is(auth.RoleSuperAdmin) {
		cur, err := h.store.GetRestaurant(r.Context(), id)
		if err != nil {
			writeStoreError(w, err, "restaurant")
			return
		}
		if cur.Tier != in.Tier {
			http.Error(w, "only super admins may change the tier", http.StatusForbidden)
			return
		}
	}
	rs, err := h.store.UpdateRestaurant(r.Context(), id, in)
	if err != nil {
		writeStoreError(w, err, "restaurant")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(rs))
}

// PutHours sets the lunch window. A body of {"from":"","to":""} clears it.
func (h *Handler) PutHours(w http.ResponseWriter, r *http.Request) {
	var req availability.HoursRange
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", httpx.DecodeStatus(err))
		return
	}
	req.From = strings.TrimSpace(req.From)
	req.To = strings.TrimSpace(req.To)

	var hours *availability.HoursRange
	if req.From != "" || req.To != "" {
		if err := req.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		hours = &req
	}
	rs, err := h.store.SetHours(r.Context(), chi.URLParam(r, "id"), hours)
	if err != nil {
		writeStoreError(w, err, "restaurant")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(rs))
}

type menuItemRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	PriceCents  int      `json:"price_cents"`
	Days        []string `json:"days"`
	Active      *bool    `json:"active"`
}

func (req menuItemRequest) input() (storage.MenuItemInput, error) {
	in := storage.MenuItemInput{
		Name:        strings.TrimSpace(req.Name),
		Description: strings.TrimSpace(req.Description),
		PriceCents:  req.PriceCents,
		Active:      true,
	}
	if req.Active != nil {
		in.Active = *req.Active
	}
	if in.Name == "" {
		return in, errors.New("name is required")
	}
	if in.PriceCents < 0 {
		return in, errors.New("price_cents must not be negative")
	}
	days, ok := availability.NormalizeDayTags(req.Days)
	if !ok {
		return in, errors.New("days must be weekday names")
	}
	in.Days = days
	return in, nil
}

func (h *Handler) CreateMenuItem(w http.ResponseWriter, r *http.Request) {
	var req menuItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", httpx.DecodeStatus(err))
		return
	}
	in, err := req.input()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	item, err := h.store.CreateMenuItem(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		writeStoreError(w, err, "restaurant")
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toMenuResponse(item))
}

func (h *Handler) UpdateMenuItem(w http.ResponseWriter, r *http.Request) {
	var req menuItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", httpx.DecodeStatus(err))
		return
	}
	in, err := req.input()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	item, err := h.store.UpdateMenuItem(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "itemID"), in)
	if err != nil {
		writeStoreError(w, err, "menu item")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toMenuResponse(item))
}

func (h *Handler) DeleteMenuItem(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteMenuItem(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "itemID")); err != nil {
		writeStoreError(w, err, "menu item")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
