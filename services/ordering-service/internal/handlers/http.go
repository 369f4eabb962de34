package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/md-rashed-zaman/lunchpass/libs/auth"
	"github.com/md-rashed-zaman/lunchpass/libs/httpx"
	"github.com/md-rashed-zaman/lunchpass/services/ordering-service/internal/orders"
	"github.com/md-rashed-zaman/lunchpass/services/ordering-service/internal/storage"
)

// Orders is implemented by *orders.Service.
type Orders interface {
	Place(ctx context.Context, req orders.PlaceRequest) (orders.Receipt, error)
	List(ctx context.Context, userID string, limit int) ([]storage.Transaction, error)
	Restaurants(ctx context.Context, companyID string) ([]orders.RestaurantView, error)
	Entitlement(ctx context.Context, userID, companyID string) (orders.EntitlementView, error)
	EmployerEntitlements(ctx context.Context, companyID string) ([]orders.EmployeeEntitlement, error)
}

type Handler struct {
	orders Orders
	logger *slog.Logger
}

func New(o Orders, logger *slog.Logger) *Handler {
	return &Handler{orders: o, logger: logger}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(requireEmployee)
		r.Get("/v1/me/restaurants", h.MyRestaurants)
		r.Get("/v1/me/entitlement", h.MyEntitlement)
		r.Post("/v1/orders", h.PlaceOrder)
		r.Get("/v1/orders", h.ListOrders)
	})
	r.Get("/v1/employer/entitlements", h.EmployerEntitlements)
	return r
}

func requireEmployee(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := auth.PrincipalFromRequest(r)
		if !p.Is(auth.RoleEmployee) || p.UserID == "" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		if p.CompanyID == "" {
			http.Error(w, "no company on this account", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) MyRestaurants(w http.ResponseWriter, r *http.Request) {
	list, err := h.orders.Restaurants(r.Context(), auth.PrincipalFromRequest(r).CompanyID)
	if err != nil {
		h.logger.Error("list restaurants failed", "err", err)
		http.Error(w, "failed to list restaurants", http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) MyEntitlement(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromRequest(r)
	v, err := h.orders.Entitlement(r.Context(), p.UserID, p.CompanyID)
	if err != nil {
		h.logger.Error("load entitlement failed", "err", err)
		http.Error(w, "failed to load entitlement", http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, v)
}

type placeOrderRequest struct {
	RestaurantID   string `json:"restaurant_id"`
	MenuItemID     string `json:"menu_item_id,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

func transactionJSON(t storage.Transaction) map[string]any {
	out := map[string]any{
		"transaction_id":  t.ID,
		"restaurant_id":   t.RestaurantID,
		"remaining_meals": t.RemainingMeals,
		"consumed_at":     t.ConsumedAt.UTC().Format(time.RFC3339),
	}
	if t.MenuItemID != "" {
		out["menu_item_id"] = t.MenuItemID
	}
	return out
}

func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", httpx.DecodeStatus(err))
		return
	}
	req.RestaurantID = strings.TrimSpace(req.RestaurantID)
	req.MenuItemID = strings.TrimSpace(req.MenuItemID)
	if _, err := uuid.Parse(req.RestaurantID); err != nil {
		http.Error(w, "restaurant_id must be a uuid", http.StatusBadRequest)
		return
	}
	if req.MenuItemID != "" {
		if _, err := uuid.Parse(req.MenuItemID); err != nil {
			http.Error(w, "menu_item_id must be a uuid", http.StatusBadRequest)
			return
		}
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}
	if len(key) > 128 {
		http.Error(w, "idempotency key too long", http.StatusBadRequest)
		return
	}

	p := auth.PrincipalFromRequest(r)
	receipt, err := h.orders.Place(r.Context(), orders.PlaceRequest{
		UserID:         p.UserID,
		CompanyID:      p.CompanyID,
		RestaurantID:   req.RestaurantID,
		MenuItemID:     req.MenuItemID,
		IdempotencyKey: key,
	})
	if err != nil {
		h.writeOrderError(w, err)
		return
	}
	status := http.StatusCreated
	if receipt.Replayed {
		status = http.StatusOK
	}
	httpx.WriteJSON(w, status, transactionJSON(receipt.Transaction))
}

func (h *Handler) writeOrderError(w http.ResponseWriter, err error) {
	var closed *orders.ClosedError
	switch {
	case errors.As(err, &closed):
		httpx.WriteJSON(w, http.StatusConflict, map[string]any{
			"error":   orders.ErrClosed.Error(),
			"reason":  closed.Status.Reason,
			"message": closed.Message,
		})
	case errors.Is(err, orders.ErrNotServedToday), errors.Is(err, orders.ErrDuplicateKey):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, orders.ErrRestaurantNotFound), errors.Is(err, orders.ErrMenuItemNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, orders.ErrNoMembership),
		errors.Is(err, orders.ErrNoBalance),
		errors.Is(err, orders.ErrBalanceExhausted),
		errors.Is(err, orders.ErrWeeklyLimit):
		http.Error(w, err.Error(), http.StatusPaymentRequired)
	default:
		h.logger.Error("place order failed", "err", err)
		http.Error(w, "failed to place order", http.StatusInternalServerError)
	}
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	list, err := h.orders.List(r.Context(), auth.PrincipalFromRequest(r).UserID, limit)
	if err != nil {
		h.logger.Error("list orders failed", "err", err)
		http.Error(w, "failed to list orders", http.StatusInternalServerError)
		return
	}
	out := make([]map[string]any, 0, len(list))
	for _, t := range list {
		out = append(out, transactionJSON(t))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// EmployerEntitlements serves the employer dashboard. Super admins pick the
// company through ?company_id=.
func (h *Handler) EmployerEntitlements(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromRequest(r)
	companyID := p.CompanyID
	if p.Is(auth.RoleSuperAdmin) {
		companyID = strings.TrimSpace(r.URL.Query().Get("company_id"))
	}
	if companyID == "" || !p.CanManageCompany(companyID) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	list, err := h.orders.EmployerEntitlements(r.Context(), companyID)
	if err != nil {
		h.logger.Error("employer entitlements failed", "err", err)
		http.Error(w, "failed to load entitlements", http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"company_id": companyID, "employees": list})
}
