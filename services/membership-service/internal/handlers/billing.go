package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/md-rashed-zaman/lunchpass/libs/auth"
	"github.com/md-rashed-zaman/lunchpass/libs/httpx"
	"github.com/md-rashed-zaman/lunchpass/services/membership-service/internal/memberships"
	"github.com/md-rashed-zaman/lunchpass/services/membership-service/internal/storage"
)

func membershipJSON(m storage.Membership) map[string]any {
	return map[string]any{
		"id":             m.ID,
		"company_id":     m.CompanyID,
		"plan_type":      m.PlanType,
		"meals_per_week": m.MealsPerWeek,
		"start_date":     m.StartDate,
		"end_date":       m.EndDate,
		"status":         m.Status,
		"provider":       m.Provider,
		"updated_at":     m.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *Handler) GetMembership(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "id")
	m, err := h.memberships.Current(r.Context(), companyID)
	if errors.Is(err, storage.ErrNotFound) {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"company_id": companyID, "status": "none"})
		return
	}
	if err != nil {
		writeError(w, err, "membership")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, membershipJSON(m))
}

type membershipRequest struct {
	CompanyID    string `json:"company_id"`
	PlanType     string `json:"plan_type"`
	MealsPerWeek *int   `json:"meals_per_week"`
	StartDate    string `json:"start_date"`
	EndDate      string `json:"end_date"`
}

// CreateMembership activates a membership directly, without checkout.
func (h *Handler) CreateMembership(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromRequest(r)
	if !p.Is(auth.RoleSuperAdmin) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	var req membershipRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", httpx.DecodeStatus(err))
		return
	}
	m, err := h.memberships.ActivateDirect(r.Context(), memberships.Activation{
		CompanyID:    req.CompanyID,
		PlanType:     req.PlanType,
		MealsPerWeek: req.MealsPerWeek,
		StartDate:    req.StartDate,
		EndDate:      req.EndDate,
		Provider:     "direct",
	}, p.UserID)
	if err != nil {
		writeError(w, err, "company")
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, membershipJSON(m))
}

func (h *Handler) CancelMembership(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromRequest(r)
	m, err := h.memberships.CancelByID(r.Context(), chi.URLParam(r, "id"), p.CanManageCompany, p.UserID)
	if err != nil {
		writeError(w, err, "membership")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, membershipJSON(m))
}

type checkoutRequest struct {
	PlanType   string `json:"plan_type"`
	SuccessURL string `json:"success_url,omitempty"`
	CancelURL  string `json:"cancel_url,omitempty"`
}

func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "id")
	var req checkoutRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", httpx.DecodeStatus(err))
		return
	}
	plan, err := h.memberships.Catalog().Lookup(req.PlanType)
	if err != nil {
		http.Error(w, "unsupported plan_type", http.StatusBadRequest)
		return
	}
	if h.checkout.Name() == "stripe" && plan.StripePriceID == "" {
		http.Error(w, "stripe price id not configured for plan", http.StatusNotImplemented)
		return
	}

	successURL := firstNonEmpty(req.SuccessURL, h.cfg.CheckoutSuccessURL)
	cancelURL := firstNonEmpty(req.CancelURL, h.cfg.CheckoutCancelURL)
	if successURL == "" || cancelURL == "" {
		http.Error(w, "success_url and cancel_url are required (or configure default URLs)", http.StatusBadRequest)
		return
	}

	sessionID, sessionURL, err := h.checkout.CreateSession(r.Context(), CheckoutRequest{
		CompanyID:      companyID,
		PlanType:       plan.Type,
		PriceID:        plan.StripePriceID,
		SuccessURL:     successURL,
		CancelURL:      cancelURL,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		h.logger.Error("checkout session create failed", "err", err, "company_id", companyID)
		http.Error(w, "failed to create checkout session", http.StatusBadGateway)
		return
	}

	err = h.memberships.RecordCheckoutSession(r.Context(), storage.CheckoutSession{
		SessionID: sessionID,
		CompanyID: companyID,
		PlanType:  plan.Type,
		Status:    "created",
		URL:       sessionURL,
	}, auth.PrincipalFromRequest(r).UserID)
	if err != nil {
		writeError(w, err, "checkout session")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"url":        sessionURL,
		"provider":   h.checkout.Name(),
	})
}

// CheckoutSessionStatus returns non-sensitive session state. Customers land
// here from the provider redirect.
func (h *Handler) CheckoutSessionStatus(w http.ResponseWriter, r *http.Request) {
	sess, err := h.memberships.GetCheckoutSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err, "checkout session")
		return
	}
	resp := map[string]any{
		"session_id": sess.SessionID,
		"plan_type":  sess.PlanType,
		"status":     sess.Status,
		"updated_at": sess.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if sess.CompletedAt != nil {
		resp["completed_at"] = sess.CompletedAt.UTC().Format(time.RFC3339)
	}
	if sess.ExpiredAt != nil {
		resp["expired_at"] = sess.ExpiredAt.UTC().Format(time.RFC3339)
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

type localWebhookRequest struct {
	EventID      string `json:"event_id"`
	Type         string `json:"type"` // membership.activated | membership.canceled
	CompanyID    string `json:"company_id"`
	PlanType     string `json:"plan_type"`
	MealsPerWeek *int   `json:"meals_per_week,omitempty"`
	StartDate    string `json:"start_date,omitempty"`
	EndDate      string `json:"end_date,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
	OccurredAt   string `json:"occurred_at"`
}

// LocalWebhook mimics provider callbacks without signatures. It is only
// mounted when ALLOW_LOCAL_WEBHOOK is set.
func (h *Handler) LocalWebhook(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.AllowLocalWebhook {
		http.NotFound(w, r)
		return
	}
	var req localWebhookRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", httpx.DecodeStatus(err))
		return
	}
	req.EventID = strings.TrimSpace(req.EventID)
	req.Type = strings.TrimSpace(req.Type)
	req.CompanyID = strings.TrimSpace(req.CompanyID)
	if req.EventID == "" || req.Type == "" || req.CompanyID == "" || req.OccurredAt == "" {
		http.Error(w, "missing required fields", http.StatusBadRequest)
		return
	}
	occurredAt, err := time.Parse(time.RFC3339, strings.TrimSpace(req.OccurredAt))
	if err != nil {
		http.Error(w, "invalid occurred_at", http.StatusBadRequest)
		return
	}
	payload, _ := json.Marshal(req)

	u := memberships.ProviderUpdate{
		Event: storage.ProviderEvent{
			Provider:        "local",
			ProviderEventID: req.EventID,
			EventType:       req.Type,
			Payload:         payload,
		},
		CompanyID:  req.CompanyID,
		SessionID:  strings.TrimSpace(req.SessionID),
		OccurredAt: occurredAt,
	}
	switch req.Type {
	case "membership.activated":
		if strings.TrimSpace(req.PlanType) == "" {
			http.Error(w, "plan_type is required for membership.activated", http.StatusBadRequest)
			return
		}
		u.Kind = memberships.UpdateActivate
		u.Activation = memberships.Activation{
			CompanyID:    req.CompanyID,
			PlanType:     req.PlanType,
			MealsPerWeek: req.MealsPerWeek,
			StartDate:    req.StartDate,
			EndDate:      req.EndDate,
			Provider:     "local",
		}
	case "membership.canceled":
		u.Kind = memberships.UpdateCancel
	default:
		http.Error(w, "unsupported type", http.StatusBadRequest)
		return
	}

	h.applyProviderUpdate(w, r, u)
}

func (h *Handler) applyProviderUpdate(w http.ResponseWriter, r *http.Request, u memberships.ProviderUpdate) {
	h.logger.Info("billing provider event received",
		"provider", u.Event.Provider,
		"provider_event_id", u.Event.ProviderEventID,
		"event_type", u.Event.EventType,
		"company_id", u.Company(),
	)
	dup, err := h.memberships.ApplyProviderUpdate(r.Context(), u)
	if err != nil {
		if errors.Is(err, memberships.ErrInvalid) {
			h.logger.Warn("billing provider event rejected", "provider_event_id", u.Event.ProviderEventID, "err", err)
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		h.logger.Error("billing provider event failed", "provider_event_id", u.Event.ProviderEventID, "err", err)
		http.Error(w, "failed to apply provider event", http.StatusInternalServerError)
		return
	}
	if dup {
		h.logger.Info("billing provider event duplicate ignored", "provider", u.Event.Provider, "provider_event_id", u.Event.ProviderEventID)
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
