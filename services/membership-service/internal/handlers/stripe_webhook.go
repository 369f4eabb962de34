package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/lunchpass/services/membership-service/internal/memberships"
	"github.com/md-rashed-zaman/lunchpass/services/membership-service/internal/storage"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

// StripeWebhook has no JWT auth; the signature is the auth.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.cfg.StripeWebhookSecret == "" {
		http.Error(w, "stripe webhook not configured", http.StatusServiceUnavailable)
		return
	}
	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	evt, err := webhook.ConstructEventWithOptions(body, sigHeader, h.cfg.StripeWebhookSecret, webhook.ConstructEventOptions{
		Tolerance:                h.cfg.StripeWebhookTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	u, err := stripeUpdate(evt, body, h.loc)
	if err != nil {
		// Malformed payloads are recorded and acknowledged so Stripe stops retrying.
		h.logger.Warn("stripe event not applied", "provider_event_id", evt.ID, "event_type", evt.Type, "err", err)
		u.Kind = memberships.UpdateIgnore
	}
	h.applyProviderUpdate(w, r, u)
}

// stripeUpdate maps a verified Stripe event onto a membership update. The
// returned update always carries the event for dedupe, even with an error.
func stripeUpdate(evt stripe.Event, body []byte, loc *time.Location) (memberships.ProviderUpdate, error) {
	u := memberships.ProviderUpdate{
		Event: storage.ProviderEvent{
			Provider:        "stripe",
			ProviderEventID: evt.ID,
			EventType:       string(evt.Type),
			Payload:         body,
		},
		OccurredAt: time.Unix(evt.Created, 0).UTC(),
	}

	switch evt.Type {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
			return u, fmt.Errorf("invalid checkout session payload: %w", err)
		}
		companyID := strings.TrimSpace(session.Metadata["company_id"])
		planType := strings.TrimSpace(session.Metadata["plan_type"])
		if companyID == "" || planType == "" {
			return u, fmt.Errorf("checkout session %s is missing company_id/plan_type metadata", session.ID)
		}
		u.SessionID = session.ID
		u.CompanyID = companyID
		u.Activation = memberships.Activation{
			CompanyID: companyID,
			PlanType:  planType,
			Provider:  "stripe",
		}
		if session.Customer != nil {
			u.Activation.StripeCustomerID = session.Customer.ID
		}
		// Subscription checkouts activate from the subscription events, which
		// carry the billing period.
		u.Kind = memberships.UpdateActivate
		if session.Subscription != nil && session.Subscription.ID != "" {
			u.Activation.StripeSubscriptionID = session.Subscription.ID
			u.Kind = memberships.UpdateSessionCompleted
		}

	case "checkout.session.expired":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
			return u, fmt.Errorf("invalid checkout session payload: %w", err)
		}
		u.Kind = memberships.UpdateSessionExpired
		u.SessionID = session.ID

	case "customer.subscription.created", "customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(evt.Data.Raw, &sub); err != nil {
			return u, fmt.Errorf("invalid subscription payload: %w", err)
		}
		u.CompanyID = strings.TrimSpace(sub.Metadata["company_id"])
		u.StripeSubscriptionID = sub.ID
		switch sub.Status {
		case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusUnpaid, stripe.SubscriptionStatusIncompleteExpired:
			u.Kind = memberships.UpdateCancel
			return u, nil
		default:
			return u, nil
		}
		planType := strings.TrimSpace(sub.Metadata["plan_type"])
		if u.CompanyID == "" || planType == "" {
			return u, fmt.Errorf("subscription %s is missing company_id/plan_type metadata", sub.ID)
		}
		u.Kind = memberships.UpdateActivate
		u.Activation = memberships.SubscriptionActivation(&sub, u.CompanyID, planType, loc)

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(evt.Data.Raw, &sub); err != nil {
			return u, fmt.Errorf("invalid subscription payload: %w", err)
		}
		u.Kind = memberships.UpdateCancel
		u.CompanyID = strings.TrimSpace(sub.Metadata["company_id"])
		u.StripeSubscriptionID = sub.ID
	}
	return u, nil
}
