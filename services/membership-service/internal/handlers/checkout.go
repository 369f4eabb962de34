package handlers

import (
	"context"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
)

type CheckoutRequest struct {
	CompanyID      string
	PlanType       string
	PriceID        string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
}

// CheckoutProvider creates a hosted payment page for a plan.
type CheckoutProvider interface {
	CreateSession(ctx context.Context, req CheckoutRequest) (sessionID, url string, err error)
	Name() string
}

// NewCheckoutProvider returns the Stripe provider, or a local stub when no
// secret key is configured.
func NewCheckoutProvider(stripeSecretKey string) CheckoutProvider {
	key := strings.TrimSpace(stripeSecretKey)
	if key == "" {
		return stubCheckout{}
	}
	return stripeCheckout{key: key}
}

type stripeCheckout struct {
	key string
}

func (stripeCheckout) Name() string { return "stripe" }

func (s stripeCheckout) CreateSession(_ context.Context, req CheckoutRequest) (string, string, error) {
	stripe.Key = s.key
	metadata := map[string]string{
		"company_id": req.CompanyID,
		"plan_type":  req.PlanType,
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.CompanyID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(req.PriceID), Quantity: stripe.Int64(1)},
		},
		Metadata: metadata,
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
	}
	if req.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(req.IdempotencyKey)
	}
	sess, err := checkoutsession.New(params)
	if err != nil {
		return "", "", err
	}
	return sess.ID, sess.URL, nil
}

// stubCheckout lets local setups walk the checkout flow; completion is then
// simulated through the local webhook.
type stubCheckout struct{}

func (stubCheckout) Name() string { return "local" }

func (stubCheckout) CreateSession(_ context.Context, req CheckoutRequest) (string, string, error) {
	id := "cs_local_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	return id, withQueryParam(req.SuccessURL, "session_id", id), nil
}

func withQueryParam(rawURL, key, value string) string {
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + key + "=" + url.QueryEscape(value)
}
