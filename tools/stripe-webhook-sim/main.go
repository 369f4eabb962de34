package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

func main() {
	var (
		baseURL  = flag.String("base-url", getenv("BASE_URL", "http://localhost:8080"), "gateway base url")
		evtType  = flag.String("type", getenv("STRIPE_EVENT_TYPE", "customer.subscription.created"), "stripe event type")
		company  = flag.String("company-id", getenv("COMPANY_ID", ""), "company_id metadata")
		planType = flag.String("plan-type", getenv("PLAN_TYPE", "M"), "plan_type metadata (S, M, L, XL)")
		status   = flag.String("status", getenv("SUBSCRIPTION_STATUS", "active"), "subscription status for subscription events")
		subID    = flag.String("subscription-id", getenv("SUBSCRIPTION_ID", "sub_test_123"), "stripe subscription id")
		days     = flag.Int("period-days", 30, "billing period length in days")
		secret   = flag.String("secret", getenv("STRIPE_WEBHOOK_SECRET", ""), "stripe webhook signing secret (whsec_...)")
	)
	flag.Parse()

	if strings.TrimSpace(*secret) == "" {
		fatal("STRIPE_WEBHOOK_SECRET is required")
	}
	if strings.TrimSpace(*company) == "" {
		fatal("COMPANY_ID is required")
	}

	now := time.Now().UTC()
	eventID := fmt.Sprintf("evt_test_%d", now.UnixNano())
	metadata := map[string]any{"company_id": *company, "plan_type": strings.ToUpper(*planType)}

	payload, err := buildEventJSON(eventID, *evtType, now, metadata, *subID, *status, *days)
	if err != nil {
		fatal(err.Error())
	}

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    *secret,
		Timestamp: now,
		Scheme:    "v1",
	})

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(*baseURL, "/")+"/v1/billing/webhook", bytes.NewReader(payload))
	if err != nil {
		fatal(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signed.Header)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	fmt.Printf("status=%d body=%s\n", resp.StatusCode, strings.TrimSpace(string(body)))
}

func buildEventJSON(eventID, eventType string, t time.Time, metadata map[string]any, subID, status string, days int) ([]byte, error) {
	var object map[string]any
	switch eventType {
	case "checkout.session.completed", "checkout.session.expired":
		object = map[string]any{
			"id":           "cs_test_123",
			"object":       "checkout.session",
			"subscription": subID,
			"metadata":     metadata,
		}
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		start := t.Truncate(24 * time.Hour)
		object = map[string]any{
			"id":                   subID,
			"object":               "subscription",
			"status":               status,
			"current_period_start": start.Unix(),
			"current_period_end":   start.AddDate(0, 0, days).Unix(),
			"metadata":             metadata,
		}
	default:
		return nil, fmt.Errorf("unsupported event type: %s", eventType)
	}
	return json.Marshal(map[string]any{
		"id":          eventID,
		"object":      "event",
		"created":     t.Unix(),
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"data":        map[string]any{"object": object},
	})
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
