package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/md-rashed-zaman/lunchpass/libs/db"
	"github.com/md-rashed-zaman/lunchpass/services/membership-service/internal/memberships"
	"github.com/md-rashed-zaman/lunchpass/services/membership-service/internal/storage"
	"github.com/stripe/stripe-go/v79"
	stripesubscription "github.com/stripe/stripe-go/v79/subscription"
)

// Store lists the memberships to check against Stripe.
type Store interface {
	ListStripeMemberships(ctx context.Context, limit int) ([]storage.Membership, error)
}

// Applier is implemented by *memberships.Service.
type Applier interface {
	ApplyProviderUpdate(ctx context.Context, u memberships.ProviderUpdate) (bool, error)
	ExpireDue(ctx context.Context, limit int) (int, error)
}

// FetchSubscription reads the current state of a subscription from Stripe.
type FetchSubscription func(id string) (*stripe.Subscription, error)

type Config struct {
	StripeSecretKey string
	Interval        time.Duration
	BatchSize       int
	AdvisoryLockKey int64
}

// Reconciler heals missed webhooks and closes memberships whose end date
// passed. Only the instance holding the advisory lock runs it.
type Reconciler struct {
	pool    *db.Pool
	store   Store
	applier Applier
	fetch   FetchSubscription
	logger  *slog.Logger
	loc     *time.Location
	cfg     Config
}

func New(pool *db.Pool, store Store, applier Applier, logger *slog.Logger, loc *time.Location, cfg Config) *Reconciler {
	cfg.StripeSecretKey = strings.TrimSpace(cfg.StripeSecretKey)
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.AdvisoryLockKey == 0 {
		cfg.AdvisoryLockKey = 4242101
	}
	r := &Reconciler{pool: pool, store: store, applier: applier, logger: logger, loc: loc, cfg: cfg}
	if cfg.StripeSecretKey != "" {
		r.fetch = func(id string) (*stripe.Subscription, error) {
			return stripesubscription.Get(id, nil)
		}
	}
	return r
}

func (r *Reconciler) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		locked, release, err := r.pool.TryAdvisoryLock(ctx, r.cfg.AdvisoryLockKey)
		if err != nil {
			r.logger.Error("reconcile: failed to acquire advisory lock", "err", err)
			if !sleep(ctx, 5*time.Second) {
				return
			}
			continue
		}
		if !locked {
			r.logger.Info("reconcile: advisory lock held by another instance", "lock_key", r.cfg.AdvisoryLockKey)
			if !sleep(ctx, 30*time.Second) {
				return
			}
			continue
		}
		r.logger.Info("reconcile: advisory lock acquired", "lock_key", r.cfg.AdvisoryLockKey)
		defer release()
		break
	}

	if r.fetch == nil {
		r.logger.Warn("stripe reconcile disabled: STRIPE_SECRET_KEY missing; only expiring memberships")
	} else {
		stripe.Key = r.cfg.StripeSecretKey
	}

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.Once(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Once(ctx)
		}
	}
}

// Once runs one pass: expire due memberships, then sync Stripe state.
func (r *Reconciler) Once(ctx context.Context) {
	if n, err := r.applier.ExpireDue(ctx, r.cfg.BatchSize); err != nil {
		r.logger.Error("reconcile: expire memberships failed", "err", err)
	} else if n > 0 {
		r.logger.Info("reconcile: memberships expired", "count", n)
	}
	if r.fetch == nil {
		return
	}

	list, err := r.store.ListStripeMemberships(ctx, r.cfg.BatchSize)
	if err != nil {
		r.logger.Error("stripe reconcile: failed to list memberships", "err", err)
		return
	}
	for _, m := range list {
		if ctx.Err() != nil {
			return
		}
		sub, err := r.fetch(m.StripeSubscriptionID)
		if err != nil {
			r.logger.Warn("stripe reconcile: failed to fetch subscription", "err", err, "stripe_subscription_id", m.StripeSubscriptionID, "company_id", m.CompanyID)
			continue
		}
		u, ok := r.update(m, sub)
		if !ok {
			continue
		}
		if _, err := r.applier.ApplyProviderUpdate(ctx, u); err != nil {
			r.logger.Warn("stripe reconcile: apply failed", "err", err, "company_id", m.CompanyID, "stripe_subscription_id", sub.ID)
		}
	}
}

// update derives the provider update for a subscription. The synthetic event
// id is stable per subscription state, so an unchanged subscription dedupes.
func (r *Reconciler) update(m storage.Membership, sub *stripe.Subscription) (memberships.ProviderUpdate, bool) {
	payload, _ := json.Marshal(map[string]any{
		"membership_id":          m.ID,
		"stripe_subscription_id": sub.ID,
		"status":                 sub.Status,
		"current_period_start":   sub.CurrentPeriodStart,
		"current_period_end":     sub.CurrentPeriodEnd,
	})
	u := memberships.ProviderUpdate{
		Event: storage.ProviderEvent{
			Provider:        "stripe",
			ProviderEventID: fmt.Sprintf("reconcile:%s:%s:%d", sub.ID, sub.Status, sub.CurrentPeriodStart),
			EventType:       "reconcile.subscription",
			Payload:         payload,
		},
		CompanyID:            m.CompanyID,
		StripeSubscriptionID: sub.ID,
		OccurredAt:           time.Now().UTC(),
	}

	switch {
	case memberships.Entitled(sub.Status):
		planType := strings.TrimSpace(sub.Metadata["plan_type"])
		if planType == "" {
			// Keep the current plan rather than guessing.
			planType = m.PlanType
		}
		u.Kind = memberships.UpdateActivate
		u.Activation = memberships.SubscriptionActivation(sub, m.CompanyID, planType, r.loc)
	case sub.Status == stripe.SubscriptionStatusCanceled,
		sub.Status == stripe.SubscriptionStatusUnpaid,
		sub.Status == stripe.SubscriptionStatusIncompleteExpired:
		u.Kind = memberships.UpdateCancel
		if sub.CanceledAt > 0 {
			u.OccurredAt = time.Unix(sub.CanceledAt, 0).UTC()
		}
	default:
		return u, false
	}
	return u, true
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
