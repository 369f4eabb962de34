// Package notify sends employee emails in reaction to ordering and allowance
// events.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/lunchpass/libs/events"
	"github.com/md-rashed-zaman/lunchpass/libs/inbox"
	"github.com/md-rashed-zaman/lunchpass/libs/kafkax"
	"github.com/md-rashed-zaman/lunchpass/libs/metrics"
	"github.com/md-rashed-zaman/lunchpass/services/notification-service/internal/email"
	"github.com/md-rashed-zaman/lunchpass/services/notification-service/internal/storage"
	"github.com/segmentio/kafka-go"
)

const (
	KindLowBalance = "low_balance"
	KindWelcome    = "welcome"
)

var sent = metrics.NewCounterVec("notification", "emails_total", "Emails attempted, by kind and status.", "kind", "status")

type Store interface {
	UpsertRecipient(ctx context.Context, tx pgx.Tx, rc storage.Recipient) error
	RemoveRecipient(ctx context.Context, tx pgx.Tx, companyID, userID string) error
	ListRecipients(ctx context.Context, tx pgx.Tx, companyID string) ([]storage.Recipient, error)
	Claim(ctx context.Context, tx pgx.Tx, n storage.Notification) (int64, bool, error)
	MarkResult(ctx context.Context, tx pgx.Tx, id int64, status, provider, lastError string) error
}

type Notifier struct {
	store     Store
	sender    email.Sender
	logger    *slog.Logger
	threshold int
}

// New sends a low balance email once remaining meals drop to threshold.
func New(store Store, sender email.Sender, logger *slog.Logger, threshold int) *Notifier {
	return &Notifier{store: store, sender: sender, logger: logger, threshold: threshold}
}

func Topics() []string {
	return []string{events.TopicOrder, events.TopicAllowance, events.TopicMembership}
}

func (n *Notifier) Apply() inbox.Apply {
	return func(ctx context.Context, tx pgx.Tx, meta kafkax.EventMeta, msg kafka.Message) error {
		switch meta.EventType {
		case events.MealConsumed:
			v, err := events.Decode[events.MealConsumedV1](meta.EventType, msg.Value)
			if err != nil {
				return n.reject(meta, err)
			}
			return n.mealConsumed(ctx, tx, meta, v)
		case events.PeriodOpened:
			v, err := events.Decode[events.PeriodV1](meta.EventType, msg.Value)
			if err != nil {
				return n.reject(meta, err)
			}
			return n.periodOpened(ctx, tx, meta, v)
		case events.EmployeeAdded, events.EmployeeRemoved:
			v, err := events.Decode[events.EmployeeV1](meta.EventType, msg.Value)
			if err != nil {
				return n.reject(meta, err)
			}
			if meta.EventType == events.EmployeeRemoved {
				return n.store.RemoveRecipient(ctx, tx, v.CompanyID, v.UserID)
			}
			return n.store.UpsertRecipient(ctx, tx, storage.Recipient{CompanyID: v.CompanyID, UserID: v.UserID, Email: v.Email})
		}
		return nil
	}
}

func (n *Notifier) reject(meta kafkax.EventMeta, err error) error {
	n.logger.Warn("event rejected", "event_id", meta.EventID, "event_type", meta.EventType, "err", err)
	return nil
}

func (n *Notifier) mealConsumed(ctx context.Context, tx pgx.Tx, meta kafkax.EventMeta, v events.MealConsumedV1) error {
	if v.Email == "" || v.RemainingMeals > n.threshold {
		return nil
	}
	subject, body := LowBalanceMessage(v.RemainingMeals)
	return n.deliver(ctx, tx, meta.EventID, KindLowBalance, v.UserID, v.Email, subject, body)
}

func (n *Notifier) periodOpened(ctx context.Context, tx pgx.Tx, meta kafkax.EventMeta, v events.PeriodV1) error {
	recipients, err := n.store.ListRecipients(ctx, tx, v.CompanyID)
	if err != nil {
		return err
	}
	subject, body := WelcomeMessage(v)
	for _, rc := range recipients {
		if err := n.deliver(ctx, tx, meta.EventID, KindWelcome, rc.UserID, rc.Email, subject, body); err != nil {
			return err
		}
	}
	return nil
}

// deliver sends at most one email per event and user. A failed send is
// recorded, not retried.
func (n *Notifier) deliver(ctx context.Context, tx pgx.Tx, eventID, kind, userID, to, subject, body string) error {
	id, fresh, err := n.store.Claim(ctx, tx, storage.Notification{EventID: eventID, Kind: kind, UserID: userID, Recipient: to, Subject: subject})
	if err != nil || !fresh {
		return err
	}
	status, lastErr := "sent", ""
	if err := n.sender.Send(ctx, email.Message{To: to, Subject: subject, Body: body}); err != nil {
		status, lastErr = "failed", err.Error()
		n.logger.Error("email send failed", "kind", kind, "user_id", userID, "err", err)
	}
	sent.WithLabelValues(kind, status).Inc()
	return n.store.MarkResult(ctx, tx, id, status, n.sender.ProviderID(), lastErr)
}

func LowBalanceMessage(remaining int) (string, string) {
	switch remaining {
	case 0:
		return "You have used all your lunches",
			"You have no lunches left in this period. Your balance renews when the next period starts."
	case 1:
		return "One lunch left", "You have 1 lunch left in this period."
	}
	return fmt.Sprintf("%d lunches left", remaining), fmt.Sprintf("You have %d lunches left in this period.", remaining)
}

func WelcomeMessage(p events.PeriodV1) (string, string) {
	return "Your lunch benefit is active",
		fmt.Sprintf("Your %s plan covers %d lunches per week from %s to %s. Pick a restaurant in the app to order.",
			p.PlanType, p.MealsPerWeek, p.StartDate, p.EndDate)
}
