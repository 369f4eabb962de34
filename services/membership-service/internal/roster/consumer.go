package roster

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/lunchpass/libs/auth"
	"github.com/md-rashed-zaman/lunchpass/libs/events"
	"github.com/md-rashed-zaman/lunchpass/libs/inbox"
	"github.com/md-rashed-zaman/lunchpass/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

// UserEvents puts newly created employees on their company's roster.
func (s *Service) UserEvents(logger *slog.Logger) inbox.Apply {
	return func(ctx context.Context, tx pgx.Tx, meta kafkax.EventMeta, msg kafka.Message) error {
		if meta.EventType != events.UserCreated {
			return nil
		}
		u, err := events.Decode[events.UserCreatedV1](meta.EventType, msg.Value)
		if err != nil {
			logger.Warn("user event rejected", "event_id", meta.EventID, "err", err)
			return nil
		}
		if u.Role != auth.RoleEmployee || u.CompanyID == "" {
			return nil
		}
		exists, err := s.repo.CompanyExists(ctx, tx, u.CompanyID)
		if err != nil {
			return err
		}
		if !exists {
			logger.Warn("user event for unknown company", "company_id", u.CompanyID, "user_id", u.UserID)
			return nil
		}
		added, err := s.AddEmployeeTx(ctx, tx, u.CompanyID, u.UserID, u.Email)
		if err != nil {
			return err
		}
		if added {
			logger.Info("employee added from user event", "company_id", u.CompanyID, "user_id", u.UserID)
		}
		return nil
	}
}
