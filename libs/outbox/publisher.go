package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/lunchpass/libs/config"
	"github.com/md-rashed-zaman/lunchpass/libs/db"
	"github.com/md-rashed-zaman/lunchpass/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Publisher struct {
	pool      *db.Pool
	repo      *Repository
	logger    *slog.Logger
	brokers   []string
	pollEvery time.Duration
	batchSize int
	retention time.Duration
}

// PublisherConfig tunes the relay. Published rows older than Retention are
// deleted hourly; zero keeps them forever.
type PublisherConfig struct {
	Brokers   string
	PollEvery time.Duration
	BatchSize int
	Retention time.Duration
}

func NewPublisher(pool *db.Pool, repo *Repository, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Publisher{
		pool:      pool,
		repo:      repo,
		logger:    logger,
		brokers:   kafkax.SplitBrokers(cfg.Brokers),
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
		retention: cfg.Retention,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	if len(p.brokers) == 0 {
		p.logger.Warn("outbox publisher disabled (no kafka brokers configured)")
		return
	}

	writer := kafkax.NewWriter(p.brokers)
	defer writer.Close()

	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()
	var purge <-chan time.Time
	if p.retention > 0 {
		t := time.NewTicker(time.Hour)
		defer t.Stop()
		purge = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-purge:
			n, err := p.repo.PurgePublished(ctx, p.pool, now.Add(-p.retention))
			if err != nil {
				p.logger.Error("outbox purge failed", "err", err)
			} else if n > 0 {
				p.logger.Info("outbox purged", "rows", n)
			}
		case <-ticker.C:
			n, err := p.publishBatch(ctx, writer)
			if err != nil {
				p.logger.Error("outbox publish failed", "err", err)
				continue
			}
			if n > 0 {
				p.logger.Debug("outbox batch published", "count", n)
			}
		}
	}
}

func (p *Publisher) publishBatch(ctx context.Context, writer MessageWriter) (int, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	records, err := p.repo.FetchUnpublished(ctx, tx, p.batchSize)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, tx.Commit(ctx)
	}

	msgs := make([]kafka.Message, 0, len(records))
	ids := make([]int64, 0, len(records))
	for _, r := range records {
		msgs = append(msgs, Message(ctx, r))
		ids = append(ids, r.ID)
	}
	if err := writer.WriteMessages(ctx, msgs...); err != nil {
		return 0, err
	}
	if err := p.repo.MarkPublished(ctx, tx, ids); err != nil {
		return 0, err
	}
	return len(records), tx.Commit(ctx)
}

// Message converts a stored record to a Kafka message keyed by aggregate id,
// restoring the trace context captured at insert time.
func Message(ctx context.Context, r Record) kafka.Message {
	msgCtx := r.Trace.Attach(ctx)
	msg := kafka.Message{
		Topic: r.Topic,
		Key:   []byte(r.AggregateID),
		Value: r.Payload,
		Headers: kafkax.EventMeta{
			EventID:       r.EventID,
			EventType:     r.EventType,
			AggregateType: r.AggregateType,
		}.Headers(),
	}
	if r.RequestID != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: kafkax.HeaderRequestID, Value: []byte(r.RequestID)})
	}
	msg.Headers = kafkax.InjectTraceHeaders(msgCtx, msg.Headers)
	return msg
}

// ConfigFromEnv reads OUTBOX_POLL_INTERVAL, OUTBOX_BATCH_SIZE and
// OUTBOX_RETENTION (default one week).
func ConfigFromEnv(brokers string) (PublisherConfig, error) {
	cfg := PublisherConfig{Brokers: brokers}
	var err error
	if cfg.PollEvery, err = config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second); err != nil {
		return cfg, err
	}
	if cfg.BatchSize, err = config.Int("OUTBOX_BATCH_SIZE", 50); err != nil {
		return cfg, err
	}
	if cfg.Retention, err = config.Duration("OUTBOX_RETENTION", 7*24*time.Hour); err != nil {
		return cfg, err
	}
	return cfg, nil
}
