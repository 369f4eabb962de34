package main

import (
	"context"
	"net/http"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/md-rashed-zaman/lunchpass/libs/config"
	"github.com/md-rashed-zaman/lunchpass/libs/db"
	"github.com/md-rashed-zaman/lunchpass/libs/events"
	"github.com/md-rashed-zaman/lunchpass/libs/httpx"
	"github.com/md-rashed-zaman/lunchpass/libs/inbox"
	"github.com/md-rashed-zaman/lunchpass/libs/kafkax"
	otelx "github.com/md-rashed-zaman/lunchpass/libs/otel"
	"github.com/md-rashed-zaman/lunchpass/libs/outbox"
	"github.com/md-rashed-zaman/lunchpass/libs/runtime"
	"github.com/md-rashed-zaman/lunchpass/services/allowance-service/internal/jobs"
	"github.com/md-rashed-zaman/lunchpass/services/allowance-service/internal/planner"
	"github.com/md-rashed-zaman/lunchpass/services/allowance-service/migrations"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	_ = config.LoadDotEnv()
	service := config.String("SERVICE_NAME", "allowance-service")
	logger := runtime.NewLogger(service)

	port, err := config.Port("PORT", "8087")
	if err != nil {
		logger.Error("invalid config", "err", err)
		os.Exit(1)
	}
	loc, err := config.Location("LUNCH_TIMEZONE", "Europe/Berlin")
	if err != nil {
		logger.Error("invalid config", "err", err)
		os.Exit(1)
	}
	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		logger.Error("invalid config", "err", err)
		os.Exit(1)
	}
	interval, err := config.Duration("ALLOWANCE_POLL_INTERVAL", 2*time.Second)
	if err != nil {
		logger.Error("invalid config", "err", err)
		os.Exit(1)
	}
	backoff, err := config.Duration("ALLOWANCE_BACKOFF", time.Minute)
	if err != nil {
		logger.Error("invalid config", "err", err)
		os.Exit(1)
	}
	maxBackoff, err := config.Duration("ALLOWANCE_MAX_BACKOFF", time.Hour)
	if err != nil {
		logger.Error("invalid config", "err", err)
		os.Exit(1)
	}
	batchSize, err := config.Int("ALLOWANCE_BATCH_SIZE", 50)
	if err != nil {
		logger.Error("invalid config", "err", err)
		os.Exit(1)
	}
	brokers := config.String("KAFKA_BROKERS", "")

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	if config.Bool("MIGRATE_ON_START", false) {
		if err := db.Migrate(migrations.FS, ".", dbURL); err != nil {
			logger.Error("migrations failed", "err", err)
			os.Exit(1)
		}
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	jobRepo := jobs.NewRepository()
	outboxRepo := outbox.NewRepository()

	outboxCfg, err := outbox.ConfigFromEnv(brokers)
	if err != nil {
		logger.Error("invalid config", "err", err)
		os.Exit(1)
	}
	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outboxCfg)
	go publisher.Run(ctx)

	worker := jobs.NewWorker(pool, jobRepo, outboxRepo, logger, jobs.WorkerConfig{
		Interval:   interval,
		BatchSize:  batchSize,
		Backoff:    backoff,
		MaxBackoff: maxBackoff,
	})
	go worker.Run(ctx)

	checks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}
	if brokers != "" {
		consumer := kafkax.NewConsumer(logger, kafkax.ConsumerConfig{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", service),
			Topics:  []string{events.TopicMembership},
		}, inbox.Handler(pool, inbox.NewRepository(), logger, planner.Apply(jobRepo, logger, loc, time.Now)))
		go consumer.Run(ctx)
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}

	mux := runtime.NewBaseMuxWithReady(checks...)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "allowance")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := runtime.Serve(ctx, srv, logger); err != nil {
		logger.Error("http server error", "err", err)
		os.Exit(1)
	}
	logger.Info("http server stopped")
}
