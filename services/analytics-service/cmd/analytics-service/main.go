package main

import (
	"context"
	"net/http"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/md-rashed-zaman/lunchpass/libs/config"
	"github.com/md-rashed-zaman/lunchpass/libs/db"
	"github.com/md-rashed-zaman/lunchpass/libs/httpx"
	"github.com/md-rashed-zaman/lunchpass/libs/inbox"
	"github.com/md-rashed-zaman/lunchpass/libs/kafkax"
	otelx "github.com/md-rashed-zaman/lunchpass/libs/otel"
	"github.com/md-rashed-zaman/lunchpass/libs/runtime"
	"github.com/md-rashed-zaman/lunchpass/services/analytics-service/internal/handlers"
	"github.com/md-rashed-zaman/lunchpass/services/analytics-service/internal/ingest"
	"github.com/md-rashed-zaman/lunchpass/services/analytics-service/internal/rollup"
	"github.com/md-rashed-zaman/lunchpass/services/analytics-service/internal/storage"
	"github.com/md-rashed-zaman/lunchpass/services/analytics-service/migrations"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	_ = config.LoadDotEnv()
	service := config.String("SERVICE_NAME", "analytics-service")
	logger := runtime.NewLogger(service)

	port, err := config.Port("PORT", "8086")
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
	schedule := config.String("ROLLUP_CRON", "5 0 * * *")
	if err := rollup.ValidSchedule(schedule); err != nil {
		logger.Error("invalid config", "err", err)
		os.Exit(1)
	}
	lookback, err := config.Int("ROLLUP_LOOKBACK_DAYS", 2)
	if err != nil {
		logger.Error("invalid config", "err", err)
		os.Exit(1)
	}
	lockKey, err := config.Int("ROLLUP_LOCK_KEY", 4242301)
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

	repo := storage.NewRepository(pool)

	checks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}
	if brokers != "" {
		consumer := kafkax.NewConsumer(logger, kafkax.ConsumerConfig{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", service),
			Topics:  ingest.Topics(),
		}, inbox.Handler(pool, inbox.NewRepository(), logger, ingest.Apply(repo, logger, loc)))
		go consumer.Run(ctx)
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}

	roller := rollup.New(pool, repo, logger, loc, rollup.Config{
		Schedule:        schedule,
		LookbackDays:    lookback,
		AdvisoryLockKey: int64(lockKey),
	})
	go func() {
		if err := roller.Run(ctx); err != nil {
			logger.Error("rollup scheduler failed", "err", err)
		}
	}()

	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("/v1/", handlers.New(repo, logger, loc).Routes())

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithMetrics(httpx.RoutePrefix),
	)
	handler = otelhttp.NewHandler(handler, "analytics")
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
