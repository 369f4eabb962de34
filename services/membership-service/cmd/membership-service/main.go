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
	"github.com/md-rashed-zaman/lunchpass/services/membership-service/internal/handlers"
	"github.com/md-rashed-zaman/lunchpass/services/membership-service/internal/memberships"
	"github.com/md-rashed-zaman/lunchpass/services/membership-service/internal/plans"
	"github.com/md-rashed-zaman/lunchpass/services/membership-service/internal/reconcile"
	"github.com/md-rashed-zaman/lunchpass/services/membership-service/internal/roster"
	"github.com/md-rashed-zaman/lunchpass/services/membership-service/internal/storage"
	"github.com/md-rashed-zaman/lunchpass/services/membership-service/migrations"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	_ = config.LoadDotEnv()
	service := config.String("SERVICE_NAME", "membership-service")
	logger := runtime.NewLogger(service)

	port, err := config.Port("PORT", "8084")
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
	tolerance, err := config.Duration("STRIPE_WEBHOOK_TOLERANCE", 300*time.Second)
	if err != nil {
		logger.Error("invalid config", "err", err)
		os.Exit(1)
	}
	reconcileEvery, err := config.Duration("RECONCILE_INTERVAL", 5*time.Minute)
	if err != nil {
		logger.Error("invalid config", "err", err)
		os.Exit(1)
	}
	reconcileBatch, err := config.Int("RECONCILE_BATCH_SIZE", 50)
	if err != nil {
		logger.Error("invalid config", "err", err)
		os.Exit(1)
	}
	lockKey, err := config.Int("RECONCILE_LOCK_KEY", 4242101)
	if err != nil {
		logger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	catalog, err := plans.Load(config.String("PLANS_FILE", ""))
	if err != nil {
		logger.Error("invalid plan catalog", "err", err)
		os.Exit(1)
	}
	for _, p := range catalog.All() {
		catalog.SetStripePrice(p.Type, config.String("STRIPE_PRICE_"+p.Type, ""))
	}
	brokers := config.String("KAFKA_BROKERS", "")
	stripeKey := config.String("STRIPE_SECRET_KEY", "")

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
	outboxRepo := outbox.NewRepository()
	rosterSvc := roster.New(repo, outboxRepo)
	membershipSvc := memberships.New(repo, outboxRepo, catalog, loc)

	outboxCfg, err := outbox.ConfigFromEnv(brokers)
	if err != nil {
		logger.Error("invalid config", "err", err)
		os.Exit(1)
	}
	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outboxCfg)
	go publisher.Run(ctx)

	if brokers != "" {
		consumer := kafkax.NewConsumer(logger, kafkax.ConsumerConfig{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", service),
			Topics:  []string{events.TopicUser},
		}, inbox.Handler(pool, inbox.NewRepository(), logger, rosterSvc.UserEvents(logger)))
		go consumer.Run(ctx)
	}

	if config.Bool("RECONCILE_ENABLED", true) {
		rec := reconcile.New(pool, repo, membershipSvc, logger, loc, reconcile.Config{
			StripeSecretKey: stripeKey,
			Interval:        reconcileEvery,
			BatchSize:       reconcileBatch,
			AdvisoryLockKey: int64(lockKey),
		})
		go rec.Run(ctx)
	}

	checks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}
	if brokers != "" {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}
	mux := runtime.NewBaseMuxWithReady(checks...)
	h := handlers.New(rosterSvc, membershipSvc, handlers.NewCheckoutProvider(stripeKey), logger, loc, handlers.Config{
		StripeWebhookSecret:    config.String("STRIPE_WEBHOOK_SECRET", ""),
		StripeWebhookTolerance: tolerance,
		AllowLocalWebhook:      config.Bool("ALLOW_LOCAL_WEBHOOK", false),
		CheckoutSuccessURL:     config.String("CHECKOUT_SUCCESS_URL", ""),
		CheckoutCancelURL:      config.String("CHECKOUT_CANCEL_URL", ""),
	})
	mux.Handle("/v1/", h.Routes())

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithMetrics(httpx.RoutePrefix),
		httpx.WithBodyLimit(1<<20),
	)
	handler = otelhttp.NewHandler(handler, "membership")
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
