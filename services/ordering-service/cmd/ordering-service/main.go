package main

import (
	"context"
	"net/http"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/md-rashed-zaman/lunchpass/libs/config"
	"github.com/md-rashed-zaman/lunchpass/libs/db"
	"github.com/md-rashed-zaman/lunchpass/libs/grpcx"
	"github.com/md-rashed-zaman/lunchpass/libs/httpx"
	"github.com/md-rashed-zaman/lunchpass/libs/inbox"
	"github.com/md-rashed-zaman/lunchpass/libs/kafkax"
	otelx "github.com/md-rashed-zaman/lunchpass/libs/otel"
	"github.com/md-rashed-zaman/lunchpass/libs/outbox"
	"github.com/md-rashed-zaman/lunchpass/libs/runtime"
	"github.com/md-rashed-zaman/lunchpass/services/ordering-service/internal/handlers"
	"github.com/md-rashed-zaman/lunchpass/services/ordering-service/internal/orders"
	"github.com/md-rashed-zaman/lunchpass/services/ordering-service/internal/projections"
	"github.com/md-rashed-zaman/lunchpass/services/ordering-service/internal/storage"
	"github.com/md-rashed-zaman/lunchpass/services/ordering-service/migrations"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	_ = config.LoadDotEnv()
	service := config.String("SERVICE_NAME", "ordering-service")
	logger := runtime.NewLogger(service)

	port, err := config.Port("PORT", "8083")
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
	outboxRepo := outbox.NewRepository()

	outboxCfg, err := outbox.ConfigFromEnv(brokers)
	if err != nil {
		logger.Error("invalid config", "err", err)
		os.Exit(1)
	}
	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outboxCfg)
	go publisher.Run(ctx)

	checks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}
	if brokers != "" {
		consumer := kafkax.NewConsumer(logger, kafkax.ConsumerConfig{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", service),
			Topics:  projections.Topics(),
		}, inbox.Handler(pool, inbox.NewRepository(), logger, projections.New(repo, logger, loc).Apply()))
		go consumer.Run(ctx)
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}

	// Restaurant data arrives through events; the gRPC health check only
	// tells operators when the source of those events is down.
	if addr := config.String("RESTAURANT_GRPC_ADDR", ""); addr != "" {
		conn, err := grpcx.Dial(ctx, addr, grpcx.DialOptions{Timeout: 3 * time.Second})
		if err != nil {
			logger.Warn("restaurant grpc dial failed", "addr", addr, "err", err)
		} else {
			defer conn.Close()
			checks = append(checks, runtime.ReadyCheck{Name: "restaurant", Check: grpcx.HealthCheck(conn, "restaurant-service")})
		}
	}

	mux := runtime.NewBaseMuxWithReady(checks...)
	h := handlers.New(orders.New(repo, outboxRepo, loc), logger)
	mux.Handle("/v1/", h.Routes())

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithMetrics(httpx.RoutePrefix),
		httpx.WithBodyLimit(1<<20),
	)
	handler = otelhttp.NewHandler(handler, "ordering")
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
