package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/lunchpass/libs/auth"
	"github.com/md-rashed-zaman/lunchpass/libs/config"
	"github.com/md-rashed-zaman/lunchpass/libs/db"
	"github.com/md-rashed-zaman/lunchpass/libs/httpx"
	"github.com/md-rashed-zaman/lunchpass/libs/kafkax"
	otelx "github.com/md-rashed-zaman/lunchpass/libs/otel"
	"github.com/md-rashed-zaman/lunchpass/libs/outbox"
	"github.com/md-rashed-zaman/lunchpass/libs/runtime"
	"github.com/md-rashed-zaman/lunchpass/services/auth-service/internal/audit"
	"github.com/md-rashed-zaman/lunchpass/services/auth-service/internal/handlers"
	"github.com/md-rashed-zaman/lunchpass/services/auth-service/internal/sessions"
	"github.com/md-rashed-zaman/lunchpass/services/auth-service/internal/storage"
	"github.com/md-rashed-zaman/lunchpass/services/auth-service/migrations"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	_ = config.LoadDotEnv()
	service := config.String("SERVICE_NAME", "auth-service")
	logger := runtime.NewLogger(service)

	port, err := config.Port("PORT", "8081")
	if err != nil {
		logger.Error("invalid config", "err", err)
		os.Exit(1)
	}
	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		logger.Error("invalid config", "err", err)
		os.Exit(1)
	}
	accessTTL, err := config.Duration("ACCESS_TTL", time.Hour)
	if err != nil {
		logger.Error("invalid config", "err", err)
		os.Exit(1)
	}
	refreshTTL, err := config.Duration("REFRESH_TTL", 720*time.Hour)
	if err != nil {
		logger.Error("invalid config", "err", err)
		os.Exit(1)
	}
	signer, err := buildSigner()
	if err != nil {
		logger.Error("failed to init jwt signer", "err", err)
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

	outboxRepo := outbox.NewRepository()
	users := storage.NewUserRepository(pool, outboxRepo)
	if err := seedAdmin(ctx, users, logger); err != nil {
		logger.Error("bootstrap admin failed", "err", err)
		os.Exit(1)
	}

	outboxCfg, err := outbox.ConfigFromEnv(brokers)
	if err != nil {
		logger.Error("invalid config", "err", err)
		os.Exit(1)
	}
	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outboxCfg)
	go publisher.Run(ctx)

	checks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}
	if brokers != "" {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}
	mux := runtime.NewBaseMuxWithReady(checks...)

	h := handlers.NewAuthHandler(signer, users, sessions.NewRefreshRepository(pool), audit.NewRepository(pool), logger, handlers.Config{
		AccessTTL:  accessTTL,
		RefreshTTL: refreshTTL,
		AdminKey:   config.String("AUTH_ADMIN_KEY", ""),
	})
	routes := h.Routes()
	mux.Handle("/v1/", routes)
	mux.Handle("/.well-known/", routes)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithMetrics(httpx.RoutePrefix),
		httpx.WithBodyLimit(64<<10),
	)
	handler = otelhttp.NewHandler(handler, "auth")
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

// seedAdmin creates the first super admin. An existing account with the same
// email is left untouched.
func seedAdmin(ctx context.Context, users *storage.UserRepository, logger *slog.Logger) error {
	email := handlers.NormalizeEmail(config.String("BOOTSTRAP_ADMIN_EMAIL", ""))
	password := config.String("BOOTSTRAP_ADMIN_PASSWORD", "")
	if email == "" || password == "" {
		return nil
	}
	hash, err := handlers.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = users.Create(ctx, storage.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Role:         auth.RoleSuperAdmin,
	})
	if errors.Is(err, storage.ErrEmailTaken) {
		return nil
	}
	if err == nil {
		logger.Info("bootstrap admin created", "email", email)
	}
	return err
}

func buildSigner() (handlers.TokenSigner, error) {
	if keys := config.String("JWT_PRIVATE_KEYS_PEM", ""); keys != "" {
		return handlers.NewRSASigner([]byte(keys), config.String("JWT_ACTIVE_KID", ""))
	}
	return handlers.NewHS256Signer(config.String("JWT_SECRET", "dev-secret")), nil
}
