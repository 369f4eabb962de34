package main

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/md-rashed-zaman/lunchpass/libs/auth"
	"github.com/md-rashed-zaman/lunchpass/libs/config"
	"github.com/md-rashed-zaman/lunchpass/libs/httpx"
	otelx "github.com/md-rashed-zaman/lunchpass/libs/otel"
	"github.com/md-rashed-zaman/lunchpass/libs/runtime"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var backendDefaults = map[string]string{
	"auth":       "http://auth-service:8081",
	"restaurant": "http://restaurant-service:8082",
	"ordering":   "http://ordering-service:8083",
	"membership": "http://membership-service:8084",
	"analytics":  "http://analytics-service:8086",
}

func main() {
	_ = config.LoadDotEnv()
	service := config.String("SERVICE_NAME", "gateway-service")
	logger := runtime.NewLogger(service)

	port, err := config.Port("PORT", "8080")
	if err != nil {
		logger.Error("invalid config", "err", err)
		os.Exit(1)
	}
	jwksTTL, err := config.Duration("JWKS_CACHE_TTL", 5*time.Minute)
	if err != nil {
		logger.Error("invalid config", "err", err)
		os.Exit(1)
	}
	bodyLimit, err := config.Int("REQUEST_BODY_LIMIT_BYTES", 1<<20)
	if err != nil {
		logger.Error("invalid config", "err", err)
		os.Exit(1)
	}
	requestTimeout, err := config.Duration("REQUEST_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid config", "err", err)
		os.Exit(1)
	}
	limitPerMinute, err := config.Int("RATE_LIMIT_PER_MINUTE", 60)
	if err != nil {
		logger.Error("invalid config", "err", err)
		os.Exit(1)
	}
	corsMaxAge, err := config.Duration("CORS_MAX_AGE", 10*time.Minute)
	if err != nil {
		logger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	backends := map[string]http.Handler{}
	for name, fallback := range backendDefaults {
		key := strings.ToUpper(name) + "_URL"
		proxy, err := newProxy(config.String(key, fallback))
		if err != nil {
			logger.Error("invalid config", "key", key, "err", err)
			os.Exit(1)
		}
		backends[name] = proxy
	}

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

	verifier := auth.Verifier{Secret: config.String("JWT_SECRET", "")}
	if jwksURL := config.String("JWKS_URL", ""); jwksURL != "" {
		verifier.Keys = auth.NewJWKSClient(jwksURL, jwksTTL)
	}
	if verifier.Secret == "" && verifier.Keys == nil {
		logger.Error("invalid config", "err", "one of JWT_SECRET or JWKS_URL is required")
		os.Exit(1)
	}

	var checks []runtime.ReadyCheck
	var rateLimitMW httpx.Middleware
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		redisDB, err := config.Int("REDIS_DB", 0)
		if err != nil {
			logger.Error("invalid config", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       redisDB,
		})
		defer func() { _ = rdb.Close() }()
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})

		rl := httpx.NewRedisRateLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "rl"))
		rateLimitMW = rl.Middleware(logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true))
		logger.Info("rate limiting enabled (redis)", "per_minute", limitPerMinute, "redis_addr", addr)
	} else {
		rateLimitMW = httpx.NewRateLimiter(limitPerMinute, time.Minute).Middleware()
		logger.Info("rate limiting enabled (in-memory)", "per_minute", limitPerMinute)
	}

	mux := runtime.NewBaseMuxWithReady(checks...)
	registerRoutes(mux, backends, verifier)

	handler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   config.List("CORS_ALLOWED_ORIGINS"),
			AllowedMethods:   config.List("CORS_ALLOWED_METHODS"),
			AllowedHeaders:   config.List("CORS_ALLOWED_HEADERS"),
			AllowCredentials: config.Bool("CORS_ALLOW_CREDENTIALS", false),
			MaxAge:           corsMaxAge,
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithMetrics(httpx.RoutePrefix),
		httpx.WithBodyLimit(int64(bodyLimit)),
		httpx.WithTimeout(requestTimeout),
		rateLimitMW,
	)
	handler = otelhttp.NewHandler(handler, "gateway")
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
