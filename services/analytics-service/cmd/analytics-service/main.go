package main

import (
	"context"
	"net/http"
	"time"

	"github.com/fomo-app/fomo/libs/auth"
	"github.com/fomo-app/fomo/libs/config"
	"github.com/fomo-app/fomo/libs/db"
	"github.com/fomo-app/fomo/libs/httpx"
	"github.com/fomo-app/fomo/libs/kafkax"
	otelx "github.com/fomo-app/fomo/libs/otel"
	"github.com/fomo-app/fomo/libs/runtime"
	"github.com/fomo-app/fomo/services/analytics-service/internal/boostvalue"
	"github.com/fomo-app/fomo/services/analytics-service/internal/consumer"
	"github.com/fomo-app/fomo/services/analytics-service/internal/handlers"
	"github.com/fomo-app/fomo/services/analytics-service/internal/inbox"
	"github.com/fomo-app/fomo/services/analytics-service/internal/ingest"
	"github.com/fomo-app/fomo/services/analytics-service/internal/storage"
	"github.com/redis/go-redis/v9"
)

func main() {
	service := config.String("SERVICE_NAME", "analytics-service")
	port, err := config.Port("PORT", "8086")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

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

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL, db.Options{MaxConns: int32(config.Int("DB_MAX_CONNS", 10))})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	repo := storage.NewRepository(pool)

	brokers := config.String("KAFKA_BROKERS", "")
	groupID := config.String("KAFKA_GROUP_ID", "analytics-service")
	inboxRepo := inbox.NewRepository(pool)
	ingestor := ingest.New(repo, logger)
	for topic, handler := range ingestor.Handlers() {
		c := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers:     brokers,
			GroupID:     groupID,
			Topic:       topic,
			MaxAttempts: config.Int("CONSUMER_MAX_ATTEMPTS", 5),
		}, handler)
		go c.Run(ctx)
	}

	reports := boostvalue.NewService(repo, boostvalue.Options{
		PageSize:    config.Int("ANALYTICS_PAGE_SIZE", 1000),
		Concurrency: config.Int("ANALYTICS_CONCURRENCY", 4),
		Logger:      logger,
	})
	h := handlers.NewAnalyticsHandler(reports, repo, logger)

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	}
	var rdb *redis.Client
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr, Password: config.String("REDIS_PASSWORD", "")})
		defer rdb.Close()
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	var jwks *auth.JWKSClient
	if url := config.String("AUTH_JWKS_URL", ""); url != "" {
		jwks = auth.NewJWKSClient(url, config.Duration("AUTH_JWKS_TTL", 5*time.Minute))
	}
	verifier := auth.NewVerifier(config.String("AUTH_JWT_SECRET", ""), jwks)

	track := httpx.Chain(http.HandlerFunc(h.Track),
		httpx.WithCORS(httpx.PublicCORS(httpx.SplitList(config.String("CORS_ALLOWED_ORIGINS", "")))),
		httpx.RateLimit(logger, rdb, config.Int("TRACK_RATE_LIMIT_PER_MINUTE", 120), "rl:track"),
	)

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	mux.Handle("/api/v1/public/track", track)
	mux.Handle("/api/v1/analytics/check-ins", httpx.Owner(http.HandlerFunc(h.CheckIn), verifier))
	mux.Handle("/api/v1/analytics/boost-value", httpx.Chain(
		httpx.Owner(http.HandlerFunc(h.BoostValue), verifier),
		httpx.WithTimeout(config.Duration("ANALYTICS_REQUEST_TIMEOUT", 30*time.Second)),
	))

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpx.Service(mux, logger, "analytics"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	runtime.ServeHTTP(ctx, srv, logger)
}
