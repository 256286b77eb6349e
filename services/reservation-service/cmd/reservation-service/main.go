package main

import (
	"context"
	"net/http"
	"time"
	_ "time/tzdata"

	"github.com/fomo-app/fomo/libs/auth"
	"github.com/fomo-app/fomo/libs/config"
	"github.com/fomo-app/fomo/libs/db"
	"github.com/fomo-app/fomo/libs/grpcx"
	"github.com/fomo-app/fomo/libs/httpx"
	"github.com/fomo-app/fomo/libs/kafkax"
	otelx "github.com/fomo-app/fomo/libs/otel"
	"github.com/fomo-app/fomo/libs/outbox"
	"github.com/fomo-app/fomo/libs/runtime"
	"github.com/fomo-app/fomo/services/reservation-service/internal/booking"
	"github.com/fomo-app/fomo/services/reservation-service/internal/handlers"
	"github.com/fomo-app/fomo/services/reservation-service/internal/storage"
	"github.com/redis/go-redis/v9"
)

func main() {
	service := config.String("SERVICE_NAME", "reservation-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	grpcPort, err := config.Port("GRPC_PORT", "9093")
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

	brokers := config.String("KAFKA_BROKERS", "")
	outboxRepo := outbox.NewRepository(pool)
	go outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	}).Run(ctx)

	defaultLoc, err := time.LoadLocation(config.String("DEFAULT_TIMEZONE", "Europe/Athens"))
	if err != nil {
		logger.Warn("invalid DEFAULT_TIMEZONE; using UTC", "err", err)
		defaultLoc = time.UTC
	}

	repo := storage.NewRepository(pool, outboxRepo)
	cached := storage.NewCachedConfigReader(repo, config.Duration("CONFIG_CACHE_TTL", 30*time.Second))
	svc := booking.NewService(repo, cached, repo, repo, booking.Options{
		StepMinutes:     config.Int("SLOT_STEP_MINUTES", 30),
		DefaultLocation: defaultLoc,
		Logger:          logger,
	})
	h := handlers.NewReservationHandler(svc, repo, cached, logger)

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
	if !verifier.Enabled() {
		logger.Warn("no AUTH_JWT_SECRET or AUTH_JWKS_URL configured; owner endpoints will refuse requests")
	}

	limit := httpx.RateLimit(logger, rdb, config.Int("RATE_LIMIT_PER_MINUTE", 60), "rl:reservation")
	cors := httpx.WithCORS(httpx.PublicCORS(httpx.SplitList(config.String("CORS_ALLOWED_ORIGINS", ""))))
	publicRoute := func(fn http.HandlerFunc) http.Handler {
		return httpx.Chain(fn, cors, limit)
	}
	owner := func(fn http.HandlerFunc) http.Handler {
		return httpx.Owner(fn, verifier)
	}

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	mux.Handle("/api/v1/public/slots", publicRoute(h.Slots))
	mux.Handle("/api/v1/public/dates", publicRoute(h.Dates))
	mux.Handle("/api/v1/public/reserve", publicRoute(h.Reserve))
	mux.Handle("/api/v1/reservations", owner(h.List))
	mux.Handle("/api/v1/reservations/cancel", owner(h.Cancel))
	mux.Handle("/api/v1/reservations/check-in", owner(h.CheckIn))
	mux.Handle("/api/v1/reservations/respond", owner(h.Respond))
	mux.Handle("/api/v1/settings/slots", owner(h.ReplaceSlots))
	mux.Handle("/api/v1/settings/policy", owner(h.Policy))
	mux.Handle("/api/v1/settings/closed-slots", owner(h.ClosedSlots))
	mux.Handle("/api/v1/settings/closed-dates", owner(h.ClosedDates))

	grpcSrv := grpcx.NewServer(logger)
	go func() {
		if err := grpcSrv.Serve(ctx, grpcPort, logger); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpx.Service(mux, logger, "reservation"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	runtime.ServeHTTP(ctx, srv, logger)
}
