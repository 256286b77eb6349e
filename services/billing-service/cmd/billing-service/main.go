package main

import (
	"context"
	"net/http"
	"time"

	"github.com/fomo-app/fomo/libs/auth"
	"github.com/fomo-app/fomo/libs/config"
	"github.com/fomo-app/fomo/libs/db"
	"github.com/fomo-app/fomo/libs/grpcx"
	"github.com/fomo-app/fomo/libs/httpx"
	"github.com/fomo-app/fomo/libs/kafkax"
	otelx "github.com/fomo-app/fomo/libs/otel"
	"github.com/fomo-app/fomo/libs/outbox"
	"github.com/fomo-app/fomo/libs/runtime"
	"github.com/fomo-app/fomo/services/billing-service/internal/boosts"
	"github.com/fomo-app/fomo/services/billing-service/internal/handlers"
	"github.com/fomo-app/fomo/services/billing-service/internal/planhistory"
	"github.com/fomo-app/fomo/services/billing-service/internal/reconcile"
	"github.com/fomo-app/fomo/services/billing-service/internal/storage"
	"github.com/fomo-app/fomo/services/billing-service/internal/subscriptions"
)

func main() {
	service := config.String("SERVICE_NAME", "billing-service")
	port, err := config.Port("PORT", "8084")
	if err != nil {
		panic(err)
	}
	grpcPort, err := config.Port("GRPC_PORT", "9094")
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

	repo := storage.NewRepository(pool)
	plans := planhistory.New(repo, outboxRepo)
	subSvc := subscriptions.New(repo, plans)
	boostSvc := boosts.New(repo, outboxRepo)

	h := handlers.New(repo, subSvc, boostSvc, logger, handlers.Config{
		StripeWebhookSecret:    config.String("STRIPE_WEBHOOK_SECRET", ""),
		StripeWebhookTolerance: config.Duration("STRIPE_WEBHOOK_TOLERANCE", 300*time.Second),
	})

	var jwks *auth.JWKSClient
	if url := config.String("AUTH_JWKS_URL", ""); url != "" {
		jwks = auth.NewJWKSClient(url, config.Duration("AUTH_JWKS_TTL", 5*time.Minute))
	}
	verifier := auth.NewVerifier(config.String("AUTH_JWT_SECRET", ""), jwks)
	if !verifier.Enabled() {
		logger.Warn("no AUTH_JWT_SECRET or AUTH_JWKS_URL configured; owner endpoints will refuse requests")
	}

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	mux.HandleFunc("/api/v1/billing/webhooks/stripe", h.StripeWebhook)
	mux.Handle("/api/v1/billing/boosts/deactivate", httpx.Owner(http.HandlerFunc(h.DeactivateBoost), verifier))
	mux.Handle("/api/v1/billing/plan", httpx.Owner(http.HandlerFunc(h.Plan), verifier))

	if config.Bool("BILLING_RECONCILE_ENABLED", true) {
		rec := reconcile.New(pool, repo, subSvc, boostSvc, logger, reconcile.Config{
			StripeSecretKey: config.String("STRIPE_SECRET_KEY", ""),
			BatchSize:       config.Int("BILLING_RECONCILE_BATCH_SIZE", 50),
			AdvisoryLockKey: int64(config.Int("BILLING_RECONCILE_LOCK_KEY", 4242001)),
		})
		go rec.Run(ctx, config.Duration("BILLING_RECONCILE_INTERVAL", time.Minute))
	}

	grpcSrv := grpcx.NewServer(logger)
	go func() {
		if err := grpcSrv.Serve(ctx, grpcPort, logger); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpx.Service(mux, logger, "billing"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	runtime.ServeHTTP(ctx, srv, logger)
}
