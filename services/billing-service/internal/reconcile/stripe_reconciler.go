package reconcile

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/fomo-app/fomo/libs/db"
	"github.com/fomo-app/fomo/services/billing-service/internal/model"
	"github.com/fomo-app/fomo/services/billing-service/internal/storage"
	"github.com/fomo-app/fomo/services/billing-service/internal/subscriptions"
	"github.com/jackc/pgx/v5"
	"github.com/stripe/stripe-go/v79"
	stripesubscription "github.com/stripe/stripe-go/v79/subscription"
)

type Store interface {
	InTx(ctx context.Context, fn func(pgx.Tx) error) error
	ListStripeSubscriptionsForReconcile(ctx context.Context, limit int) ([]storage.Subscription, error)
}

type Subscriptions interface {
	ApplyActivated(ctx context.Context, tx pgx.Tx, c subscriptions.Change) (bool, error)
	ApplyCanceled(ctx context.Context, tx pgx.Tx, c subscriptions.Change) (bool, error)
}

type BoostAdvancer interface {
	Advance(ctx context.Context, tx pgx.Tx, limit int) (int, error)
}

// FetchFunc loads the provider's current view of a subscription.
type FetchFunc func(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)

// Reconciler self-heals subscription state when webhooks are missed and moves boost
// statuses along as their windows open and close.
type Reconciler struct {
	pool        *db.Pool
	store       Store
	subs        Subscriptions
	boosts      BoostAdvancer
	fetch       FetchFunc
	logger      *slog.Logger
	batchSize   int
	advisoryKey int64
	now         func() time.Time
}

type Config struct {
	StripeSecretKey string
	BatchSize       int
	AdvisoryLockKey int64
}

func New(pool *db.Pool, store Store, subs Subscriptions, boostSvc BoostAdvancer, logger *slog.Logger, cfg Config) *Reconciler {
	bs := cfg.BatchSize
	if bs <= 0 {
		bs = 50
	}
	lockKey := cfg.AdvisoryLockKey
	if lockKey == 0 {
		lockKey = 4242001
	}
	r := &Reconciler{
		pool:        pool,
		store:       store,
		subs:        subs,
		boosts:      boostSvc,
		logger:      logger,
		batchSize:   bs,
		advisoryKey: lockKey,
		now:         time.Now,
	}
	if key := strings.TrimSpace(cfg.StripeSecretKey); key != "" {
		stripe.Key = key
		r.fetch = func(ctx context.Context, id string) (*stripe.Subscription, error) {
			params := &stripe.SubscriptionParams{}
			params.Context = ctx
			return stripesubscription.Get(id, params)
		}
	}
	return r
}

func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if r.fetch == nil {
		r.logger.Warn("stripe reconcile disabled: STRIPE_SECRET_KEY missing; boost statuses still advance")
	}
	if !r.acquireLock(ctx) {
		return
	}
	defer func() {
		_, _ = r.pool.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, r.advisoryKey)
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	r.Once(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Once(ctx)
		}
	}
}

// acquireLock blocks until this instance holds the advisory lock or ctx ends.
func (r *Reconciler) acquireLock(ctx context.Context) bool {
	for {
		var locked bool
		err := r.pool.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, r.advisoryKey).Scan(&locked)
		wait := 30 * time.Second
		switch {
		case err != nil:
			r.logger.Error("reconcile: failed to acquire advisory lock", "err", err)
			wait = 5 * time.Second
		case locked:
			r.logger.Info("reconcile: advisory lock acquired", "lock_key", r.advisoryKey)
			return true
		default:
			r.logger.Info("reconcile: advisory lock held by another instance", "lock_key", r.advisoryKey)
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
	}
}

// Once runs a single reconcile pass.
func (r *Reconciler) Once(ctx context.Context) {
	r.advanceBoosts(ctx)
	if r.fetch != nil {
		r.reconcileSubscriptions(ctx)
	}
}

func (r *Reconciler) advanceBoosts(ctx context.Context) {
	var changed int
	err := r.store.InTx(ctx, func(tx pgx.Tx) error {
		var err error
		changed, err = r.boosts.Advance(ctx, tx, r.batchSize)
		return err
	})
	if err != nil {
		r.logger.Error("reconcile: boost advance failed", "err", err)
		return
	}
	if changed > 0 {
		r.logger.Info("reconcile: boost statuses advanced", "count", changed)
	}
}

func (r *Reconciler) reconcileSubscriptions(ctx context.Context) {
	subs, err := r.store.ListStripeSubscriptionsForReconcile(ctx, r.batchSize)
	if err != nil {
		r.logger.Error("stripe reconcile: failed to list subscriptions", "err", err)
		return
	}
	for _, s := range subs {
		if ctx.Err() != nil {
			return
		}
		if strings.TrimSpace(s.StripeSubscriptionID) == "" || strings.TrimSpace(s.BusinessID) == "" {
			continue
		}
		remote, err := r.fetch(ctx, s.StripeSubscriptionID)
		if err != nil {
			r.logger.Warn("stripe reconcile: failed to fetch subscription", "err", err, "stripe_subscription_id", s.StripeSubscriptionID, "business_id", s.BusinessID)
			continue
		}
		if err := r.store.InTx(ctx, func(tx pgx.Tx) error {
			return r.apply(ctx, tx, s, remote)
		}); err != nil {
			r.logger.Warn("stripe reconcile: apply failed", "err", err, "business_id", s.BusinessID, "stripe_subscription_id", remote.ID)
		}
	}
}

func (r *Reconciler) apply(ctx context.Context, tx pgx.Tx, local storage.Subscription, remote *stripe.Subscription) error {
	c := subscriptions.Change{
		BusinessID:           local.BusinessID,
		Plan:                 local.Plan,
		Provider:             "stripe",
		StripeSubscriptionID: remote.ID,
	}
	if remote.Customer != nil {
		c.StripeCustomerID = remote.Customer.ID
	}
	if remote.CurrentPeriodStart > 0 {
		t := time.Unix(remote.CurrentPeriodStart, 0).UTC()
		c.PeriodStart = &t
	}
	if remote.CurrentPeriodEnd > 0 {
		t := time.Unix(remote.CurrentPeriodEnd, 0).UTC()
		c.PeriodEnd = &t
	}
	// Missing or unknown metadata keeps the stored plan.
	if plan, err := model.ParsePlan(remote.Metadata["plan"]); err == nil {
		c.Plan = plan
	}

	if remote.Status == stripe.SubscriptionStatusActive || remote.Status == stripe.SubscriptionStatusTrialing {
		c.At = time.Unix(remote.Created, 0).UTC()
		if c.PeriodStart != nil {
			c.At = *c.PeriodStart
		}
		_, err := r.subs.ApplyActivated(ctx, tx, c)
		return err
	}
	c.At = r.now().UTC()
	if remote.CanceledAt > 0 {
		c.At = time.Unix(remote.CanceledAt, 0).UTC()
	}
	_, err := r.subs.ApplyCanceled(ctx, tx, c)
	return err
}
