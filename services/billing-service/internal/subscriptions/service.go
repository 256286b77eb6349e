package subscriptions

import (
	"context"
	"time"

	"github.com/fomo-app/fomo/services/billing-service/internal/model"
	"github.com/fomo-app/fomo/services/billing-service/internal/storage"
	"github.com/jackc/pgx/v5"
)

type Store interface {
	GetSubscriptionForUpdate(ctx context.Context, tx pgx.Tx, businessID string) (storage.Subscription, bool, error)
	UpsertSubscription(ctx context.Context, tx pgx.Tx, s storage.Subscription) error
}

type PlanApplier interface {
	Apply(ctx context.Context, tx pgx.Tx, businessID string, plan model.Plan, at time.Time) (bool, error)
}

// Change is the provider's view of a subscription at a point in time.
type Change struct {
	BusinessID           string
	Plan                 model.Plan
	At                   time.Time
	Provider             string
	StripeCustomerID     string
	StripeSubscriptionID string
	PeriodStart          *time.Time
	PeriodEnd            *time.Time
}

// Service keeps the subscription row and the plan history in step for webhook and reconcile flows.
type Service struct {
	store Store
	plans PlanApplier
}

func New(store Store, plans PlanApplier) *Service {
	return &Service{store: store, plans: plans}
}

// ApplyActivated puts the business on c.Plan. It reports whether the plan history changed.
func (s *Service) ApplyActivated(ctx context.Context, tx pgx.Tx, c Change) (bool, error) {
	return s.apply(ctx, tx, c, "active")
}

// ApplyCanceled drops the business back to the free plan.
func (s *Service) ApplyCanceled(ctx context.Context, tx pgx.Tx, c Change) (bool, error) {
	c.Plan = model.PlanFree
	return s.apply(ctx, tx, c, "canceled")
}

func (s *Service) apply(ctx context.Context, tx pgx.Tx, c Change, status string) (bool, error) {
	if _, _, err := s.store.GetSubscriptionForUpdate(ctx, tx, c.BusinessID); err != nil {
		return false, err
	}
	if err := s.store.UpsertSubscription(ctx, tx, storage.Subscription{
		BusinessID:           c.BusinessID,
		Plan:                 c.Plan,
		Status:               status,
		Provider:             c.Provider,
		StripeCustomerID:     c.StripeCustomerID,
		StripeSubscriptionID: c.StripeSubscriptionID,
		CurrentPeriodStart:   c.PeriodStart,
		CurrentPeriodEnd:     c.PeriodEnd,
	}); err != nil {
		return false, err
	}
	return s.plans.Apply(ctx, tx, c.BusinessID, c.Plan, c.At)
}
