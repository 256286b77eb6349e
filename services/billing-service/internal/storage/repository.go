package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/fomo-app/fomo/libs/db"
	"github.com/fomo-app/fomo/services/billing-service/internal/model"
	"github.com/jackc/pgx/v5"
)

var (
	ErrDuplicateProviderEvent = errors.New("duplicate provider event")
	ErrNotFound               = errors.New("not found")
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) InTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return r.pool.InTx(ctx, fn)
}

type Subscription struct {
	BusinessID           string
	Plan                 model.Plan
	Status               string
	Provider             string
	StripeCustomerID     string
	StripeSubscriptionID string
	CurrentPeriodStart   *time.Time
	CurrentPeriodEnd     *time.Time
	UpdatedAt            time.Time
}

const subscriptionColumns = `
	business_id::text, plan, status, provider,
	COALESCE(stripe_customer_id, ''), COALESCE(stripe_subscription_id, ''),
	current_period_start, current_period_end, updated_at`

func scanSubscription(row pgx.Row) (Subscription, error) {
	var s Subscription
	var plan string
	err := row.Scan(&s.BusinessID, &plan, &s.Status, &s.Provider, &s.StripeCustomerID, &s.StripeSubscriptionID,
		&s.CurrentPeriodStart, &s.CurrentPeriodEnd, &s.UpdatedAt)
	s.Plan = model.Plan(plan)
	return s, err
}

func (r *Repository) UpsertSubscription(ctx context.Context, tx pgx.Tx, s Subscription) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO subscriptions (business_id, plan, status, provider, stripe_customer_id, stripe_subscription_id, current_period_start, current_period_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (business_id)
		DO UPDATE SET plan = EXCLUDED.plan,
		              status = EXCLUDED.status,
		              provider = EXCLUDED.provider,
		              stripe_customer_id = COALESCE(EXCLUDED.stripe_customer_id, subscriptions.stripe_customer_id),
		              stripe_subscription_id = COALESCE(EXCLUDED.stripe_subscription_id, subscriptions.stripe_subscription_id),
		              current_period_start = EXCLUDED.current_period_start,
		              current_period_end = EXCLUDED.current_period_end,
		              updated_at = now()
	`, s.BusinessID, string(s.Plan), s.Status, defaultIfEmpty(s.Provider, "stripe"), nullIfEmpty(s.StripeCustomerID),
		nullIfEmpty(s.StripeSubscriptionID), s.CurrentPeriodStart, s.CurrentPeriodEnd)
	return err
}

func (r *Repository) GetSubscriptionForUpdate(ctx context.Context, tx pgx.Tx, businessID string) (Subscription, bool, error) {
	s, err := scanSubscription(tx.QueryRow(ctx, `SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE business_id = $1
		FOR UPDATE
	`, businessID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Subscription{}, false, nil
		}
		return Subscription{}, false, err
	}
	return s, true, nil
}

// ListStripeSubscriptionsForReconcile returns the least recently touched Stripe subscriptions first.
func (r *Repository) ListStripeSubscriptionsForReconcile(ctx context.Context, limit int) ([]Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE provider = 'stripe' AND stripe_subscription_id IS NOT NULL AND stripe_subscription_id <> ''
		ORDER BY updated_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Subscription, error) {
		return scanSubscription(row)
	})
}

type ProviderEvent struct {
	Provider        string
	ProviderEventID string
	EventType       string
	Payload         []byte
}

func (r *Repository) InsertProviderEvent(ctx context.Context, tx pgx.Tx, evt ProviderEvent) error {
	if !json.Valid(evt.Payload) {
		return errors.New("provider event payload is not valid json")
	}
	tag, err := tx.Exec(ctx, `
		INSERT INTO provider_events (provider, provider_event_id, event_type, payload)
		VALUES ($1, $2, $3, $4::jsonb)
		ON CONFLICT (provider, provider_event_id) DO NOTHING
	`, evt.Provider, evt.ProviderEventID, evt.EventType, string(evt.Payload))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateProviderEvent
	}
	return nil
}

// OpenPlanForUpdate locks the current plan row of a business.
func (r *Repository) OpenPlanForUpdate(ctx context.Context, tx pgx.Tx, businessID string) (model.PlanPeriod, bool, error) {
	var p model.PlanPeriod
	var plan string
	err := tx.QueryRow(ctx, `
		SELECT id::text, business_id::text, plan, valid_from, valid_to
		FROM plan_history
		WHERE business_id = $1 AND valid_to IS NULL
		FOR UPDATE
	`, businessID).Scan(&p.ID, &p.BusinessID, &plan, &p.ValidFrom, &p.ValidTo)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.PlanPeriod{}, false, nil
		}
		return model.PlanPeriod{}, false, err
	}
	p.Plan = model.Plan(plan)
	return p, true, nil
}

func (r *Repository) ClosePlan(ctx context.Context, tx pgx.Tx, id string, at time.Time) error {
	_, err := tx.Exec(ctx, `UPDATE plan_history SET valid_to = $2 WHERE id = $1 AND valid_to IS NULL`, id, at.UTC())
	return err
}

func (r *Repository) InsertPlan(ctx context.Context, tx pgx.Tx, p model.PlanPeriod) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO plan_history (id, business_id, plan, valid_from, valid_to)
		VALUES ($1, $2, $3, $4, $5)
	`, p.ID, p.BusinessID, string(p.Plan), p.ValidFrom.UTC(), p.ValidTo)
	return err
}

func (r *Repository) ListPlanHistory(ctx context.Context, businessID string, limit int) ([]model.PlanPeriod, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, business_id::text, plan, valid_from, valid_to
		FROM plan_history
		WHERE business_id = $1
		ORDER BY valid_from DESC
		LIMIT $2
	`, businessID, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.PlanPeriod, error) {
		var p model.PlanPeriod
		var plan string
		err := row.Scan(&p.ID, &p.BusinessID, &plan, &p.ValidFrom, &p.ValidTo)
		p.Plan = model.Plan(plan)
		return p, err
	})
}

const boostColumns = `
	id::text, business_id::text, entity_type, entity_id, status, start_date, end_date,
	COALESCE(duration_hours, 0), created_at, deactivated_at, COALESCE(stripe_session_id, '')`

func scanBoost(row pgx.Row) (model.Boost, error) {
	var b model.Boost
	var entityType, status string
	err := row.Scan(&b.ID, &b.BusinessID, &entityType, &b.EntityID, &status, &b.StartDate, &b.EndDate,
		&b.DurationHours, &b.CreatedAt, &b.DeactivatedAt, &b.StripeSessionID)
	b.EntityType = model.EntityType(entityType)
	b.Status = model.BoostStatus(status)
	return b, err
}

// InsertBoost reports false when a boost for the same checkout session already exists.
func (r *Repository) InsertBoost(ctx context.Context, tx pgx.Tx, b model.Boost) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO boosts (id, business_id, entity_type, entity_id, status, start_date, end_date,
		                    duration_hours, created_at, stripe_session_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, 0), $9, $10)
		ON CONFLICT (stripe_session_id) WHERE stripe_session_id IS NOT NULL DO NOTHING
	`, b.ID, b.BusinessID, string(b.EntityType), b.EntityID, string(b.Status), b.StartDate.UTC(), b.EndDate,
		b.DurationHours, b.CreatedAt.UTC(), nullIfEmpty(b.StripeSessionID))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) GetBoostForUpdate(ctx context.Context, tx pgx.Tx, businessID, boostID string) (model.Boost, error) {
	b, err := scanBoost(tx.QueryRow(ctx, `SELECT `+boostColumns+`
		FROM boosts
		WHERE business_id = $1 AND id = $2
		FOR UPDATE
	`, businessID, boostID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Boost{}, ErrNotFound
	}
	return b, err
}

func (r *Repository) UpdateBoostStatus(ctx context.Context, tx pgx.Tx, b model.Boost) error {
	_, err := tx.Exec(ctx, `
		UPDATE boosts
		SET status = $2, deactivated_at = $3, updated_at = now()
		WHERE id = $1
	`, b.ID, string(b.Status), b.DeactivatedAt)
	return err
}

// ListLiveBoostsForUpdate locks live boosts whose status may have moved on by now.
func (r *Repository) ListLiveBoostsForUpdate(ctx context.Context, tx pgx.Tx, now time.Time, limit int) ([]model.Boost, error) {
	rows, err := tx.Query(ctx, `SELECT `+boostColumns+`
		FROM boosts
		WHERE status IN ('scheduled', 'active')
		  AND (start_date <= $1 OR status = 'active')
		ORDER BY start_date
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Boost, error) {
		return scanBoost(row)
	})
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func defaultIfEmpty(s string, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
