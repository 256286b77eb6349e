package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/fomo-app/fomo/libs/db"
	"github.com/fomo-app/fomo/services/analytics-service/internal/boostvalue"
	"github.com/fomo-app/fomo/services/analytics-service/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Engagement is a signal to record. SubjectID ties reservations, tickets and their check-ins together.
type Engagement struct {
	BusinessID string
	EntityKind model.EntityKind
	EntityID   string
	Kind       model.EngagementKind
	SubjectID  string
	OccurredAt time.Time
}

// Snapshot runs fn in a read-only repeatable-read transaction, so offset pages drained
// inside it stay aligned while ingestion keeps writing.
func (r *Repository) Snapshot(ctx context.Context, fn func(boostvalue.Pages) error) error {
	return r.pool.InTxWith(ctx, db.SnapshotTx, func(tx pgx.Tx) error {
		return fn(pages{q: tx})
	})
}

// pages reads report inputs through q, usually a snapshot transaction.
type pages struct {
	q querier
}

func (p pages) PlanPage(ctx context.Context, businessID string, offset, limit int) ([]model.PlanRecord, error) {
	rows, err := p.q.Query(ctx, `
		SELECT id::text, business_id::text, plan, valid_from::text, COALESCE(valid_to::text, '')
		FROM plan_history
		WHERE business_id = $1
		ORDER BY valid_from, id
		OFFSET $2 LIMIT $3
	`, businessID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("query plan history: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.PlanRecord, error) {
		var p model.PlanRecord
		err := row.Scan(&p.ID, &p.BusinessID, &p.Plan, &p.ValidFrom, &p.ValidTo)
		return p, err
	})
}

func (p pages) BoostPage(ctx context.Context, businessID string, kind model.EntityKind, offset, limit int) ([]model.BoostRecord, error) {
	rows, err := p.q.Query(ctx, `
		SELECT id::text, business_id::text, entity_kind, entity_id, status,
		       COALESCE(start_date::text, ''), COALESCE(end_date::text, ''), created_at::text,
		       COALESCE(duration_hours, 0), COALESCE(deactivated_at::text, '')
		FROM boosts
		WHERE business_id = $1 AND entity_kind = $2
		ORDER BY created_at, id
		OFFSET $3 LIMIT $4
	`, businessID, string(kind), offset, limit)
	if err != nil {
		return nil, fmt.Errorf("query boosts: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.BoostRecord, error) {
		var b model.BoostRecord
		var entityKind string
		err := row.Scan(&b.ID, &b.BusinessID, &entityKind, &b.EntityID, &b.Status,
			&b.StartDate, &b.EndDate, &b.CreatedAt, &b.DurationHours, &b.DeactivatedAt)
		b.EntityKind = model.EntityKind(entityKind)
		return b, err
	})
}

func (p pages) EngagementPage(ctx context.Context, q boostvalue.EngagementQuery, offset, limit int) ([]model.EngagementEvent, error) {
	kinds := make([]string, len(q.Kinds))
	for i, k := range q.Kinds {
		kinds[i] = string(k)
	}
	rows, err := p.q.Query(ctx, `
		SELECT e.id::text, e.entity_kind, e.entity_id, e.occurred_at
		FROM engagement_events e
		WHERE e.business_id = $1
		  AND e.entity_kind = $2
		  AND e.kind = ANY($3)
		  AND e.voided_at IS NULL
		  AND ($4::timestamptz IS NULL OR e.occurred_at >= $4)
		  AND ($5::timestamptz IS NULL OR e.occurred_at <= $5)
		  AND (NOT $6 OR EXISTS (
		      SELECT 1 FROM engagement_events c
		      WHERE c.business_id = e.business_id
		        AND c.kind = 'check_in'
		        AND c.subject_id = e.subject_id
		        AND c.voided_at IS NULL
		  ))
		ORDER BY e.occurred_at, e.id
		OFFSET $7 LIMIT $8
	`, q.BusinessID, string(q.EntityKind), kinds, nullableTime(q.From), nullableTime(q.To), q.RequireCheckIn, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("query engagement events: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.EngagementEvent, error) {
		var e model.EngagementEvent
		var entityKind string
		err := row.Scan(&e.ID, &entityKind, &e.EntityID, &e.OccurredAt)
		e.EntityKind = model.EntityKind(entityKind)
		return e, err
	})
}

// RecordEngagement inserts a signal. Signals with a subject are stored once per kind and subject.
func (r *Repository) RecordEngagement(ctx context.Context, e Engagement) error {
	return recordEngagement(ctx, r.pool, e)
}

func recordEngagement(ctx context.Context, q querier, e Engagement) error {
	_, err := q.Exec(ctx, `
		INSERT INTO engagement_events (business_id, entity_kind, entity_id, kind, subject_id, occurred_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
		ON CONFLICT (kind, subject_id) WHERE subject_id IS NOT NULL DO NOTHING
	`, e.BusinessID, string(e.EntityKind), e.EntityID, string(e.Kind), e.SubjectID, e.OccurredAt.UTC())
	if err != nil {
		return fmt.Errorf("insert engagement event: %w", err)
	}
	return nil
}

func (r *Repository) RecordEngagementTx(ctx context.Context, tx pgx.Tx, e Engagement) error {
	return recordEngagement(ctx, tx, e)
}

// VoidSubject excludes every signal of a subject, such as a cancelled reservation and its check-in.
func (r *Repository) VoidSubject(ctx context.Context, tx pgx.Tx, businessID, subjectID string, at time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE engagement_events
		SET voided_at = $3
		WHERE business_id = $1 AND subject_id = $2 AND voided_at IS NULL
	`, businessID, subjectID, at.UTC())
	if err != nil {
		return fmt.Errorf("void engagement subject: %w", err)
	}
	return nil
}

// UpsertPlan mirrors a plan-history row; a later message for the same row replaces its bounds.
func (r *Repository) UpsertPlan(ctx context.Context, tx pgx.Tx, p model.PlanRecord) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO plan_history (id, business_id, plan, valid_from, valid_to)
		VALUES ($1, $2, $3, $4::text::timestamptz, NULLIF($5, '')::timestamptz)
		ON CONFLICT (id) DO UPDATE
		SET plan = EXCLUDED.plan,
		    valid_from = EXCLUDED.valid_from,
		    valid_to = EXCLUDED.valid_to,
		    updated_at = now()
	`, p.ID, p.BusinessID, p.Plan, p.ValidFrom, p.ValidTo)
	if err != nil {
		return fmt.Errorf("upsert plan history: %w", err)
	}
	return nil
}

func (r *Repository) UpsertBoost(ctx context.Context, tx pgx.Tx, b model.BoostRecord) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO boosts (id, business_id, entity_kind, entity_id, status, start_date, end_date,
		                    created_at, duration_hours, deactivated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, '')::timestamptz, NULLIF($7, '')::timestamptz,
		        $8::text::timestamptz, NULLIF($9, 0), NULLIF($10, '')::timestamptz)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
		    start_date = EXCLUDED.start_date,
		    end_date = EXCLUDED.end_date,
		    duration_hours = EXCLUDED.duration_hours,
		    deactivated_at = EXCLUDED.deactivated_at,
		    updated_at = now()
	`, b.ID, b.BusinessID, string(b.EntityKind), b.EntityID, b.Status, b.StartDate, b.EndDate,
		b.CreatedAt, b.DurationHours, b.DeactivatedAt)
	if err != nil {
		return fmt.Errorf("upsert boost: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
