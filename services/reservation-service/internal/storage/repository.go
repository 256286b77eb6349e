package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fomo-app/fomo/libs/db"
	"github.com/fomo-app/fomo/libs/outbox"
	"github.com/fomo-app/fomo/services/reservation-service/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound          = errors.New("reservation not found")
	ErrInvalidTransition = errors.New("reservation cannot change to the requested status")
)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Repository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewRepository(pool *db.Pool, outboxRepo *outbox.Repository) *Repository {
	return &Repository{pool: pool, outbox: outboxRepo}
}

// LoadConfig reads the current configuration snapshot. Businesses without a settings row
// do not accept reservations.
func (r *Repository) LoadConfig(ctx context.Context, businessID string) (model.BusinessConfig, error) {
	return loadConfig(ctx, r.pool, businessID)
}

func loadConfig(ctx context.Context, q querier, businessID string) (model.BusinessConfig, error) {
	cfg := model.BusinessConfig{BusinessID: businessID}

	err := q.QueryRow(ctx, `
		SELECT accepts_direct_reservations, requires_approval, COALESCE(timezone, '')
		FROM reservation_settings
		WHERE business_id = $1
	`, businessID).Scan(&cfg.Policy.AcceptsDirectReservations, &cfg.Policy.RequiresApproval, &cfg.Policy.Timezone)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return cfg, fmt.Errorf("load reservation settings: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT id::text, start_time, end_time, capacity, max_party_size, days
		FROM reservation_slot_definitions
		WHERE business_id = $1
		ORDER BY position, id
	`, businessID)
	if err != nil {
		return cfg, fmt.Errorf("load slot definitions: %w", err)
	}
	for rows.Next() {
		var d model.TimeSlotDefinition
		if err := rows.Scan(&d.ID, &d.Start, &d.End, &d.Capacity, &d.MaxPartySize, &d.Days); err != nil {
			rows.Close()
			return cfg, err
		}
		cfg.Definitions = append(cfg.Definitions, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return cfg, err
	}

	// Past overrides are irrelevant to resolution; a one day margin covers timezone skew.
	rows, err = q.Query(ctx, `
		SELECT closed_date::text, slot_time
		FROM reservation_closed_slots
		WHERE business_id = $1 AND closed_date >= current_date - 1
		ORDER BY closed_date, slot_time
	`, businessID)
	if err != nil {
		return cfg, fmt.Errorf("load closed slots: %w", err)
	}
	for rows.Next() {
		var cs model.ClosedSlot
		if err := rows.Scan(&cs.Date, &cs.Time); err != nil {
			rows.Close()
			return cfg, err
		}
		cfg.ClosedSlots = append(cfg.ClosedSlots, cs)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return cfg, err
	}

	rows, err = q.Query(ctx, `
		SELECT closed_date::text, COALESCE(reason, '')
		FROM reservation_closed_dates
		WHERE business_id = $1 AND closed_date >= current_date - 1
		ORDER BY closed_date
	`, businessID)
	if err != nil {
		return cfg, fmt.Errorf("load closed dates: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var cd model.ClosedDate
		if err := rows.Scan(&cd.Date, &cd.Reason); err != nil {
			return cfg, err
		}
		cfg.ClosedDates = append(cfg.ClosedDates, cd)
	}
	return cfg, rows.Err()
}

var occupyingStatuses = []string{string(model.StatusPending), string(model.StatusAccepted)}

// CountBySlot counts reservations that occupy capacity, keyed by slot time.
func (r *Repository) CountBySlot(ctx context.Context, businessID, date string) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT slot_time, count(*)
		FROM reservations
		WHERE business_id = $1 AND reservation_date = $2::date AND status = ANY($3)
		GROUP BY slot_time
	`, businessID, date, occupyingStatuses)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var slot string
		var n int
		if err := rows.Scan(&slot, &n); err != nil {
			return nil, err
		}
		counts[slot] = n
	}
	return counts, rows.Err()
}

const reservationColumns = `
	id::text, business_id, COALESCE(event_id, ''), reservation_date::text, slot_time, party_size,
	contact_name, COALESCE(contact_email, ''), COALESCE(contact_phone, ''), COALESCE(notes, ''),
	status, checked_in_at, cancelled_at, created_at`

func scanReservation(row pgx.Row) (model.Reservation, error) {
	var res model.Reservation
	var status string
	err := row.Scan(
		&res.ID,
		&res.BusinessID,
		&res.EventID,
		&res.Date,
		&res.SlotTime,
		&res.PartySize,
		&res.ContactName,
		&res.ContactEmail,
		&res.ContactPhone,
		&res.Notes,
		&status,
		&res.CheckedInAt,
		&res.CancelledAt,
		&res.CreatedAt,
	)
	if err != nil {
		return model.Reservation{}, err
	}
	if res.Status, err = model.ParseReservationStatus(status); err != nil {
		return model.Reservation{}, err
	}
	return res, nil
}

func getReservation(ctx context.Context, q querier, businessID, id string, forUpdate bool) (model.Reservation, error) {
	sql := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1 AND business_id = $2`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	res, err := scanReservation(q.QueryRow(ctx, sql, id, businessID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Reservation{}, ErrNotFound
	}
	return res, err
}

// ListByBusiness returns reservations for a business, most recent slot first. An empty
// date returns every date.
func (r *Repository) ListByBusiness(ctx context.Context, businessID, date string, limit int) ([]model.Reservation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE business_id = $1 AND ($2 = '' OR reservation_date = NULLIF($2, '')::date)
		ORDER BY reservation_date DESC, slot_time DESC
		LIMIT $3
	`, businessID, date, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// Cancel is idempotent for already cancelled reservations.
func (r *Repository) Cancel(ctx context.Context, businessID, id string) (model.Reservation, error) {
	return r.transition(ctx, businessID, id, func(res model.Reservation) (string, bool, error) {
		if res.Status == model.StatusCancelled {
			return "", false, nil
		}
		if !res.Status.Occupies() {
			return "", false, ErrInvalidTransition
		}
		return `UPDATE reservations SET status = 'cancelled', cancelled_at = now() WHERE id = $1 AND business_id = $2`, true, nil
	}, TopicReservationCancelled)
}

// CheckIn marks arrival and completes the reservation. Repeated check-ins are no-ops.
func (r *Repository) CheckIn(ctx context.Context, businessID, id string) (model.Reservation, error) {
	return r.transition(ctx, businessID, id, func(res model.Reservation) (string, bool, error) {
		if res.CheckedInAt != nil {
			return "", false, nil
		}
		if res.Status != model.StatusAccepted {
			return "", false, ErrInvalidTransition
		}
		return `UPDATE reservations SET status = 'completed', checked_in_at = now() WHERE id = $1 AND business_id = $2`, true, nil
	}, TopicReservationCheckedIn)
}

// Respond accepts or declines a reservation waiting for approval.
func (r *Repository) Respond(ctx context.Context, businessID, id string, accept bool) (model.Reservation, error) {
	topic := ""
	if !accept {
		topic = TopicReservationCancelled
	}
	return r.transition(ctx, businessID, id, func(res model.Reservation) (string, bool, error) {
		if res.Status != model.StatusPending {
			return "", false, ErrInvalidTransition
		}
		if accept {
			return `UPDATE reservations SET status = 'accepted' WHERE id = $1 AND business_id = $2`, true, nil
		}
		return `UPDATE reservations SET status = 'declined', cancelled_at = now() WHERE id = $1 AND business_id = $2`, true, nil
	}, topic)
}

type transitionFunc func(model.Reservation) (update string, changed bool, err error)

func (r *Repository) transition(ctx context.Context, businessID, id string, decide transitionFunc, topic string) (model.Reservation, error) {
	var out model.Reservation
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		res, err := getReservation(ctx, tx, businessID, id, true)
		if err != nil {
			return err
		}
		update, changed, err := decide(res)
		if err != nil {
			return err
		}
		if !changed {
			out = res
			return nil
		}
		if _, err := tx.Exec(ctx, update, id, businessID); err != nil {
			return err
		}
		if out, err = getReservation(ctx, tx, businessID, id, false); err != nil {
			return err
		}
		if topic == "" {
			return nil
		}
		evt, err := outbox.NewEvent("reservation", out.ID, topic, NewReservationEvent(out))
		if err != nil {
			return err
		}
		return r.outbox.Insert(ctx, tx, evt)
	})
	return out, err
}

// ReplaceSlotDefinitions swaps the whole definition set in one transaction.
func (r *Repository) ReplaceSlotDefinitions(ctx context.Context, businessID string, defs []model.TimeSlotDefinition) error {
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM reservation_slot_definitions WHERE business_id = $1`, businessID); err != nil {
			return err
		}
		for i, d := range defs {
			if _, err := tx.Exec(ctx, `
				INSERT INTO reservation_slot_definitions
					(business_id, position, start_time, end_time, capacity, max_party_size, days)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, businessID, i, d.Start, d.End, d.Capacity, d.MaxPartySize, d.Days); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Repository) UpsertPolicy(ctx context.Context, businessID string, p model.ReservationPolicy) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO reservation_settings (business_id, accepts_direct_reservations, requires_approval, timezone, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), now())
		ON CONFLICT (business_id) DO UPDATE
		SET accepts_direct_reservations = EXCLUDED.accepts_direct_reservations,
			requires_approval = EXCLUDED.requires_approval,
			timezone = EXCLUDED.timezone,
			updated_at = now()
	`, businessID, p.AcceptsDirectReservations, p.RequiresApproval, strings.TrimSpace(p.Timezone))
	return err
}

func (r *Repository) SetClosedSlot(ctx context.Context, businessID string, cs model.ClosedSlot, closed bool) error {
	var err error
	if closed {
		_, err = r.pool.Exec(ctx, `
			INSERT INTO reservation_closed_slots (business_id, closed_date, slot_time)
			VALUES ($1, $2::date, $3)
			ON CONFLICT DO NOTHING
		`, businessID, cs.Date, cs.Time)
	} else {
		_, err = r.pool.Exec(ctx, `
			DELETE FROM reservation_closed_slots
			WHERE business_id = $1 AND closed_date = $2::date AND slot_time = $3
		`, businessID, cs.Date, cs.Time)
	}
	return err
}

func (r *Repository) SetClosedDate(ctx context.Context, businessID string, cd model.ClosedDate, closed bool) error {
	var err error
	if closed {
		_, err = r.pool.Exec(ctx, `
			INSERT INTO reservation_closed_dates (business_id, closed_date, reason)
			VALUES ($1, $2::date, NULLIF($3, ''))
			ON CONFLICT (business_id, closed_date) DO UPDATE SET reason = EXCLUDED.reason
		`, businessID, cd.Date, cd.Reason)
	} else {
		_, err = r.pool.Exec(ctx, `
			DELETE FROM reservation_closed_dates WHERE business_id = $1 AND closed_date = $2::date
		`, businessID, cd.Date)
	}
	return err
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, pgx.ErrNoRows)
}

// IsConflict reports unique violations, serialization failures and deadlocks.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "23505", "40001", "40P01":
		return true
	}
	return false
}

func timePtrString(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
