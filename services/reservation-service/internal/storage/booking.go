package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fomo-app/fomo/libs/outbox"
	"github.com/fomo-app/fomo/services/reservation-service/internal/booking"
	"github.com/fomo-app/fomo/services/reservation-service/internal/model"
	"github.com/fomo-app/fomo/services/reservation-service/internal/slots"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// BookSlot is the authoritative booking operation. Concurrent bookings for the same
// business, date and slot serialize on a transaction-scoped advisory lock; the slot
// definitions are re-read under that lock so capacity and party size are checked against
// the configuration current at commit time.
func (r *Repository) BookSlot(ctx context.Context, req booking.BookRequest) (model.Reservation, bool, error) {
	var out model.Reservation
	var replayed bool

	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		key := strings.TrimSpace(req.IdempotencyKey)
		if key != "" {
			prior, err := lockIdempotencyKey(ctx, tx, req.BusinessID, key)
			if err != nil {
				return fmt.Errorf("lock idempotency key: %w", err)
			}
			if prior != "" {
				res, err := getReservation(ctx, tx, req.BusinessID, prior, false)
				if err != nil {
					return err
				}
				out, replayed = res, true
				return nil
			}
		}

		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, slotLockKey(req.BusinessID, req.Date, req.Time)); err != nil {
			return fmt.Errorf("lock slot: %w", err)
		}

		if err := recheck(ctx, tx, req); err != nil {
			return err
		}

		res, err := insertReservation(ctx, tx, req)
		if err != nil {
			return err
		}
		evt, err := outbox.NewEvent("reservation", res.ID, TopicReservationCreated, NewReservationEvent(res))
		if err != nil {
			return err
		}
		if err := r.outbox.Insert(ctx, tx, evt); err != nil {
			return fmt.Errorf("write outbox event: %w", err)
		}
		if key != "" {
			if err := finalizeIdempotency(ctx, tx, req.BusinessID, key, res.ID); err != nil {
				return fmt.Errorf("finalize idempotency key: %w", err)
			}
		}
		out = res
		return nil
	})
	if err != nil {
		return model.Reservation{}, false, err
	}
	return out, replayed, nil
}

func slotLockKey(businessID, date, slotTime string) string {
	return businessID + "|" + date + "|" + slotTime
}

func recheck(ctx context.Context, tx pgx.Tx, req booking.BookRequest) error {
	cfg, err := loadConfig(ctx, tx, req.BusinessID)
	if err != nil {
		return err
	}
	if !cfg.Policy.AcceptsDirectReservations {
		return booking.Reject(booking.CodeReservationsDisabled, "this business does not accept direct reservations")
	}
	if slots.NewSet(cfg.ClosedDateList()...).Has(req.Date) {
		return booking.Reject(booking.CodeDateClosed, "the business is closed on this date")
	}
	if slots.NewSet(cfg.ClosedSlotTimes(req.Date)...).Has(req.Time) {
		return booking.Reject(booking.CodeSlotClosed, "the requested time is closed on this date")
	}

	day, err := slots.ParseDate(req.Date)
	if err != nil {
		return err
	}
	resolver := slots.Resolver{StepMinutes: req.StepMinutes}
	def, ok := resolver.MatchDefinition(req.Time, day.Weekday(), cfg.Definitions)
	if !ok {
		return booking.Reject(booking.CodeSlotUnavailable, "the requested time is no longer offered")
	}
	if limit := resolver.ResolveMaxPartySize(req.Time, req.Date, cfg.Definitions); req.PartySize > limit {
		return booking.PartyTooLarge(limit)
	}
	if def.Capacity <= 0 {
		return nil
	}

	var taken int
	if err := tx.QueryRow(ctx, `
		SELECT count(*)
		FROM reservations
		WHERE business_id = $1 AND reservation_date = $2::date AND slot_time = $3 AND status = ANY($4)
	`, req.BusinessID, req.Date, req.Time, occupyingStatuses).Scan(&taken); err != nil {
		return err
	}
	if taken >= def.Capacity {
		return booking.Reject(booking.CodeSlotFull, "the requested time is fully booked")
	}
	return nil
}

func insertReservation(ctx context.Context, tx pgx.Tx, req booking.BookRequest) (model.Reservation, error) {
	return scanReservation(tx.QueryRow(ctx, `
		INSERT INTO reservations
			(id, business_id, event_id, reservation_date, slot_time, party_size,
			 contact_name, contact_email, contact_phone, notes, status)
		VALUES ($1, $2, NULLIF($3, ''), $4::date, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), $11)
		RETURNING `+reservationColumns,
		uuid.NewString(), req.BusinessID, req.EventID, req.Date, req.Time, req.PartySize,
		req.ContactName, strings.TrimSpace(req.ContactEmail), strings.TrimSpace(req.ContactPhone),
		strings.TrimSpace(req.Notes), string(req.Status)))
}

// lockIdempotencyKey claims key for this transaction and returns the reservation id a
// previous committed request stored under it, if any.
func lockIdempotencyKey(ctx context.Context, tx pgx.Tx, businessID, key string) (string, error) {
	if _, err := tx.Exec(ctx, `
		INSERT INTO reservation_idempotency_keys (business_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (business_id, idempotency_key) DO NOTHING
	`, businessID, key); err != nil {
		return "", err
	}

	var reservationID string
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(reservation_id::text, '')
		FROM reservation_idempotency_keys
		WHERE business_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, businessID, key).Scan(&reservationID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return reservationID, err
}

func finalizeIdempotency(ctx context.Context, tx pgx.Tx, businessID, key, reservationID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE reservation_idempotency_keys
		SET reservation_id = $3, updated_at = $4
		WHERE business_id = $1 AND idempotency_key = $2
	`, businessID, key, reservationID, time.Now().UTC())
	return err
}
