package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/fomo-app/fomo/services/analytics-service/internal/consumer"
	"github.com/fomo-app/fomo/services/analytics-service/internal/model"
	"github.com/fomo-app/fomo/services/analytics-service/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"
)

const (
	TopicReservationCreated   = "reservation.created.v1"
	TopicReservationCancelled = "reservation.cancelled.v1"
	TopicReservationCheckedIn = "reservation.checked_in.v1"
	TopicPlanChanged          = "billing.plan.changed.v1"
	TopicBoostChanged         = "billing.boost.changed.v1"
)

type Store interface {
	RecordEngagementTx(ctx context.Context, tx pgx.Tx, e storage.Engagement) error
	VoidSubject(ctx context.Context, tx pgx.Tx, businessID, subjectID string, at time.Time) error
	UpsertPlan(ctx context.Context, tx pgx.Tx, p model.PlanRecord) error
	UpsertBoost(ctx context.Context, tx pgx.Tx, b model.BoostRecord) error
}

// Ingestor turns reservation and billing events into analytics rows. Malformed payloads are
// logged and acknowledged; only store failures are returned for retry.
type Ingestor struct {
	store  Store
	logger *slog.Logger
}

func New(store Store, logger *slog.Logger) *Ingestor {
	return &Ingestor{store: store, logger: logger}
}

// Handlers maps each consumed topic to its handler.
func (i *Ingestor) Handlers() map[string]consumer.Handler {
	return map[string]consumer.Handler{
		TopicReservationCreated:   i.ReservationCreated,
		TopicReservationCancelled: i.ReservationCancelled,
		TopicReservationCheckedIn: i.ReservationCheckedIn,
		TopicPlanChanged:          i.PlanChanged,
		TopicBoostChanged:         i.BoostChanged,
	}
}

type reservationPayload struct {
	ReservationID string `json:"reservation_id"`
	BusinessID    string `json:"business_id"`
	EventID       string `json:"event_id"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at"`
	CheckedInAt   string `json:"checked_in_at"`
	CancelledAt   string `json:"cancelled_at"`
}

// entity is the event when the reservation came through one, otherwise the business profile.
func (p reservationPayload) entity() (model.EntityKind, string) {
	if p.EventID != "" {
		return model.EntityEvent, p.EventID
	}
	return model.EntityProfile, p.BusinessID
}

func (i *Ingestor) decodeReservation(msg kafka.Message) (reservationPayload, bool) {
	var p reservationPayload
	if err := json.Unmarshal(msg.Value, &p); err != nil {
		i.logger.Error("invalid reservation payload", "topic", msg.Topic, "err", err)
		return p, false
	}
	if p.ReservationID == "" || !validUUID(p.BusinessID) {
		i.logger.Error("missing reservation fields", "topic", msg.Topic, "reservation_id", p.ReservationID)
		return p, false
	}
	return p, true
}

func (i *Ingestor) ReservationCreated(ctx context.Context, tx pgx.Tx, msg kafka.Message) error {
	p, ok := i.decodeReservation(msg)
	if !ok {
		return nil
	}
	createdAt, err := time.Parse(time.RFC3339, p.CreatedAt)
	if err != nil {
		i.logger.Error("invalid created_at", "reservation_id", p.ReservationID, "err", err)
		return nil
	}
	kind, entityID := p.entity()
	if err := i.store.RecordEngagementTx(ctx, tx, storage.Engagement{
		BusinessID: p.BusinessID,
		EntityKind: kind,
		EntityID:   entityID,
		Kind:       model.KindReservation,
		SubjectID:  p.ReservationID,
		OccurredAt: createdAt,
	}); err != nil {
		return err
	}
	i.logger.Info("reservation recorded", "reservation_id", p.ReservationID, "entity_kind", kind)
	return nil
}

// ReservationCancelled voids the reservation and any check-in, for cancellations and declines alike.
func (i *Ingestor) ReservationCancelled(ctx context.Context, tx pgx.Tx, msg kafka.Message) error {
	p, ok := i.decodeReservation(msg)
	if !ok {
		return nil
	}
	at := time.Now().UTC()
	if t, err := time.Parse(time.RFC3339, p.CancelledAt); err == nil {
		at = t
	}
	if err := i.store.VoidSubject(ctx, tx, p.BusinessID, p.ReservationID, at); err != nil {
		return err
	}
	i.logger.Info("reservation voided", "reservation_id", p.ReservationID, "status", p.Status)
	return nil
}

func (i *Ingestor) ReservationCheckedIn(ctx context.Context, tx pgx.Tx, msg kafka.Message) error {
	p, ok := i.decodeReservation(msg)
	if !ok {
		return nil
	}
	checkedInAt, err := time.Parse(time.RFC3339, p.CheckedInAt)
	if err != nil {
		i.logger.Error("invalid checked_in_at", "reservation_id", p.ReservationID, "err", err)
		return nil
	}
	kind, entityID := p.entity()
	return i.store.RecordEngagementTx(ctx, tx, storage.Engagement{
		BusinessID: p.BusinessID,
		EntityKind: kind,
		EntityID:   entityID,
		Kind:       model.KindCheckIn,
		SubjectID:  p.ReservationID,
		OccurredAt: checkedInAt,
	})
}

type planPayload struct {
	HistoryID  string `json:"history_id"`
	BusinessID string `json:"business_id"`
	Plan       string `json:"plan"`
	ValidFrom  string `json:"valid_from"`
	ValidTo    string `json:"valid_to"`
}

func (i *Ingestor) PlanChanged(ctx context.Context, tx pgx.Tx, msg kafka.Message) error {
	var p planPayload
	if err := json.Unmarshal(msg.Value, &p); err != nil {
		i.logger.Error("invalid plan payload", "err", err)
		return nil
	}
	if !validUUID(p.HistoryID) || !validUUID(p.BusinessID) {
		i.logger.Error("missing plan fields", "history_id", p.HistoryID)
		return nil
	}
	tier := model.ParsePlanTier(p.Plan)
	if tier == model.PlanUnknown {
		i.logger.Warn("unknown plan dropped", "history_id", p.HistoryID, "plan", p.Plan)
		return nil
	}
	if !validTimestamp(p.ValidFrom) || (p.ValidTo != "" && !validTimestamp(p.ValidTo)) {
		i.logger.Error("invalid plan validity", "history_id", p.HistoryID)
		return nil
	}
	return i.store.UpsertPlan(ctx, tx, model.PlanRecord{
		ID:         p.HistoryID,
		BusinessID: p.BusinessID,
		Plan:       string(tier),
		ValidFrom:  p.ValidFrom,
		ValidTo:    p.ValidTo,
	})
}

type boostPayload struct {
	BoostID       string `json:"boost_id"`
	BusinessID    string `json:"business_id"`
	EntityType    string `json:"entity_type"`
	EntityID      string `json:"entity_id"`
	Status        string `json:"status"`
	StartDate     string `json:"start_date"`
	EndDate       string `json:"end_date"`
	DurationHours int    `json:"duration_hours"`
	CreatedAt     string `json:"created_at"`
	DeactivatedAt string `json:"deactivated_at"`
}

func (i *Ingestor) BoostChanged(ctx context.Context, tx pgx.Tx, msg kafka.Message) error {
	var p boostPayload
	if err := json.Unmarshal(msg.Value, &p); err != nil {
		i.logger.Error("invalid boost payload", "err", err)
		return nil
	}
	if !validUUID(p.BoostID) || !validUUID(p.BusinessID) || p.EntityID == "" {
		i.logger.Error("missing boost fields", "boost_id", p.BoostID)
		return nil
	}
	kind, err := model.ParseEntityKind(p.EntityType)
	if err != nil {
		i.logger.Warn("boost dropped", "boost_id", p.BoostID, "err", err)
		return nil
	}
	status := model.ParseBoostStatus(p.Status)
	if status == model.BoostUnknown {
		i.logger.Warn("unknown boost status dropped", "boost_id", p.BoostID, "status", p.Status)
		return nil
	}
	for _, ts := range []string{p.StartDate, p.EndDate, p.DeactivatedAt} {
		if ts != "" && !validTimestamp(ts) {
			i.logger.Error("invalid boost timestamp", "boost_id", p.BoostID, "value", ts)
			return nil
		}
	}
	if !validTimestamp(p.CreatedAt) {
		i.logger.Error("invalid boost created_at", "boost_id", p.BoostID)
		return nil
	}
	return i.store.UpsertBoost(ctx, tx, model.BoostRecord{
		ID:            p.BoostID,
		BusinessID:    p.BusinessID,
		EntityKind:    kind,
		EntityID:      p.EntityID,
		Status:        string(status),
		StartDate:     p.StartDate,
		EndDate:       p.EndDate,
		CreatedAt:     p.CreatedAt,
		DurationHours: p.DurationHours,
		DeactivatedAt: p.DeactivatedAt,
	})
}

func validUUID(raw string) bool {
	_, err := uuid.Parse(raw)
	return err == nil
}

func validTimestamp(raw string) bool {
	_, err := time.Parse(time.RFC3339, raw)
	return err == nil
}
