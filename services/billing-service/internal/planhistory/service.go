package planhistory

import (
	"context"
	"fmt"
	"time"

	"github.com/fomo-app/fomo/libs/outbox"
	"github.com/fomo-app/fomo/services/billing-service/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const TopicPlanChanged = "billing.plan.changed.v1"

type Store interface {
	OpenPlanForUpdate(ctx context.Context, tx pgx.Tx, businessID string) (model.PlanPeriod, bool, error)
	ClosePlan(ctx context.Context, tx pgx.Tx, id string, at time.Time) error
	InsertPlan(ctx context.Context, tx pgx.Tx, p model.PlanPeriod) error
}

type EventWriter interface {
	Insert(ctx context.Context, tx pgx.Tx, evt outbox.Event) error
}

// ChangedEvent is the billing.plan.changed.v1 payload. It is emitted for every row whose bounds changed.
type ChangedEvent struct {
	HistoryID  string `json:"history_id"`
	BusinessID string `json:"business_id"`
	Plan       string `json:"plan"`
	ValidFrom  string `json:"valid_from"`
	ValidTo    string `json:"valid_to,omitempty"`
}

func newChangedEvent(p model.PlanPeriod) ChangedEvent {
	evt := ChangedEvent{
		HistoryID:  p.ID,
		BusinessID: p.BusinessID,
		Plan:       string(p.Plan),
		ValidFrom:  p.ValidFrom.UTC().Format(time.RFC3339Nano),
	}
	if p.ValidTo != nil {
		evt.ValidTo = p.ValidTo.UTC().Format(time.RFC3339Nano)
	}
	return evt
}

type Service struct {
	store  Store
	events EventWriter
	newID  func() string
}

func New(store Store, events EventWriter) *Service {
	return &Service{store: store, events: events, newID: uuid.NewString}
}

// Apply records that businessID is on plan from at onwards. The open row is closed at the same
// instant the next one opens, so consecutive rows form adjacent half-open intervals. Applying the
// current plan again is a no-op and reports false.
func (s *Service) Apply(ctx context.Context, tx pgx.Tx, businessID string, plan model.Plan, at time.Time) (bool, error) {
	at = at.UTC()
	open, ok, err := s.store.OpenPlanForUpdate(ctx, tx, businessID)
	if err != nil {
		return false, fmt.Errorf("load open plan: %w", err)
	}
	if ok {
		if open.Plan == plan {
			return false, nil
		}
		// Late or reordered provider events must not produce an inverted interval.
		if at.Before(open.ValidFrom) {
			at = open.ValidFrom
		}
		if err := s.store.ClosePlan(ctx, tx, open.ID, at); err != nil {
			return false, fmt.Errorf("close plan: %w", err)
		}
		closedAt := at
		open.ValidTo = &closedAt
		if err := s.emit(ctx, tx, open); err != nil {
			return false, err
		}
	} else if plan == model.PlanFree {
		// Businesses without history are implicitly free.
		return false, nil
	}

	next := model.PlanPeriod{ID: s.newID(), BusinessID: businessID, Plan: plan, ValidFrom: at}
	if err := s.store.InsertPlan(ctx, tx, next); err != nil {
		return false, fmt.Errorf("insert plan: %w", err)
	}
	if err := s.emit(ctx, tx, next); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) emit(ctx context.Context, tx pgx.Tx, p model.PlanPeriod) error {
	evt, err := outbox.NewEvent("plan_history", p.BusinessID, TopicPlanChanged, newChangedEvent(p))
	if err != nil {
		return err
	}
	return s.events.Insert(ctx, tx, evt)
}
