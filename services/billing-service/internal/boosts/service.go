package boosts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fomo-app/fomo/libs/outbox"
	"github.com/fomo-app/fomo/services/billing-service/internal/model"
	"github.com/fomo-app/fomo/services/billing-service/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const TopicBoostChanged = "billing.boost.changed.v1"

var (
	ErrNotFound = errors.New("boost not found")
	ErrInactive = errors.New("boost is no longer active")
	ErrInvalid  = errors.New("invalid boost")
)

type Store interface {
	InsertBoost(ctx context.Context, tx pgx.Tx, b model.Boost) (bool, error)
	GetBoostForUpdate(ctx context.Context, tx pgx.Tx, businessID, boostID string) (model.Boost, error)
	UpdateBoostStatus(ctx context.Context, tx pgx.Tx, b model.Boost) error
	ListLiveBoostsForUpdate(ctx context.Context, tx pgx.Tx, now time.Time, limit int) ([]model.Boost, error)
}

type EventWriter interface {
	Insert(ctx context.Context, tx pgx.Tx, evt outbox.Event) error
}

// ChangedEvent is the billing.boost.changed.v1 payload, a full snapshot of the boost.
type ChangedEvent struct {
	BoostID       string `json:"boost_id"`
	BusinessID    string `json:"business_id"`
	EntityType    string `json:"entity_type"`
	EntityID      string `json:"entity_id"`
	Status        string `json:"status"`
	StartDate     string `json:"start_date"`
	EndDate       string `json:"end_date,omitempty"`
	DurationHours int    `json:"duration_hours,omitempty"`
	CreatedAt     string `json:"created_at"`
	DeactivatedAt string `json:"deactivated_at,omitempty"`
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func newChangedEvent(b model.Boost) ChangedEvent {
	return ChangedEvent{
		BoostID:       b.ID,
		BusinessID:    b.BusinessID,
		EntityType:    string(b.EntityType),
		EntityID:      b.EntityID,
		Status:        string(b.Status),
		StartDate:     formatTime(&b.StartDate),
		EndDate:       formatTime(b.EndDate),
		DurationHours: b.DurationHours,
		CreatedAt:     formatTime(&b.CreatedAt),
		DeactivatedAt: formatTime(b.DeactivatedAt),
	}
}

// Purchase describes a paid boost from a completed checkout.
type Purchase struct {
	BusinessID      string
	EntityType      string
	EntityID        string
	DurationHours   int
	StartDate       *time.Time
	StripeSessionID string
	PaidAt          time.Time
}

type Service struct {
	store  Store
	events EventWriter
	now    func() time.Time
}

func New(store Store, events EventWriter) *Service {
	return &Service{store: store, events: events, now: time.Now}
}

// Create stores a purchased boost. A boost without a start date starts when it was paid.
// Replayed checkouts report false.
func (s *Service) Create(ctx context.Context, tx pgx.Tx, p Purchase) (model.Boost, bool, error) {
	entityType, err := model.ParseEntityType(p.EntityType)
	if err != nil {
		return model.Boost{}, false, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if p.EntityID == "" && entityType == model.EntityProfile {
		p.EntityID = p.BusinessID
	}
	if p.BusinessID == "" || p.EntityID == "" {
		return model.Boost{}, false, fmt.Errorf("%w: business and entity are required", ErrInvalid)
	}
	if p.DurationHours <= 0 {
		return model.Boost{}, false, fmt.Errorf("%w: duration must be positive", ErrInvalid)
	}

	start := p.PaidAt.UTC()
	if p.StartDate != nil && p.StartDate.After(start) {
		start = p.StartDate.UTC()
	}
	b := model.Boost{
		ID:              uuid.NewString(),
		BusinessID:      p.BusinessID,
		EntityType:      entityType,
		EntityID:        p.EntityID,
		Status:          model.BoostScheduled,
		StartDate:       start,
		DurationHours:   p.DurationHours,
		CreatedAt:       p.PaidAt.UTC(),
		StripeSessionID: p.StripeSessionID,
	}
	b.Status = b.StatusAt(s.now())

	inserted, err := s.store.InsertBoost(ctx, tx, b)
	if err != nil || !inserted {
		return b, false, err
	}
	return b, true, s.emit(ctx, tx, b)
}

// Deactivate ends a live boost now. The deactivation time takes precedence over its planned end.
func (s *Service) Deactivate(ctx context.Context, tx pgx.Tx, businessID, boostID string) (model.Boost, error) {
	b, err := s.store.GetBoostForUpdate(ctx, tx, businessID, boostID)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Boost{}, ErrNotFound
	}
	if err != nil {
		return model.Boost{}, err
	}
	now := s.now().UTC()
	if !b.Status.Live() || b.StatusAt(now) == model.BoostCompleted {
		return b, ErrInactive
	}
	b.Status = model.BoostCanceled
	b.DeactivatedAt = &now
	if err := s.store.UpdateBoostStatus(ctx, tx, b); err != nil {
		return model.Boost{}, err
	}
	return b, s.emit(ctx, tx, b)
}

// Advance moves scheduled boosts to active and expired ones to completed. It returns how many changed.
func (s *Service) Advance(ctx context.Context, tx pgx.Tx, limit int) (int, error) {
	now := s.now().UTC()
	live, err := s.store.ListLiveBoostsForUpdate(ctx, tx, now, limit)
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, b := range live {
		next := b.StatusAt(now)
		if next == b.Status {
			continue
		}
		b.Status = next
		if err := s.store.UpdateBoostStatus(ctx, tx, b); err != nil {
			return changed, err
		}
		if err := s.emit(ctx, tx, b); err != nil {
			return changed, err
		}
		changed++
	}
	return changed, nil
}

func (s *Service) emit(ctx context.Context, tx pgx.Tx, b model.Boost) error {
	evt, err := outbox.NewEvent("boost", b.ID, TopicBoostChanged, newChangedEvent(b))
	if err != nil {
		return err
	}
	return s.events.Insert(ctx, tx, evt)
}
