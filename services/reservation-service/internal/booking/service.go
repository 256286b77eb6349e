package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fomo-app/fomo/services/reservation-service/internal/model"
	"github.com/fomo-app/fomo/services/reservation-service/internal/slots"
)

var ErrInvalidRequest = errors.New("invalid booking request")

type ConfigLoader interface {
	LoadConfig(ctx context.Context, businessID string) (model.BusinessConfig, error)
}

type SlotCounter interface {
	CountBySlot(ctx context.Context, businessID, date string) (map[string]int, error)
}

// AtomicBooker performs the authoritative capacity check and insert. It reports
// SLOT_FULL or PARTY_TOO_LARGE itself when state changed since the caller's checks.
// replayed is true when an earlier request with the same idempotency key is returned.
type AtomicBooker interface {
	BookSlot(ctx context.Context, req BookRequest) (res model.Reservation, replayed bool, err error)
}

type Request struct {
	BusinessID     string
	EventID        string
	Date           string
	Time           string
	PartySize      int
	ContactName    string
	ContactEmail   string
	ContactPhone   string
	Notes          string
	IdempotencyKey string
}

type BookRequest struct {
	Request
	Status      model.ReservationStatus
	StepMinutes int
}

type AvailableSlot struct {
	Time         string `json:"time"`
	MaxPartySize int    `json:"max_party_size"`
}

type Options struct {
	StepMinutes     int
	DefaultLocation *time.Location
	Logger          *slog.Logger
	Now             func() time.Time
}

// Service composes the slot resolver with business configuration and live counts.
// Read paths may use a cached configuration; Book always uses the current one.
type Service struct {
	current  ConfigLoader
	cached   ConfigLoader
	counts   SlotCounter
	booker   AtomicBooker
	resolver slots.Resolver
	loc      *time.Location
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(current, cached ConfigLoader, counts SlotCounter, booker AtomicBooker, opts Options) *Service {
	if cached == nil {
		cached = current
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DefaultLocation == nil {
		opts.DefaultLocation = time.UTC
	}
	s := &Service{
		current: current,
		cached:  cached,
		counts:  counts,
		booker:  booker,
		loc:     opts.DefaultLocation,
		logger:  opts.Logger,
		now:     opts.Now,
	}
	s.resolver = slots.Resolver{
		StepMinutes: opts.StepMinutes,
		OnSkip: func(def model.TimeSlotDefinition, err error) {
			s.logger.Warn("skipping malformed slot definition", "definition_id", def.ID, "start", def.Start, "end", def.End, "err", err)
		},
	}
	return s
}

func (s *Service) Resolver() slots.Resolver {
	return s.resolver
}

// firstOpen returns the earliest date that still has slots ahead, which is yesterday while
// its overnight slots run, and the business location.
func (s *Service) firstOpen(cfg model.BusinessConfig) (string, *time.Location) {
	loc := cfg.Location(s.loc)
	return s.resolver.FirstOpenDate(cfg.Definitions, loc, s.now()), loc
}

// Book validates req against the current configuration and hands it to the atomic booker.
// Booker errors are returned unchanged and never retried.
func (s *Service) Book(ctx context.Context, req Request) (model.Reservation, bool, error) {
	req.BusinessID = strings.TrimSpace(req.BusinessID)
	req.ContactName = strings.TrimSpace(req.ContactName)
	if req.BusinessID == "" || req.ContactName == "" {
		return model.Reservation{}, false, fmt.Errorf("%w: business_id and contact_name are required", ErrInvalidRequest)
	}
	if req.PartySize < 1 {
		return model.Reservation{}, false, Reject(CodeInvalidPartySize, "party size must be at least 1")
	}
	day, err := slots.ParseDate(req.Date)
	if err != nil {
		return model.Reservation{}, false, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidRequest)
	}
	req.Date = day.Format(time.DateOnly)
	if req.Time, err = slots.NormalizeClock(req.Time); err != nil {
		return model.Reservation{}, false, fmt.Errorf("%w: time must be HH:MM", ErrInvalidRequest)
	}

	cfg, err := s.current.LoadConfig(ctx, req.BusinessID)
	if err != nil {
		return model.Reservation{}, false, err
	}
	if !cfg.Policy.AcceptsDirectReservations {
		return model.Reservation{}, false, Reject(CodeReservationsDisabled, "this business does not accept direct reservations")
	}

	earliest, loc := s.firstOpen(cfg)
	if req.Date < earliest {
		return model.Reservation{}, false, Reject(CodeDateInPast, "the requested date has passed")
	}
	if slots.NewSet(cfg.ClosedDateList()...).Has(req.Date) {
		return model.Reservation{}, false, Reject(CodeDateClosed, "the business is closed on this date")
	}

	offered := slots.DropPast(s.resolver.ExpandSlots(cfg.Definitions, day.Weekday()), req.Date, loc, s.now())
	if !containsTime(offered, req.Time) {
		return model.Reservation{}, false, Reject(CodeSlotUnavailable, "the requested time is not offered on this date")
	}
	if slots.NewSet(cfg.ClosedSlotTimes(req.Date)...).Has(req.Time) {
		return model.Reservation{}, false, Reject(CodeSlotClosed, "the requested time is closed on this date")
	}
	if limit := s.resolver.ResolveMaxPartySize(req.Time, req.Date, cfg.Definitions); req.PartySize > limit {
		return model.Reservation{}, false, PartyTooLarge(limit)
	}

	status := model.StatusAccepted
	if cfg.Policy.RequiresApproval {
		status = model.StatusPending
	}
	return s.booker.BookSlot(ctx, BookRequest{Request: req, Status: status, StepMinutes: s.resolver.StepMinutes})
}

// Availability lists bookable slots for date. A date that is not bookable yields an empty list.
func (s *Service) Availability(ctx context.Context, businessID, date string) ([]AvailableSlot, error) {
	day, err := slots.ParseDate(date)
	if err != nil {
		return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidRequest)
	}
	date = day.Format(time.DateOnly)

	cfg, err := s.cached.LoadConfig(ctx, businessID)
	if err != nil {
		return nil, err
	}
	out := []AvailableSlot{}
	if !cfg.Policy.AcceptsDirectReservations {
		return out, nil
	}
	earliest, loc := s.firstOpen(cfg)
	if !s.resolver.IsDateBookable(date, cfg.Definitions, slots.NewSet(cfg.ClosedDateList()...), earliest) {
		return out, nil
	}

	candidates := slots.Times(slots.DropPast(s.resolver.ExpandSlots(cfg.Definitions, day.Weekday()), date, loc, s.now()))
	if len(candidates) == 0 {
		return out, nil
	}
	counts, err := s.counts.CountBySlot(ctx, businessID, date)
	if err != nil {
		return nil, err
	}
	full := s.resolver.FullyBooked(candidates, day.Weekday(), cfg.Definitions, counts)
	for _, t := range slots.FilterAvailable(candidates, slots.NewSet(cfg.ClosedSlotTimes(date)...), full) {
		out = append(out, AvailableSlot{Time: t, MaxPartySize: s.resolver.ResolveMaxPartySize(t, date, cfg.Definitions)})
	}
	return out, nil
}

// BookableDates returns up to days consecutive dates starting at from (the first open date when empty)
// on which the business takes reservations. Capacity is not considered.
func (s *Service) BookableDates(ctx context.Context, businessID, from string, days int) ([]string, error) {
	if days <= 0 {
		days = 30
	}
	if days > 90 {
		days = 90
	}
	cfg, err := s.cached.LoadConfig(ctx, businessID)
	if err != nil {
		return nil, err
	}
	earliest, _ := s.firstOpen(cfg)
	if strings.TrimSpace(from) == "" {
		from = earliest
	}
	start, err := slots.ParseDate(from)
	if err != nil {
		return nil, fmt.Errorf("%w: from must be YYYY-MM-DD", ErrInvalidRequest)
	}

	out := []string{}
	if !cfg.Policy.AcceptsDirectReservations {
		return out, nil
	}
	closed := slots.NewSet(cfg.ClosedDateList()...)
	for i := 0; i < days; i++ {
		d := start.AddDate(0, 0, i).Format(time.DateOnly)
		if s.resolver.IsDateBookable(d, cfg.Definitions, closed, earliest) {
			out = append(out, d)
		}
	}
	return out, nil
}

func containsTime(list []slots.Slot, t string) bool {
	for _, s := range list {
		if s.Time == t {
			return true
		}
	}
	return false
}
