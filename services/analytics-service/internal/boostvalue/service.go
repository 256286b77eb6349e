package boostvalue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/fomo-app/fomo/services/analytics-service/internal/attribution"
	"github.com/fomo-app/fomo/services/analytics-service/internal/model"
	"github.com/fomo-app/fomo/services/analytics-service/internal/paging"
	"golang.org/x/sync/errgroup"
)

// EngagementQuery selects one engagement stream of a business.
type EngagementQuery struct {
	BusinessID string
	EntityKind model.EntityKind
	Kinds      []model.EngagementKind
	From       time.Time
	To         time.Time
	// RequireCheckIn keeps only events whose subject was later checked in.
	RequireCheckIn bool
}

// Pages is the paged read side the report is computed from.
type Pages interface {
	PlanPage(ctx context.Context, businessID string, offset, limit int) ([]model.PlanRecord, error)
	BoostPage(ctx context.Context, businessID string, kind model.EntityKind, offset, limit int) ([]model.BoostRecord, error)
	EngagementPage(ctx context.Context, q EngagementQuery, offset, limit int) ([]model.EngagementEvent, error)
}

// Source hands out Pages bound to one consistent snapshot. Every page read inside fn sees
// the same rows, so concurrent inserts or voids cannot shift offsets mid-drain.
type Source interface {
	Snapshot(ctx context.Context, fn func(Pages) error) error
}

// drainSnapshot drains one paged stream inside a single snapshot.
func drainSnapshot[T any](ctx context.Context, src Source, pageSize int, fetch func(Pages) paging.PageFunc[T]) ([]T, error) {
	var rows []T
	err := src.Snapshot(ctx, func(p Pages) error {
		var err error
		rows, err = paging.DrainAll(ctx, fetch(p), pageSize)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

type MetricComparison struct {
	WithoutBoost  int `json:"without_boost"`
	WithBoost     int `json:"with_boost"`
	ChangePercent int `json:"change_percent"`
}

func compare(c attribution.Counts) MetricComparison {
	return MetricComparison{
		WithoutBoost:  c.OutsidePeriod,
		WithBoost:     c.WithinPeriod,
		ChangePercent: attribution.ComputeChangePercent(c.OutsidePeriod, c.WithinPeriod),
	}
}

type EntityReport struct {
	EntityID string                                 `json:"entity_id"`
	Metrics  map[model.MetricKind]MetricComparison `json:"metrics"`
}

type ClassReport struct {
	EntityKind   model.EntityKind                        `json:"entity_kind"`
	BoostPeriods int                                     `json:"boost_periods"`
	Metrics      map[model.MetricKind]MetricComparison `json:"metrics,omitempty"`
	Entities     []EntityReport                          `json:"entities,omitempty"`
	Error        string                                  `json:"error,omitempty"`
}

type Report struct {
	BusinessID  string        `json:"business_id"`
	From        string        `json:"from,omitempty"`
	To          string        `json:"to,omitempty"`
	GeneratedAt string        `json:"generated_at"`
	Classes     []ClassReport `json:"classes"`
}

type stream struct {
	metric model.MetricKind
	query  EngagementQuery
}

// streams lists the engagement streams behind each metric of a class. Profile visits are
// reservations by creation time; event visits only count tickets and reservations that were checked in.
func streams(businessID string, kind model.EntityKind, rng attribution.Range) []stream {
	q := func(kinds ...model.EngagementKind) EngagementQuery {
		return EngagementQuery{BusinessID: businessID, EntityKind: kind, Kinds: kinds, From: rng.From, To: rng.To}
	}
	switch kind {
	case model.EntityProfile:
		return []stream{
			{model.MetricViews, q(model.KindView)},
			{model.MetricInteractions, q(model.KindInteraction)},
			{model.MetricVisits, q(model.KindReservation)},
		}
	case model.EntityOffer:
		return []stream{
			{model.MetricViews, q(model.KindView)},
			{model.MetricInteractions, q(model.KindInteraction)},
			{model.MetricVisits, q(model.KindRedemption)},
		}
	default:
		visits := q(model.KindTicket, model.KindReservation)
		visits.RequireCheckIn = true
		return []stream{
			{model.MetricViews, q(model.KindView)},
			{model.MetricInteractions, q(model.KindRSVP)},
			{model.MetricVisits, visits},
		}
	}
}

type Options struct {
	PageSize    int
	Concurrency int
	Logger      *slog.Logger
	Now         func() time.Time
}

type Service struct {
	src         Source
	pageSize    int
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
}

func NewService(src Source, opts Options) *Service {
	if opts.PageSize <= 0 {
		opts.PageSize = paging.DefaultPageSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		src:         src,
		pageSize:    opts.PageSize,
		concurrency: opts.Concurrency,
		logger:      opts.Logger,
		now:         opts.Now,
	}
}

// Report compares engagement inside and outside boosted windows for every entity class.
// A class that fails to load carries its error while the others are still returned;
// cancelling ctx discards the whole report.
func (s *Service) Report(ctx context.Context, businessID string, rng attribution.Range) (Report, error) {
	if businessID == "" {
		return Report{}, errors.New("business id is required")
	}
	if !rng.From.IsZero() && !rng.To.IsZero() && rng.To.Before(rng.From) {
		return Report{}, fmt.Errorf("range ends before it starts")
	}

	classes := make([]ClassReport, len(model.EntityKinds))
	var g errgroup.Group
	for i, kind := range model.EntityKinds {
		i, kind := i, kind
		g.Go(func() error {
			report, err := s.classReport(ctx, businessID, kind, rng)
			if err != nil {
				s.logger.Error("boost value class failed", "business_id", businessID, "entity_kind", kind, "err", err)
				report = ClassReport{EntityKind: kind, Error: "failed to load " + string(kind) + " analytics"}
			}
			classes[i] = report
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	out := Report{
		BusinessID:  businessID,
		GeneratedAt: s.now().UTC().Format(time.RFC3339),
		Classes:     classes,
	}
	if !rng.From.IsZero() {
		out.From = rng.From.UTC().Format(time.RFC3339)
	}
	if !rng.To.IsZero() {
		out.To = rng.To.UTC().Format(time.RFC3339)
	}
	return out, nil
}

func (s *Service) classReport(ctx context.Context, businessID string, kind model.EntityKind, rng attribution.Range) (ClassReport, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	var periods []attribution.Period
	g.Go(func() error {
		p, err := s.periods(gctx, businessID, kind, rng)
		periods = p
		return err
	})

	list := streams(businessID, kind, rng)
	events := make([][]model.EngagementEvent, len(list))
	for i, st := range list {
		i, st := i, st
		g.Go(func() error {
			rows, err := drainSnapshot(gctx, s.src, s.pageSize, func(p Pages) paging.PageFunc[model.EngagementEvent] {
				return func(ctx context.Context, offset, limit int) ([]model.EngagementEvent, error) {
					return p.EngagementPage(ctx, st.query, offset, limit)
				}
			})
			if err != nil {
				return fmt.Errorf("%s %s: %w", kind, st.metric, err)
			}
			events[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ClassReport{}, err
	}

	report := ClassReport{
		EntityKind:   kind,
		BoostPeriods: len(periods),
		Metrics:      make(map[model.MetricKind]MetricComparison, len(list)),
	}
	perEntity := make(map[string]map[model.MetricKind]MetricComparison)
	for _, p := range periods {
		if _, ok := perEntity[p.EntityID]; !ok {
			perEntity[p.EntityID] = make(map[model.MetricKind]MetricComparison)
		}
	}
	for i, st := range list {
		report.Metrics[st.metric] = compare(attribution.AttributeEvents(events[i], periods))
		for id, c := range attribution.AttributeByEntity(events[i], periods) {
			if _, ok := perEntity[id]; !ok {
				perEntity[id] = make(map[model.MetricKind]MetricComparison)
			}
			perEntity[id][st.metric] = compare(c)
		}
	}

	ids := make([]string, 0, len(perEntity))
	for id := range perEntity {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		metrics := perEntity[id]
		for _, st := range list {
			if _, ok := metrics[st.metric]; !ok {
				metrics[st.metric] = MetricComparison{}
			}
		}
		report.Entities = append(report.Entities, EntityReport{EntityID: id, Metrics: metrics})
	}
	return report, nil
}

func (s *Service) periods(ctx context.Context, businessID string, kind model.EntityKind, rng attribution.Range) ([]attribution.Period, error) {
	skip := func(id string, err error) {
		s.logger.Warn("skipping malformed boost period", "business_id", businessID, "entity_kind", kind, "record_id", id, "err", err)
	}
	if kind == model.EntityProfile {
		plans, err := drainSnapshot(ctx, s.src, s.pageSize, func(p Pages) paging.PageFunc[model.PlanRecord] {
			return func(ctx context.Context, offset, limit int) ([]model.PlanRecord, error) {
				return p.PlanPage(ctx, businessID, offset, limit)
			}
		})
		if err != nil {
			return nil, fmt.Errorf("plan history: %w", err)
		}
		return attribution.PlanPeriods(plans, rng, skip), nil
	}
	boosts, err := drainSnapshot(ctx, s.src, s.pageSize, func(p Pages) paging.PageFunc[model.BoostRecord] {
		return func(ctx context.Context, offset, limit int) ([]model.BoostRecord, error) {
			return p.BoostPage(ctx, businessID, kind, offset, limit)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("%s boosts: %w", kind, err)
	}
	return attribution.BoostPeriods(boosts, rng, skip), nil
}
