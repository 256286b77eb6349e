package attribution

import (
	"errors"
	"testing"
	"time"

	"github.com/fomo-app/fomo/services/analytics-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(t *testing.T, raw string) time.Time {
	t.Helper()
	v, err := ParseTimestamp(raw)
	require.NoError(t, err)
	return v
}

func TestIntervalEndPolicy(t *testing.T) {
	start := ts(t, "2024-01-01T00:00:00Z")
	end := ts(t, "2024-01-10T00:00:00Z")

	halfOpen := Interval{Start: start, End: end}
	closed := Interval{Start: start, End: end, EndInclusive: true}

	assert.True(t, IsTimestampWithinWindow(start, halfOpen))
	assert.False(t, IsTimestampWithinWindow(end, halfOpen))
	assert.True(t, IsTimestampWithinWindow(end, closed))
	assert.False(t, IsTimestampWithinWindow(start.Add(-time.Nanosecond), closed))
	assert.True(t, IsTimestampWithinWindow(end.AddDate(5, 0, 0), Interval{Start: start, EndInclusive: true}))
}

func TestAdjacentPeriodsShareBoundaryOnce(t *testing.T) {
	plans := []model.PlanRecord{
		{ID: "p1", BusinessID: "biz", Plan: "pro", ValidFrom: "2024-01-01T00:00:00Z", ValidTo: "2024-01-10T00:00:00Z"},
		{ID: "p2", BusinessID: "biz", Plan: "elite", ValidFrom: "2024-01-10T00:00:00Z"},
	}
	periods := PlanPeriods(plans, Range{}, nil)
	require.Len(t, periods, 2)

	boundary := ts(t, "2024-01-10T00:00:00Z")
	assert.False(t, periods[0].Window.Contains(boundary))
	assert.True(t, periods[1].Window.Contains(boundary))

	counts := AttributeEvents([]model.EngagementEvent{{ID: "e1", EntityID: "biz", OccurredAt: boundary}}, periods)
	assert.Equal(t, Counts{WithinPeriod: 1}, counts)
}

func TestAttributeEventsCountsOverlapsOnce(t *testing.T) {
	start := ts(t, "2024-03-01T00:00:00Z")
	periods := []Period{
		{EntityID: "offer-1", Window: Interval{Start: start, End: start.AddDate(0, 0, 10)}},
		{EntityID: "offer-1", Window: Interval{Start: start.AddDate(0, 0, 5), End: start.AddDate(0, 0, 15)}},
	}
	events := []model.EngagementEvent{
		{ID: "a", EntityID: "offer-1", OccurredAt: start.AddDate(0, 0, 7)},
		{ID: "b", EntityID: "offer-1", OccurredAt: start.AddDate(0, 0, 20)},
		{ID: "c", EntityID: "offer-2", OccurredAt: start.AddDate(0, 0, 7)},
	}

	assert.Equal(t, Counts{WithinPeriod: 1, OutsidePeriod: 2}, AttributeEvents(events, periods))

	byEntity := AttributeByEntity(events, periods)
	assert.Equal(t, Counts{WithinPeriod: 1, OutsidePeriod: 1}, byEntity["offer-1"])
	assert.Equal(t, Counts{OutsidePeriod: 1}, byEntity["offer-2"])
}

func TestComputeChangePercent(t *testing.T) {
	cases := []struct {
		before, after, want int
	}{
		{0, 0, 0},
		{0, 5, 100},
		{10, 5, -50},
		{10, 15, 50},
		{3, 4, 33},
		{8, 7, -12},
		{200, 195, -2},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ComputeChangePercent(tc.before, tc.after), "before=%d after=%d", tc.before, tc.after)
	}
}

func TestBoostWindowPrecedence(t *testing.T) {
	base := model.BoostRecord{
		ID:            "b1",
		EntityID:      "offer-1",
		Status:        "completed",
		StartDate:     "2024-05-01T00:00:00Z",
		EndDate:       "2024-05-08T00:00:00Z",
		DurationHours: 48,
		DeactivatedAt: "2024-05-04T12:00:00Z",
	}

	iv, err := BoostWindow(base, Range{})
	require.NoError(t, err)
	assert.Equal(t, ts(t, "2024-05-04T12:00:00Z"), iv.End)
	assert.False(t, iv.EndInclusive)

	noDeactivation := base
	noDeactivation.DeactivatedAt = ""
	iv, err = BoostWindow(noDeactivation, Range{})
	require.NoError(t, err)
	assert.Equal(t, ts(t, "2024-05-08T00:00:00Z"), iv.End)

	durationOnly := noDeactivation
	durationOnly.EndDate = ""
	iv, err = BoostWindow(durationOnly, Range{})
	require.NoError(t, err)
	assert.Equal(t, ts(t, "2024-05-03T00:00:00Z"), iv.End)

	open := durationOnly
	open.DurationHours = 0
	iv, err = BoostWindow(open, Range{})
	require.NoError(t, err)
	assert.True(t, iv.End.IsZero())
	assert.True(t, iv.EndInclusive)
}

func TestBoostWindowClampsToRange(t *testing.T) {
	rng := Range{From: ts(t, "2024-05-03T00:00:00Z"), To: ts(t, "2024-05-05T00:00:00Z")}
	rec := model.BoostRecord{ID: "b1", Status: "active", CreatedAt: "2024-05-01 09:30:00+00", DurationHours: 24 * 10}

	iv, err := BoostWindow(rec, rng)
	require.NoError(t, err)
	assert.Equal(t, rng.From, iv.Start)
	assert.Equal(t, rng.To, iv.End)
	assert.True(t, iv.EndInclusive, "a range-clamped end is inclusive")

	early := model.BoostRecord{ID: "b2", Status: "completed", StartDate: "2024-04-01", EndDate: "2024-04-10"}
	_, err = BoostWindow(early, rng)
	assert.ErrorIs(t, err, ErrNoWindow)
}

func TestBoostWindowDropsPendingAndMalformed(t *testing.T) {
	_, err := BoostWindow(model.BoostRecord{Status: "pending", StartDate: "2024-05-01"}, Range{})
	assert.ErrorIs(t, err, ErrNoWindow)

	_, err = BoostWindow(model.BoostRecord{Status: "active", StartDate: "yesterday"}, Range{})
	assert.ErrorIs(t, err, ErrMalformedPeriod)

	_, err = BoostWindow(model.BoostRecord{Status: "paused", StartDate: "2024-05-01"}, Range{})
	assert.ErrorIs(t, err, ErrMalformedPeriod)

	var skipped []string
	periods := BoostPeriods([]model.BoostRecord{
		{ID: "ok", EntityID: "e", Status: "active", StartDate: "2024-05-01", DurationHours: 5},
		{ID: "bad", EntityID: "e", Status: "active", StartDate: "2024-05-01", EndDate: "soon"},
		{ID: "pending", EntityID: "e", Status: "pending", StartDate: "2024-05-01"},
	}, Range{}, func(id string, err error) {
		require.True(t, errors.Is(err, ErrMalformedPeriod))
		skipped = append(skipped, id)
	})
	require.Len(t, periods, 1)
	assert.Equal(t, []string{"bad"}, skipped)
}

func TestPlanWindowSkipsFreePlans(t *testing.T) {
	_, err := PlanWindow(model.PlanRecord{Plan: "free", ValidFrom: "2024-01-01"}, Range{})
	assert.ErrorIs(t, err, ErrNoWindow)

	_, err = PlanWindow(model.PlanRecord{Plan: "platinum", ValidFrom: "2024-01-01"}, Range{})
	assert.ErrorIs(t, err, ErrMalformedPeriod)
}

func TestParseTimestampComparesInstants(t *testing.T) {
	a := ts(t, "2024-01-10T02:00:00+02:00")
	b := ts(t, "2024-01-10 00:00:00+00")
	c := ts(t, "2024-01-10T00:00:00.000Z")
	assert.True(t, a.Equal(b))
	assert.True(t, b.Equal(c))
	assert.Equal(t, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), ts(t, "2024-01-10"))
}
