package slots

import (
	"testing"
	"time"

	"github.com/fomo-app/fomo/services/reservation-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func def(start, end string, capacity, maxParty int, days ...string) model.TimeSlotDefinition {
	return model.TimeSlotDefinition{Start: start, End: end, Capacity: capacity, MaxPartySize: maxParty, Days: days}
}

func TestParseClock(t *testing.T) {
	cases := []struct {
		in   string
		want int
		ok   bool
	}{
		{"00:00", 0, true},
		{"19:30", 1170, true},
		{"19:30:45", 1170, true},
		{"24:00", 1440, true},
		{"24:01", 0, false},
		{"7:00", 0, false},
		{"19:60", 0, false},
		{"", 0, false},
		{"ab:cd", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseClock(tc.in)
		if !tc.ok {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestParseWeekday(t *testing.T) {
	for _, name := range []string{"Friday", "friday", "FRI", "fri"} {
		d, ok := ParseWeekday(name)
		require.True(t, ok, name)
		assert.Equal(t, time.Friday, d)
	}
	_, ok := ParseWeekday("fr")
	assert.False(t, ok)
}

func TestOvernightWindow(t *testing.T) {
	defs := []model.TimeSlotDefinition{def("22:00", "02:00", 5, 8, "saturday")}

	got := ExpandSlotsForDay(defs, "Saturday", 60)
	assert.Equal(t, []string{"22:00", "23:00", "00:00", "01:00"}, got)

	// 2024-06-01 is a Saturday.
	assert.Equal(t, 8, ResolveMaxPartySize("01:30", "2024-06-01", defs))
	_, ok := Resolver{}.MatchDefinition("02:00", time.Saturday, defs)
	assert.False(t, ok, "window end is exclusive")
}

func TestExpandDedupesAndSorts(t *testing.T) {
	defs := []model.TimeSlotDefinition{
		def("19:00", "21:00", 4, 6, "mon"),
		def("18:00", "20:00", 4, 6, "monday"),
		def("12:00", "13:00", 4, 6, "tue"),
	}
	got := ExpandSlotsForDay(defs, "monday", 0)
	assert.Equal(t, []string{"18:00", "18:30", "19:00", "19:30", "20:00", "20:30"}, got)
}

func TestExpandKeepsEarliestOffsetForDuplicates(t *testing.T) {
	defs := []model.TimeSlotDefinition{
		def("23:00", "01:00", 2, 2, "sun"),
		def("00:00", "01:00", 2, 2, "sun"),
	}
	slots := Resolver{StepMinutes: 60}.ExpandSlots(defs, time.Sunday)
	assert.Equal(t, []Slot{{Time: "00:00", Offset: 0}, {Time: "23:00", Offset: 1380}}, slots)
}

func TestMalformedDefinitionIsSkipped(t *testing.T) {
	defs := []model.TimeSlotDefinition{
		def("1x:00", "20:00", 4, 6, "wed"),
		def("12:00", "13:00", 4, 6, "wed"),
		def("14:00", "15:00", 4, 6, "someday"),
	}
	var skipped []error
	r := Resolver{OnSkip: func(_ model.TimeSlotDefinition, err error) { skipped = append(skipped, err) }}

	got := Times(r.ExpandSlots(defs, time.Wednesday))
	assert.Equal(t, []string{"12:00", "12:30"}, got)
	require.Len(t, skipped, 2)
	assert.ErrorIs(t, skipped[0], ErrMalformedTime)
	assert.ErrorIs(t, skipped[1], ErrNoWeekdays)
}

func TestResolveMaxPartySizeFallback(t *testing.T) {
	defs := []model.TimeSlotDefinition{def("12:00", "14:00", 4, 0, "sat")}
	assert.Equal(t, FallbackMaxPartySize, ResolveMaxPartySize("12:30", "2024-06-01", defs))
	assert.Equal(t, FallbackMaxPartySize, ResolveMaxPartySize("18:00", "2024-06-01", defs))
	assert.Equal(t, FallbackMaxPartySize, ResolveMaxPartySize("12:30", "not-a-date", defs))
}

func TestFullyBookedAndFilter(t *testing.T) {
	defs := []model.TimeSlotDefinition{
		def("18:00", "20:00", 2, 6, "fri"),
		def("20:00", "21:00", 0, 6, "fri"),
	}
	r := Resolver{}
	candidates := Times(r.ExpandSlots(defs, time.Friday))
	full := r.FullyBooked(candidates, time.Friday, defs, map[string]int{"18:00": 2, "18:30": 1, "20:00": 99})
	assert.True(t, full.Has("18:00"))
	assert.False(t, full.Has("18:30"))
	assert.False(t, full.Has("20:00"), "no capacity configured means unlimited")

	got := FilterAvailable(candidates, NewSet("19:00:00"), full)
	assert.Equal(t, []string{"18:30", "19:30", "20:00", "20:30"}, got)
}

func TestIsDateBookable(t *testing.T) {
	defs := []model.TimeSlotDefinition{def("18:00", "20:00", 2, 6, "sat")}
	closed := NewSet("2024-06-08")

	assert.True(t, IsDateBookable("2024-06-01", defs, closed, "2024-06-01"))
	assert.False(t, IsDateBookable("2024-05-25", defs, closed, "2024-06-01"), "past")
	assert.False(t, IsDateBookable("2024-06-02", defs, closed, "2024-06-01"), "no sunday windows")
	assert.False(t, IsDateBookable("2024-06-08", defs, closed, "2024-06-01"), "closed")
	assert.False(t, IsDateBookable("06/08/2024", defs, closed, "2024-06-01"))
}

func TestDropPast(t *testing.T) {
	loc := time.UTC
	slots := []Slot{{"18:00", 1080}, {"18:30", 1110}, {"19:00", 1140}, {"00:30", 1470}}
	now := time.Date(2024, 6, 1, 18, 30, 10, 0, loc)

	assert.Equal(t, []Slot{{"19:00", 1140}, {"00:30", 1470}}, DropPast(slots, "2024-06-01", loc, now))
	assert.Equal(t, slots, DropPast(slots, "2024-06-02", loc, now))
	assert.Empty(t, DropPast(slots, "2024-05-31", loc, now))
}

func TestDropPastKeepsYesterdaysOvernightSlots(t *testing.T) {
	loc := time.UTC
	slots := []Slot{{"22:00", 1320}, {"00:30", 1470}, {"01:00", 1500}}
	now := time.Date(2024, 6, 2, 0, 40, 0, 0, loc)

	assert.Equal(t, []Slot{{"01:00", 1500}}, DropPast(slots, "2024-06-01", loc, now))
	assert.Empty(t, DropPast(slots, "2024-05-31", loc, now))
}

func TestFirstOpenDate(t *testing.T) {
	defs := []model.TimeSlotDefinition{def("22:00", "03:00", 4, 6, "fri")}
	r := Resolver{}

	assert.Equal(t, "2024-05-31", r.FirstOpenDate(defs, time.UTC, time.Date(2024, 6, 1, 0, 30, 0, 0, time.UTC)))
	assert.Equal(t, "2024-06-01", r.FirstOpenDate(defs, time.UTC, time.Date(2024, 6, 1, 2, 30, 0, 0, time.UTC)))
	assert.Equal(t, "2024-06-02", r.FirstOpenDate(defs, time.UTC, time.Date(2024, 6, 2, 0, 30, 0, 0, time.UTC)))
}

func TestMatchPrefersSameDayWindow(t *testing.T) {
	defs := []model.TimeSlotDefinition{
		def("23:00", "01:00", 2, 3, "sun"),
		def("00:00", "01:00", 8, 9, "sun"),
	}
	got, ok := Resolver{}.MatchDefinition("00:00", time.Sunday, defs)
	require.True(t, ok)
	assert.Equal(t, 9, got.MaxPartySize)

	got, ok = Resolver{}.MatchDefinition("23:30", time.Sunday, defs)
	require.True(t, ok)
	assert.Equal(t, 3, got.MaxPartySize)
}
