package slots

import (
	"fmt"
	"sort"
	"time"

	"github.com/fomo-app/fomo/services/reservation-service/internal/model"
)

const (
	DefaultStepMinutes   = 30
	FallbackMaxPartySize = 50
)

// Slot is a bookable start time. Offset counts minutes from the midnight that opens the
// service day, so slots produced by an overnight window sort after the evening ones.
type Slot struct {
	Time   string
	Offset int
}

// SkipFunc receives definitions that were ignored because they could not be parsed.
type SkipFunc func(def model.TimeSlotDefinition, err error)

// Resolver holds the knobs shared by every resolution. The zero value uses 30 minute steps
// and drops malformed definitions silently.
type Resolver struct {
	StepMinutes int
	OnSkip      SkipFunc
}

type window struct {
	def   model.TimeSlotDefinition
	start int
	end   int
	days  map[time.Weekday]bool
}

func (w window) covers(offset int) bool {
	return offset >= w.start && offset < w.end
}

func compile(def model.TimeSlotDefinition) (window, error) {
	start, err := ParseClock(def.Start)
	if err != nil {
		return window{}, err
	}
	if start == minutesPerDay {
		return window{}, ErrMalformedTime
	}
	end, err := ParseClock(def.End)
	if err != nil {
		return window{}, err
	}
	if end <= start {
		end += minutesPerDay
	}

	days := map[time.Weekday]bool{}
	for _, name := range def.Days {
		if d, ok := ParseWeekday(name); ok {
			days[d] = true
		}
	}
	if len(days) == 0 {
		return window{}, ErrNoWeekdays
	}
	return window{def: def, start: start, end: end, days: days}, nil
}

func (r Resolver) step() int {
	if r.StepMinutes <= 0 {
		return DefaultStepMinutes
	}
	return r.StepMinutes
}

// windows compiles the definitions active on weekday, in configuration order.
func (r Resolver) windows(defs []model.TimeSlotDefinition, weekday time.Weekday) []window {
	out := make([]window, 0, len(defs))
	for _, def := range defs {
		w, err := compile(def)
		if err != nil {
			if r.OnSkip != nil {
				r.OnSkip(def, err)
			}
			continue
		}
		if w.days[weekday] {
			out = append(out, w)
		}
	}
	return out
}

// ExpandSlots generates every slot start for weekday, deduplicated by time (the earliest
// offset wins) and ordered by offset.
func (r Resolver) ExpandSlots(defs []model.TimeSlotDefinition, weekday time.Weekday) []Slot {
	step := r.step()
	seen := map[string]int{}
	for _, w := range r.windows(defs, weekday) {
		for m := w.start; m < w.end; m += step {
			t := FormatClock(m)
			if prev, ok := seen[t]; !ok || m < prev {
				seen[t] = m
			}
		}
	}

	out := make([]Slot, 0, len(seen))
	for t, off := range seen {
		out = append(out, Slot{Time: t, Offset: off})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}

// MatchDefinition finds the definition active on weekday whose window contains slotTime.
// Same-day coverage wins over the after-midnight part of an overnight window, matching the
// offset ExpandSlots keeps for a time both produce. Ties go to configuration order.
func (r Resolver) MatchDefinition(slotTime string, weekday time.Weekday, defs []model.TimeSlotDefinition) (model.TimeSlotDefinition, bool) {
	minute, err := ParseClock(slotTime)
	if err != nil || minute == minutesPerDay {
		return model.TimeSlotDefinition{}, false
	}
	active := r.windows(defs, weekday)
	for _, offset := range []int{minute, minute + minutesPerDay} {
		for _, w := range active {
			if w.covers(offset) {
				return w.def, true
			}
		}
	}
	return model.TimeSlotDefinition{}, false
}

// ResolveMaxPartySize returns the max party size of the definition matching slotTime on
// date's weekday, or FallbackMaxPartySize. The result is never below 1.
func (r Resolver) ResolveMaxPartySize(slotTime, date string, defs []model.TimeSlotDefinition) int {
	day, err := ParseDate(date)
	if err != nil {
		return FallbackMaxPartySize
	}
	def, ok := r.MatchDefinition(slotTime, day.Weekday(), defs)
	if !ok || def.MaxPartySize <= 0 {
		return FallbackMaxPartySize
	}
	return def.MaxPartySize
}

// FullyBooked marks candidates whose live count reached the capacity of their matching
// definition. Definitions without a positive capacity never fill up.
func (r Resolver) FullyBooked(candidates []string, weekday time.Weekday, defs []model.TimeSlotDefinition, counts map[string]int) Set {
	full := Set{}
	for _, t := range candidates {
		def, ok := r.MatchDefinition(t, weekday, defs)
		if !ok || def.Capacity <= 0 {
			continue
		}
		if counts[t] >= def.Capacity {
			full.Add(t)
		}
	}
	return full
}

// IsDateBookable is false for dates before today (the first open service day), dates no definition covers, and closed dates.
func (r Resolver) IsDateBookable(date string, defs []model.TimeSlotDefinition, closedDates Set, today string) bool {
	day, err := ParseDate(date)
	if err != nil {
		return false
	}
	now, err := ParseDate(today)
	if err != nil || day.Before(now) {
		return false
	}
	if closedDates.Has(date) {
		return false
	}
	return len(r.windows(defs, day.Weekday())) > 0
}

// FilterAvailable keeps candidate order and removes closed and fully booked slots.
func FilterAvailable(candidates []string, closed, fullyBooked Set) []string {
	out := make([]string, 0, len(candidates))
	for _, t := range candidates {
		if closed.Has(t) || fullyBooked.Has(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// DropPast removes slots that already started. On today's date that is every slot up to
// the current minute. Yesterday's service day keeps only its after-midnight slots that are
// still ahead. Older dates yield nothing.
func DropPast(slots []Slot, date string, loc *time.Location, now time.Time) []Slot {
	local := now.In(loc)
	today := local.Format(time.DateOnly)
	if date > today {
		return slots
	}
	elapsed := local.Hour()*60 + local.Minute()
	switch date {
	case today:
	case previousDate(today):
		elapsed += minutesPerDay
	default:
		return nil
	}
	out := make([]Slot, 0, len(slots))
	for _, s := range slots {
		if s.Offset > elapsed {
			out = append(out, s)
		}
	}
	return out
}

// FirstOpenDate is the earliest service day still taking bookings at now: yesterday while
// one of its overnight slots has not started, otherwise today.
func (r Resolver) FirstOpenDate(defs []model.TimeSlotDefinition, loc *time.Location, now time.Time) string {
	today := now.In(loc).Format(time.DateOnly)
	prev := previousDate(today)
	day, err := ParseDate(prev)
	if err != nil {
		return today
	}
	if len(DropPast(r.ExpandSlots(defs, day.Weekday()), prev, loc, now)) > 0 {
		return prev
	}
	return today
}

func previousDate(date string) string {
	day, err := ParseDate(date)
	if err != nil {
		return ""
	}
	return day.AddDate(0, 0, -1).Format(time.DateOnly)
}

// ExpandSlotsForDay is the string form of ExpandSlots for a weekday name. Unknown weekday
// names produce no slots.
func ExpandSlotsForDay(defs []model.TimeSlotDefinition, weekdayName string, stepMinutes int) []string {
	weekday, ok := ParseWeekday(weekdayName)
	if !ok {
		return nil
	}
	return Times(Resolver{StepMinutes: stepMinutes}.ExpandSlots(defs, weekday))
}

func ResolveMaxPartySize(slotTime, date string, defs []model.TimeSlotDefinition) int {
	return Resolver{}.ResolveMaxPartySize(slotTime, date, defs)
}

func IsDateBookable(date string, defs []model.TimeSlotDefinition, closedDates Set, today string) bool {
	return Resolver{}.IsDateBookable(date, defs, closedDates, today)
}

func Times(slots []Slot) []string {
	out := make([]string, len(slots))
	for i, s := range slots {
		out[i] = s.Time
	}
	return out
}

// Validate reports why a definition would be skipped during resolution.
func Validate(def model.TimeSlotDefinition) error {
	if def.Capacity < 0 || def.MaxPartySize < 0 {
		return fmt.Errorf("capacity and max_party_size must not be negative")
	}
	_, err := compile(def)
	return err
}
