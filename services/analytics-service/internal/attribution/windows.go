package attribution

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fomo-app/fomo/services/analytics-service/internal/model"
)

var (
	ErrMalformedPeriod = errors.New("malformed period")
	// ErrNoWindow marks a record that is well formed but never boosts anything in the range.
	ErrNoWindow = errors.New("record has no window in range")
)

// Range is the caller's query range. Both ends are inclusive; a zero value leaves that side open.
type Range struct {
	From time.Time
	To   time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05Z07",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTimestamp accepts RFC 3339, Postgres text timestamps and bare dates. Values without a zone are UTC.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unparsable timestamp %q", ErrMalformedPeriod, raw)
}

// BoostWindow derives the boosted window of a boost record. The end is taken from the
// deactivation time, then the configured end date, then start plus duration; otherwise it is open.
func BoostWindow(rec model.BoostRecord, rng Range) (Interval, error) {
	switch model.ParseBoostStatus(rec.Status) {
	case model.BoostPending:
		return Interval{}, ErrNoWindow
	case model.BoostUnknown:
		return Interval{}, fmt.Errorf("%w: unknown boost status %q", ErrMalformedPeriod, rec.Status)
	}

	startRaw := rec.StartDate
	if strings.TrimSpace(startRaw) == "" {
		startRaw = rec.CreatedAt
	}
	start, err := ParseTimestamp(startRaw)
	if err != nil {
		return Interval{}, err
	}

	iv := Interval{Start: start, EndInclusive: true}
	switch {
	case strings.TrimSpace(rec.DeactivatedAt) != "":
		end, err := ParseTimestamp(rec.DeactivatedAt)
		if err != nil {
			return Interval{}, err
		}
		iv.End, iv.EndInclusive = end, false
	case strings.TrimSpace(rec.EndDate) != "":
		end, err := ParseTimestamp(rec.EndDate)
		if err != nil {
			return Interval{}, err
		}
		iv.End, iv.EndInclusive = end, false
	case rec.DurationHours > 0:
		iv.End, iv.EndInclusive = start.Add(time.Duration(rec.DurationHours)*time.Hour), false
	}
	return clamp(iv, rng)
}

// PlanWindow derives the window during which a paid plan was in effect. Free plans have none.
func PlanWindow(rec model.PlanRecord, rng Range) (Interval, error) {
	tier := model.ParsePlanTier(rec.Plan)
	if tier == model.PlanUnknown {
		return Interval{}, fmt.Errorf("%w: unknown plan %q", ErrMalformedPeriod, rec.Plan)
	}
	if !tier.Paid() {
		return Interval{}, ErrNoWindow
	}
	start, err := ParseTimestamp(rec.ValidFrom)
	if err != nil {
		return Interval{}, err
	}
	iv := Interval{Start: start, EndInclusive: true}
	if strings.TrimSpace(rec.ValidTo) != "" {
		end, err := ParseTimestamp(rec.ValidTo)
		if err != nil {
			return Interval{}, err
		}
		iv.End, iv.EndInclusive = end, false
	}
	return clamp(iv, rng)
}

func clamp(iv Interval, rng Range) (Interval, error) {
	if !rng.From.IsZero() && iv.Start.Before(rng.From) {
		iv.Start = rng.From
	}
	if !rng.To.IsZero() && (iv.End.IsZero() || iv.End.After(rng.To)) {
		iv.End, iv.EndInclusive = rng.To, true
	}
	if iv.empty() {
		return Interval{}, ErrNoWindow
	}
	return iv, nil
}

// SkipFunc observes records dropped because they could not be parsed.
type SkipFunc func(id string, err error)

func BoostPeriods(recs []model.BoostRecord, rng Range, onSkip SkipFunc) []Period {
	out := make([]Period, 0, len(recs))
	for _, rec := range recs {
		iv, err := BoostWindow(rec, rng)
		if err != nil {
			if onSkip != nil && errors.Is(err, ErrMalformedPeriod) {
				onSkip(rec.ID, err)
			}
			continue
		}
		out = append(out, Period{EntityID: rec.EntityID, Window: iv})
	}
	return out
}

// PlanPeriods keys every window by the business id, which is the id of its profile entity.
func PlanPeriods(recs []model.PlanRecord, rng Range, onSkip SkipFunc) []Period {
	out := make([]Period, 0, len(recs))
	for _, rec := range recs {
		iv, err := PlanWindow(rec, rng)
		if err != nil {
			if onSkip != nil && errors.Is(err, ErrMalformedPeriod) {
				onSkip(rec.ID, err)
			}
			continue
		}
		out = append(out, Period{EntityID: rec.BusinessID, Window: iv})
	}
	return out
}
