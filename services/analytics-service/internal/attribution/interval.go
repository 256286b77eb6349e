package attribution

import (
	"math"
	"time"

	"github.com/fomo-app/fomo/services/analytics-service/internal/model"
)

// Interval is a time window with an explicit end policy. A zero End means the window is unbounded.
type Interval struct {
	Start        time.Time
	End          time.Time
	EndInclusive bool
}

func (iv Interval) Contains(ts time.Time) bool {
	if ts.Before(iv.Start) {
		return false
	}
	if iv.End.IsZero() {
		return true
	}
	if iv.EndInclusive {
		return !ts.After(iv.End)
	}
	return ts.Before(iv.End)
}

func (iv Interval) empty() bool {
	if iv.End.IsZero() {
		return false
	}
	if iv.EndInclusive {
		return iv.End.Before(iv.Start)
	}
	return !iv.End.After(iv.Start)
}

func IsTimestampWithinWindow(ts time.Time, window Interval) bool {
	return window.Contains(ts)
}

// Period is a boosted window for a single entity.
type Period struct {
	EntityID string
	Window   Interval
}

func IsWithinAnyPeriod(ts time.Time, entityID string, periods []Period) bool {
	for _, p := range periods {
		if p.EntityID == entityID && p.Window.Contains(ts) {
			return true
		}
	}
	return false
}

type Counts struct {
	WithinPeriod  int `json:"within_period"`
	OutsidePeriod int `json:"outside_period"`
}

func (c Counts) Total() int { return c.WithinPeriod + c.OutsidePeriod }

func groupByEntity(periods []Period) map[string][]Period {
	out := make(map[string][]Period)
	for _, p := range periods {
		out[p.EntityID] = append(out[p.EntityID], p)
	}
	return out
}

// AttributeEvents counts every event exactly once, as within when any of its entity's periods contains it.
func AttributeEvents(events []model.EngagementEvent, periods []Period) Counts {
	byEntity := groupByEntity(periods)
	var c Counts
	for _, e := range events {
		if IsWithinAnyPeriod(e.OccurredAt, e.EntityID, byEntity[e.EntityID]) {
			c.WithinPeriod++
		} else {
			c.OutsidePeriod++
		}
	}
	return c
}

// AttributeByEntity is AttributeEvents split per entity id.
func AttributeByEntity(events []model.EngagementEvent, periods []Period) map[string]Counts {
	byEntity := groupByEntity(periods)
	out := make(map[string]Counts)
	for _, e := range events {
		c := out[e.EntityID]
		if IsWithinAnyPeriod(e.OccurredAt, e.EntityID, byEntity[e.EntityID]) {
			c.WithinPeriod++
		} else {
			c.OutsidePeriod++
		}
		out[e.EntityID] = c
	}
	return out
}

// ComputeChangePercent returns the signed change from before to after, rounded half up.
func ComputeChangePercent(before, after int) int {
	if before == 0 {
		if after > 0 {
			return 100
		}
		return 0
	}
	pct := float64(after-before) / float64(before) * 100
	return int(math.Floor(pct + 0.5))
}
