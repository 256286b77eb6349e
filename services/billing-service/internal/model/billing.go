package model

import (
	"fmt"
	"strings"
	"time"
)

type Plan string

const (
	PlanFree  Plan = "free"
	PlanBasic Plan = "basic"
	PlanPro   Plan = "pro"
	PlanElite Plan = "elite"
)

func ParsePlan(raw string) (Plan, error) {
	switch p := Plan(strings.ToLower(strings.TrimSpace(raw))); p {
	case PlanFree, PlanBasic, PlanPro, PlanElite:
		return p, nil
	}
	return "", fmt.Errorf("unknown plan %q", raw)
}

// PlanPeriod is one plan-history row. A nil ValidTo marks the current plan.
type PlanPeriod struct {
	ID         string
	BusinessID string
	Plan       Plan
	ValidFrom  time.Time
	ValidTo    *time.Time
}

type EntityType string

const (
	EntityProfile EntityType = "profile"
	EntityOffer   EntityType = "offer"
	EntityEvent   EntityType = "event"
)

func ParseEntityType(raw string) (EntityType, error) {
	switch e := EntityType(strings.ToLower(strings.TrimSpace(raw))); e {
	case EntityProfile, EntityOffer, EntityEvent:
		return e, nil
	}
	return "", fmt.Errorf("unknown entity type %q", raw)
}

type BoostStatus string

const (
	BoostPending   BoostStatus = "pending"
	BoostScheduled BoostStatus = "scheduled"
	BoostActive    BoostStatus = "active"
	BoostCompleted BoostStatus = "completed"
	BoostCanceled  BoostStatus = "canceled"
)

// Live reports whether the boost may still be deactivated.
func (s BoostStatus) Live() bool {
	return s == BoostPending || s == BoostScheduled || s == BoostActive
}

type Boost struct {
	ID              string
	BusinessID      string
	EntityType      EntityType
	EntityID        string
	Status          BoostStatus
	StartDate       time.Time
	EndDate         *time.Time
	DurationHours   int
	CreatedAt       time.Time
	DeactivatedAt   *time.Time
	StripeSessionID string
}

// PlannedEnd is the configured end, or start plus duration when no end is set.
func (b Boost) PlannedEnd() time.Time {
	if b.EndDate != nil {
		return *b.EndDate
	}
	return b.StartDate.Add(time.Duration(b.DurationHours) * time.Hour)
}

// StatusAt derives the lifecycle status of a live boost at now.
func (b Boost) StatusAt(now time.Time) BoostStatus {
	if !b.Status.Live() || b.Status == BoostPending {
		return b.Status
	}
	switch {
	case now.Before(b.StartDate):
		return BoostScheduled
	case now.Before(b.PlannedEnd()):
		return BoostActive
	default:
		return BoostCompleted
	}
}
