package model

import (
	"fmt"
	"strings"
	"time"
)

type EntityKind string

const (
	EntityProfile EntityKind = "profile"
	EntityOffer   EntityKind = "offer"
	EntityEvent   EntityKind = "event"
)

var EntityKinds = []EntityKind{EntityProfile, EntityOffer, EntityEvent}

func ParseEntityKind(raw string) (EntityKind, error) {
	switch k := EntityKind(strings.ToLower(strings.TrimSpace(raw))); k {
	case EntityProfile, EntityOffer, EntityEvent:
		return k, nil
	}
	return "", fmt.Errorf("unknown entity kind %q", raw)
}

type MetricKind string

const (
	MetricViews        MetricKind = "views"
	MetricInteractions MetricKind = "interactions"
	MetricVisits       MetricKind = "visits"
)

// EngagementKind is the type of a recorded engagement signal.
type EngagementKind string

const (
	KindView        EngagementKind = "view"
	KindInteraction EngagementKind = "interaction"
	KindRSVP        EngagementKind = "rsvp"
	KindRedemption  EngagementKind = "redemption"
	KindTicket      EngagementKind = "ticket"
	KindReservation EngagementKind = "reservation"
	KindCheckIn     EngagementKind = "check_in"
)

func ParseEngagementKind(raw string) (EngagementKind, error) {
	switch k := EngagementKind(strings.ToLower(strings.TrimSpace(raw))); k {
	case KindView, KindInteraction, KindRSVP, KindRedemption, KindTicket, KindReservation, KindCheckIn:
		return k, nil
	}
	return "", fmt.Errorf("unknown engagement kind %q", raw)
}

// Trackable reports whether the kind may be recorded through the public tracking endpoint.
// Reservations only arrive from the reservation event stream, and check-ins from that stream
// or the owner check-in route.
func (k EngagementKind) Trackable() bool {
	return k != KindReservation && k != KindCheckIn && k != ""
}

// EngagementEvent is one attributable signal for an entity.
type EngagementEvent struct {
	ID         string
	EntityKind EntityKind
	EntityID   string
	OccurredAt time.Time
}

type BoostStatus string

const (
	BoostPending   BoostStatus = "pending"
	BoostScheduled BoostStatus = "scheduled"
	BoostActive    BoostStatus = "active"
	BoostCompleted BoostStatus = "completed"
	BoostCanceled  BoostStatus = "canceled"
	BoostUnknown   BoostStatus = "unknown"
)

// ParseBoostStatus never fails; unrecognized values become BoostUnknown so callers can drop them.
func ParseBoostStatus(raw string) BoostStatus {
	switch s := BoostStatus(strings.ToLower(strings.TrimSpace(raw))); s {
	case BoostPending, BoostScheduled, BoostActive, BoostCompleted, BoostCanceled:
		return s
	case "cancelled":
		return BoostCanceled
	}
	return BoostUnknown
}

type PlanTier string

const (
	PlanFree    PlanTier = "free"
	PlanBasic   PlanTier = "basic"
	PlanPro     PlanTier = "pro"
	PlanElite   PlanTier = "elite"
	PlanUnknown PlanTier = "unknown"
)

func ParsePlanTier(raw string) PlanTier {
	switch p := PlanTier(strings.ToLower(strings.TrimSpace(raw))); p {
	case PlanFree, PlanBasic, PlanPro, PlanElite:
		return p
	}
	return PlanUnknown
}

// Paid reports whether the tier counts as a boosted profile window.
func (p PlanTier) Paid() bool {
	return p == PlanBasic || p == PlanPro || p == PlanElite
}

// BoostRecord is a boost row as stored, with timestamps kept as raw text.
type BoostRecord struct {
	ID            string
	BusinessID    string
	EntityKind    EntityKind
	EntityID      string
	Status        string
	StartDate     string
	EndDate       string
	CreatedAt     string
	DurationHours int
	DeactivatedAt string
}

// PlanRecord is one plan-history row. An empty ValidTo means the plan is still current.
type PlanRecord struct {
	ID         string
	BusinessID string
	Plan       string
	ValidFrom  string
	ValidTo    string
}
