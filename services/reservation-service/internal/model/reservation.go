package model

import (
	"fmt"
	"strings"
	"time"
)

// TimeSlotDefinition is a recurring weekly reservation window. Start and End are
// "HH:MM" or "HH:MM:SS"; End at or before Start wraps past midnight.
type TimeSlotDefinition struct {
	ID           string   `json:"id,omitempty" yaml:"id"`
	Start        string   `json:"start" yaml:"start"`
	End          string   `json:"end" yaml:"end"`
	Capacity     int      `json:"capacity" yaml:"capacity"`
	MaxPartySize int      `json:"max_party_size" yaml:"max_party_size"`
	Days         []string `json:"days" yaml:"days"`
}

type ClosedSlot struct {
	Date string `json:"date" yaml:"date"`
	Time string `json:"time" yaml:"time"`
}

type ClosedDate struct {
	Date   string `json:"date" yaml:"date"`
	Reason string `json:"reason,omitempty" yaml:"reason"`
}

type ReservationPolicy struct {
	AcceptsDirectReservations bool   `json:"accepts_direct_reservations" yaml:"accepts_direct_reservations"`
	RequiresApproval          bool   `json:"requires_approval" yaml:"requires_approval"`
	Timezone                  string `json:"timezone,omitempty" yaml:"timezone"`
}

// BusinessConfig is one snapshot of everything the resolver needs for a business.
type BusinessConfig struct {
	BusinessID  string               `json:"business_id" yaml:"business_id"`
	Definitions []TimeSlotDefinition `json:"definitions" yaml:"definitions"`
	ClosedSlots []ClosedSlot         `json:"closed_slots" yaml:"closed_slots"`
	ClosedDates []ClosedDate         `json:"closed_dates" yaml:"closed_dates"`
	Policy      ReservationPolicy    `json:"policy" yaml:"policy"`
}

// ClosedSlotTimes returns the closed slot times for one date.
func (c BusinessConfig) ClosedSlotTimes(date string) []string {
	var out []string
	for _, cs := range c.ClosedSlots {
		if cs.Date == date {
			out = append(out, cs.Time)
		}
	}
	return out
}

func (c BusinessConfig) ClosedDateList() []string {
	out := make([]string, 0, len(c.ClosedDates))
	for _, cd := range c.ClosedDates {
		out = append(out, cd.Date)
	}
	return out
}

// Location resolves the policy timezone, falling back when it is empty or unknown.
func (c BusinessConfig) Location(fallback *time.Location) *time.Location {
	if tz := strings.TrimSpace(c.Policy.Timezone); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	if fallback == nil {
		return time.UTC
	}
	return fallback
}

type ReservationStatus string

const (
	StatusPending   ReservationStatus = "pending"
	StatusAccepted  ReservationStatus = "accepted"
	StatusDeclined  ReservationStatus = "declined"
	StatusCancelled ReservationStatus = "cancelled"
	StatusCompleted ReservationStatus = "completed"
	StatusNoShow    ReservationStatus = "no_show"
)

func ParseReservationStatus(raw string) (ReservationStatus, error) {
	switch s := ReservationStatus(strings.ToLower(strings.TrimSpace(raw))); s {
	case StatusPending, StatusAccepted, StatusDeclined, StatusCancelled, StatusCompleted, StatusNoShow:
		return s, nil
	default:
		return "", fmt.Errorf("unknown reservation status %q", raw)
	}
}

// Occupies reports whether a reservation in this status takes up slot capacity.
func (s ReservationStatus) Occupies() bool {
	return s == StatusPending || s == StatusAccepted
}

type Reservation struct {
	ID           string
	BusinessID   string
	EventID      string
	Date         string
	SlotTime     string
	PartySize    int
	ContactName  string
	ContactEmail string
	ContactPhone string
	Notes        string
	Status       ReservationStatus
	CheckedInAt  *time.Time
	CancelledAt  *time.Time
	CreatedAt    time.Time
}
