package storage

import (
	"time"

	"github.com/fomo-app/fomo/services/reservation-service/internal/model"
)

const (
	TopicReservationCreated   = "reservation.created.v1"
	TopicReservationCancelled = "reservation.cancelled.v1"
	TopicReservationCheckedIn = "reservation.checked_in.v1"
)

// ReservationEvent is the payload of every reservation.* topic. EventID is empty for
// direct reservations with the business itself.
type ReservationEvent struct {
	ReservationID string `json:"reservation_id"`
	BusinessID    string `json:"business_id"`
	EventID       string `json:"event_id,omitempty"`
	Date          string `json:"date"`
	SlotTime      string `json:"slot_time"`
	PartySize     int    `json:"party_size"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at"`
	CheckedInAt   string `json:"checked_in_at,omitempty"`
	CancelledAt   string `json:"cancelled_at,omitempty"`
}

func NewReservationEvent(res model.Reservation) ReservationEvent {
	return ReservationEvent{
		ReservationID: res.ID,
		BusinessID:    res.BusinessID,
		EventID:       res.EventID,
		Date:          res.Date,
		SlotTime:      res.SlotTime,
		PartySize:     res.PartySize,
		Status:        string(res.Status),
		CreatedAt:     res.CreatedAt.UTC().Format(time.RFC3339Nano),
		CheckedInAt:   timePtrString(res.CheckedInAt),
		CancelledAt:   timePtrString(res.CancelledAt),
	}
}
