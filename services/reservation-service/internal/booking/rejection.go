package booking

import (
	"errors"
	"fmt"
)

type RejectionCode string

const (
	CodePartyTooLarge        RejectionCode = "PARTY_TOO_LARGE"
	CodeInvalidPartySize     RejectionCode = "INVALID_PARTY_SIZE"
	CodeSlotFull             RejectionCode = "SLOT_FULL"
	CodeSlotClosed           RejectionCode = "SLOT_CLOSED"
	CodeSlotUnavailable      RejectionCode = "SLOT_UNAVAILABLE"
	CodeDateClosed           RejectionCode = "DATE_CLOSED"
	CodeDateInPast           RejectionCode = "DATE_IN_PAST"
	CodeReservationsDisabled RejectionCode = "RESERVATIONS_DISABLED"
)

// Rejection is a booking refusal the customer can act on. MaxAllowed is set for
// PARTY_TOO_LARGE.
type Rejection struct {
	Code       RejectionCode
	MaxAllowed int
	Message    string
}

func (r *Rejection) Error() string {
	if r.Code == CodePartyTooLarge {
		return fmt.Sprintf("%s: max %d", r.Code, r.MaxAllowed)
	}
	return string(r.Code) + ": " + r.Message
}

func Reject(code RejectionCode, msg string) *Rejection {
	return &Rejection{Code: code, Message: msg}
}

func PartyTooLarge(limit int) *Rejection {
	return &Rejection{
		Code:       CodePartyTooLarge,
		MaxAllowed: limit,
		Message:    fmt.Sprintf("party size exceeds the maximum of %d for this slot", limit),
	}
}

// AsRejection unwraps err into a Rejection when it is one.
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}
