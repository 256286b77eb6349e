package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fomo-app/fomo/libs/httpx"
	"github.com/fomo-app/fomo/services/reservation-service/internal/booking"
	"github.com/fomo-app/fomo/services/reservation-service/internal/model"
	"github.com/fomo-app/fomo/services/reservation-service/internal/storage"
)

// OwnerStore is the persistence the owner endpoints need.
type OwnerStore interface {
	ListByBusiness(ctx context.Context, businessID, date string, limit int) ([]model.Reservation, error)
	Cancel(ctx context.Context, businessID, id string) (model.Reservation, error)
	CheckIn(ctx context.Context, businessID, id string) (model.Reservation, error)
	Respond(ctx context.Context, businessID, id string, accept bool) (model.Reservation, error)
	ReplaceSlotDefinitions(ctx context.Context, businessID string, defs []model.TimeSlotDefinition) error
	UpsertPolicy(ctx context.Context, businessID string, p model.ReservationPolicy) error
	SetClosedSlot(ctx context.Context, businessID string, cs model.ClosedSlot, closed bool) error
	SetClosedDate(ctx context.Context, businessID string, cd model.ClosedDate, closed bool) error
}

type Invalidator interface {
	Invalidate(businessID string)
}

type ReservationHandler struct {
	svc    *booking.Service
	store  OwnerStore
	cache  Invalidator
	logger *slog.Logger
}

func NewReservationHandler(svc *booking.Service, store OwnerStore, cache Invalidator, logger *slog.Logger) *ReservationHandler {
	return &ReservationHandler{svc: svc, store: store, cache: cache, logger: logger}
}

type reserveRequest struct {
	BusinessID   string `json:"business_id"`
	EventID      string `json:"event_id"`
	Date         string `json:"date"`
	Time         string `json:"time"`
	PartySize    int    `json:"party_size"`
	ContactName  string `json:"contact_name"`
	ContactEmail string `json:"contact_email"`
	ContactPhone string `json:"contact_phone"`
	Notes        string `json:"notes"`
}

type reservationItem struct {
	ReservationID string `json:"reservation_id"`
	BusinessID    string `json:"business_id"`
	EventID       string `json:"event_id,omitempty"`
	Date          string `json:"date"`
	Time          string `json:"time"`
	PartySize     int    `json:"party_size"`
	ContactName   string `json:"contact_name"`
	ContactEmail  string `json:"contact_email,omitempty"`
	ContactPhone  string `json:"contact_phone,omitempty"`
	Notes         string `json:"notes,omitempty"`
	Status        string `json:"status"`
	CheckedInAt   string `json:"checked_in_at,omitempty"`
	CancelledAt   string `json:"cancelled_at,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func toItem(res model.Reservation) reservationItem {
	item := reservationItem{
		ReservationID: res.ID,
		BusinessID:    res.BusinessID,
		EventID:       res.EventID,
		Date:          res.Date,
		Time:          res.SlotTime,
		PartySize:     res.PartySize,
		ContactName:   res.ContactName,
		ContactEmail:  res.ContactEmail,
		ContactPhone:  res.ContactPhone,
		Notes:         res.Notes,
		Status:        string(res.Status),
		CreatedAt:     res.CreatedAt.UTC().Format(time.RFC3339),
	}
	if res.CheckedInAt != nil {
		item.CheckedInAt = res.CheckedInAt.UTC().Format(time.RFC3339)
	}
	if res.CancelledAt != nil {
		item.CancelledAt = res.CancelledAt.UTC().Format(time.RFC3339)
	}
	return item
}

func (h *ReservationHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	businessID := strings.TrimSpace(r.URL.Query().Get("business_id"))
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if businessID == "" || date == "" {
		http.Error(w, "business_id and date are required", http.StatusBadRequest)
		return
	}

	available, err := h.svc.Availability(r.Context(), businessID, date)
	if err != nil {
		h.writeServiceError(w, err, "failed to load slots")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"date": date, "slots": available})
}

func (h *ReservationHandler) Dates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	businessID := strings.TrimSpace(q.Get("business_id"))
	if businessID == "" {
		http.Error(w, "business_id is required", http.StatusBadRequest)
		return
	}
	days := 0
	if raw := strings.TrimSpace(q.Get("days")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "days must be a positive integer", http.StatusBadRequest)
			return
		}
		days = n
	}

	dates, err := h.svc.BookableDates(r.Context(), businessID, q.Get("from"), days)
	if err != nil {
		h.writeServiceError(w, err, "failed to load dates")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"dates": dates})
}

// Reserve books a slot. Clients may send Idempotency-Key to make retries safe; a replayed
// request answers with the original reservation.
func (h *ReservationHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req reserveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if len(key) > 200 {
		http.Error(w, "Idempotency-Key too long", http.StatusBadRequest)
		return
	}

	res, replayed, err := h.svc.Book(r.Context(), booking.Request{
		BusinessID:     req.BusinessID,
		EventID:        strings.TrimSpace(req.EventID),
		Date:           req.Date,
		Time:           req.Time,
		PartySize:      req.PartySize,
		ContactName:    req.ContactName,
		ContactEmail:   req.ContactEmail,
		ContactPhone:   req.ContactPhone,
		Notes:          req.Notes,
		IdempotencyKey: key,
	})
	if err != nil {
		h.writeServiceError(w, err, "failed to create reservation")
		return
	}
	if replayed {
		w.Header().Set("Idempotent-Replayed", "true")
	} else {
		h.logger.Info("reservation created", "reservation_id", res.ID, "business_id", res.BusinessID, "date", res.Date, "time", res.SlotTime)
	}
	httpx.WriteJSON(w, http.StatusCreated, toItem(res))
}

func (h *ReservationHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	businessID := strings.TrimSpace(r.Header.Get(httpx.HeaderBusinessID))
	if businessID == "" {
		http.Error(w, "business_id required", http.StatusBadRequest)
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	list, err := h.store.ListByBusiness(r.Context(), businessID, strings.TrimSpace(r.URL.Query().Get("date")), limit)
	if err != nil {
		h.logger.Error("list reservations failed", "err", err, "business_id", businessID)
		http.Error(w, "failed to list reservations", http.StatusInternalServerError)
		return
	}
	items := make([]reservationItem, 0, len(list))
	for _, res := range list {
		items = append(items, toItem(res))
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}

type reservationAction struct {
	ReservationID string `json:"reservation_id"`
	Accept        *bool  `json:"accept,omitempty"`
}

func (h *ReservationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, func(ctx context.Context, businessID string, a reservationAction) (model.Reservation, error) {
		return h.store.Cancel(ctx, businessID, a.ReservationID)
	})
}

func (h *ReservationHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, func(ctx context.Context, businessID string, a reservationAction) (model.Reservation, error) {
		return h.store.CheckIn(ctx, businessID, a.ReservationID)
	})
}

func (h *ReservationHandler) Respond(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, func(ctx context.Context, businessID string, a reservationAction) (model.Reservation, error) {
		if a.Accept == nil {
			return model.Reservation{}, errMissingAccept
		}
		return h.store.Respond(ctx, businessID, a.ReservationID, *a.Accept)
	})
}

var errMissingAccept = errors.New("accept is required")

func (h *ReservationHandler) act(w http.ResponseWriter, r *http.Request, do func(context.Context, string, reservationAction) (model.Reservation, error)) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	businessID := strings.TrimSpace(r.Header.Get(httpx.HeaderBusinessID))
	var a reservationAction
	if err := httpx.DecodeJSON(r, &a); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	a.ReservationID = strings.TrimSpace(a.ReservationID)
	if businessID == "" || a.ReservationID == "" {
		http.Error(w, "business_id and reservation_id required", http.StatusBadRequest)
		return
	}

	res, err := do(r.Context(), businessID, a)
	switch {
	case err == nil:
		httpx.WriteJSON(w, http.StatusOK, toItem(res))
	case errors.Is(err, errMissingAccept):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case storage.IsNotFound(err):
		http.Error(w, "reservation not found", http.StatusNotFound)
	case errors.Is(err, storage.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error("reservation update failed", "err", err, "reservation_id", a.ReservationID)
		http.Error(w, "failed to update reservation", http.StatusInternalServerError)
	}
}

func (h *ReservationHandler) writeServiceError(w http.ResponseWriter, err error, generic string) {
	if rej, ok := booking.AsRejection(err); ok {
		httpx.WriteJSON(w, rejectionStatus(rej.Code), httpx.ErrorBody{
			Code:       string(rej.Code),
			Message:    rej.Message,
			MaxAllowed: rej.MaxAllowed,
		})
		return
	}
	if errors.Is(err, booking.ErrInvalidRequest) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if storage.IsConflict(err) {
		http.Error(w, "conflicting request, retry", http.StatusConflict)
		return
	}
	h.logger.Error(generic, "err", err)
	http.Error(w, generic, http.StatusInternalServerError)
}

// Capacity and closure conflicts are 409 so clients can refresh availability; the rest
// are request problems the customer has to change.
func rejectionStatus(code booking.RejectionCode) int {
	switch code {
	case booking.CodeSlotFull, booking.CodeSlotClosed, booking.CodeDateClosed:
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}
