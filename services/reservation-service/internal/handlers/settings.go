package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/fomo-app/fomo/libs/httpx"
	"github.com/fomo-app/fomo/services/reservation-service/internal/model"
	"github.com/fomo-app/fomo/services/reservation-service/internal/slots"
)

type slotDefinitionsRequest struct {
	Definitions []model.TimeSlotDefinition `json:"definitions"`
}

type closedSlotRequest struct {
	Date   string `json:"date"`
	Time   string `json:"time"`
	Closed bool   `json:"closed"`
}

type closedDateRequest struct {
	Date   string `json:"date"`
	Reason string `json:"reason"`
	Closed bool   `json:"closed"`
}

// ReplaceSlots swaps the business's definition set. Unlike resolution, which skips bad
// definitions, an edit containing one is refused so the owner can fix it.
func (h *ReservationHandler) ReplaceSlots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	businessID := strings.TrimSpace(r.Header.Get(httpx.HeaderBusinessID))
	var req slotDefinitionsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || businessID == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	for i, def := range req.Definitions {
		if err := slots.Validate(def); err != nil {
			http.Error(w, fmt.Sprintf("definition %d: %v", i, err), http.StatusBadRequest)
			return
		}
	}

	if err := h.store.ReplaceSlotDefinitions(r.Context(), businessID, req.Definitions); err != nil {
		h.logger.Error("replace slot definitions failed", "err", err, "business_id", businessID)
		http.Error(w, "failed to save slot definitions", http.StatusInternalServerError)
		return
	}
	h.cache.Invalidate(businessID)
	httpx.WriteJSON(w, http.StatusOK, map[string]int{"definitions": len(req.Definitions)})
}

func (h *ReservationHandler) Policy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	businessID := strings.TrimSpace(r.Header.Get(httpx.HeaderBusinessID))
	var p model.ReservationPolicy
	if err := httpx.DecodeJSON(r, &p); err != nil || businessID == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if tz := strings.TrimSpace(p.Timezone); tz != "" {
		if loc := (model.BusinessConfig{Policy: p}).Location(nil); loc.String() != tz {
			http.Error(w, "unknown timezone", http.StatusBadRequest)
			return
		}
	}

	if err := h.store.UpsertPolicy(r.Context(), businessID, p); err != nil {
		h.logger.Error("upsert reservation policy failed", "err", err, "business_id", businessID)
		http.Error(w, "failed to save policy", http.StatusInternalServerError)
		return
	}
	h.cache.Invalidate(businessID)
	httpx.WriteJSON(w, http.StatusOK, p)
}

func (h *ReservationHandler) ClosedSlots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	businessID := strings.TrimSpace(r.Header.Get(httpx.HeaderBusinessID))
	var req closedSlotRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || businessID == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if _, err := slots.ParseDate(req.Date); err != nil {
		http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	t, err := slots.NormalizeClock(req.Time)
	if err != nil {
		http.Error(w, "time must be HH:MM", http.StatusBadRequest)
		return
	}

	if err := h.store.SetClosedSlot(r.Context(), businessID, model.ClosedSlot{Date: req.Date, Time: t}, req.Closed); err != nil {
		h.logger.Error("set closed slot failed", "err", err, "business_id", businessID)
		http.Error(w, "failed to save closed slot", http.StatusInternalServerError)
		return
	}
	h.cache.Invalidate(businessID)
	httpx.WriteJSON(w, http.StatusOK, closedSlotRequest{Date: req.Date, Time: t, Closed: req.Closed})
}

func (h *ReservationHandler) ClosedDates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	businessID := strings.TrimSpace(r.Header.Get(httpx.HeaderBusinessID))
	var req closedDateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || businessID == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if _, err := slots.ParseDate(req.Date); err != nil {
		http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	cd := model.ClosedDate{Date: req.Date, Reason: strings.TrimSpace(req.Reason)}
	if err := h.store.SetClosedDate(r.Context(), businessID, cd, req.Closed); err != nil {
		h.logger.Error("set closed date failed", "err", err, "business_id", businessID)
		http.Error(w, "failed to save closed date", http.StatusInternalServerError)
		return
	}
	h.cache.Invalidate(businessID)
	httpx.WriteJSON(w, http.StatusOK, req)
}
