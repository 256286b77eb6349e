package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fomo-app/fomo/libs/httpx"
	"github.com/fomo-app/fomo/services/analytics-service/internal/attribution"
	"github.com/fomo-app/fomo/services/analytics-service/internal/boostvalue"
	"github.com/fomo-app/fomo/services/analytics-service/internal/model"
	"github.com/fomo-app/fomo/services/analytics-service/internal/storage"
	"github.com/google/uuid"
)

type Reporter interface {
	Report(ctx context.Context, businessID string, rng attribution.Range) (boostvalue.Report, error)
}

type Recorder interface {
	RecordEngagement(ctx context.Context, e storage.Engagement) error
}

type AnalyticsHandler struct {
	reports  Reporter
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

func NewAnalyticsHandler(reports Reporter, recorder Recorder, logger *slog.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{reports: reports, recorder: recorder, logger: logger, now: time.Now}
}

// BoostValue serves the before/after comparison for the caller's business.
func (h *AnalyticsHandler) BoostValue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	businessID := strings.TrimSpace(r.Header.Get(httpx.HeaderBusinessID))
	if businessID == "" {
		http.Error(w, "business_id required", http.StatusBadRequest)
		return
	}

	var rng attribution.Range
	for _, p := range []struct {
		key string
		dst *time.Time
		end bool
	}{{"from", &rng.From, false}, {"to", &rng.To, true}} {
		raw := strings.TrimSpace(r.URL.Query().Get(p.key))
		if raw == "" {
			continue
		}
		t, err := attribution.ParseTimestamp(raw)
		if err != nil {
			http.Error(w, "invalid "+p.key, http.StatusBadRequest)
			return
		}
		// A bare date as the upper bound covers that whole day.
		if p.end && len(raw) == len("2006-01-02") {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		*p.dst = t
	}
	if !rng.From.IsZero() && !rng.To.IsZero() && rng.To.Before(rng.From) {
		http.Error(w, "to must not be before from", http.StatusBadRequest)
		return
	}

	report, err := h.reports.Report(r.Context(), businessID, rng)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		h.logger.Error("boost value report failed", "business_id", businessID, "err", err)
		http.Error(w, "failed to compute analytics", http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, report)
}

type trackRequest struct {
	BusinessID string `json:"business_id"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Kind       string `json:"kind"`
	SubjectID  string `json:"subject_id"`
	OccurredAt string `json:"occurred_at"`
}

// Track records a single engagement signal from the web app.
func (h *AnalyticsHandler) Track(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req trackRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if _, err := uuid.Parse(req.BusinessID); err != nil {
		http.Error(w, "invalid business_id", http.StatusBadRequest)
		return
	}
	entityKind, err := model.ParseEntityKind(req.EntityType)
	if err != nil {
		http.Error(w, "invalid entity_type", http.StatusBadRequest)
		return
	}
	kind, err := model.ParseEngagementKind(req.Kind)
	if err != nil || !kind.Trackable() {
		http.Error(w, "invalid kind", http.StatusBadRequest)
		return
	}
	entityID := strings.TrimSpace(req.EntityID)
	if entityKind == model.EntityProfile && entityID == "" {
		entityID = req.BusinessID
	}
	if entityID == "" {
		http.Error(w, "entity_id required", http.StatusBadRequest)
		return
	}
	subjectID := strings.TrimSpace(req.SubjectID)
	if kind == model.KindTicket && subjectID == "" {
		http.Error(w, "subject_id required for "+string(kind), http.StatusBadRequest)
		return
	}
	occurredAt, err := h.occurredAt(req.OccurredAt)
	if err != nil {
		http.Error(w, "invalid occurred_at", http.StatusBadRequest)
		return
	}

	if err := h.recorder.RecordEngagement(r.Context(), storage.Engagement{
		BusinessID: req.BusinessID,
		EntityKind: entityKind,
		EntityID:   entityID,
		Kind:       kind,
		SubjectID:  subjectID,
		OccurredAt: occurredAt,
	}); err != nil {
		h.logger.Error("track failed", "business_id", req.BusinessID, "kind", kind, "err", err)
		http.Error(w, "failed to record engagement", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type checkInRequest struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	SubjectID  string `json:"subject_id"`
	OccurredAt string `json:"occurred_at"`
}

// CheckIn records a staff-confirmed arrival for a ticket or reservation of the caller's
// business. The first check-in of a subject wins.
func (h *AnalyticsHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	businessID := strings.TrimSpace(r.Header.Get(httpx.HeaderBusinessID))
	if businessID == "" {
		http.Error(w, "business_id required", http.StatusBadRequest)
		return
	}
	var req checkInRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	entityKind, err := model.ParseEntityKind(req.EntityType)
	if err != nil {
		http.Error(w, "invalid entity_type", http.StatusBadRequest)
		return
	}
	entityID, subjectID := strings.TrimSpace(req.EntityID), strings.TrimSpace(req.SubjectID)
	if entityKind == model.EntityProfile && entityID == "" {
		entityID = businessID
	}
	if entityID == "" || subjectID == "" {
		http.Error(w, "entity_id and subject_id required", http.StatusBadRequest)
		return
	}
	occurredAt, err := h.occurredAt(req.OccurredAt)
	if err != nil {
		http.Error(w, "invalid occurred_at", http.StatusBadRequest)
		return
	}

	if err := h.recorder.RecordEngagement(r.Context(), storage.Engagement{
		BusinessID: businessID,
		EntityKind: entityKind,
		EntityID:   entityID,
		Kind:       model.KindCheckIn,
		SubjectID:  subjectID,
		OccurredAt: occurredAt,
	}); err != nil {
		h.logger.Error("check-in failed", "business_id", businessID, "subject_id", subjectID, "err", err)
		http.Error(w, "failed to record check-in", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// occurredAt defaults to now and rejects timestamps more than five minutes ahead.
func (h *AnalyticsHandler) occurredAt(raw string) (time.Time, error) {
	now := h.now().UTC()
	if raw == "" {
		return now, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	if t.After(now.Add(5 * time.Minute)) {
		return time.Time{}, errors.New("occurred_at is in the future")
	}
	return t, nil
}
