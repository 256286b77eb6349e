package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fomo-app/fomo/libs/httpx"
	"github.com/fomo-app/fomo/services/analytics-service/internal/attribution"
	"github.com/fomo-app/fomo/services/analytics-service/internal/boostvalue"
	"github.com/fomo-app/fomo/services/analytics-service/internal/model"
	"github.com/fomo-app/fomo/services/analytics-service/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubReporter struct {
	gotBusiness string
	gotRange    attribution.Range
	err         error
}

func (s *stubReporter) Report(_ context.Context, businessID string, rng attribution.Range) (boostvalue.Report, error) {
	s.gotBusiness, s.gotRange = businessID, rng
	if s.err != nil {
		return boostvalue.Report{}, s.err
	}
	return boostvalue.Report{BusinessID: businessID, Classes: []boostvalue.ClassReport{{EntityKind: model.EntityOffer}}}, nil
}

type memoryRecorder struct {
	got []storage.Engagement
}

func (m *memoryRecorder) RecordEngagement(_ context.Context, e storage.Engagement) error {
	m.got = append(m.got, e)
	return nil
}

const bizID = "7f3d2c1e-0000-4000-8000-000000000001"

func newHandler() (*AnalyticsHandler, *stubReporter, *memoryRecorder) {
	rep, rec := &stubReporter{}, &memoryRecorder{}
	h := NewAnalyticsHandler(rep, rec, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.now = func() time.Time { return time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC) }
	return h, rep, rec
}

func TestBoostValueParsesRange(t *testing.T) {
	h, rep, _ := newHandler()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/analytics/boost-value?from=2024-06-01&to=2024-06-30", nil)
	req.Header.Set(httpx.HeaderBusinessID, bizID)
	rr := httptest.NewRecorder()

	h.BoostValue(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, bizID, rep.gotBusiness)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), rep.gotRange.From)
	assert.Equal(t, time.Date(2024, 6, 30, 23, 59, 59, 999999999, time.UTC), rep.gotRange.To)

	var body boostvalue.Report
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, bizID, body.BusinessID)
}

func TestBoostValueRejectsBadInput(t *testing.T) {
	h, _, _ := newHandler()

	rr := httptest.NewRecorder()
	h.BoostValue(rr, httptest.NewRequest(http.MethodGet, "/api/v1/analytics/boost-value", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/analytics/boost-value?from=2024-06-10&to=2024-06-01", nil)
	req.Header.Set(httpx.HeaderBusinessID, bizID)
	rr = httptest.NewRecorder()
	h.BoostValue(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/analytics/boost-value?from=last-week", nil)
	req.Header.Set(httpx.HeaderBusinessID, bizID)
	rr = httptest.NewRecorder()
	h.BoostValue(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestBoostValueHidesFailures(t *testing.T) {
	h, rep, _ := newHandler()
	rep.err = errors.New("pool exhausted")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/analytics/boost-value", nil)
	req.Header.Set(httpx.HeaderBusinessID, bizID)
	rr := httptest.NewRecorder()

	h.BoostValue(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "pool exhausted")
}

func TestTrack(t *testing.T) {
	cases := []struct {
		name string
		body string
		want int
	}{
		{"profile view", `{"business_id":"` + bizID + `","entity_type":"profile","kind":"view"}`, http.StatusAccepted},
		{"ticket needs subject", `{"business_id":"` + bizID + `","entity_type":"event","entity_id":"e1","kind":"ticket"}`, http.StatusBadRequest},
		{"reservations come from events", `{"business_id":"` + bizID + `","entity_type":"event","entity_id":"e1","kind":"reservation"}`, http.StatusBadRequest},
		{"check-ins are staff only", `{"business_id":"` + bizID + `","entity_type":"event","entity_id":"e1","kind":"check_in","subject_id":"res-1"}`, http.StatusBadRequest},
		{"unknown kind", `{"business_id":"` + bizID + `","entity_type":"offer","entity_id":"o1","kind":"like"}`, http.StatusBadRequest},
		{"bad business", `{"business_id":"abc","entity_type":"offer","entity_id":"o1","kind":"view"}`, http.StatusBadRequest},
		{"future timestamp", `{"business_id":"` + bizID + `","entity_type":"offer","entity_id":"o1","kind":"view","occurred_at":"2030-01-01T00:00:00Z"}`, http.StatusBadRequest},
		{"unknown field", `{"business_id":"` + bizID + `","entity_type":"offer","entity_id":"o1","kind":"view","extra":1}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, _, _ := newHandler()
			rr := httptest.NewRecorder()
			h.Track(rr, httptest.NewRequest(http.MethodPost, "/api/v1/public/track", strings.NewReader(tc.body)))
			assert.Equal(t, tc.want, rr.Code)
		})
	}
}

func TestTrackDefaultsProfileEntity(t *testing.T) {
	h, _, rec := newHandler()
	body := `{"business_id":"` + bizID + `","entity_type":"profile","kind":"interaction","occurred_at":"2024-06-29T08:00:00Z"}`
	rr := httptest.NewRecorder()
	h.Track(rr, httptest.NewRequest(http.MethodPost, "/api/v1/public/track", strings.NewReader(body)))

	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Len(t, rec.got, 1)
	assert.Equal(t, bizID, rec.got[0].EntityID)
	assert.Equal(t, model.KindInteraction, rec.got[0].Kind)
	assert.Equal(t, time.Date(2024, 6, 29, 8, 0, 0, 0, time.UTC), rec.got[0].OccurredAt)
}

func TestTrackRejectsCheckInWithoutRecording(t *testing.T) {
	h, _, rec := newHandler()
	body := `{"business_id":"` + bizID + `","entity_type":"event","entity_id":"e1","kind":"check_in","subject_id":"res-1"}`
	rr := httptest.NewRecorder()
	h.Track(rr, httptest.NewRequest(http.MethodPost, "/api/v1/public/track", strings.NewReader(body)))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, rec.got)
}

func TestOwnerCheckIn(t *testing.T) {
	h, _, rec := newHandler()
	send := func(business, body string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/analytics/check-ins", strings.NewReader(body))
		if business != "" {
			req.Header.Set(httpx.HeaderBusinessID, business)
		}
		rr := httptest.NewRecorder()
		h.CheckIn(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusAccepted, send(bizID, `{"entity_type":"event","entity_id":"e1","subject_id":"ticket-9"}`))
	require.Len(t, rec.got, 1)
	assert.Equal(t, model.KindCheckIn, rec.got[0].Kind)
	assert.Equal(t, bizID, rec.got[0].BusinessID)
	assert.Equal(t, "ticket-9", rec.got[0].SubjectID)
	assert.Equal(t, time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC), rec.got[0].OccurredAt)

	assert.Equal(t, http.StatusBadRequest, send("", `{"entity_type":"event","entity_id":"e1","subject_id":"ticket-9"}`))
	assert.Equal(t, http.StatusBadRequest, send(bizID, `{"entity_type":"event","entity_id":"e1"}`))
	assert.Equal(t, http.StatusBadRequest, send(bizID, `{"entity_type":"venue","entity_id":"e1","subject_id":"t"}`))
	assert.Len(t, rec.got, 1)
}
