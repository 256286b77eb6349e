package ingest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/fomo-app/fomo/services/analytics-service/internal/model"
	"github.com/fomo-app/fomo/services/analytics-service/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	engagements []storage.Engagement
	voided      []string
	plans       []model.PlanRecord
	boosts      []model.BoostRecord
}

func (f *fakeStore) RecordEngagementTx(_ context.Context, _ pgx.Tx, e storage.Engagement) error {
	f.engagements = append(f.engagements, e)
	return nil
}

func (f *fakeStore) VoidSubject(_ context.Context, _ pgx.Tx, _, subjectID string, _ time.Time) error {
	f.voided = append(f.voided, subjectID)
	return nil
}

func (f *fakeStore) UpsertPlan(_ context.Context, _ pgx.Tx, p model.PlanRecord) error {
	f.plans = append(f.plans, p)
	return nil
}

func (f *fakeStore) UpsertBoost(_ context.Context, _ pgx.Tx, b model.BoostRecord) error {
	f.boosts = append(f.boosts, b)
	return nil
}

const bizID = "7f3d2c1e-0000-4000-8000-000000000001"

func message(t *testing.T, topic string, payload any) kafka.Message {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return kafka.Message{Topic: topic, Value: raw}
}

func newIngestor() (*Ingestor, *fakeStore) {
	store := &fakeStore{}
	return New(store, slog.New(slog.NewTextHandler(io.Discard, nil))), store
}

func TestReservationCreatedAttributesToEntity(t *testing.T) {
	ing, store := newIngestor()
	ctx := context.Background()

	require.NoError(t, ing.ReservationCreated(ctx, nil, message(t, TopicReservationCreated, map[string]any{
		"reservation_id": "r1", "business_id": bizID, "created_at": "2024-06-01T10:00:00.123Z",
	})))
	require.NoError(t, ing.ReservationCreated(ctx, nil, message(t, TopicReservationCreated, map[string]any{
		"reservation_id": "r2", "business_id": bizID, "event_id": "event-9", "created_at": "2024-06-01T11:00:00Z",
	})))

	require.Len(t, store.engagements, 2)
	assert.Equal(t, model.EntityProfile, store.engagements[0].EntityKind)
	assert.Equal(t, bizID, store.engagements[0].EntityID)
	assert.Equal(t, model.KindReservation, store.engagements[0].Kind)
	assert.Equal(t, model.EntityEvent, store.engagements[1].EntityKind)
	assert.Equal(t, "event-9", store.engagements[1].EntityID)
}

func TestCheckInAndCancel(t *testing.T) {
	ing, store := newIngestor()
	ctx := context.Background()

	require.NoError(t, ing.ReservationCheckedIn(ctx, nil, message(t, TopicReservationCheckedIn, map[string]any{
		"reservation_id": "r1", "business_id": bizID, "event_id": "event-9", "checked_in_at": "2024-06-02T20:00:00Z",
	})))
	require.NoError(t, ing.ReservationCancelled(ctx, nil, message(t, TopicReservationCancelled, map[string]any{
		"reservation_id": "r2", "business_id": bizID, "status": "declined",
	})))

	require.Len(t, store.engagements, 1)
	assert.Equal(t, model.KindCheckIn, store.engagements[0].Kind)
	assert.Equal(t, "r1", store.engagements[0].SubjectID)
	assert.Equal(t, []string{"r2"}, store.voided)
}

func TestMalformedPayloadsAreAcknowledged(t *testing.T) {
	ing, store := newIngestor()
	ctx := context.Background()

	require.NoError(t, ing.ReservationCreated(ctx, nil, kafka.Message{Value: []byte("{")}))
	require.NoError(t, ing.ReservationCreated(ctx, nil, message(t, TopicReservationCreated, map[string]any{
		"reservation_id": "r1", "business_id": "not-a-uuid", "created_at": "2024-06-01T10:00:00Z",
	})))
	require.NoError(t, ing.PlanChanged(ctx, nil, message(t, TopicPlanChanged, map[string]any{
		"history_id": bizID, "business_id": bizID, "plan": "platinum", "valid_from": "2024-06-01T00:00:00Z",
	})))
	require.NoError(t, ing.BoostChanged(ctx, nil, message(t, TopicBoostChanged, map[string]any{
		"boost_id": bizID, "business_id": bizID, "entity_type": "offer", "entity_id": "o1",
		"status": "paused", "created_at": "2024-06-01T00:00:00Z",
	})))

	assert.Empty(t, store.engagements)
	assert.Empty(t, store.plans)
	assert.Empty(t, store.boosts)
}

func TestBillingEventsUpsert(t *testing.T) {
	ing, store := newIngestor()
	ctx := context.Background()

	require.NoError(t, ing.PlanChanged(ctx, nil, message(t, TopicPlanChanged, map[string]any{
		"history_id": "0b6e1a55-0000-4000-8000-000000000002", "business_id": bizID,
		"plan": "PRO", "valid_from": "2024-06-01T00:00:00Z",
	})))
	require.NoError(t, ing.BoostChanged(ctx, nil, message(t, TopicBoostChanged, map[string]any{
		"boost_id": "0b6e1a55-0000-4000-8000-000000000003", "business_id": bizID,
		"entity_type": "event", "entity_id": "event-9", "status": "cancelled",
		"created_at": "2024-06-01T00:00:00Z", "duration_hours": 72, "deactivated_at": "2024-06-02T00:00:00Z",
	})))

	require.Len(t, store.plans, 1)
	assert.Equal(t, "pro", store.plans[0].Plan)
	require.Len(t, store.boosts, 1)
	assert.Equal(t, string(model.BoostCanceled), store.boosts[0].Status)
	assert.Equal(t, model.EntityEvent, store.boosts[0].EntityKind)
}

func TestHandlersCoverEveryTopic(t *testing.T) {
	ing, _ := newIngestor()
	h := ing.Handlers()
	for _, topic := range []string{TopicReservationCreated, TopicReservationCancelled, TopicReservationCheckedIn, TopicPlanChanged, TopicBoostChanged} {
		assert.Contains(t, h, topic)
	}
}
