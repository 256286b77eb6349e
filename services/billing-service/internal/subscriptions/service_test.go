package subscriptions

import (
	"context"
	"testing"
	"time"

	"github.com/fomo-app/fomo/services/billing-service/internal/model"
	"github.com/fomo-app/fomo/services/billing-service/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	subs map[string]storage.Subscription
}

func (m *memoryStore) GetSubscriptionForUpdate(_ context.Context, _ pgx.Tx, businessID string) (storage.Subscription, bool, error) {
	s, ok := m.subs[businessID]
	return s, ok, nil
}

func (m *memoryStore) UpsertSubscription(_ context.Context, _ pgx.Tx, s storage.Subscription) error {
	m.subs[s.BusinessID] = s
	return nil
}

type recordingPlans struct {
	applied []model.Plan
}

func (r *recordingPlans) Apply(_ context.Context, _ pgx.Tx, _ string, plan model.Plan, _ time.Time) (bool, error) {
	r.applied = append(r.applied, plan)
	return true, nil
}

func TestCancelFallsBackToFree(t *testing.T) {
	store := &memoryStore{subs: map[string]storage.Subscription{}}
	plans := &recordingPlans{}
	svc := New(store, plans)
	ctx := context.Background()
	at := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	_, err := svc.ApplyActivated(ctx, nil, Change{BusinessID: "biz", Plan: model.PlanPro, At: at, StripeSubscriptionID: "sub_1"})
	require.NoError(t, err)
	_, err = svc.ApplyCanceled(ctx, nil, Change{BusinessID: "biz", Plan: model.PlanPro, At: at.AddDate(0, 1, 0)})
	require.NoError(t, err)

	assert.Equal(t, []model.Plan{model.PlanPro, model.PlanFree}, plans.applied)
	assert.Equal(t, "canceled", store.subs["biz"].Status)
	assert.Equal(t, model.PlanFree, store.subs["biz"].Plan)
}
