package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fomo-app/fomo/libs/httpx"
	"github.com/fomo-app/fomo/services/billing-service/internal/boosts"
	"github.com/fomo-app/fomo/services/billing-service/internal/model"
	"github.com/fomo-app/fomo/services/billing-service/internal/storage"
	"github.com/fomo-app/fomo/services/billing-service/internal/subscriptions"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

const testSecret = "whsec_test"

type fakeStore struct {
	seen    map[string]bool
	history []model.PlanPeriod
}

func (f *fakeStore) InTx(_ context.Context, fn func(pgx.Tx) error) error { return fn(nil) }

func (f *fakeStore) InsertProviderEvent(_ context.Context, _ pgx.Tx, evt storage.ProviderEvent) error {
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	if f.seen[evt.ProviderEventID] {
		return storage.ErrDuplicateProviderEvent
	}
	f.seen[evt.ProviderEventID] = true
	return nil
}

func (f *fakeStore) ListPlanHistory(_ context.Context, _ string, _ int) ([]model.PlanPeriod, error) {
	return f.history, nil
}

type fakeSubs struct {
	activated []subscriptions.Change
	canceled  []subscriptions.Change
}

func (f *fakeSubs) ApplyActivated(_ context.Context, _ pgx.Tx, c subscriptions.Change) (bool, error) {
	f.activated = append(f.activated, c)
	return true, nil
}

func (f *fakeSubs) ApplyCanceled(_ context.Context, _ pgx.Tx, c subscriptions.Change) (bool, error) {
	f.canceled = append(f.canceled, c)
	return true, nil
}

type fakeBoosts struct {
	purchases     []boosts.Purchase
	deactivateErr error
}

func (f *fakeBoosts) Create(_ context.Context, _ pgx.Tx, p boosts.Purchase) (model.Boost, bool, error) {
	f.purchases = append(f.purchases, p)
	return model.Boost{ID: "b-1", BusinessID: p.BusinessID}, true, nil
}

func (f *fakeBoosts) Deactivate(_ context.Context, _ pgx.Tx, businessID, boostID string) (model.Boost, error) {
	if f.deactivateErr != nil {
		return model.Boost{}, f.deactivateErr
	}
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)
	return model.Boost{
		ID: boostID, BusinessID: businessID, EntityType: model.EntityOffer, EntityID: "offer-1",
		Status: model.BoostCanceled, StartDate: start, DurationHours: 24, DeactivatedAt: &end,
	}, nil
}

func newTestHandler() (*Handler, *fakeStore, *fakeSubs, *fakeBoosts) {
	store, subs, bs := &fakeStore{}, &fakeSubs{}, &fakeBoosts{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, subs, bs, logger, Config{StripeWebhookSecret: testSecret}), store, subs, bs
}

func signedRequest(t *testing.T, id, evtType string, object map[string]any) *http.Request {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"type":        evtType,
		"api_version": stripe.APIVersion,
		"created":     time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC).Unix(),
		"data":        map[string]any{"object": object},
	})
	require.NoError(t, err)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testSecret,
		Timestamp: time.Now(),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	return req
}

func boostSession(id string) map[string]any {
	return map[string]any{
		"id":             id,
		"object":         "checkout.session",
		"payment_status": "paid",
		"metadata": map[string]string{
			"kind":           "boost",
			"business_id":    "7b0c1a8e-58f5-4a39-9d1e-0c0a4bd0f0aa",
			"entity_type":    "offer",
			"entity_id":      "offer-1",
			"duration_hours": "48",
			"start_date":     "2024-06-03",
		},
	}
}

func TestStripeWebhookCreatesBoost(t *testing.T) {
	h, _, _, bs := newTestHandler()
	rec := httptest.NewRecorder()
	h.StripeWebhook(rec, signedRequest(t, "evt_1", "checkout.session.completed", boostSession("cs_1")))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.Len(t, bs.purchases, 1)
	p := bs.purchases[0]
	assert.Equal(t, "offer", p.EntityType)
	assert.Equal(t, "offer-1", p.EntityID)
	assert.Equal(t, 48, p.DurationHours)
	assert.Equal(t, "cs_1", p.StripeSessionID)
	require.NotNil(t, p.StartDate)
	assert.Equal(t, time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC), *p.StartDate)
	assert.Equal(t, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), p.PaidAt)
}

func TestStripeWebhookDuplicateEventIsAcked(t *testing.T) {
	h, _, _, bs := newTestHandler()
	first := httptest.NewRecorder()
	h.StripeWebhook(first, signedRequest(t, "evt_dup", "checkout.session.completed", boostSession("cs_2")))
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	h.StripeWebhook(second, signedRequest(t, "evt_dup", "checkout.session.completed", boostSession("cs_2")))
	require.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, `{"status":"duplicate"}`, second.Body.String())
	assert.Len(t, bs.purchases, 1)
}

func TestStripeWebhookIgnoresUnusableBoostMetadata(t *testing.T) {
	h, _, _, bs := newTestHandler()
	session := boostSession("cs_3")
	session["metadata"].(map[string]string)["duration_hours"] = "two days"

	rec := httptest.NewRecorder()
	h.StripeWebhook(rec, signedRequest(t, "evt_3", "checkout.session.completed", session))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, bs.purchases)
}

func TestStripeWebhookSubscriptionLifecycle(t *testing.T) {
	h, _, subs, _ := newTestHandler()
	sub := map[string]any{
		"id":                   "sub_1",
		"object":               "subscription",
		"status":               "active",
		"customer":             "cus_1",
		"current_period_start": time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC).Unix(),
		"metadata":             map[string]string{"business_id": "biz-1", "plan": "Pro"},
	}
	rec := httptest.NewRecorder()
	h.StripeWebhook(rec, signedRequest(t, "evt_4", "customer.subscription.updated", sub))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, subs.activated, 1)
	assert.Equal(t, model.PlanPro, subs.activated[0].Plan)
	assert.Equal(t, "cus_1", subs.activated[0].StripeCustomerID)
	require.NotNil(t, subs.activated[0].PeriodStart)

	sub["status"] = "canceled"
	rec = httptest.NewRecorder()
	h.StripeWebhook(rec, signedRequest(t, "evt_5", "customer.subscription.deleted", sub))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, subs.canceled, 1)
	assert.Equal(t, "biz-1", subs.canceled[0].BusinessID)
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	h, _, _, _ := newTestHandler()
	req := signedRequest(t, "evt_6", "checkout.session.completed", boostSession("cs_6"))
	req.Header.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=deadbeef", time.Now().Unix()))

	rec := httptest.NewRecorder()
	h.StripeWebhook(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeactivateBoost(t *testing.T) {
	h, _, _, bs := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/boosts/deactivate", strings.NewReader(`{"boost_id":"b-9"}`))
	req.Header.Set(httpx.HeaderBusinessID, "biz-1")
	rec := httptest.NewRecorder()
	h.DeactivateBoost(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var item boostItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &item))
	assert.Equal(t, "b-9", item.BoostID)
	assert.Equal(t, "2024-06-01T02:00:00Z", item.DeactivatedAt)

	bs.deactivateErr = boosts.ErrInactive
	req = httptest.NewRequest(http.MethodPost, "/api/v1/billing/boosts/deactivate", strings.NewReader(`{"boost_id":"b-9"}`))
	req.Header.Set(httpx.HeaderBusinessID, "biz-1")
	rec = httptest.NewRecorder()
	h.DeactivateBoost(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)

	bs.deactivateErr = boosts.ErrNotFound
	req = httptest.NewRequest(http.MethodPost, "/api/v1/billing/boosts/deactivate", strings.NewReader(`{"boost_id":"b-9"}`))
	req.Header.Set(httpx.HeaderBusinessID, "biz-1")
	rec = httptest.NewRecorder()
	h.DeactivateBoost(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPlanReportsOpenRowAsCurrent(t *testing.T) {
	h, store, _, _ := newTestHandler()
	closed := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	store.history = []model.PlanPeriod{
		{Plan: model.PlanPro, ValidFrom: closed},
		{Plan: model.PlanFree, ValidFrom: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), ValidTo: &closed},
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/billing/plan", nil)
	req.Header.Set(httpx.HeaderBusinessID, "biz-1")
	rec := httptest.NewRecorder()
	h.Plan(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Plan    string     `json:"plan"`
		History []planItem `json:"history"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "pro", body.Plan)
	assert.Len(t, body.History, 2)
}
