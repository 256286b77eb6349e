package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fomo-app/fomo/libs/httpx"
	"github.com/fomo-app/fomo/services/billing-service/internal/boosts"
	"github.com/fomo-app/fomo/services/billing-service/internal/model"
	"github.com/fomo-app/fomo/services/billing-service/internal/storage"
	"github.com/fomo-app/fomo/services/billing-service/internal/subscriptions"
	"github.com/jackc/pgx/v5"
)

type Store interface {
	InTx(ctx context.Context, fn func(pgx.Tx) error) error
	InsertProviderEvent(ctx context.Context, tx pgx.Tx, evt storage.ProviderEvent) error
	ListPlanHistory(ctx context.Context, businessID string, limit int) ([]model.PlanPeriod, error)
}

type Subscriptions interface {
	ApplyActivated(ctx context.Context, tx pgx.Tx, c subscriptions.Change) (bool, error)
	ApplyCanceled(ctx context.Context, tx pgx.Tx, c subscriptions.Change) (bool, error)
}

type Boosts interface {
	Create(ctx context.Context, tx pgx.Tx, p boosts.Purchase) (model.Boost, bool, error)
	Deactivate(ctx context.Context, tx pgx.Tx, businessID, boostID string) (model.Boost, error)
}

type Handler struct {
	store                  Store
	subs                   Subscriptions
	boosts                 Boosts
	logger                 *slog.Logger
	stripeWebhookSecret    string
	stripeWebhookTolerance time.Duration
}

type Config struct {
	StripeWebhookSecret    string
	StripeWebhookTolerance time.Duration
}

func New(store Store, subs Subscriptions, boostSvc Boosts, logger *slog.Logger, cfg Config) *Handler {
	tol := cfg.StripeWebhookTolerance
	if tol <= 0 {
		tol = 300 * time.Second
	}
	return &Handler{
		store:                  store,
		subs:                   subs,
		boosts:                 boostSvc,
		logger:                 logger,
		stripeWebhookSecret:    strings.TrimSpace(cfg.StripeWebhookSecret),
		stripeWebhookTolerance: tol,
	}
}

type boostItem struct {
	BoostID       string `json:"boost_id"`
	EntityType    string `json:"entity_type"`
	EntityID      string `json:"entity_id"`
	Status        string `json:"status"`
	StartDate     string `json:"start_date"`
	EndsAt        string `json:"ends_at"`
	DeactivatedAt string `json:"deactivated_at,omitempty"`
}

func toBoostItem(b model.Boost) boostItem {
	item := boostItem{
		BoostID:    b.ID,
		EntityType: string(b.EntityType),
		EntityID:   b.EntityID,
		Status:     string(b.Status),
		StartDate:  b.StartDate.UTC().Format(time.RFC3339),
		EndsAt:     b.PlannedEnd().UTC().Format(time.RFC3339),
	}
	if b.DeactivatedAt != nil {
		item.DeactivatedAt = b.DeactivatedAt.UTC().Format(time.RFC3339)
	}
	return item
}

// DeactivateBoost ends one of the caller's boosts early.
func (h *Handler) DeactivateBoost(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	businessID := strings.TrimSpace(r.Header.Get(httpx.HeaderBusinessID))
	if businessID == "" {
		http.Error(w, "business_id required", http.StatusBadRequest)
		return
	}
	var req struct {
		BoostID string `json:"boost_id"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil || strings.TrimSpace(req.BoostID) == "" {
		http.Error(w, "boost_id required", http.StatusBadRequest)
		return
	}

	var boost model.Boost
	err := h.store.InTx(r.Context(), func(tx pgx.Tx) error {
		var err error
		boost, err = h.boosts.Deactivate(r.Context(), tx, businessID, strings.TrimSpace(req.BoostID))
		return err
	})
	switch {
	case errors.Is(err, boosts.ErrNotFound):
		http.Error(w, "boost not found", http.StatusNotFound)
		return
	case errors.Is(err, boosts.ErrInactive):
		httpx.WriteError(w, http.StatusConflict, "BOOST_INACTIVE", "boost is no longer active")
		return
	case err != nil:
		h.logger.Error("boost deactivation failed", "business_id", businessID, "boost_id", req.BoostID, "err", err)
		http.Error(w, "failed to deactivate boost", http.StatusInternalServerError)
		return
	}
	h.logger.Info("boost deactivated", "business_id", businessID, "boost_id", boost.ID)
	httpx.WriteJSON(w, http.StatusOK, toBoostItem(boost))
}

type planItem struct {
	Plan      string `json:"plan"`
	ValidFrom string `json:"valid_from"`
	ValidTo   string `json:"valid_to,omitempty"`
}

// Plan returns the caller's current plan and its recent history, newest first.
func (h *Handler) Plan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	businessID := strings.TrimSpace(r.Header.Get(httpx.HeaderBusinessID))
	if businessID == "" {
		http.Error(w, "business_id required", http.StatusBadRequest)
		return
	}
	history, err := h.store.ListPlanHistory(r.Context(), businessID, 50)
	if err != nil {
		h.logger.Error("plan history lookup failed", "business_id", businessID, "err", err)
		http.Error(w, "failed to load plan", http.StatusInternalServerError)
		return
	}

	current := string(model.PlanFree)
	items := make([]planItem, 0, len(history))
	for _, p := range history {
		item := planItem{Plan: string(p.Plan), ValidFrom: p.ValidFrom.UTC().Format(time.RFC3339)}
		if p.ValidTo != nil {
			item.ValidTo = p.ValidTo.UTC().Format(time.RFC3339)
		} else {
			current = string(p.Plan)
		}
		items = append(items, item)
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"business_id": businessID, "plan": current, "history": items})
}
