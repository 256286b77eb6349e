package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fomo-app/fomo/libs/httpx"
	"github.com/fomo-app/fomo/services/billing-service/internal/boosts"
	"github.com/fomo-app/fomo/services/billing-service/internal/model"
	"github.com/fomo-app/fomo/services/billing-service/internal/storage"
	"github.com/fomo-app/fomo/services/billing-service/internal/subscriptions"
	"github.com/jackc/pgx/v5"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

var errDuplicateEvent = errors.New("duplicate stripe event")

// StripeWebhook applies Stripe events. The signature is the only authentication.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.stripeWebhookSecret == "" {
		http.Error(w, "stripe webhook not configured", http.StatusServiceUnavailable)
		return
	}
	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	evt, err := webhook.ConstructEventWithTolerance(body, sigHeader, h.stripeWebhookSecret, h.stripeWebhookTolerance)
	if err != nil {
		h.logger.Warn("stripe webhook rejected", "err", err)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	occurredAt := time.Unix(evt.Created, 0).UTC()
	evtType := string(evt.Type)
	logger := h.logger.With("provider_event_id", evt.ID, "event_type", evtType)
	logger.Info("billing provider event received", "occurred_at", occurredAt.Format(time.RFC3339))

	err = h.store.InTx(r.Context(), func(tx pgx.Tx) error {
		if err := h.store.InsertProviderEvent(r.Context(), tx, storage.ProviderEvent{
			Provider:        "stripe",
			ProviderEventID: evt.ID,
			EventType:       evtType,
			Payload:         body,
		}); err != nil {
			if errors.Is(err, storage.ErrDuplicateProviderEvent) {
				return errDuplicateEvent
			}
			return err
		}
		return h.applyStripeEvent(r.Context(), tx, evtType, evt.Data.Raw, occurredAt)
	})
	switch {
	case errors.Is(err, errDuplicateEvent):
		logger.Info("billing provider event duplicate ignored")
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
	case err != nil:
		logger.Error("stripe event failed", "err", err)
		http.Error(w, "failed to apply event", http.StatusInternalServerError)
	default:
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}
}

// applyStripeEvent returns an error only for failures worth a Stripe retry. Events with
// unusable metadata are logged and acknowledged.
func (h *Handler) applyStripeEvent(ctx context.Context, tx pgx.Tx, evtType string, raw json.RawMessage, occurredAt time.Time) error {
	switch evtType {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(raw, &session); err != nil {
			h.logger.Error("stripe: invalid checkout session payload", "err", err)
			return nil
		}
		if !strings.EqualFold(session.Metadata["kind"], "boost") {
			return nil
		}
		if session.PaymentStatus != "" && session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			h.logger.Info("stripe: boost checkout not paid yet", "session_id", session.ID, "payment_status", session.PaymentStatus)
			return nil
		}
		purchase, err := boostPurchase(session, occurredAt)
		if err != nil {
			h.logger.Warn("stripe: unusable boost metadata", "session_id", session.ID, "err", err)
			return nil
		}
		b, created, err := h.boosts.Create(ctx, tx, purchase)
		if errors.Is(err, boosts.ErrInvalid) {
			h.logger.Warn("stripe: invalid boost purchase", "session_id", session.ID, "err", err)
			return nil
		}
		if err != nil {
			return err
		}
		if created {
			h.logger.Info("boost created", "boost_id", b.ID, "business_id", b.BusinessID, "entity_type", b.EntityType, "status", b.Status)
		}

	case "customer.subscription.created", "customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			h.logger.Error("stripe: invalid subscription payload", "err", err)
			return nil
		}
		if sub.Status != stripe.SubscriptionStatusActive && sub.Status != stripe.SubscriptionStatusTrialing {
			return nil
		}
		change, err := subscriptionChange(&sub, occurredAt)
		if err != nil {
			h.logger.Warn("stripe: unusable subscription metadata", "subscription_id", sub.ID, "err", err)
			return nil
		}
		if _, err := h.subs.ApplyActivated(ctx, tx, change); err != nil {
			return err
		}

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			h.logger.Error("stripe: invalid subscription payload", "err", err)
			return nil
		}
		change, err := subscriptionChange(&sub, occurredAt)
		if err != nil && change.BusinessID == "" {
			h.logger.Warn("stripe: missing business_id on deleted subscription", "subscription_id", sub.ID)
			return nil
		}
		if sub.CanceledAt > 0 {
			change.At = time.Unix(sub.CanceledAt, 0).UTC()
		}
		if _, err := h.subs.ApplyCanceled(ctx, tx, change); err != nil {
			return err
		}
	}
	return nil
}

// subscriptionChange reads the plan change from subscription metadata. The business id is
// filled in even when the plan is unusable.
func subscriptionChange(sub *stripe.Subscription, at time.Time) (subscriptions.Change, error) {
	c := subscriptions.Change{
		BusinessID:           strings.TrimSpace(sub.Metadata["business_id"]),
		At:                   at,
		Provider:             "stripe",
		StripeSubscriptionID: sub.ID,
	}
	if sub.Customer != nil {
		c.StripeCustomerID = sub.Customer.ID
	}
	if sub.CurrentPeriodStart > 0 {
		t := time.Unix(sub.CurrentPeriodStart, 0).UTC()
		c.PeriodStart = &t
	}
	if sub.CurrentPeriodEnd > 0 {
		t := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		c.PeriodEnd = &t
	}
	if c.BusinessID == "" {
		return c, errors.New("business_id metadata missing")
	}
	plan, err := model.ParsePlan(sub.Metadata["plan"])
	if err != nil {
		return c, err
	}
	c.Plan = plan
	return c, nil
}

func boostPurchase(session stripe.CheckoutSession, paidAt time.Time) (boosts.Purchase, error) {
	md := session.Metadata
	hours, err := strconv.Atoi(strings.TrimSpace(md["duration_hours"]))
	if err != nil {
		return boosts.Purchase{}, errors.New("duration_hours metadata must be an integer")
	}
	p := boosts.Purchase{
		BusinessID:      strings.TrimSpace(md["business_id"]),
		EntityType:      strings.TrimSpace(md["entity_type"]),
		EntityID:        strings.TrimSpace(md["entity_id"]),
		DurationHours:   hours,
		StripeSessionID: session.ID,
		PaidAt:          paidAt,
	}
	if raw := strings.TrimSpace(md["start_date"]); raw != "" {
		start, err := parseStartDate(raw)
		if err != nil {
			return boosts.Purchase{}, err
		}
		p.StartDate = &start
	}
	return p, nil
}

func parseStartDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, errors.New("start_date metadata must be RFC 3339 or YYYY-MM-DD")
	}
	return t, nil
}
