// Command stripe-webhook-sim signs a synthetic Stripe event with the webhook secret and
// posts it to the billing service, for local testing without the Stripe CLI.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fomo-app/fomo/libs/config"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

type options struct {
	eventType  string
	businessID string
	plan       string
	entityType string
	entityID   string
	hours      int
	startDate  string
}

func main() {
	var opts options
	baseURL := flag.String("base-url", config.String("BASE_URL", "http://localhost:8084"), "billing service base url")
	secret := flag.String("secret", config.String("STRIPE_WEBHOOK_SECRET", ""), "stripe webhook signing secret (whsec_...)")
	flag.StringVar(&opts.eventType, "type", config.String("STRIPE_EVENT_TYPE", "checkout.session.completed"), "stripe event type")
	flag.StringVar(&opts.businessID, "business-id", config.String("BUSINESS_ID", ""), "business_id metadata")
	flag.StringVar(&opts.plan, "plan", config.String("PLAN", "pro"), "plan metadata for subscription events")
	flag.StringVar(&opts.entityType, "entity-type", "profile", "boosted entity type for checkout events")
	flag.StringVar(&opts.entityID, "entity-id", "", "boosted entity id; profile boosts default to the business")
	flag.IntVar(&opts.hours, "duration-hours", 24, "boost duration")
	flag.StringVar(&opts.startDate, "start-date", "", "boost start date (YYYY-MM-DD), defaults to payment time")
	flag.Parse()

	if strings.TrimSpace(*secret) == "" {
		fatal("STRIPE_WEBHOOK_SECRET is required")
	}
	if strings.TrimSpace(opts.businessID) == "" {
		fatal("BUSINESS_ID is required")
	}

	now := time.Now().UTC()
	payload, err := buildEventJSON(fmt.Sprintf("evt_test_%d", now.UnixNano()), now, opts)
	if err != nil {
		fatal(err.Error())
	}
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    *secret,
		Timestamp: now,
		Scheme:    "v1",
	})

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(*baseURL, "/")+"/api/v1/billing/webhooks/stripe", bytes.NewReader(payload))
	if err != nil {
		fatal(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signed.Header)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	fmt.Printf("status=%d body=%s\n", resp.StatusCode, strings.TrimSpace(string(body)))
}

func buildEventJSON(eventID string, t time.Time, opts options) ([]byte, error) {
	var object map[string]any
	switch opts.eventType {
	case "checkout.session.completed":
		md := map[string]string{
			"kind":           "boost",
			"business_id":    opts.businessID,
			"entity_type":    opts.entityType,
			"entity_id":      opts.entityID,
			"duration_hours": fmt.Sprint(opts.hours),
		}
		if opts.startDate != "" {
			md["start_date"] = opts.startDate
		}
		object = map[string]any{
			"id":             fmt.Sprintf("cs_test_%d", t.UnixNano()),
			"object":         "checkout.session",
			"payment_status": "paid",
			"metadata":       md,
		}
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		status := "active"
		if opts.eventType == "customer.subscription.deleted" {
			status = "canceled"
		}
		object = map[string]any{
			"id":                   "sub_test_" + opts.businessID,
			"object":               "subscription",
			"status":               status,
			"customer":             "cus_test_" + opts.businessID,
			"current_period_start": t.Unix(),
			"current_period_end":   t.AddDate(0, 1, 0).Unix(),
			"metadata": map[string]string{
				"business_id": opts.businessID,
				"plan":        opts.plan,
			},
		}
	default:
		return nil, fmt.Errorf("unsupported event type: %s", opts.eventType)
	}
	return json.Marshal(map[string]any{
		"id":          eventID,
		"object":      "event",
		"created":     t.Unix(),
		"type":        opts.eventType,
		"api_version": stripe.APIVersion,
		"data":        map[string]any{"object": object},
	})
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
