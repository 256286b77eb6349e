package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79/webhook"
)

func TestBuiltEventsVerifyWithCurrentAPIVersion(t *testing.T) {
	now := time.Now().UTC()
	for _, typ := range []string{"checkout.session.completed", "customer.subscription.updated", "customer.subscription.deleted"} {
		payload, err := buildEventJSON("evt_1", now, options{eventType: typ, businessID: "biz-1", plan: "pro", entityType: "profile", hours: 24})
		require.NoError(t, err, typ)

		signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: "whsec_x", Timestamp: now})
		evt, err := webhook.ConstructEvent(payload, signed.Header, "whsec_x")
		require.NoError(t, err, typ)
		assert.Equal(t, typ, string(evt.Type))
	}
}

func TestBuildEventRejectsUnknownType(t *testing.T) {
	_, err := buildEventJSON("evt_1", time.Now(), options{eventType: "invoice.paid"})
	assert.Error(t, err)
}
