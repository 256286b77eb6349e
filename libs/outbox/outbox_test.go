package outbox

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/fomo-app/fomo/libs/kafkax"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventAssignsIDAndMarshals(t *testing.T) {
	evt, err := NewEvent("reservation", "res-1", "reservation.created.v1", map[string]any{"party_size": 4})
	require.NoError(t, err)
	assert.NotEmpty(t, evt.ID)
	assert.Equal(t, "res-1", evt.AggregateID)

	var body map[string]int
	require.NoError(t, json.Unmarshal(evt.Payload, &body))
	assert.Equal(t, 4, body["party_size"])

	_, err = NewEvent("reservation", "res-1", "reservation.created.v1", make(chan int))
	assert.Error(t, err)
}

func TestMessageCarriesEventMeta(t *testing.T) {
	msg := Message(context.Background(), Record{
		EventID:     "evt-1",
		AggregateID: "biz-1",
		EventType:   "billing.plan.changed.v1",
		Payload:     []byte(`{}`),
	})
	assert.Equal(t, "billing.plan.changed.v1", msg.Topic)
	assert.Equal(t, []byte("biz-1"), msg.Key)

	meta := kafkax.ExtractEventMeta(msg)
	assert.Equal(t, "evt-1", meta.EventID)
	assert.Equal(t, "billing.plan.changed.v1", meta.EventType)
}
