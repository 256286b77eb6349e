package model

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReservationStatus(t *testing.T) {
	s, err := ParseReservationStatus(" Accepted ")
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, s)

	_, err = ParseReservationStatus("paid")
	assert.Error(t, err)
}

func TestOccupies(t *testing.T) {
	assert.True(t, StatusPending.Occupies())
	assert.True(t, StatusAccepted.Occupies())
	assert.False(t, StatusCancelled.Occupies())
	assert.False(t, StatusDeclined.Occupies())
	assert.False(t, StatusCompleted.Occupies())
}

func TestLocationFallback(t *testing.T) {
	cfg := BusinessConfig{Policy: ReservationPolicy{Timezone: "Mars/Olympus"}}
	assert.Equal(t, time.UTC, cfg.Location(nil))

	cfg.Policy.Timezone = "Europe/Athens"
	assert.Equal(t, "Europe/Athens", cfg.Location(time.UTC).String())
}
