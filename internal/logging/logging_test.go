package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLoggerCarriesServiceAndComponent(t *testing.T) {
	var buf bytes.Buffer
	log := Component(newWithWriter(&buf, "storefront-api", "debug", "json"), "sweeper")

	log.Info().Int64("order_id", 12).Msg("expired")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "storefront-api", line["service"])
	assert.Equal(t, "sweeper", line["component"])
	assert.Equal(t, "expired", line["message"])
	assert.EqualValues(t, 12, line["order_id"])
}

func TestBadLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(&buf, "svc", "loud", "json")

	log.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())

	log.Info().Msg("shown")
	assert.NotZero(t, buf.Len())
}
