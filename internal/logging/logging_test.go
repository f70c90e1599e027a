package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLevels(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, false)
	log.Debug().Msg("hidden")
	log.Info().Str("file", "sales.csv").Msg("loaded")
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "loaded")
	assert.Contains(t, out, "sales.csv")

	buf.Reset()
	verbose := New(&buf, true)
	verbose.Debug().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestJSON(t *testing.T) {
	var buf bytes.Buffer
	log := JSON(&buf, false)
	log.Info().Int("rows", 3).Msg("request")
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "request", rec["message"])
	assert.Equal(t, float64(3), rec["rows"])
	assert.Contains(t, rec, "time")
}

func TestNop(t *testing.T) {
	log := Nop()
	log.Error().Msg("dropped")
}
