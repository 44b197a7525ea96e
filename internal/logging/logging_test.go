package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	assert.Equal(t, FormatText, ParseFormat("tint"))
	assert.Equal(t, FormatJSON, ParseFormat("JSON"))
	assert.Equal(t, FormatAuto, ParseFormat("bogus"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn", slog.LevelInfo))
	assert.Equal(t, slog.LevelDebug, ParseLevel("", slog.LevelDebug))
	assert.Equal(t, slog.LevelInfo, ParseLevel("loud", slog.LevelInfo))
}

func TestJSONHandlerForNonTTY(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf, FormatAuto, slog.LevelInfo))
	log.Debug("hidden")
	log.Info("clipboard sent", "kind", "custom")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "clipboard sent", rec["msg"])
	assert.Equal(t, "custom", rec["kind"])
}

func TestTextHandler(t *testing.T) {
	var buf bytes.Buffer
	slog.New(NewHandler(&buf, FormatText, slog.LevelInfo)).Info("peer attached")
	assert.Contains(t, buf.String(), "peer attached")
	assert.False(t, json.Valid(buf.Bytes()))
}
