package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "info", "json")

	l.Debug("hidden")
	l.Info("channel pulled", slog.String("channel", "@some_channel"), slog.Int("discovered", 3))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "channel pulled", rec["msg"])
	assert.Equal(t, "@some_channel", rec["channel"])
	assert.EqualValues(t, 3, rec["discovered"])
}

func TestNewTextDebug(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "DEBUG", "text")

	l.Debug("supervisor check", slog.Bool("connected", true))
	assert.Contains(t, buf.String(), "level=DEBUG")
	assert.Contains(t, buf.String(), "connected=true")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("nonsense"))
}
