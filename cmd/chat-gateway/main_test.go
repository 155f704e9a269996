// ABOUTME: Tests for CLI flag parsing and logger setup
// ABOUTME: Covers parseFlags, dialableAddr, and the color handler output

package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chat-gateway/internal/config"
)

func TestParseFlags(t *testing.T) {
	flags, positional, err := parseFlags(
		[]string{"--user", "alice", "--ttl=1h", "extra"},
		"user", "ttl",
	)
	require.NoError(t, err)
	assert.Equal(t, "alice", flags["user"])
	assert.Equal(t, "1h", flags["ttl"])
	assert.Equal(t, []string{"extra"}, positional)
}

func TestParseFlagsErrors(t *testing.T) {
	_, _, err := parseFlags([]string{"--bogus", "x"}, "user")
	assert.ErrorContains(t, err, "unknown flag")

	_, _, err = parseFlags([]string{"--user"}, "user")
	assert.ErrorContains(t, err, "requires a value")
}

func TestDialableAddr(t *testing.T) {
	tests := map[string]string{
		"0.0.0.0:8000":   "127.0.0.1:8000",
		":8000":          "127.0.0.1:8000",
		"[::]:8000":      "127.0.0.1:8000",
		"10.0.0.5:9000":  "10.0.0.5:9000",
		"localhost:8000": "localhost:8000",
		"not-an-addr":    "not-an-addr",
	}
	for in, want := range tests {
		assert.Equal(t, want, dialableAddr(in), in)
	}
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("dropped")
	logger.Warn("kept", "component", "registry")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &rec))
	assert.Equal(t, "kept", rec["msg"])
	assert.Equal(t, "registry", rec["component"])
}

func TestColorHandler(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "debug", Format: "text"}, &buf)

	logger.With("component", "session").WithGroup("conn").Debug("frame", "type", "send_message")

	out := buf.String()
	assert.Contains(t, out, "DBG frame")
	assert.Contains(t, out, " component=session")
	assert.Contains(t, out, " conn.type=send_message")
}
