package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRenamesCoreKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "marketd", "test", slog.LevelInfo)
	logger.Info("operation committed", "operation", "mint")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "operation committed", line["message"])
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "marketd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Contains(t, line, "timestamp")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "marketd", "", ParseLevel("warn"))
	logger.Info("hidden")
	require.Zero(t, buf.Len())
	logger.Warn("shown")
	require.NotZero(t, buf.Len())
}

func TestMaskField(t *testing.T) {
	if got := MaskField("payload", "secret"); got.Value.String() != RedactedValue {
		t.Fatalf("payload not redacted: %v", got)
	}
	if got := MaskField("operation", "purchase"); got.Value.String() != "purchase" {
		t.Fatalf("allowlisted key redacted: %v", got)
	}
	if got := MaskValue(""); got != "" {
		t.Fatalf("empty value should pass through")
	}
}

func TestHandlerScrubsSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "marketd", "", slog.LevelInfo)
	logger.Info("purchase settled", "memo", "gift for bob", "receipt", "7")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, RedactedValue, line["memo"])
	require.Equal(t, "7", line["receipt"])
}
