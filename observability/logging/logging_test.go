package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupWritesStructuredLines(t *testing.T) {
	var buf bytes.Buffer
	logger, closer := Setup("treasuryd", "test", Options{Output: &buf})
	defer closer.Close()

	logger.Info("claim executed", "manager", "rev-1", MaskField("authorization", "Bearer abc"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "claim executed", line["message"])
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "treasuryd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, RedactedValue, line["authorization"])
	require.Contains(t, line, "timestamp")
}

func TestSetupRotatingFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "treasuryd.log")
	logger, closer := Setup("treasuryd", "", Options{Output: &buf, File: path, Level: slog.LevelWarn})

	logger.Info("dropped")
	logger.Warn("kept")
	require.NoError(t, closer.Close())

	require.False(t, strings.Contains(buf.String(), "dropped"))
	require.Contains(t, buf.String(), "kept")
	require.FileExists(t, path)
}

func TestParseLevelAndMasking(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelInfo, ParseLevel("bogus"))

	require.Equal(t, "0xabc", MaskField("recipient", "0xabc").Value.String())
	require.Equal(t, RedactedValue, MaskField("jwt_secret", "hunter2").Value.String())
	require.Equal(t, "", MaskField("token", "").Value.String())
}
