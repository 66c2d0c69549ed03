package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{in: "debug", want: zerolog.DebugLevel},
		{in: "INFO", want: zerolog.InfoLevel},
		{in: "", want: zerolog.InfoLevel},
		{in: "warning", want: zerolog.WarnLevel},
		{in: "error", want: zerolog.ErrorLevel},
		{in: "loud", want: zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestInit_Writer(t *testing.T) {
	var buf bytes.Buffer
	closeFn, err := Init(Config{Level: "warn", Writer: &buf})
	require.NoError(t, err)
	defer closeFn()

	zlog.Info().Msg("playback: hidden")
	zlog.Warn().Msg("playback: shown")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "playback: shown", entry["message"])
	assert.Contains(t, entry, "time")
}

func TestInit_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "player.log")
	closeFn, err := Init(Config{Level: "debug", Output: path})
	require.NoError(t, err)

	zlog.Debug().Msg("session: selected")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry))
	assert.Equal(t, "session: selected", entry["message"])
	assert.Contains(t, entry["caller"], "logger/logger_test.go")
}

func TestInit_BadFile(t *testing.T) {
	_, err := Init(Config{Output: filepath.Join(t.TempDir(), "missing", "x.log")})
	assert.Error(t, err)
}
