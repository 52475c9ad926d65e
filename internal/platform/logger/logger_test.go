package logger

import (
	"context"
	"log/slog"
	"testing"

	"github.com/phrazzld/report-api/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{"Warn", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"verbose", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			got, ok := ParseLevel(tc.in)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.ok, ok)
		})
	}
}

func TestSetupWithWriterFiltersByLevel(t *testing.T) {
	original := slog.Default()
	defer slog.SetDefault(original)

	buf := &TestLogBuffer{}
	log, err := SetupWithWriter(config.ServerConfig{LogLevel: "warn"}, buf)
	require.NoError(t, err)
	require.NotNil(t, log)

	log.Info("dropped")
	log.Warn("kept", "job_id", "abc")

	entries, err := buf.GetLogEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "kept", entries[0]["msg"])
	assert.Equal(t, "abc", entries[0]["job_id"])
}

func TestFromContext(t *testing.T) {
	t.Parallel()

	log, buf := NewTestLogger()
	fallback := Discard()

	assert.Same(t, fallback, FromContextOrDefault(context.Background(), fallback))

	ctx := WithLogger(context.Background(), log)
	ctx = WithRequestID(ctx, "req-1")
	assert.Equal(t, "req-1", RequestID(ctx))

	FromContextOrDefault(ctx, fallback).Info("hello")

	entries, err := buf.GetLogEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "req-1", entries[0]["request_id"])
	assert.Equal(t, []string{"hello"}, buf.Messages())
}
