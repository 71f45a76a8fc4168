package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLogger_ForwardsFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := NewZapLogger(zap.New(core))
	ctx := context.Background()

	log.Debug(ctx, "deferred", "client_id", "abc")
	log.With("entity", "parts").Warn(ctx, "rejected", "reason", "bad part")

	require.Equal(t, 2, logs.Len())

	entries := logs.All()
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "deferred", entries[0].Message)
	assert.Equal(t, "abc", entries[0].ContextMap()["client_id"])

	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "parts", entries[1].ContextMap()["entity"])
	assert.Equal(t, "bad part", entries[1].ContextMap()["reason"])
}

func TestZapLogger_ErrorLevel(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := NewZapLogger(zap.New(core))

	log.Debug(context.Background(), "dropped")
	log.Info(context.Background(), "kept")
	log.Error(context.Background(), "failed", "err", "boom")

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, 1, logs.FilterMessage("failed").Len())
}

func TestNew_ZapWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := New("zap", "debug", &buf)
	require.NoError(t, err)

	log.Info(context.Background(), "cycle done", "pulled", 4)

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "cycle done", line["msg"])
	assert.Equal(t, "info", line["level"])
	assert.EqualValues(t, 4, line["pulled"])
}

func TestZapLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, zapLevel(slog.LevelDebug))
	assert.Equal(t, zapcore.InfoLevel, zapLevel(slog.LevelInfo))
	assert.Equal(t, zapcore.WarnLevel, zapLevel(slog.LevelWarn))
	assert.Equal(t, zapcore.ErrorLevel, zapLevel(slog.LevelError))
}
