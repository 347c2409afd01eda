package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":      slog.LevelInfo,
		"DEBUG": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestHandlerForwardsAttributes(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := slog.New(NewHandler(core))

	logger.With("board", "team").WithGroup("sync").Info("applied",
		"paths", 3,
		"took", time.Second,
		"ok", true,
		"err", errors.New("boom"),
		slog.Group("peer", "addr", "10.0.0.1"),
	)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "applied", entries[0].Message)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, "team", fields["board"])
	assert.Equal(t, int64(3), fields["sync.paths"])
	assert.Equal(t, time.Second, fields["sync.took"])
	assert.Equal(t, true, fields["sync.ok"])
	assert.Equal(t, "boom", fields["sync.err"])
	assert.Equal(t, "10.0.0.1", fields["sync.peer.addr"])
}

func TestHandlerRespectsLevel(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	logger := slog.New(NewHandler(core))

	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Warn("shown")
	logger.Error("shown")

	assert.Equal(t, 2, logs.Len())
	assert.Equal(t, zapcore.ErrorLevel, logs.All()[1].Level)
}

func TestNewWithWriterEncodesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(&buf, Config{Level: "debug"})
	require.NoError(t, err)
	logger.Debug("hello", "board", "default")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["msg"])
	assert.Equal(t, "debug", line["level"])
	assert.Equal(t, "default", line["board"])
}

func TestNewWithWriterRejectsBadConfig(t *testing.T) {
	_, err := NewWithWriter(&bytes.Buffer{}, Config{Format: "xml"})
	assert.Error(t, err)
	_, err = NewWithWriter(&bytes.Buffer{}, Config{Level: "loud"})
	assert.Error(t, err)
}
