package observability

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newTestLogger(t *testing.T, opts LoggerOptions) (*zap.Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger, _, err := NewLoggerTo(opts, zapcore.AddSync(&buf))
	require.NoError(t, err)
	return logger, &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec), sc.Text())
		out = append(out, rec)
	}
	return out
}

func TestNewLogger(t *testing.T) {
	t.Run("Should write one JSON object per line with UTC timestamps", func(t *testing.T) {
		logger, buf := newTestLogger(t, LoggerOptions{Name: "hub"})
		logger.Info("first", zap.Int("n", 1))
		logger.Warn("second")

		recs := decodeLines(t, buf)
		require.Len(t, recs, 2)
		assert.Equal(t, "INFO", recs[0][LevelKey])
		assert.Equal(t, "first", recs[0][MessageKey])
		assert.Equal(t, "hub", recs[0][LoggerKey])
		assert.Equal(t, 1.0, recs[0]["n"])
		assert.Equal(t, "WARN", recs[1][LevelKey])

		ts, ok := recs[0][TimestampKey].(string)
		require.True(t, ok)
		assert.True(t, strings.HasSuffix(ts, "Z"), ts)
		_, err := time.Parse(time.RFC3339Nano, ts)
		assert.NoError(t, err)
	})

	t.Run("Should honour the configured level", func(t *testing.T) {
		logger, buf := newTestLogger(t, LoggerOptions{Level: "warn"})
		logger.Info("dropped")
		logger.Error("kept")

		recs := decodeLines(t, buf)
		require.Len(t, recs, 1)
		assert.Equal(t, "kept", recs[0][MessageKey])
	})

	t.Run("Should change level at runtime", func(t *testing.T) {
		var buf bytes.Buffer
		logger, level, err := NewLoggerTo(LoggerOptions{Level: "error"}, zapcore.AddSync(&buf))
		require.NoError(t, err)
		logger.Info("dropped")
		level.SetLevel(zapcore.DebugLevel)
		logger.Debug("kept")

		recs := decodeLines(t, &buf)
		require.Len(t, recs, 1)
		assert.Equal(t, "kept", recs[0][MessageKey])
	})

	t.Run("Should add the caller in debug mode", func(t *testing.T) {
		logger, buf := newTestLogger(t, LoggerOptions{Debug: true})
		logger.Info("where")
		recs := decodeLines(t, buf)
		require.Len(t, recs, 1)
		assert.Contains(t, recs[0][CallerKey], "logging_test.go")
	})

	t.Run("Should reject unknown options", func(t *testing.T) {
		_, _, err := NewLogger(LoggerOptions{Level: "loud"})
		assert.Error(t, err)
		_, _, err = NewLogger(LoggerOptions{Format: "xml"})
		assert.Error(t, err)
		_, _, err = NewLogger(LoggerOptions{Output: "file"})
		assert.Error(t, err)
	})
}

func TestSanitizingCore(t *testing.T) {
	t.Run("Should rename fields that collide with reserved keys", func(t *testing.T) {
		logger, buf := newTestLogger(t, LoggerOptions{})
		logger.Info("real message",
			zap.String("message", "spoofed"),
			zap.String("level", "DEBUG"),
			zap.String("user", "ana"),
		)

		recs := decodeLines(t, buf)
		require.Len(t, recs, 1)
		rec := recs[0]
		assert.Equal(t, "real message", rec[MessageKey])
		assert.Equal(t, "INFO", rec[LevelKey])
		assert.Equal(t, "spoofed", rec["field_message"])
		assert.Equal(t, "DEBUG", rec["field_level"])
		assert.Equal(t, "ana", rec["user"])
		assert.ElementsMatch(t, []any{"message", "level"}, rec[CollisionsKey])
	})

	t.Run("Should sanitise fields added through With", func(t *testing.T) {
		logger, buf := newTestLogger(t, LoggerOptions{})
		logger.With(zap.String("timestamp", "yesterday")).Info("hello")

		recs := decodeLines(t, buf)
		require.Len(t, recs, 1)
		assert.Equal(t, "yesterday", recs[0]["field_timestamp"])
		assert.NotEqual(t, "yesterday", recs[0][TimestampKey])
	})

	t.Run("Should merge With fields and call fields into one key set", func(t *testing.T) {
		logger, buf := newTestLogger(t, LoggerOptions{})
		logger.With(zap.String("level", "from-with"), zap.String("user", "a")).
			Info("msg", zap.String("message", "from-call"), zap.String("user", "b"))

		line := buf.String()
		assert.Equal(t, 1, strings.Count(line, `"user":`))
		assert.Equal(t, 1, strings.Count(line, `"`+CollisionsKey+`":`))

		recs := decodeLines(t, buf)
		require.Len(t, recs, 1)
		rec := recs[0]
		assert.Equal(t, "b", rec["user"])
		assert.Equal(t, "from-with", rec["field_level"])
		assert.Equal(t, "from-call", rec["field_message"])
		assert.ElementsMatch(t, []any{"level", "message"}, rec[CollisionsKey])
	})

	t.Run("Should keep the last value of a duplicated key", func(t *testing.T) {
		logger, buf := newTestLogger(t, LoggerOptions{})
		logger.Info("dup", zap.String("k", "first"), zap.String("k", "second"))

		line := buf.String()
		assert.Equal(t, 1, strings.Count(line, `"k":`))
		recs := decodeLines(t, buf)
		assert.Equal(t, "second", recs[0]["k"])
	})

	t.Run("Should stringify values that cannot be encoded", func(t *testing.T) {
		logger, buf := newTestLogger(t, LoggerOptions{})
		logger.Info("odd", zap.Any("ch", make(chan int)), zap.Any("fn", func() {}))

		recs := decodeLines(t, buf)
		require.Len(t, recs, 1)
		assert.IsType(t, "", recs[0]["ch"])
		assert.IsType(t, "", recs[0]["fn"])
	})
}

func TestContextLogger(t *testing.T) {
	t.Run("Should attach the correlation id", func(t *testing.T) {
		base, buf := newTestLogger(t, LoggerOptions{})
		logger := NewContextLogger(base)
		ctx := WithCorrelationID(context.Background(), "abc-123")

		logger.Info(ctx, "with id")
		logger.Info(context.Background(), "without id")

		recs := decodeLines(t, buf)
		require.Len(t, recs, 2)
		assert.Equal(t, "abc-123", recs[0][CorrelationIDKey])
		assert.NotContains(t, recs[1], CorrelationIDKey)
	})

	t.Run("Should not let callers spoof the correlation id", func(t *testing.T) {
		base, buf := newTestLogger(t, LoggerOptions{})
		ctx := WithCorrelationID(context.Background(), "real")
		NewContextLogger(base).Warn(ctx, "spoof", zap.String(CorrelationIDKey, "fake"))

		recs := decodeLines(t, buf)
		require.Len(t, recs, 1)
		assert.Equal(t, "real", recs[0][CorrelationIDKey])
		assert.Equal(t, "fake", recs[0]["field_correlation_id"])
	})

	t.Run("Should attach trace and span ids", func(t *testing.T) {
		base, buf := newTestLogger(t, LoggerOptions{})
		traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
		spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
		ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    traceID,
			SpanID:     spanID,
			TraceFlags: trace.FlagsSampled,
		}))

		NewContextLogger(base).Info(ctx, "traced")

		recs := decodeLines(t, buf)
		require.Len(t, recs, 1)
		assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", recs[0][TraceIDKey])
		assert.Equal(t, "00f067aa0ba902b7", recs[0][SpanIDKey])
	})

	t.Run("Should clamp levels above error", func(t *testing.T) {
		base, buf := newTestLogger(t, LoggerOptions{})
		NewContextLogger(base).Log(context.Background(), zapcore.FatalLevel, "not fatal")

		recs := decodeLines(t, buf)
		require.Len(t, recs, 1)
		assert.Equal(t, "ERROR", recs[0][LevelKey])
	})

	t.Run("Should report the calling function in debug mode", func(t *testing.T) {
		base, buf := newTestLogger(t, LoggerOptions{Debug: true})
		logger := NewContextLogger(base).Named("child").With(zap.String("component", "test"))
		logger.Info(context.Background(), "a")
		logger.Log(context.Background(), zapcore.InfoLevel, "b")
		logger.Zap().Info("c")

		recs := decodeLines(t, buf)
		require.Len(t, recs, 3)
		for _, rec := range recs {
			assert.Contains(t, rec[CallerKey], "logging_test.go")
			assert.Equal(t, "test", rec["component"])
		}
	})

	t.Run("Should discard output for a nil logger", func(t *testing.T) {
		assert.NotPanics(t, func() {
			NewContextLogger(nil).Error(context.Background(), "nowhere")
		})
	})
}
