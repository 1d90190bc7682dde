package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Keys written by the logger itself. Caller fields using one of these are
// renamed with a field_ prefix and listed under field_collisions.
const (
	TimestampKey  = "timestamp"
	LevelKey      = "level"
	LoggerKey     = "logger"
	MessageKey    = "message"
	CallerKey     = "caller"
	StacktraceKey = "stacktrace"
	TraceIDKey    = "trace_id"
	SpanIDKey     = "span_id"
	CollisionsKey = "field_collisions"
)

var reservedKeys = map[string]struct{}{
	TimestampKey:     {},
	LevelKey:         {},
	LoggerKey:        {},
	MessageKey:       {},
	CorrelationIDKey: {},
	CallerKey:        {},
	StacktraceKey:    {},
	TraceIDKey:       {},
	SpanIDKey:        {},
}

// LoggerOptions configures NewLogger.
type LoggerOptions struct {
	Name   string
	Level  string // debug, info, warn, error
	Format string // json or console
	Output string // stdout or stderr
	Debug  bool   // adds the caller field
}

// NewLogger builds the process logger. The returned AtomicLevel can be used
// to change verbosity at runtime.
func NewLogger(opts LoggerOptions) (*zap.Logger, zap.AtomicLevel, error) {
	var ws zapcore.WriteSyncer
	switch strings.ToLower(opts.Output) {
	case "", "stdout":
		ws = zapcore.Lock(os.Stdout)
	case "stderr":
		ws = zapcore.Lock(os.Stderr)
	default:
		return nil, zap.AtomicLevel{}, fmt.Errorf("unsupported log output %q", opts.Output)
	}
	return NewLoggerTo(opts, ws)
}

// NewLoggerTo is NewLogger with an explicit sink.
func NewLoggerTo(opts LoggerOptions, ws zapcore.WriteSyncer) (*zap.Logger, zap.AtomicLevel, error) {
	level := zap.NewAtomicLevel()
	if opts.Level != "" {
		lvl, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, level, fmt.Errorf("invalid log level: %w", err)
		}
		level.SetLevel(lvl)
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:        TimestampKey,
		LevelKey:       LevelKey,
		NameKey:        LoggerKey,
		MessageKey:     MessageKey,
		StacktraceKey:  StacktraceKey,
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     utcTimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}
	if opts.Debug {
		encCfg.CallerKey = CallerKey
	}

	var enc zapcore.Encoder
	switch strings.ToLower(opts.Format) {
	case "", "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	case "console":
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, level, fmt.Errorf("unsupported log format %q", opts.Format)
	}

	core := &sanitizingCore{Core: zapcore.NewCore(enc, ws, level)}
	zapOpts := []zap.Option{zap.AddStacktrace(zap.ErrorLevel)}
	if opts.Debug {
		zapOpts = append(zapOpts, zap.AddCaller())
	}
	logger := zap.New(core, zapOpts...)
	if opts.Name != "" {
		logger = logger.Named(opts.Name)
	}
	return logger, level, nil
}

func utcTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.UTC().Format(time.RFC3339Nano))
}

// sanitizingCore keeps caller fields from shadowing reserved keys and
// coerces values that cannot be JSON encoded into their string form.
// Fields added through With are held here and cleaned together with the
// call-site fields, so each record carries every key once.
type sanitizingCore struct {
	zapcore.Core
	fields []zapcore.Field
}

func (c *sanitizingCore) With(fields []zapcore.Field) zapcore.Core {
	if len(fields) == 0 {
		return c
	}
	merged := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	merged = append(merged, c.fields...)
	merged = append(merged, fields...)
	return &sanitizingCore{Core: c.Core, fields: merged}
}

func (c *sanitizingCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *sanitizingCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	if len(c.fields) > 0 {
		all := make([]zapcore.Field, 0, len(c.fields)+len(fields))
		all = append(all, c.fields...)
		fields = append(all, fields...)
	}
	return c.Core.Write(ent, sanitizeFields(fields))
}

// ownedField marks fields appended by ContextLogger so they keep their
// reserved key.
type ownedField struct{}

func reservedString(key, value string) zap.Field {
	return zap.Field{Key: key, Type: zapcore.StringType, String: value, Interface: ownedField{}}
}

func isOwned(f zapcore.Field) bool {
	_, ok := f.Interface.(ownedField)
	return ok && f.Type == zapcore.StringType
}

// sanitizeFields renames reserved-key collisions, collapses duplicate keys
// to their last value and stringifies non-serialisable values. The output
// depends only on the input keys, never on map iteration order.
func sanitizeFields(fields []zapcore.Field) []zapcore.Field {
	if len(fields) == 0 {
		return fields
	}
	out := make([]zapcore.Field, 0, len(fields)+1)
	var collisions []string
	for _, f := range fields {
		if _, reserved := reservedKeys[f.Key]; reserved && !isOwned(f) {
			collisions = append(collisions, f.Key)
			f.Key = "field_" + f.Key
		}
		if f.Type == zapcore.ReflectType {
			f = coerceReflect(f)
		}
		out = append(out, f)
	}
	if len(collisions) > 0 {
		out = append(out, zap.Strings(CollisionsKey, dedupeStrings(collisions)))
	}
	return lastWins(out)
}

func coerceReflect(f zapcore.Field) (res zapcore.Field) {
	defer func() {
		if r := recover(); r != nil {
			res = zap.String(f.Key, fmt.Sprintf("%+v", f.Interface))
		}
	}()
	if _, err := json.Marshal(f.Interface); err != nil {
		return zap.String(f.Key, fmt.Sprint(f.Interface))
	}
	return f
}

func lastWins(fields []zapcore.Field) []zapcore.Field {
	seen := make(map[string]int, len(fields))
	for i, f := range fields {
		if f.Type == zapcore.SkipType {
			continue
		}
		seen[f.Key] = i
	}
	if len(seen) == len(fields) {
		return fields
	}
	out := fields[:0:0]
	for i, f := range fields {
		if f.Type == zapcore.SkipType {
			out = append(out, f)
			continue
		}
		if seen[f.Key] == i {
			out = append(out, f)
		}
	}
	return out
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// ContextLogger attaches the correlation id and trace identifiers carried
// by a context to every record.
type ContextLogger struct {
	base *zap.Logger
}

// NewContextLogger wraps logger. A nil logger discards everything.
func NewContextLogger(logger *zap.Logger) *ContextLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContextLogger{base: logger.WithOptions(zap.AddCallerSkip(2))}
}

// Named returns a child logger reporting name under the logger key.
func (l *ContextLogger) Named(name string) *ContextLogger {
	return &ContextLogger{base: l.base.Named(name)}
}

// With returns a child logger carrying fields on every record.
func (l *ContextLogger) With(fields ...zap.Field) *ContextLogger {
	return &ContextLogger{base: l.base.With(fields...)}
}

// Zap exposes the underlying logger for components that log without a
// context.
func (l *ContextLogger) Zap() *zap.Logger {
	return l.base.WithOptions(zap.AddCallerSkip(-2))
}

func (l *ContextLogger) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, zapcore.DebugLevel, msg, fields)
}

func (l *ContextLogger) Info(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, zapcore.InfoLevel, msg, fields)
}

func (l *ContextLogger) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, zapcore.WarnLevel, msg, fields)
}

func (l *ContextLogger) Error(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, zapcore.ErrorLevel, msg, fields)
}

// Log writes one record at level. Levels above error are written as error
// and never panic or exit the process.
func (l *ContextLogger) Log(ctx context.Context, level zapcore.Level, msg string, fields ...zap.Field) {
	l.log(ctx, level, msg, fields)
}

func (l *ContextLogger) log(ctx context.Context, level zapcore.Level, msg string, fields []zap.Field) {
	if level > zapcore.ErrorLevel {
		level = zapcore.ErrorLevel
	}
	ce := l.base.Check(level, msg)
	if ce == nil {
		return
	}
	ce.Write(append(fields, ContextFields(ctx)...)...)
}

// ContextFields returns the correlation and trace fields carried by ctx.
func ContextFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if id, ok := CorrelationID(ctx); ok {
		fields = append(fields, reservedString(CorrelationIDKey, id))
	}
	if ctx != nil {
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields,
				reservedString(TraceIDKey, sc.TraceID().String()),
				reservedString(SpanIDKey, sc.SpanID().String()),
			)
		}
	}
	return fields
}
