package observability

import (
	"context"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logger used by every package of the service.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)
	With(fields ...Field) Logger
	WithContext(ctx context.Context) Logger
	Sync() error
}

// LevelSetter is implemented by loggers whose level can change at runtime.
type LevelSetter interface {
	SetLevel(level string) error
}

// Field is one structured log field.
type Field = zap.Field

// Field constructors.
var (
	String   = zap.String
	Int      = zap.Int
	Int64    = zap.Int64
	Bool     = zap.Bool
	Error    = zap.Error
	Any      = zap.Any
	Duration = zap.Duration
	Time     = zap.Time
)

// LogConfig selects level, encoding and destination.
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json or console
	Output string // stdout or stderr
}

// DefaultLogConfig returns info-level JSON on stdout.
func DefaultLogConfig() LogConfig {
	return LogConfig{Level: "info", Format: "json", Output: "stdout"}
}

// zapLogger shares one AtomicLevel with every logger derived from it.
type zapLogger struct {
	logger *zap.Logger
	level  zap.AtomicLevel
}

// NewLogger builds a zap-backed logger from cfg.
func NewLogger(cfg LogConfig) (Logger, error) {
	lvl, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	level := zap.NewAtomicLevelAt(lvl)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.MessageKey = "message"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeDuration = zapcore.MillisDurationEncoder

	var enc zapcore.Encoder
	if cfg.Format == "console" {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	sink := zapcore.Lock(os.Stdout)
	if cfg.Output == "stderr" {
		sink = zapcore.Lock(os.Stderr)
	}

	core := zapcore.NewCore(enc, sink, level)
	return &zapLogger{
		logger: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)),
		level:  level,
	}, nil
}

// NewLoggerFromZap wraps an existing zap logger, typically one built on a
// zaptest observer core.
func NewLoggerFromZap(logger *zap.Logger) Logger {
	return &zapLogger{logger: logger, level: zap.NewAtomicLevelAt(zapcore.DebugLevel)}
}

// NopLogger returns a logger that discards everything.
func NopLogger() Logger {
	return &zapLogger{logger: zap.NewNop(), level: zap.NewAtomicLevel()}
}

func parseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	return zapcore.ParseLevel(s)
}

func (l *zapLogger) Debug(msg string, fields ...Field) { l.logger.Debug(msg, fields...) }
func (l *zapLogger) Info(msg string, fields ...Field)  { l.logger.Info(msg, fields...) }
func (l *zapLogger) Warn(msg string, fields ...Field)  { l.logger.Warn(msg, fields...) }
func (l *zapLogger) Error(msg string, fields ...Field) { l.logger.Error(msg, fields...) }
func (l *zapLogger) Fatal(msg string, fields ...Field) { l.logger.Fatal(msg, fields...) }
func (l *zapLogger) Sync() error                       { return l.logger.Sync() }

func (l *zapLogger) With(fields ...Field) Logger {
	return &zapLogger{logger: l.logger.With(fields...), level: l.level}
}

// WithContext adds the correlation ids carried by ctx. It returns l itself
// when ctx carries none.
func (l *zapLogger) WithContext(ctx context.Context) Logger {
	c, ok := ctx.Value(correlationKey{}).(correlation)
	if !ok {
		return l
	}
	fields := c.fields()
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}

// SetLevel changes the level of l and of every logger derived from it.
func (l *zapLogger) SetLevel(level string) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}
	l.level.SetLevel(lvl)
	return nil
}

// correlation holds the ids attached to a request context.
type correlation struct {
	correlationID string
	requestID     string
	traceID       string
	spanID        string
}

type correlationKey struct{}

func (c correlation) fields() []Field {
	fields := make([]Field, 0, 4)
	for _, f := range []struct{ key, value string }{
		{"correlation_id", c.correlationID},
		{"request_id", c.requestID},
		{"trace_id", c.traceID},
		{"span_id", c.spanID},
	} {
		if f.value != "" {
			fields = append(fields, String(f.key, f.value))
		}
	}
	return fields
}

func correlationFrom(ctx context.Context) correlation {
	c, _ := ctx.Value(correlationKey{}).(correlation)
	return c
}

// ContextWithCorrelationID returns ctx carrying the correlation id. It is
// generated server side, logged, and never written to a response.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	c := correlationFrom(ctx)
	c.correlationID = id
	return context.WithValue(ctx, correlationKey{}, c)
}

// CorrelationIDFromContext returns the correlation id of ctx, or "".
func CorrelationIDFromContext(ctx context.Context) string {
	return correlationFrom(ctx).correlationID
}

// ContextWithRequestID returns ctx carrying the request id. The id may come
// from the client and only labels logs and traces.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	c := correlationFrom(ctx)
	c.requestID = requestID
	return context.WithValue(ctx, correlationKey{}, c)
}

// RequestIDFromContext returns the request id of ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	return correlationFrom(ctx).requestID
}

// ContextWithTraceID returns ctx carrying the trace id.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	c := correlationFrom(ctx)
	c.traceID = traceID
	return context.WithValue(ctx, correlationKey{}, c)
}

// TraceIDFromContext returns the trace id of ctx, or "".
func TraceIDFromContext(ctx context.Context) string {
	return correlationFrom(ctx).traceID
}

// ContextWithSpanID returns ctx carrying the span id.
func ContextWithSpanID(ctx context.Context, spanID string) context.Context {
	c := correlationFrom(ctx)
	c.spanID = spanID
	return context.WithValue(ctx, correlationKey{}, c)
}

var global atomic.Pointer[Logger]

// SetGlobalLogger installs the process-wide logger. Nil restores the default.
func SetGlobalLogger(logger Logger) {
	if logger == nil {
		global.Store(nil)
		return
	}
	global.Store(&logger)
}

// L returns the process-wide logger, building a default one when none was
// installed.
func L() Logger {
	if p := global.Load(); p != nil {
		return *p
	}
	logger, _ := NewLogger(DefaultLogConfig())
	return logger
}
