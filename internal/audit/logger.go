package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/keygate/internal/observability"
)

const redactedValue = "[REDACTED]"

// Logger writes audit events.
type Logger interface {
	// LogEvent writes event if its type is enabled.
	LogEvent(ctx context.Context, event *Event)

	// Close releases the output.
	Close() error
}

// Metrics counts written audit events.
type Metrics struct {
	eventsTotal *prometheus.CounterVec
}

// NewMetrics registers <namespace>_audit_events_total on registerer.
func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = observability.DefaultNamespace
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "events_total",
				Help:      "Total number of audit events",
			},
			[]string{"type", "action", "outcome"},
		),
	}
	_ = registerer.Register(m.eventsTotal)
	return m
}

func (m *Metrics) record(e *Event) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(string(e.Type), string(e.Action), string(e.Outcome)).Inc()
}

type logger struct {
	config  *Config
	writer  io.Writer
	closer  io.Closer
	logger  observability.Logger
	metrics *Metrics

	mu sync.Mutex
}

// LoggerOption configures the audit logger.
type LoggerOption func(*logger)

// WithLogger sets the logger used to report write failures.
func WithLogger(l observability.Logger) LoggerOption {
	return func(lg *logger) {
		lg.logger = l
	}
}

// WithMetrics sets the event counter.
func WithMetrics(m *Metrics) LoggerOption {
	return func(lg *logger) {
		lg.metrics = m
	}
}

// WithWriter overrides the configured output.
func WithWriter(w io.Writer) LoggerOption {
	return func(lg *logger) {
		lg.writer = w
	}
}

// NewLogger creates an audit logger. A nil or disabled config yields a
// no-op logger.
func NewLogger(cfg *Config, opts ...LoggerOption) (Logger, error) {
	if cfg == nil || !cfg.Enabled {
		return NewNoopLogger(), nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l := &logger{
		config: cfg,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.writer == nil {
		w, c, err := openOutput(cfg.GetEffectiveOutput())
		if err != nil {
			return nil, err
		}
		l.writer = w
		l.closer = c
	}
	return l, nil
}

func openOutput(output string) (io.Writer, io.Closer, error) {
	switch output {
	case OutputStdout:
		return os.Stdout, nil, nil
	case OutputStderr:
		return os.Stderr, nil, nil
	default:
		file, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // operator-supplied path
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open audit log file: %w", err)
		}
		return file, file, nil
	}
}

func (l *logger) LogEvent(ctx context.Context, event *Event) {
	if event == nil || !l.config.shouldAudit(event.Type) {
		return
	}

	if event.RequestID == "" {
		event.RequestID = observability.RequestIDFromContext(ctx)
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		if event.TraceID == "" {
			event.TraceID = sc.TraceID().String()
		}
		if event.SpanID == "" {
			event.SpanID = sc.SpanID().String()
		}
	}
	l.redact(event)

	l.metrics.record(event)
	l.write(event)
}

func (l *logger) redact(event *Event) {
	for key := range event.Metadata {
		if l.sensitive(key) {
			event.Metadata[key] = redactedValue
		}
	}
}

func (l *logger) sensitive(key string) bool {
	key = strings.ToLower(key)
	for _, field := range l.config.RedactFields {
		if strings.Contains(key, strings.ToLower(field)) {
			return true
		}
	}
	return false
}

func (l *logger) write(event *Event) {
	var out []byte
	if l.config.GetEffectiveFormat() == FormatText {
		out = []byte(formatText(event))
	} else {
		data, err := json.Marshal(event)
		if err != nil {
			l.logger.Error("failed to marshal audit event", observability.Error(err))
			return
		}
		out = append(data, '\n')
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.writer.Write(out); err != nil {
		l.logger.Error("failed to write audit event", observability.Error(err))
	}
}

func formatText(e *Event) string {
	var sb strings.Builder
	sb.WriteString(e.Timestamp.Format(time.RFC3339))
	for _, part := range []string{string(e.Type), string(e.Action), string(e.Outcome)} {
		sb.WriteByte(' ')
		sb.WriteString(part)
	}
	pairs := []struct{ key, value string }{
		{"subject", e.Subject},
		{"client_ip", e.ClientIP},
		{"path", e.Path},
		{"reason", e.Reason},
		{"request_id", e.RequestID},
		{"trace_id", e.TraceID},
	}
	for _, p := range pairs {
		if p.value == "" {
			continue
		}
		sb.WriteByte(' ')
		sb.WriteString(p.key)
		sb.WriteByte('=')
		sb.WriteString(p.value)
	}
	sb.WriteByte('\n')
	return sb.String()
}

func (l *logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

type noopLogger struct{}

// NewNoopLogger returns a logger that drops every event.
func NewNoopLogger() Logger {
	return noopLogger{}
}

func (noopLogger) LogEvent(context.Context, *Event) {}
func (noopLogger) Close() error                     { return nil }

var (
	_ Logger = (*logger)(nil)
	_ Logger = noopLogger{}
)
