package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/keygate/internal/observability"
)

func enabledConfig() *Config {
	cfg := DefaultConfig()
	cfg.Enabled = true
	return cfg
}

func TestNewLogger_DisabledIsNoop(t *testing.T) {
	t.Parallel()

	for _, cfg := range []*Config{nil, DefaultConfig()} {
		l, err := NewLogger(cfg)
		require.NoError(t, err)
		assert.IsType(t, noopLogger{}, l)
		l.LogEvent(context.Background(), AuthenticationEvent(ActionLogin, OutcomeSuccess, "alice"))
		assert.NoError(t, l.Close())
	}
}

func TestNewLogger_InvalidFormat(t *testing.T) {
	t.Parallel()

	cfg := enabledConfig()
	cfg.Format = "xml"
	_, err := NewLogger(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid audit format")
}

func TestLogEvent_JSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l, err := NewLogger(enabledConfig(), WithWriter(&buf))
	require.NoError(t, err)

	ctx := observability.ContextWithRequestID(context.Background(), "req-1")
	l.LogEvent(ctx, AuthenticationEvent(ActionLogin, OutcomeFailure, "alice").
		WithClient("10.0.0.1").
		WithResource("POST", "/api/authenticate").
		WithReason("WrongCredentials").
		WithMetadata("password_hint", "s3cret").
		WithMetadata("key_version", 2))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "authentication", got["type"])
	assert.Equal(t, "login", got["action"])
	assert.Equal(t, "failure", got["outcome"])
	assert.Equal(t, "alice", got["subject"])
	assert.Equal(t, "10.0.0.1", got["client_ip"])
	assert.Equal(t, "req-1", got["request_id"])
	assert.NotEmpty(t, got["id"])

	meta, ok := got["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, redactedValue, meta["password_hint"])
	assert.EqualValues(t, 2, meta["key_version"])
	assert.NotContains(t, buf.String(), "s3cret")
}

func TestLogEvent_Text(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	cfg := enabledConfig()
	cfg.Format = FormatText
	l, err := NewLogger(cfg, WithWriter(&buf))
	require.NoError(t, err)

	l.LogEvent(context.Background(), SecurityEvent(ActionRateLimitExceeded, OutcomeDenied).
		WithClient("192.0.2.7").
		WithResource("POST", "/api/authenticate"))

	line := buf.String()
	assert.True(t, strings.HasSuffix(line, "\n"))
	assert.Contains(t, line, "security rate_limit_exceeded denied")
	assert.Contains(t, line, "client_ip=192.0.2.7")
	assert.Contains(t, line, "path=/api/authenticate")
	assert.NotContains(t, line, "subject=")
}

func TestLogEvent_FiltersEventTypes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		events EventsConfig
		event  *Event
		want   bool
	}{
		{
			name:   "authentication off",
			events: EventsConfig{Security: true, Configuration: true},
			event:  AuthenticationEvent(ActionLogin, OutcomeSuccess, "alice"),
		},
		{
			name:   "security on",
			events: EventsConfig{Security: true},
			event:  SecurityEvent(ActionRateLimitExceeded, OutcomeDenied),
			want:   true,
		},
		{
			name:   "configuration off",
			events: EventsConfig{Authentication: true},
			event:  ConfigurationEvent(ActionConfigReload, OutcomeSuccess),
		},
		{
			name:  "unknown type always written",
			event: NewEvent("custom", ActionLogin, OutcomeSuccess),
			want:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			cfg := enabledConfig()
			cfg.Events = tt.events
			l, err := NewLogger(cfg, WithWriter(&buf))
			require.NoError(t, err)

			l.LogEvent(context.Background(), tt.event)
			assert.Equal(t, tt.want, buf.Len() > 0)
		})
	}
}

func TestLogEvent_Metrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := NewMetrics("audittest", reg)
	var buf bytes.Buffer
	l, err := NewLogger(enabledConfig(), WithWriter(&buf), WithMetrics(metrics))
	require.NoError(t, err)

	l.LogEvent(context.Background(), AuthenticationEvent(ActionLogin, OutcomeSuccess, "alice"))
	l.LogEvent(context.Background(), AuthenticationEvent(ActionLogin, OutcomeSuccess, "bob"))
	l.LogEvent(context.Background(), AuthenticationEvent(ActionTokenRefresh, OutcomeFailure, ""))

	assert.InDelta(t, 2, testutil.ToFloat64(metrics.eventsTotal.WithLabelValues("authentication", "login", "success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.eventsTotal.WithLabelValues("authentication", "token_refresh", "failure")), 0)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestLogEvent_WriteFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	l, err := NewLogger(enabledConfig(), WithWriter(failingWriter{}))
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		l.LogEvent(context.Background(), SecurityEvent(ActionRateLimitExceeded, OutcomeDenied))
	})
}

func TestNewLogger_FileOutput(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "audit.log")
	cfg := enabledConfig()
	cfg.Output = path
	l, err := NewLogger(cfg)
	require.NoError(t, err)

	l.LogEvent(context.Background(), ConfigurationEvent(ActionConfigReload, OutcomeSuccess))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"action":"config_reload"`)
}

func TestNewLogger_UnwritableFile(t *testing.T) {
	t.Parallel()

	cfg := enabledConfig()
	cfg.Output = filepath.Join(t.TempDir(), "missing", "audit.log")
	_, err := NewLogger(cfg)
	require.Error(t, err)
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	assert.Equal(t, OutputStdout, cfg.GetEffectiveOutput())
	assert.Equal(t, FormatJSON, cfg.GetEffectiveFormat())
	assert.NoError(t, cfg.Validate())

	var nilCfg *Config
	assert.NoError(t, nilCfg.Validate())
}
