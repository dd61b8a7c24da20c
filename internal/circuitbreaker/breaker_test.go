package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/keygate/internal/observability"
)

var errBackend = errors.New("backend down")

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateHalfOpen, "half-open"},
		{StateOpen, "open"},
		{State(42), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.state.String())
		})
	}
}

func TestConfig_Normalize(t *testing.T) {
	t.Parallel()

	cfg := &Config{Enabled: true}
	cfg.normalize()

	assert.Equal(t, DefaultMaxFailures, cfg.MaxFailures)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, DefaultHalfOpenMax, cfg.HalfOpenMax)
	assert.Equal(t, DefaultInterval, cfg.Interval)
}

func TestBreaker_Disabled(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil config", nil},
		{"disabled config", &Config{Enabled: false, MaxFailures: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b := New("vault", tt.cfg)
			for i := 0; i < 5; i++ {
				assert.ErrorIs(t, b.Execute(func() error { return errBackend }), errBackend)
			}
			assert.Equal(t, StateClosed, b.State())
		})
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var transitions []State

	b := New("vault", &Config{Enabled: true, MaxFailures: 2, Timeout: time.Hour},
		WithLogger(observability.NopLogger()),
		WithStateCallback(func(_ string, s State) {
			mu.Lock()
			defer mu.Unlock()
			transitions = append(transitions, s)
		}),
	)

	assert.ErrorIs(t, b.Execute(func() error { return errBackend }), errBackend)
	assert.Equal(t, StateClosed, b.State())
	assert.ErrorIs(t, b.Execute(func() error { return errBackend }), errBackend)
	assert.Equal(t, StateOpen, b.State())

	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateOpen}, transitions)
}

func TestBreaker_RecoversThroughHalfOpen(t *testing.T) {
	t.Parallel()

	b := New("vault", &Config{Enabled: true, MaxFailures: 1, Timeout: 10 * time.Millisecond})

	require.ErrorIs(t, b.Execute(func() error { return errBackend }), errBackend)
	require.Equal(t, StateOpen, b.State())

	require.Eventually(t, func() bool {
		return b.State() == StateHalfOpen
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_IsSuccessful(t *testing.T) {
	t.Parallel()

	ignored := errors.New("not found")
	b := New("vault", &Config{
		Enabled:      true,
		MaxFailures:  1,
		Timeout:      time.Hour,
		IsSuccessful: func(err error) bool { return err == nil || errors.Is(err, ignored) },
	})

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Execute(func() error { return ignored }), ignored)
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_WithMetrics(t *testing.T) {
	t.Parallel()

	m := observability.NewMetrics("cbtest")
	b := New("vault", &Config{Enabled: true, MaxFailures: 1, Timeout: time.Hour}, WithMetrics(m))

	_ = b.Execute(func() error { return errBackend })

	assert.Equal(t, StateOpen, b.State())
	assert.Equal(t, "vault", b.Name())

	count, err := testutil.GatherAndCount(m.Registry(), "cbtest_circuit_breaker_state")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestBreaker_NilReceiver(t *testing.T) {
	t.Parallel()

	var b *Breaker
	assert.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
	assert.Empty(t, b.Name())
}
