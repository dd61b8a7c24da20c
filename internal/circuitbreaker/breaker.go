package circuitbreaker

import (
	"errors"

	"github.com/sony/gobreaker"

	"github.com/vyrodovalexey/keygate/internal/observability"
)

// ErrCircuitOpen is returned when the circuit is open or the half-open
// probe budget is spent.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State mirrors gobreaker's state for callers that should not import it.
type State int

const (
	// StateClosed lets every request through.
	StateClosed State = iota
	// StateHalfOpen lets a limited number of probes through.
	StateHalfOpen
	// StateOpen rejects every request.
	StateOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	case gobreaker.StateOpen:
		return StateOpen
	default:
		return StateClosed
	}
}

// StateFunc is called when the breaker changes state.
type StateFunc func(name string, state State)

// Breaker wraps gobreaker.CircuitBreaker.
type Breaker struct {
	name          string
	cb            *gobreaker.CircuitBreaker
	logger        observability.Logger
	stateCallback StateFunc
}

// Option is a functional option for configuring the breaker.
type Option func(*Breaker)

// WithLogger sets the logger for the breaker.
func WithLogger(logger observability.Logger) Option {
	return func(b *Breaker) {
		b.logger = logger
	}
}

// WithStateCallback sets a callback for state changes.
func WithStateCallback(fn StateFunc) Option {
	return func(b *Breaker) {
		b.stateCallback = fn
	}
}

// WithMetrics publishes state changes to the breaker gauge.
func WithMetrics(metrics *observability.Metrics) Option {
	return WithStateCallback(func(name string, state State) {
		metrics.SetCircuitBreakerState(name, int(state))
	})
}

// New creates a breaker. A nil or disabled config yields a pass-through breaker.
func New(name string, cfg *Config, opts ...Option) *Breaker {
	b := &Breaker{
		name:   name,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}

	if cfg == nil || !cfg.Enabled {
		return b
	}

	c := *cfg
	c.normalize()

	maxFailures := uint32(c.MaxFailures) //nolint:gosec // normalized to a small positive value
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(c.HalfOpenMax), //nolint:gosec // normalized to a small positive value
		Interval:    c.Interval,
		Timeout:     c.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("circuit breaker state change",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
			if b.stateCallback != nil {
				b.stateCallback(name, fromGobreaker(to))
			}
		},
		IsSuccessful: c.IsSuccessful,
	}

	b.cb = gobreaker.NewCircuitBreaker(settings)
	return b
}

// Execute runs fn through the breaker. Rejections are reported as ErrCircuitOpen.
func (b *Breaker) Execute(fn func() error) error {
	if b == nil || b.cb == nil {
		return fn()
	}

	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

// State returns the current state. A pass-through breaker is always closed.
func (b *Breaker) State() State {
	if b == nil || b.cb == nil {
		return StateClosed
	}
	return fromGobreaker(b.cb.State())
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	if b == nil {
		return ""
	}
	return b.name
}
