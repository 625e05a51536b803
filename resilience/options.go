package resilience

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/ougajs-sys/easyflows-pro-sub003/metrics"
)

// StateChangeListener is called after a circuit breaker changes state.
// It runs outside the breaker's lock.
type StateChangeListener func(name string, from, to CircuitState)

type options struct {
	name       string
	logger     *zap.Logger
	metrics    *metrics.CallMetrics
	classifier Classifier
	clock      func() time.Time
	listener   StateChangeListener

	// newTimer replaces the backoff timer in tests.
	newTimer func() backoff.Timer
}

// Option configures an Executor or a CircuitBreaker
type Option func(*options)

func buildOptions(opts []Option) options {
	o := options{
		logger: zap.NewNop(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.clock == nil {
		o.clock = time.Now
	}
	return o
}

// WithName names the guarded dependency in logs
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithLogger sets the logger used for diagnostic records
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics records call counters into m
func WithMetrics(m *metrics.CallMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClassifier replaces the default retryable-error heuristic of an Executor
func WithClassifier(c Classifier) Option {
	return func(o *options) { o.classifier = c }
}

// WithClock overrides the time source of a CircuitBreaker
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// WithStateChangeListener registers a callback for circuit breaker transitions
func WithStateChangeListener(l StateChangeListener) Option {
	return func(o *options) { o.listener = l }
}
