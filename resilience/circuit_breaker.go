package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ougajs-sys/easyflows-pro-sub003/metrics"
)

// CircuitBreaker is a generic circuit breaker implementation.
//
// The breaker opens after FailureThreshold consecutive failures. While open,
// calls fail with ErrCircuitOpen until ResetTimeout has passed since the last
// failure; the next call then moves the breaker to half-open and runs as the
// single trial. Construct one breaker per guarded dependency.
type CircuitBreaker[T any] struct {
	mu          sync.Mutex
	state       CircuitState
	failures    int
	lastFailure time.Time
	trialActive bool
	// generation changes on every transition so that results of calls admitted
	// under an earlier state are not applied to the current one.
	generation uint64

	config   CircuitBreakerConfig
	name     string
	now      func() time.Time
	logger   *zap.Logger
	metrics  *metrics.CallMetrics
	listener StateChangeListener
}

var errPanicked = errors.New("circuit breaker: call did not return")

type transition struct {
	from, to CircuitState
	failures int
}

type ticket struct {
	state      CircuitState
	generation uint64
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker[T any](config CircuitBreakerConfig, opts ...Option) (*CircuitBreaker[T], error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	o := buildOptions(opts)
	return &CircuitBreaker[T]{
		state:    StateClosed,
		config:   config,
		name:     o.name,
		now:      o.clock,
		logger:   o.logger.With(zap.String("breaker", o.name)),
		metrics:  o.metrics,
		listener: o.listener,
	}, nil
}

// Execute runs fn with circuit breaker protection. fn's error is returned as-is;
// ErrCircuitOpen is returned without calling fn when the circuit is open.
func (cb *CircuitBreaker[T]) Execute(ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T

	t, tr, ok := cb.admit()
	cb.notify(tr)
	if !ok {
		cb.metrics.CallRejected()
		cb.logger.Debug("call rejected", zap.Stringer("state", t.state))
		trace.SpanFromContext(ctx).AddEvent("circuit.rejected", trace.WithAttributes(
			attribute.String("circuit.name", cb.name),
			attribute.String("circuit.state", t.state.String()),
		))
		return zero, ErrCircuitOpen
	}

	completed := false
	defer func() {
		// fn panicked or called runtime.Goexit; record it as a failure,
		// which also releases the half-open trial.
		if !completed {
			cb.notify(cb.record(t, errPanicked))
		}
	}()

	result, err := fn()
	completed = true
	cb.notify(cb.record(t, err))
	if err != nil {
		return zero, err
	}
	return result, nil
}

// ExecuteWithFallback runs the function with circuit breaker and fallback.
// fallback receives either fn's error or ErrCircuitOpen.
func (cb *CircuitBreaker[T]) ExecuteWithFallback(
	ctx context.Context,
	fn func() (T, error),
	fallback func(error) (T, error),
) (T, error) {
	result, err := cb.Execute(ctx, fn)
	if err != nil {
		return fallback(err)
	}
	return result, nil
}

func (cb *CircuitBreaker[T]) admit() (ticket, *transition, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	var tr *transition
	if cb.state == StateOpen {
		if cb.now().Sub(cb.lastFailure) < cb.config.ResetTimeout {
			return ticket{state: StateOpen}, nil, false
		}
		tr = cb.setState(StateHalfOpen)
	}

	if cb.state == StateHalfOpen {
		if cb.trialActive {
			return ticket{state: StateHalfOpen}, tr, false
		}
		cb.trialActive = true
	}

	return ticket{state: cb.state, generation: cb.generation}, tr, true
}

func (cb *CircuitBreaker[T]) record(t ticket, err error) *transition {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if t.generation != cb.generation {
		return nil
	}

	switch cb.state {
	case StateClosed:
		if err == nil {
			cb.failures = 0
			return nil
		}
		cb.failures++
		cb.lastFailure = cb.now()
		if cb.failures >= cb.config.FailureThreshold {
			return cb.setState(StateOpen)
		}
	case StateHalfOpen:
		cb.trialActive = false
		if err == nil {
			cb.failures = 0
			return cb.setState(StateClosed)
		}
		cb.failures++
		cb.lastFailure = cb.now()
		return cb.setState(StateOpen)
	}
	return nil
}

// setState must be called with cb.mu held.
func (cb *CircuitBreaker[T]) setState(to CircuitState) *transition {
	from := cb.state
	cb.state = to
	cb.generation++
	if to != StateHalfOpen {
		cb.trialActive = false
	}
	return &transition{from: from, to: to, failures: cb.failures}
}

func (cb *CircuitBreaker[T]) notify(tr *transition) {
	if tr == nil {
		return
	}

	fields := []zap.Field{
		zap.Stringer("from", tr.from),
		zap.Stringer("to", tr.to),
		zap.Int("failures", tr.failures),
	}
	switch tr.to {
	case StateOpen:
		cb.metrics.BreakerTripped()
		if tr.from == StateHalfOpen {
			cb.logger.Warn("circuit breaker re-opened after failed trial call", fields...)
		} else {
			cb.logger.Warn("circuit breaker opened", append(fields, zap.Duration("reset_timeout", cb.config.ResetTimeout))...)
		}
	case StateHalfOpen:
		cb.logger.Info("circuit breaker half-open, admitting trial call", fields...)
	case StateClosed:
		cb.logger.Info("circuit breaker closed", fields...)
	}

	if cb.listener != nil {
		cb.listener(cb.name, tr.from, tr.to)
	}
}

// State returns the current state of the circuit breaker. An open breaker
// whose timeout has elapsed still reports StateOpen until the next call.
func (cb *CircuitBreaker[T]) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the consecutive failure count
func (cb *CircuitBreaker[T]) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// LastFailure returns the time of the last recorded failure, or the zero time
func (cb *CircuitBreaker[T]) LastFailure() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.lastFailure
}

// Reset forces the circuit breaker back to closed state
func (cb *CircuitBreaker[T]) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.failures = 0
	cb.lastFailure = time.Time{}
	cb.trialActive = false
	cb.generation++
	cb.mu.Unlock()

	cb.logger.Info("circuit breaker reset", zap.Stringer("from", from))
	if from != StateClosed && cb.listener != nil {
		cb.listener(cb.name, from, StateClosed)
	}
}
