package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ougajs-sys/easyflows-pro-sub003/metrics"
)

// Policy defines retry behavior configuration
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	// RetryableCodes are error codes retried regardless of the error message.
	RetryableCodes []string
}

// DefaultPolicy returns default retry configuration. Callers override
// individual fields on the returned value.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:        3,
		InitialDelay:      time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		RetryableCodes:    []string{CodeConnReset, CodeTimedOut, CodeNotFound, CodeDNSAgain},
	}
}

// Validate checks the policy bounds
func (p Policy) Validate() error {
	switch {
	case p.MaxRetries < 0:
		return fmt.Errorf("%w: max retries must not be negative", ErrInvalidPolicy)
	case p.InitialDelay < 0:
		return fmt.Errorf("%w: initial delay must not be negative", ErrInvalidPolicy)
	case p.MaxDelay < p.InitialDelay:
		return fmt.Errorf("%w: max delay %v is below initial delay %v", ErrInvalidPolicy, p.MaxDelay, p.InitialDelay)
	case p.BackoffMultiplier < 1:
		return fmt.Errorf("%w: backoff multiplier must be at least 1", ErrInvalidPolicy)
	}
	return nil
}

// Executor runs operations with capped exponential backoff. It is immutable
// and safe for concurrent use; every call keeps its own backoff state.
type Executor struct {
	policy    Policy
	retryable Classifier
	name      string
	logger    *zap.Logger
	metrics   *metrics.CallMetrics
	newTimer  func() backoff.Timer
}

// NewExecutor creates an executor for policy
func NewExecutor(policy Policy, opts ...Option) (*Executor, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	o := buildOptions(opts)
	retryable := o.classifier
	if retryable == nil {
		retryable = DefaultClassifier(policy.RetryableCodes)
	}

	return &Executor{
		policy:    policy,
		retryable: retryable,
		name:      o.name,
		logger:    o.logger,
		metrics:   o.metrics,
		newTimer:  o.newTimer,
	}, nil
}

// Policy returns the executor's retry policy
func (e *Executor) Policy() Policy {
	return e.policy
}

// Do executes fn, retrying transient failures. The error of the last attempt
// is returned unwrapped.
func Do[T any](ctx context.Context, e *Executor, fn func() (T, error)) (T, error) {
	return run(ctx, e, e.retryable, fn)
}

// Retry executes fn with a one-off executor built from policy
func Retry[T any](ctx context.Context, fn func() (T, error), policy Policy, opts ...Option) (T, error) {
	e, err := NewExecutor(policy, opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	return Do(ctx, e, fn)
}

// RetryWithFallback executes fn with retry logic and hands the final error to fallback
func RetryWithFallback[T any](
	ctx context.Context,
	fn func() (T, error),
	fallback func(error) (T, error),
	policy Policy,
	opts ...Option,
) (T, error) {
	result, err := Retry(ctx, fn, policy, opts...)
	if err != nil {
		return fallback(err)
	}
	return result, nil
}

func run[T any](ctx context.Context, e *Executor, retryable Classifier, fn func() (T, error)) (T, error) {
	var (
		zero      T
		attempt   int
		permanent bool
	)
	span := trace.SpanFromContext(ctx)
	log := e.logger.With(zap.String("operation", e.name))

	e.metrics.CallStarted()

	op := func() (T, error) {
		attempt++
		e.metrics.AttemptMade()

		result, err := fn()
		if err == nil {
			return result, nil
		}
		if !retryable(err) {
			permanent = true
			return zero, backoff.Permanent(err)
		}
		// The last attempt's error is returned as-is even when ctx is already done.
		if attempt > e.policy.MaxRetries {
			return zero, backoff.Permanent(err)
		}
		return zero, err
	}

	notify := func(err error, delay time.Duration) {
		e.metrics.RetryScheduled(delay)
		log.Warn("attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		span.AddEvent("retry.attempt_failed", trace.WithAttributes(
			attribute.Int("retry.attempt", attempt),
			attribute.Int64("retry.delay_ms", delay.Milliseconds()),
			attribute.String("retry.error", err.Error()),
		))
	}

	var timer backoff.Timer
	if e.newTimer != nil {
		timer = e.newTimer()
	}

	result, err := backoff.RetryNotifyWithTimerAndData(op, e.backOff(ctx), notify, timer)
	if err == nil {
		e.metrics.CallSucceeded()
		return result, nil
	}

	e.metrics.CallFailed()
	msg := "retries exhausted"
	if permanent {
		msg = "non-retryable failure"
	}
	log.Error(msg,
		zap.Int("attempt", attempt),
		zap.Duration("delay", 0),
		zap.Error(err),
	)
	span.AddEvent("retry.attempt_failed", trace.WithAttributes(
		attribute.Int("retry.attempt", attempt),
		attribute.Int64("retry.delay_ms", 0),
		attribute.String("retry.error", err.Error()),
		attribute.Bool("retry.final", true),
	))
	return zero, err
}

// backOff builds the delay sequence min(InitialDelay * BackoffMultiplier^n, MaxDelay)
// bounded to MaxRetries retries.
func (e *Executor) backOff(ctx context.Context) backoff.BackOff {
	exp := &backoff.ExponentialBackOff{
		InitialInterval:     e.policy.InitialDelay,
		RandomizationFactor: 0,
		Multiplier:          e.policy.BackoffMultiplier,
		MaxInterval:         e.policy.MaxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	exp.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(e.policy.MaxRetries)), ctx)
}
