package resilience

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCircuitOpen is returned when the circuit breaker refuses a call without running it
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrInvalidPolicy is returned for retry policies that violate their bounds
	ErrInvalidPolicy = errors.New("invalid retry policy")

	// ErrInvalidBreakerConfig is returned for circuit breaker configs that violate their bounds
	ErrInvalidBreakerConfig = errors.New("invalid circuit breaker config")

	// ErrBodyNotReplayable is returned by Fetch when the request body cannot be sent twice
	ErrBodyNotReplayable = errors.New("request body is not replayable (GetBody is nil)")
)

// IsCircuitOpen reports whether err is a rejection by an open circuit breaker
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

// CircuitState represents the state of the circuit breaker
type CircuitState int32

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig defines circuit breaker configuration
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open after the last failure
	// before a single trial call is let through.
	ResetTimeout time.Duration
}

// DefaultCircuitBreakerConfig returns default circuit breaker configuration
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     60 * time.Second,
	}
}

// Validate checks the config bounds
func (c CircuitBreakerConfig) Validate() error {
	if c.FailureThreshold <= 0 {
		return fmt.Errorf("%w: failure threshold must be positive", ErrInvalidBreakerConfig)
	}
	if c.ResetTimeout < 0 {
		return fmt.Errorf("%w: reset timeout must not be negative", ErrInvalidBreakerConfig)
	}
	return nil
}

// Coder is implemented by errors that carry a machine-readable code,
// such as "ECONNRESET".
type Coder interface {
	Code() string
}

// CodeError attaches a code to an error.
type CodeError struct {
	Err     error
	ErrCode string
}

// NewCodeError wraps err with code
func NewCodeError(code string, err error) *CodeError {
	return &CodeError{Err: err, ErrCode: code}
}

func (e *CodeError) Error() string {
	if e.Err == nil {
		return e.ErrCode
	}
	return e.Err.Error()
}

func (e *CodeError) Code() string  { return e.ErrCode }
func (e *CodeError) Unwrap() error { return e.Err }
