// Package retry provides backoff strategies for transient provider failures.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/hookline/hookline/pkg/errors"
)

// Strategy decides whether and when a failed operation is attempted again.
type Strategy interface {
	// ShouldRetry reports whether the error at the given attempt warrants
	// another try. Attempts are zero-based.
	ShouldRetry(err error, attempt int) bool

	// NextDelay returns the pause before the given attempt's retry.
	NextDelay(attempt int) time.Duration

	// MaxAttempts returns the retry budget, not counting the first attempt.
	MaxAttempts() int
}

// ExponentialStrategy implements exponential backoff with optional jitter.
type ExponentialStrategy struct {
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool
	JitterFactor  float64
	RetryChecker  func(error) bool
}

// NewExponentialStrategy returns an exponential strategy with defaults
// sized for AI provider calls.
func NewExponentialStrategy() *ExponentialStrategy {
	return &ExponentialStrategy{
		MaxRetries:    3,
		BaseDelay:     1 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
		JitterFactor:  0.1,
		RetryChecker:  errors.IsRetryable,
	}
}

// WithMaxRetries returns a copy with the retry budget changed.
func (s *ExponentialStrategy) WithMaxRetries(maxRetries int) *ExponentialStrategy {
	out := *s
	out.MaxRetries = maxRetries
	return &out
}

// WithBaseDelay returns a copy with the first-retry delay changed.
func (s *ExponentialStrategy) WithBaseDelay(baseDelay time.Duration) *ExponentialStrategy {
	out := *s
	out.BaseDelay = baseDelay
	return &out
}

// WithMaxDelay returns a copy with the delay cap changed.
func (s *ExponentialStrategy) WithMaxDelay(maxDelay time.Duration) *ExponentialStrategy {
	out := *s
	out.MaxDelay = maxDelay
	return &out
}

// WithJitter returns a copy with jitter configured.
func (s *ExponentialStrategy) WithJitter(enabled bool, factor float64) *ExponentialStrategy {
	out := *s
	out.Jitter = enabled
	out.JitterFactor = factor
	return &out
}

// ShouldRetry implements Strategy.
func (s *ExponentialStrategy) ShouldRetry(err error, attempt int) bool {
	if attempt >= s.MaxRetries {
		return false
	}
	if s.RetryChecker != nil {
		return s.RetryChecker(err)
	}
	return errors.IsRetryable(err)
}

// NextDelay implements Strategy.
func (s *ExponentialStrategy) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return s.BaseDelay
	}

	// Large attempt numbers would overflow the multiplication below.
	if attempt > 50 {
		return s.maybeJitter(s.MaxDelay)
	}

	power := math.Pow(s.BackoffFactor, float64(attempt))
	if power > float64(s.MaxDelay)/float64(s.BaseDelay) {
		return s.maybeJitter(s.MaxDelay)
	}

	delay := time.Duration(float64(s.BaseDelay) * power)
	if delay > s.MaxDelay || delay < 0 {
		delay = s.MaxDelay
	}

	return s.maybeJitter(delay)
}

// MaxAttempts implements Strategy.
func (s *ExponentialStrategy) MaxAttempts() int {
	return s.MaxRetries
}

func (s *ExponentialStrategy) maybeJitter(delay time.Duration) time.Duration {
	if !s.Jitter {
		return delay
	}

	// #nosec G404 - retry jitter does not require cryptographic randomness
	jitter := time.Duration(float64(delay) * s.JitterFactor * (rand.Float64()*2 - 1))
	jittered := delay + jitter

	if jittered < delay/2 {
		jittered = delay / 2
	}
	if jittered > delay*2 {
		jittered = delay * 2
	}

	return jittered
}

// ConstantStrategy retries at a fixed interval.
type ConstantStrategy struct {
	MaxRetries   int
	Delay        time.Duration
	RetryChecker func(error) bool
}

// NewConstantStrategy returns a constant-delay strategy.
func NewConstantStrategy(maxRetries int, delay time.Duration) *ConstantStrategy {
	return &ConstantStrategy{
		MaxRetries:   maxRetries,
		Delay:        delay,
		RetryChecker: errors.IsRetryable,
	}
}

// ShouldRetry implements Strategy.
func (s *ConstantStrategy) ShouldRetry(err error, attempt int) bool {
	if attempt >= s.MaxRetries {
		return false
	}
	if s.RetryChecker != nil {
		return s.RetryChecker(err)
	}
	return errors.IsRetryable(err)
}

// NextDelay implements Strategy.
func (s *ConstantStrategy) NextDelay(int) time.Duration {
	return s.Delay
}

// MaxAttempts implements Strategy.
func (s *ConstantStrategy) MaxAttempts() int {
	return s.MaxRetries
}

// Do executes an operation with the given strategy, honoring context
// cancellation both before each attempt and during backoff waits.
func Do(ctx context.Context, strategy Strategy, operation func() error) error {
	var lastErr error

	for attempt := 0; attempt <= strategy.MaxAttempts(); attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !strategy.ShouldRetry(err, attempt) {
			break
		}
		if attempt >= strategy.MaxAttempts() {
			break
		}

		timer := time.NewTimer(strategy.NextDelay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}
