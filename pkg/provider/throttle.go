package provider

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Throttle paces calls to a backend. Implementations must be safe for
// concurrent use.
type Throttle interface {
	// Wait blocks until the next call is allowed or the context is done.
	Wait(ctx context.Context) error

	// SetRate updates the allowed calls per minute. Zero means unlimited.
	SetRate(perMinute int)

	// Rate returns the current calls-per-minute limit.
	Rate() int
}

// RateThrottle implements Throttle with a token bucket.
type RateThrottle struct {
	mu        sync.RWMutex
	limiter   *rate.Limiter
	perMinute int
}

// NewRateThrottle creates a throttle allowing perMinute calls per minute
// with a burst of one. Zero or negative means unlimited.
func NewRateThrottle(perMinute int) *RateThrottle {
	t := &RateThrottle{perMinute: perMinute}
	if perMinute > 0 {
		t.limiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1)
	}
	return t
}

// Wait implements Throttle.
func (t *RateThrottle) Wait(ctx context.Context) error {
	t.mu.RLock()
	limiter := t.limiter
	t.mu.RUnlock()

	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}

// SetRate implements Throttle.
func (t *RateThrottle) SetRate(perMinute int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.perMinute = perMinute
	if perMinute <= 0 {
		t.limiter = nil
		return
	}
	t.limiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1)
}

// Rate implements Throttle.
func (t *RateThrottle) Rate() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.perMinute
}

// NullThrottle never blocks. Useful where pacing is configured off.
type NullThrottle struct{}

// Wait implements Throttle.
func (NullThrottle) Wait(context.Context) error { return nil }

// SetRate implements Throttle.
func (NullThrottle) SetRate(int) {}

// Rate implements Throttle.
func (NullThrottle) Rate() int { return 0 }

// Throttled wraps a Provider so every Send first clears the throttle.
type Throttled struct {
	inner    Provider
	throttle Throttle
}

// NewThrottled decorates a provider with call pacing. A nil throttle
// disables pacing.
func NewThrottled(inner Provider, throttle Throttle) *Throttled {
	if throttle == nil {
		throttle = NullThrottle{}
	}
	return &Throttled{inner: inner, throttle: throttle}
}

// Name implements Provider.
func (t *Throttled) Name() string {
	return t.inner.Name()
}

// Send implements Provider.
func (t *Throttled) Send(ctx context.Context, req *Request) (*Response, error) {
	if err := t.throttle.Wait(ctx); err != nil {
		return nil, err
	}
	return t.inner.Send(ctx, req)
}
