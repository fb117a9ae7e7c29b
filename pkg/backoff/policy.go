// Package backoff decides whether and how long to wait before retrying
// a failed request. The decision is driven by the error class: client
// errors are permanent and never retried, rate limits honor a
// server-supplied wait hint, and the remaining transient classes get
// exponential backoff with jitter.
package backoff

import (
	"math"
	"math/rand"
	"time"

	"github.com/flowsync-io/flowsync/pkg/errors"
)

// Policy defines retry behavior for one request class of operations.
// The zero value is not usable; construct with NewPolicy or DefaultPolicy.
type Policy struct {
	// MaxRetries is the number of delayed retries after the initial
	// attempt. With MaxRetries=3 a permanently failing request is issued
	// 4 times with 3 sleeps in between.
	MaxRetries      int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	RandomizeFactor float64
}

// NewPolicy creates a policy with exponential backoff defaults for the
// fields not supplied.
func NewPolicy(maxRetries int, initialDelay time.Duration) *Policy {
	return &Policy{
		MaxRetries:      maxRetries,
		InitialDelay:    initialDelay,
		MaxDelay:        30 * time.Second,
		Multiplier:      2.0,
		RandomizeFactor: 0.5,
	}
}

// DefaultPolicy returns a sensible default retry policy
func DefaultPolicy() *Policy {
	return NewPolicy(3, 1*time.Second)
}

// NextDelay returns the wait before retry number `retry` (1-based) for
// an error of the given class. The second return value is false when
// the request must not be retried: either the class is permanent or the
// retry budget is exhausted.
//
// retryAfter is the server-supplied wait hint (0 when absent); it takes
// precedence over the computed delay for rate-limited requests.
func (p *Policy) NextDelay(retry int, class errors.ErrorType, retryAfter time.Duration) (time.Duration, bool) {
	if retry > p.MaxRetries {
		return 0, false
	}

	switch class {
	case errors.ErrorTypeRateLimit:
		if retryAfter > 0 {
			if retryAfter > p.MaxDelay {
				return p.MaxDelay, true
			}
			return retryAfter, true
		}
		return p.computeDelay(retry), true
	case errors.ErrorTypeServer, errors.ErrorTypeTimeout, errors.ErrorTypeConnection:
		return p.computeDelay(retry), true
	default:
		// 4xx, config, data and sink errors are permanent
		return 0, false
	}
}

// computeDelay calculates min(maxDelay, base * multiplier^(retry-1))
// with jitter applied.
func (p *Policy) computeDelay(retry int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(retry-1))

	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	if p.RandomizeFactor > 0 {
		delta := delay * p.RandomizeFactor
		minDelay := delay - delta
		maxDelay := delay + delta
		delay = minDelay + (rand.Float64() * (maxDelay - minDelay))
	}

	return time.Duration(delay)
}

// Clone creates a copy of the policy
func (p *Policy) Clone() *Policy {
	return &Policy{
		MaxRetries:      p.MaxRetries,
		InitialDelay:    p.InitialDelay,
		MaxDelay:        p.MaxDelay,
		Multiplier:      p.Multiplier,
		RandomizeFactor: p.RandomizeFactor,
	}
}

// WithMaxRetries returns a new policy with an updated retry budget
func (p *Policy) WithMaxRetries(retries int) *Policy {
	policy := p.Clone()
	policy.MaxRetries = retries
	return policy
}

// WithDelay returns a new policy with updated delay bounds
func (p *Policy) WithDelay(initial, max time.Duration) *Policy {
	policy := p.Clone()
	policy.InitialDelay = initial
	policy.MaxDelay = max
	return policy
}
