package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"resilient/internal/models"
	"resilient/internal/transport"
)

// DelayCap bounds a single backoff when the policy sets no MaxDelay.
const DelayCap = 10 * time.Second

// Policy defines which failures are retried and how long to wait.
type Policy struct {
	MaxRetries           int
	BaseDelay            time.Duration
	MaxDelay             time.Duration
	MaxJitter            time.Duration
	RetryableStatusCodes []int
	RetryableMethods     []models.Method
}

// DefaultPolicy retries idempotent verbs on timeouts, rate limiting and 5xx.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:           3,
		BaseDelay:            time.Second,
		MaxDelay:             DelayCap,
		MaxJitter:            time.Second,
		RetryableStatusCodes: []int{408, 429, 500, 502, 503, 504},
		RetryableMethods: []models.Method{
			models.MethodGet,
			models.MethodHead,
			models.MethodOptions,
			models.MethodPut,
			models.MethodDelete,
		},
	}
}

// withDefaults fills the lists and the ceiling when left empty.
func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.RetryableStatusCodes == nil {
		p.RetryableStatusCodes = def.RetryableStatusCodes
	}
	if p.RetryableMethods == nil {
		p.RetryableMethods = def.RetryableMethods
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	return p
}

// NextDelay returns the wait before retry n (0-indexed):
// min(BaseDelay*2^n + jitter, MaxDelay).
func (p Policy) NextDelay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	ceiling := p.MaxDelay
	if ceiling <= 0 {
		ceiling = DelayCap
	}

	delay := float64(p.BaseDelay) * math.Pow(2, float64(n))
	if p.MaxJitter > 0 {
		delay += float64(rand.Int64N(int64(p.MaxJitter)))
	}
	if delay >= float64(ceiling) {
		return ceiling
	}
	return time.Duration(delay)
}

// ShouldRetry decides whether a failed attempt may be repeated.
func (p Policy) ShouldRetry(ctx context.Context, method models.Method, err error, skip bool) bool {
	if err == nil || skip {
		return false
	}
	if !slices.Contains(p.RetryableMethods, method) {
		return false
	}
	if ctx.Err() != nil {
		return false
	}

	var statusErr *transport.StatusError
	if !errors.As(err, &statusErr) || statusErr.Response == nil {
		return true
	}
	return slices.Contains(p.RetryableStatusCodes, statusErr.Response.StatusCode)
}
