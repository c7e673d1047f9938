package retry

import (
	"context"
	"time"

	"resilient/internal/apierr"
	"resilient/internal/logging"
	"resilient/internal/metrics"
	"resilient/internal/transport"

	"github.com/rs/zerolog"
)

// CallOptions tune a single Execute call.
type CallOptions struct {
	SkipRetry bool
	Policy    *Policy
}

// Interceptor executes one operation with retries on transient failures.
// It never queues.
type Interceptor struct {
	transport transport.Transport
	policy    Policy
	logger    zerolog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewInterceptor wraps t with policy.
func NewInterceptor(t transport.Transport, policy Policy, logger *zerolog.Logger) *Interceptor {
	return &Interceptor{
		transport: t,
		policy:    policy.withDefaults(),
		logger:    logging.Component(logger, "retry"),
		sleep:     sleepContext,
	}
}

// Policy returns the effective default policy.
func (i *Interceptor) Policy() Policy {
	return i.policy
}

// Execute runs req, retrying as the policy allows. Failures are always
// returned as *apierr.Error.
func (i *Interceptor) Execute(ctx context.Context, req transport.Request, opts CallOptions) (*transport.Response, error) {
	policy := i.policy
	if opts.Policy != nil {
		policy = opts.Policy.withDefaults()
	}

	attempt := 0
	for {
		resp, err := i.transport.Execute(ctx, req)
		if err == nil {
			return resp, nil
		}

		if attempt >= policy.MaxRetries || !policy.ShouldRetry(ctx, req.Method, err, opts.SkipRetry) {
			apiErr := apierr.Classify(err)
			apiErr.Attempts = attempt + 1
			return nil, apiErr
		}

		delay := policy.NextDelay(attempt)
		attempt++
		metrics.IncRetry(string(req.Method))
		i.logger.Debug().
			Err(err).
			Str("method", string(req.Method)).
			Str("target", req.Target).
			Int("attempt", attempt).
			Int("max_retries", policy.MaxRetries).
			Dur("delay", delay).
			Msg("retrying request")

		if err := i.sleep(ctx, delay); err != nil {
			apiErr := apierr.Classify(err)
			apiErr.Attempts = attempt
			return nil, apiErr
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
