package resilience

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/pricekit/repricer/pkg/metrics"
)

const (
	// DefaultMaxRetries is the maximum number of attempts per operation,
	// counting the first call.
	DefaultMaxRetries = 3
	// DefaultRateLimitedDelay is the fixed wait after a throttled attempt.
	DefaultRateLimitedDelay = 30 * time.Second
	// DefaultServerUnavailableDelay is the fixed wait after a remote outage.
	DefaultServerUnavailableDelay = 15 * time.Second
	// DefaultConnectionBaseDelay seeds the doubling wait for transport errors.
	DefaultConnectionBaseDelay = 2 * time.Second
	// DefaultTransientDelay is the fixed short wait for timeouts and other
	// retryable failures.
	DefaultTransientDelay = 3 * time.Second
	// DefaultMaxDelay caps any single wait.
	DefaultMaxDelay = 60 * time.Second
)

// Policy configures retry counts and the per-kind backoff schedule.
// MaxRetries bounds the total attempts made for one operation.
type Policy struct {
	MaxRetries             int
	RateLimitedDelay       time.Duration
	ServerUnavailableDelay time.Duration
	ConnectionBaseDelay    time.Duration
	TransientDelay         time.Duration
	MaxDelay               time.Duration
}

// DefaultPolicy returns the default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:             DefaultMaxRetries,
		RateLimitedDelay:       DefaultRateLimitedDelay,
		ServerUnavailableDelay: DefaultServerUnavailableDelay,
		ConnectionBaseDelay:    DefaultConnectionBaseDelay,
		TransientDelay:         DefaultTransientDelay,
		MaxDelay:               DefaultMaxDelay,
	}
}

// Delay returns the backoff before the given retry attempt (1-based) for a
// failure of the given kind. ConnectionError doubles per attempt; the other
// retryable kinds use fixed waits.
func (p Policy) Delay(kind FailureKind, attempt int) time.Duration {
	var delay time.Duration
	switch kind {
	case FailureRateLimited:
		delay = p.RateLimitedDelay
	case FailureServerUnavailable:
		delay = p.ServerUnavailableDelay
	case FailureConnection:
		delay = p.ConnectionBaseDelay
		for i := 1; i < attempt; i++ {
			delay *= 2
		}
	default:
		delay = p.TransientDelay
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// Executor runs operations with classified retries.
type Executor struct {
	policy Policy
	logger ectologger.Logger
}

// NewExecutor creates an executor. Zero policy fields fall back to defaults.
func NewExecutor(policy Policy, logger ectologger.Logger) *Executor {
	defaults := DefaultPolicy()
	if policy.MaxRetries <= 0 {
		policy.MaxRetries = defaults.MaxRetries
	}
	if policy.RateLimitedDelay <= 0 {
		policy.RateLimitedDelay = defaults.RateLimitedDelay
	}
	if policy.ServerUnavailableDelay <= 0 {
		policy.ServerUnavailableDelay = defaults.ServerUnavailableDelay
	}
	if policy.ConnectionBaseDelay <= 0 {
		policy.ConnectionBaseDelay = defaults.ConnectionBaseDelay
	}
	if policy.TransientDelay <= 0 {
		policy.TransientDelay = defaults.TransientDelay
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = defaults.MaxDelay
	}
	return &Executor{policy: policy, logger: logger}
}

// Execute runs fn with retries. Fatal and Cancelled failures surface
// immediately; retryable kinds wait per the policy schedule between attempts.
// The returned error, when non-nil, is always a *Failure carrying the total
// attempt count.
func (e *Executor) Execute(ctx context.Context, op string, fn func(context.Context) error) error {
	_, err := ExecuteValue(ctx, e, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// ExecuteValue is Execute for operations that produce a value.
func ExecuteValue[T any](ctx context.Context, e *Executor, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			f := NewFailure(FailureCancelled, op, err)
			f.Attempts = attempt
			return zero, f
		}

		value, err := fn(ctx)
		if err == nil {
			return value, nil
		}

		failure := classify(op, err)
		failure.Attempts = attempt + 1

		if !failure.Kind.Retryable() {
			if failure.Kind == FailureFatal {
				e.logger.WithContext(ctx).WithError(failure.Err).Errorf("%s failed fatally", op)
			}
			return zero, failure
		}

		if failure.Attempts >= e.policy.MaxRetries {
			e.logger.WithContext(ctx).WithError(failure.Err).Warnf("%s exhausted %d attempts (%s)", op, failure.Attempts, failure.Kind)
			return zero, failure
		}

		delay := e.policy.Delay(failure.Kind, attempt+1)
		if failure.RetryAfter > delay {
			delay = failure.RetryAfter
		}
		metrics.RecordRetry(op, string(failure.Kind), delay.Seconds())
		e.logger.WithContext(ctx).Warnf("%s failed (%s), retrying in %v (attempt %d/%d)", op, failure.Kind, delay, attempt+1, e.policy.MaxRetries)

		if err := sleepContext(ctx, delay); err != nil {
			f := NewFailure(FailureCancelled, op, err)
			f.Attempts = failure.Attempts
			return zero, f
		}
	}
}

// sleepContext waits for d or until ctx is done, whichever comes first.
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
