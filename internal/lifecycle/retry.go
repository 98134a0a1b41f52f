package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// RetryPolicy bounds channel provisioning attempts.
type RetryPolicy struct {
	MaxAttempts     int           // Total attempts including the first (default 3)
	InitialInterval time.Duration // Wait before the second attempt (default 500ms)
	MaxInterval     time.Duration // Cap on the exponential wait (default 5s)
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// RetryResult reports how a bounded retry ended.
type RetryResult struct {
	Attempts  int
	Exhausted bool  // Every attempt was used and the last one failed
	Err       error // Last error; nil on success
}

// OK reports whether an attempt succeeded.
func (r RetryResult) OK() bool { return r.Err == nil }

// Retry runs op until it succeeds, MaxAttempts is reached, ctx is done, or
// the breaker refuses the call. Waits between attempts back off
// exponentially. A nil breaker runs op directly.
func Retry(ctx context.Context, policy RetryPolicy, cb *gobreaker.CircuitBreaker, op func(ctx context.Context) error) RetryResult {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	var res RetryResult
	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		res.Attempts++

		var err error
		if cb == nil {
			err = op(ctx)
		} else {
			_, err = cb.Execute(func() (interface{}, error) {
				return nil, op(ctx)
			})
		}
		if err == nil {
			return nil
		}

		// Circuit is open - don't retry
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	policy = policy.withDefaults()
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = policy.InitialInterval
	exp.MaxInterval = policy.MaxInterval
	exp.MaxElapsedTime = 0 // bounded by attempts instead

	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(policy.MaxAttempts-1)), ctx)
	res.Err = backoff.Retry(operation, b)
	res.Exhausted = res.Err != nil && res.Attempts >= policy.MaxAttempts
	return res
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.InitialInterval <= 0 {
		p.InitialInterval = def.InitialInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	return p
}

// BreakerSettings configures the breakers handed out by a BreakerRegistry.
type BreakerSettings struct {
	MaxFailures uint32        // Consecutive failures before opening (default 5)
	OpenTimeout time.Duration // How long to stay open before probing (default 30s)
}

// BreakerRegistry manages one circuit breaker per provider so a broken
// assistant CLI stops being retried for every agent that uses it.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	settings BreakerSettings
	log      *slog.Logger
}

// NewBreakerRegistry creates a new circuit breaker registry.
func NewBreakerRegistry(settings BreakerSettings, log *slog.Logger) *BreakerRegistry {
	if settings.MaxFailures == 0 {
		settings.MaxFailures = 5
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &BreakerRegistry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		settings: settings,
		log:      log,
	}
}

// Get returns the circuit breaker for the given provider.
// Creates a new one if it doesn't exist.
func (r *BreakerRegistry) Get(provider string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[provider]; ok {
		return cb
	}

	maxFailures := r.settings.MaxFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        provider,
		MaxRequests: 1, // One trial request while half-open
		Timeout:     r.settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.log.Warn("circuit breaker state change", "provider", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// Don't count cancellation as a provider failure
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})

	r.breakers[provider] = cb
	return cb
}
