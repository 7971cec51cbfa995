package classify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fuad-ontik/Prime-Bank-Backend/engine/domain"
	"github.com/fuad-ontik/Prime-Bank-Backend/pkg/fn"
	"github.com/fuad-ontik/Prime-Bank-Backend/pkg/resilience"
)

// ResilientOpts configures NewResilient. Zero fields take defaults.
type ResilientOpts struct {
	Retry   fn.RetryOpts
	Breaker resilience.BreakerOpts
	Limiter resilience.LimiterOpts
	// Timeout bounds a single attempt. Zero leaves attempts unbounded.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Resilient decorates a Classifier with a rate limiter, a circuit breaker and
// bounded retries of transient errors.
type Resilient struct {
	next    Classifier
	retry   fn.RetryOpts
	breaker *resilience.Breaker
	limiter *resilience.Limiter
	timeout time.Duration
	log     *slog.Logger
}

func NewResilient(next Classifier, opts ResilientOpts) *Resilient {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	retry := opts.Retry
	if retry.MaxAttempts == 0 {
		retry = fn.DefaultRetry
	}
	retry.Retryable = domain.IsTransient
	retry.OnRetry = func(attempt int, err error) {
		log.Debug("classify retry", "attempt", attempt, "error", err)
	}

	bo := opts.Breaker
	bo.Counts = domain.IsTransient
	bo.OnStateChange = func(from, to resilience.State) {
		log.Warn("classifier breaker", "from", from.String(), "to", to.String())
	}
	return &Resilient{
		next:    next,
		retry:   retry,
		breaker: resilience.NewBreaker(bo),
		limiter: resilience.NewLimiter(opts.Limiter),
		timeout: opts.Timeout,
		log:     log,
	}
}

// Breaker exposes the breaker state for health reporting.
func (r *Resilient) Breaker() *resilience.Breaker { return r.breaker }

func (r *Resilient) Classify(ctx context.Context, text string) (Labels, error) {
	res, attempts := fn.Retry(ctx, r.retry, func(ctx context.Context) fn.Result[Labels] {
		if err := r.limiter.Wait(ctx); err != nil {
			return fn.Err[Labels](err)
		}
		labels, err := resilience.Do(ctx, r.breaker, r.attempt(text))
		return fn.FromPair(labels, err)
	})
	labels, err := res.Unwrap()
	if err != nil {
		return Labels{}, &AttemptError{Attempts: attempts, Err: err}
	}
	return labels, nil
}

func (r *Resilient) attempt(text string) func(context.Context) (Labels, error) {
	return func(ctx context.Context) (Labels, error) {
		if r.timeout <= 0 {
			return r.next.Classify(ctx, text)
		}
		actx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		labels, err := r.next.Classify(actx, text)
		if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) && !domain.IsTransient(err) {
			err = domain.Transient("classify", err)
		}
		return labels, err
	}
}
