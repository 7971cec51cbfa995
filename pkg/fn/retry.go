package fn

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryOpts configures retry behavior.
type RetryOpts struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Jitter      bool
	// Retryable decides whether an error is worth another attempt.
	// Nil retries every error.
	Retryable func(error) bool
	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, err error)
}

// DefaultRetry is three attempts with exponential backoff from 500ms to 5s.
var DefaultRetry = RetryOpts{
	MaxAttempts: 3,
	InitialWait: 500 * time.Millisecond,
	MaxWait:     5 * time.Second,
	Jitter:      true,
}

// Retry calls f until it succeeds, returns a non-retryable error, the context
// ends, or MaxAttempts is reached. It returns the last result and the number
// of attempts made.
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) (Result[T], int) {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	var result Result[T]
	wait := opts.InitialWait

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		result = f(ctx)
		if result.IsOk() {
			return result, attempt
		}
		if attempt == opts.MaxAttempts {
			return result, attempt
		}
		if opts.Retryable != nil && !opts.Retryable(result.err) {
			return result, attempt
		}
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, result.err)
		}

		sleep := wait
		if opts.Jitter {
			sleep = time.Duration(float64(wait) * (0.5 + rand.Float64()))
		}
		if opts.MaxWait > 0 && sleep > opts.MaxWait {
			sleep = opts.MaxWait
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Err[T](ctx.Err()), attempt
		case <-timer.C:
		}

		wait *= 2
		if opts.MaxWait > 0 && wait > opts.MaxWait {
			wait = opts.MaxWait
		}
	}
	return result, opts.MaxAttempts
}

// RetryStage wraps a Stage with retry logic.
func RetryStage[In, Out any](opts RetryOpts, stage Stage[In, Out]) Stage[In, Out] {
	return func(ctx context.Context, in In) Result[Out] {
		r, _ := Retry(ctx, opts, func(ctx context.Context) Result[Out] {
			return stage(ctx, in)
		})
		return r
	}
}
