package core

import (
	"context"
	"errors"
	"time"

	"dental-counseling/internal/llm"
)

// RetryPolicy bounds how long the orchestrator waits on the AI service.
type RetryPolicy struct {
	MaxAttempts    int
	Backoff        []time.Duration
	AttemptTimeout time.Duration
	// Sleep waits between attempts.  Nil means a timer that honours ctx.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy is three attempts, 1s/2s/4s backoff and a ten second
// limit per attempt.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		Backoff:        []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
		AttemptTimeout: 10 * time.Second,
	}
}

// NoDelayRetryPolicy keeps the attempt bound but never sleeps.  Tests use it.
func NoDelayRetryPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: attempts,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	if attempt >= len(p.Backoff) {
		return p.Backoff[len(p.Backoff)-1]
	}
	return p.Backoff[attempt]
}

// Do runs call until it succeeds, fails validation, or the attempts run out.
// A *llm.ValidationError ends the loop at once: asking again for the same
// transcript is not expected to fix a malformed answer.  It returns the
// number of attempts made and the last error.
func (p RetryPolicy) Do(ctx context.Context, call func(ctx context.Context) error) (int, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if serr := sleep(ctx, p.delay(i-1)); serr != nil {
				return i, serr
			}
		}
		err = p.attempt(ctx, call)
		if err == nil {
			return i + 1, nil
		}
		var verr *llm.ValidationError
		if errors.As(err, &verr) {
			return i + 1, err
		}
		if ctx.Err() != nil {
			return i + 1, ctx.Err()
		}
	}
	return attempts, err
}

func (p RetryPolicy) attempt(ctx context.Context, call func(ctx context.Context) error) error {
	if p.AttemptTimeout <= 0 {
		return call(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
	defer cancel()
	return call(actx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
