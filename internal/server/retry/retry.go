// Package retry is the single retry policy applied to provider calls.
// Transient failures (rate limited, provider unavailable) are retried with
// capped, jittered exponential backoff; every other error surfaces at once.
package retry

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/common"
	goretry "github.com/sethvargo/go-retry"
)

type Policy struct {
	// Attempts is the total number of tries, the first one included.
	Attempts uint64
	Base     time.Duration
	// Cap bounds each wait. A retry-after hint above Cap is not waited out:
	// the error surfaces so the caller can report it.
	Cap time.Duration
	// JitterPercent randomizes each wait by up to this share.
	JitterPercent uint64
}

func DefaultPolicy() Policy {
	return Policy{Attempts: 4, Base: 200 * time.Millisecond, Cap: 5 * time.Second, JitterPercent: 10}
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	return err != nil && common.IsTransient(err)
}

func (p Policy) backoff(last *error) goretry.Backoff {
	base := p.Base
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	limit := p.Cap
	if limit < base {
		limit = base
	}
	attempts := p.Attempts
	if attempts == 0 {
		attempts = 1
	}

	b := goretry.NewExponential(base)
	b = goretry.WithCappedDuration(limit, b)
	if p.JitterPercent > 0 {
		b = goretry.WithJitterPercent(p.JitterPercent, b)
	}
	b = goretry.WithMaxRetries(attempts-1, b)

	return goretry.BackoffFunc(func() (time.Duration, bool) {
		d, stop := b.Next()
		if stop {
			return 0, true
		}
		if hint, ok := common.RetryAfter(*last); ok && hint > d {
			if hint > limit {
				return 0, true
			}
			d = hint
		}
		return d, false
	})
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempts are used up. The last error is returned unwrapped.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var last error
	return goretry.Do(ctx, p.backoff(&last), func(ctx context.Context) error {
		err := fn(ctx)
		last = err
		if Retryable(err) {
			return goretry.RetryableError(err)
		}
		return err
	})
}
