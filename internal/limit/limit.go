// Package limit provides the shared token-bucket limiter that every
// outbound Gemini call (embedding and generation alike) acquires from.
// A single bucket keeps the process inside the upstream quota no matter
// how many pipelines run concurrently.
package limit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited indicates a caller gave up waiting for a token.
var ErrRateLimited = errors.New("rate limited")

// Limiter is a shared token bucket with a bounded wait. Safe for
// concurrent use.
type Limiter struct {
	bucket      *rate.Limiter
	waitTimeout time.Duration
}

// New creates a limiter allowing rps tokens per second with the given
// burst. Acquire waits at most waitTimeout before failing with
// ErrRateLimited.
func New(rps float64, burst int, waitTimeout time.Duration) *Limiter {
	return &Limiter{
		bucket:      rate.NewLimiter(rate.Limit(rps), burst),
		waitTimeout: waitTimeout,
	}
}

// Acquire blocks until a token is available, the wait timeout elapses, or
// ctx is done. A timed-out wait returns ErrRateLimited; callers surface
// that to clients rather than queueing work unboundedly.
func (l *Limiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.waitTimeout)
	defer cancel()

	if err := l.bucket.Wait(waitCtx); err != nil {
		// Distinguish caller cancellation from bucket exhaustion.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: no token within %s", ErrRateLimited, l.waitTimeout)
	}
	return nil
}

// Allow reports whether a token is immediately available, consuming it if
// so. Used by health probes that must not block.
func (l *Limiter) Allow() bool {
	return l.bucket.Allow()
}
