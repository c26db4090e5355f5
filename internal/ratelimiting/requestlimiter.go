package ratelimiting

import (
	"context"
	"sync"
	"time"
)

type RequestLimiter interface {
	// Limit runs operation once it fits in the budget and reports whether it ran.
	//
	// The operation is declined up front when waiting for the budget plus maxOperationTime would overrun
	// the deadline of ctx.
	Limit(ctx context.Context, maxOperationTime time.Duration, operation func()) bool
}

// windowLimitRequestLimiter lets at most limit operations start within any window
type windowLimitRequestLimiter struct {
	window    time.Duration
	nowFunc   func() time.Time
	afterFunc func(time.Duration) <-chan time.Time

	mutex sync.Mutex
	// Start times of the last limit operations, oldest first. Reservations may lie in the future.
	starts []time.Time
}

func NewWindowLimitRequestLimiter(
	limit int,
	window time.Duration,
	nowFunc func() time.Time,
	afterFunc func(time.Duration) <-chan time.Time,
) *windowLimitRequestLimiter {
	starts := make([]time.Time, limit)
	longAgo := nowFunc().Add(-window)
	for i := range starts {
		starts[i] = longAgo
	}

	return &windowLimitRequestLimiter{
		window:    window,
		nowFunc:   nowFunc,
		afterFunc: afterFunc,
		starts:    starts,
	}
}

// reserve claims the next start slot and returns how long to wait for it
func (l *windowLimitRequestLimiter) reserve(ctx context.Context, maxOperationTime time.Duration) (time.Duration, bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	now := l.nowFunc()
	startAt := l.starts[0].Add(l.window)
	if startAt.Before(now) {
		startAt = now
	}
	wait := startAt.Sub(now)

	if deadline, ok := ctx.Deadline(); ok && wait+maxOperationTime > deadline.Sub(now) {
		return 0, false
	}

	l.starts = append(l.starts[1:], startAt)
	return wait, true
}

func (l *windowLimitRequestLimiter) Limit(ctx context.Context, maxOperationTime time.Duration, operation func()) bool {
	wait, ok := l.reserve(ctx, maxOperationTime)
	if !ok {
		return false
	}

	if wait > 0 {
		select {
		case <-ctx.Done():
			// The reservation is kept. Giving it back would require reordering later reservations.
			return false
		case <-l.afterFunc(wait):
		}
	}

	operation()
	return true
}
