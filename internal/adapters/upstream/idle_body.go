package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

var errIdleTimeout = errors.New("no data received within idle timeout")

// idleTimeoutBody aborts the transfer when no read completes within timeout
type idleTimeoutBody struct {
	body     io.ReadCloser
	timeout  time.Duration
	timer    *time.Timer
	timedOut atomic.Bool
	cancel   context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

func newIdleTimeoutBody(body io.ReadCloser, timeout time.Duration, cancel context.CancelFunc) *idleTimeoutBody {
	b := &idleTimeoutBody{
		body:    body,
		timeout: timeout,
		cancel:  cancel,
	}
	b.timer = time.AfterFunc(timeout, func() {
		b.timedOut.Store(true)
		cancel()
	})
	return b
}

func (b *idleTimeoutBody) Read(p []byte) (int, error) {
	n, err := b.body.Read(p)
	if err != nil && err != io.EOF && b.timedOut.Load() {
		return n, fmt.Errorf("%w: %w: %w", ErrUnavailable, errIdleTimeout, err)
	}
	b.timer.Reset(b.timeout)
	return n, err
}

func (b *idleTimeoutBody) Close() error {
	b.closeOnce.Do(func() {
		b.timer.Stop()
		b.cancel()
		b.closeErr = b.body.Close()
	})
	return b.closeErr
}
