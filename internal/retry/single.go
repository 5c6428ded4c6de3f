// Package retry implements the single-message and batched exponential
// backoff retry schedulers shared by every sink.
package retry

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/orienteering/yarocd/internal/logging"
)

// SendFunc performs one delivery attempt. An error is treated the same as
// returning the failed outcome: the scheduler retries.
type SendFunc[A any, T any] func(ctx context.Context, arg A) (T, error)

// BackoffRetries retries send_fn(arg) with exponential backoff until it
// returns something other than failedOutcome, or the deadline passes.
type BackoffRetries[A any, T comparable] struct {
	send          SendFunc[A, T]
	failedOutcome T
	firstBackoff  time.Duration
	multiplier    float64
	maxDuration   time.Duration

	mid atomic.Uint64
}

// NewBackoffRetries builds a scheduler around sendFn, retrying until a value
// other than failedOutcome is produced or maxDuration elapses.
func NewBackoffRetries[A any, T comparable](sendFn SendFunc[A, T], failedOutcome T, firstBackoff time.Duration, multiplier float64, maxDuration time.Duration) *BackoffRetries[A, T] {
	return &BackoffRetries[A, T]{
		send:          sendFn,
		failedOutcome: failedOutcome,
		firstBackoff:  firstBackoff,
		multiplier:    multiplier,
		maxDuration:   maxDuration,
	}
}

// Submit drives the retry loop to completion and returns (value, true) on
// success or (failedOutcome, false) if the deadline expired first.
func (b *BackoffRetries[A, T]) Submit(ctx context.Context, arg A) (T, bool) {
	mid := b.mid.Add(1)
	logging.Debug("scheduled", zap.Uint64("mid", mid))

	deadline := time.Now().Add(b.maxDuration)
	curBackoff := b.firstBackoff

	for time.Now().Before(deadline) {
		ret, err := b.send(ctx, arg)
		if err != nil {
			logging.Error("send failed", zap.Uint64("mid", mid), zap.Error(err))
		} else if ret != b.failedOutcome {
			logging.Info("sent", zap.Uint64("mid", mid))
			return ret, true
		}

		remaining := time.Until(deadline)
		if curBackoff >= remaining {
			curBackoff = remaining
			if curBackoff <= 0 {
				break
			}
		}
		logging.Error("message not sent, retrying", zap.Uint64("mid", mid), zap.Duration("backoff", curBackoff))

		timer := time.NewTimer(curBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return b.failedOutcome, false
		case <-timer.C:
		}
		curBackoff = time.Duration(float64(curBackoff) * b.multiplier)
	}

	logging.Error("message expired", zap.Uint64("mid", mid))
	return b.failedOutcome, false
}
