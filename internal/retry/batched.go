package retry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/orienteering/yarocd/internal/logging"
)

// BatchSendFunc delivers a batch of arguments in one call, returning one
// outcome per argument in the same order.
type BatchSendFunc[A any, T any] func(ctx context.Context, args []A) ([]T, error)

type batchResult[T any] struct {
	val       T
	published bool
}

type batchedMessage[A any, T any] struct {
	arg    A
	mid    uint64
	result chan batchResult[T]
}

// BackoffBatchedRetries groups concurrent Send calls into batches of up to
// batchCount, issuing one send_fn call per batch so submitters share a
// single outcome list without a retry attempt ever splitting across them.
type BackoffBatchedRetries[A any, T comparable] struct {
	send          BatchSendFunc[A, T]
	failedOutcome T
	firstBackoff  time.Duration
	multiplier    float64
	maxDuration   time.Duration
	batchCount    int

	mu    sync.Mutex
	queue []*batchedMessage[A, T]
	mid   atomic.Uint64
}

// NewBackoffBatchedRetries builds a batched scheduler around sendFn.
func NewBackoffBatchedRetries[A any, T comparable](sendFn BatchSendFunc[A, T], failedOutcome T, firstBackoff time.Duration, multiplier float64, maxDuration time.Duration, batchCount int) *BackoffBatchedRetries[A, T] {
	if batchCount < 1 {
		batchCount = 1
	}
	return &BackoffBatchedRetries[A, T]{
		send:          sendFn,
		failedOutcome: failedOutcome,
		firstBackoff:  firstBackoff,
		multiplier:    multiplier,
		maxDuration:   maxDuration,
		batchCount:    batchCount,
	}
}

// drainOneBatch pulls up to batchCount pending messages off the queue and
// issues a single send_fn call for them. A no-op if the queue is empty,
// which happens when a concurrent drain already claimed the message this
// caller enqueued.
func (b *BackoffBatchedRetries[A, T]) drainOneBatch(ctx context.Context) {
	b.mu.Lock()
	if len(b.queue) == 0 {
		b.mu.Unlock()
		return
	}
	n := b.batchCount
	if n > len(b.queue) {
		n = len(b.queue)
	}
	batch := b.queue[:n]
	b.queue = b.queue[n:]
	b.mu.Unlock()

	args := make([]A, n)
	for i, m := range batch {
		args[i] = m.arg
	}

	rets, err := b.send(ctx, args)

	published := make([]uint64, 0, n)
	notPublished := make([]uint64, 0, n)
	for i, m := range batch {
		if err != nil || i >= len(rets) || rets[i] == b.failedOutcome {
			notPublished = append(notPublished, m.mid)
			m.result <- batchResult[T]{published: false}
		} else {
			published = append(published, m.mid)
			m.result <- batchResult[T]{val: rets[i], published: true}
		}
	}

	if len(published) > 0 {
		logging.Info("messages sent", zap.Uint64s("mids", published))
	}
	if len(notPublished) > 0 {
		logging.Error("messages not sent", zap.Uint64s("mids", notPublished), zap.Error(err))
	}
}

// Send enqueues arg and blocks until it is published or its own deadline
// expires. It never extends its deadline to wait on a peer's retry.
func (b *BackoffBatchedRetries[A, T]) Send(ctx context.Context, arg A) (T, bool) {
	mid := b.mid.Add(1)
	logging.Debug("scheduled", zap.Uint64("mid", mid))

	deadline := time.Now().Add(b.maxDuration)
	curBackoff := b.firstBackoff

	for time.Now().Before(deadline) {
		m := &batchedMessage[A, T]{arg: arg, mid: mid, result: make(chan batchResult[T], 1)}
		b.mu.Lock()
		b.queue = append(b.queue, m)
		b.mu.Unlock()

		go b.drainOneBatch(ctx)

		select {
		case r := <-m.result:
			if r.published {
				return r.val, true
			}
		case <-ctx.Done():
			return b.failedOutcome, false
		}

		remaining := time.Until(deadline)
		if curBackoff >= remaining {
			curBackoff = remaining
			if curBackoff <= 0 {
				break
			}
		}
		logging.Info("retrying", zap.Uint64("mid", mid), zap.Duration("backoff", curBackoff))

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
