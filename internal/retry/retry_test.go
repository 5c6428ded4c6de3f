package retry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffRetriesSucceedsAfterTwoFailures(t *testing.T) {
	var calls int
	send := func(ctx context.Context, arg int) (*time.Time, error) {
		calls++
		if calls <= 2 {
			return nil, nil
		}
		now := time.Now()
		return &now, nil
	}

	b := NewBackoffRetries[int, *time.Time](send, nil, 40*time.Millisecond, 2.0, 6*time.Second)
	start := time.Now()
	result, ok := b.Submit(context.Background(), 1)
	elapsed := time.Since(start)

	assert.True(t, ok)
	assert.NotNil(t, result)
	assert.InDelta(t, 120*time.Millisecond, elapsed, float64(60*time.Millisecond))
}

func TestBackoffRetriesExpiresAtDeadline(t *testing.T) {
	send := func(ctx context.Context, arg int) (bool, error) {
		return false, nil
	}
	b := NewBackoffRetries[int, bool](send, false, 20*time.Millisecond, 2.0, 60*time.Millisecond)
	start := time.Now()
	_, ok := b.Submit(context.Background(), 1)
	elapsed := time.Since(start)

	assert.False(t, ok)
	assert.LessOrEqual(t, elapsed, 100*time.Millisecond)
}

func TestBatchedBackoffRetriesOrdering(t *testing.T) {
	stats := map[int]int{1: 0, 2: 0, 3: 0}
	var mu sync.Mutex
	send := func(ctx context.Context, xs []int) ([]*time.Time, error) {
		time.Sleep(10 * time.Millisecond)
		rets := make([]*time.Time, len(xs))
		mu.Lock()
		defer mu.Unlock()
		for i, x := range xs {
			if stats[x] < x {
				stats[x]++
				rets[i] = nil
			} else {
				now := time.Now()
				rets[i] = &now
			}
		}
		return rets, nil
	}

	b := NewBackoffBatchedRetries[int, *time.Time](send, nil, 15*time.Millisecond, 2.0, 5*time.Second, 2)

	type outcome struct {
		arg      int
		finished time.Time
	}
	results := make(chan outcome, 3)
	for _, arg := range []int{1, 2, 3} {
		go func(arg int) {
			_, _ = b.Send(context.Background(), arg)
			results <- outcome{arg: arg, finished: time.Now()}
		}(arg)
	}

	finishTimes := map[int]time.Time{}
	for i := 0; i < 3; i++ {
		o := <-results
		finishTimes[o.arg] = o.finished
	}

	assert.True(t, finishTimes[1].Before(finishTimes[2]))
	assert.True(t, finishTimes[2].Before(finishTimes[3]))
}
