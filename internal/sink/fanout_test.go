package sink

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/orienteering/yarocd/internal/sicodec"
	"github.com/orienteering/yarocd/internal/wireproto"
)

type fakeSink struct {
	name   string
	ok     bool
	delay  time.Duration
	closed bool
}

func (f *fakeSink) Name() string         { return f.name }
func (f *fakeSink) Loop(ctx context.Context) { <-ctx.Done() }
func (f *fakeSink) SendPunch(ctx context.Context, punch sicodec.Punch) bool {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.ok
}
func (f *fakeSink) SendStatus(ctx context.Context, status wireproto.Status, macAddr string) bool {
	return f.ok
}
func (f *fakeSink) Close() error {
	f.closed = true
	return nil
}

func TestFanOutCollectsAllOutcomesIndependently(t *testing.T) {
	slow := &fakeSink{name: "slow", ok: true, delay: 50 * time.Millisecond}
	fast := &fakeSink{name: "fast", ok: false}
	group := NewFanOut([]Sink{slow, fast})

	start := time.Now()
	results := group.SendPunch(context.Background(), sicodec.Punch{Card: 1})
	elapsed := time.Since(start)

	assert.Equal(t, []bool{true, false}, results)
	assert.Less(t, elapsed, 200*time.Millisecond)
}

func TestFanOutCloseClosesAllSinks(t *testing.T) {
	a := &fakeSink{name: "a", ok: true}
	b := &fakeSink{name: "b", ok: true}
	group := NewFanOut([]Sink{a, b})
	assert.NoError(t, group.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestFanOutNames(t *testing.T) {
	group := NewFanOut([]Sink{&fakeSink{name: "x"}, &fakeSink{name: "y"}})
	assert.Equal(t, []string{"x", "y"}, group.Names())
}
