package sink

import (
	"context"
	"sync"

	"github.com/orienteering/yarocd/internal/sicodec"
	"github.com/orienteering/yarocd/internal/wireproto"
)

// FanOut holds an ordered list of sinks and dispatches every punch/status to
// all of them concurrently. A sink that fails or hangs never prevents the
// others' outcomes from being collected; the group itself never fails.
type FanOut struct {
	sinks []Sink
}

// NewFanOut builds a fan-out group over sinks, in the order given.
func NewFanOut(sinks []Sink) *FanOut {
	return &FanOut{sinks: append([]Sink(nil), sinks...)}
}

// Run starts every sink's own Loop concurrently and blocks until ctx is
// cancelled and all of them return.
func (f *FanOut) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(len(f.sinks))
	for _, s := range f.sinks {
		go func(s Sink) {
			defer wg.Done()
			s.Loop(ctx)
		}(s)
	}
	wg.Wait()
}

// SendPunch dispatches punch to every sink concurrently and returns one
// outcome per sink, in the same order as the group was constructed.
func (f *FanOut) SendPunch(ctx context.Context, punch sicodec.Punch) []bool {
	results := make([]bool, len(f.sinks))
	var wg sync.WaitGroup
	wg.Add(len(f.sinks))
	for i, s := range f.sinks {
		go func(i int, s Sink) {
			defer wg.Done()
			results[i] = s.SendPunch(ctx, punch)
		}(i, s)
	}
	wg.Wait()
	return results
}

// SendStatus dispatches status to every sink concurrently, mirroring SendPunch.
func (f *FanOut) SendStatus(ctx context.Context, status wireproto.Status, macAddr string) []bool {
	results := make([]bool, len(f.sinks))
	var wg sync.WaitGroup
	wg.Add(len(f.sinks))
	for i, s := range f.sinks {
		go func(i int, s Sink) {
			defer wg.Done()
			results[i] = s.SendStatus(ctx, status, macAddr)
		}(i, s)
	}
	wg.Wait()
	return results
}

// Close closes every sink, collecting the first error encountered (if any)
// while still attempting to close the rest.
func (f *FanOut) Close() error {
	var first error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Names returns the configured sinks' names, for logging and diagnostics.
func (f *FanOut) Names() []string {
	names := make([]string, len(f.sinks))
	for i, s := range f.sinks {
		names[i] = s.Name()
	}
	return names
}
