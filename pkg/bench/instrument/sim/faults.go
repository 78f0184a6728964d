// Package sim provides software oscilloscope and generator instruments. They
// stand in for hardware in tests and when no bench is attached.
package sim

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/norasector/benchtop/pkg/bench/instrument"
)

// faults holds the failures and delays injected into a simulated instrument.
type faults struct {
	mu       sync.Mutex
	ops      map[string]error
	channels map[int]error
	delays   map[string]time.Duration
	calls    map[string]int

	inFlight    int32
	maxInFlight int32
}

func newFaults() *faults {
	return &faults{
		ops:      make(map[string]error),
		channels: make(map[int]error),
		delays:   make(map[string]time.Duration),
		calls:    make(map[string]int),
	}
}

func (f *faults) failOp(op string, err error) {
	f.mu.Lock()
	f.ops[op] = err
	f.mu.Unlock()
}

func (f *faults) failChannel(channel int, err error) {
	f.mu.Lock()
	f.channels[channel] = err
	f.mu.Unlock()
}

func (f *faults) setDelay(op string, d time.Duration) {
	f.mu.Lock()
	f.delays[op] = d
	f.mu.Unlock()
}

func (f *faults) clear() {
	f.mu.Lock()
	f.ops = make(map[string]error)
	f.channels = make(map[int]error)
	f.delays = make(map[string]time.Duration)
	f.mu.Unlock()
}

func (f *faults) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// enter records a call to op on channel (0 for none) and returns the injected
// failure, if any, as a device error. The returned func must be called when the
// call completes.
func (f *faults) enter(ctx context.Context, op string, channel int) (func(), error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	for {
		max := atomic.LoadInt32(&f.maxInFlight)
		if n <= max || atomic.CompareAndSwapInt32(&f.maxInFlight, max, n) {
			break
		}
	}
	done := func() { atomic.AddInt32(&f.inFlight, -1) }

	f.mu.Lock()
	f.calls[op]++
	err := f.ops[op]
	if err == nil && channel > 0 {
		err = f.channels[channel]
	}
	delay := f.delays[op]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			done()
			return nil, instrument.Wrap(op, ctx.Err())
		case <-time.After(delay):
		}
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		done()
		return nil, instrument.Wrap(op, err)
	}
	return done, nil
}

func (f *faults) maxConcurrent() int {
	return int(atomic.LoadInt32(&f.maxInFlight))
}
