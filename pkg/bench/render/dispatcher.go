package render

import (
	"context"
	"errors"
)

var ErrDispatcherStopped = errors.New("dispatcher stopped")

// Dispatcher runs posted functions one at a time on the goroutine that called
// Run. State touched only from posted functions needs no locking.
type Dispatcher struct {
	queue   chan func()
	stopped chan struct{}
}

func NewDispatcher(queueSize int) *Dispatcher {
	return &Dispatcher{
		queue:   make(chan func(), queueSize),
		stopped: make(chan struct{}),
	}
}

// Run executes posted functions until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.stopped)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-d.queue:
			fn()
		}
	}
}

// Post queues fn without waiting for it to run.
func (d *Dispatcher) Post(ctx context.Context, fn func()) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.stopped:
		return ErrDispatcherStopped
	case d.queue <- fn:
		return nil
	}
}

// Invoke runs fn on the dispatcher goroutine and waits for it to return.
func (d *Dispatcher) Invoke(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if err := d.Post(ctx, func() {
		defer close(done)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.stopped:
		select {
		case <-done:
			return nil
		default:
			return ErrDispatcherStopped
		}
	case <-done:
		return nil
	}
}
