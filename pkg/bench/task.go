package bench

import (
	"context"
	"fmt"
)

// Task is a background operation. Its finish func has run by the time Done is
// closed, whatever the outcome.
type Task struct {
	done chan struct{}
	err  error
}

// startTask runs fn on a new goroutine. finish receives fn's error, or the
// panic fn raised converted to one.
func startTask(ctx context.Context, fn func(ctx context.Context) error, finish func(err error)) *Task {
	t := &Task{done: make(chan struct{})}
	go func() {
		defer close(t.done)
		defer func() {
			if r := recover(); r != nil {
				t.err = fmt.Errorf("task panicked: %v", r)
			}
			if finish != nil {
				finish(t.err)
			}
		}()
		t.err = fn(ctx)
	}()
	return t
}

// failedTask is a task that was refused before it started.
func failedTask(err error) *Task {
	t := &Task{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task finishes or ctx is done. The task keeps running
// in the latter case.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return t.err
	}
}

// Err is the task's error once it is done, nil before.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}
