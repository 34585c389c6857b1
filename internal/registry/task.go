package registry

import (
	"context"
	"sync"
)

// Task is a background goroutine whose completion can be awaited
type Task struct {
	once sync.Once
	done chan struct{}
	err  error
}

// NewTask creates a task that has not started yet
func NewTask() *Task {
	return &Task{done: make(chan struct{})}
}

// Go starts fn. Only the first call has an effect.
func (t *Task) Go(fn func() error) {
	t.once.Do(func() {
		go func() {
			defer close(t.done)
			t.err = fn()
		}()
	})
}

// Done is closed when the task returns
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the task result, nil while it is running
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the task returns or ctx is done
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
