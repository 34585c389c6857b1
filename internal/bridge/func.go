package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/julienstroheker/hexagent/internal/logging"
)

// CallbackError is a host handler that returned an error or panicked
type CallbackError struct {
	Handler string
	Err     error
}

func (e *CallbackError) Error() string {
	if e.Handler == "" {
		return fmt.Sprintf("host callback failed: %v", e.Err)
	}
	return fmt.Sprintf("host callback %s failed: %v", e.Handler, e.Err)
}

func (e *CallbackError) Unwrap() error {
	return e.Err
}

// Func is a host handler bound to a Loop
type Func[A, R any] struct {
	loop *Loop
	fn   func(A) (R, error)
	name string
}

// Wrap binds fn to loop
func Wrap[A, R any](loop *Loop, fn func(A) (R, error)) *Func[A, R] {
	return &Func[A, R]{loop: loop, fn: fn}
}

// Named sets the handler name used in errors and logs
func (f *Func[A, R]) Named(name string) *Func[A, R] {
	f.name = name
	return f
}

type result[R any] struct {
	val R
	err error
}

// Call runs the handler on the loop and waits for its result
func (f *Func[A, R]) Call(ctx context.Context, a A) (R, error) {
	var zero R
	done := make(chan result[R], 1)
	err := f.loop.enqueue(ctx, func() {
		v, err := f.invoke(a)
		done <- result[R]{val: v, err: err}
	})
	if err != nil {
		f.loop.metrics.Callback("canceled")
		return zero, err
	}

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		f.loop.metrics.Callback("canceled")
		return zero, ctx.Err()
	case <-f.loop.stopped:
		select {
		case r := <-done:
			return r.val, r.err
		default:
		}
		f.loop.metrics.Callback("canceled")
		return zero, ErrCanceled
	}
}

// Notify queues the handler without waiting. The result is discarded.
func (f *Func[A, R]) Notify(a A) error {
	err := f.loop.tryEnqueue(func() {
		if _, err := f.invoke(a); err != nil {
			f.loop.logger.Warn("Host notification failed",
				logging.String("handler", f.name), logging.Error(err))
		}
	})
	if err != nil {
		outcome := "canceled"
		if errors.Is(err, ErrQueueFull) {
			outcome = "dropped"
		}
		f.loop.metrics.Callback(outcome)
	}
	return err
}

func (f *Func[A, R]) invoke(a A) (v R, err error) {
	defer func() {
		if p := recover(); p != nil {
			f.loop.metrics.Callback("panic")
			err = &CallbackError{Handler: f.name, Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	v, err = f.fn(a)
	if err != nil {
		f.loop.metrics.Callback("error")
		return v, &CallbackError{Handler: f.name, Err: err}
	}
	f.loop.metrics.Callback("ok")
	return v, nil
}
