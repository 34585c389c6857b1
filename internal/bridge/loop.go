// Package bridge delivers relay events to host handlers on the host's own goroutine.
//
// A Loop is a queue of pending invocations drained by Run. Handlers wrapped with
// Wrap are safe to call from any goroutine: the call is queued and the caller
// waits on a completion channel, so the handler only ever runs inside Run.
package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/julienstroheker/hexagent/internal/logging"
	"github.com/julienstroheker/hexagent/internal/metrics"
)

// DefaultQueueSize is the number of invocations a Loop buffers
const DefaultQueueSize = 64

var (
	// ErrCanceled is returned when the loop stopped before the handler could run
	ErrCanceled = errors.New("callback canceled: host loop is not running")
	// ErrQueueFull is returned by Notify when the loop is saturated
	ErrQueueFull = errors.New("callback queue full")
)

// LoopOptions configures a Loop
type LoopOptions struct {
	QueueSize int
	Logger    *logging.Logger
	Metrics   *metrics.Metrics
}

// Loop is the host side of the bridge
type Loop struct {
	queue   chan func()
	quit    chan struct{}
	stopped chan struct{}
	running atomic.Bool

	quitOnce sync.Once
	stopOnce sync.Once

	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewLoop creates a loop. Invocations queue up until Run is called.
func NewLoop(opts *LoopOptions) *Loop {
	if opts == nil {
		opts = &LoopOptions{}
	}
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Loop{
		queue:   make(chan func(), size),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
		logger:  logger.Named("bridge"),
		metrics: opts.Metrics,
	}
}

// Run executes queued invocations on the calling goroutine until Close is
// called or ctx is done. Pending invocations fail with ErrCanceled afterwards.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return errors.New("loop is already running")
	}
	defer l.stop()

	for {
		select {
		case <-l.quit:
			return nil
		case <-ctx.Done():
			l.signalQuit()
			return ctx.Err()
		case inv := <-l.queue:
			inv()
		}
	}
}

// Close stops the loop. It does not wait for the invocation in progress.
func (l *Loop) Close() {
	l.signalQuit()
	if !l.running.Load() {
		l.stop()
	}
}

// Done is closed once the loop has stopped executing invocations
func (l *Loop) Done() <-chan struct{} {
	return l.stopped
}

func (l *Loop) signalQuit() {
	l.quitOnce.Do(func() { close(l.quit) })
}

func (l *Loop) stop() {
	l.stopOnce.Do(func() {
		close(l.stopped)
		l.logger.Debug("Host loop stopped")
	})
}

func (l *Loop) enqueue(ctx context.Context, inv func()) error {
	select {
	case <-l.quit:
		return ErrCanceled
	default:
	}
	select {
	case l.queue <- inv:
		return nil
	case <-l.quit:
		return ErrCanceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) tryEnqueue(inv func()) error {
	select {
	case <-l.quit:
		return ErrCanceled
	default:
	}
	select {
	case l.queue <- inv:
		return nil
	default:
		return ErrQueueFull
	}
}
