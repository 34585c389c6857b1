package registry

import (
	"context"
	"errors"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/julienstroheker/hexagent/internal/relay"
)

// ErrNotBorrowable is returned when borrowing the tunnel of a forwarder record
var ErrNotBorrowable = errors.New("resource tunnel is owned by a background forwarder")

// Metadata is the snapshot of a tunnel taken when its record was created
type Metadata struct {
	ForwardsTo string
	Metadata   string
	// URL and Proto are empty for labeled tunnels
	URL   string
	Proto string
	// Labels is empty for non-labeled tunnels
	Labels map[string]string
}

var recordSeq atomic.Uint64

// Record keeps one tunnel alive. Handles refer to it by id only.
type Record struct {
	id        string
	kind      relay.Kind
	session   relay.Session
	sessionID string
	meta      Metadata
	createdAt time.Time
	seq       uint64

	tunnel   relay.Tunnel
	task     *Task
	sem      *semaphore.Weighted
	borrowed atomic.Bool
	closeMu  sync.Mutex
}

// NewRecord creates a record for a tunnel the caller accepts on or forwards manually
func NewRecord(kind relay.Kind, sess relay.Session, tun relay.Tunnel) *Record {
	return newRecord(kind, sess, tun, nil)
}

// NewForwarderRecord creates a record whose tunnel is driven by task
func NewForwarderRecord(kind relay.Kind, sess relay.Session, tun relay.Tunnel, task *Task) *Record {
	return newRecord(kind, sess, tun, task)
}

func newRecord(kind relay.Kind, sess relay.Session, tun relay.Tunnel, task *Task) *Record {
	meta := Metadata{
		ForwardsTo: tun.ForwardsTo(),
		Metadata:   tun.Metadata(),
	}
	if kind == relay.KindLabeled {
		meta.Labels = maps.Clone(tun.Labels())
	} else {
		meta.URL = tun.URL()
		meta.Proto = tun.Proto()
	}
	return &Record{
		id:        tun.ID(),
		kind:      kind,
		session:   sess,
		sessionID: sess.ID(),
		meta:      meta,
		createdAt: time.Now(),
		seq:       recordSeq.Add(1),
		tunnel:    tun,
		task:      task,
		sem:       semaphore.NewWeighted(1),
	}
}

// ID returns the relay-assigned tunnel id
func (r *Record) ID() string { return r.id }

// Kind returns the endpoint kind
func (r *Record) Kind() relay.Kind { return r.kind }

// Session returns the owning session
func (r *Record) Session() relay.Session { return r.session }

// SessionID returns the id of the owning session
func (r *Record) SessionID() string { return r.sessionID }

// CreatedAt returns when the record was created
func (r *Record) CreatedAt() time.Time { return r.createdAt }

// Metadata returns a copy of the creation-time snapshot
func (r *Record) Metadata() Metadata {
	m := r.meta
	m.Labels = maps.Clone(r.meta.Labels)
	return m
}

// Task returns the background forwarder, nil for plain records
func (r *Record) Task() *Task { return r.task }

// Busy reports whether the tunnel is currently borrowed
func (r *Record) Busy() bool { return r.borrowed.Load() }

// Borrow takes exclusive use of the tunnel until release is called.
// It waits for the current borrower or until ctx is done.
func (r *Record) Borrow(ctx context.Context) (relay.Tunnel, func(), error) {
	if r.task != nil {
		return nil, nil, ErrNotBorrowable
	}
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, nil, err
	}
	r.borrowed.Store(true)

	var once sync.Once
	release := func() {
		once.Do(func() {
			r.borrowed.Store(false)
			r.sem.Release(1)
		})
	}
	return r.tunnel, release, nil
}

// LockClose serializes closes of this record. It never waits for a borrower.
func (r *Record) LockClose() { r.closeMu.Lock() }

// UnlockClose releases LockClose
func (r *Record) UnlockClose() { r.closeMu.Unlock() }
