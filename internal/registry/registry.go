// Package registry keeps tunnels alive independently of the handles that refer to them.
//
// The registry lock only guards the map. Borrowing a tunnel, waiting on a
// forwarder or closing happens on the record after the lock is released, so
// a resource blocked in accept never stalls the others.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/julienstroheker/hexagent/internal/logging"
	"github.com/julienstroheker/hexagent/internal/metrics"
)

// ErrDuplicate is returned when inserting an id that is already registered
var ErrDuplicate = errors.New("resource already registered")

// Options contains configuration for a Registry
type Options struct {
	Logger  *logging.Logger
	Metrics *metrics.Metrics
}

// Filter selects records by creation-time attributes. Empty fields match everything.
type Filter struct {
	SessionID string
	URL       string
}

func (f Filter) match(r *Record) bool {
	if f.SessionID != "" && r.sessionID != f.SessionID {
		return false
	}
	if f.URL != "" && r.meta.URL != f.URL {
		return false
	}
	return true
}

// Registry maps resource ids to records
type Registry struct {
	mu      sync.Mutex
	records map[string]*Record
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// New creates an empty registry
func New(opts *Options) *Registry {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Registry{
		records: make(map[string]*Record),
		logger:  logger.Named("registry"),
		metrics: opts.Metrics,
	}
}

// Insert adds a record. Relay ids are unique, so a duplicate is a logic error.
func (r *Registry) Insert(rec *Record) error {
	r.mu.Lock()
	if _, ok := r.records[rec.id]; ok {
		r.mu.Unlock()
		r.logger.Error("Duplicate resource id", logging.String("id", rec.id))
		return fmt.Errorf("%w: %s", ErrDuplicate, rec.id)
	}
	r.records[rec.id] = rec
	r.mu.Unlock()

	r.metrics.ResourceAdded(rec.kind.String())
	r.logger.Debug("Resource registered",
		logging.String("id", rec.id),
		logging.String("kind", rec.kind.String()))
	return nil
}

// Get returns the record registered under id
func (r *Registry) Get(id string) (*Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	return rec, ok
}

// Remove detaches id from the map. It does not close the tunnel.
func (r *Registry) Remove(id string) (*Record, bool) {
	r.mu.Lock()
	rec, ok := r.records[id]
	if ok {
		delete(r.records, id)
	}
	r.mu.Unlock()

	if ok {
		r.removed(rec)
	}
	return rec, ok
}

// RemoveIf removes id only while it still maps to rec
func (r *Registry) RemoveIf(id string, rec *Record) bool {
	r.mu.Lock()
	cur, ok := r.records[id]
	ok = ok && cur == rec
	if ok {
		delete(r.records, id)
	}
	r.mu.Unlock()

	if ok {
		r.removed(rec)
	}
	return ok
}

func (r *Registry) removed(rec *Record) {
	r.metrics.ResourceRemoved(rec.kind.String())
	r.logger.Debug("Resource removed", logging.String("id", rec.id))
}

// List returns a snapshot of the matching records, oldest first
func (r *Registry) List(f Filter) []*Record {
	r.mu.Lock()
	out := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		if f.match(rec) {
			out = append(out, rec)
		}
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Len returns the number of records
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
