package agent

import (
	"context"
	"maps"

	"github.com/julienstroheker/hexagent/internal/forward"
	"github.com/julienstroheker/hexagent/internal/registry"
	"github.com/julienstroheker/hexagent/internal/relay"
)

// State is the lifecycle state of a resource
type State int

const (
	// StateIdle is an open resource nobody is forwarding
	StateIdle State = iota
	// StateForwarding is an open resource whose traffic is being forwarded
	StateForwarding
	// StateClosed is terminal
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateForwarding:
		return "forwarding"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handle refers to a resource by id. Its metadata is a snapshot taken when
// the resource was opened and stays readable after Close.
type Handle struct {
	agent     *Agent
	id        string
	kind      relay.Kind
	sessionID string
	meta      registry.Metadata
	task      *registry.Task
}

func newHandle(a *Agent, rec *registry.Record) *Handle {
	return &Handle{
		agent:     a,
		id:        rec.ID(),
		kind:      rec.Kind(),
		sessionID: rec.SessionID(),
		meta:      rec.Metadata(),
		task:      rec.Task(),
	}
}

// ID returns the relay-assigned resource id
func (h *Handle) ID() string { return h.id }

// Kind returns the endpoint kind the resource was opened as
func (h *Handle) Kind() relay.Kind { return h.kind }

// SessionID returns the id of the session the resource runs on
func (h *Handle) SessionID() string { return h.sessionID }

// URL returns the public URL; empty for labeled resources
func (h *Handle) URL() string { return h.meta.URL }

// Proto returns the public protocol; empty for labeled resources
func (h *Handle) Proto() string { return h.meta.Proto }

// ForwardsTo returns the forwarding description reported to the relay
func (h *Handle) ForwardsTo() string { return h.meta.ForwardsTo }

// Metadata returns the opaque endpoint metadata
func (h *Handle) Metadata() string { return h.meta.Metadata }

// Labels returns a copy of the labels of a labeled resource
func (h *Handle) Labels() map[string]string {
	return maps.Clone(h.meta.Labels)
}

// State reports the current state of the resource
func (h *Handle) State() State {
	rec, ok := h.agent.registry.Get(h.id)
	if !ok {
		return StateClosed
	}
	if forwarding(rec) {
		return StateForwarding
	}
	return StateIdle
}

// Forward splices every inbound connection to addr until the resource is
// closed or ctx is done. Closing the resource while forwarding is a clean
// stop and returns nil. Only one Forward runs per resource; a second one
// waits for the first.
func (h *Handle) Forward(ctx context.Context, addr string) error {
	dest, err := forward.ParseAddress(addr)
	if err != nil {
		return &ConfigError{Field: "destination", Reason: err.Error(), Err: err}
	}

	reg := h.agent.registry
	rec, ok := reg.Get(h.id)
	if !ok {
		return ErrNotFound
	}
	if rec.Task() != nil {
		return ErrNotForwardable
	}

	tun, release, err := rec.Borrow(ctx)
	if err != nil {
		return err
	}
	defer release()

	// The resource may have been closed while waiting for the previous borrower
	if cur, ok := reg.Get(h.id); !ok || cur != rec {
		return ErrNotFound
	}

	err = h.agent.forwarder.Serve(ctx, tun, dest)
	if ctx.Err() == nil {
		// The tunnel ended on its own, so the resource is gone
		h.agent.retire(rec, err)
	}
	return err
}

// Join waits for the background forwarder started by ListenAndForward
func (h *Handle) Join(ctx context.Context) error {
	if h.task == nil {
		return ErrNotJoinable
	}
	return h.task.Wait(ctx)
}

// Close closes the resource. It returns ErrNotFound when it is already closed.
func (h *Handle) Close(ctx context.Context) error {
	return h.agent.closeResource(ctx, h.id)
}
