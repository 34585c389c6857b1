package relay

import (
	"context"
	"sync"
)

// queuedTunnel is a Tunnel fed by a backend through deliver
type queuedTunnel struct {
	id         string
	url        string
	proto      string
	labels     map[string]string
	forwardsTo string
	metadata   string

	conns chan Connection
	done  chan struct{}
	once  sync.Once
	err   error
}

func newQueuedTunnel(id string, cfg EndpointConfig) *queuedTunnel {
	t := &queuedTunnel{
		id:         id,
		forwardsTo: cfg.ForwardsTo,
		metadata:   cfg.Metadata,
		conns:      make(chan Connection),
		done:       make(chan struct{}),
	}
	if cfg.Kind == KindLabeled {
		t.labels = copyLabels(cfg.Labels)
	}
	return t
}

func (t *queuedTunnel) ID() string                { return t.id }
func (t *queuedTunnel) URL() string               { return t.url }
func (t *queuedTunnel) Proto() string             { return t.proto }
func (t *queuedTunnel) ForwardsTo() string        { return t.forwardsTo }
func (t *queuedTunnel) Metadata() string          { return t.metadata }
func (t *queuedTunnel) Labels() map[string]string { return copyLabels(t.labels) }

// Accept waits for and returns the next connection
func (t *queuedTunnel) Accept(ctx context.Context) (Connection, error) {
	select {
	case <-t.done:
		return nil, t.err
	default:
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		return nil, t.err
	case conn := <-t.conns:
		return conn, nil
	}
}

// deliver hands conn to a pending Accept. conn is closed when it cannot be delivered.
func (t *queuedTunnel) deliver(ctx context.Context, conn Connection) error {
	select {
	case t.conns <- conn:
		return nil
	case <-t.done:
		_ = conn.Close()
		return t.err
	case <-ctx.Done():
		_ = conn.Close()
		return ctx.Err()
	}
}

func (t *queuedTunnel) shutdown(cause error) {
	t.once.Do(func() {
		t.err = cause
		close(t.done)
	})
}

func copyLabels(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
