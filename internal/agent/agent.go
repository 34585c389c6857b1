// Package agent is the embeddable side of hexagent. It opens endpoints on relay
// sessions, keeps them alive in a registry and forwards their traffic.
//
// Callers hold Handles, which refer to resources by id. A resource stays open
// until it is closed explicitly, its session ends, or its background forwarder
// returns. Dropping a Handle never closes anything.
package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/julienstroheker/hexagent/internal/bridge"
	"github.com/julienstroheker/hexagent/internal/forward"
	"github.com/julienstroheker/hexagent/internal/logging"
	"github.com/julienstroheker/hexagent/internal/metrics"
	"github.com/julienstroheker/hexagent/internal/registry"
	"github.com/julienstroheker/hexagent/internal/relay"
	"github.com/julienstroheker/hexagent/internal/session"
)

const (
	// DefaultCloseConcurrency bounds how many resources CloseAll closes at once
	DefaultCloseConcurrency = 8

	retireTimeout = 10 * time.Second
)

// Options contains configuration for an Agent
type Options struct {
	// Backend is the relay sessions are opened against
	Backend relay.Backend
	// Loop runs host handlers. It is required for session handlers and OnLog.
	Loop *bridge.Loop
	// Registry is created when nil
	Registry *registry.Registry
	Logger   *logging.Logger
	Metrics  *metrics.Metrics

	// Dialer opens destination connections for every forwarder
	Dialer *forward.Dialer
	// BytesPerSecond caps each forwarder, 0 means unlimited
	BytesPerSecond int

	CloseConcurrency int

	// ServerAddr and Authtoken are the session defaults of the connect facade
	ServerAddr string
	Authtoken  string
}

// Agent owns the resource registry and the shared collaborators of every endpoint
type Agent struct {
	backend    relay.Backend
	loop       *bridge.Loop
	registry   *registry.Registry
	logger     *logging.Logger
	metrics    *metrics.Metrics
	forwarder  *forward.Forwarder
	closeLimit int
	serverAddr string
	authtoken  string

	mu sync.Mutex
	// shared is the session used by the connect facade
	shared *session.Session
	// watched holds the ids of sessions whose shutdown is being waited for
	watched map[string]struct{}
}

// New creates an Agent
func New(opts *Options) (*Agent, error) {
	if opts == nil || opts.Backend == nil {
		return nil, &ConfigError{Field: "backend", Reason: "a relay backend is required"}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	reg := opts.Registry
	if reg == nil {
		reg = registry.New(&registry.Options{Logger: logger, Metrics: opts.Metrics})
	}
	limit := opts.CloseConcurrency
	if limit <= 0 {
		limit = DefaultCloseConcurrency
	}

	return &Agent{
		backend:  opts.Backend,
		loop:     opts.Loop,
		registry: reg,
		logger:   logger.Named("agent"),
		metrics:  opts.Metrics,
		forwarder: forward.New(&forward.Options{
			Dialer:         opts.Dialer,
			BytesPerSecond: opts.BytesPerSecond,
			Logger:         logger.Named("forward"),
			Metrics:        opts.Metrics,
		}),
		closeLimit: limit,
		serverAddr: opts.ServerAddr,
		authtoken:  opts.Authtoken,
		watched:    make(map[string]struct{}),
	}, nil
}

// SessionBuilder starts configuring a new session on the agent's backend
func (a *Agent) SessionBuilder() *session.Builder {
	return session.NewBuilder(a.backend, &session.BuilderOptions{
		Loop:    a.loop,
		Logger:  a.logger,
		Metrics: a.metrics,
	})
}

// Endpoint starts configuring an endpoint of the given kind on sess
func (a *Agent) Endpoint(sess *session.Session, kind relay.Kind) *EndpointBuilder {
	return newEndpointBuilder(a, sess, kind)
}

// HTTPEndpoint is shorthand for Endpoint(sess, relay.KindHTTP)
func (a *Agent) HTTPEndpoint(sess *session.Session) *EndpointBuilder {
	return a.Endpoint(sess, relay.KindHTTP)
}

// TCPEndpoint is shorthand for Endpoint(sess, relay.KindTCP)
func (a *Agent) TCPEndpoint(sess *session.Session) *EndpointBuilder {
	return a.Endpoint(sess, relay.KindTCP)
}

// TLSEndpoint is shorthand for Endpoint(sess, relay.KindTLS)
func (a *Agent) TLSEndpoint(sess *session.Session) *EndpointBuilder {
	return a.Endpoint(sess, relay.KindTLS)
}

// LabeledEndpoint is shorthand for Endpoint(sess, relay.KindLabeled)
func (a *Agent) LabeledEndpoint(sess *session.Session) *EndpointBuilder {
	return a.Endpoint(sess, relay.KindLabeled)
}

// Resource describes a registered resource as it was when it was opened
type Resource struct {
	ID        string
	Kind      relay.Kind
	SessionID string
	// URL and Proto are empty for labeled resources
	URL   string
	Proto string
	// Labels is empty for other kinds
	Labels     map[string]string
	ForwardsTo string
	Metadata   string
	CreatedAt  time.Time
	// Forwarding reports whether traffic is being forwarded right now
	Forwarding bool
}

func describe(rec *registry.Record) Resource {
	md := rec.Metadata()
	return Resource{
		ID:         rec.ID(),
		Kind:       rec.Kind(),
		SessionID:  rec.SessionID(),
		URL:        md.URL,
		Proto:      md.Proto,
		Labels:     md.Labels,
		ForwardsTo: md.ForwardsTo,
		Metadata:   md.Metadata,
		CreatedAt:  rec.CreatedAt(),
		Forwarding: forwarding(rec),
	}
}

func forwarding(rec *registry.Record) bool {
	if task := rec.Task(); task != nil {
		select {
		case <-task.Done():
			return false
		default:
			return true
		}
	}
	return rec.Busy()
}

// ListResources returns the open resources, oldest first. A non-empty url
// keeps only resources opened with that url.
func (a *Agent) ListResources(url string) []Resource {
	recs := a.registry.List(registry.Filter{URL: url})
	out := make([]Resource, 0, len(recs))
	for _, rec := range recs {
		out = append(out, describe(rec))
	}
	return out
}

// GetResource returns the resource registered under id
func (a *Agent) GetResource(id string) (Resource, error) {
	rec, ok := a.registry.Get(id)
	if !ok {
		return Resource{}, ErrNotFound
	}
	return describe(rec), nil
}

// GetResourceByURL returns the oldest resource opened with url
func (a *Agent) GetResourceByURL(url string) (Resource, error) {
	if url == "" {
		return Resource{}, ErrNotFound
	}
	recs := a.registry.List(registry.Filter{URL: url})
	if len(recs) == 0 {
		return Resource{}, ErrNotFound
	}
	return describe(recs[0]), nil
}

// Handle returns a handle to the resource registered under id
func (a *Agent) Handle(id string) (*Handle, error) {
	rec, ok := a.registry.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return newHandle(a, rec), nil
}

// CloseAll closes every resource, or only those opened with url when it is
// not empty. Every resource is attempted; the failures are joined. Resources
// that close successfully are removed even when others fail.
func (a *Agent) CloseAll(ctx context.Context, url string) error {
	recs := a.registry.List(registry.Filter{URL: url})
	if len(recs) == 0 {
		return nil
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	g.SetLimit(a.closeLimit)
	for _, rec := range recs {
		g.Go(func() error {
			if err := a.closeResource(ctx, rec.ID()); err != nil && !errors.Is(err, ErrNotFound) {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	a.logger.Info("Closed resources",
		logging.String("url", url),
		logging.Int("count", len(recs)),
		logging.Int("failed", len(errs)))
	return errors.Join(errs...)
}

// CloseSession closes sess and forgets every resource that was opened on it
func (a *Agent) CloseSession(ctx context.Context, sess *session.Session) error {
	err := sess.Close(ctx)
	a.forgetSession(sess)
	return err
}

// watchSession forgets the resources of sess once it shuts down, including
// when the relay ends it without the agent asking
func (a *Agent) watchSession(sess *session.Session) {
	a.mu.Lock()
	if _, ok := a.watched[sess.ID()]; ok {
		a.mu.Unlock()
		return
	}
	a.watched[sess.ID()] = struct{}{}
	a.mu.Unlock()

	go func() {
		<-sess.Done()
		if n := a.forgetSession(sess); n > 0 {
			a.logger.Info("Session ended, resources removed",
				logging.String("session_id", sess.ID()),
				logging.Int("count", n))
		}
	}()
}

// forgetSession removes every record of sess and returns how many it removed
func (a *Agent) forgetSession(sess *session.Session) int {
	n := 0
	for _, rec := range a.registry.List(registry.Filter{SessionID: sess.ID()}) {
		if a.registry.RemoveIf(rec.ID(), rec) {
			n++
		}
	}

	a.mu.Lock()
	delete(a.watched, sess.ID())
	if a.shared == sess {
		a.shared = nil
	}
	a.mu.Unlock()
	return n
}

// retire removes rec once its forwarder has stopped on its own. A forwarder
// that failed may leave a live tunnel on the relay, so that tunnel is closed first.
func (a *Agent) retire(rec *registry.Record, serveErr error) {
	if serveErr != nil {
		ctx, cancel := context.WithTimeout(context.Background(), retireTimeout)
		rec.LockClose()
		err := rec.Session().CloseTunnel(ctx, rec.ID())
		rec.UnlockClose()
		cancel()
		if err != nil && !errors.Is(err, relay.ErrTunnelNotFound) && !errors.Is(err, relay.ErrSessionClosed) {
			a.logger.Warn("Failed to close tunnel after forwarding error",
				logging.String("id", rec.ID()), logging.Error(err))
		}
	}
	a.registry.RemoveIf(rec.ID(), rec)
}

// closeResource tears down the tunnel of id and removes its record. It never
// waits for a borrower: closing the tunnel releases any pending accept.
func (a *Agent) closeResource(ctx context.Context, id string) error {
	rec, ok := a.registry.Get(id)
	if !ok {
		return ErrNotFound
	}
	rec.LockClose()
	defer rec.UnlockClose()

	if cur, ok := a.registry.Get(id); !ok || cur != rec {
		return ErrNotFound
	}

	err := rec.Session().CloseTunnel(ctx, id)
	switch {
	case err == nil, errors.Is(err, relay.ErrTunnelNotFound), errors.Is(err, relay.ErrSessionClosed):
		a.registry.RemoveIf(id, rec)
		a.logger.Debug("Resource closed", logging.String("id", id))
		return nil
	default:
		a.logger.Error("Failed to close resource", logging.String("id", id), logging.Error(err))
		return err
	}
}

// OnLog delivers agent log lines at or above min to fn on the host loop.
// Lines below the logger's own level are never produced.
func (a *Agent) OnLog(min logging.Level, fn func(logging.Event)) error {
	if a.loop == nil {
		return &ConfigError{Field: "log_handler", Reason: "a host loop is required to run handlers"}
	}
	notify := bridge.Wrap(a.loop, func(e logging.Event) (struct{}, error) {
		fn(e)
		return struct{}{}, nil
	}).Named("log")

	a.logger.AddHook(logging.NewCallbackHook(min, func(e logging.Event) {
		// The bridge reports failed notifications through the logger
		if e.Target == "bridge" {
			return
		}
		_ = notify.Notify(e)
	}))
	return nil
}
