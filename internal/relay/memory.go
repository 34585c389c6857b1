package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryAddr is the address reported to connectors by the in-memory relay
const MemoryAddr = "memory"

// ErrCommandUnsupported is returned when a command arrives and no handler is installed
var ErrCommandUnsupported = errors.New("command not supported")

const memoryReconnectAttempts = 3

// MemoryBackend is an in-process relay. It backs local mode and tests.
type MemoryBackend struct {
	// Authtoken, when set, must match the session's authtoken
	Authtoken string

	mu       sync.Mutex
	sessions map[string]*MemorySession
	nextPort int
	openErr  error
}

// NewMemoryBackend creates an empty in-memory relay
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		sessions: make(map[string]*MemorySession),
		nextPort: 20000,
	}
}

// FailOpen makes every subsequent Open return err. nil restores normal behaviour.
func (b *MemoryBackend) FailOpen(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.openErr = err
}

// Sessions returns the live sessions
func (b *MemoryBackend) Sessions() []*MemorySession {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*MemorySession, 0, len(b.sessions))
	for _, s := range b.sessions {
		out = append(out, s)
	}
	return out
}

// DefaultConnect is the physical connect used when no Connector is installed
func (b *MemoryBackend) DefaultConnect(ctx context.Context, addr string, lastErr error) (net.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	local, remote := net.Pipe()
	// The relay end is drained so writes on the agent end never block.
	go func() {
		buf := make([]byte, 512)
		for {
			if _, err := remote.Read(buf); err != nil {
				return
			}
		}
	}()
	return local, nil
}

// DefaultConnector implements DefaultConnector
func (b *MemoryBackend) DefaultConnector(SessionOptions) (Connector, error) {
	return b.DefaultConnect, nil
}

// Connect implements Backend
func (b *MemoryBackend) Connect(ctx context.Context, opts SessionOptions) (Session, error) {
	connect := opts.Connector
	if connect == nil {
		connect = b.DefaultConnect
	}

	conn, err := connect(ctx, MemoryAddr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to memory relay: %w", err)
	}
	if b.Authtoken != "" && opts.Authtoken != b.Authtoken {
		_ = conn.Close()
		return nil, ErrUnauthorized
	}

	s := &MemorySession{
		id:      uuid.New().String(),
		backend: b,
		opts:    opts,
		connect: connect,
		conn:    conn,
		tunnels: make(map[string]*queuedTunnel),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	b.sessions[s.id] = s
	b.mu.Unlock()

	return s, nil
}

func (b *MemoryBackend) allocatePort() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextPort++
	return b.nextPort
}

func (b *MemoryBackend) forget(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, id)
}

// MemorySession is a session on the in-memory relay
type MemorySession struct {
	id      string
	backend *MemoryBackend
	opts    SessionOptions
	connect Connector

	mu       sync.Mutex
	conn     net.Conn
	tunnels  map[string]*queuedTunnel
	closed   bool
	closeErr error
	done     chan struct{}
}

// ID returns the session id
func (s *MemorySession) ID() string {
	return s.id
}

// Open implements Session
func (s *MemorySession) Open(ctx context.Context, cfg EndpointConfig) (Tunnel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.backend.mu.Lock()
	openErr := s.backend.openErr
	s.backend.mu.Unlock()
	if openErr != nil {
		return nil, openErr
	}

	if !cfg.Kind.IsValid() {
		return nil, fmt.Errorf("unsupported endpoint kind %q", cfg.Kind)
	}
	if cfg.Kind == KindLabeled && len(cfg.Labels) == 0 {
		return nil, errors.New("labeled tunnel requires at least one label")
	}

	t := newQueuedTunnel("tn_"+uuid.New().String(), cfg)

	host := cfg.Domain
	if host == "" {
		host = uuid.New().String()[:8] + ".hexagent.local"
	}
	switch cfg.Kind {
	case KindHTTP:
		scheme := cfg.Scheme
		if scheme == "" {
			scheme = "https"
		}
		t.proto = scheme
		t.url = scheme + "://" + host
	case KindTCP:
		t.proto = "tcp"
		if cfg.RemoteAddr != "" {
			t.url = "tcp://" + cfg.RemoteAddr
		} else {
			t.url = fmt.Sprintf("tcp://%s:%d", "tcp.hexagent.local", s.backend.allocatePort())
		}
	case KindTLS:
		t.proto = "tls"
		t.url = "tls://" + host
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	s.tunnels[t.id] = t
	return t, nil
}

// CloseTunnel implements Session
func (s *MemorySession) CloseTunnel(ctx context.Context, id string) error {
	s.mu.Lock()
	t, ok := s.tunnels[id]
	if ok {
		delete(s.tunnels, id)
	}
	closed := s.closed
	s.mu.Unlock()

	if !ok {
		if closed {
			return ErrSessionClosed
		}
		return fmt.Errorf("%w: %s", ErrTunnelNotFound, id)
	}
	t.shutdown(ErrTunnelClosed)
	return nil
}

// Close implements Session
func (s *MemorySession) Close(ctx context.Context) error {
	s.shutdown(Canceled(ErrSessionClosed))
	return nil
}

func (s *MemorySession) shutdown(cause error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.closeErr = cause
	tunnels := s.tunnels
	s.tunnels = make(map[string]*queuedTunnel)
	conn := s.conn
	s.mu.Unlock()

	for _, t := range tunnels {
		t.shutdown(cause)
	}
	if conn != nil {
		_ = conn.Close()
	}
	s.backend.forget(s.id)
	close(s.done)
}

// Done implements Session
func (s *MemorySession) Done() <-chan struct{} {
	return s.done
}

// Closed reports whether the session is shut down and why
func (s *MemorySession) Closed() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed, s.closeErr
}

// Tunnel returns an open tunnel by id
func (s *MemorySession) Tunnel(id string) (Tunnel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tunnels[id]
	return t, ok
}

// Dial simulates an inbound public connection on the tunnel and returns the remote end
func (s *MemorySession) Dial(ctx context.Context, tunnelID string) (net.Conn, error) {
	s.mu.Lock()
	t, ok := s.tunnels[tunnelID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTunnelNotFound, tunnelID)
	}

	remote, local := net.Pipe()
	if err := t.deliver(ctx, local); err != nil {
		_ = remote.Close()
		return nil, err
	}
	return remote, nil
}

// SimulateDisconnect drops the physical connection and runs the reconnect loop
// through the session's connector. Tunnels survive a successful reconnect.
// When the connector returns a cancellation the session is shut down.
func (s *MemorySession) SimulateDisconnect(ctx context.Context, cause error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	old := s.conn
	s.conn = nil
	s.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	lastErr := cause
	for attempt := 0; attempt < memoryReconnectAttempts; attempt++ {
		conn, err := s.connect(ctx, MemoryAddr, lastErr)
		if err == nil {
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				_ = conn.Close()
				return ErrSessionClosed
			}
			s.conn = conn
			s.mu.Unlock()
			return nil
		}
		if IsCanceled(err) || ctx.Err() != nil {
			s.shutdown(Canceled(err))
			return err
		}
		lastErr = err
	}

	s.shutdown(Canceled(lastErr))
	return lastErr
}

// Stop delivers a stop command
func (s *MemorySession) Stop(ctx context.Context) error {
	if s.opts.Handlers.OnStop == nil {
		return ErrCommandUnsupported
	}
	return s.opts.Handlers.OnStop(ctx)
}

// Restart delivers a restart command
func (s *MemorySession) Restart(ctx context.Context) error {
	if s.opts.Handlers.OnRestart == nil {
		return ErrCommandUnsupported
	}
	return s.opts.Handlers.OnRestart(ctx)
}

// Update delivers an update command
func (s *MemorySession) Update(ctx context.Context, req UpdateRequest) error {
	if s.opts.Handlers.OnUpdate == nil {
		return ErrCommandUnsupported
	}
	return s.opts.Handlers.OnUpdate(ctx, req)
}

// Heartbeat reports a heartbeat round trip
func (s *MemorySession) Heartbeat(ctx context.Context, latency time.Duration) error {
	if s.opts.Handlers.OnHeartbeat == nil {
		return nil
	}
	return s.opts.Handlers.OnHeartbeat(ctx, latency)
}

var (
	_ Backend = (*MemoryBackend)(nil)
	_ Session = (*MemorySession)(nil)
	_ Tunnel  = (*queuedTunnel)(nil)

	_ DefaultConnector = (*MemoryBackend)(nil)
)
