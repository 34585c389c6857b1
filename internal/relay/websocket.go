package relay

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/yamux"

	"github.com/julienstroheker/hexagent/internal/logging"
)

// Backoff bounds for session reconnection. Tests may override these.
var (
	backoffMin = 500 * time.Millisecond
	backoffMax = 30 * time.Second
)

const (
	defaultHeartbeatInterval  = 10 * time.Second
	defaultHeartbeatTolerance = 15 * time.Second
	defaultTunnelPath         = "/tunnel"
)

// WebSocketOptions configures the websocket relay backend
type WebSocketOptions struct {
	// Path is the HTTP path of the relay endpoint
	Path string
	// Insecure dials ws:// instead of wss://
	Insecure bool
	Logger   *logging.Logger
}

// WebSocketBackend connects to a hexagent gateway. The session runs a yamux
// multiplexer over a single websocket: stream one carries control messages,
// every further stream is an inbound connection prefixed with its tunnel id.
type WebSocketBackend struct {
	path     string
	insecure bool
	logger   *logging.Logger
}

// NewWebSocketBackend creates a websocket relay backend
func NewWebSocketBackend(opts *WebSocketOptions) *WebSocketBackend {
	if opts == nil {
		opts = &WebSocketOptions{}
	}
	b := &WebSocketBackend{
		path:     opts.Path,
		insecure: opts.Insecure,
		logger:   opts.Logger,
	}
	if b.path == "" {
		b.path = defaultTunnelPath
	}
	if b.logger == nil {
		b.logger = logging.Discard()
	}
	return b
}

// DefaultConnector returns the websocket dial for the given session options
func (b *WebSocketBackend) DefaultConnector(opts SessionOptions) (Connector, error) {
	var tlsCfg *tls.Config
	if len(opts.CACert) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(opts.CACert) {
			return nil, errors.New("failed to parse CA certificate")
		}
		tlsCfg = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}

	scheme := "wss"
	if b.insecure {
		scheme = "ws"
	}

	return func(ctx context.Context, addr string, lastErr error) (net.Conn, error) {
		dialer := websocket.Dialer{
			HandshakeTimeout: 30 * time.Second,
			TLSClientConfig:  tlsCfg,
		}
		header := http.Header{}
		if opts.Authtoken != "" {
			header.Set("Authorization", "Bearer "+opts.Authtoken)
		}

		url := fmt.Sprintf("%s://%s%s", scheme, addr, b.path)
		conn, resp, err := dialer.DialContext(ctx, url, header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusUnauthorized {
				return nil, ErrUnauthorized
			}
			return nil, fmt.Errorf("failed to dial relay %s: %w", url, err)
		}
		return NewWebSocketConn(conn), nil
	}, nil
}

// Connect implements Backend
func (b *WebSocketBackend) Connect(ctx context.Context, opts SessionOptions) (Session, error) {
	if opts.ServerAddr == "" {
		return nil, errors.New("server address is required")
	}

	connect := opts.Connector
	if connect == nil {
		dial, err := b.DefaultConnector(opts)
		if err != nil {
			return nil, err
		}
		connect = dial
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeatInterval
	}
	if opts.HeartbeatTolerance <= 0 {
		opts.HeartbeatTolerance = defaultHeartbeatTolerance
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	s := &wsSession{
		id:      uuid.New().String(),
		opts:    opts,
		connect: connect,
		logger:  b.logger.With(logging.String("server_addr", opts.ServerAddr)),
		tunnels: make(map[string]*wsTunnel),
		ctx:     sessCtx,
		cancel:  cancel,
	}

	if err := s.establish(ctx, nil); err != nil {
		cancel()
		return nil, err
	}
	return s, nil
}

type wsTunnel struct {
	*queuedTunnel
	cfg EndpointConfig
}

type wsSession struct {
	id      string
	opts    SessionOptions
	connect Connector
	logger  *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	mux     *yamux.Session
	ctrl    *controlConn
	tunnels map[string]*wsTunnel
	closed  bool
}

func (s *wsSession) ID() string {
	return s.id
}

// establish runs one connection attempt: physical connect, auth, rebind
func (s *wsSession) establish(ctx context.Context, lastErr error) error {
	conn, err := s.connect(ctx, s.opts.ServerAddr, lastErr)
	if err != nil {
		return err
	}

	cfg := yamux.DefaultConfig()
	cfg.EnableKeepAlive = false
	cfg.LogOutput = io.Discard
	mux, err := yamux.Client(conn, cfg)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to start multiplexer: %w", err)
	}

	stream, err := mux.OpenStream()
	if err != nil {
		_ = mux.Close()
		return fmt.Errorf("failed to open control stream: %w", err)
	}
	ctrl := newControlConn(stream)
	go func() {
		_ = ctrl.readLoop(func(msg *controlMessage) { go s.handleCommand(ctrl, msg) })
	}()

	_, err = ctrl.request(ctx, &controlMessage{
		Type:       msgAuth,
		Authtoken:  s.opts.Authtoken,
		SessionID:  s.id,
		Metadata:   s.opts.Metadata,
		ClientInfo: s.opts.ClientInfo,
	})
	if err != nil {
		_ = mux.Close()
		if strings.Contains(err.Error(), ErrUnauthorized.Error()) {
			return ErrUnauthorized
		}
		return fmt.Errorf("failed to authenticate session: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = mux.Close()
		return ErrSessionClosed
	}
	s.mux = mux
	s.ctrl = ctrl
	tunnels := make([]*wsTunnel, 0, len(s.tunnels))
	for _, t := range s.tunnels {
		tunnels = append(tunnels, t)
	}
	s.mu.Unlock()

	for _, t := range tunnels {
		cfg := t.cfg
		if _, err := ctrl.request(ctx, &controlMessage{Type: msgBind, TunnelID: t.id, Endpoint: &cfg}); err != nil {
			s.logger.Warn("Failed to rebind tunnel", logging.String("tunnel_id", t.id), logging.Error(err))
		}
	}

	go s.acceptStreams(mux)
	go s.heartbeat(mux)
	go s.watch(mux)

	s.logger.Debug("Session established", logging.String("session_id", s.id))
	return nil
}

// watch waits for the multiplexer to die and reconnects unless the session was closed
func (s *wsSession) watch(mux *yamux.Session) {
	select {
	case <-mux.CloseChan():
	case <-s.ctx.Done():
		return
	}

	s.mu.Lock()
	if s.closed || s.mux != mux {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.reconnect(errors.New("relay connection lost"))
}

func (s *wsSession) reconnect(lastErr error) {
	backoff := backoffMin
	for {
		s.logger.Info("Reconnecting session", logging.Error(lastErr), logging.Duration("backoff", backoff))
		err := s.establish(s.ctx, lastErr)
		if err == nil {
			return
		}
		if IsCanceled(err) || errors.Is(err, ErrSessionClosed) || s.ctx.Err() != nil {
			s.logger.Info("Reconnect canceled", logging.Error(err))
			s.shutdown(Canceled(err))
			return
		}
		lastErr = err

		select {
		case <-s.ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
}

func (s *wsSession) heartbeat(mux *yamux.Session) {
	ticker := time.NewTicker(s.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-mux.CloseChan():
			return
		case <-ticker.C:
		}

		rtt, err := mux.Ping()
		if err != nil {
			s.logger.Warn("Heartbeat failed", logging.Error(err))
			_ = mux.Close()
			return
		}
		if rtt > s.opts.HeartbeatTolerance {
			s.logger.Warn("Heartbeat exceeded tolerance", logging.Duration("latency", rtt))
			_ = mux.Close()
			return
		}
		if s.opts.Handlers.OnHeartbeat != nil {
			if err := s.opts.Handlers.OnHeartbeat(s.ctx, rtt); err != nil {
				s.logger.Debug("Heartbeat handler failed", logging.Error(err))
			}
		}
	}
}

func (s *wsSession) acceptStreams(mux *yamux.Session) {
	for {
		stream, err := mux.AcceptStream()
		if err != nil {
			return
		}
		go s.route(stream)
	}
}

func (s *wsSession) route(stream *yamux.Stream) {
	id, err := readTunnelHeader(stream)
	if err != nil {
		_ = stream.Close()
		return
	}

	s.mu.Lock()
	t, ok := s.tunnels[id]
	s.mu.Unlock()
	if !ok {
		s.logger.Debug("Stream for unknown tunnel", logging.String("tunnel_id", id))
		_ = stream.Close()
		return
	}
	_ = t.deliver(s.ctx, stream)
}

func (s *wsSession) handleCommand(ctrl *controlConn, msg *controlMessage) {
	if msg.Type != msgCommand {
		_ = ctrl.respond(msg, nil, fmt.Errorf("unexpected message %q", msg.Type))
		return
	}

	h := s.opts.Handlers
	err := ErrCommandUnsupported
	switch msg.Command {
	case commandStop:
		if h.OnStop != nil {
			err = h.OnStop(s.ctx)
		}
	case commandRestart:
		if h.OnRestart != nil {
			err = h.OnRestart(s.ctx)
		}
	case commandUpdate:
		if h.OnUpdate != nil {
			err = h.OnUpdate(s.ctx, UpdateRequest{Version: msg.Version, PermitMajorVersion: msg.PermitMajorVersion})
		}
	}
	_ = ctrl.respond(msg, nil, err)
}

func (s *wsSession) control() (*controlConn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.ctrl == nil {
		return nil, errors.New("session is not connected")
	}
	return s.ctrl, nil
}

// Open implements Session
func (s *wsSession) Open(ctx context.Context, cfg EndpointConfig) (Tunnel, error) {
	ctrl, err := s.control()
	if err != nil {
		return nil, err
	}

	resp, err := ctrl.request(ctx, &controlMessage{Type: msgBind, Endpoint: &cfg})
	if err != nil {
		return nil, fmt.Errorf("bind failed: %w", err)
	}

	t := &wsTunnel{queuedTunnel: newQueuedTunnel(resp.TunnelID, cfg), cfg: cfg}
	t.url = resp.URL
	t.proto = resp.Proto
	if resp.Labels != nil {
		t.labels = copyLabels(resp.Labels)
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
func (s *wsSession) CloseTunnel(ctx context.Context, id string) error {
	s.mu.Lock()
	t, ok := s.tunnels[id]
	if ok {
		delete(s.tunnels, id)
	}
	closed := s.closed
	ctrl := s.ctrl
	s.mu.Unlock()

	if !ok {
		if closed {
			return ErrSessionClosed
		}
		return fmt.Errorf("%w: %s", ErrTunnelNotFound, id)
	}
	t.shutdown(ErrTunnelClosed)

	if ctrl == nil {
		return nil
	}
	// The tunnel is already gone locally. A stale binding ends with the
	// connection, and reconnects only rebind live tunnels.
	if _, err := ctrl.request(ctx, &controlMessage{Type: msgUnbind, TunnelID: id}); err != nil {
		s.logger.Warn("Unbind failed", logging.String("tunnel_id", id), logging.Error(err))
	}
	return nil
}

// Done is closed by shutdown, which cancels the session context
func (s *wsSession) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Close implements Session
func (s *wsSession) Close(ctx context.Context) error {
	s.shutdown(Canceled(ErrSessionClosed))
	return nil
}

func (s *wsSession) shutdown(cause error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	tunnels := s.tunnels
	s.tunnels = make(map[string]*wsTunnel)
	mux := s.mux
	s.mu.Unlock()

	s.cancel()
	for _, t := range tunnels {
		t.shutdown(cause)
	}
	if mux != nil {
		_ = mux.Close()
	}
}

var (
	_ Backend = (*WebSocketBackend)(nil)
	_ Session = (*wsSession)(nil)

	_ DefaultConnector = (*WebSocketBackend)(nil)
)
