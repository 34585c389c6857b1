package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/yamux"

	"github.com/julienstroheker/hexagent/internal/logging"
)

// ServerOptions configures the relay server
type ServerOptions struct {
	// Authtoken, when set, must be presented by every session
	Authtoken string
	// PublicHost is the host name used in tunnel URLs
	PublicHost string
	// BindHost is the interface public tunnel listeners bind to
	BindHost string
	Logger   *logging.Logger
}

// Server is the relay side of the websocket backend. It allocates a public
// TCP listener per bound tunnel and hands every public connection to the
// owning agent as a new yamux stream.
type Server struct {
	authtoken  string
	publicHost string
	bindHost   string
	logger     *logging.Logger
	upgrader   websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*serverSession
	closed   bool
}

// NewServer creates a relay server
func NewServer(opts *ServerOptions) *Server {
	if opts == nil {
		opts = &ServerOptions{}
	}
	s := &Server{
		authtoken:  opts.Authtoken,
		publicHost: opts.PublicHost,
		bindHost:   opts.BindHost,
		logger:     opts.Logger,
		sessions:   make(map[string]*serverSession),
	}
	if s.publicHost == "" {
		s.publicHost = "localhost"
	}
	if s.bindHost == "" {
		s.bindHost = "127.0.0.1"
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	return s
}

// ServeHTTP upgrades the request and serves one agent session until it ends
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.authtoken != "" && r.Header.Get("Authorization") != "Bearer "+s.authtoken {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", logging.Error(err))
		return
	}

	cfg := yamux.DefaultConfig()
	cfg.LogOutput = io.Discard
	mux, err := yamux.Server(NewWebSocketConn(ws), cfg)
	if err != nil {
		s.logger.Error("Failed to start multiplexer", logging.Error(err))
		_ = ws.Close()
		return
	}
	defer mux.Close()

	stream, err := mux.AcceptStream()
	if err != nil {
		return
	}

	sess := &serverSession{
		server:  s,
		mux:     mux,
		ctrl:    newControlConn(stream),
		tunnels: make(map[string]*serverTunnel),
		logger:  s.logger.With(logging.String("remote_addr", r.RemoteAddr)),
	}
	sess.serve()
}

// Sessions returns the ids of authenticated sessions
func (s *Server) Sessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

// TunnelAddr returns the public listener address of a tunnel
func (s *Server) TunnelAddr(tunnelID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		sess.mu.Lock()
		t, ok := sess.tunnels[tunnelID]
		sess.mu.Unlock()
		if ok {
			return t.listener.Addr().String(), true
		}
	}
	return "", false
}

// SendCommand asks an agent session to stop, restart or update
func (s *Server) SendCommand(ctx context.Context, sessionID, command string, req UpdateRequest) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown session %s", sessionID)
	}

	_, err := sess.ctrl.request(ctx, &controlMessage{
		Type:               msgCommand,
		Command:            command,
		Version:            req.Version,
		PermitMajorVersion: req.PermitMajorVersion,
	})
	return err
}

// Drop forcibly terminates the transport of a session, as a network failure would
func (s *Server) Drop(sessionID string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if ok {
		_ = sess.mux.Close()
	}
	return ok
}

// Close terminates every session
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	sessions := make([]*serverSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		_ = sess.mux.Close()
	}
	return nil
}

type serverTunnel struct {
	id       string
	listener net.Listener
}

type serverSession struct {
	server *Server
	mux    *yamux.Session
	ctrl   *controlConn
	logger *logging.Logger

	id      string
	mu      sync.Mutex
	tunnels map[string]*serverTunnel
}

func (ss *serverSession) serve() {
	defer ss.teardown()
	go func() {
		<-ss.mux.CloseChan()
		_ = ss.ctrl.Close()
	}()
	_ = ss.ctrl.readLoop(ss.handle)
}

func (ss *serverSession) handle(msg *controlMessage) {
	switch msg.Type {
	case msgAuth:
		if ss.server.authtoken != "" && msg.Authtoken != ss.server.authtoken {
			_ = ss.ctrl.respond(msg, nil, ErrUnauthorized)
			_ = ss.mux.Close()
			return
		}
		ss.id = msg.SessionID
		if ss.id == "" {
			ss.id = uuid.New().String()
		}
		ss.server.mu.Lock()
		if old, ok := ss.server.sessions[ss.id]; ok && old != ss {
			_ = old.mux.Close()
		}
		ss.server.sessions[ss.id] = ss
		ss.server.mu.Unlock()
		ss.logger.Info("Session authenticated", logging.String("session_id", ss.id))
		_ = ss.ctrl.respond(msg, &controlMessage{SessionID: ss.id}, nil)

	case msgBind:
		resp, err := ss.bind(msg)
		_ = ss.ctrl.respond(msg, resp, err)

	case msgUnbind:
		_ = ss.ctrl.respond(msg, nil, ss.unbind(msg.TunnelID))

	default:
		_ = ss.ctrl.respond(msg, nil, fmt.Errorf("unexpected message %q", msg.Type))
	}
}

func (ss *serverSession) bind(msg *controlMessage) (*controlMessage, error) {
	if ss.id == "" {
		return nil, errors.New("session is not authenticated")
	}
	if msg.Endpoint == nil || !msg.Endpoint.Kind.IsValid() {
		return nil, errors.New("invalid endpoint")
	}
	cfg := msg.Endpoint
	if cfg.Kind == KindLabeled && len(cfg.Labels) == 0 {
		return nil, errors.New("labeled tunnel requires at least one label")
	}

	id := msg.TunnelID
	if id == "" {
		id = "tn_" + uuid.New().String()
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(ss.server.bindHost, "0"))
	if err != nil {
		return nil, fmt.Errorf("failed to allocate listener: %w", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port

	resp := &controlMessage{TunnelID: id}
	host := cfg.Domain
	if host == "" {
		short := strings.TrimPrefix(id, "tn_")
		if len(short) > 8 {
			short = short[:8]
		}
		host = fmt.Sprintf("%s.%s:%d", short, ss.server.publicHost, port)
	}
	switch cfg.Kind {
	case KindHTTP:
		resp.Proto = cfg.Scheme
		if resp.Proto == "" {
			resp.Proto = "https"
		}
		resp.URL = resp.Proto + "://" + host
	case KindTCP:
		resp.Proto = "tcp"
		resp.URL = fmt.Sprintf("tcp://%s:%d", ss.server.publicHost, port)
	case KindTLS:
		resp.Proto = "tls"
		resp.URL = "tls://" + host
	case KindLabeled:
		resp.Labels = cfg.Labels
	}

	t := &serverTunnel{id: id, listener: ln}
	ss.mu.Lock()
	if old, ok := ss.tunnels[id]; ok {
		_ = old.listener.Close()
	}
	ss.tunnels[id] = t
	ss.mu.Unlock()

	go ss.acceptPublic(t)
	ss.logger.Info("Tunnel bound", logging.String("tunnel_id", id), logging.String("url", resp.URL))
	return resp, nil
}

func (ss *serverSession) unbind(id string) error {
	ss.mu.Lock()
	t, ok := ss.tunnels[id]
	delete(ss.tunnels, id)
	ss.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrTunnelNotFound, id)
	}
	return t.listener.Close()
}

func (ss *serverSession) acceptPublic(t *serverTunnel) {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			return
		}
		go ss.relay(t.id, conn)
	}
}

func (ss *serverSession) relay(id string, conn net.Conn) {
	stream, err := ss.mux.OpenStream()
	if err != nil {
		_ = conn.Close()
		return
	}
	if err := writeTunnelHeader(stream, id); err != nil {
		_ = conn.Close()
		_ = stream.Close()
		return
	}

	done := make(chan struct{}, 2)
	go func() {
		_, _ = io.Copy(stream, conn)
		_ = stream.Close()
		done <- struct{}{}
	}()
	go func() {
		_, _ = io.Copy(conn, stream)
		_ = conn.Close()
		done <- struct{}{}
	}()
	<-done
	<-done
}

func (ss *serverSession) teardown() {
	ss.mu.Lock()
	tunnels := ss.tunnels
	ss.tunnels = make(map[string]*serverTunnel)
	ss.mu.Unlock()
	for _, t := range tunnels {
		_ = t.listener.Close()
	}

	if ss.id != "" {
		ss.server.mu.Lock()
		if ss.server.sessions[ss.id] == ss {
			delete(ss.server.sessions, ss.id)
		}
		ss.server.mu.Unlock()
		ss.logger.Info("Session closed", logging.String("session_id", ss.id))
	}
}
