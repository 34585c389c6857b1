package relay

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"

	azrelay "github.com/julienstroheker/hexagent/internal/azure/relay"
	"github.com/julienstroheker/hexagent/internal/logging"
)

// HybridConnectionManager provisions hybrid connections on a relay namespace
type HybridConnectionManager interface {
	CreateHybridConnection(ctx context.Context, name, userMetadata string) error
	DeleteHybridConnection(ctx context.Context, name string) error
}

// AzureOptions configures the Azure Relay backend
type AzureOptions struct {
	// Namespace is the relay namespace name
	Namespace string
	// Endpoint overrides <namespace>.servicebus.windows.net
	Endpoint string
	Manager  HybridConnectionManager
	Tokens   azrelay.TokenProvider
	// TLSConfig overrides the TLS settings used towards the relay
	TLSConfig *tls.Config
	Logger    *logging.Logger
}

// AzureBackend opens one Azure Relay hybrid connection per tunnel
type AzureBackend struct {
	endpoint  string
	manager   HybridConnectionManager
	tokens    azrelay.TokenProvider
	tlsConfig *tls.Config
	logger    *logging.Logger
}

// NewAzureBackend creates an Azure Relay backend
func NewAzureBackend(opts *AzureOptions) (*AzureBackend, error) {
	if opts == nil {
		return nil, fmt.Errorf("options cannot be nil")
	}
	if opts.Manager == nil {
		return nil, fmt.Errorf("hybrid connection manager is required")
	}
	if opts.Tokens == nil {
		return nil, fmt.Errorf("token provider is required")
	}
	endpoint := opts.Endpoint
	if endpoint == "" {
		if opts.Namespace == "" {
			return nil, fmt.Errorf("namespace is required")
		}
		endpoint = opts.Namespace + ".servicebus.windows.net"
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &AzureBackend{
		endpoint:  endpoint,
		manager:   opts.Manager,
		tokens:    opts.Tokens,
		tlsConfig: opts.TLSConfig,
		logger:    logger,
	}, nil
}

// DefaultConnector implements DefaultConnector
func (b *AzureBackend) DefaultConnector(SessionOptions) (Connector, error) {
	return dialTCP, nil
}

// Connect implements Backend. Hybrid connections have no session-level
// channel, so connecting only verifies the relay endpoint is reachable.
func (b *AzureBackend) Connect(ctx context.Context, opts SessionOptions) (Session, error) {
	connect := opts.Connector
	if connect == nil {
		connect = dialTCP
	}

	addr := b.endpoint
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "443")
	}
	conn, err := connect(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to reach azure relay %s: %w", addr, err)
	}
	_ = conn.Close()

	s := &azureSession{
		id:      uuid.New().String(),
		backend: b,
		connect: connect,
		tunnels: make(map[string]*azureTunnel),
		done:    make(chan struct{}),
	}
	s.logger = b.logger.With(logging.String("session_id", s.id))
	return s, nil
}

type azureTunnel struct {
	*queuedTunnel
	hybridConnection string
	listener         *AzureListener
}

func (t *azureTunnel) Accept(ctx context.Context) (Connection, error) {
	conn, err := t.listener.Accept(ctx)
	if errors.Is(err, ErrListenerClosed) {
		return nil, ErrTunnelClosed
	}
	return conn, err
}

type azureSession struct {
	id      string
	backend *AzureBackend
	connect Connector
	logger  *logging.Logger

	mu      sync.Mutex
	tunnels map[string]*azureTunnel
	closed  bool
	done    chan struct{}
}

func (s *azureSession) ID() string {
	return s.id
}

func (s *azureSession) Open(ctx context.Context, cfg EndpointConfig) (Tunnel, error) {
	if cfg.Kind != KindHTTP && cfg.Kind != KindTCP {
		return nil, fmt.Errorf("endpoint kind %q is not supported by azure relay", cfg.Kind)
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrSessionClosed
	}

	b := s.backend
	name := "hc-" + uuid.New().String()[:8]
	if err := b.manager.CreateHybridConnection(ctx, name, cfg.Metadata); err != nil {
		return nil, err
	}

	listener, err := NewAzureListener(&AzureListenerOptions{
		RelayEndpoint:        b.endpoint,
		HybridConnectionName: name,
		Token: func(ctx context.Context) (string, error) {
			return b.tokens.Token(ctx, name)
		},
		Connector: s.connect,
		TLSConfig: b.tlsConfig,
		Logger:    s.logger,
	})
	if err == nil {
		err = listener.Start(ctx)
	}
	if err != nil {
		if derr := b.manager.DeleteHybridConnection(context.WithoutCancel(ctx), name); derr != nil {
			s.logger.Warn("Failed to delete hybrid connection", logging.String("name", name), logging.Error(derr))
		}
		return nil, err
	}

	t := &azureTunnel{
		queuedTunnel:     newQueuedTunnel("tn_"+uuid.New().String(), cfg),
		hybridConnection: name,
		listener:         listener,
	}
	switch cfg.Kind {
	case KindHTTP:
		t.proto = "https"
		t.url = fmt.Sprintf("https://%s/%s", b.endpoint, name)
	case KindTCP:
		t.proto = "tcp"
		t.url = fmt.Sprintf("sb://%s/%s", b.endpoint, name)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = listener.Close()
		_ = b.manager.DeleteHybridConnection(context.WithoutCancel(ctx), name)
		return nil, ErrSessionClosed
	}
	s.tunnels[t.id] = t
	s.mu.Unlock()

	s.logger.Info("Hybrid connection listening", logging.String("tunnel_id", t.id), logging.String("url", t.url))
	return t, nil
}

func (s *azureSession) CloseTunnel(ctx context.Context, id string) error {
	s.mu.Lock()
	t, ok := s.tunnels[id]
	delete(s.tunnels, id)
	closed := s.closed
	s.mu.Unlock()

	if !ok {
		if closed {
			return ErrSessionClosed
		}
		return fmt.Errorf("%w: %s", ErrTunnelNotFound, id)
	}

	_ = t.listener.Close()
	return s.backend.manager.DeleteHybridConnection(ctx, t.hybridConnection)
}

func (s *azureSession) Done() <-chan struct{} {
	return s.done
}

func (s *azureSession) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	tunnels := s.tunnels
	s.tunnels = make(map[string]*azureTunnel)
	s.mu.Unlock()
	defer close(s.done)

	var errs []error
	for _, t := range tunnels {
		_ = t.listener.closeWith(Canceled(ErrSessionClosed))
		if err := s.backend.manager.DeleteHybridConnection(ctx, t.hybridConnection); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Backend                 = (*AzureBackend)(nil)
	_ Session                 = (*azureSession)(nil)
	_ Tunnel                  = (*azureTunnel)(nil)
	_ HybridConnectionManager = (*azrelay.Manager)(nil)
	_ DefaultConnector        = (*AzureBackend)(nil)
)
