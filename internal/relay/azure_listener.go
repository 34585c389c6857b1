package relay

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/julienstroheker/hexagent/internal/logging"
)

const azureAcceptQueue = 10

// AzureListener is an Azure Relay Hybrid Connection listener
type AzureListener struct {
	relayEndpoint        string
	hybridConnectionName string
	token                func(ctx context.Context) (string, error)
	listenerID           string
	connector            Connector
	tlsConfig            *tls.Config
	logger               *logging.Logger

	mu          sync.Mutex
	controlConn *websocket.Conn
	closed      bool
	closeErr    error
	done        chan struct{}
	acceptQueue chan Connection
}

// AzureListenerOptions contains configuration for Azure Relay Listener
type AzureListenerOptions struct {
	RelayEndpoint        string // e.g., "myrelay.servicebus.windows.net"
	HybridConnectionName string // e.g., "hc-12345"
	// Token returns the ServiceBusAuthorization value, called on every (re)connect
	Token func(ctx context.Context) (string, error)
	// Connector dials the relay endpoint, defaults to a plain TCP dial
	Connector Connector
	// TLSConfig overrides the TLS settings of both the control and rendezvous channels
	TLSConfig *tls.Config
	Logger    *logging.Logger
}

// NewAzureListener creates a new Azure Relay Hybrid Connection listener
func NewAzureListener(opts *AzureListenerOptions) (*AzureListener, error) {
	if opts == nil {
		return nil, fmt.Errorf("options cannot be nil")
	}
	if opts.RelayEndpoint == "" {
		return nil, fmt.Errorf("relay endpoint is required")
	}
	if opts.HybridConnectionName == "" {
		return nil, fmt.Errorf("hybrid connection name is required")
	}
	if opts.Token == nil {
		return nil, fmt.Errorf("token is required")
	}

	l := &AzureListener{
		relayEndpoint:        opts.RelayEndpoint,
		hybridConnectionName: opts.HybridConnectionName,
		token:                opts.Token,
		listenerID:           uuid.New().String(),
		connector:            opts.Connector,
		tlsConfig:            opts.TLSConfig,
		logger:               opts.Logger,
		done:                 make(chan struct{}),
		acceptQueue:          make(chan Connection, azureAcceptQueue),
	}
	if l.connector == nil {
		l.connector = dialTCP
	}
	if l.logger == nil {
		l.logger = logging.Discard()
	}
	l.logger = l.logger.With(
		logging.String("hybrid_connection_name", l.hybridConnectionName),
		logging.String("listener_id", l.listenerID))
	return l, nil
}

func dialTCP(ctx context.Context, addr string, _ error) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

func (l *AzureListener) dialer(lastErr error) *websocket.Dialer {
	return &websocket.Dialer{
		HandshakeTimeout: 30 * time.Second,
		TLSClientConfig:  l.tlsConfig,
		NetDialContext: func(ctx context.Context, _, addr string) (net.Conn, error) {
			return l.connector(ctx, addr, lastErr)
		},
	}
}

// Start connects the control channel and begins handling accept notifications
func (l *AzureListener) Start(ctx context.Context) error {
	if err := l.connect(ctx, nil); err != nil {
		return err
	}
	go l.handleControlChannel()
	return nil
}

// connect establishes the control channel WebSocket connection to Azure Relay
func (l *AzureListener) connect(ctx context.Context, lastErr error) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return ErrListenerClosed
	}

	token, err := l.token(ctx)
	if err != nil {
		return fmt.Errorf("failed to obtain relay token: %w", err)
	}

	// wss://<endpoint>/$hc/<name>?sb-hc-action=listen&sb-hc-id=<listener-id>
	wsURL := fmt.Sprintf("wss://%s/$hc/%s?sb-hc-action=listen&sb-hc-id=%s",
		l.relayEndpoint, l.hybridConnectionName, l.listenerID)
	l.logger.Debug("Connecting to Azure Relay control channel", logging.String("url", wsURL))

	// Token goes in the ServiceBusAuthorization header, not the query string
	header := http.Header{}
	header.Add("ServiceBusAuthorization", token)

	conn, resp, err := l.dialer(lastErr).DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			_ = resp.Body.Close()
			if len(body) > 0 {
				l.logger.Error("Azure Relay connection failed",
					logging.Int("status", resp.StatusCode),
					logging.String("body", string(body)))
			}
			if resp.StatusCode == http.StatusUnauthorized {
				return fmt.Errorf("%w: %w", ErrUnauthorized, err)
			}
			return fmt.Errorf("failed to connect to relay control channel (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("failed to connect to relay control channel: %w", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		_ = conn.Close()
		return ErrListenerClosed
	}
	l.controlConn = conn
	l.mu.Unlock()

	l.logger.Info("Control channel connected")
	return nil
}

// Accept waits for and returns the next connection to the listener
func (l *AzureListener) Accept(ctx context.Context) (Connection, error) {
	select {
	case <-ctx.Done():
		return nil, Canceled(ctx.Err())
	case conn := <-l.acceptQueue:
		return conn, nil
	case <-l.done:
		return nil, l.Err()
	}
}

// Err returns why the listener stopped, or nil while it is running
func (l *AzureListener) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeErr
}

// acceptMessage represents an accept notification from the control channel
type acceptMessage struct {
	Accept struct {
		Address        string            `json:"address"`
		ID             string            `json:"id"`
		ConnectHeaders map[string]string `json:"connectHeaders"`
	} `json:"accept"`
}

// handleControlChannel processes accept messages until the listener is closed,
// reconnecting the control channel when it drops
func (l *AzureListener) handleControlChannel() {
	for {
		l.mu.Lock()
		if l.closed || l.controlConn == nil {
			l.mu.Unlock()
			return
		}
		conn := l.controlConn
		l.mu.Unlock()

		messageType, data, err := conn.ReadMessage()
		if err != nil {
			l.mu.Lock()
			closed := l.closed
			l.mu.Unlock()
			if closed {
				return
			}
			l.logger.Warn("Control channel read error", logging.Error(err))
			_ = conn.Close()
			if !l.reconnect(err) {
				return
			}
			continue
		}

		if messageType != websocket.TextMessage {
			continue
		}

		var msg acceptMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			l.logger.Error("Failed to parse accept message", logging.Error(err))
			continue
		}
		if msg.Accept.Address != "" {
			l.logger.Debug("Received accept notification", logging.String("connection_id", msg.Accept.ID))
			go l.acceptRendezvousConnection(msg.Accept.Address, msg.Accept.ID)
		}
	}
}

func (l *AzureListener) reconnect(lastErr error) bool {
	backoff := backoffMin
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-l.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		err := l.connect(ctx, lastErr)
		if err == nil {
			return true
		}
		if errors.Is(err, ErrListenerClosed) || ctx.Err() != nil {
			return false
		}
		if IsCanceled(err) {
			l.closeWith(Canceled(err))
			return false
		}
		lastErr = err
		l.logger.Info("Reconnecting control channel", logging.Error(err), logging.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
}

// acceptRendezvousConnection establishes the rendezvous connection carrying the data
func (l *AzureListener) acceptRendezvousConnection(rendezvousAddress, connectionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// No authentication on the rendezvous leg
	conn, resp, err := l.dialer(nil).DialContext(ctx, rendezvousAddress, http.Header{})
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
			l.logger.Error("Rendezvous connection failed",
				logging.Int("status", resp.StatusCode),
				logging.String("connection_id", connectionID),
				logging.Error(err))
		}
		return
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	l.logger.Debug("Rendezvous connection established", logging.String("connection_id", connectionID))
	wrapped := NewWebSocketConn(conn)

	select {
	case l.acceptQueue <- wrapped:
	case <-l.done:
		_ = wrapped.Close()
	default:
		// Full queue: close the connection to signal backpressure
		l.logger.Warn("Accept queue full, dropping connection")
		_ = wrapped.Close()
	}
}

// Close closes the listener
func (l *AzureListener) Close() error {
	return l.closeWith(ErrListenerClosed)
}

func (l *AzureListener) closeWith(cause error) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.closeErr = cause
	close(l.done)
	conn := l.controlConn
	l.mu.Unlock()

	for {
		select {
		case c := <-l.acceptQueue:
			_ = c.Close()
			continue
		default:
		}
		break
	}

	if conn != nil {
		return conn.Close()
	}
	return nil
}
