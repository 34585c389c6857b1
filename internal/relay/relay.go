package relay

import (
	"context"
	"io"
	"net"
	"time"
)

// Connection represents a bidirectional stream accepted from a tunnel
type Connection interface {
	io.ReadWriteCloser
}

// Kind identifies the endpoint flavour a tunnel was opened as
type Kind string

const (
	KindHTTP    Kind = "http"
	KindTCP     Kind = "tcp"
	KindTLS     Kind = "tls"
	KindLabeled Kind = "labeled"
)

// IsValid reports whether k is a known kind
func (k Kind) IsValid() bool {
	switch k {
	case KindHTTP, KindTCP, KindTLS, KindLabeled:
		return true
	}
	return false
}

// String returns the string representation
func (k Kind) String() string {
	return string(k)
}

// Tunnel is an open public endpoint on a session
type Tunnel interface {
	// ID is the relay-assigned tunnel identifier
	ID() string
	// URL is the public URL; empty for labeled tunnels
	URL() string
	// Proto is the public protocol; empty for labeled tunnels
	Proto() string
	// Labels is set only for labeled tunnels
	Labels() map[string]string
	ForwardsTo() string
	Metadata() string

	// Accept waits for the next inbound connection.
	// It returns ErrTunnelClosed after CloseTunnel and an error wrapping
	// ErrCanceled when the session is shutting down.
	Accept(ctx context.Context) (Connection, error)
}

// Session is an authenticated control channel that multiplexes tunnels
type Session interface {
	ID() string

	// Open negotiates a new tunnel with the relay
	Open(ctx context.Context, cfg EndpointConfig) (Tunnel, error)

	// CloseTunnel tears down one tunnel. Pending Accept calls on it are released.
	CloseTunnel(ctx context.Context, id string) error

	// Close tears down the session and every tunnel on it
	Close(ctx context.Context) error

	// Done is closed once the session is shut down, either by Close or
	// because reconnection stopped
	Done() <-chan struct{}
}

// Backend creates sessions against one kind of relay
type Backend interface {
	Connect(ctx context.Context, opts SessionOptions) (Session, error)
}

// DefaultConnector is implemented by backends whose physical connect can be
// wrapped, for example to let a host veto reconnects
type DefaultConnector interface {
	DefaultConnector(opts SessionOptions) (Connector, error)
}

// Connector establishes the physical connection underneath a session.
// lastErr is nil on the first attempt and holds the failure that caused a reconnect otherwise.
// Returning an error wrapping ErrCanceled stops reconnection and closes the session.
type Connector func(ctx context.Context, addr string, lastErr error) (net.Conn, error)

// UpdateRequest is sent by the relay when it asks the agent to update itself
type UpdateRequest struct {
	Version            string
	PermitMajorVersion bool
}

// CommandHandlers receive relay-initiated commands. A nil handler rejects the command.
type CommandHandlers struct {
	OnStop      func(ctx context.Context) error
	OnRestart   func(ctx context.Context) error
	OnUpdate    func(ctx context.Context, req UpdateRequest) error
	OnHeartbeat func(ctx context.Context, latency time.Duration) error
}

// SessionOptions configures Backend.Connect
type SessionOptions struct {
	Authtoken  string
	ServerAddr string
	Metadata   string
	ClientInfo []ClientInfo

	HeartbeatInterval  time.Duration
	HeartbeatTolerance time.Duration

	// CACert is a PEM bundle used to verify the relay; nil uses system roots
	CACert []byte

	// Connector replaces the backend's default physical connect when set
	Connector Connector

	Handlers CommandHandlers
}

// ClientInfo identifies the software running the session
type ClientInfo struct {
	Type     string
	Version  string
	Comments string
}

// EndpointConfig is the negotiated configuration of a tunnel
type EndpointConfig struct {
	Kind       Kind
	Metadata   string
	ForwardsTo string

	// Domain applies to http and tls
	Domain string
	// Scheme applies to http
	Scheme string
	// RemoteAddr applies to tcp
	RemoteAddr string
	// Labels apply to labeled
	Labels map[string]string

	AllowCIDR  []string
	DenyCIDR   []string
	ProxyProto int

	HTTP *HTTPOptions
	TLS  *TLSOptions
}

// HTTPOptions are edge modules of http endpoints
type HTTPOptions struct {
	Compression            bool
	WebsocketTCPConversion bool
	CircuitBreaker         float64
	MutualTLSCAs           [][]byte
	RequestHeaders         map[string]string
	ResponseHeaders        map[string]string
	RemoveRequestHeaders   []string
	RemoveResponseHeaders  []string
	BasicAuth              map[string]string
	AllowUserAgents        []string
	DenyUserAgents         []string
	OAuth                  *OAuthOptions
	OIDC                   *OIDCOptions
	Webhook                *WebhookOptions
}

// OAuthOptions configure OAuth in front of an http endpoint
type OAuthOptions struct {
	Provider     string
	AllowEmails  []string
	AllowDomains []string
	Scopes       []string
	ClientID     string
	ClientSecret string
}

// OIDCOptions configure OpenID Connect in front of an http endpoint
type OIDCOptions struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	AllowEmails  []string
	AllowDomains []string
	Scopes       []string
}

// WebhookOptions configure webhook signature verification
type WebhookOptions struct {
	Provider string
	Secret   string
}

// TLSOptions are edge modules of tls endpoints
type TLSOptions struct {
	MutualTLSCAs [][]byte
	// Termination material, PEM encoded; both or neither
	CertPEM []byte
	KeyPEM  []byte
}
