package session

import (
	"context"
	"crypto/x509"
	"errors"
	"os"
	"time"

	"github.com/julienstroheker/hexagent/internal/bridge"
	"github.com/julienstroheker/hexagent/internal/config"
	"github.com/julienstroheker/hexagent/internal/logging"
	"github.com/julienstroheker/hexagent/internal/metrics"
	"github.com/julienstroheker/hexagent/internal/relay"
)

// AuthtokenEnv is read by AuthtokenFromEnv
const AuthtokenEnv = "HEXAGENT_AUTHTOKEN"

// BuilderOptions are the collaborators shared by every session a builder opens
type BuilderOptions struct {
	// Loop runs host handlers; it is required once any handler is set
	Loop    *bridge.Loop
	Logger  *logging.Logger
	Metrics *metrics.Metrics
}

// Builder accumulates session options. Setters never perform I/O; invalid
// values are reported by Connect.
type Builder struct {
	backend relay.Backend
	loop    *bridge.Loop
	logger  *logging.Logger
	metrics *metrics.Metrics

	opts relay.SessionOptions
	errs []error

	onConnect    func(ConnectStatus)
	onDisconnect func(Disconnect) bool
	onStop       func() error
	onRestart    func() error
	onUpdate     func(relay.UpdateRequest) error
	onHeartbeat  func(time.Duration)
}

// NewBuilder creates a session builder for backend
func NewBuilder(backend relay.Backend, opts *BuilderOptions) *Builder {
	if opts == nil {
		opts = &BuilderOptions{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Builder{
		backend: backend,
		loop:    opts.Loop,
		logger:  logger.Named("session"),
		metrics: opts.Metrics,
	}
}

func (b *Builder) fail(field, reason string, err error) {
	b.errs = append(b.errs, &config.ConfigError{Field: field, Reason: reason, Err: err})
}

// Authtoken sets the token used to authenticate with the relay
func (b *Builder) Authtoken(token string) *Builder {
	b.opts.Authtoken = token
	return b
}

// AuthtokenFromEnv reads the token from HEXAGENT_AUTHTOKEN
func (b *Builder) AuthtokenFromEnv() *Builder {
	b.opts.Authtoken = os.Getenv(AuthtokenEnv)
	return b
}

// HeartbeatInterval sets how often the relay is pinged
func (b *Builder) HeartbeatInterval(d time.Duration) *Builder {
	if d < 0 {
		b.fail("heartbeat_interval", "must not be negative", nil)
	}
	b.opts.HeartbeatInterval = d
	return b
}

// HeartbeatTolerance sets how late a heartbeat may be before the session reconnects
func (b *Builder) HeartbeatTolerance(d time.Duration) *Builder {
	if d < 0 {
		b.fail("heartbeat_tolerance", "must not be negative", nil)
	}
	b.opts.HeartbeatTolerance = d
	return b
}

// Metadata sets opaque session metadata
func (b *Builder) Metadata(md string) *Builder {
	b.opts.Metadata = md
	return b
}

// ServerAddr sets the relay address
func (b *Builder) ServerAddr(addr string) *Builder {
	b.opts.ServerAddr = addr
	return b
}

// CACert sets the PEM bundle used to verify the relay
func (b *Builder) CACert(pem []byte) *Builder {
	if !x509.NewCertPool().AppendCertsFromPEM(pem) {
		b.fail("ca_cert", "no certificate could be parsed", nil)
		return b
	}
	b.opts.CACert = pem
	return b
}

// ClientInfo identifies the software running the session
func (b *Builder) ClientInfo(clientType, version, comments string) *Builder {
	if clientType == "" || version == "" {
		b.fail("client_info", "type and version are required", nil)
		return b
	}
	b.opts.ClientInfo = append(b.opts.ClientInfo, relay.ClientInfo{
		Type: clientType, Version: version, Comments: comments,
	})
	return b
}

// HandleConnection observes every connect attempt
func (b *Builder) HandleConnection(fn func(ConnectStatus)) *Builder {
	b.onConnect = fn
	return b
}

// HandleDisconnection is consulted before every reconnect; false closes the session
func (b *Builder) HandleDisconnection(fn func(Disconnect) bool) *Builder {
	b.onDisconnect = fn
	return b
}

// HandleStopCommand handles a relay stop command
func (b *Builder) HandleStopCommand(fn func() error) *Builder {
	b.onStop = fn
	return b
}

// HandleRestartCommand handles a relay restart command
func (b *Builder) HandleRestartCommand(fn func() error) *Builder {
	b.onRestart = fn
	return b
}

// HandleUpdateCommand handles a relay update command
func (b *Builder) HandleUpdateCommand(fn func(relay.UpdateRequest) error) *Builder {
	b.onUpdate = fn
	return b
}

// HandleHeartbeat observes heartbeat round trips
func (b *Builder) HandleHeartbeat(fn func(time.Duration)) *Builder {
	b.onHeartbeat = fn
	return b
}

func (b *Builder) hasHandlers() bool {
	return b.onConnect != nil || b.onDisconnect != nil || b.onStop != nil ||
		b.onRestart != nil || b.onUpdate != nil || b.onHeartbeat != nil
}

// Connect establishes the session
func (b *Builder) Connect(ctx context.Context) (*Session, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	if b.hasHandlers() && b.loop == nil {
		return nil, &config.ConfigError{Field: "handlers", Reason: "a host loop is required to run handlers"}
	}

	opts := b.opts
	opts.Handlers = b.commands().handlers(b.logger)

	if b.onConnect != nil || b.onDisconnect != nil {
		connector, err := b.connector(opts)
		if err != nil {
			return nil, err
		}
		opts.Connector = connector
	}

	sess, err := b.backend.Connect(ctx, opts)
	if err != nil {
		b.logger.Error("Failed to connect session",
			logging.String("server_addr", opts.ServerAddr), logging.Error(err))
		return nil, &ConnectError{Addr: opts.ServerAddr, Err: err}
	}

	logger := b.logger.With(logging.String("session_id", sess.ID()))
	logger.Info("Session established", logging.String("server_addr", opts.ServerAddr))
	return &Session{
		Session:    sess,
		serverAddr: opts.ServerAddr,
		metadata:   opts.Metadata,
		logger:     logger,
	}, nil
}

func (b *Builder) connector(opts relay.SessionOptions) (relay.Connector, error) {
	base := opts.Connector
	if base == nil {
		dc, ok := b.backend.(relay.DefaultConnector)
		if !ok {
			return nil, &config.ConfigError{
				Field:  "handlers",
				Reason: "the relay backend does not support connection handlers",
			}
		}
		var err error
		if base, err = dc.DefaultConnector(opts); err != nil {
			return nil, &config.ConfigError{Field: "ca_cert", Reason: err.Error(), Err: err}
		}
	}

	var onConnect *bridge.Func[ConnectStatus, struct{}]
	if fn := b.onConnect; fn != nil {
		onConnect = bridge.Wrap(b.loop, func(s ConnectStatus) (struct{}, error) {
			fn(s)
			return struct{}{}, nil
		}).Named("connection")
	}
	var onDisconnect *bridge.Func[Disconnect, bool]
	if fn := b.onDisconnect; fn != nil {
		onDisconnect = bridge.Wrap(b.loop, func(d Disconnect) (bool, error) {
			return fn(d), nil
		}).Named("disconnection")
	}
	return NewConnector(base, onConnect, onDisconnect, &ConnectorOptions{
		Logger:  b.logger,
		Metrics: b.metrics,
	}), nil
}

func (b *Builder) commands() commandFuncs {
	var c commandFuncs
	if fn := b.onStop; fn != nil {
		c.stop = bridge.Wrap(b.loop, func(struct{}) (struct{}, error) {
			return struct{}{}, fn()
		}).Named("stop")
	}
	if fn := b.onRestart; fn != nil {
		c.restart = bridge.Wrap(b.loop, func(struct{}) (struct{}, error) {
			return struct{}{}, fn()
		}).Named("restart")
	}
	if fn := b.onUpdate; fn != nil {
		c.update = bridge.Wrap(b.loop, func(req relay.UpdateRequest) (struct{}, error) {
			return struct{}{}, fn(req)
		}).Named("update")
	}
	if fn := b.onHeartbeat; fn != nil {
		c.heartbeat = bridge.Wrap(b.loop, func(d time.Duration) (struct{}, error) {
			fn(d)
			return struct{}{}, nil
		}).Named("heartbeat")
	}
	return c
}
