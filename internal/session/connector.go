package session

import (
	"context"
	"errors"
	"net"

	"github.com/julienstroheker/hexagent/internal/bridge"
	"github.com/julienstroheker/hexagent/internal/logging"
	"github.com/julienstroheker/hexagent/internal/metrics"
	"github.com/julienstroheker/hexagent/internal/relay"
)

// ErrReconnectVetoed is wrapped when a disconnect handler refuses a reconnect
var ErrReconnectVetoed = errors.New("reconnect refused by disconnect handler")

// Connection states reported to connect handlers
const (
	StatusConnected = "connected"
	StatusClosed    = "closed"
)

// ConnectStatus is passed to the connect handler after every attempt
type ConnectStatus struct {
	Status string
	// Error describes the failure when Status is StatusClosed
	Error string
}

// Disconnect is passed to the disconnect handler before a reconnect
type Disconnect struct {
	Addr  string
	Error string
}

// ConnectorOptions are the optional collaborators of a connector override
type ConnectorOptions struct {
	Logger  *logging.Logger
	Metrics *metrics.Metrics
}

// NewConnector wraps base so host handlers observe and may veto (re)connects.
// Either handler may be nil. Bridge failures surface as relay cancellations.
func NewConnector(
	base relay.Connector,
	onConnect *bridge.Func[ConnectStatus, struct{}],
	onDisconnect *bridge.Func[Disconnect, bool],
	opts *ConnectorOptions,
) relay.Connector {
	if opts == nil {
		opts = &ConnectorOptions{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	m := opts.Metrics

	return func(ctx context.Context, addr string, lastErr error) (net.Conn, error) {
		if onDisconnect != nil && lastErr != nil {
			reconnect, err := onDisconnect.Call(ctx, Disconnect{Addr: addr, Error: lastErr.Error()})
			if err != nil {
				logger.Warn("Disconnect handler failed", logging.Error(err))
				m.ConnectAttempt("canceled")
				return nil, relay.Canceled(err)
			}
			if !reconnect {
				logger.Info("Reconnect refused by host", logging.String("addr", addr))
				m.ConnectAttempt("vetoed")
				return nil, relay.Canceled(ErrReconnectVetoed)
			}
		}

		conn, err := base(ctx, addr, lastErr)
		if err != nil {
			m.ConnectAttempt("failed")
		} else {
			m.ConnectAttempt("connected")
		}

		if onConnect != nil {
			status := ConnectStatus{Status: StatusConnected}
			if err != nil {
				status = ConnectStatus{Status: StatusClosed, Error: err.Error()}
			}
			if _, cerr := onConnect.Call(ctx, status); cerr != nil {
				logger.Warn("Connect handler failed", logging.Error(cerr))
				if conn != nil {
					_ = conn.Close()
				}
				return nil, relay.Canceled(cerr)
			}
		}
		return conn, err
	}
}
