package session

import (
	"context"
	"time"

	"github.com/julienstroheker/hexagent/internal/bridge"
	"github.com/julienstroheker/hexagent/internal/logging"
	"github.com/julienstroheker/hexagent/internal/relay"
)

type commandFuncs struct {
	stop      *bridge.Func[struct{}, struct{}]
	restart   *bridge.Func[struct{}, struct{}]
	update    *bridge.Func[relay.UpdateRequest, struct{}]
	heartbeat *bridge.Func[time.Duration, struct{}]
}

// handlers routes relay commands to the host loop. A command without a
// handler is left nil so the relay rejects it.
func (c commandFuncs) handlers(logger *logging.Logger) relay.CommandHandlers {
	var h relay.CommandHandlers
	if c.stop != nil {
		h.OnStop = func(ctx context.Context) error {
			logger.Info("Received stop command")
			_, err := c.stop.Call(ctx, struct{}{})
			return err
		}
	}
	if c.restart != nil {
		h.OnRestart = func(ctx context.Context) error {
			logger.Info("Received restart command")
			_, err := c.restart.Call(ctx, struct{}{})
			return err
		}
	}
	if c.update != nil {
		h.OnUpdate = func(ctx context.Context, req relay.UpdateRequest) error {
			logger.Info("Received update command", logging.String("version", req.Version))
			_, err := c.update.Call(ctx, req)
			return err
		}
	}
	if c.heartbeat != nil {
		h.OnHeartbeat = func(_ context.Context, latency time.Duration) error {
			// Heartbeats are telemetry: never wait on the host for them
			if err := c.heartbeat.Notify(latency); err != nil {
				logger.Debug("Heartbeat notification dropped", logging.Error(err))
			}
			return nil
		}
	}
	return h
}
