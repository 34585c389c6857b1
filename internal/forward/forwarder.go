package forward

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"golang.org/x/time/rate"

	"github.com/julienstroheker/hexagent/internal/logging"
	"github.com/julienstroheker/hexagent/internal/metrics"
	"github.com/julienstroheker/hexagent/internal/relay"
)

// Options contains configuration for a Forwarder
type Options struct {
	Dialer *Dialer
	// BytesPerSecond caps the combined throughput of all connections, 0 means unlimited
	BytesPerSecond int
	Logger         *logging.Logger
	Metrics        *metrics.Metrics
}

// Forwarder accepts connections from a tunnel and splices them to a destination
type Forwarder struct {
	dialer  *Dialer
	limiter *rate.Limiter
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// New creates a Forwarder
func New(opts *Options) *Forwarder {
	if opts == nil {
		opts = &Options{}
	}
	f := &Forwarder{
		dialer:  opts.Dialer,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
	if f.dialer == nil {
		f.dialer = &Dialer{}
	}
	if f.logger == nil {
		f.logger = logging.Discard()
	}
	if opts.BytesPerSecond > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(opts.BytesPerSecond), opts.BytesPerSecond)
	}
	return f
}

// Serve runs the accept loop until the tunnel ends. A deliberate end (tunnel
// closed, session shutting down, ctx canceled) returns nil. Failures of single
// connections are logged and counted and never end the loop.
func (f *Forwarder) Serve(ctx context.Context, tun relay.Tunnel, dest Destination) error {
	logger := f.logger.With(
		logging.String("tunnel_id", tun.ID()),
		logging.String("destination", dest.String()))
	logger.Info("Starting forwarder")

	connCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	for {
		conn, err := tun.Accept(ctx)
		if err != nil {
			if IsCanceled(err) || ctx.Err() != nil {
				logger.Info("Forwarder stopped")
				return nil
			}
			logger.Error("Failed to accept connection", logging.Error(err))
			return &ForwardError{TunnelID: tun.ID(), Err: err}
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.handleConnection(connCtx, conn, dest); err != nil {
				var cerr *ConnError
				reason := "copy"
				if errors.As(err, &cerr) {
					reason = cerr.Op
				}
				f.metrics.ForwardError(reason)
				logger.Warn("Connection failed", logging.Error(err))
			}
		}()
	}
}

// handleConnection dials the destination and copies data both ways until
// both directions are done or ctx ends
func (f *Forwarder) handleConnection(ctx context.Context, relayConn relay.Connection, dest Destination) error {
	defer func() {
		_ = relayConn.Close()
	}()

	localConn, err := f.dialer.Dial(ctx, dest)
	if err != nil {
		return &ConnError{Op: "dial", Dest: dest.String(), Err: err}
	}
	defer func() {
		_ = localConn.Close()
	}()
	f.metrics.ConnectionForwarded(dest.Scheme)

	done := make(chan error, 2)
	go func() {
		n, err := io.Copy(localConn, f.limit(ctx, relayConn))
		f.metrics.BytesForwarded("inbound", n)
		closeWrite(localConn)
		done <- err
	}()
	go func() {
		n, err := io.Copy(relayConn, f.limit(ctx, localConn))
		f.metrics.BytesForwarded("outbound", n)
		closeWrite(relayConn)
		done <- err
	}()

	var firstErr error
	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			if firstErr == nil && !benignCopyError(err) {
				firstErr = err
			}
		case <-ctx.Done():
			// Unblock both copies
			_ = relayConn.Close()
			_ = localConn.Close()
			<-done
			if i == 0 {
				<-done
			}
			return nil
		}
	}

	if firstErr != nil {
		return &ConnError{Op: "copy", Dest: dest.String(), Err: firstErr}
	}
	return nil
}

// closeWrite half-closes c when it supports it, otherwise closes it
func closeWrite(c io.Closer) {
	if cw, ok := c.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
		return
	}
	_ = c.Close()
}

func benignCopyError(err error) bool {
	return err == nil ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, relay.ErrConnectionClosed)
}

func (f *Forwarder) limit(ctx context.Context, r io.Reader) io.Reader {
	if f.limiter == nil {
		return r
	}
	return &limitedReader{ctx: ctx, r: r, limiter: f.limiter}
}

type limitedReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if burst := l.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}
	n, err := l.r.Read(p)
	if n > 0 {
		if werr := l.limiter.WaitN(l.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
