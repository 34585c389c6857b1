package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/julienstroheker/hexagent/gateway/http/handlers"
	"github.com/julienstroheker/hexagent/gateway/http/middleware"
	"github.com/julienstroheker/hexagent/internal/logging"
	"github.com/julienstroheker/hexagent/internal/metrics"
	"github.com/julienstroheker/hexagent/internal/relay"
)

// TunnelPath is where agents open their websocket session
const TunnelPath = "/tunnel"

// Server represents the HTTP server
type Server struct {
	server *http.Server
	port   int
	relay  *relay.Server
	logger *logging.Logger
}

// Options configures the HTTP server
type Options struct {
	Port   int
	Logger *logging.Logger

	// Authtoken, when set, is required from every agent session
	Authtoken string
	// PublicHost is the host name placed in tunnel URLs
	PublicHost string
	// BindHost is the interface public tunnel listeners bind to
	BindHost string

	// Registry receives the gateway collectors and backs /metrics.
	// Nil uses a fresh registry.
	Registry *prometheus.Registry
}

// NewServer creates a new HTTP server instance
func NewServer(opts *Options) *Server {
	if opts == nil {
		opts = &Options{Port: 8080}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := metrics.New(reg)

	rs := relay.NewServer(&relay.ServerOptions{
		Authtoken:  opts.Authtoken,
		PublicHost: opts.PublicHost,
		BindHost:   opts.BindHost,
		Logger:     logger.Named("relay"),
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handlers.HealthHandler)
	mux.Handle(TunnelPath, rs)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	handlers.NewSessionsHandler(rs).Register(mux)

	// Telemetry runs first so the logger sees the request ids
	var handler http.Handler = mux
	handler = middleware.Metrics(m)(handler)
	handler = middleware.Logger(logger)(handler)
	handler = middleware.Telemetry(handler)

	return &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", opts.Port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		port:   opts.Port,
		relay:  rs,
		logger: logger,
	}
}

// Handler returns the root handler with the middleware chain applied
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Relay returns the relay server behind TunnelPath
func (s *Server) Relay() *relay.Server {
	return s.relay
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Serve accepts connections on l
func (s *Server) Serve(l net.Listener) error {
	return s.server.Serve(l)
}

// Shutdown closes every agent session, then gracefully shuts down the server.
// Hijacked websocket connections are not tracked by net/http, so the relay
// is closed first.
func (s *Server) Shutdown(ctx context.Context) error {
	return errors.Join(s.relay.Close(), s.server.Shutdown(ctx))
}

// Close immediately closes the server
func (s *Server) Close() error {
	return errors.Join(s.relay.Close(), s.server.Close())
}

// Port returns the port the server is configured to listen on
func (s *Server) Port() int {
	return s.port
}
