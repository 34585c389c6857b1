package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/julienstroheker/hexagent/internal/config"
	"github.com/julienstroheker/hexagent/internal/forward"
	"github.com/julienstroheker/hexagent/internal/logging"
	"github.com/julienstroheker/hexagent/internal/relay"
	"github.com/julienstroheker/hexagent/internal/session"
)

// ConnectHandlers are installed on the shared session when Connect creates it
type ConnectHandlers struct {
	OnConnection    func(session.ConnectStatus)
	OnDisconnection func(session.Disconnect) bool
}

// Connect opens one endpoint described by lc on the agent's shared session and
// forwards it to lc.Addr in the background. The shared session is created by
// the first call; later calls ignore its session settings and handlers.
func (a *Agent) Connect(ctx context.Context, lc *config.ListenerConfig, h *ConnectHandlers) (*Handle, error) {
	if lc == nil {
		lc = &config.ListenerConfig{}
	}
	cfg := *lc
	cfg.WarnUnused(a.logger)
	cfg.SetDefaults()

	kind := relay.Kind(cfg.Proto)
	if !kind.IsValid() {
		return nil, &ConfigError{Field: "proto", Reason: fmt.Sprintf("unhandled protocol %q", cfg.Proto)}
	}

	if _, err := forward.ParseAddress(cfg.Addr); err != nil {
		return nil, &ConfigError{Field: "destination", Reason: err.Error(), Err: err}
	}

	b := newEndpointBuilder(a, nil, kind)
	if err := applyListenerConfig(b, &cfg); err != nil {
		return nil, err
	}
	if _, err := b.config(); err != nil {
		return nil, err
	}

	sess, err := a.sharedSession(ctx, &cfg, h)
	if err != nil {
		return nil, err
	}
	b.sess = sess
	return b.ListenAndForward(ctx, cfg.Addr)
}

// Disconnect closes the resources opened with url. An empty url closes every
// resource and the shared session.
func (a *Agent) Disconnect(ctx context.Context, url string) error {
	err := a.CloseAll(ctx, url)
	if url != "" {
		return err
	}

	a.mu.Lock()
	sess := a.shared
	a.shared = nil
	a.mu.Unlock()
	if sess != nil {
		err = errors.Join(err, a.CloseSession(ctx, sess))
	}
	return err
}

// Kill closes everything
func (a *Agent) Kill(ctx context.Context) error {
	return a.Disconnect(ctx, "")
}

func (a *Agent) sharedSession(ctx context.Context, cfg *config.ListenerConfig, h *ConnectHandlers) (*session.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.shared != nil {
		return a.shared, nil
	}

	sb := a.SessionBuilder().ServerAddr(a.serverAddr).Authtoken(a.authtoken)
	if cfg.Authtoken != "" {
		sb.Authtoken(cfg.Authtoken)
	}
	if cfg.AuthtokenFromEnv {
		sb.AuthtokenFromEnv()
	}
	if cfg.SessionMetadata != "" {
		sb.Metadata(cfg.SessionMetadata)
	}
	if h != nil {
		if h.OnConnection != nil {
			sb.HandleConnection(h.OnConnection)
		}
		if h.OnDisconnection != nil {
			sb.HandleDisconnection(h.OnDisconnection)
		}
	}

	sess, err := sb.Connect(ctx)
	if err != nil {
		return nil, err
	}
	a.logger.Info("Shared session established", logging.String("session_id", sess.ID()))
	a.shared = sess
	go a.dropShared(sess)
	return sess, nil
}

// dropShared forgets sess as the shared session once it shuts down, so the
// next Connect opens a new one
func (a *Agent) dropShared(sess *session.Session) {
	<-sess.Done()
	a.mu.Lock()
	if a.shared == sess {
		a.shared = nil
	}
	a.mu.Unlock()
}

func applyListenerConfig(b *EndpointBuilder, cfg *config.ListenerConfig) error {
	var errs []error
	pairs := func(field string, values []string, set func(k, v string)) {
		for _, v := range values {
			k, val, ok := strings.Cut(v, ":")
			if !ok {
				errs = append(errs, &ConfigError{Field: field, Reason: fmt.Sprintf("%q is not in key:value form", v)})
				continue
			}
			set(k, val)
		}
	}
	readFile := func(field, path string) []byte {
		data, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, &ConfigError{Field: field, Reason: "failed to read " + path, Err: err})
		}
		return data
	}

	b.Metadata(cfg.Metadata)
	b.ForwardsTo(cfg.ForwardsTo)

	if b.kind == relay.KindLabeled {
		pairs("labels", cfg.Labels, func(k, v string) { b.Label(k, v) })
		return errors.Join(errs...)
	}

	for _, c := range cfg.AllowCIDR {
		b.AllowCIDR(c)
	}
	for _, c := range cfg.DenyCIDR {
		b.DenyCIDR(c)
	}
	if cfg.ProxyProto != "" {
		v, err := strconv.Atoi(cfg.ProxyProto)
		if err != nil {
			errs = append(errs, &ConfigError{Field: "proxy_proto", Reason: fmt.Sprintf("unknown proxy protocol %q", cfg.ProxyProto), Err: err})
		} else {
			b.ProxyProto(v)
		}
	}

	domain := cfg.Domain
	if domain == "" {
		domain = cfg.Hostname
	}

	switch b.kind {
	case relay.KindTCP:
		if cfg.RemoteAddr != "" {
			b.RemoteAddr(cfg.RemoteAddr)
		}

	case relay.KindTLS:
		if domain != "" {
			b.Domain(domain)
		}
		for _, path := range cfg.MutualTLSCAs {
			b.MutualTLSCA(readFile("mutual_tls_cas", path))
		}
		if cfg.Crt != "" || cfg.Key != "" {
			var cert, key []byte
			if cfg.Crt != "" {
				cert = readFile("crt", cfg.Crt)
			}
			if cfg.Key != "" {
				key = readFile("key", cfg.Key)
			}
			b.Termination(cert, key)
		}

	case relay.KindHTTP:
		if domain != "" {
			b.Domain(domain)
		}
		if n := len(cfg.Schemes); n > 0 {
			b.Scheme(cfg.Schemes[n-1])
		}
		for _, path := range cfg.MutualTLSCAs {
			b.MutualTLSCA(readFile("mutual_tls_cas", path))
		}
		if cfg.Compression {
			b.Compression()
		}
		if cfg.WebsocketTCPConvert {
			b.WebsocketTCPConversion()
		}
		if cfg.CircuitBreaker != nil {
			b.CircuitBreaker(*cfg.CircuitBreaker)
		}
		pairs("request_header_add", cfg.RequestHeaderAdd, func(k, v string) { b.RequestHeader(k, v) })
		pairs("response_header_add", cfg.ResponseHeaderAdd, func(k, v string) { b.ResponseHeader(k, v) })
		for _, name := range cfg.RequestHeaderRemove {
			b.RemoveRequestHeader(name)
		}
		for _, name := range cfg.ResponseHeaderRemove {
			b.RemoveResponseHeader(name)
		}
		pairs("basic_auth", cfg.BasicAuth, func(k, v string) { b.BasicAuth(k, v) })
		for _, re := range cfg.AllowUserAgent {
			b.AllowUserAgent(re)
		}
		for _, re := range cfg.DenyUserAgent {
			b.DenyUserAgent(re)
		}
		if cfg.OAuthProvider != "" {
			b.OAuth(relay.OAuthOptions{
				Provider:     cfg.OAuthProvider,
				AllowEmails:  cfg.OAuthAllowEmails,
				AllowDomains: cfg.OAuthAllowDomains,
				Scopes:       cfg.OAuthScopes,
				ClientID:     cfg.OAuthClientID,
				ClientSecret: cfg.OAuthClientSecret,
			})
		}
		if cfg.OIDCIssuerURL != "" {
			b.OIDC(relay.OIDCOptions{
				IssuerURL:    cfg.OIDCIssuerURL,
				ClientID:     cfg.OIDCClientID,
				ClientSecret: cfg.OIDCClientSecret,
				AllowEmails:  cfg.OIDCAllowEmails,
				AllowDomains: cfg.OIDCAllowDomains,
				Scopes:       cfg.OIDCScopes,
			})
		}
		if cfg.VerifyWebhookProvider != "" {
			b.WebhookVerification(cfg.VerifyWebhookProvider, cfg.VerifyWebhookSecret)
		}
	}
	return errors.Join(errs...)
}
