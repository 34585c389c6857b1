package agent

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"maps"
	"net/netip"
	"regexp"
	"slices"
	"strings"

	"github.com/julienstroheker/hexagent/internal/forward"
	"github.com/julienstroheker/hexagent/internal/logging"
	"github.com/julienstroheker/hexagent/internal/registry"
	"github.com/julienstroheker/hexagent/internal/relay"
	"github.com/julienstroheker/hexagent/internal/session"
)

var labelKeyRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.\-]*$`)

// EndpointBuilder configures one endpoint. Setters only record values; every
// check happens in Listen, before anything is sent to the relay.
type EndpointBuilder struct {
	agent *Agent
	sess  *session.Session
	kind  relay.Kind
	cfg   relay.EndpointConfig
	errs  []error

	certPEM, keyPEM []byte
}

func newEndpointBuilder(a *Agent, sess *session.Session, kind relay.Kind) *EndpointBuilder {
	return &EndpointBuilder{
		agent: a,
		sess:  sess,
		kind:  kind,
		cfg:   relay.EndpointConfig{Kind: kind},
	}
}

// Kind returns the kind of endpoint being built
func (b *EndpointBuilder) Kind() relay.Kind { return b.kind }

func (b *EndpointBuilder) fail(field, reason string) {
	b.errs = append(b.errs, &ConfigError{Field: field, Reason: reason})
}

// only records an error when the builder's kind is not one of kinds
func (b *EndpointBuilder) only(field string, kinds ...relay.Kind) bool {
	if slices.Contains(kinds, b.kind) {
		return true
	}
	b.fail(field, fmt.Sprintf("not supported by %s endpoints", b.kind))
	return false
}

func (b *EndpointBuilder) httpOpts() *relay.HTTPOptions {
	if b.cfg.HTTP == nil {
		b.cfg.HTTP = &relay.HTTPOptions{}
	}
	return b.cfg.HTTP
}

func (b *EndpointBuilder) tlsOpts() *relay.TLSOptions {
	if b.cfg.TLS == nil {
		b.cfg.TLS = &relay.TLSOptions{}
	}
	return b.cfg.TLS
}

// Metadata sets opaque metadata reported with the endpoint
func (b *EndpointBuilder) Metadata(md string) *EndpointBuilder {
	b.cfg.Metadata = md
	return b
}

// ForwardsTo describes where traffic goes. ListenAndForward defaults it to the destination.
func (b *EndpointBuilder) ForwardsTo(addr string) *EndpointBuilder {
	b.cfg.ForwardsTo = addr
	return b
}

// AllowCIDR restricts access to the given network
func (b *EndpointBuilder) AllowCIDR(cidr string) *EndpointBuilder {
	if b.only("allow_cidr", relay.KindHTTP, relay.KindTCP, relay.KindTLS) {
		b.cfg.AllowCIDR = append(b.cfg.AllowCIDR, cidr)
	}
	return b
}

// DenyCIDR rejects the given network
func (b *EndpointBuilder) DenyCIDR(cidr string) *EndpointBuilder {
	if b.only("deny_cidr", relay.KindHTTP, relay.KindTCP, relay.KindTLS) {
		b.cfg.DenyCIDR = append(b.cfg.DenyCIDR, cidr)
	}
	return b
}

// ProxyProto sets the PROXY protocol version sent to the destination, 0 disables it
func (b *EndpointBuilder) ProxyProto(version int) *EndpointBuilder {
	if b.only("proxy_proto", relay.KindHTTP, relay.KindTCP, relay.KindTLS) {
		b.cfg.ProxyProto = version
	}
	return b
}

// Label adds a label to a labeled endpoint
func (b *EndpointBuilder) Label(key, value string) *EndpointBuilder {
	if !b.only("labels", relay.KindLabeled) {
		return b
	}
	if b.cfg.Labels == nil {
		b.cfg.Labels = make(map[string]string)
	}
	b.cfg.Labels[key] = value
	return b
}

// Domain sets the public host name
func (b *EndpointBuilder) Domain(domain string) *EndpointBuilder {
	if b.only("domain", relay.KindHTTP, relay.KindTLS) {
		b.cfg.Domain = domain
	}
	return b
}

// Scheme sets the public scheme, http or https
func (b *EndpointBuilder) Scheme(scheme string) *EndpointBuilder {
	if b.only("scheme", relay.KindHTTP) {
		b.cfg.Scheme = strings.ToLower(scheme)
	}
	return b
}

// RemoteAddr requests a reserved public address
func (b *EndpointBuilder) RemoteAddr(addr string) *EndpointBuilder {
	if b.only("remote_addr", relay.KindTCP) {
		b.cfg.RemoteAddr = addr
	}
	return b
}

// MutualTLSCA adds a PEM certificate authority clients must present a certificate from
func (b *EndpointBuilder) MutualTLSCA(pem []byte) *EndpointBuilder {
	switch b.kind {
	case relay.KindHTTP:
		b.httpOpts().MutualTLSCAs = append(b.httpOpts().MutualTLSCAs, pem)
	case relay.KindTLS:
		b.tlsOpts().MutualTLSCAs = append(b.tlsOpts().MutualTLSCAs, pem)
	default:
		b.only("mutual_tls_cas", relay.KindHTTP, relay.KindTLS)
	}
	return b
}

// Termination makes the relay terminate TLS with the given PEM certificate and key
func (b *EndpointBuilder) Termination(certPEM, keyPEM []byte) *EndpointBuilder {
	if b.only("termination", relay.KindTLS) {
		b.certPEM, b.keyPEM = certPEM, keyPEM
	}
	return b
}

// Compression enables gzip of responses
func (b *EndpointBuilder) Compression() *EndpointBuilder {
	if b.only("compression", relay.KindHTTP) {
		b.httpOpts().Compression = true
	}
	return b
}

// WebsocketTCPConversion converts websocket connections to plain TCP streams
func (b *EndpointBuilder) WebsocketTCPConversion() *EndpointBuilder {
	if b.only("websocket_tcp_conversion", relay.KindHTTP) {
		b.httpOpts().WebsocketTCPConversion = true
	}
	return b
}

// CircuitBreaker rejects requests once the 5xx ratio exceeds ratio. 0 disables it.
func (b *EndpointBuilder) CircuitBreaker(ratio float64) *EndpointBuilder {
	if b.only("circuit_breaker", relay.KindHTTP) {
		b.httpOpts().CircuitBreaker = ratio
	}
	return b
}

// RequestHeader adds a header to every request
func (b *EndpointBuilder) RequestHeader(name, value string) *EndpointBuilder {
	if b.only("request_header", relay.KindHTTP) {
		h := b.httpOpts()
		if h.RequestHeaders == nil {
			h.RequestHeaders = make(map[string]string)
		}
		h.RequestHeaders[name] = value
	}
	return b
}

// ResponseHeader adds a header to every response
func (b *EndpointBuilder) ResponseHeader(name, value string) *EndpointBuilder {
	if b.only("response_header", relay.KindHTTP) {
		h := b.httpOpts()
		if h.ResponseHeaders == nil {
			h.ResponseHeaders = make(map[string]string)
		}
		h.ResponseHeaders[name] = value
	}
	return b
}

// RemoveRequestHeader strips a header from every request
func (b *EndpointBuilder) RemoveRequestHeader(name string) *EndpointBuilder {
	if b.only("remove_request_header", relay.KindHTTP) {
		b.httpOpts().RemoveRequestHeaders = append(b.httpOpts().RemoveRequestHeaders, name)
	}
	return b
}

// RemoveResponseHeader strips a header from every response
func (b *EndpointBuilder) RemoveResponseHeader(name string) *EndpointBuilder {
	if b.only("remove_response_header", relay.KindHTTP) {
		b.httpOpts().RemoveResponseHeaders = append(b.httpOpts().RemoveResponseHeaders, name)
	}
	return b
}

// BasicAuth adds a credential pair for basic authentication
func (b *EndpointBuilder) BasicAuth(username, password string) *EndpointBuilder {
	if !b.only("basic_auth", relay.KindHTTP) {
		return b
	}
	if username == "" || password == "" {
		b.fail("basic_auth", "username and password are required")
		return b
	}
	h := b.httpOpts()
	if h.BasicAuth == nil {
		h.BasicAuth = make(map[string]string)
	}
	h.BasicAuth[username] = password
	return b
}

// AllowUserAgent admits requests whose User-Agent matches the regular expression
func (b *EndpointBuilder) AllowUserAgent(re string) *EndpointBuilder {
	if b.only("allow_user_agent", relay.KindHTTP) {
		b.httpOpts().AllowUserAgents = append(b.httpOpts().AllowUserAgents, re)
	}
	return b
}

// DenyUserAgent rejects requests whose User-Agent matches the regular expression
func (b *EndpointBuilder) DenyUserAgent(re string) *EndpointBuilder {
	if b.only("deny_user_agent", relay.KindHTTP) {
		b.httpOpts().DenyUserAgents = append(b.httpOpts().DenyUserAgents, re)
	}
	return b
}

// OAuth puts an OAuth provider in front of the endpoint
func (b *EndpointBuilder) OAuth(opts relay.OAuthOptions) *EndpointBuilder {
	if b.only("oauth", relay.KindHTTP) {
		b.httpOpts().OAuth = &opts
	}
	return b
}

// OIDC puts an OpenID Connect provider in front of the endpoint
func (b *EndpointBuilder) OIDC(opts relay.OIDCOptions) *EndpointBuilder {
	if b.only("oidc", relay.KindHTTP) {
		b.httpOpts().OIDC = &opts
	}
	return b
}

// WebhookVerification checks request signatures of a webhook provider
func (b *EndpointBuilder) WebhookVerification(provider, secret string) *EndpointBuilder {
	if b.only("webhook_verification", relay.KindHTTP) {
		b.httpOpts().Webhook = &relay.WebhookOptions{Provider: provider, Secret: secret}
	}
	return b
}

// config validates the accumulated settings and returns the endpoint to open
func (b *EndpointBuilder) config() (relay.EndpointConfig, error) {
	errs := slices.Clone(b.errs)
	fail := func(field, reason string) {
		errs = append(errs, &ConfigError{Field: field, Reason: reason})
	}

	if !b.kind.IsValid() {
		fail("kind", fmt.Sprintf("unknown endpoint kind %q", b.kind))
	}

	cfg := b.cfg
	for _, c := range slices.Concat(cfg.AllowCIDR, cfg.DenyCIDR) {
		if _, err := netip.ParsePrefix(c); err != nil {
			errs = append(errs, &ConfigError{Field: "cidr", Reason: fmt.Sprintf("invalid CIDR %q", c), Err: err})
		}
	}
	if cfg.ProxyProto < 0 || cfg.ProxyProto > 2 {
		fail("proxy_proto", fmt.Sprintf("unknown version %d", cfg.ProxyProto))
	}

	switch b.kind {
	case relay.KindHTTP:
		if cfg.Scheme != "" && cfg.Scheme != "http" && cfg.Scheme != "https" {
			fail("scheme", fmt.Sprintf("unknown scheme %q", cfg.Scheme))
		}
		if h := cfg.HTTP; h != nil {
			errs = append(errs, validateHTTP(h)...)
		}
	case relay.KindTLS:
		if (b.certPEM == nil) != (b.keyPEM == nil) {
			fail("termination", "certificate and key must be set together")
		} else if b.certPEM != nil {
			if _, err := tls.X509KeyPair(b.certPEM, b.keyPEM); err != nil {
				errs = append(errs, &ConfigError{Field: "termination", Reason: "invalid certificate or key", Err: err})
			}
		}
		if cfg.TLS != nil || b.certPEM != nil {
			var t relay.TLSOptions
			if cfg.TLS != nil {
				t = *cfg.TLS
			}
			t.CertPEM, t.KeyPEM = b.certPEM, b.keyPEM
			for _, ca := range t.MutualTLSCAs {
				if !x509.NewCertPool().AppendCertsFromPEM(ca) {
					fail("mutual_tls_cas", "no certificate could be parsed")
				}
			}
			cfg.TLS = &t
		}
	case relay.KindLabeled:
		if len(cfg.Labels) == 0 {
			fail("labels", "a labeled endpoint needs at least one label")
		}
		for k, v := range cfg.Labels {
			if !labelKeyRe.MatchString(k) || v == "" {
				fail("labels", fmt.Sprintf("invalid label %q=%q", k, v))
			}
		}
		cfg.Labels = maps.Clone(cfg.Labels)
	}

	if len(errs) > 0 {
		return relay.EndpointConfig{}, errors.Join(errs...)
	}
	return cfg, nil
}

func validateHTTP(h *relay.HTTPOptions) []error {
	var errs []error
	fail := func(field, reason string, err error) {
		errs = append(errs, &ConfigError{Field: field, Reason: reason, Err: err})
	}

	if h.CircuitBreaker < 0 || h.CircuitBreaker > 1 {
		fail("circuit_breaker", "ratio must be between 0 and 1", nil)
	}
	for _, ca := range h.MutualTLSCAs {
		if !x509.NewCertPool().AppendCertsFromPEM(ca) {
			fail("mutual_tls_cas", "no certificate could be parsed", nil)
		}
	}
	for _, re := range slices.Concat(h.AllowUserAgents, h.DenyUserAgents) {
		if _, err := regexp.Compile(re); err != nil {
			fail("user_agent", fmt.Sprintf("invalid regular expression %q", re), err)
		}
	}
	if o := h.OAuth; o != nil {
		if o.Provider == "" {
			fail("oauth", "provider is required", nil)
		}
		if (o.ClientID == "") != (o.ClientSecret == "") {
			fail("oauth", "client id and secret must be set together", nil)
		}
	}
	if o := h.OIDC; o != nil {
		switch {
		case o.IssuerURL == "":
			fail("oidc", "issuer url is required", nil)
		case o.ClientID == "":
			fail("oidc", "missing client id", nil)
		case o.ClientSecret == "":
			fail("oidc", "missing client secret", nil)
		}
	}
	if w := h.Webhook; w != nil {
		if w.Provider == "" {
			fail("webhook_verification", "provider is required", nil)
		}
		if w.Secret == "" {
			fail("webhook_verification", "missing secret", nil)
		}
	}
	return errs
}

// Listen opens the endpoint and registers it. The caller forwards its traffic
// with Handle.Forward.
func (b *EndpointBuilder) Listen(ctx context.Context) (*Handle, error) {
	cfg, err := b.config()
	if err != nil {
		return nil, err
	}
	rec, _, err := b.open(ctx, cfg, nil)
	if err != nil {
		return nil, err
	}
	return newHandle(b.agent, rec), nil
}

// ListenAndForward opens the endpoint and forwards its traffic to addr in the
// background until the resource is closed. Handle.Join waits for it.
func (b *EndpointBuilder) ListenAndForward(ctx context.Context, addr string) (*Handle, error) {
	dest, err := forward.ParseAddress(addr)
	if err != nil {
		return nil, &ConfigError{Field: "destination", Reason: err.Error(), Err: err}
	}
	cfg, err := b.config()
	if err != nil {
		return nil, err
	}
	if cfg.ForwardsTo == "" {
		cfg.ForwardsTo = dest.String()
	}

	task := registry.NewTask()
	rec, tun, err := b.open(ctx, cfg, task)
	if err != nil {
		return nil, err
	}

	a := b.agent
	task.Go(func() error {
		err := a.forwarder.Serve(context.Background(), tun, dest)
		a.retire(rec, err)
		return err
	})
	return newHandle(a, rec), nil
}

func (b *EndpointBuilder) open(ctx context.Context, cfg relay.EndpointConfig, task *registry.Task) (*registry.Record, relay.Tunnel, error) {
	a := b.agent
	if b.sess == nil {
		return nil, nil, &ConfigError{Field: "session", Reason: "a connected session is required"}
	}
	tun, err := b.sess.Open(ctx, cfg)
	if err != nil {
		a.logger.Error("Failed to open endpoint",
			logging.String("kind", b.kind.String()), logging.Error(err))
		return nil, nil, &ListenError{Kind: b.kind, Err: err}
	}

	var rec *registry.Record
	if task != nil {
		rec = registry.NewForwarderRecord(b.kind, b.sess, tun, task)
	} else {
		rec = registry.NewRecord(b.kind, b.sess, tun)
	}
	if err := a.registry.Insert(rec); err != nil {
		_ = b.sess.CloseTunnel(ctx, tun.ID())
		return nil, nil, err
	}

	// A session that ended before the watch started would strand the record
	a.watchSession(b.sess)
	select {
	case <-b.sess.Done():
		a.registry.RemoveIf(rec.ID(), rec)
		return nil, nil, &ListenError{Kind: b.kind, Err: relay.ErrSessionClosed}
	default:
	}

	a.logger.Info("Endpoint started",
		logging.String("id", rec.ID()),
		logging.String("kind", b.kind.String()),
		logging.String("url", tun.URL()))
	return rec, tun, nil
}
