package config

import (
	"fmt"
	"strconv"

	"github.com/julienstroheker/hexagent/internal/logging"
)

// TCPPrefix is prepended to bare ports and host:port pairs
const TCPPrefix = "tcp://"

// ListenerConfig describes one endpoint started through the connect facade.
// Pointer fields distinguish "unset" from zero values.
type ListenerConfig struct {
	// Addr is the forwarding destination: a port, host:port, URL or socket path
	Addr string `yaml:"addr"`
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Proto is one of http, tcp, tls, labeled
	Proto string `yaml:"proto"`

	Authtoken        string `yaml:"authtoken"`
	AuthtokenFromEnv bool   `yaml:"authtoken_from_env"`
	SessionMetadata  string `yaml:"session_metadata"`

	Metadata   string   `yaml:"metadata"`
	ForwardsTo string   `yaml:"forwards_to"`
	AllowCIDR  []string `yaml:"allow_cidr"`
	DenyCIDR   []string `yaml:"deny_cidr"`
	ProxyProto string   `yaml:"proxy_proto"`

	Domain   string `yaml:"domain"`
	Hostname string `yaml:"hostname"`

	Schemes              []string `yaml:"schemes"`
	BasicAuth            []string `yaml:"basic_auth"`
	Auth                 []string `yaml:"auth"`
	CircuitBreaker       *float64 `yaml:"circuit_breaker"`
	Compression          bool     `yaml:"compression"`
	MutualTLSCAs         []string `yaml:"mutual_tls_cas"`
	RequestHeaderAdd     []string `yaml:"request_header_add"`
	RequestHeaderRemove  []string `yaml:"request_header_remove"`
	ResponseHeaderAdd    []string `yaml:"response_header_add"`
	ResponseHeaderRemove []string `yaml:"response_header_remove"`
	AllowUserAgent       []string `yaml:"allow_user_agent"`
	DenyUserAgent        []string `yaml:"deny_user_agent"`
	WebsocketTCPConvert  bool     `yaml:"websocket_tcp_converter"`

	OAuthProvider     string   `yaml:"oauth_provider"`
	OAuthAllowEmails  []string `yaml:"oauth_allow_emails"`
	OAuthAllowDomains []string `yaml:"oauth_allow_domains"`
	OAuthScopes       []string `yaml:"oauth_scopes"`
	OAuthClientID     string   `yaml:"oauth_client_id"`
	OAuthClientSecret string   `yaml:"oauth_client_secret"`

	OIDCIssuerURL    string   `yaml:"oidc_issuer_url"`
	OIDCClientID     string   `yaml:"oidc_client_id"`
	OIDCClientSecret string   `yaml:"oidc_client_secret"`
	OIDCAllowEmails  []string `yaml:"oidc_allow_emails"`
	OIDCAllowDomains []string `yaml:"oidc_allow_domains"`
	OIDCScopes       []string `yaml:"oidc_scopes"`

	VerifyWebhookProvider string `yaml:"verify_webhook_provider"`
	VerifyWebhookSecret   string `yaml:"verify_webhook_secret"`

	Crt string `yaml:"crt"`
	Key string `yaml:"key"`

	RemoteAddr string `yaml:"remote_addr"`

	// Labels are "key:value" pairs for labeled listeners
	Labels []string `yaml:"labels"`

	// Accepted for compatibility with agent config files, never used
	BinPath     string `yaml:"bin_path"`
	ConfigPath  string `yaml:"config_path"`
	HostHeader  string `yaml:"host_header"`
	Inspect     string `yaml:"inspect"`
	Name        string `yaml:"name"`
	Region      string `yaml:"region"`
	Subdomain   string `yaml:"subdomain"`
	TerminateAt string `yaml:"terminate_at"`
	WebAddr     string `yaml:"web_addr"`
}

// SetDefaults fills in the protocol and forwarding address.
// proto defaults to http; addr is derived from host and port, then "80".
// A bare number is interpreted as a port on localhost.
func (c *ListenerConfig) SetDefaults() {
	if c.Proto == "" {
		c.Proto = "http"
	}
	if c.Addr == "" {
		switch {
		case c.Port != 0 && c.Host != "":
			c.Addr = fmt.Sprintf("%s%s:%d", TCPPrefix, c.Host, c.Port)
		case c.Port != 0:
			c.Addr = fmt.Sprintf("%slocalhost:%d", TCPPrefix, c.Port)
		case c.Host != "":
			c.Addr = c.Host
		default:
			c.Addr = "80"
		}
	}
	if _, err := strconv.Atoi(c.Addr); err == nil {
		c.Addr = fmt.Sprintf("%slocalhost:%s", TCPPrefix, c.Addr)
	}
	if len(c.BasicAuth) == 0 && len(c.Auth) > 0 {
		c.BasicAuth = c.Auth
	}
}

// WarnUnused logs a warning for every accepted-but-ignored option and returns their names
func (c *ListenerConfig) WarnUnused(logger *logging.Logger) []string {
	var unused []string
	check := func(name, value string) {
		if value != "" {
			unused = append(unused, name)
			logger.Warn(name + " is unused")
		}
	}

	check("bin_path", c.BinPath)
	check("config_path", c.ConfigPath)
	check("host_header", c.HostHeader)
	check("inspect", c.Inspect)
	check("name", c.Name)
	check("region", c.Region)
	if len(c.Schemes) > 1 {
		unused = append(unused, "schemes")
		logger.Warn("Multiple schemes set, only last one will be used")
	}
	check("subdomain", c.Subdomain)
	check("terminate_at", c.TerminateAt)
	check("web_addr", c.WebAddr)

	return unused
}
