// Package forward pipes connections accepted on a tunnel to a local destination.
package forward

import (
	"errors"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Destination schemes
const (
	SchemeTCP  = "tcp"
	SchemeTLS  = "tls"
	SchemeUnix = "unix"
	SchemePipe = "pipe"
)

var (
	hostPortRe = regexp.MustCompile(`(?i)^[a-z0-9\-\.]+:\d+$`)
	ipv6PortRe = regexp.MustCompile(`(?i)^\[[0-9a-f:\.%]+\]:\d+$`)
)

// Destination is a parsed forwarding target
type Destination struct {
	// Scheme is one of tcp, tls, unix or pipe
	Scheme string
	// Address is host:port for tcp and tls, a filesystem or pipe path otherwise
	Address string
	// ServerName is the TLS server name for tls destinations
	ServerName string
}

// IsLocalSocket reports whether the destination is a unix socket or named pipe
func (d Destination) IsLocalSocket() bool {
	return d.Scheme == SchemeUnix || d.Scheme == SchemePipe
}

func (d Destination) String() string {
	if d.IsLocalSocket() {
		return d.Scheme + ":" + d.Address
	}
	return d.Scheme + "://" + d.Address
}

// ParseAddress classifies a forwarding address.
//
//	"8080"                  -> tcp://localhost:8080
//	"unix:/tmp/s.sock"      -> local socket /tmp/s.sock
//	"https://example.com"   -> tls://example.com:443
//	"/tmp/s.sock"           -> local socket
//	"example.com:80"        -> tcp://example.com:80
//
// A path separator wins over a host:port shape.
func ParseAddress(addr string) (Destination, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return Destination{}, invalid(addr, "empty address")
	}

	if isDigits(addr) {
		if err := checkPort(addr); err != nil {
			return Destination{}, invalid(addr, err.Error())
		}
		return Destination{Scheme: SchemeTCP, Address: net.JoinHostPort("localhost", addr)}, nil
	}

	for _, prefix := range []string{SchemeUnix, SchemePipe} {
		rest, ok := cutPrefixFold(addr, prefix+":")
		if !ok {
			continue
		}
		rest = strings.TrimPrefix(rest, "//")
		if rest == "" {
			return Destination{}, invalid(addr, "missing socket path")
		}
		return Destination{Scheme: prefix, Address: rest}, nil
	}

	if strings.Contains(addr, "://") {
		return parseURL(addr)
	}

	if strings.ContainsAny(addr, `/\`) {
		return Destination{Scheme: localScheme, Address: addr}, nil
	}

	if hostPortRe.MatchString(addr) || ipv6PortRe.MatchString(addr) {
		_, port, _ := net.SplitHostPort(addr)
		if err := checkPort(port); err != nil {
			return Destination{}, invalid(addr, err.Error())
		}
		return Destination{Scheme: SchemeTCP, Address: addr}, nil
	}

	return Destination{}, invalid(addr, "expected a port, host:port, URL or socket path")
}

func parseURL(addr string) (Destination, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return Destination{}, invalid(addr, err.Error())
	}

	var scheme, defaultPort string
	switch strings.ToLower(u.Scheme) {
	case "tcp":
		scheme = SchemeTCP
	case "http":
		scheme, defaultPort = SchemeTCP, "80"
	case "https", "tls":
		scheme, defaultPort = SchemeTLS, "443"
	default:
		return Destination{}, invalid(addr, "unsupported scheme "+u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return Destination{}, invalid(addr, "missing host")
	}
	port := u.Port()
	if port == "" {
		if defaultPort == "" {
			return Destination{}, invalid(addr, "missing port")
		}
		port = defaultPort
	}
	if err := checkPort(port); err != nil {
		return Destination{}, invalid(addr, err.Error())
	}

	d := Destination{Scheme: scheme, Address: net.JoinHostPort(host, port)}
	if scheme == SchemeTLS {
		d.ServerName = host
	}
	return d, nil
}

var errPortRange = errors.New("port out of range")

func checkPort(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 65535 {
		return errPortRange
	}
	return nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return s, false
	}
	return s[len(prefix):], true
}
