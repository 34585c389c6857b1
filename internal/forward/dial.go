package forward

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"
)

// DefaultDialTimeout bounds a single destination dial
const DefaultDialTimeout = 10 * time.Second

// Dialer opens connections to destinations
type Dialer struct {
	Timeout time.Duration
	// TLSConfig is cloned for tls destinations; ServerName is filled in per destination
	TLSConfig *tls.Config
	// DialFunc, when set, replaces the network dial
	DialFunc func(ctx context.Context, dest Destination) (net.Conn, error)
}

// Dial connects to dest
func (d *Dialer) Dial(ctx context.Context, dest Destination) (net.Conn, error) {
	if d != nil && d.DialFunc != nil {
		return d.DialFunc(ctx, dest)
	}
	timeout := DefaultDialTimeout
	if d != nil && d.Timeout > 0 {
		timeout = d.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch dest.Scheme {
	case SchemeTCP:
		var nd net.Dialer
		return nd.DialContext(ctx, "tcp", dest.Address)
	case SchemeTLS:
		var cfg *tls.Config
		if d != nil && d.TLSConfig != nil {
			cfg = d.TLSConfig.Clone()
		} else {
			cfg = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		if cfg.ServerName == "" {
			cfg.ServerName = dest.ServerName
		}
		td := tls.Dialer{Config: cfg}
		return td.DialContext(ctx, "tcp", dest.Address)
	case SchemeUnix, SchemePipe:
		return dialLocal(ctx, dest.Address)
	default:
		return nil, fmt.Errorf("unsupported destination scheme %q", dest.Scheme)
	}
}
