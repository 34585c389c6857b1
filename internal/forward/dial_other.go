//go:build !windows

package forward

import (
	"context"
	"net"
)

const localScheme = SchemeUnix

func dialLocal(ctx context.Context, path string) (net.Conn, error) {
	var nd net.Dialer
	return nd.DialContext(ctx, "unix", path)
}
