//go:build windows

package forward

import (
	"context"
	"net"

	"github.com/Microsoft/go-winio"
)

const localScheme = SchemePipe

// Local sockets are named pipes on Windows
func dialLocal(ctx context.Context, path string) (net.Conn, error) {
	return winio.DialPipeContext(ctx, path)
}
