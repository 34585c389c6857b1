package forward

import (
	"context"
	"errors"
	"fmt"

	"github.com/julienstroheker/hexagent/internal/relay"
)

// ErrInvalidAddress is wrapped by every destination parse failure
var ErrInvalidAddress = errors.New("invalid forwarding address")

func invalid(addr, reason string) error {
	return fmt.Errorf("%w %q: %s", ErrInvalidAddress, addr, reason)
}

// ForwardError ends a forwarding loop: the tunnel failed for a reason other
// than a deliberate close
type ForwardError struct {
	TunnelID string
	Err      error
}

func (e *ForwardError) Error() string {
	return fmt.Sprintf("forwarding on tunnel %s stopped: %v", e.TunnelID, e.Err)
}

func (e *ForwardError) Unwrap() error {
	return e.Err
}

// ConnError is a failure of a single forwarded connection
type ConnError struct {
	// Op is "dial" or "copy"
	Op   string
	Dest string
	Err  error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Dest, e.Err)
}

func (e *ConnError) Unwrap() error {
	return e.Err
}

// IsCanceled reports whether err marks a deliberate end of a tunnel:
// a local close, a session shutdown or a canceled context
func IsCanceled(err error) bool {
	return relay.IsCanceled(err) ||
		errors.Is(err, relay.ErrTunnelClosed) ||
		errors.Is(err, context.Canceled)
}
