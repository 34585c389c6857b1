package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrCanceled marks deliberate shutdown. Callers treat it as a clean stop.
	ErrCanceled = errors.New("operation canceled")
	// ErrTunnelClosed is returned from Accept after the tunnel was closed
	ErrTunnelClosed = errors.New("tunnel is closed")
	// ErrTunnelNotFound is returned when closing an id the session does not know
	ErrTunnelNotFound = errors.New("tunnel not found")
	// ErrSessionClosed is returned when using a session after Close
	ErrSessionClosed = errors.New("session is closed")
	// ErrListenerClosed is returned when trying to accept on a closed hybrid connection listener
	ErrListenerClosed = errors.New("listener is closed")
	// ErrConnectionClosed is returned when trying to read/write on a closed connection
	ErrConnectionClosed = errors.New("connection is closed")
	// ErrUnauthorized is returned when the relay rejects the authtoken
	ErrUnauthorized = errors.New("relay rejected credentials")
)

// IsCanceled reports whether err denotes deliberate shutdown rather than a fault
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled)
}

// Canceled wraps cause so that IsCanceled reports true while keeping the message
func Canceled(cause error) error {
	if cause == nil {
		return ErrCanceled
	}
	if IsCanceled(cause) {
		return cause
	}
	return fmt.Errorf("%w: %w", ErrCanceled, cause)
}
