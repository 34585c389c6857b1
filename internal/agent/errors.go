package agent

import (
	"errors"
	"fmt"

	"github.com/julienstroheker/hexagent/internal/config"
	"github.com/julienstroheker/hexagent/internal/relay"
)

var (
	// ErrNotFound is returned for operations on a resource that was closed or never existed
	ErrNotFound = errors.New("resource no longer running")
	// ErrNotForwardable is returned by Forward on a resource already driven by ListenAndForward
	ErrNotForwardable = errors.New("resource is already forwarding in the background")
	// ErrNotJoinable is returned by Join on a resource without a background forwarder
	ErrNotJoinable = errors.New("resource has no background forwarder")
)

// ConfigError reports an invalid setting. It is returned before any I/O.
type ConfigError = config.ConfigError

// ListenError is returned when the relay refuses to open an endpoint
type ListenError struct {
	Kind relay.Kind
	Err  error
}

func (e *ListenError) Error() string {
	return fmt.Sprintf("failed to start %s listener: %v", e.Kind, e.Err)
}

func (e *ListenError) Unwrap() error {
	return e.Err
}
