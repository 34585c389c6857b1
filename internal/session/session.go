// Package session opens the shared control channel that every tunnel of an agent runs on.
package session

import (
	"context"
	"fmt"

	"github.com/julienstroheker/hexagent/internal/logging"
	"github.com/julienstroheker/hexagent/internal/relay"
)

// ConnectError is a session that could not be established
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("failed to connect session: %v", e.Err)
	}
	return fmt.Sprintf("failed to connect session to %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Session is an established relay session. Copies of the pointer share the
// same control channel.
type Session struct {
	relay.Session
	serverAddr string
	metadata   string
	logger     *logging.Logger
}

// ServerAddr returns the relay address the session was opened against
func (s *Session) ServerAddr() string {
	return s.serverAddr
}

// Metadata returns the opaque session metadata
func (s *Session) Metadata() string {
	return s.metadata
}

// Close tears the session down together with every tunnel on it
func (s *Session) Close(ctx context.Context) error {
	s.logger.Info("Closing session")
	return s.Session.Close(ctx)
}
