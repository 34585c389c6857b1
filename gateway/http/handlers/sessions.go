package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/julienstroheker/hexagent/internal/logging"
	"github.com/julienstroheker/hexagent/internal/relay"
)

const commandTimeout = 10 * time.Second

// SessionRelay is the part of the relay server exposed by the management API
type SessionRelay interface {
	Sessions() []string
	Drop(sessionID string) bool
	SendCommand(ctx context.Context, sessionID, command string, req relay.UpdateRequest) error
}

// SessionList is the body of GET /api/sessions
type SessionList struct {
	Sessions []string `json:"sessions"`
}

// CommandRequest is the optional body of POST /api/sessions/{id}/update
type CommandRequest struct {
	Version            string `json:"version,omitempty"`
	PermitMajorVersion bool   `json:"permit_major_version,omitempty"`
}

// Sessions serves the management API of agent sessions:
//
//	GET    /api/sessions                 list session ids
//	DELETE /api/sessions/{id}            drop the session transport
//	POST   /api/sessions/{id}/{command}  send stop, restart or update
type Sessions struct {
	relay SessionRelay
}

// NewSessionsHandler creates the management handler
func NewSessionsHandler(r SessionRelay) *Sessions {
	return &Sessions{relay: r}
}

// Register installs the routes on mux
func (s *Sessions) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sessions", s.list)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.drop)
	mux.HandleFunc("POST /api/sessions/{id}/{command}", s.command)
}

func (s *Sessions) list(w http.ResponseWriter, r *http.Request) {
	ids := s.relay.Sessions()
	sort.Strings(ids)
	writeJSON(w, http.StatusOK, SessionList{Sessions: ids})
}

func (s *Sessions) drop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.relay.Drop(id) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	logging.FromContext(r.Context()).Info("Session dropped", logging.String("session_id", id))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Sessions) command(w http.ResponseWriter, r *http.Request) {
	id, command := r.PathValue("id"), r.PathValue("command")
	switch command {
	case "stop", "restart", "update":
	default:
		http.Error(w, "unknown command "+command, http.StatusNotFound)
		return
	}

	var body CommandRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()
	err := s.relay.SendCommand(ctx, id, command, relay.UpdateRequest{
		Version:            body.Version,
		PermitMajorVersion: body.PermitMajorVersion,
	})
	if err != nil {
		logging.FromContext(r.Context()).Warn("Session command failed",
			logging.String("session_id", id), logging.String("command", command), logging.Error(err))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	// Marshal first so a failure can still change the status
	data, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
