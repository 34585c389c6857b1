package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Control message types exchanged on the first yamux stream of a websocket session
const (
	msgAuth        = "auth"
	msgBind        = "bind"
	msgUnbind      = "unbind"
	msgCommand     = "command"
	msgResponse    = "response"
	commandStop    = "stop"
	commandRestart = "restart"
	commandUpdate  = "update"

	maxTunnelHeader = 256
)

type controlMessage struct {
	Type  string `json:"type"`
	Seq   uint64 `json:"seq,omitempty"`
	Error string `json:"error,omitempty"`

	// auth
	Authtoken  string       `json:"authtoken,omitempty"`
	SessionID  string       `json:"session_id,omitempty"`
	Metadata   string       `json:"metadata,omitempty"`
	ClientInfo []ClientInfo `json:"client_info,omitempty"`

	// bind, unbind
	TunnelID string            `json:"tunnel_id,omitempty"`
	Endpoint *EndpointConfig   `json:"endpoint,omitempty"`
	URL      string            `json:"url,omitempty"`
	Proto    string            `json:"proto,omitempty"`
	Labels   map[string]string `json:"labels,omitempty"`

	// command
	Command            string `json:"command,omitempty"`
	Version            string `json:"version,omitempty"`
	PermitMajorVersion bool   `json:"permit_major_version,omitempty"`
}

// controlConn carries line-delimited JSON requests and responses in both directions
type controlConn struct {
	stream io.ReadWriteCloser
	enc    *json.Encoder
	dec    *json.Decoder
	wmu    sync.Mutex

	mu      sync.Mutex
	seq     uint64
	pending map[uint64]chan *controlMessage
	done    chan struct{}
	err     error
}

func newControlConn(stream io.ReadWriteCloser) *controlConn {
	return &controlConn{
		stream:  stream,
		enc:     json.NewEncoder(stream),
		dec:     json.NewDecoder(stream),
		pending: make(map[uint64]chan *controlMessage),
		done:    make(chan struct{}),
	}
}

func (c *controlConn) send(msg *controlMessage) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.enc.Encode(msg)
}

// request sends msg and waits for the response carrying the same sequence number
func (c *controlConn) request(ctx context.Context, msg *controlMessage) (*controlMessage, error) {
	ch := make(chan *controlMessage, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.seq++
	msg.Seq = c.seq
	c.pending[msg.Seq] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, msg.Seq)
		c.mu.Unlock()
	}()

	if err := c.send(msg); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return resp, errors.New(resp.Error)
		}
		return resp, nil
	case <-c.done:
		return nil, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *controlConn) respond(req *controlMessage, resp *controlMessage, err error) error {
	if resp == nil {
		resp = &controlMessage{}
	}
	resp.Type = msgResponse
	resp.Seq = req.Seq
	if err != nil {
		resp.Error = err.Error()
	}
	return c.send(resp)
}

// readLoop dispatches responses to waiting requests and everything else to handle.
// It returns when the stream fails; pending and future requests then fail with that error.
func (c *controlConn) readLoop(handle func(*controlMessage)) error {
	for {
		var msg controlMessage
		if err := c.dec.Decode(&msg); err != nil {
			c.fail(fmt.Errorf("control channel closed: %w", err))
			return err
		}

		if msg.Type == msgResponse {
			c.mu.Lock()
			ch, ok := c.pending[msg.Seq]
			c.mu.Unlock()
			if ok {
				ch <- &msg
			}
			continue
		}
		handle(&msg)
	}
}

func (c *controlConn) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	c.err = err
	close(c.done)
}

func (c *controlConn) Close() error {
	c.fail(ErrConnectionClosed)
	return c.stream.Close()
}

// writeTunnelHeader prefixes a data stream with the id of the tunnel it belongs to
func writeTunnelHeader(w io.Writer, id string) error {
	_, err := io.WriteString(w, id+"\n")
	return err
}

// readTunnelHeader reads the id line without consuming any payload bytes
func readTunnelHeader(r io.Reader) (string, error) {
	var sb strings.Builder
	buf := make([]byte, 1)
	for sb.Len() < maxTunnelHeader {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		if buf[0] == '\n' {
			return sb.String(), nil
		}
		sb.WriteByte(buf[0])
	}
	return "", errors.New("tunnel header too long")
}
