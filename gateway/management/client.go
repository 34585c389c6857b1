// Package management is the Go client of the gateway session API.
package management

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/julienstroheker/hexagent/gateway/http/handlers"
	"github.com/julienstroheker/hexagent/internal/httpclient"
	"github.com/julienstroheker/hexagent/internal/logging"
)

// Command names accepted by Client.Command
const (
	CommandStop    = "stop"
	CommandRestart = "restart"
	CommandUpdate  = "update"
)

// APIError is a non-success answer of the gateway
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway returned %d", e.StatusCode)
	}
	return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Message)
}

// Options configures the client
type Options struct {
	// BaseURL is the gateway root, e.g. http://localhost:8080
	BaseURL   string
	Authtoken string
	Logger    *logging.Logger
	// HTTP overrides the default policy client
	HTTP *httpclient.Client
}

// Client lists and controls agent sessions on a gateway
type Client struct {
	base *url.URL
	http *httpclient.Client
}

// NewClient creates a client for the gateway at opts.BaseURL
func NewClient(opts *Options) (*Client, error) {
	if opts == nil || opts.BaseURL == "" {
		return nil, fmt.Errorf("gateway base URL is required")
	}
	base, err := url.Parse(strings.TrimSuffix(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid gateway URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid gateway URL %q: scheme must be http or https", opts.BaseURL)
	}

	hc := opts.HTTP
	if hc == nil {
		o := httpclient.DefaultOptions()
		o.Logger = opts.Logger
		o.Authtoken = opts.Authtoken
		hc = httpclient.NewClient(o)
	}
	return &Client{base: base, http: hc}, nil
}

// Sessions returns the ids of the sessions connected to the gateway
func (c *Client) Sessions(ctx context.Context) ([]string, error) {
	var list handlers.SessionList
	if err := c.do(ctx, http.MethodGet, "/api/sessions", nil, &list); err != nil {
		return nil, err
	}
	return list.Sessions, nil
}

// Drop cuts the transport of a session, as a network failure would
func (c *Client) Drop(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/api/sessions/"+url.PathEscape(sessionID), nil, nil)
}

// Command asks an agent session to stop, restart or update. req is only
// sent with CommandUpdate.
func (c *Client) Command(ctx context.Context, sessionID, command string, req *handlers.CommandRequest) error {
	var body any
	if command == CommandUpdate && req != nil {
		body = req
	}
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/" + url.PathEscape(command)
	return c.do(ctx, http.MethodPost, path, body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
