package httpclient

import (
	"fmt"
	"net/http"
	"time"

	"github.com/julienstroheker/hexagent/internal/logging"
)

// Client is an HTTP client that runs every request through a policy chain
type Client struct {
	httpClient *http.Client
	policies   []Policy
}

// Options contains configuration options for the HTTP client
type Options struct {
	// Timeout is the maximum time for the entire request
	Timeout time.Duration

	// MaxRetries is the maximum number of retry attempts. Zero disables retries.
	MaxRetries int

	// RetryDelay is the initial delay between retries (exponential backoff is applied)
	RetryDelay time.Duration

	// Logger is used for debug logging (optional)
	Logger *logging.Logger

	// UserAgent is the User-Agent header value
	UserAgent string

	// Authtoken is sent as a bearer token when set
	Authtoken string

	// Transport allows customizing the underlying HTTP transport
	Transport http.RoundTripper

	// AdditionalPolicies run innermost, right before the transport
	AdditionalPolicies []Policy
}

// DefaultOptions returns default options for the HTTP client
func DefaultOptions() *Options {
	return &Options{
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		RetryDelay: time.Second,
		UserAgent:  defaultUserAgent,
	}
}

// NewClient creates a new HTTP client with the given options
func NewClient(opts *Options) *Client {
	if opts == nil {
		opts = DefaultOptions()
	}

	httpClient := &http.Client{Timeout: opts.Timeout}
	if opts.Transport != nil {
		httpClient.Transport = opts.Transport
	}

	// Outermost first. Every retry gets a fresh request id.
	policies := []Policy{PolicyFunc(wrapError)}
	if opts.MaxRetries > 0 {
		policies = append(policies, NewRetryPolicy(&RetryOptions{
			MaxRetries: opts.MaxRetries,
			RetryDelay: opts.RetryDelay,
			Logger:     opts.Logger,
		}))
	}
	policies = append(policies, NewRequestIDPolicy(""), NewUserAgentPolicy(opts.UserAgent))
	if opts.Authtoken != "" {
		policies = append(policies, NewBearerPolicy(opts.Authtoken))
	}
	if opts.Logger != nil {
		policies = append(policies, NewLoggingPolicy(opts.Logger))
	}
	policies = append(policies, opts.AdditionalPolicies...)

	return &Client{
		httpClient: httpClient,
		policies:   policies,
	}
}

// Do executes an HTTP request through the policy chain
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	next := func(r *http.Request) (*http.Response, error) {
		return c.httpClient.Do(r)
	}

	// Wrap from the innermost policy outwards
	for i := len(c.policies) - 1; i >= 0; i-- {
		policy := c.policies[i]
		inner := next
		next = func(r *http.Request) (*http.Response, error) {
			return policy.Do(r, inner)
		}
	}

	return next(req)
}

func wrapError(req *http.Request, next func(*http.Request) (*http.Response, error)) (*http.Response, error) {
	resp, err := next(req)
	if err != nil {
		return resp, fmt.Errorf("%s %s failed: %w", req.Method, req.URL.Redacted(), err)
	}
	return resp, nil
}
