package httpclient

import (
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/julienstroheker/hexagent/internal/logging"
)

// RetryPolicy retries transport failures and retryable status codes of
// idempotent requests with exponential backoff
type RetryPolicy struct {
	maxRetries       int
	retryDelay       time.Duration
	retryStatusCodes []int
	logger           *logging.Logger
}

// RetryOptions contains configuration for RetryPolicy
type RetryOptions struct {
	// MaxRetries is the maximum number of retry attempts (default: 3)
	MaxRetries int

	// RetryDelay is the initial delay between retries (default: 1s)
	RetryDelay time.Duration

	// RetryStatusCodes defaults to 429, 500, 502, 503 and 504
	RetryStatusCodes []int

	Logger *logging.Logger
}

// NewRetryPolicy creates a new RetryPolicy
func NewRetryPolicy(opts *RetryOptions) *RetryPolicy {
	if opts == nil {
		opts = &RetryOptions{}
	}
	p := &RetryPolicy{
		maxRetries:       opts.MaxRetries,
		retryDelay:       opts.RetryDelay,
		retryStatusCodes: opts.RetryStatusCodes,
		logger:           opts.Logger,
	}
	if p.maxRetries <= 0 {
		p.maxRetries = 3
	}
	if p.retryDelay <= 0 {
		p.retryDelay = time.Second
	}
	if len(p.retryStatusCodes) == 0 {
		p.retryStatusCodes = []int{
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		}
	}
	if p.logger == nil {
		p.logger = logging.Discard()
	}
	return p
}

// Do implements Policy interface
func (p *RetryPolicy) Do(
	req *http.Request,
	next func(*http.Request) (*http.Response, error),
) (*http.Response, error) {
	if !idempotent(req.Method) {
		return next(req)
	}
	for attempt := 0; ; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			req.Body = body
		}

		resp, err := next(req)
		if err == nil && !slices.Contains(p.retryStatusCodes, resp.StatusCode) {
			return resp, nil
		}
		if attempt == p.maxRetries || (req.Body != nil && req.GetBody == nil) {
			return resp, err
		}
		if resp != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}

		p.logger.Debug("Retrying request",
			logging.Int("attempt", attempt+1),
			logging.Int("max_retries", p.maxRetries),
			logging.String("url", req.URL.Redacted()))

		timer := time.NewTimer(p.retryDelay << attempt)
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}
	}
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}
