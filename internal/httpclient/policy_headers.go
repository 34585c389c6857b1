package httpclient

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/google/uuid"
)

// RequestIDHeader is the header the gateway echoes back and logs as client_request_id
const RequestIDHeader = "X-Client-Request-Id"

var defaultUserAgent = fmt.Sprintf("hexagent/dev (Go/%s; %s/%s)", runtime.Version(), runtime.GOOS, runtime.GOARCH)

// NewRequestIDPolicy sets a fresh uuid on headerName, RequestIDHeader by default
func NewRequestIDPolicy(headerName string) Policy {
	if headerName == "" {
		headerName = RequestIDHeader
	}
	return PolicyFunc(func(req *http.Request, next func(*http.Request) (*http.Response, error)) (*http.Response, error) {
		req.Header.Set(headerName, uuid.New().String())
		return next(req)
	})
}

// NewUserAgentPolicy sets the User-Agent header
func NewUserAgentPolicy(userAgent string) Policy {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return PolicyFunc(func(req *http.Request, next func(*http.Request) (*http.Response, error)) (*http.Response, error) {
		req.Header.Set("User-Agent", userAgent)
		return next(req)
	})
}

// NewBearerPolicy authenticates every request with token
func NewBearerPolicy(token string) Policy {
	return PolicyFunc(func(req *http.Request, next func(*http.Request) (*http.Response, error)) (*http.Response, error) {
		req.Header.Set("Authorization", "Bearer "+token)
		return next(req)
	})
}
