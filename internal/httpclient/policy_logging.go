package httpclient

import (
	"net/http"
	"time"

	"github.com/julienstroheker/hexagent/internal/logging"
)

// LoggingPolicy logs requests and responses at debug level
type LoggingPolicy struct {
	logger *logging.Logger
}

// NewLoggingPolicy creates a new LoggingPolicy
func NewLoggingPolicy(logger *logging.Logger) *LoggingPolicy {
	return &LoggingPolicy{logger: logger}
}

// Do implements Policy interface
func (p *LoggingPolicy) Do(
	req *http.Request,
	next func(*http.Request) (*http.Response, error),
) (*http.Response, error) {
	fields := []logging.Field{
		logging.String("method", req.Method),
		logging.String("url", req.URL.Redacted()),
		logging.String("request_id", req.Header.Get(RequestIDHeader)),
	}
	p.logger.Debug("HTTP request", fields...)

	start := time.Now()
	resp, err := next(req)
	fields = append(fields, logging.Duration("duration", time.Since(start)))

	if err != nil {
		p.logger.Debug("HTTP request failed", append(fields, logging.Error(err))...)
		return resp, err
	}
	p.logger.Debug("HTTP response", append(fields, logging.Int("status", resp.StatusCode))...)
	return resp, nil
}
