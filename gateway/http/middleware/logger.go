package middleware

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/julienstroheker/hexagent/internal/logging"
)

// responseWriter is a wrapper around http.ResponseWriter that captures the status code
type responseWriter struct {
	http.ResponseWriter

	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Hijack hands the connection to the relay websocket upgrader
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	if !rw.written {
		rw.statusCode = http.StatusSwitchingProtocols
		rw.written = true
	}
	return h.Hijack()
}

// Flush forwards to the wrapped writer when it supports flushing
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriter {
	if rw, ok := w.(*responseWriter); ok {
		return rw
	}
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

// Logger is a middleware that logs when a request is received and when the
// response is sent. The logger is stored in the request context.
func Logger(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := logging.WithContext(r.Context(), logger)
			r = r.WithContext(ctx)

			start := time.Now()
			currentLogger := logging.FromContext(ctx)

			requestID := GetRequestID(ctx)
			clientRequestID := GetClientRequestID(ctx)

			// Build request log fields
			fields := []logging.Field{
				logging.String("method", r.Method),
				logging.String("path", r.URL.Path),
				logging.String("remote_addr", r.RemoteAddr),
			}

			if requestID != "" {
				fields = append(fields, logging.String("request_id", requestID))
			}
			if clientRequestID != "" {
				fields = append(fields, logging.String("client_request_id", clientRequestID))
			}

			currentLogger.Info("Request received", fields...)

			rw := wrapResponseWriter(w)
			next.ServeHTTP(rw, r)
			duration := time.Since(start)

			responseFields := []logging.Field{
				logging.String("method", r.Method),
				logging.String("path", r.URL.Path),
				logging.Int("status", rw.statusCode),
				logging.Duration("duration", duration),
			}

			if requestID != "" {
				responseFields = append(responseFields, logging.String("request_id", requestID))
			}
			if clientRequestID != "" {
				responseFields = append(responseFields, logging.String("client_request_id", clientRequestID))
			}

			currentLogger.Info("Response sent", responseFields...)
		})
	}
}
