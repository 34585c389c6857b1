package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

// Header names. A client request id is echoed back only when the caller set one.
const (
	ClientRequestIDHeader = "X-Client-Request-Id"
	RequestIDHeader       = "X-Request-Id"
)

// Context keys of the two ids
const (
	ClientRequestIDKey contextKey = "client_request_id"
	RequestIDKey       contextKey = "request_id"
)

// Telemetry assigns every request a fresh request id and keeps the caller's
// client request id. Both go into the response headers and the request context.
func Telemetry(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if id := r.Header.Get(ClientRequestIDHeader); id != "" {
			w.Header().Set(ClientRequestIDHeader, id)
			ctx = context.WithValue(ctx, ClientRequestIDKey, id)
		}

		id := uuid.NewString()
		w.Header().Set(RequestIDHeader, id)
		ctx = context.WithValue(ctx, RequestIDKey, id)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetClientRequestID retrieves the client request ID from the context
func GetClientRequestID(ctx context.Context) string {
	id, _ := ctx.Value(ClientRequestIDKey).(string)
	return id
}

// GetRequestID retrieves the request ID from the context
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}
