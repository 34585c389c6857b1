package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func serveTelemetry(t *testing.T, clientID string, check func(r *http.Request)) *http.Response {
	t.Helper()
	handler := Telemetry(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	if clientID != "" {
		req.Header.Set(ClientRequestIDHeader, clientID)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	resp := w.Result()
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestTelemetry_GeneratesRequestID(t *testing.T) {
	var ctxID string
	resp := serveTelemetry(t, "", func(r *http.Request) {
		ctxID = GetRequestID(r.Context())
	})

	if ctxID == "" {
		t.Error("Expected request ID to be present in context")
	}
	if got := resp.Header.Get(RequestIDHeader); got != ctxID {
		t.Errorf("Expected %s header %q, got %q", RequestIDHeader, ctxID, got)
	}
}

func TestTelemetry_PreservesClientRequestID(t *testing.T) {
	clientReqID := "client-test-123"
	resp := serveTelemetry(t, clientReqID, func(r *http.Request) {
		if got := GetClientRequestID(r.Context()); got != clientReqID {
			t.Errorf("Expected client request ID %s in context, got %s", clientReqID, got)
		}
	})

	if got := resp.Header.Get(ClientRequestIDHeader); got != clientReqID {
		t.Errorf("Expected %s header %s in response, got %s", ClientRequestIDHeader, clientReqID, got)
	}
	if resp.Header.Get(RequestIDHeader) == "" {
		t.Errorf("Expected %s header in response", RequestIDHeader)
	}
}

func TestTelemetry_NoClientRequestID(t *testing.T) {
	resp := serveTelemetry(t, "", func(r *http.Request) {
		if got := GetClientRequestID(r.Context()); got != "" {
			t.Errorf("Expected no client request ID in context, got %s", got)
		}
	})

	if got := resp.Header.Get(ClientRequestIDHeader); got != "" {
		t.Errorf("Expected no %s header in response, got %s", ClientRequestIDHeader, got)
	}
}

func TestTelemetry_UniqueRequestIDs(t *testing.T) {
	first := serveTelemetry(t, "", nil).Header.Get(RequestIDHeader)
	second := serveTelemetry(t, "", nil).Header.Get(RequestIDHeader)

	if first == "" || second == "" {
		t.Error("Expected both request IDs to be present")
	}
	if first == second {
		t.Error("Expected request IDs to be unique")
	}
}

func TestContextAccessors(t *testing.T) {
	ctx := context.Background()
	if GetClientRequestID(ctx) != "" || GetRequestID(ctx) != "" {
		t.Error("Expected empty ids from an empty context")
	}

	ctx = context.WithValue(ctx, ClientRequestIDKey, "test-client-id")
	ctx = context.WithValue(ctx, RequestIDKey, "test-request-id")
	if got := GetClientRequestID(ctx); got != "test-client-id" {
		t.Errorf("Expected 'test-client-id', got %s", got)
	}
	if got := GetRequestID(ctx); got != "test-request-id" {
		t.Errorf("Expected 'test-request-id', got %s", got)
	}
}
