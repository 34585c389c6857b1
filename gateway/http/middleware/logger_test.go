package middleware

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/julienstroheker/hexagent/internal/logging"
)

func serveLogged(ctx context.Context, method string, status int) string {
	buf := &bytes.Buffer{}
	logger := logging.NewWithOutput(logging.InfoLevel, buf)

	handler := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))

	req := httptest.NewRequest(method, "/test", nil).WithContext(ctx)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	return buf.String()
}

func TestLogger_LogsRequestAndResponse(t *testing.T) {
	output := serveLogged(context.Background(), http.MethodGet, http.StatusOK)

	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 log lines, got %d: %s", len(lines), output)
	}

	for _, want := range []string{"Request received", "method=GET", "path=/test", "remote_addr="} {
		if !strings.Contains(lines[0], want) {
			t.Errorf("Expected %q in first log line, got: %s", want, lines[0])
		}
	}
	for _, want := range []string{"Response sent", "method=GET", "path=/test", "status=200", "duration="} {
		if !strings.Contains(lines[1], want) {
			t.Errorf("Expected %q in second log line, got: %s", want, lines[1])
		}
	}
}

func TestLogger_LogsWithTelemetryIDs(t *testing.T) {
	ctx := context.WithValue(context.Background(), RequestIDKey, "test-request-id")
	ctx = context.WithValue(ctx, ClientRequestIDKey, "test-client-id")

	output := serveLogged(ctx, http.MethodGet, http.StatusOK)

	if strings.Count(output, "request_id=test-request-id") != 2 {
		t.Errorf("Expected request id on both lines, got: %s", output)
	}
	if strings.Count(output, "client_request_id=test-client-id") != 2 {
		t.Errorf("Expected client request id on both lines, got: %s", output)
	}
}

func TestLogger_LogsWithoutTelemetryIDs(t *testing.T) {
	output := serveLogged(context.Background(), http.MethodGet, http.StatusOK)
	if strings.Contains(output, "request_id=") {
		t.Errorf("Expected no request ids, got: %s", output)
	}
}

func TestLogger_LogsStatusAndMethod(t *testing.T) {
	testCases := []struct {
		method string
		status int
	}{
		{http.MethodGet, http.StatusOK},
		{http.MethodPost, http.StatusCreated},
		{http.MethodPut, http.StatusBadRequest},
		{http.MethodDelete, http.StatusNotFound},
		{http.MethodPatch, http.StatusInternalServerError},
	}

	for _, tc := range testCases {
		t.Run(tc.method, func(t *testing.T) {
			output := serveLogged(context.Background(), tc.method, tc.status)
			if !strings.Contains(output, "method="+tc.method) {
				t.Errorf("Expected method=%s in output, got: %s", tc.method, output)
			}
			if want := fmt.Sprintf("status=%d", tc.status); !strings.Contains(output, want) {
				t.Errorf("Expected %s in output, got: %s", want, output)
			}
		})
	}
}

func TestLogger_StoresLoggerInContext(t *testing.T) {
	logger := logging.NewWithOutput(logging.InfoLevel, &bytes.Buffer{})

	var got *logging.Logger
	handler := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = logging.FromContext(r.Context())
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))

	if got != logger {
		t.Error("Expected the middleware logger in the request context")
	}
}

func TestResponseWriter_WriteWithoutWriteHeader(t *testing.T) {
	rw := wrapResponseWriter(httptest.NewRecorder())

	if _, err := rw.Write([]byte("test")); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if rw.statusCode != http.StatusOK {
		t.Errorf("Expected status code 200, got %d", rw.statusCode)
	}
	if !rw.written {
		t.Error("Expected written flag to be true")
	}
}

func TestResponseWriter_MultipleWriteHeader(t *testing.T) {
	rw := wrapResponseWriter(httptest.NewRecorder())

	rw.WriteHeader(http.StatusCreated)
	rw.WriteHeader(http.StatusInternalServerError)

	if rw.statusCode != http.StatusCreated {
		t.Errorf("Expected status code 201, got %d", rw.statusCode)
	}
}

func TestResponseWriter_HijackUnsupported(t *testing.T) {
	rw := wrapResponseWriter(httptest.NewRecorder())
	if _, _, err := rw.Hijack(); err == nil {
		t.Error("Expected hijack of a recorder to fail")
	}
	if wrapResponseWriter(rw) != rw {
		t.Error("Expected an already wrapped writer to be reused")
	}
}
