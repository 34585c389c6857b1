package cmd

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"testing"

	gatewayhttp "github.com/julienstroheker/hexagent/gateway/http"
)

func TestSessionsList(t *testing.T) {
	server := httptest.NewServer(gatewayhttp.NewServer(&gatewayhttp.Options{}).Handler())
	defer server.Close()

	rootCmd.SetArgs([]string{"sessions", "list", "--gateway", server.URL})
	defer rootCmd.SetArgs(nil)

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(new(bytes.Buffer))

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if strings.TrimSpace(buf.String()) != "" {
		t.Errorf("Expected no sessions, got: %s", buf.String())
	}
}

func TestSessionsDropUnknown(t *testing.T) {
	server := httptest.NewServer(gatewayhttp.NewServer(&gatewayhttp.Options{}).Handler())
	defer server.Close()

	rootCmd.SetArgs([]string{"sessions", "drop", "missing", "--gateway", server.URL})
	defer rootCmd.SetArgs(nil)

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)

	err := rootCmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "session not found") {
		t.Errorf("Expected session not found, got: %v", err)
	}
}
