package config

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/julienstroheker/hexagent/internal/logging"
)

func TestListenerConfig_SetDefaults(t *testing.T) {
	tests := []struct {
		name      string
		cfg       ListenerConfig
		wantProto string
		wantAddr  string
	}{
		{
			name:      "empty config",
			cfg:       ListenerConfig{},
			wantProto: "http",
			wantAddr:  "tcp://localhost:80",
		},
		{
			name:      "bare port",
			cfg:       ListenerConfig{Proto: "tcp", Addr: "8080"},
			wantProto: "tcp",
			wantAddr:  "tcp://localhost:8080",
		},
		{
			name:      "host and port",
			cfg:       ListenerConfig{Host: "10.0.0.5", Port: 9000},
			wantProto: "http",
			wantAddr:  "tcp://10.0.0.5:9000",
		},
		{
			name:      "port only",
			cfg:       ListenerConfig{Port: 3000},
			wantProto: "http",
			wantAddr:  "tcp://localhost:3000",
		},
		{
			name:      "host only",
			cfg:       ListenerConfig{Host: "example.com:81"},
			wantProto: "http",
			wantAddr:  "example.com:81",
		},
		{
			name:      "socket path untouched",
			cfg:       ListenerConfig{Addr: "/tmp/app.sock"},
			wantProto: "http",
			wantAddr:  "/tmp/app.sock",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			cfg.SetDefaults()
			assert.Equal(t, tt.wantProto, cfg.Proto)
			assert.Equal(t, tt.wantAddr, cfg.Addr)
		})
	}
}

func TestListenerConfig_SetDefaultsAuthSynonym(t *testing.T) {
	cfg := ListenerConfig{Auth: []string{"user:password123"}}
	cfg.SetDefaults()
	assert.Equal(t, []string{"user:password123"}, cfg.BasicAuth)
}

func TestListenerConfig_WarnUnused(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logging.NewWithOutput(logging.WarnLevel, buf)

	cfg := ListenerConfig{
		Region:  "eu",
		WebAddr: "localhost:4040",
		Schemes: []string{"http", "https"},
	}
	unused := cfg.WarnUnused(logger)

	assert.Equal(t, []string{"region", "schemes", "web_addr"}, unused)
	assert.Contains(t, buf.String(), "region is unused")
	assert.Contains(t, buf.String(), "Multiple schemes set")
}
