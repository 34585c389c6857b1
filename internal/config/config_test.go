package config

import (
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if cfg.Authtoken != "" {
			t.Errorf("Expected empty Authtoken, got: %s", cfg.Authtoken)
		}
		if cfg.Mode != ModeLocal {
			t.Errorf("Expected default Mode 'local', got: %s", cfg.Mode)
		}
		if cfg.LogLevel != "info" {
			t.Errorf("Expected default LogLevel 'info', got: %s", cfg.LogLevel)
		}
		if cfg.LogFormat != "console" {
			t.Errorf("Expected default LogFormat 'console', got: %s", cfg.LogFormat)
		}
	})

	t.Run("from environment", func(t *testing.T) {
		t.Setenv("HEXAGENT_AUTHTOKEN", "token-123")
		t.Setenv("HEXAGENT_SERVER_ADDR", "relay.example.com:443")
		t.Setenv("HEXAGENT_MODE", "remote")
		t.Setenv("HEXAGENT_LOG_LEVEL", "debug")
		t.Setenv("HEXAGENT_HEARTBEAT_INTERVAL", "5s")
		t.Setenv("HEXAGENT_AZURE_NAMESPACE", "test-relay")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if cfg.Authtoken != "token-123" {
			t.Errorf("Expected Authtoken from env, got: %s", cfg.Authtoken)
		}
		if cfg.ServerAddr != "relay.example.com:443" {
			t.Errorf("Expected ServerAddr from env, got: %s", cfg.ServerAddr)
		}
		if cfg.Mode != ModeRemote {
			t.Errorf("Expected Mode from env, got: %s", cfg.Mode)
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("Expected LogLevel from env, got: %s", cfg.LogLevel)
		}
		if cfg.HeartbeatInterval != 5*time.Second {
			t.Errorf("Expected HeartbeatInterval 5s, got: %s", cfg.HeartbeatInterval)
		}
		if cfg.Azure.Namespace != "test-relay" {
			t.Errorf("Expected Azure.Namespace from env, got: %s", cfg.Azure.Namespace)
		}
	})

	t.Run("invalid duration", func(t *testing.T) {
		t.Setenv("HEXAGENT_HEARTBEAT_TOLERANCE", "soon")

		if _, err := Load(); err == nil {
			t.Error("Expected error for unparsable duration")
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "local needs nothing",
			cfg:  Config{Mode: ModeLocal},
		},
		{
			name: "remote with server address",
			cfg:  Config{Mode: ModeRemote, ServerAddr: "localhost:8080"},
		},
		{
			name:    "remote without server address",
			cfg:     Config{Mode: ModeRemote},
			wantErr: true,
		},
		{
			name: "azure fully configured",
			cfg: Config{Mode: ModeAzure, Azure: AzureConfig{
				SubscriptionID: "sub",
				ResourceGroup:  "rg",
				Namespace:      "ns",
			}},
		},
		{
			name:    "azure missing namespace",
			cfg:     Config{Mode: ModeAzure, Azure: AzureConfig{SubscriptionID: "sub", ResourceGroup: "rg"}},
			wantErr: true,
		},
		{
			name:    "unknown mode",
			cfg:     Config{Mode: Mode("cloud")},
			wantErr: true,
		},
		{
			name:    "negative heartbeat",
			cfg:     Config{Mode: ModeLocal, HeartbeatInterval: -time.Second},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
