package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix of every environment variable read by Load
const EnvPrefix = "HEXAGENT"

// Config holds shared configuration values for hexagent components
type Config struct {
	// Authtoken authenticates the agent session with the relay service
	Authtoken string `envconfig:"AUTHTOKEN" yaml:"authtoken"`

	// ServerAddr is the relay service address (host:port) used in remote mode
	ServerAddr string `envconfig:"SERVER_ADDR" yaml:"server_addr"`

	// Mode selects the relay backend
	Mode Mode `envconfig:"MODE" default:"local" yaml:"mode"`

	// LogLevel controls logging verbosity (debug, info, warn, error)
	LogLevel string `envconfig:"LOG_LEVEL" default:"info" yaml:"log_level"`

	// LogFormat is console or json
	LogFormat string `envconfig:"LOG_FORMAT" default:"console" yaml:"log_format"`

	HeartbeatInterval  time.Duration `envconfig:"HEARTBEAT_INTERVAL" yaml:"heartbeat_interval"`
	HeartbeatTolerance time.Duration `envconfig:"HEARTBEAT_TOLERANCE" yaml:"heartbeat_tolerance"`

	// SessionMetadata is opaque metadata attached to the session
	SessionMetadata string `envconfig:"SESSION_METADATA" yaml:"session_metadata"`

	Azure AzureConfig `envconfig:"AZURE" yaml:"azure"`

	// Listeners are started by the CLI when a config file is given
	Listeners []ListenerConfig `ignored:"true" yaml:"listeners"`
}

// AzureConfig holds the Azure Relay settings used in azure mode
type AzureConfig struct {
	SubscriptionID string `envconfig:"SUBSCRIPTION_ID" yaml:"subscription_id"`
	ResourceGroup  string `envconfig:"RESOURCE_GROUP" yaml:"resource_group"`
	Namespace      string `envconfig:"NAMESPACE" yaml:"namespace"`
	KeyName        string `envconfig:"KEY_NAME" yaml:"key_name"`
	Key            string `envconfig:"KEY" yaml:"key"`
}

// Load creates a Config by reading from environment variables
// and applying defaults where values are not set
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks that required configuration values are present
func (c *Config) Validate() error {
	if !c.Mode.IsValid() {
		return fmt.Errorf("invalid mode %q: must be one of local, remote, azure", c.Mode)
	}

	var missing []string

	switch c.Mode {
	case ModeRemote:
		if c.ServerAddr == "" {
			missing = append(missing, "HEXAGENT_SERVER_ADDR")
		}
	case ModeAzure:
		if c.Azure.SubscriptionID == "" {
			missing = append(missing, "HEXAGENT_AZURE_SUBSCRIPTION_ID")
		}
		if c.Azure.ResourceGroup == "" {
			missing = append(missing, "HEXAGENT_AZURE_RESOURCE_GROUP")
		}
		if c.Azure.Namespace == "" {
			missing = append(missing, "HEXAGENT_AZURE_NAMESPACE")
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.HeartbeatInterval < 0 || c.HeartbeatTolerance < 0 {
		return fmt.Errorf("heartbeat durations must not be negative")
	}

	return nil
}
