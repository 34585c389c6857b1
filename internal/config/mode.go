package config

// Mode represents the relay backend the agent connects through
type Mode string

const (
	// ModeLocal runs with the in-memory relay (no network required)
	ModeLocal Mode = "local"

	// ModeRemote connects to a hexagent gateway over websocket
	ModeRemote Mode = "remote"

	// ModeAzure runs with Azure Relay hybrid connections
	ModeAzure Mode = "azure"
)

// IsValid checks if the mode is valid
func (m Mode) IsValid() bool {
	return m == ModeLocal || m == ModeRemote || m == ModeAzure
}

// String returns the string representation
func (m Mode) String() string {
	return string(m)
}
