package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hexagent.yaml")
	content := `
authtoken: file-token
mode: remote
server_addr: relay.example.com:443
listeners:
  - proto: http
    addr: "3000"
    domain: test.example
    basic_auth: ["user:password123"]
  - proto: labeled
    labels: ["edge:edghts_1"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	base := &Config{Mode: ModeLocal, LogLevel: "info"}
	cfg, err := LoadFile(path, base)
	require.NoError(t, err)

	assert.Equal(t, "file-token", cfg.Authtoken)
	assert.Equal(t, ModeRemote, cfg.Mode)
	assert.Equal(t, "info", cfg.LogLevel)
	require.Len(t, cfg.Listeners, 2)
	assert.Equal(t, "test.example", cfg.Listeners[0].Domain)
	assert.Equal(t, []string{"edge:edghts_1"}, cfg.Listeners[1].Labels)

	assert.Equal(t, ModeLocal, base.Mode, "base must not be modified")
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listeners: {not: [a list"), 0o600))
	_, err = LoadFile(path, nil)
	assert.Error(t, err)
}

func TestConfigErrorUnwrap(t *testing.T) {
	cause := errors.New("bad pem")
	err := error(&ConfigError{Field: "ca_cert", Reason: "unparsable", Err: cause})

	assert.EqualError(t, err, "invalid configuration ca_cert: unparsable")
	assert.ErrorIs(t, err, cause)
}
