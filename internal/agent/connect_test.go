package agent

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julienstroheker/hexagent/internal/config"
	"github.com/julienstroheker/hexagent/internal/forward"
	"github.com/julienstroheker/hexagent/internal/relay"
)

func newConnectAgent(t *testing.T) (*Agent, *relay.MemoryBackend, *echoDialer) {
	t.Helper()
	backend := relay.NewMemoryBackend()
	dialer := &echoDialer{}
	a, err := New(&Options{
		Backend: backend,
		Dialer:  &forward.Dialer{DialFunc: dialer.dial},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Kill(context.Background()) })
	return a, backend, dialer
}

func TestConnectSharesOneSession(t *testing.T) {
	a, backend, _ := newConnectAgent(t)
	ctx := context.Background()

	h1, err := a.Connect(ctx, &config.ListenerConfig{Addr: "3000", Domain: "one.example"}, nil)
	require.NoError(t, err)
	assert.Equal(t, relay.KindHTTP, h1.Kind())
	assert.Equal(t, "https://one.example", h1.URL())
	assert.Equal(t, "tcp://localhost:3000", h1.ForwardsTo())

	h2, err := a.Connect(ctx, &config.ListenerConfig{Proto: "tcp", Port: 22}, nil)
	require.NoError(t, err)
	assert.Equal(t, relay.KindTCP, h2.Kind())

	assert.Equal(t, h1.SessionID(), h2.SessionID())
	assert.Len(t, backend.Sessions(), 1)
	assert.Len(t, a.ListResources(""), 2)
}

func TestConnectForwards(t *testing.T) {
	a, backend, dialer := newConnectAgent(t)
	ctx := context.Background()

	h, err := a.Connect(ctx, &config.ListenerConfig{Proto: "tls", Addr: "https://backend.internal"}, nil)
	require.NoError(t, err)

	sess := backend.Sessions()[0]
	conn, err := sess.Dial(ctx, h.ID())
	require.NoError(t, err)
	_, err = conn.Write([]byte("hi"))
	require.NoError(t, err)
	buf := make([]byte, 2)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	_ = conn.Close()

	dests := dialer.destinations()
	require.Len(t, dests, 1)
	assert.Equal(t, forward.SchemeTLS, dests[0].Scheme)
	assert.Equal(t, "backend.internal:443", dests[0].Address)
}

func TestConnectLabeled(t *testing.T) {
	a, _, _ := newConnectAgent(t)

	h, err := a.Connect(context.Background(), &config.ListenerConfig{
		Proto:  "labeled",
		Labels: []string{"edge:edghts_2", "team:web"},
	}, nil)
	require.NoError(t, err)
	assert.Empty(t, h.URL())
	assert.Equal(t, map[string]string{"edge": "edghts_2", "team": "web"}, h.Labels())
}

func TestConnectConfigErrors(t *testing.T) {
	tests := []struct {
		name  string
		cfg   config.ListenerConfig
		field string
	}{
		{"unknown proto", config.ListenerConfig{Proto: "quic"}, "proto"},
		{"proxy proto", config.ListenerConfig{Proto: "tcp", ProxyProto: "v9"}, "proxy_proto"},
		{"header without value", config.ListenerConfig{RequestHeaderAdd: []string{"X-Broken"}}, "request_header_add"},
		{"oidc without client", config.ListenerConfig{OIDCIssuerURL: "https://issuer"}, "oidc"},
		{"webhook without secret", config.ListenerConfig{VerifyWebhookProvider: "github"}, "webhook_verification"},
		{"key without cert", config.ListenerConfig{Proto: "tls", Key: "/nonexistent/key.pem"}, "key"},
		{"bad destination", config.ListenerConfig{Addr: "nowhere"}, "destination"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, backend, _ := newConnectAgent(t)
			_, err := a.Connect(context.Background(), &tt.cfg, nil)
			var cerr *ConfigError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.field, cerr.Field)
			assert.Empty(t, backend.Sessions())
		})
	}
}

func TestDisconnect(t *testing.T) {
	a, backend, _ := newConnectAgent(t)
	ctx := context.Background()

	h1, err := a.Connect(ctx, &config.ListenerConfig{Domain: "keep.example"}, nil)
	require.NoError(t, err)
	h2, err := a.Connect(ctx, &config.ListenerConfig{Domain: "drop.example"}, nil)
	require.NoError(t, err)

	require.NoError(t, a.Disconnect(ctx, "https://drop.example"))
	joinCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, h2.Join(joinCtx))
	assert.Equal(t, StateClosed, h2.State())
	assert.Equal(t, StateForwarding, h1.State())
	assert.Len(t, backend.Sessions(), 1)

	require.NoError(t, a.Kill(ctx))
	require.NoError(t, h1.Join(joinCtx))
	assert.Empty(t, a.ListResources(""))
	assert.Empty(t, backend.Sessions())

	// A new shared session is created on demand
	_, err = a.Connect(ctx, &config.ListenerConfig{}, nil)
	require.NoError(t, err)
	assert.Len(t, backend.Sessions(), 1)
}

func TestConnectSessionSettings(t *testing.T) {
	backend := relay.NewMemoryBackend()
	backend.Authtoken = "secret"
	a, err := New(&Options{Backend: backend, Authtoken: "wrong"})
	require.NoError(t, err)
	defer a.Kill(context.Background())

	_, err = a.Connect(context.Background(), &config.ListenerConfig{}, nil)
	assert.ErrorIs(t, err, relay.ErrUnauthorized)

	_, err = a.Connect(context.Background(), &config.ListenerConfig{Authtoken: "secret"}, nil)
	assert.NoError(t, err)
}
