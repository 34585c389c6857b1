package relay

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	azrelay "github.com/julienstroheker/hexagent/internal/azure/relay"
)

type fakeManager struct {
	mu        sync.Mutex
	created   map[string]string
	deleted   []string
	createErr error
}

func newFakeManager() *fakeManager {
	return &fakeManager{created: make(map[string]string)}
}

func (m *fakeManager) CreateHybridConnection(_ context.Context, name, userMetadata string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.created[name] = userMetadata
	return nil
}

func (m *fakeManager) DeleteHybridConnection(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, name)
	return nil
}

func (m *fakeManager) deletedNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}

type fixedTokens struct{ token string }

func (f fixedTokens) Token(context.Context, string) (string, error) { return f.token, nil }

var _ azrelay.TokenProvider = fixedTokens{}

func newTestAzureBackend(t *testing.T, relay *fakeAzureRelay, mgr *fakeManager) *AzureBackend {
	t.Helper()
	backend, err := NewAzureBackend(&AzureOptions{
		Endpoint:  relay.endpoint(),
		Manager:   mgr,
		Tokens:    fixedTokens{token: "sas"},
		TLSConfig: relay.tlsConfig(),
	})
	require.NoError(t, err)
	return backend
}

func TestNewAzureBackend(t *testing.T) {
	_, err := NewAzureBackend(nil)
	assert.Error(t, err)

	_, err = NewAzureBackend(&AzureOptions{Tokens: fixedTokens{}})
	assert.Error(t, err, "manager is required")

	_, err = NewAzureBackend(&AzureOptions{Manager: newFakeManager(), Tokens: fixedTokens{}})
	assert.Error(t, err, "namespace or endpoint is required")

	b, err := NewAzureBackend(&AzureOptions{Namespace: "ns", Manager: newFakeManager(), Tokens: fixedTokens{}})
	require.NoError(t, err)
	assert.Equal(t, "ns.servicebus.windows.net", b.endpoint)
}

func TestAzureBackend_OpenAcceptClose(t *testing.T) {
	relay := newFakeAzureRelay(t, "sas")
	mgr := newFakeManager()
	backend := newTestAzureBackend(t, relay, mgr)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sess, err := backend.Connect(ctx, SessionOptions{})
	require.NoError(t, err)

	tun, err := sess.Open(ctx, EndpointConfig{Kind: KindHTTP, Metadata: "web"})
	require.NoError(t, err)
	assert.Equal(t, "https", tun.Proto())
	assert.True(t, strings.HasPrefix(tun.URL(), "https://"+relay.endpoint()+"/hc-"), tun.URL())
	assert.Equal(t, "web", tun.Metadata())

	name := tun.(*azureTunnel).hybridConnection
	assert.Equal(t, "web", mgr.created[name])

	require.NoError(t, relay.sendAccept(name, "c1"))
	conn, err := tun.Accept(ctx)
	require.NoError(t, err)
	buf := make([]byte, 5)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))
	_ = conn.Close()

	require.NoError(t, sess.CloseTunnel(ctx, tun.ID()))
	assert.Equal(t, []string{name}, mgr.deletedNames())

	_, err = tun.Accept(ctx)
	assert.ErrorIs(t, err, ErrTunnelClosed)

	err = sess.CloseTunnel(ctx, tun.ID())
	assert.ErrorIs(t, err, ErrTunnelNotFound)

	require.NoError(t, sess.Close(ctx))
	select {
	case <-sess.Done():
	default:
		t.Error("session not done after Close")
	}
}

func TestAzureBackend_UnsupportedKind(t *testing.T) {
	relay := newFakeAzureRelay(t, "sas")
	backend := newTestAzureBackend(t, relay, newFakeManager())

	sess, err := backend.Connect(context.Background(), SessionOptions{})
	require.NoError(t, err)

	_, err = sess.Open(context.Background(), EndpointConfig{Kind: KindTLS})
	assert.Error(t, err)
}

func TestAzureBackend_OpenFailureCleansUp(t *testing.T) {
	relay := newFakeAzureRelay(t, "other-token")
	mgr := newFakeManager()
	backend := newTestAzureBackend(t, relay, mgr)

	sess, err := backend.Connect(context.Background(), SessionOptions{})
	require.NoError(t, err)

	_, err = sess.Open(context.Background(), EndpointConfig{Kind: KindTCP})
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Len(t, mgr.deletedNames(), 1, "the hybrid connection should be removed again")

	mgr.createErr = errors.New("quota exceeded")
	_, err = sess.Open(context.Background(), EndpointConfig{Kind: KindTCP})
	assert.ErrorContains(t, err, "quota exceeded")
}

func TestAzureBackend_SessionCloseCancelsTunnels(t *testing.T) {
	relay := newFakeAzureRelay(t, "sas")
	mgr := newFakeManager()
	backend := newTestAzureBackend(t, relay, mgr)

	ctx := context.Background()
	sess, err := backend.Connect(ctx, SessionOptions{})
	require.NoError(t, err)

	tun, err := sess.Open(ctx, EndpointConfig{Kind: KindTCP})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(tun.URL(), "sb://"), tun.URL())

	require.NoError(t, sess.Close(ctx))
	_, err = tun.Accept(ctx)
	assert.True(t, IsCanceled(err), "got %v", err)
	assert.Len(t, mgr.deletedNames(), 1)

	_, err = sess.Open(ctx, EndpointConfig{Kind: KindTCP})
	assert.ErrorIs(t, err, ErrSessionClosed)
}
