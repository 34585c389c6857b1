package forward

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julienstroheker/hexagent/internal/metrics"
	"github.com/julienstroheker/hexagent/internal/relay"
)

const testHTTPRequest = "GET /test HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n"

type testEnv struct {
	session *relay.MemorySession
	tunnel  relay.Tunnel
	errc    chan error
	cancel  context.CancelFunc
}

func startForwarder(t *testing.T, f *Forwarder, dest Destination) *testEnv {
	t.Helper()
	backend := relay.NewMemoryBackend()
	sess, err := backend.Connect(context.Background(), relay.SessionOptions{})
	require.NoError(t, err)
	tun, err := sess.Open(context.Background(), relay.EndpointConfig{Kind: relay.KindHTTP})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	env := &testEnv{
		session: sess.(*relay.MemorySession),
		tunnel:  tun,
		errc:    make(chan error, 1),
		cancel:  cancel,
	}
	go func() { env.errc <- f.Serve(ctx, tun, dest) }()
	t.Cleanup(func() {
		cancel()
		_ = sess.Close(context.Background())
	})
	return env
}

func (e *testEnv) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-e.errc:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("forwarder did not stop")
		return nil
	}
}

func roundTrip(t *testing.T, env *testEnv) *http.Response {
	t.Helper()
	conn, err := env.session.Dial(context.Background(), env.tunnel.ID())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	_, err = conn.Write([]byte(testHTTPRequest))
	require.NoError(t, err)
	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	return resp
}

func TestForwarder_HTTPRoundTrip(t *testing.T) {
	local := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Path", r.URL.Path)
		_, _ = io.WriteString(w, "hello from local")
	}))
	defer local.Close()

	m := metrics.New(nil)
	dest, err := ParseAddress(strings.TrimPrefix(local.URL, "http://"))
	require.NoError(t, err)
	env := startForwarder(t, New(&Options{Metrics: m}), dest)

	resp := roundTrip(t, env)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/test", resp.Header.Get("X-Path"))
	assert.Equal(t, "hello from local", string(body))

	require.NoError(t, env.session.CloseTunnel(context.Background(), env.tunnel.ID()))
	assert.NoError(t, env.wait(t), "closing the tunnel is a clean stop")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ForwardedConnections.WithLabelValues(SchemeTCP)))
}

func TestForwarder_ConcurrentConnections(t *testing.T) {
	local := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}))
	defer local.Close()

	dest, err := ParseAddress(strings.TrimPrefix(local.URL, "http://"))
	require.NoError(t, err)
	env := startForwarder(t, New(nil), dest)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := env.session.Dial(context.Background(), env.tunnel.ID())
			if !assert.NoError(t, err) {
				return
			}
			defer conn.Close()
			_, _ = conn.Write([]byte(testHTTPRequest))
			resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
			if assert.NoError(t, err) {
				assert.Equal(t, http.StatusOK, resp.StatusCode)
				_ = resp.Body.Close()
			}
		}()
	}
	wg.Wait()
}

func TestForwarder_DialFailureKeepsLoopRunning(t *testing.T) {
	m := metrics.New(nil)
	var mu sync.Mutex
	fail := true
	dialer := &Dialer{DialFunc: func(ctx context.Context, dest Destination) (net.Conn, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			fail = false
			return nil, errors.New("connection refused")
		}
		client, server := net.Pipe()
		go func() {
			defer server.Close()
			_, _ = io.Copy(server, server)
		}()
		return client, nil
	}}
	env := startForwarder(t, New(&Options{Dialer: dialer, Metrics: m}), Destination{Scheme: SchemeTCP, Address: "localhost:1"})

	first, err := env.session.Dial(context.Background(), env.tunnel.ID())
	require.NoError(t, err)
	_, err = first.Read(make([]byte, 1))
	assert.Error(t, err, "failed connection is closed")

	second, err := env.session.Dial(context.Background(), env.tunnel.ID())
	require.NoError(t, err)
	defer second.Close()
	_, err = second.Write([]byte("echo"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = io.ReadFull(second, buf)
	require.NoError(t, err)
	assert.Equal(t, "echo", string(buf))

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.ForwardErrors.WithLabelValues("dial")) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestForwarder_SessionCloseIsSuccess(t *testing.T) {
	env := startForwarder(t, New(nil), Destination{Scheme: SchemeTCP, Address: "localhost:1"})

	require.NoError(t, env.session.Close(context.Background()))
	assert.NoError(t, env.wait(t))
}

func TestForwarder_ContextCancelIsSuccess(t *testing.T) {
	env := startForwarder(t, New(nil), Destination{Scheme: SchemeTCP, Address: "localhost:1"})

	env.cancel()
	assert.NoError(t, env.wait(t))
}

type failingTunnel struct {
	relay.Tunnel
	err error
}

func (f failingTunnel) ID() string { return "tn_failing" }

func (f failingTunnel) Accept(context.Context) (relay.Connection, error) {
	return nil, f.err
}

func TestForwarder_AcceptFailureIsForwardError(t *testing.T) {
	boom := errors.New("relay went away")
	err := New(nil).Serve(context.Background(), failingTunnel{err: boom}, Destination{Scheme: SchemeTCP, Address: "localhost:1"})

	var ferr *ForwardError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "tn_failing", ferr.TunnelID)
	assert.ErrorIs(t, err, boom)
}

func TestForwarder_UnixSocket(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix sockets are dialed as named pipes on windows")
	}
	dir, err := os.MkdirTemp("", "fwd")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "s.sock")

	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				_, _ = fmt.Fprint(c, "unix hello")
			}()
		}
	}()

	dest, err := ParseAddress("unix:" + path)
	require.NoError(t, err)
	env := startForwarder(t, New(nil), dest)

	conn, err := env.session.Dial(context.Background(), env.tunnel.ID())
	require.NoError(t, err)
	defer conn.Close()
	got, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, "unix hello", string(got))
}

func TestForwarder_BandwidthCap(t *testing.T) {
	f := New(&Options{BytesPerSecond: 1024})
	r := f.limit(context.Background(), strings.NewReader(strings.Repeat("x", 4096)))

	buf := make([]byte, 4096)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.LessOrEqual(t, n, 1024, "reads are capped at the burst size")
}
