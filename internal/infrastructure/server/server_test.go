package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AuraIDE/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/AuraIDE/backend/internal/infrastructure/logging"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = "0"
	cfg.Server.ShutdownTimeout = 5 * time.Second
	cfg.Bridge.Shell = "sh"
	cfg.Bridge.WorkDir = t.TempDir()
	cfg.Bridge.KillGrace = 500 * time.Millisecond
	cfg.RateLimit.Enabled = false
	return cfg
}

type running struct {
	srv    *Server
	base   string
	cancel context.CancelFunc
	done   chan error
}

func start(t *testing.T, cfg *config.Config) *running {
	t.Helper()
	srv, err := NewServer(cfg, logging.NewNop())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	r := &running{srv: srv, base: "http://" + ln.Addr().String(), cancel: cancel, done: make(chan error, 1)}
	go func() { r.done <- srv.Serve(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-r.done:
		case <-time.After(10 * time.Second):
			t.Error("server did not stop")
		}
	})
	return r
}

func (r *running) get(t *testing.T, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(r.base + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServerRoutes(t *testing.T) {
	r := start(t, testConfig(t))

	code, body := r.get(t, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"status":"healthy"`)

	code, body = r.get(t, "/api/lsp/kinds")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "pyright-langserver")

	code, body = r.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "aura_http_requests_total")
	assert.Contains(t, body, "go_goroutines")

	code, _ = r.get(t, "/ws/terminal")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestServerShutdownClosesBridges(t *testing.T) {
	r := start(t, testConfig(t))

	u := "ws" + strings.TrimPrefix(r.base, "http") + "/ws/terminal"
	conn, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Session-ID"))
	assert.NotEmpty(t, resp.Header.Get("X-Trace-ID"))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("echo up\n")))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, p, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(p), "up")
	assert.Equal(t, 1, r.srv.Registry().Len())

	r.cancel()

	for {
		_, _, err = conn.ReadMessage()
		if err != nil {
			break
		}
	}
	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr), "got %v", err)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)

	select {
	case err := <-r.done:
		assert.NoError(t, err)
		r.done <- err
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.Equal(t, 0, r.srv.Registry().Len())
}

func TestNewServerProcessKindsFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("extends catalog", func(t *testing.T) {
		path := filepath.Join(dir, "kinds.yaml")
		require.NoError(t, os.WriteFile(path, []byte("kinds:\n  - name: echo\n    command: cat\n"), 0o600))

		cfg := testConfig(t)
		cfg.Bridge.ProcessKindsFile = path
		r := start(t, cfg)

		code, body := r.get(t, "/api/lsp/kinds")
		assert.Equal(t, http.StatusOK, code)
		assert.Contains(t, body, `"echo"`)
		assert.Contains(t, body, `"python"`)
	})

	t.Run("missing file", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Bridge.ProcessKindsFile = filepath.Join(dir, "nope.toml")
		_, err := NewServer(cfg, logging.NewNop())
		assert.Error(t, err)
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Bridge.IdleTimeout = 0
		_, err := NewServer(cfg, logging.NewNop())
		assert.Error(t, err)
	})
}
