package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AuraIDE/backend/internal/domain/process"
	"github.com/GriffinCanCode/AuraIDE/backend/internal/domain/session"
	"github.com/GriffinCanCode/AuraIDE/backend/internal/infrastructure/resilience"
)

// catStarter runs `cat` as the shell
type catStarter struct {
	registry   *session.Registry
	supervisor *process.Supervisor
	err        error
}

func (s *catStarter) StartTerminal(ctx context.Context, sessionID string) (*session.Session, bool, error) {
	if s.err != nil {
		return nil, false, s.err
	}
	factory := func(ctx context.Context) (session.Process, error) {
		return s.supervisor.Spawn(ctx, process.Spec{Name: "shell", Path: "cat"})
	}
	return s.registry.GetOrCreate(ctx, sessionID, session.KindPersistent, factory, session.WithName("shell"))
}

type fixedUptime float64

func (u fixedUptime) UptimeSeconds() float64 { return float64(u) }

type testEnv struct {
	router   *gin.Engine
	registry *session.Registry
	starter  *catStarter
}

func setupTestRouter(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	registry := session.NewRegistry(logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = registry.Shutdown(ctx)
	})

	starter := &catStarter{
		registry:   registry,
		supervisor: process.NewSupervisor(logger, process.WithKillGrace(500*time.Millisecond)),
	}
	breakers := resilience.NewGroup(resilience.Settings{})
	breakers.Get("python")

	h := NewHandlers(registry, starter, process.DefaultCatalog(), breakers, fixedUptime(42), logger)
	router := gin.New()
	h.Register(router)

	return &testEnv{router: router, registry: registry, starter: starter}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return w.Code, out
}

func TestHealth(t *testing.T) {
	env := setupTestRouter(t)

	code, body := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
	assert.EqualValues(t, 0, body["sessions"])
	assert.EqualValues(t, 42, body["uptime_seconds"])
	assert.Equal(t, map[string]any{"python": "closed"}, body["spawn_breakers"])
}

func TestCreateTerminal(t *testing.T) {
	env := setupTestRouter(t)

	code, body := env.do(t, http.MethodPost, "/api/terminal/sessions", "")
	require.Equal(t, http.StatusCreated, code)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, true, body["created"])

	sess, ok := env.registry.Get(id)
	require.True(t, ok)
	assert.Equal(t, session.KindPersistent, sess.Kind())
	assert.False(t, sess.Attached())

	// Same id returns the running session
	code, body = env.do(t, http.MethodPost, "/api/terminal/sessions", `{"id":"`+id+`"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, id, body["id"])
	assert.Equal(t, false, body["created"])
	assert.Equal(t, 1, env.registry.Len())
}

func TestCreateTerminalErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		starterErr error
		wantStatus int
	}{
		{name: "malformed body", body: `{"id":`, wantStatus: http.StatusBadRequest},
		{name: "invalid id", body: `{"id":"../etc"}`, wantStatus: http.StatusBadRequest},
		{name: "breaker open", starterErr: resilience.ErrCircuitOpen, wantStatus: http.StatusServiceUnavailable},
		{
			name:       "spawn failure",
			starterErr: &process.SpawnError{Name: "shell", Path: "zsh", Err: errors.New("not found")},
			wantStatus: http.StatusBadGateway,
		},
		{name: "shutting down", starterErr: session.ErrClosed, wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestRouter(t)
			env.starter.err = tt.starterErr

			code, body := env.do(t, http.MethodPost, "/api/terminal/sessions", tt.body)
			assert.Equal(t, tt.wantStatus, code)
			assert.NotEmpty(t, body["error"])
			assert.Equal(t, 0, env.registry.Len())
		})
	}
}

func TestListTerminals(t *testing.T) {
	env := setupTestRouter(t)

	code, body := env.do(t, http.MethodGet, "/api/terminal/sessions", "")
	assert.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, body["count"])
	assert.Empty(t, body["sessions"])

	for _, id := range []string{"b-term", "a-term"} {
		code, _ = env.do(t, http.MethodPost, "/api/terminal/sessions", `{"id":"`+id+`"}`)
		require.Equal(t, http.StatusCreated, code)
	}

	code, body = env.do(t, http.MethodGet, "/api/terminal/sessions", "")
	assert.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, body["count"])

	sessions, ok := body["sessions"].([]any)
	require.True(t, ok)
	first := sessions[0].(map[string]any)
	assert.Equal(t, "b-term", first["id"], "ordered by creation")
	assert.Equal(t, "persistent", first["kind"])
	assert.Equal(t, false, first["attached"])
	assert.Greater(t, first["pid"], float64(0))
}

func TestCloseTerminal(t *testing.T) {
	env := setupTestRouter(t)

	code, _ := env.do(t, http.MethodPost, "/api/terminal/sessions", `{"id":"doomed"}`)
	require.Equal(t, http.StatusCreated, code)
	sess, ok := env.registry.Get("doomed")
	require.True(t, ok)

	code, body := env.do(t, http.MethodDelete, "/api/terminal/sessions/doomed", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])

	_, ok = env.registry.Get("doomed")
	assert.False(t, ok)
	select {
	case <-sess.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process still running after close")
	}

	code, body = env.do(t, http.MethodDelete, "/api/terminal/sessions/doomed", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "doomed", body["id"])
}

func TestListKinds(t *testing.T) {
	env := setupTestRouter(t)

	code, body := env.do(t, http.MethodGet, "/api/lsp/kinds", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"javascript", "python", "typescript"}, body["kinds"])

	details, ok := body["details"].([]any)
	require.True(t, ok)
	require.Len(t, details, 3)
	assert.Equal(t, "typescript-language-server", details[0].(map[string]any)["command"])
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(session.ErrNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(session.ErrKindMismatch))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}
