package ws

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AuraIDE/backend/internal/domain/bridge"
	"github.com/GriffinCanCode/AuraIDE/backend/internal/domain/process"
	"github.com/GriffinCanCode/AuraIDE/backend/internal/domain/session"
	"github.com/GriffinCanCode/AuraIDE/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AuraIDE/backend/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AuraIDE/backend/internal/infrastructure/tracing"
)

// HeaderSessionID carries the terminal session id on the upgrade response
const HeaderSessionID = "X-Session-ID"

const (
	endpointTerminal = "terminal"
	endpointLSP      = "lsp"
)

// Config holds endpoint settings
type Config struct {
	// Shell is the spec spawned for terminal sessions
	Shell process.Spec
	// WorkDir applies to catalog kinds that do not set their own
	WorkDir string
	Conn    ConnConfig
	// CheckOrigin validates the Origin header of upgrade requests
	CheckOrigin func(origin string) bool
}

// Handler serves the bridge WebSocket endpoints
type Handler struct {
	cfg        Config
	registry   *session.Registry
	supervisor *process.Supervisor
	catalog    *process.Catalog
	bridge     *bridge.Bridge
	breakers   *resilience.Group
	metrics    *monitoring.Metrics
	logger     *zap.Logger
	upgrader   websocket.Upgrader
}

// NewHandler creates the endpoint handler. metrics may be nil.
func NewHandler(
	cfg Config,
	registry *session.Registry,
	supervisor *process.Supervisor,
	catalog *process.Catalog,
	br *bridge.Bridge,
	breakers *resilience.Group,
	metrics *monitoring.Metrics,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		cfg:        cfg,
		registry:   registry,
		supervisor: supervisor,
		catalog:    catalog,
		bridge:     br,
		breakers:   breakers,
		metrics:    metrics,
		logger:     logger.Named("ws"),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || h.cfg.CheckOrigin == nil {
		return true
	}
	return h.cfg.CheckOrigin(origin)
}

// Terminal serves GET /ws/terminal?session=<id>. It reattaches to the
// persistent shell registered under id, or starts one. The id is returned
// in the X-Session-ID response header.
func (h *Handler) Terminal(c *gin.Context) {
	if !websocket.IsWebSocketUpgrade(c.Request) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "websocket upgrade required"})
		return
	}
	// Checked before the shell is spawned, ahead of the upgrader's own check
	if !h.checkOrigin(c.Request) {
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}
	ctx := c.Request.Context()

	// Spawning before the upgrade lets the response carry the session id
	sess, created, err := h.StartTerminal(ctx, c.Query("session"))

	header := http.Header{}
	if sess != nil {
		header.Set(HeaderSessionID, sess.ID())
	}

	conn, upgradeErr := h.upgrade(c, header, websocket.TextMessage)
	if upgradeErr != nil {
		if created {
			_ = h.registry.Terminate(sess.ID())
		}
		return
	}
	defer h.connClosed()

	if err != nil {
		h.reject(ctx, conn, endpointTerminal, err)
		return
	}
	h.serve(ctx, conn, sess, endpointTerminal)
}

// StartTerminal returns the persistent shell registered under sessionID,
// spawning it if absent. An empty id registers a new session under a
// generated one. created reports whether a shell was spawned.
func (h *Handler) StartTerminal(ctx context.Context, sessionID string) (sess *session.Session, created bool, err error) {
	sess, created, err = h.registry.GetOrCreate(ctx, sessionID, session.KindPersistent,
		h.factory(h.cfg.Shell), session.WithName(h.cfg.Shell.Name), session.WithTextOutput())
	if created {
		h.logger.Info("terminal session started",
			zap.String("session", sess.ID()),
			zap.Int("pid", sess.Pid()),
		)
	}
	return sess, created, err
}

// LSP serves GET /ws/lsp?kind=<selector>. Each connection gets its own
// process, which ends with the connection. "language" is accepted as an
// alias for kind.
func (h *Handler) LSP(c *gin.Context) {
	if !websocket.IsWebSocketUpgrade(c.Request) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "websocket upgrade required"})
		return
	}
	ctx := c.Request.Context()

	kind := c.Query("kind")
	if kind == "" {
		kind = c.Query("language")
	}

	conn, err := h.upgrade(c, nil, websocket.BinaryMessage)
	if err != nil {
		return
	}
	defer h.connClosed()

	// Unknown selectors are refused before anything is spawned
	spec, err := h.catalog.Spec(kind)
	if err != nil {
		h.reject(ctx, conn, endpointLSP, err)
		return
	}
	if spec.Dir == "" {
		spec.Dir = h.cfg.WorkDir
	}

	sess, _, err := h.registry.GetOrCreate(ctx, "", session.KindEphemeral, h.factory(spec), session.WithName(kind))
	if err != nil {
		h.reject(ctx, conn, endpointLSP, err)
		return
	}
	h.serve(ctx, conn, sess, endpointLSP)
}

func (h *Handler) upgrade(c *gin.Context, header http.Header, messageType int) (*Conn, error) {
	// The upgrader writes its own response, so trace headers are copied over
	if header == nil {
		header = http.Header{}
	}
	for _, key := range []string{tracing.HeaderTraceID, tracing.HeaderSpanID} {
		if v := c.Writer.Header().Get(key); v != "" {
			header.Set(key, v)
		}
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, header)
	if err != nil {
		// The upgrader has already answered with an HTTP error
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return nil, err
	}
	if h.metrics != nil {
		h.metrics.IncWSConnections()
	}
	return NewConn(ws, messageType, h.cfg.Conn), nil
}

func (h *Handler) connClosed() {
	if h.metrics != nil {
		h.metrics.DecWSConnections()
	}
}

// factory spawns spec through the breaker for its name
func (h *Handler) factory(spec process.Spec) session.Factory {
	breaker := h.breakers.Get(spec.Name)
	return func(ctx context.Context) (session.Process, error) {
		return resilience.Do(breaker, func() (session.Process, error) {
			handle, err := h.supervisor.Spawn(ctx, spec)
			if err != nil {
				return nil, err
			}
			return handle, nil
		})
	}
}

func (h *Handler) serve(ctx context.Context, conn *Conn, sess *session.Session, endpoint string) {
	result, err := h.bridge.Run(ctx, conn, sess)
	if err != nil {
		h.reject(ctx, conn, endpoint, err)
		return
	}
	h.logger.Debug("connection finished",
		zap.String("endpoint", endpoint),
		zap.String("conn", conn.ID().String()),
		zap.String("session", sess.ID()),
		zap.String("reason", string(result.Reason)),
	)
}

// reject closes a connection that never reached a bridge
func (h *Handler) reject(ctx context.Context, conn *Conn, endpoint string, err error) {
	code, reason := CloseCode(err)
	if h.metrics != nil {
		h.metrics.RecordRejection(endpoint, reason)
	}

	fields := []zap.Field{
		zap.String("endpoint", endpoint),
		zap.String("conn", conn.ID().String()),
		zap.Int("code", code),
		zap.Error(err),
	}
	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		fields = append(fields, zap.String("trace_id", string(traceID)))
	}
	if code == bridge.CloseInternalError || code == CloseSpawnFailed {
		h.logger.Warn("connection rejected", fields...)
	} else {
		h.logger.Info("connection rejected", fields...)
	}

	_ = conn.Close(code, reason)
}
