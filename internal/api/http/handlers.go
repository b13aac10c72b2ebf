package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AuraIDE/backend/internal/domain/process"
	"github.com/GriffinCanCode/AuraIDE/backend/internal/domain/session"
	"github.com/GriffinCanCode/AuraIDE/backend/internal/infrastructure/resilience"
)

// TerminalStarter spawns or finds persistent shell sessions
type TerminalStarter interface {
	StartTerminal(ctx context.Context, sessionID string) (*session.Session, bool, error)
}

// Uptime reports seconds since start
type Uptime interface {
	UptimeSeconds() float64
}

// Handlers contains the REST handlers
type Handlers struct {
	registry  *session.Registry
	terminals TerminalStarter
	catalog   *process.Catalog
	breakers  *resilience.Group
	uptime    Uptime
	logger    *zap.Logger
}

// NewHandlers creates a new handler set. breakers and uptime may be nil.
func NewHandlers(
	registry *session.Registry,
	terminals TerminalStarter,
	catalog *process.Catalog,
	breakers *resilience.Group,
	uptime Uptime,
	logger *zap.Logger,
) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		registry:  registry,
		terminals: terminals,
		catalog:   catalog,
		breakers:  breakers,
		uptime:    uptime,
		logger:    logger.Named("http"),
	}
}

// Register mounts the handlers on r
func (h *Handlers) Register(r gin.IRoutes) {
	r.GET("/health", h.Health)
	r.POST("/api/terminal/sessions", h.CreateTerminal)
	r.GET("/api/terminal/sessions", h.ListTerminals)
	r.DELETE("/api/terminal/sessions/:id", h.CloseTerminal)
	r.GET("/api/lsp/kinds", h.ListKinds)
}

// Health handles the detailed health check
func (h *Handlers) Health(c *gin.Context) {
	body := gin.H{
		"status":   "healthy",
		"service":  "aura-bridge",
		"sessions": h.registry.Len(),
	}
	if h.uptime != nil {
		body["uptime_seconds"] = h.uptime.UptimeSeconds()
	}
	if h.breakers != nil {
		body["spawn_breakers"] = h.breakers.States()
	}
	c.JSON(http.StatusOK, body)
}

type createTerminalRequest struct {
	ID string `json:"id"`
}

// CreateTerminal starts a persistent shell so a client can learn its id
// before connecting. An existing id is returned as is.
func (h *Handlers) CreateTerminal(c *gin.Context) {
	var req createTerminalRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, created, err := h.terminals.StartTerminal(c.Request.Context(), req.ID)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Warn("terminal session not started", zap.Error(err))
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{
		"id":      sess.ID(),
		"created": created,
		"session": sess.Info(),
	})
}

// ListTerminals lists persistent sessions
func (h *Handlers) ListTerminals(c *gin.Context) {
	infos := make([]session.Info, 0)
	for _, info := range h.registry.Snapshot() {
		if info.Kind == session.KindPersistent {
			infos = append(infos, info)
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions": infos,
		"count":    len(infos),
	})
}

// CloseTerminal terminates a persistent session
func (h *Handlers) CloseTerminal(c *gin.Context) {
	sessionID := c.Param("id")

	sess, ok := h.registry.Get(sessionID)
	if !ok || sess.Kind() != session.KindPersistent {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found", "id": sessionID})
		return
	}
	if err := h.registry.Terminate(sessionID); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "id": sessionID})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"id":      sessionID,
	})
}

// ListKinds lists the process kinds accepted by /ws/lsp
func (h *Handlers) ListKinds(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"kinds":   h.catalog.Names(),
		"details": h.catalog.Kinds(),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidID):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrKindMismatch), errors.Is(err, session.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, process.ErrSpawn):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
