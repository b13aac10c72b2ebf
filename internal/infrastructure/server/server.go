package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apihttp "github.com/GriffinCanCode/AuraIDE/backend/internal/api/http"
	"github.com/GriffinCanCode/AuraIDE/backend/internal/api/middleware"
	"github.com/GriffinCanCode/AuraIDE/backend/internal/api/ws"
	"github.com/GriffinCanCode/AuraIDE/backend/internal/domain/bridge"
	"github.com/GriffinCanCode/AuraIDE/backend/internal/domain/process"
	"github.com/GriffinCanCode/AuraIDE/backend/internal/domain/session"
	"github.com/GriffinCanCode/AuraIDE/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/AuraIDE/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AuraIDE/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AuraIDE/backend/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AuraIDE/backend/internal/infrastructure/tracing"
)

// Server wraps the HTTP server and its dependencies
type Server struct {
	config   *config.Config
	logger   *logging.Logger
	router   *gin.Engine
	registry *session.Registry
	reaper   *session.Reaper
	metrics  *monitoring.Metrics
	tracer   *tracing.Tracer
}

// NewServer creates a new server instance. A nil logger is built from cfg.
func NewServer(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.FromLevel(cfg.Logging.Level, cfg.Logging.Development)
	}

	catalog := process.DefaultCatalog()
	if path := cfg.Bridge.ProcessKindsFile; path != "" {
		loaded, err := process.LoadCatalog(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load process kinds: %w", err)
		}
		catalog = loaded
	}

	workDir := cfg.Bridge.ResolveWorkDir()
	shell := process.Spec{
		Name:   "shell",
		Path:   cfg.Bridge.ResolveShell(),
		Dir:    workDir,
		IOMode: process.IOModeMerged,
	}
	if cfg.Bridge.ShellPTY {
		shell.IOMode = process.IOModePTY
	}

	logger.Info("Initializing Aura bridge server",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("shell", shell.Path),
		zap.String("io", shell.IOMode.String()),
		zap.String("workdir", workDir),
		zap.Strings("kinds", catalog.Names()),
	)

	metrics := monitoring.NewMetrics()
	tracer := tracing.New("aura-bridge", logger.Logger)

	registry := session.NewRegistry(logger.Logger,
		session.WithMetrics(metrics),
		session.WithSessionDefaults(
			session.WithReadSize(cfg.Bridge.ReadBufferSize),
			session.WithBacklogSize(cfg.Bridge.BacklogSize),
		),
	)
	reaper := session.NewReaper(registry, logger.Logger,
		session.WithIdleTimeout(cfg.Bridge.IdleTimeout),
		session.WithReapInterval(cfg.Bridge.ReapInterval),
	)
	supervisor := process.NewSupervisor(logger.Logger, process.WithKillGrace(cfg.Bridge.KillGrace))
	br := bridge.New(registry, logger.Logger, bridge.WithMetrics(metrics))

	breakerLog := logger.Named("breaker")
	breakers := resilience.NewGroup(resilience.Settings{
		Failures: uint32(max(cfg.Bridge.SpawnFailureThreshold, 0)),
		Cooldown: cfg.Bridge.SpawnCooldown,
		OnStateChange: func(name string, from, to resilience.State) {
			breakerLog.Warn("spawn breaker state changed",
				zap.String("kind", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})

	corsCfg := middleware.DefaultCORSConfig(cfg.CORS.Origins)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(corsCfg))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	wsHandler := ws.NewHandler(ws.Config{
		Shell:   shell,
		WorkDir: workDir,
		Conn: ws.ConnConfig{
			PingInterval:   cfg.WebSocket.PingInterval,
			WriteTimeout:   cfg.WebSocket.WriteTimeout,
			MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		},
		CheckOrigin: corsCfg.AllowsOrigin,
	}, registry, supervisor, catalog, br, breakers, metrics, logger.Logger)
	handlers := apihttp.NewHandlers(registry, wsHandler, catalog, breakers, metrics, logger.Logger)

	// WebSocket
	router.GET("/ws/terminal", wsHandler.Terminal)
	router.GET("/ws/lsp", wsHandler.LSP)

	// REST
	handlers.Register(router)

	// Metrics
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	logger.Info("Server initialized successfully")

	return &Server{
		config:   cfg,
		logger:   logger,
		router:   router,
		registry: registry,
		reaper:   reaper,
		metrics:  metrics,
		tracer:   tracer,
	}, nil
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Registry returns the session registry
func (s *Server) Registry() *session.Registry {
	return s.registry
}

// Run listens on the configured address and serves until ctx is done
func (s *Server) Run(ctx context.Context) error {
	addr := s.config.Server.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.logger.Info("Starting HTTP server", zap.String("addr", ln.Addr().String()))
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down:
// open bridges close with 1001, the listener stops, every session is
// terminated and the reaper is joined.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		// Bridges end when the server's lifetime does
		BaseContext: func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return s.reaper.Run(gctx)
	})
	g.Go(func() error {
		s.metrics.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return s.shutdown(srv)
	})

	return g.Wait()
}

func (s *Server) shutdown(srv *http.Server) error {
	s.logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown failed", zap.Error(err))
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := s.registry.Shutdown(ctx); err != nil {
		s.logger.Error("Session drain incomplete", zap.Error(err))
		errs = append(errs, fmt.Errorf("session shutdown: %w", err))
	}
	s.tracer.Close()

	s.logger.Info("Server stopped")
	_ = s.logger.Sync()
	return errors.Join(errs...)
}
