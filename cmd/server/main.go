package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AuraIDE/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/AuraIDE/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AuraIDE/backend/internal/infrastructure/server"
)

// flags override values loaded from the environment when set
type flags struct {
	port        string
	host        string
	shell       string
	pty         bool
	workDir     string
	kindsFile   string
	idleTimeout time.Duration
	logLevel    string
	dev         bool
}

func newRootCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "aura-bridge",
		Short: "Bridge WebSocket clients to shells and language servers",
		Long: `aura-bridge serves two WebSocket endpoints: /ws/terminal attaches to
persistent shell sessions that survive reconnects, and /ws/lsp runs one
language server per connection.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			applyFlags(cmd.Flags().Changed, &f, cfg)
			return run(cmd.Context(), cfg)
		},
	}

	bindFlags(cmd, &f)
	return cmd
}

func bindFlags(cmd *cobra.Command, f *flags) {
	fl := cmd.Flags()
	fl.StringVarP(&f.port, "port", "p", "8000", "server port (PORT)")
	fl.StringVar(&f.host, "host", "0.0.0.0", "listen host (HOST)")
	fl.StringVar(&f.shell, "shell", "", "terminal shell, default $SHELL then /bin/bash (BRIDGE_SHELL)")
	fl.BoolVar(&f.pty, "pty", false, "run terminal shells on a pseudo-terminal (BRIDGE_SHELL_PTY)")
	fl.StringVar(&f.workDir, "workdir", "", "working directory of spawned processes (BRIDGE_WORKDIR)")
	fl.StringVar(&f.kindsFile, "kinds", "", "YAML or TOML file of language server kinds (BRIDGE_PROCESS_KINDS_FILE)")
	fl.DurationVar(&f.idleTimeout, "idle-timeout", 5*time.Minute, "idle time before a terminal session is reaped (BRIDGE_IDLE_TIMEOUT)")
	fl.StringVar(&f.logLevel, "log-level", "info", "debug, info, warn or error (LOG_LEVEL)")
	fl.BoolVar(&f.dev, "dev", false, "development mode: colored debug logs (LOG_DEV)")
}

func applyFlags(changed func(name string) bool, f *flags, cfg *config.Config) {
	if changed("port") {
		cfg.Server.Port = f.port
	}
	if changed("host") {
		cfg.Server.Host = f.host
	}
	if changed("shell") {
		cfg.Bridge.Shell = f.shell
	}
	if changed("pty") {
		cfg.Bridge.ShellPTY = f.pty
	}
	if changed("workdir") {
		cfg.Bridge.WorkDir = f.workDir
	}
	if changed("kinds") {
		cfg.Bridge.ProcessKindsFile = f.kindsFile
	}
	if changed("idle-timeout") {
		cfg.Bridge.IdleTimeout = f.idleTimeout
	}
	if changed("log-level") {
		cfg.Logging.Level = f.logLevel
	}
	if changed("dev") {
		cfg.Logging.Development = f.dev
		if f.dev && !changed("log-level") {
			cfg.Logging.Level = "debug"
		}
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logging.FromLevel(cfg.Logging.Level, cfg.Logging.Development)
	defer func() { _ = logger.Sync() }()

	srv, err := server.NewServer(cfg, logger)
	if err != nil {
		logger.Error("Failed to create server", zap.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.Run(ctx)
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
