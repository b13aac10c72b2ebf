package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	Bridge    BridgeConfig
	WebSocket WebSocketConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8000"`
	Host            string        `envconfig:"HOST" default:"0.0.0.0"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// BridgeConfig holds process bridge configuration.
type BridgeConfig struct {
	// Shell is the executable spawned for terminal sessions. Empty means $SHELL, then /bin/bash.
	Shell    string `envconfig:"BRIDGE_SHELL"`
	ShellPTY bool   `envconfig:"BRIDGE_SHELL_PTY" default:"false"`
	// WorkDir is the working directory of spawned processes. Empty means the server's cwd.
	WorkDir string `envconfig:"BRIDGE_WORKDIR"`

	IdleTimeout    time.Duration `envconfig:"BRIDGE_IDLE_TIMEOUT" default:"5m"`
	ReapInterval   time.Duration `envconfig:"BRIDGE_REAP_INTERVAL" default:"1m"`
	ReadBufferSize int           `envconfig:"BRIDGE_READ_BUFFER" default:"4096"`
	BacklogSize    int           `envconfig:"BRIDGE_BACKLOG_SIZE" default:"65536"`
	KillGrace      time.Duration `envconfig:"BRIDGE_KILL_GRACE" default:"3s"`

	// ProcessKindsFile optionally extends the built-in process-kind catalog (.yaml, .yml or .toml).
	ProcessKindsFile string `envconfig:"BRIDGE_PROCESS_KINDS_FILE"`

	SpawnFailureThreshold int           `envconfig:"BRIDGE_SPAWN_FAILURES" default:"5"`
	SpawnCooldown         time.Duration `envconfig:"BRIDGE_SPAWN_COOLDOWN" default:"30s"`
}

// WebSocketConfig holds WebSocket transport configuration.
type WebSocketConfig struct {
	PingInterval   time.Duration `envconfig:"WS_PING_INTERVAL" default:"30s"`
	WriteTimeout   time.Duration `envconfig:"WS_WRITE_TIMEOUT" default:"10s"`
	MaxMessageSize int64         `envconfig:"WS_MAX_MESSAGE" default:"1048576"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"20"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"40"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// CORSConfig holds allowed browser origins.
type CORSConfig struct {
	Origins []string `envconfig:"CORS_ORIGINS" default:"*"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8000",
			Host:            "0.0.0.0",
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		Bridge: BridgeConfig{
			IdleTimeout:           5 * time.Minute,
			ReapInterval:          time.Minute,
			ReadBufferSize:        4096,
			BacklogSize:           64 * 1024,
			KillGrace:             3 * time.Second,
			SpawnFailureThreshold: 5,
			SpawnCooldown:         30 * time.Second,
		},
		WebSocket: WebSocketConfig{
			PingInterval:   30 * time.Second,
			WriteTimeout:   10 * time.Second,
			MaxMessageSize: 1 << 20,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
			Enabled:           true,
		},
		CORS: CORSConfig{
			Origins: []string{"*"},
		},
	}
}

// Validate rejects values the bridge cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Bridge.IdleTimeout <= 0 {
		errs = append(errs, errors.New("BRIDGE_IDLE_TIMEOUT must be positive"))
	}
	if c.Bridge.ReapInterval <= 0 {
		errs = append(errs, errors.New("BRIDGE_REAP_INTERVAL must be positive"))
	}
	if c.Bridge.ReadBufferSize <= 0 {
		errs = append(errs, errors.New("BRIDGE_READ_BUFFER must be positive"))
	}
	if c.Bridge.BacklogSize < 0 {
		errs = append(errs, errors.New("BRIDGE_BACKLOG_SIZE must not be negative"))
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("WS_MAX_MESSAGE must be positive"))
	}
	return errors.Join(errs...)
}

// ResolveShell returns the shell executable for terminal sessions.
func (b BridgeConfig) ResolveShell() string {
	if b.Shell != "" {
		return b.Shell
	}
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "/bin/bash"
}

// ResolveWorkDir returns the working directory for spawned processes.
func (b BridgeConfig) ResolveWorkDir() string {
	if b.WorkDir != "" {
		return b.WorkDir
	}
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return os.TempDir()
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}
