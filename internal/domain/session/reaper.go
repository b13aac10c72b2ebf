package session

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultIdleTimeout  = 5 * time.Minute
	DefaultReapInterval = time.Minute
)

// Reaper terminates persistent sessions that have been idle too long.
type Reaper struct {
	registry *Registry
	logger   *zap.Logger
	timeout  time.Duration
	interval time.Duration
	now      func() time.Time
}

// ReaperOption configures a Reaper
type ReaperOption func(*Reaper)

// WithIdleTimeout sets how long a session may go without activity
func WithIdleTimeout(d time.Duration) ReaperOption {
	return func(r *Reaper) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithReapInterval sets how often the registry is swept
func WithReapInterval(d time.Duration) ReaperOption {
	return func(r *Reaper) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithReaperClock overrides time.Now for sweeps started by Run
func WithReaperClock(now func() time.Time) ReaperOption {
	return func(r *Reaper) {
		if now != nil {
			r.now = now
		}
	}
}

// NewReaper creates a reaper over registry
func NewReaper(registry *Registry, logger *zap.Logger, opts ...ReaperOption) *Reaper {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reaper{
		registry: registry,
		logger:   logger.Named("reaper"),
		timeout:  DefaultIdleTimeout,
		interval: DefaultReapInterval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run sweeps every interval until ctx is cancelled
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reaper started",
		zap.Duration("timeout", r.timeout),
		zap.Duration("interval", r.interval),
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return nil
		case <-ticker.C:
			r.Sweep(r.now())
		}
	}
}

// Sweep removes every persistent session idle for longer than the timeout
// at now and starts terminating it. Ephemeral sessions are never reaped.
// It returns the number of sessions reaped.
func (r *Reaper) Sweep(now time.Time) int {
	reaped := 0
	r.registry.ForEach(func(s *Session) bool {
		if !r.idle(s, now) {
			return true
		}
		if r.registry.removeIf(s, ReasonIdle) {
			reaped++
			r.logger.Info("reaping idle session",
				zap.String("session", s.ID()),
				zap.Duration("idle", now.Sub(s.LastAccess())),
			)
			// The handle reaps the child itself; nothing to wait for
			go s.close()
		}
		return true
	})
	return reaped
}

func (r *Reaper) idle(s *Session, now time.Time) bool {
	return s.Kind() == KindPersistent && now.Sub(s.LastAccess()) > r.timeout
}
