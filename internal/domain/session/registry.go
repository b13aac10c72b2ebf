package session

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/GriffinCanCode/AuraIDE/backend/internal/shared/id"
)

// Close reasons recorded in logs and metrics
const (
	ReasonExited   = "exited"
	ReasonIdle     = "idle"
	ReasonClosed   = "closed"
	ReasonEnded    = "ended"
	ReasonShutdown = "shutdown"
)

// exitDrain bounds how long a naturally exited process keeps its output
// open for the pump to finish reading.
const exitDrain = time.Second

// Factory starts the process for a new session
type Factory func(ctx context.Context) (Process, error)

// Metrics receives registry events. *monitoring.Metrics implements it.
type Metrics interface {
	SessionCreated(kind string)
	SessionClosed(kind, reason string)
	RecordSpawnError(kind string)
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithMetrics reports session lifecycle events
func WithMetrics(m Metrics) RegistryOption {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithSessionDefaults applies opts to every session the registry creates
func WithSessionDefaults(opts ...Option) RegistryOption {
	return func(r *Registry) {
		r.defaults = append(r.defaults, opts...)
	}
}

// Registry maps session ids to live sessions. Every entry owns exactly one
// running process; removing an entry is what grants the right to
// terminate it.
type Registry struct {
	logger   *zap.Logger
	metrics  Metrics
	defaults []Option

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool

	spawns singleflight.Group
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		logger:   logger.Named("sessions"),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetOrCreate returns the session registered under sessionID, creating it
// with factory when absent. An empty id gets a fresh one. Concurrent calls
// for the same absent id run factory once; created is true only for the
// caller whose call spawned it.
func (r *Registry) GetOrCreate(ctx context.Context, sessionID string, kind Kind, factory Factory, opts ...Option) (*Session, bool, error) {
	if sessionID == "" {
		fresh, err := r.newID()
		if err != nil {
			return nil, false, err
		}
		sessionID = fresh
	} else if !id.IsValidSessionID(sessionID) {
		return nil, false, ErrInvalidID
	}

	if s, err := r.lookup(sessionID, kind); s != nil || err != nil {
		return s, false, err
	}

	created := false
	v, err, _ := r.spawns.Do(sessionID, func() (interface{}, error) {
		// Another flight may have finished between lookup and Do
		if s, err := r.lookup(sessionID, kind); s != nil || err != nil {
			return s, err
		}

		s, err := r.create(ctx, sessionID, kind, factory, opts)
		if err != nil {
			return nil, err
		}
		created = true
		return s, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*Session), created, nil
}

func (r *Registry) create(ctx context.Context, sessionID string, kind Kind, factory Factory, opts []Option) (*Session, error) {
	// No lock held while spawning
	opts = slices.Concat(r.defaults, opts)
	proc, err := factory(ctx)
	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordSpawnError(nameOf(kind, opts))
		}
		return nil, err
	}

	s := New(sessionID, kind, proc, opts...)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		s.close()
		return nil, ErrClosed
	}
	r.sessions[sessionID] = s
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.SessionCreated(s.Name())
	}
	r.logger.Info("session created",
		zap.String("session", sessionID),
		zap.String("kind", string(kind)),
		zap.String("name", s.Name()),
		zap.Int("pid", s.Pid()),
	)

	r.watch(s)
	return s, nil
}

// nameOf resolves the name a session built from opts would carry
func nameOf(kind Kind, opts []Option) string {
	probe := &Session{name: string(kind)}
	for _, opt := range opts {
		opt(probe)
	}
	return probe.name
}

// watch removes the session when its process exits on its own.
func (r *Registry) watch(s *Session) {
	go func() {
		<-s.Done()

		if !r.removeIf(s, ReasonExited) {
			return
		}

		timer := time.NewTimer(exitDrain)
		select {
		case <-s.OutputDone():
		case <-timer.C:
		}
		timer.Stop()
		s.close()
	}()
}

func (r *Registry) lookup(sessionID string, kind Kind) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	if s.Kind() != kind {
		return nil, ErrKindMismatch
	}
	return s, nil
}

func (r *Registry) newID() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return "", ErrClosed
	}
	for {
		candidate := string(id.NewSessionID())
		if _, taken := r.sessions[candidate]; !taken {
			return candidate, nil
		}
	}
}

// Get returns the session registered under sessionID
func (r *Registry) Get(sessionID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	return s, ok
}

// Remove unregisters the session without stopping its process. The caller
// becomes responsible for the process.
func (r *Registry) Remove(sessionID string) (*Session, bool) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()

	if ok {
		r.recordClosed(s, ReasonClosed)
	}
	return s, ok
}

// Terminate removes the session and stops its process, waiting for it to
// exit.
func (r *Registry) Terminate(sessionID string) error {
	s, ok := r.Get(sessionID)
	if !ok {
		return ErrNotFound
	}
	if !r.removeIf(s, ReasonClosed) {
		return ErrNotFound
	}
	s.close()
	return nil
}

// Release removes s, if still registered, and stops its process. It is how
// a bridge disposes of an ephemeral session.
func (r *Registry) Release(s *Session) {
	if r.removeIf(s, ReasonEnded) {
		s.close()
	}
}

// removeIf deletes the entry only while it still points at s, so exactly
// one caller wins the right to terminate.
func (r *Registry) removeIf(s *Session, reason string) bool {
	r.mu.Lock()
	current, ok := r.sessions[s.ID()]
	if !ok || current != s {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, s.ID())
	r.mu.Unlock()

	r.recordClosed(s, reason)
	return true
}

func (r *Registry) recordClosed(s *Session, reason string) {
	if r.metrics != nil {
		r.metrics.SessionClosed(s.Name(), reason)
	}
	r.logger.Info("session removed",
		zap.String("session", s.ID()),
		zap.String("name", s.Name()),
		zap.String("reason", reason),
	)
}

// ForEach calls fn for each session until fn returns false. fn runs
// without the registry lock, on a snapshot of the entries.
func (r *Registry) ForEach(fn func(*Session) bool) {
	for _, s := range r.list() {
		if !fn(s) {
			return
		}
	}
}

func (r *Registry) list() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// Snapshot describes every session, oldest first
func (r *Registry) Snapshot() []Info {
	sessions := r.list()
	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Len returns the number of registered sessions
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.sessions)
}

// Shutdown refuses new sessions, terminates every registered one and
// waits for the processes to exit or ctx to end.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for sid, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, sid)
	}
	r.mu.Unlock()

	r.logger.Info("terminating sessions", zap.Int("count", len(sessions)))

	var wg sync.WaitGroup
	for _, s := range sessions {
		r.recordClosed(s, ReasonShutdown)
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.close()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
