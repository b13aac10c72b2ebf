package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Kind is the lifetime class of a session.
type Kind string

const (
	// KindPersistent sessions outlive connections and are reattachable by id.
	KindPersistent Kind = "persistent"
	// KindEphemeral sessions live exactly as long as their one bridge.
	KindEphemeral Kind = "ephemeral"
)

const (
	DefaultReadSize    = 4096
	DefaultBacklogSize = 64 * 1024
)

var (
	ErrConflict     = errors.New("session already attached")
	ErrKindMismatch = errors.New("session belongs to another kind")
	ErrNotFound     = errors.New("session not found")
	ErrInvalidID    = errors.New("invalid session id")
	ErrClosed       = errors.New("registry closed")
	ErrDetached     = errors.New("attachment detached")
)

// Process is the part of a supervised child a session relies on.
// *process.Handle implements it.
type Process interface {
	Output() io.Reader
	WriteInput(ctx context.Context, p []byte) (int, error)
	Terminate()
	Done() <-chan struct{}
	Pid() int
}

// Option configures a Session
type Option func(*Session)

// WithName labels the session's process, e.g. "shell" or "python"
func WithName(name string) Option {
	return func(s *Session) {
		s.name = name
	}
}

// WithReadSize bounds the size of each output chunk
func WithReadSize(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.readSize = n
		}
	}
}

// WithBacklogSize sets how much detached output is kept for reattach
func WithBacklogSize(n int) Option {
	return func(s *Session) {
		if n >= 0 {
			s.backlogSize = n
		}
	}
}

// WithTextOutput decodes output as UTF-8, replacing invalid bytes with
// U+FFFD. Multi-byte sequences split across reads are kept intact.
func WithTextOutput() Option {
	return func(s *Session) {
		s.text = true
	}
}

// WithClock overrides time.Now for activity tracking
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// Session binds an id to one supervised process.
type Session struct {
	id          string
	kind        Kind
	name        string
	proc        Process
	createdAt   time.Time
	readSize    int
	backlogSize int
	text        bool
	now         func() time.Time

	mu           sync.Mutex
	lastAccess   time.Time
	attached     *Attachment
	everAttached bool
	backlog      *backlog

	eof       chan struct{}
	outErr    error
	closeOnce sync.Once
}

// New wraps proc in a session and starts reading its output.
func New(id string, kind Kind, proc Process, opts ...Option) *Session {
	s := &Session{
		id:          id,
		kind:        kind,
		name:        string(kind),
		proc:        proc,
		readSize:    DefaultReadSize,
		backlogSize: DefaultBacklogSize,
		now:         time.Now,
		eof:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.createdAt = s.now()
	s.lastAccess = s.createdAt
	s.backlog = newBacklog(s.backlogSize)

	go s.pump()
	return s
}

func (s *Session) ID() string           { return s.id }
func (s *Session) Kind() Kind           { return s.kind }
func (s *Session) Name() string         { return s.name }
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Pid returns the process id of the session's child
func (s *Session) Pid() int {
	return s.proc.Pid()
}

// Done is closed when the session's process has exited
func (s *Session) Done() <-chan struct{} {
	return s.proc.Done()
}

// OutputDone is closed once the process output reached EOF and every chunk
// has been handed to an attachment or the backlog.
func (s *Session) OutputDone() <-chan struct{} {
	return s.eof
}

// WriteInput forwards p to the process
func (s *Session) WriteInput(ctx context.Context, p []byte) (int, error) {
	return s.proc.WriteInput(ctx, p)
}

// Touch records activity. lastAccess never moves backwards.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.touchLocked()
}

func (s *Session) touchLocked() {
	if now := s.now(); now.After(s.lastAccess) {
		s.lastAccess = now
	}
}

// LastAccess returns the time of the latest activity
func (s *Session) LastAccess() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastAccess
}

// Attached reports whether a bridge currently holds the session
func (s *Session) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.attached != nil
}

// Attach claims the session for one bridge. Persistent sessions allow one
// attachment at a time, ephemeral sessions one ever.
func (s *Session) Attach() (*Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.attached != nil || (s.kind == KindEphemeral && s.everAttached) {
		return nil, ErrConflict
	}

	pending := s.backlog.Drain()
	if s.text {
		pending = trimPartialRune(pending)
	}

	a := &Attachment{
		session: s,
		out:     make(chan []byte),
		done:    make(chan struct{}),
		pending: pending,
	}
	s.attached = a
	s.everAttached = true
	s.touchLocked()
	return a, nil
}

// trimPartialRune drops continuation bytes left at the front of p when the
// backlog overwrote the start of a multi-byte rune
func trimPartialRune(p []byte) []byte {
	for len(p) > 0 && !utf8.RuneStart(p[0]) {
		p = p[1:]
	}
	return p
}

// Info is a point-in-time view of a session
type Info struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	Name       string    `json:"name"`
	Pid        int       `json:"pid"`
	Attached   bool      `json:"attached"`
	Backlog    int       `json:"backlog_bytes"`
	CreatedAt  time.Time `json:"created_at"`
	LastAccess time.Time `json:"last_access"`
}

// Info returns a snapshot of the session
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Info{
		ID:         s.id,
		Kind:       s.kind,
		Name:       s.name,
		Pid:        s.proc.Pid(),
		Attached:   s.attached != nil,
		Backlog:    s.backlog.Len(),
		CreatedAt:  s.createdAt,
		LastAccess: s.lastAccess,
	}
}

// close terminates the process. Only the registry calls it, and only after
// removing the session.
func (s *Session) close() {
	s.closeOnce.Do(s.proc.Terminate)
}

// pump is the single reader of the process output.
func (s *Session) pump() {
	defer close(s.eof)

	var r io.Reader = s.proc.Output()
	if s.text {
		r = transform.NewReader(r, unicode.UTF8.NewDecoder())
	}

	buf := make([]byte, s.readSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.deliver(chunk)
		}
		if err != nil {
			if err != io.EOF {
				s.mu.Lock()
				s.outErr = err
				s.mu.Unlock()
			}
			return
		}
	}
}

// deliver hands chunk to the attached bridge, or to the backlog when none
// is attached. The lock is not held while blocked on the bridge.
func (s *Session) deliver(chunk []byte) {
	for {
		s.mu.Lock()
		a := s.attached
		if a == nil {
			s.backlog.Write(chunk)
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		select {
		case a.out <- chunk:
			return
		case <-a.done:
		}
	}
}

// Attachment is one bridge's hold on a session.
type Attachment struct {
	session *Session
	out     chan []byte
	done    chan struct{}
	pending []byte

	detachOnce sync.Once
}

// Session returns the attached session
func (a *Attachment) Session() *Session {
	return a.session
}

// Next returns the next output chunk: first anything kept while detached,
// then live output. It returns io.EOF once the process output is exhausted.
func (a *Attachment) Next(ctx context.Context) ([]byte, error) {
	if p := a.pending; len(p) > 0 {
		a.pending = nil
		return p, nil
	}

	select {
	case p := <-a.out:
		return p, nil
	case <-a.session.eof:
		a.session.mu.Lock()
		err := a.session.outErr
		a.session.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return nil, io.EOF
	case <-a.done:
		return nil, ErrDetached
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Detach releases the session for a later Attach. Output arriving after
// this goes to the backlog.
func (a *Attachment) Detach() {
	a.detachOnce.Do(func() {
		s := a.session
		s.mu.Lock()
		if s.attached == a {
			s.attached = nil
		}
		s.touchLocked()
		s.mu.Unlock()

		close(a.done)
	})
}
