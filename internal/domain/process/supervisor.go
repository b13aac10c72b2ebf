package process

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"
)

// DefaultKillGrace is the wait between SIGTERM and SIGKILL.
const DefaultKillGrace = 3 * time.Second

const maxStderrLine = 1024 * 1024

// Supervisor starts child processes and hands back their Handle.
type Supervisor struct {
	logger    *zap.Logger
	killGrace time.Duration
}

// Option configures a Supervisor
type Option func(*Supervisor)

// WithKillGrace sets the SIGTERM to SIGKILL escalation delay
func WithKillGrace(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.killGrace = d
		}
	}
}

// NewSupervisor creates a supervisor
func NewSupervisor(logger *zap.Logger, opts ...Option) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Supervisor{
		logger:    logger.Named("process"),
		killGrace: DefaultKillGrace,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Spawn starts the child described by spec. The child is not bound to ctx;
// ctx only aborts the spawn if it is already done.
func (s *Supervisor) Spawn(ctx context.Context, spec Spec) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if spec.Name == "" {
		spec.Name = spec.Path
	}
	if spec.Path == "" {
		return nil, &SpawnError{Name: spec.Name, Err: exec.ErrNotFound}
	}

	path, err := exec.LookPath(spec.Path)
	if err != nil {
		return nil, &SpawnError{Name: spec.Name, Path: spec.Path, Err: err}
	}

	cmd := exec.Command(path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)

	var h *Handle
	if spec.IOMode == IOModePTY {
		h, err = s.startPTY(cmd, spec)
	} else {
		h, err = s.startPipes(cmd, spec)
	}
	if err != nil {
		return nil, &SpawnError{Name: spec.Name, Path: path, Err: err}
	}

	go h.monitor()

	s.logger.Info("process started",
		zap.String("name", spec.Name),
		zap.String("path", path),
		zap.Int("pid", h.Pid()),
		zap.Stringer("io", spec.IOMode),
	)
	return h, nil
}

func (s *Supervisor) startPipes(cmd *exec.Cmd, spec Spec) (*Handle, error) {
	// os.Pipe rather than cmd.StdinPipe: the parent ends must support
	// deadlines so a blocked write can be interrupted.
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		closeAll(stdinR, stdinW)
		return nil, err
	}

	var stderrR, stderrW *os.File
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	if spec.IOMode == IOModeSeparate {
		stderrR, stderrW, err = os.Pipe()
		if err != nil {
			closeAll(stdinR, stdinW, stdoutR, stdoutW)
			return nil, err
		}
		cmd.Stderr = stderrW
	} else {
		cmd.Stderr = stdoutW
	}
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		closeAll(stdinR, stdinW, stdoutR, stdoutW, stderrR, stderrW)
		return nil, err
	}
	// Child ends belong to the child now
	closeAll(stdinR, stdoutW, stderrW)

	h := newHandle(cmd, spec.Name, stdinW, stdoutR, s.killGrace, s.logger)
	if stderrR != nil {
		go s.drainStderr(spec.Name, h.Pid(), stderrR)
	}
	return h, nil
}

func (s *Supervisor) startPTY(cmd *exec.Cmd, spec Spec) (*Handle, error) {
	if !hasTerm(cmd.Env) {
		cmd.Env = append(cmd.Env, "TERM=xterm-256color")
	}
	// pty.Start puts the child in a new session, which also makes it a
	// process group leader.
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, err
	}
	return newHandle(cmd, spec.Name, ptmx, ptmx, s.killGrace, s.logger), nil
}

// drainStderr keeps the child from blocking on a full stderr pipe.
func (s *Supervisor) drainStderr(name string, pid int, r *os.File) {
	defer r.Close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxStderrLine)
	for scanner.Scan() {
		s.logger.Debug("stderr",
			zap.String("name", name),
			zap.Int("pid", pid),
			zap.String("line", scanner.Text()),
		)
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			_, _ = io.Copy(io.Discard, r)
		}
	}
}

func hasTerm(env []string) bool {
	for _, kv := range env {
		if strings.HasPrefix(kv, "TERM=") {
			return true
		}
	}
	return false
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			_ = f.Close()
		}
	}
}
