package process

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Handle is a running child process. Its streams are owned exclusively by
// the holder of the Handle.
type Handle struct {
	name      string
	cmd       *exec.Cmd
	input     *os.File
	output    *outputReader
	killGrace time.Duration
	logger    *zap.Logger

	writeMu sync.Mutex

	done    chan struct{}
	waitErr error

	terminateOnce sync.Once
	closeOnce     sync.Once
}

func newHandle(cmd *exec.Cmd, name string, input, output *os.File, killGrace time.Duration, logger *zap.Logger) *Handle {
	return &Handle{
		name:      name,
		cmd:       cmd,
		input:     input,
		output:    &outputReader{f: output},
		killGrace: killGrace,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// monitor is the only caller of cmd.Wait, so the child is always reaped
// whether or not anyone waits on the handle.
func (h *Handle) monitor() {
	if h.awaitExit() {
		// The unreaped leader still holds the group id, so this cannot hit
		// an unrelated group
		_ = h.kill()
	}
	h.waitErr = h.cmd.Wait()
	close(h.done)

	h.logger.Debug("process exited",
		zap.String("name", h.name),
		zap.Int("pid", h.Pid()),
		zap.Int("code", h.ExitCode()),
	)
}

// Name returns the label given at spawn
func (h *Handle) Name() string {
	return h.name
}

// Pid returns the child's process id
func (h *Handle) Pid() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Done is closed once the child has exited and been reaped
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Exited reports whether the child has been reaped
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the child exits. It may be called any number of times,
// before or after Terminate.
func (h *Handle) Wait() error {
	<-h.done
	return h.waitErr
}

// ExitCode returns the exit status, or -1 while running or when the child
// was killed by a signal.
func (h *Handle) ExitCode() int {
	if !h.Exited() || h.cmd.ProcessState == nil {
		return -1
	}
	return h.cmd.ProcessState.ExitCode()
}

// Output returns the child's output stream. It reaches io.EOF once the
// child and every descendant holding it have closed it.
func (h *Handle) Output() io.Reader {
	return h.output
}

// WriteInput writes p to the child's stdin. A write blocked on a full pipe
// returns ctx.Err() when ctx is cancelled.
func (h *Handle) WriteInput(ctx context.Context, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if h.Exited() {
		return 0, ErrExited
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		_ = h.input.SetWriteDeadline(time.Now())
		close(fired)
	})

	n, err := h.input.Write(p)
	if !stop() {
		<-fired
		_ = h.input.SetWriteDeadline(time.Time{})
		if err != nil {
			return n, ctx.Err()
		}
	}

	if err != nil {
		if errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed) || errors.Is(err, syscall.EIO) {
			return n, ErrExited
		}
		return n, err
	}
	return n, nil
}

// Terminate asks the process group to stop, escalating to SIGKILL after the
// grace period, then releases the handle's streams. Only the first call
// acts; later calls return immediately.
func (h *Handle) Terminate() {
	h.terminateOnce.Do(func() {
		if !h.Exited() {
			if err := h.interrupt(); err != nil {
				h.logger.Debug("interrupt failed", zap.Int("pid", h.Pid()), zap.Error(err))
			}

			timer := time.NewTimer(h.killGrace)
			select {
			case <-h.done:
				timer.Stop()
			case <-timer.C:
				h.logger.Warn("process ignored SIGTERM, killing",
					zap.String("name", h.name),
					zap.Int("pid", h.Pid()),
				)
				_ = h.kill()
				h.waitBounded()
			}
		}

		// No signal once the leader is reaped: its group id may belong to
		// someone else by now. monitor already swept the stragglers.
		h.Close()
	})
}

func (h *Handle) waitBounded() {
	timer := time.NewTimer(h.killGrace)
	defer timer.Stop()

	select {
	case <-h.done:
	case <-timer.C:
		h.logger.Error("process did not exit after SIGKILL",
			zap.String("name", h.name),
			zap.Int("pid", h.Pid()),
		)
	}
}

// Close releases the parent's ends of the streams without signalling.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		_ = h.input.Close()
		if h.output.f != h.input {
			_ = h.output.f.Close()
		}
	})
}

// outputReader reports every terminal read condition as io.EOF. A pty
// master returns EIO once the slave side is gone, and a closed file returns
// os.ErrClosed; both mean the stream is over.
type outputReader struct {
	f *os.File
}

func (r *outputReader) Read(p []byte) (int, error) {
	n, err := r.f.Read(p)
	if err != nil && err != io.EOF {
		if errors.Is(err, syscall.EIO) || errors.Is(err, os.ErrClosed) {
			err = io.EOF
		}
	}
	return n, err
}
