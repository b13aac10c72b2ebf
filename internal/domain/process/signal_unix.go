//go:build unix

package process

import (
	"errors"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func (h *Handle) interrupt() error {
	return h.signalGroup(unix.SIGTERM)
}

func (h *Handle) kill() error {
	return h.signalGroup(unix.SIGKILL)
}

// signalGroup signals every process in the child's group. Children are
// started as group leaders, so the group id equals the pid.
func (h *Handle) signalGroup(sig unix.Signal) error {
	pid := h.Pid()
	if pid <= 0 {
		return nil
	}
	err := unix.Kill(-pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}
