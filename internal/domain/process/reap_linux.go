package process

import (
	"errors"

	"golang.org/x/sys/unix"
)

// awaitExit blocks until the leader exits without reaping it. It reports
// false when the exit could not be observed this way.
func (h *Handle) awaitExit() bool {
	pid := h.Pid()
	if pid <= 0 {
		return false
	}
	var info unix.Siginfo
	for {
		err := unix.Waitid(unix.P_PID, pid, &info, unix.WEXITED|unix.WNOWAIT, nil)
		if !errors.Is(err, unix.EINTR) {
			return err == nil
		}
	}
}
