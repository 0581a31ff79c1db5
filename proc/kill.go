package proc

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// killWait bounds how long Kill waits for a process to honor SIGTERM before
// escalating to SIGKILL.
const killWait = time.Second

// Kill delivers SIGTERM to a process and escalates to SIGKILL if it is
// still alive after a short bound. Best-effort: a process that is already
// gone is not an error.
func Kill(pid int) error {
	if pid <= 0 {
		return errors.New("invalid pid")
	}
	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
		return err
	}
	deadline := time.Now().Add(killWait)
	for time.Now().Before(deadline) {
		if err := unix.Kill(pid, 0); errors.Is(err, unix.ESRCH) {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	if err := unix.Kill(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	return nil
}
