package proc

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Handle describes a spawned process: its pid and, when the process was
// started with file-based diagnostics, the pid-file and log-file paths.
// Handles are read-only after creation.
type Handle struct {
	Pid     int
	PidFile string
	LogFile string
}

// CommandError is returned when a locally spawned command exits non-zero.
type CommandError struct {
	Cmd      string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command [%s] failed with exit code %d: %s",
		e.Cmd, e.ExitCode, strings.TrimSpace(e.Stderr))
}

// StartupTimeoutError is returned when a forked server never wrote a usable
// pid-file within the polling bound.
type StartupTimeoutError struct {
	PidFile string
	Waited  time.Duration
}

func (e *StartupTimeoutError) Error() string {
	return fmt.Sprintf("timeout waiting for pid file [%s] after %s", e.PidFile, e.Waited)
}

// ReadPidFile parses the process id from a pid-file. It fails if the file
// does not exist yet or does not contain a positive integer.
func ReadPidFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("pid file [%s]: %w", path, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("pid file [%s]: invalid pid %d", path, pid)
	}
	return pid, nil
}
