package proc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	// DefaultStartTimeout bounds pid-file polling after a fork/detach spawn.
	DefaultStartTimeout = 5 * time.Second

	pollInterval = 100 * time.Millisecond
)

// Executor runs commands on the local host.
type Executor struct {
	log          *slog.Logger
	startTimeout time.Duration
}

// NewExecutor returns a local executor logging through the given logger.
func NewExecutor(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{log: logger, startTimeout: DefaultStartTimeout}
}

// Output runs a command in pipe mode: it waits for the child to exit and
// returns its stdout. A non-zero exit yields a CommandError carrying the
// exit code and captured stderr.
func (e *Executor) Output(args []string) ([]byte, error) {
	if len(args) == 0 {
		return nil, errors.New("empty command")
	}
	e.log.Debug("starting command", "cmd", strings.Join(args, " "))

	var stdout, stderr bytes.Buffer
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &CommandError{
				Cmd:      args[0],
				ExitCode: exitErr.ExitCode(),
				Stderr:   stderr.String(),
			}
		}
		return nil, fmt.Errorf("command [%s]: %w", args[0], err)
	}
	return stdout.Bytes(), nil
}

// Start runs a command in fork/detach mode: the invoked binary forks into
// the background and the call returns once the foreground parent exits.
// When pidFile is set the executor polls it until the background pid appears
// or the startup bound elapses. When logFile is set the child's stdout and
// stderr are redirected there.
func (e *Executor) Start(args []string, pidFile, logFile string) (Handle, error) {
	if len(args) == 0 {
		return Handle{}, errors.New("empty command")
	}
	e.log.Debug("starting server command", "cmd", strings.Join(args, " "))

	var stderr bytes.Buffer
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stderr = &stderr
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return Handle{}, fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		cmd.Stdout = f
		// stderr still feeds the error report while being captured in the log
		cmd.Stderr = io.MultiWriter(f, &stderr)
	}
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Handle{}, &CommandError{
				Cmd:      args[0],
				ExitCode: exitErr.ExitCode(),
				Stderr:   stderr.String(),
			}
		}
		return Handle{}, fmt.Errorf("command [%s]: %w", args[0], err)
	}

	handle := Handle{Pid: cmd.Process.Pid, PidFile: pidFile, LogFile: logFile}
	if pidFile != "" {
		pid, err := e.waitPidFile(pidFile)
		if err != nil {
			return Handle{}, err
		}
		handle.Pid = pid
	}
	e.log.Debug("server process running", "pid", handle.Pid)
	return handle, nil
}

// waitPidFile polls until the pid-file holds a parseable pid or the startup
// bound elapses.
func (e *Executor) waitPidFile(path string) (int, error) {
	deadline := time.Now().Add(e.startTimeout)
	for {
		pid, err := ReadPidFile(path)
		if err == nil {
			return pid, nil
		}
		if time.Now().After(deadline) {
			return 0, &StartupTimeoutError{PidFile: path, Waited: e.startTimeout}
		}
		time.Sleep(pollInterval)
	}
}
