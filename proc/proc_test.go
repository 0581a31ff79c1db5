package proc

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputCapturesStdout(t *testing.T) {
	e := NewExecutor(nil)
	out, err := e.Output([]string{"sh", "-c", "echo hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(out))
}

func TestOutputNonZeroExitYieldsCommandError(t *testing.T) {
	e := NewExecutor(nil)
	_, err := e.Output([]string{"sh", "-c", "echo boom >&2; exit 3"})
	require.Error(t, err)

	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, 3, cmdErr.ExitCode)
	assert.Contains(t, cmdErr.Stderr, "boom")
	assert.Contains(t, cmdErr.Error(), "exit code 3")
}

func TestOutputEmptyCommand(t *testing.T) {
	e := NewExecutor(nil)
	_, err := e.Output(nil)
	require.Error(t, err)
}

func TestReadPidFile(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "server.pid")
	require.NoError(t, os.WriteFile(path, []byte("12345\n"), 0o644))
	pid, err := ReadPidFile(path)
	require.NoError(t, err)
	assert.Equal(t, 12345, pid)

	garbage := filepath.Join(dir, "garbage.pid")
	require.NoError(t, os.WriteFile(garbage, []byte("not a pid"), 0o644))
	_, err = ReadPidFile(garbage)
	require.Error(t, err)

	_, err = ReadPidFile(filepath.Join(dir, "missing.pid"))
	require.Error(t, err)
}

func TestStartRecoversPidFromPidFile(t *testing.T) {
	e := NewExecutor(nil)
	pidFile := filepath.Join(t.TempDir(), "server.pid")

	// stands in for a self-forking server writing its background pid
	handle, err := e.Start([]string{"sh", "-c", "echo 54321 > " + pidFile}, pidFile, "")
	require.NoError(t, err)
	assert.Equal(t, 54321, handle.Pid)
	assert.Equal(t, pidFile, handle.PidFile)
}

func TestStartTimesOutWithoutPidFile(t *testing.T) {
	e := NewExecutor(nil)
	e.startTimeout = 300 * time.Millisecond

	_, err := e.Start([]string{"true"}, filepath.Join(t.TempDir(), "never.pid"), "")
	require.Error(t, err)

	var timeoutErr *StartupTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Contains(t, timeoutErr.Error(), "never.pid")
}

func TestStartRedirectsOutputToLogFile(t *testing.T) {
	e := NewExecutor(nil)
	logFile := filepath.Join(t.TempDir(), "server.log")

	handle, err := e.Start([]string{"sh", "-c", "echo diag; echo errs >&2"}, "", logFile)
	require.NoError(t, err)
	assert.Equal(t, logFile, handle.LogFile)

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "diag")
	assert.Contains(t, string(data), "errs")
}

func TestStartFailureCarriesStderr(t *testing.T) {
	e := NewExecutor(nil)
	_, err := e.Start([]string{"sh", "-c", "echo broken >&2; exit 1"}, "", "")
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Contains(t, cmdErr.Stderr, "broken")
}

// Log capture must not starve the error report: stderr shows up in both the
// log file and the returned CommandError.
func TestStartFailureWithLogFileCarriesStderr(t *testing.T) {
	e := NewExecutor(nil)
	logFile := filepath.Join(t.TempDir(), "server.log")

	_, err := e.Start([]string{"sh", "-c", "echo broken >&2; exit 1"}, "", logFile)
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Contains(t, cmdErr.Stderr, "broken")

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "broken")
}

func TestKillTerminatesProcess(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())

	require.NoError(t, Kill(cmd.Process.Pid))

	err := cmd.Wait()
	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr))
}

func TestKillInvalidPid(t *testing.T) {
	require.Error(t, Kill(0))
	require.Error(t, Kill(-5))
}
