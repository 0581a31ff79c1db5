package sighandle

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valvemist/nbdexport/proc"
)

type fakeDisconnector struct {
	devices []string
}

func (f *fakeDisconnector) Disconnect(device string) {
	f.devices = append(f.devices, device)
}

type fakeDomain struct {
	stopped bool
	ok      bool
}

func (f *fakeDomain) StopBackup() bool {
	f.stopped = true
	return f.ok
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMapCleanupRunsAllSteps(t *testing.T) {
	dir := t.TempDir()
	blockMap := filepath.Join(dir, "blockmap.json")
	logFile := filepath.Join(dir, "nbdkit.log")
	require.NoError(t, os.WriteFile(blockMap, []byte("[]"), 0o644))
	require.NoError(t, os.WriteFile(logFile, []byte("log"), 0o644))

	disc := &fakeDisconnector{}
	h := NewMap(disc, proc.Handle{Pid: 4242, LogFile: logFile}, "/dev/nbd0", blockMap, discardLogger())

	var killed []int
	h.kill = func(pid int) error {
		killed = append(killed, pid)
		return nil
	}
	h.cleanup()

	assert.Equal(t, []string{"/dev/nbd0"}, disc.devices)
	assert.NoFileExists(t, blockMap)
	assert.NoFileExists(t, logFile)
	assert.Equal(t, []int{4242}, killed)
}

// A missing blockmap file must not stop the remaining steps: the log file is
// still removed and the process is still killed.
func TestMapCleanupStepsAreIndependent(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "nbdkit.log")
	require.NoError(t, os.WriteFile(logFile, []byte("log"), 0o644))

	disc := &fakeDisconnector{}
	h := NewMap(disc, proc.Handle{Pid: 4242, LogFile: logFile}, "/dev/nbd0", filepath.Join(dir, "gone.json"), discardLogger())

	var killed []int
	h.kill = func(pid int) error {
		killed = append(killed, pid)
		return nil
	}
	h.cleanup()

	assert.Equal(t, []string{"/dev/nbd0"}, disc.devices)
	assert.NoFileExists(t, logFile)
	assert.Equal(t, []int{4242}, killed)
}

func TestMapCatchExitsZero(t *testing.T) {
	h := NewMap(&fakeDisconnector{}, proc.Handle{Pid: 4242}, "/dev/nbd0", filepath.Join(t.TempDir(), "gone.json"), discardLogger())
	h.kill = func(int) error { return nil }

	var code = -1
	h.exit = func(c int) { code = c }
	h.Catch(syscall.SIGINT)

	assert.Equal(t, 0, code)
}

func TestBackupCatchStopsJobAndExitsNonZero(t *testing.T) {
	dom := &fakeDomain{ok: true}
	h := NewBackup(dom, false, discardLogger())

	var code = -1
	h.exit = func(c int) { code = c }
	h.Catch(syscall.SIGTERM)

	assert.True(t, dom.stopped)
	assert.Equal(t, 1, code)
}

func TestBackupCatchSkipsDomainWhenOffline(t *testing.T) {
	dom := &fakeDomain{}
	h := NewBackup(dom, true, discardLogger())

	var code = -1
	h.exit = func(c int) { code = c }
	h.Catch(syscall.SIGINT)

	assert.False(t, dom.stopped)
	assert.Equal(t, 1, code)
}

func TestBackupCatchToleratesNilDomain(t *testing.T) {
	h := NewBackup(nil, false, discardLogger())

	var code = -1
	h.exit = func(c int) { code = c }
	h.Catch(syscall.SIGINT)

	assert.Equal(t, 1, code)
}

// A failing stop must still reach the fixed exit status.
func TestBackupCatchIgnoresStopFailure(t *testing.T) {
	dom := &fakeDomain{ok: false}
	h := NewBackup(dom, false, discardLogger())

	var code = -1
	h.exit = func(c int) { code = c }
	h.Catch(syscall.SIGTERM)

	assert.True(t, dom.stopped)
	assert.Equal(t, 1, code)
}
