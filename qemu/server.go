package qemu

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/valvemist/nbdexport/proc"
)

// RemoteExecutor runs a command line on a remote host and returns a process
// handle, recovering the pid from the given remote pid-file when set. It is
// a consumed capability: the transport and its authentication live with the
// implementation.
type RemoteExecutor interface {
	Run(cmd string, pidFile, logFile string) (proc.Handle, error)
}

// localRunner is the slice of the local executor the manager needs.
type localRunner interface {
	Output(args []string) ([]byte, error)
	Start(args []string, pidFile, logFile string) (proc.Handle, error)
}

// Manager starts and stops the NBD export server variants for one export
// session, dispatching to the local executor or to the remote executor
// supplied at construction.
type Manager struct {
	exportName string
	log        *slog.Logger
	local      localRunner
	remote     RemoteExecutor
}

// NewManager returns a manager for the named export. A nil remote executor
// restricts the manager to local operation.
func NewManager(exportName string, remote RemoteExecutor, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		exportName: exportName,
		log:        logger,
		local:      proc.NewExecutor(logger),
		remote:     remote,
	}
}

// ExportName returns the NBD export identifier of this session.
func (m *Manager) ExportName() string { return m.exportName }

// Extents queries the extent map of an NBD endpoint via nbdinfo. An empty
// metaContext queries base allocation.
func (m *Manager) Extents(uri, metaContext string) ([]Extent, error) {
	out, err := m.local.Output(MapCmd(uri, metaContext))
	if err != nil {
		return nil, err
	}
	return parseExtents(out, metaContext)
}

// Create creates the target image, remotely when a remote executor is
// configured.
func (m *Manager) Create(target string, size int64, format Format, extraOpts []string) error {
	cmd := CreateCmd(target, size, format, extraOpts)
	if m.remote != nil {
		_, err := m.remote.Run(strings.Join(cmd, " "), "", "")
		return err
	}
	_, err := m.local.Output(cmd)
	return err
}

// Info queries qemu-img image information for the target file, remotely
// when a remote executor is configured. The JSON output is only available
// for local targets: the remote run contract returns a process handle, so
// remote output stays in the remote session.
func (m *Manager) Info(target string) ([]byte, error) {
	cmd := InfoCmd(target)
	if m.remote != nil {
		_, err := m.remote.Run(strings.Join(cmd, " "), "", "")
		return nil, err
	}
	return m.local.Output(cmd)
}

// StartRestoreServer starts the local restore export on a unix socket.
func (m *Manager) StartRestoreServer(target, socket string) (proc.Handle, error) {
	return m.local.Start(RestoreServerCmd(m.exportName, target, socket), "", "")
}

// StartRemoteRestoreServer starts the restore export on a TCP port of the
// remote host, allocating fresh pid-file and log-file paths for this
// invocation. On failure the remote log-file path is logged so operators can
// inspect the server's diagnostics.
func (m *Manager) StartRemoteRestoreServer(target string, port int, tlsDir string) (proc.Handle, error) {
	if m.remote == nil {
		return proc.Handle{}, errors.New("no remote executor configured")
	}
	pidFile := tempPath("qemu-nbd-restore", ".pid")
	logFile := tempPath("qemu-nbd-restore", ".log")
	cmd := RemoteRestoreServerCmd(m.exportName, target, port, pidFile, logFile, tlsDir)
	handle, err := m.remote.Run(strings.Join(cmd, " "), pidFile, logFile)
	if err != nil {
		m.log.Error("executing remote command failed, check log file for errors", "logfile", logFile)
		return proc.Handle{}, err
	}
	return handle, nil
}

// StartBackupServer starts the local read-only backup export on a unix
// socket. The pid-file is derived from the socket path.
func (m *Manager) StartBackupServer(spec ExportSpec, socket string) (proc.Handle, error) {
	pidFile := socket + ".pid"
	return m.local.Start(BackupServerCmd(spec, socket), pidFile, "")
}

// StartRemoteBackupServer starts the read-only backup export on a TCP port
// of the remote host. An empty bindAddr leaves the bind flag out. Fresh
// pid-file and log-file paths are allocated per invocation; the log-file
// path is logged on failure.
func (m *Manager) StartRemoteBackupServer(spec ExportSpec, port int, bindAddr string) (proc.Handle, error) {
	if m.remote == nil {
		return proc.Handle{}, errors.New("no remote executor configured")
	}
	pidFile := tempPath("qemu-nbd-backup", ".pid")
	logFile := tempPath("qemu-nbd-backup", ".log")
	cmd := RemoteBackupServerCmd(spec, port, bindAddr, pidFile, logFile)
	handle, err := m.remote.Run(strings.Join(cmd, " "), pidFile, logFile)
	if err != nil {
		m.log.Error("executing remote command failed, check log file for errors", "logfile", logFile)
		return proc.Handle{}, err
	}
	return handle, nil
}

// StartNbdkit starts the auxiliary nbdkit mapping server over a block map
// file, tracking its pid-file and capturing its output in a log file.
func (m *Manager) StartNbdkit(module, blockMap, image string, opts NbdkitOptions) (proc.Handle, error) {
	pidFile := tempPath("nbdkit", ".pid")
	logFile := tempPath("nbdkit", ".log")
	cmd := NbdkitCmd(m.exportName, module, blockMap, image, pidFile, opts)
	return m.local.Start(cmd, pidFile, logFile)
}

// Disconnect tears down an export device or socket. Disconnecting an export
// that is already gone is a logged no-op: the operation never escalates, so
// cleanup paths may call it unconditionally.
func (m *Manager) Disconnect(device string) {
	m.log.Info("disconnecting device", "device", device)
	if _, err := m.local.Output(DisconnectCmd(device)); err != nil {
		m.log.Warn("disconnect failed", "device", device, "error", err)
	}
}

// tempPath allocates a uniquely named path in the temp directory. Uniqueness
// comes from the UUID, the prefix only identifies the operation.
func tempPath(prefix, suffix string) string {
	return filepath.Join(os.TempDir(), prefix+"."+uuid.NewString()+suffix)
}
