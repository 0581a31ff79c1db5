// Package sighandle performs emergency teardown when an interrupt signal
// hits a running backup or map job. Each handler is an ordered list of
// best-effort steps: a failing step is logged and never prevents the
// remaining steps, and every handler ends in a fixed process exit status.
package sighandle

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/valvemist/nbdexport/proc"
)

// Disconnector tears down an export device. Satisfied by qemu.Manager.
type Disconnector interface {
	Disconnect(device string)
}

// DomainStopper cancels an in-flight backup job on the domain. Satisfied by
// virt.Client.
type DomainStopper interface {
	StopBackup() bool
}

// Handler reacts to a delivered signal.
type Handler interface {
	Catch(sig os.Signal)
}

// Install delivers SIGINT and SIGTERM to the handler. Handlers terminate
// the process, so at most one signal is ever consumed.
func Install(h Handler) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		h.Catch(<-sigs)
	}()
}

// step is one named best-effort teardown action.
type step struct {
	name string
	run  func() error
}

// runSteps executes every step in order, logging failures without aborting.
func runSteps(log *slog.Logger, steps []step) {
	for _, s := range steps {
		log.Info("cleanup: " + s.name)
		if err := s.run(); err != nil {
			log.Warn("cleanup step failed", "step", s.name, "error", err)
		}
	}
}

// Backup handles a signal during a backup run: unless the backup is an
// offline one (no domain job to stop), it asks the domain to cancel the
// in-flight backup job, then exits non-zero.
type Backup struct {
	log     *slog.Logger
	domain  DomainStopper
	offline bool
	exit    func(int)
}

// NewBackup returns the backup-job signal handler. domain may be nil for
// offline backups.
func NewBackup(domain DomainStopper, offline bool, logger *slog.Logger) *Backup {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backup{log: logger, domain: domain, offline: offline, exit: os.Exit}
}

// Catch stops the backup job best-effort and terminates with status 1.
func (h *Backup) Catch(sig os.Signal) {
	h.log.Error("caught signal", "signal", sig.String())
	h.cleanup()
	h.exit(1)
}

func (h *Backup) cleanup() {
	if h.offline || h.domain == nil {
		return
	}
	runSteps(h.log, []step{
		{"stopping backup job", func() error {
			h.domain.StopBackup()
			return nil
		}},
	})
}

// Map handles a signal during a map run: disconnect the export device,
// remove the temporary block map, remove the nbdkit log file, kill the
// nbdkit process, then exit zero. Every step runs even if an earlier one
// failed.
type Map struct {
	log        *slog.Logger
	disconnect Disconnector
	handle     proc.Handle
	device     string
	blockMap   string
	kill       func(pid int) error
	exit       func(int)
}

// NewMap returns the map-job signal handler for a running nbdkit process.
func NewMap(d Disconnector, handle proc.Handle, device, blockMap string, logger *slog.Logger) *Map {
	if logger == nil {
		logger = slog.Default()
	}
	return &Map{
		log:        logger,
		disconnect: d,
		handle:     handle,
		device:     device,
		blockMap:   blockMap,
		kill:       proc.Kill,
		exit:       os.Exit,
	}
}

// Catch tears down the map job best-effort and terminates with status 0.
func (h *Map) Catch(sig os.Signal) {
	h.log.Info("received signal", "signal", sig.String())
	h.cleanup()
	h.exit(0)
}

func (h *Map) cleanup() {
	runSteps(h.log, []step{
		{"disconnecting export device [" + h.device + "]", func() error {
			h.disconnect.Disconnect(h.device)
			return nil
		}},
		{"removing temporary blockmap file [" + h.blockMap + "]", func() error {
			return os.Remove(h.blockMap)
		}},
		{"removing nbdkit logfile [" + h.handle.LogFile + "]", func() error {
			return os.Remove(h.handle.LogFile)
		}},
		{"killing nbdkit process", func() error {
			return h.kill(h.handle.Pid)
		}},
	})
}
