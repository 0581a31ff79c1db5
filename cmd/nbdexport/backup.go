package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/valvemist/nbdexport/proc"
	"github.com/valvemist/nbdexport/qemu"
	"github.com/valvemist/nbdexport/remote"
	"github.com/valvemist/nbdexport/sighandle"
	"github.com/valvemist/nbdexport/virt"
)

var backupOpts struct {
	exportName  string
	disk        string
	device      string
	format      string
	bitmap      string
	socket      string
	qmpSocket   string
	offline     bool
	showExtents bool
	metaContext string

	host     string
	user     string
	sshKey   string
	sshPass  string
	nbdPort  int
	bindAddr string
	tlsCert  string
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Start a read-only NBD export of a disk image for backup",
	RunE:  runBackup,
}

func init() {
	f := backupCmd.Flags()
	f.StringVar(&backupOpts.exportName, "export-name", "sda", "NBD export name")
	f.StringVar(&backupOpts.disk, "disk", "", "Path to the disk image to export (resolved via --qmp when omitted)")
	f.StringVar(&backupOpts.device, "device", "", "Domain device to resolve the disk from, first disk when omitted (requires --qmp)")
	f.StringVar(&backupOpts.format, "format", "qcow2", "Disk image format (raw or qcow2)")
	f.StringVar(&backupOpts.bitmap, "bitmap", "", "Restrict the export to blocks dirtied since this checkpoint bitmap")
	f.StringVar(&backupOpts.socket, "socket", "/var/tmp/nbdexport.sock", "Unix socket path for the local export")
	f.StringVar(&backupOpts.qmpSocket, "qmp", "", "QMP monitor socket of the domain, used to stop the backup job on interrupt")
	f.BoolVar(&backupOpts.offline, "offline", false, "Offline backup: no domain backup job to stop on interrupt")
	f.BoolVar(&backupOpts.showExtents, "show-extents", false, "Query and log the extent map once the export is up")
	f.StringVar(&backupOpts.metaContext, "meta-context", "", "Metadata context for the extent query")

	f.StringVar(&backupOpts.host, "host", "", "Remote host: run the export server there over SSH")
	f.StringVar(&backupOpts.user, "user", "root", "SSH user for the remote host")
	f.StringVar(&backupOpts.sshKey, "ssh-key", "", "SSH private key file")
	f.StringVar(&backupOpts.sshPass, "ssh-password", "", "SSH password")
	f.IntVar(&backupOpts.nbdPort, "port", 10809, "TCP port for the remote export")
	f.StringVar(&backupOpts.bindAddr, "bind", "", "Bind address for the remote export")
	f.StringVar(&backupOpts.tlsCert, "tls-cert", "", "Certificate directory, enables TLS for the remote export")
}

func runBackup(_ *cobra.Command, _ []string) error {
	spec := qemu.ExportSpec{
		Name:       backupOpts.exportName,
		DiskPath:   backupOpts.disk,
		DiskFormat: qemu.Format(backupOpts.format),
		Bitmap:     backupOpts.bitmap,
		TLSDir:     backupOpts.tlsCert,
	}

	var remoteExec qemu.RemoteExecutor
	if backupOpts.host != "" {
		client, err := remote.Connect(remote.Config{
			Host:           backupOpts.host,
			User:           backupOpts.user,
			PrivateKeyFile: backupOpts.sshKey,
			Password:       backupOpts.sshPass,
		}, logger)
		if err != nil {
			return err
		}
		defer client.Close()
		remoteExec = client
	}
	manager := qemu.NewManager(spec.Name, remoteExec, logger)

	var dom sighandle.DomainStopper
	if backupOpts.qmpSocket != "" {
		client, err := virt.Connect(backupOpts.qmpSocket, logger)
		if err != nil {
			return err
		}
		defer client.Close()
		dom = client

		if spec.DiskPath == "" {
			disk, err := resolveDisk(client, backupOpts.device)
			if err != nil {
				return err
			}
			spec.DiskPath = disk.Path
			spec.DiskFormat = qemu.Format(disk.Format)
			logger.Info("resolved disk from domain", "device", disk.Device, "path", disk.Path, "format", disk.Format)
		}
	}
	if spec.DiskPath == "" {
		return errors.New("no disk to export: set --disk or resolve one via --qmp")
	}
	sighandle.Install(sighandle.NewBackup(dom, backupOpts.offline, logger))

	handle, uri, err := startBackupServer(manager, spec)
	if err != nil {
		return err
	}
	logger.Info("backup export ready", "uri", uri, "pid", handle.Pid, "pidfile", handle.PidFile)

	if backupOpts.showExtents {
		extents, err := manager.Extents(uri, backupOpts.metaContext)
		if err != nil {
			return err
		}
		var data int64
		for _, e := range extents {
			if e.Data {
				data += e.Length
			}
		}
		logger.Info("extent map", "extents", len(extents), "data_bytes", data)
	}

	logger.Info("export stays up until interrupted, press ctrl-c to stop")
	select {}
}

// diskLister is the slice of the QMP client disk resolution needs.
type diskLister interface {
	Disks() ([]virt.Disk, error)
}

// resolveDisk picks the domain disk to export: the one backing the named
// device, or the first disk when no device is given.
func resolveDisk(domain diskLister, device string) (virt.Disk, error) {
	disks, err := domain.Disks()
	if err != nil {
		return virt.Disk{}, err
	}
	if len(disks) == 0 {
		return virt.Disk{}, errors.New("domain has no disks to export")
	}
	if device == "" {
		return disks[0], nil
	}
	for _, d := range disks {
		if d.Device == device {
			return d, nil
		}
	}
	return virt.Disk{}, fmt.Errorf("device [%s] not found in domain", device)
}

// startBackupServer starts the export locally or remotely and returns the
// handle along with the NBD URI consumers connect to.
func startBackupServer(manager *qemu.Manager, spec qemu.ExportSpec) (proc.Handle, string, error) {
	if backupOpts.host != "" {
		scheme := "nbd"
		if spec.TLSDir != "" {
			scheme = "nbds"
		}
		uri := fmt.Sprintf("%s://%s:%d/%s", scheme, backupOpts.host, backupOpts.nbdPort, spec.Name)
		handle, err := manager.StartRemoteBackupServer(spec, backupOpts.nbdPort, backupOpts.bindAddr)
		return handle, uri, err
	}
	uri := fmt.Sprintf("nbd+unix:///%s?socket=%s", spec.Name, backupOpts.socket)
	handle, err := manager.StartBackupServer(spec, backupOpts.socket)
	return handle, uri, err
}
