package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/valvemist/nbdexport/qemu"
	"github.com/valvemist/nbdexport/remote"
)

var restoreOpts struct {
	exportName string
	target     string
	size       int64
	socket     string

	host    string
	user    string
	sshKey  string
	sshPass string
	nbdPort int
	tlsCert string
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Start a writable NBD export of a restore target image",
	RunE:  runRestore,
}

func init() {
	f := restoreCmd.Flags()
	f.StringVar(&restoreOpts.exportName, "export-name", "sda", "NBD export name")
	f.StringVar(&restoreOpts.target, "target", "", "Path of the restore target image (required)")
	f.Int64Var(&restoreOpts.size, "size", 0, "Create the target image with this virtual size in bytes before exporting")
	f.StringVar(&restoreOpts.socket, "socket", "/var/tmp/nbdexport.sock", "Unix socket path for the local export")

	f.StringVar(&restoreOpts.host, "host", "", "Remote host: run the export server there over SSH")
	f.StringVar(&restoreOpts.user, "user", "root", "SSH user for the remote host")
	f.StringVar(&restoreOpts.sshKey, "ssh-key", "", "SSH private key file")
	f.StringVar(&restoreOpts.sshPass, "ssh-password", "", "SSH password")
	f.IntVar(&restoreOpts.nbdPort, "port", 10809, "TCP port for the remote export")
	f.StringVar(&restoreOpts.tlsCert, "tls-cert", "", "Certificate directory, enables TLS for the remote export")
	_ = restoreCmd.MarkFlagRequired("target")
}

func runRestore(_ *cobra.Command, _ []string) error {
	var remoteExec qemu.RemoteExecutor
	if restoreOpts.host != "" {
		client, err := remote.Connect(remote.Config{
			Host:           restoreOpts.host,
			User:           restoreOpts.user,
			PrivateKeyFile: restoreOpts.sshKey,
			Password:       restoreOpts.sshPass,
		}, logger)
		if err != nil {
			return err
		}
		defer client.Close()
		remoteExec = client
	}
	manager := qemu.NewManager(restoreOpts.exportName, remoteExec, logger)

	if restoreOpts.size > 0 {
		if err := manager.Create(restoreOpts.target, restoreOpts.size, qemu.FormatQCOW2, nil); err != nil {
			return err
		}
		logger.Info("created restore target", "target", restoreOpts.target, "size", restoreOpts.size)
	} else if restoreOpts.host == "" {
		raw, err := manager.Info(restoreOpts.target)
		if err != nil {
			return err
		}
		logger.Info("restore target",
			"target", restoreOpts.target,
			"virtual_size", gjson.GetBytes(raw, "virtual-size").Int(),
		)
	}

	var uri string
	var err error
	if restoreOpts.host != "" {
		scheme := "nbd"
		if restoreOpts.tlsCert != "" {
			scheme = "nbds"
		}
		uri = fmt.Sprintf("%s://%s:%d/%s", scheme, restoreOpts.host, restoreOpts.nbdPort, restoreOpts.exportName)
		_, err = manager.StartRemoteRestoreServer(restoreOpts.target, restoreOpts.nbdPort, restoreOpts.tlsCert)
	} else {
		uri = fmt.Sprintf("nbd+unix:///%s?socket=%s", restoreOpts.exportName, restoreOpts.socket)
		_, err = manager.StartRestoreServer(restoreOpts.target, restoreOpts.socket)
	}
	if err != nil {
		return err
	}
	logger.Info("restore export ready", "uri", uri)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	logger.Info("received signal, shutting export down", "signal", sig.String())
	if restoreOpts.host == "" {
		manager.Disconnect(restoreOpts.socket)
	}
	return nil
}
