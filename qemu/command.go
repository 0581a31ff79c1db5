// command.go contains the pure argument-list builders for every export and
// query operation. No function in this file touches the process table.

package qemu

import (
	"fmt"
	"strconv"
)

// Format is the on-disk image format of an exported disk.
type Format string

// Supported disk image formats.
const (
	FormatRaw   Format = "raw"
	FormatQCOW2 Format = "qcow2"
)

// ExportSpec describes one NBD export session. Name identifies the export to
// consumers and must stay stable for the lifetime of the session. Bitmap,
// when set, restricts a backup export to the blocks dirtied since that
// checkpoint. TLSDir, when set, enables TLS with x509 credentials read from
// that directory.
type ExportSpec struct {
	Name       string
	DiskPath   string
	DiskFormat Format
	Bitmap     string
	TLSDir     string
}

// NbdkitOptions configures the auxiliary nbdkit mapping server.
type NbdkitOptions struct {
	ListenAddress string
	Port          int
	BlockSize     int
	Threads       int
	Debug         bool
}

// MapCmd builds the nbdinfo invocation querying the extent map of an NBD
// endpoint as JSON. An empty metaContext queries the default allocation
// context.
func MapCmd(uri, metaContext string) []string {
	mapOpt := "--map"
	if metaContext != "" {
		mapOpt = "--map=" + metaContext
	}
	return []string{"nbdinfo", "--json", mapOpt, uri}
}

// CreateCmd builds the qemu-img invocation creating a target image of the
// given virtual size in bytes. Extra format options are appended verbatim.
func CreateCmd(target string, size int64, format Format, extraOpts []string) []string {
	cmd := []string{
		"qemu-img",
		"create",
		"-f",
		string(format),
		target,
		"-o",
		fmt.Sprintf("size=%d", size),
	}
	return append(cmd, extraOpts...)
}

// InfoCmd builds the qemu-img invocation querying image information as JSON
// without taking an exclusive lock on the file.
func InfoCmd(target string) []string {
	return []string{"qemu-img", "info", target, "--output", "json", "--force-share"}
}

// RestoreServerCmd builds the qemu-nbd invocation serving a restore target
// on a local unix socket. The server forks into the background.
func RestoreServerCmd(exportName, target, socket string) []string {
	return []string{
		"qemu-nbd",
		"--discard=unmap",
		"--format=qcow2",
		"-x",
		exportName,
		target,
		"-k",
		socket,
		"--fork",
	}
}

// RemoteRestoreServerCmd builds the qemu-nbd invocation serving a restore
// target on a TCP port, as run on a remote host: the server writes its pid
// to pidFile and its diagnostics to logFile. A non-empty tlsDir appends the
// TLS credential options.
func RemoteRestoreServerCmd(exportName, target string, port int, pidFile, logFile, tlsDir string) []string {
	cmd := []string{
		"qemu-nbd",
		"--discard=unmap",
		"--format=qcow2",
		"-x",
		exportName,
		target,
		"-p",
		strconv.Itoa(port),
		"--pid-file",
		pidFile,
		"--fork",
	}
	if tlsDir != "" {
		cmd = appendTLS(cmd, tlsDir)
	}
	return append(cmd, "> "+logFile+" 2>&1")
}

// BackupServerCmd builds the qemu-nbd invocation serving a read-only backup
// export on a local unix socket. The pid-file is co-located with the socket
// so a crashed session leaves a discoverable artifact. An unset bitmap is
// replaced by the bare end-of-options marker: qemu-nbd needs a terminator in
// that argument position.
func BackupServerCmd(spec ExportSpec, socket string) []string {
	bitmapOpt := "--"
	if spec.Bitmap != "" {
		bitmapOpt = "--bitmap=" + spec.Bitmap
	}
	return []string{
		"qemu-nbd",
		"-r",
		"--format=" + string(spec.DiskFormat),
		"-x",
		spec.Name,
		spec.DiskPath,
		"-k",
		socket,
		"-t",
		"-e 2",
		"--fork",
		"--detect-zeroes=on",
		"--pid-file=" + socket + ".pid",
		bitmapOpt,
	}
}

// RemoteBackupServerCmd builds the qemu-nbd invocation serving a read-only
// backup export on a TCP port, as run on a remote host. Bind address,
// bitmap and TLS options are appended only when set.
func RemoteBackupServerCmd(spec ExportSpec, port int, bindAddr, pidFile, logFile string) []string {
	cmd := []string{
		"qemu-nbd",
		"-r",
		"--format=" + string(spec.DiskFormat),
		"-x",
		spec.Name,
		spec.DiskPath,
		"-p",
		strconv.Itoa(port),
		"--pid-file",
		pidFile,
		"--fork",
	}
	if bindAddr != "" {
		cmd = append(cmd, "-b", bindAddr)
	}
	if spec.Bitmap != "" {
		cmd = append(cmd, "--bitmap="+spec.Bitmap)
	}
	if spec.TLSDir != "" {
		cmd = appendTLS(cmd, spec.TLSDir)
	}
	return append(cmd, "> "+logFile+" 2>&1")
}

// NbdkitCmd builds the nbdkit invocation serving a pre-computed block map
// through the blocksize and copy-on-write filters. Block size, block-map
// path, backing image and debug flag are passed as plugin parameters.
func NbdkitCmd(exportName, module, blockMap, image, pidFile string, opts NbdkitOptions) []string {
	debug := "0"
	if opts.Debug {
		debug = "1"
	}
	return []string{
		"nbdkit",
		"--pidfile",
		pidFile,
		"-i",
		opts.ListenAddress,
		"-p",
		strconv.Itoa(opts.Port),
		"-e",
		exportName,
		"--filter=blocksize",
		"--filter=cow",
		"-v",
		"python",
		module,
		"maxlen=" + strconv.Itoa(opts.BlockSize),
		"blockmap=" + blockMap,
		"disk=" + image,
		"debug=" + debug,
		"-t",
		strconv.Itoa(opts.Threads),
	}
}

// DisconnectCmd builds the qemu-nbd invocation disconnecting an export
// device or socket.
func DisconnectCmd(device string) []string {
	return []string{"qemu-nbd", "-d", device}
}

// appendTLS appends the TLS credential options to a qemu-nbd command line.
// Peer verification is disabled on purpose: client authentication is handled
// at the certificate/transport layer, not per NBD connection. The joined
// "--tls-creds tls0" token matches the argument form the target binary
// accepts and must not be split.
func appendTLS(cmd []string, certDir string) []string {
	return append(cmd,
		"--object",
		"tls-creds-x509,id=tls0,endpoint=server,dir="+certDir+",verify-peer=false",
		"--tls-creds tls0",
	)
}
