package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/valvemist/nbdexport/qemu"
	"github.com/valvemist/nbdexport/sighandle"
)

var mapOpts struct {
	exportName  string
	uri         string
	metaContext string
	image       string
	module      string
	device      string
	listenAddr  string
	port        int
	blockSize   int
	threads     int
}

var mapCmd = &cobra.Command{
	Use:   "map",
	Short: "Serve a pre-computed block map of an export through nbdkit",
	RunE:  runMap,
}

func init() {
	f := mapCmd.Flags()
	f.StringVar(&mapOpts.exportName, "export-name", "sda", "NBD export name")
	f.StringVar(&mapOpts.uri, "uri", "", "NBD URI to read the extent map from (required)")
	f.StringVar(&mapOpts.metaContext, "meta-context", "", "Metadata context for the extent query")
	f.StringVar(&mapOpts.image, "image", "", "Backing image served through the copy-on-write filter (required)")
	f.StringVar(&mapOpts.module, "module", "/usr/share/nbdexport/blockmap.py", "nbdkit plugin module serving the block map")
	f.StringVar(&mapOpts.device, "device", "/dev/nbd0", "Export device disconnected on cleanup")
	f.StringVar(&mapOpts.listenAddr, "listen-address", "127.0.0.1", "nbdkit listen address")
	f.IntVar(&mapOpts.port, "port", 10810, "nbdkit listen port")
	f.IntVar(&mapOpts.blockSize, "blocksize", 4096, "Block size normalization passed to the plugin")
	f.IntVar(&mapOpts.threads, "threads", 1, "nbdkit worker threads")
	_ = mapCmd.MarkFlagRequired("uri")
	_ = mapCmd.MarkFlagRequired("image")
}

func runMap(_ *cobra.Command, _ []string) error {
	manager := qemu.NewManager(mapOpts.exportName, nil, logger)

	extents, err := manager.Extents(mapOpts.uri, mapOpts.metaContext)
	if err != nil {
		return err
	}
	logger.Info("queried extent map", "uri", mapOpts.uri, "extents", len(extents))

	blockMap, err := writeBlockMap(extents)
	if err != nil {
		return err
	}
	logger.Info("wrote temporary blockmap file", "blockmap", blockMap)

	handle, err := manager.StartNbdkit(mapOpts.module, blockMap, mapOpts.image, qemu.NbdkitOptions{
		ListenAddress: mapOpts.listenAddr,
		Port:          mapOpts.port,
		BlockSize:     mapOpts.blockSize,
		Threads:       mapOpts.threads,
		Debug:         verbose,
	})
	if err != nil {
		// the blockmap is useless without a server over it
		_ = os.Remove(blockMap)
		return err
	}
	sighandle.Install(sighandle.NewMap(manager, handle, mapOpts.device, blockMap, logger))

	logger.Info("mapping server ready",
		"uri", fmt.Sprintf("nbd://%s:%d/%s", mapOpts.listenAddr, mapOpts.port, mapOpts.exportName),
		"pid", handle.Pid,
		"logfile", handle.LogFile,
	)
	logger.Info("server stays up until interrupted, press ctrl-c to stop")
	select {}
}

// writeBlockMap stores the extent list as a JSON file for the nbdkit plugin.
func writeBlockMap(extents []qemu.Extent) (string, error) {
	data, err := qemu.MarshalExtents(extents)
	if err != nil {
		return "", err
	}
	f, err := os.CreateTemp("", "blockmap.*.json")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return "", err
	}
	return f.Name(), nil
}
