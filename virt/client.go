package virt

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/digitalocean/go-qemu/qmp"
	"github.com/tidwall/gjson"
)

// Disk describes one block device attached to the domain.
type Disk struct {
	Device string
	Format string
	Path   string
}

// monitor is the slice of qmp.SocketMonitor the client uses.
type monitor interface {
	Run(command []byte) ([]byte, error)
	Disconnect() error
}

// Client is a connected QMP monitor for one domain.
type Client struct {
	mon monitor
	log *slog.Logger
}

// Connect opens the domain's QMP unix socket.
func Connect(socket string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	mon, err := qmp.NewSocketMonitor("unix", socket, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("qmp socket [%s]: %w", socket, err)
	}
	if err := mon.Connect(); err != nil {
		return nil, fmt.Errorf("qmp connect [%s]: %w", socket, err)
	}
	logger.Debug("connected to qmp monitor", "socket", socket)
	return &Client{mon: mon, log: logger}, nil
}

// Close disconnects from the monitor.
func (c *Client) Close() error {
	return c.mon.Disconnect()
}

// run sends a raw QMP command and logs both sides of the exchange.
func (c *Client) run(json string) ([]byte, error) {
	c.log.Debug("qmp command", "json", json)
	raw, err := c.mon.Run([]byte(json))
	c.log.Debug("qmp response", "json", string(raw), "error", err)
	return raw, err
}

// Disks returns the block devices currently attached to the domain, with
// their image format and backing path.
func (c *Client) Disks() ([]Disk, error) {
	raw, err := c.run(BuildQueryBlockJSON())
	if err != nil {
		return nil, err
	}
	var disks []Disk
	for _, dev := range gjson.GetBytes(raw, "return").Array() {
		inserted := dev.Get("inserted")
		if !inserted.Exists() {
			// empty drive (ejected cdrom and the like)
			continue
		}
		disks = append(disks, Disk{
			Device: dev.Get("device").String(),
			Format: inserted.Get("image.format").String(),
			Path:   inserted.Get("image.filename").String(),
		})
	}
	return disks, nil
}

// StopBackup cancels any running backup block job. Best-effort cleanup-path
// semantics: failures are logged and reported through the return value, not
// raised.
func (c *Client) StopBackup() bool {
	raw, err := c.run(BuildQueryJobsJSON())
	if err != nil {
		c.log.Warn("failed to query jobs", "error", err)
		return false
	}
	ok := true
	for _, job := range gjson.GetBytes(raw, "return").Array() {
		if job.Get("type").String() != "backup" {
			continue
		}
		id := job.Get("id").String()
		c.log.Info("cancelling backup job", "id", id, "status", job.Get("status").String())
		if _, err := c.run(BuildJobCancelJSON(id)); err != nil {
			c.log.Warn("failed to cancel backup job", "id", id, "error", err)
			ok = false
		}
	}
	return ok
}
