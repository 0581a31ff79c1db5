package virt

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type fakeMonitor struct {
	responses map[string][]byte
	cancelErr error
	commands  []string
}

func (f *fakeMonitor) Run(cmd []byte) ([]byte, error) {
	f.commands = append(f.commands, string(cmd))
	execute := gjson.GetBytes(cmd, "execute").String()
	if execute == "job-cancel" && f.cancelErr != nil {
		return nil, f.cancelErr
	}
	return f.responses[execute], nil
}

func (f *fakeMonitor) Disconnect() error { return nil }

func newTestClient(mon *fakeMonitor) *Client {
	return &Client{mon: mon, log: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestBuildQueryJobsJSON(t *testing.T) {
	json := BuildQueryJobsJSON()
	assert.Equal(t, "query-jobs", gjson.Get(json, "execute").String())
}

func TestBuildJobCancelJSON(t *testing.T) {
	json := BuildJobCancelJSON("backup-sda")
	assert.Equal(t, "job-cancel", gjson.Get(json, "execute").String())
	assert.Equal(t, "backup-sda", gjson.Get(json, "arguments.id").String())
}

func TestBuildQueryBlockJSON(t *testing.T) {
	assert.Equal(t, "query-block", gjson.Get(BuildQueryBlockJSON(), "execute").String())
}

func TestDisksSkipsEmptyDrives(t *testing.T) {
	mon := &fakeMonitor{responses: map[string][]byte{
		"query-block": []byte(`{"return":[
			{"device":"drive0","inserted":{"image":{"format":"qcow2","filename":"/images/vm1.qcow2"}}},
			{"device":"cdrom0"}
		]}`),
	}}
	c := newTestClient(mon)

	disks, err := c.Disks()
	require.NoError(t, err)
	require.Equal(t, []Disk{
		{Device: "drive0", Format: "qcow2", Path: "/images/vm1.qcow2"},
	}, disks)
}

func TestStopBackupCancelsOnlyBackupJobs(t *testing.T) {
	mon := &fakeMonitor{responses: map[string][]byte{
		"query-jobs": []byte(`{"return":[
			{"id":"backup-sda","type":"backup","status":"running"},
			{"id":"mirror-sdb","type":"mirror","status":"running"}
		]}`),
		"job-cancel": []byte(`{"return":{}}`),
	}}
	c := newTestClient(mon)

	require.True(t, c.StopBackup())

	var cancelled []string
	for _, cmd := range mon.commands {
		if gjson.Get(cmd, "execute").String() == "job-cancel" {
			cancelled = append(cancelled, gjson.Get(cmd, "arguments.id").String())
		}
	}
	assert.Equal(t, []string{"backup-sda"}, cancelled)
}

func TestStopBackupReportsCancelFailure(t *testing.T) {
	mon := &fakeMonitor{
		responses: map[string][]byte{
			"query-jobs": []byte(`{"return":[{"id":"backup-sda","type":"backup","status":"running"}]}`),
		},
		cancelErr: errors.New("job not found"),
	}
	c := newTestClient(mon)
	assert.False(t, c.StopBackup())
}
