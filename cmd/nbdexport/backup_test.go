package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valvemist/nbdexport/virt"
)

type fakeDiskLister struct {
	disks []virt.Disk
	err   error
}

func (f *fakeDiskLister) Disks() ([]virt.Disk, error) {
	return f.disks, f.err
}

func TestResolveDiskPicksFirstByDefault(t *testing.T) {
	lister := &fakeDiskLister{disks: []virt.Disk{
		{Device: "drive0", Format: "qcow2", Path: "/images/vm1.qcow2"},
		{Device: "drive1", Format: "raw", Path: "/images/vm1-data.raw"},
	}}

	disk, err := resolveDisk(lister, "")
	require.NoError(t, err)
	assert.Equal(t, lister.disks[0], disk)
}

func TestResolveDiskMatchesDevice(t *testing.T) {
	lister := &fakeDiskLister{disks: []virt.Disk{
		{Device: "drive0", Format: "qcow2", Path: "/images/vm1.qcow2"},
		{Device: "drive1", Format: "raw", Path: "/images/vm1-data.raw"},
	}}

	disk, err := resolveDisk(lister, "drive1")
	require.NoError(t, err)
	assert.Equal(t, lister.disks[1], disk)

	_, err = resolveDisk(lister, "drive9")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "drive9")
}

func TestResolveDiskErrors(t *testing.T) {
	_, err := resolveDisk(&fakeDiskLister{}, "")
	require.Error(t, err)

	lister := &fakeDiskLister{err: errors.New("monitor gone")}
	_, err = resolveDisk(lister, "")
	require.ErrorIs(t, err, lister.err)
}
