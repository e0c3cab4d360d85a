// Package testing holds image-building helpers shared by the package tests.
package testing

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"

	"github.com/waxfs/waxfs/disk"
	"github.com/waxfs/waxfs/fsys"
	"github.com/waxfs/waxfs/inode"
	"github.com/waxfs/waxfs/layout"
	"github.com/waxfs/waxfs/mkfs"
)

// ScratchGeometry is small enough that allocator exhaustion tests finish
// quickly but big enough for everything else.
var ScratchGeometry = mkfs.Geometry{
	TotalBlocks: 1000,
	NInodes:     200,
	LogSlots:    layout.LogBlocks,
}

// FormattedImage returns an in-memory stream holding a freshly formatted
// image of the given geometry.
func FormattedImage(t *testing.T, geom mkfs.Geometry) io.ReadWriteSeeker {
	t.Helper()
	stream := bytesextra.NewReadWriteSeeker(make([]byte, int(geom.TotalBlocks)*layout.BlockSize))
	_, err := mkfs.Format(stream, geom)
	require.NoError(t, err, "formatting scratch image")
	return stream
}

// FormattedImageBytes formats an image in place and returns its backing
// bytes, for tests that need to snapshot or corrupt the raw volume.
func FormattedImageBytes(t *testing.T, geom mkfs.Geometry) []byte {
	t.Helper()
	img := make([]byte, int(geom.TotalBlocks)*layout.BlockSize)
	_, err := mkfs.Format(bytesextra.NewReadWriteSeeker(img), geom)
	require.NoError(t, err, "formatting scratch image")
	return img
}

// FormattedDevice wraps FormattedImage in a block device.
func FormattedDevice(t *testing.T, geom mkfs.Geometry) *disk.ImageDevice {
	t.Helper()
	return disk.NewImageDevice(FormattedImage(t, geom), geom.TotalBlocks)
}

// MountScratch formats and mounts a scratch volume with no device files.
func MountScratch(t *testing.T) *fsys.FileSystem {
	t.Helper()
	fs, err := fsys.Mount(FormattedDevice(t, ScratchGeometry), nil)
	require.NoError(t, err, "mounting scratch image")
	return fs
}

// MountScratchWithDevices is MountScratch with a device-handler table.
func MountScratchWithDevices(t *testing.T, devices map[inode.DeviceID]inode.DeviceHandler) *fsys.FileSystem {
	t.Helper()
	fs, err := fsys.Mount(FormattedDevice(t, ScratchGeometry), devices)
	require.NoError(t, err, "mounting scratch image")
	return fs
}
