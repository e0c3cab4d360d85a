package disk_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"

	"github.com/waxfs/waxfs"
	"github.com/waxfs/waxfs/disk"
	"github.com/waxfs/waxfs/layout"
)

func newDevice(totalBlocks uint32) (*disk.ImageDevice, []byte) {
	img := make([]byte, int(totalBlocks)*layout.BlockSize)
	return disk.NewImageDevice(bytesextra.NewReadWriteSeeker(img), totalBlocks), img
}

func TestImageDevice__ReadBlock__SeesRawImage(t *testing.T) {
	dev, img := newDevice(8)
	for i := range img {
		img[i] = byte(i % 251)
	}

	buf := make([]byte, layout.BlockSize)
	require.NoError(t, dev.ReadBlock(3, buf))
	assert.True(t, bytes.Equal(buf, img[3*layout.BlockSize:4*layout.BlockSize]))
}

func TestImageDevice__WriteBlock__PersistsToImage(t *testing.T) {
	dev, img := newDevice(8)

	buf := bytes.Repeat([]byte{0x5A}, layout.BlockSize)
	require.NoError(t, dev.WriteBlock(7, buf))
	assert.True(t, bytes.Equal(buf, img[7*layout.BlockSize:]))
}

func TestImageDevice__ReadBlock__RejectsOutOfRange(t *testing.T) {
	dev, _ := newDevice(8)
	buf := make([]byte, layout.BlockSize)
	assert.ErrorIs(t, dev.ReadBlock(8, buf), waxfs.ErrInvalidArgument)
}

func TestImageDevice__WriteBlock__RejectsPartialBlock(t *testing.T) {
	dev, _ := newDevice(8)
	assert.ErrorIs(t, dev.WriteBlock(0, make([]byte, 100)), waxfs.ErrInvalidArgument)
}

func TestImageDevice__TotalBlocks(t *testing.T) {
	dev, _ := newDevice(12)
	assert.EqualValues(t, 12, dev.TotalBlocks())
}
