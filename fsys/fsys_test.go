package fsys_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"

	"github.com/waxfs/waxfs"
	"github.com/waxfs/waxfs/disk"
	"github.com/waxfs/waxfs/fsys"
	"github.com/waxfs/waxfs/layout"
	waxtest "github.com/waxfs/waxfs/testing"
)

func TestFileSystem__Mount__FreshImage(t *testing.T) {
	fs := waxtest.MountScratch(t)

	sb := fs.Superblock()
	assert.Equal(t, waxtest.ScratchGeometry.TotalBlocks, sb.Size)
	assert.Equal(t, waxtest.ScratchGeometry.NInodes, sb.NInodes)

	st, err := fs.Stat("/")
	require.NoError(t, err)
	assert.EqualValues(t, layout.RootInum, st.Inum)
	assert.Equal(t, waxfs.TypeDirectory, st.Type)
	assert.True(t, st.IsDir())
	assert.EqualValues(t, 1, st.Nlink)

	require.NoError(t, fs.Unmount())
}

func TestFileSystem__Mount__RejectsUnformattedDevice(t *testing.T) {
	img := make([]byte, 64*layout.BlockSize)
	dev := disk.NewImageDevice(bytesextra.NewReadWriteSeeker(img), 64)

	_, err := fsys.Mount(dev, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, waxfs.ErrInvalidFileSystem))
}

// A superblock describing more blocks than the device holds means the image
// was truncated; mounting it read-write would corrupt whatever is left.
func TestFileSystem__Mount__RejectsTruncatedImage(t *testing.T) {
	geom := waxtest.ScratchGeometry
	img := waxtest.FormattedImageBytes(t, geom)

	short := geom.TotalBlocks / 2
	dev := disk.NewImageDevice(bytesextra.NewReadWriteSeeker(img), short)
	_, err := fsys.Mount(dev, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, waxfs.ErrInvalidFileSystem))
}
