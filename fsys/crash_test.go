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
	waxtest "github.com/waxfs/waxfs/testing"
)

// Crashing at any point during a directory creation must leave the volume,
// after recovery, in exactly one of two states: the operation never happened
// or it fully happened. Every prefix of the write stream is a possible crash
// point, so each one is remounted and inspected.
func TestFileSystem__Mkdir__AtomicAcrossCrashes(t *testing.T) {
	geom := waxtest.ScratchGeometry
	img := waxtest.FormattedImageBytes(t, geom)
	base := waxtest.SnapshotImage(img)

	rec := waxtest.NewRecordingDevice(
		disk.NewImageDevice(bytesextra.NewReadWriteSeeker(img), geom.TotalBlocks))
	fs, err := fsys.Mount(rec, nil)
	require.NoError(t, err)
	require.NoError(t, fs.Mkdir("/d"))
	require.NotEmpty(t, rec.Writes)

	var sawAbsent, sawPresent bool
	for n := 0; n <= len(rec.Writes); n++ {
		dev := disk.NewImageDevice(
			waxtest.ReplayImage(base, rec.Writes, n), geom.TotalBlocks)
		crashed, err := fsys.Mount(dev, nil)
		require.NoError(t, err, "recovery must succeed at write boundary %d", n)

		st, err := crashed.Stat("/d")
		switch {
		case err == nil:
			sawPresent = true
			assert.Equal(t, waxfs.TypeDirectory, st.Type, "boundary %d", n)
			assert.EqualValues(t, 1, st.Nlink, "boundary %d", n)

			entries, err := crashed.ReadDir("/d")
			require.NoError(t, err, "boundary %d", n)
			assert.Equal(t, []string{".", ".."}, entryNames(entries), "boundary %d", n)

			root, err := crashed.Stat("/")
			require.NoError(t, err, "boundary %d", n)
			assert.EqualValues(t, 2, root.Nlink,
				"boundary %d: partial directory visible", n)
		case errors.Is(err, waxfs.ErrNotFound):
			sawAbsent = true
			root, err := crashed.Stat("/")
			require.NoError(t, err, "boundary %d", n)
			assert.EqualValues(t, 1, root.Nlink,
				"boundary %d: operation leaked into the parent", n)
		default:
			t.Fatalf("boundary %d: unexpected state: %v", n, err)
		}
	}

	assert.True(t, sawAbsent, "some crash point must predate the commit")
	assert.True(t, sawPresent, "some crash point must follow the commit")
}

// The same exercise for a file write: after recovery the file holds either
// the old bytes or the new bytes, never a blend.
func TestFileSystem__Write__AtomicAcrossCrashes(t *testing.T) {
	geom := waxtest.ScratchGeometry
	img := waxtest.FormattedImageBytes(t, geom)

	// Set up a file with known contents before recording starts.
	setup, err := fsys.Mount(
		disk.NewImageDevice(bytesextra.NewReadWriteSeeker(img), geom.TotalBlocks), nil)
	require.NoError(t, err)
	f, err := setup.Open("/f", fsys.OpenCreate|fsys.OpenWrite)
	require.NoError(t, err)
	_, err = f.Write([]byte("old"))
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, setup.Unmount())

	base := waxtest.SnapshotImage(img)
	rec := waxtest.NewRecordingDevice(
		disk.NewImageDevice(bytesextra.NewReadWriteSeeker(img), geom.TotalBlocks))
	fs, err := fsys.Mount(rec, nil)
	require.NoError(t, err)

	f, err = fs.Open("/f", fsys.OpenWrite|fsys.OpenTrunc)
	require.NoError(t, err)
	_, err = f.Write([]byte("newer"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	for n := 0; n <= len(rec.Writes); n++ {
		dev := disk.NewImageDevice(
			waxtest.ReplayImage(base, rec.Writes, n), geom.TotalBlocks)
		crashed, err := fsys.Mount(dev, nil)
		require.NoError(t, err, "recovery must succeed at write boundary %d", n)

		g, err := crashed.Open("/f", fsys.OpenRead)
		require.NoError(t, err, "boundary %d", n)
		buf := make([]byte, 16)
		read, err := g.Read(buf)
		require.NoError(t, err, "boundary %d", n)
		got := string(buf[:read])
		require.NoError(t, g.Close())

		// Truncate and write are separate transactions, so the empty state is
		// also a legal crash point.
		switch got {
		case "old", "", "newer":
		default:
			t.Fatalf("boundary %d: torn contents %q", n, got)
		}
	}
}
