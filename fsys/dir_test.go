package fsys_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waxfs/waxfs"
	"github.com/waxfs/waxfs/fsys"
	"github.com/waxfs/waxfs/layout"
	waxtest "github.com/waxfs/waxfs/testing"
)

func entryNames(entries []fsys.DirEntry) []string {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names
}

func TestFileSystem__ReadDir__FreshRoot(t *testing.T) {
	fs := waxtest.MountScratch(t)

	entries, err := fs.ReadDir("/")
	require.NoError(t, err)
	assert.Equal(t, []string{".", ".."}, entryNames(entries))
	for _, e := range entries {
		assert.EqualValues(t, layout.RootInum, e.Inum)
	}
}

func TestFileSystem__ReadDir__ListsChildrenWithMetadata(t *testing.T) {
	fs := waxtest.MountScratch(t)
	require.NoError(t, fs.Mkdir("/d"))
	f, err := fs.Open("/f", fsys.OpenCreate|fsys.OpenWrite)
	require.NoError(t, err)
	_, err = f.Write([]byte("12345"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entries, err := fs.ReadDir("/")
	require.NoError(t, err)
	assert.Equal(t, []string{".", "..", "d", "f"}, entryNames(entries))

	byName := map[string]fsys.DirEntry{}
	for _, e := range entries {
		byName[e.Name] = e
	}
	assert.Equal(t, waxfs.TypeDirectory, byName["d"].Type)
	assert.Equal(t, waxfs.TypeFile, byName["f"].Type)
	assert.EqualValues(t, 5, byName["f"].Size)
}

func TestFileSystem__ReadDir__NotADirectory(t *testing.T) {
	fs := waxtest.MountScratch(t)
	touch(t, fs, "/f")

	_, err := fs.ReadDir("/f")
	assert.True(t, errors.Is(err, waxfs.ErrNotADirectory))
}

// Directories grow by exactly one entry per new name and never shrink; an
// unlinked name leaves a slot the next create reuses.
func TestFileSystem__ReadDir__SlotReuse(t *testing.T) {
	fs := waxtest.MountScratch(t)

	base, err := fs.Stat("/")
	require.NoError(t, err)

	touch(t, fs, "/a")
	st, err := fs.Stat("/")
	require.NoError(t, err)
	assert.Equal(t, base.Size+layout.DirentSize, st.Size)

	touch(t, fs, "/b")
	st, err = fs.Stat("/")
	require.NoError(t, err)
	assert.Equal(t, base.Size+2*layout.DirentSize, st.Size)

	require.NoError(t, fs.Unlink("/a"))
	st, err = fs.Stat("/")
	require.NoError(t, err)
	assert.Equal(t, base.Size+2*layout.DirentSize, st.Size, "directories never shrink")

	touch(t, fs, "/c")
	st, err = fs.Stat("/")
	require.NoError(t, err)
	assert.Equal(t, base.Size+2*layout.DirentSize, st.Size, "freed slot is reused")

	entries, err := fs.ReadDir("/")
	require.NoError(t, err)
	assert.Equal(t, []string{".", "..", "c", "b"}, entryNames(entries))
}

func TestFileSystem__Mkdir__ConcurrentCreates(t *testing.T) {
	fs := waxtest.MountScratch(t)

	const workers = 8
	errc := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errc <- fs.Mkdir(fmt.Sprintf("/dir%d", i))
		}(i)
	}
	wg.Wait()
	close(errc)
	for err := range errc {
		require.NoError(t, err)
	}

	entries, err := fs.ReadDir("/")
	require.NoError(t, err)
	assert.Len(t, entries, workers+2)

	root, err := fs.Stat("/")
	require.NoError(t, err)
	assert.EqualValues(t, 1+workers, root.Nlink)
}
