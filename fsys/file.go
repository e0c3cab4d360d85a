package fsys

import (
	"sync"

	"github.com/waxfs/waxfs"
	"github.com/waxfs/waxfs/inode"
	"github.com/waxfs/waxfs/layout"
)

// maxWriteChunk is the most file data one transaction is allowed to carry.
// A chunk of n blocks can dirty n data blocks plus, for each, a bitmap
// block; on top of that come the inode block and the indirect block, and two
// blocks of slop for an unaligned start and end. Dividing the per-operation
// reservation accordingly keeps every transaction within MaxOpBlocks.
const maxWriteChunk = ((layout.MaxOpBlocks - 1 - 1 - 2) / 2) * layout.BlockSize

// File is one open file: an inode reference plus a private byte offset and
// access mode. It corresponds to the object a file descriptor table slot
// points at; descriptor numbers themselves live with the caller.
type File struct {
	fs *FileSystem
	ip *inode.Handle

	readable bool
	writable bool

	mu   sync.Mutex // guards off and refs
	off  uint32
	refs int
}

// Dup adds a reference sharing this File's offset, the dup(2) relationship.
func (f *File) Dup() *File {
	f.mu.Lock()
	if f.refs < 1 {
		panic("fsys: Dup of closed file")
	}
	f.refs++
	f.mu.Unlock()
	return f
}

// Close drops one reference; the last close releases the inode, which frees
// its storage if it has also been unlinked.
func (f *File) Close() error {
	f.mu.Lock()
	if f.refs < 1 {
		panic("fsys: Close of closed file")
	}
	f.refs--
	done := f.refs == 0
	f.mu.Unlock()
	if !done {
		return nil
	}

	f.fs.begin()
	return f.fs.end(f.fs.inodes.Put(f.ip))
}

// Read reads from the file's current offset, advancing it by the number of
// bytes read. A return of 0, nil means end of file.
func (f *File) Read(p []byte) (int, error) {
	if !f.readable {
		return 0, waxfs.ErrNotPermitted.WithMessage("file is not open for reading")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.ip.Lock(); err != nil {
		return 0, err
	}
	n, err := f.ip.Read(f.off, p)
	f.ip.Unlock()
	f.off += uint32(n)
	return n, err
}

// Write appends p at the file's current offset, advancing it. Writes larger
// than one transaction's budget are split across several transactions; each
// chunk is atomic on its own, the whole write is not.
func (f *File) Write(p []byte) (int, error) {
	if !f.writable {
		return 0, waxfs.ErrNotPermitted.WithMessage("file is not open for writing")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var done int
	for done < len(p) {
		chunk := p[done:]
		if len(chunk) > maxWriteChunk {
			chunk = chunk[:maxWriteChunk]
		}

		f.fs.begin()
		var n int
		err := f.ip.Lock()
		if err == nil {
			n, err = f.ip.Write(f.off, chunk)
			f.ip.Unlock()
			f.off += uint32(n)
			done += n
		}
		if err = f.fs.end(err); err != nil {
			return done, err
		}
	}
	return done, nil
}

// Stat reports the metadata of the underlying inode.
func (f *File) Stat() (waxfs.FileStat, error) {
	if err := f.ip.Lock(); err != nil {
		return waxfs.FileStat{}, err
	}
	st := f.ip.Stat()
	f.ip.Unlock()
	return st, nil
}

// Size reports the file's current length in bytes.
func (f *File) Size() (uint32, error) {
	st, err := f.Stat()
	return st.Size, err
}
