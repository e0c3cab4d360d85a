package fsys

import (
	"errors"
	"fmt"

	"github.com/waxfs/waxfs"
	"github.com/waxfs/waxfs/inode"
	"github.com/waxfs/waxfs/layout"
)

// DirEntry is one name in a directory listing.
type DirEntry struct {
	Name string
	Inum uint32
	Type waxfs.InodeType
	Size uint32
}

// dirLookup scans the locked directory dp for name. On a hit it returns a
// referenced (unlocked) handle for the child and the byte offset of the
// matching entry; on a miss it returns ErrNotFound.
func (fs *FileSystem) dirLookup(dp *inode.Handle, name string) (*inode.Handle, uint32, error) {
	if dp.Type != waxfs.TypeDirectory {
		panic("fsys: dirLookup on a non-directory")
	}

	var ent [layout.DirentSize]byte
	for off := uint32(0); off < dp.Size; off += layout.DirentSize {
		if n, err := dp.Read(off, ent[:]); err != nil {
			return nil, 0, err
		} else if n != layout.DirentSize {
			return nil, 0, waxfs.ErrInvalidFileSystem.WithMessage(
				fmt.Sprintf("directory %d has a truncated entry at offset %d", dp.Inum, off))
		}
		de := layout.DecodeDirent(ent[:])
		if de.Inum == 0 {
			continue // empty slot
		}
		if de.NameString() == name {
			return fs.inodes.Get(uint32(de.Inum)), off, nil
		}
	}
	return nil, 0, waxfs.ErrNotFound.WithMessage(name)
}

// dirLink adds an entry mapping name to inum in the locked directory dp,
// reusing an empty slot if there is one and appending one entry's worth of
// bytes otherwise. Must run inside a transaction.
func (fs *FileSystem) dirLink(dp *inode.Handle, name string, inum uint32) error {
	if len(name) > layout.DirNameLen {
		return waxfs.ErrNameTooLong.WithMessage(name)
	}
	if ip, _, err := fs.dirLookup(dp, name); err == nil {
		fs.inodes.Put(ip)
		return waxfs.ErrExists.WithMessage(name)
	} else if !errors.Is(err, waxfs.ErrNotFound) {
		return err
	}

	// Find a free slot; fall off the end to append.
	var ent [layout.DirentSize]byte
	off := uint32(0)
	for ; off < dp.Size; off += layout.DirentSize {
		if _, err := dp.Read(off, ent[:]); err != nil {
			return err
		}
		if layout.DecodeDirent(ent[:]).Inum == 0 {
			break
		}
	}

	de := layout.Dirent{Inum: uint16(inum)}
	de.SetName(name)
	layout.EncodeDirent(&de, ent[:])
	n, err := dp.Write(off, ent[:])
	if err != nil {
		return err
	}
	if n != layout.DirentSize {
		panic("fsys: short directory write")
	}
	return nil
}

// dirUnset clears the entry at off in the locked directory dp, leaving an
// empty slot behind; the directory never shrinks. Must run inside a
// transaction.
func (fs *FileSystem) dirUnset(dp *inode.Handle, off uint32) error {
	var zero [layout.DirentSize]byte
	n, err := dp.Write(off, zero[:])
	if err != nil {
		return err
	}
	if n != layout.DirentSize {
		panic("fsys: short directory write")
	}
	return nil
}

// isDirEmpty reports whether the locked directory dp holds nothing beyond
// "." and "..".
func (fs *FileSystem) isDirEmpty(dp *inode.Handle) (bool, error) {
	var ent [layout.DirentSize]byte
	for off := uint32(2 * layout.DirentSize); off < dp.Size; off += layout.DirentSize {
		if _, err := dp.Read(off, ent[:]); err != nil {
			return false, err
		}
		if layout.DecodeDirent(ent[:]).Inum != 0 {
			return false, nil
		}
	}
	return true, nil
}

// ReadDir lists the directory at path, skipping empty slots.
func (fs *FileSystem) ReadDir(path string) ([]DirEntry, error) {
	return fs.ReadDirAt(nil, path)
}

// ReadDirAt is ReadDir with relative paths resolved from dir. The listing
// runs inside a transaction: putting a handle can reclaim a concurrently
// unlinked inode, and that reclaim must be logged.
func (fs *FileSystem) ReadDirAt(dir *inode.Handle, path string) ([]DirEntry, error) {
	fs.begin()
	dp, err := fs.resolve(dir, path)
	if err != nil {
		return nil, fs.end(err)
	}
	if err := dp.Lock(); err != nil {
		fs.inodes.Put(dp)
		return nil, fs.end(err)
	}
	if dp.Type != waxfs.TypeDirectory {
		dp.Unlock()
		fs.inodes.Put(dp)
		return nil, fs.end(waxfs.ErrNotADirectory.WithMessage(path))
	}

	// Collect the raw entries first, then stat each child with the directory
	// unlocked; stat'ing ".." while holding dp would lock child-then-parent,
	// the reverse of every other caller's order.
	var names []layout.Dirent
	var ent [layout.DirentSize]byte
	for off := uint32(0); off < dp.Size; off += layout.DirentSize {
		if _, err := dp.Read(off, ent[:]); err != nil {
			dp.Unlock()
			fs.inodes.Put(dp)
			return nil, fs.end(err)
		}
		de := layout.DecodeDirent(ent[:])
		if de.Inum != 0 {
			names = append(names, de)
		}
	}
	dp.Unlock()

	entries := make([]DirEntry, 0, len(names))
	for i := range names {
		de := &names[i]
		child := fs.inodes.Get(uint32(de.Inum))
		if err := child.Lock(); err != nil {
			fs.inodes.Put(child)
			fs.inodes.Put(dp)
			return nil, fs.end(err)
		}
		entries = append(entries, DirEntry{
			Name: de.NameString(),
			Inum: child.Inum,
			Type: child.Type,
			Size: child.Size,
		})
		child.Unlock()
		fs.inodes.Put(child)
	}

	if err := fs.end(fs.inodes.Put(dp)); err != nil {
		return nil, err
	}
	return entries, nil
}
