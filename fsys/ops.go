package fsys

import (
	"errors"

	"github.com/waxfs/waxfs"
	"github.com/waxfs/waxfs/inode"
)

// OpenFlags select the access mode for Open.
type OpenFlags uint32

const (
	OpenRead OpenFlags = 1 << iota
	OpenWrite
	OpenCreate
	OpenTrunc
)

// create resolves path's parent (starting from dir for relative paths) and
// binds a fresh inode of the given type under the final name, returning the
// new handle locked. Opening an existing regular file with OpenCreate is not
// an error; any other collision is. Runs inside the caller's transaction.
func (fs *FileSystem) create(dir *inode.Handle, path string, typ waxfs.InodeType, major, minor uint16) (*inode.Handle, error) {
	dp, name, err := fs.resolveParent(dir, path)
	if err != nil {
		return nil, err
	}
	if err := dp.Lock(); err != nil {
		fs.inodes.Put(dp)
		return nil, err
	}

	if existing, _, err := fs.dirLookup(dp, name); err == nil {
		dp.Unlock()
		fs.inodes.Put(dp)
		if lockErr := existing.Lock(); lockErr != nil {
			fs.inodes.Put(existing)
			return nil, lockErr
		}
		if typ == waxfs.TypeFile && existing.Type == waxfs.TypeFile {
			return existing, nil
		}
		existing.UnlockPut()
		return nil, waxfs.ErrExists.WithMessage(path)
	} else if !errors.Is(err, waxfs.ErrNotFound) {
		dp.Unlock()
		fs.inodes.Put(dp)
		return nil, err
	}

	ip, err := fs.inodes.Alloc(typ, major, minor)
	if err != nil {
		dp.Unlock()
		fs.inodes.Put(dp)
		return nil, err
	}
	ip.Nlink = 1
	if err := ip.Update(); err != nil {
		return nil, fs.abandonCreate(dp, ip, err)
	}

	if typ == waxfs.TypeDirectory {
		// The child's ".." counts as a link to dp. The child's own "." is
		// deliberately not counted, to keep link counts acyclic.
		dp.Nlink++
		if err := dp.Update(); err != nil {
			return nil, fs.abandonCreate(dp, ip, err)
		}
		if err := fs.dirLink(ip, ".", ip.Inum); err != nil {
			return nil, fs.abandonCreate(dp, ip, err)
		}
		if err := fs.dirLink(ip, "..", dp.Inum); err != nil {
			return nil, fs.abandonCreate(dp, ip, err)
		}
	}

	if err := fs.dirLink(dp, name, ip.Inum); err != nil {
		return nil, fs.abandonCreate(dp, ip, err)
	}

	dp.Unlock()
	fs.inodes.Put(dp)
	return ip, nil
}

// abandonCreate unwinds a half-made inode when create fails partway. The
// surrounding transaction still commits; the inode is simply left unlinked
// and reclaimed by Put.
func (fs *FileSystem) abandonCreate(dp, ip *inode.Handle, err error) error {
	ip.Nlink = 0
	ip.Update()
	ip.UnlockPut()
	dp.Unlock()
	fs.inodes.Put(dp)
	return err
}

// Open opens the file at path and returns a File carrying its own offset.
// OpenCreate creates a regular file if the name is absent; OpenTrunc discards
// existing contents. Directories may only be opened read-only.
func (fs *FileSystem) Open(path string, flags OpenFlags) (*File, error) {
	return fs.OpenAt(nil, path, flags)
}

// OpenAt is Open with relative paths resolved from dir, a handle obtained
// from Chdir (nil means the root).
func (fs *FileSystem) OpenAt(dir *inode.Handle, path string, flags OpenFlags) (*File, error) {
	readable := flags&OpenRead != 0
	writable := flags&OpenWrite != 0
	if !readable && !writable {
		return nil, waxfs.ErrInvalidArgument.WithMessage("open with neither read nor write access")
	}

	fs.begin()
	var ip *inode.Handle
	var err error
	if flags&OpenCreate != 0 {
		ip, err = fs.create(dir, path, waxfs.TypeFile, 0, 0)
	} else {
		if ip, err = fs.resolve(dir, path); err == nil {
			if err = ip.Lock(); err != nil {
				fs.inodes.Put(ip)
			}
		}
	}
	if err != nil {
		return nil, fs.end(err)
	}

	if ip.Type == waxfs.TypeDirectory && writable {
		err = waxfs.ErrIsADirectory.WithMessage(path)
		ip.UnlockPut()
		return nil, fs.end(err)
	}
	if flags&OpenTrunc != 0 && ip.Type == waxfs.TypeFile {
		if err = ip.Truncate(); err != nil {
			ip.UnlockPut()
			return nil, fs.end(err)
		}
	}
	ip.Unlock()

	if err := fs.end(nil); err != nil {
		fs.begin()
		fs.end(fs.inodes.Put(ip))
		return nil, err
	}
	return &File{fs: fs, ip: ip, readable: readable, writable: writable, refs: 1}, nil
}

// Mkdir creates an empty directory (holding "." and "..") at path.
func (fs *FileSystem) Mkdir(path string) error {
	return fs.MkdirAt(nil, path)
}

// MkdirAt is Mkdir with relative paths resolved from dir.
func (fs *FileSystem) MkdirAt(dir *inode.Handle, path string) error {
	fs.begin()
	ip, err := fs.create(dir, path, waxfs.TypeDirectory, 0, 0)
	if err == nil {
		err = ip.UnlockPut()
	}
	return fs.end(err)
}

// Mknod creates a device file at path dispatching to the handler registered
// for (major, minor).
func (fs *FileSystem) Mknod(path string, major, minor uint16) error {
	return fs.MknodAt(nil, path, major, minor)
}

// MknodAt is Mknod with relative paths resolved from dir.
func (fs *FileSystem) MknodAt(dir *inode.Handle, path string, major, minor uint16) error {
	fs.begin()
	ip, err := fs.create(dir, path, waxfs.TypeDevice, major, minor)
	if err == nil {
		err = ip.UnlockPut()
	}
	return fs.end(err)
}

// Link gives the file at oldpath a second name at newpath. Directories
// cannot be linked.
func (fs *FileSystem) Link(oldpath, newpath string) error {
	return fs.LinkAt(nil, oldpath, nil, newpath)
}

// LinkAt is Link with oldpath resolved from olddir and newpath from newdir.
func (fs *FileSystem) LinkAt(olddir *inode.Handle, oldpath string, newdir *inode.Handle, newpath string) error {
	fs.begin()

	ip, err := fs.resolve(olddir, oldpath)
	if err != nil {
		return fs.end(err)
	}
	if err := ip.Lock(); err != nil {
		fs.inodes.Put(ip)
		return fs.end(err)
	}
	if ip.Type == waxfs.TypeDirectory {
		ip.UnlockPut()
		return fs.end(waxfs.ErrIsADirectory.WithMessage(oldpath))
	}
	ip.Nlink++
	if err := ip.Update(); err != nil {
		ip.UnlockPut()
		return fs.end(err)
	}
	ip.Unlock()

	err = fs.linkInto(newdir, newpath, ip)
	if err != nil {
		// Undo the speculative bump; the transaction commits the no-op pair.
		ip.Lock()
		ip.Nlink--
		ip.Update()
		ip.Unlock()
	}
	fs.inodes.Put(ip)
	return fs.end(err)
}

func (fs *FileSystem) linkInto(newdir *inode.Handle, newpath string, ip *inode.Handle) error {
	dp, name, err := fs.resolveParent(newdir, newpath)
	if err != nil {
		return err
	}
	if err := dp.Lock(); err != nil {
		fs.inodes.Put(dp)
		return err
	}
	err = fs.dirLink(dp, name, ip.Inum)
	dp.Unlock()
	fs.inodes.Put(dp)
	return err
}

// Unlink removes path's directory entry and drops the target's link count,
// freeing the inode once the last open handle lets go. Non-empty directories
// cannot be unlinked, and "." and ".." never can.
func (fs *FileSystem) Unlink(path string) error {
	return fs.UnlinkAt(nil, path)
}

// UnlinkAt is Unlink with relative paths resolved from dir.
func (fs *FileSystem) UnlinkAt(dir *inode.Handle, path string) error {
	fs.begin()

	dp, name, err := fs.resolveParent(dir, path)
	if err != nil {
		return fs.end(err)
	}
	if name == "." || name == ".." {
		fs.inodes.Put(dp)
		return fs.end(waxfs.ErrInvalidArgument.WithMessage("cannot unlink " + name))
	}
	if err := dp.Lock(); err != nil {
		fs.inodes.Put(dp)
		return fs.end(err)
	}

	ip, off, err := fs.dirLookup(dp, name)
	if err != nil {
		dp.Unlock()
		fs.inodes.Put(dp)
		return fs.end(err)
	}
	if err := ip.Lock(); err != nil {
		fs.inodes.Put(ip)
		dp.Unlock()
		fs.inodes.Put(dp)
		return fs.end(err)
	}
	if ip.Nlink < 1 {
		panic("fsys: unlink of inode with no links")
	}

	if ip.Type == waxfs.TypeDirectory {
		empty, err := fs.isDirEmpty(ip)
		if err == nil && !empty {
			err = waxfs.ErrDirectoryNotEmpty.WithMessage(path)
		}
		if err != nil {
			ip.UnlockPut()
			dp.Unlock()
			fs.inodes.Put(dp)
			return fs.end(err)
		}
	}

	if err := fs.dirUnset(dp, off); err != nil {
		ip.UnlockPut()
		dp.Unlock()
		fs.inodes.Put(dp)
		return fs.end(err)
	}
	if ip.Type == waxfs.TypeDirectory {
		dp.Nlink-- // the victim's ".." no longer names dp
		if err := dp.Update(); err != nil {
			ip.UnlockPut()
			dp.Unlock()
			fs.inodes.Put(dp)
			return fs.end(err)
		}
	}
	dp.Unlock()
	fs.inodes.Put(dp)

	ip.Nlink--
	err = ip.Update()
	if putErr := ip.UnlockPut(); err == nil {
		err = putErr
	}
	return fs.end(err)
}

// Stat reports metadata for the object at path.
func (fs *FileSystem) Stat(path string) (waxfs.FileStat, error) {
	return fs.StatAt(nil, path)
}

// StatAt is Stat with relative paths resolved from dir. The whole lookup runs
// inside a transaction: dropping the last reference to a concurrently
// unlinked inode reclaims its blocks, and that must be logged.
func (fs *FileSystem) StatAt(dir *inode.Handle, path string) (waxfs.FileStat, error) {
	fs.begin()
	ip, err := fs.resolve(dir, path)
	if err != nil {
		return waxfs.FileStat{}, fs.end(err)
	}
	if err := ip.Lock(); err != nil {
		fs.inodes.Put(ip)
		return waxfs.FileStat{}, fs.end(err)
	}
	st := ip.Stat()
	if err := fs.end(ip.UnlockPut()); err != nil {
		return waxfs.FileStat{}, err
	}
	return st, nil
}

// Chdir resolves path to a directory and returns a referenced handle usable
// as the dir argument of the ...At operations. Relative paths start from cwd
// (nil means the root); cwd's own reference is untouched, so the caller may
// release it afterwards. The returned handle is released with ReleaseDir.
func (fs *FileSystem) Chdir(cwd *inode.Handle, path string) (*inode.Handle, error) {
	fs.begin()
	ip, err := fs.resolve(cwd, path)
	if err != nil {
		return nil, fs.end(err)
	}
	if err := ip.Lock(); err != nil {
		fs.inodes.Put(ip)
		return nil, fs.end(err)
	}
	if ip.Type != waxfs.TypeDirectory {
		ip.UnlockPut()
		return nil, fs.end(waxfs.ErrNotADirectory.WithMessage(path))
	}
	ip.Unlock()

	if err := fs.end(nil); err != nil {
		fs.begin()
		fs.end(fs.inodes.Put(ip))
		return nil, err
	}
	return ip, nil
}

// ReleaseDir drops a working-directory handle obtained from Chdir.
func (fs *FileSystem) ReleaseDir(dir *inode.Handle) error {
	fs.begin()
	return fs.end(fs.inodes.Put(dir))
}
