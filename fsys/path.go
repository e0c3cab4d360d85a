package fsys

import (
	"strings"

	"github.com/waxfs/waxfs"
	"github.com/waxfs/waxfs/inode"
	"github.com/waxfs/waxfs/layout"
)

// skipElem splits the first path element off of path: "a//b/c" yields
// ("a", "b/c"). An empty element means the path is exhausted. Separators are
// collapsed, so "///" resolves like "/".
func skipElem(path string) (elem, rest string) {
	path = strings.TrimLeft(path, "/")
	if path == "" {
		return "", ""
	}
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i], strings.TrimLeft(path[i:], "/")
	}
	return path, ""
}

// resolve walks path to its final component and returns a referenced,
// unlocked handle. Absolute paths start at the root; relative paths start at
// start, which must be a referenced directory handle (nil falls back to the
// root). start's reference is the caller's and is left untouched.
func (fs *FileSystem) resolve(start *inode.Handle, path string) (*inode.Handle, error) {
	ip, _, err := fs.walk(start, path, false)
	return ip, err
}

// resolveParent walks path to the parent of its final component, returning
// the parent handle and the final name, still unresolved, for the caller to
// create or validate.
func (fs *FileSystem) resolveParent(start *inode.Handle, path string) (*inode.Handle, string, error) {
	return fs.walk(start, path, true)
}

// walk is the shared resolver. Locks are never held on two inodes at once:
// the reference to the next inode is taken while the current directory is
// locked (so the entry cannot vanish underneath us), the directory is then
// released, and the child is locked on the next iteration. "." and ".." are
// ordinary entries found by the same lookup; the root's ".." names the root
// itself.
func (fs *FileSystem) walk(start *inode.Handle, path string, toParent bool) (*inode.Handle, string, error) {
	if path == "" {
		return nil, "", waxfs.ErrInvalidArgument.WithMessage("empty path")
	}

	var ip *inode.Handle
	if start == nil || strings.HasPrefix(path, "/") {
		ip = fs.inodes.Get(layout.RootInum)
	} else {
		ip = fs.inodes.Dup(start)
	}
	elem, rest := skipElem(path)

	for elem != "" {
		if len(elem) > layout.DirNameLen {
			fs.inodes.Put(ip)
			return nil, "", waxfs.ErrNameTooLong.WithMessage(elem)
		}
		if err := ip.Lock(); err != nil {
			fs.inodes.Put(ip)
			return nil, "", err
		}
		if ip.Type != waxfs.TypeDirectory {
			ip.Unlock()
			fs.inodes.Put(ip)
			return nil, "", waxfs.ErrNotADirectory.WithMessage(path)
		}
		if toParent && rest == "" {
			// Stop one level early; elem is the caller's to deal with.
			ip.Unlock()
			return ip, elem, nil
		}

		next, _, err := fs.dirLookup(ip, elem)
		if err != nil {
			ip.Unlock()
			fs.inodes.Put(ip)
			return nil, "", err
		}
		ip.Unlock()
		fs.inodes.Put(ip)
		ip = next

		elem, rest = skipElem(rest)
	}

	if toParent {
		// Path named the root (or was all separators); it has no parent here.
		fs.inodes.Put(ip)
		return nil, "", waxfs.ErrInvalidArgument.WithMessage(path)
	}
	return ip, "", nil
}
