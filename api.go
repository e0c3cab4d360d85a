// Package waxfs implements a small crash-consistent file system in the style
// of the classic Unix teaching kernels: a write-ahead log makes every
// multi-block update atomic across power loss, a fixed buffer cache mediates
// all disk access, and directories are ordinary files full of fixed-width
// entries.
//
// The packages compose bottom-up: disk (raw block device) -> bcache (locked,
// reference-counted buffers) -> wal (atomic transactions) -> balloc/inode
// (free-space bitmap and the inode table) -> fsys (directories, path
// resolution and the open/read/write surface). The offline formatter lives in
// mkfs and produces images the runtime can mount and extend.
package waxfs

// InodeType discriminates the on-disk inode records. The zero value marks a
// free inode slot.
type InodeType uint16

const (
	TypeFree InodeType = iota
	TypeDirectory
	TypeFile
	TypeDevice
)

func (t InodeType) String() string {
	switch t {
	case TypeFree:
		return "free"
	case TypeDirectory:
		return "directory"
	case TypeFile:
		return "file"
	case TypeDevice:
		return "device"
	}
	return "invalid"
}

// FileStat is the metadata returned for an inode, the moral equivalent of
// fstat(2). Dev identifies the mounted volume the inode lives on.
type FileStat struct {
	Type  InodeType
	Dev   uint32
	Inum  uint32
	Nlink uint16
	Size  uint32
}

// IsDir returns true for directory inodes.
func (s FileStat) IsDir() bool {
	return s.Type == TypeDirectory
}
