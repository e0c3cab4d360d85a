// Package fsys ties the storage layers together into a mountable file
// system: directory management, path resolution, and the open/read/write
// operation surface a syscall layer would call into.
//
// Every mutating operation runs inside a single log transaction, so it either
// fully survives a crash or leaves no trace. Long writes are split across
// transactions so no single transaction can outgrow the log reservation.
package fsys

import (
	"log/slog"

	"github.com/hashicorp/go-multierror"

	"github.com/waxfs/waxfs"
	"github.com/waxfs/waxfs/balloc"
	"github.com/waxfs/waxfs/bcache"
	"github.com/waxfs/waxfs/disk"
	"github.com/waxfs/waxfs/inode"
	"github.com/waxfs/waxfs/layout"
	"github.com/waxfs/waxfs/wal"
)

// FileSystem is one mounted volume. All exported methods are safe for
// concurrent use.
type FileSystem struct {
	dev    disk.Device
	cache  *bcache.Cache
	log    *wal.Log
	alloc  *balloc.Allocator
	inodes *inode.Cache
	sb     layout.Superblock
}

// Mount reads and validates the superblock, replays any committed transaction
// left in the log, and returns a ready file system. devices is the fixed
// table of device-inode handlers; nil is fine for volumes without device
// files.
func Mount(dev disk.Device, devices map[inode.DeviceID]inode.DeviceHandler) (*FileSystem, error) {
	cache := bcache.New(dev)

	bp, err := cache.Get(layout.SuperblockNo)
	if err != nil {
		return nil, err
	}
	sb := layout.DecodeSuperblock(bp.Data)
	cache.Release(bp)

	if err := sb.Validate(); err != nil {
		return nil, err
	}
	if sb.Size > dev.TotalBlocks() {
		return nil, waxfs.ErrInvalidFileSystem.WithMessage(
			"superblock describes a larger volume than the device holds")
	}

	log, err := wal.Open(cache, &sb)
	if err != nil {
		return nil, err
	}

	fs := &FileSystem{
		dev:   dev,
		cache: cache,
		log:   log,
		sb:    sb,
	}
	fs.alloc = balloc.New(cache, log, &fs.sb)
	fs.inodes = inode.NewCache(cache, log, fs.alloc, &fs.sb, 0, devices)

	slog.Debug("fsys: mounted volume",
		"blocks", sb.Size, "data", sb.NBlocks, "inodes", sb.NInodes, "log", sb.NLog)
	return fs, nil
}

// Superblock returns a copy of the volume's superblock.
func (fs *FileSystem) Superblock() layout.Superblock {
	return fs.sb
}

// Unmount flushes the backing device. The caller is responsible for having
// closed every file first; open handles are invalid afterwards.
func (fs *FileSystem) Unmount() error {
	var errs *multierror.Error
	if fs.log.Outstanding() != 0 {
		errs = multierror.Append(errs, waxfs.ErrInvalidArgument.WithMessage(
			"unmount with operations still in flight"))
	}
	if err := fs.dev.Sync(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}

// begin/end bracket one mutating operation in the write-ahead log.
func (fs *FileSystem) begin() {
	fs.log.Begin()
}

func (fs *FileSystem) end(opErr error) error {
	if err := fs.log.End(); err != nil {
		if opErr != nil {
			return multierror.Append(opErr, err)
		}
		return err
	}
	return opErr
}
