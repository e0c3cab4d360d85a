// Package disk abstracts the synchronous block read/write primitive the file
// system is built on. The only implementation that ships is ImageDevice,
// which treats any io.ReadWriteSeeker (a file, or an in-memory byte slice in
// tests) as an array of fixed-size blocks.
package disk

import (
	"fmt"
	"io"

	"github.com/waxfs/waxfs"
	"github.com/waxfs/waxfs/layout"
)

// Device is a synchronous block device. Reads and writes transfer exactly one
// block and do not return until the transfer is complete.
type Device interface {
	// ReadBlock fills buf (exactly one block long) with the contents of the
	// given block.
	ReadBlock(blockno uint32, buf []byte) error
	// WriteBlock writes buf (exactly one block long) to the given block.
	WriteBlock(blockno uint32, buf []byte) error
	// Sync flushes any buffering the backing store may do. A no-op for
	// in-memory images.
	Sync() error
	// TotalBlocks reports the device capacity in blocks.
	TotalBlocks() uint32
}

// ImageDevice adapts a seekable stream to the Device interface with
// layout.BlockSize-sized blocks starting at offset zero.
type ImageDevice struct {
	stream      io.ReadWriteSeeker
	totalBlocks uint32
}

// NewImageDevice wraps stream as a block device of totalBlocks blocks. The
// stream must already be at least totalBlocks*layout.BlockSize bytes long.
func NewImageDevice(stream io.ReadWriteSeeker, totalBlocks uint32) *ImageDevice {
	return &ImageDevice{
		stream:      stream,
		totalBlocks: totalBlocks,
	}
}

func (dev *ImageDevice) seekTo(blockno uint32, n int) error {
	if blockno >= dev.totalBlocks {
		return waxfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("block %d not in range [0, %d)", blockno, dev.totalBlocks))
	}
	if n != layout.BlockSize {
		return waxfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("transfer must be exactly %d bytes, got %d", layout.BlockSize, n))
	}
	_, err := dev.stream.Seek(int64(blockno)*layout.BlockSize, io.SeekStart)
	if err != nil {
		return waxfs.ErrIOFailed.Wrap(err)
	}
	return nil
}

func (dev *ImageDevice) ReadBlock(blockno uint32, buf []byte) error {
	if err := dev.seekTo(blockno, len(buf)); err != nil {
		return err
	}
	if _, err := io.ReadFull(dev.stream, buf); err != nil {
		return waxfs.ErrIOFailed.WithMessage(
			fmt.Sprintf("short read of block %d", blockno)).Wrap(err)
	}
	return nil
}

func (dev *ImageDevice) WriteBlock(blockno uint32, buf []byte) error {
	if err := dev.seekTo(blockno, len(buf)); err != nil {
		return err
	}
	if _, err := dev.stream.Write(buf); err != nil {
		return waxfs.ErrIOFailed.WithMessage(
			fmt.Sprintf("short write of block %d", blockno)).Wrap(err)
	}
	return nil
}

// Sync flushes the stream if it supports it (e.g. *os.File).
func (dev *ImageDevice) Sync() error {
	type syncer interface{ Sync() error }
	if s, ok := dev.stream.(syncer); ok {
		if err := s.Sync(); err != nil {
			return waxfs.ErrIOFailed.Wrap(err)
		}
	}
	return nil
}

func (dev *ImageDevice) TotalBlocks() uint32 {
	return dev.totalBlocks
}
