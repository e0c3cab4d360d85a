// Package mkfs builds empty waxfs images: superblock, a clean log, the inode
// table with the root directory in slot 1, and a free bitmap with every
// metadata block pre-claimed. The runtime mounts and extends anything this
// package produces.
package mkfs

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	bitmap "github.com/boljen/go-bitmap"
	"github.com/noxer/bytewriter"

	"github.com/waxfs/waxfs"
	"github.com/waxfs/waxfs/layout"
)

// Geometry selects the dimensions of a new image. LogSlots is the number of
// data slots in the log region (the header block is added on top); zero
// means the layout default.
type Geometry struct {
	TotalBlocks uint32
	NInodes     uint32
	LogSlots    uint32
}

// DefaultGeometry matches the classic teaching configuration: a half-MiB
// volume with room for 200 inodes.
var DefaultGeometry = Geometry{
	TotalBlocks: 1000,
	NInodes:     200,
	LogSlots:    layout.LogBlocks,
}

// Plan computes the region map for geom without writing anything.
func Plan(geom Geometry) (layout.Superblock, error) {
	if geom.LogSlots == 0 {
		geom.LogSlots = layout.LogBlocks
	}
	if geom.LogSlots < layout.LogBlocks {
		return layout.Superblock{}, waxfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("log needs at least %d slots, got %d", layout.LogBlocks, geom.LogSlots))
	}
	if geom.NInodes <= layout.RootInum {
		return layout.Superblock{}, waxfs.ErrInvalidArgument.WithMessage("too few inodes")
	}
	// Directory entries store inode numbers in a 16-bit field, so any inode
	// past 65535 would be unreachable by name.
	if geom.NInodes > math.MaxUint16 {
		return layout.Superblock{}, waxfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("at most %d inodes are addressable, got %d", math.MaxUint16, geom.NInodes))
	}

	nlog := geom.LogSlots + 1 // header block
	inodeBlocks := (geom.NInodes + layout.InodesPerBlock - 1) / layout.InodesPerBlock
	bmapBlocks := (geom.TotalBlocks + layout.BitsPerBlock - 1) / layout.BitsPerBlock

	sb := layout.Superblock{
		Size:       geom.TotalBlocks,
		NInodes:    geom.NInodes,
		NLog:       nlog,
		LogStart:   layout.SuperblockNo + 1,
		InodeStart: layout.SuperblockNo + 1 + nlog,
	}
	sb.BmapStart = sb.InodeStart + inodeBlocks
	dataStart := sb.BmapStart + bmapBlocks
	if geom.TotalBlocks <= dataStart+1 {
		return layout.Superblock{}, waxfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("%d blocks leave no room for data after %d metadata blocks",
				geom.TotalBlocks, dataStart))
	}
	sb.NBlocks = geom.TotalBlocks - dataStart

	if err := sb.Validate(); err != nil {
		return layout.Superblock{}, err
	}
	return sb, nil
}

// Format writes a fresh image for geom to stream, which must be writable at
// offset zero. Returns the superblock it laid down.
func Format(stream io.WriteSeeker, geom Geometry) (layout.Superblock, error) {
	sb, err := Plan(geom)
	if err != nil {
		return layout.Superblock{}, err
	}

	img := make([]byte, int(sb.Size)*layout.BlockSize)
	blockAt := func(blockno uint32) []byte {
		off := int(blockno) * layout.BlockSize
		return img[off : off+layout.BlockSize]
	}

	layout.EncodeSuperblock(&sb, blockAt(layout.SuperblockNo))

	// Log header: count zero, nothing to replay. The slots stay zeroed.

	// Root directory: inode 1, one link (its own entry in itself via "."
	// is not counted; ".." from children bumps it later).
	dataStart := sb.DataStart()
	rootDir := layout.Dinode{
		Type:  uint16(waxfs.TypeDirectory),
		Nlink: 1,
		Size:  2 * layout.DirentSize,
	}
	rootDir.Addrs[0] = dataStart
	layout.EncodeDinode(&rootDir, blockAt(sb.InodeBlock(layout.RootInum)), layout.RootInum)

	w := bytewriter.New(blockAt(dataStart))
	for _, name := range []string{".", ".."} {
		de := layout.Dirent{Inum: layout.RootInum}
		de.SetName(name)
		binary.Write(w, binary.LittleEndian, &de)
	}

	// Free bitmap: every block up to and including the root directory's data
	// block is permanently in use.
	used := int(dataStart) + 1
	bits := bitmap.New(int(sb.Size))
	for i := 0; i < used; i++ {
		bits.Set(i, true)
	}
	copy(img[int(sb.BmapStart)*layout.BlockSize:], bits.Data(false))

	if _, err := stream.Seek(0, io.SeekStart); err != nil {
		return layout.Superblock{}, waxfs.ErrIOFailed.Wrap(err)
	}
	if _, err := stream.Write(img); err != nil {
		return layout.Superblock{}, waxfs.ErrIOFailed.Wrap(err)
	}
	return sb, nil
}
