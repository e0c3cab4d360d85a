// Package layout defines the on-disk format of a waxfs volume: the geometry
// constants, the region map recorded in the superblock, and the byte-level
// codecs for every record the file system stores on disk.
//
// A volume is partitioned into contiguous regions, in this fixed order:
//
//	[ boot | superblock | log | inodes | free bitmap | data ]
//
// All multi-byte integers are little-endian.
package layout

import (
	"bytes"
	"encoding/binary"

	"github.com/waxfs/waxfs"
)

const (
	// BlockSize is the fundamental unit of disk I/O, in bytes.
	BlockSize = 512

	// BootBlock and SuperblockNo are the two fixed block addresses.
	BootBlock    = 0
	SuperblockNo = 1

	// NDirect is the number of direct block addresses in an inode, NIndirect
	// the number of addresses held by the single indirect block.
	NDirect   = 12
	NIndirect = BlockSize / 4

	// MaxFileBlocks caps how many data blocks one file can address.
	MaxFileBlocks = NDirect + NIndirect
	MaxFileBytes  = MaxFileBlocks * BlockSize

	// RootInum is the inode number of the root directory, created by the
	// formatter and never freed. Inode 0 is reserved and never used.
	RootInum = 1

	// DinodeSize is the width of one on-disk inode record; records are packed
	// into inode blocks with no padding.
	DinodeSize     = 64
	InodesPerBlock = BlockSize / DinodeSize

	// BitsPerBlock is how many data blocks one bitmap block accounts for.
	BitsPerBlock = BlockSize * 8

	// DirNameLen is the fixed width of a directory entry's name field. Names
	// of exactly DirNameLen bytes are not null-terminated.
	DirNameLen = 14
	DirentSize = 16

	// MaxOpBlocks is the worst-case number of blocks a single file system
	// operation may modify; every operation reserves this much log space up
	// front. LogBlocks is the size of the on-disk log, excluding its header
	// block.
	MaxOpBlocks = 10
	LogBlocks   = 3 * MaxOpBlocks

	// BufCount is the size of the buffer cache. Commit stages log-slot and
	// header buffers while a full batch keeps LogBlocks buffers pinned, so
	// the pool carries that much headroom on top.
	BufCount = LogBlocks + 2

	// ActiveInodes bounds how many distinct inodes may be held in memory at
	// once.
	ActiveInodes = 50
)

// Superblock describes where every region of the volume begins. It is written
// once by the formatter and treated as immutable afterwards.
type Superblock struct {
	Size       uint32 // total image size in blocks
	NBlocks    uint32 // number of data blocks
	NInodes    uint32 // number of inode records
	NLog       uint32 // log blocks, including the header block
	LogStart   uint32 // first block of the log region
	InodeStart uint32 // first block of the inode region
	BmapStart  uint32 // first block of the free bitmap region
}

// InodeBlock returns the block that holds inode number inum.
func (sb *Superblock) InodeBlock(inum uint32) uint32 {
	return sb.InodeStart + inum/InodesPerBlock
}

// InodeOffset returns the byte offset of inum's record within its block.
func InodeOffset(inum uint32) uint32 {
	return (inum % InodesPerBlock) * DinodeSize
}

// BitmapBlock returns the bitmap block covering data block blockno.
func (sb *Superblock) BitmapBlock(blockno uint32) uint32 {
	return sb.BmapStart + blockno/BitsPerBlock
}

// DataStart returns the first block of the data region.
func (sb *Superblock) DataStart() uint32 {
	return sb.Size - sb.NBlocks
}

// Validate checks that the superblock's regions partition the volume in the
// required order with no gaps or overlaps.
func (sb *Superblock) Validate() error {
	inodeBlocks := (sb.NInodes + InodesPerBlock - 1) / InodesPerBlock
	// One bit per block of the whole image; the formatter pre-sets the bits
	// of every non-data block.
	bmapBlocks := (sb.Size + BitsPerBlock - 1) / BitsPerBlock

	ok := sb.LogStart == SuperblockNo+1 &&
		sb.InodeStart == sb.LogStart+sb.NLog &&
		sb.BmapStart == sb.InodeStart+inodeBlocks &&
		sb.DataStart() == sb.BmapStart+bmapBlocks &&
		sb.NBlocks > 0 &&
		sb.NLog > LogBlocks && // header block + LogBlocks data slots
		sb.NInodes > RootInum &&
		sb.Size > sb.DataStart()
	if !ok {
		return waxfs.ErrInvalidFileSystem.WithMessage("superblock region map is inconsistent")
	}
	return nil
}

// EncodeSuperblock writes sb into the first bytes of a block-sized buffer.
func EncodeSuperblock(sb *Superblock, block []byte) {
	buf := bytes.NewBuffer(block[:0])
	binary.Write(buf, binary.LittleEndian, sb)
}

// DecodeSuperblock parses a superblock from the start of a block.
func DecodeSuperblock(block []byte) Superblock {
	var sb Superblock
	binary.Read(bytes.NewReader(block), binary.LittleEndian, &sb)
	return sb
}

// Dinode is the on-disk inode record: file type, device numbers (device
// inodes only), link count, byte size, and 13 block addresses (NDirect direct
// plus one indirect). A zero address means "not yet allocated".
type Dinode struct {
	Type  uint16
	Major uint16
	Minor uint16
	Nlink uint16
	Size  uint32
	Addrs [NDirect + 1]uint32
}

// FileType reports the record's type as the public enumeration.
func (d *Dinode) FileType() waxfs.InodeType {
	return waxfs.InodeType(d.Type)
}

// EncodeDinode writes d into block at the record offset for inum.
func EncodeDinode(d *Dinode, block []byte, inum uint32) {
	off := InodeOffset(inum)
	w := bytes.NewBuffer(block[off : off : off+DinodeSize])
	binary.Write(w, binary.LittleEndian, d)
}

// DecodeDinode parses the record for inum out of its inode block.
func DecodeDinode(block []byte, inum uint32) Dinode {
	var d Dinode
	off := InodeOffset(inum)
	binary.Read(bytes.NewReader(block[off:off+DinodeSize]), binary.LittleEndian, &d)
	return d
}

// Dirent is one directory entry: an inode number and a fixed-width name. A
// zero inode number marks a reusable empty slot.
type Dirent struct {
	Inum uint16
	Name [DirNameLen]byte
}

// NameString returns the entry's name without trailing NUL padding.
func (de *Dirent) NameString() string {
	n := bytes.IndexByte(de.Name[:], 0)
	if n < 0 {
		n = DirNameLen
	}
	return string(de.Name[:n])
}

// SetName stores name into the fixed-width field, NUL-padding the remainder.
// The caller must have checked the length already.
func (de *Dirent) SetName(name string) {
	for i := range de.Name {
		de.Name[i] = 0
	}
	copy(de.Name[:], name)
}

// EncodeDirent writes de into buf, which must be at least DirentSize bytes.
func EncodeDirent(de *Dirent, buf []byte) {
	w := bytes.NewBuffer(buf[:0:DirentSize])
	binary.Write(w, binary.LittleEndian, de)
}

// DecodeDirent parses one entry from the start of buf.
func DecodeDirent(buf []byte) Dirent {
	var de Dirent
	binary.Read(bytes.NewReader(buf[:DirentSize]), binary.LittleEndian, &de)
	return de
}
