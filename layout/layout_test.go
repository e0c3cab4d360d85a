package layout_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waxfs/waxfs"
	"github.com/waxfs/waxfs/layout"
)

func validSuperblock() layout.Superblock {
	// 31 log blocks, 25 inode blocks, 1 bitmap block: data starts at 59.
	return layout.Superblock{
		Size:       1000,
		NBlocks:    941,
		NInodes:    200,
		NLog:       31,
		LogStart:   2,
		InodeStart: 33,
		BmapStart:  58,
	}
}

func TestSuperblock__Codec__RoundTrip(t *testing.T) {
	sb := validSuperblock()
	block := make([]byte, layout.BlockSize)
	layout.EncodeSuperblock(&sb, block)

	decoded := layout.DecodeSuperblock(block)
	assert.Equal(t, sb, decoded)
}

func TestSuperblock__Validate__AcceptsContiguousRegions(t *testing.T) {
	sb := validSuperblock()
	require.NoError(t, sb.Validate())
	assert.EqualValues(t, 59, sb.DataStart())
}

func TestSuperblock__Validate__RejectsGapBetweenRegions(t *testing.T) {
	sb := validSuperblock()
	sb.InodeStart++ // gap after the log region
	assert.ErrorIs(t, sb.Validate(), waxfs.ErrInvalidFileSystem)
}

func TestSuperblock__Validate__RejectsUndersizedLog(t *testing.T) {
	sb := validSuperblock()
	sb.NLog = layout.LogBlocks // needs one more for the header
	assert.ErrorIs(t, sb.Validate(), waxfs.ErrInvalidFileSystem)
}

func TestSuperblock__InodeBlock__PacksEightPerBlock(t *testing.T) {
	sb := validSuperblock()
	assert.Equal(t, sb.InodeStart, sb.InodeBlock(0))
	assert.Equal(t, sb.InodeStart, sb.InodeBlock(7))
	assert.Equal(t, sb.InodeStart+1, sb.InodeBlock(8))
	assert.EqualValues(t, 2*layout.DinodeSize, layout.InodeOffset(10))
}

// Dinode records must decode from the exact slot they were encoded into,
// regardless of position within the block.
func TestDinode__Codec__RoundTripAllSlots(t *testing.T) {
	block := make([]byte, layout.BlockSize)
	for slot := uint32(0); slot < layout.InodesPerBlock; slot++ {
		din := layout.Dinode{
			Type:  uint16(waxfs.TypeFile),
			Major: 3,
			Minor: 1,
			Nlink: 2,
			Size:  12345 + slot,
		}
		din.Addrs[0] = 100 + slot
		din.Addrs[layout.NDirect] = 777
		layout.EncodeDinode(&din, block, slot)

		decoded := layout.DecodeDinode(block, slot)
		require.Equal(t, din, decoded, "slot %d", slot)
	}
}

func TestDinode__Codec__RecordIs64Bytes(t *testing.T) {
	// The record width is baked into every image ever formatted; a change
	// here is a format break.
	block := make([]byte, layout.BlockSize)
	din := layout.Dinode{Type: uint16(waxfs.TypeFile), Size: 0xAABBCCDD}
	layout.EncodeDinode(&din, block, 1)

	assert.Equal(t, byte(0xDD), block[layout.DinodeSize+8])
	for _, b := range block[:layout.DinodeSize] {
		assert.Zero(t, b, "slot 0 must be untouched")
	}
}

func TestDirent__Codec__RoundTrip(t *testing.T) {
	de := layout.Dirent{Inum: 42}
	de.SetName("hello")

	buf := make([]byte, layout.DirentSize)
	layout.EncodeDirent(&de, buf)
	decoded := layout.DecodeDirent(buf)

	assert.EqualValues(t, 42, decoded.Inum)
	assert.Equal(t, "hello", decoded.NameString())
}

// A name of exactly DirNameLen bytes fills the field with no terminator and
// must still come back intact.
func TestDirent__NameString__MaxLengthName(t *testing.T) {
	name := "abcdefghijklmn"
	require.Len(t, name, layout.DirNameLen)

	de := layout.Dirent{Inum: 7}
	de.SetName(name)
	assert.Equal(t, name, de.NameString())
}

func TestDirent__SetName__ClearsOldContents(t *testing.T) {
	de := layout.Dirent{Inum: 7}
	de.SetName("longername")
	de.SetName("ab")
	assert.Equal(t, "ab", de.NameString())
}
