// Package balloc allocates and frees data blocks using the on-disk free
// bitmap. One bit per block of the whole image; a set bit means in use. The
// formatter permanently sets the bits of every non-data block, so scanning
// from zero never hands out a metadata block.
//
// Every bitmap mutation goes through the write-ahead log, so allocation state
// always commits atomically with whatever update caused it.
package balloc

import (
	"github.com/boljen/go-bitmap"
	"github.com/hashicorp/go-multierror"

	"github.com/waxfs/waxfs"
	"github.com/waxfs/waxfs/bcache"
	"github.com/waxfs/waxfs/layout"
	"github.com/waxfs/waxfs/wal"
)

// Allocator hands out data blocks for one volume. It holds no state of its
// own beyond the wiring; the bitmap blocks themselves are the source of
// truth.
type Allocator struct {
	cache *bcache.Cache
	log   *wal.Log
	sb    *layout.Superblock
}

// New wires an allocator over the volume's bitmap region. The caller must be
// inside a log transaction for every Alloc and Free.
func New(cache *bcache.Cache, log *wal.Log, sb *layout.Superblock) *Allocator {
	return &Allocator{cache: cache, log: log, sb: sb}
}

// Alloc finds a free block, marks it used, zeroes its contents through the
// log, and returns its block number. Returns ErrNoSpaceOnDevice when the
// bitmap has no clear bit left.
func (a *Allocator) Alloc() (uint32, error) {
	for base := uint32(0); base < a.sb.Size; base += layout.BitsPerBlock {
		bp, err := a.cache.Get(a.sb.BitmapBlock(base))
		if err != nil {
			return 0, err
		}

		bits := bitmap.Bitmap(bp.Data)
		for bi := uint32(0); bi < layout.BitsPerBlock && base+bi < a.sb.Size; bi++ {
			if bits.Get(int(bi)) {
				continue
			}
			bits.Set(int(bi), true)
			a.log.Record(bp)
			a.cache.Release(bp)

			blockno := base + bi
			if err := a.zero(blockno); err != nil {
				// Roll the claim back so the surrounding transaction cannot
				// commit a bit for a block nobody owns.
				if freeErr := a.Free(blockno); freeErr != nil {
					err = multierror.Append(err, freeErr)
				}
				return 0, err
			}
			return blockno, nil
		}
		a.cache.Release(bp)
	}
	return 0, waxfs.ErrNoSpaceOnDevice.WithMessage("free bitmap is full")
}

// Free clears the bitmap bit for blockno. Freeing a block that is already
// free is not detected here; the inode layer is the only caller and frees
// each block exactly once.
func (a *Allocator) Free(blockno uint32) error {
	bp, err := a.cache.Get(a.sb.BitmapBlock(blockno))
	if err != nil {
		return err
	}
	bi := int(blockno % layout.BitsPerBlock)
	bitmap.Bitmap(bp.Data).Set(bi, false)
	a.log.Record(bp)
	a.cache.Release(bp)
	return nil
}

// zero clears a freshly allocated block so stale contents can never leak
// into a file.
func (a *Allocator) zero(blockno uint32) error {
	bp, err := a.cache.Get(blockno)
	if err != nil {
		return err
	}
	for i := range bp.Data {
		bp.Data[i] = 0
	}
	a.log.Record(bp)
	a.cache.Release(bp)
	return nil
}
