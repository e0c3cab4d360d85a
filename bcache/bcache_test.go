package bcache_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"

	"github.com/waxfs/waxfs/bcache"
	"github.com/waxfs/waxfs/disk"
	"github.com/waxfs/waxfs/layout"
)

const testBlocks = 64

func newCache(t *testing.T) (*bcache.Cache, []byte) {
	t.Helper()
	img := make([]byte, testBlocks*layout.BlockSize)
	rng := rand.New(rand.NewSource(0x1234))
	rng.Read(img)
	dev := disk.NewImageDevice(bytesextra.NewReadWriteSeeker(img), testBlocks)
	return bcache.New(dev), img
}

func TestCache__Get__LoadsFromDisk(t *testing.T) {
	cache, img := newCache(t)

	b, err := cache.Get(5)
	require.NoError(t, err)
	assert.Equal(t, img[5*layout.BlockSize:6*layout.BlockSize], b.Data)
	cache.Release(b)
}

// A second Get of the same block must return the identical buffer, not a
// second copy: the cache is the single source of truth per block.
func TestCache__Get__SameBlockSameBuffer(t *testing.T) {
	cache, _ := newCache(t)

	b1, err := cache.Get(9)
	require.NoError(t, err)
	b1.Data[0] = 0xEE
	cache.Release(b1)

	b2, err := cache.Get(9)
	require.NoError(t, err)
	assert.Same(t, b1, b2)
	assert.Equal(t, byte(0xEE), b2.Data[0], "cached modification must survive")
	cache.Release(b2)
}

// An unflushed, unpinned buffer may be evicted once enough other blocks pass
// through; re-reading it then reflects the disk again.
func TestCache__Eviction__DropsLeastRecentlyReleased(t *testing.T) {
	cache, img := newCache(t)

	b, err := cache.Get(0)
	require.NoError(t, err)
	b.Data[0] = ^img[0]
	cache.Release(b)

	// Cycle every other buffer slot through distinct blocks.
	for blockno := uint32(1); blockno <= layout.BufCount; blockno++ {
		other, err := cache.Get(blockno)
		require.NoError(t, err)
		cache.Release(other)
	}

	again, err := cache.Get(0)
	require.NoError(t, err)
	assert.Equal(t, img[0], again.Data[0], "evicted buffer must reload from disk")
	cache.Release(again)
}

func TestCache__Pin__KeepsBufferCached(t *testing.T) {
	cache, img := newCache(t)

	b, err := cache.Get(0)
	require.NoError(t, err)
	b.Data[0] = ^img[0]
	cache.Pin(b)
	cache.Release(b)

	for blockno := uint32(1); blockno <= layout.BufCount; blockno++ {
		other, err := cache.Get(blockno)
		require.NoError(t, err)
		cache.Release(other)
	}

	again, err := cache.Get(0)
	require.NoError(t, err)
	assert.Equal(t, ^img[0], again.Data[0], "pinned buffer must not be evicted")
	cache.Release(again)
	cache.Unpin(b)
}

func TestCache__WriteThrough__PersistsAndClearsDirty(t *testing.T) {
	cache, img := newCache(t)

	b, err := cache.Get(3)
	require.NoError(t, err)
	b.Data[10] = 0x42
	b.Dirty = true
	require.NoError(t, cache.WriteThrough(b))

	assert.False(t, b.Dirty)
	assert.Equal(t, byte(0x42), img[3*layout.BlockSize+10])
	cache.Release(b)
}

// Holding every buffer at once and asking for one more is a caller bug the
// cache refuses to survive.
func TestCache__Get__PanicsWhenPoolExhausted(t *testing.T) {
	cache, _ := newCache(t)

	held := make([]*bcache.Buf, 0, layout.BufCount)
	for blockno := uint32(0); blockno < layout.BufCount; blockno++ {
		b, err := cache.Get(blockno)
		require.NoError(t, err)
		held = append(held, b)
	}

	require.Panics(t, func() {
		cache.Get(layout.BufCount)
	})

	for _, b := range held {
		cache.Release(b)
	}
}

func TestCache__Refs__TracksReferences(t *testing.T) {
	cache, _ := newCache(t)

	b, err := cache.Get(2)
	require.NoError(t, err)
	assert.EqualValues(t, 1, cache.Refs(b))
	cache.Release(b)
	assert.EqualValues(t, 0, cache.Refs(b))
}
