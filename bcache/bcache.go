// Package bcache provides the fixed pool of in-memory block buffers that
// mediates every disk access. A buffer is acquired locked and
// reference-counted; its contents may only be inspected or modified while the
// lock is held. Eviction recycles the least recently released buffer with no
// outstanding references.
package bcache

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/waxfs/waxfs"
	"github.com/waxfs/waxfs/disk"
	"github.com/waxfs/waxfs/layout"
)

// Buf is one cached disk block. The zero value is not usable; buffers are
// created by New and live for the lifetime of the cache.
type Buf struct {
	// lock serializes access to Data and Dirty. It is a sleep lock: a caller
	// blocked here suspends until the current holder releases the buffer.
	lock sync.Mutex

	Blockno uint32
	Data    []byte
	Dirty   bool

	valid  bool // Data holds the on-disk contents
	refcnt uint32
	elem   *list.Element
}

// Cache is a bounded pool of buffers backed by a single block device.
type Cache struct {
	mu  sync.Mutex
	dev disk.Device

	index map[uint32]*Buf
	// lru orders buffers by release recency, most recent at the front. Only
	// buffers with refcnt == 0 are eviction candidates.
	lru *list.List
}

// New builds a cache of layout.BufCount buffers over dev.
func New(dev disk.Device) *Cache {
	c := &Cache{
		dev:   dev,
		index: make(map[uint32]*Buf, layout.BufCount),
		lru:   list.New(),
	}
	for i := 0; i < layout.BufCount; i++ {
		b := &Buf{Data: make([]byte, layout.BlockSize)}
		b.elem = c.lru.PushBack(b)
	}
	return c
}

// Get returns the buffer for blockno with its contents loaded, locked and
// with an extra reference. The caller must hand the buffer back with Release.
//
/// Get panics if every buffer is referenced: that means a caller above holds
// more blocks at once than the pool is sized for, which is a bug in that
// caller, not a recoverable condition.
func (c *Cache) Get(blockno uint32) (*Buf, error) {
	b := c.claim(blockno)
	b.lock.Lock()

	if !b.valid {
		if err := c.dev.ReadBlock(b.Blockno, b.Data); err != nil {
			b.lock.Unlock()
			c.Release0(b)
			return nil, err
		}
		b.valid = true
	}
	return b, nil
}

// claim finds or recycles a buffer for blockno and takes a reference on it.
func (c *Cache) claim(blockno uint32) *Buf {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.index[blockno]; ok {
		b.refcnt++
		return b
	}

	// Not cached; recycle the least recently released unreferenced buffer.
	for e := c.lru.Back(); e != nil; e = e.Prev() {
		b := e.Value.(*Buf)
		if b.refcnt != 0 {
			continue
		}
		if b.valid {
			delete(c.index, b.Blockno)
		}
		b.Blockno = blockno
		b.valid = false
		b.Dirty = false
		b.refcnt = 1
		c.index[blockno] = b
		return b
	}

	panic(fmt.Sprintf("bcache: no evictable buffer for block %d", blockno))
}

// Release unlocks b and drops the caller's reference.
func (c *Cache) Release(b *Buf) {
	b.lock.Unlock()
	c.Release0(b)
}

// Release0 drops a reference without touching the lock, for callers that pin
// buffers they do not hold locked.
func (c *Cache) Release0(b *Buf) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b.refcnt == 0 {
		panic("bcache: release of unreferenced buffer")
	}
	b.refcnt--
	if b.refcnt == 0 {
		c.lru.MoveToFront(b.elem)
	}
}

// Pin takes an extra reference on b so it cannot be evicted until a matching
// Unpin. Used by the log to keep modified blocks cached until they are
// installed.
func (c *Cache) Pin(b *Buf) {
	c.mu.Lock()
	b.refcnt++
	c.mu.Unlock()
}

// Unpin drops the reference taken by Pin.
func (c *Cache) Unpin(b *Buf) {
	c.Release0(b)
}

// WriteThrough writes b's contents to its home block synchronously and clears
// the dirty flag. The caller must hold b locked. Only the log writes buffers
// to disk; everything else marks buffers dirty and registers them with the
// log instead.
func (c *Cache) WriteThrough(b *Buf) error {
	if err := c.dev.WriteBlock(b.Blockno, b.Data); err != nil {
		return waxfs.ErrIOFailed.WithMessage(
			fmt.Sprintf("flushing block %d", b.Blockno)).Wrap(err)
	}
	b.Dirty = false
	return nil
}

// Refs reports the current reference count, for tests and sanity checks.
func (c *Cache) Refs(b *Buf) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return b.refcnt
}
