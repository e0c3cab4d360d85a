// Package inode manages the on-disk inode table and the bounded in-memory
// cache of active inodes.
//
// A Handle is the in-memory representation: reference-counted, lazily loaded,
// and protected by its own sleep lock. At most one Handle exists per inode
// number at a time; the cache is the single source of truth for that mapping
// while anything references it. Dropping the last reference to an inode whose
// link count has reached zero frees its data blocks and its table slot, all
// inside the caller's log transaction.
package inode

import (
	"fmt"
	"sync"

	"github.com/waxfs/waxfs"
	"github.com/waxfs/waxfs/balloc"
	"github.com/waxfs/waxfs/bcache"
	"github.com/waxfs/waxfs/layout"
	"github.com/waxfs/waxfs/wal"
)

// Handle is an in-memory inode. The dinode fields (Type through Addrs) are
// only meaningful while the handle is locked and loaded.
type Handle struct {
	Dev  uint32
	Inum uint32

	c *Cache

	// mu is the handle's sleep lock; it guards every field below.
	mu    sync.Mutex
	valid bool

	Type  waxfs.InodeType
	Major uint16
	Minor uint16
	Nlink uint16
	Size  uint32
	Addrs [layout.NDirect + 1]uint32

	refcnt uint32 // guarded by c.mu
}

// DeviceID names one entry of the closed device table.
type DeviceID struct {
	Major uint16
	Minor uint16
}

// DeviceHandler receives the reads and writes of a device-type inode. Offsets
// are not meaningful for devices and are discarded.
type DeviceHandler interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
}

// Cache is the bounded table of active inodes for one mounted volume.
type Cache struct {
	cache *bcache.Cache
	log   *wal.Log
	alloc *balloc.Allocator
	sb    *layout.Superblock
	dev   uint32

	devices map[DeviceID]DeviceHandler

	mu      sync.Mutex
	handles map[uint32]*Handle
}

// NewCache builds the inode cache for one volume. devices is the fixed
// device-dispatch table; it is copied and cannot change after mount.
func NewCache(
	cache *bcache.Cache,
	log *wal.Log,
	alloc *balloc.Allocator,
	sb *layout.Superblock,
	dev uint32,
	devices map[DeviceID]DeviceHandler,
) *Cache {
	table := make(map[DeviceID]DeviceHandler, len(devices))
	for id, h := range devices {
		table[id] = h
	}
	return &Cache{
		cache:   cache,
		log:     log,
		alloc:   alloc,
		sb:      sb,
		dev:     dev,
		devices: table,
		handles: make(map[uint32]*Handle, layout.ActiveInodes),
	}
}

// Alloc finds a free slot in the on-disk inode table, claims it with the
// given type, and returns a locked handle for it. Must be called inside a
// transaction.
func (c *Cache) Alloc(typ waxfs.InodeType, major, minor uint16) (*Handle, error) {
	for inum := uint32(layout.RootInum); inum < c.sb.NInodes; inum++ {
		bp, err := c.cache.Get(c.sb.InodeBlock(inum))
		if err != nil {
			return nil, err
		}
		din := layout.DecodeDinode(bp.Data, inum)
		if din.FileType() != waxfs.TypeFree {
			c.cache.Release(bp)
			continue
		}

		din = layout.Dinode{
			Type:  uint16(typ),
			Major: major,
			Minor: minor,
		}
		layout.EncodeDinode(&din, bp.Data, inum)
		c.log.Record(bp)
		c.cache.Release(bp)

		h := c.Get(inum)
		if err := h.Lock(); err != nil {
			c.Put(h)
			return nil, err
		}
		return h, nil
	}
	return nil, waxfs.ErrNoSpaceOnDevice.WithMessage("inode table is full")
}

// Get returns the handle for inum, creating an unloaded one on first
// reference. The handle is not locked and its dinode fields are not yet
// usable.
//
// Get panics when the table is full of referenced handles; like buffer pool
// exhaustion, that means the limits above this layer are miscalculated.
func (c *Cache) Get(inum uint32) *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	if h, ok := c.handles[inum]; ok {
		h.refcnt++
		return h
	}

	if len(c.handles) >= layout.ActiveInodes {
		c.evictUnreferenced()
	}
	h := &Handle{Dev: c.dev, Inum: inum, c: c, refcnt: 1}
	c.handles[inum] = h
	return h
}

// evictUnreferenced drops one cached handle with no references to make room.
// Caller holds c.mu.
func (c *Cache) evictUnreferenced() {
	for inum, h := range c.handles {
		if h.refcnt == 0 {
			delete(c.handles, inum)
			return
		}
	}
	panic(fmt.Sprintf("inode: all %d handles referenced", layout.ActiveInodes))
}

// Dup takes an additional reference on h.
func (c *Cache) Dup(h *Handle) *Handle {
	c.mu.Lock()
	h.refcnt++
	c.mu.Unlock()
	return h
}

// Put drops one reference. If that was the last reference and the inode has
// no links left, its contents and its table slot are freed on disk. Put must
// therefore always be called inside a transaction.
func (c *Cache) Put(h *Handle) error {
	c.mu.Lock()
	if h.refcnt == 1 && h.valid && h.Nlink == 0 {
		// No other reference exists and none can appear: a new Get would need
		// a directory entry naming this inode, and Nlink == 0 says there is
		// none.
		c.mu.Unlock()

		h.mu.Lock()
		err := h.truncate()
		if err == nil {
			h.Type = waxfs.TypeFree
			err = h.update()
		}
		h.valid = false
		h.mu.Unlock()

		c.mu.Lock()
		h.refcnt--
		delete(c.handles, h.Inum)
		c.mu.Unlock()
		return err
	}

	if h.refcnt == 0 {
		panic("inode: Put of unreferenced handle")
	}
	h.refcnt--
	c.mu.Unlock()
	return nil
}

// Lock acquires the handle's sleep lock, reading the dinode from disk on
// first use.
func (h *Handle) Lock() error {
	h.mu.Lock()
	if h.valid {
		return nil
	}

	bp, err := h.c.cache.Get(h.c.sb.InodeBlock(h.Inum))
	if err != nil {
		h.mu.Unlock()
		return err
	}
	din := layout.DecodeDinode(bp.Data, h.Inum)
	h.c.cache.Release(bp)

	h.Type = din.FileType()
	h.Major = din.Major
	h.Minor = din.Minor
	h.Nlink = din.Nlink
	h.Size = din.Size
	h.Addrs = din.Addrs
	h.valid = true

	if h.Type == waxfs.TypeFree {
		h.valid = false
		h.mu.Unlock()
		return waxfs.ErrInvalidFileSystem.WithMessage(
			fmt.Sprintf("inode %d is referenced but free on disk", h.Inum))
	}
	return nil
}

// Unlock releases the sleep lock.
func (h *Handle) Unlock() {
	h.mu.Unlock()
}

// UnlockPut is the common unlock-then-drop idiom.
func (h *Handle) UnlockPut() error {
	h.Unlock()
	return h.c.Put(h)
}

// Update writes the in-memory dinode fields back to the inode table through
// the log. It must be called after every change to a field that lives on
// disk, while holding the handle locked and inside a transaction.
func (h *Handle) Update() error {
	return h.update()
}

func (h *Handle) update() error {
	bp, err := h.c.cache.Get(h.c.sb.InodeBlock(h.Inum))
	if err != nil {
		return err
	}
	din := layout.Dinode{
		Type:  uint16(h.Type),
		Major: h.Major,
		Minor: h.Minor,
		Nlink: h.Nlink,
		Size:  h.Size,
		Addrs: h.Addrs,
	}
	layout.EncodeDinode(&din, bp.Data, h.Inum)
	h.c.log.Record(bp)
	h.c.cache.Release(bp)
	return nil
}

// Stat reports the inode's metadata. Caller must hold the lock.
func (h *Handle) Stat() waxfs.FileStat {
	return waxfs.FileStat{
		Type:  h.Type,
		Dev:   h.Dev,
		Inum:  h.Inum,
		Nlink: h.Nlink,
		Size:  h.Size,
	}
}
