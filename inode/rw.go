package inode

import (
	"encoding/binary"
	"fmt"

	"github.com/waxfs/waxfs"
	"github.com/waxfs/waxfs/layout"
)

// MapBlock returns the physical block backing the lbn-th block of the file,
// allocating it (and the indirect block, if needed) on first touch. Caller
// must hold the lock and be inside a transaction.
func (h *Handle) MapBlock(lbn uint32) (uint32, error) {
	if lbn < layout.NDirect {
		addr := h.Addrs[lbn]
		if addr == 0 {
			var err error
			if addr, err = h.c.alloc.Alloc(); err != nil {
				return 0, err
			}
			h.Addrs[lbn] = addr
		}
		return addr, nil
	}

	lbn -= layout.NDirect
	if lbn >= layout.NIndirect {
		return 0, waxfs.ErrFileTooLarge.WithMessage(
			fmt.Sprintf("logical block %d exceeds the %d-block limit",
				lbn+layout.NDirect, layout.MaxFileBlocks))
	}

	indirect := h.Addrs[layout.NDirect]
	if indirect == 0 {
		var err error
		if indirect, err = h.c.alloc.Alloc(); err != nil {
			return 0, err
		}
		h.Addrs[layout.NDirect] = indirect
	}

	bp, err := h.c.cache.Get(indirect)
	if err != nil {
		return 0, err
	}
	addr := binary.LittleEndian.Uint32(bp.Data[lbn*4:])
	if addr == 0 {
		if addr, err = h.c.alloc.Alloc(); err != nil {
			h.c.cache.Release(bp)
			return 0, err
		}
		binary.LittleEndian.PutUint32(bp.Data[lbn*4:], addr)
		h.c.log.Record(bp)
	}
	h.c.cache.Release(bp)
	return addr, nil
}

// truncate returns every allocated block to the free pool: direct entries,
// then the entries of the indirect block, then the indirect block itself.
// Caller holds the lock and a transaction.
func (h *Handle) truncate() error {
	for i := 0; i < layout.NDirect; i++ {
		if h.Addrs[i] == 0 {
			continue
		}
		if err := h.c.alloc.Free(h.Addrs[i]); err != nil {
			return err
		}
		h.Addrs[i] = 0
	}

	if indirect := h.Addrs[layout.NDirect]; indirect != 0 {
		bp, err := h.c.cache.Get(indirect)
		if err != nil {
			return err
		}
		for i := uint32(0); i < layout.NIndirect; i++ {
			addr := binary.LittleEndian.Uint32(bp.Data[i*4:])
			if addr == 0 {
				continue
			}
			if err := h.c.alloc.Free(addr); err != nil {
				h.c.cache.Release(bp)
				return err
			}
		}
		h.c.cache.Release(bp)
		if err := h.c.alloc.Free(indirect); err != nil {
			return err
		}
		h.Addrs[layout.NDirect] = 0
	}

	h.Size = 0
	return h.update()
}

// Truncate discards the file's contents inside the caller's transaction.
func (h *Handle) Truncate() error {
	return h.truncate()
}

// Read copies up to len(dst) bytes starting at off into dst and returns how
// many were copied. Reads are clamped to the file size; reading at or past
// the end returns 0. Device inodes route to their registered handler. Caller
// must hold the lock.
func (h *Handle) Read(off uint32, dst []byte) (int, error) {
	if h.Type == waxfs.TypeDevice {
		handler, err := h.handler()
		if err != nil {
			return 0, err
		}
		return handler.Read(dst)
	}

	if off >= h.Size || len(dst) == 0 {
		return 0, nil
	}
	n := uint32(len(dst))
	if off+n > h.Size || off+n < off {
		n = h.Size - off
	}

	var done uint32
	for done < n {
		bn, err := h.MapBlock((off + done) / layout.BlockSize)
		if err != nil {
			return int(done), err
		}
		bp, err := h.c.cache.Get(bn)
		if err != nil {
			return int(done), err
		}
		start := (off + done) % layout.BlockSize
		m := layout.BlockSize - start
		if m > n-done {
			m = n - done
		}
		copy(dst[done:done+m], bp.Data[start:start+m])
		h.c.cache.Release(bp)
		done += m
	}
	return int(done), nil
}

// Write copies src into the file starting at off, growing the file as needed
// up to the direct-plus-indirect capacity, and returns how many bytes were
// written. Writing may not begin past the current end of the file. Caller
// must hold the lock and be inside a transaction sized for the write.
func (h *Handle) Write(off uint32, src []byte) (int, error) {
	if h.Type == waxfs.TypeDevice {
		handler, err := h.handler()
		if err != nil {
			return 0, err
		}
		return handler.Write(src)
	}

	if off > h.Size {
		return 0, waxfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("write at offset %d past end of file (%d bytes)", off, h.Size))
	}
	n := uint32(len(src))
	if off+n > layout.MaxFileBytes || off+n < off {
		return 0, waxfs.ErrFileTooLarge.WithMessage(
			fmt.Sprintf("write of %d bytes at offset %d exceeds the %d-byte limit",
				n, off, layout.MaxFileBytes))
	}

	var done uint32
	for done < n {
		bn, err := h.MapBlock((off + done) / layout.BlockSize)
		if err != nil {
			return int(done), err
		}
		bp, err := h.c.cache.Get(bn)
		if err != nil {
			return int(done), err
		}
		start := (off + done) % layout.BlockSize
		m := layout.BlockSize - start
		if m > n-done {
			m = n - done
		}
		copy(bp.Data[start:start+m], src[done:done+m])
		h.c.log.Record(bp)
		h.c.cache.Release(bp)
		done += m
	}

	if off+done > h.Size {
		h.Size = off + done
	}
	// MapBlock may have filled in new addresses even when the size is
	// unchanged, so the dinode is always flushed.
	if err := h.update(); err != nil {
		return int(done), err
	}
	return int(done), nil
}

func (h *Handle) handler() (DeviceHandler, error) {
	handler, ok := h.c.devices[DeviceID{Major: h.Major, Minor: h.Minor}]
	if !ok {
		return nil, waxfs.ErrNoDevice.WithMessage(
			fmt.Sprintf("no handler registered for device %d,%d", h.Major, h.Minor))
	}
	return handler, nil
}
