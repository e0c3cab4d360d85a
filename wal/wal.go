// Package wal implements the write-ahead log that makes multi-block updates
// atomic across crashes.
//
// Every mutating file system call brackets its work between Begin and End and
// registers each modified buffer with Record instead of writing it to disk.
// When the last outstanding call ends, the accumulated blocks are committed as
// one transaction: they are copied into the log region, the log header is
// written recording their count and home addresses (the atomicity point), and
// only then are they installed at their home locations. A crash before the
// header write loses the whole transaction; a crash after it is repaired at
// mount time by replaying the log, which is idempotent.
package wal

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/tchajed/marshal"

	"github.com/waxfs/waxfs/bcache"
	"github.com/waxfs/waxfs/layout"
)

// header mirrors the on-disk log header block: the number of blocks in the
// committed transaction and their home addresses, in order. A non-zero count
// on disk is the signature of a committed-but-not-installed transaction.
type header struct {
	n      uint32
	blocks [layout.LogBlocks]uint32
}

func encodeHeader(hdr *header, block []byte) {
	enc := marshal.NewEnc(layout.BlockSize)
	enc.PutInt32(hdr.n)
	for _, blockno := range hdr.blocks {
		enc.PutInt32(blockno)
	}
	copy(block, enc.Finish())
}

func decodeHeader(block []byte) header {
	dec := marshal.NewDec(block)
	var hdr header
	hdr.n = dec.GetInt32()
	for i := range hdr.blocks {
		hdr.blocks[i] = dec.GetInt32()
	}
	return hdr
}

// Log serializes transactions over one volume. All fields past cache are
// guarded by mu.
type Log struct {
	cache *bcache.Cache

	mu         sync.Mutex
	spaceFreed *sync.Cond

	start uint32 // block number of the log header
	size  uint32 // log region size in blocks, header included

	outstanding uint32 // operations inside a Begin/End bracket
	committing  bool

	hdr    header
	pinned [layout.LogBlocks]*bcache.Buf
}

// Open initializes the log over the given region and replays any committed
// transaction left behind by a crash. No other file system activity may touch
// the volume until Open returns.
func Open(cache *bcache.Cache, sb *layout.Superblock) (*Log, error) {
	l := &Log{
		cache: cache,
		start: sb.LogStart,
		size:  sb.NLog,
	}
	l.spaceFreed = sync.NewCond(&l.mu)

	if err := l.recover(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log) recover() error {
	hb, err := l.cache.Get(l.start)
	if err != nil {
		return err
	}
	l.hdr = decodeHeader(hb.Data)
	l.cache.Release(hb)

	if l.hdr.n > 0 {
		slog.Debug("wal: replaying committed transaction", "blocks", l.hdr.n)
		if err := l.install(true); err != nil {
			return err
		}
	}
	l.hdr.n = 0
	return l.writeHead()
}

// Begin reserves worst-case log space for one operation, blocking while a
// commit is in progress or while admission would oversubscribe the log.
func (l *Log) Begin() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for l.committing ||
		l.hdr.n+(l.outstanding+1)*layout.MaxOpBlocks > layout.LogBlocks {
		l.spaceFreed.Wait()
	}
	l.outstanding++
}

// Record registers a modified buffer with the current transaction, pinning it
// in the cache until the transaction is installed. Recording the same block
// twice is absorbed into a single log slot. The caller must hold b locked and
// must be inside a Begin/End bracket.
func (l *Log) Record(b *bcache.Buf) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.hdr.n >= layout.LogBlocks || l.hdr.n >= l.size-1 {
		panic("wal: transaction exceeds log capacity")
	}
	if l.outstanding < 1 {
		panic("wal: Record outside of a transaction")
	}

	b.Dirty = true
	for i := uint32(0); i < l.hdr.n; i++ {
		if l.hdr.blocks[i] == b.Blockno {
			return // absorbed
		}
	}
	l.cache.Pin(b)
	l.pinned[l.hdr.n] = b
	l.hdr.blocks[l.hdr.n] = b.Blockno
	l.hdr.n++
}

// End releases one operation's reservation. The last End of a batch commits
// the accumulated transaction and wakes anyone blocked in Begin.
func (l *Log) End() error {
	l.mu.Lock()
	if l.committing {
		panic("wal: End while committing")
	}
	l.outstanding--
	if l.outstanding > 0 {
		// The reservation shrank, which may admit a waiter.
		l.spaceFreed.Broadcast()
		l.mu.Unlock()
		return nil
	}
	l.committing = true
	l.mu.Unlock()

	err := l.commit()

	l.mu.Lock()
	l.committing = false
	l.spaceFreed.Broadcast()
	l.mu.Unlock()
	return err
}

// commit runs with committing set, so hdr is stable even though mu is not
// held across the disk writes.
func (l *Log) commit() error {
	if l.hdr.n == 0 {
		return nil
	}
	slog.Debug("wal: committing", "blocks", l.hdr.n)

	if err := l.writeLogBlocks(); err != nil {
		return err
	}
	// The header write is the atomicity point: once this block is durable the
	// transaction will survive any crash.
	if err := l.writeHead(); err != nil {
		return err
	}
	if err := l.install(false); err != nil {
		return err
	}
	l.hdr.n = 0
	return l.writeHead()
}

// writeLogBlocks copies every recorded buffer into its slot in the log region.
func (l *Log) writeLogBlocks() error {
	for i := uint32(0); i < l.hdr.n; i++ {
		to, err := l.cache.Get(l.start + 1 + i)
		if err != nil {
			return err
		}
		from, err := l.cache.Get(l.hdr.blocks[i])
		if err != nil {
			l.cache.Release(to)
			return err
		}
		copy(to.Data, from.Data)
		err = l.cache.WriteThrough(to)
		l.cache.Release(from)
		l.cache.Release(to)
		if err != nil {
			return err
		}
	}
	return nil
}

// install copies committed blocks from the log region to their home
// locations and, outside of recovery, unpins them.
func (l *Log) install(recovering bool) error {
	for i := uint32(0); i < l.hdr.n; i++ {
		from, err := l.cache.Get(l.start + 1 + i)
		if err != nil {
			return err
		}
		to, err := l.cache.Get(l.hdr.blocks[i])
		if err != nil {
			l.cache.Release(from)
			return err
		}
		copy(to.Data, from.Data)
		err = l.cache.WriteThrough(to)
		if !recovering {
			l.cache.Unpin(l.pinned[i])
			l.pinned[i] = nil
		}
		l.cache.Release(to)
		l.cache.Release(from)
		if err != nil {
			return err
		}
	}
	return nil
}

// writeHead flushes the in-memory header to the log's header block.
func (l *Log) writeHead() error {
	hb, err := l.cache.Get(l.start)
	if err != nil {
		return err
	}
	encodeHeader(&l.hdr, hb.Data)
	err = l.cache.WriteThrough(hb)
	l.cache.Release(hb)
	return err
}

// Logged reports how many blocks the pending transaction holds, for tests.
func (l *Log) Logged() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hdr.n
}

// Outstanding reports how many operations are inside a bracket, for tests.
func (l *Log) Outstanding() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.outstanding
}

func (l *Log) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fmt.Sprintf("wal(start=%d size=%d logged=%d outstanding=%d)",
		l.start, l.size, l.hdr.n, l.outstanding)
}
