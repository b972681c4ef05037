package diskio

import (
	"fmt"
	"sort"
	"sync"
)

// DefaultDirtyCeiling is the default soft ceiling, in bytes, of dirty
// buffer data the cache holds before it starts writing pages back,
// following libgfs2's buffer-hash default sizing.
const DefaultDirtyCeiling = 4 << 20

// Buffer is a handle to one fixed-size disk block. Handles reference
// count; a buffer is only eligible for eviction once its last handle has
// been released. Mutating Data marks the buffer dirty implicitly via
// Modify; callers must not write to Data without calling Modify first,
// so the cache can track which pages owe a writeback.
type Buffer struct {
	Addr  uint64
	Data  []byte
	cache *Cache
	dirty bool
	refs  int
}

// Modify marks b dirty. Call it before mutating b.Data.
func (b *Buffer) Modify() {
	if !b.dirty {
		b.dirty = true
		b.cache.dirtyBytes += len(b.Data)
	}
}

// Cache is a buffer cache over a Storage: the block-I/O contract from
// spec.md's "Buffer cache" component. Reads are pread-backed; writes are
// deferred until Release drops the last reference to a dirty buffer, or
// until FlushAll/the dirty-byte ceiling forces writeback.
type Cache struct {
	mu         sync.Mutex
	store      Storage
	blockSize  uint32
	buffers    map[uint64]*Buffer
	dirtyBytes int
	ceiling    int
}

// NewCache wraps store with a buffer cache using the given block size.
func NewCache(store Storage, blockSize uint32) *Cache {
	return &Cache{
		store:     store,
		blockSize: blockSize,
		buffers:   make(map[uint64]*Buffer),
		ceiling:   DefaultDirtyCeiling,
	}
}

// SetCeiling overrides the dirty-byte soft ceiling.
func (c *Cache) SetCeiling(n int) { c.ceiling = n }

// Get returns a zeroed, un-backed buffer for addr — used when a caller is
// about to overwrite the entire block rather than read its prior content
// (e.g. rebuilding a system inode from scratch).
func (c *Cache) Get(addr uint64) *Buffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.buffers[addr]; ok {
		b.refs++
		return b
	}
	b := &Buffer{Addr: addr, Data: make([]byte, c.blockSize), cache: c, refs: 1}
	c.buffers[addr] = b
	return b
}

// Read returns the buffer for addr, reading it from disk on first access.
func (c *Cache) Read(addr uint64) (*Buffer, error) {
	c.mu.Lock()
	if b, ok := c.buffers[addr]; ok {
		b.refs++
		c.mu.Unlock()
		return b, nil
	}
	c.mu.Unlock()

	data := make([]byte, c.blockSize)
	n, err := c.store.ReadAt(data, int64(addr)*int64(c.blockSize))
	if err != nil && n != len(data) {
		return nil, fmt.Errorf("diskio: short read at block %d: %w", addr, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.buffers[addr]; ok {
		// Lost a race with a concurrent Read/Get for the same block.
		b.refs++
		return b, nil
	}
	b := &Buffer{Addr: addr, Data: data, cache: c, refs: 1}
	c.buffers[addr] = b
	return b, nil
}

// Release drops a reference to b. If that was the last reference and b is
// dirty, the page is written back immediately; this keeps the semantics
// simple (no background writer) at the cost of doing I/O on the hot path,
// matching spec.md's single-threaded cooperative model.
func (c *Cache) Release(b *Buffer) error {
	c.mu.Lock()
	b.refs--
	shouldFlush := b.refs <= 0 && b.dirty
	if shouldFlush {
		b.dirty = false
		c.dirtyBytes -= len(b.Data)
	}
	c.mu.Unlock()

	if shouldFlush {
		return c.writeBack(b)
	}
	if c.dirtyBytes > c.ceiling {
		return c.evictDirty()
	}
	return nil
}

func (c *Cache) writeBack(b *Buffer) error {
	w, err := c.store.Writable()
	if err != nil {
		return fmt.Errorf("diskio: writeback block %d: %w", b.Addr, err)
	}
	n, err := w.WriteAt(b.Data, int64(b.Addr)*int64(c.blockSize))
	if err != nil {
		return fmt.Errorf("diskio: writeback block %d: %w", b.Addr, err)
	}
	if n != len(b.Data) {
		return fmt.Errorf("diskio: short write at block %d: wrote %d of %d bytes", b.Addr, n, len(b.Data))
	}
	return nil
}

// evictDirty writes back dirty buffers with zero outstanding references,
// lowest address first, until under the ceiling.
func (c *Cache) evictDirty() error {
	c.mu.Lock()
	var candidates []*Buffer
	for _, b := range c.buffers {
		if b.dirty && b.refs <= 0 {
			candidates = append(candidates, b)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Addr < candidates[j].Addr })
	c.mu.Unlock()

	for _, b := range candidates {
		if c.dirtyBytes <= c.ceiling {
			break
		}
		if err := c.writeBack(b); err != nil {
			return err
		}
		c.mu.Lock()
		b.dirty = false
		c.dirtyBytes -= len(b.Data)
		c.mu.Unlock()
	}
	return nil
}

// FlushAll writes back every dirty buffer and fsyncs the underlying
// store. Called at the end of every pass per spec.md's ordering guarantee.
func (c *Cache) FlushAll() error {
	c.mu.Lock()
	var dirty []*Buffer
	for _, b := range c.buffers {
		if b.dirty {
			dirty = append(dirty, b)
		}
	}
	sort.Slice(dirty, func(i, j int) bool { return dirty[i].Addr < dirty[j].Addr })
	c.mu.Unlock()

	for _, b := range dirty {
		if err := c.writeBack(b); err != nil {
			return err
		}
		c.mu.Lock()
		b.dirty = false
		c.dirtyBytes -= len(b.Data)
		c.mu.Unlock()
	}
	return c.store.Sync()
}

// DirtyBytes reports the current outstanding dirty byte count, for tests
// and diagnostics.
func (c *Cache) DirtyBytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirtyBytes
}
