package slab

import (
	"io"
)

// NewAllocator registers a region and prepares the first cache block and the
// size class table. The region must hold at least one whole page; its length
// is truncated to page granularity.
func NewAllocator(region []byte) (*Allocator, error) {
	a := &Allocator{}
	if err := a.buddy.init(region, uint32(len(region)/BlockSize)); err != nil {
		return nil, err
	}
	cb, err := a.newCacheBlock()
	if err != nil {
		return nil, err
	}
	a.firstBlock = cb
	a.blockNum = 1
	a.initClasses()
	Info("allocator ready: %d pages", a.buddy.blockNum)
	return a, nil
}

// CacheCreate registers a named cache of fixed size objects. ctor and dtor,
// when non-nil, run over a slot's bytes at slab construction and on free.
func (a *Allocator) CacheCreate(name string, size uint64, ctor, dtor func([]byte)) (*Cache, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cacheCreate(name, size, ctor, dtor)
}

// FindCache returns the cache registered under name.
func (a *Allocator) FindCache(name string) (*Cache, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for cb := a.firstBlock; cb != nil; cb = cb.next {
		for _, c := range cb.caches {
			if c != nil && c.name == name {
				return c, nil
			}
		}
	}
	return nil, ErrCacheNotFound
}

// KMalloc allocates a small buffer from the matching size class and returns
// its region offset.
func (a *Allocator) KMalloc(size uint64) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.kmalloc(size)
}

// KFree returns a KMalloc'd buffer to its size class.
func (a *Allocator) KFree(addr uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.kfree(addr)
}

// Bytes returns the region bytes backing an allocated object.
func (a *Allocator) Bytes(addr, size uint64) []byte {
	return a.buddy.region[addr : addr+size : addr+size]
}

// AvailablePages returns the buddy layer's free page accounting.
func (a *Allocator) AvailablePages() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buddy.available
}

// TotalPages returns the page count of the region.
func (a *Allocator) TotalPages() uint32 {
	return a.buddy.blockNum
}

// UsedSize returns the bytes currently drawn from the buddy layer.
func (a *Allocator) UsedSize() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return uint64(a.buddy.blockNum-a.buddy.available) * BlockSize
}

// BuddyDump writes the buddy free lists for diagnostics.
func (a *Allocator) BuddyDump(w io.Writer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buddy.dump(w)
}

// Alloc hands out one object of the cache and returns its region offset.
func (c *Cache) Alloc() (uint64, error) {
	if c == nil {
		return 0, ErrCacheNotFound
	}
	c.a.mu.Lock()
	defer c.a.mu.Unlock()
	return c.alloc()
}

// Free returns an object to the cache.
func (c *Cache) Free(addr uint64) error {
	if c == nil {
		return ErrCacheNotFound
	}
	c.a.mu.Lock()
	defer c.a.mu.Unlock()
	return c.free(addr)
}

// Shrink reclaims the cache's empty slabs, returning the pages freed.
func (c *Cache) Shrink() int {
	if c == nil {
		return 0
	}
	c.a.mu.Lock()
	defer c.a.mu.Unlock()
	return c.shrink()
}

// Destroy reclaims every slab of the cache and releases its descriptor slot.
func (c *Cache) Destroy() {
	if c == nil {
		return
	}
	c.a.mu.Lock()
	defer c.a.mu.Unlock()
	c.destroy()
}

// Info writes the cache report: name, object size, footprint, slab count,
// objects per slab and usage.
func (c *Cache) Info(w io.Writer) {
	if c == nil {
		return
	}
	c.a.mu.Lock()
	defer c.a.mu.Unlock()
	c.info(w)
}

// Error reports whether the cache name was truncated on create.
func (c *Cache) Error() int {
	return c.err
}

// Name returns the cache name.
func (c *Cache) Name() string {
	return c.name
}

// ObjectSize returns the cache's object size.
func (c *Cache) ObjectSize() uint64 {
	return c.objectSize
}

// ObjectsPerSlab returns how many objects one slab holds.
func (c *Cache) ObjectsPerSlab() uint32 {
	return c.objectNum
}

// SlabPages returns how many pages one slab spans.
func (c *Cache) SlabPages() uint32 {
	return c.slabSize
}
