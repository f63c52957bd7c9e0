package slab

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// calcNumPages picks the slab size in pages so the per-slab tail fragment
// stays within FragmBorder, doubling up to the region size for pathological
// object sizes.
func calcNumPages(size, regionBytes uint64) uint32 {
	page := uint64(BlockSize)
	for page%size > FragmBorder && page < regionBytes {
		page <<= 1
	}
	return uint32(page / BlockSize)
}

// calcNumObject returns how many size byte objects fit one slab after the
// descriptor and one link per object are reserved.
func calcNumObject(size uint64, slabSize uint32) uint32 {
	total := uint64(slabSize)*BlockSize - slabDescSize
	return uint32(total / (uintSize + size))
}

// calcNumCaches returns how many cache descriptors fit one cache block page.
func calcNumCaches() uint32 {
	return (BlockSize - cacheBlockHdrSize) / (uintSize + cacheDescSize)
}

// newCacheBlock takes one buddy page and carves it into descriptor slots
// chained by an index free list.
func (a *Allocator) newCacheBlock() (*cacheBlock, error) {
	addr, err := a.buddy.alloc(1)
	if err != nil {
		return nil, errors.Wrap(err, "no page for a cache block")
	}
	n := calcNumCaches()
	cb := &cacheBlock{
		addr:   addr,
		links:  make([]uint32, n),
		caches: make([]*Cache, n),
	}
	for i := uint32(0); i < n-1; i++ {
		cb.links[i] = i + 1
	}
	cb.links[n-1] = FreeEnd
	return cb, nil
}

// releaseSlot returns a descriptor slot to its cache block.
func (cb *cacheBlock) releaseSlot(slot uint32) {
	cb.links[slot] = cb.free
	cb.free = slot
	cb.inuse--
	cb.caches[slot] = nil
}

// cacheCreate acquires a descriptor slot, sizes the cache and builds its
// first empty slab. Callers hold the allocator lock.
func (a *Allocator) cacheCreate(name string, size uint64, ctor, dtor func([]byte)) (*Cache, error) {
	if size == 0 {
		return nil, ErrInvalidSize
	}
	cb := a.firstBlock
	for cb != nil && cb.free == FreeEnd {
		cb = cb.next
	}
	if cb == nil {
		ncb, err := a.newCacheBlock()
		if err != nil {
			return nil, errors.Wrapf(err, "cache %s", name)
		}
		ncb.next = a.firstBlock
		a.firstBlock = ncb
		a.blockNum++
		cb = ncb
	}
	slot := cb.free
	cb.free = cb.links[slot]
	cb.inuse++

	c := &Cache{
		a:          a,
		objectSize: size,
		ctor:       ctor,
		dtor:       dtor,
		block:      cb,
		slot:       slot,
	}
	if len(name) >= NameLen {
		name = name[:NameLen-1]
		c.err = 1
	}
	c.name = name
	c.slabSize = calcNumPages(size, uint64(a.buddy.blockNum)*BlockSize)
	if size <= LargeObj {
		c.objectNum = calcNumObject(size, c.slabSize)
		c.wastage = uint32(uint64(c.slabSize)*BlockSize - slabDescSize - uint64(c.objectNum)*(uintSize+size))
	} else {
		c.offSlab = true
		if a.offSlab == nil {
			oc, err := a.cacheCreate("off-slabs", slabsLen, nil, nil)
			if err != nil {
				cb.releaseSlot(slot)
				return nil, errors.Wrap(err, "bootstrapping the off-slab cache")
			}
			a.offSlab = oc
		}
		c.objectNum = uint32(uint64(c.slabSize) * BlockSize / size)
		c.wastage = 0
	}
	s, err := c.newSlab()
	if err != nil {
		cb.releaseSlot(slot)
		return nil, err
	}
	c.empty = s
	c.slabNum = 1
	cb.caches[slot] = c
	Debug("cache %s: %d pages/slab, %d objects/slab, wastage %d",
		c.name, c.slabSize, c.objectNum, c.wastage)
	return c, nil
}

// alloc hands out one object, preferring partial slabs, then empty ones, and
// growing the cache as a last resort. Callers hold the allocator lock.
func (c *Cache) alloc() (uint64, error) {
	var s *slabDesc
	switch {
	case c.partial != nil:
		s = c.partial
	case c.empty != nil:
		s = c.empty
		c.empty = s.next
		pushSlab(&c.partial, s)
	default:
		ns, err := c.newSlab()
		if err != nil {
			return 0, err
		}
		c.slabNum++
		pushSlab(&c.partial, ns)
		if c.state == reclaimHasEmpty {
			Debug("cache %s grew after shrink", c.name)
			c.state = reclaimChurning
		}
		s = ns
	}
	if s.free == FreeEnd {
		Fatal("cache %s: free list corrupted on a non-full slab", c.name)
	}
	obj := s.firstObj + uint64(s.free)*c.objectSize
	s.free = s.links[s.free]
	s.numAllocated++
	if s.free == FreeEnd {
		c.partial = s.next
		pushSlab(&c.full, s)
	}
	return obj, nil
}

// free returns the object at addr to its slab, migrating the slab between
// lists and applying the shrink policy on the transition to empty. Callers
// hold the allocator lock.
func (c *Cache) free(addr uint64) error {
	s := c.findSlab(c.full, addr)
	wasFull := s != nil
	if s == nil {
		s = c.findSlab(c.partial, addr)
	}
	if s == nil {
		Error("cache %s: object %d not found", c.name, addr)
		return errors.Wrapf(ErrObjectNotFound, "cache %s: address %d", c.name, addr)
	}
	if (addr-s.firstObj)%c.objectSize != 0 {
		Error("cache %s: address %d is not on an object boundary", c.name, addr)
		return errors.Wrapf(ErrInvalidAddress, "cache %s: address %d", c.name, addr)
	}
	s.freeObject(uint32((addr - s.firstObj) / c.objectSize))
	if c.dtor != nil {
		c.dtor(c.a.buddy.region[addr : addr+c.objectSize])
	}
	if wasFull {
		removeSlab(&c.full, s)
		pushSlab(&c.partial, s)
	}
	if s.numAllocated == 0 {
		removeSlab(&c.partial, s)
		pushSlab(&c.empty, s)
		if c.state == reclaimVirgin {
			c.state = reclaimHasEmpty
		}
		if c.state != reclaimChurning {
			c.shrink()
		}
	}
	return nil
}

// reclaimList frees every slab of the list back to buddy, and off-slab
// descriptors back to their cache. Returns the pages reclaimed.
func (c *Cache) reclaimList(list *slabDesc) int {
	pages := 0
	for s := list; s != nil; {
		next := s.next
		c.a.buddy.free(s.base, c.slabSize)
		if c.offSlab {
			_ = c.a.offSlab.free(s.self)
		}
		pages += int(c.slabSize)
		c.slabNum--
		s = next
	}
	return pages
}

// shrink reclaims the empty list, returning the number of pages freed.
// Callers hold the allocator lock.
func (c *Cache) shrink() int {
	pages := c.reclaimList(c.empty)
	c.empty = nil
	if c.state == reclaimVirgin {
		c.state = reclaimHasEmpty
	}
	if pages > 0 {
		Debug("cache %s: reclaimed %d pages", c.name, pages)
	}
	return pages
}

// destroy reclaims all three slab lists and returns the descriptor slot to
// its cache block; an emptied cache block is handed back to buddy as long as
// another block remains. Callers hold the allocator lock.
func (c *Cache) destroy() {
	c.reclaimList(c.empty)
	c.reclaimList(c.partial)
	c.reclaimList(c.full)
	c.empty, c.partial, c.full = nil, nil, nil
	cb := c.block
	cb.releaseSlot(c.slot)
	if cb.inuse == 0 && c.a.blockNum > 1 {
		if c.a.firstBlock == cb {
			c.a.firstBlock = cb.next
		} else {
			prev := c.a.firstBlock
			for prev.next != cb {
				prev = prev.next
			}
			prev.next = cb.next
		}
		c.a.blockNum--
		c.a.buddy.free(cb.addr, 1)
	}
}

// usage returns the allocated share of the cache's slots in percent.
func (c *Cache) usage() float64 {
	total := uint64(c.slabNum) * uint64(c.objectNum)
	if total == 0 {
		return 0
	}
	var allocated uint64
	for s := c.full; s != nil; s = s.next {
		allocated += uint64(c.objectNum)
	}
	for s := c.partial; s != nil; s = s.next {
		allocated += uint64(s.numAllocated)
	}
	return float64(allocated) / float64(total) * 100
}

// info writes the cache report. Callers hold the allocator lock.
func (c *Cache) info(w io.Writer) {
	fmt.Fprintf(w, "--- cache info ---\n")
	fmt.Fprintf(w, "name: %s\n", c.name)
	fmt.Fprintf(w, "object size: %dB\n", c.objectSize)
	fmt.Fprintf(w, "cache size: %dB\n", uint64(c.slabNum)*uint64(c.slabSize)*BlockSize)
	fmt.Fprintf(w, "slab num: %d\n", c.slabNum)
	fmt.Fprintf(w, "num objects/slab: %d\n", c.objectNum)
	fmt.Fprintf(w, "cache usage: %.3f%%\n", c.usage())
	fmt.Fprintf(w, "-----------------\n")
}
