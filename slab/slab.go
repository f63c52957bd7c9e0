package slab

import "github.com/pkg/errors"

// slabInit prepares a freshly acquired slab for the cache: colour assignment,
// data placement, the link array and the constructor sweep over every slot.
// On-slab slabs already carry their data page in base; off-slab slabs take
// their data pages from buddy here.
func (c *Cache) slabInit(s *slabDesc) error {
	s.free = 0
	s.colourOff = c.slabOffset
	if c.wastage > CacheL1Line {
		if c.slabOffset+CacheL1Line > c.wastage {
			c.slabOffset = 0
		} else {
			c.slabOffset += CacheL1Line
		}
	}
	if !c.offSlab {
		s.firstObj = s.base + slabDescSize + uint64(c.objectNum)*uintSize + uint64(s.colourOff)
	} else {
		base, err := c.a.buddy.alloc(c.slabSize)
		if err != nil {
			return errors.Wrapf(err, "cache %s: no pages for a %d page slab", c.name, c.slabSize)
		}
		s.base = base
		s.firstObj = base + uint64(s.colourOff)
	}
	s.numAllocated = 0
	s.next = nil
	s.links = make([]uint32, c.objectNum)
	for i := uint32(0); i < c.objectNum-1; i++ {
		s.links[i] = i + 1
	}
	s.links[c.objectNum-1] = FreeEnd
	// objects are constructed once per slab, not per allocation
	if c.ctor != nil {
		for i := uint32(0); i < c.objectNum; i++ {
			off := s.firstObj + uint64(i)*c.objectSize
			c.ctor(c.a.buddy.region[off : off+c.objectSize])
		}
	}
	return nil
}

// newSlab acquires and initializes one slab. On-slab caches take the
// descriptor page from buddy; off-slab caches take a descriptor slot from the
// off-slabs cache first and their data pages inside slabInit.
func (c *Cache) newSlab() (*slabDesc, error) {
	s := &slabDesc{}
	if !c.offSlab {
		base, err := c.a.buddy.alloc(c.slabSize)
		if err != nil {
			return nil, errors.Wrapf(err, "cache %s: no pages for a %d page slab", c.name, c.slabSize)
		}
		s.base = base
	} else {
		self, err := c.a.offSlab.alloc()
		if err != nil {
			return nil, errors.Wrapf(err, "cache %s: no off-slab descriptor", c.name)
		}
		s.self = self
	}
	if err := c.slabInit(s); err != nil {
		if !c.offSlab {
			c.a.buddy.free(s.base, c.slabSize)
		} else {
			_ = c.a.offSlab.free(s.self)
		}
		return nil, err
	}
	return s, nil
}

// freeObject pushes the slot index back onto the slab's free list.
func (s *slabDesc) freeObject(index uint32) {
	s.numAllocated--
	s.links[index] = s.free
	s.free = index
}

// findSlab walks a slab list for the slab owning addr. Containment is
// firstObj <= addr < base + slabSize pages, which is exact for both
// descriptor placements.
func (c *Cache) findSlab(list *slabDesc, addr uint64) *slabDesc {
	for s := list; s != nil; s = s.next {
		if addr >= s.firstObj && addr < s.base+uint64(c.slabSize)*BlockSize {
			return s
		}
	}
	return nil
}

// removeSlab unlinks s from the list headed at *head.
func removeSlab(head **slabDesc, s *slabDesc) {
	if *head == s {
		*head = s.next
		return
	}
	prev := *head
	for prev.next != s {
		prev = prev.next
	}
	prev.next = s.next
}

// pushSlab prepends s to the list headed at *head.
func pushSlab(head **slabDesc, s *slabDesc) {
	s.next = *head
	*head = s
}
