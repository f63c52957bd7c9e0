package slab

import (
	"strconv"

	"github.com/pkg/errors"

	"slabAllocator/bitops"
)

// initClasses seeds the thirteen power of two size classes, 32B through 128KB.
func (a *Allocator) initClasses() {
	size := uint64(MinClassSize)
	for i := range a.classes {
		a.classes[i] = classEntry{size: size}
		size <<= 1
	}
}

// kmalloc rounds size up to its class and allocates from the class cache,
// creating the cache on first use. Callers hold the allocator lock.
func (a *Allocator) kmalloc(size uint64) (uint64, error) {
	if size == 0 {
		return 0, ErrInvalidSize
	}
	if size > MaxClassSize {
		return 0, ErrSizeTooLarge
	}
	if size < MinClassSize {
		size = MinClassSize
	}
	size = uint64(bitops.NearestPowerOfTwo(uint32(size)))
	index := bitops.Log2(uint32(size)) - sizeNOffset
	e := &a.classes[index]
	if e.cache == nil {
		c, err := a.cacheCreate(strconv.FormatUint(size, 10), size, nil, nil)
		if err != nil {
			return 0, errors.Wrapf(err, "size class %d", size)
		}
		e.cache = c
	}
	return e.cache.alloc()
}

// kfree locates the size class slab owning addr, searching full lists before
// partial ones, and frees through the owning cache. Callers hold the
// allocator lock.
func (a *Allocator) kfree(addr uint64) error {
	for i := range a.classes {
		c := a.classes[i].cache
		if c == nil {
			continue
		}
		if c.findSlab(c.full, addr) != nil || c.findSlab(c.partial, addr) != nil {
			return c.free(addr)
		}
	}
	Error("kfree: object %d not found in any size class", addr)
	return errors.Wrapf(ErrObjectNotFound, "address %d", addr)
}
