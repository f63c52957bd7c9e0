// Package slab implements a two-tier memory allocator over a host supplied
// region: a buddy layer managing 4KB pages and a slab layer carving those
// pages into fixed size object caches. Addresses are byte offsets into the
// region.
package slab

import (
	"sync"
)

const (
	// BlockSize is the page size managed by the buddy layer.
	BlockSize = 4096
	// FragmBorder bounds per-slab internal fragmentation when sizing slabs.
	FragmBorder = 512
	// LargeObj is the largest object size whose slab descriptor stays on-slab.
	LargeObj = 4030
	// CacheL1Line is the cache line stride used for slab colouring.
	CacheL1Line = 64
	// FreeEnd terminates every intra-slab and intra-cache-block free list.
	FreeEnd = 4096
	// NameLen bounds cache names, terminator included.
	NameLen = 20

	// MinClassSize and MaxClassSize bound the KMalloc size classes.
	MinClassSize = 32
	MaxClassSize = 131072

	// uintSize is the width of one free list link.
	uintSize = 4
	// slabDescSize is the space a slab descriptor occupies at the base of an
	// on-slab slab.
	slabDescSize = 32
	// slabsLen is the object size of the off-slab descriptor cache.
	slabsLen = slabDescSize + uintSize

	// cacheDescSize is the space one cache descriptor occupies in a cache block.
	cacheDescSize = 112
	// cacheBlockHdrSize is the cache block header preceding the index array.
	cacheBlockHdrSize = 24

	numClasses  = 13
	sizeNOffset = 5

	// nullAddr marks an absent offset in buddy free lists.
	nullAddr = ^uint64(0)
)

// reclaimState drives the shrink heuristic of a cache.
type reclaimState uint8

const (
	// reclaimVirgin: no slab of this cache has ever drained empty.
	reclaimVirgin reclaimState = iota
	// reclaimHasEmpty: an empty slab has appeared; every slab draining empty
	// is reclaimed at once.
	reclaimHasEmpty
	// reclaimChurning: the cache grew a slab after shrinking; empty slabs are
	// kept to damp the thrash.
	reclaimChurning
)

// buddyAllocator manages the region at page granularity. Free blocks chain
// through their own first word, little endian; a head holds nullAddr when the
// order is empty.
type buddyAllocator struct {
	region    []byte
	blockNum  uint32
	size      uint32 // number of orders
	available uint32
	heads     []uint64
}

// slabDesc describes one slab. On-slab caches reserve descriptor and link
// array space at the slab base so the data layout matches the descriptor
// living there; off-slab caches keep the descriptor in a slot of the
// "off-slabs" cache, recorded in self.
type slabDesc struct {
	next         *slabDesc
	base         uint64 // first page of the slab's data block
	firstObj     uint64 // offset of slot 0
	self         uint64 // off-slab only: descriptor slot offset
	colourOff    uint32
	numAllocated uint32
	free         uint32 // head of the free slot list, FreeEnd when full
	links        []uint32
}

// Cache is a named cache of fixed size objects backed by slabs.
type Cache struct {
	a          *Allocator
	name       string
	objectSize uint64
	empty      *slabDesc
	partial    *slabDesc
	full       *slabDesc
	ctor       func([]byte)
	dtor       func([]byte)
	slabSize   uint32 // pages per slab
	slabNum    uint32
	objectNum  uint32
	wastage    uint32
	slabOffset uint32
	state      reclaimState
	offSlab    bool
	err        int
	block      *cacheBlock
	slot       uint32
}

// cacheBlock is one buddy page carved into cache descriptor slots linked by
// an index free list.
type cacheBlock struct {
	addr   uint64
	next   *cacheBlock
	free   uint32
	inuse  uint32
	links  []uint32
	caches []*Cache
}

// classEntry pairs a KMalloc size class with its lazily created cache.
type classEntry struct {
	size  uint64
	cache *Cache
}

// Allocator owns the buddy region, the cache block chain, the off-slab cache
// and the size class table behind a single lock.
type Allocator struct {
	mu         sync.Mutex
	buddy      buddyAllocator
	firstBlock *cacheBlock
	blockNum   int
	offSlab    *Cache
	classes    [numClasses]classEntry
}
