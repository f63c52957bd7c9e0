// Package mpool keeps pools of pre-allocated small buffers on top of the
// slab allocator so hot callers skip the allocator on the common path.
package mpool

import (
	"fmt"
	"io"
	"math/rand"
	"sync"

	"slabAllocator/slab"
)

const (
	KB = 1024

	SmallPoolSize  = 256 // small pool (32B-1KB)
	MediumPoolSize = 128 // medium pool (1KB-32KB)
	LargePoolSize  = 64  // large pool (32KB-128KB)

	smallMax  = 1 * KB
	mediumMax = 32 * KB
	largeMax  = 128 * KB
)

// PoolStats represents memory pool statistics
type PoolStats struct {
	TotalAllocations uint64
	PoolHits         uint64
	PoolMisses       uint64
	TotalFrees       uint64
	PoolFreeHits     uint64
	PoolFreeMisses   uint64
}

// band is one pre-allocated pool of buffers in a size range.
type band struct {
	blocks []uint64
	sizes  []uint64
	used   []bool
}

// MemoryPool represents a memory pool structure
type MemoryPool struct {
	small     band
	medium    band
	large     band
	mu        sync.Mutex
	allocator *slab.Allocator
	stats     PoolStats
}

// NewMemoryPool creates a new memory pool over the allocator, pre-allocating
// every band through KMalloc.
func NewMemoryPool(allocator *slab.Allocator) (*MemoryPool, error) {
	pool := &MemoryPool{allocator: allocator}

	fill := func(b *band, count int, min, max uint64) error {
		b.blocks = make([]uint64, count)
		b.sizes = make([]uint64, count)
		b.used = make([]bool, count)
		for i := 0; i < count; i++ {
			size := uint64(rand.Int63n(int64(max-min))) + min
			addr, err := allocator.KMalloc(size)
			if err != nil {
				return fmt.Errorf("failed to pre-allocate %d byte block: %v", size, err)
			}
			b.blocks[i] = addr
			b.sizes[i] = size
		}
		return nil
	}

	if err := fill(&pool.small, SmallPoolSize, 32, smallMax); err != nil {
		return nil, err
	}
	if err := fill(&pool.medium, MediumPoolSize, smallMax, mediumMax); err != nil {
		return nil, err
	}
	if err := fill(&pool.large, LargePoolSize, mediumMax, largeMax); err != nil {
		return nil, err
	}
	return pool, nil
}

// bandFor selects the pool band for a request size, nil when the size is
// beyond the largest class.
func (p *MemoryPool) bandFor(size uint64) *band {
	switch {
	case size <= smallMax:
		return &p.small
	case size <= mediumMax:
		return &p.medium
	case size <= largeMax:
		return &p.large
	}
	return nil
}

// Allocate hands out a pooled buffer when one fits, falling back to KMalloc.
func (p *MemoryPool) Allocate(size uint64) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.TotalAllocations++
	if b := p.bandFor(size); b != nil {
		for i := range b.blocks {
			if !b.used[i] && b.sizes[i] >= size {
				b.used[i] = true
				p.stats.PoolHits++
				return b.blocks[i], nil
			}
		}
	}

	p.stats.PoolMisses++
	return p.allocator.KMalloc(size)
}

// Free returns a buffer to its band, or to the allocator when it was a
// fallback allocation.
func (p *MemoryPool) Free(addr uint64, size uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.TotalFrees++
	if b := p.bandFor(size); b != nil {
		for i := range b.blocks {
			if b.blocks[i] == addr {
				b.used[i] = false
				p.stats.PoolFreeHits++
				return nil
			}
		}
	}

	p.stats.PoolFreeMisses++
	return p.allocator.KFree(addr)
}

// Stats returns a snapshot of the pool counters.
func (p *MemoryPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Close releases every pre-allocated buffer and writes the pool statistics.
func (p *MemoryPool) Close(w io.Writer) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, b := range []*band{&p.small, &p.medium, &p.large} {
		for i := range b.blocks {
			if err := p.allocator.KFree(b.blocks[i]); err != nil {
				return fmt.Errorf("failed to free pooled block: %v", err)
			}
		}
	}

	fmt.Fprintf(w, "\nMemory Pool Statistics:\n")
	fmt.Fprintf(w, "Total Allocations: %d\n", p.stats.TotalAllocations)
	fmt.Fprintf(w, "Pool Hits: %d\n", p.stats.PoolHits)
	fmt.Fprintf(w, "Pool Misses: %d\n", p.stats.PoolMisses)
	fmt.Fprintf(w, "Total Frees: %d\n", p.stats.TotalFrees)
	fmt.Fprintf(w, "Pool Free Hits: %d\n", p.stats.PoolFreeHits)
	fmt.Fprintf(w, "Pool Free Misses: %d\n", p.stats.PoolFreeMisses)
	return nil
}
