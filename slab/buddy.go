package slab

import (
	"encoding/binary"
	"fmt"
	"io"

	"slabAllocator/bitops"
)

// init registers the region and seeds the free lists by binary expansion of
// the page count: one block per set bit of blockNum, assigned in increasing
// address order.
func (b *buddyAllocator) init(region []byte, blockNum uint32) error {
	if blockNum == 0 {
		return ErrZeroRegion
	}
	b.region = region
	b.blockNum = blockNum
	b.size = bitops.Pos(blockNum) + 1
	b.available = blockNum
	b.heads = make([]uint64, b.size)
	next := uint64(0)
	for i := uint32(0); i < b.size; i++ {
		if blockNum&(1<<i) != 0 {
			b.heads[i] = next
			b.setNext(next, nullAddr)
			next += uint64(BlockSize) << i
		} else {
			b.heads[i] = nullAddr
		}
	}
	Debug("buddy: %d pages over %d orders", blockNum, b.size)
	return nil
}

// Free blocks store their forward link in their own first word.
func (b *buddyAllocator) setNext(addr, next uint64) {
	binary.LittleEndian.PutUint64(b.region[addr:], next)
}

func (b *buddyAllocator) nextOf(addr uint64) uint64 {
	return binary.LittleEndian.Uint64(b.region[addr:])
}

// alloc returns the offset of a contiguous blockNum-page block. The request
// is rounded up to the next power of two order; available pages drop by the
// caller supplied count, preserving the caller's accounting.
func (b *buddyAllocator) alloc(blockNum uint32) (uint64, error) {
	if blockNum == 0 || b.available < blockNum {
		return 0, ErrNoSpaceAvailable
	}
	order := bitops.CeilLog2(blockNum)
	if order >= int(b.size) {
		return 0, ErrNoSpaceAvailable
	}
	var addr uint64
	if b.heads[order] != nullAddr {
		addr = b.heads[order]
		b.heads[order] = b.nextOf(addr)
	} else {
		addr = b.split(order, order+1)
		if addr == nullAddr {
			return 0, ErrNoSpaceAvailable
		}
	}
	b.available -= blockNum
	Debug("buddy: allocated %d pages (order %d) at %d", blockNum, order, addr)
	return addr, nil
}

// split cascades the first free block found at curr or above down towards
// start: at every level the upper half joins the free list of the order below
// and the lower half keeps cascading. Returns nullAddr when every order from
// curr up is empty.
func (b *buddyAllocator) split(start, curr int) uint64 {
	if start == int(b.size) || curr == int(b.size) {
		return nullAddr
	}
	var allocated uint64
	if b.heads[curr] == nullAddr {
		allocated = b.split(start, curr+1)
		if allocated == nullAddr {
			return nullAddr
		}
	} else {
		allocated = b.heads[curr]
		b.heads[curr] = b.nextOf(allocated)
	}
	half := allocated + (uint64(BlockSize) << uint(curr-1))
	b.setNext(half, b.heads[curr-1])
	b.heads[curr-1] = half
	return allocated
}

// free returns blockNum pages at addr to their order and coalesces with the
// block's pair while possible. Addresses outside the region are ignored.
func (b *buddyAllocator) free(addr uint64, blockNum uint32) {
	if addr == nullAddr || addr >= uint64(b.blockNum)*BlockSize || blockNum == 0 {
		return
	}
	order := bitops.CeilLog2(blockNum)
	b.merge(addr, order)
	b.available += blockNum
	Debug("buddy: freed %d pages at %d", blockNum, addr)
}

// merge folds addr into its pair for as long as the pair is free at the same
// order, then links the result. The top order never coalesces.
func (b *buddyAllocator) merge(addr uint64, order int) {
	for {
		pair := addr ^ (uint64(BlockSize) << uint(order))
		if order == int(b.size)-1 || !b.unlink(order, pair) {
			b.setNext(addr, b.heads[order])
			b.heads[order] = addr
			return
		}
		if pair < addr {
			addr = pair
		}
		order++
	}
}

// unlink removes addr from the order's free list, reporting whether it was
// present.
func (b *buddyAllocator) unlink(order int, addr uint64) bool {
	prev := nullAddr
	for curr := b.heads[order]; curr != nullAddr; curr = b.nextOf(curr) {
		if curr == addr {
			if prev == nullAddr {
				b.heads[order] = b.nextOf(curr)
			} else {
				b.setNext(prev, b.nextOf(curr))
			}
			return true
		}
		prev = curr
	}
	return false
}

// dump writes the per-order free lists.
func (b *buddyAllocator) dump(w io.Writer) {
	for i := uint32(0); i < b.size; i++ {
		if b.heads[i] == nullAddr {
			fmt.Fprintf(w, "%d. empty\n", i)
			continue
		}
		fmt.Fprintf(w, "%d.", i)
		for curr := b.heads[i]; curr != nullAddr; curr = b.nextOf(curr) {
			fmt.Fprintf(w, " %d", curr)
		}
		fmt.Fprintln(w)
	}
}
