package mpool

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slabAllocator/slab"
)

func TestMemoryPool(t *testing.T) {
	region := make([]byte, 8192*slab.BlockSize)
	allocator, err := slab.NewAllocator(region)
	require.NoError(t, err)

	pool, err := NewMemoryPool(allocator)
	require.NoError(t, err)

	t.Run("pooled round trip", func(t *testing.T) {
		addr, err := pool.Allocate(512)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), pool.Stats().PoolHits)

		require.NoError(t, pool.Free(addr, 512))
		assert.Equal(t, uint64(1), pool.Stats().PoolFreeHits)
	})

	t.Run("oversized requests miss the pool", func(t *testing.T) {
		_, err := pool.Allocate(largeMax + 1)
		assert.Error(t, err)
		assert.Equal(t, uint64(1), pool.Stats().PoolMisses)
	})

	t.Run("fallback allocations free through the allocator", func(t *testing.T) {
		before := pool.Stats().PoolFreeMisses
		addr, err := allocator.KMalloc(64)
		require.NoError(t, err)
		require.NoError(t, pool.Free(addr, 64))
		assert.Equal(t, before+1, pool.Stats().PoolFreeMisses)
	})

	var buf bytes.Buffer
	require.NoError(t, pool.Close(&buf))
	assert.Contains(t, buf.String(), "Memory Pool Statistics")
}
