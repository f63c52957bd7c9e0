package slab

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAllocator(t *testing.T) {
	t.Run("basic", func(t *testing.T) {
		a := newTestAllocator(t, 256)
		assert.Equal(t, uint32(256), a.TotalPages())
		// one page went to the first cache block
		assert.Equal(t, uint32(255), a.AvailablePages())
		assert.Equal(t, uint64(BlockSize), a.UsedSize())
	})

	t.Run("too small", func(t *testing.T) {
		_, err := NewAllocator(make([]byte, BlockSize-1))
		assert.ErrorIs(t, err, ErrZeroRegion)
	})
}

func TestKMallocRoundTrip(t *testing.T) {
	a := newTestAllocator(t, 256)
	avail := a.AvailablePages()

	addr, err := a.KMalloc(40)
	require.NoError(t, err)
	require.NoError(t, a.KFree(addr))

	// back to the post-init state, except for the lazily created class cache
	assert.Equal(t, avail, a.AvailablePages())
	c, err := a.FindCache("64")
	require.NoError(t, err)
	assert.Equal(t, uint64(64), c.ObjectSize())
	assert.Equal(t, uint32(0), c.slabNum)

	// double free is reported, not absorbed
	assert.ErrorIs(t, a.KFree(addr), ErrObjectNotFound)
}

func TestKMallocBounds(t *testing.T) {
	a := newTestAllocator(t, 256)

	_, err := a.KMalloc(0)
	assert.ErrorIs(t, err, ErrInvalidSize)

	_, err = a.KMalloc(MaxClassSize + 1)
	assert.ErrorIs(t, err, ErrSizeTooLarge)

	addr, err := a.KMalloc(1)
	require.NoError(t, err)
	_, err = a.FindCache("32")
	require.NoError(t, err, "sub-32 sizes use the smallest class")
	require.NoError(t, a.KFree(addr))

	addr, err = a.KMalloc(MaxClassSize)
	require.NoError(t, err)
	c, err := a.FindCache("131072")
	require.NoError(t, err)
	assert.True(t, c.offSlab)
	require.NoError(t, a.KFree(addr))
}

func TestKMallocChurnStaysBounded(t *testing.T) {
	a := newTestAllocator(t, 256)

	addr, err := a.KMalloc(64)
	require.NoError(t, err)
	c, err := a.FindCache("64")
	require.NoError(t, err)
	require.NoError(t, a.KFree(addr))

	maxSlabs := uint32(0)
	for i := 0; i < 10*int(c.ObjectsPerSlab()); i++ {
		addr, err := a.KMalloc(64)
		require.NoError(t, err)
		require.NoError(t, a.KFree(addr))
		if c.slabNum > maxSlabs {
			maxSlabs = c.slabNum
		}
	}
	assert.LessOrEqual(t, maxSlabs, uint32(2),
		"the sticky shrink flag must keep alloc/free churn from growing the cache")
}

func TestKMallocDistinctBuffers(t *testing.T) {
	a := newTestAllocator(t, 256)

	const n = 100
	addrs := make([]uint64, n)
	for i := range addrs {
		addr, err := a.KMalloc(48)
		require.NoError(t, err)
		addrs[i] = addr
		buf := a.Bytes(addr, 48)
		for j := range buf {
			buf[j] = byte(i)
		}
	}
	for i, addr := range addrs {
		buf := a.Bytes(addr, 48)
		for _, b := range buf {
			require.Equal(t, byte(i), b, "buffer %d was clobbered", i)
		}
		require.NoError(t, a.KFree(addr))
	}
}

func TestKMallocExhaustion(t *testing.T) {
	a := newTestAllocator(t, 4)
	var addrs []uint64
	for {
		addr, err := a.KMalloc(4096)
		if err != nil {
			assert.ErrorIs(t, err, ErrNoSpaceAvailable)
			break
		}
		addrs = append(addrs, addr)
	}
	require.NotEmpty(t, addrs)
	for _, addr := range addrs {
		require.NoError(t, a.KFree(addr))
	}
}

func TestConcurrentKMalloc(t *testing.T) {
	a := newTestAllocator(t, 1024)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 200; i++ {
				size := uint64(rng.Intn(1024) + 1)
				addr, err := a.KMalloc(size)
				if err != nil {
					continue
				}
				buf := a.Bytes(addr, size)
				buf[0] = byte(seed)
				if err := a.KFree(addr); err != nil {
					t.Errorf("free failed: %v", err)
					return
				}
			}
		}(int64(g))
	}
	wg.Wait()
}

func BenchmarkKMalloc(b *testing.B) {
	sizes := []uint64{32, 256, 1024, 4096, 32768}

	for _, size := range sizes {
		b.Run(fmt.Sprintf("Size_%dB", size), func(b *testing.B) {
			region := make([]byte, 1024*BlockSize)
			a, err := NewAllocator(region)
			if err != nil {
				b.Fatal(err)
			}
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				addr, err := a.KMalloc(size)
				if err != nil {
					b.Fatalf("Failed to allocate %d bytes: %v", size, err)
				}
				if err := a.KFree(addr); err != nil {
					b.Fatalf("Failed to free: %v", err)
				}
			}
		})
	}
}
