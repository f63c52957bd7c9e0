package rpc

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slabAllocator/slab"
)

const testPages = 8192

// startServer brings up a server on its own port and waits for the listener.
func startServer(t *testing.T, port int) (*Server, string) {
	t.Helper()
	server, err := NewServer(testPages)
	require.NoError(t, err)
	address := fmt.Sprintf("localhost:%d", port)
	go func() {
		if err := server.Serve(address); err != nil {
			t.Errorf("serve: %v", err)
		}
	}()
	time.Sleep(200 * time.Millisecond)
	return server, address
}

func TestMallocOverRPC(t *testing.T) {
	server, address := startServer(t, 12394)
	defer server.Close()

	client, err := Dial(address)
	require.NoError(t, err)
	defer client.Close()

	before, err := client.Stats()
	require.NoError(t, err)
	require.Equal(t, uint32(testPages), before.TotalPages)
	require.NotZero(t, before.UsedBytes, "the pool's pre-allocated blocks keep pages in use")

	addr, err := client.Malloc(64 * 1024)
	require.NoError(t, err)
	assert.Equal(t, 1, client.Outstanding())

	require.NoError(t, client.Free(addr, 64*1024))
	assert.Equal(t, 0, client.Outstanding())

	after, err := client.Stats()
	require.NoError(t, err)
	assert.Equal(t, before.Pool.TotalAllocations+1, after.Pool.TotalAllocations)
	assert.Equal(t, before.Pool.TotalFrees+1, after.Pool.TotalFrees)
}

func TestMallocRejectsOutOfRangeSizes(t *testing.T) {
	server, address := startServer(t, 12395)
	defer server.Close()

	client, err := Dial(address)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Malloc(slab.MaxClassSize + 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside the size classes")

	_, err = client.Malloc(0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside the size classes")
	assert.Equal(t, 0, client.Outstanding())
}

func TestNamedCacheOverRPC(t *testing.T) {
	server, address := startServer(t, 12396)
	defer server.Close()

	client, err := Dial(address)
	require.NoError(t, err)
	defer client.Close()

	created, err := client.CacheCreate("sessions", 512)
	require.NoError(t, err)
	assert.NotZero(t, created.ObjectsPerSlab)
	assert.NotZero(t, created.SlabPages)

	_, err = client.CacheCreate("sessions", 512)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	addrs := make([]uint64, 3)
	for i := range addrs {
		addrs[i], err = client.CacheAlloc("sessions")
		require.NoError(t, err)
	}
	assert.NotEqual(t, addrs[0], addrs[1])
	assert.NotEqual(t, addrs[1], addrs[2])

	report, err := client.CacheReport("sessions")
	require.NoError(t, err)
	assert.Contains(t, report, "name: sessions")
	assert.Contains(t, report, "object size: 512B")

	for _, addr := range addrs {
		require.NoError(t, client.CacheFree("sessions", addr))
	}

	_, err = client.CacheAlloc("nosuch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no cache named")
}

func TestConcurrentClients(t *testing.T) {
	server, address := startServer(t, 12397)
	defer server.Close()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			client, err := Dial(address)
			if err != nil {
				t.Errorf("client %d: %v", id, err)
				return
			}
			defer client.Close()

			for j := 0; j < 20; j++ {
				addr, err := client.Malloc(uint64(1024 * (id + 1)))
				if err != nil {
					t.Errorf("client %d allocation failed: %v", id, err)
					return
				}
				if err := client.Free(addr, uint64(1024*(id+1))); err != nil {
					t.Errorf("client %d free failed: %v", id, err)
					return
				}
			}
			if n := client.Outstanding(); n != 0 {
				t.Errorf("client %d leaked %d buffers", id, n)
			}
		}(i)
	}
	wg.Wait()
}
