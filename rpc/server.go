// Package rpc serves a region backed slab allocator over net/rpc. Clients
// exchange region offsets and cache names; object memory never leaves the
// server's mapping.
package rpc

import (
	"fmt"
	"net"
	"net/rpc"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"slabAllocator/mpool"
	"slabAllocator/slab"
)

// Ops is the operation set registered with net/rpc under the name
// "Allocator": the KMalloc surface behind the pool, named object caches and
// stats snapshots.
type Ops struct {
	mu        sync.Mutex
	allocator *slab.Allocator
	pool      *mpool.MemoryPool
	caches    map[string]*slab.Cache
}

// MallocArgs requests a small buffer of Size bytes.
type MallocArgs struct {
	Size uint64
}

// MallocReply carries the region offset of a new object.
type MallocReply struct {
	Addr uint64
	Err  string
}

// FreeArgs returns the buffer at Addr; Size is the size requested at
// allocation, used for pool bookkeeping.
type FreeArgs struct {
	Addr uint64
	Size uint64
}

// FreeReply reports the outcome of a free.
type FreeReply struct {
	Err string
}

// CacheCreateArgs registers a named object cache on the server.
type CacheCreateArgs struct {
	Name string
	Size uint64
}

// CacheCreateReply describes the geometry of the new cache.
type CacheCreateReply struct {
	ObjectsPerSlab uint32
	SlabPages      uint32
	Err            string
}

// CacheArgs names a cache for alloc, free and report calls; Addr is only
// meaningful for frees.
type CacheArgs struct {
	Name string
	Addr uint64
}

// ReportReply carries a formatted cache report.
type ReportReply struct {
	Report string
	Err    string
}

// StatsArgs is empty; stats take no parameters.
type StatsArgs struct{}

// StatsReply snapshots the allocator and pool counters.
type StatsReply struct {
	TotalPages     uint32
	AvailablePages uint32
	UsedBytes      uint64
	Pool           mpool.PoolStats
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Malloc allocates through the pool, falling back to the size class caches.
// Sizes outside the class range are rejected before touching the allocator.
func (o *Ops) Malloc(args *MallocArgs, reply *MallocReply) error {
	if args.Size == 0 || args.Size > slab.MaxClassSize {
		reply.Err = fmt.Sprintf("size %d is outside the size classes (%d..%d)",
			args.Size, slab.MinClassSize, slab.MaxClassSize)
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	addr, err := o.pool.Allocate(args.Size)
	if err != nil {
		reply.Err = errString(err)
		return nil
	}
	reply.Addr = addr
	return nil
}

// Free hands a Malloc'd buffer back to the pool.
func (o *Ops) Free(args *FreeArgs, reply *FreeReply) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	reply.Err = errString(o.pool.Free(args.Addr, args.Size))
	return nil
}

// CacheCreate builds a named object cache and reports its geometry.
func (o *Ops) CacheCreate(args *CacheCreateArgs, reply *CacheCreateReply) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.caches[args.Name]; ok {
		reply.Err = fmt.Sprintf("cache %q already exists", args.Name)
		return nil
	}
	c, err := o.allocator.CacheCreate(args.Name, args.Size, nil, nil)
	if err != nil {
		reply.Err = errString(err)
		return nil
	}
	o.caches[args.Name] = c
	reply.ObjectsPerSlab = c.ObjectsPerSlab()
	reply.SlabPages = c.SlabPages()
	return nil
}

// lookup resolves a cache name under o.mu.
func (o *Ops) lookup(name string) (*slab.Cache, string) {
	c, ok := o.caches[name]
	if !ok {
		return nil, fmt.Sprintf("no cache named %q", name)
	}
	return c, ""
}

// CacheAlloc takes one object from a named cache.
func (o *Ops) CacheAlloc(args *CacheArgs, reply *MallocReply) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	c, errMsg := o.lookup(args.Name)
	if errMsg != "" {
		reply.Err = errMsg
		return nil
	}
	addr, err := c.Alloc()
	if err != nil {
		reply.Err = errString(err)
		return nil
	}
	reply.Addr = addr
	return nil
}

// CacheFree returns an object to a named cache.
func (o *Ops) CacheFree(args *CacheArgs, reply *FreeReply) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	c, errMsg := o.lookup(args.Name)
	if errMsg != "" {
		reply.Err = errMsg
		return nil
	}
	reply.Err = errString(c.Free(args.Addr))
	return nil
}

// CacheReport renders the cache_info report of a named cache.
func (o *Ops) CacheReport(args *CacheArgs, reply *ReportReply) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	c, errMsg := o.lookup(args.Name)
	if errMsg != "" {
		reply.Err = errMsg
		return nil
	}
	var report strings.Builder
	c.Info(&report)
	reply.Report = report.String()
	return nil
}

// Stats snapshots the buddy accounting and the pool counters.
func (o *Ops) Stats(args *StatsArgs, reply *StatsReply) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	reply.TotalPages = o.allocator.TotalPages()
	reply.AvailablePages = o.allocator.AvailablePages()
	reply.UsedBytes = o.allocator.UsedSize()
	reply.Pool = o.pool.Stats()
	return nil
}

// Server owns the mapped region, the allocator stack over it and the
// listener serving Ops.
type Server struct {
	ops     *Ops
	lis     net.Listener
	release func() error
	mu      sync.Mutex
}

// NewServer maps a region of the given page count and builds the allocator
// and pool over it.
func NewServer(pages int) (*Server, error) {
	region, release, err := slab.MapRegion(pages)
	if err != nil {
		return nil, errors.Wrap(err, "map region")
	}
	allocator, err := slab.NewAllocator(region)
	if err != nil {
		release()
		return nil, errors.Wrap(err, "create allocator")
	}
	pool, err := mpool.NewMemoryPool(allocator)
	if err != nil {
		release()
		return nil, errors.Wrap(err, "create memory pool")
	}
	return &Server{
		ops: &Ops{
			allocator: allocator,
			pool:      pool,
			caches:    make(map[string]*slab.Cache),
		},
		release: release,
	}, nil
}

// Serve listens on address and serves connections until Close shuts the
// listener down.
func (s *Server) Serve(address string) error {
	srv := rpc.NewServer()
	if err := srv.RegisterName("Allocator", s.ops); err != nil {
		return errors.Wrap(err, "register allocator ops")
	}
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", address)
	}
	s.mu.Lock()
	s.lis = lis
	s.mu.Unlock()
	srv.Accept(lis)
	return nil
}

// UsedSize reports the bytes the allocator currently holds from its region.
func (s *Server) UsedSize() uint64 {
	return s.ops.allocator.UsedSize()
}

// Close stops the listener, drains the pool and unmaps the region.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.lis != nil {
		s.lis.Close()
	}
	s.mu.Unlock()

	s.ops.mu.Lock()
	defer s.ops.mu.Unlock()
	for name, c := range s.ops.caches {
		c.Destroy()
		delete(s.ops.caches, name)
	}
	if err := s.ops.pool.Close(discard{}); err != nil {
		return err
	}
	return s.release()
}

// discard drops the pool's close-time statistics report.
type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
