package rpc

import (
	"net/rpc"
	"sync"

	"github.com/pkg/errors"
)

// Client drives a remote allocator. It remembers the offsets it has not yet
// returned so callers can detect leaks before closing.
type Client struct {
	conn        *rpc.Client
	mu          sync.Mutex
	outstanding map[uint64]uint64 // offset -> requested size
}

// Dial connects to a Server at address.
func Dial(address string) (*Client, error) {
	conn, err := rpc.Dial("tcp", address)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", address)
	}
	return &Client{
		conn:        conn,
		outstanding: make(map[uint64]uint64),
	}, nil
}

// remoteErr turns a reply's error string back into an error.
func remoteErr(msg string) error {
	if msg == "" {
		return nil
	}
	return errors.Errorf("server: %s", msg)
}

// Malloc asks the server for a small buffer and returns its region offset.
func (c *Client) Malloc(size uint64) (uint64, error) {
	var reply MallocReply
	if err := c.conn.Call("Allocator.Malloc", &MallocArgs{Size: size}, &reply); err != nil {
		return 0, errors.Wrap(err, "malloc call")
	}
	if reply.Err != "" {
		return 0, remoteErr(reply.Err)
	}
	c.mu.Lock()
	c.outstanding[reply.Addr] = size
	c.mu.Unlock()
	return reply.Addr, nil
}

// Free hands a Malloc'd buffer back; size must match the original request.
func (c *Client) Free(addr, size uint64) error {
	var reply FreeReply
	if err := c.conn.Call("Allocator.Free", &FreeArgs{Addr: addr, Size: size}, &reply); err != nil {
		return errors.Wrap(err, "free call")
	}
	if err := remoteErr(reply.Err); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.outstanding, addr)
	c.mu.Unlock()
	return nil
}

// CacheCreate registers a named object cache server side and returns its
// geometry.
func (c *Client) CacheCreate(name string, size uint64) (CacheCreateReply, error) {
	var reply CacheCreateReply
	if err := c.conn.Call("Allocator.CacheCreate", &CacheCreateArgs{Name: name, Size: size}, &reply); err != nil {
		return reply, errors.Wrap(err, "cache create call")
	}
	return reply, remoteErr(reply.Err)
}

// CacheAlloc takes one object from a named cache.
func (c *Client) CacheAlloc(name string) (uint64, error) {
	var reply MallocReply
	if err := c.conn.Call("Allocator.CacheAlloc", &CacheArgs{Name: name}, &reply); err != nil {
		return 0, errors.Wrap(err, "cache alloc call")
	}
	return reply.Addr, remoteErr(reply.Err)
}

// CacheFree returns an object to a named cache.
func (c *Client) CacheFree(name string, addr uint64) error {
	var reply FreeReply
	if err := c.conn.Call("Allocator.CacheFree", &CacheArgs{Name: name, Addr: addr}, &reply); err != nil {
		return errors.Wrap(err, "cache free call")
	}
	return remoteErr(reply.Err)
}

// CacheReport fetches the rendered cache_info report of a named cache.
func (c *Client) CacheReport(name string) (string, error) {
	var reply ReportReply
	if err := c.conn.Call("Allocator.CacheReport", &CacheArgs{Name: name}, &reply); err != nil {
		return "", errors.Wrap(err, "cache report call")
	}
	return reply.Report, remoteErr(reply.Err)
}

// Stats snapshots the server's buddy accounting and pool counters.
func (c *Client) Stats() (StatsReply, error) {
	var reply StatsReply
	if err := c.conn.Call("Allocator.Stats", &StatsArgs{}, &reply); err != nil {
		return reply, errors.Wrap(err, "stats call")
	}
	return reply, nil
}

// Outstanding reports how many Malloc'd buffers have not been freed yet.
func (c *Client) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outstanding)
}

// Close closes the connection. Outstanding buffers stay live on the server.
func (c *Client) Close() error {
	return c.conn.Close()
}
