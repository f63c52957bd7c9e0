package slab

import "github.com/pkg/errors"

// Error definitions
var (
	// ErrNoSpaceAvailable is returned when the buddy layer cannot satisfy a
	// page request.
	ErrNoSpaceAvailable = errors.New("no space available")
	// ErrSizeTooLarge is returned when a requested size exceeds the largest
	// size class.
	ErrSizeTooLarge = errors.New("requested size is too large")
	// ErrInvalidSize is returned for zero sized requests.
	ErrInvalidSize = errors.New("invalid size")
	// ErrInvalidAddress is returned when a freed address does not fall on an
	// object boundary.
	ErrInvalidAddress = errors.New("invalid address")
	// ErrObjectNotFound is returned when a freed address belongs to no slab
	// of the target cache.
	ErrObjectNotFound = errors.New("object not found")
	// ErrCacheNotFound is returned when no cache carries the requested name.
	ErrCacheNotFound = errors.New("cache not found")
	// ErrZeroRegion is returned when the region holds no whole page.
	ErrZeroRegion = errors.New("region has no pages")
)
