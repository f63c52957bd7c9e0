//go:build linux

package slab

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// MapRegion returns a page aligned anonymous mapping of blockNum pages and a
// release function.
func MapRegion(blockNum int) ([]byte, func() error, error) {
	region, err := unix.Mmap(-1, 0, blockNum*BlockSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "mmap %d pages", blockNum)
	}
	return region, func() error { return unix.Munmap(region) }, nil
}
