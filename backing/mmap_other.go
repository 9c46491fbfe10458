//go:build !unix

package backing

import "github.com/cockroachdb/errors"

// NewMmapRegion is not available on this platform.
func NewMmapRegion(size int) (*Region, error) {
	return nil, errors.New("mmap backing is not supported on this platform")
}

func munmap(buf []byte) error {
	return nil
}
