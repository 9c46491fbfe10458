//go:build unix

package backing

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// NewMmapRegion maps size bytes of anonymous private memory.
func NewMmapRegion(size int) (*Region, error) {
	if size <= 0 {
		return nil, errors.Newf("region size %d must be > 0", size)
	}
	buf, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Wrapf(err, "mmap %d bytes", size)
	}
	return &Region{kind: Mmap, buf: buf}, nil
}

func munmap(buf []byte) error {
	return unix.Munmap(buf)
}
