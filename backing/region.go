// Package backing provides the caller-owned memory an arena is built on.
package backing

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// Kind ...
type Kind int

const (
	// Heap regions are ordinary Go byte slices.
	Heap Kind = iota
	// Mmap regions are anonymous private mappings outside the Go heap.
	Mmap
)

func (k Kind) String() string {
	switch k {
	case Heap:
		return "heap"
	case Mmap:
		return "mmap"
	default:
		return "unknown"
	}
}

// ParseKind ...
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "", "heap":
		return Heap, nil
	case "mmap":
		return Mmap, nil
	default:
		return Heap, errors.Newf("unknown backing kind %q", s)
	}
}

// ErrReleased is returned when a released region is released again.
var ErrReleased = errors.New("region already released")

// DriverPattern is the byte pattern the driver fills fresh regions with, so
// bytes the allocator never wrote are recognisable.
var DriverPattern = []byte{0xA5, 0x5A, 0x3C, 0xC3, 0x7E}

// Region ...
type Region struct {
	kind     Kind
	buf      []byte
	released bool
}

// New ...
func New(kind Kind, size int) (*Region, error) {
	if size <= 0 {
		return nil, errors.Newf("region size %d must be > 0", size)
	}
	switch kind {
	case Heap:
		return NewHeapRegion(size)
	case Mmap:
		return NewMmapRegion(size)
	default:
		return nil, errors.Newf("unknown backing kind %d", int(kind))
	}
}

// NewHeapRegion allocates size bytes on the Go heap.
func NewHeapRegion(size int) (*Region, error) {
	if size <= 0 {
		return nil, errors.Newf("region size %d must be > 0", size)
	}
	return &Region{kind: Heap, buf: make([]byte, size)}, nil
}

// Bytes returns the region memory, nil after Release.
func (r *Region) Bytes() []byte {
	return r.buf
}

// Kind ...
func (r *Region) Kind() Kind {
	return r.kind
}

// Release returns the memory. Slices obtained from Bytes must not be used
// afterwards.
func (r *Region) Release() error {
	if r.released {
		return ErrReleased
	}
	r.released = true
	buf := r.buf
	r.buf = nil
	if r.kind == Mmap {
		return errors.Wrap(munmap(buf), "munmap region")
	}
	return nil
}

// Fill repeats pattern over buf.
func Fill(buf []byte, pattern []byte) {
	if len(pattern) == 0 {
		return
	}
	for i := 0; i < len(buf); i += copy(buf[i:], pattern) {
	}
}
