// Package robustalloc wraps the single-threaded arena allocator into a heap
// that owns its backing memory and can be shared between goroutines.
package robustalloc

import (
	"sync"

	"github.com/PipMY/MarsRoverRobustMemoryAllocator/allocator"
	"github.com/PipMY/MarsRoverRobustMemoryAllocator/backing"
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

// ErrClosed is returned by operations on a closed Heap.
var ErrClosed = errors.New("heap is closed")

// Heap is an arena over its own backing region. One mutex is held for the
// whole of every operation.
type Heap struct {
	mu     sync.Mutex
	arena  allocator.Arena
	region *backing.Region
	closed bool

	logger         *slog.Logger
	logAllocations bool
}

// NewHeap obtains a backing region described by conf, fills it with the
// configured pattern and initializes an arena over it.
func NewHeap(conf Config, logger *slog.Logger) (*Heap, error) {
	rc, err := conf.resolve()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	region, err := backing.New(rc.backing, rc.size)
	if err != nil {
		return nil, errors.Wrap(err, "new heap")
	}
	buf := region.Bytes()
	backing.Fill(buf, rc.pattern)

	h := &Heap{
		region:         region,
		logger:         logger,
		logAllocations: conf.LogAllocations,
	}
	if err := h.arena.Init(buf, rc.size, allocator.WithPlacement(rc.placement)); err != nil {
		_ = region.Release()
		return nil, errors.Wrap(err, "new heap")
	}

	logger.Info("Heap initialized",
		"size", rc.size,
		"placement", rc.placement.String(),
		"backing", rc.backing.String(),
	)
	return h, nil
}

// Malloc ...
func (h *Heap) Malloc(size int) (allocator.Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return allocator.Handle{}, ErrClosed
	}
	handle, err := h.arena.Allocate(size)
	if err != nil {
		if errors.Is(err, allocator.ErrOutOfMemory) {
			h.logger.Warn("Allocation failed", "size", size, "largestFree", h.arena.Stats().LargestFree)
		}
		return allocator.Handle{}, err
	}
	if h.logAllocations {
		h.logger.Debug("Allocated block", "size", size, "handle", handle.String())
	}
	return handle, nil
}

// Free ...
func (h *Heap) Free(handle allocator.Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrClosed
	}
	if err := h.arena.Free(handle); err != nil {
		h.logger.Warn("Free rejected", "handle", handle.String(), "err", err)
		return err
	}
	if h.logAllocations {
		h.logger.Debug("Freed block", "handle", handle.String())
	}
	return nil
}

// Write copies data[:length] into the block at offset, see allocator.Arena.Write.
func (h *Heap) Write(handle allocator.Handle, offset int, data []byte, length int) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return 0, ErrClosed
	}
	return h.arena.Write(handle, offset, data, length)
}

// UsableSize ...
func (h *Heap) UsableSize(handle allocator.Handle) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return 0, ErrClosed
	}
	return h.arena.UsableSize(handle)
}

// Stats ...
func (h *Heap) Stats() allocator.Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return allocator.Stats{}
	}
	return h.arena.Stats()
}

// Validate ...
func (h *Heap) Validate() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	return h.arena.Validate()
}

// Dump logs every block at debug level.
func (h *Heap) Dump() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.arena.Dump(h.logger)
}

// Close releases the backing region. Handles from this heap become invalid.
func (h *Heap) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrClosed
	}
	h.closed = true
	s := h.arena.Stats()
	if s.AllocatedBlocks > 0 {
		h.logger.Debug("Closing heap with live blocks", "blocks", s.AllocatedBlocks, "bytes", s.UsableBytes)
	}
	return h.region.Release()
}
