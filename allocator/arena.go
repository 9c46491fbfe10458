// Package allocator implements a fixed-capacity block allocator over a
// caller-supplied byte buffer.
//
// All allocator metadata (block headers and the free list links) lives inside
// the buffer itself. Blocks are 8-byte aligned relative to the arena base and
// exactly partition the managed range; the free list is kept in address order
// and free neighbours are always merged.
//
// An Arena is NOT goroutine-safe. Callers needing concurrent access must guard
// every operation with a single lock.
package allocator

import (
	"fmt"
	"math"
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"
)

const (
	nullPtr uint32 = math.MaxUint32

	blockAlign = 8

	blockMagic uint16 = 0xb10c
)

type blockState uint16

const (
	blockInvalid   blockState = 0
	blockFree      blockState = 1
	blockAllocated blockState = 2
)

func (s blockState) String() string {
	switch s {
	case blockFree:
		return "free"
	case blockAllocated:
		return "allocated"
	default:
		return "invalid"
	}
}

type blockHeader struct {
	size     uint32 // size is the size of the whole block (including header)
	usable   uint32 // usable payload size, only while allocated
	prevSize uint32 // size of the physically preceding block, 0 for the first block
	gen      uint32 // allocation sequence number of the current owner
	next     uint32 // free list links, only while free
	prev     uint32
	magic    uint16
	state    blockState
}

const (
	headerSize   = (uint32(unsafe.Sizeof(blockHeader{})) + blockAlign - 1) &^ (blockAlign - 1)
	minBlockSize = headerSize + blockAlign
)

// MinCapacity is the smallest capacity accepted by Init for an 8-byte aligned
// buffer: one header plus one aligned payload unit.
const MinCapacity = int(minBlockSize)

const maxCapacity = uint64(nullPtr) &^ (blockAlign - 1)

var arenaIDs uint32

func nextArenaID() uint32 {
	for {
		id := atomic.AddUint32(&arenaIDs, 1)
		if id != 0 {
			return id
		}
	}
}

func alignUp(n uint32) uint32 {
	return (n + blockAlign - 1) &^ (blockAlign - 1)
}

// Placement selects the free block a request is carved from.
type Placement int

const (
	// FirstFit takes the lowest addressed free block that is large enough.
	FirstFit Placement = iota
	// BestFit takes the smallest free block that is large enough, the lowest
	// addressed one on ties.
	BestFit
)

func (p Placement) String() string {
	switch p {
	case FirstFit:
		return "first-fit"
	case BestFit:
		return "best-fit"
	default:
		return fmt.Sprintf("Placement(%d)", int(p))
	}
}

// ParsePlacement ...
func ParsePlacement(s string) (Placement, error) {
	switch s {
	case "", "first-fit", "firstfit", "first":
		return FirstFit, nil
	case "best-fit", "bestfit", "best":
		return BestFit, nil
	default:
		return FirstFit, errors.Wrapf(ErrInvalidArgument, "unknown placement %q", s)
	}
}

// Option configures Init.
type Option func(*options)

type options struct {
	placement Placement
}

func defaultOptions() options {
	return options{placement: FirstFit}
}

// WithPlacement sets the block selection policy. Unknown values are ignored.
func WithPlacement(p Placement) Option {
	return func(o *options) {
		if p == FirstFit || p == BestFit {
			o.placement = p
		}
	}
}

// Handle refers to an allocated block. The zero Handle never resolves.
// A Handle is invalidated by Free; later use is reported as ErrInvalidHandle.
type Handle struct {
	arena uint32
	addr  uint32 // payload offset from the arena base
	gen   uint32
}

// IsZero ...
func (h Handle) IsZero() bool {
	return h == Handle{}
}

func (h Handle) String() string {
	if h.IsZero() {
		return "handle(nil)"
	}
	return fmt.Sprintf("handle(%d:%#x/%d)", h.arena, h.addr, h.gen)
}

// noCopy lets go vet's copylocks check flag copies of an Arena.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Arena is a fixed-capacity allocator over one caller buffer.
// The zero value is an uninitialized arena, ready for Init.
//
// An Arena must not be copied after Init: a copy shares the buffer but not
// the free list head or the counters. Pass it by pointer.
type Arena struct {
	noCopy noCopy

	buf  []byte
	data unsafe.Pointer // &buf[base]

	id          uint32
	base        uint32 // alignment slack skipped at the buffer start
	limit       uint32 // managed bytes, blocks partition [0, limit)
	capacity    uint32
	freeHead    uint32
	placement   Placement
	seq         uint32
	initialized bool

	allocatedBlocks uint32
	allocatedBytes  uint64
	usableBytes     uint64
	totalAllocs     uint64
	totalFrees      uint64
}

func alignSlack(buf []byte) uint32 {
	addr := uintptr(unsafe.Pointer(&buf[0]))
	return uint32((blockAlign - addr%blockAlign) % blockAlign)
}

// Init establishes the arena over the first capacity bytes of buf and
// installs a single free block spanning all of it. On failure the arena stays
// uninitialized. Init on an initialized arena fails with
// ErrAlreadyInitialized and leaves live handles untouched.
func (a *Arena) Init(buf []byte, capacity int, opts ...Option) error {
	if a.initialized {
		return errors.Wrap(ErrAlreadyInitialized, "init")
	}
	if buf == nil {
		return errors.Wrap(ErrInvalidArgument, "init: buffer is nil")
	}
	if capacity < 0 || capacity > len(buf) {
		return errors.Wrapf(ErrInvalidArgument, "init: capacity %d outside buffer of %d bytes", capacity, len(buf))
	}
	if uint64(capacity) > maxCapacity {
		return errors.Wrapf(ErrInvalidArgument, "init: capacity %d exceeds maximum %d", capacity, maxCapacity)
	}
	if capacity < int(minBlockSize) {
		return errors.Wrapf(ErrInvalidArgument, "init: capacity %d below minimum %d", capacity, minBlockSize)
	}

	base := alignSlack(buf)
	limit := (uint32(capacity) - base) &^ (blockAlign - 1)
	if limit < minBlockSize {
		return errors.Wrapf(ErrInvalidArgument,
			"init: capacity %d leaves %d bytes after alignment, below minimum %d", capacity, limit, minBlockSize)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	a.buf = buf[:capacity]
	a.data = unsafe.Pointer(&buf[base])
	a.base = base
	a.limit = limit
	a.capacity = uint32(capacity)
	a.placement = o.placement
	a.seq = 0
	a.allocatedBlocks = 0
	a.allocatedBytes = 0
	a.usableBytes = 0
	a.totalAllocs = 0
	a.totalFrees = 0

	root := a.header(0)
	*root = blockHeader{
		size:     limit,
		prevSize: 0,
		next:     nullPtr,
		prev:     nullPtr,
		magic:    blockMagic,
		state:    blockFree,
	}
	a.freeHead = 0

	a.id = nextArenaID()
	a.initialized = true
	return nil
}

// Initialized ...
func (a *Arena) Initialized() bool {
	return a.initialized
}

// Capacity returns the capacity passed to Init.
func (a *Arena) Capacity() int {
	return int(a.capacity)
}

// Placement ...
func (a *Arena) Placement() Placement {
	return a.placement
}

func (a *Arena) header(addr uint32) *blockHeader {
	return (*blockHeader)(unsafe.Pointer(uintptr(a.data) + uintptr(addr)))
}

func (a *Arena) bytes(addr uint32, length uint32) []byte {
	if length == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(a.data)+uintptr(addr))), length)
}

// setNextPrevSize updates the boundary tag of the block following addr.
func (a *Arena) setNextPrevSize(addr uint32, size uint32) {
	next := addr + size
	if next < a.limit {
		a.header(next).prevSize = size
	}
}

// resolve maps a handle to the header address of its allocated block.
func (a *Arena) resolve(h Handle) (uint32, error) {
	if !a.initialized || h.arena != a.id {
		return 0, errors.Wrapf(ErrInvalidHandle, "%s does not belong to this arena", h)
	}
	if h.addr < headerSize || h.addr >= a.limit || h.addr%blockAlign != 0 {
		return 0, errors.Wrapf(ErrInvalidHandle, "%s outside arena", h)
	}
	addr := h.addr - headerSize
	hdr := a.header(addr)
	if hdr.magic != blockMagic || hdr.state != blockAllocated || hdr.gen != h.gen {
		return 0, errors.Wrapf(ErrInvalidHandle, "%s is not currently allocated", h)
	}
	if uint64(addr)+uint64(hdr.size) > uint64(a.limit) {
		return 0, errors.Wrapf(ErrInvalidHandle, "%s has a corrupt header", h)
	}
	return addr, nil
}

// UsableSize returns the usable size recorded when the block was allocated.
func (a *Arena) UsableSize(h Handle) (int, error) {
	addr, err := a.resolve(h)
	if err != nil {
		return 0, err
	}
	return int(a.header(addr).usable), nil
}
