package allocator

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

// Stats is a snapshot of arena usage.
type Stats struct {
	Capacity        int    // Bytes passed to Init
	Managed         int    // Bytes partitioned into blocks
	AllocatedBlocks int    // Blocks currently allocated
	AllocatedBytes  int    // Bytes held by allocated blocks, headers included
	UsableBytes     int    // Sum of usable sizes of allocated blocks
	FreeBlocks      int    // Blocks on the free list
	FreeBytes       int    // Bytes held by free blocks, headers included
	LargestFree     int    // Largest request the arena can satisfy right now
	TotalAllocs     uint64 // Successful Allocate calls since Init
	TotalFrees      uint64 // Successful Free calls since Init
}

// BlockInfo describes one block. Offsets are relative to the start of the
// buffer passed to Init.
type BlockInfo struct {
	Offset        int // header offset
	PayloadOffset int
	Size          int // whole block, header included
	Usable        int // 0 for free blocks
	Free          bool
}

// End returns the offset one past the block.
func (b BlockInfo) End() int {
	return b.Offset + b.Size
}

func (a *Arena) blockInfo(addr uint32) BlockInfo {
	hdr := a.header(addr)
	return BlockInfo{
		Offset:        int(a.base + addr),
		PayloadOffset: int(a.base + addr + headerSize),
		Size:          int(hdr.size),
		Usable:        int(hdr.usable),
		Free:          hdr.state == blockFree,
	}
}

// Stats ...
func (a *Arena) Stats() Stats {
	if !a.initialized {
		return Stats{}
	}
	s := Stats{
		Capacity:        int(a.capacity),
		Managed:         int(a.limit),
		AllocatedBlocks: int(a.allocatedBlocks),
		AllocatedBytes:  int(a.allocatedBytes),
		UsableBytes:     int(a.usableBytes),
		TotalAllocs:     a.totalAllocs,
		TotalFrees:      a.totalFrees,
	}
	for addr := a.freeHead; addr != nullPtr; {
		hdr := a.header(addr)
		s.FreeBlocks++
		s.FreeBytes += int(hdr.size)
		if usable := int(hdr.size - headerSize); usable > s.LargestFree {
			s.LargestFree = usable
		}
		addr = hdr.next
	}
	return s
}

// Blocks returns every block in address order.
func (a *Arena) Blocks() []BlockInfo {
	if !a.initialized {
		return nil
	}
	var result []BlockInfo
	for addr := uint32(0); addr < a.limit; addr += a.header(addr).size {
		result = append(result, a.blockInfo(addr))
	}
	return result
}

// FreeList returns the free blocks in free list order.
func (a *Arena) FreeList() []BlockInfo {
	if !a.initialized {
		return nil
	}
	var result []BlockInfo
	for _, addr := range a.contentOfList() {
		result = append(result, a.blockInfo(addr))
	}
	return result
}

// Validate walks the block chain and the free list and reports the first
// broken invariant.
func (a *Arena) Validate() error {
	if !a.initialized {
		return nil
	}

	var (
		addr      uint32
		prevSize  uint32
		prevFree  bool
		freeCount int
		allocated uint32
	)
	for addr < a.limit {
		hdr := a.header(addr)
		if hdr.magic != blockMagic {
			return errors.Newf("block at %#x has bad magic %#x", addr, hdr.magic)
		}
		if hdr.size < minBlockSize || hdr.size%blockAlign != 0 {
			return errors.Newf("block at %#x has bad size %d", addr, hdr.size)
		}
		if uint64(addr)+uint64(hdr.size) > uint64(a.limit) {
			return errors.Newf("block at %#x size %d extends past arena end %#x", addr, hdr.size, a.limit)
		}
		if hdr.prevSize != prevSize {
			return errors.Newf("block at %#x records previous size %d, want %d", addr, hdr.prevSize, prevSize)
		}

		switch hdr.state {
		case blockFree:
			if prevFree {
				return errors.Newf("free block at %#x follows another free block", addr)
			}
			freeCount++
		case blockAllocated:
			if headerSize+hdr.usable > hdr.size {
				return errors.Newf("block at %#x usable size %d overflows block of %d", addr, hdr.usable, hdr.size)
			}
			allocated++
		default:
			return errors.Newf("block at %#x has bad state %d", addr, hdr.state)
		}

		prevFree = hdr.state == blockFree
		prevSize = hdr.size
		addr += hdr.size
	}
	if addr != a.limit {
		return errors.Newf("blocks end at %#x, want %#x", addr, a.limit)
	}
	if allocated != a.allocatedBlocks {
		return errors.Newf("counted %d allocated blocks, arena records %d", allocated, a.allocatedBlocks)
	}

	listed := 0
	last := nullPtr
	for cur := a.freeHead; cur != nullPtr; cur = a.header(cur).next {
		if cur >= a.limit {
			return errors.Newf("free list entry %#x outside arena", cur)
		}
		hdr := a.header(cur)
		if hdr.magic != blockMagic || hdr.state != blockFree {
			return errors.Newf("free list entry %#x is not a free block", cur)
		}
		if hdr.prev != last {
			return errors.Newf("free list entry %#x links back to %#x, want %#x", cur, hdr.prev, last)
		}
		if last != nullPtr && cur <= last {
			return errors.Newf("free list entry %#x is not above %#x", cur, last)
		}
		listed++
		if listed > freeCount {
			return errors.Newf("free list holds more than the %d free blocks", freeCount)
		}
		last = cur
	}
	if listed != freeCount {
		return errors.Newf("free list holds %d blocks, chain has %d", listed, freeCount)
	}
	return nil
}

// Dump logs every block at debug level.
func (a *Arena) Dump(logger *slog.Logger) {
	s := a.Stats()
	logger.Debug("arena",
		"capacity", s.Capacity,
		"managed", s.Managed,
		"placement", a.placement.String(),
		"allocated", s.AllocatedBlocks,
		"free", s.FreeBlocks,
		"largestFree", s.LargestFree,
	)
	for _, b := range a.Blocks() {
		state := blockAllocated
		if b.Free {
			state = blockFree
		}
		logger.Debug("block",
			"offset", b.Offset,
			"size", b.Size,
			"usable", b.Usable,
			"state", state.String(),
		)
	}
}
