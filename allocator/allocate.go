package allocator

import "github.com/cockroachdb/errors"

// Allocate carves a block with exactly size usable bytes out of the arena.
// The free block chosen by the placement policy is split when the remainder
// can hold a header plus one aligned payload unit; otherwise the whole block
// is handed out and the extra bytes stay unusable until Free.
func (a *Arena) Allocate(size int) (Handle, error) {
	if !a.initialized {
		return Handle{}, errors.Wrap(ErrInvalidArgument, "allocate: arena is not initialized")
	}
	if size <= 0 {
		return Handle{}, errors.Wrapf(ErrInvalidArgument, "allocate: size %d must be > 0", size)
	}
	if uint64(size) > uint64(a.limit-headerSize) {
		return Handle{}, errors.Wrapf(ErrOutOfMemory, "allocate: %d bytes exceeds arena of %d bytes", size, a.limit)
	}

	need := alignUp(headerSize + uint32(size))
	addr := a.findFit(need)
	if addr == nullPtr {
		return Handle{}, errors.Wrapf(ErrOutOfMemory, "allocate: no free block for %d bytes", size)
	}

	hdr := a.header(addr)
	if hdr.size-need >= minBlockSize {
		a.split(addr, need)
	} else {
		a.freeListRemove(addr)
	}

	a.seq++
	if a.seq == 0 {
		a.seq++
	}
	hdr.usable = uint32(size)
	hdr.gen = a.seq
	hdr.state = blockAllocated
	hdr.next = nullPtr
	hdr.prev = nullPtr

	a.allocatedBlocks++
	a.allocatedBytes += uint64(hdr.size)
	a.usableBytes += uint64(size)
	a.totalAllocs++

	return Handle{
		arena: a.id,
		addr:  addr + headerSize,
		gen:   hdr.gen,
	}, nil
}

// split shrinks the free block at addr to need bytes. The remainder becomes a
// free block that takes over addr's free list position.
func (a *Arena) split(addr uint32, need uint32) {
	hdr := a.header(addr)

	restAddr := addr + need
	rest := a.header(restAddr)
	*rest = blockHeader{
		size:     hdr.size - need,
		prevSize: need,
		next:     nullPtr,
		prev:     nullPtr,
		magic:    blockMagic,
		state:    blockFree,
	}
	a.setNextPrevSize(restAddr, rest.size)

	hdr.size = need
	a.freeListReplace(addr, restAddr)
}
