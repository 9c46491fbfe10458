package allocator

// Free releases the block behind h and merges it with free neighbours.
// Double frees, stale handles and handles of other arenas fail with
// ErrInvalidHandle and change nothing.
func (a *Arena) Free(h Handle) error {
	addr, err := a.resolve(h)
	if err != nil {
		return err
	}
	hdr := a.header(addr)

	a.allocatedBlocks--
	a.allocatedBytes -= uint64(hdr.size)
	a.usableBytes -= uint64(hdr.usable)
	a.totalFrees++

	hdr.state = blockFree
	hdr.usable = 0
	hdr.gen = 0

	inList := false

	nextAddr := addr + hdr.size
	if nextAddr < a.limit {
		next := a.header(nextAddr)
		if next.state == blockFree {
			a.freeListReplace(nextAddr, addr)
			hdr.size += next.size
			*next = blockHeader{}
			inList = true
		}
	}

	if hdr.prevSize != 0 {
		prevAddr := addr - hdr.prevSize
		prev := a.header(prevAddr)
		if prev.state == blockFree {
			if inList {
				a.freeListRemove(addr)
			}
			prev.size += hdr.size
			*hdr = blockHeader{}
			addr, hdr = prevAddr, prev
			inList = true
		}
	}

	if !inList {
		a.freeListInsert(addr)
	}
	a.setNextPrevSize(addr, hdr.size)
	return nil
}
