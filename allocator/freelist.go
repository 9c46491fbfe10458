package allocator

// The free list is an intrusive doubly-linked list threaded through the
// headers of free blocks, kept in ascending address order.

func (a *Arena) freeListInsert(addr uint32) {
	node := a.header(addr)

	prev := nullPtr
	cur := a.freeHead
	for cur != nullPtr && cur < addr {
		prev = cur
		cur = a.header(cur).next
	}

	node.prev = prev
	node.next = cur
	if cur != nullPtr {
		a.header(cur).prev = addr
	}
	if prev != nullPtr {
		a.header(prev).next = addr
	} else {
		a.freeHead = addr
	}
}

func (a *Arena) freeListRemove(addr uint32) {
	node := a.header(addr)
	if node.next != nullPtr {
		a.header(node.next).prev = node.prev
	}
	if node.prev != nullPtr {
		a.header(node.prev).next = node.next
	} else {
		a.freeHead = node.next
	}
	node.next = nullPtr
	node.prev = nullPtr
}

// freeListReplace puts the block at addr into the list position of old.
// Address order is kept as long as no other free block lies between them.
func (a *Arena) freeListReplace(old uint32, addr uint32) {
	oldNode := a.header(old)
	node := a.header(addr)

	node.next = oldNode.next
	node.prev = oldNode.prev
	if node.next != nullPtr {
		a.header(node.next).prev = addr
	}
	if node.prev != nullPtr {
		a.header(node.prev).next = addr
	} else {
		a.freeHead = addr
	}
}

func (a *Arena) findFit(need uint32) uint32 {
	if a.placement == BestFit {
		return a.findBestFit(need)
	}
	for addr := a.freeHead; addr != nullPtr; addr = a.header(addr).next {
		if a.header(addr).size >= need {
			return addr
		}
	}
	return nullPtr
}

func (a *Arena) findBestFit(need uint32) uint32 {
	best := nullPtr
	bestSize := uint32(0)
	for addr := a.freeHead; addr != nullPtr; {
		node := a.header(addr)
		if node.size == need {
			return addr
		}
		if node.size > need && (best == nullPtr || node.size < bestSize) {
			best = addr
			bestSize = node.size
		}
		addr = node.next
	}
	return best
}

// contentOfList returns the header addresses on the free list, in list order.
func (a *Arena) contentOfList() []uint32 {
	var result []uint32
	for addr := a.freeHead; addr != nullPtr; addr = a.header(addr).next {
		result = append(result, addr)
	}
	return result
}
