package allocator

import "github.com/cockroachdb/errors"

// Write copies data[:length] into the payload of h at offset. It succeeds
// only if offset+length does not exceed the usable size recorded at
// allocation; the check is done before any byte is copied, so a failing
// call leaves the arena untouched. A zero length within bounds copies nothing.
func (a *Arena) Write(h Handle, offset int, data []byte, length int) (int, error) {
	addr, err := a.resolve(h)
	if err != nil {
		return 0, err
	}
	usable := int(a.header(addr).usable)

	// offset+length is never computed, it may overflow
	if offset < 0 || length < 0 || offset > usable || length > usable-offset {
		return 0, errors.Wrapf(ErrOutOfBounds,
			"write at offset %d length %d exceeds usable size %d", offset, length, usable)
	}
	if length > len(data) {
		return 0, errors.Wrapf(ErrInvalidArgument,
			"write length %d exceeds source of %d bytes", length, len(data))
	}
	if length == 0 {
		return 0, nil
	}

	start := addr + headerSize + uint32(offset)
	return copy(a.bytes(start, uint32(length)), data[:length]), nil
}
