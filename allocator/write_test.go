package allocator

import (
	"bytes"
	"math"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// payload returns the usable bytes of an allocated block.
func (a *Arena) payload(h Handle) []byte {
	addr, err := a.resolve(h)
	if err != nil {
		return nil
	}
	return a.bytes(addr+headerSize, a.header(addr).usable)
}

func TestArenaWrite_SingleBlock(t *testing.T) {
	a, _ := newTestArena(t, 32768)

	h, err := a.Allocate(64)
	require.NoError(t, err)

	msg := []byte("test\x00")
	table := []struct {
		name   string
		offset int
		length int
		ok     bool
	}{
		{name: "start", offset: 0, length: 5, ok: true},
		{name: "middle", offset: 10, length: 4, ok: true},
		{name: "ends-at-limit", offset: 60, length: 4, ok: true},
		{name: "last-byte", offset: 63, length: 1, ok: true},
		{name: "first-byte-past-limit", offset: 64, length: 1, ok: false},
	}

	for _, e := range table {
		t.Run(e.name, func(t *testing.T) {
			n, err := a.Write(h, e.offset, msg, e.length)
			if e.ok {
				require.NoError(t, err)
				assert.Equal(t, e.length, n)
			} else {
				assert.True(t, errors.Is(err, ErrOutOfBounds), "got %v", err)
				assert.Equal(t, 0, n)
			}
		})
	}

	p := a.payload(h)
	assert.Equal(t, []byte("test\x00"), p[0:5])
	assert.Equal(t, []byte("test"), p[10:14])
	assert.Equal(t, []byte("tes"), p[60:63])
	assert.Equal(t, byte('t'), p[63])

	assert.NoError(t, a.Free(h))
}

func TestArenaWrite_MultipleBlocks(t *testing.T) {
	a, _ := newTestArena(t, 32768)

	sizes := []int{32, 128, 256}
	handles := make([]Handle, 0, len(sizes))
	for _, size := range sizes {
		h, err := a.Allocate(size)
		require.NoError(t, err)
		handles = append(handles, h)
	}

	checkBounds := func(t *testing.T, h Handle, size int) {
		_, err := a.Write(h, 0, []byte("A"), 1)
		assert.NoError(t, err)
		_, err = a.Write(h, size-1, []byte("B"), 1)
		assert.NoError(t, err)
		_, err = a.Write(h, size, []byte("C"), 1)
		assert.True(t, errors.Is(err, ErrOutOfBounds))
	}

	for i, h := range handles {
		checkBounds(t, h, sizes[i])
	}

	require.NoError(t, a.Free(handles[0]))
	checkBounds(t, handles[1], sizes[1])
	checkBounds(t, handles[2], sizes[2])

	require.NoError(t, a.Free(handles[1]))
	checkBounds(t, handles[2], sizes[2])
	require.NoError(t, a.Free(handles[2]))

	assert.Equal(t, []uint32{0}, a.contentOfList())
}

func TestArenaWrite_OutOfBounds(t *testing.T) {
	a, _ := newTestArena(t, 1024)
	h, err := a.Allocate(64)
	require.NoError(t, err)

	data := make([]byte, 128)
	table := []struct {
		name   string
		offset int
		length int
	}{
		{name: "too-long", offset: 0, length: 65},
		{name: "straddles-limit", offset: 60, length: 5},
		{name: "offset-past-limit", offset: 65, length: 0},
		{name: "negative-offset", offset: -1, length: 1},
		{name: "negative-length", offset: 0, length: -1},
		{name: "overflow-offset", offset: math.MaxInt, length: 1},
		{name: "overflow-length", offset: 1, length: math.MaxInt},
		{name: "overflow-both", offset: math.MaxInt, length: math.MaxInt},
	}

	for _, e := range table {
		t.Run(e.name, func(t *testing.T) {
			n, err := a.Write(h, e.offset, data, e.length)
			assert.True(t, errors.Is(err, ErrOutOfBounds), "got %v", err)
			assert.Equal(t, 0, n)
		})
	}
}

func TestArenaWrite_ZeroLength(t *testing.T) {
	a, _ := newTestArena(t, 1024)
	h, err := a.Allocate(64)
	require.NoError(t, err)

	n, err := a.Write(h, 0, nil, 0)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = a.Write(h, 64, nil, 0)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestArenaWrite_ShortSource(t *testing.T) {
	a, _ := newTestArena(t, 1024)
	h, err := a.Allocate(64)
	require.NoError(t, err)

	n, err := a.Write(h, 0, []byte("ab"), 3)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
	assert.Equal(t, 0, n)
	assert.Equal(t, make([]byte, 64), a.payload(h))
}

func TestArenaWrite_UsesRecordedUsableSize(t *testing.T) {
	a, _ := newTestArena(t, 1024)

	// 61 bytes round up to a 96 byte block, only 61 are usable
	h, err := a.Allocate(61)
	require.NoError(t, err)
	assert.Equal(t, 96, a.Blocks()[0].Size)

	_, err = a.Write(h, 60, []byte("x"), 1)
	assert.NoError(t, err)
	_, err = a.Write(h, 61, []byte("x"), 1)
	assert.True(t, errors.Is(err, ErrOutOfBounds))
}

func TestArenaWrite_FailureLeavesArenaUnchanged(t *testing.T) {
	a, buf := newTestArena(t, 1024)

	h1, err := a.Allocate(32)
	require.NoError(t, err)
	h2, err := a.Allocate(32)
	require.NoError(t, err)

	_, err = a.Write(h2, 0, bytes.Repeat([]byte{0x7e}, 32), 32)
	require.NoError(t, err)
	_, err = a.Write(h1, 0, bytes.Repeat([]byte{0x11}, 32), 32)
	require.NoError(t, err)

	snapshot := append([]byte(nil), buf...)
	blocks := a.Blocks()

	big := bytes.Repeat([]byte{0xff}, 128)
	_, err = a.Write(h1, 0, big, 33)
	assert.True(t, errors.Is(err, ErrOutOfBounds))
	_, err = a.Write(h1, 16, big, 100)
	assert.True(t, errors.Is(err, ErrOutOfBounds))

	assert.True(t, bytes.Equal(snapshot, buf))
	assert.Equal(t, blocks, a.Blocks())
	assert.Equal(t, bytes.Repeat([]byte{0x7e}, 32), a.payload(h2))

	size, err := a.UsableSize(h2)
	require.NoError(t, err)
	assert.Equal(t, 32, size)
	assert.NoError(t, a.Validate())
}

func TestArenaWrite_InvalidHandle(t *testing.T) {
	a, _ := newTestArena(t, 1024)
	h, err := a.Allocate(64)
	require.NoError(t, err)
	require.NoError(t, a.Free(h))

	n, err := a.Write(h, 0, []byte("x"), 1)
	assert.True(t, errors.Is(err, ErrInvalidHandle))
	assert.Equal(t, 0, n)

	// handle is checked before bounds
	_, err = a.Write(h, 1000, []byte("x"), 1)
	assert.True(t, errors.Is(err, ErrInvalidHandle))

	_, err = a.Write(Handle{}, 0, nil, 0)
	assert.True(t, errors.Is(err, ErrInvalidHandle))
}
