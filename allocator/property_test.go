package allocator

import (
	"bytes"
	"sort"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type liveBlock struct {
	handle   Handle
	start    int // payload offset in the buffer
	usable   int
	contents []byte
}

type arenaModel struct {
	arena *Arena
	buf   []byte
	live  []*liveBlock
	freed []Handle
}

func (m *arenaModel) allocate(t *rapid.T) {
	size := rapid.IntRange(-2, m.arena.Capacity()).Draw(t, "size")
	h, err := m.arena.Allocate(size)
	if size <= 0 {
		require.True(t, errors.Is(err, ErrInvalidArgument), "size %d: %v", size, err)
		return
	}
	if err != nil {
		require.True(t, errors.Is(err, ErrOutOfMemory), "size %d: %v", size, err)
		require.Less(t, m.arena.Stats().LargestFree, size)
		return
	}
	m.live = append(m.live, &liveBlock{
		handle:   h,
		start:    int(m.arena.base + h.addr),
		usable:   size,
		contents: append([]byte(nil), m.arena.bytes(h.addr, uint32(size))...),
	})
}

func (m *arenaModel) free(t *rapid.T) {
	if len(m.live) == 0 {
		return
	}
	i := rapid.IntRange(0, len(m.live)-1).Draw(t, "block")
	b := m.live[i]
	require.NoError(t, m.arena.Free(b.handle))
	m.live = append(m.live[:i], m.live[i+1:]...)
	m.freed = append(m.freed, b.handle)
}

func (m *arenaModel) write(t *rapid.T) {
	if len(m.live) == 0 {
		return
	}
	b := m.live[rapid.IntRange(0, len(m.live)-1).Draw(t, "block")]
	offset := rapid.IntRange(-1, b.usable+2).Draw(t, "offset")
	length := rapid.IntRange(-1, b.usable+2).Draw(t, "length")
	data := bytes.Repeat([]byte{byte(rapid.IntRange(1, 255).Draw(t, "fill"))}, b.usable+4)

	n, err := m.arena.Write(b.handle, offset, data, length)
	fits := offset >= 0 && length >= 0 && offset+length <= b.usable
	if !fits {
		require.True(t, errors.Is(err, ErrOutOfBounds), "offset %d length %d usable %d: %v", offset, length, b.usable, err)
		require.Equal(t, 0, n)
		return
	}
	require.NoError(t, err)
	require.Equal(t, length, n)
	copy(b.contents[offset:], data[:length])
}

func (m *arenaModel) useFreed(t *rapid.T) {
	if len(m.freed) == 0 {
		return
	}
	h := m.freed[rapid.IntRange(0, len(m.freed)-1).Draw(t, "freed")]
	require.True(t, errors.Is(m.arena.Free(h), ErrInvalidHandle))
	_, err := m.arena.Write(h, 0, []byte{0}, 1)
	require.True(t, errors.Is(err, ErrInvalidHandle))
}

func (m *arenaModel) check(t *rapid.T) {
	require.NoError(t, m.arena.Validate())

	sorted := append([]*liveBlock(nil), m.live...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].start < sorted[j].start })
	for i, b := range sorted {
		require.GreaterOrEqual(t, b.start, 0)
		require.LessOrEqual(t, b.start+b.usable, m.arena.Capacity())
		if i > 0 {
			prev := sorted[i-1]
			require.LessOrEqual(t, prev.start+prev.usable, b.start, "live blocks overlap")
		}

		size, err := m.arena.UsableSize(b.handle)
		require.NoError(t, err)
		require.Equal(t, b.usable, size)
		require.Equal(t, b.contents, m.buf[b.start:b.start+b.usable])
	}

	s := m.arena.Stats()
	require.Equal(t, len(m.live), s.AllocatedBlocks)
	require.Equal(t, s.Managed, s.AllocatedBytes+s.FreeBytes)
}

func TestArenaProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(MinCapacity, 4096).Draw(t, "capacity")
		placement := rapid.SampledFrom([]Placement{FirstFit, BestFit}).Draw(t, "placement")
		skew := rapid.IntRange(0, 7).Draw(t, "skew")

		buf := alignedBuffer(capacity + 8)[skew:]
		var a Arena
		if err := a.Init(buf, capacity, WithPlacement(placement)); err != nil {
			require.True(t, errors.Is(err, ErrInvalidArgument))
			return
		}

		m := &arenaModel{arena: &a, buf: buf}
		steps := rapid.IntRange(1, 200).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 3).Draw(t, "op") {
			case 0:
				m.allocate(t)
			case 1:
				m.free(t)
			case 2:
				m.write(t)
			case 3:
				m.useFreed(t)
			}
			m.check(t)
		}

		for len(m.live) > 0 {
			m.free(t)
		}
		m.check(t)
		assert.Len(t, a.FreeList(), 1)
		assert.Equal(t, a.Stats().Managed, a.FreeList()[0].Size)
	})
}
