package wasm

import (
	"encoding/binary"
	"math"
)

// PageSize is the size of one linear memory page: 64KiB.
const PageSize uint64 = 65536

// maxMemoryPages caps linear memory at 4GiB regardless of declared limits.
const maxMemoryPages uint32 = 65536

// MemoryInstance is a linear memory. Buffer length is always a multiple of
// PageSize. Engines cache the buffer address, so any reallocation must go
// through Grow.
type MemoryInstance struct {
	Buffer []byte
	Min    uint32
	Max    *uint32
}

// PageCount returns the current size in pages.
func (m *MemoryInstance) PageCount() uint32 {
	return uint32(uint64(len(m.Buffer)) / PageSize)
}

// Grow appends newPages zero-filled pages and returns the previous page
// count. Growing past the declared maximum returns -1 and leaves the
// memory untouched; it is not a trap.
func (m *MemoryInstance) Grow(newPages uint32) int32 {
	current := m.PageCount()
	total := uint64(current) + uint64(newPages)
	if m.Max != nil && total > uint64(*m.Max) {
		return -1
	}
	if total > uint64(maxMemoryPages) {
		return -1
	}
	m.Buffer = append(m.Buffer, make([]byte, uint64(newPages)*PageSize)...)
	return int32(current)
}

// Len returns the size in bytes.
func (m *MemoryInstance) Len() uint32 {
	return uint32(len(m.Buffer))
}

// hasLen returns true if Len is sufficient for sizeInBytes at the given offset.
func (m *MemoryInstance) hasLen(offset uint32, sizeInBytes uint32) bool {
	return uint64(offset)+uint64(sizeInBytes) <= uint64(m.Len())
}

func (m *MemoryInstance) ReadUint32Le(offset uint32) (uint32, bool) {
	if !m.hasLen(offset, 4) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(m.Buffer[offset : offset+4]), true
}

func (m *MemoryInstance) ReadUint64Le(offset uint32) (uint64, bool) {
	if !m.hasLen(offset, 8) {
		return 0, false
	}
	return binary.LittleEndian.Uint64(m.Buffer[offset : offset+8]), true
}

func (m *MemoryInstance) ReadFloat64Le(offset uint32) (float64, bool) {
	v, ok := m.ReadUint64Le(offset)
	if !ok {
		return 0, false
	}
	return math.Float64frombits(v), true
}

func (m *MemoryInstance) Read(offset, byteCount uint32) ([]byte, bool) {
	if !m.hasLen(offset, byteCount) {
		return nil, false
	}
	return m.Buffer[offset : offset+byteCount], true
}

func (m *MemoryInstance) WriteUint32Le(offset uint32, v uint32) bool {
	if !m.hasLen(offset, 4) {
		return false
	}
	binary.LittleEndian.PutUint32(m.Buffer[offset:], v)
	return true
}

func (m *MemoryInstance) WriteUint64Le(offset uint32, v uint64) bool {
	if !m.hasLen(offset, 8) {
		return false
	}
	binary.LittleEndian.PutUint64(m.Buffer[offset:], v)
	return true
}

func (m *MemoryInstance) WriteFloat64Le(offset uint32, v float64) bool {
	return m.WriteUint64Le(offset, math.Float64bits(v))
}

func (m *MemoryInstance) Write(offset uint32, val []byte) bool {
	if !m.hasLen(offset, uint32(len(val))) {
		return false
	}
	copy(m.Buffer[offset:], val)
	return true
}
