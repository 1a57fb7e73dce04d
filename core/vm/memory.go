package vm

import "github.com/palaseus/deo/core/word"

// Memory is the byte-addressable execution memory. It grows
// monotonically in 32-byte words; expansion gas is charged by the
// dispatch loop before any handler touches a new region.
type Memory struct {
	store []byte
}

// NewMemory returns a new empty memory.
func NewMemory() *Memory {
	return &Memory{}
}

// Resize grows memory to at least size bytes, rounded up to a 32-byte
// boundary. Shrinking never happens.
func (m *Memory) Resize(size uint64) {
	size = (size + 31) / 32 * 32
	if uint64(len(m.store)) < size {
		m.store = append(m.store, make([]byte, size-uint64(len(m.store)))...)
	}
}

// Set copies value into memory at the given offset. The region must
// already be sized.
func (m *Memory) Set(offset, size uint64, value []byte) {
	if size == 0 {
		return
	}
	copy(m.store[offset:offset+size], value)
}

// SetWord writes the 32-byte big-endian form of val at offset.
func (m *Memory) SetWord(offset uint64, val word.Word256) {
	b := val.Bytes32()
	copy(m.store[offset:offset+32], b[:])
}

// SetByte writes a single byte at offset.
func (m *Memory) SetByte(offset uint64, b byte) {
	m.store[offset] = b
}

// Word reads the 32-byte big-endian word at offset.
func (m *Memory) Word(offset uint64) word.Word256 {
	return word.FromBytes(m.store[offset : offset+32])
}

// Get returns a copy of memory at [offset, offset+size).
func (m *Memory) Get(offset, size uint64) []byte {
	if size == 0 {
		return []byte{}
	}
	out := make([]byte, size)
	copy(out, m.store[offset:offset+size])
	return out
}

// GetPtr returns a direct slice reference at [offset, offset+size).
func (m *Memory) GetPtr(offset, size uint64) []byte {
	if size == 0 {
		return nil
	}
	return m.store[offset : offset+size]
}

// Len returns the current memory length in bytes (always a multiple of 32).
func (m *Memory) Len() int {
	return len(m.store)
}

// Data returns the full backing slice.
func (m *Memory) Data() []byte {
	return m.store
}
