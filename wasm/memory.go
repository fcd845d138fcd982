package wasm

// MemoryPageSize is the size of one linear memory page in bytes.
const MemoryPageSize = 65536

// MemoryInstance is a runtime linear memory.
type MemoryInstance struct {
	Buffer []byte
	Min    uint32
	Max    *uint32
}

func newMemoryInstance(mem *MemoryType) *MemoryInstance {
	return &MemoryInstance{
		Buffer: make([]byte, uint64(mem.Min)*MemoryPageSize),
		Min:    mem.Min,
		Max:    mem.Max,
	}
}

// ReadByte returns the byte at addr, trapping when addr is out of bounds.
func (m *MemoryInstance) ReadByte(addr uint32) (byte, error) {
	if uint64(addr) >= uint64(len(m.Buffer)) {
		return 0, ErrRuntimeOutOfBoundsMemoryAccess
	}
	return m.Buffer[addr], nil
}

// WriteByte stores b at addr, trapping when addr is out of bounds.
func (m *MemoryInstance) WriteByte(addr uint32, b byte) error {
	if uint64(addr) >= uint64(len(m.Buffer)) {
		return ErrRuntimeOutOfBoundsMemoryAccess
	}
	m.Buffer[addr] = b
	return nil
}
