package bridge

// Memory is a byte-addressed view of a heap owned by the managed runtime.
// Offsets are relative to the start of that heap.
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	ReadU32(offset uint32) (uint32, error)
	ReadU64(offset uint32) (uint64, error)
	WriteU32(offset uint32, value uint32) error
	WriteU64(offset uint32, value uint64) error
}

// MemorySizer provides the current size of a managed heap in bytes.
type MemorySizer interface {
	Size() uint32
}

// Ref is an opaque reference to an object living in the managed runtime.
// The zero Ref is the null reference.
type Ref uint64

// IsNull reports whether r is the null reference.
func (r Ref) IsNull() bool {
	return r == 0
}
