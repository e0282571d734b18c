package buffer

import (
	"math"

	bridge "github.com/wippyai/interop-bridge"
	"github.com/wippyai/interop-bridge/errors"
)

// Flags describe a buffer's ownership kind and allocation state.
type Flags uint32

const (
	FlagExternal Flags = 1 << 0
	FlagPooled   Flags = 1 << 1
	FlagAcquired Flags = 1 << 2
)

// External reports whether the external bit is set.
func (f Flags) External() bool {
	return f&FlagExternal != 0
}

// DefaultAllocationSize is the capacity used when no hint is given.
const DefaultAllocationSize int32 = 1024

// Managed header layout, little endian. The header address stays fixed for
// the buffer's life; the managed side may move the data region it points to.
const (
	HeaderSize  = 20
	HeaderAlign = 8

	headerOffData     = 0
	headerOffCapacity = 8
	headerOffLength   = 12
	headerOffFlags    = 16
)

// Header mirrors the header of a buffer living in the managed heap.
type Header struct {
	Data     uint64
	Capacity int32
	Length   int32
	Flags    Flags
}

// ReadHeader decodes the header at offset. The data region it names must
// fit in 32-bit address space, and in mem when mem reports its size.
func ReadHeader(mem bridge.Memory, offset uint32) (Header, error) {
	var h Header

	if uint64(offset)+HeaderSize > math.MaxUint32 {
		return h, errors.New(errors.PhaseDecode, errors.KindOutOfBounds).
			Value(offset).Detail("header at %#x runs past 32-bit address space", offset).Build()
	}

	data, err := mem.ReadU64(offset + headerOffData)
	if err != nil {
		return h, errors.Wrap(errors.PhaseDecode, errors.KindOutOfBounds, err, "read header data pointer")
	}
	capacity, err := mem.ReadU32(offset + headerOffCapacity)
	if err != nil {
		return h, errors.Wrap(errors.PhaseDecode, errors.KindOutOfBounds, err, "read header capacity")
	}
	length, err := mem.ReadU32(offset + headerOffLength)
	if err != nil {
		return h, errors.Wrap(errors.PhaseDecode, errors.KindOutOfBounds, err, "read header length")
	}
	flags, err := mem.ReadU32(offset + headerOffFlags)
	if err != nil {
		return h, errors.Wrap(errors.PhaseDecode, errors.KindOutOfBounds, err, "read header flags")
	}

	h = Header{
		Data:     data,
		Capacity: int32(capacity),
		Length:   int32(length),
		Flags:    Flags(flags),
	}
	if h.Capacity < 0 || h.Length < 0 || h.Length > h.Capacity {
		return h, errors.New(errors.PhaseDecode, errors.KindInvalidData).
			Value(h).Detail("corrupt header at %#x", offset).Build()
	}

	limit := uint64(math.MaxUint32)
	// a full 4 GiB memory reports size 0
	if sz, ok := mem.(bridge.MemorySizer); ok && sz.Size() != 0 {
		limit = uint64(sz.Size())
	}
	if end := h.Data + uint64(h.Capacity); end < h.Data || end > limit {
		return h, errors.New(errors.PhaseDecode, errors.KindInvalidData).
			Value(h).Detail("data region [%#x, +%d) of header at %#x exceeds memory of %d bytes", h.Data, h.Capacity, offset, limit).Build()
	}
	return h, nil
}

// WriteHeader encodes h at offset.
func WriteHeader(mem bridge.Memory, offset uint32, h Header) error {
	if err := mem.WriteU64(offset+headerOffData, h.Data); err != nil {
		return errors.Wrap(errors.PhaseEncode, errors.KindOutOfBounds, err, "write header data pointer")
	}
	if err := mem.WriteU32(offset+headerOffCapacity, uint32(h.Capacity)); err != nil {
		return errors.Wrap(errors.PhaseEncode, errors.KindOutOfBounds, err, "write header capacity")
	}
	if err := mem.WriteU32(offset+headerOffLength, uint32(h.Length)); err != nil {
		return errors.Wrap(errors.PhaseEncode, errors.KindOutOfBounds, err, "write header length")
	}
	if err := mem.WriteU32(offset+headerOffFlags, uint32(h.Flags)); err != nil {
		return errors.Wrap(errors.PhaseEncode, errors.KindOutOfBounds, err, "write header flags")
	}
	return nil
}
