package buffer

import (
	"context"
	"encoding/binary"
	"fmt"
)

// sliceMemory is a growable in-process stand-in for a managed heap.
type sliceMemory struct {
	data []byte
}

func (m *sliceMemory) check(offset, length uint32) error {
	if uint64(offset)+uint64(length) > uint64(len(m.data)) {
		return fmt.Errorf("out of bounds: offset=%d, length=%d", offset, length)
	}
	return nil
}

func (m *sliceMemory) Read(offset, length uint32) ([]byte, error) {
	if err := m.check(offset, length); err != nil {
		return nil, err
	}
	out := make([]byte, length)
	copy(out, m.data[offset:])
	return out, nil
}

func (m *sliceMemory) Write(offset uint32, data []byte) error {
	if err := m.check(offset, uint32(len(data))); err != nil {
		return err
	}
	copy(m.data[offset:], data)
	return nil
}

func (m *sliceMemory) ReadU32(offset uint32) (uint32, error) {
	if err := m.check(offset, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(m.data[offset:]), nil
}

func (m *sliceMemory) ReadU64(offset uint32) (uint64, error) {
	if err := m.check(offset, 8); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(m.data[offset:]), nil
}

func (m *sliceMemory) WriteU32(offset uint32, value uint32) error {
	if err := m.check(offset, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(m.data[offset:], value)
	return nil
}

func (m *sliceMemory) WriteU64(offset uint32, value uint64) error {
	if err := m.check(offset, 8); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(m.data[offset:], value)
	return nil
}

// testHeap bump-allocates headers and data regions in a sliceMemory and
// plays the managed side's reallocation role.
type testHeap struct {
	mem     *sliceMemory
	next    uint32
	calls   int
	shortBy int32
	fail    error
}

func newTestHeap() *testHeap {
	return &testHeap{mem: &sliceMemory{}, next: 8}
}

func (h *testHeap) alloc(size uint32) uint32 {
	p := (h.next + HeaderAlign - 1) &^ (HeaderAlign - 1)
	h.next = p + size
	if int(h.next) > len(h.mem.data) {
		grown := make([]byte, h.next*2)
		copy(grown, h.mem.data)
		h.mem.data = grown
	}
	return p
}

func (h *testHeap) newBuffer(capacity int32, flags Flags) Address {
	hdr := h.alloc(HeaderSize)
	data := h.alloc(uint32(capacity))
	if err := WriteHeader(h.mem, hdr, Header{Data: uint64(data), Capacity: capacity, Flags: flags}); err != nil {
		panic(err)
	}
	return ExternalAddress(hdr)
}

func (h *testHeap) ReallocateExternal(_ context.Context, addr Address, capacity int32) error {
	h.calls++
	if h.fail != nil {
		return h.fail
	}

	hdr, err := ReadHeader(h.mem, addr.header())
	if err != nil {
		return err
	}
	capacity -= h.shortBy
	data := h.alloc(uint32(capacity))
	old, _ := h.mem.Read(uint32(hdr.Data), uint32(hdr.Capacity))
	h.mem.Write(data, old)

	hdr.Data = uint64(data)
	hdr.Capacity = capacity
	return WriteHeader(h.mem, addr.header(), hdr)
}
