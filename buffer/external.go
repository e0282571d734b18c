package buffer

import (
	"context"

	bridge "github.com/wippyai/interop-bridge"
	"github.com/wippyai/interop-bridge/errors"
)

// External is a native view of a buffer owned by the managed runtime.
// Every accessor re-reads the header, since the managed side may move the
// data region when it grows the buffer.
type External struct {
	mem     bridge.Memory
	realloc Reallocator
	addr    Address
}

// NewExternal wraps an external address. The address tag and the header's
// external flag must agree.
func NewExternal(mem bridge.Memory, addr Address, realloc Reallocator) (*External, error) {
	kind, err := addr.Classify()
	if err != nil {
		return nil, err
	}
	if kind != KindExternal {
		return nil, errors.New(errors.PhaseResolve, errors.KindProtocolViolation).
			Address(uint64(addr)).Detail("%s address wrapped as external", kind).Build()
	}
	if mem == nil {
		return nil, errors.NotInitialized(errors.PhaseResolve, "managed memory")
	}

	hdr, err := ReadHeader(mem, addr.header())
	if err != nil {
		return nil, errors.New(errors.PhaseResolve, errors.KindProtocolViolation).
			Address(uint64(addr)).Cause(err).Detail("unreadable header").Build()
	}
	if !hdr.Flags.External() {
		return nil, errors.New(errors.PhaseResolve, errors.KindProtocolViolation).
			Address(uint64(addr)).Value(hdr.Flags).Detail("header flags %#x lack the external bit", uint32(hdr.Flags)).Build()
	}

	return &External{mem: mem, realloc: realloc, addr: addr}, nil
}

func (b *External) sealed() {}

// Address returns the external address.
func (b *External) Address() Address {
	return b.addr
}

// Kind returns KindExternal.
func (b *External) Kind() Kind {
	return KindExternal
}

// Header returns the current header.
func (b *External) Header() (Header, error) {
	return ReadHeader(b.mem, b.addr.header())
}

// Capacity returns the current capacity, or 0 if the header is unreadable.
func (b *External) Capacity() int32 {
	h, err := b.Header()
	if err != nil {
		return 0
	}
	return h.Capacity
}

// Length returns the published length, or 0 if the header is unreadable.
func (b *External) Length() int32 {
	h, err := b.Header()
	if err != nil {
		return 0
	}
	return h.Length
}

// SetLength publishes n bytes to the managed side.
func (b *External) SetLength(n int32) error {
	h, err := b.Header()
	if err != nil {
		return err
	}
	if n < 0 || n > h.Capacity {
		return errors.OutOfBounds(errors.PhaseEncode, int(n), 0, int(h.Capacity))
	}
	if err := b.mem.WriteU32(b.addr.header()+headerOffLength, uint32(n)); err != nil {
		return errors.Wrap(errors.PhaseEncode, errors.KindOutOfBounds, err, "write header length")
	}
	return nil
}

// Flags returns the header flags, or 0 if the header is unreadable.
func (b *External) Flags() Flags {
	h, err := b.Header()
	if err != nil {
		return 0
	}
	return h.Flags
}

// ReadAt copies len(p) bytes at off out of managed memory.
func (b *External) ReadAt(p []byte, off int32) error {
	h, err := b.Header()
	if err != nil {
		return err
	}
	if !checkRange(off, len(p), h.Capacity) {
		return errors.OutOfBounds(errors.PhaseDecode, int(off), len(p), int(h.Capacity))
	}
	if len(p) == 0 {
		return nil
	}
	data, err := b.mem.Read(uint32(h.Data)+uint32(off), uint32(len(p)))
	if err != nil {
		return errors.Wrap(errors.PhaseDecode, errors.KindOutOfBounds, err, "read managed memory")
	}
	copy(p, data)
	return nil
}

// WriteAt copies p into managed memory at off.
func (b *External) WriteAt(p []byte, off int32) error {
	h, err := b.Header()
	if err != nil {
		return err
	}
	if !checkRange(off, len(p), h.Capacity) {
		return errors.OutOfBounds(errors.PhaseEncode, int(off), len(p), int(h.Capacity))
	}
	if len(p) == 0 {
		return nil
	}
	if err := b.mem.Write(uint32(h.Data)+uint32(off), p); err != nil {
		return errors.Wrap(errors.PhaseEncode, errors.KindOutOfBounds, err, "write managed memory")
	}
	return nil
}

// Reallocate asks the managed side to grow the buffer and verifies the
// header afterwards. Native code never allocates managed memory.
func (b *External) Reallocate(ctx context.Context, capacity int32) error {
	h, err := b.Header()
	if err != nil {
		return err
	}
	if capacity <= h.Capacity {
		return nil
	}
	if b.realloc == nil {
		return errors.New(errors.PhaseRealloc, errors.KindAllocation).
			Address(uint64(b.addr)).Detail("no reallocation callback for external buffer").Build()
	}

	if err := b.realloc.ReallocateExternal(ctx, b.addr, capacity); err != nil {
		return errors.New(errors.PhaseRealloc, errors.KindAllocation).
			Address(uint64(b.addr)).Value(capacity).Cause(err).
			Detail("managed side failed to grow to %d bytes", capacity).Build()
	}

	h, err = b.Header()
	if err != nil {
		return err
	}
	if h.Capacity < capacity {
		return errors.New(errors.PhaseRealloc, errors.KindAllocation).
			Address(uint64(b.addr)).Value(capacity).
			Detail("managed side grew to %d bytes, need %d", h.Capacity, capacity).Build()
	}
	return nil
}

// Release is a no-op: the managed runtime owns the memory.
func (b *External) Release() {}

var _ Buffer = (*External)(nil)
