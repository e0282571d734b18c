package buffer

import (
	"context"
)

// Buffer is a variable-capacity byte region that may live on either side
// of the boundary. The concrete type is *Owned or *External and is fixed
// when the buffer is created or resolved.
type Buffer interface {
	// Address returns the cross-boundary address of the buffer, or 0 if it
	// was never registered.
	Address() Address

	// Kind returns the ownership variant.
	Kind() Kind

	// Capacity returns the current capacity in bytes.
	Capacity() int32

	// Length returns the number of bytes published to the other side.
	Length() int32

	// SetLength publishes n bytes. n must not exceed the capacity.
	SetLength(n int32) error

	// Flags returns ownership and allocation flags.
	Flags() Flags

	// ReadAt copies len(p) bytes starting at off into p.
	ReadAt(p []byte, off int32) error

	// WriteAt copies p into the buffer starting at off.
	WriteAt(p []byte, off int32) error

	// Reallocate grows the buffer to at least capacity bytes. Existing
	// bytes are preserved and capacity never decreases. Views previously
	// obtained from the buffer are invalid afterwards.
	Reallocate(ctx context.Context, capacity int32) error

	// Release drops the native wrapper. Managed memory is never freed.
	Release()

	sealed()
}

// Reallocator grows buffers whose memory belongs to the managed runtime.
type Reallocator interface {
	ReallocateExternal(ctx context.Context, addr Address, capacity int32) error
}

func checkRange(off int32, n int, capacity int32) bool {
	return off >= 0 && int64(off)+int64(n) <= int64(capacity)
}
