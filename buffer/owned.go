package buffer

import (
	"context"
	"sync"

	"github.com/wippyai/interop-bridge/errors"
)

// Owned is a buffer allocated and resized by native code.
type Owned struct {
	release  func()
	data     []byte
	mu       sync.RWMutex
	addr     Address
	length   int32
	max      int32
	released bool
}

// NewOwned allocates an unregistered owned buffer. Use Table.Allocate for
// buffers that must be addressable from the managed side.
func NewOwned(capacity, maxCapacity int32) (*Owned, error) {
	if capacity <= 0 {
		return nil, errors.InvalidInput(errors.PhaseAlloc, "capacity must be positive")
	}
	if capacity > maxCapacity {
		return nil, errors.AllocationFailed(errors.PhaseAlloc, capacity, maxCapacity)
	}
	return &Owned{
		data: make([]byte, capacity),
		max:  maxCapacity,
	}, nil
}

func (b *Owned) sealed() {}

// Address returns the cross-boundary address, or 0 if unregistered.
func (b *Owned) Address() Address {
	return b.addr
}

// Kind returns KindOwned.
func (b *Owned) Kind() Kind {
	return KindOwned
}

// Capacity returns the current capacity.
func (b *Owned) Capacity() int32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return int32(len(b.data))
}

// Length returns the published length.
func (b *Owned) Length() int32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.length
}

// SetLength publishes n bytes.
func (b *Owned) SetLength(n int32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return b.releasedErr(errors.PhaseEncode)
	}
	if n < 0 || n > int32(len(b.data)) {
		return errors.OutOfBounds(errors.PhaseEncode, int(n), 0, len(b.data))
	}
	b.length = n
	return nil
}

// Flags returns FlagAcquired while the buffer is live and 0 after release.
func (b *Owned) Flags() Flags {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.released {
		return 0
	}
	return FlagAcquired
}

// ReadAt copies len(p) bytes at off into p.
func (b *Owned) ReadAt(p []byte, off int32) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.released {
		return b.releasedErr(errors.PhaseDecode)
	}
	if !checkRange(off, len(p), int32(len(b.data))) {
		return errors.OutOfBounds(errors.PhaseDecode, int(off), len(p), len(b.data))
	}
	copy(p, b.data[off:])
	return nil
}

// WriteAt copies p into the buffer at off.
func (b *Owned) WriteAt(p []byte, off int32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return b.releasedErr(errors.PhaseEncode)
	}
	if !checkRange(off, len(p), int32(len(b.data))) {
		return errors.OutOfBounds(errors.PhaseEncode, int(off), len(p), len(b.data))
	}
	copy(b.data[off:], p)
	return nil
}

// Bytes returns a copy of the published bytes.
func (b *Owned) Bytes() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]byte, b.length)
	copy(out, b.data)
	return out
}

// Reallocate grows the buffer to exactly capacity bytes when larger than
// the current capacity. Smaller requests are no-ops.
func (b *Owned) Reallocate(_ context.Context, capacity int32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return b.releasedErr(errors.PhaseRealloc)
	}
	if capacity <= int32(len(b.data)) {
		return nil
	}
	if capacity > b.max {
		return errors.New(errors.PhaseRealloc, errors.KindAllocation).
			Address(uint64(b.addr)).Value(capacity).
			Detail("cannot provide %d bytes (limit %d)", capacity, b.max).Build()
	}

	grown := make([]byte, capacity)
	copy(grown, b.data)
	b.data = grown
	return nil
}

// Release removes the buffer from its table, or drops it directly if it
// was never registered. Releasing twice is a no-op.
func (b *Owned) Release() {
	b.mu.Lock()
	release := b.release
	b.release = nil
	b.mu.Unlock()

	if release != nil {
		release()
		return
	}
	b.Drop()
}

// Drop implements resource.Dropper.
func (b *Owned) Drop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.released = true
	b.release = nil
	b.data = nil
	b.length = 0
}

func (b *Owned) releasedErr(phase errors.Phase) error {
	return errors.New(phase, errors.KindProtocolViolation).
		Address(uint64(b.addr)).Detail("buffer used after release").Build()
}

var _ Buffer = (*Owned)(nil)
