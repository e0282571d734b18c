package resource

import (
	"errors"
	"sync"
)

var (
	ErrClosed            = errors.New("resource backend closed")
	ErrOutstandingBorrow = errors.New("cannot drop resource with outstanding borrows")
)

// LocalBackend is an in-memory backend with generation-checked handles and
// borrow tracking. It implements the Backend interface.
type LocalBackend struct {
	entries  []entry
	freeList []uint32
	mu       sync.RWMutex
	closed   bool
}

type entry struct {
	value       any
	drained     chan struct{}
	typeID      uint32
	generation  uint32
	borrowCount uint32
	valid       bool
	retiring    bool
}

// NewLocalBackend creates a new in-memory backend.
func NewLocalBackend() *LocalBackend {
	return &LocalBackend{
		entries:  make([]entry, 0, 16),
		freeList: make([]uint32, 0, 8),
	}
}

// lookup returns the live entry for handle. Caller must hold b.mu.
func (b *LocalBackend) lookup(handle Handle) *entry {
	slot := handle.slot()
	if slot == 0 || int(slot) > len(b.entries) {
		return nil
	}
	e := &b.entries[slot-1]
	if !e.valid || e.generation != handle.Generation() {
		return nil
	}
	return e
}

// Create stores a value and returns a handle.
func (b *LocalBackend) Create(typeID uint32, value any) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrClosed
	}

	if len(b.freeList) > 0 {
		slot := b.freeList[len(b.freeList)-1]
		b.freeList = b.freeList[:len(b.freeList)-1]
		e := &b.entries[slot-1]
		e.typeID = typeID
		e.value = value
		e.valid = true
		return makeHandle(slot, e.generation), nil
	}

	b.entries = append(b.entries, entry{
		typeID: typeID,
		value:  value,
		valid:  true,
	})
	return makeHandle(uint32(len(b.entries)), 0), nil
}

// Get retrieves a value by handle.
func (b *LocalBackend) Get(handle Handle) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e := b.lookup(handle)
	if e == nil {
		return nil, false
	}
	return e.value, true
}

// TypeID returns the type ID for a handle.
func (b *LocalBackend) TypeID(handle Handle) (uint32, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e := b.lookup(handle)
	if e == nil {
		return 0, false
	}
	return e.typeID, true
}

// Borrow increments the borrow count for a live, non-retired handle.
func (b *LocalBackend) Borrow(handle Handle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.lookup(handle)
	if e == nil || e.retiring {
		return false
	}
	e.borrowCount++
	return true
}

// ReturnBorrow decrements the borrow count for a handle.
func (b *LocalBackend) ReturnBorrow(handle Handle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.lookup(handle)
	if e == nil || e.borrowCount == 0 {
		return false
	}

	e.borrowCount--
	if e.borrowCount == 0 && e.drained != nil {
		close(e.drained)
		e.drained = nil
	}
	return true
}

// Retire refuses further borrows on handle. The returned channel is closed
// when the last outstanding borrow is returned, or immediately if there are
// none. Retiring twice fails.
func (b *LocalBackend) Retire(handle Handle) (<-chan struct{}, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.lookup(handle)
	if e == nil || e.retiring {
		return nil, false
	}

	e.retiring = true
	ch := make(chan struct{})
	if e.borrowCount == 0 {
		close(ch)
	} else {
		e.drained = ch
	}
	return ch, true
}

// Drop removes a value and returns (value, true) if the destructor should run.
func (b *LocalBackend) Drop(handle Handle) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.lookup(handle)
	if e == nil || e.borrowCount > 0 {
		return nil, false
	}

	value := e.value
	e.value = nil
	e.valid = false
	e.retiring = false
	e.drained = nil
	e.generation = (e.generation + 1) & generationMask
	b.freeList = append(b.freeList, handle.slot())

	return value, true
}

// Close releases all values. Droppers run after the backend lock is released.
func (b *LocalBackend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true

	var dropped []Dropper
	for i := range b.entries {
		e := &b.entries[i]
		if !e.valid {
			continue
		}
		if d, ok := e.value.(Dropper); ok {
			dropped = append(dropped, d)
		}
		if e.drained != nil {
			close(e.drained)
		}
		e.valid = false
		e.value = nil
		e.drained = nil
	}
	b.entries = nil
	b.freeList = nil
	b.mu.Unlock()

	for _, d := range dropped {
		d.Drop()
	}
	return nil
}

// Len returns the number of live values.
func (b *LocalBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.entries) - len(b.freeList)
}

// Each iterates over all live values.
func (b *LocalBackend) Each(fn func(Handle, uint32, any) bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for i, e := range b.entries {
		if e.valid {
			if !fn(makeHandle(uint32(i+1), e.generation), e.typeID, e.value) {
				break
			}
		}
	}
}
