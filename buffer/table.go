package buffer

import (
	bridge "github.com/wippyai/interop-bridge"
	"github.com/wippyai/interop-bridge/errors"
	"github.com/wippyai/interop-bridge/resource"
)

const ownedTypeID = 1

// Table registers owned buffers so the managed side can refer to them by
// address, and resolves addresses back into buffers.
type Table struct {
	entries *resource.UnifiedTable
	max     int32
}

// NewTable creates a table whose buffers may grow up to maxCapacity bytes.
func NewTable(maxCapacity int32) *Table {
	return &Table{
		entries: resource.NewTable(),
		max:     maxCapacity,
	}
}

// Allocate creates and registers an owned buffer.
func (t *Table) Allocate(capacity int32) (*Owned, error) {
	buf, err := NewOwned(capacity, t.max)
	if err != nil {
		return nil, err
	}

	h := t.entries.Insert(ownedTypeID, buf)
	if h == 0 {
		return nil, errors.ProtocolViolation(errors.PhaseAlloc, "buffer table closed")
	}

	buf.addr = OwnedAddress(h)
	buf.release = func() { t.entries.Remove(h) }
	return buf, nil
}

// Lookup returns the live owned buffer registered under addr.
func (t *Table) Lookup(addr Address) (*Owned, error) {
	kind, err := addr.Classify()
	if err != nil {
		return nil, err
	}
	if kind != KindOwned {
		return nil, errors.New(errors.PhaseResolve, errors.KindInvalidInput).
			Address(uint64(addr)).Detail("%s address is not table-owned", kind).Build()
	}

	v, ok := t.entries.GetTyped(addr.handle(), ownedTypeID)
	if !ok {
		return nil, errors.New(errors.PhaseResolve, errors.KindProtocolViolation).
			Address(uint64(addr)).Detail("no live owned buffer").Build()
	}
	return v.(*Owned), nil
}

// Resolve classifies addr once and returns the matching variant: the
// registered *Owned, or a new *External over mem.
func (t *Table) Resolve(addr Address, mem bridge.Memory, realloc Reallocator) (Buffer, error) {
	kind, err := addr.Classify()
	if err != nil {
		return nil, err
	}

	if kind == KindExternal {
		ext, err := NewExternal(mem, addr, realloc)
		if err != nil {
			return nil, err
		}
		return ext, nil
	}

	owned, err := t.Lookup(addr)
	if err != nil {
		return nil, err
	}
	return owned, nil
}

// Len returns the number of live owned buffers.
func (t *Table) Len() int {
	return t.entries.Len()
}

// Close releases every owned buffer still registered.
func (t *Table) Close() error {
	return t.entries.Close()
}
