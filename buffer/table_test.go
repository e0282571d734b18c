package buffer

import (
	"testing"

	"github.com/wippyai/interop-bridge/errors"
)

func TestTable_AllocateLookupRelease(t *testing.T) {
	tbl := NewTable(1 << 20)

	buf, err := tbl.Allocate(DefaultAllocationSize)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if buf.Capacity() != DefaultAllocationSize {
		t.Errorf("Capacity = %d", buf.Capacity())
	}
	if buf.Address().Tag() != KindOwned {
		t.Errorf("Address tag = %v", buf.Address().Tag())
	}
	if tbl.Len() != 1 {
		t.Errorf("Len = %d", tbl.Len())
	}

	got, err := tbl.Lookup(buf.Address())
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got != buf {
		t.Fatalf("Lookup returned a different buffer")
	}

	addr := buf.Address()
	buf.Release()
	if tbl.Len() != 0 {
		t.Errorf("Len after release = %d", tbl.Len())
	}
	if _, err := tbl.Lookup(addr); !errors.IsKind(err, errors.KindProtocolViolation) {
		t.Errorf("lookup of released buffer: %v", err)
	}
	if buf.Flags() != 0 {
		t.Errorf("released buffer still acquired")
	}
}

func TestTable_StaleAddressAfterSlotReuse(t *testing.T) {
	tbl := NewTable(1 << 20)

	first, _ := tbl.Allocate(8)
	stale := first.Address()
	first.Release()

	second, _ := tbl.Allocate(8)
	if second.Address() == stale {
		t.Fatalf("reused slot produced identical address")
	}
	if _, err := tbl.Lookup(stale); err == nil {
		t.Fatalf("stale address resolved")
	}
}

func TestTable_Resolve(t *testing.T) {
	tbl := NewTable(1 << 20)
	h := newTestHeap()

	owned, _ := tbl.Allocate(32)
	got, err := tbl.Resolve(owned.Address(), h.mem, h)
	if err != nil {
		t.Fatalf("Resolve owned: %v", err)
	}
	if got.(*Owned) != owned {
		t.Fatalf("Resolve returned a different owned buffer")
	}

	addr := h.newBuffer(16, FlagExternal)
	ext, err := tbl.Resolve(addr, h.mem, h)
	if err != nil {
		t.Fatalf("Resolve external: %v", err)
	}
	if ext.Kind() != KindExternal || ext.Capacity() != 16 {
		t.Fatalf("Kind=%v Capacity=%d", ext.Kind(), ext.Capacity())
	}

	bad := h.newBuffer(16, 0)
	if b, err := tbl.Resolve(bad, h.mem, h); err == nil || b != nil {
		t.Fatalf("Resolve of unflagged header = %v, %v", b, err)
	}
	if _, err := tbl.Resolve(0, h.mem, h); !errors.IsKind(err, errors.KindProtocolViolation) {
		t.Fatalf("Resolve(0): %v", err)
	}
}

func TestTable_AllocateLimits(t *testing.T) {
	tbl := NewTable(64)
	if _, err := tbl.Allocate(65); !errors.IsKind(err, errors.KindAllocation) {
		t.Fatalf("expected allocation error, got %v", err)
	}
	if _, err := tbl.Allocate(-1); !errors.IsKind(err, errors.KindInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestTable_Close(t *testing.T) {
	tbl := NewTable(1 << 20)
	a, _ := tbl.Allocate(8)
	b, _ := tbl.Allocate(8)

	if err := tbl.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if a.Flags() != 0 || b.Flags() != 0 {
		t.Fatalf("buffers not dropped on close")
	}
	if _, err := tbl.Allocate(8); err == nil {
		t.Fatalf("Allocate after close succeeded")
	}
}
