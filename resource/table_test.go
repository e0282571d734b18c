package resource

import (
	"testing"
)

type testObserver struct {
	events []Event
}

func (o *testObserver) OnResourceEvent(e Event) {
	o.events = append(o.events, e)
}

type dropCounter struct {
	count int
}

func (d *dropCounter) Drop() {
	d.count++
}

func TestUnifiedTable_Basic(t *testing.T) {
	table := NewTable()

	h := table.Insert(1, "test")
	if h == 0 {
		t.Fatal("Expected non-zero handle")
	}

	val, ok := table.Get(h)
	if !ok {
		t.Fatal("Get failed")
	}
	if val != "test" {
		t.Fatalf("Expected 'test', got %v", val)
	}

	if _, ok = table.GetTyped(h, 1); !ok {
		t.Fatal("GetTyped with correct type failed")
	}
	if _, ok = table.GetTyped(h, 2); ok {
		t.Fatal("GetTyped with wrong type should fail")
	}

	val, ok = table.Remove(h)
	if !ok {
		t.Fatal("Remove failed")
	}
	if val != "test" {
		t.Fatalf("Expected 'test', got %v", val)
	}

	if table.Len() != 0 {
		t.Fatal("Expected Len() == 0 after Remove")
	}
}

func TestUnifiedTable_Observer(t *testing.T) {
	table := NewTable()
	obs := &testObserver{}
	table.Subscribe(obs)

	h := table.Insert(1, "test")
	if len(obs.events) != 1 || obs.events[0].Type != EventCreated {
		t.Fatalf("expected EventCreated, got %v", obs.events)
	}
	if obs.events[0].Handle != h {
		t.Fatal("Wrong handle in event")
	}

	if _, ok := table.Retire(h); !ok {
		t.Fatal("Retire failed")
	}
	if len(obs.events) != 2 || obs.events[1].Type != EventRetired {
		t.Fatalf("expected EventRetired, got %v", obs.events)
	}

	table.Remove(h)
	if len(obs.events) != 3 || obs.events[2].Type != EventDropped {
		t.Fatalf("expected EventDropped, got %v", obs.events)
	}

	table.Unsubscribe(obs)
	table.Insert(1, "test2")
	if len(obs.events) != 3 {
		t.Fatal("Should not receive events after Unsubscribe")
	}
}

func TestUnifiedTable_DropperRunsOnce(t *testing.T) {
	table := NewTable()
	d := &dropCounter{}

	h := table.Insert(1, d)
	table.Remove(h)
	table.Remove(h)

	if d.count != 1 {
		t.Fatalf("Drop called %d times, want 1", d.count)
	}
}

func TestUnifiedTable_RemoveRefusesBorrowed(t *testing.T) {
	table := NewTable()
	d := &dropCounter{}
	h := table.Insert(1, d)

	table.Borrow(h)
	if _, ok := table.Remove(h); ok {
		t.Fatal("Remove should fail while borrowed")
	}
	table.ReturnBorrow(h)
	if _, ok := table.Remove(h); !ok {
		t.Fatal("Remove should succeed after ReturnBorrow")
	}
	if d.count != 1 {
		t.Fatalf("Drop called %d times, want 1", d.count)
	}
}

func TestUnifiedTable_Close(t *testing.T) {
	table := NewTable()

	table.Insert(1, "a")
	table.Insert(1, "b")

	if err := table.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if h := table.Insert(1, "c"); h != 0 {
		t.Fatal("Insert after Close should return 0")
	}
	if table.Len() != 0 {
		t.Fatalf("Len = %d after Close", table.Len())
	}
}

func TestHandle_Encoding(t *testing.T) {
	h := makeHandle(7, 3)
	if h.slot() != 7 {
		t.Errorf("slot = %d, want 7", h.slot())
	}
	if h.Generation() != 3 {
		t.Errorf("Generation = %d, want 3", h.Generation())
	}
	if h>>62 != 0 {
		t.Errorf("top bits must be clear, got %#x", uint64(h))
	}

	wrapped := makeHandle(1, generationMask+1)
	if wrapped.Generation() != 0 {
		t.Errorf("generation should wrap, got %d", wrapped.Generation())
	}
}
