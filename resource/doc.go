// Package resource provides generation-tagged handle tables.
//
// A handle is the only token that crosses the runtime boundary: sessions
// and native buffers are stored in a table and the other side holds the
// integer handle, never a pointer. Because every slot carries a generation,
// a handle kept after its value was dropped fails lookup even when the slot
// has been reused.
//
//	table := resource.NewTable()
//
//	h := table.Insert(typeID, value)
//	v, ok := table.Get(h)
//	v, ok = table.Remove(h) // runs Dropper.Drop once
//	_, ok = table.Get(h)    // false, stale handle
//
// # Leases
//
// Borrow and ReturnBorrow count in-flight users of a handle. Retire stops
// new borrows and returns a channel that closes when the count reaches
// zero, after which Remove succeeds:
//
//	drained, ok := table.Retire(h)
//	<-drained
//	table.Remove(h)
//
// Remove refuses handles with outstanding borrows.
//
// # Observers
//
// Observers receive EventCreated, EventRetired and EventDropped
// notifications synchronously on the calling goroutine.
package resource
