// Package managed is an in-process stand-in for the managed runtime.
//
// Heap is a wazero linear memory holding external buffers: each buffer is
// a 20-byte header (data pointer, capacity, length, flags) pointing at a
// data region. Runtime implements session.Context over that heap, keeps
// processor objects and pinned references in a handle table, serves as the
// remote schema store, and drives sessions through the "bridge" host
// module built by ExportCallbacks, exactly as wasm code importing
//
//	(import "bridge" "on_start"    (func (param i64 i64 i64)))
//	(import "bridge" "on_stop"     (func (param i64)))
//	(import "bridge" "mem_realloc" (func (param i64 i64 i32)))
//
// would.
package managed
