// Package session implements the bridged session between native code and
// the managed runtime.
//
// # Lifecycle
//
// A Session moves through Unbound, ContextBound, Ready and Stopped:
//
//	h, _ := reg.Create()                 // Unbound
//	reg.Bind(h, dispatch)                // ContextBound
//	reg.OnStart(ctx, h, proc, payload)   // name decoded, processor pinned
//	reg.Initialize(ctx, h)               // Ready, latch released
//	reg.OnStop(ctx, h)                   // Stopped, then dropped
//
// Anything after Stopped is a protocol violation.
//
// # Ownership
//
// Sessions are addressed by generation-tagged handles into a Registry.
// Native code never holds a *Session outside a Lease; OnStop retires the
// handle so new leases fail, and the session is dropped exactly once when
// the outstanding leases are released. A handle kept past that point fails
// lookup instead of reaching freed state.
//
// # Callbacks
//
// OnStart, OnStop and OnMemoryReallocate may arrive on any goroutine.
// Callbacks for one session run one at a time, in arrival order. The
// CallbackTable wraps them for the managed side: entries never panic or
// return errors, failures go to the table's Error hook.
package session
