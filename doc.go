// Package bridge provides the native side of a bridged session between Go
// and a managed runtime that hosts the data engine.
//
// The two runtimes share one execution context: the managed side creates a
// session, hands native code raw buffer addresses, and signals lifecycle
// events through a fixed callback table. This module keeps the session's
// memory, identity and type metadata consistent across that boundary.
//
// # Architecture Overview
//
//	bridge/              Root package with Memory and Ref primitives
//	├── session/         Session lifecycle, registry, callback table
//	├── buffer/          Owned and external buffers, address tags, streams
//	├── metadata/        Type descriptor cache and remote updater
//	├── resource/        Generation-tagged handle table with leases
//	├── managed/         wazero-backed managed heap and in-process runtime
//	├── config/          Environment-driven configuration
//	├── errors/          Structured error types
//	└── cmd/bridge/      Demo and inspection CLI
//
// # Quick Start
//
//	cfg := config.Default()
//	rt, err := managed.New(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	h, err := rt.Start(ctx, "node-1")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	err = rt.Registry().Do(h, func(s *session.Session) error {
//	    name, _ := s.InstanceName()
//	    fmt.Println(name) // "node-1"
//	    return nil
//	})
//
//	rt.Stop(ctx, h)
//
// # Ownership
//
// A session is referenced from outside only through a session.Handle. The
// managed runtime's stop callback is the single path that destroys a
// session: it retires the handle, waits for native leases to drain and
// releases everything the session owns. A handle used after stop fails its
// lookup instead of reaching a destroyed session.
//
// Buffers come in two kinds decided once at resolution time. Owned buffers
// live on the Go heap and grow in place. External buffers live in the
// managed heap; native code reads and writes them but growth is always
// delegated back to the managed side.
//
// # Thread Safety
//
// Registry, Session, Manager and the buffer types are safe for concurrent
// use. Callbacks for one session are serialized in arrival order.
package bridge
