// Package errors provides structured error types for the interop bridge.
//
// Errors are categorized by Phase (which operation was running) and Kind
// (error category). The Error type carries the session handle and buffer
// address involved, when known, plus a cause chain.
//
// Use the Builder for structured construction:
//
//	err := errors.New(errors.PhaseRealloc, errors.KindAllocation).
//		Handle(uint64(h)).
//		Address(uint64(addr)).
//		Detail("need %d bytes", capacity).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.ProtocolViolation(errors.PhaseStart, "start received twice")
//	err := errors.NotInitialized(errors.PhaseMetadata, "type updater")
//
// Protocol violations and allocation failures are fatal: the two runtimes
// have desynchronized or a buffer cannot hold what the other side needs.
// IsFatal reports this classification. All errors support errors.Is/As.
package errors
