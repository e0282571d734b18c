package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates which operation was running when the error occurred
type Phase string

const (
	PhaseBind     Phase = "bind"     // context binding
	PhaseInit     Phase = "init"     // session initialization
	PhaseStart    Phase = "start"    // start callback
	PhaseStop     Phase = "stop"     // stop callback
	PhaseRealloc  Phase = "realloc"  // buffer growth
	PhaseResolve  Phase = "resolve"  // address resolution
	PhaseAlloc    Phase = "alloc"    // buffer allocation
	PhaseDecode   Phase = "decode"   // reading from a buffer
	PhaseEncode   Phase = "encode"   // writing to a buffer
	PhaseMetadata Phase = "metadata" // type metadata operations
	PhaseSession  Phase = "session"  // registry and accessors
	PhaseConfig   Phase = "config"   // configuration loading
	PhaseRemote   Phase = "remote"   // calls into the managed runtime
)

// Kind categorizes the error
type Kind string

const (
	KindProtocolViolation Kind = "protocol_violation"
	KindAllocation        Kind = "allocation"
	KindNotInitialized    Kind = "not_initialized"
	KindNotFound          Kind = "not_found"
	KindInvalidData       Kind = "invalid_data"
	KindOutOfBounds       Kind = "out_of_bounds"
	KindInvalidInput      Kind = "invalid_input"
	KindConflict          Kind = "conflict"
	KindRemote            Kind = "remote"
)

// Error is the structured error type used throughout the bridge
type Error struct {
	Value   any
	Cause   error
	Phase   Phase
	Kind    Kind
	Detail  string
	Path    []string
	Handle  uint64
	Address uint64
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Handle != 0 {
		fmt.Fprintf(&b, " handle=%#x", e.Handle)
	}
	if e.Address != 0 {
		fmt.Fprintf(&b, " addr=%#x", e.Address)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Fatal reports whether the error leaves the bridge in a state that cannot
// be safely continued.
func (e *Error) Fatal() bool {
	return e.Kind == KindProtocolViolation || e.Kind == KindAllocation
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Handle sets the session handle involved
func (b *Builder) Handle(h uint64) *Builder {
	b.err.Handle = h
	return b
}

// Address sets the buffer address involved
func (b *Builder) Address(addr uint64) *Builder {
	b.err.Address = addr
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// IsFatal reports whether err is, or wraps, a fatal *Error.
func IsFatal(err error) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Fatal()
	}
	return false
}

// IsKind reports whether err is, or wraps, an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Convenience constructors for common error patterns

// ProtocolViolation creates an error for a call the bridge contract forbids
func ProtocolViolation(phase Phase, detail string, args ...any) *Error {
	return New(phase, KindProtocolViolation).Detail(detail, args...).Build()
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(phase Phase, requested, limit int32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("cannot provide %d bytes (limit %d)", requested, limit),
		Value:  requested,
	}
}

// NotInitialized creates an error for a component used before it exists
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what string, id any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %v not found", what, id),
		Value:  id,
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, offset, length, limit int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("range [%d, %d) exceeds %d", offset, offset+length, limit),
		Value:  offset,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Conflict creates an error for incompatible redefinitions
func Conflict(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindConflict,
		Path:   path,
		Detail: detail,
	}
}

// Remote wraps a failure returned by the managed runtime
func Remote(op string, cause error) *Error {
	return &Error{
		Phase:  PhaseRemote,
		Kind:   KindRemote,
		Detail: op,
		Cause:  cause,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Recovered converts a value recovered from a panic into an error.
// Panics crossing the boundary are treated as protocol violations.
func Recovered(phase Phase, r any) *Error {
	if err, ok := r.(error); ok {
		var e *Error
		if stderrors.As(err, &e) {
			return e
		}
		return Wrap(phase, KindProtocolViolation, err, "panic")
	}
	return &Error{
		Phase:  phase,
		Kind:   KindProtocolViolation,
		Detail: fmt.Sprintf("panic: %v", r),
		Value:  r,
	}
}
