package resource

// Handle is an opaque reference to a value in a table.
//
// The low 32 bits hold the 1-based slot and bits 32..61 hold the slot's
// generation, so a handle kept after its value was dropped never matches
// whatever later reuses the slot. Handle 0 is reserved and always invalid.
// The top two bits are always zero, leaving room for callers that pack tag
// bits below a shifted handle.
type Handle uint64

const (
	generationBits = 30
	generationMask = 1<<generationBits - 1
)

func makeHandle(slot, generation uint32) Handle {
	return Handle(uint64(generation&generationMask)<<32 | uint64(slot))
}

func (h Handle) slot() uint32 {
	return uint32(h)
}

// Generation returns the slot generation encoded in the handle.
func (h Handle) Generation() uint32 {
	return uint32(h>>32) & generationMask
}

// EventType enumerates lifecycle notifications.
type EventType uint8

const (
	EventCreated EventType = iota
	EventRetired
	EventDropped
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventRetired:
		return "retired"
	case EventDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Event represents a lifecycle event.
type Event struct {
	Value  any
	Handle Handle
	TypeID uint32
	Type   EventType
}

// Observer receives notifications about lifecycle events.
type Observer interface {
	OnResourceEvent(Event)
}

// Backend provides the underlying storage mechanism for values.
type Backend interface {
	// Create stores a value and returns a handle.
	Create(typeID uint32, value any) (Handle, error)

	// Get retrieves a value by handle.
	Get(handle Handle) (any, bool)

	// Borrow takes a lease on a live, non-retired handle.
	Borrow(handle Handle) bool

	// ReturnBorrow releases a lease taken by Borrow.
	ReturnBorrow(handle Handle) bool

	// Retire stops new borrows and returns a channel closed once the
	// outstanding borrows reach zero.
	Retire(handle Handle) (<-chan struct{}, bool)

	// Drop removes a value and returns (value, true) if the destructor should run.
	// Returns (nil, false) if the handle is invalid or has outstanding borrows.
	Drop(handle Handle) (any, bool)

	// Close releases all values held by the backend.
	Close() error
}

// Table manages values with type information and observer support.
type Table interface {
	// Insert adds a value and returns its handle, or 0 once closed.
	Insert(typeID uint32, value any) Handle

	// Get retrieves a value by handle.
	Get(handle Handle) (any, bool)

	// GetTyped retrieves a value only if it matches the expected type.
	GetTyped(handle Handle, typeID uint32) (any, bool)

	// Borrow takes a lease on a handle.
	Borrow(handle Handle) bool

	// ReturnBorrow releases a lease.
	ReturnBorrow(handle Handle) bool

	// Retire marks a handle for removal and reports when it is drained.
	Retire(handle Handle) (<-chan struct{}, bool)

	// Remove drops a value and returns (value, true) if found.
	Remove(handle Handle) (any, bool)

	// Subscribe adds an observer for lifecycle events.
	Subscribe(Observer)

	// Unsubscribe removes an observer.
	Unsubscribe(Observer)

	// Len returns the number of live values.
	Len() int

	// Close releases all values and stops accepting inserts.
	Close() error
}

// Dropper is optionally implemented by values that need cleanup.
// Drop runs exactly once, when the value leaves its table.
type Dropper interface {
	Drop()
}
