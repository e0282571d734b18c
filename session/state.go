package session

import "fmt"

// State is the lifecycle position of a session.
type State uint32

const (
	StateUnbound State = iota
	StateContextBound
	StateReady
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateContextBound:
		return "context_bound"
	case StateReady:
		return "ready"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", uint32(s))
	}
}
