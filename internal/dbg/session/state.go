package session

import "fmt"

// StateKind enumerates the session states. The set is closed; every
// transition site switches over it exhaustively.
type StateKind int

const (
	Detached StateKind = iota
	Stopped
	Running
	AtBreakpoint
	Stepped
)

// State is the current position of the session state machine. Addr and
// Symbol are meaningful for AtBreakpoint and Stepped.
type State struct {
	Kind   StateKind
	Addr   uint64
	Symbol string
}

func (s State) String() string {
	switch s.Kind {
	case Detached:
		return "detached"
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case AtBreakpoint:
		if s.Symbol != "" {
			return fmt.Sprintf("breakpoint at %#x (%s)", s.Addr, s.Symbol)
		}
		return fmt.Sprintf("breakpoint at %#x", s.Addr)
	case Stepped:
		return fmt.Sprintf("stepped to %#x", s.Addr)
	}
	return fmt.Sprintf("state(%d)", int(s.Kind))
}

// stoppedFamily reports whether the target is halted and may be inspected.
func (s State) stoppedFamily() bool {
	switch s.Kind {
	case Stopped, AtBreakpoint, Stepped:
		return true
	case Detached, Running:
		return false
	}
	return false
}
