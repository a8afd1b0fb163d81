package kern

import (
	"github.com/sirupsen/logrus"

	"mdbg.dev/cmd/internal/dbg/logx"
)

// Mach exception types (mach/exception_types.h).
const (
	excBadAccess      = 1
	excBadInstruction = 2
	excArithmetic     = 3
	excEmulation      = 4
	excSoftware       = 5
	excBreakpoint     = 6
	excSyscall        = 7
	excMachSyscall    = 8

	// First code of an EXC_BREAKPOINT raised by the ARM debug unit.
	excARMBreakpoint = 1
)

// ExceptionKind classifies a trap notification. The set is closed;
// classification sites switch over it exhaustively.
type ExceptionKind int

const (
	KindBadAccess ExceptionKind = iota
	KindBadInstruction
	KindArithmetic
	KindSoftware
	KindBreakpoint
	KindSingleStep
	KindSyscall
	KindOther
)

func (k ExceptionKind) String() string {
	switch k {
	case KindBadAccess:
		return "bad memory access"
	case KindBadInstruction:
		return "illegal instruction"
	case KindArithmetic:
		return "arithmetic"
	case KindSoftware:
		return "software trap"
	case KindBreakpoint:
		return "breakpoint"
	case KindSingleStep:
		return "single step"
	case KindSyscall:
		return "syscall"
	}
	return "other"
}

// Stops reports whether the debugger keeps the target stopped for
// inspection after this kind of exception. Every kind stops; the method
// exists so classification sites state the policy explicitly.
func (k ExceptionKind) Stops() bool {
	switch k {
	case KindBadAccess, KindBadInstruction, KindArithmetic, KindSoftware,
		KindBreakpoint, KindSingleStep, KindSyscall, KindOther:
		return true
	}
	return true
}

// Event is a classified trap notification. Codes are architecture-defined;
// for bad memory accesses the second code is the faulting address.
type Event struct {
	Thread ThreadID
	Task   TaskID
	Kind   ExceptionKind
	Codes  []uint64
}

// FaultAddress returns the faulting address of a bad-access event.
func (e *Event) FaultAddress() (uint64, bool) {
	if e.Kind == KindBadAccess && len(e.Codes) >= 2 {
		return e.Codes[1], true
	}
	return 0, false
}

func classify(typ int32, codes []uint64) ExceptionKind {
	switch typ {
	case excBadAccess:
		return KindBadAccess
	case excBadInstruction, excEmulation:
		return KindBadInstruction
	case excArithmetic:
		return KindArithmetic
	case excSoftware:
		return KindSoftware
	case excBreakpoint:
		// The debug unit reports a completed single step as
		// EXC_BREAKPOINT with EXC_ARM_BREAKPOINT and no fault address.
		// A software BRK carries the trapping address in the second code.
		if len(codes) >= 1 && codes[0] == excARMBreakpoint &&
			(len(codes) < 2 || codes[1] == 0) {
			return KindSingleStep
		}
		return KindBreakpoint
	case excSyscall, excMachSyscall:
		return KindSyscall
	}
	return KindOther
}

// Server owns the exception port for one attached task. Start saves the
// task's prior exception routing and redirects fault, trap and breakpoint
// classes to a fresh port; Stop restores the original routing. The server
// only reports events, it never resumes the target.
type Server struct {
	k      Kernel
	task   TaskID
	port   PortID
	saved  *SavedPorts
	active bool
	log    *logrus.Entry
}

func NewServer(k Kernel, tp *TaskPort) *Server {
	return &Server{k: k, task: tp.task, log: logx.Layer("exc")}
}

// Start allocates the notification port, saves the target's current
// exception routing and redirects it. A partially-allocated port is
// released before any error propagates.
func (s *Server) Start() error {
	if s.active {
		return nil
	}

	port, err := s.k.AllocateExceptionPort()
	if err != nil {
		return &ThreadOpError{Op: "allocate exception port", Err: err}
	}

	saved, err := s.k.SaveExceptionPorts(s.task)
	if err != nil {
		s.k.DeallocatePort(port)
		return &ThreadOpError{Op: "save exception ports", Err: err}
	}

	if err := s.k.RedirectExceptions(s.task, port); err != nil {
		s.k.DeallocatePort(port)
		return &ThreadOpError{Op: "redirect exceptions", Err: err}
	}

	s.port = port
	s.saved = saved
	s.active = true
	s.log.Debugf("exception port %d installed for task %d", port, s.task)
	return nil
}

// Stop restores the previously saved exception routing and releases the
// port. Losing the original routing would corrupt the target's exception
// delivery after detach, so restore always runs before the port is freed.
// Stop is a no-op if the server is not active.
func (s *Server) Stop() error {
	if !s.active {
		return nil
	}
	s.active = false

	err := s.k.RestoreExceptionPorts(s.task, s.saved)
	if derr := s.k.DeallocatePort(s.port); err == nil {
		err = derr
	}
	s.saved = nil
	s.port = 0
	return err
}

// Wait blocks until the target traps, then returns the classified event.
// A nonzero timeout bounds the wait; on expiry Wait returns (nil, nil).
// The target is left stopped; resuming it is the session's decision.
func (s *Server) Wait(timeoutMillis int) (*Event, error) {
	if !s.active {
		return nil, ErrTaskInvalid
	}
	raw, err := s.k.WaitException(s.port, timeoutMillis)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}

	ev := &Event{
		Thread: raw.Thread,
		Task:   raw.Task,
		Kind:   classify(raw.Type, raw.Codes),
		Codes:  raw.Codes,
	}
	s.log.Debugf("exception: kind=%s thread=%d codes=%v", ev.Kind, ev.Thread, ev.Codes)
	return ev, nil
}
