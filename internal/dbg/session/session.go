// Package session coordinates the permission model, the task port, the
// memory and thread layers, the breakpoint store and the exception
// pipeline into one stateful debugging session.
package session

import (
	"github.com/sirupsen/logrus"

	"mdbg.dev/cmd/internal/dbg/bp"
	"mdbg.dev/cmd/internal/dbg/disasm"
	"mdbg.dev/cmd/internal/dbg/kern"
	"mdbg.dev/cmd/internal/dbg/logx"
	"mdbg.dev/cmd/internal/dbg/perm"
)

// Resolver labels addresses with symbol names. Symbol resolution is an
// external collaborator; a nil resolver disables labeling.
type Resolver interface {
	SymbolAt(addr uint64) (string, bool)
}

// Session is the top-level debugger coordinator. It exclusively owns the
// task port for the duration of an attachment. Session methods are not
// safe for concurrent use; only the breakpoint store below it is.
type Session struct {
	k       kern.Kernel
	checker *perm.Checker
	res     Resolver
	log     *logrus.Entry

	pid     int
	task    *kern.TaskPort
	mem     *kern.Memory
	exc     *kern.Server
	bps     *bp.Manager
	threads []kern.ThreadID
	current kern.ThreadID
	state   State
}

// Option configures a Session.
type Option func(*Session)

// WithResolver labels breakpoints and stop locations through res.
func WithResolver(res Resolver) Option {
	return func(s *Session) { s.res = res }
}

func New(k kern.Kernel, checker *perm.Checker, opts ...Option) *Session {
	s := &Session{
		k:       k,
		checker: checker,
		log:     logx.Layer("session"),
		state:   State{Kind: Detached},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// State returns the current session state.
func (s *Session) State() State { return s.state }

// Pid returns the attached process id, or 0 when detached.
func (s *Session) Pid() int {
	if s.state.Kind == Detached {
		return 0
	}
	return s.pid
}

// Breakpoints exposes the breakpoint/watchpoint store.
func (s *Session) Breakpoints() *bp.Manager { return s.bps }

// Attach attaches to pid and leaves the target stopped. The permission
// tier is checked before any kernel call; an environment below Full never
// touches the attach path. Attaching while already attached to a
// different process detaches from it first.
func (s *Session) Attach(pid int) error {
	if pid <= 0 {
		return ErrInvalidPid
	}
	if err := perm.AttachError(s.checker.Status()); err != nil {
		return err
	}

	if s.state.Kind != Detached {
		if s.pid == pid {
			return ErrAlreadyAttached
		}
		if err := s.Detach(); err != nil {
			return err
		}
	}

	task, err := kern.Acquire(s.k, pid)
	if err != nil {
		return err
	}

	exc := kern.NewServer(s.k, task)
	if err := exc.Start(); err != nil {
		task.Release()
		return err
	}

	if err := task.Suspend(); err != nil {
		exc.Stop()
		task.Release()
		return err
	}

	threads, err := task.Threads()
	if err != nil {
		exc.Stop()
		task.Release()
		return err
	}

	s.pid = pid
	s.task = task
	s.mem = kern.NewMemory(task)
	s.exc = exc
	s.bps = bp.NewManager(s.mem)
	s.threads = threads
	if len(threads) > 0 {
		s.current = threads[0]
	}
	s.state = State{Kind: Stopped}
	s.log.Infof("attached to pid %d, %d threads", pid, len(threads))
	return nil
}

// Detach restores every installed breakpoint, tears down the exception
// routing and releases the task port. Teardown is best-effort: restore
// failures are logged, never allowed to keep the port held.
func (s *Session) Detach() error {
	if s.state.Kind == Detached {
		return ErrNotAttached
	}

	for _, err := range s.bps.RestoreAll() {
		s.log.Warnf("detach: could not restore breakpoint: %v", err)
	}
	if err := s.exc.Stop(); err != nil {
		s.log.Warnf("detach: could not restore exception ports: %v", err)
	}
	s.task.Resume()
	err := s.task.Release()

	s.pid = 0
	s.task = nil
	s.mem = nil
	s.exc = nil
	s.bps = nil
	s.threads = nil
	s.current = 0
	s.state = State{Kind: Detached}
	s.log.Info("detached")
	return err
}

// SetBreakpoint installs a breakpoint at addr. An empty symbol is filled
// in from the resolver when one is configured.
func (s *Session) SetBreakpoint(addr uint64, symbol string) (int, error) {
	if !s.state.stoppedFamily() {
		return 0, ErrNotStopped
	}
	if symbol == "" && s.res != nil {
		symbol, _ = s.res.SymbolAt(addr)
	}
	return s.bps.Set(addr, symbol)
}

// RemoveBreakpoint restores the original instruction and deletes the
// breakpoint.
func (s *Session) RemoveBreakpoint(id int) error {
	if !s.state.stoppedFamily() {
		return ErrNotStopped
	}
	return s.bps.Remove(id)
}

// Continue resumes free execution. From a breakpoint stop the displaced
// instruction is first executed once via the step-over protocol, so the
// target makes forward progress instead of re-trapping in place.
func (s *Session) Continue() error {
	switch s.state.Kind {
	case Detached:
		return ErrNotAttached
	case Running:
		return ErrAlreadyRunning
	case AtBreakpoint:
		if err := s.stepOverCurrent(); err != nil {
			return err
		}
	case Stopped, Stepped:
	}

	if err := s.task.Resume(); err != nil {
		return err
	}
	s.state = State{Kind: Running}
	return nil
}

// Step executes exactly one instruction.
func (s *Session) Step() error {
	switch s.state.Kind {
	case Detached:
		return ErrNotAttached
	case Running:
		return ErrAlreadyRunning
	case AtBreakpoint:
		if err := s.stepOverCurrent(); err != nil {
			return err
		}
	case Stopped, Stepped:
		if err := s.stepOnce(); err != nil {
			return err
		}
	}

	pc, symbol := s.location()
	s.state = State{Kind: Stepped, Addr: pc, Symbol: symbol}
	return nil
}

// Stop halts a running target.
func (s *Session) Stop() error {
	switch s.state.Kind {
	case Detached:
		return ErrNotAttached
	case Running:
	case Stopped, AtBreakpoint, Stepped:
		return ErrNotRunning
	}
	if err := s.task.Suspend(); err != nil {
		return err
	}
	s.state = State{Kind: Stopped}
	return nil
}

// WaitForStop blocks until the target traps, classifies the event and
// advances the state machine. A nonzero timeout bounds the wait; on
// expiry both results are nil and the state is unchanged.
func (s *Session) WaitForStop(timeoutMillis int) (*kern.Event, error) {
	if s.state.Kind == Detached {
		return nil, ErrNotAttached
	}

	ev, err := s.exc.Wait(timeoutMillis)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, nil
	}
	if ev.Thread != 0 {
		s.current = ev.Thread
	}

	switch ev.Kind {
	case kern.KindBreakpoint:
		pc, symbol := s.location()
		if b, ok := s.bps.At(pc); ok {
			s.bps.RecordHit(b.ID)
			if symbol == "" {
				symbol = b.Symbol
			}
			s.state = State{Kind: AtBreakpoint, Addr: pc, Symbol: symbol}
		} else {
			s.state = State{Kind: Stopped}
		}
	case kern.KindSingleStep:
		pc, symbol := s.location()
		s.state = State{Kind: Stepped, Addr: pc, Symbol: symbol}
	case kern.KindBadAccess, kern.KindBadInstruction, kern.KindArithmetic,
		kern.KindSoftware, kern.KindSyscall, kern.KindOther:
		// Never silently continued; stop for inspection.
		s.state = State{Kind: Stopped}
	}
	s.log.Debugf("stop: %s -> %s", ev.Kind, s.state)
	return ev, nil
}

// stepOverCurrent runs the restore-step-reinstall sequence for the
// breakpoint the session is stopped at. The whole sequence holds the
// store's step guard, so a concurrent remove cannot re-install a trap the
// user asked to delete.
func (s *Session) stepOverCurrent() error {
	b, ok := s.bps.At(s.state.Addr)
	if !ok {
		// The breakpoint was removed while we were stopped at it; the
		// original instruction is already back in place.
		return nil
	}
	return s.bps.StepOver(b.ID, s.stepOnce)
}

// stepOnce arms single-step mode on the current thread, lets the task run
// one instruction and waits for the resulting trap. The debug unit is
// disarmed again on every exit path.
func (s *Session) stepOnce() error {
	th, err := kern.ReadThread(s.k, s.current)
	if err != nil {
		return err
	}
	if err := th.SetSingleStep(true); err != nil {
		return err
	}
	defer func() {
		if err := th.SetSingleStep(false); err != nil {
			s.log.Warnf("could not disarm single-step: %v", err)
		}
	}()

	if err := s.task.Resume(); err != nil {
		return err
	}
	ev, err := s.exc.Wait(0)
	if err != nil {
		return err
	}
	if ev != nil && ev.Thread != 0 {
		s.current = ev.Thread
	}
	return nil
}

// location reads the current thread's program counter and resolves its
// symbol.
func (s *Session) location() (uint64, string) {
	th, err := kern.ReadThread(s.k, s.current)
	if err != nil {
		s.log.Warnf("could not read pc: %v", err)
		return 0, ""
	}
	var symbol string
	if s.res != nil {
		symbol, _ = s.res.SymbolAt(th.Regs.PC)
	}
	return th.Regs.PC, symbol
}

// ReadMemory returns size bytes at addr. Only defined while the target is
// stopped; reading a running target races it.
func (s *Session) ReadMemory(addr uint64, size int) ([]byte, error) {
	if s.state.Kind == Detached {
		return nil, ErrNotAttached
	}
	return s.mem.Read(addr, size)
}

// WriteMemory stores data at addr through the protection-aware writer.
func (s *Session) WriteMemory(data []byte, addr uint64) error {
	if s.state.Kind == Detached {
		return ErrNotAttached
	}
	return s.mem.WriteProtected(data, addr)
}

// Region returns the mapped region containing addr.
func (s *Session) Region(addr uint64) (kern.Region, error) {
	if s.state.Kind == Detached {
		return kern.Region{}, ErrNotAttached
	}
	return s.mem.Region(addr)
}

// Threads returns the thread handles enumerated at attach time.
func (s *Session) Threads() []kern.ThreadID { return s.threads }

// CurrentThread returns the thread that reported the last event.
func (s *Session) CurrentThread() kern.ThreadID { return s.current }

// Registers reads the register snapshot of th.
func (s *Session) Registers(th kern.ThreadID) (*kern.Thread, error) {
	if s.state.Kind == Detached {
		return nil, ErrNotAttached
	}
	return kern.ReadThread(s.k, th)
}

// Disassemble decodes count instructions starting at addr. Breakpoint
// trap words are shown as the displaced original instruction.
func (s *Session) Disassemble(addr uint64, count int) ([]disasm.Instruction, error) {
	if s.state.Kind == Detached {
		return nil, ErrNotAttached
	}

	out := make([]disasm.Instruction, 0, count)
	for i := 0; i < count; i++ {
		a := addr + uint64(i*kern.InstructionSize)
		word, err := s.mem.ReadInstruction(a)
		if err != nil {
			return out, err
		}
		if b, ok := s.bps.At(a); ok && b.Enabled {
			word = b.Orig
		}
		var enc [kern.InstructionSize]byte
		enc[0] = byte(word)
		enc[1] = byte(word >> 8)
		enc[2] = byte(word >> 16)
		enc[3] = byte(word >> 24)
		inst, err := disasm.Decode(enc[:], a)
		if err != nil {
			return out, err
		}
		out = append(out, inst)
	}
	return out, nil
}
