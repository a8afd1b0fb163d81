// Package kern drives the kernel-level process control primitives: mach
// task ports, virtual memory, thread state and exception routing. The
// Kernel interface is the single seam between portable debugger logic and
// the darwin trap layer, and is what tests substitute.
package kern

// TaskID names a mach task port granting control over a process.
type TaskID uint32

// ThreadID names a thread act port within a task.
type ThreadID uint32

// PortID names a receive-capable mach port owned by the debugger.
type PortID uint32

// Protection is a VM page protection mask (mach VM_PROT_* values).
type Protection uint8

const (
	ProtNone    Protection = 0
	ProtRead    Protection = 1 << 0
	ProtWrite   Protection = 1 << 1
	ProtExecute Protection = 1 << 2
)

func (p Protection) String() string {
	b := []byte("---")
	if p&ProtRead != 0 {
		b[0] = 'r'
	}
	if p&ProtWrite != 0 {
		b[1] = 'w'
	}
	if p&ProtExecute != 0 {
		b[2] = 'x'
	}
	return string(b)
}

// Region describes the mapped region containing an address.
type Region struct {
	Base    uint64
	Size    uint64
	Prot    Protection
	MaxProt Protection
	Shared  bool
}

// SavedPorts holds a task's exception routing as it was before the
// debugger redirected it. Opaque outside the kernel implementation.
type SavedPorts struct {
	Masks     []uint32
	Ports     []uint32
	Behaviors []uint32
	Flavors   []uint32
}

// RawException is an undecoded trap notification as received from the
// kernel. The exception server classifies it into an Event.
type RawException struct {
	Thread ThreadID
	Task   TaskID
	Type   int32
	Codes  []uint64
}

// Kernel is the full trap surface the debugger needs. The darwin
// implementation issues mach calls; tests use a scripted fake.
type Kernel interface {
	// Process control.
	TaskForPid(pid int) (TaskID, error)
	DeallocateTask(task TaskID) error
	PtraceAttach(pid int) error
	PtraceDetach(pid int) error
	TaskSuspend(task TaskID) error
	TaskResume(task TaskID) error
	TaskThreads(task TaskID) ([]ThreadID, error)

	// Virtual memory.
	ReadMemory(task TaskID, addr uint64, p []byte) (int, error)
	WriteMemory(task TaskID, addr uint64, p []byte) (int, error)
	Protect(task TaskID, addr, size uint64, prot Protection) error
	Region(task TaskID, addr uint64) (Region, error)

	// Thread state.
	ThreadRegisters(th ThreadID) (Regs, error)
	SetThreadRegisters(th ThreadID, regs Regs) error
	ThreadSuspendCount(th ThreadID) (int, error)
	SuspendThread(th ThreadID) error
	ResumeThread(th ThreadID) error
	SetSingleStep(th ThreadID, enable bool) error

	// Exception routing. WaitException returns nil on timeout and leaves
	// the reporting task suspended when it returns an exception.
	AllocateExceptionPort() (PortID, error)
	DeallocatePort(port PortID) error
	SaveExceptionPorts(task TaskID) (*SavedPorts, error)
	RedirectExceptions(task TaskID, port PortID) error
	RestoreExceptionPorts(task TaskID, saved *SavedPorts) error
	WaitException(port PortID, timeoutMillis int) (*RawException, error)
}
