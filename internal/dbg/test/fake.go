// Package test provides a scripted kernel and a fake permission
// environment so the debugger's control logic runs under `go test` on any
// host.
package test

import (
	"errors"
	"fmt"

	"mdbg.dev/cmd/internal/dbg/kern"
)

// FakeRegion is one mapped range of the fake address space.
type FakeRegion struct {
	Base    uint64
	Prot    kern.Protection
	MaxProt kern.Protection
	Shared  bool
	Data    []byte
}

// ProtectCall records one protection change for assertions.
type ProtectCall struct {
	Addr uint64
	Size uint64
	Prot kern.Protection
}

// FakeKernel implements kern.Kernel against an in-memory process model.
// Zero values refuse everything; seed it with AddProcess and AddRegion.
type FakeKernel struct {
	tasks    map[int]kern.TaskID
	regions  []*FakeRegion
	regs     map[kern.ThreadID]kern.Regs
	suspends map[kern.ThreadID]int
	threads  map[kern.TaskID][]kern.ThreadID
	taskSusp map[kern.TaskID]int
	step     map[kern.ThreadID]bool
	queue    []kern.RawException

	// Failure injection.
	FailTaskForPid error
	FailAttach     error
	FailSave       error
	FailRedirect   error
	FailProtect    error
	FailWriteAt    map[uint64]error

	// Call recording.
	TaskForPidCalls  int
	Attached         map[int]bool
	ProtectCalls     []ProtectCall
	AllocatedPorts   []kern.PortID
	DeallocatedPorts []kern.PortID
	RedirectedTo     kern.PortID
	RestoreCalls     int
	ReleasedTasks    []kern.TaskID

	nextPort kern.PortID
}

func NewFakeKernel() *FakeKernel {
	return &FakeKernel{
		tasks:       make(map[int]kern.TaskID),
		regs:        make(map[kern.ThreadID]kern.Regs),
		suspends:    make(map[kern.ThreadID]int),
		threads:     make(map[kern.TaskID][]kern.ThreadID),
		taskSusp:    make(map[kern.TaskID]int),
		step:        make(map[kern.ThreadID]bool),
		FailWriteAt: make(map[uint64]error),
		Attached:    make(map[int]bool),
		nextPort:    100,
	}
}

// AddProcess registers an attachable pid with one thread and returns the
// task and thread handles.
func (f *FakeKernel) AddProcess(pid int) (kern.TaskID, kern.ThreadID) {
	task := kern.TaskID(1000 + pid)
	th := kern.ThreadID(2000 + pid)
	f.tasks[pid] = task
	f.threads[task] = []kern.ThreadID{th}
	f.regs[th] = kern.Regs{}
	return task, th
}

// AddRegion maps size bytes at base with the given protection, returning
// the backing slice so tests can seed and inspect memory.
func (f *FakeKernel) AddRegion(base uint64, size int, prot kern.Protection) []byte {
	r := &FakeRegion{Base: base, Prot: prot, MaxProt: prot | kern.ProtWrite, Data: make([]byte, size)}
	f.regions = append(f.regions, r)
	return r.Data
}

// SetPC positions a thread's program counter.
func (f *FakeKernel) SetPC(th kern.ThreadID, pc uint64) {
	r := f.regs[th]
	r.PC = pc
	f.regs[th] = r
}

// PC reads a thread's program counter.
func (f *FakeKernel) PC(th kern.ThreadID) uint64 { return f.regs[th].PC }

// InjectBreakpointHit queues the exception a BRK at addr would raise and
// positions the thread there.
func (f *FakeKernel) InjectBreakpointHit(task kern.TaskID, th kern.ThreadID, addr uint64) {
	f.SetPC(th, addr)
	f.queue = append(f.queue, kern.RawException{
		Thread: th,
		Task:   task,
		Type:   6, // EXC_BREAKPOINT
		Codes:  []uint64{1, addr},
	})
}

// InjectRaw queues an arbitrary exception.
func (f *FakeKernel) InjectRaw(raw kern.RawException) {
	f.queue = append(f.queue, raw)
}

// TaskSuspendCount returns the task-level suspend count.
func (f *FakeKernel) TaskSuspendCount(task kern.TaskID) int { return f.taskSusp[task] }

func (f *FakeKernel) region(addr uint64) (*FakeRegion, error) {
	for _, r := range f.regions {
		if addr >= r.Base && addr < r.Base+uint64(len(r.Data)) {
			return r, nil
		}
	}
	return nil, fmt.Errorf("address %#x is not mapped", addr)
}

func (f *FakeKernel) TaskForPid(pid int) (kern.TaskID, error) {
	f.TaskForPidCalls++
	if f.FailTaskForPid != nil {
		return 0, f.FailTaskForPid
	}
	task, ok := f.tasks[pid]
	if !ok {
		return 0, kern.ErrProcessNotFound
	}
	return task, nil
}

func (f *FakeKernel) DeallocateTask(task kern.TaskID) error {
	f.ReleasedTasks = append(f.ReleasedTasks, task)
	return nil
}

func (f *FakeKernel) PtraceAttach(pid int) error {
	if f.FailAttach != nil {
		return f.FailAttach
	}
	f.Attached[pid] = true
	return nil
}

func (f *FakeKernel) PtraceDetach(pid int) error {
	delete(f.Attached, pid)
	return nil
}

func (f *FakeKernel) TaskSuspend(task kern.TaskID) error {
	f.taskSusp[task]++
	return nil
}

func (f *FakeKernel) TaskResume(task kern.TaskID) error {
	if f.taskSusp[task] > 0 {
		f.taskSusp[task]--
	}
	if f.taskSusp[task] > 0 {
		return nil
	}
	// The task is running now; an armed single-step thread executes one
	// instruction and traps again with the task held stopped.
	for _, th := range f.threads[task] {
		if f.step[th] {
			r := f.regs[th]
			r.PC += 4
			f.regs[th] = r
			f.queue = append(f.queue, kern.RawException{
				Thread: th,
				Task:   task,
				Type:   6,
				Codes:  []uint64{1, 0},
			})
		}
	}
	return nil
}

func (f *FakeKernel) TaskThreads(task kern.TaskID) ([]kern.ThreadID, error) {
	ths, ok := f.threads[task]
	if !ok {
		return nil, kern.ErrTaskInvalid
	}
	out := make([]kern.ThreadID, len(ths))
	copy(out, ths)
	return out, nil
}

func (f *FakeKernel) ReadMemory(task kern.TaskID, addr uint64, p []byte) (int, error) {
	r, err := f.region(addr)
	if err != nil {
		return 0, err
	}
	off := addr - r.Base
	n := copy(p, r.Data[off:])
	if n < len(p) {
		return n, errors.New("read crosses end of region")
	}
	return n, nil
}

func (f *FakeKernel) WriteMemory(task kern.TaskID, addr uint64, p []byte) (int, error) {
	if err, ok := f.FailWriteAt[addr]; ok {
		return 0, err
	}
	r, err := f.region(addr)
	if err != nil {
		return 0, err
	}
	if r.Prot&kern.ProtWrite == 0 {
		return 0, fmt.Errorf("region at %#x is not writable (%s)", r.Base, r.Prot)
	}
	off := addr - r.Base
	n := copy(r.Data[off:], p)
	if n < len(p) {
		return n, errors.New("write crosses end of region")
	}
	return n, nil
}

func (f *FakeKernel) Protect(task kern.TaskID, addr, size uint64, prot kern.Protection) error {
	if f.FailProtect != nil {
		return f.FailProtect
	}
	r, err := f.region(addr)
	if err != nil {
		return err
	}
	f.ProtectCalls = append(f.ProtectCalls, ProtectCall{Addr: addr, Size: size, Prot: prot})
	r.Prot = prot
	return nil
}

func (f *FakeKernel) Region(task kern.TaskID, addr uint64) (kern.Region, error) {
	r, err := f.region(addr)
	if err != nil {
		return kern.Region{}, err
	}
	return kern.Region{
		Base:    r.Base,
		Size:    uint64(len(r.Data)),
		Prot:    r.Prot,
		MaxProt: r.MaxProt,
		Shared:  r.Shared,
	}, nil
}

func (f *FakeKernel) ThreadRegisters(th kern.ThreadID) (kern.Regs, error) {
	regs, ok := f.regs[th]
	if !ok {
		return kern.Regs{}, fmt.Errorf("unknown thread %d", th)
	}
	return regs, nil
}

func (f *FakeKernel) SetThreadRegisters(th kern.ThreadID, regs kern.Regs) error {
	if _, ok := f.regs[th]; !ok {
		return fmt.Errorf("unknown thread %d", th)
	}
	f.regs[th] = regs
	return nil
}

func (f *FakeKernel) ThreadSuspendCount(th kern.ThreadID) (int, error) {
	return f.suspends[th], nil
}

func (f *FakeKernel) SuspendThread(th kern.ThreadID) error {
	f.suspends[th]++
	return nil
}

func (f *FakeKernel) ResumeThread(th kern.ThreadID) error {
	if f.suspends[th] > 0 {
		f.suspends[th]--
	}
	return nil
}

func (f *FakeKernel) SetSingleStep(th kern.ThreadID, enable bool) error {
	f.step[th] = enable
	return nil
}

func (f *FakeKernel) AllocateExceptionPort() (kern.PortID, error) {
	f.nextPort++
	f.AllocatedPorts = append(f.AllocatedPorts, f.nextPort)
	return f.nextPort, nil
}

func (f *FakeKernel) DeallocatePort(port kern.PortID) error {
	f.DeallocatedPorts = append(f.DeallocatedPorts, port)
	return nil
}

func (f *FakeKernel) SaveExceptionPorts(task kern.TaskID) (*kern.SavedPorts, error) {
	if f.FailSave != nil {
		return nil, f.FailSave
	}
	return &kern.SavedPorts{
		Masks: []uint32{0x3fe}, Ports: []uint32{7}, Behaviors: []uint32{0}, Flavors: []uint32{6},
	}, nil
}

func (f *FakeKernel) RedirectExceptions(task kern.TaskID, port kern.PortID) error {
	if f.FailRedirect != nil {
		return f.FailRedirect
	}
	f.RedirectedTo = port
	return nil
}

func (f *FakeKernel) RestoreExceptionPorts(task kern.TaskID, saved *kern.SavedPorts) error {
	f.RestoreCalls++
	return nil
}

func (f *FakeKernel) WaitException(port kern.PortID, timeoutMillis int) (*kern.RawException, error) {
	if len(f.queue) == 0 {
		if timeoutMillis > 0 {
			return nil, nil
		}
		return nil, errors.New("fake kernel: wait would block forever")
	}
	raw := f.queue[0]
	f.queue = f.queue[1:]
	f.taskSusp[raw.Task]++
	return &raw, nil
}
