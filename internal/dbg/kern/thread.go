package kern

import "fmt"

// CPSR flag bits (NZCV condition flags in the high nibble).
const (
	FlagN = 1 << 31 // negative
	FlagZ = 1 << 30 // zero
	FlagC = 1 << 29 // carry
	FlagV = 1 << 28 // overflow
)

// Regs is a snapshot of the ARM64 register file. X29 and X30 are exposed
// under their frame-pointer and link-register roles.
type Regs struct {
	X    [29]uint64
	FP   uint64 // x29
	LR   uint64 // x30
	SP   uint64
	PC   uint64
	CPSR uint32
}

// Reg returns general-purpose register n, where 0..28 index X0..X28 and
// 29, 30 alias FP and LR.
func (r *Regs) Reg(n int) (uint64, error) {
	switch {
	case n >= 0 && n < 29:
		return r.X[n], nil
	case n == 29:
		return r.FP, nil
	case n == 30:
		return r.LR, nil
	}
	return 0, fmt.Errorf("no general-purpose register x%d", n)
}

// SetReg assigns general-purpose register n.
func (r *Regs) SetReg(n int, v uint64) error {
	switch {
	case n >= 0 && n < 29:
		r.X[n] = v
	case n == 29:
		r.FP = v
	case n == 30:
		r.LR = v
	default:
		return fmt.Errorf("no general-purpose register x%d", n)
	}
	return nil
}

// Thread is one thread of the target with its register snapshot. The
// snapshot is read fresh from the kernel; mutations are pushed back with
// WriteRegisters.
type Thread struct {
	k         Kernel
	id        ThreadID
	Regs      Regs
	Suspended bool
}

// ReadThread fetches the register bank and suspend state of th.
func ReadThread(k Kernel, th ThreadID) (*Thread, error) {
	regs, err := k.ThreadRegisters(th)
	if err != nil {
		return nil, &ThreadOpError{Op: "get registers", Thread: th, Err: err}
	}
	count, err := k.ThreadSuspendCount(th)
	if err != nil {
		return nil, &ThreadOpError{Op: "get suspend count", Thread: th, Err: err}
	}
	return &Thread{k: k, id: th, Regs: regs, Suspended: count > 0}, nil
}

// ID returns the thread handle.
func (t *Thread) ID() ThreadID { return t.id }

// Suspend removes the thread from scheduling. The local flag is updated
// only after the kernel call succeeds.
func (t *Thread) Suspend() error {
	if err := t.k.SuspendThread(t.id); err != nil {
		return &ThreadOpError{Op: "suspend", Thread: t.id, Err: err}
	}
	t.Suspended = true
	return nil
}

// Resume makes the thread schedulable again.
func (t *Thread) Resume() error {
	if err := t.k.ResumeThread(t.id); err != nil {
		return &ThreadOpError{Op: "resume", Thread: t.id, Err: err}
	}
	t.Suspended = false
	return nil
}

// WriteRegisters pushes the in-memory snapshot to the live thread.
func (t *Thread) WriteRegisters() error {
	if err := t.k.SetThreadRegisters(t.id, t.Regs); err != nil {
		return &ThreadOpError{Op: "set registers", Thread: t.id, Err: err}
	}
	return nil
}

// SetSingleStep arms or disarms one-instruction execution via the debug
// state register. While armed, the next resume raises exactly one
// breakpoint-class exception carrying a single-step indicator.
func (t *Thread) SetSingleStep(enable bool) error {
	if err := t.k.SetSingleStep(t.id, enable); err != nil {
		return &ThreadOpError{Op: "set single-step", Thread: t.id, Err: err}
	}
	return nil
}
