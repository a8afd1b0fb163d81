package kern

import (
	"encoding/binary"
	"fmt"

	"mdbg.dev/cmd/internal/dbg/logx"
)

// InstructionSize is the fixed ARM64 instruction width.
const InstructionSize = 4

// Memory provides protection-aware reads and writes of the target's
// address space. It is stateless; all state lives in the target.
type Memory struct {
	k    Kernel
	task TaskID
}

func NewMemory(tp *TaskPort) *Memory {
	return &Memory{k: tp.k, task: tp.task}
}

// Read returns size bytes at addr.
func (m *Memory) Read(addr uint64, size int) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	buf := make([]byte, size)
	n, err := m.k.ReadMemory(m.task, addr, buf)
	if err != nil {
		return nil, &MemoryReadError{Addr: addr, Size: size, Err: err}
	}
	if n != size {
		return nil, &MemoryReadError{Addr: addr, Size: size, Err: fmt.Errorf("short read of %d bytes", n)}
	}
	return buf, nil
}

func (m *Memory) ReadUint8(addr uint64) (uint8, error) {
	b, err := m.Read(addr, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (m *Memory) ReadUint16(addr uint64) (uint16, error) {
	b, err := m.Read(addr, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (m *Memory) ReadUint32(addr uint64) (uint32, error) {
	b, err := m.Read(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (m *Memory) ReadUint64(addr uint64) (uint64, error) {
	b, err := m.Read(addr, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadPointer reads a pointer-width value.
func (m *Memory) ReadPointer(addr uint64) (uint64, error) {
	return m.ReadUint64(addr)
}

// ReadInstruction reads one instruction word.
func (m *Memory) ReadInstruction(addr uint64) (uint32, error) {
	return m.ReadUint32(addr)
}

// ReadCString reads a NUL-terminated string of at most max bytes. The
// string is truncated at max if no terminator is found.
func (m *Memory) ReadCString(addr uint64, max int) (string, error) {
	if max <= 0 {
		return "", nil
	}
	buf, err := m.Read(addr, max)
	if err != nil {
		return "", err
	}
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i]), nil
		}
	}
	return string(buf), nil
}

// Write stores data at addr without touching page protection.
func (m *Memory) Write(data []byte, addr uint64) error {
	if len(data) == 0 {
		return nil
	}
	n, err := m.k.WriteMemory(m.task, addr, data)
	if err != nil {
		return &MemoryWriteError{Addr: addr, Size: len(data), Err: err}
	}
	if n != len(data) {
		return &MemoryWriteError{Addr: addr, Size: len(data), Err: fmt.Errorf("short write of %d bytes", n)}
	}
	return nil
}

// Protect changes the protection of the pages covering [addr, addr+size)
// and returns the prior protection so the caller can restore it.
func (m *Memory) Protect(addr, size uint64, prot Protection) (Protection, error) {
	region, err := m.k.Region(m.task, addr)
	if err != nil {
		return ProtNone, err
	}
	if err := m.k.Protect(m.task, addr, size, prot); err != nil {
		return ProtNone, err
	}
	return region.Prot, nil
}

// Region returns the mapped region containing addr, or an error if addr is
// unmapped.
func (m *Memory) Region(addr uint64) (Region, error) {
	return m.k.Region(m.task, addr)
}

// WriteProtected stores data at addr, temporarily granting write
// permission when the containing page lacks it. The original protection is
// restored on every exit path, including a failed write; this is the only
// safe way to patch read-execute code pages.
func (m *Memory) WriteProtected(data []byte, addr uint64) error {
	if len(data) == 0 {
		return nil
	}
	region, err := m.k.Region(m.task, addr)
	if err != nil {
		return &MemoryWriteError{Addr: addr, Size: len(data), Err: err}
	}

	if region.Prot&ProtWrite != 0 {
		return m.Write(data, addr)
	}

	if err := m.k.Protect(m.task, addr, uint64(len(data)), ProtRead|ProtWrite); err != nil {
		return &MemoryWriteError{Addr: addr, Size: len(data), Err: err}
	}
	werr := m.Write(data, addr)
	if err := m.k.Protect(m.task, addr, uint64(len(data)), region.Prot); err != nil {
		logx.Layer("mem").Warnf("could not restore %s protection at %#x: %v", region.Prot, addr, err)
	}
	return werr
}

// WriteInstruction patches one instruction word through the
// protection-aware path.
func (m *Memory) WriteInstruction(addr uint64, word uint32) error {
	var b [InstructionSize]byte
	binary.LittleEndian.PutUint32(b[:], word)
	return m.WriteProtected(b[:], addr)
}
