// Package bp is the in-memory registry of breakpoints and watchpoints.
// The store records intent; installing and restoring trap words goes
// through the protection-aware memory writer it was given. One lock
// guards the whole registry so the exception path and the command path
// can touch it concurrently.
package bp

import (
	"sync"

	"golang.org/x/exp/slices"
)

// TrapInstruction is the ARM64 BRK #0 encoding installed at an enabled
// breakpoint's address.
const TrapInstruction uint32 = 0xd4200000

// Memory is the slice of the memory layer the store needs.
type Memory interface {
	ReadInstruction(addr uint64) (uint32, error)
	WriteInstruction(addr uint64, word uint32) error
}

// Breakpoint records one software breakpoint. While Enabled, the word at
// Addr in the target is TrapInstruction and Orig holds the displaced
// instruction; Orig must be restorable at any time with a single write.
type Breakpoint struct {
	ID       int
	Addr     uint64
	Orig     uint32
	Enabled  bool
	HitCount int
	Symbol   string
}

// WatchKind is the access class a watchpoint observes.
type WatchKind int

const (
	WatchRead WatchKind = iota
	WatchWrite
	WatchReadWrite
)

func (k WatchKind) String() string {
	switch k {
	case WatchRead:
		return "read"
	case WatchWrite:
		return "write"
	case WatchReadWrite:
		return "read-write"
	}
	return "unknown"
}

// Watchpoint is a declared-intent record; programming the debug registers
// that enforce it is a resource-layer concern.
type Watchpoint struct {
	ID       int
	Addr     uint64
	Size     int
	Kind     WatchKind
	Enabled  bool
	HitCount int
	Symbol   string
}

// Manager is the concurrency-safe breakpoint/watchpoint store.
type Manager struct {
	mem Memory

	mu          sync.Mutex
	nextID      int
	bps         map[int]*Breakpoint
	byAddr      map[uint64]int
	watches     map[int]*Watchpoint
	watchByAddr map[uint64]int
	stepping    map[int]bool
}

func NewManager(mem Memory) *Manager {
	return &Manager{
		mem:         mem,
		nextID:      1,
		bps:         make(map[int]*Breakpoint),
		byAddr:      make(map[uint64]int),
		watches:     make(map[int]*Watchpoint),
		watchByAddr: make(map[uint64]int),
		stepping:    make(map[int]bool),
	}
}

// Set installs a breakpoint at addr. Setting an address twice is
// idempotent and returns the existing identity; only one trap word is
// ever installed per address.
func (m *Manager) Set(addr uint64, symbol string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byAddr[addr]; ok {
		return id, nil
	}

	orig, err := m.mem.ReadInstruction(addr)
	if err != nil {
		return 0, err
	}
	if err := m.mem.WriteInstruction(addr, TrapInstruction); err != nil {
		return 0, err
	}

	id := m.nextID
	m.nextID++
	m.bps[id] = &Breakpoint{
		ID:      id,
		Addr:    addr,
		Orig:    orig,
		Enabled: true,
		Symbol:  symbol,
	}
	m.byAddr[addr] = id
	return id, nil
}

// Remove restores the original instruction at the breakpoint's address
// and deletes the record. Removing a breakpoint that is mid step-over
// fails with ErrBreakpointBusy.
func (m *Manager) Remove(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bps[id]
	if !ok {
		return ErrBreakpointNotFound
	}
	if m.stepping[id] {
		return ErrBreakpointBusy
	}

	if b.Enabled {
		if err := m.mem.WriteInstruction(b.Addr, b.Orig); err != nil {
			return err
		}
	}
	delete(m.bps, id)
	delete(m.byAddr, b.Addr)
	return nil
}

// Enable reinstalls the trap word of a disabled breakpoint.
func (m *Manager) Enable(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bps[id]
	if !ok {
		return ErrBreakpointNotFound
	}
	if b.Enabled {
		return nil
	}
	if err := m.mem.WriteInstruction(b.Addr, TrapInstruction); err != nil {
		return err
	}
	b.Enabled = true
	return nil
}

// Disable restores the original instruction but keeps the record.
func (m *Manager) Disable(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bps[id]
	if !ok {
		return ErrBreakpointNotFound
	}
	if !b.Enabled {
		return nil
	}
	if err := m.mem.WriteInstruction(b.Addr, b.Orig); err != nil {
		return err
	}
	b.Enabled = false
	return nil
}

// RecordHit increments the breakpoint's hit counter.
func (m *Manager) RecordHit(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bps[id]
	if !ok {
		return ErrBreakpointNotFound
	}
	b.HitCount++
	return nil
}

// Get returns a copy of the breakpoint with id.
func (m *Manager) Get(id int) (Breakpoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bps[id]
	if !ok {
		return Breakpoint{}, false
	}
	return *b, true
}

// At returns a copy of the breakpoint installed at addr.
func (m *Manager) At(addr uint64) (Breakpoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byAddr[addr]
	if !ok {
		return Breakpoint{}, false
	}
	return *m.bps[id], true
}

// List returns copies of all breakpoints ordered by identity.
func (m *Manager) List() []Breakpoint {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Breakpoint, 0, len(m.bps))
	for _, b := range m.bps {
		out = append(out, *b)
	}
	slices.SortFunc(out, func(a, b Breakpoint) int { return a.ID - b.ID })
	return out
}

// StepOver executes the step-over-breakpoint protocol for id: restore the
// original instruction, run step (which must execute exactly one
// instruction), then reinstall the trap if the breakpoint is still
// enabled. The breakpoint is marked busy for the whole sequence so a
// concurrent Remove cannot race the reinstall.
func (m *Manager) StepOver(id int, step func() error) error {
	m.mu.Lock()
	b, ok := m.bps[id]
	if !ok {
		m.mu.Unlock()
		return ErrBreakpointNotFound
	}
	if m.stepping[id] {
		m.mu.Unlock()
		return ErrBreakpointBusy
	}
	addr, orig := b.Addr, b.Orig
	m.stepping[id] = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.stepping, id)
		m.mu.Unlock()
	}()

	if err := m.mem.WriteInstruction(addr, orig); err != nil {
		return err
	}
	if err := step(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.bps[id]; ok && b.Enabled {
		return m.mem.WriteInstruction(addr, TrapInstruction)
	}
	return nil
}

// RestoreAll rewrites the original instruction of every enabled
// breakpoint and clears the registry. Failures are collected so teardown
// can continue past a dying target.
func (m *Manager) RestoreAll() []error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, b := range m.bps {
		if !b.Enabled {
			continue
		}
		if err := m.mem.WriteInstruction(b.Addr, b.Orig); err != nil {
			errs = append(errs, err)
		}
	}
	m.bps = make(map[int]*Breakpoint)
	m.byAddr = make(map[uint64]int)
	m.watches = make(map[int]*Watchpoint)
	m.watchByAddr = make(map[uint64]int)
	m.stepping = make(map[int]bool)
	return errs
}
