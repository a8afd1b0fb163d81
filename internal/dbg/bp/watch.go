package bp

import "golang.org/x/exp/slices"

func validWatchSize(size int) bool {
	switch size {
	case 1, 2, 4, 8:
		return true
	}
	return false
}

// AddWatch records a watchpoint over size bytes at addr. Size must be one
// of 1, 2, 4 or 8. Duplicate addresses return the existing identity, like
// breakpoints.
func (m *Manager) AddWatch(addr uint64, size int, kind WatchKind, symbol string) (int, error) {
	if !validWatchSize(size) {
		return 0, ErrInvalidWatchpointSize
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.watchByAddr[addr]; ok {
		return id, nil
	}

	id := m.nextID
	m.nextID++
	m.watches[id] = &Watchpoint{
		ID:      id,
		Addr:    addr,
		Size:    size,
		Kind:    kind,
		Enabled: true,
		Symbol:  symbol,
	}
	m.watchByAddr[addr] = id
	return id, nil
}

// RemoveWatch deletes the watchpoint with id.
func (m *Manager) RemoveWatch(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.watches[id]
	if !ok {
		return ErrWatchpointNotFound
	}
	delete(m.watches, id)
	delete(m.watchByAddr, w.Addr)
	return nil
}

// RecordWatchHit increments the watchpoint's hit counter.
func (m *Manager) RecordWatchHit(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.watches[id]
	if !ok {
		return ErrWatchpointNotFound
	}
	w.HitCount++
	return nil
}

// Watchpoints returns copies of all watchpoints ordered by identity.
func (m *Manager) Watchpoints() []Watchpoint {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Watchpoint, 0, len(m.watches))
	for _, w := range m.watches {
		out = append(out, *w)
	}
	slices.SortFunc(out, func(a, b Watchpoint) int { return a.ID - b.ID })
	return out
}
