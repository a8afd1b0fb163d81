package bp

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wordMemory backs instruction reads and writes with a map and can be
// told to fail writes at chosen addresses.
type wordMemory struct {
	words  map[uint64]uint32
	failAt map[uint64]bool
	writes int
}

func newWordMemory(words map[uint64]uint32) *wordMemory {
	return &wordMemory{words: words, failAt: make(map[uint64]bool)}
}

func (m *wordMemory) ReadInstruction(addr uint64) (uint32, error) {
	w, ok := m.words[addr]
	if !ok {
		return 0, errors.New("unmapped address")
	}
	return w, nil
}

func (m *wordMemory) WriteInstruction(addr uint64, word uint32) error {
	if m.failAt[addr] {
		return errors.New("write refused")
	}
	if _, ok := m.words[addr]; !ok {
		return errors.New("unmapped address")
	}
	m.words[addr] = word
	m.writes++
	return nil
}

const (
	addrMain = uint64(0x100003f40)
	origMain = uint32(0xa9bf7bfd) // stp x29, x30, [sp, #-16]!
)

func newTestManager(t *testing.T) (*Manager, *wordMemory) {
	t.Helper()
	mem := newWordMemory(map[uint64]uint32{
		addrMain:     origMain,
		addrMain + 4: 0x910003fd,
		addrMain + 8: 0xd65f03c0,
	})
	return NewManager(mem), mem
}

func TestSetRestoreRoundTrip(t *testing.T) {
	m, mem := newTestManager(t)

	id, err := m.Set(addrMain, "_main")
	require.NoError(t, err)
	assert.Equal(t, 1, id)
	assert.Equal(t, TrapInstruction, mem.words[addrMain])

	b, ok := m.Get(id)
	require.True(t, ok)
	assert.Equal(t, origMain, b.Orig)
	assert.Equal(t, "_main", b.Symbol)
	assert.True(t, b.Enabled)

	require.NoError(t, m.Remove(id))
	assert.Equal(t, origMain, mem.words[addrMain])
	_, ok = m.Get(id)
	assert.False(t, ok)
}

func TestSetIdempotent(t *testing.T) {
	m, mem := newTestManager(t)

	id1, err := m.Set(addrMain, "_main")
	require.NoError(t, err)
	writes := mem.writes

	id2, err := m.Set(addrMain, "")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	assert.Equal(t, writes, mem.writes, "second set must not touch memory")
	assert.Len(t, m.List(), 1)
}

func TestSetUnmappedAddress(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Set(0xdead0000, "")
	assert.Error(t, err)
	assert.Empty(t, m.List())
}

func TestSetWriteFailureLeavesNoRecord(t *testing.T) {
	m, mem := newTestManager(t)
	mem.failAt[addrMain] = true

	_, err := m.Set(addrMain, "")
	assert.Error(t, err)
	assert.Empty(t, m.List())
	assert.Equal(t, origMain, mem.words[addrMain])
}

func TestEnableDisable(t *testing.T) {
	m, mem := newTestManager(t)
	id, err := m.Set(addrMain, "")
	require.NoError(t, err)

	require.NoError(t, m.Disable(id))
	assert.Equal(t, origMain, mem.words[addrMain])
	require.NoError(t, m.Disable(id)) // no-op
	assert.Equal(t, origMain, mem.words[addrMain])

	require.NoError(t, m.Enable(id))
	assert.Equal(t, TrapInstruction, mem.words[addrMain])
	require.NoError(t, m.Enable(id)) // no-op

	// Removing a disabled breakpoint must not write the original back
	// over whatever is there now.
	require.NoError(t, m.Disable(id))
	writes := mem.writes
	require.NoError(t, m.Remove(id))
	assert.Equal(t, writes, mem.writes)
}

func TestHitAccounting(t *testing.T) {
	m, _ := newTestManager(t)
	id, err := m.Set(addrMain, "")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, m.RecordHit(id))
	}
	b, _ := m.Get(id)
	assert.Equal(t, 3, b.HitCount)

	// Re-adding after removal is a fresh record with a fresh counter.
	require.NoError(t, m.Remove(id))
	id2, err := m.Set(addrMain, "")
	require.NoError(t, err)
	assert.NotEqual(t, id, id2)
	b, _ = m.Get(id2)
	assert.Equal(t, 0, b.HitCount)

	assert.ErrorIs(t, m.RecordHit(999), ErrBreakpointNotFound)
}

func TestListOrder(t *testing.T) {
	m, _ := newTestManager(t)
	for _, addr := range []uint64{addrMain + 8, addrMain, addrMain + 4} {
		_, err := m.Set(addr, "")
		require.NoError(t, err)
	}
	list := m.List()
	require.Len(t, list, 3)
	for i, b := range list {
		assert.Equal(t, i+1, b.ID)
	}
}

func TestStepOver(t *testing.T) {
	m, mem := newTestManager(t)
	id, err := m.Set(addrMain, "")
	require.NoError(t, err)

	stepped := false
	err = m.StepOver(id, func() error {
		stepped = true
		assert.Equal(t, origMain, mem.words[addrMain], "original must be live during the step")
		return nil
	})
	require.NoError(t, err)
	assert.True(t, stepped)
	assert.Equal(t, TrapInstruction, mem.words[addrMain], "trap reinstalled after the step")

	b, _ := m.Get(id)
	assert.True(t, b.Enabled)
}

func TestStepOverDisabledMidSequence(t *testing.T) {
	m, mem := newTestManager(t)
	id, err := m.Set(addrMain, "")
	require.NoError(t, err)

	err = m.StepOver(id, func() error {
		return m.Disable(id)
	})
	require.NoError(t, err)
	assert.Equal(t, origMain, mem.words[addrMain], "disabled breakpoint must not be reinstalled")
}

func TestStepOverStepFailure(t *testing.T) {
	m, mem := newTestManager(t)
	id, err := m.Set(addrMain, "")
	require.NoError(t, err)

	stepErr := errors.New("thread gone")
	err = m.StepOver(id, func() error { return stepErr })
	assert.ErrorIs(t, err, stepErr)
	assert.Equal(t, origMain, mem.words[addrMain])

	// The busy flag must be cleared even on failure.
	require.NoError(t, m.Remove(id))
}

func TestRemoveDuringStepOverIsBusy(t *testing.T) {
	m, _ := newTestManager(t)
	id, err := m.Set(addrMain, "")
	require.NoError(t, err)

	err = m.StepOver(id, func() error {
		return m.Remove(id)
	})
	assert.ErrorIs(t, err, ErrBreakpointBusy)

	// The sequence aborted, so the breakpoint survives and is removable.
	require.NoError(t, m.Remove(id))
}

func TestRestoreAll(t *testing.T) {
	m, mem := newTestManager(t)
	id1, err := m.Set(addrMain, "")
	require.NoError(t, err)
	_, err = m.Set(addrMain+4, "")
	require.NoError(t, err)
	_, err = m.AddWatch(addrMain+8, 8, WatchWrite, "")
	require.NoError(t, err)
	require.NoError(t, m.Disable(id1))

	errs := m.RestoreAll()
	assert.Empty(t, errs)
	assert.Equal(t, origMain, mem.words[addrMain])
	assert.Equal(t, uint32(0x910003fd), mem.words[addrMain+4])
	assert.Empty(t, m.List())
	assert.Empty(t, m.Watchpoints())
}

func TestRestoreAllCollectsFailures(t *testing.T) {
	m, mem := newTestManager(t)
	_, err := m.Set(addrMain, "")
	require.NoError(t, err)
	_, err = m.Set(addrMain+4, "")
	require.NoError(t, err)

	mem.failAt[addrMain] = true
	errs := m.RestoreAll()
	assert.Len(t, errs, 1)
	assert.Equal(t, uint32(0x910003fd), mem.words[addrMain+4], "teardown continues past failures")
	assert.Empty(t, m.List())
}

var watchSizeTests = []struct {
	size int
	ok   bool
}{
	{1, true},
	{2, true},
	{4, true},
	{8, true},
	{0, false},
	{3, false},
	{5, false},
	{16, false},
	{-1, false},
}

func TestWatchSizes(t *testing.T) {
	for i, test := range watchSizeTests {
		m, _ := newTestManager(t)
		id, err := m.AddWatch(0x2000, test.size, WatchReadWrite, "")
		if test.ok {
			assert.NoError(t, err, "test #%d", i)
			assert.NotZero(t, id, "test #%d", i)
		} else {
			assert.ErrorIs(t, err, ErrInvalidWatchpointSize, "test #%d", i)
		}
	}
}

func TestWatchLifecycle(t *testing.T) {
	m, _ := newTestManager(t)

	id, err := m.AddWatch(0x2000, 8, WatchWrite, "g_counter")
	require.NoError(t, err)

	dup, err := m.AddWatch(0x2000, 4, WatchRead, "")
	require.NoError(t, err)
	assert.Equal(t, id, dup)

	require.NoError(t, m.RecordWatchHit(id))
	ws := m.Watchpoints()
	require.Len(t, ws, 1)
	assert.Equal(t, 1, ws[0].HitCount)
	assert.Equal(t, WatchWrite, ws[0].Kind)
	assert.Equal(t, "g_counter", ws[0].Symbol)

	require.NoError(t, m.RemoveWatch(id))
	assert.ErrorIs(t, m.RemoveWatch(id), ErrWatchpointNotFound)
	assert.ErrorIs(t, m.RecordWatchHit(id), ErrWatchpointNotFound)
}

func TestBreakpointAndWatchpointShareIdentitySpace(t *testing.T) {
	m, _ := newTestManager(t)

	bid, err := m.Set(addrMain, "")
	require.NoError(t, err)
	wid, err := m.AddWatch(0x2000, 4, WatchRead, "")
	require.NoError(t, err)
	assert.NotEqual(t, bid, wid)
}
