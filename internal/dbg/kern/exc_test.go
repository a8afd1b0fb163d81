package kern_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdbg.dev/cmd/internal/dbg/kern"
	"mdbg.dev/cmd/internal/dbg/test"
)

func newTestServer(t *testing.T) (*kern.Server, *test.FakeKernel, kern.TaskID, kern.ThreadID) {
	t.Helper()
	f := test.NewFakeKernel()
	task, th := f.AddProcess(4242)

	tp, err := kern.Acquire(f, 4242)
	require.NoError(t, err)
	return kern.NewServer(f, tp), f, task, th
}

func TestServerStartStop(t *testing.T) {
	s, f, _, _ := newTestServer(t)

	require.NoError(t, s.Start())
	require.Len(t, f.AllocatedPorts, 1)
	assert.Equal(t, f.AllocatedPorts[0], f.RedirectedTo)

	// Starting twice changes nothing.
	require.NoError(t, s.Start())
	assert.Len(t, f.AllocatedPorts, 1)

	require.NoError(t, s.Stop())
	assert.Equal(t, 1, f.RestoreCalls)
	assert.Equal(t, f.AllocatedPorts, f.DeallocatedPorts)

	// Stopping an inactive server is a no-op.
	require.NoError(t, s.Stop())
	assert.Equal(t, 1, f.RestoreCalls)
}

func TestServerStartSaveFailureReleasesPort(t *testing.T) {
	s, f, _, _ := newTestServer(t)
	f.FailSave = errors.New("kern_failure")

	err := s.Start()
	var terr *kern.ThreadOpError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, f.AllocatedPorts, f.DeallocatedPorts, "port must not leak")
	assert.Zero(t, f.RedirectedTo)
}

func TestServerStartRedirectFailureReleasesPort(t *testing.T) {
	s, f, _, _ := newTestServer(t)
	f.FailRedirect = errors.New("kern_failure")

	err := s.Start()
	assert.Error(t, err)
	assert.Equal(t, f.AllocatedPorts, f.DeallocatedPorts, "port must not leak")
}

func TestWaitInactive(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	_, err := s.Wait(100)
	assert.ErrorIs(t, err, kern.ErrTaskInvalid)
}

func TestWaitTimeout(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	require.NoError(t, s.Start())

	ev, err := s.Wait(50)
	assert.NoError(t, err)
	assert.Nil(t, ev, "timeout reports no event and no error")
}

func TestWaitLeavesTaskSuspended(t *testing.T) {
	s, f, task, th := newTestServer(t)
	require.NoError(t, s.Start())

	f.InjectBreakpointHit(task, th, 0x100003f40)
	ev, err := s.Wait(0)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, th, ev.Thread)
	assert.Equal(t, 1, f.TaskSuspendCount(task), "the pipeline never resumes the target")
}

var classifyTests = []struct {
	typ   int32
	codes []uint64
	want  kern.ExceptionKind
}{
	{1, []uint64{1, 0xdead}, kern.KindBadAccess},
	{2, []uint64{0, 0}, kern.KindBadInstruction},
	{4, []uint64{0, 0}, kern.KindBadInstruction},
	{3, []uint64{0, 0}, kern.KindArithmetic},
	{5, []uint64{0, 0}, kern.KindSoftware},
	{6, []uint64{1, 0}, kern.KindSingleStep},
	{6, []uint64{1}, kern.KindSingleStep},
	{6, []uint64{1, 0x100003f40}, kern.KindBreakpoint},
	{7, []uint64{0, 0}, kern.KindSyscall},
	{8, []uint64{0, 0}, kern.KindSyscall},
	{99, []uint64{0, 0}, kern.KindOther},
}

func TestClassification(t *testing.T) {
	for i, tc := range classifyTests {
		s, f, task, th := newTestServer(t)
		require.NoError(t, s.Start(), "test #%d", i)

		f.InjectRaw(kern.RawException{Thread: th, Task: task, Type: tc.typ, Codes: tc.codes})
		ev, err := s.Wait(0)
		require.NoError(t, err, "test #%d", i)
		require.NotNil(t, ev, "test #%d", i)
		assert.Equal(t, tc.want, ev.Kind, "test #%d", i)
		assert.True(t, ev.Kind.Stops(), "test #%d", i)
	}
}

func TestFaultAddress(t *testing.T) {
	bad := kern.Event{Kind: kern.KindBadAccess, Codes: []uint64{2, 0xdeadbeef}}
	addr, ok := bad.FaultAddress()
	assert.True(t, ok)
	assert.Equal(t, uint64(0xdeadbeef), addr)

	brk := kern.Event{Kind: kern.KindBreakpoint, Codes: []uint64{1, 0x1000}}
	_, ok = brk.FaultAddress()
	assert.False(t, ok)

	short := kern.Event{Kind: kern.KindBadAccess, Codes: []uint64{2}}
	_, ok = short.FaultAddress()
	assert.False(t, ok)
}

var kindStringTests = []struct {
	kind kern.ExceptionKind
	want string
}{
	{kern.KindBadAccess, "bad memory access"},
	{kern.KindBreakpoint, "breakpoint"},
	{kern.KindSingleStep, "single step"},
	{kern.KindOther, "other"},
}

func TestKindString(t *testing.T) {
	for i, tc := range kindStringTests {
		assert.Equal(t, tc.want, tc.kind.String(), "test #%d", i)
	}
}
