package kern_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdbg.dev/cmd/internal/dbg/kern"
	"mdbg.dev/cmd/internal/dbg/test"
)

func TestAcquireRelease(t *testing.T) {
	f := test.NewFakeKernel()
	task, _ := f.AddProcess(4242)

	tp, err := kern.Acquire(f, 4242)
	require.NoError(t, err)
	assert.Equal(t, 4242, tp.Pid())
	assert.Equal(t, task, tp.Task())
	assert.True(t, tp.Valid())
	assert.True(t, f.Attached[4242])

	require.NoError(t, tp.Release())
	assert.False(t, tp.Valid())
	assert.False(t, f.Attached[4242])
	assert.Equal(t, []kern.TaskID{task}, f.ReleasedTasks)

	// Second release is a no-op.
	require.NoError(t, tp.Release())
	assert.Len(t, f.ReleasedTasks, 1)
}

func TestAcquireUnknownPid(t *testing.T) {
	f := test.NewFakeKernel()

	_, err := kern.Acquire(f, 9999)
	assert.ErrorIs(t, err, kern.ErrProcessNotFound)
	assert.Empty(t, f.Attached)
}

func TestAcquireTargetNotDebuggable(t *testing.T) {
	f := test.NewFakeKernel()
	f.AddProcess(4242)
	f.FailTaskForPid = kern.ErrTargetNotDebuggable

	_, err := kern.Acquire(f, 4242)
	assert.ErrorIs(t, err, kern.ErrTargetNotDebuggable)
	assert.NotErrorIs(t, err, kern.ErrAttachFailed)
	assert.Empty(t, f.Attached)
}

func TestAcquireAttachFailure(t *testing.T) {
	f := test.NewFakeKernel()
	task, _ := f.AddProcess(4242)
	f.FailAttach = errors.New("operation not permitted")

	_, err := kern.Acquire(f, 4242)
	assert.ErrorIs(t, err, kern.ErrAttachFailed)
	assert.Equal(t, []kern.TaskID{task}, f.ReleasedTasks, "port must not leak on attach failure")
}

func TestReleasedPortRefusesOperations(t *testing.T) {
	f := test.NewFakeKernel()
	f.AddProcess(4242)

	tp, err := kern.Acquire(f, 4242)
	require.NoError(t, err)
	require.NoError(t, tp.Release())

	assert.ErrorIs(t, tp.Suspend(), kern.ErrTaskInvalid)
	assert.ErrorIs(t, tp.Resume(), kern.ErrTaskInvalid)
	_, err = tp.Threads()
	assert.ErrorIs(t, err, kern.ErrTaskInvalid)
}

func TestSuspendResumeBalance(t *testing.T) {
	f := test.NewFakeKernel()
	task, _ := f.AddProcess(4242)

	tp, err := kern.Acquire(f, 4242)
	require.NoError(t, err)

	require.NoError(t, tp.Suspend())
	require.NoError(t, tp.Suspend())
	assert.Equal(t, 2, f.TaskSuspendCount(task))
	require.NoError(t, tp.Resume())
	require.NoError(t, tp.Resume())
	assert.Equal(t, 0, f.TaskSuspendCount(task))
}

func TestThreadSnapshot(t *testing.T) {
	f := test.NewFakeKernel()
	_, thID := f.AddProcess(4242)
	f.SetPC(thID, 0x100003f40)

	th, err := kern.ReadThread(f, thID)
	require.NoError(t, err)
	assert.Equal(t, thID, th.ID())
	assert.Equal(t, uint64(0x100003f40), th.Regs.PC)
	assert.False(t, th.Suspended)

	require.NoError(t, th.Suspend())
	assert.True(t, th.Suspended)

	th2, err := kern.ReadThread(f, thID)
	require.NoError(t, err)
	assert.True(t, th2.Suspended)

	require.NoError(t, th.Resume())
	assert.False(t, th.Suspended)
}

func TestWriteRegisters(t *testing.T) {
	f := test.NewFakeKernel()
	_, thID := f.AddProcess(4242)

	th, err := kern.ReadThread(f, thID)
	require.NoError(t, err)
	th.Regs.X[0] = 0xdeadbeef
	th.Regs.PC = 0x1000
	require.NoError(t, th.WriteRegisters())

	th2, err := kern.ReadThread(f, thID)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xdeadbeef), th2.Regs.X[0])
	assert.Equal(t, uint64(0x1000), th2.Regs.PC)
}

var regIndexTests = []struct {
	n  int
	ok bool
}{
	{0, true},
	{15, true},
	{28, true},
	{29, true},
	{30, true},
	{31, false},
	{-1, false},
}

func TestRegisterIndexing(t *testing.T) {
	var r kern.Regs
	r.FP = 0xf0
	r.LR = 0xf1
	r.X[7] = 7

	for i, test := range regIndexTests {
		v, err := r.Reg(test.n)
		if !test.ok {
			assert.Error(t, err, "test #%d", i)
			continue
		}
		require.NoError(t, err, "test #%d", i)
		switch test.n {
		case 7:
			assert.Equal(t, uint64(7), v)
		case 29:
			assert.Equal(t, uint64(0xf0), v)
		case 30:
			assert.Equal(t, uint64(0xf1), v)
		}
		require.NoError(t, r.SetReg(test.n, 0x42), "test #%d", i)
	}
	assert.Error(t, r.SetReg(31, 0))
	assert.Equal(t, uint64(0x42), r.FP)
	assert.Equal(t, uint64(0x42), r.LR)
}
