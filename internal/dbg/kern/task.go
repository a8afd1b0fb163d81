package kern

import (
	"errors"

	"github.com/sirupsen/logrus"

	"mdbg.dev/cmd/internal/dbg/logx"
)

// TaskPort owns the mach task port for an attached process. It is acquired
// on attach and must be released exactly once on detach; all other kernel
// operations borrow it.
type TaskPort struct {
	k    Kernel
	pid  int
	task TaskID
	log  *logrus.Entry

	released bool
}

// Acquire obtains the task port for pid and attaches to the process. On
// any failure after the port is obtained the port is deallocated before
// the error propagates.
func Acquire(k Kernel, pid int) (*TaskPort, error) {
	task, err := k.TaskForPid(pid)
	if err != nil {
		if errors.Is(err, ErrProcessNotFound) || errors.Is(err, ErrTargetNotDebuggable) {
			return nil, err
		}
		return nil, errors.Join(ErrAttachFailed, err)
	}

	if err := k.PtraceAttach(pid); err != nil {
		k.DeallocateTask(task)
		return nil, errors.Join(ErrAttachFailed, err)
	}

	tp := &TaskPort{k: k, pid: pid, task: task, log: logx.Layer("task")}
	tp.log.Debugf("acquired task port %d for pid %d", task, pid)
	return tp, nil
}

// Pid returns the process id of the attached target.
func (tp *TaskPort) Pid() int { return tp.pid }

// Task returns the raw task handle.
func (tp *TaskPort) Task() TaskID { return tp.task }

// Valid reports whether the port has not been released.
func (tp *TaskPort) Valid() bool { return !tp.released }

// Threads enumerates the target's threads.
func (tp *TaskPort) Threads() ([]ThreadID, error) {
	if tp.released {
		return nil, ErrTaskInvalid
	}
	return tp.k.TaskThreads(tp.task)
}

// Suspend halts the whole task.
func (tp *TaskPort) Suspend() error {
	if tp.released {
		return ErrTaskInvalid
	}
	return tp.k.TaskSuspend(tp.task)
}

// Resume lets the whole task run.
func (tp *TaskPort) Resume() error {
	if tp.released {
		return ErrTaskInvalid
	}
	return tp.k.TaskResume(tp.task)
}

// Release detaches from the process and deallocates the task port. The
// port is deallocated even if the ptrace detach fails; a second Release is
// a no-op.
func (tp *TaskPort) Release() error {
	if tp.released {
		return nil
	}
	tp.released = true

	err := tp.k.PtraceDetach(tp.pid)
	if derr := tp.k.DeallocateTask(tp.task); err == nil {
		err = derr
	}
	tp.log.Debugf("released task port %d for pid %d", tp.task, tp.pid)
	return err
}
