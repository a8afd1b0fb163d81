package kern

import (
	"errors"
	"fmt"
)

var (
	ErrProcessNotFound     = errors.New("process not found")
	ErrTargetNotDebuggable = errors.New("target binary does not permit debugging")
	ErrAttachFailed        = errors.New("could not attach to process")
	ErrTaskInvalid         = errors.New("task port invalid")
	ErrNotSupported        = errors.New("native debugging is not supported on this platform")
)

// MemoryReadError reports a failed read of size bytes at addr.
type MemoryReadError struct {
	Addr uint64
	Size int
	Err  error
}

func (e *MemoryReadError) Error() string {
	return fmt.Sprintf("read of %d bytes at %#x failed: %v", e.Size, e.Addr, e.Err)
}

func (e *MemoryReadError) Unwrap() error { return e.Err }

// MemoryWriteError reports a failed write of size bytes at addr.
type MemoryWriteError struct {
	Addr uint64
	Size int
	Err  error
}

func (e *MemoryWriteError) Error() string {
	return fmt.Sprintf("write of %d bytes at %#x failed: %v", e.Size, e.Addr, e.Err)
}

func (e *MemoryWriteError) Unwrap() error { return e.Err }

// ThreadOpError reports a failed kernel call against a thread.
type ThreadOpError struct {
	Op     string
	Thread ThreadID
	Err    error
}

func (e *ThreadOpError) Error() string {
	return fmt.Sprintf("thread %d: %s failed: %v", e.Thread, e.Op, e.Err)
}

func (e *ThreadOpError) Unwrap() error { return e.Err }
