package session

import "errors"

var (
	ErrInvalidPid      = errors.New("invalid pid")
	ErrAlreadyAttached = errors.New("already attached to this process")
	ErrNotAttached     = errors.New("not attached to a process")
	ErrAlreadyRunning  = errors.New("target is already running")
	ErrNotRunning      = errors.New("target is not running")
	ErrNotStopped      = errors.New("target must be stopped")
)
