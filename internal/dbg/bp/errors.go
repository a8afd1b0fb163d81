package bp

import "errors"

var (
	ErrBreakpointNotFound    = errors.New("breakpoint not found")
	ErrBreakpointBusy        = errors.New("breakpoint is mid step-over")
	ErrWatchpointNotFound    = errors.New("watchpoint not found")
	ErrInvalidWatchpointSize = errors.New("watchpoint size must be 1, 2, 4 or 8")
)
