package dbg

// The debugger only targets 64-bit ARM; the trap word, register bank and
// single-step machinery are all architecture-specific.
const (
	// Version is the debugger release string reported by "mdbg version".
	Version = "0.1.0"

	ArchARM64 = "arm64"
)

// Exit codes of the mdbg command.
const (
	ExitOK                  = 0
	ExitProcessNotFound     = 1
	ExitPermissionDenied    = 10
	ExitSIPBlocked          = 11
	ExitTargetNotDebuggable = 12
	ExitAttachFailed        = 13
)
