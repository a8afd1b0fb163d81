package perm

import "errors"

var (
	ErrPermissionDenied   = errors.New("permission denied")
	ErrMissingEntitlement = errors.New("missing debugger entitlement")
	ErrDeveloperModeOff   = errors.New("developer mode disabled")
	ErrBlockedBySIP       = errors.New("blocked by system integrity protection")
)

// AttachError translates a below-Full snapshot into the most specific
// environment error. It returns nil when live debugging is permitted.
func AttachError(s Status) error {
	if s.CanDebug() {
		return nil
	}
	if !s.DebugEntitlement {
		return ErrMissingEntitlement
	}
	if !s.DeveloperMode {
		return ErrDeveloperModeOff
	}
	return ErrPermissionDenied
}
