//go:build !darwin

package perm

type unsupportedEnv struct{}

// HostEnvironment on non-darwin hosts reports a fully restricted
// environment; only static analysis is possible.
func HostEnvironment() Environment {
	return unsupportedEnv{}
}

func (unsupportedEnv) SIPEnabled() (bool, error)           { return true, nil }
func (unsupportedEnv) DeveloperModeEnabled() (bool, error) { return false, nil }
func (unsupportedEnv) HasDebugEntitlement() (bool, error)  { return false, nil }
