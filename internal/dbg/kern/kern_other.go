//go:build !(darwin && arm64)

package kern

// Native is only implemented for darwin/arm64 hosts.
func Native() (Kernel, error) {
	return nil, ErrNotSupported
}
