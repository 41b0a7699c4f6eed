//go:build !linux && !darwin && !freebsd && !openbsd && !netbsd && !dragonfly && !windows

package mem

func lockMemoryPlatform() (ProtectionLevel, error) {
	// Unsupported platforms still get zeroing of buffers, but swapping
	// cannot be prevented.
	return ProtectionPartial, nil
}

func unlockMemoryPlatform() error {
	return nil
}
