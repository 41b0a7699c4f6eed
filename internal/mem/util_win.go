//go:build windows

package mem

func lockMemoryPlatform() (ProtectionLevel, error) {
	// VirtualLock exists on Windows but is page-granular and quota-bound,
	// so only partial protection is reported here.
	return ProtectionPartial, nil
}

func unlockMemoryPlatform() error {
	return nil
}
