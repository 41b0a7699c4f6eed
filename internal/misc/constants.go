package misc

const (
	// SnapshotFormatVersion is the current on-disk snapshot container version.
	SnapshotFormatVersion = 1

	// Argon2id parameters used when the caller does not override them.
	ArgonTime    uint32 = 4
	ArgonMemory  uint32 = 128 * 1024
	ArgonThreads uint8  = 4
	ArgonKeyLen  uint32 = 32

	SaltSize  = 16
	NonceSize = 24 // XChaCha20-Poly1305
	TagSize   = 16 // Poly1305

	FilePermissions = 0600 // user read + write
	DirPermissions  = 0700
)
