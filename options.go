package stronghold

import (
	"fmt"
	"io"

	"github.com/unalkalkan/stronghold/audit"
	"github.com/unalkalkan/stronghold/internal/misc"
)

// RevocationMode controls whether a revoked record remains distinguishable
// from one that never existed. Distinguishing them materially affects
// audit behavior, so the choice is explicit configuration rather than a
// hard-coded policy.
type RevocationMode uint8

const (
	// RevocationTombstone reports revoked records as ErrRecordRevoked.
	// This is the default: auditors can tell "gone" from "never there".
	RevocationTombstone RevocationMode = iota

	// RevocationHidden makes revoked records indistinguishable from
	// absent ones; both report ErrRecordNotFound.
	RevocationHidden
)

// KDFParams are the Argon2id work parameters used for snapshot key
// derivation. They are persisted in the snapshot header so a snapshot
// written under one configuration can always be read back.
type KDFParams struct {
	Time    uint32 `json:"time"`
	Memory  uint32 `json:"memory"` // KiB
	Threads uint8  `json:"threads"`
	KeyLen  uint32 `json:"key_len"`
}

// DefaultKDFParams returns the default Argon2id work parameters.
func DefaultKDFParams() KDFParams {
	return KDFParams{
		Time:    misc.ArgonTime,
		Memory:  misc.ArgonMemory,
		Threads: misc.ArgonThreads,
		KeyLen:  misc.ArgonKeyLen,
	}
}

func (p KDFParams) validate() error {
	if p.Time == 0 || p.Memory == 0 || p.Threads == 0 {
		return fmt.Errorf("kdf work parameters must be non-zero")
	}
	if p.KeyLen != misc.ArgonKeyLen {
		return fmt.Errorf("kdf output length must be %d bytes", misc.ArgonKeyLen)
	}
	return nil
}

// Options configures a Manager.
type Options struct {
	// Audit selects the audit logging backend. Nil or disabled means a
	// no-op logger.
	Audit *audit.Config `json:"audit,omitempty"`

	// KDF overrides the snapshot key-derivation work parameters. Zero
	// value means DefaultKDFParams.
	KDF KDFParams `json:"kdf"`

	// RevocationMode controls revoked-versus-absent visibility on reads.
	RevocationMode RevocationMode `json:"revocation_mode"`

	// EnableMemoryLock attempts to lock process memory so key material is
	// never swapped to disk.
	EnableMemoryLock bool `json:"enable_memory_lock"`

	// Rand overrides the random source for keys, nonces and salts. Nil
	// means the OS CSPRNG. Reads are serialized internally, so the reader
	// does not need to be safe for concurrent use. Tests use this to run
	// deterministically; it is never serialized.
	Rand io.Reader `json:"-"`
}

// Validate checks the configuration, filling in defaulted KDF parameters.
func (o *Options) Validate() error {
	if o.KDF == (KDFParams{}) {
		o.KDF = DefaultKDFParams()
	}
	if err := o.KDF.validate(); err != nil {
		return err
	}
	switch o.RevocationMode {
	case RevocationTombstone, RevocationHidden:
	default:
		return fmt.Errorf("unknown revocation mode: %d", o.RevocationMode)
	}
	return nil
}
