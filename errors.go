package stronghold

import (
	"errors"
	"fmt"
)

var (
	// ErrVaultNotFound is returned when no chain exists for a vault ID.
	ErrVaultNotFound = errors.New("stronghold: vault not found")

	// ErrVaultExists is returned when creating a vault ID that is already in use.
	ErrVaultExists = errors.New("stronghold: vault already exists")

	// ErrClientNotFound is returned when a client owns no vaults.
	ErrClientNotFound = errors.New("stronghold: client not found")

	// ErrRecordNotFound is returned for record IDs the chain has never seen,
	// and for revoked records when the vault runs in RevocationHidden mode.
	ErrRecordNotFound = errors.New("stronghold: record not found")

	// ErrRecordRevoked is returned for tombstoned records when the vault
	// distinguishes revocation from absence.
	ErrRecordRevoked = errors.New("stronghold: record revoked")

	// ErrChainSealed is returned on append attempts past a Seal transaction
	// without an explicit reopen.
	ErrChainSealed = errors.New("stronghold: chain is sealed")

	// ErrChainNotSealed is returned when reopening a chain that has no
	// trailing Seal.
	ErrChainNotSealed = errors.New("stronghold: chain is not sealed")

	// ErrBlobNotFound is returned for unknown blob IDs.
	ErrBlobNotFound = errors.New("stronghold: blob not found")

	// ErrDecryptFailed is returned when a blob fails authentication. No
	// plaintext is ever released with it.
	ErrDecryptFailed = errors.New("stronghold: decryption failed")

	// ErrPassphraseOrCorrupt is the single, deliberately merged failure for
	// snapshot decryption: a wrong passphrase and a corrupted file are
	// indistinguishable by design, so failure alone is not a guessing oracle.
	ErrPassphraseOrCorrupt = errors.New("stronghold: wrong passphrase or corrupt snapshot")

	// ErrSnapshotVersionUnsupported is returned for snapshot containers with
	// an unknown format version or KDF identifier, before any decryption.
	ErrSnapshotVersionUnsupported = errors.New("stronghold: unsupported snapshot version")

	// ErrManagerClosed is returned by operations on a closed manager.
	ErrManagerClosed = errors.New("stronghold: manager is closed")
)

// ChainCorruptError reports the first transaction at which a chain failed
// integrity verification. Once raised, nothing derived from the chain may
// be trusted; there is no partial trust.
type ChainCorruptError struct {
	VaultID string
	Index   int
	Reason  string
}

func (e *ChainCorruptError) Error() string {
	return fmt.Sprintf("stronghold: chain %s corrupt at transaction %d: %s", e.VaultID, e.Index, e.Reason)
}

// IsCorrupt reports whether err signals an integrity failure (chain link,
// blob authentication, or snapshot authentication).
func IsCorrupt(err error) bool {
	var cc *ChainCorruptError
	return errors.As(err, &cc) ||
		errors.Is(err, ErrDecryptFailed) ||
		errors.Is(err, ErrPassphraseOrCorrupt)
}
