package stronghold

import (
	"fmt"

	"github.com/awnumar/memguard"

	"github.com/unalkalkan/stronghold/internal/crypto"
	"github.com/unalkalkan/stronghold/internal/misc"
)

// Sub-key derivation labels. Distinct labels give cryptographically
// independent keys from one per-vault master key.
const (
	labelChainIntegrity = "stronghold/chain-integrity/v1"
	labelBlobEncryption = "stronghold/blob-encryption/v1"
)

// newMasterKey generates a fresh 32-byte vault master key and seals it in
// an enclave.
func newMasterKey(src *crypto.Source) (*memguard.Enclave, error) {
	key, err := src.Bytes(int(misc.ArgonKeyLen))
	if err != nil {
		return nil, fmt.Errorf("failed to generate master key: %w", err)
	}
	// NewEnclave wipes the source slice.
	return memguard.NewEnclave(key), nil
}

// deriveSubKey opens the master key just long enough to run HKDF and
// seals the labelled sub-key into its own enclave.
func deriveSubKey(master *memguard.Enclave, label string) (*memguard.Enclave, error) {
	masterBuffer, err := master.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to access master key: %w", err)
	}
	defer masterBuffer.Destroy()

	sub, err := crypto.SubKey(masterBuffer.Bytes(), label, int(misc.ArgonKeyLen))
	if err != nil {
		return nil, err
	}
	// Seal moves the buffer into an enclave and destroys it.
	return sub.Seal(), nil
}

// withKey runs fn with the enclave's key bytes, destroying the opened
// buffer on every exit path.
func withKey(enclave *memguard.Enclave, fn func(key []byte) error) error {
	buffer, err := enclave.Open()
	if err != nil {
		return fmt.Errorf("failed to access key: %w", err)
	}
	defer buffer.Destroy()
	return fn(buffer.Bytes())
}
