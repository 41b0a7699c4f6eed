package stronghold

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/awnumar/memguard"

	"github.com/unalkalkan/stronghold/audit"
	"github.com/unalkalkan/stronghold/internal/crypto"
)

// Vault is one hash-chained history of secret records.
//
// It owns its chain and blob store exclusively. A 32-byte master key backs
// two derived sub-keys: the chain integrity key (transaction MACs) and the
// blob data-encryption key. Plaintext crosses the API boundary only inside
// memguard buffers, and every internal use is wiped on all exit paths.
//
// Appends are serialized under the vault's writer lock; an append is
// atomic from a reader's perspective. Reads on one vault proceed
// concurrently with each other and never block writers of other vaults.
type Vault struct {
	clientID string
	vaultID  string

	mu           sync.RWMutex
	chain        *chain
	blobs        *BlobStore
	masterKey    *memguard.Enclave
	integrityKey *memguard.Enclave
	appendCount  uint64

	mode  RevocationMode
	audit audit.Logger
}

func newVault(clientID, vaultID string, masterKey *memguard.Enclave, src *crypto.Source, mode RevocationMode, logger audit.Logger) (*Vault, error) {
	integrityKey, err := deriveSubKey(masterKey, labelChainIntegrity)
	if err != nil {
		return nil, err
	}
	dataKey, err := deriveSubKey(masterKey, labelBlobEncryption)
	if err != nil {
		return nil, err
	}

	return &Vault{
		clientID:     clientID,
		vaultID:      vaultID,
		chain:        newChain(vaultID),
		blobs:        NewBlobStore(dataKey, src),
		masterKey:    masterKey,
		integrityKey: integrityKey,
		mode:         mode,
		audit:        logger,
	}, nil
}

// ID returns the vault identifier.
func (v *Vault) ID() string { return v.vaultID }

// ClientID returns the identifier of the owning client.
func (v *Vault) ClientID() string { return v.clientID }

// CreateRecord encrypts plaintext into the blob store and appends a Create
// transaction for it, returning the new record ID. The caller keeps
// ownership of the plaintext buffer.
func (v *Vault) CreateRecord(plaintext *memguard.LockedBuffer, meta RecordMeta) (string, error) {
	if plaintext == nil || plaintext.Size() == 0 {
		return "", fmt.Errorf("stronghold: empty plaintext")
	}
	if meta.CreatedAt == 0 {
		meta.CreatedAt = time.Now().UTC().UnixNano()
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.chain.sealed && !v.chain.reopened {
		return "", ErrChainSealed
	}

	blobID, err := v.blobs.Put(plaintext)
	if err != nil {
		v.logEvent("record_create", false, map[string]interface{}{"error": err.Error()})
		return "", err
	}

	recordID := deriveRecordID(v.vaultID, blobID, v.appendCount)
	tx := Transaction{Kind: TxCreate, RecordID: recordID, BlobID: blobID, Meta: meta}

	if err := withKey(v.integrityKey, func(key []byte) error {
		_, err := v.chain.append(tx, key)
		return err
	}); err != nil {
		// The chain refused the append; drop the orphaned blob.
		v.blobs.Delete(blobID)
		v.logEvent("record_create", false, map[string]interface{}{"error": err.Error()})
		return "", err
	}
	v.appendCount++

	v.logEvent("record_create", true, map[string]interface{}{
		"record_id": recordID,
		"size":      plaintext.Size(),
	})
	return recordID, nil
}

// RevokeRecord appends a Revoke transaction tombstoning the record. The
// ciphertext stays in the blob store until Compact physically erases it.
func (v *Vault) RevokeRecord(recordID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	state := foldChain(v.chain)
	record, ok := state.Record(recordID)
	if !ok {
		return ErrRecordNotFound
	}
	if record.Revoked {
		return v.revokedErr()
	}

	tx := Transaction{Kind: TxRevoke, RecordID: recordID}
	if err := withKey(v.integrityKey, func(key []byte) error {
		_, err := v.chain.append(tx, key)
		return err
	}); err != nil {
		v.logEvent("record_revoke", false, map[string]interface{}{"record_id": recordID, "error": err.Error()})
		return err
	}

	v.logEvent("record_revoke", true, map[string]interface{}{"record_id": recordID})
	return nil
}

// ReadRecord decrypts a live record into a fresh guarded buffer owned by
// the caller. Revoked records report ErrRecordRevoked or, in
// RevocationHidden mode, ErrRecordNotFound.
func (v *Vault) ReadRecord(recordID string) (*memguard.LockedBuffer, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	state := foldChain(v.chain)
	record, ok := state.Record(recordID)
	if !ok {
		return nil, ErrRecordNotFound
	}
	if record.Revoked {
		return nil, v.revokedErr()
	}

	plaintext, err := v.blobs.Get(record.BlobID)
	if err != nil {
		v.logEvent("record_read", false, map[string]interface{}{"record_id": recordID, "error": err.Error()})
		return nil, err
	}

	v.logEvent("record_read", true, map[string]interface{}{"record_id": recordID})
	return plaintext, nil
}

// UseRecord runs fn over the record's plaintext and wipes it when fn
// returns, panics included. This is the recommended way to consume a
// secret: the plaintext never outlives the callback.
func (v *Vault) UseRecord(recordID string, fn func(data []byte) error) error {
	buffer, err := v.ReadRecord(recordID)
	if err != nil {
		return err
	}
	defer buffer.Destroy()

	return fn(buffer.Bytes())
}

// ListRecords returns the live records in creation order.
func (v *Vault) ListRecords() []RecordState {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return foldChain(v.chain).Live()
}

// State folds the chain into its current derived view, tombstones
// included. The view is pure derivation; it is only meaningful for a
// chain that has passed verification.
func (v *Vault) State() *VaultState {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return foldChain(v.chain)
}

// Verify walks the whole chain, recomputing every link hash and
// authentication tag. It reports the first offending transaction index
// and must be run (and pass) before any derived view is trusted after a
// snapshot load.
func (v *Vault) Verify() error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.verifyLocked()
}

func (v *Vault) verifyLocked() error {
	err := withKey(v.integrityKey, func(key []byte) error {
		return v.chain.verify(key)
	})
	if err != nil {
		var cc *ChainCorruptError
		if errors.As(err, &cc) {
			v.logEvent("chain_verify", false, map[string]interface{}{"index": cc.Index, "reason": cc.Reason})
		}
		return err
	}
	return nil
}

// Compact destructively rewrites the chain, dropping revoked entries and
// physically erasing their ciphertexts. The audit trail for the dropped
// entries is sacrificed for space; it only runs on explicit request.
func (v *Vault) Compact() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	before := v.chain.length()
	var unreferenced []string
	err := withKey(v.integrityKey, func(key []byte) error {
		var cErr error
		unreferenced, cErr = v.chain.compact(key)
		return cErr
	})
	if err != nil {
		v.logEvent("chain_compact", false, map[string]interface{}{"error": err.Error()})
		return err
	}

	for _, blobID := range unreferenced {
		v.blobs.Delete(blobID)
	}

	v.logEvent("chain_compact", true, map[string]interface{}{
		"transactions_before": before,
		"transactions_after":  v.chain.length(),
		"blobs_erased":        len(unreferenced),
	})
	return nil
}

// Seal appends a finalization marker. Further appends fail with
// ErrChainSealed until Reopen is called.
func (v *Vault) Seal() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	err := withKey(v.integrityKey, func(key []byte) error {
		_, aErr := v.chain.append(Transaction{Kind: TxSeal}, key)
		return aErr
	})
	v.logEvent("chain_seal", err == nil, nil)
	return err
}

// Reopen lifts the append block of a trailing Seal. Whether reopening is
// acceptable at all is the caller's policy.
func (v *Vault) Reopen() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	err := v.chain.reopen()
	v.logEvent("chain_reopen", err == nil, nil)
	return err
}

// Transactions walks the chain in append order until fn returns false.
// Each call restarts from the first transaction.
func (v *Vault) Transactions(fn func(index int, tx Transaction) bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	v.chain.iterate(fn)
}

// TransactionCount returns the chain length.
func (v *Vault) TransactionCount() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.chain.length()
}

// Sealed reports whether the chain currently refuses appends.
func (v *Vault) Sealed() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.chain.sealed && !v.chain.reopened
}

func (v *Vault) revokedErr() error {
	if v.mode == RevocationHidden {
		return ErrRecordNotFound
	}
	return ErrRecordRevoked
}

func (v *Vault) logEvent(action string, success bool, metadata map[string]interface{}) {
	if v.audit == nil {
		return
	}
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadata["client_id"] = v.clientID
	metadata["vault_id"] = v.vaultID
	_ = v.audit.Log(action, success, metadata)
}
