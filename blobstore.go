package stronghold

import (
	"fmt"
	"sync"

	"github.com/awnumar/memguard"

	"github.com/unalkalkan/stronghold/internal/crypto"
)

// blobEntry holds one encrypted payload. Ciphertext includes the Poly1305
// tag appended by the AEAD.
type blobEntry struct {
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// BlobStore is the content-addressed store for encrypted record payloads.
//
// Plaintext only ever enters and leaves through memguard buffers. Each put
// encrypts under the vault's data-encryption key with a fresh random
// XChaCha20-Poly1305 nonce; the blob ID is the SHA-256 of the resulting
// ciphertext, never of the plaintext, so the address leaks nothing about
// the secret value and identical secrets do not collapse to one blob.
type BlobStore struct {
	mu    sync.RWMutex
	key   *memguard.Enclave // data-encryption key
	src   *crypto.Source
	blobs map[string]blobEntry
}

// NewBlobStore creates a blob store encrypting under the given key,
// drawing nonces from src.
func NewBlobStore(key *memguard.Enclave, src *crypto.Source) *BlobStore {
	return &BlobStore{
		key:   key,
		src:   src,
		blobs: make(map[string]blobEntry),
	}
}

// Put encrypts plaintext and stores the ciphertext, returning its content
// address. The caller keeps ownership of the plaintext buffer.
func (s *BlobStore) Put(plaintext *memguard.LockedBuffer) (string, error) {
	keyBuffer, err := s.key.Open()
	if err != nil {
		return "", fmt.Errorf("failed to access data key: %w", err)
	}
	defer keyBuffer.Destroy()

	nonce, ciphertext, err := crypto.Seal(s.src, keyBuffer.Bytes(), plaintext.Bytes())
	if err != nil {
		return "", err
	}

	id := crypto.Checksum(ciphertext)

	s.mu.Lock()
	s.blobs[id] = blobEntry{Nonce: nonce, Ciphertext: ciphertext}
	s.mu.Unlock()

	return id, nil
}

// Get decrypts and authenticates the blob with the given ID into a fresh
// guarded buffer owned by the caller. A tag mismatch fails closed with
// ErrDecryptFailed and releases no bytes.
func (s *BlobStore) Get(id string) (*memguard.LockedBuffer, error) {
	s.mu.RLock()
	entry, ok := s.blobs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrBlobNotFound
	}

	keyBuffer, err := s.key.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to access data key: %w", err)
	}
	defer keyBuffer.Destroy()

	plaintext, err := crypto.Open(keyBuffer.Bytes(), entry.Nonce, entry.Ciphertext)
	if err != nil {
		return nil, ErrDecryptFailed
	}

	// NewBufferFromBytes wipes the intermediate slice.
	return memguard.NewBufferFromBytes(plaintext), nil
}

// Delete physically erases a stored ciphertext. Only chain compaction
// calls this; a bare Revoke is a logical marker and leaves the ciphertext
// in place so revocation stays auditable until compaction runs.
func (s *BlobStore) Delete(id string) {
	s.mu.Lock()
	delete(s.blobs, id)
	s.mu.Unlock()
}

// Len returns the number of stored blobs.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// entries returns a copy of the stored blobs for snapshot capture.
func (s *BlobStore) entries() map[string]blobEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]blobEntry, len(s.blobs))
	for id, e := range s.blobs {
		out[id] = e
	}
	return out
}

// restore replaces the store contents from a decoded snapshot.
func (s *BlobStore) restore(entries map[string]blobEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs = make(map[string]blobEntry, len(entries))
	for id, e := range entries {
		s.blobs[id] = e
	}
}
