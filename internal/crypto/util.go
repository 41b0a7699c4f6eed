package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// ErrAuthentication is returned when an AEAD open fails. No partial
// plaintext is ever returned alongside it.
var ErrAuthentication = errors.New("crypto: authentication failed")

// Source is an explicit random source handed to every component that
// needs randomness, so that tests can substitute a deterministic stream
// instead of reaching for process-global state. Reads are serialized, so
// the underlying reader does not need to be safe for concurrent use.
type Source struct {
	mu sync.Mutex
	r  io.Reader
}

// NewSource wraps r as a random source. A nil reader falls back to the
// operating system CSPRNG.
func NewSource(r io.Reader) *Source {
	if r == nil {
		r = rand.Reader
	}
	return &Source{r: r}
}

// Bytes fills and returns a fresh buffer of n random bytes.
func (s *Source) Bytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	s.mu.Lock()
	_, err := io.ReadFull(s.r, buf)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return buf, nil
}

// DeriveKey stretches a passphrase into a symmetric key using Argon2id
// and protects the result immediately. The caller owns the returned
// buffer and must destroy it.
func DeriveKey(passphrase *memguard.Enclave, salt []byte, time, memory uint32, threads uint8, keyLen uint32) (*memguard.LockedBuffer, error) {
	passBuffer, err := passphrase.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open passphrase enclave: %w", err)
	}
	defer passBuffer.Destroy()

	derived := argon2.IDKey(passBuffer.Bytes(), salt, time, memory, threads, keyLen)

	// NewBufferFromBytes wipes the source slice.
	return memguard.NewBufferFromBytes(derived), nil
}

// SubKey derives a labelled sub-key from a master key via HKDF-SHA-256.
// Distinct labels yield independent keys, so one 32-byte master key can
// back both chain integrity and blob encryption.
func SubKey(master []byte, label string, keyLen int) (*memguard.LockedBuffer, error) {
	r := hkdf.New(sha256.New, master, nil, []byte(label))
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive %s sub-key: %w", label, err)
	}
	return memguard.NewBufferFromBytes(key), nil
}

// Seal encrypts plaintext with XChaCha20-Poly1305 under a fresh random
// nonce drawn from src. The returned ciphertext includes the Poly1305 tag.
func Seal(src *Source, key, plaintext []byte) (nonce, ciphertext []byte, err error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce, err = src.Bytes(aead.NonceSize())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return nonce, aead.Seal(nil, nonce, plaintext, nil), nil
}

// Open decrypts and authenticates an XChaCha20-Poly1305 ciphertext.
// A tag mismatch yields ErrAuthentication and no plaintext bytes.
func Open(key, nonce, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	if len(nonce) != aead.NonceSize() || len(ciphertext) < aead.Overhead() {
		return nil, ErrAuthentication
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

// MAC computes HMAC-SHA-256 over the concatenation of parts.
func MAC(key []byte, parts ...[]byte) []byte {
	mac := hmac.New(sha256.New, key)
	for _, p := range parts {
		mac.Write(p)
	}
	return mac.Sum(nil)
}

// MACEqual compares two MACs in constant time.
func MACEqual(a, b []byte) bool {
	return hmac.Equal(a, b)
}

// Digest computes SHA-256 over the concatenation of parts.
func Digest(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// Checksum returns the hex-encoded SHA-256 digest of data. Used for
// content addresses, which are always computed over ciphertext.
func Checksum(data []byte) string {
	return hex.EncodeToString(Digest(data))
}
