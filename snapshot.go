package stronghold

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"

	"github.com/unalkalkan/stronghold/internal/crypto"
	"github.com/unalkalkan/stronghold/internal/misc"
	"github.com/unalkalkan/stronghold/persist"
)

// Snapshot container layout, big-endian throughout:
//
//	magic (4)            "SHLD"
//	format_version (u16)
//	kdf_id (u16)         1 = Argon2id
//	kdf_time (u32) | kdf_memory (u32) | kdf_threads (u8) | kdf_keylen (u32)
//	salt (16)
//	nonce (24)           XChaCha20-Poly1305
//	ciphertext_len (u64) | ciphertext | auth_tag (16)
//
// Unknown format_version or kdf_id is rejected before any decryption
// attempt. Everything after the header is one authenticated unit: the
// JSON-serialized full state of every client, vault, chain and blob.
var snapshotMagic = []byte("SHLD")

const (
	snapshotVersion uint16 = misc.SnapshotFormatVersion
	kdfArgon2id     uint16 = 1

	headerLen = 4 + 2 + 2 + 4 + 4 + 1 + 4 + misc.SaltSize + misc.NonceSize + 8
)

// Hard ceilings on stored KDF parameters, so a corrupted header cannot
// drive Argon2 into exhausting memory before authentication fails.
const (
	maxKDFTime   = 64
	maxKDFMemory = 4 * 1024 * 1024 // KiB
)

type vaultPayload struct {
	MasterKey    []byte               `json:"master_key"`
	Sealed       bool                 `json:"sealed"`
	Reopened     bool                 `json:"reopened"`
	AppendCount  uint64               `json:"append_count"`
	Transactions []Transaction        `json:"transactions"`
	Blobs        map[string]blobEntry `json:"blobs"`
}

type snapshotPayload struct {
	// clientID → vaultID → vault state
	Clients map[string]map[string]vaultPayload `json:"clients"`
}

// WriteSnapshot captures the complete state and writes it to path as one
// passphrase-encrypted container. The write goes to a temporary file that
// is atomically renamed over the target, so a crash mid-write never
// corrupts an existing snapshot.
//
// Capture is stop-the-world: no append is in flight for any vault while
// the state is serialized, so the snapshot is a coherent point in time.
func (m *Manager) WriteSnapshot(path string, passphrase *memguard.Enclave) error {
	data, err := m.EncodeSnapshot(passphrase)
	if err != nil {
		return err
	}

	if err := writeFileAtomic(path, data); err != nil {
		_ = m.audit.Log("snapshot_write", false, map[string]interface{}{"path": path, "error": err.Error()})
		return err
	}

	_ = m.audit.Log("snapshot_write", true, map[string]interface{}{"path": path, "size": len(data)})
	return nil
}

// ReadSnapshot decrypts the container at path and replaces the manager's
// entire state with the decoded one. Every chain is verified before the
// state is installed; a single corrupt link rejects the whole snapshot.
//
// A wrong passphrase and a corrupted file both surface as
// ErrPassphraseOrCorrupt and cost the same key derivation work, so the
// failure itself does not reveal which one it was.
func (m *Manager) ReadSnapshot(path string, passphrase *memguard.Enclave) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	if err := m.installSnapshot(data, passphrase); err != nil {
		_ = m.audit.Log("snapshot_read", false, map[string]interface{}{"path": path, "error": err.Error()})
		return err
	}
	_ = m.audit.Log("snapshot_read", true, map[string]interface{}{"path": path})
	return nil
}

// ArchiveSnapshot encodes the current state and saves it to a snapshot
// store (filesystem or S3) under a fresh ID.
func (m *Manager) ArchiveSnapshot(store persist.Store, passphrase *memguard.Enclave) (string, error) {
	data, err := m.EncodeSnapshot(passphrase)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	if err := store.SaveSnapshot(id, data); err != nil {
		_ = m.audit.Log("snapshot_archive", false, map[string]interface{}{"snapshot_id": id, "error": err.Error()})
		return "", err
	}

	_ = m.audit.Log("snapshot_archive", true, map[string]interface{}{"snapshot_id": id, "size": len(data)})
	return id, nil
}

// RestoreSnapshot loads a container from a snapshot store and replaces
// the manager's state with it.
func (m *Manager) RestoreSnapshot(store persist.Store, id string, passphrase *memguard.Enclave) error {
	data, err := store.LoadSnapshot(id)
	if err != nil {
		return err
	}
	if err := m.installSnapshot(data, passphrase); err != nil {
		_ = m.audit.Log("snapshot_restore", false, map[string]interface{}{"snapshot_id": id, "error": err.Error()})
		return err
	}
	_ = m.audit.Log("snapshot_restore", true, map[string]interface{}{"snapshot_id": id})
	return nil
}

// EncodeSnapshot serializes and encrypts the full state into a container.
func (m *Manager) EncodeSnapshot(passphrase *memguard.Enclave) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}

	payload, err := m.capturePayloadLocked()
	if err != nil {
		return nil, err
	}

	plaintext, err := json.Marshal(payload)
	wipePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize snapshot state: %w", err)
	}
	defer memguard.WipeBytes(plaintext)

	return encodeContainer(m.src, passphrase, m.opts.KDF, plaintext)
}

// capturePayloadLocked copies every vault's state while holding the
// manager write lock. Every vault's write lock is acquired up front, in
// sorted order, and held until the entire payload is copied: no append can
// land in any vault while another vault is being serialized, so the
// captured state is one the system actually passed through.
func (m *Manager) capturePayloadLocked() (*snapshotPayload, error) {
	vaults := m.sortedVaultsLocked()
	for _, vault := range vaults {
		vault.mu.Lock()
	}
	defer func() {
		for _, vault := range vaults {
			vault.mu.Unlock()
		}
	}()

	payload := &snapshotPayload{Clients: make(map[string]map[string]vaultPayload)}
	for _, vault := range vaults {
		masterBuffer, err := vault.masterKey.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to access master key of vault %s: %w", vault.vaultID, err)
		}
		masterCopy := make([]byte, masterBuffer.Size())
		copy(masterCopy, masterBuffer.Bytes())
		masterBuffer.Destroy()

		txs := make([]Transaction, len(vault.chain.txs))
		copy(txs, vault.chain.txs)

		if payload.Clients[vault.clientID] == nil {
			payload.Clients[vault.clientID] = make(map[string]vaultPayload)
		}
		payload.Clients[vault.clientID][vault.vaultID] = vaultPayload{
			MasterKey:    masterCopy,
			Sealed:       vault.chain.sealed,
			Reopened:     vault.chain.reopened,
			AppendCount:  vault.appendCount,
			Transactions: txs,
			Blobs:        vault.blobs.entries(),
		}
	}
	return payload, nil
}

// installSnapshot decodes a container and swaps the manager state. The
// current state is untouched unless the whole snapshot decodes and every
// chain verifies.
func (m *Manager) installSnapshot(data []byte, passphrase *memguard.Enclave) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrManagerClosed
	}

	payload, err := decodeContainer(data, passphrase, m.opts.KDF)
	if err != nil {
		return err
	}
	defer wipePayload(payload)

	clients := make(map[string]map[string]*Vault)
	for clientID, byVault := range payload.Clients {
		for vaultID, vp := range byVault {
			masterCopy := make([]byte, len(vp.MasterKey))
			copy(masterCopy, vp.MasterKey)
			masterKey := memguard.NewEnclave(masterCopy) // wipes masterCopy

			vault, err := newVault(clientID, vaultID, masterKey, m.src, m.opts.RevocationMode, m.audit)
			if err != nil {
				return err
			}
			vault.chain.txs = append([]Transaction(nil), vp.Transactions...)
			vault.chain.sealed = vp.Sealed
			vault.chain.reopened = vp.Reopened
			vault.appendCount = vp.AppendCount
			vault.blobs.restore(vp.Blobs)

			// Nothing decoded is trusted until its chain verifies.
			if err := vault.verifyLocked(); err != nil {
				return err
			}

			if clients[clientID] == nil {
				clients[clientID] = make(map[string]*Vault)
			}
			clients[clientID][vaultID] = vault
		}
	}

	m.clients = clients
	return nil
}

func wipePayload(p *snapshotPayload) {
	if p == nil {
		return
	}
	for _, byVault := range p.Clients {
		for _, vp := range byVault {
			memguard.WipeBytes(vp.MasterKey)
		}
	}
}

// encodeContainer assembles header ∥ ciphertext ∥ tag.
func encodeContainer(src *crypto.Source, passphrase *memguard.Enclave, kdf KDFParams, plaintext []byte) ([]byte, error) {
	salt, err := src.Bytes(misc.SaltSize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	key, err := crypto.DeriveKey(passphrase, salt, kdf.Time, kdf.Memory, kdf.Threads, kdf.KeyLen)
	if err != nil {
		return nil, err
	}
	defer key.Destroy()

	nonce, ciphertext, err := crypto.Seal(src, key.Bytes(), plaintext)
	if err != nil {
		return nil, err
	}

	// Seal appends the Poly1305 tag; the container stores it after the
	// length-prefixed ciphertext.
	ctLen := len(ciphertext) - misc.TagSize

	var buf bytes.Buffer
	buf.Write(snapshotMagic)
	writeU16(&buf, snapshotVersion)
	writeU16(&buf, kdfArgon2id)
	writeU32(&buf, kdf.Time)
	writeU32(&buf, kdf.Memory)
	buf.WriteByte(kdf.Threads)
	writeU32(&buf, kdf.KeyLen)
	buf.Write(salt)
	buf.Write(nonce)
	writeU64(&buf, uint64(ctLen))
	buf.Write(ciphertext)
	return buf.Bytes(), nil
}

// decodeContainer parses, derives and decrypts. All parse and
// authentication failures converge on ErrPassphraseOrCorrupt after the
// same key-derivation work, so timing does not separate a bad passphrase
// from a bad file; kdf supplies the work parameters to burn when the
// header is too damaged to carry its own. Unknown versions are the one
// early exit, reported before any key derivation or decryption.
func decodeContainer(data []byte, passphrase *memguard.Enclave, kdf KDFParams) (*snapshotPayload, error) {
	if len(data) >= 8 {
		version := binary.BigEndian.Uint16(data[4:6])
		kdfID := binary.BigEndian.Uint16(data[6:8])
		if bytes.Equal(data[:4], snapshotMagic) && (version != snapshotVersion || kdfID != kdfArgon2id) {
			return nil, ErrSnapshotVersionUnsupported
		}
	}

	header, ok := parseHeader(data)
	if !ok {
		return nil, burnAndFail(passphrase, kdf)
	}

	key, err := crypto.DeriveKey(passphrase, header.salt, header.kdf.Time, header.kdf.Memory, header.kdf.Threads, header.kdf.KeyLen)
	if err != nil {
		return nil, err
	}
	defer key.Destroy()

	plaintext, err := crypto.Open(key.Bytes(), header.nonce, header.ciphertext)
	if err != nil {
		return nil, ErrPassphraseOrCorrupt
	}
	defer memguard.WipeBytes(plaintext)

	var payload snapshotPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, ErrPassphraseOrCorrupt
	}
	return &payload, nil
}

type containerHeader struct {
	kdf        KDFParams
	salt       []byte
	nonce      []byte
	ciphertext []byte // includes tag
}

func parseHeader(data []byte) (containerHeader, bool) {
	var h containerHeader
	if len(data) < headerLen+misc.TagSize {
		return h, false
	}
	if !bytes.Equal(data[:4], snapshotMagic) {
		return h, false
	}

	off := 8 // magic + version + kdf_id, already checked
	h.kdf.Time = binary.BigEndian.Uint32(data[off:])
	h.kdf.Memory = binary.BigEndian.Uint32(data[off+4:])
	h.kdf.Threads = data[off+8]
	h.kdf.KeyLen = binary.BigEndian.Uint32(data[off+9:])
	off += 13

	h.salt = data[off : off+misc.SaltSize]
	off += misc.SaltSize
	h.nonce = data[off : off+misc.NonceSize]
	off += misc.NonceSize

	ctLen := binary.BigEndian.Uint64(data[off:])
	off += 8

	if h.kdf.Time == 0 || h.kdf.Time > maxKDFTime ||
		h.kdf.Memory == 0 || h.kdf.Memory > maxKDFMemory ||
		h.kdf.Threads == 0 || h.kdf.KeyLen != misc.ArgonKeyLen {
		return containerHeader{}, false
	}
	if uint64(len(data)-off) != ctLen+misc.TagSize {
		return containerHeader{}, false
	}

	h.ciphertext = data[off:]
	return h, true
}

// burnAndFail spends the configured key-derivation cost before reporting
// a malformed container. A readable header already fixes the cost of the
// wrong-passphrase path at its stored parameters, so burning the same
// configured work here keeps parse failures on the same timing profile.
func burnAndFail(passphrase *memguard.Enclave, kdf KDFParams) error {
	salt := make([]byte, misc.SaltSize)
	if key, err := crypto.DeriveKey(passphrase, salt, kdf.Time, kdf.Memory, kdf.Threads, kdf.KeyLen); err == nil {
		key.Destroy()
	}
	return ErrPassphraseOrCorrupt
}

// writeFileAtomic writes data to a temporary file in the target directory,
// syncs it and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, misc.DirPermissions); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err = tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err = tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err = tmpFile.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err = os.Chmod(tmpPath, misc.FilePermissions); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}
