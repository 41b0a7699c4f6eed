package stronghold

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/unalkalkan/stronghold/internal/crypto"
)

// TxKind discriminates the closed set of transaction variants. Every fold
// or verification over a chain switches exhaustively on it; adding a
// variant is a compile-visible change, not a runtime surprise.
type TxKind uint8

const (
	// TxCreate introduces a new live record backed by a blob.
	TxCreate TxKind = iota + 1
	// TxRevoke tombstones an existing record. The ciphertext stays in the
	// blob store until compaction physically erases it.
	TxRevoke
	// TxSeal finalizes the chain; appends past it fail until an explicit
	// reopen.
	TxSeal
)

func (k TxKind) String() string {
	switch k {
	case TxCreate:
		return "create"
	case TxRevoke:
		return "revoke"
	case TxSeal:
		return "seal"
	default:
		return "unknown"
	}
}

// RecordMeta is the non-secret metadata carried inside a Create
// transaction. It is authenticated by the transaction tag like everything
// else in the body, so it cannot be altered without detection.
type RecordMeta struct {
	Name        string `json:"name,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	CreatedAt   int64  `json:"created_at"` // unix nanoseconds
}

// Created returns the creation time carried by the metadata.
func (m RecordMeta) Created() time.Time {
	return time.Unix(0, m.CreatedAt).UTC()
}

// Transaction is one entry in a vault's hash-linked history.
//
// Hash is SHA-256 over (PrevHash ∥ body), so each transaction commits to
// its entire ancestry. Tag is HMAC-SHA-256 over the same bytes under the
// vault's integrity key, binding the history to the vault's master key.
// PrevHash of the first transaction is the genesis hash derived from the
// vault ID.
type Transaction struct {
	Kind     TxKind     `json:"kind"`
	RecordID string     `json:"record_id,omitempty"`
	BlobID   string     `json:"blob_id,omitempty"`
	Meta     RecordMeta `json:"meta,omitempty"`
	PrevHash []byte     `json:"prev_hash"`
	Hash     []byte     `json:"hash"`
	Tag      []byte     `json:"tag"`
}

// body serializes the authenticated portion of the transaction into a
// deterministic byte sequence: kind, then length-prefixed fields in fixed
// order, big-endian throughout.
func (t *Transaction) body() []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(t.Kind))
	writeLenPrefixed(&buf, []byte(t.RecordID))
	writeLenPrefixed(&buf, []byte(t.BlobID))
	writeLenPrefixed(&buf, []byte(t.Meta.Name))
	writeLenPrefixed(&buf, []byte(t.Meta.ContentType))
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(t.Meta.CreatedAt))
	buf.Write(ts[:])
	return buf.Bytes()
}

func writeLenPrefixed(buf *bytes.Buffer, b []byte) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(b)))
	buf.Write(n[:])
	buf.Write(b)
}

// seal computes and stores the hash and authentication tag for a
// transaction whose content fields and PrevHash are already set.
func (t *Transaction) seal(integrityKey []byte) {
	body := t.body()
	t.Hash = crypto.Digest(t.PrevHash, body)
	t.Tag = crypto.MAC(integrityKey, t.PrevHash, body)
}

// verify recomputes hash and tag and compares them against the stored
// values. expectedPrev is the recomputed hash of the preceding transaction
// (or the genesis hash).
func (t *Transaction) verify(integrityKey, expectedPrev []byte) (reason string, ok bool) {
	if !bytes.Equal(t.PrevHash, expectedPrev) {
		return "previous-hash link mismatch", false
	}
	body := t.body()
	if !bytes.Equal(t.Hash, crypto.Digest(t.PrevHash, body)) {
		return "content hash mismatch", false
	}
	if !crypto.MACEqual(t.Tag, crypto.MAC(integrityKey, t.PrevHash, body)) {
		return "authentication tag mismatch", false
	}
	return "", true
}

// genesisHash anchors a chain to its vault ID so that transactions cannot
// be replayed between vaults.
func genesisHash(vaultID string) []byte {
	return crypto.Digest([]byte("stronghold/chain/genesis/"), []byte(vaultID))
}

// deriveRecordID computes a record's identity from its vault, its blob
// address and its append position. The ID is stored in the Create
// transaction, so it is stable across snapshot round-trips and compaction.
func deriveRecordID(vaultID, blobID string, position uint64) string {
	var pos [8]byte
	binary.BigEndian.PutUint64(pos[:], position)
	return crypto.Checksum(append(append([]byte(vaultID), []byte(blobID)...), pos[:]...))
}
