package stronghold

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTxKindString(t *testing.T) {
	assert.Equal(t, "create", TxCreate.String())
	assert.Equal(t, "revoke", TxRevoke.String())
	assert.Equal(t, "seal", TxSeal.String())
	assert.Equal(t, "unknown", TxKind(0).String())
	assert.Equal(t, "unknown", TxKind(42).String())
}

func TestTransactionBodyDeterministic(t *testing.T) {
	tx := Transaction{
		Kind:     TxCreate,
		RecordID: "record",
		BlobID:   "blob",
		Meta:     RecordMeta{Name: "name", ContentType: "text/plain", CreatedAt: 12345},
	}
	assert.Equal(t, tx.body(), tx.body())

	// Shifting bytes between adjacent fields must change the encoding;
	// the length prefixes prevent field-boundary ambiguity.
	shifted := tx
	shifted.RecordID = "recordb"
	shifted.BlobID = "lob"
	assert.NotEqual(t, tx.body(), shifted.body())

	kindOnly := tx
	kindOnly.Kind = TxRevoke
	assert.NotEqual(t, tx.body(), kindOnly.body())

	timeOnly := tx
	timeOnly.Meta.CreatedAt = 12346
	assert.NotEqual(t, tx.body(), timeOnly.body())
}

func TestTransactionSealAndVerify(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")

	tx := Transaction{Kind: TxCreate, RecordID: "r", BlobID: "b", PrevHash: genesisHash("vault-1")}
	tx.seal(key)
	require.Len(t, tx.Hash, 32)
	require.Len(t, tx.Tag, 32)

	reason, ok := tx.verify(key, genesisHash("vault-1"))
	require.True(t, ok, reason)

	// A different integrity key fails the tag, not the hash.
	otherKey := []byte("fedcba9876543210fedcba9876543210")
	reason, ok = tx.verify(otherKey, genesisHash("vault-1"))
	assert.False(t, ok)
	assert.Equal(t, "authentication tag mismatch", reason)

	reason, ok = tx.verify(key, genesisHash("vault-2"))
	assert.False(t, ok)
	assert.Equal(t, "previous-hash link mismatch", reason)

	mutated := tx
	mutated.BlobID = "tampered"
	reason, ok = mutated.verify(key, genesisHash("vault-1"))
	assert.False(t, ok)
	assert.Equal(t, "content hash mismatch", reason)
}

func TestGenesisHashBindsVaultID(t *testing.T) {
	assert.Equal(t, genesisHash("vault-1"), genesisHash("vault-1"))
	assert.NotEqual(t, genesisHash("vault-1"), genesisHash("vault-2"))
	assert.Len(t, genesisHash("vault-1"), 32)
}

func TestDeriveRecordID(t *testing.T) {
	assert.Equal(t, deriveRecordID("v", "b", 0), deriveRecordID("v", "b", 0))
	assert.NotEqual(t, deriveRecordID("v", "b", 0), deriveRecordID("v", "b", 1))
	assert.NotEqual(t, deriveRecordID("v", "b", 0), deriveRecordID("w", "b", 0))
	assert.NotEqual(t, deriveRecordID("v", "b", 0), deriveRecordID("v", "c", 0))
	assert.Len(t, deriveRecordID("v", "b", 0), 64)
}

func TestRecordMetaCreated(t *testing.T) {
	m := RecordMeta{CreatedAt: 1_700_000_000_000_000_000}
	assert.Equal(t, int64(1_700_000_000_000_000_000), m.Created().UnixNano())
	assert.Equal(t, "UTC", m.Created().Location().String())
}
