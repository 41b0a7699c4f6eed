package stronghold

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/awnumar/memguard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unalkalkan/stronghold/audit"
)

func TestVaultCreateAndRead(t *testing.T) {
	v := newTestVault(t)

	id := createRecord(t, v, "database password", "db-password")
	require.NotEmpty(t, id)

	out, err := v.ReadRecord(id)
	require.NoError(t, err)
	assert.Equal(t, "database password", string(out.Bytes()))
	out.Destroy()

	records := v.ListRecords()
	require.Len(t, records, 1)
	assert.Equal(t, id, records[0].RecordID)
	assert.Equal(t, "db-password", records[0].Meta.Name)
	assert.Greater(t, records[0].Meta.CreatedAt, int64(0))
}

func TestVaultRejectsEmptyPlaintext(t *testing.T) {
	v := newTestVault(t)

	_, err := v.CreateRecord(nil, RecordMeta{})
	require.Error(t, err)
	assert.Equal(t, 0, v.TransactionCount())
	assert.Equal(t, 0, v.blobs.Len())
}

func TestVaultRecordIDsAreUnique(t *testing.T) {
	v := newTestVault(t)

	// Identical plaintext and metadata still yield distinct record IDs:
	// the ID binds the append position.
	id1 := createRecord(t, v, "same", "same-name")
	id2 := createRecord(t, v, "same", "same-name")
	assert.NotEqual(t, id1, id2)
}

func TestVaultUseRecord(t *testing.T) {
	v := newTestVault(t)
	id := createRecord(t, v, "api token", "token")

	var seen string
	require.NoError(t, v.UseRecord(id, func(data []byte) error {
		seen = string(data)
		return nil
	}))
	assert.Equal(t, "api token", seen)

	// The callback's error propagates.
	sentinel := errors.New("downstream failure")
	assert.ErrorIs(t, v.UseRecord(id, func([]byte) error { return sentinel }), sentinel)

	assert.ErrorIs(t, v.UseRecord("missing", func([]byte) error { return nil }), ErrRecordNotFound)
}

func TestVaultRevoke(t *testing.T) {
	v := newTestVault(t)
	id := createRecord(t, v, "secret", "name")

	require.NoError(t, v.RevokeRecord(id))
	_, err := v.ReadRecord(id)
	assert.ErrorIs(t, err, ErrRecordRevoked)
	assert.ErrorIs(t, v.RevokeRecord(id), ErrRecordRevoked)
	assert.ErrorIs(t, v.RevokeRecord("missing"), ErrRecordNotFound)

	// The ciphertext survives revocation until compaction.
	assert.Equal(t, 1, v.blobs.Len())
}

func TestManagerVaultLifecycle(t *testing.T) {
	m := newTestManager(t, Options{})

	v, err := m.CreateVault("client-a", "vault-1")
	require.NoError(t, err)
	require.Equal(t, "vault-1", v.ID())
	require.Equal(t, "client-a", v.ClientID())

	_, err = m.CreateVault("client-a", "vault-1")
	assert.ErrorIs(t, err, ErrVaultExists)

	same, err := m.OpenVault("client-a", "vault-1")
	require.NoError(t, err)
	assert.Same(t, v, same)

	_, err = m.OpenVault("client-a", "missing")
	assert.ErrorIs(t, err, ErrVaultNotFound)
	_, err = m.OpenVault("client-b", "vault-1")
	assert.ErrorIs(t, err, ErrVaultNotFound)

	_, err = m.CreateVault("client-b", "vault-2")
	require.NoError(t, err)
	_, err = m.CreateVault("client-a", "vault-3")
	require.NoError(t, err)

	assert.Equal(t, []string{"client-a", "client-b"}, m.ListClients())
	vaults, err := m.ListVaults("client-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"vault-1", "vault-3"}, vaults)
	_, err = m.ListVaults("client-c")
	assert.ErrorIs(t, err, ErrClientNotFound)

	require.NoError(t, m.VerifyAll())

	require.NoError(t, m.DeleteVault("client-a", "vault-1"))
	assert.ErrorIs(t, m.DeleteVault("client-a", "vault-1"), ErrVaultNotFound)
	_, err = m.OpenVault("client-a", "vault-1")
	assert.ErrorIs(t, err, ErrVaultNotFound)
}

func TestManagerRejectsEmptyIDs(t *testing.T) {
	m := newTestManager(t, Options{})
	_, err := m.CreateVault("", "vault-1")
	require.Error(t, err)
	_, err = m.CreateVault("client-a", "")
	require.Error(t, err)
}

func TestManagerClose(t *testing.T) {
	m := newTestManager(t, Options{})
	_, err := m.CreateVault("client-a", "vault-1")
	require.NoError(t, err)

	require.NoError(t, m.Close())
	// Close is idempotent.
	require.NoError(t, m.Close())

	_, err = m.CreateVault("client-a", "vault-2")
	assert.ErrorIs(t, err, ErrManagerClosed)
	_, err = m.OpenVault("client-a", "vault-1")
	assert.ErrorIs(t, err, ErrManagerClosed)
	assert.ErrorIs(t, m.DeleteVault("client-a", "vault-1"), ErrManagerClosed)
}

func TestManagerInvalidOptions(t *testing.T) {
	_, err := NewManager(Options{RevocationMode: RevocationMode(9)})
	require.Error(t, err)

	_, err = NewManager(Options{KDF: KDFParams{Time: 1, Memory: 64, Threads: 1, KeyLen: 16}})
	require.Error(t, err)
}

// One writer creates and revokes records while many readers hammer the
// vault. Every read must observe exactly one of: not found, the correct
// full plaintext, or revoked. Partial or foreign plaintext is a failure.
func TestVaultConcurrentReadersSingleWriter(t *testing.T) {
	const records = 40
	const readers = 8

	v := newTestVault(t)

	var (
		mu       sync.Mutex
		expected = map[string]string{} // recordID → plaintext
		ids      []string
	)
	lookup := func(i int) (string, string, bool) {
		mu.Lock()
		defer mu.Unlock()
		if len(ids) == 0 {
			return "", "", false
		}
		id := ids[i%len(ids)]
		return id, expected[id], true
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	errs := make(chan error, readers)

	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func(seed int) {
			defer wg.Done()
			i := seed
			for {
				select {
				case <-done:
					return
				default:
				}
				i++
				id, want, ok := lookup(i)
				if !ok {
					continue
				}
				err := v.UseRecord(id, func(data []byte) error {
					if string(data) != want {
						return fmt.Errorf("record %s: got %q, want %q", id, data, want)
					}
					return nil
				})
				switch {
				case err == nil:
				case errors.Is(err, ErrRecordNotFound), errors.Is(err, ErrRecordRevoked):
				default:
					errs <- err
					return
				}
			}
		}(r)
	}

	// Writer: create all records, then revoke every other one.
	for i := 0; i < records; i++ {
		payload := fmt.Sprintf("secret-%d", i)
		buf := memguard.NewBufferFromBytes([]byte(payload))
		id, err := v.CreateRecord(buf, RecordMeta{Name: fmt.Sprintf("name-%d", i)})
		buf.Destroy()
		require.NoError(t, err)

		mu.Lock()
		expected[id] = payload
		ids = append(ids, id)
		mu.Unlock()
	}
	mu.Lock()
	toRevoke := append([]string(nil), ids...)
	mu.Unlock()
	for i := 0; i < len(toRevoke); i += 2 {
		require.NoError(t, v.RevokeRecord(toRevoke[i]))
	}

	close(done)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	require.NoError(t, v.Verify())
	assert.Len(t, v.ListRecords(), records/2)
}

// Appends to different vaults share one random source behind a single
// manager. The injected reader here is not safe for concurrent use, so
// nonce draws must be serialized by the manager's source.
func TestManagerConcurrentAppendsAcrossVaults(t *testing.T) {
	const vaults = 4
	const perVault = 25

	m := newTestManager(t, Options{})

	var created [vaults]*Vault
	for i := range created {
		v, err := m.CreateVault("client-a", fmt.Sprintf("vault-%d", i))
		require.NoError(t, err)
		created[i] = v
	}

	var wg sync.WaitGroup
	errs := make(chan error, vaults)
	for i, v := range created {
		wg.Add(1)
		go func(n int, v *Vault) {
			defer wg.Done()
			for j := 0; j < perVault; j++ {
				buf := memguard.NewBufferFromBytes([]byte(fmt.Sprintf("secret-%d-%d", n, j)))
				_, err := v.CreateRecord(buf, RecordMeta{})
				buf.Destroy()
				if err != nil {
					errs <- err
					return
				}
			}
		}(i, v)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	require.NoError(t, m.VerifyAll())
	for _, v := range created {
		assert.Len(t, v.ListRecords(), perVault)
		assert.Equal(t, perVault, v.blobs.Len())
	}
}

func TestVaultAuditTrail(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.jsonl")
	m := newTestManager(t, Options{
		Audit: &audit.Config{
			Enabled: true,
			Type:    audit.FileAuditType,
			Options: map[string]interface{}{"file_path": logPath},
		},
	})

	v, err := m.CreateVault("client-a", "vault-1")
	require.NoError(t, err)
	id := createRecord(t, v, "secret", "name")
	require.NoError(t, v.RevokeRecord(id))
	_, err = v.ReadRecord(id)
	require.ErrorIs(t, err, ErrRecordRevoked)

	logger, err := audit.NewLogger(&audit.Config{
		Enabled: true,
		Type:    audit.FileAuditType,
		Options: map[string]interface{}{"file_path": logPath},
	})
	require.NoError(t, err)
	defer logger.Close()

	result, err := logger.Query(audit.QueryOptions{VaultID: "vault-1"})
	require.NoError(t, err)

	actions := map[string]int{}
	for _, e := range result.Events {
		assert.Equal(t, "client-a", e.ClientID)
		actions[e.Action]++
	}
	assert.Equal(t, 1, actions["vault_create"])
	assert.Equal(t, 1, actions["record_create"])
	assert.Equal(t, 1, actions["record_revoke"])

	// Events never carry the plaintext.
	for _, e := range result.Events {
		for _, val := range e.Metadata {
			s, ok := val.(string)
			if ok {
				assert.NotContains(t, s, "secret")
			}
		}
	}

	created, err := logger.Query(audit.QueryOptions{RecordID: id, Action: "record_create"})
	require.NoError(t, err)
	require.Len(t, created.Events, 1)
	assert.True(t, created.Events[0].Success)
}
