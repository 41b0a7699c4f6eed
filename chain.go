package stronghold

// chain is the append-only, hash-linked transaction log for one vault.
//
// Transactions live in an indexed slice; linkage is a value comparison of
// the stored previous-hash against the recomputed hash of the prior index,
// never a live reference. The chain is single-writer: the owning Vault
// serializes appends under its lock.
type chain struct {
	vaultID  string
	txs      []Transaction
	sealed   bool
	reopened bool
}

func newChain(vaultID string) *chain {
	return &chain{vaultID: vaultID}
}

// tailHash returns the hash the next transaction must link to.
func (c *chain) tailHash() []byte {
	if len(c.txs) == 0 {
		return genesisHash(c.vaultID)
	}
	return c.txs[len(c.txs)-1].Hash
}

// append links, hashes and authenticates tx and adds it to the log. The
// transaction is either fully linked or not present; there is no
// intermediate state visible to readers (the caller holds the writer lock).
func (c *chain) append(tx Transaction, integrityKey []byte) (*Transaction, error) {
	if c.sealed && !c.reopened {
		return nil, ErrChainSealed
	}

	tx.PrevHash = c.tailHash()
	tx.seal(integrityKey)
	c.txs = append(c.txs, tx)

	if tx.Kind == TxSeal {
		c.sealed = true
		c.reopened = false
	}
	return &c.txs[len(c.txs)-1], nil
}

// reopen lifts the append block imposed by a trailing Seal. The Seal
// transaction itself stays in the history; whether reopening is ever
// acceptable is the caller's policy, the log only enforces the mechanics.
func (c *chain) reopen() error {
	if !c.sealed || c.reopened {
		return ErrChainNotSealed
	}
	c.reopened = true
	return nil
}

// verify walks the chain once, recomputing every link hash and
// authentication tag. It reports the first offending index; after a
// failure the entire chain must be treated as untrustworthy.
func (c *chain) verify(integrityKey []byte) error {
	prev := genesisHash(c.vaultID)
	for i := range c.txs {
		tx := &c.txs[i]
		if reason, ok := tx.verify(integrityKey, prev); !ok {
			return &ChainCorruptError{VaultID: c.vaultID, Index: i, Reason: reason}
		}
		prev = tx.Hash
	}
	return nil
}

// iterate walks the transactions in append order until fn returns false.
// Each call restarts from the beginning.
func (c *chain) iterate(fn func(index int, tx Transaction) bool) {
	for i, tx := range c.txs {
		if !fn(i, tx) {
			return
		}
	}
}

func (c *chain) length() int {
	return len(c.txs)
}

// compact rewrites the chain keeping only Create transactions whose record
// has no later Revoke, dropping all Revokes together with the Creates they
// tombstoned, and re-links hashes so the result verifies independently.
// This destroys the audit trail for the dropped entries; it runs only on
// explicit request and only against a chain that just verified.
//
// It returns the blob IDs that are no longer referenced by any retained
// transaction, for physical erasure by the blob store.
func (c *chain) compact(integrityKey []byte) (unreferenced []string, err error) {
	if err := c.verify(integrityKey); err != nil {
		return nil, err
	}

	type createEntry struct {
		tx   Transaction
		live bool
	}
	entries := make([]*createEntry, 0, len(c.txs))
	byRecord := make(map[string]*createEntry)

	for _, tx := range c.txs {
		switch tx.Kind {
		case TxCreate:
			e := &createEntry{tx: tx, live: true}
			entries = append(entries, e)
			byRecord[tx.RecordID] = e
		case TxRevoke:
			if e, ok := byRecord[tx.RecordID]; ok {
				e.live = false
			}
		case TxSeal:
			// Seal markers carry no record state; the sealed flag survives
			// the rewrite below.
		}
	}

	// Reference-count blobs so a blob shared by a live and a dead Create
	// is not erased.
	liveBlobs := make(map[string]bool)
	for _, e := range entries {
		if e.live {
			liveBlobs[e.tx.BlobID] = true
		}
	}
	for _, e := range entries {
		if !e.live && !liveBlobs[e.tx.BlobID] {
			unreferenced = append(unreferenced, e.tx.BlobID)
		}
	}

	rebuilt := newChain(c.vaultID)
	for _, e := range entries {
		if !e.live {
			continue
		}
		tx := Transaction{
			Kind:     TxCreate,
			RecordID: e.tx.RecordID,
			BlobID:   e.tx.BlobID,
			Meta:     e.tx.Meta,
		}
		if _, err := rebuilt.append(tx, integrityKey); err != nil {
			return nil, err
		}
	}
	if c.sealed && !c.reopened {
		if _, err := rebuilt.append(Transaction{Kind: TxSeal}, integrityKey); err != nil {
			return nil, err
		}
	}

	if err := rebuilt.verify(integrityKey); err != nil {
		return nil, err
	}

	c.txs = rebuilt.txs
	c.sealed = rebuilt.sealed
	c.reopened = rebuilt.reopened
	return unreferenced, nil
}
