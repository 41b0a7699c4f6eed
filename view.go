package stronghold

// RecordState is one record's entry in a folded vault view.
type RecordState struct {
	RecordID string
	BlobID   string
	Meta     RecordMeta
	Revoked  bool
}

// VaultState is the derived, non-authoritative view of a chain: the result
// of folding Create and Revoke transactions left to right. It carries no
// persisted state of its own and must never be computed from a chain that
// has not passed verification.
type VaultState struct {
	VaultID string
	records map[string]*RecordState
	order   []string // record IDs in creation order
}

// foldChain derives the current logical state from a chain. Revoked
// records stay present as tombstones; callers decide whether to surface
// them (see RevocationMode).
func foldChain(c *chain) *VaultState {
	state := &VaultState{
		VaultID: c.vaultID,
		records: make(map[string]*RecordState),
	}
	c.iterate(func(_ int, tx Transaction) bool {
		switch tx.Kind {
		case TxCreate:
			if _, seen := state.records[tx.RecordID]; !seen {
				state.order = append(state.order, tx.RecordID)
			}
			state.records[tx.RecordID] = &RecordState{
				RecordID: tx.RecordID,
				BlobID:   tx.BlobID,
				Meta:     tx.Meta,
			}
		case TxRevoke:
			if r, ok := state.records[tx.RecordID]; ok {
				r.Revoked = true
			}
		case TxSeal:
			// No effect on record state.
		}
		return true
	})
	return state
}

// Record looks up a record by ID, revoked or not.
func (s *VaultState) Record(recordID string) (RecordState, bool) {
	r, ok := s.records[recordID]
	if !ok {
		return RecordState{}, false
	}
	return *r, true
}

// Live returns the non-revoked records in creation order.
func (s *VaultState) Live() []RecordState {
	out := make([]RecordState, 0, len(s.order))
	for _, id := range s.order {
		if r := s.records[id]; !r.Revoked {
			out = append(out, *r)
		}
	}
	return out
}

// All returns every record in creation order, tombstones included.
func (s *VaultState) All() []RecordState {
	out := make([]RecordState, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.records[id])
	}
	return out
}

// LiveCount returns the number of non-revoked records.
func (s *VaultState) LiveCount() int {
	n := 0
	for _, r := range s.records {
		if !r.Revoked {
			n++
		}
	}
	return n
}
