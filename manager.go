package stronghold

import (
	"fmt"
	"sort"
	"sync"

	"github.com/unalkalkan/stronghold/audit"
	"github.com/unalkalkan/stronghold/internal/crypto"
	"github.com/unalkalkan/stronghold/internal/mem"
)

// Manager owns the full in-memory state: every client's vaults, the audit
// logger, the random source and the process memory lock. It is the unit a
// snapshot captures and restores.
//
// Locking discipline: the manager lock guards the client/vault topology;
// each vault serializes its own appends. Snapshot capture takes the
// manager write lock and then every vault's write lock, so the serialized
// state is a coherent point in time with no append in flight anywhere.
type Manager struct {
	mu      sync.RWMutex
	opts    Options
	clients map[string]map[string]*Vault // clientID → vaultID → vault
	src     *crypto.Source
	audit   audit.Logger

	memLevel mem.ProtectionLevel
	closed   bool
}

// NewManager creates an empty manager. With EnableMemoryLock set it
// attempts to lock process memory so key material cannot be swapped out.
func NewManager(opts Options) (*Manager, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	logger, err := audit.NewLogger(opts.Audit)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit logger: %w", err)
	}

	m := &Manager{
		opts:    opts,
		clients: make(map[string]map[string]*Vault),
		src:     crypto.NewSource(opts.Rand),
		audit:   logger,
	}

	if opts.EnableMemoryLock {
		level, err := mem.Lock()
		if err != nil {
			_ = logger.Close()
			return nil, fmt.Errorf("failed to lock memory: %w", err)
		}
		m.memLevel = level
	}

	return m, nil
}

// MemoryProtection reports the protection level achieved at startup.
func (m *Manager) MemoryProtection() mem.ProtectionLevel {
	return m.memLevel
}

// CreateVault creates an empty chain for (clientID, vaultID) with a fresh
// master key.
func (m *Manager) CreateVault(clientID, vaultID string) (*Vault, error) {
	if clientID == "" || vaultID == "" {
		return nil, fmt.Errorf("stronghold: client and vault IDs must be non-empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}
	if _, exists := m.clients[clientID][vaultID]; exists {
		return nil, ErrVaultExists
	}

	masterKey, err := newMasterKey(m.src)
	if err != nil {
		return nil, err
	}
	vault, err := newVault(clientID, vaultID, masterKey, m.src, m.opts.RevocationMode, m.audit)
	if err != nil {
		return nil, err
	}

	if m.clients[clientID] == nil {
		m.clients[clientID] = make(map[string]*Vault)
	}
	m.clients[clientID][vaultID] = vault

	_ = m.audit.Log("vault_create", true, map[string]interface{}{
		"client_id": clientID,
		"vault_id":  vaultID,
	})
	return vault, nil
}

// OpenVault returns the existing vault for (clientID, vaultID).
func (m *Manager) OpenVault(clientID, vaultID string) (*Vault, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrManagerClosed
	}
	vault, ok := m.clients[clientID][vaultID]
	if !ok {
		return nil, ErrVaultNotFound
	}
	return vault, nil
}

// DeleteVault irreversibly destroys a vault: its chain, its blobs and its
// keys. This is the only way a chain is ever destroyed.
func (m *Manager) DeleteVault(clientID, vaultID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrManagerClosed
	}
	vaults, ok := m.clients[clientID]
	if !ok {
		return ErrVaultNotFound
	}
	if _, ok := vaults[vaultID]; !ok {
		return ErrVaultNotFound
	}

	delete(vaults, vaultID)
	if len(vaults) == 0 {
		delete(m.clients, clientID)
	}

	_ = m.audit.Log("vault_delete", true, map[string]interface{}{
		"client_id": clientID,
		"vault_id":  vaultID,
	})
	return nil
}

// ListClients returns the client IDs that own at least one vault, sorted.
func (m *Manager) ListClients() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.clients))
	for id := range m.clients {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ListVaults returns the vault IDs owned by a client, sorted.
func (m *Manager) ListVaults(clientID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	vaults, ok := m.clients[clientID]
	if !ok {
		return nil, ErrClientNotFound
	}
	out := make([]string, 0, len(vaults))
	for id := range vaults {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// VerifyAll verifies every chain, returning the first corruption found.
func (m *Manager) VerifyAll() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, vault := range m.sortedVaultsLocked() {
		if err := vault.Verify(); err != nil {
			return err
		}
	}
	return nil
}

// sortedVaultsLocked returns all vaults in a deterministic order. Callers
// hold at least the manager read lock.
func (m *Manager) sortedVaultsLocked() []*Vault {
	var vaults []*Vault
	for _, clientID := range sortedKeys(m.clients) {
		byVault := m.clients[clientID]
		for _, vaultID := range sortedKeys(byVault) {
			vaults = append(vaults, byVault[vaultID])
		}
	}
	return vaults
}

func sortedKeys[V any](in map[string]V) []string {
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Close releases the manager: audit logger flushed and closed, memory
// unlock attempted, further operations refused. Secrets in memguard
// buffers are wiped by their owners as usual.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.clients = make(map[string]map[string]*Vault)

	var firstErr error
	if err := m.audit.Close(); err != nil {
		firstErr = err
	}
	if m.opts.EnableMemoryLock {
		if err := mem.Unlock(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
