package state

import (
	"errors"
	"fmt"

	"tradesee/native/escrow"
	"tradesee/storage"
)

// Manager is the account store of the escrow program. It persists contracts,
// vaults, oracle flags, trust scores, token balances and signer nonces in the
// underlying key-value database. All mutation goes through a Tx.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Begin opens a transactional view. Writes stay in memory until Commit.
func (m *Manager) Begin() *Tx {
	return &Tx{mgr: m, writes: make(map[string][]byte)}
}

func (m *Manager) read(key []byte) ([]byte, bool, error) {
	if m == nil || m.db == nil {
		return nil, false, fmt.Errorf("state: database not configured")
	}
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Contract loads a committed contract record.
func (m *Manager) Contract(addr [20]byte) (*escrow.Contract, bool, error) {
	return m.Begin().ContractGet(addr)
}

// Vault loads a committed vault record.
func (m *Manager) Vault(addr [20]byte) (*escrow.Vault, bool, error) {
	return m.Begin().VaultGet(addr)
}

// OracleFlag loads the committed oracle flag of a contract.
func (m *Manager) OracleFlag(contract [20]byte) (*escrow.OracleFlag, bool, error) {
	return m.Begin().OracleFlagGet(contract)
}

// TrustScore loads a committed trust score.
func (m *Manager) TrustScore(authority, counterparty [20]byte) (*escrow.TrustScore, bool, error) {
	return m.Begin().TrustScoreGet(authority, counterparty)
}

// Balance returns the committed balance of owner in mint.
func (m *Manager) Balance(mint, owner [20]byte) (uint64, error) {
	return m.Begin().Balance(mint, owner)
}

// Nonce returns the last nonce accepted from addr.
func (m *Manager) Nonce(addr [20]byte) (uint64, error) {
	return m.Begin().Nonce(addr)
}
