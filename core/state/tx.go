package state

import (
	"errors"
	"fmt"
	"math/bits"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"

	"tradesee/native/escrow"
	"tradesee/storage"
)

// ErrTxClosed is returned when a committed or discarded transaction is used.
var ErrTxClosed = errors.New("state: transaction closed")

// Tx is an in-memory overlay over the committed state. Reads observe the
// transaction's own writes. Commit applies every write in one batch; Discard
// drops them.
type Tx struct {
	mgr    *Manager
	writes map[string][]byte
	closed bool
}

var _ escrow.State = (*Tx)(nil)

func (t *Tx) get(key []byte) ([]byte, bool, error) {
	if t.closed {
		return nil, false, ErrTxClosed
	}
	if data, ok := t.writes[string(key)]; ok {
		return data, true, nil
	}
	return t.mgr.read(key)
}

func (t *Tx) put(key []byte, value interface{}) error {
	if t.closed {
		return ErrTxClosed
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	t.writes[string(key)] = encoded
	return nil
}

func (t *Tx) decode(key []byte, out interface{}) (bool, error) {
	data, ok, err := t.get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

// Dirty reports the number of pending writes.
func (t *Tx) Dirty() int { return len(t.writes) }

// Commit writes the overlay to the database atomically and closes the
// transaction.
func (t *Tx) Commit() error {
	if t.closed {
		return ErrTxClosed
	}
	t.closed = true
	if len(t.writes) == 0 {
		return nil
	}
	keys := make([]string, 0, len(t.writes))
	for k := range t.writes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	batch := storage.NewBatch()
	for _, k := range keys {
		batch.Put([]byte(k), t.writes[k])
	}
	t.writes = nil
	return t.mgr.db.Write(batch)
}

// Discard drops every pending write and closes the transaction.
func (t *Tx) Discard() {
	t.closed = true
	t.writes = nil
}

// ContractGet implements escrow.State.
func (t *Tx) ContractGet(addr [20]byte) (*escrow.Contract, bool, error) {
	var stored storedContract
	ok, err := t.decode(contractKey(addr), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	c, err := stored.toContract()
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

// ContractPut implements escrow.State.
func (t *Tx) ContractPut(c *escrow.Contract) error {
	stored, err := newStoredContract(c)
	if err != nil {
		return err
	}
	return t.put(contractKey(c.Address), stored)
}

// VaultGet implements escrow.State.
func (t *Tx) VaultGet(addr [20]byte) (*escrow.Vault, bool, error) {
	v := new(escrow.Vault)
	ok, err := t.decode(vaultKey(addr), v)
	if err != nil || !ok {
		return nil, false, err
	}
	return v, true, nil
}

// VaultPut implements escrow.State.
func (t *Tx) VaultPut(v *escrow.Vault) error {
	if v == nil {
		return fmt.Errorf("state: nil vault")
	}
	return t.put(vaultKey(v.Address), v)
}

// OracleFlagGet implements escrow.State.
func (t *Tx) OracleFlagGet(contract [20]byte) (*escrow.OracleFlag, bool, error) {
	var stored storedOracleFlag
	ok, err := t.decode(oracleKey(contract), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &escrow.OracleFlag{
		Contract:         stored.Contract,
		ShipmentVerified: stored.ShipmentVerified,
		UpdatedBy:        stored.UpdatedBy,
		UpdatedAt:        int64(stored.UpdatedAt),
	}, true, nil
}

// OracleFlagPut implements escrow.State.
func (t *Tx) OracleFlagPut(f *escrow.OracleFlag) error {
	if f == nil {
		return fmt.Errorf("state: nil oracle flag")
	}
	if f.UpdatedAt < 0 {
		return fmt.Errorf("state: negative oracle timestamp")
	}
	return t.put(oracleKey(f.Contract), &storedOracleFlag{
		Contract:         f.Contract,
		ShipmentVerified: f.ShipmentVerified,
		UpdatedBy:        f.UpdatedBy,
		UpdatedAt:        uint64(f.UpdatedAt),
	})
}

// TrustScoreGet implements escrow.State.
func (t *Tx) TrustScoreGet(authority, counterparty [20]byte) (*escrow.TrustScore, bool, error) {
	var stored storedTrustScore
	ok, err := t.decode(trustKey(authority, counterparty), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &escrow.TrustScore{
		Authority:    stored.Authority,
		Counterparty: stored.Counterparty,
		Score:        stored.Score,
		UpdatedAt:    int64(stored.UpdatedAt),
	}, true, nil
}

// TrustScorePut implements escrow.State. Scores above the maximum are
// rejected so the store never holds an out of range value.
func (t *Tx) TrustScorePut(ts *escrow.TrustScore) error {
	if ts == nil {
		return fmt.Errorf("state: nil trust score")
	}
	if ts.Score > escrow.MaxTrustScore {
		return escrow.ErrInvalidScore
	}
	if ts.UpdatedAt < 0 {
		return fmt.Errorf("state: negative trust score timestamp")
	}
	return t.put(trustKey(ts.Authority, ts.Counterparty), &storedTrustScore{
		Authority:    ts.Authority,
		Counterparty: ts.Counterparty,
		Score:        ts.Score,
		UpdatedAt:    uint64(ts.UpdatedAt),
	})
}

// Balance implements escrow.State.
func (t *Tx) Balance(mint, owner [20]byte) (uint64, error) {
	var amount uint64
	if _, err := t.decode(balanceKey(mint, owner), &amount); err != nil {
		return 0, err
	}
	return amount, nil
}

func (t *Tx) setBalance(mint, owner [20]byte, amount uint64) error {
	return t.put(balanceKey(mint, owner), amount)
}

// Transfer implements escrow.State.
func (t *Tx) Transfer(mint, from, to [20]byte, amount uint64) error {
	fromBal, err := t.Balance(mint, from)
	if err != nil {
		return err
	}
	if fromBal < amount {
		return fmt.Errorf("%w: have %d, need %d", escrow.ErrInsufficientFunds, fromBal, amount)
	}
	if amount == 0 || from == to {
		return nil
	}
	toBal, err := t.Balance(mint, to)
	if err != nil {
		return err
	}
	sum, carry := bits.Add64(toBal, amount, 0)
	if carry != 0 {
		return escrow.ErrOverflow
	}
	if err := t.setBalance(mint, from, fromBal-amount); err != nil {
		return err
	}
	return t.setBalance(mint, to, sum)
}

// Credit mints amount units of mint to owner. It backs genesis allocations
// and is not reachable from any instruction.
func (t *Tx) Credit(mint, owner [20]byte, amount uint64) error {
	bal, err := t.Balance(mint, owner)
	if err != nil {
		return err
	}
	sum, carry := bits.Add64(bal, amount, 0)
	if carry != 0 {
		return escrow.ErrOverflow
	}
	return t.setBalance(mint, owner, sum)
}

// Nonce returns the last nonce accepted from addr, zero if none.
func (t *Tx) Nonce(addr [20]byte) (uint64, error) {
	var nonce uint64
	if _, err := t.decode(nonceKey(addr), &nonce); err != nil {
		return 0, err
	}
	return nonce, nil
}

// SetNonce records the last nonce accepted from addr.
func (t *Tx) SetNonce(addr [20]byte, nonce uint64) error {
	return t.put(nonceKey(addr), nonce)
}

// GenesisHash returns the digest of the genesis allocation applied to this
// store, if any.
func (t *Tx) GenesisHash() ([32]byte, bool, error) {
	var h [32]byte
	ok, err := t.decode(genesisKey, &h)
	return h, ok, err
}

// SetGenesisHash records the digest of the applied genesis allocation.
func (t *Tx) SetGenesisHash(h [32]byte) error {
	return t.put(genesisKey, h)
}
