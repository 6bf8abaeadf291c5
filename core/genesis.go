package core

import (
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"tradesee/core/state"
)

// Allocation credits Amount units of Mint to Owner when a store is first
// opened.
type Allocation struct {
	Owner  [20]byte
	Mint   [20]byte
	Amount uint64
}

// ApplyGenesis credits the allocations exactly once. Reopening a store with
// the same allocations is a no-op; a different set is rejected.
func ApplyGenesis(mgr *state.Manager, allocs []Allocation) (bool, error) {
	encoded, err := rlp.EncodeToBytes(allocs)
	if err != nil {
		return false, err
	}
	digest := ethcrypto.Keccak256Hash(encoded)

	txn := mgr.Begin()
	defer txn.Discard()
	applied, ok, err := txn.GenesisHash()
	if err != nil {
		return false, err
	}
	if ok {
		if applied != [32]byte(digest) {
			return false, fmt.Errorf("core: store was initialised with a different genesis %x", applied)
		}
		return false, nil
	}
	for i, alloc := range allocs {
		if err := txn.Credit(alloc.Mint, alloc.Owner, alloc.Amount); err != nil {
			return false, fmt.Errorf("core: genesis allocation %d: %w", i, err)
		}
	}
	if err := txn.SetGenesisHash(digest); err != nil {
		return false, err
	}
	if err := txn.Commit(); err != nil {
		return false, err
	}
	return true, nil
}
