package state

import (
	"fmt"

	"tradesee/native/escrow"
)

// RLP has no signed integer support so timestamps are persisted as uint64.

type storedContract struct {
	Address             [20]byte
	Initializer         [20]byte
	Seller              [20]byte
	DepositMint         [20]byte
	EscrowVault         [20]byte
	ContractID          [32]byte
	AmountExpected      uint64
	MilestonesTotal     uint8
	MilestonesCompleted uint8
	AutoReleaseOnExpiry bool
	ExpiryTs            uint64
	DocHash             [32]byte
	Oracles             [][20]byte
	Released            bool
	Refunded            bool
	CreatedAt           uint64
	UpdatedAt           uint64
}

func newStoredContract(c *escrow.Contract) (*storedContract, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &storedContract{
		Address:             c.Address,
		Initializer:         c.Initializer,
		Seller:              c.Seller,
		DepositMint:         c.DepositMint,
		EscrowVault:         c.EscrowVault,
		ContractID:          c.ContractID,
		AmountExpected:      c.AmountExpected,
		MilestonesTotal:     c.MilestonesTotal,
		MilestonesCompleted: c.MilestonesCompleted,
		AutoReleaseOnExpiry: c.AutoReleaseOnExpiry,
		ExpiryTs:            uint64(c.ExpiryTs),
		DocHash:             c.DocHash,
		Oracles:             append([][20]byte(nil), c.Oracles...),
		Released:            c.Released,
		Refunded:            c.Refunded,
		CreatedAt:           uint64(c.CreatedAt),
		UpdatedAt:           uint64(c.UpdatedAt),
	}, nil
}

func (s *storedContract) toContract() (*escrow.Contract, error) {
	c := &escrow.Contract{
		Address:             s.Address,
		Initializer:         s.Initializer,
		Seller:              s.Seller,
		DepositMint:         s.DepositMint,
		EscrowVault:         s.EscrowVault,
		ContractID:          s.ContractID,
		AmountExpected:      s.AmountExpected,
		MilestonesTotal:     s.MilestonesTotal,
		MilestonesCompleted: s.MilestonesCompleted,
		AutoReleaseOnExpiry: s.AutoReleaseOnExpiry,
		ExpiryTs:            int64(s.ExpiryTs),
		DocHash:             s.DocHash,
		Released:            s.Released,
		Refunded:            s.Refunded,
		CreatedAt:           int64(s.CreatedAt),
		UpdatedAt:           int64(s.UpdatedAt),
	}
	if len(s.Oracles) > 0 {
		c.Oracles = append([][20]byte(nil), s.Oracles...)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("state: corrupt contract record: %w", err)
	}
	return c, nil
}

type storedOracleFlag struct {
	Contract         [20]byte
	ShipmentVerified bool
	UpdatedBy        [20]byte
	UpdatedAt        uint64
}

type storedTrustScore struct {
	Authority    [20]byte
	Counterparty [20]byte
	Score        uint16
	UpdatedAt    uint64
}
