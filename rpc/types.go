package rpc

import (
	"encoding/hex"
	"strconv"

	"tradesee/crypto"
	"tradesee/native/escrow"
)

// ContractResult is the JSON view of a contract and its vault balance.
// Amounts are decimal strings so large values survive JavaScript clients.
type ContractResult struct {
	Address             string   `json:"address"`
	Initializer         string   `json:"initializer"`
	Seller              string   `json:"seller"`
	DepositMint         string   `json:"depositMint"`
	EscrowVault         string   `json:"escrowVault"`
	ContractID          string   `json:"contractId"`
	AmountExpected      string   `json:"amountExpected"`
	VaultBalance        string   `json:"vaultBalance"`
	MilestonesTotal     uint8    `json:"milestonesTotal"`
	MilestonesCompleted uint8    `json:"milestonesCompleted"`
	AutoReleaseOnExpiry bool     `json:"autoReleaseOnExpiry"`
	ExpiryTs            int64    `json:"expiryTs"`
	DocHash             string   `json:"docHash"`
	Oracles             []string `json:"oracles"`
	Released            bool     `json:"released"`
	Refunded            bool     `json:"refunded"`
	Status              string   `json:"status"`
	ReleaseEligible     bool     `json:"releaseEligible"`
	CreatedAt           int64    `json:"createdAt"`
	UpdatedAt           int64    `json:"updatedAt"`
}

func formatContract(c *escrow.Contract, balance uint64, now int64) ContractResult {
	oracles := make([]string, 0, len(c.Oracles))
	for _, o := range c.Oracles {
		oracles = append(oracles, crypto.FormatAccount(o))
	}
	return ContractResult{
		Address:             crypto.FormatContract(c.Address),
		Initializer:         crypto.FormatAccount(c.Initializer),
		Seller:              crypto.FormatAccount(c.Seller),
		DepositMint:         crypto.FormatAccount(c.DepositMint),
		EscrowVault:         crypto.FormatContract(c.EscrowVault),
		ContractID:          "0x" + hex.EncodeToString(c.ContractID[:]),
		AmountExpected:      strconv.FormatUint(c.AmountExpected, 10),
		VaultBalance:        strconv.FormatUint(balance, 10),
		MilestonesTotal:     c.MilestonesTotal,
		MilestonesCompleted: c.MilestonesCompleted,
		AutoReleaseOnExpiry: c.AutoReleaseOnExpiry,
		ExpiryTs:            c.ExpiryTs,
		DocHash:             "0x" + hex.EncodeToString(c.DocHash[:]),
		Oracles:             oracles,
		Released:            c.Released,
		Refunded:            c.Refunded,
		Status:              c.Status(balance).String(),
		ReleaseEligible:     !c.Terminal() && escrow.ReleaseEligible(c, now),
		CreatedAt:           c.CreatedAt,
		UpdatedAt:           c.UpdatedAt,
	}
}

type VaultResult struct {
	Address  string `json:"address"`
	Contract string `json:"contract"`
	Mint     string `json:"mint"`
	Balance  string `json:"balance"`
}

type OracleFlagResult struct {
	Contract         string `json:"contract"`
	ShipmentVerified bool   `json:"shipmentVerified"`
	UpdatedBy        string `json:"updatedBy"`
	UpdatedAt        int64  `json:"updatedAt"`
}

type TrustScoreResult struct {
	Authority    string `json:"authority"`
	Counterparty string `json:"counterparty"`
	Score        uint16 `json:"score"`
	UpdatedAt    int64  `json:"updatedAt"`
}

type BalanceResult struct {
	Owner   string `json:"owner"`
	Mint    string `json:"mint"`
	Balance string `json:"balance"`
}

type NonceResult struct {
	Address string `json:"address"`
	Nonce   uint64 `json:"nonce"`
}

type DerivedAddresses struct {
	Contract string `json:"contract"`
	Vault    string `json:"vault"`
}

type PolicyResult struct {
	DepositMint       string   `json:"depositMint"`
	DepositExpiry     string   `json:"depositExpiry"`
	RestrictDepositor bool     `json:"restrictDepositor"`
	DefaultOracles    []string `json:"defaultOracles"`
}

// EscrowErrorData is attached to rejected instructions so clients can match
// on the numeric program error code.
type EscrowErrorData struct {
	Code   uint32 `json:"code"`
	Name   string `json:"name"`
	Detail string `json:"detail"`
}

type SubmitResult struct {
	Hash    string      `json:"hash"`
	Receipt interface{} `json:"receipt"`
}
