package tx

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"tradesee/native/escrow"
)

// InitializePayload carries the contract terms. ExpiryTs is unix seconds.
type InitializePayload struct {
	ContractID          [32]byte
	Seller              [20]byte
	AmountExpected      uint64
	MilestonesTotal     uint8
	ExpiryTs            uint64
	AutoReleaseOnExpiry bool
	DocHash             [32]byte
	Oracles             [][20]byte
}

// Params converts the payload into engine parameters.
func (p *InitializePayload) Params() escrow.InitializeParams {
	return escrow.InitializeParams{
		ContractID:          p.ContractID,
		Seller:              p.Seller,
		AmountExpected:      p.AmountExpected,
		MilestonesTotal:     p.MilestonesTotal,
		ExpiryTs:            int64(p.ExpiryTs),
		AutoReleaseOnExpiry: p.AutoReleaseOnExpiry,
		DocHash:             p.DocHash,
		Oracles:             append([][20]byte(nil), p.Oracles...),
	}
}

// DepositPayload names the asset and amount the depositor pays in.
type DepositPayload struct {
	Mint   [20]byte
	Amount uint64
}

// SetOraclePayload carries the shipment attestation.
type SetOraclePayload struct {
	ShipmentVerified bool
}

// AnchorTrustPayload carries the score the signer assigns to Counterparty.
type AnchorTrustPayload struct {
	Counterparty [20]byte
	Score        uint16
}

func encodePayload(v interface{}) ([]byte, error) {
	return rlp.EncodeToBytes(v)
}

// DecodePayload decodes the instruction payload into out.
func (in *Instruction) DecodePayload(out interface{}) error {
	if err := rlp.DecodeBytes(in.Payload, out); err != nil {
		return fmt.Errorf("tx: decode %s payload: %w", in.Type, err)
	}
	return nil
}

// NewInitialize builds an initialize instruction for initializer. The contract
// and vault addresses are derived from the terms.
func NewInitialize(nonce uint64, initializer [20]byte, p InitializePayload) (*Instruction, error) {
	payload, err := encodePayload(&p)
	if err != nil {
		return nil, err
	}
	contract := escrow.DeriveContractAddress(initializer, p.ContractID)
	return &Instruction{
		Type:     TypeInitialize,
		Nonce:    nonce,
		Contract: contract,
		Vault:    escrow.DeriveVaultAddress(contract),
		Payload:  payload,
	}, nil
}

// NewDeposit builds a deposit instruction.
func NewDeposit(nonce uint64, contract, mint [20]byte, amount uint64) (*Instruction, error) {
	payload, err := encodePayload(&DepositPayload{Mint: mint, Amount: amount})
	if err != nil {
		return nil, err
	}
	return newContractInstruction(TypeDeposit, nonce, contract, payload), nil
}

// NewRelease builds a release instruction.
func NewRelease(nonce uint64, contract [20]byte) *Instruction {
	return newContractInstruction(TypeRelease, nonce, contract, nil)
}

// NewRefund builds a refund instruction.
func NewRefund(nonce uint64, contract [20]byte) *Instruction {
	return newContractInstruction(TypeRefund, nonce, contract, nil)
}

// NewSetOracle builds an oracle attestation instruction.
func NewSetOracle(nonce uint64, contract [20]byte, verified bool) (*Instruction, error) {
	payload, err := encodePayload(&SetOraclePayload{ShipmentVerified: verified})
	if err != nil {
		return nil, err
	}
	return newContractInstruction(TypeSetOracle, nonce, contract, payload), nil
}

// NewCompleteMilestone builds a milestone completion instruction.
func NewCompleteMilestone(nonce uint64, contract [20]byte) *Instruction {
	return newContractInstruction(TypeCompleteMilestone, nonce, contract, nil)
}

// NewAnchorTrust builds a trust score instruction. It touches no contract.
func NewAnchorTrust(nonce uint64, counterparty [20]byte, score uint16) (*Instruction, error) {
	payload, err := encodePayload(&AnchorTrustPayload{Counterparty: counterparty, Score: score})
	if err != nil {
		return nil, err
	}
	return &Instruction{Type: TypeAnchorTrust, Nonce: nonce, Payload: payload}, nil
}

func newContractInstruction(t Type, nonce uint64, contract [20]byte, payload []byte) *Instruction {
	return &Instruction{
		Type:     t,
		Nonce:    nonce,
		Contract: contract,
		Vault:    escrow.DeriveVaultAddress(contract),
		Payload:  payload,
	}
}
