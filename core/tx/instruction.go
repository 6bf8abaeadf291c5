package tx

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"tradesee/crypto"
)

// Type defines the escrow operation an instruction requests.
type Type uint8

const (
	TypeInitialize        Type = 0x01 // Create a contract and its vault
	TypeDeposit           Type = 0x02 // Fund the vault with the expected amount
	TypeRelease           Type = 0x03 // Pay the vault out to the seller
	TypeRefund            Type = 0x04 // Return the vault to the initializer
	TypeSetOracle         Type = 0x05 // Record a shipment attestation
	TypeAnchorTrust       Type = 0x06 // Store a counterparty trust score
	TypeCompleteMilestone Type = 0x07 // Advance the milestone counter
)

var typeNames = map[Type]string{
	TypeInitialize:        "initialize",
	TypeDeposit:           "deposit",
	TypeRelease:           "release",
	TypeRefund:            "refund",
	TypeSetOracle:         "set_oracle",
	TypeAnchorTrust:       "anchor_trust",
	TypeCompleteMilestone: "complete_milestone",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// Valid reports whether t names a known instruction.
func (t Type) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

// ParseType resolves the lowercase instruction name used by the CLI and logs.
func ParseType(name string) (Type, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	for t, n := range typeNames {
		if n == normalized {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown instruction type %q", name)
}

var (
	ErrUnsigned        = errors.New("tx: instruction is not signed")
	ErrMalformedSigned = errors.New("tx: malformed signed instruction")
)

// Instruction is a signed request to run one escrow operation. Contract and
// Vault name the accounts the instruction touches; the processor checks them
// against the stored derivations before dispatching.
type Instruction struct {
	Type      Type
	Nonce     uint64
	Contract  [20]byte
	Vault     [20]byte
	Payload   []byte
	Signature []byte `rlp:"-"`

	from *[20]byte
}

type unsignedInstruction struct {
	Type     Type
	Nonce    uint64
	Contract [20]byte
	Vault    [20]byte
	Payload  []byte
}

type signedInstruction struct {
	Type      Type
	Nonce     uint64
	Contract  [20]byte
	Vault     [20]byte
	Payload   []byte
	Signature []byte
}

func (in *Instruction) unsigned() unsignedInstruction {
	return unsignedInstruction{in.Type, in.Nonce, in.Contract, in.Vault, in.Payload}
}

// Hash returns the keccak256 digest of the RLP encoding of the unsigned
// fields. It is the message the signer commits to.
func (in *Instruction) Hash() ([]byte, error) {
	encoded, err := rlp.EncodeToBytes(in.unsigned())
	if err != nil {
		return nil, err
	}
	return ethcrypto.Keccak256(encoded), nil
}

// Sign signs the instruction with key, replacing any existing signature.
func (in *Instruction) Sign(key *crypto.PrivateKey) error {
	if key == nil {
		return fmt.Errorf("tx: nil signing key")
	}
	digest, err := in.Hash()
	if err != nil {
		return err
	}
	sig, err := key.Sign(digest)
	if err != nil {
		return err
	}
	in.Signature = sig
	in.from = nil
	return nil
}

// Sender recovers the signer address from the signature.
func (in *Instruction) Sender() ([20]byte, error) {
	if in.from != nil {
		return *in.from, nil
	}
	if len(in.Signature) == 0 {
		return [20]byte{}, ErrUnsigned
	}
	digest, err := in.Hash()
	if err != nil {
		return [20]byte{}, err
	}
	addr, err := crypto.RecoverAddress(digest, in.Signature)
	if err != nil {
		return [20]byte{}, err
	}
	in.from = &addr
	return addr, nil
}

// ID returns the hex encoded keccak256 of the signed encoding, so identical
// instructions from different signers get distinct ids. An unsigned
// instruction has no id.
func (in *Instruction) ID() string {
	raw, err := in.Encode()
	if err != nil {
		return ""
	}
	return "0x" + hex.EncodeToString(ethcrypto.Keccak256(raw))
}

// Encode serialises the signed instruction for transport.
func (in *Instruction) Encode() ([]byte, error) {
	if len(in.Signature) == 0 {
		return nil, ErrUnsigned
	}
	return rlp.EncodeToBytes(signedInstruction{in.Type, in.Nonce, in.Contract, in.Vault, in.Payload, in.Signature})
}

// EncodeHex returns Encode as a 0x prefixed hex string.
func (in *Instruction) EncodeHex() (string, error) {
	raw, err := in.Encode()
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(raw), nil
}

// Decode parses a signed instruction produced by Encode.
func Decode(raw []byte) (*Instruction, error) {
	var s signedInstruction
	if err := rlp.DecodeBytes(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSigned, err)
	}
	if len(s.Signature) != crypto.SignatureLength {
		return nil, fmt.Errorf("%w: signature length %d", ErrMalformedSigned, len(s.Signature))
	}
	return &Instruction{
		Type:      s.Type,
		Nonce:     s.Nonce,
		Contract:  s.Contract,
		Vault:     s.Vault,
		Payload:   s.Payload,
		Signature: s.Signature,
	}, nil
}

// DecodeHex parses the output of EncodeHex. The 0x prefix is optional.
func DecodeHex(s string) (*Instruction, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSigned, err)
	}
	return Decode(raw)
}
