package escrow

import "fmt"

// MaxTrustScore is the inclusive upper bound of an anchored trust score.
const MaxTrustScore uint16 = 1000

// Status is the lifecycle state of a contract. Only the terminal flags are
// stored; Deposited is inferred from the vault balance.
type Status uint8

const (
	StatusInitialized Status = iota
	StatusDeposited
	StatusReleased
	StatusRefunded
)

func (s Status) String() string {
	switch s {
	case StatusInitialized:
		return "initialized"
	case StatusDeposited:
		return "deposited"
	case StatusReleased:
		return "released"
	case StatusRefunded:
		return "refunded"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Contract captures the immutable terms and runtime flags of a single trade
// escrow. Address is derived from the initializer and ContractID; EscrowVault
// from Address.
type Contract struct {
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
	ExpiryTs            int64
	DocHash             [32]byte
	// Oracles restricts who may attest shipment results and milestones. An
	// empty list accepts any signer.
	Oracles   [][20]byte
	Released  bool
	Refunded  bool
	CreatedAt int64
	UpdatedAt int64
}

// Clone returns a deep copy of the contract so callers can safely mutate
// the copy without affecting the stored instance.
func (c *Contract) Clone() *Contract {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Oracles != nil {
		clone.Oracles = append([][20]byte(nil), c.Oracles...)
	}
	return &clone
}

// Terminal reports whether the contract reached Released or Refunded.
func (c *Contract) Terminal() bool {
	return c != nil && (c.Released || c.Refunded)
}

// terminalErr returns the error matching the terminal flag, or nil.
func (c *Contract) terminalErr() error {
	switch {
	case c.Released:
		return ErrAlreadyReleased
	case c.Refunded:
		return ErrAlreadyRefunded
	default:
		return nil
	}
}

// Status infers the lifecycle state from the flags and the vault balance.
func (c *Contract) Status(vaultBalance uint64) Status {
	switch {
	case c.Released:
		return StatusReleased
	case c.Refunded:
		return StatusRefunded
	case vaultBalance > 0:
		return StatusDeposited
	default:
		return StatusInitialized
	}
}

// IsOracle reports whether addr may attest for the contract.
func (c *Contract) IsOracle(addr [20]byte) bool {
	if len(c.Oracles) == 0 {
		return true
	}
	for _, o := range c.Oracles {
		if o == addr {
			return true
		}
	}
	return false
}

// Validate checks the structural invariants every stored contract must hold.
func (c *Contract) Validate() error {
	if c == nil {
		return fmt.Errorf("nil contract")
	}
	if c.Released && c.Refunded {
		return fmt.Errorf("contract %x: released and refunded are mutually exclusive", c.Address)
	}
	if c.MilestonesCompleted > c.MilestonesTotal {
		return fmt.Errorf("contract %x: milestones completed %d exceeds total %d", c.Address, c.MilestonesCompleted, c.MilestonesTotal)
	}
	if c.AmountExpected == 0 {
		return fmt.Errorf("contract %x: amount expected must be positive", c.Address)
	}
	if c.ExpiryTs < 0 || c.CreatedAt < 0 || c.UpdatedAt < 0 {
		return fmt.Errorf("contract %x: negative timestamp", c.Address)
	}
	return nil
}

// Vault is the custody account created alongside a contract. Its balance lives
// in the token ledger under (Mint, Address).
type Vault struct {
	Address  [20]byte
	Contract [20]byte
	Mint     [20]byte
}

// OracleFlag is the last shipment attestation recorded for a contract.
type OracleFlag struct {
	Contract         [20]byte
	ShipmentVerified bool
	UpdatedBy        [20]byte
	UpdatedAt        int64
}

// Clone returns a copy of the flag.
func (o *OracleFlag) Clone() *OracleFlag {
	if o == nil {
		return nil
	}
	clone := *o
	return &clone
}

// TrustScore is the score an authority anchored for a counterparty.
type TrustScore struct {
	Authority    [20]byte
	Counterparty [20]byte
	Score        uint16
	UpdatedAt    int64
}

// Clone returns a copy of the score.
func (t *TrustScore) Clone() *TrustScore {
	if t == nil {
		return nil
	}
	clone := *t
	return &clone
}
