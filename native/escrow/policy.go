package escrow

import "fmt"

// DepositExpiryPolicy decides what happens to a deposit arriving at or after
// the contract expiry.
type DepositExpiryPolicy uint8

const (
	// DepositExpiryReject fails late deposits with ErrContractExpired.
	DepositExpiryReject DepositExpiryPolicy = iota
	// DepositExpiryAllow accepts deposits until the contract is terminal.
	DepositExpiryAllow
)

func (p DepositExpiryPolicy) String() string {
	switch p {
	case DepositExpiryReject:
		return "reject"
	case DepositExpiryAllow:
		return "allow"
	default:
		return fmt.Sprintf("deposit-expiry(%d)", uint8(p))
	}
}

// ParseDepositExpiryPolicy maps the configuration spelling to a policy.
func ParseDepositExpiryPolicy(raw string) (DepositExpiryPolicy, error) {
	switch raw {
	case "", "reject":
		return DepositExpiryReject, nil
	case "allow":
		return DepositExpiryAllow, nil
	default:
		return 0, fmt.Errorf("unknown deposit expiry policy %q", raw)
	}
}

// Policy bundles the operator-configurable engine rules.
type Policy struct {
	DepositExpiry DepositExpiryPolicy
	// RestrictDepositor only accepts deposits signed by the initializer, the
	// account refunds are returned to.
	RestrictDepositor bool
	// DefaultOracles is applied to contracts initialized without an explicit
	// oracle allowlist.
	DefaultOracles [][20]byte
}

// DefaultPolicy rejects late deposits and only accepts funds from the
// initializer.
func DefaultPolicy() Policy {
	return Policy{DepositExpiry: DepositExpiryReject, RestrictDepositor: true}
}

// ReleaseEligible reports whether the release conditions hold at now.
func ReleaseEligible(c *Contract, now int64) bool {
	if c == nil {
		return false
	}
	if c.MilestonesCompleted >= c.MilestonesTotal {
		return true
	}
	return c.AutoReleaseOnExpiry && now >= c.ExpiryTs
}

// CheckDeposit decides whether depositor may fund the contract with amount
// units of sourceMint at now.
func CheckDeposit(c *Contract, vaultBalance uint64, depositor, sourceMint [20]byte, amount uint64, now int64, p Policy) error {
	if c == nil {
		return ErrContractNotFound
	}
	if err := c.terminalErr(); err != nil {
		return err
	}
	if p.RestrictDepositor && depositor != c.Initializer {
		return wrap(ErrInvalidAuthority, "depositor %x is not the initializer", depositor)
	}
	if sourceMint != c.DepositMint {
		return wrap(ErrWrongMint, "source mint %x, contract accepts %x", sourceMint, c.DepositMint)
	}
	if amount != c.AmountExpected {
		return wrap(ErrAmountMismatch, "got %d, expected %d", amount, c.AmountExpected)
	}
	if p.DepositExpiry == DepositExpiryReject && now >= c.ExpiryTs {
		return wrap(ErrContractExpired, "expired at %d", c.ExpiryTs)
	}
	if vaultBalance > 0 {
		return ErrAlreadyDeposited
	}
	return nil
}

// CheckRelease decides whether the vault may be paid out to the seller.
func CheckRelease(c *Contract, vaultBalance uint64, now int64) error {
	if c == nil {
		return ErrContractNotFound
	}
	if err := c.terminalErr(); err != nil {
		return err
	}
	if !ReleaseEligible(c, now) {
		if c.AutoReleaseOnExpiry {
			return fmt.Errorf("%w: %w: %d of %d completed before expiry %d", ErrReleaseConditionsNotMet, ErrNotEnoughMilestones, c.MilestonesCompleted, c.MilestonesTotal, c.ExpiryTs)
		}
		return fmt.Errorf("%w: %w: %d of %d completed", ErrReleaseConditionsNotMet, ErrNotEnoughMilestones, c.MilestonesCompleted, c.MilestonesTotal)
	}
	if vaultBalance == 0 {
		return ErrNotDeposited
	}
	return nil
}

// CheckRefund decides whether the vault may be returned to the initializer.
func CheckRefund(c *Contract, vaultBalance uint64, now int64) error {
	if c == nil {
		return ErrContractNotFound
	}
	if err := c.terminalErr(); err != nil {
		return err
	}
	if now < c.ExpiryTs {
		return wrap(ErrNotExpired, "expires at %d", c.ExpiryTs)
	}
	if c.AutoReleaseOnExpiry {
		return ErrAutoReleaseEnabled
	}
	if vaultBalance == 0 {
		return ErrNotDeposited
	}
	return nil
}

// CheckMilestone decides whether caller may mark the next milestone complete.
func CheckMilestone(c *Contract, caller [20]byte) error {
	if c == nil {
		return ErrContractNotFound
	}
	if err := c.terminalErr(); err != nil {
		return err
	}
	if caller != c.Initializer && (len(c.Oracles) == 0 || !c.IsOracle(caller)) {
		return wrap(ErrInvalidAuthority, "%x may not attest milestones", caller)
	}
	if c.MilestonesCompleted >= c.MilestonesTotal {
		return ErrMilestonesComplete
	}
	return nil
}
