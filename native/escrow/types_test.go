package escrow

import (
	"errors"
	"testing"
)

func TestContractStatus(t *testing.T) {
	c := &Contract{AmountExpected: 1, MilestonesTotal: 1}
	if got := c.Status(0); got != StatusInitialized {
		t.Fatalf("status = %s", got)
	}
	if got := c.Status(1); got != StatusDeposited {
		t.Fatalf("status = %s", got)
	}
	c.Released = true
	if got := c.Status(0); got != StatusReleased {
		t.Fatalf("status = %s", got)
	}
	if !c.Terminal() {
		t.Fatalf("released contract should be terminal")
	}
	c.Released, c.Refunded = false, true
	if got := c.Status(0); got != StatusRefunded {
		t.Fatalf("status = %s", got)
	}
}

func TestContractValidate(t *testing.T) {
	base := Contract{AmountExpected: 10, MilestonesTotal: 2, ExpiryTs: 100}
	if err := base.Validate(); err != nil {
		t.Fatalf("valid contract rejected: %v", err)
	}
	both := base
	both.Released, both.Refunded = true, true
	if err := both.Validate(); err == nil {
		t.Fatalf("expected released+refunded to be rejected")
	}
	over := base
	over.MilestonesCompleted = 3
	if err := over.Validate(); err == nil {
		t.Fatalf("expected completed > total to be rejected")
	}
	zero := base
	zero.AmountExpected = 0
	if err := zero.Validate(); err == nil {
		t.Fatalf("expected zero amount to be rejected")
	}
}

func TestContractCloneIsDeep(t *testing.T) {
	c := &Contract{Oracles: [][20]byte{{1}}}
	clone := c.Clone()
	clone.Oracles[0] = [20]byte{2}
	if c.Oracles[0] != ([20]byte{1}) {
		t.Fatalf("clone shares oracle slice")
	}
}

func TestIsOracle(t *testing.T) {
	open := &Contract{}
	if !open.IsOracle([20]byte{9}) {
		t.Fatalf("empty allowlist should accept any signer")
	}
	closed := &Contract{Oracles: [][20]byte{{1}}}
	if closed.IsOracle([20]byte{9}) || !closed.IsOracle([20]byte{1}) {
		t.Fatalf("allowlist not enforced")
	}
}

func TestErrorCodes(t *testing.T) {
	want := map[uint32]*Error{
		6000: ErrInvalidAuthority,
		6001: ErrAmountMismatch,
		6002: ErrAlreadyReleased,
		6008: ErrInvalidScore,
		6012: ErrContractExpired,
		6013: ErrReleaseConditionsNotMet,
		6014: ErrAutoReleaseEnabled,
	}
	for code, sentinel := range want {
		got, ok := LookupError(code)
		if !ok || got != sentinel {
			t.Fatalf("code %d resolved to %v", code, got)
		}
	}
	wrapped := wrap(ErrAmountMismatch, "got %d", 5)
	if !errors.Is(wrapped, ErrAmountMismatch) {
		t.Fatalf("wrapped error lost its sentinel")
	}
	named, ok := CodeOf(wrapped)
	if !ok || named.Code != 6001 || named.Name != "AmountMismatch" {
		t.Fatalf("CodeOf = %+v", named)
	}
	if _, ok := LookupError(1); ok {
		t.Fatalf("unexpected code lookup success")
	}
}

func TestDerivationIsDeterministic(t *testing.T) {
	initializer := [20]byte{1}
	id := [32]byte{7}
	a := DeriveContractAddress(initializer, id)
	if a != DeriveContractAddress(initializer, id) {
		t.Fatalf("contract derivation not deterministic")
	}
	if a == DeriveContractAddress([20]byte{2}, id) || a == DeriveContractAddress(initializer, [32]byte{8}) {
		t.Fatalf("contract derivation collides across inputs")
	}
	if DeriveVaultAddress(a) == a {
		t.Fatalf("vault must differ from contract")
	}
	if TrustScoreKey(initializer, [20]byte{2}) == TrustScoreKey([20]byte{2}, initializer) {
		t.Fatalf("trust key must be directional")
	}
}
