package escrow

import (
	"errors"
	"fmt"
)

// Error is a named failure of an escrow instruction. Codes follow the custom
// program error numbering (6000 + index) so clients that decode the original
// program errors keep working.
type Error struct {
	Code uint32
	Name string
	Msg  string
}

func (e *Error) Error() string { return "escrow: " + e.Msg }

func newError(code uint32, name, msg string) *Error {
	return &Error{Code: code, Name: name, Msg: msg}
}

var (
	ErrInvalidAuthority        = newError(6000, "InvalidAuthority", "invalid authority")
	ErrAmountMismatch          = newError(6001, "AmountMismatch", "amount mismatch")
	ErrAlreadyReleased         = newError(6002, "AlreadyReleased", "already released")
	ErrAlreadyRefunded         = newError(6003, "AlreadyRefunded", "already refunded")
	ErrNotExpired              = newError(6004, "NotExpired", "contract not expired")
	ErrNotEnoughMilestones     = newError(6005, "NotEnoughMilestones", "not enough milestones completed")
	ErrWrongMint               = newError(6006, "WrongMint", "wrong mint")
	ErrOverflow                = newError(6007, "Overflow", "arithmetic overflow")
	ErrInvalidScore            = newError(6008, "InvalidScore", "invalid score (must be 0-1000)")
	ErrInvalidAmount           = newError(6009, "InvalidAmount", "invalid amount")
	ErrInvalidMilestones       = newError(6010, "InvalidMilestones", "invalid milestones")
	ErrInvalidExpiry           = newError(6011, "InvalidExpiry", "invalid expiry timestamp")
	ErrContractExpired         = newError(6012, "ContractExpired", "contract expired")
	ErrReleaseConditionsNotMet = newError(6013, "ReleaseConditionsNotMet", "release conditions not met")
	ErrAutoReleaseEnabled      = newError(6014, "AutoReleaseEnabled", "auto release is enabled")

	ErrContractNotFound   = newError(6100, "ContractNotFound", "contract not found")
	ErrContractExists     = newError(6101, "ContractExists", "contract already exists")
	ErrAlreadyDeposited   = newError(6102, "AlreadyDeposited", "vault already funded")
	ErrNotDeposited       = newError(6103, "NotDeposited", "vault not funded")
	ErrInsufficientFunds  = newError(6104, "InsufficientFunds", "insufficient funds")
	ErrMilestonesComplete = newError(6105, "MilestonesComplete", "all milestones already completed")
	ErrInvalidNonce       = newError(6106, "InvalidNonce", "invalid nonce")
	ErrInvalidSignature   = newError(6107, "InvalidSignature", "invalid signature")
	ErrUnknownInstruction = newError(6108, "UnknownInstruction", "unknown instruction")
	ErrMalformedPayload   = newError(6109, "MalformedPayload", "malformed instruction payload")
)

var allErrors = []*Error{
	ErrInvalidAuthority, ErrAmountMismatch, ErrAlreadyReleased, ErrAlreadyRefunded,
	ErrNotExpired, ErrNotEnoughMilestones, ErrWrongMint, ErrOverflow, ErrInvalidScore,
	ErrInvalidAmount, ErrInvalidMilestones, ErrInvalidExpiry, ErrContractExpired,
	ErrReleaseConditionsNotMet, ErrAutoReleaseEnabled,
	ErrContractNotFound, ErrContractExists, ErrAlreadyDeposited, ErrNotDeposited,
	ErrInsufficientFunds, ErrMilestonesComplete, ErrInvalidNonce, ErrInvalidSignature,
	ErrUnknownInstruction, ErrMalformedPayload,
}

// CodeOf returns the first escrow error in err's chain.
func CodeOf(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// LookupError resolves a numeric code back to its named error.
func LookupError(code uint32) (*Error, bool) {
	for _, e := range allErrors {
		if e.Code == code {
			return e, true
		}
	}
	return nil, false
}

func wrap(base *Error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", base, fmt.Sprintf(format, args...))
}
