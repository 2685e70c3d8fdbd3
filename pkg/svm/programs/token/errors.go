package token

import "fmt"

// Error is a token program error. Codes match the SPL Token program.
type Error uint32

const (
	ErrorNotRentExempt Error = iota
	ErrorInsufficientFunds
	ErrorInvalidMint
	ErrorMintMismatch
	ErrorOwnerMismatch
	ErrorFixedSupply
	ErrorAlreadyInUse
	_ // InvalidNumberOfProvidedSigners
	_ // InvalidNumberOfRequiredSigners
	ErrorUninitializedState
	_ // NativeNotSupported
	ErrorNonNativeHasBalance
	ErrorInvalidInstruction
	ErrorInvalidState
	ErrorOverflow
	_ // AuthorityTypeNotSupported
	_ // MintCannotFreeze
	ErrorAccountFrozen
)

// Runtime-level failures reported by the token program. These sit above
// the SPL code range.
const (
	ErrorIncorrectProgramID Error = 1000 + iota
	ErrorInvalidAccountData
	ErrorMissingRequiredSignature
)

var errorNames = map[Error]string{
	ErrorNotRentExempt:            "lamport balance below rent-exempt threshold",
	ErrorInsufficientFunds:        "insufficient funds",
	ErrorInvalidMint:              "invalid mint",
	ErrorMintMismatch:             "account not associated with this mint",
	ErrorOwnerMismatch:            "owner does not match",
	ErrorFixedSupply:              "fixed supply",
	ErrorAlreadyInUse:             "already in use",
	ErrorUninitializedState:       "state is uninitialized",
	ErrorNonNativeHasBalance:      "non-native account can only be closed if its balance is zero",
	ErrorInvalidInstruction:       "invalid instruction",
	ErrorInvalidState:             "state is invalid for requested operation",
	ErrorOverflow:                 "operation overflowed",
	ErrorAccountFrozen:            "account is frozen",
	ErrorIncorrectProgramID:       "incorrect program id",
	ErrorInvalidAccountData:       "invalid account data",
	ErrorMissingRequiredSignature: "missing required signature",
}

func (e Error) Error() string {
	if name, ok := errorNames[e]; ok {
		return "token: " + name
	}
	return fmt.Sprintf("token: error %d", uint32(e))
}

// Code returns the numeric error code.
func (e Error) Code() uint32 {
	return uint32(e)
}
