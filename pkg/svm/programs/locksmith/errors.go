package locksmith

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/fortiblox/locksmith/pkg/svm/programs/token"
)

// Error is a Locksmith program error. The numeric codes are part of the
// program ABI and must not be reordered.
type Error uint32

const (
	ErrUnauthorized Error = iota
	ErrInvalidTimestamp
	ErrInsufficientFunds
	ErrUnlockTooEarly
	ErrInconsistentState
	ErrInvalidAmount
	ErrInvalidInstruction
	ErrUninitializedAccount
	ErrAlreadyInitialized
	ErrInvalidPDA
	ErrInvalidMint
	ErrLockDurationExceeded
	ErrInvalidAccountData
	ErrIncorrectProgramID
)

var errorMessages = map[Error]string{
	ErrUnauthorized:         "caller is not authorized to perform this action",
	ErrInvalidTimestamp:     "unlock timestamp must be in the future",
	ErrInsufficientFunds:    "insufficient token balance for this operation",
	ErrUnlockTooEarly:       "cannot unlock tokens before the unlock timestamp",
	ErrInconsistentState:    "escrow balance does not match lock amount",
	ErrInvalidAmount:        "lock amount must be greater than zero",
	ErrInvalidInstruction:   "invalid instruction data",
	ErrUninitializedAccount: "account has not been initialized",
	ErrAlreadyInitialized:   "account has already been initialized",
	ErrInvalidPDA:           "invalid program derived address",
	ErrInvalidMint:          "invalid token mint",
	ErrLockDurationExceeded: "lock duration exceeds maximum of 10 years",
	ErrInvalidAccountData:   "invalid account data",
	ErrIncorrectProgramID:   "incorrect program id",
}

func (e Error) Error() string {
	if msg, ok := errorMessages[e]; ok {
		return "locksmith: " + msg
	}
	return fmt.Sprintf("locksmith: error %d", uint32(e))
}

// Code returns the stable numeric code reported to clients.
func (e Error) Code() uint32 {
	return uint32(e)
}

// decodeError reports a decode failure under a program error code while
// keeping the decoder's error as its cause.
type decodeError struct {
	code  Error
	cause error
}

func codecFailure(code Error, cause error) error {
	return &decodeError{code: code, cause: cause}
}

func (e *decodeError) Error() string { return e.code.Error() + ": " + e.cause.Error() }
func (e *decodeError) Unwrap() error { return e.cause }
func (e *decodeError) Code() uint32  { return e.code.Code() }

func (e *decodeError) Is(target error) bool {
	return target == error(e.code)
}

func (e *decodeError) As(target interface{}) bool {
	if t, ok := target.(*Error); ok {
		*t = e.code
		return true
	}
	return false
}

// Category groups error codes into the failure classes clients act on.
type Category uint8

const (
	CategoryUnknown Category = iota
	CategoryMalformedInstruction
	CategoryMalformedAccount
	CategoryAddressMismatch
	CategoryUnauthorized
	CategoryInvalidTemporal
	CategoryInvalidAmount
	CategoryAlreadyExists
	CategoryNotFound
	CategoryInsufficientFunds
)

var categoryNames = map[Category]string{
	CategoryUnknown:              "Unknown",
	CategoryMalformedInstruction: "MalformedInstruction",
	CategoryMalformedAccount:     "MalformedAccount",
	CategoryAddressMismatch:      "AddressMismatch",
	CategoryUnauthorized:         "Unauthorized",
	CategoryInvalidTemporal:      "InvalidTemporal",
	CategoryInvalidAmount:        "InvalidAmount",
	CategoryAlreadyExists:        "AlreadyExists",
	CategoryNotFound:             "NotFound",
	CategoryInsufficientFunds:    "InsufficientFunds",
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Category(%d)", uint8(c))
}

// Category returns the failure class of e.
func (e Error) Category() Category {
	switch e {
	case ErrUnauthorized:
		return CategoryUnauthorized
	case ErrInvalidTimestamp, ErrUnlockTooEarly, ErrLockDurationExceeded:
		return CategoryInvalidTemporal
	case ErrInsufficientFunds:
		return CategoryInsufficientFunds
	case ErrInconsistentState, ErrInvalidAccountData:
		return CategoryMalformedAccount
	case ErrInvalidAmount:
		return CategoryInvalidAmount
	case ErrInvalidInstruction:
		return CategoryMalformedInstruction
	case ErrUninitializedAccount:
		return CategoryNotFound
	case ErrAlreadyInitialized:
		return CategoryAlreadyExists
	case ErrInvalidPDA, ErrInvalidMint, ErrIncorrectProgramID:
		return CategoryAddressMismatch
	default:
		return CategoryUnknown
	}
}

// CategoryOf classifies an error returned from a transaction touching the
// program, including failures raised by the token program underneath it.
func CategoryOf(err error) Category {
	var lerr Error
	if errors.As(err, &lerr) {
		return lerr.Category()
	}

	var terr token.Error
	if errors.As(err, &terr) {
		switch terr {
		case token.ErrorInsufficientFunds:
			return CategoryInsufficientFunds
		case token.ErrorOwnerMismatch, token.ErrorMissingRequiredSignature:
			return CategoryUnauthorized
		case token.ErrorMintMismatch, token.ErrorInvalidMint, token.ErrorIncorrectProgramID:
			return CategoryAddressMismatch
		case token.ErrorAlreadyInUse:
			return CategoryAlreadyExists
		case token.ErrorUninitializedState:
			return CategoryNotFound
		case token.ErrorInvalidInstruction:
			return CategoryMalformedInstruction
		default:
			return CategoryMalformedAccount
		}
	}
	return CategoryUnknown
}
