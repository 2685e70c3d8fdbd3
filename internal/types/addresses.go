package types

import "fmt"

// Native program addresses. These are the same across Solana mainnet and X1.
var (
	// SystemProgramAddr is the System Program address.
	SystemProgramAddr = MustPubkeyFromBase58("11111111111111111111111111111111")

	// TokenProgramAddr is the SPL Token program address.
	TokenProgramAddr = MustPubkeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

	// NativeLoaderAddr owns every native program account.
	NativeLoaderAddr = MustPubkeyFromBase58("NativeLoader1111111111111111111111111111111")
)

// Sysvar addresses.
var (
	// SysvarClockAddr is the Clock sysvar address.
	SysvarClockAddr = MustPubkeyFromBase58("SysvarC1ock11111111111111111111111111111111")

	// SysvarRentAddr is the Rent sysvar address.
	SysvarRentAddr = MustPubkeyFromBase58("SysvarRent111111111111111111111111111111111")
)

// USDCMintAddr is the mainnet USDC mint. Locksmith fees are paid in it.
var USDCMintAddr = MustPubkeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")

// MustPubkeyFromBase58 parses a base58 pubkey or panics.
// Only use for compile-time constants.
func MustPubkeyFromBase58(s string) Pubkey {
	p, err := PubkeyFromBase58(s)
	if err != nil {
		panic(fmt.Sprintf("invalid pubkey constant %q: %v", s, err))
	}
	return p
}

// IsNativeProgram returns true if the pubkey is a native program hosted by
// the runtime without a loaded account.
func IsNativeProgram(p Pubkey) bool {
	switch p {
	case SystemProgramAddr, TokenProgramAddr:
		return true
	default:
		return false
	}
}

// IsSysvar returns true if the pubkey is a sysvar.
func IsSysvar(p Pubkey) bool {
	switch p {
	case SysvarClockAddr, SysvarRentAddr:
		return true
	default:
		return false
	}
}
