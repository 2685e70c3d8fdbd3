// Package locksmith implements the Locksmith time-lock program.
//
// A holder deposits tokens into an escrow token account controlled by a
// program derived lock account. The escrow can only be drained back to the
// holder once the ledger clock reaches the lock's unlock timestamp. Each lock
// costs a flat fee in USDC, paid into a program owned fee vault that a single
// admin key can withdraw from.
//
// The program keeps no pointers between records. A lock's escrow, the fee
// vault and the config are all found by re-deriving their addresses from
// seeds, and every handler rejects an account that does not match its
// derivation.
package locksmith

import (
	"github.com/fortiblox/locksmith/internal/types"
)

// ProgramID is the Locksmith program address.
var ProgramID = types.MustPubkeyFromBase58("5fPbdosJd9P1gth7r9kmqc7gkgQzM2PfQHkXtQXcQyty")

// FeeMint is the only asset fees are accepted in.
var FeeMint = types.USDCMintAddr

const (
	// FeeUSDC is charged per lock, in USDC base units (0.15 USDC).
	FeeUSDC uint64 = 150_000

	// MaxLockDurationSeconds caps unlockTimestamp - createdAt at ten years.
	MaxLockDurationSeconds int64 = 315_360_000
)

// PDA seed prefixes.
var (
	ConfigSeed    = []byte("config")
	FeeVaultSeed  = []byte("fee_vault")
	LockSeed      = []byte("lock")
	LockTokenSeed = []byte("lock_token")
)

// CUProgramDefault is the base compute charged per locksmith instruction.
const CUProgramDefault = 5_000
