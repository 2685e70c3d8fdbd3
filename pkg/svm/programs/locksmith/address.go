package locksmith

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/fortiblox/locksmith/internal/types"
	"github.com/fortiblox/locksmith/pkg/svm/pda"
)

// Seed lists without the bump. Handlers derive with these and sign CPIs
// with the same list plus the bump returned by the derivation.

func configSeeds() [][]byte {
	return [][]byte{ConfigSeed}
}

func feeVaultSeeds() [][]byte {
	return [][]byte{FeeVaultSeed}
}

func lockSeeds(owner, mint types.Pubkey, lockID uint64) [][]byte {
	return [][]byte{LockSeed, owner.Bytes(), mint.Bytes(), lockIDBytes(lockID)}
}

func lockTokenSeeds(lock types.Pubkey) [][]byte {
	return [][]byte{LockTokenSeed, lock.Bytes()}
}

func lockIDBytes(lockID uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, lockID)
	return b
}

func withBump(seeds [][]byte, bump uint8) [][]byte {
	out := make([][]byte, len(seeds), len(seeds)+1)
	copy(out, seeds)
	return append(out, []byte{bump})
}

// ConfigSignerSeeds returns the full signer seed list for the config account.
func ConfigSignerSeeds(bump uint8) [][]byte {
	return withBump(configSeeds(), bump)
}

// FeeVaultSignerSeeds returns the full signer seed list for the fee vault.
func FeeVaultSignerSeeds(bump uint8) [][]byte {
	return withBump(feeVaultSeeds(), bump)
}

// LockSignerSeeds returns the full signer seed list for a lock account.
func LockSignerSeeds(owner, mint types.Pubkey, lockID uint64, bump uint8) [][]byte {
	return withBump(lockSeeds(owner, mint, lockID), bump)
}

// LockTokenSignerSeeds returns the full signer seed list for a lock's escrow.
func LockTokenSignerSeeds(lock types.Pubkey, bump uint8) [][]byte {
	return withBump(lockTokenSeeds(lock), bump)
}

func derive(seeds [][]byte) (types.Pubkey, uint8, error) {
	addr, bump, err := pda.FindProgramAddress(seeds, ProgramID)
	if err != nil {
		return types.Pubkey{}, 0, errors.Wrap(err, "derive locksmith address")
	}
	return addr, bump, nil
}

// ConfigAddress returns the address of the program config.
func ConfigAddress() (types.Pubkey, uint8, error) {
	return derive(configSeeds())
}

// FeeVaultAddress returns the address of the USDC fee vault.
func FeeVaultAddress() (types.Pubkey, uint8, error) {
	return derive(feeVaultSeeds())
}

// LockAddress returns the address of the lock identified by owner, mint and
// lockID.
func LockAddress(owner, mint types.Pubkey, lockID uint64) (types.Pubkey, uint8, error) {
	return derive(lockSeeds(owner, mint, lockID))
}

// LockTokenAddress returns the address of the escrow token account of lock.
func LockTokenAddress(lock types.Pubkey) (types.Pubkey, uint8, error) {
	return derive(lockTokenSeeds(lock))
}
