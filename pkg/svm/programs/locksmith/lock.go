package locksmith

import (
	"fmt"
	"math"

	"github.com/pkg/errors"

	"github.com/fortiblox/locksmith/internal/types"
	"github.com/fortiblox/locksmith/pkg/svm"
	"github.com/fortiblox/locksmith/pkg/svm/programs/token"
)

// checkLockWindow validates unlockTimestamp against ledger time now.
func checkLockWindow(now, unlockTimestamp int64) error {
	if unlockTimestamp <= now {
		return errors.Wrapf(ErrInvalidTimestamp, "unlock at %d, now %d", unlockTimestamp, now)
	}
	// unlockTimestamp > now, so the unsigned difference is exact.
	if uint64(unlockTimestamp)-uint64(now) > uint64(MaxLockDurationSeconds) {
		return errors.Wrapf(ErrLockDurationExceeded, "unlock at %d, now %d", unlockTimestamp, now)
	}
	return nil
}

// checkFunding validates a token account the owner pays from.
func checkFunding(info *svm.AccountInfo, owner, mint types.Pubkey, amount uint64) error {
	acc, err := loadTokenAccount(info)
	if err != nil {
		return err
	}
	if acc.Owner != owner {
		return errors.Wrapf(ErrUnauthorized, "%s is not owned by %s", info.Key, owner)
	}
	if acc.Mint != mint {
		return errors.Wrapf(ErrInvalidMint, "%s holds %s, expected %s", info.Key, acc.Mint, mint)
	}
	if acc.Amount < amount {
		return errors.Wrapf(ErrInsufficientFunds, "%s holds %d, need %d", info.Key, acc.Amount, amount)
	}
	return nil
}

func (p *Processor) initializeLock(ctx svm.InvokeContext, ix InitializeLock) error {
	infos, err := instructionAccounts(ctx, 9)
	if err != nil {
		return err
	}
	owner, ownerAsset, ownerFeeAsset, mint := infos[0], infos[1], infos[2], infos[3]
	lock, escrow, feeVault := infos[4], infos[5], infos[6]
	tokenProgram, systemProgram := infos[7], infos[8]

	if !owner.IsSigner {
		return errors.Wrap(ErrUnauthorized, "owner must sign")
	}
	if ix.Amount == 0 {
		return ErrInvalidAmount
	}
	now := ctx.UnixTimestamp()
	if err := checkLockWindow(now, ix.UnlockTimestamp); err != nil {
		return err
	}
	if err := expectLedgerPrograms(tokenProgram, systemProgram); err != nil {
		return err
	}

	lockBump, err := expectAddress(ctx, lock, lockSeeds(owner.Key, mint.Key, ix.LockID))
	if err != nil {
		return err
	}
	escrowBump, err := expectAddress(ctx, escrow, lockTokenSeeds(lock.Key))
	if err != nil {
		return err
	}
	if _, err := expectAddress(ctx, feeVault, feeVaultSeeds()); err != nil {
		return err
	}
	if exists(lock) || exists(escrow) {
		return errors.Wrapf(ErrAlreadyInitialized, "lock %d", ix.LockID)
	}

	if err := checkFunding(ownerAsset, owner.Key, mint.Key, ix.Amount); err != nil {
		return err
	}
	// One USDC account may fund both the lock and the fee.
	if ownerAsset.Key == ownerFeeAsset.Key && mint.Key == FeeMint {
		if ix.Amount > math.MaxUint64-FeeUSDC {
			return errors.Wrapf(ErrInsufficientFunds, "amount %d plus fee overflows", ix.Amount)
		}
		if err := checkFunding(ownerAsset, owner.Key, FeeMint, ix.Amount+FeeUSDC); err != nil {
			return err
		}
	}
	if err := checkFunding(ownerFeeAsset, owner.Key, FeeMint, FeeUSDC); err != nil {
		return err
	}

	if err := createPDA(ctx, owner, lock, ctx.ProgramID(), LockSize, LockSignerSeeds(owner.Key, mint.Key, ix.LockID, lockBump)); err != nil {
		return err
	}
	record := Lock{
		Owner:           owner.Key,
		Mint:            mint.Key,
		Amount:          ix.Amount,
		UnlockTimestamp: ix.UnlockTimestamp,
		CreatedAt:       now,
		LockID:          ix.LockID,
		Bump:            lockBump,
	}
	copy(lock.Data, record.Marshal())

	if err := createPDA(ctx, owner, escrow, token.ProgramID, token.AccountSize, LockTokenSignerSeeds(lock.Key, escrowBump)); err != nil {
		return err
	}
	// The lock account is the escrow's token authority.
	if err := ctx.Invoke(token.InitializeAccount3(escrow.Key, mint.Key, lock.Key)); err != nil {
		return err
	}
	if err := ctx.Invoke(token.Transfer(ownerAsset.Key, escrow.Key, owner.Key, ix.Amount)); err != nil {
		return err
	}
	if err := ctx.Invoke(token.Transfer(ownerFeeAsset.Key, feeVault.Key, owner.Key, FeeUSDC)); err != nil {
		return err
	}

	ctx.Log(fmt.Sprintf("Lock created: %d tokens locked until %d", ix.Amount, ix.UnlockTimestamp))
	return nil
}

func (p *Processor) unlock(ctx svm.InvokeContext, ix Unlock) error {
	infos, err := instructionAccounts(ctx, 5)
	if err != nil {
		return err
	}
	owner, ownerAsset, lock, escrow, tokenProgram := infos[0], infos[1], infos[2], infos[3], infos[4]

	if !owner.IsSigner {
		return errors.Wrap(ErrUnauthorized, "owner must sign")
	}
	if err := expectProgram(tokenProgram, token.ProgramID); err != nil {
		return err
	}

	var record Lock
	if err := loadOwned(ctx, lock, &record); err != nil {
		return err
	}
	// Ownership is settled before any timing is revealed.
	if record.Owner != owner.Key {
		return errors.Wrapf(ErrUnauthorized, "%s does not own lock %s", owner.Key, lock.Key)
	}

	seeds := lockSeeds(owner.Key, record.Mint, ix.LockID)
	if _, err := expectAddress(ctx, lock, seeds); err != nil {
		return err
	}
	if _, err := expectAddress(ctx, escrow, lockTokenSeeds(lock.Key)); err != nil {
		return err
	}

	now := ctx.UnixTimestamp()
	if !record.Unlockable(now) {
		return errors.Wrapf(ErrUnlockTooEarly, "unlocks at %d, now %d", record.UnlockTimestamp, now)
	}

	held, err := loadTokenAccount(escrow)
	if err != nil {
		return err
	}
	if held.Amount != record.Amount {
		return errors.Wrapf(ErrInconsistentState, "escrow holds %d, lock records %d", held.Amount, record.Amount)
	}

	signer := withBump(seeds, record.Bump)
	if err := ctx.Invoke(token.Transfer(escrow.Key, ownerAsset.Key, lock.Key, record.Amount), signer); err != nil {
		return err
	}
	if err := ctx.Invoke(token.CloseAccount(escrow.Key, owner.Key, lock.Key), signer); err != nil {
		return err
	}

	if owner.Lamports > ^uint64(0)-lock.Lamports {
		return errors.Wrap(ErrInconsistentState, "lamport overflow closing lock")
	}
	owner.Lamports += lock.Lamports
	lock.Lamports = 0
	lock.Data = nil
	lock.Owner = types.SystemProgramAddr

	ctx.Log(fmt.Sprintf("Unlocked %d tokens", record.Amount))
	return nil
}
