package locksmith

import (
	"github.com/pkg/errors"

	"github.com/fortiblox/locksmith/internal/layout"
	"github.com/fortiblox/locksmith/internal/types"
	"github.com/fortiblox/locksmith/pkg/svm"
	"github.com/fortiblox/locksmith/pkg/svm/programs/system"
	"github.com/fortiblox/locksmith/pkg/svm/programs/token"
)

// Tag is the leading byte of every instruction.
type Tag uint8

const (
	TagInitializeConfig Tag = iota
	TagTransferAdmin
	TagWithdrawFees
	TagInitializeLock
	TagUnlock
)

func (t Tag) String() string {
	switch t {
	case TagInitializeConfig:
		return "InitializeConfig"
	case TagTransferAdmin:
		return "TransferAdmin"
	case TagWithdrawFees:
		return "WithdrawFees"
	case TagInitializeLock:
		return "InitializeLock"
	case TagUnlock:
		return "Unlock"
	default:
		return "Unknown"
	}
}

// Encoded instruction sizes, tag included.
const (
	InitializeConfigSize = 1
	TransferAdminSize    = 1
	WithdrawFeesSize     = 1
	InitializeLockSize   = 1 + 8 + 8 + 8
	UnlockSize           = 1 + 8
)

// Instruction is one of InitializeConfig, TransferAdmin, WithdrawFees,
// InitializeLock or Unlock.
type Instruction interface {
	Tag() Tag
	Marshal() []byte

	instruction()
}

type InitializeConfig struct{}

type TransferAdmin struct{}

type WithdrawFees struct{}

type InitializeLock struct {
	Amount          uint64
	UnlockTimestamp int64
	LockID          uint64
}

type Unlock struct {
	LockID uint64
}

func (InitializeConfig) Tag() Tag { return TagInitializeConfig }
func (TransferAdmin) Tag() Tag    { return TagTransferAdmin }
func (WithdrawFees) Tag() Tag     { return TagWithdrawFees }
func (InitializeLock) Tag() Tag   { return TagInitializeLock }
func (Unlock) Tag() Tag           { return TagUnlock }

func (InitializeConfig) instruction() {}
func (TransferAdmin) instruction()    {}
func (WithdrawFees) instruction()     {}
func (InitializeLock) instruction()   {}
func (Unlock) instruction()           {}

func (InitializeConfig) Marshal() []byte { return []byte{byte(TagInitializeConfig)} }
func (TransferAdmin) Marshal() []byte    { return []byte{byte(TagTransferAdmin)} }
func (WithdrawFees) Marshal() []byte     { return []byte{byte(TagWithdrawFees)} }

func (i InitializeLock) Marshal() []byte {
	b := make([]byte, InitializeLockSize)

	offset := 0
	layout.PutUint8(b, uint8(TagInitializeLock), &offset)
	layout.PutUint64(b, i.Amount, &offset)
	layout.PutInt64(b, i.UnlockTimestamp, &offset)
	layout.PutUint64(b, i.LockID, &offset)

	return b
}

func (i Unlock) Marshal() []byte {
	b := make([]byte, UnlockSize)

	offset := 0
	layout.PutUint8(b, uint8(TagUnlock), &offset)
	layout.PutUint64(b, i.LockID, &offset)

	return b
}

func checkHeader(b []byte, tag Tag, size int) error {
	if len(b) != size {
		return errors.Wrapf(ErrLengthMismatch, "%s: got %d bytes, want %d", tag, len(b), size)
	}
	if Tag(b[0]) != tag {
		return errors.Wrapf(ErrDiscriminatorMismatch, "%s: got tag %d", tag, b[0])
	}
	return nil
}

func (i *InitializeConfig) Unmarshal(b []byte) error {
	return checkHeader(b, TagInitializeConfig, InitializeConfigSize)
}

func (i *TransferAdmin) Unmarshal(b []byte) error {
	return checkHeader(b, TagTransferAdmin, TransferAdminSize)
}

func (i *WithdrawFees) Unmarshal(b []byte) error {
	return checkHeader(b, TagWithdrawFees, WithdrawFeesSize)
}

func (i *InitializeLock) Unmarshal(b []byte) error {
	if err := checkHeader(b, TagInitializeLock, InitializeLockSize); err != nil {
		return err
	}

	offset := 1
	layout.GetUint64(b, &i.Amount, &offset)
	layout.GetInt64(b, &i.UnlockTimestamp, &offset)
	layout.GetUint64(b, &i.LockID, &offset)

	return nil
}

func (i *Unlock) Unmarshal(b []byte) error {
	if err := checkHeader(b, TagUnlock, UnlockSize); err != nil {
		return err
	}

	offset := 1
	layout.GetUint64(b, &i.LockID, &offset)

	return nil
}

// DecodeInstruction decodes instruction data. Unknown tags and buffers of
// the wrong size are rejected.
func DecodeInstruction(data []byte) (Instruction, error) {
	if len(data) == 0 {
		return nil, errors.Wrap(ErrLengthMismatch, "empty instruction")
	}

	switch Tag(data[0]) {
	case TagInitializeConfig:
		var ix InitializeConfig
		if err := ix.Unmarshal(data); err != nil {
			return nil, err
		}
		return ix, nil
	case TagTransferAdmin:
		var ix TransferAdmin
		if err := ix.Unmarshal(data); err != nil {
			return nil, err
		}
		return ix, nil
	case TagWithdrawFees:
		var ix WithdrawFees
		if err := ix.Unmarshal(data); err != nil {
			return nil, err
		}
		return ix, nil
	case TagInitializeLock:
		var ix InitializeLock
		if err := ix.Unmarshal(data); err != nil {
			return nil, err
		}
		return ix, nil
	case TagUnlock:
		var ix Unlock
		if err := ix.Unmarshal(data); err != nil {
			return nil, err
		}
		return ix, nil
	default:
		return nil, errors.Wrapf(ErrDiscriminatorMismatch, "unknown instruction tag %d", data[0])
	}
}

// NewInitializeConfigInstruction builds InitializeConfig.
//
// Accounts:
//  0. [WRITE, SIGNER] Admin, pays for the config and fee vault.
//  1. [WRITE] Config PDA.
//  2. [] USDC mint.
//  3. [WRITE] Fee vault PDA.
//  4. [] Token program.
//  5. [] System program.
func NewInitializeConfigInstruction(admin types.Pubkey) (svm.Instruction, error) {
	config, _, err := ConfigAddress()
	if err != nil {
		return svm.Instruction{}, err
	}
	feeVault, _, err := FeeVaultAddress()
	if err != nil {
		return svm.Instruction{}, err
	}

	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts: []svm.AccountMeta{
			svm.NewAccountMeta(admin, true),
			svm.NewAccountMeta(config, false),
			svm.NewReadonlyAccountMeta(FeeMint, false),
			svm.NewAccountMeta(feeVault, false),
			svm.NewReadonlyAccountMeta(token.ProgramID, false),
			svm.NewReadonlyAccountMeta(system.ProgramID, false),
		},
		Data: InitializeConfig{}.Marshal(),
	}, nil
}

// NewTransferAdminInstruction builds TransferAdmin.
//
// Accounts:
//  0. [SIGNER] Current admin.
//  1. [] New admin.
//  2. [WRITE] Config PDA.
func NewTransferAdminInstruction(admin, newAdmin types.Pubkey) (svm.Instruction, error) {
	config, _, err := ConfigAddress()
	if err != nil {
		return svm.Instruction{}, err
	}

	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts: []svm.AccountMeta{
			svm.NewReadonlyAccountMeta(admin, true),
			svm.NewReadonlyAccountMeta(newAdmin, false),
			svm.NewAccountMeta(config, false),
		},
		Data: TransferAdmin{}.Marshal(),
	}, nil
}

// NewWithdrawFeesInstruction builds WithdrawFees, draining the fee vault
// into destination, a USDC token account.
//
// Accounts:
//  0. [SIGNER] Admin.
//  1. [] Config PDA.
//  2. [WRITE] Fee vault PDA.
//  3. [WRITE] Destination token account.
//  4. [] Token program.
func NewWithdrawFeesInstruction(admin, destination types.Pubkey) (svm.Instruction, error) {
	config, _, err := ConfigAddress()
	if err != nil {
		return svm.Instruction{}, err
	}
	feeVault, _, err := FeeVaultAddress()
	if err != nil {
		return svm.Instruction{}, err
	}

	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts: []svm.AccountMeta{
			svm.NewReadonlyAccountMeta(admin, true),
			svm.NewReadonlyAccountMeta(config, false),
			svm.NewAccountMeta(feeVault, false),
			svm.NewAccountMeta(destination, false),
			svm.NewReadonlyAccountMeta(token.ProgramID, false),
		},
		Data: WithdrawFees{}.Marshal(),
	}, nil
}

// NewInitializeLockInstruction builds InitializeLock.
//
// Accounts:
//  0. [WRITE, SIGNER] Owner, pays rent for the lock and escrow.
//  1. [WRITE] Owner's token account for mint.
//  2. [WRITE] Owner's USDC token account, pays the fee.
//  3. [] Mint being locked.
//  4. [WRITE] Lock PDA.
//  5. [WRITE] Escrow PDA.
//  6. [WRITE] Fee vault PDA.
//  7. [] Token program.
//  8. [] System program.
func NewInitializeLockInstruction(owner, ownerAsset, ownerFeeAsset, mint types.Pubkey, amount uint64, unlockTimestamp int64, lockID uint64) (svm.Instruction, error) {
	lock, _, err := LockAddress(owner, mint, lockID)
	if err != nil {
		return svm.Instruction{}, err
	}
	escrow, _, err := LockTokenAddress(lock)
	if err != nil {
		return svm.Instruction{}, err
	}
	feeVault, _, err := FeeVaultAddress()
	if err != nil {
		return svm.Instruction{}, err
	}

	ix := InitializeLock{Amount: amount, UnlockTimestamp: unlockTimestamp, LockID: lockID}
	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts: []svm.AccountMeta{
			svm.NewAccountMeta(owner, true),
			svm.NewAccountMeta(ownerAsset, false),
			svm.NewAccountMeta(ownerFeeAsset, false),
			svm.NewReadonlyAccountMeta(mint, false),
			svm.NewAccountMeta(lock, false),
			svm.NewAccountMeta(escrow, false),
			svm.NewAccountMeta(feeVault, false),
			svm.NewReadonlyAccountMeta(token.ProgramID, false),
			svm.NewReadonlyAccountMeta(system.ProgramID, false),
		},
		Data: ix.Marshal(),
	}, nil
}

// NewUnlockInstruction builds Unlock for the lock at (owner, mint, lockID).
//
// Accounts:
//  0. [WRITE, SIGNER] Owner, receives the rent of the closed accounts.
//  1. [WRITE] Owner's token account receiving the unlocked tokens.
//  2. [WRITE] Lock PDA.
//  3. [WRITE] Escrow PDA.
//  4. [] Token program.
func NewUnlockInstruction(owner, ownerAsset, mint types.Pubkey, lockID uint64) (svm.Instruction, error) {
	lock, _, err := LockAddress(owner, mint, lockID)
	if err != nil {
		return svm.Instruction{}, err
	}
	escrow, _, err := LockTokenAddress(lock)
	if err != nil {
		return svm.Instruction{}, err
	}

	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts: []svm.AccountMeta{
			svm.NewAccountMeta(owner, true),
			svm.NewAccountMeta(ownerAsset, false),
			svm.NewAccountMeta(lock, false),
			svm.NewAccountMeta(escrow, false),
			svm.NewReadonlyAccountMeta(token.ProgramID, false),
		},
		Data: Unlock{LockID: lockID}.Marshal(),
	}, nil
}
