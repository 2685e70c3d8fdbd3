// Package system implements the System Program, the ledger's account
// allocator.
//
// The System Program is responsible for:
//   - Creating new accounts
//   - Transferring lamports
//   - Assigning account ownership
//   - Allocating account space
//
// Other programs reach it through CPI; a program derived address can be
// created here when its owning program signs with the address's seeds.
package system

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/fortiblox/locksmith/internal/types"
	"github.com/fortiblox/locksmith/pkg/accounts"
	"github.com/fortiblox/locksmith/pkg/svm"
)

// ProgramID is the System Program address (all zeros).
var ProgramID = types.SystemProgramAddr

// Instruction discriminants.
const (
	InstructionCreateAccount uint32 = iota
	InstructionAssign
	InstructionTransfer
	_ // CreateAccountWithSeed
	_ // AdvanceNonceAccount
	_ // WithdrawNonceAccount
	_ // InitializeNonceAccount
	_ // AuthorizeNonceAccount
	InstructionAllocate
)

// Error types.
var (
	ErrInvalidInstructionData   = errors.New("invalid instruction data")
	ErrInsufficientFunds        = errors.New("insufficient funds")
	ErrAccountAlreadyInUse      = errors.New("account already in use")
	ErrInvalidAccountOwner      = errors.New("invalid account owner")
	ErrAccountNotRentExempt     = errors.New("account not rent exempt")
	ErrMissingRequiredSignature = errors.New("missing required signature")
	ErrAccountDataTooSmall      = errors.New("account data too small")
	ErrAccountDataTooLarge      = errors.New("account data too large")
	ErrAccountNotWritable       = errors.New("account not writable")
	ErrLamportOverflow          = errors.New("lamport overflow")
)

// Processor executes System Program instructions.
type Processor struct{}

// NewProcessor creates a new System Program processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// Process executes a System Program instruction.
func (p *Processor) Process(ctx svm.InvokeContext, data []byte) error {
	if len(data) < 4 {
		return ErrInvalidInstructionData
	}

	switch binary.LittleEndian.Uint32(data[:4]) {
	case InstructionCreateAccount:
		return p.processCreateAccount(ctx, data[4:])
	case InstructionAssign:
		return p.processAssign(ctx, data[4:])
	case InstructionTransfer:
		return p.processTransfer(ctx, data[4:])
	case InstructionAllocate:
		return p.processAllocate(ctx, data[4:])
	default:
		return ErrInvalidInstructionData
	}
}

// InstructionName names a System Program instruction.
func (p *Processor) InstructionName(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	switch binary.LittleEndian.Uint32(data[:4]) {
	case InstructionCreateAccount:
		return "CreateAccount"
	case InstructionAssign:
		return "Assign"
	case InstructionTransfer:
		return "Transfer"
	case InstructionAllocate:
		return "Allocate"
	default:
		return ""
	}
}

// processCreateAccount creates a new account.
//
// Accounts: [0] funder (writable, signer), [1] new account (writable, signer)
func (p *Processor) processCreateAccount(ctx svm.InvokeContext, data []byte) error {
	// lamports (8) + space (8) + owner (32)
	if len(data) != 48 {
		return ErrInvalidInstructionData
	}
	lamports := binary.LittleEndian.Uint64(data[0:8])
	space := binary.LittleEndian.Uint64(data[8:16])
	var owner types.Pubkey
	copy(owner[:], data[16:48])

	if space > accounts.MaxAccountDataSize {
		return ErrAccountDataTooLarge
	}

	funder, err := ctx.GetAccount(0)
	if err != nil {
		return err
	}
	newAccount, err := ctx.GetAccount(1)
	if err != nil {
		return err
	}

	if !funder.IsSigner || !newAccount.IsSigner {
		return ErrMissingRequiredSignature
	}
	if !funder.IsWritable || !newAccount.IsWritable {
		return ErrAccountNotWritable
	}

	// The new account must be unused: system owned, empty, unfunded.
	if newAccount.Owner != ProgramID || len(newAccount.Data) > 0 || newAccount.Lamports > 0 {
		return errors.Wrapf(ErrAccountAlreadyInUse, "%s", newAccount.Key)
	}
	if funder.Lamports < lamports {
		return ErrInsufficientFunds
	}
	if lamports < ctx.GetRentMinimum(space) {
		return ErrAccountNotRentExempt
	}

	funder.Lamports -= lamports
	newAccount.Lamports = lamports
	newAccount.Data = make([]byte, space)
	newAccount.Owner = owner

	ctx.Log("CreateAccount: success")
	return nil
}

// processAssign changes the owner of an account.
func (p *Processor) processAssign(ctx svm.InvokeContext, data []byte) error {
	if len(data) != 32 {
		return ErrInvalidInstructionData
	}
	var newOwner types.Pubkey
	copy(newOwner[:], data)

	account, err := ctx.GetAccount(0)
	if err != nil {
		return err
	}
	if !account.IsSigner {
		return ErrMissingRequiredSignature
	}
	if account.Owner != ProgramID {
		return ErrInvalidAccountOwner
	}

	account.Owner = newOwner

	ctx.Log("Assign: success")
	return nil
}

// processTransfer transfers lamports between accounts.
func (p *Processor) processTransfer(ctx svm.InvokeContext, data []byte) error {
	if len(data) != 8 {
		return ErrInvalidInstructionData
	}
	lamports := binary.LittleEndian.Uint64(data)

	from, err := ctx.GetAccount(0)
	if err != nil {
		return err
	}
	to, err := ctx.GetAccount(1)
	if err != nil {
		return err
	}

	if !from.IsSigner {
		return ErrMissingRequiredSignature
	}
	if !from.IsWritable || !to.IsWritable {
		return ErrAccountNotWritable
	}
	// Only plain wallets can be debited by the System Program.
	if from.Owner != ProgramID || len(from.Data) > 0 {
		return ErrInvalidAccountOwner
	}
	if from.Lamports < lamports {
		return ErrInsufficientFunds
	}
	if from.Key == to.Key {
		ctx.Log("Transfer: success")
		return nil
	}
	if to.Lamports > ^uint64(0)-lamports {
		return ErrLamportOverflow
	}

	from.Lamports -= lamports
	to.Lamports += lamports

	ctx.Log("Transfer: success")
	return nil
}

// processAllocate allocates space in an account.
func (p *Processor) processAllocate(ctx svm.InvokeContext, data []byte) error {
	if len(data) != 8 {
		return ErrInvalidInstructionData
	}
	space := binary.LittleEndian.Uint64(data)
	if space > accounts.MaxAccountDataSize {
		return ErrAccountDataTooLarge
	}

	account, err := ctx.GetAccount(0)
	if err != nil {
		return err
	}
	if !account.IsSigner {
		return ErrMissingRequiredSignature
	}
	if account.Owner != ProgramID {
		return ErrInvalidAccountOwner
	}
	if len(account.Data) > 0 {
		return ErrAccountAlreadyInUse
	}

	account.Data = make([]byte, space)

	ctx.Log("Allocate: success")
	return nil
}

// CreateAccount builds a CreateAccount instruction.
//
// Accounts:
//  0. [WRITE, SIGNER] Funding account
//  1. [WRITE, SIGNER] New account
func CreateAccount(funder, address, owner types.Pubkey, lamports, space uint64) svm.Instruction {
	data := make([]byte, 4+8+8+32)
	binary.LittleEndian.PutUint32(data, InstructionCreateAccount)
	binary.LittleEndian.PutUint64(data[4:], lamports)
	binary.LittleEndian.PutUint64(data[12:], space)
	copy(data[20:], owner[:])

	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts: []svm.AccountMeta{
			svm.NewAccountMeta(funder, true),
			svm.NewAccountMeta(address, true),
		},
		Data: data,
	}
}

// Assign builds an Assign instruction.
func Assign(account, owner types.Pubkey) svm.Instruction {
	data := make([]byte, 4+32)
	binary.LittleEndian.PutUint32(data, InstructionAssign)
	copy(data[4:], owner[:])

	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts:  []svm.AccountMeta{svm.NewAccountMeta(account, true)},
		Data:      data,
	}
}

// Transfer builds a lamport Transfer instruction.
func Transfer(from, to types.Pubkey, lamports uint64) svm.Instruction {
	data := make([]byte, 4+8)
	binary.LittleEndian.PutUint32(data, InstructionTransfer)
	binary.LittleEndian.PutUint64(data[4:], lamports)

	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts: []svm.AccountMeta{
			svm.NewAccountMeta(from, true),
			svm.NewAccountMeta(to, false),
		},
		Data: data,
	}
}

// Allocate builds an Allocate instruction.
func Allocate(account types.Pubkey, space uint64) svm.Instruction {
	data := make([]byte, 4+8)
	binary.LittleEndian.PutUint32(data, InstructionAllocate)
	binary.LittleEndian.PutUint64(data[4:], space)

	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts:  []svm.AccountMeta{svm.NewAccountMeta(account, true)},
		Data:      data,
	}
}
