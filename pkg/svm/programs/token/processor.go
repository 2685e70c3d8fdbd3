package token

import (
	"encoding/binary"

	"github.com/fortiblox/locksmith/internal/types"
	"github.com/fortiblox/locksmith/pkg/svm"
)

// Processor executes token program instructions.
type Processor struct{}

// NewProcessor creates a new token program processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// Process executes a token instruction.
func (p *Processor) Process(ctx svm.InvokeContext, data []byte) error {
	if len(data) == 0 {
		return ErrorInvalidInstruction
	}

	switch Command(data[0]) {
	case CommandInitializeMint2:
		return p.processInitializeMint2(ctx, data[1:])
	case CommandInitializeAccount3:
		return p.processInitializeAccount3(ctx, data[1:])
	case CommandTransfer:
		return p.processTransfer(ctx, data[1:])
	case CommandMintTo:
		return p.processMintTo(ctx, data[1:])
	case CommandCloseAccount:
		return p.processCloseAccount(ctx, data[1:])
	default:
		return ErrorInvalidInstruction
	}
}

// InstructionName names a token instruction for logs and the journal.
func (p *Processor) InstructionName(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	return Command(data[0]).String()
}

// owned returns the account at index after checking the token program
// owns it.
func owned(ctx svm.InvokeContext, index int) (*svm.AccountInfo, error) {
	info, err := ctx.GetAccount(index)
	if err != nil {
		return nil, err
	}
	if info.Owner != ProgramID {
		return nil, ErrorIncorrectProgramID
	}
	return info, nil
}

func decodeAmount(data []byte) (uint64, error) {
	if len(data) != 8 {
		return 0, ErrorInvalidInstruction
	}
	return binary.LittleEndian.Uint64(data), nil
}

func (p *Processor) processInitializeMint2(ctx svm.InvokeContext, data []byte) error {
	// decimals (1) + mint authority (32) + COption<Pubkey> freeze authority (1 or 33)
	if len(data) != 1+32+1 && len(data) != 1+32+1+32 {
		return ErrorInvalidInstruction
	}

	mintInfo, err := owned(ctx, 0)
	if err != nil {
		return err
	}

	var mint Mint
	if !mint.Unmarshal(mintInfo.Data) {
		return ErrorInvalidAccountData
	}
	if mint.IsInitialized {
		return ErrorAlreadyInUse
	}
	if mintInfo.Lamports < ctx.GetRentMinimum(uint64(len(mintInfo.Data))) {
		return ErrorNotRentExempt
	}

	var authority types.Pubkey
	copy(authority[:], data[1:33])
	mint.MintAuthority = &authority
	mint.Decimals = data[0]
	mint.IsInitialized = true
	switch data[33] {
	case 0:
		if len(data) != 34 {
			return ErrorInvalidInstruction
		}
	case 1:
		if len(data) != 66 {
			return ErrorInvalidInstruction
		}
		var freeze types.Pubkey
		copy(freeze[:], data[34:66])
		mint.FreezeAuthority = &freeze
	default:
		return ErrorInvalidInstruction
	}

	copy(mintInfo.Data, mint.Marshal())
	ctx.Log("Instruction: InitializeMint2")
	return nil
}

func (p *Processor) processInitializeAccount3(ctx svm.InvokeContext, data []byte) error {
	if len(data) != 32 {
		return ErrorInvalidInstruction
	}
	var owner types.Pubkey
	copy(owner[:], data)

	accountInfo, err := owned(ctx, 0)
	if err != nil {
		return err
	}
	mintInfo, err := ctx.GetAccount(1)
	if err != nil {
		return err
	}

	var account Account
	if !account.Unmarshal(accountInfo.Data) {
		return ErrorInvalidAccountData
	}
	if account.IsInitialized() {
		return ErrorAlreadyInUse
	}
	if accountInfo.Lamports < ctx.GetRentMinimum(uint64(len(accountInfo.Data))) {
		return ErrorNotRentExempt
	}

	if mintInfo.Owner != ProgramID {
		return ErrorInvalidMint
	}
	if _, err := UnpackMint(mintInfo.Data); err != nil {
		return ErrorInvalidMint
	}

	account = Account{
		Mint:  mintInfo.Key,
		Owner: owner,
		State: AccountStateInitialized,
	}
	copy(accountInfo.Data, account.Marshal())
	ctx.Log("Instruction: InitializeAccount3")
	return nil
}

func (p *Processor) processTransfer(ctx svm.InvokeContext, data []byte) error {
	amount, err := decodeAmount(data)
	if err != nil {
		return err
	}

	sourceInfo, err := owned(ctx, 0)
	if err != nil {
		return err
	}
	destInfo, err := owned(ctx, 1)
	if err != nil {
		return err
	}
	authority, err := ctx.GetAccount(2)
	if err != nil {
		return err
	}

	source, err := UnpackAccount(sourceInfo.Data)
	if err != nil {
		return err
	}
	dest, err := UnpackAccount(destInfo.Data)
	if err != nil {
		return err
	}

	if source.State == AccountStateFrozen || dest.State == AccountStateFrozen {
		return ErrorAccountFrozen
	}
	if source.Mint != dest.Mint {
		return ErrorMintMismatch
	}
	if source.Amount < amount {
		return ErrorInsufficientFunds
	}
	if authority.Key != source.Owner {
		return ErrorOwnerMismatch
	}
	if !authority.IsSigner {
		return ErrorMissingRequiredSignature
	}

	if sourceInfo.Key == destInfo.Key {
		ctx.Log("Instruction: Transfer")
		return nil
	}
	if dest.Amount > ^uint64(0)-amount {
		return ErrorOverflow
	}

	source.Amount -= amount
	dest.Amount += amount
	copy(sourceInfo.Data, source.Marshal())
	copy(destInfo.Data, dest.Marshal())

	ctx.Log("Instruction: Transfer")
	return nil
}

func (p *Processor) processMintTo(ctx svm.InvokeContext, data []byte) error {
	amount, err := decodeAmount(data)
	if err != nil {
		return err
	}

	mintInfo, err := owned(ctx, 0)
	if err != nil {
		return err
	}
	destInfo, err := owned(ctx, 1)
	if err != nil {
		return err
	}
	authority, err := ctx.GetAccount(2)
	if err != nil {
		return err
	}

	mint, err := UnpackMint(mintInfo.Data)
	if err != nil {
		return err
	}
	dest, err := UnpackAccount(destInfo.Data)
	if err != nil {
		return err
	}

	if dest.State == AccountStateFrozen {
		return ErrorAccountFrozen
	}
	if dest.Mint != mintInfo.Key {
		return ErrorMintMismatch
	}
	if mint.MintAuthority == nil {
		return ErrorFixedSupply
	}
	if authority.Key != *mint.MintAuthority {
		return ErrorOwnerMismatch
	}
	if !authority.IsSigner {
		return ErrorMissingRequiredSignature
	}
	if mint.Supply > ^uint64(0)-amount {
		return ErrorOverflow
	}

	mint.Supply += amount
	dest.Amount += amount
	copy(mintInfo.Data, mint.Marshal())
	copy(destInfo.Data, dest.Marshal())

	ctx.Log("Instruction: MintTo")
	return nil
}

func (p *Processor) processCloseAccount(ctx svm.InvokeContext, data []byte) error {
	if len(data) != 0 {
		return ErrorInvalidInstruction
	}

	accountInfo, err := owned(ctx, 0)
	if err != nil {
		return err
	}
	destInfo, err := ctx.GetAccount(1)
	if err != nil {
		return err
	}
	authority, err := ctx.GetAccount(2)
	if err != nil {
		return err
	}

	if accountInfo.Key == destInfo.Key {
		return ErrorInvalidAccountData
	}

	account, err := UnpackAccount(accountInfo.Data)
	if err != nil {
		return err
	}
	if account.Amount != 0 {
		return ErrorNonNativeHasBalance
	}

	closer := account.Owner
	if account.CloseAuthority != nil {
		closer = *account.CloseAuthority
	}
	if authority.Key != closer {
		return ErrorOwnerMismatch
	}
	if !authority.IsSigner {
		return ErrorMissingRequiredSignature
	}
	if destInfo.Lamports > ^uint64(0)-accountInfo.Lamports {
		return ErrorOverflow
	}

	destInfo.Lamports += accountInfo.Lamports
	accountInfo.Lamports = 0
	accountInfo.Data = nil
	accountInfo.Owner = types.SystemProgramAddr

	ctx.Log("Instruction: CloseAccount")
	return nil
}

var _ svm.Program = (*Processor)(nil)
