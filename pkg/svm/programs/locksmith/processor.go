package locksmith

import (
	"github.com/pkg/errors"

	"github.com/fortiblox/locksmith/internal/types"
	"github.com/fortiblox/locksmith/pkg/svm"
	"github.com/fortiblox/locksmith/pkg/svm/programs/system"
	"github.com/fortiblox/locksmith/pkg/svm/programs/token"
)

// Processor executes Locksmith instructions.
type Processor struct{}

// NewProcessor creates a new Locksmith processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// Process decodes data and dispatches it to its handler.
func (p *Processor) Process(ctx svm.InvokeContext, data []byte) error {
	ix, err := DecodeInstruction(data)
	if err != nil {
		return codecFailure(ErrInvalidInstruction, err)
	}

	switch ix := ix.(type) {
	case InitializeConfig:
		ctx.Log("Instruction: InitializeConfig")
		return p.initializeConfig(ctx)
	case TransferAdmin:
		ctx.Log("Instruction: TransferAdmin")
		return p.transferAdmin(ctx)
	case WithdrawFees:
		ctx.Log("Instruction: WithdrawFees")
		return p.withdrawFees(ctx)
	case InitializeLock:
		ctx.Log("Instruction: InitializeLock")
		return p.initializeLock(ctx, ix)
	case Unlock:
		ctx.Log("Instruction: Unlock")
		return p.unlock(ctx, ix)
	default:
		return ErrInvalidInstruction
	}
}

// InstructionName names a locksmith instruction, or "" when data does not
// decode.
func (p *Processor) InstructionName(data []byte) string {
	ix, err := DecodeInstruction(data)
	if err != nil {
		return ""
	}
	return ix.Tag().String()
}

// instructionAccounts returns the first n accounts of the instruction.
func instructionAccounts(ctx svm.InvokeContext, n int) ([]*svm.AccountInfo, error) {
	if ctx.NumAccounts() < n {
		return nil, errors.Wrapf(svm.ErrNotEnoughAccountKeys, "want %d accounts, got %d", n, ctx.NumAccounts())
	}

	infos := make([]*svm.AccountInfo, n)
	for i := range infos {
		info, err := ctx.GetAccount(i)
		if err != nil {
			return nil, err
		}
		infos[i] = info
	}
	return infos, nil
}

// exists reports whether an account has been allocated.
func exists(info *svm.AccountInfo) bool {
	return info.Lamports > 0 || len(info.Data) > 0
}

// expectAddress derives seeds under the executing program and checks info
// sits at the result.
func expectAddress(ctx svm.InvokeContext, info *svm.AccountInfo, seeds [][]byte) (uint8, error) {
	addr, bump, err := ctx.FindProgramAddress(seeds)
	if err != nil {
		return 0, err
	}
	if info.Key != addr {
		return 0, errors.Wrapf(ErrInvalidPDA, "%s, expected %s", info.Key, addr)
	}
	return bump, nil
}

func expectProgram(info *svm.AccountInfo, id types.Pubkey) error {
	if info.Key != id {
		return errors.Wrapf(ErrIncorrectProgramID, "%s, expected %s", info.Key, id)
	}
	return nil
}

// expectLedgerPrograms checks the token and system program accounts that
// trail InitializeConfig and InitializeLock.
func expectLedgerPrograms(tokenProgram, systemProgram *svm.AccountInfo) error {
	if err := expectProgram(tokenProgram, token.ProgramID); err != nil {
		return err
	}
	return expectProgram(systemProgram, system.ProgramID)
}

// loadOwned decodes a program owned record into v.
func loadOwned(ctx svm.InvokeContext, info *svm.AccountInfo, v interface{ Unmarshal([]byte) error }) error {
	if !exists(info) {
		return errors.Wrapf(ErrUninitializedAccount, "%s", info.Key)
	}
	if info.Owner != ctx.ProgramID() {
		return errors.Wrapf(ErrIncorrectProgramID, "%s owned by %s", info.Key, info.Owner)
	}
	if err := v.Unmarshal(info.Data); err != nil {
		return codecFailure(ErrInvalidAccountData, err)
	}
	return nil
}

// loadTokenAccount decodes an initialized token account.
func loadTokenAccount(info *svm.AccountInfo) (*token.Account, error) {
	if info.Owner != token.ProgramID {
		return nil, errors.Wrapf(ErrInvalidAccountData, "%s is not a token account", info.Key)
	}
	acc, err := token.UnpackAccount(info.Data)
	if err != nil {
		return nil, codecFailure(ErrInvalidAccountData, err)
	}
	return acc, nil
}

// createPDA allocates a rent-exempt account at a program derived address,
// paid by payer and owned by owner.
func createPDA(ctx svm.InvokeContext, payer, account *svm.AccountInfo, owner types.Pubkey, space uint64, signerSeeds [][]byte) error {
	ix := system.CreateAccount(payer.Key, account.Key, owner, ctx.GetRentMinimum(space), space)
	return ctx.Invoke(ix, signerSeeds)
}

var _ svm.Program = (*Processor)(nil)
