// Package svm executes transactions against the account store.
//
// The runtime hosts native Go programs keyed by program id. For each
// transaction it:
//   - loads every referenced account into a copy-on-write working set
//   - runs each instruction through its program's Process method
//   - lets programs call each other (CPI), authenticating PDA signers from
//     the caller's seeds
//   - verifies after every program that it only touched what it may
//   - commits the working set through one accounts.DB.Apply, or nothing
//
// Signatures are not verified here. Account metas flagged IsSigner at the
// top level are taken as already authenticated by the host.
package svm

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/fortiblox/locksmith/internal/types"
	"github.com/fortiblox/locksmith/pkg/accounts"
)

var (
	// ErrEmptyTransaction is returned for a transaction with no instructions.
	ErrEmptyTransaction = errors.New("transaction has no instructions")

	// ErrUnknownProgram is returned when an instruction targets an
	// unregistered program id.
	ErrUnknownProgram = errors.New("unknown program")

	// ErrNotEnoughAccountKeys is returned by GetAccount for an index past
	// the instruction's account list.
	ErrNotEnoughAccountKeys = errors.New("not enough account keys")

	// ErrMissingAccount is returned when a CPI references an account the
	// caller did not receive.
	ErrMissingAccount = errors.New("cpi references an account not passed to the caller")

	// ErrPrivilegeEscalation is returned when a CPI marks an account signer
	// or writable without the caller holding that privilege.
	ErrPrivilegeEscalation = errors.New("cross-program invocation with unauthorized signer or writable account")

	// ErrInvalidSignerSeeds is returned when CPI signer seeds do not derive
	// a valid program address.
	ErrInvalidSignerSeeds = errors.New("invalid signer seeds")

	// ErrCallDepth is returned when CPI nesting exceeds CPIDepthMax.
	ErrCallDepth = errors.New("cross-program invocation call depth too deep")

	ErrReadonlyModified      = errors.New("instruction modified a readonly account")
	ErrExternalDataModified  = errors.New("instruction modified data of an account it does not own")
	ErrExternalLamportSpend  = errors.New("instruction spent from the balance of an account it does not own")
	ErrModifiedProgramID     = errors.New("instruction illegally modified the program id of an account")
	ErrOwnerChangedWithData  = errors.New("instruction changed the owner of an account with non-zero data")
	ErrExecutableModified    = errors.New("instruction changed executable flag of an account")
	ErrUnbalancedInstruction = errors.New("sum of account balances before and after instruction do not match")
)

// AccountMeta describes an account in an instruction.
type AccountMeta struct {
	Pubkey     types.Pubkey
	IsSigner   bool
	IsWritable bool
}

// NewAccountMeta returns a writable account meta.
func NewAccountMeta(pubkey types.Pubkey, isSigner bool) AccountMeta {
	return AccountMeta{Pubkey: pubkey, IsSigner: isSigner, IsWritable: true}
}

// NewReadonlyAccountMeta returns a readonly account meta.
func NewReadonlyAccountMeta(pubkey types.Pubkey, isSigner bool) AccountMeta {
	return AccountMeta{Pubkey: pubkey, IsSigner: isSigner}
}

// Instruction is a single program call.
type Instruction struct {
	ProgramID types.Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

// Transaction is an ordered list of instructions executed atomically.
type Transaction struct {
	Instructions []Instruction

	// ComputeUnitLimit overrides the default budget when non-zero.
	ComputeUnitLimit uint64
}

// AccountInfo is a program's view of an account during execution. Programs
// mutate it in place; the runtime verifies and persists the changes when
// the program returns.
type AccountInfo struct {
	Key        types.Pubkey
	Owner      types.Pubkey
	Lamports   uint64
	Data       []byte
	Executable bool
	RentEpoch  uint64
	IsSigner   bool
	IsWritable bool
}

// InvokeContext provides context for program execution.
type InvokeContext interface {
	// ProgramID is the id of the executing program.
	ProgramID() types.Pubkey

	// NumAccounts returns the number of accounts passed to the instruction.
	NumAccounts() int

	// GetAccount returns the account at the given index. Indices that name
	// the same key share one *AccountInfo.
	GetAccount(index int) (*AccountInfo, error)

	// GetRentMinimum returns the rent-exempt minimum for given data size.
	GetRentMinimum(dataLen uint64) uint64

	// UnixTimestamp is the ledger time of the current transaction.
	UnixTimestamp() int64

	// Log records a program log message.
	Log(msg string)

	// ConsumeCU charges compute units against the transaction budget.
	ConsumeCU(cost uint64) error

	// FindProgramAddress derives a PDA under the executing program id,
	// charging compute per probe.
	FindProgramAddress(seeds [][]byte) (types.Pubkey, uint8, error)

	// Invoke calls another program. Each signer seed set must derive, under
	// the executing program id, an address that ix may then mark as signer.
	Invoke(ix Instruction, signerSeeds ...[][]byte) error
}

// Program is a native program.
type Program interface {
	Process(ctx InvokeContext, data []byte) error
}

// Describer is implemented by programs that can name their instructions.
type Describer interface {
	InstructionName(data []byte) string
}

// CustomError is implemented by program errors that carry a stable code.
type CustomError interface {
	error
	Code() uint32
}

// ProgramError attributes a failure to the program that raised it. Custom
// codes are only meaningful together with ProgramID.
type ProgramError struct {
	ProgramID types.Pubkey
	Err       error
}

func (e *ProgramError) Error() string { return e.Err.Error() }
func (e *ProgramError) Unwrap() error { return e.Err }

type registeredProgram struct {
	name     string
	program  Program
	baseCost uint64
}

// Config contains runtime configuration.
type Config struct {
	// ComputeUnitLimit is the per-transaction default budget. Zero means
	// CUDefault per instruction, capped at CUMax.
	ComputeUnitLimit uint64

	Rent Rent
}

// DefaultConfig returns default runtime configuration.
func DefaultConfig() Config {
	return Config{Rent: DefaultRent()}
}

// Runtime executes transactions. Transactions are serialized.
type Runtime struct {
	mu sync.Mutex

	cfg      Config
	db       accounts.DB
	clock    Clock
	programs map[types.Pubkey]registeredProgram
	log      *logrus.Entry
}

// New creates a runtime over db. Programs must be registered before use.
func New(cfg Config, db accounts.DB, clock Clock) *Runtime {
	if cfg.Rent.LamportsPerByteYear == 0 {
		cfg.Rent = DefaultRent()
	}
	return &Runtime{
		cfg:      cfg,
		db:       db,
		clock:    clock,
		programs: make(map[types.Pubkey]registeredProgram),
		log:      logrus.StandardLogger().WithField("type", "svm/runtime"),
	}
}

// Register installs a native program under id.
func (r *Runtime) Register(id types.Pubkey, name string, program Program, baseCost uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.programs[id] = registeredProgram{name: name, program: program, baseCost: baseCost}
}

// IsRegistered reports whether id names a registered program.
func (r *Runtime) IsRegistered(id types.Pubkey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.programs[id]
	return ok
}

// InstructionName renders ix as "program.Instruction", falling back to the
// program name, or the program id for unregistered programs.
func (r *Runtime) InstructionName(ix Instruction) string {
	r.mu.Lock()
	p, ok := r.programs[ix.ProgramID]
	r.mu.Unlock()
	if !ok {
		return ix.ProgramID.String()
	}
	if d, ok := p.program.(Describer); ok {
		if name := d.InstructionName(ix.Data); name != "" {
			return p.name + "." + name
		}
	}
	return p.name
}

// DB returns the underlying account store.
func (r *Runtime) DB() accounts.DB {
	return r.db
}

// Rent returns the rent parameters.
func (r *Runtime) Rent() Rent {
	return r.cfg.Rent
}

// Clock returns the ledger clock.
func (r *Runtime) Clock() Clock {
	return r.clock
}

// ExecutionResult contains the result of transaction execution.
type ExecutionResult struct {
	Success bool

	// Err is the failing instruction's error. It is nil on success.
	Err error

	// Error is Err rendered as text.
	Error string

	// InstructionIndex is the failing top-level instruction, or -1.
	InstructionIndex int

	// CustomCode is set when Err carries a program error code.
	CustomCode *uint32

	// FailedProgram is the program that raised Err, innermost first for
	// failures inside a CPI. Zero when the runtime rejected the instruction
	// before any program ran.
	FailedProgram types.Pubkey

	// Logs contains program log messages.
	Logs []string

	ComputeUnitsUsed uint64

	// Slot is the ledger height after commit. Unchanged on failure.
	Slot uint64

	// ModifiedAccounts lists committed accounts in ascending order.
	ModifiedAccounts []types.Pubkey

	// StateHash is the merkle root of the committed account changes.
	StateHash types.Hash
}

// ExecuteTransaction runs tx. Program failures are reported in the result
// and leave the store untouched; the returned error is reserved for host
// failures such as storage errors or cancellation.
func (r *Runtime) ExecuteTransaction(ctx context.Context, tx *Transaction) (*ExecutionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if tx == nil || len(tx.Instructions) == 0 {
		return nil, ErrEmptyTransaction
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	limit := tx.ComputeUnitLimit
	if limit == 0 {
		limit = r.cfg.ComputeUnitLimit
	}
	if limit == 0 {
		limit = CUDefault * uint64(len(tx.Instructions))
	}

	state := &txState{
		rt:       r,
		current:  make(map[types.Pubkey]*accounts.Account),
		original: make(map[types.Pubkey]*accounts.Account),
		meter:    NewComputeMeter(limit),
		now:      r.clock.UnixTimestamp(),
	}
	result := &ExecutionResult{InstructionIndex: -1}

	for i := range tx.Instructions {
		if err := state.executeTopLevel(&tx.Instructions[i]); err != nil {
			if isHostError(err) {
				return nil, err
			}

			result.Err = err
			result.Error = fmt.Sprintf("instruction %d failed: %v", i, err)
			result.InstructionIndex = i
			var custom CustomError
			if errors.As(err, &custom) {
				code := custom.Code()
				result.CustomCode = &code
			}
			var perr *ProgramError
			if errors.As(err, &perr) {
				result.FailedProgram = perr.ProgramID
			}
			result.Logs = state.logs
			result.ComputeUnitsUsed = state.meter.Consumed()
			result.Slot = r.db.GetSlot()

			r.log.WithError(err).WithField("instruction", i).Debug("transaction failed")
			return result, nil
		}
	}

	updates := state.updates()
	slot := r.db.GetSlot() + 1
	if err := r.db.Apply(slot, updates); err != nil {
		return nil, errors.Wrap(err, "commit transaction")
	}

	result.Success = true
	result.Logs = state.logs
	result.ComputeUnitsUsed = state.meter.Consumed()
	result.Slot = slot
	result.StateHash = accounts.ComputeDeltaHash(updates)
	result.ModifiedAccounts = make([]types.Pubkey, len(updates))
	for i, u := range updates {
		result.ModifiedAccounts[i] = u.Pubkey
	}

	r.log.WithFields(logrus.Fields{
		"slot":     slot,
		"modified": len(updates),
		"cu":       result.ComputeUnitsUsed,
	}).Debug("transaction committed")
	return result, nil
}

// hostError marks storage failures that must not be reported as a program
// failure.
type hostError struct{ err error }

func (e *hostError) Error() string { return e.err.Error() }
func (e *hostError) Unwrap() error { return e.err }

func isHostError(err error) bool {
	var h *hostError
	return errors.As(err, &h)
}
