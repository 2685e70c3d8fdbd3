package svm

import (
	"bytes"
	"fmt"
	"math/bits"

	"github.com/pkg/errors"

	"github.com/fortiblox/locksmith/internal/types"
	"github.com/fortiblox/locksmith/pkg/accounts"
	"github.com/fortiblox/locksmith/pkg/svm/pda"
)

// txState is the working set of one transaction.
type txState struct {
	rt *Runtime

	// current holds the latest verified state of every loaded account.
	current map[types.Pubkey]*accounts.Account

	// original holds the state as loaded; nil for accounts that did not exist.
	original map[types.Pubkey]*accounts.Account
	order    []types.Pubkey

	meter *ComputeMeter
	logs  []string
	now   int64
}

func (s *txState) load(key types.Pubkey) (*accounts.Account, error) {
	if acc, ok := s.current[key]; ok {
		return acc, nil
	}

	acc, err := s.rt.db.GetAccount(key)
	switch {
	case err == nil:
		s.original[key] = acc.Clone()
	case errors.Is(err, accounts.ErrAccountNotFound):
		s.original[key] = nil
		if _, native := s.rt.programs[key]; native {
			acc = &accounts.Account{Lamports: 1, Owner: types.NativeLoaderAddr, Executable: true}
			// Synthesized program accounts are never committed.
			s.original[key] = acc.Clone()
		} else {
			acc = &accounts.Account{Owner: types.SystemProgramAddr}
		}
	default:
		return nil, &hostError{errors.Wrapf(err, "load account %s", key)}
	}

	s.current[key] = acc
	s.order = append(s.order, key)
	return acc, nil
}

// updates returns the accounts whose state differs from what was loaded,
// sorted by pubkey.
func (s *txState) updates() []accounts.Update {
	var out []accounts.Update
	for _, key := range s.order {
		cur, orig := s.current[key], s.original[key]
		if orig == nil && cur.IsZero() {
			continue
		}
		if orig != nil && accountsEqual(orig, cur) {
			continue
		}
		out = append(out, accounts.Update{Pubkey: key, Account: cur.Clone()})
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Pubkey.Less(out[j-1].Pubkey); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func accountsEqual(a, b *accounts.Account) bool {
	return a.Lamports == b.Lamports &&
		a.Owner == b.Owner &&
		a.Executable == b.Executable &&
		a.RentEpoch == b.RentEpoch &&
		bytes.Equal(a.Data, b.Data)
}

func (s *txState) executeTopLevel(ix *Instruction) error {
	privileges := make(map[types.Pubkey]AccountMeta, len(ix.Accounts))
	for _, meta := range ix.Accounts {
		p := privileges[meta.Pubkey]
		p.IsSigner = p.IsSigner || meta.IsSigner
		p.IsWritable = p.IsWritable || meta.IsWritable
		privileges[meta.Pubkey] = p
	}

	f, err := s.newFrame(ix, privileges, 1)
	if err != nil {
		return err
	}
	return f.run(ix.Data)
}

// frame is the execution of one instruction by one program.
type frame struct {
	state     *txState
	programID types.Pubkey
	program   registeredProgram
	depth     int

	// infos is indexed by instruction account position; duplicates alias.
	infos  []*AccountInfo
	unique map[types.Pubkey]*AccountInfo

	// pre is the verified state each info started from.
	pre map[types.Pubkey]*accounts.Account
}

func (s *txState) newFrame(ix *Instruction, privileges map[types.Pubkey]AccountMeta, depth int) (*frame, error) {
	prog, ok := s.rt.programs[ix.ProgramID]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownProgram, "%s", ix.ProgramID)
	}

	f := &frame{
		state:     s,
		programID: ix.ProgramID,
		program:   prog,
		depth:     depth,
		infos:     make([]*AccountInfo, len(ix.Accounts)),
		unique:    make(map[types.Pubkey]*AccountInfo, len(ix.Accounts)),
		pre:       make(map[types.Pubkey]*accounts.Account, len(ix.Accounts)),
	}
	for i, meta := range ix.Accounts {
		if info, ok := f.unique[meta.Pubkey]; ok {
			f.infos[i] = info
			continue
		}
		acc, err := s.load(meta.Pubkey)
		if err != nil {
			return nil, err
		}
		p := privileges[meta.Pubkey]
		info := &AccountInfo{Key: meta.Pubkey, IsSigner: p.IsSigner, IsWritable: p.IsWritable}
		fillInfo(info, acc)
		f.infos[i] = info
		f.unique[meta.Pubkey] = info
		f.pre[meta.Pubkey] = acc.Clone()
	}
	return f, nil
}

func fillInfo(info *AccountInfo, acc *accounts.Account) {
	info.Owner = acc.Owner
	info.Lamports = acc.Lamports
	info.Data = append([]byte(nil), acc.Data...)
	info.Executable = acc.Executable
	info.RentEpoch = acc.RentEpoch
}

func (f *frame) run(data []byte) error {
	if err := f.state.meter.Consume(f.program.baseCost); err != nil {
		return err
	}

	f.Log(fmt.Sprintf("Program %s invoke [%d]", f.programID, f.depth))
	if err := f.program.program.Process(f, data); err != nil {
		f.Log(fmt.Sprintf("Program %s failed: %v", f.programID, err))
		return f.attribute(err)
	}
	if err := f.sync(); err != nil {
		f.Log(fmt.Sprintf("Program %s failed: %v", f.programID, err))
		return f.attribute(err)
	}
	f.Log(fmt.Sprintf("Program %s success", f.programID))
	return nil
}

// attribute tags err with the frame's program unless a callee already
// claimed it.
func (f *frame) attribute(err error) error {
	var perr *ProgramError
	if isHostError(err) || errors.As(err, &perr) {
		return err
	}
	return &ProgramError{ProgramID: f.programID, Err: err}
}

// sync verifies the frame's changes against the ownership rules and folds
// them into the working set.
func (f *frame) sync() error {
	var preHi, preLo, postHi, postLo uint64
	var carry uint64

	for key, info := range f.unique {
		pre := f.pre[key]
		preLo, carry = bits.Add64(preLo, pre.Lamports, 0)
		preHi += carry
		postLo, carry = bits.Add64(postLo, info.Lamports, 0)
		postHi += carry

		if err := f.verify(pre, info); err != nil {
			return errors.Wrapf(err, "account %s", key)
		}
	}
	if preHi != postHi || preLo != postLo {
		return ErrUnbalancedInstruction
	}

	for key, info := range f.unique {
		acc := f.state.current[key]
		acc.Owner = info.Owner
		acc.Lamports = info.Lamports
		acc.Data = append(acc.Data[:0:0], info.Data...)
		f.pre[key] = acc.Clone()
	}
	return nil
}

func (f *frame) verify(pre *accounts.Account, post *AccountInfo) error {
	dataChanged := !bytes.Equal(pre.Data, post.Data)
	ownerChanged := pre.Owner != post.Owner
	lamportsChanged := pre.Lamports != post.Lamports

	if post.Executable != pre.Executable {
		return ErrExecutableModified
	}
	if !dataChanged && !ownerChanged && !lamportsChanged {
		return nil
	}
	if !post.IsWritable {
		return ErrReadonlyModified
	}
	owned := pre.Owner == f.programID
	if ownerChanged && !owned {
		return ErrModifiedProgramID
	}
	if ownerChanged && !isZeroed(post.Data) {
		return ErrOwnerChangedWithData
	}
	if dataChanged && (!owned || pre.Executable) {
		return ErrExternalDataModified
	}
	if post.Lamports < pre.Lamports && !owned {
		return ErrExternalLamportSpend
	}
	if len(post.Data) > accounts.MaxAccountDataSize {
		return ErrExternalDataModified
	}
	return nil
}

func isZeroed(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}

// refresh reloads the given accounts from the working set after a CPI.
func (f *frame) refresh(keys map[types.Pubkey]*AccountInfo) {
	for key := range keys {
		info, ok := f.unique[key]
		if !ok {
			continue
		}
		acc := f.state.current[key]
		fillInfo(info, acc)
		f.pre[key] = acc.Clone()
	}
}

// InvokeContext implementation.

func (f *frame) ProgramID() types.Pubkey {
	return f.programID
}

func (f *frame) NumAccounts() int {
	return len(f.infos)
}

func (f *frame) GetAccount(index int) (*AccountInfo, error) {
	if index < 0 || index >= len(f.infos) {
		return nil, ErrNotEnoughAccountKeys
	}
	return f.infos[index], nil
}

func (f *frame) GetRentMinimum(dataLen uint64) uint64 {
	return f.state.rt.cfg.Rent.MinimumBalance(dataLen)
}

func (f *frame) UnixTimestamp() int64 {
	return f.state.now
}

func (f *frame) Log(msg string) {
	f.state.logs = append(f.state.logs, msg)
	f.state.rt.log.WithField("program", f.program.name).Debug(msg)
}

func (f *frame) ConsumeCU(cost uint64) error {
	return f.state.meter.Consume(cost)
}

func (f *frame) FindProgramAddress(seeds [][]byte) (types.Pubkey, uint8, error) {
	return pda.FindProgramAddressMetered(seeds, f.programID, f.state.meter)
}

func (f *frame) Invoke(ix Instruction, signerSeeds ...[][]byte) error {
	if f.depth >= CPIDepthMax {
		return ErrCallDepth
	}
	if err := f.state.meter.Consume(CUInvokeBase); err != nil {
		return err
	}

	pdaSigners := make(map[types.Pubkey]bool, len(signerSeeds))
	for _, seeds := range signerSeeds {
		if err := f.state.meter.Consume(CUCreateProgramAddress); err != nil {
			return err
		}
		addr, err := pda.CreateProgramAddress(seeds, f.programID)
		if err != nil {
			return errors.Wrap(ErrInvalidSignerSeeds, err.Error())
		}
		pdaSigners[addr] = true
	}

	privileges := make(map[types.Pubkey]AccountMeta, len(ix.Accounts))
	for _, meta := range ix.Accounts {
		callerInfo, ok := f.unique[meta.Pubkey]
		if !ok {
			return errors.Wrapf(ErrMissingAccount, "%s", meta.Pubkey)
		}
		if meta.IsSigner && !callerInfo.IsSigner && !pdaSigners[meta.Pubkey] {
			return errors.Wrapf(ErrPrivilegeEscalation, "%s signer", meta.Pubkey)
		}
		if meta.IsWritable && !callerInfo.IsWritable {
			return errors.Wrapf(ErrPrivilegeEscalation, "%s writable", meta.Pubkey)
		}
		p := privileges[meta.Pubkey]
		p.IsSigner = p.IsSigner || meta.IsSigner
		p.IsWritable = p.IsWritable || meta.IsWritable
		privileges[meta.Pubkey] = p
	}

	// The caller's changes so far become visible to the callee.
	if err := f.sync(); err != nil {
		return err
	}

	callee, err := f.state.newFrame(&ix, privileges, f.depth+1)
	if err != nil {
		return err
	}
	if err := callee.run(ix.Data); err != nil {
		return err
	}

	f.refresh(callee.unique)
	return nil
}

var _ InvokeContext = (*frame)(nil)
