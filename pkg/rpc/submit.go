package rpc

import (
	"context"
	"encoding/json"

	"github.com/fortiblox/locksmith/internal/types"
	"github.com/fortiblox/locksmith/pkg/svm"
	"github.com/fortiblox/locksmith/pkg/svm/programs/system"
)

// maxInstructions bounds a submitted transaction.
const maxInstructions = 64

func decodeTransaction(req *TransactionRequest) (*svm.Transaction, *RPCError) {
	if len(req.Instructions) == 0 {
		return nil, InvalidParamsError("transaction has no instructions")
	}
	if len(req.Instructions) > maxInstructions {
		return nil, InvalidParamsErrorf("too many instructions (max %d)", maxInstructions)
	}

	tx := &svm.Transaction{
		Instructions:     make([]svm.Instruction, len(req.Instructions)),
		ComputeUnitLimit: req.ComputeUnitLimit,
	}
	for i, ix := range req.Instructions {
		programID, err := types.PubkeyFromBase58(ix.ProgramID)
		if err != nil {
			return nil, InvalidParamsErrorf("instruction %d: invalid programId", i)
		}
		encoding := ix.Encoding
		if encoding == "" {
			encoding = EncodingBase64
		}
		data, err := DecodeAccountData(ix.Data, encoding)
		if err != nil {
			return nil, InvalidParamsErrorf("instruction %d: invalid data", i)
		}

		metas := make([]svm.AccountMeta, len(ix.Accounts))
		for j, m := range ix.Accounts {
			pubkey, err := types.PubkeyFromBase58(m.Pubkey)
			if err != nil {
				return nil, InvalidParamsErrorf("instruction %d: invalid account %d", i, j)
			}
			metas[j] = svm.AccountMeta{Pubkey: pubkey, IsSigner: m.IsSigner, IsWritable: m.IsWritable}
		}
		tx.Instructions[i] = svm.Instruction{ProgramID: programID, Accounts: metas, Data: data}
	}
	return tx, nil
}

func (s *Server) submit(ctx context.Context, tx *svm.Transaction) (interface{}, *RPCError) {
	entry, err := s.submitter.Submit(ctx, tx)
	if err != nil {
		return nil, InternalServerErrorf("submit transaction: %v", err)
	}
	if !entry.Success {
		return nil, TransactionFailedError(entry)
	}
	return entryToRPC(entry), nil
}

// sendTransaction executes [transaction] and returns its journal entry.
func (s *Server) sendTransaction(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	if !s.config.EnableSendTransaction || s.submitter == nil {
		return nil, ErrMethodDisabled
	}

	args, rpcErr := parseArgs(params, 1, "transaction")
	if rpcErr != nil {
		return nil, rpcErr
	}
	var req TransactionRequest
	if err := json.Unmarshal(args[0], &req); err != nil {
		return nil, InvalidParamsError("invalid transaction")
	}
	tx, rpcErr := decodeTransaction(&req)
	if rpcErr != nil {
		return nil, rpcErr
	}

	return s.submit(ctx, tx)
}

// requestAirdrop transfers lamports from the faucet: [pubkey, lamports].
func (s *Server) requestAirdrop(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	if s.config.Faucet.IsZero() || s.submitter == nil {
		return nil, ErrMethodDisabled
	}

	args, rpcErr := parseArgs(params, 2, "pubkey and lamports")
	if rpcErr != nil {
		return nil, rpcErr
	}
	to, rpcErr := parsePubkey(args[0], "pubkey")
	if rpcErr != nil {
		return nil, rpcErr
	}
	var lamports uint64
	if err := json.Unmarshal(args[1], &lamports); err != nil || lamports == 0 {
		return nil, InvalidParamsError("invalid lamports")
	}
	if s.config.MaxAirdropLamports > 0 && lamports > s.config.MaxAirdropLamports {
		return nil, InvalidParamsErrorf("airdrop exceeds %d lamports", s.config.MaxAirdropLamports)
	}

	tx := &svm.Transaction{Instructions: []svm.Instruction{
		system.Transfer(s.config.Faucet, to, lamports),
	}}
	return s.submit(ctx, tx)
}
