package rpc

import (
	"context"
	"encoding/json"

	"github.com/fortiblox/locksmith/internal/types"
	"github.com/fortiblox/locksmith/pkg/accounts"
	"github.com/fortiblox/locksmith/pkg/svm/programs/locksmith"
	"github.com/fortiblox/locksmith/pkg/svm/programs/token"
)

// tokenBalance returns nil when pubkey is not an initialized token account.
func (s *Server) tokenBalance(pubkey types.Pubkey) (*UITokenAmount, *RPCError) {
	account, rpcErr := s.loadAccount(pubkey)
	if rpcErr != nil || account == nil || account.Owner != token.ProgramID {
		return nil, rpcErr
	}
	held, err := token.UnpackAccount(account.Data)
	if err != nil {
		return nil, nil
	}
	decimals, rpcErr := s.mintDecimals(held.Mint)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount := NewUITokenAmount(held.Amount, decimals)
	return &amount, nil
}

func (s *Server) mintDecimals(mint types.Pubkey) (uint8, *RPCError) {
	account, rpcErr := s.loadAccount(mint)
	if rpcErr != nil {
		return 0, rpcErr
	}
	if account == nil || account.Owner != token.ProgramID {
		return 0, InternalServerErrorf("mint %s not found", mint)
	}
	m, err := token.UnpackMint(account.Data)
	if err != nil {
		return 0, InternalServerErrorf("mint %s: %v", mint, err)
	}
	return m.Decimals, nil
}

func (s *Server) getLocksmithConfig(_ context.Context, _ json.RawMessage) (interface{}, *RPCError) {
	ctx := s.ledgerContext()

	address, _, err := locksmith.ConfigAddress()
	if err != nil {
		return nil, InternalServerErrorf("derive config address: %v", err)
	}
	vault, _, err := locksmith.FeeVaultAddress()
	if err != nil {
		return nil, InternalServerErrorf("derive fee vault address: %v", err)
	}

	account, rpcErr := s.loadAccount(address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if account == nil || account.Owner != locksmith.ProgramID {
		return ResponseWithContext{Context: ctx, Value: nil}, nil
	}
	var config locksmith.Config
	if err := config.Unmarshal(account.Data); err != nil {
		return nil, InternalServerErrorf("decode config: %v", err)
	}

	decimals, rpcErr := s.mintDecimals(locksmith.FeeMint)
	if rpcErr != nil {
		return nil, rpcErr
	}
	balance, rpcErr := s.tokenBalance(vault)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if balance == nil {
		empty := NewUITokenAmount(0, decimals)
		balance = &empty
	}

	return ResponseWithContext{
		Context: ctx,
		Value: LocksmithConfigInfo{
			Address:         address.String(),
			Admin:           config.Admin.String(),
			Bump:            config.Bump,
			FeeVault:        vault.String(),
			FeeMint:         locksmith.FeeMint.String(),
			Fee:             NewUITokenAmount(locksmith.FeeUSDC, decimals),
			FeeVaultBalance: *balance,
		},
	}, nil
}

// getLock takes [owner, mint, lockId].
func (s *Server) getLock(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 3, "owner, mint and lockId")
	if rpcErr != nil {
		return nil, rpcErr
	}
	owner, rpcErr := parsePubkey(args[0], "owner")
	if rpcErr != nil {
		return nil, rpcErr
	}
	mint, rpcErr := parsePubkey(args[1], "mint")
	if rpcErr != nil {
		return nil, rpcErr
	}
	var lockID uint64
	if err := json.Unmarshal(args[2], &lockID); err != nil {
		return nil, InvalidParamsError("invalid lockId")
	}

	ctx := s.ledgerContext()
	address, _, err := locksmith.LockAddress(owner, mint, lockID)
	if err != nil {
		return nil, InternalServerErrorf("derive lock address: %v", err)
	}
	account, rpcErr := s.loadAccount(address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if account == nil || account.Owner != locksmith.ProgramID {
		return ResponseWithContext{Context: ctx, Value: nil}, nil
	}

	info, rpcErr := s.lockInfo(address, account, ctx.UnixTimestamp)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return ResponseWithContext{Context: ctx, Value: info}, nil
}

// getLocksByOwner scans locksmith accounts for the owner's locks.
func (s *Server) getLocksByOwner(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1, "owner")
	if rpcErr != nil {
		return nil, rpcErr
	}
	owner, rpcErr := parsePubkey(args[0], "owner")
	if rpcErr != nil {
		return nil, rpcErr
	}

	ctx := s.ledgerContext()
	type found struct {
		address types.Pubkey
		account *accounts.Account
	}
	var matches []found
	err := s.runtime.DB().IterateAccounts(func(pubkey types.Pubkey, account *accounts.Account) error {
		if account.Owner != locksmith.ProgramID || len(account.Data) != locksmith.LockSize {
			return nil
		}
		var lock locksmith.Lock
		if lock.Unmarshal(account.Data) != nil || lock.Owner != owner {
			return nil
		}
		matches = append(matches, found{pubkey, account})
		return nil
	})
	if err != nil {
		return nil, InternalServerErrorf("iteration failed: %v", err)
	}

	locks := make([]*LockInfo, 0, len(matches))
	for _, m := range matches {
		info, rpcErr := s.lockInfo(m.address, m.account, ctx.UnixTimestamp)
		if rpcErr != nil {
			return nil, rpcErr
		}
		locks = append(locks, info)
	}
	return ResponseWithContext{Context: ctx, Value: locks}, nil
}

func (s *Server) lockInfo(address types.Pubkey, account *accounts.Account, now int64) (*LockInfo, *RPCError) {
	var lock locksmith.Lock
	if err := lock.Unmarshal(account.Data); err != nil {
		return nil, InternalServerErrorf("decode lock: %v", err)
	}

	escrow, _, err := locksmith.LockTokenAddress(address)
	if err != nil {
		return nil, InternalServerErrorf("derive escrow address: %v", err)
	}
	decimals, rpcErr := s.mintDecimals(lock.Mint)
	if rpcErr != nil {
		return nil, rpcErr
	}
	balance, rpcErr := s.tokenBalance(escrow)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if balance == nil {
		empty := NewUITokenAmount(0, decimals)
		balance = &empty
	}

	return &LockInfo{
		Address:         address.String(),
		Escrow:          escrow.String(),
		Owner:           lock.Owner.String(),
		Mint:            lock.Mint.String(),
		LockID:          lock.LockID,
		Amount:          NewUITokenAmount(lock.Amount, decimals),
		EscrowBalance:   *balance,
		UnlockTimestamp: lock.UnlockTimestamp,
		CreatedAt:       lock.CreatedAt,
		Bump:            lock.Bump,
		Unlockable:      lock.Unlockable(now),
	}, nil
}
