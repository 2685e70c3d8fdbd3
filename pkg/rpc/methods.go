package rpc

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/fortiblox/locksmith/internal/types"
	"github.com/fortiblox/locksmith/pkg/accounts"
	"github.com/fortiblox/locksmith/pkg/svm/programs/locksmith"
)

// NodeVersion is reported by getVersion.
const NodeVersion = "locksmith-1.0.0"

// maxMultipleAccounts bounds getMultipleAccounts.
const maxMultipleAccounts = 100

// parseArgs decodes positional params and requires at least n of them.
func parseArgs(params json.RawMessage, n int, what string) ([]json.RawMessage, *RPCError) {
	var args []json.RawMessage
	if len(params) > 0 {
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, InvalidParamsError("invalid params")
		}
	}
	if len(args) < n {
		return nil, InvalidParamsErrorf("missing %s parameter", what)
	}
	return args, nil
}

func parsePubkey(raw json.RawMessage, what string) (types.Pubkey, *RPCError) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return types.Pubkey{}, InvalidParamsErrorf("invalid %s", what)
	}
	pubkey, err := types.PubkeyFromBase58(s)
	if err != nil {
		return types.Pubkey{}, InvalidParamsErrorf("invalid %s format", what)
	}
	return pubkey, nil
}

// parseConfig decodes the optional trailing config object at args[i].
func parseConfig(args []json.RawMessage, i int, v interface{}) *RPCError {
	if len(args) <= i || string(args[i]) == "null" {
		return nil
	}
	if err := json.Unmarshal(args[i], v); err != nil {
		return InvalidParamsError("invalid config")
	}
	return nil
}

func (s *Server) ledgerContext() Context {
	return Context{
		Slot:          s.runtime.DB().GetSlot(),
		UnixTimestamp: s.runtime.Clock().UnixTimestamp(),
	}
}

func (s *Server) checkMinContextSlot(minSlot *uint64) (Context, *RPCError) {
	ctx := s.ledgerContext()
	if minSlot != nil && *minSlot > ctx.Slot {
		return ctx, MinContextSlotError(*minSlot, ctx.Slot)
	}
	return ctx, nil
}

// loadAccount returns nil without error for a missing account.
func (s *Server) loadAccount(pubkey types.Pubkey) (*accounts.Account, *RPCError) {
	account, err := s.runtime.DB().GetAccount(pubkey)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, InternalServerErrorf("failed to get account: %v", err)
	}
	return account, nil
}

// Account Methods

func (s *Server) getAccountInfo(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1, "pubkey")
	if rpcErr != nil {
		return nil, rpcErr
	}
	pubkey, rpcErr := parsePubkey(args[0], "pubkey")
	if rpcErr != nil {
		return nil, rpcErr
	}
	var config AccountInfoConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}

	ctx, rpcErr := s.checkMinContextSlot(config.MinContextSlot)
	if rpcErr != nil {
		return nil, rpcErr
	}

	account, rpcErr := s.loadAccount(pubkey)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if account == nil {
		return ResponseWithContext{Context: ctx, Value: nil}, nil
	}

	info, rpcErr := accountToAccountInfo(account, config.Encoding, config.DataSlice)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return ResponseWithContext{Context: ctx, Value: info}, nil
}

func (s *Server) getBalance(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1, "pubkey")
	if rpcErr != nil {
		return nil, rpcErr
	}
	pubkey, rpcErr := parsePubkey(args[0], "pubkey")
	if rpcErr != nil {
		return nil, rpcErr
	}
	var config BalanceConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}

	ctx, rpcErr := s.checkMinContextSlot(config.MinContextSlot)
	if rpcErr != nil {
		return nil, rpcErr
	}

	account, rpcErr := s.loadAccount(pubkey)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var lamports uint64
	if account != nil {
		lamports = account.Lamports
	}
	return ResponseWithContext{Context: ctx, Value: lamports}, nil
}

func (s *Server) getMultipleAccounts(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1, "pubkeys")
	if rpcErr != nil {
		return nil, rpcErr
	}

	var pubkeyStrs []string
	if err := json.Unmarshal(args[0], &pubkeyStrs); err != nil {
		return nil, InvalidParamsError("invalid pubkeys array")
	}
	if len(pubkeyStrs) > maxMultipleAccounts {
		return nil, InvalidParamsErrorf("too many pubkeys (max %d)", maxMultipleAccounts)
	}

	var config AccountInfoConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}
	ctx, rpcErr := s.checkMinContextSlot(config.MinContextSlot)
	if rpcErr != nil {
		return nil, rpcErr
	}

	infos := make([]*AccountInfo, len(pubkeyStrs))
	for i, pubkeyStr := range pubkeyStrs {
		pubkey, err := types.PubkeyFromBase58(pubkeyStr)
		if err != nil {
			return nil, InvalidParamsErrorf("invalid pubkey at index %d", i)
		}

		account, rpcErr := s.loadAccount(pubkey)
		if rpcErr != nil {
			return nil, rpcErr
		}
		if account == nil {
			continue
		}
		info, rpcErr := accountToAccountInfo(account, config.Encoding, config.DataSlice)
		if rpcErr != nil {
			return nil, rpcErr
		}
		infos[i] = info
	}

	return ResponseWithContext{Context: ctx, Value: infos}, nil
}

func (s *Server) getProgramAccounts(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1, "program ID")
	if rpcErr != nil {
		return nil, rpcErr
	}
	programID, rpcErr := parsePubkey(args[0], "program ID")
	if rpcErr != nil {
		return nil, rpcErr
	}
	var config ProgramAccountsConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}

	filters, rpcErr := compileFilters(config.Filters)
	if rpcErr != nil {
		return nil, rpcErr
	}

	results := []KeyedAccountInfo{}
	err := s.runtime.DB().IterateAccounts(func(pubkey types.Pubkey, account *accounts.Account) error {
		if account.Owner != programID || !filters.match(account.Data) {
			return nil
		}
		info, rpcErr := accountToAccountInfo(account, config.Encoding, config.DataSlice)
		if rpcErr != nil {
			return rpcErr
		}
		results = append(results, KeyedAccountInfo{Pubkey: pubkey.String(), Account: info})
		return nil
	})
	if err != nil {
		return nil, InternalServerErrorf("iteration failed: %v", err)
	}

	return results, nil
}

func (s *Server) getTokenAccountBalance(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1, "pubkey")
	if rpcErr != nil {
		return nil, rpcErr
	}
	pubkey, rpcErr := parsePubkey(args[0], "pubkey")
	if rpcErr != nil {
		return nil, rpcErr
	}

	ctx := s.ledgerContext()
	amount, rpcErr := s.tokenBalance(pubkey)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if amount == nil {
		return nil, InvalidParamsError("could not find account")
	}
	return ResponseWithContext{Context: ctx, Value: amount}, nil
}

// Cluster Methods

func (s *Server) getHealth(_ context.Context, _ json.RawMessage) (interface{}, *RPCError) {
	if !s.IsHealthy() {
		return nil, ErrNodeUnhealthy
	}
	return "ok", nil
}

func (s *Server) getVersion(_ context.Context, _ json.RawMessage) (interface{}, *RPCError) {
	return VersionInfo{
		LocksmithCore: NodeVersion,
		ProgramID:     locksmith.ProgramID.String(),
	}, nil
}

func (s *Server) getSlot(_ context.Context, _ json.RawMessage) (interface{}, *RPCError) {
	return s.runtime.DB().GetSlot(), nil
}

func (s *Server) getMinimumBalanceForRentExemption(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1, "data length")
	if rpcErr != nil {
		return nil, rpcErr
	}

	var dataLen uint64
	if err := json.Unmarshal(args[0], &dataLen); err != nil {
		return nil, InvalidParamsError("invalid data length")
	}
	if dataLen > accounts.MaxAccountDataSize {
		return nil, InvalidParamsErrorf("data length exceeds %d", accounts.MaxAccountDataSize)
	}

	return s.runtime.Rent().MinimumBalance(dataLen), nil
}

// Helpers

func accountToAccountInfo(account *accounts.Account, encoding Encoding, dataSlice *DataSlice) (*AccountInfo, *RPCError) {
	data := ApplyDataSlice(account.Data, dataSlice)

	encodedData, err := EncodeAccountData(data, encoding)
	if err != nil {
		return nil, InternalServerErrorf("failed to encode data: %v", err)
	}

	return &AccountInfo{
		Data:       encodedData,
		Executable: account.Executable,
		Lamports:   account.Lamports,
		Owner:      account.Owner.String(),
		RentEpoch:  account.RentEpoch,
		Space:      uint64(len(account.Data)),
	}, nil
}

type compiledFilter struct {
	dataSize *uint64
	offset   uint64
	bytes    []byte
}

type filterSet []compiledFilter

// compileFilters decodes memcmp bytes once so a bad filter is reported
// instead of silently matching nothing.
func compileFilters(filters []ProgramAccountFilter) (filterSet, *RPCError) {
	out := make(filterSet, 0, len(filters))
	for i, f := range filters {
		var c compiledFilter
		c.dataSize = f.DataSize
		if f.Memcmp != nil {
			encoding := f.Memcmp.Encoding
			if encoding == "" {
				encoding = EncodingBase58
			}
			b, err := DecodeAccountData(f.Memcmp.Bytes, encoding)
			if err != nil {
				return nil, InvalidParamsErrorf("invalid memcmp bytes in filter %d", i)
			}
			c.offset = f.Memcmp.Offset
			c.bytes = b
		}
		out = append(out, c)
	}
	return out, nil
}

func (fs filterSet) match(data []byte) bool {
	for _, f := range fs {
		if f.dataSize != nil && uint64(len(data)) != *f.dataSize {
			return false
		}
		if f.bytes != nil {
			if f.offset > uint64(len(data)) || uint64(len(data))-f.offset < uint64(len(f.bytes)) {
				return false
			}
			if !bytes.Equal(data[f.offset:f.offset+uint64(len(f.bytes))], f.bytes) {
				return false
			}
		}
	}
	return true
}
