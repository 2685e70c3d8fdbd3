package rpc

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/fortiblox/locksmith/internal/types"
	"github.com/fortiblox/locksmith/pkg/journal"
)

// maxJournalLimit bounds a single getJournal page.
const maxJournalLimit = 1000

func entryToRPC(entry *journal.Entry) *JournalEntry {
	out := &JournalEntry{
		ID:               entry.ID.String(),
		Sequence:         entry.Sequence,
		Time:             entry.Time.Unix(),
		Slot:             entry.Slot,
		Instructions:     entry.Instructions,
		Accounts:         pubkeysToStrings(entry.Accounts),
		Success:          entry.Success,
		Err:              txError(entry),
		Logs:             entry.Logs,
		ComputeUnits:     entry.ComputeUnits,
		ModifiedAccounts: pubkeysToStrings(entry.ModifiedAccounts),
	}
	if entry.Success {
		out.StateHash = entry.StateHash.String()
	}
	return out
}

// getJournal returns recent journal entries, newest first, optionally
// restricted to one account: [{"account": "...", "limit": n}].
func (s *Server) getJournal(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	if s.history == nil {
		return nil, ErrHistoryNotAvailable
	}

	args, rpcErr := parseArgs(params, 0, "")
	if rpcErr != nil {
		return nil, rpcErr
	}
	var config JournalConfig
	if rpcErr := parseConfig(args, 0, &config); rpcErr != nil {
		return nil, rpcErr
	}
	if config.Limit <= 0 || config.Limit > maxJournalLimit {
		config.Limit = maxJournalLimit
	}

	var (
		entries []*journal.Entry
		err     error
	)
	if config.Account != "" {
		account, perr := types.PubkeyFromBase58(config.Account)
		if perr != nil {
			return nil, InvalidParamsError("invalid account format")
		}
		entries, err = s.history.ForAccount(account, config.Limit)
	} else {
		entries, err = s.history.Recent(config.Limit)
	}
	if err != nil {
		return nil, InternalServerErrorf("read journal: %v", err)
	}

	out := make([]*JournalEntry, len(entries))
	for i, e := range entries {
		out[i] = entryToRPC(e)
	}
	return out, nil
}

// getJournalEntry returns one entry by sequence number, or null.
func (s *Server) getJournalEntry(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	if s.history == nil {
		return nil, ErrHistoryNotAvailable
	}

	args, rpcErr := parseArgs(params, 1, "sequence")
	if rpcErr != nil {
		return nil, rpcErr
	}
	var seq uint64
	if err := json.Unmarshal(args[0], &seq); err != nil {
		return nil, InvalidParamsError("invalid sequence")
	}

	entry, err := s.history.Get(seq)
	if errors.Is(err, journal.ErrEntryNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, InternalServerErrorf("read journal: %v", err)
	}
	return entryToRPC(entry), nil
}
