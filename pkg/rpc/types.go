package rpc

import (
	"encoding/json"

	"github.com/fortiblox/locksmith/internal/types"
)

// JSON-RPC 2.0 constants.
const (
	JSONRPCVersion = "2.0"
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Context provides slot context for RPC responses.
type Context struct {
	Slot uint64 `json:"slot"`

	// UnixTimestamp is the ledger clock when the response was built.
	UnixTimestamp int64 `json:"unixTimestamp"`
}

// ResponseWithContext wraps a value with context.
type ResponseWithContext struct {
	Context Context     `json:"context"`
	Value   interface{} `json:"value"`
}

// Encoding types for account data.
type Encoding string

const (
	EncodingBase58     Encoding = "base58"
	EncodingBase64     Encoding = "base64"
	EncodingBase64Zstd Encoding = "base64+zstd"
)

// DataSlice specifies a portion of account data to return.
type DataSlice struct {
	Offset uint64 `json:"offset"`
	Length uint64 `json:"length"`
}

// AccountInfoConfig configures getAccountInfo and getMultipleAccounts.
type AccountInfoConfig struct {
	Encoding       Encoding   `json:"encoding,omitempty"`
	DataSlice      *DataSlice `json:"dataSlice,omitempty"`
	MinContextSlot *uint64    `json:"minContextSlot,omitempty"`
}

// BalanceConfig configures getBalance requests.
type BalanceConfig struct {
	MinContextSlot *uint64 `json:"minContextSlot,omitempty"`
}

// ProgramAccountsConfig configures getProgramAccounts requests.
type ProgramAccountsConfig struct {
	Encoding  Encoding               `json:"encoding,omitempty"`
	DataSlice *DataSlice             `json:"dataSlice,omitempty"`
	Filters   []ProgramAccountFilter `json:"filters,omitempty"`
}

// ProgramAccountFilter filters program accounts.
type ProgramAccountFilter struct {
	DataSize *uint64       `json:"dataSize,omitempty"`
	Memcmp   *MemcmpFilter `json:"memcmp,omitempty"`
}

// MemcmpFilter compares account data at an offset.
type MemcmpFilter struct {
	Offset   uint64   `json:"offset"`
	Bytes    string   `json:"bytes"`
	Encoding Encoding `json:"encoding,omitempty"`
}

// AccountInfo represents account information returned by RPC.
type AccountInfo struct {
	Data       interface{} `json:"data"` // [encoded, encoding]
	Executable bool        `json:"executable"`
	Lamports   uint64      `json:"lamports"`
	Owner      string      `json:"owner"`
	RentEpoch  uint64      `json:"rentEpoch"`
	Space      uint64      `json:"space"`
}

// KeyedAccountInfo wraps AccountInfo with its pubkey.
type KeyedAccountInfo struct {
	Pubkey  string       `json:"pubkey"`
	Account *AccountInfo `json:"account"`
}

// UITokenAmount represents a token amount with UI formatting.
type UITokenAmount struct {
	Amount         string   `json:"amount"`
	Decimals       uint8    `json:"decimals"`
	UIAmount       *float64 `json:"uiAmount"`
	UIAmountString string   `json:"uiAmountString"`
}

// VersionInfo represents node version information.
type VersionInfo struct {
	LocksmithCore string `json:"locksmith-core"`
	ProgramID     string `json:"program-id"`
}

// LocksmithConfigInfo is the decoded global config.
type LocksmithConfigInfo struct {
	Address         string        `json:"address"`
	Admin           string        `json:"admin"`
	Bump            uint8         `json:"bump"`
	FeeVault        string        `json:"feeVault"`
	FeeMint         string        `json:"feeMint"`
	Fee             UITokenAmount `json:"fee"`
	FeeVaultBalance UITokenAmount `json:"feeVaultBalance"`
}

// LockInfo is a decoded lock record with its escrow.
type LockInfo struct {
	Address         string        `json:"address"`
	Escrow          string        `json:"escrow"`
	Owner           string        `json:"owner"`
	Mint            string        `json:"mint"`
	LockID          uint64        `json:"lockId"`
	Amount          UITokenAmount `json:"amount"`
	EscrowBalance   UITokenAmount `json:"escrowBalance"`
	UnlockTimestamp int64         `json:"unlockTimestamp"`
	CreatedAt       int64         `json:"createdAt"`
	Bump            uint8         `json:"bump"`

	// Unlockable reports whether Unlock would pass its timing check at the
	// context's ledger time.
	Unlockable bool `json:"unlockable"`
}

// JournalConfig configures getJournal requests.
type JournalConfig struct {
	Account string `json:"account,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// JournalEntry is an executed transaction as returned by RPC.
type JournalEntry struct {
	ID                string   `json:"id"`
	Sequence          uint64   `json:"sequence"`
	Time              int64    `json:"time"`
	Slot              uint64   `json:"slot"`
	Instructions      []string `json:"instructions"`
	Accounts          []string `json:"accounts"`
	Success           bool     `json:"success"`
	Err               *TxError `json:"err"`
	Logs              []string `json:"logs"`
	ComputeUnits      uint64   `json:"computeUnitsConsumed"`
	ModifiedAccounts  []string `json:"modifiedAccounts"`
	StateHash         string   `json:"stateHash,omitempty"`
}

// TxError describes why a transaction failed.
type TxError struct {
	Instruction int     `json:"instruction"`
	Message     string  `json:"message"`
	CustomCode  *uint32 `json:"customCode,omitempty"`
	Program     string  `json:"program,omitempty"`
	Category    string  `json:"category,omitempty"`
}

// TransactionRequest is a transaction submitted through sendTransaction.
// Signer flags are trusted; the node does not verify signatures.
type TransactionRequest struct {
	Instructions     []InstructionRequest `json:"instructions"`
	ComputeUnitLimit uint64               `json:"computeUnitLimit,omitempty"`
}

// InstructionRequest is one instruction of a TransactionRequest.
type InstructionRequest struct {
	ProgramID string               `json:"programId"`
	Accounts  []AccountMetaRequest `json:"accounts"`
	Data      string               `json:"data"`
	Encoding  Encoding             `json:"encoding,omitempty"`
}

// AccountMetaRequest is an account reference in an InstructionRequest.
type AccountMetaRequest struct {
	Pubkey     string `json:"pubkey"`
	IsSigner   bool   `json:"isSigner"`
	IsWritable bool   `json:"isWritable"`
}

func pubkeyToString(p types.Pubkey) string {
	return p.String()
}

func pubkeysToStrings(pubkeys []types.Pubkey) []string {
	out := make([]string, len(pubkeys))
	for i, p := range pubkeys {
		out[i] = pubkeyToString(p)
	}
	return out
}
