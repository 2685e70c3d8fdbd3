package token

import (
	"github.com/fortiblox/locksmith/internal/layout"
	"github.com/fortiblox/locksmith/internal/types"
)

// Account layout sizes.
const (
	MintSize    = 82
	AccountSize = 165
)

type AccountState byte

const (
	AccountStateUninitialized AccountState = iota
	AccountStateInitialized
	AccountStateFrozen
)

// Mint is the state of a token mint.
type Mint struct {
	// MintAuthority may mint new tokens. None means the supply is fixed.
	MintAuthority   *types.Pubkey
	Supply          uint64
	Decimals        uint8
	IsInitialized   bool
	FreezeAuthority *types.Pubkey
}

func (m *Mint) Marshal() []byte {
	b := make([]byte, MintSize)

	var offset int
	layout.PutOptionalKey32(b, m.MintAuthority, &offset)
	layout.PutUint64(b, m.Supply, &offset)
	layout.PutUint8(b, m.Decimals, &offset)
	layout.PutBool(b, m.IsInitialized, &offset)
	layout.PutOptionalKey32(b, m.FreezeAuthority, &offset)

	return b
}

func (m *Mint) Unmarshal(b []byte) bool {
	if len(b) != MintSize {
		return false
	}

	var offset int
	layout.GetOptionalKey32(b, &m.MintAuthority, &offset)
	layout.GetUint64(b, &m.Supply, &offset)
	layout.GetUint8(b, &m.Decimals, &offset)
	layout.GetBool(b, &m.IsInitialized, &offset)
	layout.GetOptionalKey32(b, &m.FreezeAuthority, &offset)

	return true
}

// Account is the state of a token account.
type Account struct {
	// The mint associated with this account
	Mint types.Pubkey
	// The owner of this account.
	Owner types.Pubkey
	// The amount of tokens this account holds.
	Amount uint64
	// If set, then the 'DelegatedAmount' represents the amount
	// authorized by the delegate.
	Delegate *types.Pubkey
	State    AccountState
	// If set, this is a native token account and the value is its
	// rent-exempt reserve.
	IsNative        *uint64
	DelegatedAmount uint64
	// Optional authority to close the account.
	CloseAuthority *types.Pubkey
}

func (a *Account) Marshal() []byte {
	b := make([]byte, AccountSize)

	var offset int
	layout.PutKey32(b, a.Mint, &offset)
	layout.PutKey32(b, a.Owner, &offset)
	layout.PutUint64(b, a.Amount, &offset)
	layout.PutOptionalKey32(b, a.Delegate, &offset)
	layout.PutUint8(b, uint8(a.State), &offset)
	layout.PutOptionalUint64(b, a.IsNative, &offset)
	layout.PutUint64(b, a.DelegatedAmount, &offset)
	layout.PutOptionalKey32(b, a.CloseAuthority, &offset)

	return b
}

func (a *Account) Unmarshal(b []byte) bool {
	if len(b) != AccountSize {
		return false
	}

	var offset int
	var state uint8
	layout.GetKey32(b, &a.Mint, &offset)
	layout.GetKey32(b, &a.Owner, &offset)
	layout.GetUint64(b, &a.Amount, &offset)
	layout.GetOptionalKey32(b, &a.Delegate, &offset)
	layout.GetUint8(b, &state, &offset)
	layout.GetOptionalUint64(b, &a.IsNative, &offset)
	layout.GetUint64(b, &a.DelegatedAmount, &offset)
	layout.GetOptionalKey32(b, &a.CloseAuthority, &offset)
	a.State = AccountState(state)

	return true
}

// IsInitialized reports whether the account has been initialized.
func (a *Account) IsInitialized() bool {
	return a.State != AccountStateUninitialized
}

// UnpackAccount decodes an initialized token account.
func UnpackAccount(data []byte) (*Account, error) {
	var a Account
	if !a.Unmarshal(data) {
		return nil, ErrorInvalidAccountData
	}
	if !a.IsInitialized() {
		return nil, ErrorUninitializedState
	}
	return &a, nil
}

// UnpackMint decodes an initialized mint.
func UnpackMint(data []byte) (*Mint, error) {
	var m Mint
	if !m.Unmarshal(data) {
		return nil, ErrorInvalidAccountData
	}
	if !m.IsInitialized {
		return nil, ErrorUninitializedState
	}
	return &m, nil
}
