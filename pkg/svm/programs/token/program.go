// Package token implements the subset of the SPL Token program the ledger
// needs: mints, token accounts, transfers and account closing. Account
// layouts and instruction encodings are byte-compatible with SPL Token.
package token

import (
	"encoding/binary"

	"github.com/fortiblox/locksmith/internal/types"
	"github.com/fortiblox/locksmith/pkg/svm"
)

// ProgramID is the address of the token program.
var ProgramID = types.TokenProgramAddr

type Command byte

const (
	CommandTransfer           Command = 3
	CommandMintTo             Command = 7
	CommandCloseAccount       Command = 9
	CommandInitializeAccount3 Command = 18
	CommandInitializeMint2    Command = 20
)

func (c Command) String() string {
	switch c {
	case CommandTransfer:
		return "Transfer"
	case CommandMintTo:
		return "MintTo"
	case CommandCloseAccount:
		return "CloseAccount"
	case CommandInitializeAccount3:
		return "InitializeAccount3"
	case CommandInitializeMint2:
		return "InitializeMint2"
	default:
		return ""
	}
}

// InitializeMint2 builds an instruction initializing a rent-exempt, token
// program owned account as a mint.
//
// Accounts:
//  0. [WRITE] The mint to initialize.
func InitializeMint2(mint, mintAuthority types.Pubkey, freezeAuthority *types.Pubkey, decimals uint8) svm.Instruction {
	data := make([]byte, 1+1+32+1+32)
	data[0] = byte(CommandInitializeMint2)
	data[1] = decimals
	copy(data[2:], mintAuthority[:])
	if freezeAuthority != nil {
		data[34] = 1
		copy(data[35:], freezeAuthority[:])
	} else {
		data = data[:35]
	}

	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts:  []svm.AccountMeta{svm.NewAccountMeta(mint, false)},
		Data:      data,
	}
}

// InitializeAccount3 builds an instruction initializing a token account
// whose authority is owner. The owner need not sign.
//
// Accounts:
//  0. [WRITE] The account to initialize.
//  1. [] The mint this account will be associated with.
func InitializeAccount3(account, mint, owner types.Pubkey) svm.Instruction {
	data := make([]byte, 1+32)
	data[0] = byte(CommandInitializeAccount3)
	copy(data[1:], owner[:])

	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts: []svm.AccountMeta{
			svm.NewAccountMeta(account, false),
			svm.NewReadonlyAccountMeta(mint, false),
		},
		Data: data,
	}
}

// Transfer builds a token transfer.
//
// Accounts:
//  0. [WRITE] The source account.
//  1. [WRITE] The destination account.
//  2. [SIGNER] The source account's owner.
func Transfer(source, dest, owner types.Pubkey, amount uint64) svm.Instruction {
	data := make([]byte, 1+8)
	data[0] = byte(CommandTransfer)
	binary.LittleEndian.PutUint64(data[1:], amount)

	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts: []svm.AccountMeta{
			svm.NewAccountMeta(source, false),
			svm.NewAccountMeta(dest, false),
			svm.NewReadonlyAccountMeta(owner, true),
		},
		Data: data,
	}
}

// MintTo builds an instruction minting new tokens into dest.
//
// Accounts:
//  0. [WRITE] The mint.
//  1. [WRITE] The account to mint tokens to.
//  2. [SIGNER] The mint's minting authority.
func MintTo(mint, dest, authority types.Pubkey, amount uint64) svm.Instruction {
	data := make([]byte, 1+8)
	data[0] = byte(CommandMintTo)
	binary.LittleEndian.PutUint64(data[1:], amount)

	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts: []svm.AccountMeta{
			svm.NewAccountMeta(mint, false),
			svm.NewAccountMeta(dest, false),
			svm.NewReadonlyAccountMeta(authority, true),
		},
		Data: data,
	}
}

// CloseAccount builds an instruction closing an empty token account and
// moving its lamports to dest.
//
// Accounts:
//  0. [WRITE] The account to close.
//  1. [WRITE] The destination account.
//  2. [SIGNER] The account's owner or close authority.
func CloseAccount(account, dest, owner types.Pubkey) svm.Instruction {
	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts: []svm.AccountMeta{
			svm.NewAccountMeta(account, false),
			svm.NewAccountMeta(dest, false),
			svm.NewReadonlyAccountMeta(owner, true),
		},
		Data: []byte{byte(CommandCloseAccount)},
	}
}
