// Package accounts implements the ledger's account store.
//
// Every piece of ledger state (wallets, token mints, token accounts, program
// records such as locks) is an Account keyed by its 32-byte address. The
// runtime loads accounts into a per-transaction working set and writes the
// result back through a single Apply call, so a transaction either lands in
// full or not at all.
//
// Two implementations are provided:
//   - MemoryDB, a mutex-guarded map for tests and ephemeral nodes
//   - BadgerDB, a durable store where Apply is one badger transaction
//
// An account with zero lamports does not exist. Apply deletes such entries
// instead of storing them.
package accounts

import (
	"encoding/binary"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/fortiblox/locksmith/internal/types"
)

var (
	// ErrAccountNotFound is returned when an account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrClosed is returned when operating on a closed database.
	ErrClosed = errors.New("database closed")

	// ErrInvalidData is returned when a stored account is malformed.
	ErrInvalidData = errors.New("invalid account data")
)

// MaxAccountDataSize is the largest data buffer an account may hold.
const MaxAccountDataSize = 10 * 1024 * 1024

// Account is a single ledger entry.
type Account struct {
	// Lamports is the native balance. It also pays for the account's storage.
	Lamports uint64

	// Data is interpreted by the owning program.
	Data []byte

	// Owner is the program allowed to modify Data and debit Lamports.
	Owner types.Pubkey

	// Executable marks program accounts.
	Executable bool

	RentEpoch uint64
}

// Clone creates a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	dataCopy := make([]byte, len(a.Data))
	copy(dataCopy, a.Data)
	return &Account{
		Lamports:   a.Lamports,
		Data:       dataCopy,
		Owner:      a.Owner,
		Executable: a.Executable,
		RentEpoch:  a.RentEpoch,
	}
}

// IsZero returns true if the account holds no lamports. Such accounts are
// purged at commit.
func (a *Account) IsZero() bool {
	return a.Lamports == 0
}

// Size returns the total serialized size of the account.
func (a *Account) Size() int {
	// lamports (8) + data_len (8) + data + owner (32) + executable (1) + rent_epoch (8)
	return 8 + 8 + len(a.Data) + 32 + 1 + 8
}

// Serialize encodes the account for storage.
func (a *Account) Serialize() []byte {
	buf := make([]byte, a.Size())
	offset := 0

	binary.LittleEndian.PutUint64(buf[offset:], a.Lamports)
	offset += 8
	binary.LittleEndian.PutUint64(buf[offset:], uint64(len(a.Data)))
	offset += 8
	copy(buf[offset:], a.Data)
	offset += len(a.Data)
	copy(buf[offset:], a.Owner[:])
	offset += 32
	if a.Executable {
		buf[offset] = 1
	}
	offset++
	binary.LittleEndian.PutUint64(buf[offset:], a.RentEpoch)

	return buf
}

// DeserializeAccount decodes an account produced by Serialize.
func DeserializeAccount(data []byte) (*Account, error) {
	const fixed = 8 + 8 + 32 + 1 + 8
	if len(data) < fixed {
		return nil, ErrInvalidData
	}

	lamports := binary.LittleEndian.Uint64(data[0:])
	dataLen := binary.LittleEndian.Uint64(data[8:])
	if dataLen > MaxAccountDataSize || uint64(len(data)) != fixed+dataLen {
		return nil, ErrInvalidData
	}

	offset := 16
	accountData := make([]byte, dataLen)
	copy(accountData, data[offset:offset+int(dataLen)])
	offset += int(dataLen)

	var owner types.Pubkey
	copy(owner[:], data[offset:offset+32])
	offset += 32

	executable := data[offset] != 0
	offset++

	return &Account{
		Lamports:   lamports,
		Data:       accountData,
		Owner:      owner,
		Executable: executable,
		RentEpoch:  binary.LittleEndian.Uint64(data[offset:]),
	}, nil
}

// Update is one entry of an atomic write set. A nil or zero-lamport Account
// deletes the address.
type Update struct {
	Pubkey  types.Pubkey
	Account *Account
}

// IsDelete reports whether the update removes the account.
func (u Update) IsDelete() bool {
	return u.Account == nil || u.Account.IsZero()
}

// DB is the accounts database interface.
// Implementations must be safe for concurrent use.
type DB interface {
	// GetAccount retrieves an account by public key.
	// Returns ErrAccountNotFound if the account doesn't exist.
	GetAccount(pubkey types.Pubkey) (*Account, error)

	// SetAccount stores a single account.
	SetAccount(pubkey types.Pubkey, account *Account) error

	// DeleteAccount removes an account.
	// Returns nil if the account doesn't exist.
	DeleteAccount(pubkey types.Pubkey) error

	// HasAccount checks if an account exists.
	HasAccount(pubkey types.Pubkey) (bool, error)

	// Apply writes every update or none of them, and records slot as the
	// new ledger height.
	Apply(slot uint64, updates []Update) error

	// IterateAccounts visits all accounts in ascending pubkey order.
	IterateAccounts(fn func(pubkey types.Pubkey, account *Account) error) error

	// GetSlot returns the height recorded by the last Apply.
	GetSlot() uint64

	// AccountsCount returns the total number of accounts.
	AccountsCount() (uint64, error)

	// Close closes the database.
	Close() error
}

// MemoryDB is an in-memory implementation of DB.
type MemoryDB struct {
	mu       sync.RWMutex
	accounts map[types.Pubkey]*Account
	slot     uint64
	closed   bool
}

// NewMemoryDB creates a new in-memory accounts database.
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		accounts: make(map[types.Pubkey]*Account),
	}
}

// GetAccount retrieves an account.
func (m *MemoryDB) GetAccount(pubkey types.Pubkey) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	acc, ok := m.accounts[pubkey]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return acc.Clone(), nil
}

// SetAccount stores an account.
func (m *MemoryDB) SetAccount(pubkey types.Pubkey, account *Account) error {
	return m.Apply(m.GetSlot(), []Update{{Pubkey: pubkey, Account: account}})
}

// DeleteAccount removes an account.
func (m *MemoryDB) DeleteAccount(pubkey types.Pubkey) error {
	return m.Apply(m.GetSlot(), []Update{{Pubkey: pubkey}})
}

// HasAccount checks if an account exists.
func (m *MemoryDB) HasAccount(pubkey types.Pubkey) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.accounts[pubkey]
	return ok, nil
}

// Apply writes all updates under one lock.
func (m *MemoryDB) Apply(slot uint64, updates []Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	for _, u := range updates {
		if u.IsDelete() {
			delete(m.accounts, u.Pubkey)
			continue
		}
		m.accounts[u.Pubkey] = u.Account.Clone()
	}
	m.slot = slot
	return nil
}

// IterateAccounts visits accounts in ascending pubkey order. The callback
// runs on a copy, so it may call back into the database.
func (m *MemoryDB) IterateAccounts(fn func(pubkey types.Pubkey, account *Account) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	keys := make([]types.Pubkey, 0, len(m.accounts))
	snapshot := make(map[types.Pubkey]*Account, len(m.accounts))
	for k, v := range m.accounts {
		keys = append(keys, k)
		snapshot[k] = v.Clone()
	}
	m.mu.RUnlock()

	SortPubkeys(keys)
	for _, k := range keys {
		if err := fn(k, snapshot[k]); err != nil {
			return err
		}
	}
	return nil
}

// GetSlot returns the current slot.
func (m *MemoryDB) GetSlot() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.slot
}

// AccountsCount returns the number of accounts.
func (m *MemoryDB) AccountsCount() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrClosed
	}
	return uint64(len(m.accounts)), nil
}

// Close closes the database.
func (m *MemoryDB) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.accounts = nil
	return nil
}

// SortPubkeys sorts a slice of pubkeys in ascending order.
func SortPubkeys(pubkeys []types.Pubkey) {
	sort.Slice(pubkeys, func(i, j int) bool {
		return pubkeys[i].Less(pubkeys[j])
	})
}

var _ DB = (*MemoryDB)(nil)
