package locksmith

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/fortiblox/locksmith/internal/layout"
	"github.com/fortiblox/locksmith/internal/types"
)

var (
	ErrLengthMismatch        = errors.New("buffer length mismatch")
	ErrDiscriminatorMismatch = errors.New("discriminator mismatch")
)

// Account record sizes.
const (
	DiscriminatorSize = 8
	ConfigSize        = DiscriminatorSize + 32 + 1
	LockSize          = DiscriminatorSize + 32 + 32 + 8 + 8 + 8 + 8 + 1
)

var (
	configDiscriminator = []byte("CONFIG\x00\x00")
	lockDiscriminator   = []byte("LOCK\x00\x00\x00\x00")
)

// Config is the singleton program configuration, stored at ConfigAddress.
type Config struct {
	Admin types.Pubkey
	Bump  uint8
}

func (c *Config) Marshal() []byte {
	b := make([]byte, ConfigSize)

	offset := copy(b, configDiscriminator)
	layout.PutKey32(b, c.Admin, &offset)
	layout.PutUint8(b, c.Bump, &offset)

	return b
}

func (c *Config) Unmarshal(b []byte) error {
	if len(b) != ConfigSize {
		return errors.Wrapf(ErrLengthMismatch, "config: got %d bytes, want %d", len(b), ConfigSize)
	}
	if !bytes.Equal(b[:DiscriminatorSize], configDiscriminator) {
		return errors.Wrap(ErrDiscriminatorMismatch, "config")
	}

	offset := DiscriminatorSize
	layout.GetKey32(b, &c.Admin, &offset)
	layout.GetUint8(b, &c.Bump, &offset)

	return nil
}

// Lock is a single time-lock, stored at LockAddress(Owner, Mint, LockID).
type Lock struct {
	Owner           types.Pubkey
	Mint            types.Pubkey
	Amount          uint64
	UnlockTimestamp int64
	CreatedAt       int64
	LockID          uint64
	Bump            uint8
}

func (l *Lock) Marshal() []byte {
	b := make([]byte, LockSize)

	offset := copy(b, lockDiscriminator)
	layout.PutKey32(b, l.Owner, &offset)
	layout.PutKey32(b, l.Mint, &offset)
	layout.PutUint64(b, l.Amount, &offset)
	layout.PutInt64(b, l.UnlockTimestamp, &offset)
	layout.PutInt64(b, l.CreatedAt, &offset)
	layout.PutUint64(b, l.LockID, &offset)
	layout.PutUint8(b, l.Bump, &offset)

	return b
}

func (l *Lock) Unmarshal(b []byte) error {
	if len(b) != LockSize {
		return errors.Wrapf(ErrLengthMismatch, "lock: got %d bytes, want %d", len(b), LockSize)
	}
	if !bytes.Equal(b[:DiscriminatorSize], lockDiscriminator) {
		return errors.Wrap(ErrDiscriminatorMismatch, "lock")
	}

	offset := DiscriminatorSize
	layout.GetKey32(b, &l.Owner, &offset)
	layout.GetKey32(b, &l.Mint, &offset)
	layout.GetUint64(b, &l.Amount, &offset)
	layout.GetInt64(b, &l.UnlockTimestamp, &offset)
	layout.GetInt64(b, &l.CreatedAt, &offset)
	layout.GetUint64(b, &l.LockID, &offset)
	layout.GetUint8(b, &l.Bump, &offset)

	return nil
}

// Unlockable reports whether the lock may be released at ledger time now.
func (l *Lock) Unlockable(now int64) bool {
	return now >= l.UnlockTimestamp
}
