package svm

import (
	"sync"
	"time"
)

// Clock supplies ledger time. The runtime samples it once per transaction,
// so every instruction in a transaction observes the same timestamp.
type Clock interface {
	UnixTimestamp() int64
}

// SystemClock reads wall-clock time.
type SystemClock struct{}

// UnixTimestamp returns the current unix time in seconds.
func (SystemClock) UnixTimestamp() int64 {
	return time.Now().Unix()
}

// ManualClock is a settable clock for tests and replay.
type ManualClock struct {
	mu sync.Mutex
	ts int64
}

// NewManualClock returns a clock fixed at ts.
func NewManualClock(ts int64) *ManualClock {
	return &ManualClock{ts: ts}
}

// UnixTimestamp returns the current setting.
func (c *ManualClock) UnixTimestamp() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ts
}

// Set moves the clock to ts.
func (c *ManualClock) Set(ts int64) {
	c.mu.Lock()
	c.ts = ts
	c.mu.Unlock()
}

// Advance moves the clock forward by d seconds.
func (c *ManualClock) Advance(d int64) {
	c.mu.Lock()
	c.ts += d
	c.mu.Unlock()
}

// AccountStorageOverhead is the per-account byte overhead charged by rent.
const AccountStorageOverhead = 128

// Rent is the rent sysvar. An account is rent exempt when it holds
// ExemptionYears worth of rent for its size.
type Rent struct {
	LamportsPerByteYear uint64
	ExemptionYears      uint64
}

// DefaultRent matches mainnet parameters.
func DefaultRent() Rent {
	return Rent{
		LamportsPerByteYear: 3480,
		ExemptionYears:      2,
	}
}

// MinimumBalance returns the rent-exempt minimum for dataLen bytes.
func (r Rent) MinimumBalance(dataLen uint64) uint64 {
	return (AccountStorageOverhead + dataLen) * r.LamportsPerByteYear * r.ExemptionYears
}
