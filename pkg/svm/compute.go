package svm

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

// Compute unit costs for native programs.
const (
	CUDefault = uint64(200_000)   // Default limit per top-level instruction
	CUMax     = uint64(1_400_000) // Max limit per transaction

	CUInvokeBase           = uint64(1_000) // Charged per cross-program invocation
	CUCreateProgramAddress = uint64(1_500) // Per verified signer seed set

	CUSystemProgramDefault = uint64(150)
	CUTokenProgramDefault  = uint64(2_000)
)

// CPIDepthMax is the deepest allowed invoke nesting, counting the
// top-level instruction.
const CPIDepthMax = 4

// ErrComputeExceeded is returned when compute units are exhausted.
var ErrComputeExceeded = errors.New("compute budget exceeded")

// ComputeMeter tracks compute unit consumption for one transaction.
type ComputeMeter struct {
	remaining uint64
	consumed  uint64
	limit     uint64
}

// NewComputeMeter creates a new compute meter with the specified limit.
func NewComputeMeter(limit uint64) *ComputeMeter {
	if limit > CUMax {
		limit = CUMax
	}
	return &ComputeMeter{
		remaining: limit,
		limit:     limit,
	}
}

// Consume attempts to consume the specified compute units.
// Returns ErrComputeExceeded if insufficient units remain; the meter is
// drained in that case.
func (cm *ComputeMeter) Consume(cost uint64) error {
	for {
		remaining := atomic.LoadUint64(&cm.remaining)
		if remaining < cost {
			atomic.AddUint64(&cm.consumed, remaining)
			atomic.StoreUint64(&cm.remaining, 0)
			return ErrComputeExceeded
		}
		if atomic.CompareAndSwapUint64(&cm.remaining, remaining, remaining-cost) {
			atomic.AddUint64(&cm.consumed, cost)
			return nil
		}
	}
}

// Remaining returns the remaining compute units.
func (cm *ComputeMeter) Remaining() uint64 {
	return atomic.LoadUint64(&cm.remaining)
}

// Consumed returns the total consumed compute units.
func (cm *ComputeMeter) Consumed() uint64 {
	return atomic.LoadUint64(&cm.consumed)
}

// Limit returns the compute unit limit.
func (cm *ComputeMeter) Limit() uint64 {
	return cm.limit
}
