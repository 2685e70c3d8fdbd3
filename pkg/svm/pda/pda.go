// Package pda derives program addresses.
//
// A program derived address is sha256(seeds || programID || "ProgramDerivedAddress")
// with the additional rule that the digest must not decode as an ed25519
// curve point, so no private key can exist for it. Only the owning program
// can "sign" for such an address, by presenting the seeds to the runtime.
package pda

import (
	"crypto/sha256"

	"github.com/jdgcs/ed25519/edwards25519"
	"github.com/pkg/errors"

	"github.com/fortiblox/locksmith/internal/types"
)

// Derivation limits.
const (
	MaxSeeds   = 16
	MaxSeedLen = 32
)

var pdaMarker = []byte("ProgramDerivedAddress")

var (
	ErrMaxSeedsExceeded      = errors.New("max seeds exceeded")
	ErrMaxSeedLengthExceeded = errors.New("max seed length exceeded")

	// ErrInvalidSeeds is returned when the digest lies on the ed25519 curve.
	ErrInvalidSeeds = errors.New("invalid seeds: derived address is on curve")

	// ErrNoViableBump is returned when all 256 bump seeds land on the curve.
	ErrNoViableBump = errors.New("unable to find a viable program address bump seed")
)

// Meter is charged once per derivation attempt.
type Meter interface {
	Consume(cost uint64) error
}

// CreateProgramAddress derives the address for exactly the given seeds.
func CreateProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, error) {
	var addr types.Pubkey
	if len(seeds) > MaxSeeds {
		return addr, ErrMaxSeedsExceeded
	}

	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return addr, ErrMaxSeedLengthExceeded
		}
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write(pdaMarker)
	copy(addr[:], h.Sum(nil))

	if IsOnCurve(addr) {
		return types.Pubkey{}, ErrInvalidSeeds
	}
	return addr, nil
}

// FindProgramAddress probes bump seeds from 255 down to 0, appending the bump
// as the final seed, and returns the first off-curve address.
func FindProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, uint8, error) {
	return FindProgramAddressMetered(seeds, programID, nil)
}

// FindProgramAddressMetered is FindProgramAddress with each probe charged
// CUFindProgramAddress against m. A nil meter is free.
func FindProgramAddressMetered(seeds [][]byte, programID types.Pubkey, m Meter) (types.Pubkey, uint8, error) {
	if len(seeds) > MaxSeeds-1 {
		return types.Pubkey{}, 0, ErrMaxSeedsExceeded
	}

	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	bumpSeed := []byte{0}

	for bump := 255; bump >= 0; bump-- {
		if m != nil {
			if err := m.Consume(CUFindProgramAddress); err != nil {
				return types.Pubkey{}, 0, err
			}
		}

		bumpSeed[0] = uint8(bump)
		withBump[len(seeds)] = bumpSeed

		addr, err := CreateProgramAddress(withBump, programID)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if err != ErrInvalidSeeds {
			return types.Pubkey{}, 0, err
		}
	}

	return types.Pubkey{}, 0, ErrNoViableBump
}

// CUFindProgramAddress is the compute cost of one derivation probe.
const CUFindProgramAddress = uint64(1_500)

// IsOnCurve reports whether b is a valid compressed ed25519 point.
func IsOnCurve(b types.Pubkey) bool {
	var A edwards25519.ExtendedGroupElement
	point := [32]byte(b)
	return A.FromBytes(&point)
}
