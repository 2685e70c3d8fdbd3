package accounts

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/fortiblox/locksmith/internal/types"
)

// ComputeAccountHash hashes a single account:
// SHA256(lamports || rent_epoch || data || executable || owner || pubkey).
// Deleted accounts hash to the zero hash.
func ComputeAccountHash(pubkey types.Pubkey, account *Account) types.Hash {
	if account == nil || account.IsZero() {
		return types.Hash{}
	}

	size := 8 + 8 + len(account.Data) + 1 + 32 + 32
	buf := make([]byte, size)
	offset := 0

	binary.LittleEndian.PutUint64(buf[offset:], account.Lamports)
	offset += 8
	binary.LittleEndian.PutUint64(buf[offset:], account.RentEpoch)
	offset += 8
	copy(buf[offset:], account.Data)
	offset += len(account.Data)
	if account.Executable {
		buf[offset] = 1
	}
	offset++
	copy(buf[offset:], account.Owner[:])
	offset += 32
	copy(buf[offset:], pubkey[:])

	return sha256.Sum256(buf)
}

// ComputeDeltaHash is the merkle root over the hashes of an update set,
// sorted by pubkey. It identifies exactly what a transaction changed.
func ComputeDeltaHash(updates []Update) types.Hash {
	if len(updates) == 0 {
		return types.Hash{}
	}

	byKey := make(map[types.Pubkey]*Account, len(updates))
	keys := make([]types.Pubkey, 0, len(updates))
	for _, u := range updates {
		if _, seen := byKey[u.Pubkey]; !seen {
			keys = append(keys, u.Pubkey)
		}
		byKey[u.Pubkey] = u.Account
	}
	SortPubkeys(keys)

	hashes := make([]types.Hash, len(keys))
	for i, k := range keys {
		hashes[i] = ComputeAccountHash(k, byKey[k])
	}
	return ComputeMerkleRoot(hashes)
}

// ComputeStateHash is the merkle root over every account in db.
func ComputeStateHash(db DB) (types.Hash, error) {
	var hashes []types.Hash
	err := db.IterateAccounts(func(pubkey types.Pubkey, account *Account) error {
		hashes = append(hashes, ComputeAccountHash(pubkey, account))
		return nil
	})
	if err != nil {
		return types.Hash{}, err
	}
	return ComputeMerkleRoot(hashes), nil
}

// ComputeMerkleRoot computes the binary Merkle root of a list of hashes.
//
// Tree structure:
//   - Leaf: SHA256(0x00 || hash)
//   - Node: SHA256(0x01 || left || right)
//   - An odd node out is paired with the zero hash
func ComputeMerkleRoot(hashes []types.Hash) types.Hash {
	if len(hashes) == 0 {
		return types.Hash{}
	}

	level := make([]types.Hash, len(hashes))
	for i, h := range hashes {
		level[i] = computeLeafHash(h)
	}

	for len(level) > 1 {
		next := make([]types.Hash, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			var right types.Hash
			if i+1 < len(level) {
				right = level[i+1]
			}
			next[i/2] = computeNodeHash(level[i], right)
		}
		level = next
	}

	return level[0]
}

func computeLeafHash(data types.Hash) types.Hash {
	var buf [1 + 32]byte
	copy(buf[1:], data[:])
	return sha256.Sum256(buf[:])
}

func computeNodeHash(left, right types.Hash) types.Hash {
	var buf [1 + 32 + 32]byte
	buf[0] = 0x01
	copy(buf[1:], left[:])
	copy(buf[33:], right[:])
	return sha256.Sum256(buf[:])
}
