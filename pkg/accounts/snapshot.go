package accounts

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/zeebo/blake3"

	"github.com/fortiblox/locksmith/internal/types"
)

// Snapshot file format version.
const snapshotVersion uint32 = 1

// snapshotMagic identifies a locksmith ledger snapshot.
var snapshotMagic = [4]byte{'L', 'K', 'S', 'N'}

const snapshotHeaderSize = 4 + 4 + 8 + 8 + 32

var (
	// ErrSnapshotCorrupted is returned when a snapshot fails its checksum
	// or state hash verification.
	ErrSnapshotCorrupted = errors.New("snapshot corrupted")

	// ErrNotEmpty is returned when restoring into a database that already
	// holds accounts.
	ErrNotEmpty = errors.New("database not empty")
)

// SnapshotHeader contains metadata about a snapshot.
type SnapshotHeader struct {
	Version       uint32
	Slot          uint64
	AccountsCount uint64

	// StateHash is ComputeStateHash of the snapshotted database.
	StateHash types.Hash
}

func (h *SnapshotHeader) marshal() []byte {
	buf := make([]byte, snapshotHeaderSize)
	copy(buf[0:4], snapshotMagic[:])
	binary.LittleEndian.PutUint32(buf[4:], h.Version)
	binary.LittleEndian.PutUint64(buf[8:], h.Slot)
	binary.LittleEndian.PutUint64(buf[16:], h.AccountsCount)
	copy(buf[24:], h.StateHash[:])
	return buf
}

func (h *SnapshotHeader) unmarshal(buf []byte) error {
	if [4]byte(buf[0:4]) != snapshotMagic {
		return errors.Errorf("invalid snapshot magic: %q", buf[0:4])
	}
	h.Version = binary.LittleEndian.Uint32(buf[4:])
	if h.Version != snapshotVersion {
		return errors.Errorf("unsupported snapshot version: %d", h.Version)
	}
	h.Slot = binary.LittleEndian.Uint64(buf[8:])
	h.AccountsCount = binary.LittleEndian.Uint64(buf[16:])
	copy(h.StateHash[:], buf[24:])
	return nil
}

// WriteSnapshot streams every account in db to w.
//
// Layout:
//   - header (plain): magic "LKSN", version u32, slot u64, count u64, state hash
//   - zstd stream: count records of pubkey (32) + size u32 + serialized account,
//     followed by a blake3 digest of the header and all records
func WriteSnapshot(db DB, w io.Writer) (*SnapshotHeader, error) {
	stateHash, err := ComputeStateHash(db)
	if err != nil {
		return nil, errors.Wrap(err, "compute state hash")
	}
	count, err := db.AccountsCount()
	if err != nil {
		return nil, err
	}

	header := &SnapshotHeader{
		Version:       snapshotVersion,
		Slot:          db.GetSlot(),
		AccountsCount: count,
		StateHash:     stateHash,
	}
	headerBytes := header.marshal()
	if _, err := w.Write(headerBytes); err != nil {
		return nil, errors.Wrap(err, "write header")
	}

	enc, err := zstd.NewWriter(w)
	if err != nil {
		return nil, errors.Wrap(err, "init zstd writer")
	}
	bw := bufio.NewWriter(enc)
	sum := blake3.New()
	sum.Write(headerBytes)
	out := io.MultiWriter(bw, sum)

	var written uint64
	err = db.IterateAccounts(func(pubkey types.Pubkey, account *Account) error {
		data := account.Serialize()
		var size [4]byte
		binary.LittleEndian.PutUint32(size[:], uint32(len(data)))
		for _, part := range [][]byte{pubkey[:], size[:], data} {
			if _, err := out.Write(part); err != nil {
				return err
			}
		}
		written++
		return nil
	})
	if err != nil {
		enc.Close()
		return nil, errors.Wrap(err, "write accounts")
	}
	if written != count {
		enc.Close()
		return nil, errors.Errorf("account count changed during snapshot: %d != %d", written, count)
	}

	if _, err := bw.Write(sum.Sum(nil)); err != nil {
		enc.Close()
		return nil, err
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, errors.Wrap(err, "close zstd writer")
	}
	return header, nil
}

// SnapshotReader reads accounts from a snapshot stream.
type SnapshotReader struct {
	dec    *zstd.Decoder
	reader *bufio.Reader
	sum    hash.Hash
	Header SnapshotHeader
	read   uint64
}

// OpenSnapshot reads the header of a snapshot and prepares the record stream.
func OpenSnapshot(r io.Reader) (*SnapshotReader, error) {
	buf := make([]byte, snapshotHeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.Wrap(err, "read header")
	}

	sr := &SnapshotReader{sum: blake3.New()}
	if err := sr.Header.unmarshal(buf); err != nil {
		return nil, err
	}
	sr.sum.Write(buf)

	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "init zstd reader")
	}
	sr.dec = dec
	sr.reader = bufio.NewReader(dec)
	return sr, nil
}

// ReadAccount reads the next account from the snapshot. After the last
// account it verifies the trailing checksum and returns io.EOF.
func (sr *SnapshotReader) ReadAccount() (types.Pubkey, *Account, error) {
	if sr.read >= sr.Header.AccountsCount {
		return types.Pubkey{}, nil, sr.verifyChecksum()
	}

	in := io.TeeReader(sr.reader, sr.sum)

	var pubkey types.Pubkey
	if _, err := io.ReadFull(in, pubkey[:]); err != nil {
		return types.Pubkey{}, nil, errors.Wrap(err, "read pubkey")
	}

	var sizeBuf [4]byte
	if _, err := io.ReadFull(in, sizeBuf[:]); err != nil {
		return types.Pubkey{}, nil, errors.Wrap(err, "read size")
	}
	size := binary.LittleEndian.Uint32(sizeBuf[:])

	const maxSerializedSize = MaxAccountDataSize + 57
	if size > maxSerializedSize {
		return types.Pubkey{}, nil, errors.Errorf("account size %d exceeds maximum %d", size, maxSerializedSize)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(in, data); err != nil {
		return types.Pubkey{}, nil, errors.Wrap(err, "read account data")
	}

	account, err := DeserializeAccount(data)
	if err != nil {
		return types.Pubkey{}, nil, errors.Wrapf(err, "deserialize account %s", pubkey)
	}

	sr.read++
	return pubkey, account, nil
}

func (sr *SnapshotReader) verifyChecksum() error {
	var trailer [32]byte
	if _, err := io.ReadFull(sr.reader, trailer[:]); err != nil {
		return errors.Wrap(ErrSnapshotCorrupted, "missing checksum")
	}
	if got := sr.sum.Sum(nil); string(got) != string(trailer[:]) {
		return errors.Wrap(ErrSnapshotCorrupted, "checksum mismatch")
	}
	return io.EOF
}

// Close releases the decoder.
func (sr *SnapshotReader) Close() {
	sr.dec.Close()
}

// RestoreSnapshot loads a snapshot into an empty db in a single Apply and
// verifies the resulting state hash.
func RestoreSnapshot(db DB, r io.Reader) (*SnapshotHeader, error) {
	count, err := db.AccountsCount()
	if err != nil {
		return nil, err
	}
	if count != 0 {
		return nil, ErrNotEmpty
	}

	sr, err := OpenSnapshot(r)
	if err != nil {
		return nil, err
	}
	defer sr.Close()

	updates := make([]Update, 0, sr.Header.AccountsCount)
	for {
		pubkey, account, err := sr.ReadAccount()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		updates = append(updates, Update{Pubkey: pubkey, Account: account})
	}

	if got := ComputeDeltaHash(updates); got != sr.Header.StateHash {
		return nil, errors.Wrapf(ErrSnapshotCorrupted, "state hash mismatch: expected %s, got %s",
			sr.Header.StateHash, got)
	}

	if err := db.Apply(sr.Header.Slot, updates); err != nil {
		return nil, errors.Wrap(err, "apply snapshot")
	}
	return &sr.Header, nil
}

// SnapshotFilename returns the standard filename for a snapshot.
func SnapshotFilename(slot uint64, stateHash types.Hash) string {
	return fmt.Sprintf("snapshot-%d-%s.lksnap", slot, stateHash.String()[:16])
}
