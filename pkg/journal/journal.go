// Package journal keeps a persistent, append-only record of executed
// transactions.
//
// Entries are written after the runtime has committed (or rejected) a
// transaction, so the journal never holds state the account store lacks.
// Every entry is indexed under each account the transaction referenced,
// which backs per-account history queries.
package journal

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"github.com/fortiblox/locksmith/internal/types"
	"github.com/fortiblox/locksmith/pkg/svm"
)

var (
	// ErrEntryNotFound is returned when no entry has the requested sequence.
	ErrEntryNotFound = errors.New("journal entry not found")

	// ErrClosed is returned when operating on a closed journal.
	ErrClosed = errors.New("journal closed")
)

// Bucket names.
var (
	// bucketEntries stores gob-encoded entries keyed by sequence.
	bucketEntries = []byte("entries")

	// bucketAccountIndex maps account+sequence to nothing; presence is the index.
	bucketAccountIndex = []byte("account_entries")

	bucketMetadata = []byte("metadata")
)

var (
	keyLatestSequence = []byte("latest_sequence")
	keyOldestSequence = []byte("oldest_sequence")
)

// DefaultRetainEntries is the default number of entries kept by pruning.
const DefaultRetainEntries = 1_000_000

// DefaultQueryLimit bounds Recent and ForAccount when no limit is given.
const DefaultQueryLimit = 1000

// Entry is one executed transaction.
type Entry struct {
	ID       uuid.UUID
	Sequence uint64
	Time     time.Time

	// Slot is the ledger height after the transaction. Failed transactions
	// carry the unchanged height.
	Slot uint64

	// Instructions names each top-level instruction, e.g.
	// "locksmith.InitializeLock".
	Instructions []string

	// Accounts lists every account the transaction referenced.
	Accounts []types.Pubkey

	Success    bool
	Error      string
	CustomCode *uint32

	// FailedProgram is the program CustomCode belongs to.
	FailedProgram types.Pubkey

	// Category classifies a locksmith failure, e.g. "InvalidTemporal".
	Category string

	// FailedInstruction is the index of the failing instruction, or -1.
	FailedInstruction int

	Logs             []string
	ComputeUnits     uint64
	ModifiedAccounts []types.Pubkey
	StateHash        types.Hash
}

// NewEntry builds an unsequenced entry for tx from its execution result.
// Instruction names and the failure category are left to the caller.
func NewEntry(tx *svm.Transaction, res *svm.ExecutionResult) *Entry {
	entry := &Entry{
		Time:              time.Now(),
		Slot:              res.Slot,
		Success:           res.Success,
		Error:             res.Error,
		CustomCode:        res.CustomCode,
		FailedProgram:     res.FailedProgram,
		FailedInstruction: res.InstructionIndex,
		Logs:              res.Logs,
		ComputeUnits:      res.ComputeUnitsUsed,
		ModifiedAccounts:  res.ModifiedAccounts,
		StateHash:         res.StateHash,
	}
	seen := make(map[types.Pubkey]struct{})
	for _, ix := range tx.Instructions {
		for _, meta := range ix.Accounts {
			if _, ok := seen[meta.Pubkey]; ok {
				continue
			}
			seen[meta.Pubkey] = struct{}{}
			entry.Accounts = append(entry.Accounts, meta.Pubkey)
		}
	}
	return entry
}

// Config holds journal configuration options.
type Config struct {
	// Path is the database file.
	Path string

	// NoSync disables fsync after each write.
	NoSync bool

	// PruneEnabled enables background pruning down to RetainEntries.
	PruneEnabled bool

	PruneInterval time.Duration
	RetainEntries uint64
}

// DefaultConfig returns the default journal configuration.
func DefaultConfig(path string) Config {
	return Config{
		Path:          path,
		PruneEnabled:  true,
		PruneInterval: time.Hour,
		RetainEntries: DefaultRetainEntries,
	}
}

// Store is a bbolt-backed journal.
type Store struct {
	db     *bolt.DB
	config Config
	log    *logrus.Entry

	mu             sync.RWMutex
	closed         bool
	latestSequence uint64
	oldestSequence uint64

	pruneStop chan struct{}
	pruneWG   sync.WaitGroup
}

// Open opens or creates the journal at config.Path.
func Open(config Config) (*Store, error) {
	if config.Path == "" {
		return nil, errors.New("journal path is required")
	}
	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, errors.Wrap(err, "create journal directory")
	}

	db, err := bolt.Open(config.Path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
		NoSync:  config.NoSync,
	})
	if err != nil {
		return nil, errors.Wrap(err, "open bolt db")
	}

	s := &Store{
		db:        db,
		config:    config,
		log:       logrus.StandardLogger().WithField("type", "journal"),
		pruneStop: make(chan struct{}),
	}
	if err := s.initBuckets(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "init buckets")
	}
	if err := s.loadCachedValues(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "load cached values")
	}

	if config.PruneEnabled && config.PruneInterval > 0 {
		s.startPruning()
	}
	return s, nil
}

func (s *Store) initBuckets() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketEntries, bucketAccountIndex, bucketMetadata} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return errors.Wrapf(err, "create bucket %s", name)
			}
		}
		return nil
	})
}

func (s *Store) loadCachedValues() error {
	return s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMetadata)
		if v := meta.Get(keyLatestSequence); v != nil {
			s.latestSequence = decodeSequence(v)
		}
		if v := meta.Get(keyOldestSequence); v != nil {
			s.oldestSequence = decodeSequence(v)
		}
		return nil
	})
}

func (s *Store) startPruning() {
	s.pruneWG.Add(1)
	go func() {
		defer s.pruneWG.Done()
		ticker := time.NewTicker(s.config.PruneInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if n, err := s.Prune(s.config.RetainEntries); err != nil {
					s.log.WithError(err).Warn("prune failed")
				} else if n > 0 {
					s.log.WithField("pruned", n).Debug("pruned journal")
				}
			case <-s.pruneStop:
				return
			}
		}
	}()
}

// encodeSequence encodes a sequence as a big-endian key so bolt iterates
// entries in order.
func encodeSequence(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func decodeSequence(key []byte) uint64 {
	if len(key) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(key)
}

func accountKey(account types.Pubkey, seq uint64) []byte {
	key := make([]byte, 40)
	copy(key, account[:])
	binary.BigEndian.PutUint64(key[32:], seq)
	return key
}

// Append assigns entry the next sequence number and an id when it has none,
// then stores it together with its account index.
func (s *Store) Append(entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	seq := s.latestSequence + 1
	entry.Sequence = seq
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Time.IsZero() {
		entry.Time = time.Now()
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entry); err != nil {
		return errors.Wrap(err, "encode entry")
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketEntries).Put(encodeSequence(seq), buf.Bytes()); err != nil {
			return err
		}
		index := tx.Bucket(bucketAccountIndex)
		for _, account := range uniqueAccounts(entry) {
			if err := index.Put(accountKey(account, seq), []byte{}); err != nil {
				return err
			}
		}
		meta := tx.Bucket(bucketMetadata)
		if s.oldestSequence == 0 {
			if err := meta.Put(keyOldestSequence, encodeSequence(seq)); err != nil {
				return err
			}
		}
		return meta.Put(keyLatestSequence, encodeSequence(seq))
	})
	if err != nil {
		return errors.Wrapf(err, "append entry %d", seq)
	}

	s.latestSequence = seq
	if s.oldestSequence == 0 {
		s.oldestSequence = seq
	}
	return nil
}

func uniqueAccounts(entry *Entry) []types.Pubkey {
	seen := make(map[types.Pubkey]struct{}, len(entry.Accounts))
	var out []types.Pubkey
	for _, list := range [][]types.Pubkey{entry.Accounts, entry.ModifiedAccounts} {
		for _, account := range list {
			if _, ok := seen[account]; ok {
				continue
			}
			seen[account] = struct{}{}
			out = append(out, account)
		}
	}
	return out
}

// Get returns the entry with the given sequence.
func (s *Store) Get(seq uint64) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var entry *Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketEntries).Get(encodeSequence(seq))
		if v == nil {
			return ErrEntryNotFound
		}
		e, err := decodeEntry(v)
		entry = e
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func decodeEntry(v []byte) (*Entry, error) {
	var entry Entry
	if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&entry); err != nil {
		return nil, errors.Wrap(err, "decode entry")
	}
	return &entry, nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var out []*Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEntries).Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			entry, err := decodeEntry(v)
			if err != nil {
				return errors.Wrapf(err, "entry %d", decodeSequence(k))
			}
			out = append(out, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ForAccount returns up to limit entries that referenced account, newest
// first.
func (s *Store) ForAccount(account types.Pubkey, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var out []*Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		entries := tx.Bucket(bucketEntries)
		c := tx.Bucket(bucketAccountIndex).Cursor()

		prefix := account[:]
		// Position on the first key after account's range, then walk back.
		upper := accountKey(account, ^uint64(0))
		k, _ := c.Seek(upper)
		switch {
		case k == nil:
			k, _ = c.Last()
		case !bytes.Equal(k, upper):
			k, _ = c.Prev()
		}
		for ; k != nil && len(out) < limit; k, _ = c.Prev() {
			if !bytes.HasPrefix(k, prefix) {
				break
			}
			v := entries.Get(k[32:])
			if v == nil {
				// Pruned entry with a stale index key.
				continue
			}
			entry, err := decodeEntry(v)
			if err != nil {
				return err
			}
			out = append(out, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Prune deletes the oldest entries so that at most keep remain, and returns
// how many were removed.
func (s *Store) Prune(keep uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if s.latestSequence <= keep || s.oldestSequence == 0 {
		return 0, nil
	}
	cutoff := s.latestSequence - keep + 1
	if cutoff <= s.oldestSequence {
		return 0, nil
	}

	var pruned uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		entries := tx.Bucket(bucketEntries)
		index := tx.Bucket(bucketAccountIndex)

		c := entries.Cursor()
		end := encodeSequence(cutoff)
		for k, v := c.First(); k != nil && bytes.Compare(k, end) < 0; k, v = c.First() {
			if entry, err := decodeEntry(v); err == nil {
				seq := decodeSequence(k)
				for _, account := range uniqueAccounts(entry) {
					if err := index.Delete(accountKey(account, seq)); err != nil {
						return err
					}
				}
			}
			if err := c.Delete(); err != nil {
				return err
			}
			pruned++
		}
		return tx.Bucket(bucketMetadata).Put(keyOldestSequence, end)
	})
	if err != nil {
		return 0, errors.Wrap(err, "prune journal")
	}
	s.oldestSequence = cutoff
	return pruned, nil
}

// Stats contains journal statistics.
type Stats struct {
	LatestSequence uint64
	OldestSequence uint64
	DatabaseSize   int64
}

// Stats returns journal statistics.
func (s *Store) Stats() (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	stats := &Stats{
		LatestSequence: s.latestSequence,
		OldestSequence: s.oldestSequence,
	}
	if info, err := os.Stat(s.config.Path); err == nil {
		stats.DatabaseSize = info.Size()
	}
	return stats, nil
}

// Close stops pruning and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.pruneStop)
	s.pruneWG.Wait()

	return s.db.Close()
}
