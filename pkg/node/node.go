// Package node runs a locksmith ledger: the account store, the runtime with
// the system, token and locksmith programs registered, the transaction
// journal and the JSON-RPC server.
//
// The node manages the lifecycle of these components, seeds an empty ledger
// from a snapshot or a genesis description, and records every submitted
// transaction in the journal after it has been executed.
package node

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/fortiblox/locksmith/internal/types"
	"github.com/fortiblox/locksmith/pkg/accounts"
	"github.com/fortiblox/locksmith/pkg/journal"
	"github.com/fortiblox/locksmith/pkg/rpc"
	"github.com/fortiblox/locksmith/pkg/svm"
	"github.com/fortiblox/locksmith/pkg/svm/programs/locksmith"
	"github.com/fortiblox/locksmith/pkg/svm/programs/system"
	"github.com/fortiblox/locksmith/pkg/svm/programs/token"
)

// Node errors.
var (
	ErrAlreadyRunning = errors.New("node is already running")
	ErrNotRunning     = errors.New("node is not running")
	ErrConfigInvalid  = errors.New("invalid node configuration")
	ErrInitFailed     = errors.New("node initialization failed")
)

// GenesisConfig describes the accounts written into an empty ledger.
type GenesisConfig struct {
	// Faucet is funded with FaucetLamports and pays for airdrops.
	Faucet         types.Pubkey
	FaucetLamports uint64

	// Admin, when set, is funded with AdminLamports and becomes the
	// locksmith admin through an InitializeConfig transaction.
	Admin         types.Pubkey
	AdminLamports uint64

	// USDCAuthority may mint the fee asset. Zero leaves the supply fixed.
	USDCAuthority types.Pubkey
	USDCDecimals  uint8
}

// Config holds node configuration.
type Config struct {
	// DataDir is the root directory for all node data.
	// Subdirectories are created for accounts and the journal.
	DataDir string

	// InMemory keeps accounts in memory and runs without a journal.
	InMemory bool

	// SyncWrites fsyncs every committed transaction.
	SyncWrites bool

	// GCInterval is how often the account store's value log is collected.
	// Zero disables collection.
	GCInterval time.Duration

	// SnapshotIn seeds an empty ledger from a snapshot file.
	SnapshotIn string

	// SnapshotOut, when set, receives a snapshot on Stop.
	SnapshotOut string

	// JournalPrune enables background pruning of the journal.
	JournalPrune bool

	// JournalRetain is the number of entries kept by pruning.
	JournalRetain uint64

	// ComputeUnitLimit is the default per-transaction budget.
	ComputeUnitLimit uint64

	// RPCEnabled enables the JSON-RPC server.
	RPCEnabled bool
	RPC        rpc.Config

	Genesis GenesisConfig

	// Clock supplies ledger time. Nil means wall-clock time.
	Clock svm.Clock
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DataDir:       "./data",
		SyncWrites:    true,
		GCInterval:    10 * time.Minute,
		JournalPrune:  true,
		JournalRetain: journal.DefaultRetainEntries,
		RPCEnabled:    true,
		RPC:           rpc.DefaultConfig(),
		Genesis: GenesisConfig{
			FaucetLamports: 500_000_000_000_000,
			AdminLamports:  10_000_000_000,
			USDCDecimals:   6,
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.DataDir == "" && !c.InMemory {
		return errors.Wrap(ErrConfigInvalid, "data directory is required")
	}
	if c.RPCEnabled && c.RPC.Addr == "" {
		return errors.Wrap(ErrConfigInvalid, "rpc address is required")
	}
	if !c.Genesis.Admin.IsZero() && c.Genesis.AdminLamports == 0 {
		return errors.Wrap(ErrConfigInvalid, "admin needs lamports to pay for the config account")
	}
	return nil
}

// Node is a running locksmith ledger.
type Node struct {
	config Config
	log    *logrus.Entry

	db        accounts.DB
	journal   *journal.Store
	runtime   *svm.Runtime
	rpcServer *rpc.Server

	running   atomic.Bool
	startTime time.Time

	txsProcessed atomic.Uint64
	txsFailed    atomic.Uint64

	lastError   error
	lastErrorMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a node with the given configuration.
// The node is not started until Start() is called.
func New(config *Config) (*Node, error) {
	if config == nil {
		defaults := DefaultConfig()
		config = &defaults
	}
	if config.JournalRetain == 0 {
		config.JournalRetain = journal.DefaultRetainEntries
	}
	if config.Clock == nil {
		config.Clock = svm.SystemClock{}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Node{
		config: *config,
		log:    logrus.StandardLogger().WithField("type", "node"),
	}, nil
}

// Start opens storage, seeds an empty ledger and starts the RPC server.
// It returns once the node is serving.
func (n *Node) Start(ctx context.Context) error {
	if !n.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	n.ctx, n.cancel = context.WithCancel(ctx)
	n.startTime = time.Now()

	if err := n.initialize(); err != nil {
		n.cancel()
		n.closeStorage()
		n.running.Store(false)
		return errors.Wrap(ErrInitFailed, err.Error())
	}

	if gc, ok := n.db.(*accounts.BadgerDB); ok && !n.config.InMemory && n.config.GCInterval > 0 {
		n.wg.Add(1)
		go n.gcLoop(gc)
	}

	if n.rpcServer != nil {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := n.rpcServer.Start(n.ctx); err != nil {
				n.log.WithError(err).Error("rpc server stopped")
				n.setLastError(errors.Wrap(err, "rpc server"))
			}
		}()
	}

	n.log.WithFields(logrus.Fields{
		"slot":     n.db.GetSlot(),
		"dataDir":  n.config.DataDir,
		"inMemory": n.config.InMemory,
	}).Info("node started")
	return nil
}

// initialize sets up storage, the runtime and the RPC server.
func (n *Node) initialize() error {
	if err := n.openStorage(); err != nil {
		return err
	}

	n.runtime = svm.New(svm.Config{
		ComputeUnitLimit: n.config.ComputeUnitLimit,
		Rent:             svm.DefaultRent(),
	}, n.db, n.config.Clock)
	n.runtime.Register(system.ProgramID, "system", system.NewProcessor(), svm.CUSystemProgramDefault)
	n.runtime.Register(token.ProgramID, "token", token.NewProcessor(), svm.CUTokenProgramDefault)
	n.runtime.Register(locksmith.ProgramID, "locksmith", locksmith.NewProcessor(), locksmith.CUProgramDefault)

	count, err := n.db.AccountsCount()
	if err != nil {
		return errors.Wrap(err, "count accounts")
	}
	if count == 0 {
		if n.config.SnapshotIn != "" {
			if err := n.restoreSnapshot(n.config.SnapshotIn); err != nil {
				return err
			}
		} else if err := n.genesis(); err != nil {
			return errors.Wrap(err, "genesis")
		}
	} else if n.config.SnapshotIn != "" {
		n.log.WithField("path", n.config.SnapshotIn).Warn("ledger not empty, snapshot ignored")
	}

	if n.config.RPCEnabled {
		rpcConfig := n.config.RPC
		if rpcConfig.Faucet.IsZero() {
			rpcConfig.Faucet = n.config.Genesis.Faucet
		}
		var history rpc.History
		if n.journal != nil {
			history = n.journal
		}
		n.rpcServer = rpc.New(rpcConfig, n.runtime, history, n)
	}
	return nil
}

func (n *Node) openStorage() error {
	if n.config.InMemory {
		db, err := accounts.NewBadgerDB(accounts.BadgerDBConfig{InMemory: true})
		if err != nil {
			return errors.Wrap(err, "open accounts database")
		}
		n.db = db
		return nil
	}

	if err := os.MkdirAll(n.config.DataDir, 0755); err != nil {
		return errors.Wrap(err, "create data directory")
	}

	accountsConfig := accounts.DefaultBadgerDBConfig(filepath.Join(n.config.DataDir, "accounts"))
	accountsConfig.SyncWrites = n.config.SyncWrites
	db, err := accounts.NewBadgerDB(accountsConfig)
	if err != nil {
		return errors.Wrap(err, "open accounts database")
	}
	n.db = db

	journalConfig := journal.DefaultConfig(filepath.Join(n.config.DataDir, "journal", "journal.db"))
	journalConfig.NoSync = !n.config.SyncWrites
	journalConfig.PruneEnabled = n.config.JournalPrune
	journalConfig.RetainEntries = n.config.JournalRetain
	store, err := journal.Open(journalConfig)
	if err != nil {
		return errors.Wrap(err, "open journal")
	}
	n.journal = store
	return nil
}

func (n *Node) restoreSnapshot(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open snapshot")
	}
	defer f.Close()

	header, err := accounts.RestoreSnapshot(n.db, f)
	if err != nil {
		return errors.Wrapf(err, "restore snapshot %s", path)
	}
	n.log.WithFields(logrus.Fields{
		"path":      path,
		"slot":      header.Slot,
		"accounts":  header.AccountsCount,
		"stateHash": header.StateHash.String(),
	}).Info("restored snapshot")
	return nil
}

// genesis writes the faucet, admin and fee mint accounts into an empty
// ledger, then initializes the locksmith config when an admin is set.
func (n *Node) genesis() error {
	g := n.config.Genesis
	rent := n.runtime.Rent()

	mint := token.Mint{Decimals: g.USDCDecimals, IsInitialized: true}
	if !g.USDCAuthority.IsZero() {
		authority := g.USDCAuthority
		mint.MintAuthority = &authority
	}
	updates := []accounts.Update{{
		Pubkey: types.USDCMintAddr,
		Account: &accounts.Account{
			Lamports: rent.MinimumBalance(token.MintSize),
			Owner:    token.ProgramID,
			Data:     mint.Marshal(),
		},
	}}
	if !g.Faucet.IsZero() && g.FaucetLamports > 0 {
		updates = append(updates, accounts.Update{
			Pubkey:  g.Faucet,
			Account: &accounts.Account{Lamports: g.FaucetLamports, Owner: system.ProgramID},
		})
	}
	if !g.Admin.IsZero() {
		updates = append(updates, accounts.Update{
			Pubkey:  g.Admin,
			Account: &accounts.Account{Lamports: g.AdminLamports, Owner: system.ProgramID},
		})
	}
	if err := n.db.Apply(0, updates); err != nil {
		return errors.Wrap(err, "write genesis accounts")
	}
	n.log.WithField("accounts", len(updates)).Info("wrote genesis accounts")

	if g.Admin.IsZero() {
		return nil
	}
	ix, err := locksmith.NewInitializeConfigInstruction(g.Admin)
	if err != nil {
		return err
	}
	entry, err := n.Submit(n.ctx, &svm.Transaction{Instructions: []svm.Instruction{ix}})
	if err != nil {
		return errors.Wrap(err, "initialize config")
	}
	if !entry.Success {
		return errors.Errorf("initialize config failed: %s", entry.Error)
	}
	n.log.WithField("admin", g.Admin.String()).Info("initialized locksmith config")
	return nil
}

// Submit executes tx and records the outcome in the journal. Program
// failures are reported in the returned entry; the error is reserved for
// host failures.
func (n *Node) Submit(ctx context.Context, tx *svm.Transaction) (*journal.Entry, error) {
	if !n.running.Load() || n.runtime == nil {
		return nil, ErrNotRunning
	}

	res, err := n.runtime.ExecuteTransaction(ctx, tx)
	if err != nil {
		n.setLastError(err)
		return nil, err
	}

	entry := journal.NewEntry(tx, res)
	entry.Instructions = make([]string, len(tx.Instructions))
	for i, ix := range tx.Instructions {
		entry.Instructions[i] = n.runtime.InstructionName(ix)
	}
	if c := locksmith.CategoryOf(res.Err); c != locksmith.CategoryUnknown {
		entry.Category = c.String()
	}

	n.txsProcessed.Add(1)
	if !res.Success {
		n.txsFailed.Add(1)
	}

	if n.journal != nil {
		if err := n.journal.Append(entry); err != nil {
			// The transaction is committed; only its record is lost.
			n.log.WithError(err).WithField("slot", entry.Slot).Error("failed to journal transaction")
			n.setLastError(errors.Wrap(err, "journal append"))
		}
	}
	return entry, nil
}

// WriteSnapshot writes the current ledger to path.
func (n *Node) WriteSnapshot(path string) (*accounts.SnapshotHeader, error) {
	if n.db == nil {
		return nil, ErrNotRunning
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrap(err, "create snapshot directory")
		}
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return nil, errors.Wrap(err, "create snapshot file")
	}
	header, err := accounts.WriteSnapshot(n.db, f)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return nil, errors.Wrap(err, "write snapshot")
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, errors.Wrap(err, "rename snapshot")
	}

	n.log.WithFields(logrus.Fields{
		"path":     path,
		"slot":     header.Slot,
		"accounts": header.AccountsCount,
	}).Info("wrote snapshot")
	return header, nil
}

// gcLoop periodically reclaims value log space.
func (n *Node) gcLoop(db *accounts.BadgerDB) {
	defer n.wg.Done()

	ticker := time.NewTicker(n.config.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			if err := db.RunGC(); err != nil {
				n.log.WithError(err).Warn("value log gc failed")
			}
		}
	}
}

// Stop gracefully stops the node, writing SnapshotOut if configured.
func (n *Node) Stop() error {
	if !n.running.Load() {
		return ErrNotRunning
	}

	if n.cancel != nil {
		n.cancel()
	}
	if n.rpcServer != nil {
		n.rpcServer.Stop()
	}
	n.wg.Wait()

	var snapErr error
	if n.config.SnapshotOut != "" {
		_, snapErr = n.WriteSnapshot(n.config.SnapshotOut)
	}

	n.running.Store(false)
	n.closeStorage()
	n.log.Info("node stopped")
	return snapErr
}

// closeStorage closes all storage backends.
func (n *Node) closeStorage() {
	if n.journal != nil {
		n.journal.Close()
		n.journal = nil
	}
	if n.db != nil {
		n.db.Close()
		n.db = nil
	}
}

// Runtime returns the node's runtime, or nil before Start.
func (n *Node) Runtime() *svm.Runtime {
	return n.runtime
}

// Journal returns the transaction journal. It is nil for in-memory nodes.
func (n *Node) Journal() *journal.Store {
	return n.journal
}

// RPC returns the RPC server, or nil when disabled.
func (n *Node) RPC() *rpc.Server {
	return n.rpcServer
}

// Status contains the current node status.
type Status struct {
	// Slot is the ledger height.
	Slot uint64

	// AccountsCount is the total number of accounts in the database.
	AccountsCount uint64

	// IsRunning indicates if the node is running.
	IsRunning bool

	// Uptime is how long the node has been running.
	Uptime time.Duration

	// TxsProcessed counts submitted transactions since start, failed ones
	// included.
	TxsProcessed uint64
	TxsFailed    uint64

	// JournalStats is nil for in-memory nodes.
	JournalStats *journal.Stats

	// RPCAddr is the RPC server address if enabled.
	RPCAddr string

	// LastError is the most recent error encountered.
	LastError error
}

// Status returns the current node status.
func (n *Node) Status() *Status {
	status := &Status{
		IsRunning:    n.running.Load(),
		TxsProcessed: n.txsProcessed.Load(),
		TxsFailed:    n.txsFailed.Load(),
		LastError:    n.getLastError(),
	}
	if !status.IsRunning {
		return status
	}

	status.Uptime = time.Since(n.startTime)
	if n.db != nil {
		status.Slot = n.db.GetSlot()
		status.AccountsCount, _ = n.db.AccountsCount()
	}
	if n.journal != nil {
		status.JournalStats, _ = n.journal.Stats()
	}
	if n.rpcServer != nil {
		status.RPCAddr = n.config.RPC.Addr
	}
	return status
}

// GetAccount retrieves an account by pubkey from the accounts database.
func (n *Node) GetAccount(pubkey types.Pubkey) (*accounts.Account, error) {
	if n.db == nil {
		return nil, ErrNotRunning
	}
	return n.db.GetAccount(pubkey)
}

// setLastError safely sets the last error.
func (n *Node) setLastError(err error) {
	n.lastErrorMu.Lock()
	n.lastError = err
	n.lastErrorMu.Unlock()
}

// getLastError safely gets the last error.
func (n *Node) getLastError() error {
	n.lastErrorMu.RLock()
	defer n.lastErrorMu.RUnlock()
	return n.lastError
}
