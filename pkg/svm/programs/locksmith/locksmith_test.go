package locksmith_test

import (
	"context"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/locksmith/internal/types"
	"github.com/fortiblox/locksmith/pkg/accounts"
	"github.com/fortiblox/locksmith/pkg/svm"
	"github.com/fortiblox/locksmith/pkg/svm/programs/locksmith"
	"github.com/fortiblox/locksmith/pkg/svm/programs/system"
	"github.com/fortiblox/locksmith/pkg/svm/programs/token"
)

const (
	genesisTime = int64(1_700_000_000)
	day         = int64(86_400)
)

type testEnv struct {
	rt    *svm.Runtime
	db    *accounts.MemoryDB
	clock *svm.ManualClock

	payer     types.Pubkey
	usdcOwner types.Pubkey
	admin     types.Pubkey

	// A token that users lock, with its mint authority.
	mint          types.Pubkey
	mintAuthority types.Pubkey
}

func newKey(name string) types.Pubkey {
	return types.Pubkey(sha256.Sum256([]byte(name)))
}

func setup(t *testing.T) *testEnv {
	db := accounts.NewMemoryDB()
	clock := svm.NewManualClock(genesisTime)
	rt := svm.New(svm.DefaultConfig(), db, clock)
	rt.Register(system.ProgramID, "system", system.NewProcessor(), svm.CUSystemProgramDefault)
	rt.Register(token.ProgramID, "token", token.NewProcessor(), svm.CUTokenProgramDefault)
	rt.Register(locksmith.ProgramID, "locksmith", locksmith.NewProcessor(), locksmith.CUProgramDefault)

	env := &testEnv{
		rt:            rt,
		db:            db,
		clock:         clock,
		payer:         newKey("payer"),
		usdcOwner:     newKey("usdc-authority"),
		admin:         newKey("admin"),
		mint:          newKey("bonk"),
		mintAuthority: newKey("bonk-authority"),
	}
	env.fund(t, env.payer, 1_000_000_000_000)
	env.fund(t, env.admin, 10_000_000_000)

	env.createMint(t, types.USDCMintAddr, env.usdcOwner, 6)
	env.createMint(t, env.mint, env.mintAuthority, 5)
	return env
}

func (e *testEnv) fund(t *testing.T, wallet types.Pubkey, lamports uint64) {
	require.NoError(t, e.db.SetAccount(wallet, &accounts.Account{Lamports: lamports, Owner: types.SystemProgramAddr}))
}

func (e *testEnv) exec(t *testing.T, ixs ...svm.Instruction) *svm.ExecutionResult {
	res, err := e.rt.ExecuteTransaction(context.Background(), &svm.Transaction{Instructions: ixs})
	require.NoError(t, err)
	return res
}

func (e *testEnv) mustExec(t *testing.T, ixs ...svm.Instruction) *svm.ExecutionResult {
	res := e.exec(t, ixs...)
	require.True(t, res.Success, "%s\n%v", res.Error, res.Logs)
	return res
}

func (e *testEnv) createMint(t *testing.T, mint, authority types.Pubkey, decimals uint8) {
	rent := e.rt.Rent().MinimumBalance(token.MintSize)
	e.mustExec(t,
		system.CreateAccount(e.payer, mint, token.ProgramID, rent, token.MintSize),
		token.InitializeMint2(mint, authority, nil, decimals),
	)
}

// tokenAccount creates a token account for owner holding amount of mint.
func (e *testEnv) tokenAccount(t *testing.T, name string, mint, owner types.Pubkey, amount uint64) types.Pubkey {
	addr := newKey(name)
	rent := e.rt.Rent().MinimumBalance(token.AccountSize)
	e.mustExec(t,
		system.CreateAccount(e.payer, addr, token.ProgramID, rent, token.AccountSize),
		token.InitializeAccount3(addr, mint, owner),
	)
	if amount > 0 {
		authority := e.mintAuthority
		if mint == types.USDCMintAddr {
			authority = e.usdcOwner
		}
		e.mustExec(t, token.MintTo(mint, addr, authority, amount))
	}
	return addr
}

func (e *testEnv) balance(t *testing.T, addr types.Pubkey) uint64 {
	acc, err := e.db.GetAccount(addr)
	require.NoError(t, err)
	ta, err := token.UnpackAccount(acc.Data)
	require.NoError(t, err)
	return ta.Amount
}

func (e *testEnv) lamports(t *testing.T, addr types.Pubkey) uint64 {
	acc, err := e.db.GetAccount(addr)
	if err == accounts.ErrAccountNotFound {
		return 0
	}
	require.NoError(t, err)
	return acc.Lamports
}

func (e *testEnv) has(t *testing.T, addr types.Pubkey) bool {
	ok, err := e.db.HasAccount(addr)
	require.NoError(t, err)
	return ok
}

func (e *testEnv) initConfig(t *testing.T) {
	ix, err := locksmith.NewInitializeConfigInstruction(e.admin)
	require.NoError(t, err)
	e.mustExec(t, ix)
}

func (e *testEnv) feeVault(t *testing.T) types.Pubkey {
	addr, _, err := locksmith.FeeVaultAddress()
	require.NoError(t, err)
	return addr
}

// user is a lock owner with a funded wallet, a token account of env.mint and
// a USDC account.
type user struct {
	wallet, asset, usdc types.Pubkey
}

func (e *testEnv) newUser(t *testing.T, name string, tokens, usdc uint64) user {
	u := user{wallet: newKey(name)}
	e.fund(t, u.wallet, 1_000_000_000)
	u.asset = e.tokenAccount(t, name+"-asset", e.mint, u.wallet, tokens)
	u.usdc = e.tokenAccount(t, name+"-usdc", types.USDCMintAddr, u.wallet, usdc)
	return u
}

func (e *testEnv) lockIx(t *testing.T, u user, amount uint64, unlockAt int64, lockID uint64) svm.Instruction {
	ix, err := locksmith.NewInitializeLockInstruction(u.wallet, u.asset, u.usdc, e.mint, amount, unlockAt, lockID)
	require.NoError(t, err)
	return ix
}

func (e *testEnv) unlockIx(t *testing.T, u user, lockID uint64) svm.Instruction {
	ix, err := locksmith.NewUnlockInstruction(u.wallet, u.asset, e.mint, lockID)
	require.NoError(t, err)
	return ix
}

func requireFailure(t *testing.T, res *svm.ExecutionResult, want locksmith.Error) {
	t.Helper()
	require.False(t, res.Success, "expected %v", want)
	require.ErrorIs(t, res.Err, want)
	require.NotNil(t, res.CustomCode)
	assert.Equal(t, want.Code(), *res.CustomCode)
	assert.Equal(t, locksmith.ProgramID, res.FailedProgram)
}

func TestInitializeConfig(t *testing.T) {
	env := setup(t)
	env.initConfig(t)

	configAddr, bump, err := locksmith.ConfigAddress()
	require.NoError(t, err)
	acc, err := env.db.GetAccount(configAddr)
	require.NoError(t, err)
	assert.Equal(t, locksmith.ProgramID, acc.Owner)

	var cfg locksmith.Config
	require.NoError(t, cfg.Unmarshal(acc.Data))
	assert.Equal(t, env.admin, cfg.Admin)
	assert.Equal(t, bump, cfg.Bump)

	vault := env.feeVault(t)
	acc, err = env.db.GetAccount(vault)
	require.NoError(t, err)
	assert.Equal(t, token.ProgramID, acc.Owner)
	ta, err := token.UnpackAccount(acc.Data)
	require.NoError(t, err)
	assert.Equal(t, types.USDCMintAddr, ta.Mint)
	assert.Equal(t, vault, ta.Owner)

	t.Run("twice", func(t *testing.T) {
		ix, err := locksmith.NewInitializeConfigInstruction(newKey("someone"))
		require.NoError(t, err)
		env.fund(t, newKey("someone"), 10_000_000_000)
		requireFailure(t, env.exec(t, ix), locksmith.ErrAlreadyInitialized)
	})
}

func TestInitializeConfigRejects(t *testing.T) {
	env := setup(t)

	t.Run("forged fee asset", func(t *testing.T) {
		ix, err := locksmith.NewInitializeConfigInstruction(env.admin)
		require.NoError(t, err)
		// Same shape as USDC, different identity.
		ix.Accounts[2].Pubkey = env.mint
		requireFailure(t, env.exec(t, ix), locksmith.ErrInvalidMint)
	})

	t.Run("unsigned", func(t *testing.T) {
		ix, err := locksmith.NewInitializeConfigInstruction(env.admin)
		require.NoError(t, err)
		ix.Accounts[0].IsSigner = false
		requireFailure(t, env.exec(t, ix), locksmith.ErrUnauthorized)
	})

	t.Run("wrong config address", func(t *testing.T) {
		ix, err := locksmith.NewInitializeConfigInstruction(env.admin)
		require.NoError(t, err)
		ix.Accounts[1].Pubkey = newKey("not-a-pda")
		requireFailure(t, env.exec(t, ix), locksmith.ErrInvalidPDA)
	})

	t.Run("wrong system program", func(t *testing.T) {
		ix, err := locksmith.NewInitializeConfigInstruction(env.admin)
		require.NoError(t, err)
		ix.Accounts[5].Pubkey = token.ProgramID
		requireFailure(t, env.exec(t, ix), locksmith.ErrIncorrectProgramID)
	})

	configAddr, _, err := locksmith.ConfigAddress()
	require.NoError(t, err)
	assert.False(t, env.has(t, configAddr))
}

func TestLockScenario(t *testing.T) {
	env := setup(t)
	env.initConfig(t)
	vault := env.feeVault(t)

	alice := env.newUser(t, "alice", 5_000_000, 1_000_000)
	walletBefore := env.lamports(t, alice.wallet)

	unlockAt := genesisTime + day
	env.mustExec(t, env.lockIx(t, alice, 1_000_000, unlockAt, 1))

	lockAddr, bump, err := locksmith.LockAddress(alice.wallet, env.mint, 1)
	require.NoError(t, err)
	escrow, _, err := locksmith.LockTokenAddress(lockAddr)
	require.NoError(t, err)

	assert.EqualValues(t, 1_000_000, env.balance(t, escrow))
	assert.EqualValues(t, 4_000_000, env.balance(t, alice.asset))
	assert.EqualValues(t, locksmith.FeeUSDC, env.balance(t, vault))
	assert.EqualValues(t, 1_000_000-locksmith.FeeUSDC, env.balance(t, alice.usdc))

	acc, err := env.db.GetAccount(lockAddr)
	require.NoError(t, err)
	var lock locksmith.Lock
	require.NoError(t, lock.Unmarshal(acc.Data))
	assert.Equal(t, locksmith.Lock{
		Owner:           alice.wallet,
		Mint:            env.mint,
		Amount:          1_000_000,
		UnlockTimestamp: unlockAt,
		CreatedAt:       genesisTime,
		LockID:          1,
		Bump:            bump,
	}, lock)

	// Immediately: too early.
	requireFailure(t, env.exec(t, env.unlockIx(t, alice, 1)), locksmith.ErrUnlockTooEarly)
	assert.EqualValues(t, 1_000_000, env.balance(t, escrow))

	env.clock.Set(unlockAt + 1)
	env.mustExec(t, env.unlockIx(t, alice, 1))

	assert.EqualValues(t, 5_000_000, env.balance(t, alice.asset))
	assert.False(t, env.has(t, lockAddr))
	assert.False(t, env.has(t, escrow))
	// Both rent deposits come back to the owner.
	assert.Equal(t, walletBefore, env.lamports(t, alice.wallet))
	// The fee is not refunded.
	assert.EqualValues(t, locksmith.FeeUSDC, env.balance(t, vault))
}

func TestInitializeLockTemporalBounds(t *testing.T) {
	env := setup(t)
	env.initConfig(t)
	alice := env.newUser(t, "alice", 1_000, 1_000_000)

	for _, tc := range []struct {
		name     string
		unlockAt int64
		want     locksmith.Error
	}{
		{"in the past", genesisTime - 1, locksmith.ErrInvalidTimestamp},
		{"now", genesisTime, locksmith.ErrInvalidTimestamp},
		{"beyond cap", genesisTime + locksmith.MaxLockDurationSeconds + 1, locksmith.ErrLockDurationExceeded},
		{"max int64", 1<<63 - 1, locksmith.ErrLockDurationExceeded},
	} {
		t.Run(tc.name, func(t *testing.T) {
			res := env.exec(t, env.lockIx(t, alice, 10, tc.unlockAt, 1))
			requireFailure(t, res, tc.want)
			assert.Equal(t, locksmith.CategoryInvalidTemporal, locksmith.CategoryOf(res.Err))
		})
	}

	t.Run("exactly at cap", func(t *testing.T) {
		env.mustExec(t, env.lockIx(t, alice, 10, genesisTime+locksmith.MaxLockDurationSeconds, 2))
	})
}

func TestInitializeLockRejects(t *testing.T) {
	env := setup(t)
	env.initConfig(t)
	alice := env.newUser(t, "alice", 1_000, 1_000_000)
	unlockAt := genesisTime + day

	t.Run("zero amount", func(t *testing.T) {
		requireFailure(t, env.exec(t, env.lockIx(t, alice, 0, unlockAt, 1)), locksmith.ErrInvalidAmount)
	})

	t.Run("unsigned", func(t *testing.T) {
		ix := env.lockIx(t, alice, 10, unlockAt, 1)
		ix.Accounts[0].IsSigner = false
		requireFailure(t, env.exec(t, ix), locksmith.ErrUnauthorized)
	})

	t.Run("lock address for another id", func(t *testing.T) {
		ix := env.lockIx(t, alice, 10, unlockAt, 1)
		other := env.lockIx(t, alice, 10, unlockAt, 2)
		ix.Accounts[4] = other.Accounts[4]
		requireFailure(t, env.exec(t, ix), locksmith.ErrInvalidPDA)
	})

	t.Run("escrow not derived from lock", func(t *testing.T) {
		ix := env.lockIx(t, alice, 10, unlockAt, 1)
		ix.Accounts[5].Pubkey = newKey("escrow")
		requireFailure(t, env.exec(t, ix), locksmith.ErrInvalidPDA)
	})

	t.Run("insufficient tokens", func(t *testing.T) {
		requireFailure(t, env.exec(t, env.lockIx(t, alice, 1_001, unlockAt, 1)), locksmith.ErrInsufficientFunds)
	})

	t.Run("someone else's token account", func(t *testing.T) {
		bob := env.newUser(t, "bob", 1_000, 0)
		ix := env.lockIx(t, alice, 10, unlockAt, 1)
		ix.Accounts[1].Pubkey = bob.asset
		requireFailure(t, env.exec(t, ix), locksmith.ErrUnauthorized)
	})

	t.Run("forged fee asset", func(t *testing.T) {
		// A token account of a mint that is not USDC.
		fake := env.tokenAccount(t, "alice-fake-usdc", env.mint, alice.wallet, 1_000_000)
		ix := env.lockIx(t, alice, 10, unlockAt, 1)
		ix.Accounts[2].Pubkey = fake
		requireFailure(t, env.exec(t, ix), locksmith.ErrInvalidMint)
	})

	t.Run("cannot pay fee", func(t *testing.T) {
		poor := env.newUser(t, "poor", 1_000, locksmith.FeeUSDC-1)
		requireFailure(t, env.exec(t, env.lockIx(t, poor, 10, unlockAt, 1)), locksmith.ErrInsufficientFunds)
	})

	t.Run("wrong token program", func(t *testing.T) {
		ix := env.lockIx(t, alice, 10, unlockAt, 1)
		ix.Accounts[7].Pubkey = system.ProgramID
		requireFailure(t, env.exec(t, ix), locksmith.ErrIncorrectProgramID)
	})
}

func TestDuplicateLockID(t *testing.T) {
	env := setup(t)
	env.initConfig(t)
	alice := env.newUser(t, "alice", 1_000, 1_000_000)
	unlockAt := genesisTime + day

	env.mustExec(t, env.lockIx(t, alice, 10, unlockAt, 7))
	requireFailure(t, env.exec(t, env.lockIx(t, alice, 10, unlockAt, 7)), locksmith.ErrAlreadyInitialized)

	// A different id for the same owner and mint is independent.
	env.mustExec(t, env.lockIx(t, alice, 10, unlockAt, 8))
	assert.EqualValues(t, 980, env.balance(t, alice.asset))
}

func TestFailedLockLeavesNoState(t *testing.T) {
	env := setup(t)
	env.initConfig(t)
	vault := env.feeVault(t)
	alice := env.newUser(t, "alice", 1_000, 1_000_000)

	slot := env.db.GetSlot()
	wallet := env.lamports(t, alice.wallet)

	// The lock itself is valid, but a later instruction in the same
	// transaction fails, so nothing of the lock may persist.
	res := env.exec(t,
		env.lockIx(t, alice, 10, genesisTime+day, 1),
		token.Transfer(alice.asset, alice.asset, alice.wallet, 1_000_000),
	)
	require.False(t, res.Success)
	assert.Equal(t, 1, res.InstructionIndex)

	lockAddr, _, err := locksmith.LockAddress(alice.wallet, env.mint, 1)
	require.NoError(t, err)
	escrow, _, err := locksmith.LockTokenAddress(lockAddr)
	require.NoError(t, err)

	assert.False(t, env.has(t, lockAddr))
	assert.False(t, env.has(t, escrow))
	assert.Equal(t, slot, env.db.GetSlot())
	assert.Equal(t, wallet, env.lamports(t, alice.wallet))
	assert.EqualValues(t, 1_000, env.balance(t, alice.asset))
	assert.EqualValues(t, 1_000_000, env.balance(t, alice.usdc))
	assert.EqualValues(t, 0, env.balance(t, vault))
}

func TestFeeInvariance(t *testing.T) {
	env := setup(t)
	env.initConfig(t)
	vault := env.feeVault(t)
	alice := env.newUser(t, "alice", 1_000, 1_000_000)

	for id := uint64(1); id <= 3; id++ {
		vaultBefore, usdcBefore := env.balance(t, vault), env.balance(t, alice.usdc)
		env.mustExec(t, env.lockIx(t, alice, 1, genesisTime+day, id))
		assert.Equal(t, vaultBefore+locksmith.FeeUSDC, env.balance(t, vault))
		assert.Equal(t, usdcBefore-locksmith.FeeUSDC, env.balance(t, alice.usdc))
	}
}

func TestUnlockBoundary(t *testing.T) {
	env := setup(t)
	env.initConfig(t)
	alice := env.newUser(t, "alice", 1_000, 1_000_000)
	unlockAt := genesisTime + 100

	env.mustExec(t, env.lockIx(t, alice, 500, unlockAt, 1))

	env.clock.Set(unlockAt - 1)
	res := env.exec(t, env.unlockIx(t, alice, 1))
	requireFailure(t, res, locksmith.ErrUnlockTooEarly)
	assert.Equal(t, locksmith.CategoryInvalidTemporal, locksmith.CategoryOf(res.Err))

	env.clock.Set(unlockAt)
	env.mustExec(t, env.unlockIx(t, alice, 1))
	assert.EqualValues(t, 1_000, env.balance(t, alice.asset))
}

func TestUnlockUnauthorized(t *testing.T) {
	env := setup(t)
	env.initConfig(t)
	alice := env.newUser(t, "alice", 1_000, 1_000_000)
	mallory := env.newUser(t, "mallory", 0, 0)
	unlockAt := genesisTime + day

	env.mustExec(t, env.lockIx(t, alice, 500, unlockAt, 1))

	for _, now := range []int64{genesisTime, unlockAt, unlockAt + 10*day} {
		env.clock.Set(now)

		// Alice's lock accounts, signed by mallory and paying out to her.
		ix := env.unlockIx(t, alice, 1)
		ix.Accounts[0].Pubkey = mallory.wallet
		ix.Accounts[1].Pubkey = mallory.asset
		requireFailure(t, env.exec(t, ix), locksmith.ErrUnauthorized)

		// Naming alice without her signature.
		ix = env.unlockIx(t, alice, 1)
		ix.Accounts[0].IsSigner = false
		requireFailure(t, env.exec(t, ix), locksmith.ErrUnauthorized)
	}

	assert.EqualValues(t, 0, env.balance(t, mallory.asset))
	env.mustExec(t, env.unlockIx(t, alice, 1))
}

func TestUnlockRejects(t *testing.T) {
	env := setup(t)
	env.initConfig(t)
	alice := env.newUser(t, "alice", 1_000, 1_000_000)
	env.mustExec(t, env.lockIx(t, alice, 500, genesisTime+1, 1))
	env.clock.Advance(day)

	t.Run("missing lock", func(t *testing.T) {
		requireFailure(t, env.exec(t, env.unlockIx(t, alice, 99)), locksmith.ErrUninitializedAccount)
	})

	t.Run("lock id does not match account", func(t *testing.T) {
		ix := env.unlockIx(t, alice, 1)
		ix.Data = locksmith.Unlock{LockID: 2}.Marshal()
		requireFailure(t, env.exec(t, ix), locksmith.ErrInvalidPDA)
	})

	t.Run("escrow substituted", func(t *testing.T) {
		ix := env.unlockIx(t, alice, 1)
		ix.Accounts[3].Pubkey = alice.asset
		requireFailure(t, env.exec(t, ix), locksmith.ErrInvalidPDA)
	})

	t.Run("config passed as lock", func(t *testing.T) {
		config, _, err := locksmith.ConfigAddress()
		require.NoError(t, err)
		ix := env.unlockIx(t, alice, 1)
		ix.Accounts[2].Pubkey = config
		requireFailure(t, env.exec(t, ix), locksmith.ErrInvalidAccountData)
	})

	t.Run("malformed data", func(t *testing.T) {
		ix := env.unlockIx(t, alice, 1)
		ix.Data = ix.Data[:5]
		requireFailure(t, env.exec(t, ix), locksmith.ErrInvalidInstruction)
	})

	env.mustExec(t, env.unlockIx(t, alice, 1))
}

func TestTransferAdminThenWithdraw(t *testing.T) {
	env := setup(t)
	env.initConfig(t)
	vault := env.feeVault(t)

	alice := env.newUser(t, "alice", 1_000, 1_000_000)
	env.mustExec(t, env.lockIx(t, alice, 1, genesisTime+day, 1))
	env.mustExec(t, env.lockIx(t, alice, 1, genesisTime+day, 2))
	require.EqualValues(t, 2*locksmith.FeeUSDC, env.balance(t, vault))

	newAdmin := newKey("new-admin")
	oldDest := env.tokenAccount(t, "old-admin-usdc", types.USDCMintAddr, env.admin, 0)
	newDest := env.tokenAccount(t, "new-admin-usdc", types.USDCMintAddr, newAdmin, 0)

	t.Run("non-admin cannot transfer", func(t *testing.T) {
		ix, err := locksmith.NewTransferAdminInstruction(newAdmin, newAdmin)
		require.NoError(t, err)
		requireFailure(t, env.exec(t, ix), locksmith.ErrUnauthorized)
	})

	ix, err := locksmith.NewTransferAdminInstruction(env.admin, newAdmin)
	require.NoError(t, err)
	env.mustExec(t, ix)

	ix, err = locksmith.NewWithdrawFeesInstruction(env.admin, oldDest)
	require.NoError(t, err)
	requireFailure(t, env.exec(t, ix), locksmith.ErrUnauthorized)

	ix, err = locksmith.NewWithdrawFeesInstruction(newAdmin, newDest)
	require.NoError(t, err)
	env.mustExec(t, ix)

	assert.EqualValues(t, 0, env.balance(t, vault))
	assert.EqualValues(t, 2*locksmith.FeeUSDC, env.balance(t, newDest))
	assert.EqualValues(t, 0, env.balance(t, oldDest))

	// Draining an empty vault is a no-op.
	env.mustExec(t, ix)
	assert.EqualValues(t, 2*locksmith.FeeUSDC, env.balance(t, newDest))
}

func TestWithdrawFeesRejects(t *testing.T) {
	env := setup(t)
	env.initConfig(t)
	dest := env.tokenAccount(t, "admin-usdc", types.USDCMintAddr, env.admin, 0)

	t.Run("unsigned", func(t *testing.T) {
		ix, err := locksmith.NewWithdrawFeesInstruction(env.admin, dest)
		require.NoError(t, err)
		ix.Accounts[0].IsSigner = false
		requireFailure(t, env.exec(t, ix), locksmith.ErrUnauthorized)
	})

	t.Run("vault substituted", func(t *testing.T) {
		ix, err := locksmith.NewWithdrawFeesInstruction(env.admin, dest)
		require.NoError(t, err)
		ix.Accounts[2].Pubkey = dest
		requireFailure(t, env.exec(t, ix), locksmith.ErrInvalidPDA)
	})

	t.Run("before config exists", func(t *testing.T) {
		fresh := setup(t)
		ix, err := locksmith.NewWithdrawFeesInstruction(fresh.admin, dest)
		require.NoError(t, err)
		requireFailure(t, fresh.exec(t, ix), locksmith.ErrUninitializedAccount)
	})
}

func TestInitializeLockSharedFeeAccount(t *testing.T) {
	env := setup(t)
	env.initConfig(t)
	vault := env.feeVault(t)

	alice := env.newUser(t, "alice", 0, 1_000_000)
	lockUSDC := func(lockID uint64) svm.Instruction {
		ix, err := locksmith.NewInitializeLockInstruction(alice.wallet, alice.usdc, alice.usdc,
			types.USDCMintAddr, 1_000_000, genesisTime+day, lockID)
		require.NoError(t, err)
		return ix
	}

	// The balance covers the amount but not the fee on top of it.
	res := env.exec(t, lockUSDC(1))
	requireFailure(t, res, locksmith.ErrInsufficientFunds)
	assert.Equal(t, locksmith.CategoryInsufficientFunds, locksmith.CategoryOf(res.Err))
	assert.EqualValues(t, 1_000_000, env.balance(t, alice.usdc))

	env.mustExec(t, token.MintTo(types.USDCMintAddr, alice.usdc, env.usdcOwner, locksmith.FeeUSDC))
	env.mustExec(t, lockUSDC(1))

	lockAddr, _, err := locksmith.LockAddress(alice.wallet, types.USDCMintAddr, 1)
	require.NoError(t, err)
	escrow, _, err := locksmith.LockTokenAddress(lockAddr)
	require.NoError(t, err)
	assert.EqualValues(t, 1_000_000, env.balance(t, escrow))
	assert.EqualValues(t, 0, env.balance(t, alice.usdc))
	assert.EqualValues(t, locksmith.FeeUSDC, env.balance(t, vault))
}

func TestTokenFailureIsAttributed(t *testing.T) {
	env := setup(t)
	alice := env.newUser(t, "alice", 1_000, 0)
	bob := env.newUser(t, "bob", 0, 0)

	// Token codes overlap locksmith codes; the failing program tells them apart.
	res := env.exec(t, token.Transfer(alice.asset, bob.asset, bob.wallet, 1))
	require.False(t, res.Success)
	assert.Equal(t, token.ProgramID, res.FailedProgram)
	require.NotNil(t, res.CustomCode)
	assert.Equal(t, token.ErrorOwnerMismatch.Code(), *res.CustomCode)
}

func TestMalformedInstructionKeepsCause(t *testing.T) {
	env := setup(t)

	tests := []struct {
		name  string
		data  []byte
		cause error
	}{
		{"unlock short", []byte{byte(locksmith.TagUnlock), 1, 2}, locksmith.ErrLengthMismatch},
		{"unknown tag", []byte{9}, locksmith.ErrDiscriminatorMismatch},
		{"empty", nil, locksmith.ErrLengthMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := env.exec(t, svm.Instruction{ProgramID: locksmith.ProgramID, Data: tt.data})
			requireFailure(t, res, locksmith.ErrInvalidInstruction)
			assert.ErrorIs(t, res.Err, tt.cause)
			assert.Equal(t, locksmith.CategoryMalformedInstruction, locksmith.CategoryOf(res.Err))
		})
	}
}
