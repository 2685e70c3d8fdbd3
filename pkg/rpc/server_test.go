package rpc

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/mr-tron/base58"

	"github.com/fortiblox/locksmith/internal/types"
	"github.com/fortiblox/locksmith/pkg/accounts"
	"github.com/fortiblox/locksmith/pkg/journal"
	"github.com/fortiblox/locksmith/pkg/svm"
	"github.com/fortiblox/locksmith/pkg/svm/programs/locksmith"
	"github.com/fortiblox/locksmith/pkg/svm/programs/system"
	"github.com/fortiblox/locksmith/pkg/svm/programs/token"
)

const genesisTime = int64(1_700_000_000)

// journalSubmitter executes and records transactions the way a node does.
type journalSubmitter struct {
	runtime *svm.Runtime
	journal *journal.Store
}

func (s *journalSubmitter) Submit(ctx context.Context, tx *svm.Transaction) (*journal.Entry, error) {
	res, err := s.runtime.ExecuteTransaction(ctx, tx)
	if err != nil {
		return nil, err
	}
	entry := journal.NewEntry(tx, res)
	for _, ix := range tx.Instructions {
		entry.Instructions = append(entry.Instructions, s.runtime.InstructionName(ix))
	}
	if c := locksmith.CategoryOf(res.Err); c != locksmith.CategoryUnknown {
		entry.Category = c.String()
	}
	if err := s.journal.Append(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

type testLedger struct {
	server    *Server
	db        *accounts.MemoryDB
	runtime   *svm.Runtime
	clock     *svm.ManualClock
	journal   *journal.Store
	submitter *journalSubmitter

	payer   types.Pubkey
	faucet  types.Pubkey
	mintKey types.Pubkey
}

func testKey(name string) types.Pubkey {
	return types.Pubkey(sha256.Sum256([]byte(name)))
}

// newTestServer builds a server over an in-memory ledger. configure may
// adjust the RPC config before the server is created.
func newTestServer(t *testing.T, configure func(*Config)) *testLedger {
	t.Helper()

	db := accounts.NewMemoryDB()
	clock := svm.NewManualClock(genesisTime)
	rt := svm.New(svm.DefaultConfig(), db, clock)
	rt.Register(system.ProgramID, "system", system.NewProcessor(), svm.CUSystemProgramDefault)
	rt.Register(token.ProgramID, "token", token.NewProcessor(), svm.CUTokenProgramDefault)
	rt.Register(locksmith.ProgramID, "locksmith", locksmith.NewProcessor(), locksmith.CUProgramDefault)

	jconfig := journal.DefaultConfig(filepath.Join(t.TempDir(), "journal.db"))
	jconfig.PruneEnabled = false
	store, err := journal.Open(jconfig)
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	l := &testLedger{
		db:        db,
		runtime:   rt,
		clock:     clock,
		journal:   store,
		submitter: &journalSubmitter{runtime: rt, journal: store},
		payer:     testKey("payer"),
		faucet:    testKey("faucet"),
		mintKey:   testKey("mint-authority"),
	}
	l.fund(t, l.payer, 1_000_000_000_000)
	l.fund(t, l.faucet, 100_000_000_000)

	config := DefaultConfig()
	config.Addr = "127.0.0.1:0"
	if configure != nil {
		configure(&config)
	}
	l.server = New(config, rt, store, l.submitter)
	return l
}

func (l *testLedger) fund(t *testing.T, wallet types.Pubkey, lamports uint64) {
	t.Helper()
	if err := l.db.SetAccount(wallet, &accounts.Account{Lamports: lamports, Owner: types.SystemProgramAddr}); err != nil {
		t.Fatalf("failed to fund %s: %v", wallet, err)
	}
}

func (l *testLedger) exec(t *testing.T, ixs ...svm.Instruction) {
	t.Helper()
	entry, err := l.submitter.Submit(context.Background(), &svm.Transaction{Instructions: ixs})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if !entry.Success {
		t.Fatalf("transaction failed: %s\n%v", entry.Error, entry.Logs)
	}
}

func (l *testLedger) createMint(t *testing.T, mint types.Pubkey, decimals uint8) {
	t.Helper()
	rent := l.runtime.Rent().MinimumBalance(token.MintSize)
	l.exec(t,
		system.CreateAccount(l.payer, mint, token.ProgramID, rent, token.MintSize),
		token.InitializeMint2(mint, l.mintKey, nil, decimals),
	)
}

func (l *testLedger) tokenAccount(t *testing.T, name string, mint, owner types.Pubkey, amount uint64) types.Pubkey {
	t.Helper()
	addr := testKey(name)
	rent := l.runtime.Rent().MinimumBalance(token.AccountSize)
	l.exec(t,
		system.CreateAccount(l.payer, addr, token.ProgramID, rent, token.AccountSize),
		token.InitializeAccount3(addr, mint, owner),
	)
	if amount > 0 {
		l.exec(t, token.MintTo(mint, addr, l.mintKey, amount))
	}
	return addr
}

func (l *testLedger) call(t *testing.T, method string, params interface{}) *Response {
	t.Helper()

	var paramsRaw json.RawMessage
	if params != nil {
		var err error
		paramsRaw, err = json.Marshal(params)
		if err != nil {
			t.Fatalf("failed to marshal params: %v", err)
		}
	}
	body, err := json.Marshal(Request{JSONRPC: JSONRPCVersion, ID: 1, Method: method, Params: paramsRaw})
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}

	rr := l.post(t, body)
	var resp Response
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	return &resp
}

func (l *testLedger) post(t *testing.T, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	l.server.Handler().ServeHTTP(rr, req)
	return rr
}

// decode re-marshals a generic result into v.
func decode(t *testing.T, resp *Response, v interface{}) {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("failed to marshal result: %v", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("failed to decode result %s: %v", raw, err)
	}
}

type contextResult struct {
	Context Context         `json:"context"`
	Value   json.RawMessage `json:"value"`
}

func TestGetHealth(t *testing.T) {
	l := newTestServer(t, nil)

	var result string
	decode(t, l.call(t, "getHealth", nil), &result)
	if result != "ok" {
		t.Errorf("expected 'ok', got %q", result)
	}

	l.server.SetHealthy(false)
	resp := l.call(t, "getHealth", nil)
	if resp.Error == nil || resp.Error.Code != NodeUnhealthy {
		t.Errorf("expected NodeUnhealthy, got %v", resp.Error)
	}
}

func TestGetVersion(t *testing.T) {
	l := newTestServer(t, nil)

	var info VersionInfo
	decode(t, l.call(t, "getVersion", nil), &info)
	if info.LocksmithCore != NodeVersion {
		t.Errorf("expected %s, got %s", NodeVersion, info.LocksmithCore)
	}
	if info.ProgramID != locksmith.ProgramID.String() {
		t.Errorf("unexpected program id %s", info.ProgramID)
	}
}

func TestGetSlot(t *testing.T) {
	l := newTestServer(t, nil)

	var before uint64
	decode(t, l.call(t, "getSlot", nil), &before)

	l.exec(t, system.Transfer(l.payer, testKey("bob"), 1_000_000))

	var after uint64
	decode(t, l.call(t, "getSlot", nil), &after)
	if after != before+1 {
		t.Errorf("expected slot %d after one commit, got %d", before+1, after)
	}
}

func TestGetBalance(t *testing.T) {
	l := newTestServer(t, nil)

	var res contextResult
	decode(t, l.call(t, "getBalance", []interface{}{l.payer.String()}), &res)
	var lamports uint64
	json.Unmarshal(res.Value, &lamports)
	if lamports != 1_000_000_000_000 {
		t.Errorf("expected 1000000000000 lamports, got %d", lamports)
	}
	if res.Context.UnixTimestamp != genesisTime {
		t.Errorf("expected context timestamp %d, got %d", genesisTime, res.Context.UnixTimestamp)
	}

	decode(t, l.call(t, "getBalance", []interface{}{testKey("nobody").String()}), &res)
	json.Unmarshal(res.Value, &lamports)
	if lamports != 0 {
		t.Errorf("expected 0 for a missing account, got %d", lamports)
	}
}

func TestMinContextSlot(t *testing.T) {
	l := newTestServer(t, nil)

	resp := l.call(t, "getBalance", []interface{}{
		l.payer.String(),
		map[string]interface{}{"minContextSlot": 1_000},
	})
	if resp.Error == nil || resp.Error.Code != MinContextSlotNotReached {
		t.Errorf("expected MinContextSlotNotReached, got %v", resp.Error)
	}
}

func TestGetAccountInfo(t *testing.T) {
	l := newTestServer(t, nil)

	data := []byte("locksmith account data")
	owner := testKey("owner-program")
	addr := testKey("data-account")
	l.db.SetAccount(addr, &accounts.Account{Lamports: 5_000, Owner: owner, Data: data})

	tests := []struct {
		encoding Encoding
		decode   func(string) ([]byte, error)
	}{
		{EncodingBase64, base64.StdEncoding.DecodeString},
		{EncodingBase58, base58.Decode},
		{EncodingBase64Zstd, func(s string) ([]byte, error) { return DecodeAccountData(s, EncodingBase64Zstd) }},
	}
	for _, tt := range tests {
		t.Run(string(tt.encoding), func(t *testing.T) {
			var res contextResult
			decode(t, l.call(t, "getAccountInfo", []interface{}{
				addr.String(),
				map[string]interface{}{"encoding": tt.encoding},
			}), &res)

			var info struct {
				Data     []string `json:"data"`
				Lamports uint64   `json:"lamports"`
				Owner    string   `json:"owner"`
				Space    uint64   `json:"space"`
			}
			if err := json.Unmarshal(res.Value, &info); err != nil {
				t.Fatalf("failed to decode account info: %v", err)
			}
			if info.Lamports != 5_000 || info.Owner != owner.String() || info.Space != uint64(len(data)) {
				t.Errorf("unexpected account info %+v", info)
			}
			if len(info.Data) != 2 || info.Data[1] != string(tt.encoding) {
				t.Fatalf("unexpected data field %v", info.Data)
			}
			got, err := tt.decode(info.Data[0])
			if err != nil {
				t.Fatalf("failed to decode data: %v", err)
			}
			if !bytes.Equal(got, data) {
				t.Errorf("data mismatch: %q", got)
			}
		})
	}
}

func TestGetAccountInfoNotFound(t *testing.T) {
	l := newTestServer(t, nil)

	var res contextResult
	decode(t, l.call(t, "getAccountInfo", []interface{}{testKey("missing").String()}), &res)
	if string(res.Value) != "null" {
		t.Errorf("expected null value, got %s", res.Value)
	}
}

func TestDataSlice(t *testing.T) {
	l := newTestServer(t, nil)

	addr := testKey("sliced")
	l.db.SetAccount(addr, &accounts.Account{Lamports: 1, Owner: types.SystemProgramAddr, Data: []byte("0123456789")})

	var res contextResult
	decode(t, l.call(t, "getAccountInfo", []interface{}{
		addr.String(),
		map[string]interface{}{"dataSlice": map[string]interface{}{"offset": 2, "length": 3}},
	}), &res)
	var info struct {
		Data  []string `json:"data"`
		Space uint64   `json:"space"`
	}
	json.Unmarshal(res.Value, &info)
	got, _ := base64.StdEncoding.DecodeString(info.Data[0])
	if string(got) != "234" {
		t.Errorf("expected slice '234', got %q", got)
	}
	if info.Space != 10 {
		t.Errorf("space should report the full size, got %d", info.Space)
	}

	if s := ApplyDataSlice([]byte("abc"), &DataSlice{Offset: 10, Length: 1}); len(s) != 0 {
		t.Errorf("expected empty slice past the end, got %q", s)
	}
}

func TestGetMultipleAccounts(t *testing.T) {
	l := newTestServer(t, nil)

	var res contextResult
	decode(t, l.call(t, "getMultipleAccounts", []interface{}{
		[]string{l.payer.String(), testKey("missing").String(), l.faucet.String()},
	}), &res)
	var infos []*AccountInfo
	if err := json.Unmarshal(res.Value, &infos); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(infos))
	}
	if infos[0] == nil || infos[0].Lamports != 1_000_000_000_000 {
		t.Errorf("unexpected first account %+v", infos[0])
	}
	if infos[1] != nil {
		t.Errorf("expected null for a missing account")
	}
	if infos[2] == nil || infos[2].Lamports != 100_000_000_000 {
		t.Errorf("unexpected third account %+v", infos[2])
	}
}

func TestGetProgramAccounts(t *testing.T) {
	l := newTestServer(t, nil)

	mint := testKey("mint")
	l.createMint(t, mint, 6)
	alice := l.tokenAccount(t, "alice-token", mint, testKey("alice"), 10)
	l.tokenAccount(t, "bob-token", mint, testKey("bob"), 20)

	var all []KeyedAccountInfo
	decode(t, l.call(t, "getProgramAccounts", []interface{}{token.ProgramID.String()}), &all)
	if len(all) != 3 {
		t.Errorf("expected mint plus two token accounts, got %d", len(all))
	}

	// Token account owner lives at offset 32.
	var filtered []KeyedAccountInfo
	decode(t, l.call(t, "getProgramAccounts", []interface{}{
		token.ProgramID.String(),
		map[string]interface{}{
			"filters": []interface{}{
				map[string]interface{}{"dataSize": token.AccountSize},
				map[string]interface{}{"memcmp": map[string]interface{}{
					"offset": 32,
					"bytes":  testKey("alice").String(),
				}},
			},
		},
	}), &filtered)
	if len(filtered) != 1 || filtered[0].Pubkey != alice.String() {
		t.Errorf("expected only alice's account, got %+v", filtered)
	}

	resp := l.call(t, "getProgramAccounts", []interface{}{
		token.ProgramID.String(),
		map[string]interface{}{"filters": []interface{}{
			map[string]interface{}{"memcmp": map[string]interface{}{"offset": 0, "bytes": "0OIl"}},
		}},
	})
	if resp.Error == nil || resp.Error.Code != InvalidParams {
		t.Errorf("expected InvalidParams for bad memcmp bytes, got %v", resp.Error)
	}
}

func TestGetTokenAccountBalance(t *testing.T) {
	l := newTestServer(t, nil)

	mint := testKey("mint")
	l.createMint(t, mint, 6)
	acct := l.tokenAccount(t, "holder", mint, testKey("holder-owner"), 1_500_000)

	var res contextResult
	decode(t, l.call(t, "getTokenAccountBalance", []interface{}{acct.String()}), &res)
	var amount UITokenAmount
	json.Unmarshal(res.Value, &amount)
	if amount.Amount != "1500000" || amount.Decimals != 6 || amount.UIAmountString != "1.5" {
		t.Errorf("unexpected token amount %+v", amount)
	}

	resp := l.call(t, "getTokenAccountBalance", []interface{}{l.payer.String()})
	if resp.Error == nil || resp.Error.Code != InvalidParams {
		t.Errorf("expected InvalidParams for a wallet, got %v", resp.Error)
	}
}

func TestGetMinimumBalanceForRentExemption(t *testing.T) {
	l := newTestServer(t, nil)

	var lamports uint64
	decode(t, l.call(t, "getMinimumBalanceForRentExemption", []interface{}{locksmith.LockSize}), &lamports)
	if want := l.runtime.Rent().MinimumBalance(locksmith.LockSize); lamports != want {
		t.Errorf("expected %d, got %d", want, lamports)
	}
}

func TestLocksmithQueries(t *testing.T) {
	l := newTestServer(t, nil)

	admin := testKey("admin")
	owner := testKey("owner")
	l.fund(t, admin, 10_000_000_000)
	l.fund(t, owner, 10_000_000_000)

	var res contextResult
	decode(t, l.call(t, "getLocksmithConfig", nil), &res)
	if string(res.Value) != "null" {
		t.Fatalf("expected no config before initialization, got %s", res.Value)
	}

	l.createMint(t, types.USDCMintAddr, 6)
	mint := testKey("bonk")
	l.createMint(t, mint, 5)

	ix, err := locksmith.NewInitializeConfigInstruction(admin)
	if err != nil {
		t.Fatalf("failed to build instruction: %v", err)
	}
	l.exec(t, ix)

	decode(t, l.call(t, "getLocksmithConfig", nil), &res)
	var config LocksmithConfigInfo
	json.Unmarshal(res.Value, &config)
	if config.Admin != admin.String() {
		t.Errorf("expected admin %s, got %s", admin, config.Admin)
	}
	if config.Fee.Amount != "150000" || config.Fee.UIAmountString != "0.15" {
		t.Errorf("unexpected fee %+v", config.Fee)
	}
	if config.FeeVaultBalance.Amount != "0" {
		t.Errorf("expected empty fee vault, got %+v", config.FeeVaultBalance)
	}

	asset := l.tokenAccount(t, "owner-bonk", mint, owner, 1_000_000)
	feeAsset := l.tokenAccount(t, "owner-usdc", types.USDCMintAddr, owner, 1_000_000)
	unlockAt := genesisTime + 3_600
	ix, err = locksmith.NewInitializeLockInstruction(owner, asset, feeAsset, mint, 400_000, unlockAt, 9)
	if err != nil {
		t.Fatalf("failed to build instruction: %v", err)
	}
	l.exec(t, ix)

	decode(t, l.call(t, "getLock", []interface{}{owner.String(), mint.String(), 9}), &res)
	var lock LockInfo
	if err := json.Unmarshal(res.Value, &lock); err != nil {
		t.Fatalf("failed to decode lock: %v", err)
	}
	if lock.Owner != owner.String() || lock.LockID != 9 || lock.UnlockTimestamp != unlockAt {
		t.Errorf("unexpected lock %+v", lock)
	}
	if lock.Amount.Amount != "400000" || lock.EscrowBalance.Amount != "400000" || lock.Amount.UIAmountString != "4" {
		t.Errorf("unexpected lock amounts %+v / %+v", lock.Amount, lock.EscrowBalance)
	}
	if lock.Unlockable {
		t.Error("lock should not be unlockable before its timestamp")
	}

	decode(t, l.call(t, "getLocksmithConfig", nil), &res)
	json.Unmarshal(res.Value, &config)
	if config.FeeVaultBalance.Amount != "150000" {
		t.Errorf("expected the fee in the vault, got %+v", config.FeeVaultBalance)
	}

	l.clock.Set(unlockAt)
	decode(t, l.call(t, "getLocksByOwner", []interface{}{owner.String()}), &res)
	var locks []LockInfo
	json.Unmarshal(res.Value, &locks)
	if len(locks) != 1 || !locks[0].Unlockable {
		t.Errorf("expected one unlockable lock, got %+v", locks)
	}

	decode(t, l.call(t, "getLock", []interface{}{owner.String(), mint.String(), 10}), &res)
	if string(res.Value) != "null" {
		t.Errorf("expected null for an unknown lock id, got %s", res.Value)
	}
}

func TestGetJournal(t *testing.T) {
	l := newTestServer(t, nil)

	bob := testKey("bob")
	l.exec(t, system.Transfer(l.payer, bob, 1_000))
	l.exec(t, system.Transfer(l.faucet, testKey("carol"), 1_000))
	l.exec(t, system.Transfer(l.payer, bob, 2_000))

	var entries []JournalEntry
	decode(t, l.call(t, "getJournal", nil), &entries)
	if len(entries) != 3 || entries[0].Sequence != 3 {
		t.Fatalf("expected 3 entries newest first, got %+v", entries)
	}
	if entries[0].Instructions[0] != "system.Transfer" {
		t.Errorf("unexpected instruction name %v", entries[0].Instructions)
	}

	decode(t, l.call(t, "getJournal", []interface{}{
		map[string]interface{}{"account": bob.String(), "limit": 1},
	}), &entries)
	if len(entries) != 1 || entries[0].Sequence != 3 {
		t.Errorf("expected bob's latest entry, got %+v", entries)
	}

	var entry *JournalEntry
	decode(t, l.call(t, "getJournalEntry", []interface{}{2}), &entry)
	if entry == nil || entry.Sequence != 2 || !entry.Success {
		t.Errorf("unexpected entry %+v", entry)
	}

	entry = nil
	decode(t, l.call(t, "getJournalEntry", []interface{}{99}), &entry)
	if entry != nil {
		t.Errorf("expected null for a missing entry, got %+v", entry)
	}
}

func TestSendTransactionDisabled(t *testing.T) {
	l := newTestServer(t, nil)

	resp := l.call(t, "sendTransaction", []interface{}{TransactionRequest{}})
	if resp.Error == nil || resp.Error.Code != MethodDisabled {
		t.Errorf("expected MethodDisabled, got %v", resp.Error)
	}
	resp = l.call(t, "requestAirdrop", []interface{}{testKey("bob").String(), 1})
	if resp.Error == nil || resp.Error.Code != MethodDisabled {
		t.Errorf("expected MethodDisabled for airdrop, got %v", resp.Error)
	}
}

func transferRequest(from, to types.Pubkey, lamports uint64) TransactionRequest {
	ix := system.Transfer(from, to, lamports)
	metas := make([]AccountMetaRequest, len(ix.Accounts))
	for i, m := range ix.Accounts {
		metas[i] = AccountMetaRequest{Pubkey: m.Pubkey.String(), IsSigner: m.IsSigner, IsWritable: m.IsWritable}
	}
	return TransactionRequest{Instructions: []InstructionRequest{{
		ProgramID: ix.ProgramID.String(),
		Accounts:  metas,
		Data:      base64.StdEncoding.EncodeToString(ix.Data),
	}}}
}

func TestSendTransaction(t *testing.T) {
	l := newTestServer(t, func(c *Config) { c.EnableSendTransaction = true })

	bob := testKey("bob")
	var entry JournalEntry
	decode(t, l.call(t, "sendTransaction", []interface{}{transferRequest(l.payer, bob, 7_000)}), &entry)
	if !entry.Success || entry.Sequence != 1 || entry.StateHash == "" {
		t.Errorf("unexpected entry %+v", entry)
	}
	acc, err := l.db.GetAccount(bob)
	if err != nil || acc.Lamports != 7_000 {
		t.Fatalf("expected bob to hold 7000 lamports: %v", err)
	}

	// Overdraw: the program rejects it and the journal keeps the failure.
	resp := l.call(t, "sendTransaction", []interface{}{transferRequest(bob, l.payer, 1_000_000)})
	if resp.Error == nil || resp.Error.Code != TransactionFailed {
		t.Fatalf("expected TransactionFailed, got %v", resp.Error)
	}
	var failed *journal.Entry
	if failed, err = l.journal.Get(2); err != nil {
		t.Fatalf("failed transaction not journaled: %v", err)
	}
	if failed.Success || failed.FailedInstruction != 0 {
		t.Errorf("unexpected failed entry %+v", failed)
	}

	resp = l.call(t, "sendTransaction", []interface{}{TransactionRequest{}})
	if resp.Error == nil || resp.Error.Code != InvalidParams {
		t.Errorf("expected InvalidParams for an empty transaction, got %v", resp.Error)
	}
}

func TestSendTransactionCategory(t *testing.T) {
	l := newTestServer(t, func(c *Config) { c.EnableSendTransaction = true })

	admin := testKey("admin")
	ix, err := locksmith.NewTransferAdminInstruction(admin, testKey("next"))
	if err != nil {
		t.Fatalf("failed to build instruction: %v", err)
	}
	ix.Accounts[0].IsSigner = false

	metas := make([]AccountMetaRequest, len(ix.Accounts))
	for i, m := range ix.Accounts {
		metas[i] = AccountMetaRequest{Pubkey: m.Pubkey.String(), IsSigner: m.IsSigner, IsWritable: m.IsWritable}
	}
	req := TransactionRequest{Instructions: []InstructionRequest{{
		ProgramID: ix.ProgramID.String(),
		Accounts:  metas,
		Data:      base58.Encode(ix.Data),
		Encoding:  EncodingBase58,
	}}}

	resp := l.call(t, "sendTransaction", []interface{}{req})
	if resp.Error == nil || resp.Error.Code != TransactionFailed {
		t.Fatalf("expected TransactionFailed, got %v", resp.Error)
	}
	var data JournalEntry
	raw, _ := json.Marshal(resp.Error.Data)
	json.Unmarshal(raw, &data)
	if data.Err == nil || data.Err.Category != "Unauthorized" {
		t.Errorf("expected an Unauthorized category, got %+v", data.Err)
	}
	if data.Err != nil && data.Err.Program != locksmith.ProgramID.String() {
		t.Errorf("expected the failure attributed to locksmith, got %q", data.Err.Program)
	}
	if data.Instructions[0] != "locksmith.TransferAdmin" {
		t.Errorf("unexpected instruction name %v", data.Instructions)
	}
}

func TestRequestAirdrop(t *testing.T) {
	l := newTestServer(t, func(c *Config) { c.Faucet = testKey("faucet") })

	bob := testKey("bob")
	var entry JournalEntry
	decode(t, l.call(t, "requestAirdrop", []interface{}{bob.String(), 2_000_000}), &entry)
	if !entry.Success {
		t.Fatalf("airdrop failed: %+v", entry.Err)
	}
	acc, err := l.db.GetAccount(bob)
	if err != nil || acc.Lamports != 2_000_000 {
		t.Fatalf("expected 2000000 lamports, got %v (%v)", acc, err)
	}

	resp := l.call(t, "requestAirdrop", []interface{}{bob.String(), 20_000_000_000})
	if resp.Error == nil || resp.Error.Code != InvalidParams {
		t.Errorf("expected InvalidParams above the cap, got %v", resp.Error)
	}
}

func TestMethodNotFound(t *testing.T) {
	l := newTestServer(t, nil)

	resp := l.call(t, "getBlock", []interface{}{1})
	if resp.Error == nil || resp.Error.Code != MethodNotFound {
		t.Errorf("expected MethodNotFound, got %v", resp.Error)
	}
}

func TestInvalidParams(t *testing.T) {
	l := newTestServer(t, nil)

	for _, params := range []interface{}{
		nil,
		[]interface{}{"not-a-pubkey"},
		[]interface{}{42},
	} {
		resp := l.call(t, "getBalance", params)
		if resp.Error == nil || resp.Error.Code != InvalidParams {
			t.Errorf("params %v: expected InvalidParams, got %v", params, resp.Error)
		}
	}
}

func TestBatchRequest(t *testing.T) {
	l := newTestServer(t, nil)

	body := []byte(`[
		{"jsonrpc":"2.0","id":1,"method":"getHealth"},
		{"jsonrpc":"2.0","id":2,"method":"getSlot"},
		{"jsonrpc":"1.0","id":3,"method":"getSlot"}
	]`)
	rr := l.post(t, body)

	var responses []Response
	if err := json.Unmarshal(rr.Body.Bytes(), &responses); err != nil {
		t.Fatalf("failed to decode batch response: %v", err)
	}
	if len(responses) != 3 {
		t.Fatalf("expected 3 responses, got %d", len(responses))
	}
	if responses[0].Result != "ok" {
		t.Errorf("unexpected first result %v", responses[0].Result)
	}
	if responses[1].Error != nil {
		t.Errorf("unexpected error %v", responses[1].Error)
	}
	if responses[2].Error == nil || responses[2].Error.Code != InvalidRequest {
		t.Errorf("expected InvalidRequest for a bad version, got %v", responses[2].Error)
	}

	rr = l.post(t, []byte(`[]`))
	var resp Response
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Error == nil || resp.Error.Code != InvalidRequest {
		t.Errorf("expected InvalidRequest for an empty batch, got %v", resp.Error)
	}
}

func TestParseError(t *testing.T) {
	l := newTestServer(t, nil)

	rr := l.post(t, []byte(`{not json`))
	var resp Response
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Error == nil || resp.Error.Code != ParseError {
		t.Errorf("expected ParseError, got %v", resp.Error)
	}
}

func TestCORSHeaders(t *testing.T) {
	l := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	l.server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("unexpected allow origin %q", got)
	}

	l = newTestServer(t, func(c *Config) { c.AllowedOrigins = []string{"https://app.example"} })
	rr = httptest.NewRecorder()
	l.server.Handler().ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("origin should not be allowed, got %q", got)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	l := newTestServer(t, nil)

	rr := httptest.NewRecorder()
	l.server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestServerLifecycle(t *testing.T) {
	l := newTestServer(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.server.Start(ctx) }()

	cancel()
	if err := <-done; err != nil {
		t.Errorf("unexpected error from Start: %v", err)
	}
	if err := l.server.Stop(); err != nil {
		t.Errorf("second stop should be a no-op: %v", err)
	}
}
