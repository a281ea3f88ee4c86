package state

import (
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"tgeledger/native/sale"
	"tgeledger/storage"
)

func testAddress(fill byte) common.Address {
	var addr common.Address
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func TestSnapshotRevertIsLIFO(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	mgr := NewManager(db)
	addr := testAddress(0x01)

	if err := mgr.SetCurrencyBalance(addr, big.NewInt(10)); err != nil {
		t.Fatalf("set balance: %v", err)
	}
	outer := mgr.Snapshot()
	if err := mgr.SetCurrencyBalance(addr, big.NewInt(20)); err != nil {
		t.Fatalf("set balance: %v", err)
	}
	inner := mgr.Snapshot()
	if err := mgr.SetCurrencyBalance(addr, big.NewInt(30)); err != nil {
		t.Fatalf("set balance: %v", err)
	}

	mgr.RevertToSnapshot(inner)
	got, err := mgr.CurrencyBalance(addr)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if got.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("expected 20 after inner revert, got %s", got)
	}

	mgr.RevertToSnapshot(outer)
	got, _ = mgr.CurrencyBalance(addr)
	if got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("expected 10 after outer revert, got %s", got)
	}

	mgr.RevertToSnapshot(0)
	got, _ = mgr.CurrencyBalance(addr)
	if got.Sign() != 0 {
		t.Fatalf("expected empty balance after full revert, got %s", got)
	}
	if mgr.Pending() != 0 {
		t.Fatalf("expected no pending writes, got %d", mgr.Pending())
	}
}

func TestCommitPersistsAndDiscardDrops(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	mgr := NewManager(db)
	addr := testAddress(0x02)

	if err := mgr.SetCurrencyBalance(addr, big.NewInt(5)); err != nil {
		t.Fatalf("set balance: %v", err)
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := mgr.SetCurrencyBalance(addr, big.NewInt(7)); err != nil {
		t.Fatalf("set balance: %v", err)
	}
	mgr.Discard()

	fresh := NewManager(db)
	got, err := fresh.CurrencyBalance(addr)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if got.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("expected committed balance 5, got %s", got)
	}

	if err := fresh.SetCurrencyBalance(addr, big.NewInt(0)); err != nil {
		t.Fatalf("zero balance: %v", err)
	}
	if err := fresh.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := db.Get(kvKey(CurrencyBalanceKey(addr))); err != storage.ErrNotFound {
		t.Fatalf("expected zero balance to be deleted, got %v", err)
	}
}

func TestSetCurrencyBalanceRejectsNegative(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	if err := mgr.SetCurrencyBalance(testAddress(0x03), big.NewInt(-1)); err == nil {
		t.Fatalf("expected negative balance to fail")
	}
}

func TestSaleRecordsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	db, err := storage.NewLevelDB(filepath.Join(dir, "state"))
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	mgr := NewManager(db)

	cfg := sale.DefaultConfig(testAddress(0x01), testAddress(0x02), testAddress(0x03))
	if err := mgr.PutSaleConfig(cfg); err != nil {
		t.Fatalf("put config: %v", err)
	}
	totals := sale.NewTotals()
	totals.Phase = sale.PhaseSale
	totals.TotalSupply = big.NewInt(64)
	totals.TotalLockedRefunds = big.NewInt(3)
	if err := mgr.PutSaleTotals(totals); err != nil {
		t.Fatalf("put totals: %v", err)
	}
	acc := sale.NewAccount()
	acc.Balance = big.NewInt(64)
	acc.PendingRefund = big.NewInt(3)
	acc.Whitelisted = true
	for _, fill := range []byte{0x30, 0x10, 0x20, 0x10} {
		if err := mgr.PutSaleAccount(testAddress(fill), acc); err != nil {
			t.Fatalf("put account: %v", err)
		}
	}
	if err := mgr.PutDeployment(Deployment{Address: testAddress(0xAA), Deployer: testAddress(0x01), Nonce: 0}); err != nil {
		t.Fatalf("put deployment: %v", err)
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	db.Close()

	db, err = storage.NewLevelDB(filepath.Join(dir, "state"))
	if err != nil {
		t.Fatalf("reopen leveldb: %v", err)
	}
	defer db.Close()
	mgr = NewManager(db)

	loaded, ok, err := mgr.SaleConfig()
	if err != nil || !ok {
		t.Fatalf("load config: ok=%v err=%v", ok, err)
	}
	if loaded.Symbol != "TEST" || loaded.Rate.Int64() != 6400 || loaded.MaxWithdrawal.Cmp(cfg.MaxWithdrawal) != 0 {
		t.Fatalf("unexpected config: %+v", loaded)
	}
	if loaded.Owner != cfg.Owner || loaded.WhitelistAuthority != cfg.WhitelistAuthority {
		t.Fatalf("roles not preserved: %+v", loaded)
	}

	gotTotals, err := mgr.SaleTotals()
	if err != nil {
		t.Fatalf("load totals: %v", err)
	}
	if gotTotals.Phase != sale.PhaseSale || gotTotals.TotalSupply.Int64() != 64 || gotTotals.TotalLockedRefunds.Int64() != 3 {
		t.Fatalf("unexpected totals: %+v", gotTotals)
	}

	gotAcc, err := mgr.SaleAccount(testAddress(0x20))
	if err != nil {
		t.Fatalf("load account: %v", err)
	}
	if !gotAcc.Whitelisted || gotAcc.Balance.Int64() != 64 || gotAcc.PendingRefund.Int64() != 3 {
		t.Fatalf("unexpected account: %+v", gotAcc)
	}

	holders, err := mgr.SaleAddresses()
	if err != nil {
		t.Fatalf("holders: %v", err)
	}
	want := []common.Address{testAddress(0x10), testAddress(0x20), testAddress(0x30)}
	if len(holders) != len(want) {
		t.Fatalf("unexpected holders: %v", holders)
	}
	for i := range want {
		if holders[i] != want[i] {
			t.Fatalf("holder %d: expected %s, got %s", i, want[i].Hex(), holders[i].Hex())
		}
	}

	deployment, ok, err := mgr.Deployment()
	if err != nil || !ok || deployment.Address != testAddress(0xAA) {
		t.Fatalf("unexpected deployment: %+v ok=%v err=%v", deployment, ok, err)
	}
}

func TestSaleDefaultsWhenEmpty(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	totals, err := mgr.SaleTotals()
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if totals.Phase != sale.PhaseBeforeSale || totals.TotalSupply.Sign() != 0 {
		t.Fatalf("unexpected default totals: %+v", totals)
	}
	if _, ok, err := mgr.SaleConfig(); ok || err != nil {
		t.Fatalf("expected no config, ok=%v err=%v", ok, err)
	}
	nonce, err := mgr.AccountNonce(testAddress(0x01))
	if err != nil || nonce != 0 {
		t.Fatalf("unexpected nonce %d err=%v", nonce, err)
	}
}
