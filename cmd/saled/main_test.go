package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"tgeledger/config"
	"tgeledger/core"
	"tgeledger/core/events"
	"tgeledger/integrations/indexer"
	"tgeledger/observability/logging"
	"tgeledger/storage"
)

var (
	owner       = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	beneficiary = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	authority   = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	buyer       = common.HexToAddress("0x00000000000000000000000000000000000000d4")
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		DataDir:        filepath.Join(dir, "data"),
		StorageBackend: storage.BackendLevelDB,
		Asset:          "ETH",
		RPC:            config.RPCConfig{JWTSecret: "0123456789abcdef0123456789abcdef"},
		Indexer: config.IndexerConfig{
			Enabled: true,
			DSN:     "sqlite://" + filepath.Join(dir, "index", "index.db"),
		},
		Sale: config.SaleConfig{
			Owner:              owner.Hex(),
			Beneficiary:        beneficiary.Hex(),
			WhitelistAuthority: authority.Hex(),
		},
		Genesis: []config.GenesisAccount{
			{Address: owner.Hex(), Balance: "1000000000000000000"},
			{Address: buyer.Hex(), Balance: "1000000000000000000"},
		},
	}
}

func TestDeployFundsGenesisAndCreatesLedger(t *testing.T) {
	cfg := testConfig(t)
	rt, err := core.NewRuntime(storage.NewMemDB())
	if err != nil {
		t.Fatalf("runtime: %v", err)
	}
	if err := deploy(context.Background(), rt, cfg, logging.Discard()); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if !rt.Deployed() {
		t.Fatalf("expected ledger to be deployed")
	}
	balance, err := rt.CurrencyBalance(buyer)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(1e18)) != 0 {
		t.Fatalf("unexpected genesis balance %s", balance)
	}
	summary, err := rt.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if summary.Owner != owner || summary.Beneficiary != beneficiary {
		t.Fatalf("unexpected roles: %+v", summary)
	}
}

func TestRunExportWritesSnapshots(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	db, err := storage.Open(cfg.StorageBackend, cfg.DataDir)
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	gormDB, err := indexer.Open(cfg.Indexer.DSN)
	if err != nil {
		t.Fatalf("open indexer: %v", err)
	}
	idx, err := indexer.New(gormDB, nil)
	if err != nil {
		t.Fatalf("indexer: %v", err)
	}
	rt, err := core.NewRuntime(db, core.WithEmitter(events.Multi{idx}))
	if err != nil {
		t.Fatalf("runtime: %v", err)
	}
	if err := deploy(ctx, rt, cfg, logging.Discard()); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if _, err := rt.Allocate(ctx, owner, buyer, big.NewInt(5)); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if idx.LastSequence() == 0 {
		t.Fatalf("expected notifications to be indexed")
	}
	db.Close()
	if err := idx.Close(); err != nil {
		t.Fatalf("close indexer: %v", err)
	}

	out := filepath.Join(t.TempDir(), "export")
	if err := runExport(ctx, cfg, out, logging.Discard()); err != nil {
		t.Fatalf("export: %v", err)
	}
	for _, name := range []string{"holders.csv", "holders.parquet", "notifications.csv", "notifications.jsonl", "notifications.parquet"} {
		info, err := os.Stat(filepath.Join(out, name))
		if err != nil {
			t.Fatalf("missing %s: %v", name, err)
		}
		if info.Size() == 0 {
			t.Fatalf("%s is empty", name)
		}
	}
	csv, err := os.ReadFile(filepath.Join(out, "holders.csv"))
	if err != nil {
		t.Fatalf("read holders: %v", err)
	}
	if !bytes.Contains(csv, []byte(buyer.Hex())) {
		t.Fatalf("holders export is missing the buyer: %s", csv)
	}
}

func TestRunExportRequiresDeployment(t *testing.T) {
	cfg := testConfig(t)
	cfg.Indexer.Enabled = false
	if err := runExport(context.Background(), cfg, t.TempDir(), logging.Discard()); err == nil {
		t.Fatalf("expected export of an empty store to fail")
	}
}

func TestSecretsAreMaskedInLogs(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{}))
	secret := "0123456789abcdef0123456789abcdef"
	logger.Info("rpc listening", logging.MaskField("jwt_secret", secret))

	if bytes.Contains(buf.Bytes(), []byte(secret)) {
		t.Fatalf("log output leaked the secret: %s", buf.Bytes())
	}
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log: %v", err)
	}
	if entry["jwt_secret"] != logging.RedactedValue {
		t.Fatalf("expected redacted secret, got %v", entry["jwt_secret"])
	}
}
