package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tgeledger/native/sale"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default config to be written: %v", err)
	}
	if cfg.StorageBackend != "leveldb" || cfg.RPCAddress != "127.0.0.1:8545" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.Sale.Owner != cfg.Sale.Owner || again.RPC.JWTSecret != cfg.RPC.JWTSecret {
		t.Fatalf("reloaded config differs from generated one")
	}
}

func TestLoadParsesSaleAndGenesis(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `DataDir = "./data"
StorageBackend = "bolt"
RPCAddress = "0.0.0.0:9000"
Environment = "staging"

[logging]
Level = "debug"
File = "/var/log/saled.log"

[rpc]
JWTSecret = "0123456789abcdef0123456789abcdef"
RateLimitPerSecond = 5.5

[sale]
Owner = "0x00000000000000000000000000000000000000a1"
Beneficiary = "0x00000000000000000000000000000000000000b2"
WhitelistAuthority = "0x00000000000000000000000000000000000000c3"
MaxSale = "1000"
MaxAllocation = "10"
MinPurchase = "1"

[[Genesis]]
Address = "0x00000000000000000000000000000000000000d4"
Balance = "5000"
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Logging.Level != "debug" || cfg.RPC.RateLimitPerSecond != 5.5 || cfg.RPC.RateLimitBurst != 40 {
		t.Fatalf("unexpected parsed values: %+v", cfg)
	}

	saleCfg, err := cfg.Sale.Build()
	if err != nil {
		t.Fatalf("build sale config: %v", err)
	}
	if saleCfg.MaxSupply.Int64() != 1010 || saleCfg.Rate.Int64() != sale.DefaultRate {
		t.Fatalf("unexpected sale config: %+v", saleCfg)
	}

	balances, err := cfg.GenesisBalances()
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}
	if len(balances) != 1 || balances[0].Amount.Int64() != 5000 {
		t.Fatalf("unexpected genesis: %+v", balances)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("ValidatorKey = \"abc\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "ValidatorKey") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := &Config{
		StorageBackend: "rocksdb",
		RPCAddress:     "nope",
		Indexer:        IndexerConfig{Enabled: true},
		Webhook:        WebhookConfig{URL: "ftp://example.com"},
		RPC:            RPCConfig{TrustedProxies: []string{"10.0.0.0/33"}},
		Telemetry:      TelemetryConfig{TraceSampleRatio: 2},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	for _, want := range []string{"StorageBackend", "RPCAddress", "JWTSecret", "indexer.DSN", "webhook.URL", "webhook.Secret", "sale.Owner", "rpc.TrustedProxies", "telemetry.TraceSampleRatio"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestTrustedProxyPrefixes(t *testing.T) {
	cfg := RPCConfig{TrustedProxies: []string{"10.0.0.1", " 192.168.0.0/16 ", "", "::ffff:172.16.0.9"}}
	prefixes, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(prefixes) != 3 {
		t.Fatalf("expected 3 prefixes, got %v", prefixes)
	}
	if prefixes[0].String() != "10.0.0.1/32" || prefixes[1].String() != "192.168.0.0/16" || prefixes[2].String() != "172.16.0.9/32" {
		t.Fatalf("unexpected prefixes: %v", prefixes)
	}
	if _, err := (RPCConfig{TrustedProxies: []string{"proxy.internal"}}).TrustedProxyPrefixes(); err == nil {
		t.Fatalf("expected hostname to be rejected")
	}
}
