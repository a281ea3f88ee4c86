package config

import (
	"encoding/hex"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

type Config struct {
	DataDir        string `toml:"DataDir"`
	StorageBackend string `toml:"StorageBackend"`
	RPCAddress     string `toml:"RPCAddress"`
	Environment    string `toml:"Environment"`
	// Asset is the ticker of the escrowed currency used in events.
	Asset string `toml:"Asset"`

	Logging   LoggingConfig    `toml:"logging"`
	Telemetry TelemetryConfig  `toml:"telemetry"`
	RPC       RPCConfig        `toml:"rpc"`
	Indexer   IndexerConfig    `toml:"indexer"`
	Webhook   WebhookConfig    `toml:"webhook"`
	Sale      SaleConfig       `toml:"sale"`
	Genesis   []GenesisAccount `toml:"Genesis"`
}

type LoggingConfig struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

type TelemetryConfig struct {
	OTLPEndpoint  string `toml:"OTLPEndpoint"`
	OTLPInsecure  bool   `toml:"OTLPInsecure"`
	OTLPHeaders   string `toml:"OTLPHeaders"`
	EnableTraces  bool   `toml:"EnableTraces"`
	EnableMetrics bool   `toml:"EnableMetrics"`
	// TraceSampleRatio keeps this fraction of root spans; 0 keeps all.
	TraceSampleRatio float64 `toml:"TraceSampleRatio"`
}

// RPCConfig controls the JSON-RPC surface. Mutating methods always require a
// bearer token; reads may be opened with AllowAnonymousReads.
type RPCConfig struct {
	JWTSecret           string  `toml:"JWTSecret"`
	JWTIssuer           string  `toml:"JWTIssuer"`
	JWTAudience         string  `toml:"JWTAudience"`
	AllowAnonymousReads bool    `toml:"AllowAnonymousReads"`
	RateLimitPerSecond  float64 `toml:"RateLimitPerSecond"`
	RateLimitBurst      int     `toml:"RateLimitBurst"`
	ReadTimeoutSeconds  int     `toml:"ReadTimeoutSeconds"`
	WriteTimeoutSeconds int     `toml:"WriteTimeoutSeconds"`
	// TrustedProxies lists the peers (addresses or CIDRs) whose
	// X-Forwarded-For header identifies the client for rate limiting.
	TrustedProxies []string `toml:"TrustedProxies"`
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address is treated as a
// single-host prefix.
func (c RPCConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, raw := range c.TrustedProxies {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("rpc.TrustedProxies: %w", err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("rpc.TrustedProxies: %w", err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// IndexerConfig selects the notification index. DSN accepts
// "sqlite://<path>", "sqlite://:memory:" or a postgres URL.
type IndexerConfig struct {
	Enabled bool   `toml:"Enabled"`
	DSN     string `toml:"DSN"`
}

// WebhookConfig forwards notifications to an HTTP endpoint. An empty URL
// disables forwarding; an empty Types list forwards every notification.
type WebhookConfig struct {
	URL         string   `toml:"URL"`
	Secret      string   `toml:"Secret"`
	Types       []string `toml:"Types"`
	MaxAttempts int      `toml:"MaxAttempts"`
}

// SaleConfig holds the deployment parameters. Amounts are decimal strings in
// base units; empty values keep the canonical defaults.
type SaleConfig struct {
	Owner              string `toml:"Owner"`
	Beneficiary        string `toml:"Beneficiary"`
	WhitelistAuthority string `toml:"WhitelistAuthority"`
	Name               string `toml:"Name"`
	Symbol             string `toml:"Symbol"`
	Rate               string `toml:"Rate"`
	MaxSale            string `toml:"MaxSale"`
	MaxAllocation      string `toml:"MaxAllocation"`
	MinPurchase        string `toml:"MinPurchase"`
	MaxWithdrawal      string `toml:"MaxWithdrawal"`
}

type GenesisAccount struct {
	Address string `toml:"Address"`
	Balance string `toml:"Balance"`
}

// Load loads the configuration from the given path, creating a default file
// if none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./tge-data"
	}
	if strings.TrimSpace(c.StorageBackend) == "" {
		c.StorageBackend = "leveldb"
	}
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = "127.0.0.1:8545"
	}
	if strings.TrimSpace(c.Asset) == "" {
		c.Asset = "ETH"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = 100
	}
	if c.RPC.RateLimitPerSecond <= 0 {
		c.RPC.RateLimitPerSecond = 20
	}
	if c.RPC.RateLimitBurst <= 0 {
		c.RPC.RateLimitBurst = 40
	}
	if c.RPC.ReadTimeoutSeconds <= 0 {
		c.RPC.ReadTimeoutSeconds = 10
	}
	if c.RPC.WriteTimeoutSeconds <= 0 {
		c.RPC.WriteTimeoutSeconds = 10
	}
	if c.RPC.JWTIssuer == "" {
		c.RPC.JWTIssuer = "tgeledger"
	}
	if c.Genesis == nil {
		c.Genesis = []GenesisAccount{}
	}
}

// createDefault creates and saves a default configuration file. The role
// addresses and the JWT secret are freshly generated.
func createDefault(path string) (*Config, error) {
	roles := make([]string, 3)
	for i := range roles {
		key, err := ethcrypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		roles[i] = ethcrypto.PubkeyToAddress(key.PublicKey).Hex()
	}
	secret, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Environment: "dev",
		RPC: RPCConfig{
			JWTSecret:           hex.EncodeToString(ethcrypto.FromECDSA(secret)),
			AllowAnonymousReads: true,
		},
		Indexer: IndexerConfig{
			Enabled: true,
			DSN:     "sqlite://" + filepath.Join("tge-data", "index.db"),
		},
		Sale: SaleConfig{
			Owner:              roles[0],
			Beneficiary:        roles[1],
			WhitelistAuthority: roles[2],
		},
	}
	cfg.applyDefaults()

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
