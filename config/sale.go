package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"tgeledger/crypto"
	"tgeledger/native/sale"
)

func parseAmount(field, raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%s: invalid amount %q", field, raw)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("%s: amount must not be negative", field)
	}
	return value, nil
}

func parseRole(field, raw string) (common.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return common.Address{}, fmt.Errorf("%s: address required", field)
	}
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("%s: %w", field, err)
	}
	return addr, nil
}

// Build turns the file section into engine parameters. Overridden caps keep
// MaxSupply equal to MaxSale + MaxAllocation.
func (s SaleConfig) Build() (sale.Config, error) {
	owner, err := parseRole("sale.Owner", s.Owner)
	if err != nil {
		return sale.Config{}, err
	}
	beneficiary, err := parseRole("sale.Beneficiary", s.Beneficiary)
	if err != nil {
		return sale.Config{}, err
	}
	authority, err := parseRole("sale.WhitelistAuthority", s.WhitelistAuthority)
	if err != nil {
		return sale.Config{}, err
	}
	cfg := sale.DefaultConfig(owner, beneficiary, authority)
	if name := strings.TrimSpace(s.Name); name != "" {
		cfg.Name = name
	}
	if symbol := strings.TrimSpace(s.Symbol); symbol != "" {
		cfg.Symbol = strings.ToUpper(symbol)
	}
	overrides := []struct {
		field string
		raw   string
		dst   **big.Int
	}{
		{"sale.Rate", s.Rate, &cfg.Rate},
		{"sale.MaxSale", s.MaxSale, &cfg.MaxSale},
		{"sale.MaxAllocation", s.MaxAllocation, &cfg.MaxAllocation},
		{"sale.MinPurchase", s.MinPurchase, &cfg.MinPurchase},
		{"sale.MaxWithdrawal", s.MaxWithdrawal, &cfg.MaxWithdrawal},
	}
	for _, o := range overrides {
		value, err := parseAmount(o.field, o.raw)
		if err != nil {
			return sale.Config{}, err
		}
		if value != nil {
			*o.dst = value
		}
	}
	cfg.MaxSupply = new(big.Int).Add(cfg.MaxSale, cfg.MaxAllocation)
	if err := cfg.Validate(); err != nil {
		return sale.Config{}, err
	}
	return cfg, nil
}

// Balance is a parsed genesis credit.
type Balance struct {
	Address common.Address
	Amount  *big.Int
}

// GenesisBalances parses the [[Genesis]] entries.
func (c *Config) GenesisBalances() ([]Balance, error) {
	out := make([]Balance, 0, len(c.Genesis))
	for i, entry := range c.Genesis {
		field := fmt.Sprintf("Genesis[%d]", i)
		addr, err := parseRole(field+".Address", entry.Address)
		if err != nil {
			return nil, err
		}
		amount, err := parseAmount(field+".Balance", entry.Balance)
		if err != nil {
			return nil, err
		}
		if amount == nil || amount.Sign() == 0 {
			return nil, fmt.Errorf("%s.Balance: must be positive", field)
		}
		out = append(out, Balance{Address: addr, Amount: amount})
	}
	return out, nil
}
