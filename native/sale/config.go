package sale

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const (
	DefaultName     = "Neureal TGE Test"
	DefaultSymbol   = "TEST"
	DefaultDecimals = 18
	DefaultRate     = 6400
)

var (
	unit = new(big.Int).Exp(big.NewInt(10), big.NewInt(DefaultDecimals), nil)

	// DefaultMaxSale caps the units sellable through purchases.
	DefaultMaxSale = new(big.Int).Mul(big.NewInt(700), unit)
	// DefaultMaxAllocation caps the units minted before or during the sale
	// by the owner.
	DefaultMaxAllocation = new(big.Int).Mul(big.NewInt(50), unit)
	// DefaultMinPurchase is the minimum number of units a purchase must mint.
	DefaultMinPurchase = new(big.Int).Mul(big.NewInt(7), unit)
	// DefaultMaxWithdrawal is the per-call withdrawal cap while the sale is
	// not finalized.
	DefaultMaxWithdrawal = new(big.Int).Quo(new(big.Int).Mul(big.NewInt(70), unit), big.NewInt(DefaultRate))
)

// Config is fixed when the ledger is deployed.
type Config struct {
	Name               string
	Symbol             string
	Decimals           uint8
	Rate               *big.Int
	Owner              common.Address
	Beneficiary        common.Address
	WhitelistAuthority common.Address
	MaxSale            *big.Int
	MaxAllocation      *big.Int
	MaxSupply          *big.Int
	MinPurchase        *big.Int
	MaxWithdrawal      *big.Int
}

// DefaultConfig returns the canonical sale parameters for the supplied roles.
func DefaultConfig(owner, beneficiary, whitelistAuthority common.Address) Config {
	return Config{
		Name:               DefaultName,
		Symbol:             DefaultSymbol,
		Decimals:           DefaultDecimals,
		Rate:               big.NewInt(DefaultRate),
		Owner:              owner,
		Beneficiary:        beneficiary,
		WhitelistAuthority: whitelistAuthority,
		MaxSale:            new(big.Int).Set(DefaultMaxSale),
		MaxAllocation:      new(big.Int).Set(DefaultMaxAllocation),
		MaxSupply:          new(big.Int).Add(DefaultMaxSale, DefaultMaxAllocation),
		MinPurchase:        new(big.Int).Set(DefaultMinPurchase),
		MaxWithdrawal:      new(big.Int).Set(DefaultMaxWithdrawal),
	}
}

// Clone returns a deep copy of the configuration.
func (c Config) Clone() Config {
	out := c
	out.Rate = cloneBigInt(c.Rate)
	out.MaxSale = cloneBigInt(c.MaxSale)
	out.MaxAllocation = cloneBigInt(c.MaxAllocation)
	out.MaxSupply = cloneBigInt(c.MaxSupply)
	out.MinPurchase = cloneBigInt(c.MinPurchase)
	out.MaxWithdrawal = cloneBigInt(c.MaxWithdrawal)
	return out
}

// Validate checks the construction rules. Every problem is reported.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Symbol) == "" {
		errs = append(errs, errors.New("symbol must not be empty"))
	}
	if c.Rate == nil || c.Rate.Sign() <= 0 {
		errs = append(errs, errors.New("rate must be positive"))
	}
	for _, field := range []struct {
		name  string
		value *big.Int
	}{
		{"maxSale", c.MaxSale},
		{"maxAllocation", c.MaxAllocation},
		{"maxSupply", c.MaxSupply},
		{"minPurchase", c.MinPurchase},
		{"maxWithdrawal", c.MaxWithdrawal},
	} {
		if field.value == nil {
			errs = append(errs, fmt.Errorf("%s must be set", field.name))
			continue
		}
		if field.value.Sign() < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", field.name))
		}
	}
	if c.MaxSale != nil && c.MaxAllocation != nil && c.MaxSupply != nil {
		if new(big.Int).Add(c.MaxSale, c.MaxAllocation).Cmp(c.MaxSupply) != 0 {
			errs = append(errs, errors.New("maxSupply must equal maxSale + maxAllocation"))
		}
	}
	if c.Owner == (common.Address{}) {
		errs = append(errs, errors.New("owner must not be the zero address"))
	}
	if c.Beneficiary == (common.Address{}) {
		errs = append(errs, errors.New("beneficiary must not be the zero address"))
	}
	if c.WhitelistAuthority == (common.Address{}) {
		errs = append(errs, errors.New("whitelist authority must not be the zero address"))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: invalid config: %w", ErrInvalidArgument, errors.Join(errs...))
}
