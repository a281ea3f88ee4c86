package scenario

import (
	"fmt"
	"math/big"
	"strings"
)

var unitSuffixes = []struct {
	suffix   string
	exponent int64
}{
	{"ether", 18},
	{"token", 18},
	{"milli", 15},
	{"gwei", 9},
	{"wei", 0},
}

// ParseAmount reads a base-unit amount. A plain integer is taken as is; a
// decimal followed by ether, token, milli, gwei or wei is scaled by the unit.
// A leading minus is accepted for deltas.
func ParseAmount(raw string) (*big.Int, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(raw), "_", "")
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	exponent := int64(0)
	lower := strings.ToLower(trimmed)
	for _, unit := range unitSuffixes {
		if strings.HasSuffix(lower, unit.suffix) {
			exponent = unit.exponent
			trimmed = strings.TrimSpace(trimmed[:len(trimmed)-len(unit.suffix)])
			break
		}
	}
	value, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(exponent), nil)
	value.Mul(value, new(big.Rat).SetInt(scale))
	if !value.IsInt() {
		return nil, fmt.Errorf("amount %q is not a whole number of base units", raw)
	}
	return new(big.Int).Set(value.Num()), nil
}
