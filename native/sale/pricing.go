package sale

import (
	"math/big"

	"github.com/holiman/uint256"
)

// PurchaseUnits converts a currency amount into issued units at the given
// rate. Both operands and the product must fit in 256 bits.
func PurchaseUnits(value, rate *big.Int) (*big.Int, error) {
	if value == nil || value.Sign() <= 0 {
		return nil, ErrNonPositiveAmount
	}
	if rate == nil || rate.Sign() <= 0 {
		return nil, ErrInvalidArgument
	}
	v, overflow := uint256.FromBig(value)
	if overflow {
		return nil, ErrAmountOverflow
	}
	r, overflow := uint256.FromBig(rate)
	if overflow {
		return nil, ErrAmountOverflow
	}
	var units uint256.Int
	if _, overflow := units.MulOverflow(v, r); overflow {
		return nil, ErrAmountOverflow
	}
	return units.ToBig(), nil
}

// Withdrawable returns how much custody may leave the ledger in one call.
// The locked refund total is never available. Outside the finalized phase the
// result is additionally capped.
func Withdrawable(custody, locked, capPerCall *big.Int, finalized bool) *big.Int {
	available := new(big.Int).Sub(cloneBigInt(custody), cloneBigInt(locked))
	if available.Sign() <= 0 {
		return big.NewInt(0)
	}
	if !finalized && capPerCall != nil && available.Cmp(capPerCall) > 0 {
		return new(big.Int).Set(capPerCall)
	}
	return available
}
