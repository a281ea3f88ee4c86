package sale

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Phase enumerates the sale lifecycle. Phases only move forward.
type Phase uint8

const (
	PhaseBeforeSale Phase = iota
	PhaseSale
	PhaseFinalized
)

func (p Phase) String() string {
	switch p {
	case PhaseBeforeSale:
		return "before_sale"
	case PhaseSale:
		return "sale"
	case PhaseFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Valid reports whether the phase is one of the known lifecycle values.
func (p Phase) Valid() bool { return p <= PhaseFinalized }

// Totals holds the ledger-wide counters.
type Totals struct {
	Phase              Phase
	TotalSupply        *big.Int
	TotalSale          *big.Int
	TotalEscrowed      *big.Int
	TotalLockedRefunds *big.Int
	Allocated          *big.Int
}

// NewTotals returns zeroed counters in the BeforeSale phase.
func NewTotals() *Totals {
	return &Totals{
		Phase:              PhaseBeforeSale,
		TotalSupply:        big.NewInt(0),
		TotalSale:          big.NewInt(0),
		TotalEscrowed:      big.NewInt(0),
		TotalLockedRefunds: big.NewInt(0),
		Allocated:          big.NewInt(0),
	}
}

// Clone returns a deep copy of the counters.
func (t *Totals) Clone() *Totals {
	if t == nil {
		return NewTotals()
	}
	return &Totals{
		Phase:              t.Phase,
		TotalSupply:        cloneBigInt(t.TotalSupply),
		TotalSale:          cloneBigInt(t.TotalSale),
		TotalEscrowed:      cloneBigInt(t.TotalEscrowed),
		TotalLockedRefunds: cloneBigInt(t.TotalLockedRefunds),
		Allocated:          cloneBigInt(t.Allocated),
	}
}

// Account is the per-address ledger record. Contribution and PurchasedUnits
// only cover purchases made since the address was last reverted.
type Account struct {
	Balance        *big.Int
	Contribution   *big.Int
	PurchasedUnits *big.Int
	PendingRefund  *big.Int
	Whitelisted    bool
}

// NewAccount returns an empty account record.
func NewAccount() *Account {
	return &Account{
		Balance:        big.NewInt(0),
		Contribution:   big.NewInt(0),
		PurchasedUnits: big.NewInt(0),
		PendingRefund:  big.NewInt(0),
	}
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return NewAccount()
	}
	return &Account{
		Balance:        cloneBigInt(a.Balance),
		Contribution:   cloneBigInt(a.Contribution),
		PurchasedUnits: cloneBigInt(a.PurchasedUnits),
		PendingRefund:  cloneBigInt(a.PendingRefund),
		Whitelisted:    a.Whitelisted,
	}
}

// IsEmpty reports whether the record carries no balance, refund or flag.
func (a *Account) IsEmpty() bool {
	if a == nil {
		return true
	}
	return !a.Whitelisted &&
		cloneBigInt(a.Balance).Sign() == 0 &&
		cloneBigInt(a.Contribution).Sign() == 0 &&
		cloneBigInt(a.PurchasedUnits).Sign() == 0 &&
		cloneBigInt(a.PendingRefund).Sign() == 0
}

// Summary is a read-only view of every ledger field.
type Summary struct {
	Address            common.Address `json:"address"`
	Name               string         `json:"name"`
	Symbol             string         `json:"symbol"`
	Decimals           uint8          `json:"decimals"`
	Phase              Phase          `json:"phase"`
	PhaseName          string         `json:"phaseName"`
	Owner              common.Address `json:"owner"`
	Beneficiary        common.Address `json:"beneficiary"`
	WhitelistAuthority common.Address `json:"whitelistAuthority"`
	Rate               *big.Int       `json:"rate"`
	MaxSale            *big.Int       `json:"maxSale"`
	MaxAllocation      *big.Int       `json:"maxAllocation"`
	MaxSupply          *big.Int       `json:"maxSupply"`
	MinPurchase        *big.Int       `json:"minPurchase"`
	MaxWithdrawal      *big.Int       `json:"maxWithdrawal"`
	TotalSupply        *big.Int       `json:"totalSupply"`
	TotalSale          *big.Int       `json:"totalSale"`
	TotalEscrowed      *big.Int       `json:"totalEscrowed"`
	TotalLockedRefunds *big.Int       `json:"totalLockedRefunds"`
	Allocated          *big.Int       `json:"allocated"`
	Custody            *big.Int       `json:"custody"`
	Available          *big.Int       `json:"available"`
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
