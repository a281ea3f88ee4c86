package sale

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Read accessors. They never take the latch so they remain available to
// programs re-entering during a transfer.

func (e *Engine) Phase() (Phase, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	totals, err := e.loadTotals()
	if err != nil {
		return 0, err
	}
	return totals.Phase, nil
}

// SaleStarted reports whether the sale phase has been reached.
func (e *Engine) SaleStarted() (bool, error) {
	phase, err := e.Phase()
	return phase >= PhaseSale, err
}

// SaleFinalized reports whether the sale has been finalized.
func (e *Engine) SaleFinalized() (bool, error) {
	phase, err := e.Phase()
	return phase == PhaseFinalized, err
}

func (e *Engine) Totals() (*Totals, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.loadTotals()
}

// Account returns a copy of the ledger record for addr.
func (e *Engine) Account(addr common.Address) (*Account, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.loadAccount(addr)
}

func (e *Engine) BalanceOf(addr common.Address) (*big.Int, error) {
	acc, err := e.Account(addr)
	if err != nil {
		return nil, err
	}
	return acc.Balance, nil
}

func (e *Engine) PendingRefund(addr common.Address) (*big.Int, error) {
	acc, err := e.Account(addr)
	if err != nil {
		return nil, err
	}
	return acc.PendingRefund, nil
}

func (e *Engine) IsWhitelisted(addr common.Address) (bool, error) {
	acc, err := e.Account(addr)
	if err != nil {
		return false, err
	}
	return acc.Whitelisted, nil
}

// Custody returns the currency held by the ledger address.
func (e *Engine) Custody() (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.bank.Balance(e.self)
}

// Available returns custody not reserved for refunds, floored at zero.
func (e *Engine) Available() (*big.Int, error) {
	totals, err := e.Totals()
	if err != nil {
		return nil, err
	}
	custody, err := e.Custody()
	if err != nil {
		return nil, err
	}
	return Withdrawable(custody, totals.TotalLockedRefunds, nil, true), nil
}

// Summary returns every configured and accumulated ledger field.
func (e *Engine) Summary() (*Summary, error) {
	totals, err := e.Totals()
	if err != nil {
		return nil, err
	}
	custody, err := e.Custody()
	if err != nil {
		return nil, err
	}
	cfg := e.cfg.Clone()
	return &Summary{
		Address:            e.self,
		Name:               cfg.Name,
		Symbol:             cfg.Symbol,
		Decimals:           cfg.Decimals,
		Phase:              totals.Phase,
		PhaseName:          totals.Phase.String(),
		Owner:              cfg.Owner,
		Beneficiary:        cfg.Beneficiary,
		WhitelistAuthority: cfg.WhitelistAuthority,
		Rate:               cfg.Rate,
		MaxSale:            cfg.MaxSale,
		MaxAllocation:      cfg.MaxAllocation,
		MaxSupply:          cfg.MaxSupply,
		MinPurchase:        cfg.MinPurchase,
		MaxWithdrawal:      cfg.MaxWithdrawal,
		TotalSupply:        totals.TotalSupply,
		TotalSale:          totals.TotalSale,
		TotalEscrowed:      totals.TotalEscrowed,
		TotalLockedRefunds: totals.TotalLockedRefunds,
		Allocated:          totals.Allocated,
		Custody:            custody,
		Available:          Withdrawable(custody, totals.TotalLockedRefunds, nil, true),
	}, nil
}
