package state

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"tgeledger/native/sale"
)

type storedSaleConfig struct {
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

type storedSaleTotals struct {
	Phase              uint8
	TotalSupply        *big.Int
	TotalSale          *big.Int
	TotalEscrowed      *big.Int
	TotalLockedRefunds *big.Int
	Allocated          *big.Int
}

type storedSaleAccount struct {
	Balance        *big.Int
	Contribution   *big.Int
	PurchasedUnits *big.Int
	PendingRefund  *big.Int
	Whitelisted    bool
}

// Deployment records where the ledger lives and who created it.
type Deployment struct {
	Address  common.Address
	Deployer common.Address
	Nonce    uint64
}

func ensureBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// PutSaleConfig persists the immutable sale configuration.
func (m *Manager) PutSaleConfig(cfg sale.Config) error {
	return m.KVPut(saleConfigKey, &storedSaleConfig{
		Name:               cfg.Name,
		Symbol:             cfg.Symbol,
		Decimals:           cfg.Decimals,
		Rate:               ensureBig(cfg.Rate),
		Owner:              cfg.Owner,
		Beneficiary:        cfg.Beneficiary,
		WhitelistAuthority: cfg.WhitelistAuthority,
		MaxSale:            ensureBig(cfg.MaxSale),
		MaxAllocation:      ensureBig(cfg.MaxAllocation),
		MaxSupply:          ensureBig(cfg.MaxSupply),
		MinPurchase:        ensureBig(cfg.MinPurchase),
		MaxWithdrawal:      ensureBig(cfg.MaxWithdrawal),
	})
}

// SaleConfig loads the persisted configuration. The boolean reports whether a
// ledger has been deployed.
func (m *Manager) SaleConfig() (sale.Config, bool, error) {
	var stored storedSaleConfig
	ok, err := m.KVGet(saleConfigKey, &stored)
	if err != nil || !ok {
		return sale.Config{}, ok, err
	}
	return sale.Config{
		Name:               stored.Name,
		Symbol:             stored.Symbol,
		Decimals:           stored.Decimals,
		Rate:               ensureBig(stored.Rate),
		Owner:              stored.Owner,
		Beneficiary:        stored.Beneficiary,
		WhitelistAuthority: stored.WhitelistAuthority,
		MaxSale:            ensureBig(stored.MaxSale),
		MaxAllocation:      ensureBig(stored.MaxAllocation),
		MaxSupply:          ensureBig(stored.MaxSupply),
		MinPurchase:        ensureBig(stored.MinPurchase),
		MaxWithdrawal:      ensureBig(stored.MaxWithdrawal),
	}, true, nil
}

func (m *Manager) PutDeployment(d Deployment) error {
	return m.KVPut(deploymentKey, &d)
}

// Deployment returns the persisted deployment record, if any.
func (m *Manager) Deployment() (*Deployment, bool, error) {
	var d Deployment
	ok, err := m.KVGet(deploymentKey, &d)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &d, true, nil
}

// SaleTotals returns the ledger-wide counters. Missing entries default to a
// fresh BeforeSale record.
func (m *Manager) SaleTotals() (*sale.Totals, error) {
	var stored storedSaleTotals
	ok, err := m.KVGet(saleTotalsKey, &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return sale.NewTotals(), nil
	}
	phase := sale.Phase(stored.Phase)
	if !phase.Valid() {
		return nil, fmt.Errorf("state: corrupt sale phase %d", stored.Phase)
	}
	return &sale.Totals{
		Phase:              phase,
		TotalSupply:        ensureBig(stored.TotalSupply),
		TotalSale:          ensureBig(stored.TotalSale),
		TotalEscrowed:      ensureBig(stored.TotalEscrowed),
		TotalLockedRefunds: ensureBig(stored.TotalLockedRefunds),
		Allocated:          ensureBig(stored.Allocated),
	}, nil
}

func (m *Manager) PutSaleTotals(t *sale.Totals) error {
	if t == nil {
		return fmt.Errorf("state: nil sale totals")
	}
	return m.KVPut(saleTotalsKey, &storedSaleTotals{
		Phase:              uint8(t.Phase),
		TotalSupply:        ensureBig(t.TotalSupply),
		TotalSale:          ensureBig(t.TotalSale),
		TotalEscrowed:      ensureBig(t.TotalEscrowed),
		TotalLockedRefunds: ensureBig(t.TotalLockedRefunds),
		Allocated:          ensureBig(t.Allocated),
	})
}

// SaleAccount returns the sale record of addr, or an empty record.
func (m *Manager) SaleAccount(addr common.Address) (*sale.Account, error) {
	var stored storedSaleAccount
	ok, err := m.KVGet(SaleAccountKey(addr), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return sale.NewAccount(), nil
	}
	return &sale.Account{
		Balance:        ensureBig(stored.Balance),
		Contribution:   ensureBig(stored.Contribution),
		PurchasedUnits: ensureBig(stored.PurchasedUnits),
		PendingRefund:  ensureBig(stored.PendingRefund),
		Whitelisted:    stored.Whitelisted,
	}, nil
}

// PutSaleAccount stores the sale record of addr and indexes the address.
func (m *Manager) PutSaleAccount(addr common.Address, acc *sale.Account) error {
	if acc == nil {
		return fmt.Errorf("state: nil sale account")
	}
	if err := m.indexHolder(addr); err != nil {
		return err
	}
	return m.KVPut(SaleAccountKey(addr), &storedSaleAccount{
		Balance:        ensureBig(acc.Balance),
		Contribution:   ensureBig(acc.Contribution),
		PurchasedUnits: ensureBig(acc.PurchasedUnits),
		PendingRefund:  ensureBig(acc.PendingRefund),
		Whitelisted:    acc.Whitelisted,
	})
}

// SaleAddresses returns every address that ever had a sale record, sorted.
func (m *Manager) SaleAddresses() ([]common.Address, error) {
	var list []common.Address
	if _, err := m.KVGet(saleHoldersKey, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (m *Manager) indexHolder(addr common.Address) error {
	list, err := m.SaleAddresses()
	if err != nil {
		return err
	}
	idx := sort.Search(len(list), func(i int) bool {
		return bytes.Compare(list[i][:], addr[:]) >= 0
	})
	if idx < len(list) && list[idx] == addr {
		return nil
	}
	list = append(list, common.Address{})
	copy(list[idx+1:], list[idx:])
	list[idx] = addr
	return m.KVPut(saleHoldersKey, list)
}
