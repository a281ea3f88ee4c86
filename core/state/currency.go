package state

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// CurrencyBalance returns the external currency held by addr.
func (m *Manager) CurrencyBalance(addr common.Address) (*big.Int, error) {
	amount := new(big.Int)
	ok, err := m.KVGet(CurrencyBalanceKey(addr), amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

// SetCurrencyBalance overwrites the currency balance of addr.
func (m *Manager) SetCurrencyBalance(addr common.Address, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative balance not allowed")
	}
	if amount.Sign() == 0 {
		return m.KVDelete(CurrencyBalanceKey(addr))
	}
	return m.KVPut(CurrencyBalanceKey(addr), amount)
}

// AccountNonce returns the number of deployments made by addr.
func (m *Manager) AccountNonce(addr common.Address) (uint64, error) {
	var nonce uint64
	if _, err := m.KVGet(addressKey(accountNoncePrefix, addr), &nonce); err != nil {
		return 0, err
	}
	return nonce, nil
}

func (m *Manager) SetAccountNonce(addr common.Address, nonce uint64) error {
	return m.KVPut(addressKey(accountNoncePrefix, addr), nonce)
}
