package state

import "github.com/ethereum/go-ethereum/common"

var (
	currencyBalancePrefix = []byte("currency/balance/")
	accountNoncePrefix    = []byte("account/nonce/")
	saleAccountPrefix     = []byte("sale/account/")
	saleConfigKey         = []byte("sale/config")
	saleTotalsKey         = []byte("sale/totals")
	saleHoldersKey        = []byte("sale/holders")
	deploymentKey         = []byte("ledger/deployment")
)

func addressKey(prefix []byte, addr common.Address) []byte {
	buf := make([]byte, len(prefix)+common.AddressLength)
	copy(buf, prefix)
	copy(buf[len(prefix):], addr[:])
	return buf
}

// CurrencyBalanceKey returns the raw key for an account's currency balance.
func CurrencyBalanceKey(addr common.Address) []byte {
	return addressKey(currencyBalancePrefix, addr)
}

// SaleAccountKey returns the raw key for an address's sale record.
func SaleAccountKey(addr common.Address) []byte {
	return addressKey(saleAccountPrefix, addr)
}
