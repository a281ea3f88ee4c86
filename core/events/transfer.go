package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"tgeledger/core/types"
	"tgeledger/crypto"
)

const (
	// TypeCurrencyTransfer is emitted for every movement of the external
	// currency (purchase payments, refunds, withdrawals).
	TypeCurrencyTransfer = "currency.transfer"
)

// CurrencyTransfer captures a movement of the escrowed currency between two
// accounts.
type CurrencyTransfer struct {
	Asset  string
	From   common.Address
	To     common.Address
	Amount *big.Int
}

func (CurrencyTransfer) EventType() string { return TypeCurrencyTransfer }

func (e CurrencyTransfer) Event() *types.Event {
	attrs := map[string]string{}
	if asset := normalizeAsset(e.Asset); asset != "" {
		attrs["asset"] = asset
	}
	attrs["from"] = e.From.Hex()
	attrs["to"] = e.To.Hex()
	attrs["fromBech32"] = crypto.Bech32(e.From)
	attrs["toBech32"] = crypto.Bech32(e.To)
	attrs["amount"] = formatAmount(e.Amount)
	return &types.Event{Type: TypeCurrencyTransfer, Attributes: attrs}
}
