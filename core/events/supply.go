package events

import (
	"math/big"
	"strings"

	"tgeledger/core/types"
)

const (
	// TypeTokenSupply is emitted whenever the issued supply changes.
	TypeTokenSupply = "token.supply"

	// SupplyReasonAllocation identifies pre-sale allocation mints.
	SupplyReasonAllocation = "allocation"
	// SupplyReasonPurchase identifies purchase driven mints.
	SupplyReasonPurchase = "purchase"
	// SupplyReasonReversal identifies burns caused by a purchase reversal.
	SupplyReasonReversal = "reversal"
)

// TokenSupply captures a supply delta for the issued token.
type TokenSupply struct {
	Token  string
	Total  *big.Int
	Delta  *big.Int
	Reason string
}

func (TokenSupply) EventType() string { return TypeTokenSupply }

// Event renders the structured supply change event for downstream consumers.
func (e TokenSupply) Event() *types.Event {
	attrs := map[string]string{}
	token := strings.ToUpper(strings.TrimSpace(e.Token))
	if token == "" {
		token = "UNKNOWN"
	}
	attrs["token"] = token
	attrs["total"] = formatAmount(e.Total)
	if e.Delta != nil {
		attrs["delta"] = e.Delta.String()
	}
	if reason := strings.TrimSpace(e.Reason); reason != "" {
		attrs["reason"] = reason
	}
	return &types.Event{Type: TypeTokenSupply, Attributes: attrs}
}
