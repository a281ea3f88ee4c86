package sale

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"tgeledger/core/types"
)

const (
	EventTypeTransfer      = "sale.transfer"
	EventTypeTokenPurchase = "sale.token_purchase"
	EventTypePhaseChanged  = "sale.phase_changed"
	EventTypeWhitelisted   = "sale.whitelisted"
	EventTypeRefundQueued  = "sale.refund_queued"
	EventTypeRefundSent    = "sale.refund_sent"
	EventTypeWithdrawal    = "sale.withdrawal"
)

// NewTransferEvent returns the payload for a movement of issued units. Mints
// use the zero address as source and burns use it as destination.
func NewTransferEvent(from, to common.Address, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeTransfer, Attributes: map[string]string{
		"from":   from.Hex(),
		"to":     to.Hex(),
		"amount": cloneBigInt(amount).String(),
	}}
}

// NewTokenPurchaseEvent returns the payload emitted alongside the mint of a
// purchase.
func NewTokenPurchaseEvent(buyer common.Address, value, units *big.Int) *types.Event {
	return &types.Event{Type: EventTypeTokenPurchase, Attributes: map[string]string{
		"buyer": buyer.Hex(),
		"value": cloneBigInt(value).String(),
		"units": cloneBigInt(units).String(),
	}}
}

// NewPhaseChangedEvent records a lifecycle step.
func NewPhaseChangedEvent(from, to Phase) *types.Event {
	return &types.Event{Type: EventTypePhaseChanged, Attributes: map[string]string{
		"from": from.String(),
		"to":   to.String(),
	}}
}

func NewWhitelistedEvent(addr common.Address) *types.Event {
	return &types.Event{Type: EventTypeWhitelisted, Attributes: map[string]string{
		"address": addr.Hex(),
	}}
}

// NewRefundQueuedEvent is emitted when a reversal locks currency for addr.
func NewRefundQueuedEvent(addr common.Address, amount, pending *big.Int) *types.Event {
	return &types.Event{Type: EventTypeRefundQueued, Attributes: map[string]string{
		"address": addr.Hex(),
		"amount":  cloneBigInt(amount).String(),
		"pending": cloneBigInt(pending).String(),
	}}
}

func NewRefundSentEvent(addr common.Address, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeRefundSent, Attributes: map[string]string{
		"address": addr.Hex(),
		"amount":  cloneBigInt(amount).String(),
	}}
}

func NewWithdrawalEvent(beneficiary common.Address, amount, remaining *big.Int) *types.Event {
	return &types.Event{Type: EventTypeWithdrawal, Attributes: map[string]string{
		"beneficiary": beneficiary.Hex(),
		"amount":      cloneBigInt(amount).String(),
		"custody":     cloneBigInt(remaining).String(),
	}}
}
