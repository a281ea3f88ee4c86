package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Method names the ledger entry point a message invokes.
type Method string

const (
	MethodPurchase       Method = "purchase" // default receive entry point
	MethodAllocate       Method = "allocate"
	MethodTransition     Method = "transition"
	MethodWhitelist      Method = "whitelist"
	MethodRevertPurchase Method = "revertPurchase"
	MethodSendRefund     Method = "sendRefund"
	MethodWithdraw       Method = "withdraw"
	MethodTransfer       Method = "transfer"
	MethodTransferFrom   Method = "transferFrom"
)

// Message is a single call against the ledger. Target and Amount are only
// meaningful for the methods that take them.
type Message struct {
	From   common.Address `json:"from"`
	Method Method         `json:"method"`
	Value  *big.Int       `json:"value,omitempty"`
	Target common.Address `json:"target,omitempty"`
	Source common.Address `json:"source,omitempty"`
	Amount *big.Int       `json:"amount,omitempty"`
}

// EffectiveMethod maps the empty method to the default receive entry point.
func (m *Message) EffectiveMethod() Method {
	if m == nil || m.Method == "" {
		return MethodPurchase
	}
	return m.Method
}

// Payable reports whether the method accepts attached currency.
func (m Method) Payable() bool {
	switch m {
	case "", MethodPurchase, MethodRevertPurchase:
		return true
	default:
		return false
	}
}

// Disabled reports whether the method is part of the surface but always
// rejected.
func (m Method) Disabled() bool {
	return m == MethodTransfer || m == MethodTransferFrom
}

// Known reports whether the method is part of the ledger surface.
func (m Method) Known() bool {
	switch m {
	case "", MethodPurchase, MethodAllocate, MethodTransition, MethodWhitelist,
		MethodRevertPurchase, MethodSendRefund, MethodWithdraw, MethodTransfer, MethodTransferFrom:
		return true
	default:
		return false
	}
}

// AttachedValue returns a non-nil copy of the attached currency.
func (m *Message) AttachedValue() *big.Int {
	if m == nil || m.Value == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(m.Value)
}
