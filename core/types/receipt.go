package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Receipt status values.
const (
	ReceiptStatusSuccess = "success"
	ReceiptStatusFailed  = "failed"
)

// Receipt reflects the outcome of one top-level ledger call.
type Receipt struct {
	ID     string         `json:"id"`
	Method Method         `json:"method"`
	From   common.Address `json:"from"`
	Value  *big.Int       `json:"value"`
	Status string         `json:"status"`
	Error  string         `json:"error,omitempty"`
	Kind   string         `json:"kind,omitempty"`
	// Result carries the amount produced by the call: units minted, refund
	// queued or paid, or currency withdrawn.
	Result *big.Int `json:"result,omitempty"`
	Logs   []*Event `json:"logs"`
}

// Succeeded reports whether the call was applied.
func (r *Receipt) Succeeded() bool {
	return r != nil && r.Status == ReceiptStatusSuccess
}

// HasEvent reports whether any log carries the given event type.
func (r *Receipt) HasEvent(eventType string) bool {
	if r == nil {
		return false
	}
	for _, log := range r.Logs {
		if log != nil && log.Type == eventType {
			return true
		}
	}
	return false
}
