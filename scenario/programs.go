package scenario

import (
	"errors"
	"math/big"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"

	"tgeledger/core"
	"tgeledger/core/types"
)

const (
	programReject            = "reject"
	programReentrantRefund   = "reentrant-refund"
	programReentrantWithdraw = "reentrant-withdraw"
)

var programKinds = map[string]struct{}{
	programReject:            {},
	programReentrantRefund:   {},
	programReentrantWithdraw: {},
}

var errRejected = errors.New("program rejects incoming currency")

// rejectProgram refuses every incoming transfer.
type rejectProgram struct{}

func (rejectProgram) Receive(core.Host, common.Address, *big.Int) error {
	return errRejected
}

// reentrantProgram calls back into the ledger from its receive hook. The
// nested failure is swallowed so only the outer call decides the outcome.
type reentrantProgram struct {
	method   types.Method
	attempts atomic.Int64
	blocked  atomic.Int64
}

func (p *reentrantProgram) Receive(host core.Host, _ common.Address, _ *big.Int) error {
	p.attempts.Add(1)
	msg := &types.Message{Method: p.method}
	if p.method == types.MethodSendRefund {
		msg.Target = host.Self()
	}
	if _, err := host.Call(msg); err != nil {
		p.blocked.Add(1)
	}
	return nil
}

func newProgram(kind string) core.Program {
	switch kind {
	case programReject:
		return rejectProgram{}
	case programReentrantRefund:
		return &reentrantProgram{method: types.MethodSendRefund}
	case programReentrantWithdraw:
		return &reentrantProgram{method: types.MethodWithdraw}
	default:
		return nil
	}
}
