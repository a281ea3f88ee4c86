package core

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"tgeledger/core/types"
)

// Typed helpers around Apply.

// Purchase buys units with value currency. It is what a bare payment to the
// ledger does.
func (r *Runtime) Purchase(ctx context.Context, buyer common.Address, value *big.Int) (*types.Receipt, error) {
	return r.Apply(ctx, &types.Message{From: buyer, Method: types.MethodPurchase, Value: value})
}

func (r *Runtime) Allocate(ctx context.Context, owner, to common.Address, amount *big.Int) (*types.Receipt, error) {
	return r.Apply(ctx, &types.Message{From: owner, Method: types.MethodAllocate, Target: to, Amount: amount})
}

func (r *Runtime) Transition(ctx context.Context, owner common.Address) (*types.Receipt, error) {
	return r.Apply(ctx, &types.Message{From: owner, Method: types.MethodTransition})
}

func (r *Runtime) Whitelist(ctx context.Context, authority, addr common.Address) (*types.Receipt, error) {
	return r.Apply(ctx, &types.Message{From: authority, Method: types.MethodWhitelist, Target: addr})
}

// RevertPurchase reverses addr's purchases. topUp is currency the owner sends
// along to keep custody above the locked refunds; it may be nil.
func (r *Runtime) RevertPurchase(ctx context.Context, owner, addr common.Address, topUp *big.Int) (*types.Receipt, error) {
	return r.Apply(ctx, &types.Message{From: owner, Method: types.MethodRevertPurchase, Target: addr, Value: topUp})
}

func (r *Runtime) SendRefund(ctx context.Context, caller, addr common.Address) (*types.Receipt, error) {
	return r.Apply(ctx, &types.Message{From: caller, Method: types.MethodSendRefund, Target: addr})
}

func (r *Runtime) Withdraw(ctx context.Context, owner common.Address) (*types.Receipt, error) {
	return r.Apply(ctx, &types.Message{From: owner, Method: types.MethodWithdraw})
}

func (r *Runtime) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) (*types.Receipt, error) {
	return r.Apply(ctx, &types.Message{From: from, Method: types.MethodTransfer, Target: to, Amount: amount})
}

func (r *Runtime) TransferFrom(ctx context.Context, caller, from, to common.Address, amount *big.Int) (*types.Receipt, error) {
	return r.Apply(ctx, &types.Message{From: caller, Method: types.MethodTransferFrom, Source: from, Target: to, Amount: amount})
}
