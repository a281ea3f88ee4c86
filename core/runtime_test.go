package core

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	coreerrors "tgeledger/core/errors"
	"tgeledger/core/events"
	"tgeledger/core/types"
	"tgeledger/native/sale"
	"tgeledger/storage"
)

var (
	ownerAddr       = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	beneficiaryAddr = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	authorityAddr   = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	buyerAddr       = common.HexToAddress("0x00000000000000000000000000000000000000d4")
	attackerAddr    = common.HexToAddress("0x00000000000000000000000000000000000000e5")
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}

// milli returns n thousandths of a currency unit.
func milli(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000))
}

type testEnv struct {
	rt     *Runtime
	rec    *events.Recorder
	ledger common.Address
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithDB(t, storage.NewMemDB())
}

func newTestEnvWithDB(t *testing.T, db storage.Database) *testEnv {
	t.Helper()
	rec := &events.Recorder{}
	rt, err := NewRuntime(db, WithEmitter(rec))
	require.NoError(t, err)
	for _, addr := range []common.Address{ownerAddr, buyerAddr, attackerAddr} {
		require.NoError(t, rt.Fund(addr, ether(10)))
	}
	ledger, err := rt.Deploy(context.Background(), ownerAddr, nil, beneficiaryAddr, authorityAddr)
	require.NoError(t, err)
	return &testEnv{rt: rt, rec: rec, ledger: ledger}
}

// must returns a checker for a (receipt, error) pair so calls can be wrapped
// directly: env.must(t)(env.rt.Purchase(...)).
func (e *testEnv) must(t *testing.T) func(*types.Receipt, error) *types.Receipt {
	return func(receipt *types.Receipt, err error) *types.Receipt {
		t.Helper()
		require.NoError(t, err)
		require.NotNil(t, receipt)
		require.True(t, receipt.Succeeded(), "receipt error: %s", receipt.Error)
		return receipt
	}
}

func (e *testEnv) openSale(t *testing.T, buyers ...common.Address) {
	t.Helper()
	ctx := context.Background()
	e.must(t)(e.rt.Transition(ctx, ownerAddr))
	for _, buyer := range buyers {
		e.must(t)(e.rt.Whitelist(ctx, authorityAddr, buyer))
	}
}

func (e *testEnv) balance(t *testing.T, addr common.Address) *big.Int {
	t.Helper()
	balance, err := e.rt.CurrencyBalance(addr)
	require.NoError(t, err)
	return balance
}

func (e *testEnv) checkInvariants(t *testing.T) {
	t.Helper()
	summary, err := e.rt.Snapshot()
	require.NoError(t, err)
	holders, err := e.rt.Holders()
	require.NoError(t, err)
	supply := big.NewInt(0)
	locked := big.NewInt(0)
	for _, holder := range holders {
		acc, err := e.rt.Account(holder)
		require.NoError(t, err)
		require.GreaterOrEqual(t, acc.Balance.Sign(), 0)
		supply.Add(supply, acc.Balance)
		locked.Add(locked, acc.PendingRefund)
	}
	require.Zero(t, supply.Cmp(summary.TotalSupply), "supply %s vs balances %s", summary.TotalSupply, supply)
	require.Zero(t, locked.Cmp(summary.TotalLockedRefunds), "locked %s vs pending %s", summary.TotalLockedRefunds, locked)
	require.LessOrEqual(t, summary.TotalSale.Cmp(summary.MaxSale), 0)
	require.LessOrEqual(t, summary.TotalSupply.Cmp(summary.MaxSupply), 0)
	require.GreaterOrEqual(t, summary.Custody.Cmp(summary.TotalLockedRefunds), 0)
	require.Zero(t, summary.Custody.Cmp(e.balance(t, e.ledger)))
}

func TestDeployRules(t *testing.T) {
	ctx := context.Background()
	rt, err := NewRuntime(storage.NewMemDB())
	require.NoError(t, err)

	_, err = rt.Apply(ctx, &types.Message{From: buyerAddr})
	require.ErrorIs(t, err, coreerrors.ErrNotDeployed)

	_, err = rt.Deploy(ctx, ownerAddr, big.NewInt(1), beneficiaryAddr, authorityAddr)
	require.ErrorIs(t, err, sale.ErrInvalidArgument)
	require.False(t, rt.Deployed())

	_, err = rt.Deploy(ctx, ownerAddr, nil, common.Address{}, authorityAddr)
	require.ErrorIs(t, err, sale.ErrInvalidArgument)

	addr, err := rt.Deploy(ctx, ownerAddr, big.NewInt(0), beneficiaryAddr, authorityAddr)
	require.NoError(t, err)
	require.NotEqual(t, common.Address{}, addr)
	require.Equal(t, addr, rt.Address())

	_, err = rt.Deploy(ctx, ownerAddr, nil, beneficiaryAddr, authorityAddr)
	require.ErrorIs(t, err, coreerrors.ErrAlreadyDeployed)

	summary, err := rt.Snapshot()
	require.NoError(t, err)
	require.Equal(t, ownerAddr, summary.Owner)
	require.Equal(t, sale.PhaseBeforeSale, summary.Phase)
	require.Equal(t, "TEST", summary.Symbol)
}

func TestRuntimeReopensDeployment(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ledger")
	db, err := storage.NewLevelDB(dir)
	require.NoError(t, err)
	env := newTestEnvWithDB(t, db)
	env.openSale(t, buyerAddr)
	env.must(t)(env.rt.Purchase(context.Background(), buyerAddr, milli(20)))
	db.Close()

	db, err = storage.NewLevelDB(dir)
	require.NoError(t, err)
	defer db.Close()
	rt, err := NewRuntime(db)
	require.NoError(t, err)
	require.True(t, rt.Deployed())
	require.Equal(t, env.ledger, rt.Address())

	summary, err := rt.Snapshot()
	require.NoError(t, err)
	require.Equal(t, sale.PhaseSale, summary.Phase)
	require.Zero(t, summary.Custody.Cmp(milli(20)))
	require.Zero(t, summary.TotalSale.Cmp(ether(128)))
}

func TestPurchaseReceipt(t *testing.T) {
	env := newTestEnv(t)
	env.openSale(t, buyerAddr)

	receipt := env.must(t)(env.rt.Apply(context.Background(), &types.Message{From: buyerAddr, Value: milli(10)}))
	require.Equal(t, types.MethodPurchase, receipt.Method)
	_, err := uuid.Parse(receipt.ID)
	require.NoError(t, err)
	require.Zero(t, receipt.Result.Cmp(ether(64)))
	require.True(t, receipt.HasEvent(events.TypeCurrencyTransfer))
	require.True(t, receipt.HasEvent(sale.EventTypeTransfer))
	require.True(t, receipt.HasEvent(sale.EventTypeTokenPurchase))
	require.True(t, receipt.HasEvent(events.TypeTokenSupply))
	require.Equal(t, 1, env.rec.Count(sale.EventTypeTokenPurchase))

	require.Zero(t, env.balance(t, buyerAddr).Cmp(new(big.Int).Sub(ether(10), milli(10))))
	require.Zero(t, env.balance(t, env.ledger).Cmp(milli(10)))
	env.checkInvariants(t)
}

func TestFailedCallRollsBack(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.must(t)(env.rt.Whitelist(ctx, authorityAddr, buyerAddr))
	before := len(env.rec.Events())

	receipt, err := env.rt.Purchase(ctx, buyerAddr, milli(10))
	require.ErrorIs(t, err, sale.ErrInvalidState)
	require.NotNil(t, receipt)
	require.False(t, receipt.Succeeded())
	require.Equal(t, sale.KindInvalidState, receipt.Kind)
	require.Empty(t, receipt.Logs)
	require.Len(t, env.rec.Events(), before)
	require.Zero(t, env.balance(t, buyerAddr).Cmp(ether(10)))
	require.Zero(t, env.balance(t, env.ledger).Sign())

	// Purchasing more than the caller owns never reaches the engine.
	env.must(t)(env.rt.Transition(ctx, ownerAddr))
	_, err = env.rt.Purchase(ctx, buyerAddr, ether(11))
	require.ErrorIs(t, err, coreerrors.ErrInsufficientFunds)
	require.ErrorIs(t, err, sale.ErrInvalidArgument)
	env.checkInvariants(t)
}

func TestNonPayableMethodsRejectValue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for _, method := range []types.Method{
		types.MethodAllocate, types.MethodTransition, types.MethodWhitelist,
		types.MethodSendRefund, types.MethodWithdraw,
	} {
		receipt, err := env.rt.Apply(ctx, &types.Message{From: ownerAddr, Method: method, Value: big.NewInt(1)})
		require.ErrorIs(t, err, sale.ErrValueNotAccepted, "method %s", method)
		require.Equal(t, sale.KindInvalidArgument, receipt.Kind)
	}
	require.Zero(t, env.balance(t, ownerAddr).Cmp(ether(10)))

	_, err := env.rt.Apply(ctx, &types.Message{From: ownerAddr, Method: "mint"})
	require.ErrorIs(t, err, coreerrors.ErrUnknownMethod)
}

func TestTransferSurfaceUnsupported(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.must(t)(env.rt.Allocate(ctx, ownerAddr, buyerAddr, ether(1)))

	receipt, err := env.rt.Transfer(ctx, buyerAddr, attackerAddr, big.NewInt(1))
	require.ErrorIs(t, err, sale.ErrUnsupported)
	require.Equal(t, sale.KindUnsupported, receipt.Kind)
	_, err = env.rt.TransferFrom(ctx, attackerAddr, buyerAddr, attackerAddr, big.NewInt(1))
	require.ErrorIs(t, err, sale.ErrUnsupported)

	// Attached currency does not change the outcome and never reaches custody.
	for _, method := range []types.Method{types.MethodTransfer, types.MethodTransferFrom} {
		receipt, err := env.rt.Apply(ctx, &types.Message{From: buyerAddr, Method: method, Target: attackerAddr, Amount: big.NewInt(1), Value: big.NewInt(1)})
		require.ErrorIs(t, err, sale.ErrUnsupported, "method %s", method)
		require.Equal(t, sale.KindUnsupported, receipt.Kind)
	}
	require.Zero(t, env.balance(t, buyerAddr).Cmp(ether(10)))
	require.Zero(t, env.balance(t, env.ledger).Sign())
}

func TestCancelledContextIsNotApplied(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	receipt, err := env.rt.Transition(ctx, ownerAddr)
	require.ErrorIs(t, err, context.Canceled)
	require.Nil(t, receipt)
	summary, err := env.rt.Snapshot()
	require.NoError(t, err)
	require.Equal(t, sale.PhaseBeforeSale, summary.Phase)
}

func TestPurchaseRevertRefundRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.openSale(t, buyerAddr)

	start := env.balance(t, buyerAddr)
	env.must(t)(env.rt.Purchase(ctx, buyerAddr, milli(10)))
	env.must(t)(env.rt.Purchase(ctx, buyerAddr, milli(15)))

	receipt := env.must(t)(env.rt.RevertPurchase(ctx, ownerAddr, buyerAddr, nil))
	require.Zero(t, receipt.Result.Cmp(milli(25)))
	require.True(t, receipt.HasEvent(sale.EventTypeRefundQueued))
	env.checkInvariants(t)

	receipt = env.must(t)(env.rt.SendRefund(ctx, attackerAddr, buyerAddr))
	require.Zero(t, receipt.Result.Cmp(milli(25)))
	require.Zero(t, env.balance(t, buyerAddr).Cmp(start))

	// A second payout finds nothing and succeeds silently.
	receipt = env.must(t)(env.rt.SendRefund(ctx, attackerAddr, buyerAddr))
	require.Zero(t, receipt.Result.Sign())
	require.False(t, receipt.HasEvent(sale.EventTypeRefundSent))
	env.checkInvariants(t)

	summary, err := env.rt.Snapshot()
	require.NoError(t, err)
	require.Zero(t, summary.TotalSupply.Sign())
	require.Zero(t, summary.TotalSale.Sign())
	require.Zero(t, summary.TotalEscrowed.Cmp(milli(25)))
}

func TestWithdrawalOrderingPermutations(t *testing.T) {
	type step string
	const (
		withdraw = step("withdraw")
		revert   = step("revertPurchase")
		refund   = step("sendRefund")
	)
	orders := [][]step{
		{withdraw, revert, refund},
		{withdraw, refund, revert},
		{revert, withdraw, refund},
		{revert, refund, withdraw},
		{refund, withdraw, revert},
		{refund, revert, withdraw},
	}
	payment := milli(20)

	for _, order := range orders {
		order := order
		t.Run(string(order[0])+"/"+string(order[1])+"/"+string(order[2]), func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()
			env.openSale(t, buyerAddr)
			buyerStart := env.balance(t, buyerAddr)
			ownerStart := env.balance(t, ownerAddr)
			env.must(t)(env.rt.Purchase(ctx, buyerAddr, payment))

			for _, s := range order {
				summary, err := env.rt.Snapshot()
				require.NoError(t, err)
				availableBefore := summary.Available

				switch s {
				case withdraw:
					receipt := env.must(t)(env.rt.Withdraw(ctx, ownerAddr))
					require.LessOrEqual(t, receipt.Result.Cmp(availableBefore), 0)
					require.LessOrEqual(t, receipt.Result.Cmp(summary.MaxWithdrawal), 0)
				case revert:
					env.must(t)(env.rt.RevertPurchase(ctx, ownerAddr, buyerAddr, payment))
				case refund:
					env.must(t)(env.rt.SendRefund(ctx, buyerAddr, buyerAddr))
				}
				env.checkInvariants(t)
			}

			// Settle: pay any remaining refund, finalize and drain.
			env.must(t)(env.rt.SendRefund(ctx, buyerAddr, buyerAddr))
			env.must(t)(env.rt.Transition(ctx, ownerAddr))
			env.must(t)(env.rt.Withdraw(ctx, ownerAddr))
			env.checkInvariants(t)

			require.Zero(t, env.balance(t, env.ledger).Sign())
			require.Zero(t, env.balance(t, buyerAddr).Cmp(buyerStart))
			require.Zero(t, env.balance(t, beneficiaryAddr).Cmp(payment))
			require.Zero(t, env.balance(t, ownerAddr).Cmp(new(big.Int).Sub(ownerStart, payment)))
		})
	}
}

func TestRevertPurchaseWithoutCustodyFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.openSale(t, buyerAddr)
	env.must(t)(env.rt.Purchase(ctx, buyerAddr, milli(20)))
	env.must(t)(env.rt.Withdraw(ctx, ownerAddr))

	receipt, err := env.rt.RevertPurchase(ctx, ownerAddr, buyerAddr, nil)
	require.ErrorIs(t, err, sale.ErrInsufficientCustody)
	require.Equal(t, sale.KindInvalidState, receipt.Kind)

	acc, err := env.rt.Account(buyerAddr)
	require.NoError(t, err)
	require.Zero(t, acc.Balance.Cmp(ether(128)))
	require.Zero(t, acc.PendingRefund.Sign())
	env.checkInvariants(t)
}

func TestWithdrawCapsUntilFinalized(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.openSale(t, buyerAddr)
	env.must(t)(env.rt.Purchase(ctx, buyerAddr, milli(50)))

	_, err := env.rt.Withdraw(ctx, buyerAddr)
	require.ErrorIs(t, err, sale.ErrUnauthorized)

	summary, err := env.rt.Snapshot()
	require.NoError(t, err)
	receipt := env.must(t)(env.rt.Withdraw(ctx, ownerAddr))
	require.Zero(t, receipt.Result.Cmp(summary.MaxWithdrawal))

	env.must(t)(env.rt.Transition(ctx, ownerAddr))
	receipt = env.must(t)(env.rt.Withdraw(ctx, ownerAddr))
	require.Zero(t, receipt.Result.Cmp(new(big.Int).Sub(milli(50), summary.MaxWithdrawal)))
	require.Zero(t, env.balance(t, beneficiaryAddr).Cmp(milli(50)))

	receipt = env.must(t)(env.rt.Withdraw(ctx, ownerAddr))
	require.Zero(t, receipt.Result.Sign())
	require.False(t, receipt.HasEvent(sale.EventTypeWithdrawal))
}

// refundAttacker re-enters sendRefund from its receive hook.
type refundAttacker struct {
	propagate bool
	attempts  []error
}

func (a *refundAttacker) Receive(host Host, from common.Address, amount *big.Int) error {
	_, err := host.Call(&types.Message{Method: types.MethodSendRefund, Target: host.Self()})
	a.attempts = append(a.attempts, err)
	if a.propagate {
		return err
	}
	return nil
}

func TestReentrantRefundIsRejected(t *testing.T) {
	for _, propagate := range []bool{false, true} {
		propagate := propagate
		name := "swallow"
		if propagate {
			name = "propagate"
		}
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()
			attacker := &refundAttacker{propagate: propagate}
			require.NoError(t, env.rt.RegisterProgram(attackerAddr, attacker))
			env.openSale(t, attackerAddr)
			env.must(t)(env.rt.Purchase(ctx, attackerAddr, milli(20)))
			env.must(t)(env.rt.RevertPurchase(ctx, ownerAddr, attackerAddr, nil))
			before := env.balance(t, attackerAddr)
			eventsBefore := len(env.rec.Events())

			receipt, err := env.rt.SendRefund(ctx, buyerAddr, attackerAddr)
			require.Len(t, attacker.attempts, 1)
			require.ErrorIs(t, attacker.attempts[0], sale.ErrReentrantCall)
			require.ErrorIs(t, attacker.attempts[0], sale.ErrInvalidState)

			acc, accErr := env.rt.Account(attackerAddr)
			require.NoError(t, accErr)
			if propagate {
				require.ErrorIs(t, err, sale.ErrTransferFailed)
				require.Equal(t, sale.KindTransferFailed, receipt.Kind)
				require.Zero(t, env.balance(t, attackerAddr).Cmp(before))
				require.Zero(t, acc.PendingRefund.Cmp(milli(20)))
				require.Len(t, env.rec.Events(), eventsBefore)
			} else {
				require.NoError(t, err)
				require.Zero(t, env.balance(t, attackerAddr).Cmp(new(big.Int).Add(before, milli(20))))
				require.Zero(t, acc.PendingRefund.Sign())
				require.Equal(t, 1, env.rec.Count(sale.EventTypeRefundSent))
			}
			env.checkInvariants(t)
		})
	}
}

// beneficiaryProgram tries to pull a second withdrawal and to buy while the
// ledger is paying it.
type beneficiaryProgram struct {
	attempts []error
}

func (b *beneficiaryProgram) Receive(host Host, from common.Address, amount *big.Int) error {
	_, err := host.Call(&types.Message{Method: types.MethodWithdraw})
	b.attempts = append(b.attempts, err)
	_, err = host.Call(&types.Message{Method: types.MethodWhitelist, Target: host.Self()})
	b.attempts = append(b.attempts, err)
	locked := host.Ledger().Locked()
	if !locked {
		return errors.New("expected latch to be held while receiving")
	}
	return nil
}

func TestReentrantWithdrawIsRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	program := &beneficiaryProgram{}
	require.NoError(t, env.rt.RegisterProgram(beneficiaryAddr, program))
	require.ErrorIs(t, env.rt.RegisterProgram(beneficiaryAddr, program), coreerrors.ErrProgramExists)
	env.openSale(t, buyerAddr)
	env.must(t)(env.rt.Purchase(ctx, buyerAddr, milli(50)))

	env.must(t)(env.rt.Withdraw(ctx, ownerAddr))
	require.Len(t, program.attempts, 2)
	for _, err := range program.attempts {
		require.ErrorIs(t, err, sale.ErrReentrantCall)
	}
	require.Equal(t, 1, env.rec.Count(sale.EventTypeWithdrawal))
	env.checkInvariants(t)
}

// nestedBuyer spends part of a refund on a purchase that fails.
type nestedBuyer struct {
	err error
}

func (n *nestedBuyer) Receive(host Host, from common.Address, amount *big.Int) error {
	_, n.err = host.Call(&types.Message{Method: types.MethodPurchase, Value: new(big.Int).Div(amount, big.NewInt(2))})
	return nil
}

func TestNestedFailureOnlyUndoesItsFrame(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	program := &nestedBuyer{}
	require.NoError(t, env.rt.RegisterProgram(attackerAddr, program))
	env.openSale(t, attackerAddr)
	env.must(t)(env.rt.Purchase(ctx, attackerAddr, milli(20)))
	env.must(t)(env.rt.RevertPurchase(ctx, ownerAddr, attackerAddr, nil))
	before := env.balance(t, attackerAddr)

	receipt := env.must(t)(env.rt.SendRefund(ctx, buyerAddr, attackerAddr))
	require.ErrorIs(t, program.err, sale.ErrReentrantCall)
	require.False(t, receipt.HasEvent(sale.EventTypeTokenPurchase))
	require.Zero(t, env.balance(t, attackerAddr).Cmp(new(big.Int).Add(before, milli(20))))

	transfers := 0
	for _, log := range receipt.Logs {
		if log.Type == events.TypeCurrencyTransfer {
			transfers++
		}
	}
	require.Equal(t, 1, transfers)
	env.checkInvariants(t)
}

func TestAllocationPhaseRules(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.must(t)(env.rt.Allocate(ctx, ownerAddr, buyerAddr, ether(50)))
	_, err := env.rt.Allocate(ctx, ownerAddr, buyerAddr, big.NewInt(1))
	require.ErrorIs(t, err, sale.ErrAllocationCapExceeded)
	_, err = env.rt.Allocate(ctx, ownerAddr, common.Address{}, big.NewInt(1))
	require.ErrorIs(t, err, sale.ErrInvalidArgument)

	env.must(t)(env.rt.Transition(ctx, ownerAddr))
	env.must(t)(env.rt.Transition(ctx, ownerAddr))
	receipt, err := env.rt.Transition(ctx, ownerAddr)
	require.ErrorIs(t, err, sale.ErrInvalidState)
	require.Equal(t, sale.KindInvalidState, receipt.Kind)
	env.checkInvariants(t)
}
