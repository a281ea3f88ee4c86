package sale

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"tgeledger/core/events"
	"tgeledger/core/types"
	nativecommon "tgeledger/native/common"
)

var (
	errNilState = errors.New("sale engine: state not configured")
	errNilBank  = errors.New("sale engine: bank not configured")
)

type engineState interface {
	SaleTotals() (*Totals, error)
	PutSaleTotals(*Totals) error
	SaleAccount(addr common.Address) (*Account, error)
	PutSaleAccount(addr common.Address, acc *Account) error
}

// Bank moves the external currency. Transfer hands control to the recipient
// when it is a program, so it may re-enter the engine.
type Bank interface {
	Balance(addr common.Address) (*big.Int, error)
	Transfer(from, to common.Address, amount *big.Int) error
}

type saleEvent struct {
	evt *types.Event
}

func (e saleEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e saleEvent) Event() *types.Event { return e.evt }

// Engine applies the sale rules against the configured state. The engine owns
// no ledger data itself; custody is the bank balance of the ledger address.
type Engine struct {
	cfg     Config
	self    common.Address
	state   engineState
	bank    Bank
	emitter events.Emitter
	latch   nativecommon.Latch
}

// NewEngine validates cfg and binds it to the ledger address self.
func NewEngine(cfg Config, self common.Address) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:     cfg.Clone(),
		self:    self,
		emitter: events.NoopEmitter{},
	}, nil
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetBank configures the currency ledger used for custody.
func (e *Engine) SetBank(bank Bank) { e.bank = bank }

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// Config returns a copy of the immutable sale parameters.
func (e *Engine) Config() Config { return e.cfg.Clone() }

// Address returns the ledger address that holds custody.
func (e *Engine) Address() common.Address { return e.self }

// Locked reports whether a transfer-bearing call is in flight.
func (e *Engine) Locked() bool { return e.latch.Held() }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(saleEvent{evt: event})
}

func (e *Engine) emitSupply(total, delta *big.Int, reason string) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(events.TokenSupply{Token: e.cfg.Symbol, Total: cloneBigInt(total), Delta: cloneBigInt(delta), Reason: reason})
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.bank == nil {
		return errNilBank
	}
	return nil
}

// enter runs the checks shared by every mutating entry point.
func (e *Engine) enter() error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(&e.latch); err != nil {
		return ErrReentrantCall
	}
	return nil
}

func (e *Engine) requireOwner(caller common.Address) error {
	if caller != e.cfg.Owner {
		return ErrNotOwner
	}
	return nil
}

func (e *Engine) loadTotals() (*Totals, error) {
	totals, err := e.state.SaleTotals()
	if err != nil {
		return nil, err
	}
	if totals == nil {
		return NewTotals(), nil
	}
	return totals.Clone(), nil
}

func (e *Engine) loadAccount(addr common.Address) (*Account, error) {
	acc, err := e.state.SaleAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return NewAccount(), nil
	}
	return acc.Clone(), nil
}

// Transition advances the phase by one step.
func (e *Engine) Transition(caller common.Address) (Phase, error) {
	if err := e.enter(); err != nil {
		return 0, err
	}
	if err := e.requireOwner(caller); err != nil {
		return 0, err
	}
	totals, err := e.loadTotals()
	if err != nil {
		return 0, err
	}
	if totals.Phase >= PhaseFinalized {
		return totals.Phase, ErrSaleFinalized
	}
	prev := totals.Phase
	totals.Phase++
	if err := e.state.PutSaleTotals(totals); err != nil {
		return prev, err
	}
	e.emit(NewPhaseChangedEvent(prev, totals.Phase))
	return totals.Phase, nil
}

// Whitelist admits addr to the sale. Whitelisting twice is a no-op.
func (e *Engine) Whitelist(caller, addr common.Address) error {
	if err := e.enter(); err != nil {
		return err
	}
	if caller != e.cfg.WhitelistAuthority {
		return ErrNotWhitelistAuthority
	}
	if addr == (common.Address{}) {
		return ErrZeroAddress
	}
	acc, err := e.loadAccount(addr)
	if err != nil {
		return err
	}
	if acc.Whitelisted {
		return nil
	}
	acc.Whitelisted = true
	if err := e.state.PutSaleAccount(addr, acc); err != nil {
		return err
	}
	e.emit(NewWhitelistedEvent(addr))
	return nil
}

// Allocate mints amount units to a holder outside the purchase flow.
func (e *Engine) Allocate(caller, to common.Address, amount *big.Int) error {
	if err := e.enter(); err != nil {
		return err
	}
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	totals, err := e.loadTotals()
	if err != nil {
		return err
	}
	if totals.Phase >= PhaseFinalized {
		return ErrSaleFinalized
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrNonPositiveAmount
	}
	allocated := new(big.Int).Add(totals.Allocated, amount)
	if allocated.Cmp(e.cfg.MaxAllocation) > 0 {
		return fmt.Errorf("%w: allocated %s of %s", ErrAllocationCapExceeded, allocated, e.cfg.MaxAllocation)
	}
	supply := new(big.Int).Add(totals.TotalSupply, amount)
	if supply.Cmp(e.cfg.MaxSupply) > 0 {
		return ErrSupplyCapExceeded
	}
	acc, err := e.loadAccount(to)
	if err != nil {
		return err
	}
	acc.Balance.Add(acc.Balance, amount)
	totals.Allocated = allocated
	totals.TotalSupply = supply
	if err := e.state.PutSaleAccount(to, acc); err != nil {
		return err
	}
	if err := e.state.PutSaleTotals(totals); err != nil {
		return err
	}
	e.emit(NewTransferEvent(common.Address{}, to, amount))
	e.emitSupply(totals.TotalSupply, amount, events.SupplyReasonAllocation)
	return nil
}

// Purchase books a purchase of value currency units by caller. The runtime
// has already moved value into custody. Returns the minted units.
func (e *Engine) Purchase(caller common.Address, value *big.Int) (*big.Int, error) {
	if err := e.enter(); err != nil {
		return nil, err
	}
	totals, err := e.loadTotals()
	if err != nil {
		return nil, err
	}
	if totals.Phase != PhaseSale {
		return nil, ErrSaleNotActive
	}
	acc, err := e.loadAccount(caller)
	if err != nil {
		return nil, err
	}
	if !acc.Whitelisted {
		return nil, ErrNotWhitelisted
	}
	units, err := PurchaseUnits(value, e.cfg.Rate)
	if err != nil {
		return nil, err
	}
	if units.Cmp(e.cfg.MinPurchase) < 0 {
		return nil, fmt.Errorf("%w: %s units below %s", ErrBelowMinimumPurchase, units, e.cfg.MinPurchase)
	}
	sold := new(big.Int).Add(totals.TotalSale, units)
	if sold.Cmp(e.cfg.MaxSale) > 0 {
		return nil, fmt.Errorf("%w: %s of %s", ErrSaleCapExceeded, sold, e.cfg.MaxSale)
	}
	supply := new(big.Int).Add(totals.TotalSupply, units)
	if supply.Cmp(e.cfg.MaxSupply) > 0 {
		return nil, ErrSupplyCapExceeded
	}

	acc.Balance.Add(acc.Balance, units)
	acc.Contribution.Add(acc.Contribution, value)
	acc.PurchasedUnits.Add(acc.PurchasedUnits, units)
	totals.TotalSale = sold
	totals.TotalSupply = supply
	totals.TotalEscrowed = new(big.Int).Add(totals.TotalEscrowed, value)
	if err := e.state.PutSaleAccount(caller, acc); err != nil {
		return nil, err
	}
	if err := e.state.PutSaleTotals(totals); err != nil {
		return nil, err
	}
	e.emit(NewTransferEvent(common.Address{}, caller, units))
	e.emit(NewTokenPurchaseEvent(caller, value, units))
	e.emitSupply(totals.TotalSupply, units, events.SupplyReasonPurchase)
	return units, nil
}

// RevertPurchase destroys the entire balance of addr and locks the currency
// it contributed since its last reversal for a later SendRefund. Any value
// attached to the call is already in custody. The call fails when custody
// would not cover every locked refund. Returns the refund queued by this call.
func (e *Engine) RevertPurchase(caller, addr common.Address) (*big.Int, error) {
	if err := e.enter(); err != nil {
		return nil, err
	}
	if err := e.requireOwner(caller); err != nil {
		return nil, err
	}
	totals, err := e.loadTotals()
	if err != nil {
		return nil, err
	}
	acc, err := e.loadAccount(addr)
	if err != nil {
		return nil, err
	}
	destroyed := cloneBigInt(acc.Balance)
	refund := cloneBigInt(acc.Contribution)

	totals.TotalSupply = new(big.Int).Sub(totals.TotalSupply, destroyed)
	if totals.TotalSupply.Sign() < 0 {
		return nil, fmt.Errorf("%w: supply underflow", ErrInvalidState)
	}
	totals.TotalSale = new(big.Int).Sub(totals.TotalSale, acc.PurchasedUnits)
	if totals.TotalSale.Sign() < 0 {
		return nil, fmt.Errorf("%w: sale total underflow", ErrInvalidState)
	}
	totals.TotalLockedRefunds = new(big.Int).Add(totals.TotalLockedRefunds, refund)
	acc.PendingRefund.Add(acc.PendingRefund, refund)
	acc.Balance.SetInt64(0)
	acc.Contribution.SetInt64(0)
	acc.PurchasedUnits.SetInt64(0)

	custody, err := e.bank.Balance(e.self)
	if err != nil {
		return nil, err
	}
	if custody.Cmp(totals.TotalLockedRefunds) < 0 {
		return nil, fmt.Errorf("%w: custody %s, locked %s", ErrInsufficientCustody, custody, totals.TotalLockedRefunds)
	}
	if err := e.state.PutSaleAccount(addr, acc); err != nil {
		return nil, err
	}
	if err := e.state.PutSaleTotals(totals); err != nil {
		return nil, err
	}
	if destroyed.Sign() > 0 {
		e.emit(NewTransferEvent(addr, common.Address{}, destroyed))
		e.emitSupply(totals.TotalSupply, new(big.Int).Neg(destroyed), events.SupplyReasonReversal)
	}
	if refund.Sign() > 0 {
		e.emit(NewRefundQueuedEvent(addr, refund, acc.PendingRefund))
	}
	return refund, nil
}

// SendRefund pays out the pending refund of addr. Anyone may trigger it. The
// refund entry is cleared before the currency leaves custody.
func (e *Engine) SendRefund(addr common.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	release, err := e.latch.Acquire()
	if err != nil {
		return nil, ErrReentrantCall
	}
	defer release()

	acc, err := e.loadAccount(addr)
	if err != nil {
		return nil, err
	}
	refund := cloneBigInt(acc.PendingRefund)
	if refund.Sign() == 0 {
		return refund, nil
	}
	totals, err := e.loadTotals()
	if err != nil {
		return nil, err
	}
	acc.PendingRefund.SetInt64(0)
	totals.TotalLockedRefunds = new(big.Int).Sub(totals.TotalLockedRefunds, refund)
	if totals.TotalLockedRefunds.Sign() < 0 {
		return nil, fmt.Errorf("%w: locked refund underflow", ErrInvalidState)
	}
	if err := e.state.PutSaleAccount(addr, acc); err != nil {
		return nil, err
	}
	if err := e.state.PutSaleTotals(totals); err != nil {
		return nil, err
	}
	if err := e.bank.Transfer(e.self, addr, refund); err != nil {
		return nil, fmt.Errorf("%w: refund to %s: %v", ErrTransferFailed, addr.Hex(), err)
	}
	e.emit(NewRefundSentEvent(addr, refund))
	return refund, nil
}

// Withdraw sends unlocked custody to the beneficiary. While the sale is not
// finalized each call is capped by MaxWithdrawal.
func (e *Engine) Withdraw(caller common.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	release, err := e.latch.Acquire()
	if err != nil {
		return nil, ErrReentrantCall
	}
	defer release()

	if err := e.requireOwner(caller); err != nil {
		return nil, err
	}
	totals, err := e.loadTotals()
	if err != nil {
		return nil, err
	}
	custody, err := e.bank.Balance(e.self)
	if err != nil {
		return nil, err
	}
	amount := Withdrawable(custody, totals.TotalLockedRefunds, e.cfg.MaxWithdrawal, totals.Phase == PhaseFinalized)
	if amount.Sign() == 0 {
		return amount, nil
	}
	if err := e.bank.Transfer(e.self, e.cfg.Beneficiary, amount); err != nil {
		return nil, fmt.Errorf("%w: withdrawal to %s: %v", ErrTransferFailed, e.cfg.Beneficiary.Hex(), err)
	}
	remaining, err := e.bank.Balance(e.self)
	if err != nil {
		return nil, err
	}
	e.emit(NewWithdrawalEvent(e.cfg.Beneficiary, amount, remaining))
	return amount, nil
}

// Transfer is disabled for holders.
func (e *Engine) Transfer(caller, to common.Address, amount *big.Int) error {
	return ErrTransfersDisabled
}

// TransferFrom is disabled for holders.
func (e *Engine) TransferFrom(caller, from, to common.Address, amount *big.Int) error {
	return ErrTransfersDisabled
}
