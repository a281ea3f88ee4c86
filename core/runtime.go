package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	coreerrors "tgeledger/core/errors"
	"tgeledger/core/events"
	"tgeledger/core/state"
	"tgeledger/core/types"
	"tgeledger/crypto"
	"tgeledger/native/sale"
	"tgeledger/observability"
	"tgeledger/observability/logging"
	telemetry "tgeledger/observability/otel"
	"tgeledger/storage"
)

const (
	// DefaultAsset is the ticker used for the escrowed currency in events.
	DefaultAsset = "ETH"
	// DefaultMaxCallDepth bounds nested calls made by programs.
	DefaultMaxCallDepth = 8
)

// Program is an account with code. Receive runs whenever currency is
// transferred to the account by the ledger; returning an error rejects the
// transfer.
type Program interface {
	Receive(host Host, from common.Address, amount *big.Int) error
}

// Host is what a program can reach while it runs.
type Host interface {
	// Self is the program's own address.
	Self() common.Address
	// Call executes a nested ledger call on behalf of the program; msg.From
	// is overwritten with Self. A failing nested call undoes only its own
	// effects.
	Call(msg *types.Message) (*big.Int, error)
	Ledger() *sale.Engine
	CurrencyBalance(addr common.Address) (*big.Int, error)
}

// Option customises a Runtime.
type Option func(*Runtime)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithEmitter sets the downstream emitter that receives the events of every
// committed call.
func WithEmitter(emitter events.Emitter) Option {
	return func(r *Runtime) {
		if emitter != nil {
			r.emitter = emitter
		}
	}
}

func WithAsset(asset string) Option {
	return func(r *Runtime) {
		if asset != "" {
			r.asset = asset
		}
	}
}

func WithInstruments(instruments *telemetry.Instruments) Option {
	return func(r *Runtime) {
		if instruments != nil {
			r.instruments = instruments
		}
	}
}

func WithMaxCallDepth(depth int) Option {
	return func(r *Runtime) {
		if depth > 0 {
			r.maxDepth = depth
		}
	}
}

// Runtime binds the sale engine to storage, the currency ledger and programs.
// Top-level calls are serialized and atomic: a failing call leaves no trace in
// state or in the event stream.
type Runtime struct {
	mu       sync.Mutex
	state    *state.Manager
	engine   *sale.Engine
	programs map[common.Address]Program
	emitter  events.Emitter
	pending  []events.Event
	logger   *slog.Logger
	metrics  *observability.LedgerMetrics
	tracer   trace.Tracer
	// instruments mirror metrics over OTLP when telemetry is started.
	instruments *telemetry.Instruments
	asset       string
	depth       int
	maxDepth    int
}

// NewRuntime creates a runtime over db. If db already holds a deployment the
// ledger is reopened.
func NewRuntime(db storage.Database, opts ...Option) (*Runtime, error) {
	if db == nil {
		return nil, fmt.Errorf("runtime: database required")
	}
	r := &Runtime{
		state:       state.NewManager(db),
		programs:    make(map[common.Address]Program),
		emitter:     events.NoopEmitter{},
		logger:      logging.Discard(),
		metrics:     observability.Ledger(),
		tracer:      telemetry.Tracer(),
		instruments: telemetry.LedgerInstruments(),
		asset:       DefaultAsset,
		maxDepth:    DefaultMaxCallDepth,
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Runtime) open() error {
	cfg, ok, err := r.state.SaleConfig()
	if err != nil {
		return fmt.Errorf("runtime: load config: %w", err)
	}
	if !ok {
		return nil
	}
	deployment, ok, err := r.state.Deployment()
	if err != nil {
		return fmt.Errorf("runtime: load deployment: %w", err)
	}
	if !ok {
		return fmt.Errorf("runtime: config present without deployment record")
	}
	return r.bind(cfg, deployment.Address)
}

func (r *Runtime) bind(cfg sale.Config, addr common.Address) error {
	engine, err := sale.NewEngine(cfg, addr)
	if err != nil {
		return err
	}
	engine.SetState(r.state)
	engine.SetBank(runtimeBank{r: r})
	engine.SetEmitter(bufferEmitter{r: r})
	r.engine = engine
	return nil
}

// Deploy creates the ledger with the canonical parameters. The deployer
// becomes the owner.
func (r *Runtime) Deploy(ctx context.Context, deployer common.Address, value *big.Int, beneficiary, whitelistAuthority common.Address) (common.Address, error) {
	return r.DeployWithConfig(ctx, deployer, value, sale.DefaultConfig(deployer, beneficiary, whitelistAuthority))
}

// DeployWithConfig creates the ledger with explicit parameters. The owner is
// always the deployer. Construction accepts no currency.
func (r *Runtime) DeployWithConfig(ctx context.Context, deployer common.Address, value *big.Int, cfg sale.Config) (common.Address, error) {
	if err := ctx.Err(); err != nil {
		return common.Address{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.engine != nil {
		return common.Address{}, coreerrors.ErrAlreadyDeployed
	}
	if value != nil && value.Sign() != 0 {
		return common.Address{}, sale.ErrValueNotAccepted
	}
	cfg = cfg.Clone()
	cfg.Owner = deployer
	if err := cfg.Validate(); err != nil {
		return common.Address{}, err
	}
	nonce, err := r.state.AccountNonce(deployer)
	if err != nil {
		return common.Address{}, err
	}
	addr := crypto.LedgerAddress(deployer, nonce)
	if err := r.state.SetAccountNonce(deployer, nonce+1); err != nil {
		r.state.Discard()
		return common.Address{}, err
	}
	if err := r.state.PutSaleConfig(cfg); err != nil {
		r.state.Discard()
		return common.Address{}, err
	}
	if err := r.state.PutDeployment(state.Deployment{Address: addr, Deployer: deployer, Nonce: nonce}); err != nil {
		r.state.Discard()
		return common.Address{}, err
	}
	if err := r.state.PutSaleTotals(sale.NewTotals()); err != nil {
		r.state.Discard()
		return common.Address{}, err
	}
	if err := r.state.Commit(); err != nil {
		r.state.Discard()
		return common.Address{}, err
	}
	if err := r.bind(cfg, addr); err != nil {
		return common.Address{}, err
	}
	r.logger.Info("ledger deployed",
		slog.String("address", crypto.Bech32(addr)),
		slog.String("owner", deployer.Hex()),
		slog.String("beneficiary", cfg.Beneficiary.Hex()))
	r.publishGauges()
	return addr, nil
}

// Deployed reports whether a ledger is bound to the runtime.
func (r *Runtime) Deployed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engine != nil
}

// Engine exposes the bound sale engine for read accessors. Mutations must go
// through Apply.
func (r *Runtime) Engine() *sale.Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engine
}

// Address returns the ledger address, or the zero address before deployment.
func (r *Runtime) Address() common.Address {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.engine == nil {
		return common.Address{}
	}
	return r.engine.Address()
}

// RegisterProgram attaches code to addr.
func (r *Runtime) RegisterProgram(addr common.Address, program Program) error {
	if program == nil {
		return fmt.Errorf("runtime: nil program")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.programs[addr]; exists {
		return coreerrors.ErrProgramExists
	}
	r.programs[addr] = program
	return nil
}

// Fund credits genesis currency to addr outside of any ledger call.
func (r *Runtime) Fund(addr common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("runtime: fund amount must be positive")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	balance, err := r.state.CurrencyBalance(addr)
	if err != nil {
		return err
	}
	if err := r.state.SetCurrencyBalance(addr, new(big.Int).Add(balance, amount)); err != nil {
		r.state.Discard()
		return err
	}
	if err := r.state.Commit(); err != nil {
		r.state.Discard()
		return err
	}
	return nil
}

// CurrencyBalance returns the committed currency balance of addr.
func (r *Runtime) CurrencyBalance(addr common.Address) (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.CurrencyBalance(addr)
}

// Snapshot returns a read-only summary of every ledger field.
func (r *Runtime) Snapshot() (*sale.Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.engine == nil {
		return nil, coreerrors.ErrNotDeployed
	}
	return r.engine.Summary()
}

// Account returns the committed sale record of addr.
func (r *Runtime) Account(addr common.Address) (*sale.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.engine == nil {
		return nil, coreerrors.ErrNotDeployed
	}
	return r.engine.Account(addr)
}

// Holders lists every address with a sale record.
func (r *Runtime) Holders() ([]common.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.SaleAddresses()
}

// Apply executes one top-level call. The returned receipt is non-nil for
// every call that reached the ledger, including failed ones.
func (r *Runtime) Apply(ctx context.Context, msg *types.Message) (*types.Receipt, error) {
	if msg == nil {
		return nil, fmt.Errorf("runtime: nil message")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.engine == nil {
		return nil, coreerrors.ErrNotDeployed
	}

	method := msg.EffectiveMethod()
	label := string(method)
	if !method.Known() {
		label = "unknown"
	}
	spanCtx, span := r.tracer.Start(ctx, "ledger.apply", trace.WithAttributes(
		attribute.String("ledger.method", label),
		attribute.String("ledger.from", msg.From.Hex()),
	))
	defer span.End()

	start := time.Now()
	receipt := &types.Receipt{
		ID:     uuid.NewString(),
		Method: method,
		From:   msg.From,
		Value:  msg.AttachedValue(),
		Logs:   []*types.Event{},
	}
	r.pending = r.pending[:0]
	result, err := r.execute(msg)
	if err == nil {
		if commitErr := r.state.Commit(); commitErr != nil {
			err = fmt.Errorf("runtime: commit: %w", commitErr)
		}
	}
	if err != nil {
		r.state.Discard()
		r.pending = r.pending[:0]
		receipt.Status = types.ReceiptStatusFailed
		receipt.Error = err.Error()
		receipt.Kind = sale.Kind(err)
		elapsed := time.Since(start)
		r.metrics.RecordCall(label, receipt.Kind, elapsed)
		r.instruments.RecordApply(spanCtx, label, receipt.Kind, 0, elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Warn("ledger call failed",
			slog.String("id", receipt.ID),
			slog.String("method", string(method)),
			slog.String("from", msg.From.Hex()),
			slog.String("kind", receipt.Kind),
			slog.Any("error", err))
		return receipt, err
	}

	receipt.Status = types.ReceiptStatusSuccess
	receipt.Result = result
	flushed := r.pending
	r.pending = nil
	for _, evt := range flushed {
		receipt.Logs = append(receipt.Logs, events.Render(evt).Clone())
		r.emitter.Emit(evt)
	}
	elapsed := time.Since(start)
	r.metrics.RecordCall(label, "", elapsed)
	r.instruments.RecordApply(spanCtx, label, "", len(receipt.Logs), elapsed)
	r.publishGauges()
	span.SetAttributes(attribute.Int("ledger.events", len(receipt.Logs)))
	span.SetStatus(codes.Ok, "applied")
	r.logger.Debug("ledger call applied",
		slog.String("id", receipt.ID),
		slog.String("method", string(method)),
		slog.String("from", msg.From.Hex()),
		slog.Int("events", len(receipt.Logs)))
	return receipt, nil
}

// execute runs msg in its own frame. On failure every write and event made in
// the frame is undone.
func (r *Runtime) execute(msg *types.Message) (result *big.Int, err error) {
	if r.depth >= r.maxDepth {
		return nil, fmt.Errorf("%w: %w", sale.ErrInvalidState, coreerrors.ErrCallDepth)
	}
	r.depth++
	snapshot := r.state.Snapshot()
	mark := len(r.pending)
	defer func() {
		r.depth--
		if err != nil {
			r.state.RevertToSnapshot(snapshot)
			r.pending = r.pending[:mark]
		}
	}()

	method := msg.EffectiveMethod()
	if !method.Known() {
		return nil, fmt.Errorf("%w: %w %q", sale.ErrInvalidArgument, coreerrors.ErrUnknownMethod, method)
	}
	if method.Disabled() {
		return nil, sale.ErrTransfersDisabled
	}
	value := msg.AttachedValue()
	switch {
	case value.Sign() < 0:
		return nil, sale.ErrNonPositiveAmount
	case value.Sign() > 0 && !method.Payable():
		return nil, sale.ErrValueNotAccepted
	case value.Sign() > 0:
		if err := r.move(msg.From, r.engine.Address(), value); err != nil {
			return nil, fmt.Errorf("%w: %w", sale.ErrInvalidArgument, err)
		}
	}
	return r.dispatch(method, msg, value)
}

func (r *Runtime) dispatch(method types.Method, msg *types.Message, value *big.Int) (*big.Int, error) {
	switch method {
	case types.MethodPurchase:
		return r.engine.Purchase(msg.From, value)
	case types.MethodAllocate:
		return msg.Amount, r.engine.Allocate(msg.From, msg.Target, msg.Amount)
	case types.MethodTransition:
		phase, err := r.engine.Transition(msg.From)
		return big.NewInt(int64(phase)), err
	case types.MethodWhitelist:
		return nil, r.engine.Whitelist(msg.From, msg.Target)
	case types.MethodRevertPurchase:
		return r.engine.RevertPurchase(msg.From, msg.Target)
	case types.MethodSendRefund:
		return r.engine.SendRefund(msg.Target)
	case types.MethodWithdraw:
		return r.engine.Withdraw(msg.From)
	case types.MethodTransfer:
		return nil, r.engine.Transfer(msg.From, msg.Target, msg.Amount)
	case types.MethodTransferFrom:
		return nil, r.engine.TransferFrom(msg.From, msg.Source, msg.Target, msg.Amount)
	default:
		return nil, fmt.Errorf("%w: %w %q", sale.ErrInvalidArgument, coreerrors.ErrUnknownMethod, method)
	}
}

// move debits and credits currency without running recipient code.
func (r *Runtime) move(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("runtime: negative transfer amount")
	}
	fromBalance, err := r.state.CurrencyBalance(from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", coreerrors.ErrInsufficientFunds, from.Hex(), fromBalance, amount)
	}
	if err := r.state.SetCurrencyBalance(from, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	toBalance, err := r.state.CurrencyBalance(to)
	if err != nil {
		return err
	}
	if err := r.state.SetCurrencyBalance(to, new(big.Int).Add(toBalance, amount)); err != nil {
		return err
	}
	r.pending = append(r.pending, events.CurrencyTransfer{Asset: r.asset, From: from, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

func (r *Runtime) publishGauges() {
	if r.engine == nil || r.metrics == nil {
		return
	}
	summary, err := r.engine.Summary()
	if err != nil {
		return
	}
	r.metrics.SetPhase(uint8(summary.Phase))
	r.metrics.SetBalance("total_supply", summary.TotalSupply)
	r.metrics.SetBalance("total_sale", summary.TotalSale)
	r.metrics.SetBalance("total_escrowed", summary.TotalEscrowed)
	r.metrics.SetBalance("locked_refunds", summary.TotalLockedRefunds)
	r.metrics.SetBalance("custody", summary.Custody)
}

// runtimeBank is the currency ledger seen by the engine. Transfers to
// programs run the recipient's Receive hook after the balances move.
type runtimeBank struct {
	r *Runtime
}

func (b runtimeBank) Balance(addr common.Address) (*big.Int, error) {
	return b.r.state.CurrencyBalance(addr)
}

func (b runtimeBank) Transfer(from, to common.Address, amount *big.Int) error {
	if err := b.r.move(from, to, amount); err != nil {
		return err
	}
	program, ok := b.r.programs[to]
	if !ok {
		return nil
	}
	if err := program.Receive(host{r: b.r, self: to}, from, new(big.Int).Set(amount)); err != nil {
		return fmt.Errorf("recipient %s rejected transfer: %w", to.Hex(), err)
	}
	return nil
}

// bufferEmitter holds engine events until the top-level call commits.
type bufferEmitter struct {
	r *Runtime
}

func (b bufferEmitter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	b.r.pending = append(b.r.pending, evt)
}

type host struct {
	r    *Runtime
	self common.Address
}

func (h host) Self() common.Address { return h.self }

func (h host) Call(msg *types.Message) (*big.Int, error) {
	if msg == nil {
		return nil, errors.New("runtime: nil message")
	}
	nested := *msg
	nested.From = h.self
	return h.r.execute(&nested)
}

func (h host) Ledger() *sale.Engine { return h.r.engine }

func (h host) CurrencyBalance(addr common.Address) (*big.Int, error) {
	return h.r.state.CurrencyBalance(addr)
}
