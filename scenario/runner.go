package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"tgeledger/core"
	"tgeledger/core/events"
	"tgeledger/core/types"
	"tgeledger/crypto"
	"tgeledger/native/sale"
	"tgeledger/observability/logging"
	"tgeledger/storage"
)

const (
	roleOwner       = "owner"
	roleBeneficiary = "beneficiary"
	roleAuthority   = "authority"
	roleLedger      = "ledger"
	roleZero        = "zero"

	defaultBalance = "100ether"
	anyError       = "any"
)

var reservedAccounts = map[string]struct{}{
	roleOwner:       {},
	roleBeneficiary: {},
	roleAuthority:   {},
	roleLedger:      {},
	roleZero:        {},
}

// callMethods maps scenario call names to ledger methods. "pay" is a bare
// payment with no method, which the ledger treats as a purchase.
var callMethods = map[string]types.Method{
	"pay":                              "",
	string(types.MethodPurchase):       types.MethodPurchase,
	string(types.MethodAllocate):       types.MethodAllocate,
	string(types.MethodTransition):     types.MethodTransition,
	string(types.MethodWhitelist):      types.MethodWhitelist,
	string(types.MethodRevertPurchase): types.MethodRevertPurchase,
	string(types.MethodSendRefund):     types.MethodSendRefund,
	string(types.MethodWithdraw):       types.MethodWithdraw,
	string(types.MethodTransfer):       types.MethodTransfer,
	string(types.MethodTransferFrom):   types.MethodTransferFrom,
}

// ErrExpectation is returned by Run when any expectation failed.
var ErrExpectation = errors.New("scenario expectations failed")

// Options tune a run.
type Options struct {
	Logger  *slog.Logger
	Emitter events.Emitter
}

// StepResult is the outcome of one step.
type StepResult struct {
	Index    int            `json:"index"`
	Name     string         `json:"name,omitempty"`
	Call     string         `json:"call,omitempty"`
	Receipt  *types.Receipt `json:"receipt,omitempty"`
	Failures []string       `json:"failures,omitempty"`
}

// Report summarises a run.
type Report struct {
	Scenario string         `json:"scenario"`
	Ledger   common.Address `json:"ledger"`
	Steps    []StepResult   `json:"steps"`
	Events   int            `json:"events"`
	Failures int            `json:"failures"`
}

// Passed reports whether every expectation held.
func (r *Report) Passed() bool {
	return r != nil && r.Failures == 0
}

type runner struct {
	sc       *Scenario
	rt       *core.Runtime
	rec      *events.Recorder
	cfg      sale.Config
	accounts map[string]common.Address
	start    map[common.Address]*big.Int
	logger   *slog.Logger
}

// Run executes sc against a fresh in-memory ledger. Expectation failures are
// collected in the report and make Run return ErrExpectation; any other error
// means the scenario could not be executed.
func Run(ctx context.Context, sc *Scenario, opts Options) (*Report, error) {
	if sc == nil {
		return nil, errors.New("scenario: nil scenario")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	rec := &events.Recorder{}
	emitter := events.Emitter(rec)
	if opts.Emitter != nil {
		emitter = events.Multi{rec, opts.Emitter}
	}
	rt, err := core.NewRuntime(storage.NewMemDB(), core.WithEmitter(emitter), core.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	r := &runner{
		sc:       sc,
		rt:       rt,
		rec:      rec,
		accounts: make(map[string]common.Address),
		start:    make(map[common.Address]*big.Int),
		logger:   logger.With(slog.String("scenario", sc.Name)),
	}
	report := &Report{Scenario: sc.Name}
	if err := r.setup(); err != nil {
		return nil, err
	}

	deployed, failure, err := r.deploy(ctx)
	if err != nil {
		return nil, err
	}
	if failure != "" {
		report.Steps = append(report.Steps, StepResult{Index: 0, Call: "deploy", Failures: []string{failure}})
		report.Failures++
	}
	if !deployed {
		return finish(report, rec)
	}
	report.Ledger = r.accounts[roleLedger]

	for i, step := range sc.Steps {
		res, err := r.runStep(ctx, i+1, step)
		if err != nil {
			return nil, fmt.Errorf("scenario %q step %d: %w", sc.Name, i+1, err)
		}
		if len(res.Failures) > 0 {
			report.Failures += len(res.Failures)
			r.logger.Warn("scenario step failed", slog.Int("step", res.Index), slog.String("call", res.Call), slog.Any("failures", res.Failures))
		}
		report.Steps = append(report.Steps, res)
	}
	return finish(report, rec)
}

func finish(report *Report, rec *events.Recorder) (*Report, error) {
	report.Events = len(rec.Events())
	if report.Failures > 0 {
		return report, fmt.Errorf("%w: %s: %d failure(s)", ErrExpectation, report.Scenario, report.Failures)
	}
	return report, nil
}

// setup resolves role addresses, registers programs and funds accounts.
func (r *runner) setup() error {
	for _, role := range []string{roleOwner, roleBeneficiary, roleAuthority} {
		r.accounts[role] = derive(role)
	}
	r.accounts[roleZero] = common.Address{}

	names := make([]string, 0, len(r.sc.Accounts))
	for name := range r.sc.Accounts {
		names = append(names, name)
	}
	sort.Strings(names)
	funded := map[string]bool{}
	for _, name := range names {
		spec := r.sc.Accounts[name]
		addr := r.accounts[name]
		if spec.Address != "" {
			parsed, err := crypto.ParseAddress(spec.Address)
			if err != nil {
				return fmt.Errorf("account %q: %w", name, err)
			}
			addr = parsed
		} else if _, ok := r.accounts[name]; !ok {
			addr = derive(name)
		}
		r.accounts[name] = addr
		if spec.Program != "" {
			if err := r.rt.RegisterProgram(addr, newProgram(spec.Program)); err != nil {
				return fmt.Errorf("account %q: %w", name, err)
			}
		}
		balance := spec.Balance
		if balance == "" && name != roleBeneficiary && name != roleAuthority {
			balance = defaultBalance
		}
		if err := r.fund(name, balance); err != nil {
			return err
		}
		funded[name] = true
	}
	if !funded[roleOwner] {
		if err := r.fund(roleOwner, defaultBalance); err != nil {
			return err
		}
	}
	for _, addr := range r.accounts {
		if _, ok := r.start[addr]; ok {
			continue
		}
		balance, err := r.rt.CurrencyBalance(addr)
		if err != nil {
			return err
		}
		r.start[addr] = balance
	}
	return nil
}

func (r *runner) fund(name, raw string) error {
	addr := r.accounts[name]
	if raw != "" {
		amount, err := ParseAmount(raw)
		if err != nil {
			return fmt.Errorf("account %q balance: %w", name, err)
		}
		if amount.Sign() > 0 {
			if err := r.rt.Fund(addr, amount); err != nil {
				return fmt.Errorf("account %q: %w", name, err)
			}
		}
	}
	balance, err := r.rt.CurrencyBalance(addr)
	if err != nil {
		return err
	}
	r.start[addr] = balance
	return nil
}

func (r *runner) deploy(ctx context.Context) (bool, string, error) {
	cfg := sale.DefaultConfig(r.accounts[roleOwner], r.accounts[roleBeneficiary], r.accounts[roleAuthority])
	if o := r.sc.Sale; o != nil {
		overrides := []struct {
			raw string
			dst **big.Int
		}{
			{o.Rate, &cfg.Rate},
			{o.MaxSale, &cfg.MaxSale},
			{o.MaxAllocation, &cfg.MaxAllocation},
			{o.MinPurchase, &cfg.MinPurchase},
			{o.MaxWithdrawal, &cfg.MaxWithdrawal},
		}
		for _, ov := range overrides {
			if ov.raw == "" {
				continue
			}
			value, err := ParseAmount(ov.raw)
			if err != nil {
				return false, "", fmt.Errorf("sale override: %w", err)
			}
			*ov.dst = value
		}
		cfg.MaxSupply = new(big.Int).Add(cfg.MaxSale, cfg.MaxAllocation)
	}
	var value *big.Int
	if r.sc.DeployValue != "" {
		v, err := ParseAmount(r.sc.DeployValue)
		if err != nil {
			return false, "", fmt.Errorf("deployValue: %w", err)
		}
		value = v
	}
	addr, err := r.rt.DeployWithConfig(ctx, r.accounts[roleOwner], value, cfg)
	if expected := r.sc.ExpectDeploy; expected != "" {
		if err == nil {
			return true, fmt.Sprintf("deploy: expected %s error, succeeded", expected), r.bindLedger(addr)
		}
		if kind := sale.Kind(err); expected != anyError && kind != expected {
			return false, fmt.Sprintf("deploy: expected %s error, got %s (%v)", expected, kind, err), nil
		}
		return false, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("deploy: %w", err)
	}
	r.cfg = cfg
	return true, "", r.bindLedger(addr)
}

func (r *runner) bindLedger(addr common.Address) error {
	r.accounts[roleLedger] = addr
	balance, err := r.rt.CurrencyBalance(addr)
	if err != nil {
		return err
	}
	r.start[addr] = balance
	return nil
}

func (r *runner) runStep(ctx context.Context, index int, step Step) (StepResult, error) {
	res := StepResult{Index: index, Name: step.Name, Call: step.Call}
	if step.Call != "" {
		msg, err := r.message(step)
		if err != nil {
			return res, err
		}
		receipt, applyErr := r.rt.Apply(ctx, msg)
		if receipt == nil {
			return res, applyErr
		}
		res.Receipt = receipt
		res.Failures = append(res.Failures, r.checkOutcome(step, receipt)...)
	}
	if step.Check != nil {
		failures, err := r.check(step.Check)
		if err != nil {
			return res, err
		}
		res.Failures = append(res.Failures, failures...)
	}
	return res, nil
}

func (r *runner) message(step Step) (*types.Message, error) {
	msg := &types.Message{Method: callMethods[step.Call]}
	var err error
	from := step.From
	if from == "" {
		from = roleOwner
	}
	if msg.From, err = r.resolve(from); err != nil {
		return nil, err
	}
	target := step.Address
	if target == "" {
		target = step.To
	}
	if target != "" {
		if msg.Target, err = r.resolve(target); err != nil {
			return nil, err
		}
	}
	if step.Source != "" {
		if msg.Source, err = r.resolve(step.Source); err != nil {
			return nil, err
		}
	}
	if step.Amount != "" {
		if msg.Amount, err = ParseAmount(step.Amount); err != nil {
			return nil, fmt.Errorf("amount: %w", err)
		}
	}
	if step.Value != "" {
		if msg.Value, err = ParseAmount(step.Value); err != nil {
			return nil, fmt.Errorf("value: %w", err)
		}
	}
	return msg, nil
}

func (r *runner) checkOutcome(step Step, receipt *types.Receipt) []string {
	var failures []string
	switch expected := step.ExpectError; {
	case expected == "" && !receipt.Succeeded():
		failures = append(failures, fmt.Sprintf("%s: unexpected %s error: %s", step.Call, receipt.Kind, receipt.Error))
	case expected != "" && receipt.Succeeded():
		failures = append(failures, fmt.Sprintf("%s: expected %s error, call succeeded", step.Call, expected))
	case expected != "" && expected != anyError && receipt.Kind != expected:
		failures = append(failures, fmt.Sprintf("%s: expected %s error, got %s: %s", step.Call, expected, receipt.Kind, receipt.Error))
	}
	if step.ExpectResult != "" {
		want, err := ParseAmount(step.ExpectResult)
		if err != nil {
			failures = append(failures, fmt.Sprintf("expectResult: %v", err))
		} else if got := orZero(receipt.Result); got.Cmp(want) != 0 {
			failures = append(failures, fmt.Sprintf("%s: result %s, want %s", step.Call, got, want))
		}
	}
	for _, evt := range step.ExpectEvents {
		if !receipt.HasEvent(evt) {
			failures = append(failures, fmt.Sprintf("%s: missing event %s", step.Call, evt))
		}
	}
	for _, evt := range step.NoEvents {
		if receipt.HasEvent(evt) {
			failures = append(failures, fmt.Sprintf("%s: unexpected event %s", step.Call, evt))
		}
	}
	return failures
}

func (r *runner) check(c *Check) ([]string, error) {
	summary, err := r.rt.Snapshot()
	if err != nil {
		return nil, err
	}
	var failures []string
	if c.Phase != "" && summary.PhaseName != c.Phase {
		failures = append(failures, fmt.Sprintf("phase %s, want %s", summary.PhaseName, c.Phase))
	}
	totals := []struct {
		name string
		raw  string
		got  *big.Int
	}{
		{"totalSupply", c.TotalSupply, summary.TotalSupply},
		{"totalSale", c.TotalSale, summary.TotalSale},
		{"totalEscrowed", c.TotalEscrowed, summary.TotalEscrowed},
		{"totalLockedRefunds", c.TotalLockedRefunds, summary.TotalLockedRefunds},
		{"allocated", c.Allocated, summary.Allocated},
		{"custody", c.Custody, summary.Custody},
		{"available", c.Available, summary.Available},
	}
	for _, t := range totals {
		if t.raw == "" {
			continue
		}
		if f := compare(t.name, t.raw, t.got); f != "" {
			failures = append(failures, f)
		}
	}

	for _, name := range sortedKeys(c.Tokens) {
		account, err := r.account(name)
		if err != nil {
			return nil, err
		}
		if f := compare("tokens["+name+"]", c.Tokens[name], account.Balance); f != "" {
			failures = append(failures, f)
		}
	}
	for _, name := range sortedKeys(c.PendingRefund) {
		account, err := r.account(name)
		if err != nil {
			return nil, err
		}
		if f := compare("pendingRefund["+name+"]", c.PendingRefund[name], account.PendingRefund); f != "" {
			failures = append(failures, f)
		}
	}
	for _, name := range sortedKeys(c.Currency) {
		balance, err := r.currency(name)
		if err != nil {
			return nil, err
		}
		if f := compare("currency["+name+"]", c.Currency[name], balance); f != "" {
			failures = append(failures, f)
		}
	}
	for _, name := range sortedKeys(c.CurrencyDelta) {
		balance, err := r.currency(name)
		if err != nil {
			return nil, err
		}
		addr, _ := r.resolve(name)
		delta := new(big.Int).Sub(balance, orZero(r.start[addr]))
		if f := compare("currencyDelta["+name+"]", c.CurrencyDelta[name], delta); f != "" {
			failures = append(failures, f)
		}
	}
	whitelisted := make([]string, 0, len(c.Whitelisted))
	for name := range c.Whitelisted {
		whitelisted = append(whitelisted, name)
	}
	sort.Strings(whitelisted)
	for _, name := range whitelisted {
		account, err := r.account(name)
		if err != nil {
			return nil, err
		}
		if account.Whitelisted != c.Whitelisted[name] {
			failures = append(failures, fmt.Sprintf("whitelisted[%s] %t, want %t", name, account.Whitelisted, c.Whitelisted[name]))
		}
	}
	if c.Invariants {
		more, err := r.invariants(summary)
		if err != nil {
			return nil, err
		}
		failures = append(failures, more...)
	}
	return failures, nil
}

// invariants checks the accounting rules that hold after every call.
func (r *runner) invariants(summary *sale.Summary) ([]string, error) {
	var failures []string
	holders, err := r.rt.Holders()
	if err != nil {
		return nil, err
	}
	supply := new(big.Int)
	pending := new(big.Int)
	for _, addr := range holders {
		account, err := r.rt.Account(addr)
		if err != nil {
			return nil, err
		}
		supply.Add(supply, orZero(account.Balance))
		pending.Add(pending, orZero(account.PendingRefund))
	}
	if supply.Cmp(summary.TotalSupply) != 0 {
		failures = append(failures, fmt.Sprintf("invariant: balances sum to %s, totalSupply %s", supply, summary.TotalSupply))
	}
	if pending.Cmp(summary.TotalLockedRefunds) != 0 {
		failures = append(failures, fmt.Sprintf("invariant: pending refunds sum to %s, locked %s", pending, summary.TotalLockedRefunds))
	}
	if summary.Custody.Cmp(summary.TotalLockedRefunds) < 0 {
		failures = append(failures, fmt.Sprintf("invariant: custody %s below locked refunds %s", summary.Custody, summary.TotalLockedRefunds))
	}
	if summary.TotalSale.Cmp(summary.MaxSale) > 0 {
		failures = append(failures, fmt.Sprintf("invariant: totalSale %s above maxSale %s", summary.TotalSale, summary.MaxSale))
	}
	if summary.Allocated.Cmp(summary.MaxAllocation) > 0 {
		failures = append(failures, fmt.Sprintf("invariant: allocated %s above maxAllocation %s", summary.Allocated, summary.MaxAllocation))
	}
	if summary.TotalSupply.Cmp(summary.MaxSupply) > 0 {
		failures = append(failures, fmt.Sprintf("invariant: totalSupply %s above maxSupply %s", summary.TotalSupply, summary.MaxSupply))
	}
	return failures, nil
}

func (r *runner) resolve(name string) (common.Address, error) {
	if addr, ok := r.accounts[name]; ok {
		return addr, nil
	}
	if strings.HasPrefix(name, "0x") || strings.HasPrefix(name, string(crypto.TGEPrefix)+"1") {
		return crypto.ParseAddress(name)
	}
	addr := derive(name)
	r.accounts[name] = addr
	return addr, nil
}

func (r *runner) account(name string) (*sale.Account, error) {
	addr, err := r.resolve(name)
	if err != nil {
		return nil, err
	}
	return r.rt.Account(addr)
}

func (r *runner) currency(name string) (*big.Int, error) {
	addr, err := r.resolve(name)
	if err != nil {
		return nil, err
	}
	return r.rt.CurrencyBalance(addr)
}

// derive maps a participant name to a stable address.
func derive(name string) common.Address {
	return common.BytesToAddress(ethcrypto.Keccak256([]byte("scenario:" + name))[12:])
}

func compare(label, raw string, got *big.Int) string {
	want, err := ParseAmount(raw)
	if err != nil {
		return fmt.Sprintf("%s: %v", label, err)
	}
	if orZero(got).Cmp(want) != 0 {
		return fmt.Sprintf("%s %s, want %s", label, orZero(got), want)
	}
	return ""
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
