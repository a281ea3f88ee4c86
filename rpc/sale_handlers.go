package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	coreerrors "tgeledger/core/errors"
	"tgeledger/core/types"
	"tgeledger/crypto"
	"tgeledger/native/sale"
)

type methodHandler func(ctx context.Context, caller common.Address, params []json.RawMessage) (interface{}, *failure)

type methodSpec struct {
	mutating bool
	handler  methodHandler
}

// saleCallParams is the single object parameter accepted by every sale
// method. Amounts are decimal or 0x-prefixed hex strings in base units.
type saleCallParams struct {
	Address string `json:"address,omitempty"`
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Amount  string `json:"amount,omitempty"`
	Value   string `json:"value,omitempty"`
}

type accountJSON struct {
	Address        string `json:"address"`
	Bech32         string `json:"bech32"`
	Balance        string `json:"balance"`
	Contribution   string `json:"contribution"`
	PurchasedUnits string `json:"purchasedUnits"`
	PendingRefund  string `json:"pendingRefund"`
	Whitelisted    bool   `json:"whitelisted"`
}

type receiptJSON struct {
	ID     string         `json:"id"`
	Method string         `json:"method"`
	From   string         `json:"from"`
	Value  string         `json:"value"`
	Status string         `json:"status"`
	Error  string         `json:"error,omitempty"`
	Kind   string         `json:"kind,omitempty"`
	Result string         `json:"result,omitempty"`
	Logs   []*types.Event `json:"logs"`
}

type ledgerErrorData struct {
	Kind    string       `json:"kind"`
	Receipt *receiptJSON `json:"receipt,omitempty"`
}

func (s *Server) methodTable() map[string]methodSpec {
	return map[string]methodSpec{
		"sale_summary":         {handler: s.handleSummary},
		"sale_phase":           {handler: s.handlePhase},
		"sale_account":         {handler: s.handleAccount},
		"sale_balanceOf":       {handler: s.handleBalanceOf},
		"sale_pendingRefund":   {handler: s.handlePendingRefund},
		"sale_isWhitelisted":   {handler: s.handleIsWhitelisted},
		"sale_holders":         {handler: s.handleHolders},
		"sale_currencyBalance": {handler: s.handleCurrencyBalance},

		"sale_purchase":       {mutating: true, handler: s.handlePurchase},
		"sale_allocate":       {mutating: true, handler: s.handleAllocate},
		"sale_transition":     {mutating: true, handler: s.handleTransition},
		"sale_whitelist":      {mutating: true, handler: s.handleWhitelist},
		"sale_revertPurchase": {mutating: true, handler: s.handleRevertPurchase},
		"sale_sendRefund":     {mutating: true, handler: s.handleSendRefund},
		"sale_withdraw":       {mutating: true, handler: s.handleWithdraw},
		"sale_transfer":       {mutating: true, handler: s.handleTransfer},
		"sale_transferFrom":   {mutating: true, handler: s.handleTransferFrom},
	}
}

// --- reads ---

func (s *Server) handleSummary(_ context.Context, _ common.Address, _ []json.RawMessage) (interface{}, *failure) {
	summary, err := s.runtime.Snapshot()
	if err != nil {
		return nil, runtimeFailure(err)
	}
	return summary, nil
}

func (s *Server) handlePhase(_ context.Context, _ common.Address, _ []json.RawMessage) (interface{}, *failure) {
	summary, err := s.runtime.Snapshot()
	if err != nil {
		return nil, runtimeFailure(err)
	}
	return map[string]interface{}{
		"phase":     summary.Phase,
		"phaseName": summary.PhaseName,
		"started":   summary.Phase >= sale.PhaseSale,
		"finalized": summary.Phase == sale.PhaseFinalized,
	}, nil
}

func (s *Server) loadAccount(params []json.RawMessage) (common.Address, *sale.Account, *failure) {
	p, f := decodeParams(params)
	if f != nil {
		return common.Address{}, nil, f
	}
	addr, f := requireAddress("address", p.Address)
	if f != nil {
		return common.Address{}, nil, f
	}
	account, err := s.runtime.Account(addr)
	if err != nil {
		return common.Address{}, nil, runtimeFailure(err)
	}
	return addr, account, nil
}

func (s *Server) handleAccount(_ context.Context, _ common.Address, params []json.RawMessage) (interface{}, *failure) {
	addr, account, f := s.loadAccount(params)
	if f != nil {
		return nil, f
	}
	return formatAccount(addr, account), nil
}

func (s *Server) handleBalanceOf(_ context.Context, _ common.Address, params []json.RawMessage) (interface{}, *failure) {
	_, account, f := s.loadAccount(params)
	if f != nil {
		return nil, f
	}
	return formatAmount(account.Balance), nil
}

func (s *Server) handlePendingRefund(_ context.Context, _ common.Address, params []json.RawMessage) (interface{}, *failure) {
	_, account, f := s.loadAccount(params)
	if f != nil {
		return nil, f
	}
	return formatAmount(account.PendingRefund), nil
}

func (s *Server) handleIsWhitelisted(_ context.Context, _ common.Address, params []json.RawMessage) (interface{}, *failure) {
	_, account, f := s.loadAccount(params)
	if f != nil {
		return nil, f
	}
	return account.Whitelisted, nil
}

func (s *Server) handleHolders(_ context.Context, _ common.Address, _ []json.RawMessage) (interface{}, *failure) {
	holders, err := s.runtime.Holders()
	if err != nil {
		return nil, runtimeFailure(err)
	}
	out := make([]string, 0, len(holders))
	for _, addr := range holders {
		out = append(out, addr.Hex())
	}
	return out, nil
}

func (s *Server) handleCurrencyBalance(_ context.Context, _ common.Address, params []json.RawMessage) (interface{}, *failure) {
	p, f := decodeParams(params)
	if f != nil {
		return nil, f
	}
	addr, f := requireAddress("address", p.Address)
	if f != nil {
		return nil, f
	}
	balance, err := s.runtime.CurrencyBalance(addr)
	if err != nil {
		return nil, runtimeFailure(err)
	}
	return formatAmount(balance), nil
}

// --- mutations ---

func (s *Server) handlePurchase(ctx context.Context, caller common.Address, params []json.RawMessage) (interface{}, *failure) {
	p, f := decodeParams(params)
	if f != nil {
		return nil, f
	}
	value, f := optionalAmount("value", p.Value)
	if f != nil {
		return nil, f
	}
	return applyResult(s.runtime.Purchase(ctx, caller, value))
}

func (s *Server) handleAllocate(ctx context.Context, caller common.Address, params []json.RawMessage) (interface{}, *failure) {
	p, f := decodeParams(params)
	if f != nil {
		return nil, f
	}
	to, f := requireAddress("to", p.To)
	if f != nil {
		return nil, f
	}
	amount, f := requireAmount("amount", p.Amount)
	if f != nil {
		return nil, f
	}
	return applyResult(s.runtime.Allocate(ctx, caller, to, amount))
}

func (s *Server) handleTransition(ctx context.Context, caller common.Address, _ []json.RawMessage) (interface{}, *failure) {
	return applyResult(s.runtime.Transition(ctx, caller))
}

func (s *Server) handleWhitelist(ctx context.Context, caller common.Address, params []json.RawMessage) (interface{}, *failure) {
	p, f := decodeParams(params)
	if f != nil {
		return nil, f
	}
	addr, f := requireAddress("address", p.Address)
	if f != nil {
		return nil, f
	}
	return applyResult(s.runtime.Whitelist(ctx, caller, addr))
}

func (s *Server) handleRevertPurchase(ctx context.Context, caller common.Address, params []json.RawMessage) (interface{}, *failure) {
	p, f := decodeParams(params)
	if f != nil {
		return nil, f
	}
	addr, f := requireAddress("address", p.Address)
	if f != nil {
		return nil, f
	}
	topUp, f := optionalAmount("value", p.Value)
	if f != nil {
		return nil, f
	}
	return applyResult(s.runtime.RevertPurchase(ctx, caller, addr, topUp))
}

func (s *Server) handleSendRefund(ctx context.Context, caller common.Address, params []json.RawMessage) (interface{}, *failure) {
	p, f := decodeParams(params)
	if f != nil {
		return nil, f
	}
	addr, f := requireAddress("address", p.Address)
	if f != nil {
		return nil, f
	}
	return applyResult(s.runtime.SendRefund(ctx, caller, addr))
}

func (s *Server) handleWithdraw(ctx context.Context, caller common.Address, _ []json.RawMessage) (interface{}, *failure) {
	return applyResult(s.runtime.Withdraw(ctx, caller))
}

func (s *Server) handleTransfer(ctx context.Context, caller common.Address, params []json.RawMessage) (interface{}, *failure) {
	p, f := decodeParams(params)
	if f != nil {
		return nil, f
	}
	to, f := requireAddress("to", p.To)
	if f != nil {
		return nil, f
	}
	amount, f := optionalAmount("amount", p.Amount)
	if f != nil {
		return nil, f
	}
	return applyResult(s.runtime.Transfer(ctx, caller, to, amount))
}

func (s *Server) handleTransferFrom(ctx context.Context, caller common.Address, params []json.RawMessage) (interface{}, *failure) {
	p, f := decodeParams(params)
	if f != nil {
		return nil, f
	}
	from, f := requireAddress("from", p.From)
	if f != nil {
		return nil, f
	}
	to, f := requireAddress("to", p.To)
	if f != nil {
		return nil, f
	}
	amount, f := optionalAmount("amount", p.Amount)
	if f != nil {
		return nil, f
	}
	return applyResult(s.runtime.TransferFrom(ctx, caller, from, to, amount))
}

// --- helpers ---

func decodeParams(params []json.RawMessage) (saleCallParams, *failure) {
	var p saleCallParams
	if len(params) == 0 {
		return p, nil
	}
	if len(params) > 1 {
		return p, fail(http.StatusBadRequest, codeInvalidParams, "expected a single parameter object", nil)
	}
	if err := json.Unmarshal(params[0], &p); err != nil {
		return p, fail(http.StatusBadRequest, codeInvalidParams, "invalid parameter object", err.Error())
	}
	return p, nil
}

func requireAddress(field, raw string) (common.Address, *failure) {
	if strings.TrimSpace(raw) == "" {
		return common.Address{}, fail(http.StatusBadRequest, codeInvalidParams, fmt.Sprintf("%s required", field), nil)
	}
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return common.Address{}, fail(http.StatusBadRequest, codeInvalidParams, fmt.Sprintf("invalid %s", field), err.Error())
	}
	return addr, nil
}

func requireAmount(field, raw string) (*big.Int, *failure) {
	if strings.TrimSpace(raw) == "" {
		return nil, fail(http.StatusBadRequest, codeInvalidParams, fmt.Sprintf("%s required", field), nil)
	}
	return optionalAmount(field, raw)
}

func optionalAmount(field, raw string) (*big.Int, *failure) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	base := 10
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "0x") {
		base = 16
		trimmed = trimmed[2:]
	}
	value, ok := new(big.Int).SetString(trimmed, base)
	if !ok || value.Sign() < 0 {
		return nil, fail(http.StatusBadRequest, codeInvalidParams, fmt.Sprintf("invalid %s", field), raw)
	}
	return value, nil
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatAccount(addr common.Address, account *sale.Account) accountJSON {
	return accountJSON{
		Address:        addr.Hex(),
		Bech32:         crypto.Bech32(addr),
		Balance:        formatAmount(account.Balance),
		Contribution:   formatAmount(account.Contribution),
		PurchasedUnits: formatAmount(account.PurchasedUnits),
		PendingRefund:  formatAmount(account.PendingRefund),
		Whitelisted:    account.Whitelisted,
	}
}

func formatReceipt(receipt *types.Receipt) *receiptJSON {
	if receipt == nil {
		return nil
	}
	out := &receiptJSON{
		ID:     receipt.ID,
		Method: string(receipt.Method),
		From:   receipt.From.Hex(),
		Value:  formatAmount(receipt.Value),
		Status: receipt.Status,
		Error:  receipt.Error,
		Kind:   receipt.Kind,
		Logs:   receipt.Logs,
	}
	if receipt.Result != nil {
		out.Result = receipt.Result.String()
	}
	if out.Logs == nil {
		out.Logs = []*types.Event{}
	}
	return out
}

func applyResult(receipt *types.Receipt, err error) (interface{}, *failure) {
	if err == nil {
		return formatReceipt(receipt), nil
	}
	if receipt == nil {
		return nil, runtimeFailure(err)
	}
	kind := receipt.Kind
	return nil, fail(statusForKind(kind), codeLedgerError, err.Error(), ledgerErrorData{Kind: kind, Receipt: formatReceipt(receipt)})
}

func runtimeFailure(err error) *failure {
	switch {
	case errors.Is(err, coreerrors.ErrNotDeployed):
		return fail(http.StatusServiceUnavailable, codeServerError, err.Error(), nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fail(http.StatusServiceUnavailable, codeServerError, "request cancelled", err.Error())
	default:
		return fail(http.StatusInternalServerError, codeServerError, err.Error(), nil)
	}
}

func statusForKind(kind string) int {
	switch kind {
	case sale.KindUnauthorized:
		return http.StatusForbidden
	case sale.KindInvalidArgument:
		return http.StatusBadRequest
	case sale.KindInvalidState, sale.KindUnsupported, sale.KindTransferFailed:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
