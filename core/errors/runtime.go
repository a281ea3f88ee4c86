package errors

import stderrors "errors"

var (
	ErrNotDeployed       = stderrors.New("runtime: ledger not deployed")
	ErrAlreadyDeployed   = stderrors.New("runtime: ledger already deployed")
	ErrInsufficientFunds = stderrors.New("runtime: insufficient funds")
	ErrCallDepth         = stderrors.New("runtime: call depth exceeded")
	ErrUnknownMethod     = stderrors.New("runtime: unknown method")
	ErrProgramExists     = stderrors.New("runtime: program already registered")
)
