package sale

import (
	"errors"
	"fmt"

	nativecommon "tgeledger/native/common"
)

// Error kinds. Every failure returned by the engine wraps exactly one of
// these and can be tested with errors.Is.
var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrInvalidState    = errors.New("invalid state")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnsupported     = errors.New("unsupported")
	ErrTransferFailed  = errors.New("transfer failed")
)

var (
	ErrNotOwner              = fmt.Errorf("%w: caller is not the owner", ErrUnauthorized)
	ErrNotWhitelistAuthority = fmt.Errorf("%w: caller is not the whitelist authority", ErrUnauthorized)
	ErrNotWhitelisted        = fmt.Errorf("%w: buyer is not whitelisted", ErrUnauthorized)

	ErrSaleNotActive       = fmt.Errorf("%w: sale is not active", ErrInvalidState)
	ErrSaleFinalized       = fmt.Errorf("%w: sale is finalized", ErrInvalidState)
	ErrReentrantCall       = fmt.Errorf("%w: %w", ErrInvalidState, nativecommon.ErrReentrant)
	ErrInsufficientCustody = fmt.Errorf("%w: custody below locked refunds", ErrInvalidState)

	ErrZeroAddress           = fmt.Errorf("%w: zero address", ErrInvalidArgument)
	ErrNonPositiveAmount     = fmt.Errorf("%w: amount must be positive", ErrInvalidArgument)
	ErrBelowMinimumPurchase  = fmt.Errorf("%w: purchase below minimum", ErrInvalidArgument)
	ErrSaleCapExceeded       = fmt.Errorf("%w: sale cap exceeded", ErrInvalidArgument)
	ErrAllocationCapExceeded = fmt.Errorf("%w: allocation cap exceeded", ErrInvalidArgument)
	ErrSupplyCapExceeded     = fmt.Errorf("%w: supply cap exceeded", ErrInvalidArgument)
	ErrAmountOverflow        = fmt.Errorf("%w: amount overflows 256 bits", ErrInvalidArgument)
	ErrValueNotAccepted      = fmt.Errorf("%w: method does not accept value", ErrInvalidArgument)

	ErrTransfersDisabled = fmt.Errorf("%w: token transfers are disabled", ErrUnsupported)
)

// Kind labels used by RPC error data and metrics.
const (
	KindUnauthorized    = "unauthorized"
	KindInvalidState    = "invalid_state"
	KindInvalidArgument = "invalid_argument"
	KindUnsupported     = "unsupported"
	KindTransferFailed  = "transfer_failed"
	KindInternal        = "internal"
)

// Kind maps an error to its kind label. Nil maps to the empty string and any
// unclassified error to KindInternal.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	case errors.Is(err, ErrUnsupported):
		return KindUnsupported
	case errors.Is(err, ErrTransferFailed):
		return KindTransferFailed
	default:
		return KindInternal
	}
}
