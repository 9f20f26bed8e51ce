package lending

import (
	"errors"

	nativecommon "intentlend/native/common"
	"intentlend/native/intents"
)

var (
	// Authorization.
	ErrMissingAuthorization = nativecommon.ErrMissingAuthorization

	// Validation.
	ErrInvalidIntent   = intents.ErrInvalidIntent
	ErrInvalidAmount   = errors.New("lending: amount must be positive")
	ErrAmountMismatch  = errors.New("lending: lend amounts do not sum to the borrow amount")
	ErrTermsMismatch   = errors.New("lending: lend intent does not accept the borrow terms")
	ErrSignatureCount  = errors.New("lending: one signature required per lend intent")
	ErrDuplicateIntent = errors.New("lending: lend intent listed twice")
	ErrAssetMismatch   = errors.New("lending: asset does not match the order")
	ErrNoReservation   = errors.New("lending: lend intent has no matching active reservation")

	// State preconditions.
	ErrOrderNotFound          = errors.New("lending: order not found")
	ErrOrderClosed            = errors.New("lending: order already closed")
	ErrNotLiquidatable        = errors.New("lending: order not eligible for liquidation")
	ErrOverpayment            = errors.New("lending: repayment exceeds total due")
	ErrInsufficientCollateral = errors.New("lending: insufficient deposited collateral")
	ErrUndercollateralized    = errors.New("lending: position would fall below the minimum health factor")
	ErrInsufficientDebt       = errors.New("lending: debt reduction exceeds outstanding debt")
	ErrNoPenalty              = errors.New("lending: no outstanding penalty")
	ErrPriceUnavailable       = errors.New("lending: price unavailable")
	errAccountsNotConfigured  = errors.New("lending: protocol accounts not configured")
	errStateNotConfigured     = errors.New("lending: state not configured")
	errTerminalOrderImmutable = errors.New("lending: terminal orders are immutable")
	errOrderExists            = errors.New("lending: order already exists")
)
