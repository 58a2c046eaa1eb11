package marketplace

import (
	"errors"

	"github.com/Aidin1998/lotmarket/internal/ledger"
)

// Category groups marketplace errors by how a caller should react to them.
type Category string

const (
	CategoryInitialization Category = "initialization"
	CategoryValidation     Category = "validation"
	CategoryNotFound       Category = "not_found"
	CategoryState          Category = "state"
	CategoryFunds          Category = "funds"
)

// Error is a marketplace failure with a stable numeric code. Codes are part of
// the public contract and never change meaning.
type Error struct {
	Code     int
	Category Category
	msg      string
}

func (e *Error) Error() string { return e.msg }

var (
	ErrAlreadyInitialized = &Error{Code: 1, Category: CategoryInitialization, msg: "marketplace already initialized"}
	ErrInvalidPrice       = &Error{Code: 2, Category: CategoryValidation, msg: "price must be a positive whole amount"}
	ErrNotListed          = &Error{Code: 4, Category: CategoryState, msg: "listing is paused"}
	ErrListingNotFound    = &Error{Code: 5, Category: CategoryNotFound, msg: "listing not found"}
	ErrNotInitialized     = &Error{Code: 6, Category: CategoryInitialization, msg: "marketplace not initialized"}
	ErrInvalidQuantity    = &Error{Code: 7, Category: CategoryValidation, msg: "quantity must be a positive whole amount"}
	ErrAmountOverflow     = &Error{Code: 8, Category: CategoryValidation, msg: "purchase total exceeds the amount range"}
)

// ErrInsufficientBalance is the ledger's own error, passed through unchanged.
// Its code is 3.
var ErrInsufficientBalance = ledger.ErrInsufficientBalance

// CodeInsufficientBalance is the code reported for ErrInsufficientBalance.
const CodeInsufficientBalance = 3

// ErrBalanceOverflow from the ledger reports as ErrAmountOverflow.
var ErrBalanceOverflow = ledger.ErrBalanceOverflow

// CodeOf returns the marketplace code for err, or 0 when err is not a
// marketplace or funds error.
func CodeOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if errors.Is(err, ErrInsufficientBalance) {
		return CodeInsufficientBalance
	}
	if errors.Is(err, ErrBalanceOverflow) {
		return ErrAmountOverflow.Code
	}
	return 0
}

// CategoryOf is CodeOf for categories.
func CategoryOf(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	if errors.Is(err, ErrInsufficientBalance) {
		return CategoryFunds
	}
	if errors.Is(err, ErrBalanceOverflow) {
		return ErrAmountOverflow.Category
	}
	return ""
}
