package services

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrShopNotFound is returned when no account exists for the shop id.
	ErrShopNotFound = errors.New("shop not found")

	// ErrShopExists is returned when onboarding a shop id that already has an account.
	ErrShopExists = errors.New("shop account already exists")

	// ErrInvalidAmount covers non-positive amounts, negative issued tokens and empty shop ids.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientBalance matches every *InsufficientBalanceError.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrLedgerBusy means the per-shop lock could not be taken in time. Nothing was mutated,
	// so the call is safe to retry.
	ErrLedgerBusy = errors.New("shop balance is busy, retry later")

	// ErrDuplicateReward is returned when an idempotency key was already used.
	ErrDuplicateReward = errors.New("duplicate reward request")

	// ErrInvalidReward wraps reward request validation failures such as an unknown tier.
	ErrInvalidReward = errors.New("invalid reward request")
)

// InsufficientBalanceError carries the numbers a caller needs for an actionable message.
type InsufficientBalanceError struct {
	ShopID    string
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: required %s, available %s", e.Required.String(), e.Available.String())
}

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

func invalidAmountf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidAmount, fmt.Sprintf(format, args...))
}
