package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/votefest/wallet-service/internal/store"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidTarget     = errors.New("invalid transfer target")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidKind       = errors.New("transaction kind not allowed for this operation")
	ErrStorage           = errors.New("ledger storage unavailable")
)

// InsufficientFundsError reports how much a rejected debit needed.
type InsufficientFundsError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: required %s, available %s", e.Required.StringFixed(2), e.Available.StringFixed(2))
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// StorageError wraps infrastructure failures, lock timeouts included. The
// operation did not take effect and may be retried.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// Retryable is always true for storage errors.
func (e *StorageError) Retryable() bool { return true }

// LockTimeout reports whether the failure was a row lock wait timeout.
func (e *StorageError) LockTimeout() bool {
	return errors.Is(e.Err, store.ErrLockTimeout)
}

// IsDomainError reports whether err is a business rejection rather than an
// infrastructure failure.
func IsDomainError(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInvalidTarget) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidKind) ||
		errors.Is(err, store.ErrAccountNotFound) ||
		errors.Is(err, store.ErrContestantNotFound)
}

func classify(op string, err error) error {
	if err == nil || IsDomainError(err) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
