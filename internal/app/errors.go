package app

import (
	"errors"
	"fmt"
)

var (
	ErrBelowMinimum       = errors.New("amount below minimum")
	ErrInvalidPayment     = errors.New("invalid payment event")
	ErrTicketsUnavailable = errors.New("ticket sales are not available")
	ErrInvalidTicketType  = errors.New("invalid ticket type")
	ErrTicketUnderpaid    = errors.New("payment does not cover ticket price")
	ErrTicketUsed         = errors.New("ticket already used")
	ErrEventEnded         = errors.New("event has already ended")
	ErrInvalidScanAction  = errors.New("invalid scan action")
	ErrRateLimited        = errors.New("rate limit exceeded")
)

// RateLimitError tells the caller when it may try again.
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded; retry after %ds", e.RetryAfterSeconds)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}
