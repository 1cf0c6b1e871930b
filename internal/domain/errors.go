package domain

import "errors"

// Error kinds returned by the ledger. Callers branch on them with errors.Is.
var (
	ErrSlotExhausted          = errors.New("task has no free slots")
	ErrActiveLeaseExists      = errors.New("user already has an open lease")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrNotFound               = errors.New("not found")
	ErrStorageUnavailable     = errors.New("storage unavailable")
	ErrBelowMinimumWithdrawal = errors.New("amount is below the minimum withdrawal")
	ErrInvalidInput           = errors.New("invalid input")
	ErrRateLimited            = errors.New("rate limit exceeded")
)
