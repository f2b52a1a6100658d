package service

import (
	"errors"

	"github.com/svirmi/coursepay/internal/repository"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrAlreadyEnrolled      = errors.New("buyer already enrolled in course")
	ErrWithdrawalInProgress = errors.New("a withdrawal is already in progress")
	ErrPaymentPending       = errors.New("payment not yet confirmed by processor")
	ErrAmountMismatch       = errors.New("verified amount does not match purchase")
	// ErrReconciliationRequired means the processor took the money but some
	// local step did not land. The purchase is flagged and retried later.
	ErrReconciliationRequired = errors.New("reconciliation required")

	ErrInsufficientBalance = repository.ErrInsufficientBalance
)
