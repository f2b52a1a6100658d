package repository

import "errors"

var (
	ErrNotFound              = errors.New("record not found")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrDuplicatePendingDebit = errors.New("pending debit already exists")
	ErrDuplicateTransaction  = errors.New("transaction already recorded")
	ErrDuplicateReference    = errors.New("reference already exists")
)
