package apperrors

import (
	"errors"
)

var (
	// Provider payload misses required fields or carries non numeric amounts
	ErrMalformedEvent = errors.New("malformed payment event")

	// Webhook authenticity check failed
	ErrSignatureInvalid = errors.New("webhook signature invalid")

	// OAuth / token exchange with the payment provider failed
	ErrProviderAuth = errors.New("provider authentication failed")

	ErrUserNotFound        = errors.New("user ledger not found")
	ErrTransactionNotFound = errors.New("transaction not found")

	ErrInsufficientBalance = errors.New("insufficient balance")

	// Credit and debit amounts must be positive
	ErrNonPositiveAmount = errors.New("amount must be positive")
)
