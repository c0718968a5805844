package models

import "errors"

// Typed failures surfaced to the request-handling layer. Validation and
// authorization errors are never retried; ErrBusy and ErrProviderTimeout
// are retryable with backoff.
var (
	ErrValidation          = errors.New("validation failed")
	ErrComplianceRejected  = errors.New("rejected by compliance")
	ErrUnauthorized        = errors.New("caller is not a party to this operation")
	ErrInvalidState        = errors.New("transition illegal from current status")
	ErrExpired             = errors.New("escrow past its deadline")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrProofRequired       = errors.New("verified proof required for release")
	ErrOrderNotFound       = errors.New("order reference not found")
	ErrDuplicateEvent      = errors.New("webhook event already processed")
	ErrProviderTimeout     = errors.New("payment provider call timed out")
	ErrBusy                = errors.New("resource busy, retry later")
	ErrAccountNotFound     = errors.New("account not found")
	ErrEscrowNotFound      = errors.New("escrow not found")
	ErrReportNotFound      = errors.New("report not found")
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrUnsupportedCurrency = errors.New("unsupported currency")
)
