package service

import "errors"

var (
	ErrCreditsRequired   = errors.New("insufficient credits, payment required")
	ErrLedgerUnavailable = errors.New("credit ledger unavailable")
	ErrNoPendingTask     = errors.New("no pending generation task")
	ErrEmptyDescription  = errors.New("description cannot be empty")
	ErrPaymentsDisabled  = errors.New("payment provider is not configured")
	ErrUnknownPlan       = errors.New("unknown plan")
	ErrUnknownUser       = errors.New("unknown user")
	ErrInvalidSignature  = errors.New("invalid webhook signature")
	ErrUnknownPayment    = errors.New("payment was not created by the bot")
	ErrPaymentMismatch   = errors.New("payment does not match its record")
)
