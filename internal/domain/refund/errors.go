package refund

import "errors"

var (
	ErrInvalidAmount   = errors.New("refund amount must be greater than zero")
	ErrAmountPrecision = errors.New("refund amount must have at most two decimal places")
	ErrExceedsAmount   = errors.New("would exceed transaction amount")
	ErrNotEligible     = errors.New("transaction is not eligible for refund")
	ErrNotOwner        = errors.New("transaction belongs to another user")
	ErrNotFound        = errors.New("refund not found")
	ErrConcurrentWrite = errors.New("transaction changed while the refund was being recorded")
	ErrEnqueueFailed   = errors.New("refund could not be handed to the gateway")
	ErrDeclined        = errors.New("gateway declined refund")
)
