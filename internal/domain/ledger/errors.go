package ledger

import "errors"

var (
	ErrNotFound        = errors.New("transaction not found")
	ErrInvalidAmount   = errors.New("amount must be greater than zero")
	ErrAmountPrecision = errors.New("amount must have at most two decimal places")
	ErrInvalidStatus   = errors.New("transaction status does not allow this change")
	ErrVersionChanged  = errors.New("transaction was modified concurrently")
)
