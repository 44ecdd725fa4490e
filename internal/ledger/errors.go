package ledger

import "errors"

// Stock ledger error kinds. Callers branch on them with errors.Is.
var (
	ErrNotFound          = errors.New("inventory entry not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrConflict          = errors.New("concurrent stock update conflict")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrInvalidPrice      = errors.New("price must not be negative")
	ErrPriceUnavailable  = errors.New("no recorded price for item")
)
