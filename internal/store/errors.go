package store

import "errors"

// Sentinel errors returned by the store layer. Handlers resolve these with
// errors.Is to pick the HTTP status; everything else is treated as a storage
// failure.
var (
	ErrAccountNotFound   = errors.New("account not found on this partition")
	ErrInsufficientFunds = errors.New("insufficient funds")
)
