package domain

import "errors"

var (
	// ErrValidation is returned for malformed input rejected before any upstream call.
	ErrValidation = errors.New("validation error")

	// ErrTokenNotFound is returned when the ledger has no mint at the address.
	ErrTokenNotFound = errors.New("token not found")
)
