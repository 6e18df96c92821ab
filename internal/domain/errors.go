package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrAlreadySettled      = errors.New("ledger entry already settled")
	// ErrProviderFailure wraps submission errors coming back from the
	// provider gateway so the HTTP layer can answer 502 rather than 500.
	ErrProviderFailure = errors.New("provider failure")
)
