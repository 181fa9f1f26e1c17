package statestore

import "errors"

var (
	ErrEntryNotFound  = errors.New("queue entry not found")
	ErrReservedToken  = errors.New("token collides with the reserved counter key")
	ErrMalformedEntry = errors.New("malformed queue entry")
)
