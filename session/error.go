package session

import "errors"

var (
	// ErrNilParameter indicates that a required parameter is nil.
	ErrNilParameter = errors.New("nil parameter")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")
)
