// Package store holds the secure session store contract and its file-backed
// and in-memory implementations.  A store keeps at most one session per
// configuration fingerprint: writing a session replaces whatever was
// persisted for that fingerprint before.
package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound         = errors.New("session not found")
	ErrNilParameter     = errors.New("nil parameter")
	ErrInvalidParameter = errors.New("invalid parameter")
)

// Store persists session records across process restarts.  Implementations
// must make Write an idempotent upsert keyed by the session's configuration
// fingerprint.
type Store interface {
	// ReadSession returns the persisted session for the configuration
	// fingerprint, or ErrNotFound when there is none.
	ReadSession(ctx context.Context, fingerprint string) (*Session, error)

	// WriteSession creates or replaces the persisted session for the
	// session's configuration fingerprint.
	WriteSession(ctx context.Context, s *Session) error

	// DeleteSession removes the persisted session for the configuration
	// fingerprint.  Deleting an absent session is not an error.
	DeleteSession(ctx context.Context, fingerprint string) error
}
