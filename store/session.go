package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sessionflow/sessionflow/oidc"
)

// Session is the persisted record of one signed-in session for one
// configuration.  The token fields use redacting types, so a Session never
// leaks secrets through String or JSON marshaling; implementations that need
// the raw values persist them through their own internal record types.
type Session struct {
	// Id uniquely identifies this session record
	Id string

	// Fingerprint is the configuration fingerprint this session belongs to
	// (see oidc.Config.Fingerprint); it's the store key
	Fingerprint string

	AccessToken  oidc.AccessToken
	RefreshToken oidc.RefreshToken
	IdToken      oidc.IdToken

	IssuedAt  time.Time
	ExpiresAt time.Time
}

// NewSession composes a session record for the configuration from a token
// the provider issued.
func NewSession(c *oidc.Config, t *oidc.Token) (*Session, error) {
	const op = "store.NewSession"
	if c == nil {
		return nil, fmt.Errorf("%s: configuration is nil: %w", op, ErrNilParameter)
	}
	if t == nil {
		return nil, fmt.Errorf("%s: token is nil: %w", op, ErrNilParameter)
	}
	if t.AccessToken == "" {
		return nil, fmt.Errorf("%s: token has no access token: %w", op, ErrInvalidParameter)
	}
	return &Session{
		Id:           uuid.NewString(),
		Fingerprint:  c.Fingerprint(),
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		IdToken:      t.IdToken,
		IssuedAt:     t.IssuedAt,
		ExpiresAt:    t.Expiry,
	}, nil
}

// HasAccessToken reports whether the record carries an access token at all;
// whether that token is still current is the timing validator's call.
func (s *Session) HasAccessToken() bool {
	return s != nil && s.AccessToken != ""
}

// String renders the session with its tokens redacted.
func (s *Session) String() string {
	return fmt.Sprintf("session %s (fingerprint %s, expires %s)", s.Id, s.Fingerprint, s.ExpiresAt)
}
