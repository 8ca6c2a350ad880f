package oidc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessToken is an oauth access_token
type AccessToken string

// RedactedAccessToken is the redacted string or json for an oauth access_token
const RedactedAccessToken = "[REDACTED: access_token]"

// String will redact the token
func (t AccessToken) String() string {
	return RedactedAccessToken
}

// MarshalJSON will redact the token
func (t AccessToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedAccessToken)
}

// RefreshToken is an oauth refresh_token
type RefreshToken string

// RedactedRefreshToken is the redacted string or json for an oauth refresh_token
const RedactedRefreshToken = "[REDACTED: refresh_token]"

// String will redact the token
func (t RefreshToken) String() string {
	return RedactedRefreshToken
}

// MarshalJSON will redact the token
func (t RefreshToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedRefreshToken)
}

// IdToken is an oidc id_token
type IdToken string

// RedactedIdToken is the redacted string or json for an oidc id_token
const RedactedIdToken = "[REDACTED: id_token]"

// String will redact the token
func (t IdToken) String() string {
	return RedactedIdToken
}

// MarshalJSON will redact the token
func (t IdToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedIdToken)
}

// Claims retrieves the IdToken claims.  The token's signature is not
// verified; use Provider.VerifyIdToken for that.
func (t IdToken) Claims(claims interface{}) error {
	const op = "IdToken.Claims"
	if len(t) == 0 {
		return fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	if claims == nil {
		return fmt.Errorf("%s: claims interface is nil: %w", op, ErrNilParameter)
	}
	return UnmarshalClaims(string(t), claims)
}

// UnmarshalClaims decodes the payload of a JWT into claims without verifying
// its signature.
func UnmarshalClaims(raw string, claims interface{}) error {
	const op = "oidc.UnmarshalClaims"
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return fmt.Errorf("%s: unable to parse jwt: %w", op, err)
	}
	payload, err := json.Marshal(token.Claims)
	if err != nil {
		return fmt.Errorf("%s: unable to marshal jwt claims: %w", op, err)
	}
	if err := json.Unmarshal(payload, claims); err != nil {
		return fmt.Errorf("%s: unable to unmarshal jwt claims: %w", op, err)
	}
	return nil
}

// Token is the result of a successful sign-in or refresh with the provider.
// Timestamps come from the provider's token response and the verified
// id_token.
type Token struct {
	AccessToken  AccessToken
	RefreshToken RefreshToken
	IdToken      IdToken
	IssuedAt     time.Time
	Expiry       time.Time
}

// Expired reports whether the access token's expiry has passed.  The check is
// strict: a token whose expiry equals the current instant is expired.  A zero
// expiry means the provider didn't bound the token and it never expires
// locally.
func (t *Token) Expired(opt ...Option) bool {
	if t.Expiry.IsZero() {
		return false
	}
	opts := getTokenOpts(opt...)
	return !opts.withNowFunc().Round(0).Before(t.Expiry)
}

// Valid reports whether the token carries a usable access token.
func (t *Token) Valid() bool {
	if t == nil {
		return false
	}
	if t.AccessToken == "" {
		return false
	}
	return !t.Expired()
}

// tokenOptions is the set of available options for Token functions
type tokenOptions struct {
	withNowFunc func() time.Time
}

// tokenDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func tokenDefaults() tokenOptions {
	return tokenOptions{
		withNowFunc: time.Now,
	}
}

// getTokenOpts gets the token defaults and applies the opt overrides passed
// in.
func getTokenOpts(opt ...Option) tokenOptions {
	opts := tokenDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithNowFunc provides an optional time source for timing checks, which the
// tests use to pin "now".
func WithNowFunc(now func() time.Time) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *tokenOptions:
			v.withNowFunc = now
		case *timingOptions:
			v.withNowFunc = now
		}
	}
}
