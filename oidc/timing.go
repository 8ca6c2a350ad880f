package oidc

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultIssuedAtLeeway bounds how far in the past a freshly issued token's
// iat claim may lie and still be admitted.
const DefaultIssuedAtLeeway = 200 * time.Second

// TimingValidator decides whether token timestamps are acceptable.  The
// provider applies IssuedAtValid as an admission check on freshly issued
// tokens; the session controller applies Expired when deciding whether a
// stored session needs a refresh.
type TimingValidator interface {
	// IssuedAtValid reports whether a token issued at the given instant is
	// fresh enough to admit.  The instant may be up to the configured leeway
	// in the past (or anywhere in the future, covering clock skew).
	IssuedAtValid(issuedAt time.Time) bool

	// Expired reports whether the given expiry has passed.  The check is
	// strict: now >= expiry means expired, with no leeway.
	Expired(expiry time.Time) bool
}

// TimingChecks is the default TimingValidator.
// Supported options: WithNowFunc, WithIssuedAtLeeway
type TimingChecks struct {
	leeway time.Duration
	now    func() time.Time
}

var _ TimingValidator = (*TimingChecks)(nil)

// NewTimingChecks creates a TimingValidator with the default 200 second
// issued-at leeway.
func NewTimingChecks(opt ...Option) *TimingChecks {
	opts := getTimingOpts(opt...)
	return &TimingChecks{
		leeway: opts.withIssuedAtLeeway,
		now:    opts.withNowFunc,
	}
}

// IssuedAtValid implements TimingValidator.  A zero issuedAt is rejected.
func (v *TimingChecks) IssuedAtValid(issuedAt time.Time) bool {
	if issuedAt.IsZero() {
		return false
	}
	return v.now().Sub(issuedAt) <= v.leeway
}

// Expired implements TimingValidator.  A zero expiry never expires.
func (v *TimingChecks) Expired(expiry time.Time) bool {
	if expiry.IsZero() {
		return false
	}
	return !v.now().Before(expiry)
}

// TokenTimes extracts the iat and exp claims from a raw JWT without
// verifying its signature.  Absent claims yield zero times.
func TokenTimes(raw string) (issuedAt, expiry time.Time, err error) {
	const op = "oidc.TokenTimes"
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%s: unable to parse jwt: %w", op, err)
	}
	if iat, err := token.Claims.GetIssuedAt(); err == nil && iat != nil {
		issuedAt = iat.Time
	}
	if exp, err := token.Claims.GetExpirationTime(); err == nil && exp != nil {
		expiry = exp.Time
	}
	return issuedAt, expiry, nil
}

// timingOptions is the set of available options for TimingChecks
type timingOptions struct {
	withIssuedAtLeeway time.Duration
	withNowFunc        func() time.Time
}

// timingDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func timingDefaults() timingOptions {
	return timingOptions{
		withIssuedAtLeeway: DefaultIssuedAtLeeway,
		withNowFunc:        time.Now,
	}
}

// getTimingOpts gets the timing defaults and applies the opt overrides
// passed in.
func getTimingOpts(opt ...Option) timingOptions {
	opts := timingDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithIssuedAtLeeway provides an optional issued-at leeway for a
// TimingChecks validator.
func WithIssuedAtLeeway(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*timingOptions); ok {
			o.withIssuedAtLeeway = d
		}
	}
}
