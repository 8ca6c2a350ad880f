package oidc

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/sessionflow/sessionflow/internal/strutils"
)

type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

// Environment variable names used by NewConfigFromEnv.  When UITestEnvVar is
// set to a truthy value, the TestXxxEnvVar variants are read instead and the
// scope set is fixed to UITestScopes.
const (
	IssuerEnvVar            = "SESSIONFLOW_ISSUER"
	ClientIdEnvVar          = "SESSIONFLOW_CLIENT_ID"
	ClientSecretEnvVar      = "SESSIONFLOW_CLIENT_SECRET"
	RedirectUrlEnvVar       = "SESSIONFLOW_REDIRECT_URL"
	LogoutRedirectUrlEnvVar = "SESSIONFLOW_LOGOUT_REDIRECT_URL"
	ScopesEnvVar            = "SESSIONFLOW_SCOPES"
	ProviderCAEnvVar        = "SESSIONFLOW_PROVIDER_CA"

	UITestEnvVar                = "SESSIONFLOW_UITEST"
	TestIssuerEnvVar            = "SESSIONFLOW_TEST_ISSUER"
	TestClientIdEnvVar          = "SESSIONFLOW_TEST_CLIENT_ID"
	TestRedirectUrlEnvVar       = "SESSIONFLOW_TEST_REDIRECT_URL"
	TestLogoutRedirectUrlEnvVar = "SESSIONFLOW_TEST_LOGOUT_REDIRECT_URL"
)

// UITestScopes is the fixed scope set used for automated UI test runs.
const UITestScopes = "openid profile offline_access"

// Config represents the configuration for the client side of a typical
// 3-legged OIDC authorization code flow.  It is immutable once loaded.
type Config struct {
	// ClientId is the relying party id
	ClientId string

	// ClientSecret is the relying party secret.  It may be empty for public
	// clients using PKCE.
	ClientSecret ClientSecret

	// Scopes is a list of additional oidc scopes to request of the provider.
	// The required "openid" scope is requested by default.
	Scopes []string

	// Issuer is a case-sensitive URL string using the https scheme that
	// contains scheme, host, and optionally, port number and path components
	// and no query or fragment components.
	Issuer string

	// SupportedSigningAlgs is a list of supported signing algorithms. List of
	// currently supported algs: RS256, RS384, RS512, ES256, ES384, ES512,
	// PS256, PS384, PS512
	SupportedSigningAlgs []Alg

	// RedirectUrl is where the provider sends the user after the interactive
	// sign-in completes.  Its host/port is also where the local callback
	// listener binds.
	RedirectUrl string

	// LogoutRedirectUrl is where the provider sends the user after an
	// RP-initiated logout.  Optional.
	LogoutRedirectUrl string

	// Audiences is a list of optional case-sensitive strings used when
	// verifying an id_token's "aud" claim
	Audiences []string

	// ProviderCA is an optional CA cert to use when sending requests to the
	// provider.
	ProviderCA string
}

// NewConfig composes a new client config for a provider.
// Supported options: WithScopes, WithAudiences, WithProviderCA,
// WithLogoutRedirectUrl, WithSupportedAlgs
func NewConfig(issuer string, clientId string, clientSecret ClientSecret, redirectUrl string, opt ...Option) (*Config, error) {
	const op = "oidc.NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		Issuer:               issuer,
		ClientId:             clientId,
		ClientSecret:         clientSecret,
		RedirectUrl:          redirectUrl,
		LogoutRedirectUrl:    opts.withLogoutRedirectUrl,
		Scopes:               strutils.RemoveDuplicatesStable(opts.withScopes, false),
		SupportedSigningAlgs: opts.withSupportedAlgs,
		Audiences:            opts.withAudiences,
		ProviderCA:           opts.withProviderCA,
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid configuration: %w", op, err)
	}
	return c, nil
}

// NewConfigFromEnv composes a client config from the process environment.
// When the UITestEnvVar flag is set, configuration comes from the
// TestXxxEnvVar variables with the fixed UITestScopes scope set, which allows
// automated test runs to point the client at a disposable provider.
// Supported options: WithEnviron
func NewConfigFromEnv(opt ...Option) (*Config, error) {
	const op = "oidc.NewConfigFromEnv"
	opts := getConfigOpts(opt...)
	getenv := opts.withEnviron
	if getenv == nil {
		getenv = os.Getenv
	}

	if isTruthy(getenv(UITestEnvVar)) {
		return NewConfig(
			getenv(TestIssuerEnvVar),
			getenv(TestClientIdEnvVar),
			ClientSecret(getenv(ClientSecretEnvVar)),
			getenv(TestRedirectUrlEnvVar),
			WithLogoutRedirectUrl(getenv(TestLogoutRedirectUrlEnvVar)),
			WithScopes(strings.Fields(UITestScopes)),
			WithProviderCA(getenv(ProviderCAEnvVar)),
		)
	}

	var scopes []string
	if raw := getenv(ScopesEnvVar); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			scopes = append(scopes, strings.TrimSpace(s))
		}
	}
	return NewConfig(
		getenv(IssuerEnvVar),
		getenv(ClientIdEnvVar),
		ClientSecret(getenv(ClientSecretEnvVar)),
		getenv(RedirectUrlEnvVar),
		WithLogoutRedirectUrl(getenv(LogoutRedirectUrlEnvVar)),
		WithScopes(scopes),
		WithProviderCA(getenv(ProviderCAEnvVar)),
	)
}

// Validate the client configuration.  Among other validations, it verifies
// the issuer is not empty, but it doesn't verify the Issuer is discoverable
// via an http request.  SupportedSigningAlgs is validated against the list of
// currently supported algs: RS256, RS384, RS512, ES256, ES384, ES512, PS256,
// PS384, PS512
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: configuration is nil: %w", op, ErrNilParameter)
	}
	if c.ClientId == "" {
		return fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidParameter)
	}
	if c.Issuer == "" {
		return fmt.Errorf("%s: issuer is empty: %w", op, ErrInvalidParameter)
	}
	if c.RedirectUrl == "" {
		return fmt.Errorf("%s: redirect URL is empty: %w", op, ErrInvalidParameter)
	}
	u, err := url.Parse(c.Issuer)
	if err != nil {
		return fmt.Errorf("%s: issuer %s is invalid: %w", op, c.Issuer, err)
	}
	if !strutils.StrListContains([]string{"https", "http"}, u.Scheme) {
		return fmt.Errorf("%s: issuer %s schema is not http or https: %w", op, c.Issuer, ErrInvalidParameter)
	}
	if ru, err := url.Parse(c.RedirectUrl); err != nil || ru.Host == "" {
		return fmt.Errorf("%s: redirect URL %s is invalid: %w", op, c.RedirectUrl, ErrInvalidParameter)
	}
	if len(c.SupportedSigningAlgs) == 0 {
		return fmt.Errorf("%s: supported algorithms is empty: %w", op, ErrInvalidParameter)
	}
	for _, a := range c.SupportedSigningAlgs {
		if !supportedAlgorithms[a] {
			return fmt.Errorf("%s: unsupported algorithm %s: %w", op, a, ErrInvalidParameter)
		}
	}
	return nil
}

// Fingerprint returns a stable identifier for the (issuer, client id) pair a
// session belongs to.  The session store keys its records by this value,
// which is what enforces "at most one session per configuration".
func (c *Config) Fingerprint() string {
	sum := sha256.Sum256([]byte(c.Issuer + "\x00" + c.ClientId))
	return hex.EncodeToString(sum[:16])
}

func isTruthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "t", "true", "yes", "y":
		return true
	}
	return false
}

// configOptions is the set of available options for Config functions
type configOptions struct {
	withScopes            []string
	withAudiences         []string
	withProviderCA        string
	withLogoutRedirectUrl string
	withSupportedAlgs     []Alg
	withEnviron           func(string) string
}

// configDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func configDefaults() configOptions {
	return configOptions{
		withSupportedAlgs: []Alg{RS256, ES256},
	}
}

// getConfigOpts gets the config defaults and applies the opt overrides passed
// in.
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithScopes provides an optional list of scopes for the client's config
func WithScopes(scopes []string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withScopes = scopes
		}
	}
}

// WithAudiences provides an optional list of audiences for the client's config
func WithAudiences(auds []string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withAudiences = auds
		}
	}
}

// WithProviderCA provides an optional CA cert for the client's config
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProviderCA = cert
		}
	}
}

// WithLogoutRedirectUrl provides an optional RP-initiated logout redirect URL
// for the client's config
func WithLogoutRedirectUrl(u string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withLogoutRedirectUrl = u
		}
	}
}

// WithSupportedAlgs provides an optional list of id_token signing algorithms
// to accept.  The default is RS256 and ES256.
func WithSupportedAlgs(algs ...Alg) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withSupportedAlgs = algs
		}
	}
}

// WithEnviron provides an optional environment lookup function for
// NewConfigFromEnv.  The default is os.Getenv.
func WithEnviron(getenv func(string) string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withEnviron = getenv
		}
	}
}
