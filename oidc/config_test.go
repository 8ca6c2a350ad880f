package oidc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	t.Parallel()
	t.Run("valid", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c, err := NewConfig(
			"https://example.com", "client-id", "client-secret",
			"http://localhost:8282/callback",
			WithScopes([]string{"profile", "profile", "email"}),
			WithLogoutRedirectUrl("http://localhost:8282/loggedout"),
		)
		require.NoError(err)
		assert.Equal("https://example.com", c.Issuer)
		assert.Equal([]string{"profile", "email"}, c.Scopes)
		assert.Equal("http://localhost:8282/loggedout", c.LogoutRedirectUrl)
		assert.Equal([]Alg{RS256, ES256}, c.SupportedSigningAlgs)
	})
	t.Run("empty-client-id", func(t *testing.T) {
		require := require.New(t)
		_, err := NewConfig("https://example.com", "", "secret", "http://localhost:8282/callback")
		require.ErrorIs(err, ErrInvalidParameter)
	})
	t.Run("empty-issuer", func(t *testing.T) {
		require := require.New(t)
		_, err := NewConfig("", "client-id", "secret", "http://localhost:8282/callback")
		require.ErrorIs(err, ErrInvalidParameter)
	})
	t.Run("bad-issuer-scheme", func(t *testing.T) {
		require := require.New(t)
		_, err := NewConfig("ldap://example.com", "client-id", "secret", "http://localhost:8282/callback")
		require.ErrorIs(err, ErrInvalidParameter)
	})
	t.Run("empty-redirect", func(t *testing.T) {
		require := require.New(t)
		_, err := NewConfig("https://example.com", "client-id", "secret", "")
		require.ErrorIs(err, ErrInvalidParameter)
	})
	t.Run("unsupported-alg", func(t *testing.T) {
		require := require.New(t)
		_, err := NewConfig("https://example.com", "client-id", "secret", "http://localhost:8282/callback",
			WithSupportedAlgs("none"))
		require.ErrorIs(err, ErrInvalidParameter)
	})
	t.Run("empty-secret-is-allowed", func(t *testing.T) {
		require := require.New(t)
		_, err := NewConfig("https://example.com", "client-id", "", "http://localhost:8282/callback")
		require.NoError(err)
	})
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()
	t.Run("nil-config", func(t *testing.T) {
		require := require.New(t)
		var c *Config
		require.ErrorIs(c.Validate(), ErrNilParameter)
	})
}

func TestNewConfigFromEnv(t *testing.T) {
	t.Parallel()
	newEnv := func(vars map[string]string) func(string) string {
		return func(k string) string { return vars[k] }
	}
	t.Run("default-source", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c, err := NewConfigFromEnv(WithEnviron(newEnv(map[string]string{
			IssuerEnvVar:            "https://example.com",
			ClientIdEnvVar:          "client-id",
			ClientSecretEnvVar:      "client-secret",
			RedirectUrlEnvVar:       "http://localhost:8282/callback",
			LogoutRedirectUrlEnvVar: "http://localhost:8282/loggedout",
			ScopesEnvVar:            "profile, email",
		})))
		require.NoError(err)
		assert.Equal("client-id", c.ClientId)
		assert.Equal([]string{"profile", "email"}, c.Scopes)
		assert.Equal("http://localhost:8282/loggedout", c.LogoutRedirectUrl)
	})
	t.Run("uitest-source", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c, err := NewConfigFromEnv(WithEnviron(newEnv(map[string]string{
			UITestEnvVar:                "true",
			TestIssuerEnvVar:            "https://test.example.com",
			TestClientIdEnvVar:          "test-client",
			TestRedirectUrlEnvVar:       "http://localhost:9292/callback",
			TestLogoutRedirectUrlEnvVar: "http://localhost:9292/loggedout",
			// the non-test variables must be ignored
			IssuerEnvVar:   "https://example.com",
			ClientIdEnvVar: "client-id",
		})))
		require.NoError(err)
		assert.Equal("https://test.example.com", c.Issuer)
		assert.Equal("test-client", c.ClientId)
		assert.Equal([]string{"openid", "profile", "offline_access"}, c.Scopes)
	})
	t.Run("missing-required-field", func(t *testing.T) {
		require := require.New(t)
		_, err := NewConfigFromEnv(WithEnviron(newEnv(map[string]string{
			IssuerEnvVar: "https://example.com",
		})))
		require.ErrorIs(err, ErrInvalidParameter)
	})
}

func TestConfig_Fingerprint(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	c1, err := NewConfig("https://example.com", "client-id", "secret", "http://localhost:8282/callback")
	require.NoError(err)
	c2, err := NewConfig("https://example.com", "client-id", "other-secret", "http://localhost:9292/callback")
	require.NoError(err)
	c3, err := NewConfig("https://example.com", "other-client", "secret", "http://localhost:8282/callback")
	require.NoError(err)

	// only issuer and client id participate
	assert.Equal(c1.Fingerprint(), c2.Fingerprint())
	assert.NotEqual(c1.Fingerprint(), c3.Fingerprint())
}

func TestClientSecret_String(t *testing.T) {
	t.Parallel()
	t.Run("redacted", func(t *testing.T) {
		assert := assert.New(t)
		const want = RedactedClientSecret
		secret := ClientSecret("super secret")
		assert.Equalf(want, secret.String(), "ClientSecret.String() = %v, want %v", secret.String(), want)
	})
}

func TestClientSecret_MarshalJSON(t *testing.T) {
	t.Parallel()
	t.Run("redacted", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		want := `"` + RedactedClientSecret + `"`
		secret := ClientSecret("super secret")
		got, err := secret.MarshalJSON()
		require.NoError(err)
		assert.Equal([]byte(want), got)
	})
}
