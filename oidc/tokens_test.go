package oidc

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/square/go-jose.v2/jwt"
)

func TestAccessToken_String(t *testing.T) {
	t.Parallel()
	t.Run("redacted", func(t *testing.T) {
		assert := assert.New(t)
		const want = RedactedAccessToken
		tk := AccessToken("super secret token")
		assert.Equalf(want, tk.String(), "AccessToken.String() = %v, want %v", tk.String(), want)
	})
}

func TestAccessToken_MarshalJSON(t *testing.T) {
	t.Parallel()
	t.Run("redacted", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		want := fmt.Sprintf(`"%s"`, RedactedAccessToken)
		tk := AccessToken("super secret token")
		got, err := tk.MarshalJSON()
		require.NoError(err)
		assert.Equalf([]byte(want), got, "AccessToken.MarshalJSON() = %s, want %s", got, want)
	})
}

func TestRefreshToken_String(t *testing.T) {
	t.Parallel()
	t.Run("redacted", func(t *testing.T) {
		assert := assert.New(t)
		const want = RedactedRefreshToken
		tk := RefreshToken("super secret token")
		assert.Equalf(want, tk.String(), "RefreshToken.String() = %v, want %v", tk.String(), want)
	})
}

func TestRefreshToken_MarshalJSON(t *testing.T) {
	t.Parallel()
	t.Run("redacted", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		want := fmt.Sprintf(`"%s"`, RedactedRefreshToken)
		tk := RefreshToken("super secret token")
		got, err := tk.MarshalJSON()
		require.NoError(err)
		assert.Equalf([]byte(want), got, "RefreshToken.MarshalJSON() = %s, want %s", got, want)
	})
}

func TestIdToken_String(t *testing.T) {
	t.Parallel()
	t.Run("redacted", func(t *testing.T) {
		assert := assert.New(t)
		const want = RedactedIdToken
		tk := IdToken("super secret token")
		assert.Equalf(want, tk.String(), "IdToken.String() = %v, want %v", tk.String(), want)
	})
}

func TestIdToken_Claims(t *testing.T) {
	t.Parallel()
	_, priv := TestGenerateKeys(t)
	raw := TestSignJWT(t, priv, jwt.Claims{
		Subject: "alice@example.com",
		Issuer:  "https://example.com",
	}, map[string]interface{}{"nonce": "n_123"})

	t.Run("valid", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		var claims struct {
			Sub   string `json:"sub"`
			Nonce string `json:"nonce"`
		}
		require.NoError(IdToken(raw).Claims(&claims))
		assert.Equal("alice@example.com", claims.Sub)
		assert.Equal("n_123", claims.Nonce)
	})
	t.Run("empty-token", func(t *testing.T) {
		require := require.New(t)
		var claims map[string]interface{}
		err := IdToken("").Claims(&claims)
		require.ErrorIs(err, ErrInvalidParameter)
	})
	t.Run("nil-claims", func(t *testing.T) {
		require := require.New(t)
		err := IdToken(raw).Claims(nil)
		require.ErrorIs(err, ErrNilParameter)
	})
}

func TestToken_Expired(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	nowFn := func() time.Time { return now }

	t.Run("zero-expiry-never-expires", func(t *testing.T) {
		assert := assert.New(t)
		tk := &Token{AccessToken: "token"}
		assert.False(tk.Expired(WithNowFunc(nowFn)))
	})
	t.Run("future-expiry", func(t *testing.T) {
		assert := assert.New(t)
		tk := &Token{AccessToken: "token", Expiry: now.Add(time.Second)}
		assert.False(tk.Expired(WithNowFunc(nowFn)))
	})
	t.Run("exact-expiry-is-expired", func(t *testing.T) {
		assert := assert.New(t)
		tk := &Token{AccessToken: "token", Expiry: now}
		assert.True(tk.Expired(WithNowFunc(nowFn)))
	})
	t.Run("past-expiry", func(t *testing.T) {
		assert := assert.New(t)
		tk := &Token{AccessToken: "token", Expiry: now.Add(-time.Hour)}
		assert.True(tk.Expired(WithNowFunc(nowFn)))
	})
}

func TestToken_Valid(t *testing.T) {
	t.Parallel()
	t.Run("nil-token", func(t *testing.T) {
		assert := assert.New(t)
		var tk *Token
		assert.False(tk.Valid())
	})
	t.Run("missing-access-token", func(t *testing.T) {
		assert := assert.New(t)
		tk := &Token{}
		assert.False(tk.Valid())
	})
	t.Run("valid", func(t *testing.T) {
		assert := assert.New(t)
		tk := &Token{AccessToken: "token", Expiry: time.Now().Add(time.Hour)}
		assert.True(tk.Valid())
	})
}
