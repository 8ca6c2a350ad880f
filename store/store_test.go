package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessionflow/sessionflow/oidc"
)

func testConfig(t *testing.T) *oidc.Config {
	t.Helper()
	c, err := oidc.NewConfig("https://example.com", "client-id", "secret", "http://localhost:8282/callback")
	require.NoError(t, err)
	return c
}

func testSession(t *testing.T, c *oidc.Config) *Session {
	t.Helper()
	s, err := NewSession(c, &oidc.Token{
		AccessToken:  "at_1234567890",
		RefreshToken: "rt_1234567890",
		IdToken:      "idt_1234567890",
		IssuedAt:     time.Now().Truncate(time.Second),
		Expiry:       time.Now().Add(time.Hour).Truncate(time.Second),
	})
	require.NoError(t, err)
	return s
}

func TestNewSession(t *testing.T) {
	t.Parallel()
	t.Run("valid", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c := testConfig(t)
		s := testSession(t, c)
		require.NotNil(s)
		assert.NotEmpty(s.Id)
		assert.Equal(c.Fingerprint(), s.Fingerprint)
		assert.True(s.HasAccessToken())
	})
	t.Run("nil-config", func(t *testing.T) {
		require := require.New(t)
		_, err := NewSession(nil, &oidc.Token{AccessToken: "at"})
		require.ErrorIs(err, ErrNilParameter)
	})
	t.Run("nil-token", func(t *testing.T) {
		require := require.New(t)
		_, err := NewSession(testConfig(t), nil)
		require.ErrorIs(err, ErrNilParameter)
	})
	t.Run("missing-access-token", func(t *testing.T) {
		require := require.New(t)
		_, err := NewSession(testConfig(t), &oidc.Token{})
		require.ErrorIs(err, ErrInvalidParameter)
	})
}

func TestSession_String(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	c := testConfig(t)
	s := testSession(t, c)
	assert.NotContains(s.String(), "at_1234567890")
	assert.NotContains(s.String(), "rt_1234567890")
}

// both implementations must behave identically against the Store contract
func testStores(t *testing.T) map[string]Store {
	t.Helper()
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return map[string]Store{
		"file": fs,
		"mem":  NewMemStore(),
	}
}

func TestStore_ReadWrite(t *testing.T) {
	t.Parallel()
	for name, s := range testStores(t) {
		s := s
		t.Run(name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			ctx := context.Background()
			c := testConfig(t)
			sess := testSession(t, c)

			_, err := s.ReadSession(ctx, c.Fingerprint())
			require.ErrorIs(err, ErrNotFound)

			require.NoError(s.WriteSession(ctx, sess))
			got, err := s.ReadSession(ctx, c.Fingerprint())
			require.NoError(err)
			assert.Equal(sess.Id, got.Id)
			assert.Equal(sess.AccessToken, got.AccessToken)
			assert.Equal(sess.RefreshToken, got.RefreshToken)
			assert.Equal(sess.IdToken, got.IdToken)
			assert.True(sess.IssuedAt.Equal(got.IssuedAt))
			assert.True(sess.ExpiresAt.Equal(got.ExpiresAt))
		})
	}
}

func TestStore_WriteIsIdempotent(t *testing.T) {
	t.Parallel()
	for name, s := range testStores(t) {
		s := s
		t.Run(name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			ctx := context.Background()
			c := testConfig(t)
			sess := testSession(t, c)

			require.NoError(s.WriteSession(ctx, sess))
			first, err := s.ReadSession(ctx, c.Fingerprint())
			require.NoError(err)

			require.NoError(s.WriteSession(ctx, sess))
			second, err := s.ReadSession(ctx, c.Fingerprint())
			require.NoError(err)

			assert.Equal(first, second)
		})
	}
}

func TestStore_WriteReplacesPriorSession(t *testing.T) {
	t.Parallel()
	for name, s := range testStores(t) {
		s := s
		t.Run(name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			ctx := context.Background()
			c := testConfig(t)

			first := testSession(t, c)
			require.NoError(s.WriteSession(ctx, first))

			second := testSession(t, c)
			require.NoError(s.WriteSession(ctx, second))

			got, err := s.ReadSession(ctx, c.Fingerprint())
			require.NoError(err)
			assert.Equal(second.Id, got.Id)
		})
	}
}

func TestStore_Delete(t *testing.T) {
	t.Parallel()
	for name, s := range testStores(t) {
		s := s
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			ctx := context.Background()
			c := testConfig(t)

			// deleting an absent session is fine
			require.NoError(s.DeleteSession(ctx, c.Fingerprint()))

			require.NoError(s.WriteSession(ctx, testSession(t, c)))
			require.NoError(s.DeleteSession(ctx, c.Fingerprint()))
			_, err := s.ReadSession(ctx, c.Fingerprint())
			require.ErrorIs(err, ErrNotFound)
		})
	}
}

func TestFileStore_Permissions(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	dir := filepath.Join(t.TempDir(), "sessions")
	fs, err := NewFileStore(dir)
	require.NoError(err)

	info, err := os.Stat(dir)
	require.NoError(err)
	require.Equal(os.FileMode(0o700), info.Mode().Perm())

	c := testConfig(t)
	require.NoError(fs.WriteSession(context.Background(), testSession(t, c)))

	info, err = os.Stat(filepath.Join(dir, c.Fingerprint()+".json"))
	require.NoError(err)
	require.Equal(os.FileMode(0o600), info.Mode().Perm())
}

func TestFileStore_PersistsRawTokens(t *testing.T) {
	t.Parallel()
	// the redacting token types must not leak into the persisted record
	assert, require := assert.New(t), require.New(t)
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(err)

	c := testConfig(t)
	require.NoError(fs.WriteSession(context.Background(), testSession(t, c)))

	data, err := os.ReadFile(filepath.Join(dir, c.Fingerprint()+".json"))
	require.NoError(err)
	var raw map[string]interface{}
	require.NoError(json.Unmarshal(data, &raw))
	assert.Equal("at_1234567890", raw["access_token"])
	assert.NotContains(string(data), "REDACTED")
}
