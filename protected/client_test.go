package protected

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessionflow/sessionflow/oidc"
)

func testAPIServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, string) {
	t.Helper()
	ts := httptest.NewTLSServer(handler)
	t.Cleanup(ts.Close)
	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	return ts, u.Host
}

func TestNewClient(t *testing.T) {
	t.Parallel()
	t.Run("valid", func(t *testing.T) {
		require := require.New(t)
		c, err := NewClient("api.example.com", "/hello")
		require.NoError(err)
		require.NotNil(c)
	})
	t.Run("missing-host", func(t *testing.T) {
		require := require.New(t)
		_, err := NewClient("", "/hello")
		require.ErrorIs(err, oidc.ErrInvalidParameter)
	})
}

func TestNewClientFromEnv(t *testing.T) {
	t.Parallel()
	t.Run("valid", func(t *testing.T) {
		require := require.New(t)
		env := map[string]string{
			HostEnvVar: "api.example.com",
			PathEnvVar: "/hello",
		}
		c, err := NewClientFromEnv(WithEnviron(func(k string) string { return env[k] }))
		require.NoError(err)
		require.Equal("https://api.example.com/hello?themessage=Hello%20World", c.URL())
	})
	t.Run("missing-host", func(t *testing.T) {
		require := require.New(t)
		_, err := NewClientFromEnv(WithEnviron(func(string) string { return "" }))
		require.ErrorIs(err, oidc.ErrInvalidParameter)
	})
}

func TestClient_URL(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	c, err := NewClient("api.example.com", "/v1/echo")
	require.NoError(err)
	assert.Equal("https://api.example.com/v1/echo?themessage=Hello%20World", c.URL())
}

func TestClient_Call(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("sends-bearer-and-message", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		var gotAuth, gotMessage, gotPath string
		ts, host := testAPIServer(t, func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			gotMessage = r.URL.Query().Get("themessage")
			gotPath = r.URL.Path
			w.Write([]byte("OK"))
		})
		c, err := NewClient(host, "/hello", WithHTTPClient(ts.Client()))
		require.NoError(err)

		res, err := c.Call(ctx, "access-token-123")
		require.NoError(err)
		assert.Equal("Bearer access-token-123", gotAuth)
		assert.Equal("Hello World", gotMessage)
		assert.Equal("/hello", gotPath)
		assert.Equal(http.StatusOK, res.StatusCode)
		assert.Equal("OK", res.Body)
	})
	t.Run("non-2xx-still-returns-result", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		ts, host := testAPIServer(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
		})
		c, err := NewClient(host, "/hello", WithHTTPClient(ts.Client()))
		require.NoError(err)

		res, err := c.Call(ctx, "access-token-123")
		require.NoError(err)
		assert.Equal(http.StatusServiceUnavailable, res.StatusCode)
		assert.Equal("Service Unavailable", res.StatusText)
	})
	t.Run("missing-token", func(t *testing.T) {
		require := require.New(t)
		c, err := NewClient("api.example.com", "/hello")
		require.NoError(err)
		_, err = c.Call(ctx, "")
		require.ErrorIs(err, oidc.ErrInvalidParameter)
	})
	t.Run("transport-error", func(t *testing.T) {
		require := require.New(t)
		ts, host := testAPIServer(t, func(w http.ResponseWriter, r *http.Request) {})
		c, err := NewClient(host, "/hello") // default client does not trust the test CA
		require.NoError(err)
		_ = ts
		_, err = c.Call(ctx, "access-token-123")
		require.Error(err)
	})
}
