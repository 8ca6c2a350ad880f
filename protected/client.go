// Package protected calls the downstream API that requires a bearer token.
// The client performs a single authorized GET and reports the raw HTTP
// outcome; interpreting that outcome is the caller's concern.
package protected

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/hashicorp/go-hclog"

	"github.com/sessionflow/sessionflow/internal/transport"
	"github.com/sessionflow/sessionflow/oidc"
)

// Environment variable names for the protected API endpoint. The host and
// path are deployment-specific and never hardcoded.
const (
	HostEnvVar = "SESSIONFLOW_API_HOST"
	PathEnvVar = "SESSIONFLOW_API_PATH"
)

// query string appended to every call
const messageQuery = "themessage=Hello%20World"

// Result is the raw outcome of one protected call.
type Result struct {
	// StatusCode is the HTTP status code of the response.
	StatusCode int

	// StatusText is the standard text for StatusCode (http.StatusText).
	StatusText string

	// Body is the full response body.
	Body string
}

// Client performs authorized GETs against one protected endpoint.
type Client struct {
	host   string
	path   string
	client *http.Client
	logger hclog.Logger
}

// NewClient creates a Client for the endpoint https://{host}{path}.
//
// Supported options: WithHTTPClient, WithLogger.
func NewClient(host string, path string, opt ...Option) (*Client, error) {
	const op = "protected.NewClient"
	if host == "" {
		return nil, fmt.Errorf("%s: missing host: %w", op, oidc.ErrInvalidParameter)
	}
	opts := getClientOpts(opt...)
	client := opts.withHTTPClient
	if client == nil {
		var err error
		client, err = transport.NewClient("", nil)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return &Client{
		host:   host,
		path:   path,
		client: client,
		logger: opts.withLogger,
	}, nil
}

// NewClientFromEnv creates a Client from the SESSIONFLOW_API_* environment
// variables.
//
// Supported options: WithHTTPClient, WithLogger, WithEnviron.
func NewClientFromEnv(opt ...Option) (*Client, error) {
	const op = "protected.NewClientFromEnv"
	opts := getClientOpts(opt...)
	getenv := opts.withEnviron
	c, err := NewClient(getenv(HostEnvVar), getenv(PathEnvVar), opt...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

// URL returns the full request URL, including the fixed message query.
func (c *Client) URL() string {
	u := url.URL{
		Scheme:   "https",
		Host:     c.host,
		Path:     c.path,
		RawQuery: messageQuery,
	}
	return u.String()
}

// Call performs one GET with the access token as a bearer credential. A
// non-nil Result is returned for every response the server produced,
// whatever its status code; an error is returned only for transport-level
// failures.
func (c *Client) Call(ctx context.Context, accessToken oidc.AccessToken) (*Result, error) {
	const op = "protected.(Client).Call"
	if accessToken == "" {
		return nil, fmt.Errorf("%s: missing access token: %w", op, oidc.ErrInvalidParameter)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(), nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", string(accessToken)))

	c.logger.Debug("calling protected endpoint", "url", c.URL())
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read response: %w", op, err)
	}
	c.logger.Debug("protected endpoint responded", "status", resp.StatusCode)
	return &Result{
		StatusCode: resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Body:       string(body),
	}, nil
}

// Option is a shared functional option (see the oidc package).
type Option = oidc.Option

type clientOptions struct {
	withHTTPClient *http.Client
	withLogger     hclog.Logger
	withEnviron    func(string) string
}

func clientDefaults() clientOptions {
	return clientOptions{
		withLogger:  hclog.NewNullLogger(),
		withEnviron: os.Getenv,
	}
}

func getClientOpts(opt ...Option) clientOptions {
	opts := clientDefaults()
	oidc.ApplyOpts(&opts, opt...)
	return opts
}

// WithHTTPClient provides the http.Client used for the protected call.
func WithHTTPClient(client *http.Client) Option {
	return func(o interface{}) {
		if v, ok := o.(*clientOptions); ok {
			v.withHTTPClient = client
		}
	}
}

// WithLogger provides a logger for request diagnostics.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if v, ok := o.(*clientOptions); ok {
			v.withLogger = l
		}
	}
}

// WithEnviron provides an environment lookup function used instead of
// os.Getenv. Useful for testing.
func WithEnviron(getenv func(string) string) Option {
	return func(o interface{}) {
		if v, ok := o.(*clientOptions); ok {
			v.withEnviron = getenv
		}
	}
}
