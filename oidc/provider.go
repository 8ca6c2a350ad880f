package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"

	"github.com/sessionflow/sessionflow/internal/strutils"
	"github.com/sessionflow/sessionflow/internal/transport"
)

// RequestObserver is called with every request the provider client sends.  It
// may return a rewritten request; returning nil leaves the request untouched.
// The default observer logs the request's method and URL.
type RequestObserver func(req *http.Request) *http.Request

// Provider is the client for an OIDC identity provider, supporting the
// 3-legged authorization code flow with PKCE, token refresh, and RFC 7662
// token introspection.
type Provider struct {
	config   *Config
	provider *oidc.Provider
	client   *http.Client
	logger   hclog.Logger
	timing   TimingValidator

	mu sync.Mutex

	// backgroundCtx is the context used by the provider for background
	// activities like refreshing JWKs key sets
	backgroundCtx context.Context

	// backgroundCtxCancel is used to cancel any background activities running
	// in spawned go routines.
	backgroundCtxCancel context.CancelFunc
}

// NewProvider creates and initializes a Provider.  Initializing the provider
// includes making an http request to the issuer's discovery endpoint.
//
// See Provider.Done() which must be called to release provider resources.
// Supported options: WithLogger, WithTimingValidator, WithRequestObserver
func NewProvider(c *Config, opt ...Option) (*Provider, error) {
	const op = "oidc.NewProvider"
	if c == nil {
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: provider config is invalid: %w", op, err)
	}
	opts := getProviderOpts(opt...)

	ctx, cancel := context.WithCancel(context.Background())
	// initializing the Provider with its background ctx/cancel allows us to
	// use p.Done() to release resources when returning errors from this
	// function.
	p := &Provider{
		config:              c,
		logger:              opts.withLogger,
		timing:              opts.withTimingValidator,
		backgroundCtx:       ctx,
		backgroundCtxCancel: cancel,
	}

	observer := opts.withRequestObserver
	if observer == nil {
		observer = p.logRequest
	}
	client, err := transport.NewClient(c.ProviderCA, transport.RequestObserver(observer))
	if err != nil {
		p.Done() // release the backgroundCtxCancel resources
		if errors.Is(err, transport.ErrInvalidCertificatePem) {
			return nil, fmt.Errorf("%s: could not parse CA PEM value: %w", op, ErrInvalidCACert)
		}
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}
	p.client = client

	provider, err := oidc.NewProvider(HttpClientContext(p.backgroundCtx, client), c.Issuer) // makes http req to issuer for discovery
	if err != nil {
		p.Done() // release the backgroundCtxCancel resources
		return nil, fmt.Errorf("%s: unable to create provider: %w", op, err)
	}
	p.provider = provider

	return p, nil
}

// Done with the provider's background resources and must be called for every
// Provider created
func (p *Provider) Done() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.backgroundCtxCancel != nil {
		p.backgroundCtxCancel()
		p.backgroundCtxCancel = nil
	}
}

// Config returns the provider's config.
func (p *Provider) Config() *Config { return p.config }

// HttpClientContext is a helper function that returns a new Context that
// carries the provided HTTP client. This method sets the same context key used
// by the github.com/coreos/go-oidc and golang.org/x/oauth2 packages, so the
// returned context works for those packages as well.
func HttpClientContext(ctx context.Context, client *http.Client) context.Context {
	// simple to implement as a wrapper for the coreos package
	return oidc.ClientContext(ctx, client)
}

// AuthURL will generate a URL the caller can use to kick off an OIDC
// authorization code flow with the IdP.  The request's state id uniquely
// identifies the user's authentication attempt throughout the flow, and its
// PKCE challenge binds the eventual code exchange to this client.
func (p *Provider) AuthURL(ctx context.Context, r *SignInRequest) (string, error) {
	const op = "Provider.AuthURL"
	if r == nil {
		return "", fmt.Errorf("%s: sign-in request is nil: %w", op, ErrNilParameter)
	}
	if r.Id() == r.Nonce() {
		return "", fmt.Errorf("%s: request id and nonce cannot be equal: %w", op, ErrInvalidParameter)
	}
	authCodeOpts := []oauth2.AuthCodeOption{
		oidc.Nonce(r.Nonce()),
	}
	if v := r.Verifier(); v != nil {
		authCodeOpts = append(authCodeOpts,
			oauth2.SetAuthURLParam("code_challenge", v.Challenge()),
			oauth2.SetAuthURLParam("code_challenge_method", string(v.Method())),
		)
	}
	return p.oauth2Config().AuthCodeURL(r.Id(), authCodeOpts...), nil
}

// Exchange will request a token from the oidc token endpoint, using the
// authorizationCode and authorizationState it received in an earlier
// successful authentication response.
//
// It validates the authorizationState against the sign-in request, verifies
// the returned id_token (signature, nonce, audiences) and applies the timing
// validator's issued-at admission check before returning the token.
func (p *Provider) Exchange(ctx context.Context, r *SignInRequest, authorizationState string, authorizationCode string) (*Token, error) {
	const op = "Provider.Exchange"
	if r == nil {
		return nil, fmt.Errorf("%s: sign-in request is nil: %w", op, ErrNilParameter)
	}
	if r.Id() != authorizationState {
		return nil, fmt.Errorf("%s: authentication state and authorization state are not equal: %w", op, ErrResponseStateInvalid)
	}
	if r.IsExpired() {
		return nil, fmt.Errorf("%s: authentication request is expired: %w", op, ErrInvalidParameter)
	}
	oidcCtx := HttpClientContext(ctx, p.client)

	var exchangeOpts []oauth2.AuthCodeOption
	if v := r.Verifier(); v != nil {
		exchangeOpts = append(exchangeOpts,
			oauth2.SetAuthURLParam("code_verifier", v.Verifier()),
		)
	}
	oauth2Token, err := p.oauth2Config().Exchange(oidcCtx, authorizationCode, exchangeOpts...)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to exchange auth code with provider: %w", op, err)
	}

	idToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok || idToken == "" {
		return nil, fmt.Errorf("%s: id_token is missing from auth code exchange: %w", op, ErrMissingIdToken)
	}
	verified, err := p.VerifyIdToken(ctx, IdToken(idToken), r.Nonce())
	if err != nil {
		return nil, fmt.Errorf("%s: id_token failed verification: %w", op, err)
	}
	if !p.timing.IssuedAtValid(verified.IssuedAt) {
		return nil, fmt.Errorf("%s: id_token issued at %s: %w", op, verified.IssuedAt, ErrStaleToken)
	}

	t := &Token{
		AccessToken:  AccessToken(oauth2Token.AccessToken),
		RefreshToken: RefreshToken(oauth2Token.RefreshToken),
		IdToken:      IdToken(idToken),
		IssuedAt:     verified.IssuedAt,
		Expiry:       oauth2Token.Expiry,
	}
	if t.Expiry.IsZero() {
		t.Expiry = verified.Expiry
	}
	return t, nil
}

// Refresh exchanges a refresh_token for a fresh token.  If the provider
// returns a new id_token it's verified (the nonce check doesn't apply to
// refresh grants); if the provider rotates the refresh_token the new one is
// returned, otherwise the one passed in is carried forward.
func (p *Provider) Refresh(ctx context.Context, refreshToken RefreshToken) (*Token, error) {
	const op = "Provider.Refresh"
	if refreshToken == "" {
		return nil, fmt.Errorf("%s: refresh token is empty: %w", op, ErrMissingRefreshToken)
	}
	oidcCtx := HttpClientContext(ctx, p.client)

	ts := p.oauth2Config().TokenSource(oidcCtx, &oauth2.Token{RefreshToken: string(refreshToken)})
	oauth2Token, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to refresh token with provider: %w", op, err)
	}

	t := &Token{
		AccessToken:  AccessToken(oauth2Token.AccessToken),
		RefreshToken: refreshToken,
		Expiry:       oauth2Token.Expiry,
	}
	if oauth2Token.RefreshToken != "" {
		t.RefreshToken = RefreshToken(oauth2Token.RefreshToken)
	}
	if idToken, ok := oauth2Token.Extra("id_token").(string); ok && idToken != "" {
		verified, err := p.VerifyIdToken(ctx, IdToken(idToken), "")
		if err != nil {
			return nil, fmt.Errorf("%s: refreshed id_token failed verification: %w", op, err)
		}
		t.IdToken = IdToken(idToken)
		t.IssuedAt = verified.IssuedAt
	} else if iat, _, err := TokenTimes(oauth2Token.AccessToken); err == nil {
		t.IssuedAt = iat
	}
	return t, nil
}

// Introspect asks the provider whether the access token is currently active
// (RFC 7662).  A payload without a boolean "active" member is reported as an
// introspection failure, not as an inactive token.
func (p *Provider) Introspect(ctx context.Context, accessToken AccessToken) (bool, error) {
	const op = "Provider.Introspect"
	if accessToken == "" {
		return false, fmt.Errorf("%s: access token is empty: %w", op, ErrInvalidParameter)
	}
	var doc struct {
		IntrospectionEndpoint string `json:"introspection_endpoint"`
	}
	if err := p.provider.Claims(&doc); err != nil {
		return false, fmt.Errorf("%s: unable to read discovery claims: %w", op, err)
	}
	if doc.IntrospectionEndpoint == "" {
		return false, fmt.Errorf("%s: %w", op, ErrIntrospectionUnsupported)
	}

	form := url.Values{
		"token":           {string(accessToken)},
		"token_type_hint": {"access_token"},
	}
	if p.config.ClientSecret == "" {
		form.Set("client_id", p.config.ClientId)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, doc.IntrospectionEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return false, fmt.Errorf("%s: unable to create introspection request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if p.config.ClientSecret != "" {
		req.SetBasicAuth(p.config.ClientId, string(p.config.ClientSecret))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%s: introspection request failed: %w", op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("%s: introspection endpoint returned %s: %w", op, resp.Status, ErrIntrospectionFailed)
	}

	var payload map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return false, fmt.Errorf("%s: unable to decode introspection response: %w", op, ErrIntrospectionFailed)
	}
	active, ok := payload["active"].(bool)
	if !ok {
		return false, fmt.Errorf("%s: introspection response has no boolean active member: %w", op, ErrIntrospectionFailed)
	}
	return active, nil
}

// LogoutURL builds an RP-initiated logout URL from the provider's
// end_session_endpoint, sending the user to the config's LogoutRedirectUrl
// afterwards.  The idTokenHint may be empty if the provider doesn't require
// one.
func (p *Provider) LogoutURL(idTokenHint IdToken) (string, error) {
	const op = "Provider.LogoutURL"
	var doc struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := p.provider.Claims(&doc); err != nil {
		return "", fmt.Errorf("%s: unable to read discovery claims: %w", op, err)
	}
	if doc.EndSessionEndpoint == "" {
		return "", fmt.Errorf("%s: %w", op, ErrLogoutUnsupported)
	}
	u, err := url.Parse(doc.EndSessionEndpoint)
	if err != nil {
		return "", fmt.Errorf("%s: end_session_endpoint is invalid: %w", op, err)
	}
	q := u.Query()
	q.Set("client_id", p.config.ClientId)
	if p.config.LogoutRedirectUrl != "" {
		q.Set("post_logout_redirect_uri", p.config.LogoutRedirectUrl)
	}
	if idTokenHint != "" {
		q.Set("id_token_hint", string(idTokenHint))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// VerifyIdToken will verify the inbound IdToken.  It verifies it's been
// signed by the provider, validates the nonce (when one is given), and
// performs any additional checks depending on the provider's config
// (audiences, etc).
//
// See: https://openid.net/specs/openid-connect-core-1_0.html#IDTokenValidation
func (p *Provider) VerifyIdToken(ctx context.Context, t IdToken, nonce string) (*oidc.IDToken, error) {
	const op = "Provider.VerifyIdToken"
	if t == "" {
		return nil, fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	algs := make([]string, 0, len(p.config.SupportedSigningAlgs))
	for _, a := range p.config.SupportedSigningAlgs {
		algs = append(algs, string(a))
	}
	verifier := p.provider.Verifier(&oidc.Config{
		SupportedSigningAlgs: algs,
		ClientID:             p.config.ClientId,
	})

	oidcIdToken, err := verifier.Verify(HttpClientContext(ctx, p.client), string(t))
	if err != nil {
		return nil, fmt.Errorf("%s: invalid id_token: %w", op, err)
	}

	if nonce != "" && oidcIdToken.Nonce != nonce {
		return nil, fmt.Errorf("%s: invalid id_token nonce: %w", op, ErrInvalidNonce)
	}

	if len(p.config.Audiences) > 0 {
		found := false
		for _, v := range p.config.Audiences {
			if strutils.StrListContains(oidcIdToken.Audience, v) {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%s: invalid id_token audiences: %w", op, ErrInvalidParameter)
		}
	}
	return oidcIdToken, nil
}

// oauth2Config composes the oauth2 client config for the provider.  The
// required "openid" scope is always included.
func (p *Provider) oauth2Config() *oauth2.Config {
	scopes := strutils.RemoveDuplicatesStable(append([]string{oidc.ScopeOpenID}, p.config.Scopes...), false)
	return &oauth2.Config{
		ClientID:     p.config.ClientId,
		ClientSecret: string(p.config.ClientSecret),
		RedirectURL:  p.config.RedirectUrl,
		Endpoint:     p.provider.Endpoint(),
		Scopes:       scopes,
	}
}

// logRequest is the default RequestObserver; it only logs.
func (p *Provider) logRequest(req *http.Request) *http.Request {
	p.logger.Debug("outgoing request", "method", req.Method, "url", req.URL.Redacted())
	return nil
}

// providerOptions is the set of available options for NewProvider
type providerOptions struct {
	withLogger          hclog.Logger
	withTimingValidator TimingValidator
	withRequestObserver RequestObserver
}

// providerDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func providerDefaults() providerOptions {
	return providerOptions{
		withLogger:          hclog.NewNullLogger(),
		withTimingValidator: NewTimingChecks(),
	}
}

// getProviderOpts gets the provider defaults and applies the opt overrides
// passed in.
func getProviderOpts(opt ...Option) providerOptions {
	opts := providerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*providerOptions); ok {
			o.withLogger = l
		}
	}
}

// WithTimingValidator provides an optional TimingValidator used as the
// admission check for freshly issued tokens.
func WithTimingValidator(v TimingValidator) Option {
	return func(o interface{}) {
		if o, ok := o.(*providerOptions); ok {
			o.withTimingValidator = v
		}
	}
}

// WithRequestObserver provides an optional RequestObserver which sees (and
// may rewrite) every request the provider client sends.
func WithRequestObserver(observer RequestObserver) Option {
	return func(o interface{}) {
		if o, ok := o.(*providerOptions); ok {
			o.withRequestObserver = observer
		}
	}
}
