package oidc

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// DefaultSignInTimeout bounds how long an interactive sign-in waits for the
// user to complete the flow in their browser.
const DefaultSignInTimeout = 2 * time.Minute

// SignInRequest represents one OIDC authentication flow for a user.  It
// contains the data needed to uniquely represent that one-time flow across
// the multiple interactions needed to complete it.  Id() is passed throughout
// the OIDC interactions to uniquely identify the flow's state; Id() and
// Nonce() cannot be equal and are used to prevent CSRF and replay attacks.
type SignInRequest struct {
	id         string
	nonce      string
	verifier   *CodeVerifier
	expiration time.Time
}

// NewSignInRequest creates a SignInRequest with fresh state and nonce ids and
// a PKCE code verifier.
func NewSignInRequest(expireIn time.Duration) (*SignInRequest, error) {
	const op = "oidc.NewSignInRequest"
	if expireIn <= 0 {
		return nil, fmt.Errorf("%s: expireIn not greater than zero: %w", op, ErrInvalidParameter)
	}
	nonce, err := NewId("n")
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate a request nonce: %w", op, err)
	}
	id, err := NewId("st")
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate a request id: %w", op, err)
	}
	v, err := NewCodeVerifier()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate a code verifier: %w", op, err)
	}
	return &SignInRequest{
		id:         id,
		nonce:      nonce,
		verifier:   v,
		expiration: time.Now().Add(expireIn),
	}, nil
}

func (r *SignInRequest) Id() string              { return r.id }
func (r *SignInRequest) Nonce() string           { return r.nonce }
func (r *SignInRequest) Verifier() *CodeVerifier { return r.verifier }

// IsExpired returns true if the request has expired.
func (r *SignInRequest) IsExpired() bool {
	return r.expiration.Before(time.Now())
}

// AuthURLHandler presents the authorization URL to the user, typically by
// launching a browser.  The sign-in fails if the handler returns an error.
type AuthURLHandler func(authURL string) error

// signInResult carries the single outcome of an interactive sign-in.
type signInResult struct {
	token *Token
	err   error
}

// SignIn runs the interactive 3-legged authorization code flow: it starts a
// callback listener on the config's redirect URL, hands the authorization URL
// to the AuthURLHandler, and waits for exactly one success-or-failure outcome
// from the callback (or for the context/timeout to end the attempt).
//
// Supported options: WithAuthURLHandler, WithSignInTimeout
func (p *Provider) SignIn(ctx context.Context, opt ...Option) (*Token, error) {
	const op = "Provider.SignIn"
	opts := getSignInOpts(opt...)

	redirect, err := url.Parse(p.config.RedirectUrl)
	if err != nil {
		return nil, fmt.Errorf("%s: redirect URL %s is invalid: %w", op, p.config.RedirectUrl, err)
	}

	request, err := NewSignInRequest(opts.withTimeout)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create sign-in request: %w", op, err)
	}
	authURL, err := p.AuthURL(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create auth URL: %w", op, err)
	}

	resultCh := make(chan signInResult, 1)
	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath(redirect), p.callbackHandler(ctx, request, resultCh))

	listener, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to listen on %s: %w", op, redirect.Host, err)
	}
	srv := &http.Server{Handler: mux}
	defer srv.Close()
	go func() {
		_ = srv.Serve(listener)
	}()

	p.logger.Info("waiting for provider callback", "addr", redirect.Host)
	if err := opts.withAuthURLHandler(authURL); err != nil {
		return nil, fmt.Errorf("%s: unable to present auth URL to the user: %w", op, err)
	}

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, fmt.Errorf("%s: %w", op, res.err)
		}
		return res.token, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w: %v", op, ErrLoginCanceled, ctx.Err())
	case <-time.After(opts.withTimeout):
		return nil, fmt.Errorf("%s: gave up after %s: %w", op, opts.withTimeout, ErrLoginTimeout)
	}
}

// callbackHandler handles the authorization response redirect.  Exactly one
// result is delivered to resultCh, whatever path the response takes.
func (p *Provider) callbackHandler(ctx context.Context, request *SignInRequest, resultCh chan<- signInResult) http.HandlerFunc {
	var mu sync.Mutex
	var handled bool
	return func(w http.ResponseWriter, req *http.Request) {
		const op = "Provider.callback"
		mu.Lock()
		if handled {
			mu.Unlock()
			// duplicate redirect delivery; the first outcome already won
			http.Error(w, "sign-in already completed", http.StatusConflict)
			return
		}
		handled = true
		mu.Unlock()

		deliver := func(t *Token, err error) {
			if err != nil {
				p.logger.Error("sign-in callback failed", "err", err)
				http.Error(w, "Sign-in failed. You can close this window.", http.StatusUnauthorized)
			} else {
				fmt.Fprintln(w, "Signed in. You can close this window.")
			}
			resultCh <- signInResult{token: t, err: err}
		}

		// get parameters from either the body or query parameters.
		// FormValue prioritizes body values, if found.
		if errCode := req.FormValue("error"); errCode != "" {
			desc := req.FormValue("error_description")
			deliver(nil, fmt.Errorf("%s: provider returned %s (%s): %w", op, errCode, desc, ErrLoginFailed))
			return
		}
		reqState := req.FormValue("state")
		reqCode := req.FormValue("code")

		token, err := p.Exchange(ctx, request, reqState, reqCode)
		if err != nil {
			deliver(nil, fmt.Errorf("%s: unable to exchange authorization code: %w", op, err))
			return
		}
		deliver(token, nil)
	}
}

// callbackPath returns the path component the callback listener serves;
// defaults to "/" for redirect URLs without a path.
func callbackPath(redirect *url.URL) string {
	if redirect.Path == "" {
		return "/"
	}
	return redirect.Path
}

// signInOptions is the set of available options for SignIn
type signInOptions struct {
	withAuthURLHandler AuthURLHandler
	withTimeout        time.Duration
}

// signInDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func signInDefaults() signInOptions {
	return signInOptions{
		withAuthURLHandler: func(authURL string) error {
			fmt.Printf("Complete the login via your OIDC provider:\n\n    %s\n\n", authURL)
			return nil
		},
		withTimeout: DefaultSignInTimeout,
	}
}

// getSignInOpts gets the sign-in defaults and applies the opt overrides
// passed in.
func getSignInOpts(opt ...Option) signInOptions {
	opts := signInDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithAuthURLHandler provides the handler that presents the authorization
// URL to the user.  The default prints the URL to stdout; callers usually
// launch a browser, and tests drive the URL programmatically.
func WithAuthURLHandler(h AuthURLHandler) Option {
	return func(o interface{}) {
		if o, ok := o.(*signInOptions); ok {
			o.withAuthURLHandler = h
		}
	}
}

// WithSignInTimeout provides an optional timeout for the interactive
// sign-in.  The default is DefaultSignInTimeout.
func WithSignInTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*signInOptions); ok {
			o.withTimeout = d
		}
	}
}
