// Package session drives the client-side session lifecycle: load
// configuration, recover a persisted session, sign in or refresh as needed,
// validate the access token via remote introspection, then perform exactly
// one protected API call. Every external failure is recovered here and
// mapped to a terminal Status; nothing propagates as an uncaught fault.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/sessionflow/sessionflow/oidc"
	"github.com/sessionflow/sessionflow/protected"
	"github.com/sessionflow/sessionflow/store"
)

// Terminal status messages.
const (
	MsgBadConfiguration   = "Bad configuration"
	MsgInvalidAccessToken = "Invalid AccessToken"
	MsgQuerySuccessful    = "Query successful"
	MsgServiceUnavailable = "Service unavailable"
)

// IdentityProvider is the subset of the oidc.Provider surface the
// controller consumes. *oidc.Provider satisfies it.
type IdentityProvider interface {
	// SignIn runs the interactive authorization-code flow.
	SignIn(ctx context.Context, opt ...oidc.Option) (*oidc.Token, error)

	// Refresh exchanges a refresh token for a fresh token set.
	Refresh(ctx context.Context, refreshToken oidc.RefreshToken) (*oidc.Token, error)

	// Introspect asks the provider whether the access token is active.
	Introspect(ctx context.Context, accessToken oidc.AccessToken) (bool, error)
}

// ConfigLoader supplies the Configuration for a run. It is invoked once per
// Run invocation.
type ConfigLoader func() (*oidc.Config, error)

// ProviderFactory creates the IdentityProvider for a loaded Configuration.
// Discovery happens here, so creation can fail.
type ProviderFactory func(c *oidc.Config) (IdentityProvider, error)

// Caller performs the one protected API call. *protected.Client satisfies
// it.
type Caller interface {
	Call(ctx context.Context, accessToken oidc.AccessToken) (*protected.Result, error)
}

// Controller is the session lifecycle state machine. A Controller is
// strictly sequential: one Run drives one pass through the state machine
// with at most one outstanding external operation at a time, and reaches a
// terminal Status exactly once.
type Controller struct {
	loadConfig  ConfigLoader
	newProvider ProviderFactory
	store       store.Store
	caller      Caller

	status     *Cell
	logger     hclog.Logger
	timing     oidc.TimingValidator
	signInOpts []oidc.Option

	mu      sync.Mutex
	config  *oidc.Config
	session *store.Session
}

// NewController creates a Controller wired to its collaborators.
//
// Supported options: WithLogger, WithStatusCell, WithTimingValidator,
// WithSignInOptions.
func NewController(loadConfig ConfigLoader, newProvider ProviderFactory, s store.Store, caller Caller, opt ...Option) (*Controller, error) {
	const op = "session.NewController"
	switch {
	case loadConfig == nil:
		return nil, fmt.Errorf("%s: missing config loader: %w", op, ErrNilParameter)
	case newProvider == nil:
		return nil, fmt.Errorf("%s: missing provider factory: %w", op, ErrNilParameter)
	case s == nil:
		return nil, fmt.Errorf("%s: missing session store: %w", op, ErrNilParameter)
	case caller == nil:
		return nil, fmt.Errorf("%s: missing protected API caller: %w", op, ErrNilParameter)
	}
	opts := getControllerOpts(opt...)
	return &Controller{
		loadConfig:  loadConfig,
		newProvider: newProvider,
		store:       s,
		caller:      caller,
		status:      opts.withStatusCell,
		logger:      opts.withLogger,
		timing:      opts.withTimingValidator,
		signInOpts:  opts.withSignInOptions,
	}, nil
}

// Status returns the observable status cell the controller writes to.
func (c *Controller) Status() *Cell {
	return c.status
}

// Session returns the in-memory session from the last successful sign-in or
// refresh, or nil.
func (c *Controller) Session() *store.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Run drives one pass through the lifecycle and returns the terminal
// Status. All external-call failures are mapped to a Status value; Run
// never returns an error and the loading flag is cleared exactly once, on
// the terminal transition.
func (c *Controller) Run(ctx context.Context) Status {
	c.status.set(Status{Phase: Authenticating, Loading: true})

	cfg, err := c.loadConfig()
	if err != nil {
		c.logger.Error("unable to load configuration", "error", err)
		return c.fail(MsgBadConfiguration)
	}
	if err := cfg.Validate(); err != nil {
		c.logger.Error("configuration is invalid", "error", err)
		return c.fail(MsgBadConfiguration)
	}
	c.setConfig(cfg)

	provider, err := c.newProvider(cfg)
	if err != nil {
		c.logger.Error("unable to create identity provider client", "error", err)
		return c.fail(MsgBadConfiguration)
	}

	sess, terminal := c.establishSession(ctx, cfg, provider)
	if terminal != nil {
		return *terminal
	}
	c.setSession(sess)

	active, err := provider.Introspect(ctx, sess.AccessToken)
	switch {
	case err != nil:
		c.logger.Error("token introspection failed", "error", err)
		return c.fail(MsgInvalidAccessToken)
	case !active:
		c.logger.Info("token introspection reported the token inactive")
		return c.fail(MsgInvalidAccessToken)
	}

	result, err := c.caller.Call(ctx, sess.AccessToken)
	if err != nil {
		c.logger.Error("protected call failed", "error", err)
		return c.fail(err.Error())
	}
	switch {
	case result.StatusCode == http.StatusOK && result.Body == "OK":
		return c.succeed(MsgQuerySuccessful)
	case result.StatusCode == http.StatusOK:
		return c.succeed(fmt.Sprintf("Server said: %s", result.Body))
	case result.StatusCode == http.StatusServiceUnavailable:
		return c.fail(MsgServiceUnavailable)
	default:
		return c.fail(fmt.Sprintf("Server response: %s", result.StatusText))
	}
}

// establishSession recovers a stored session or acquires a new one via
// sign-in or refresh. It returns either a session holding a token that
// passed the local admission checks, or the terminal Status to report.
func (c *Controller) establishSession(ctx context.Context, cfg *oidc.Config, provider IdentityProvider) (*store.Session, *Status) {
	stored, err := c.store.ReadSession(ctx, cfg.Fingerprint())
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		// an unreadable store entry is treated as no entry
		c.logger.Warn("unable to read stored session", "error", err)
	}

	switch {
	case stored == nil:
		c.logger.Debug("no stored session, starting interactive sign-in")
		token, err := provider.SignIn(ctx, c.signInOpts...)
		if err != nil {
			c.logger.Error("interactive sign-in failed", "error", err)
			c.setSession(nil)
			s := c.fail(err.Error())
			return nil, &s
		}
		return c.persist(ctx, cfg, token)

	case stored.HasAccessToken() && !c.timing.Expired(stored.ExpiresAt):
		c.logger.Debug("stored session has a usable access token")
		return stored, nil

	default:
		c.logger.Debug("stored session needs a refresh")
		token, err := provider.Refresh(ctx, stored.RefreshToken)
		if err != nil {
			c.logger.Error("token refresh failed", "error", err)
			s := c.fail(err.Error())
			return nil, &s
		}
		return c.persist(ctx, cfg, token)
	}
}

// persist writes a freshly acquired token set to the store. A write failure
// is logged and does not abort the run; the in-memory session still carries
// a valid token.
func (c *Controller) persist(ctx context.Context, cfg *oidc.Config, token *oidc.Token) (*store.Session, *Status) {
	sess, err := store.NewSession(cfg, token)
	if err != nil {
		c.logger.Error("unable to build session record", "error", err)
		s := c.fail(err.Error())
		return nil, &s
	}
	if err := c.store.WriteSession(ctx, sess); err != nil {
		c.logger.Warn("unable to persist session", "error", err)
	}
	return sess, nil
}

// SignOut deletes the persisted session for the current Configuration and
// clears the in-memory session and status.
func (c *Controller) SignOut(ctx context.Context) error {
	const op = "session.(Controller).SignOut"
	cfg := c.currentConfig()
	if cfg == nil {
		var err error
		cfg, err = c.loadConfig()
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	if err := c.store.DeleteSession(ctx, cfg.Fingerprint()); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	c.setSession(nil)
	c.status.set(Status{})
	return nil
}

func (c *Controller) fail(msg string) Status {
	s := Status{Phase: Failed, Message: msg}
	c.status.set(s)
	return s
}

func (c *Controller) succeed(msg string) Status {
	s := Status{Phase: Succeeded, Message: msg}
	c.status.set(s)
	return s
}

func (c *Controller) setConfig(cfg *oidc.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config = cfg
}

func (c *Controller) currentConfig() *oidc.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config
}

func (c *Controller) setSession(s *store.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = s
}

// Option is a shared functional option (see the oidc package).
type Option = oidc.Option

type controllerOptions struct {
	withLogger          hclog.Logger
	withStatusCell      *Cell
	withTimingValidator oidc.TimingValidator
	withSignInOptions   []oidc.Option
}

func controllerDefaults() controllerOptions {
	return controllerOptions{
		withLogger:          hclog.NewNullLogger(),
		withStatusCell:      NewCell(),
		withTimingValidator: oidc.NewTimingChecks(),
	}
}

func getControllerOpts(opt ...Option) controllerOptions {
	opts := controllerDefaults()
	oidc.ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides a logger for the controller.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if v, ok := o.(*controllerOptions); ok {
			v.withLogger = l
		}
	}
}

// WithStatusCell provides the status cell the controller writes to, so a
// presentation layer can subscribe before the first Run.
func WithStatusCell(cell *Cell) Option {
	return func(o interface{}) {
		if v, ok := o.(*controllerOptions); ok && cell != nil {
			v.withStatusCell = cell
		}
	}
}

// WithTimingValidator provides the validator used for the local expiry
// check on stored sessions.
func WithTimingValidator(validator oidc.TimingValidator) Option {
	return func(o interface{}) {
		if v, ok := o.(*controllerOptions); ok && validator != nil {
			v.withTimingValidator = validator
		}
	}
}

// WithSignInOptions provides options forwarded to the provider's SignIn,
// for example an auth-URL handler that opens a browser.
func WithSignInOptions(opt ...oidc.Option) Option {
	return func(o interface{}) {
		if v, ok := o.(*controllerOptions); ok {
			v.withSignInOptions = opt
		}
	}
}
