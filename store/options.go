package store

import (
	"github.com/hashicorp/go-hclog"

	"github.com/sessionflow/sessionflow/oidc"
)

// storeOptions is the set of available options for store constructors
type storeOptions struct {
	withLogger hclog.Logger
}

// storeDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func storeDefaults() storeOptions {
	return storeOptions{
		withLogger: hclog.NewNullLogger(),
	}
}

// getStoreOpts gets the store defaults and applies the opt overrides passed
// in.
func getStoreOpts(opt ...oidc.Option) storeOptions {
	opts := storeDefaults()
	oidc.ApplyOpts(&opts, opt...)
	return opts
}

// Option is re-exported so store constructors take the same functional
// options as the rest of the module.
type Option = oidc.Option

// WithLogger provides an optional logger for a store
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*storeOptions); ok {
			o.withLogger = l
		}
	}
}
