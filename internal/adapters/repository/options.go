package repository

import (
	"github.com/okian/starsignal/pkg/logger"
)

type options struct {
	logger logger.Logger
	debug  bool
}

// Option applies a configuration option to a store.
type Option func(*options)

// WithLogger sets the logger used by the store.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithDebugSQL makes the gorm store log every statement.
func WithDebugSQL(enabled bool) Option {
	return func(o *options) {
		o.debug = enabled
	}
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.Get().Named("store")
	}
	return o
}
