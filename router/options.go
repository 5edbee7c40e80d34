package router

import (
	"io"
	"log"

	"github.com/zonemesh/rpc/observability"
)

// Options configures a Manager. The zero Options, as produced by
// defaultOptions, is always usable.
type Options struct {
	observer observability.RouterObserver
	logger   *log.Logger
}

func defaultOptions() Options {
	return Options{
		observer: observability.NoopRouterObserver,
		logger:   log.New(io.Discard, "", 0),
	}
}

// Option configures a Manager at construction time, in the teacher's
// functional-options style.
type Option func(*Options)

// WithObserver installs a metrics observer for connection counts and
// routing decisions.
func WithObserver(o observability.RouterObserver) Option {
	return func(opts *Options) { opts.observer = o }
}

// WithLogger installs a logger for routing failures. A nil logger is
// treated as discarding all output.
func WithLogger(l *log.Logger) Option {
	return func(opts *Options) {
		if l != nil {
			opts.logger = l
		}
	}
}
