package authclient

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultRefreshTimeout = 30 * time.Second

type options struct {
	base            http.RoundTripper
	logger          zerolog.Logger
	metrics         Metrics
	terminator      SessionTerminator
	refreshTimeout  time.Duration
	refreshEndpoint string
}

// Option configures a Client or Coordinator.
type Option func(*options)

func defaultOptions() options {
	return options{
		base:           http.DefaultTransport,
		logger:         log.Logger,
		metrics:        nopMetrics{},
		terminator:     SessionTerminatorFunc(func() {}),
		refreshTimeout: defaultRefreshTimeout,
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithBaseTransport sets the transport that performs the actual round trips.
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(o *options) {
		if rt != nil {
			o.base = rt
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithMetrics(m Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithSessionTerminator sets the hook notified when a refresh fails.
func WithSessionTerminator(t SessionTerminator) Option {
	return func(o *options) {
		if t != nil {
			o.terminator = t
		}
	}
}

// WithRefreshTimeout bounds a single refresh exchange. The bound is
// independent of the cancellation of the request that triggered it.
func WithRefreshTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.refreshTimeout = d
		}
	}
}

// WithRefreshEndpoint names the token endpoint URL. Unauthorized responses
// from it never trigger a refresh. Refreshers exposing TokenURL() set it
// automatically.
func WithRefreshEndpoint(rawURL string) Option {
	return func(o *options) {
		o.refreshEndpoint = rawURL
	}
}
