package sender

import (
	"time"

	"github.com/GriffinCanCode/httpsender/internal/sender/redirect"
)

// RequestConfig holds the per-send options. Values are immutable once built;
// share them freely.
type RequestConfig struct {
	followRedirects bool
	notifyListeners bool
	responseTimeout time.Duration
	validator       redirect.Validator
}

// ConfigOption customises a RequestConfig.
type ConfigOption func(*RequestConfig)

// WithFollowRedirects makes the dispatcher follow redirects.
func WithFollowRedirects(follow bool) ConfigOption {
	return func(c *RequestConfig) { c.followRedirects = follow }
}

// WithNotifyListeners toggles listener notification.
func WithNotifyListeners(notify bool) ConfigOption {
	return func(c *RequestConfig) { c.notifyListeners = notify }
}

// WithRedirectValidator sets the validator consulted for redirect targets.
// nil restores the accept-all validator.
func WithRedirectValidator(v redirect.Validator) ConfigOption {
	return func(c *RequestConfig) {
		if v == nil {
			v = redirect.AcceptAll{}
		}
		c.validator = v
	}
}

// WithResponseTimeout bounds each hop. Zero keeps the transport's timeout.
func WithResponseTimeout(d time.Duration) ConfigOption {
	return func(c *RequestConfig) {
		if d < 0 {
			d = 0
		}
		c.responseTimeout = d
	}
}

// NewRequestConfig builds a config that notifies listeners, does not follow
// redirects and accepts every redirect target unless told otherwise.
func NewRequestConfig(opts ...ConfigOption) *RequestConfig {
	c := &RequestConfig{
		notifyListeners: true,
		validator:       redirect.AcceptAll{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var (
	// NoRedirects sends one request and notifies listeners.
	NoRedirects = NewRequestConfig()
	// FollowRedirects follows every redirect and notifies listeners.
	FollowRedirects = NewRequestConfig(WithFollowRedirects(true))
)

// FollowsRedirects reports whether redirects are followed.
func (c *RequestConfig) FollowsRedirects() bool { return c.followRedirects }

// NotifiesListeners reports whether redirect hops reach the listeners.
func (c *RequestConfig) NotifiesListeners() bool { return c.notifyListeners }

// ResponseTimeout bounds each hop; zero means no bound.
func (c *RequestConfig) ResponseTimeout() time.Duration { return c.responseTimeout }

// Validator vets redirect targets.
func (c *RequestConfig) Validator() redirect.Validator { return c.validator }

// With returns a copy of c with opts applied.
func (c *RequestConfig) With(opts ...ConfigOption) *RequestConfig {
	cp := *c
	for _, opt := range opts {
		opt(&cp)
	}
	return &cp
}
