package redirect

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/GriffinCanCode/httpsender/internal/sender/message"
)

// ErrBadPattern is returned for a scope pattern that is not a valid glob.
var ErrBadPattern = errors.New("invalid scope pattern")

// Validator vets redirect targets. It sees the first exchange and every hop.
type Validator interface {
	NotifyMessageReceived(ex *message.Exchange)
	IsValid(target *url.URL) bool
}

// AcceptAll follows every redirect.
type AcceptAll struct{}

// NotifyMessageReceived does nothing.
func (AcceptAll) NotifyMessageReceived(*message.Exchange) {}

// IsValid accepts every target.
func (AcceptAll) IsValid(*url.URL) bool { return true }

// ScopeValidator only follows http(s) redirects whose host and path match
// one of its glob patterns, e.g. "example.com/**" or "*.example.com/api/**".
type ScopeValidator struct {
	patterns []string
	received atomic.Int64
}

// NewScopeValidator compiles the patterns. At least one is required.
func NewScopeValidator(patterns ...string) (*ScopeValidator, error) {
	if len(patterns) == 0 {
		return nil, fmt.Errorf("%w: no patterns", ErrBadPattern)
	}
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("%w: %q", ErrBadPattern, p)
		}
	}
	return &ScopeValidator{patterns: append([]string(nil), patterns...)}, nil
}

// NotifyMessageReceived counts the exchanges seen.
func (v *ScopeValidator) NotifyMessageReceived(*message.Exchange) {
	v.received.Add(1)
}

// Received returns how many exchanges the validator was notified of.
func (v *ScopeValidator) Received() int64 { return v.received.Load() }

// IsValid matches the target's "host/path" against the patterns.
func (v *ScopeValidator) IsValid(target *url.URL) bool {
	if target == nil {
		return false
	}
	scheme := strings.ToLower(target.Scheme)
	if scheme != "http" && scheme != "https" {
		return false
	}
	path := target.EscapedPath()
	if path == "" {
		path = "/"
	}
	subject := strings.ToLower(target.Hostname()) + path
	for _, p := range v.patterns {
		if ok, err := doublestar.Match(p, subject); err == nil && ok {
			return true
		}
	}
	return false
}
