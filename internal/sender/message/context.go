package message

import (
	"errors"
	"net/http"
)

// Limits applied by NewRequestContext and to a zero RequestContext.
const (
	DefaultMaxRedirects = 100
	DefaultMaxRetries   = 3
)

// ErrNegativeCount is returned when a redirect or retry limit is set below zero.
var ErrNegativeCount = errors.New("value must be zero or greater")

// CookieUsage says which cookie store a request reads and updates.
type CookieUsage int

// Cookie stores.
const (
	CookiesIgnore CookieUsage = iota
	CookiesLocal
	CookiesGlobal
)

// String returns the store name.
func (c CookieUsage) String() string {
	switch c {
	case CookiesLocal:
		return "local"
	case CookiesGlobal:
		return "global"
	default:
		return "ignore"
	}
}

// RequestContext carries per-send state. One is created for every logical
// send and is not shared between sends. A zero RequestContext uses the
// default redirect and retry limits until they are set.
type RequestContext struct {
	Initiator Initiator
	Sender    Sender

	FollowRedirects              bool
	UseCookies                   bool
	UseGlobalState               bool
	RemoveUserDefinedAuthHeaders bool

	// User is the identity requests are sent as unless the exchange is bound
	// to one of its own.
	User User

	// LocalCookies is the sender's own jar, used when cookies are enabled
	// without global state.
	LocalCookies http.CookieJar

	maxRedirects     int
	maxRetries       int
	redirectsLimited bool
	retriesLimited   bool
}

// NewRequestContext creates a context with the default limits.
func NewRequestContext(initiator Initiator, sender Sender) *RequestContext {
	return &RequestContext{
		Initiator: initiator,
		Sender:    sender,
	}
}

// MaxRedirects is the largest number of redirect hops followed.
func (c *RequestContext) MaxRedirects() int {
	if !c.redirectsLimited {
		return DefaultMaxRedirects
	}
	return c.maxRedirects
}

// SetMaxRedirects rejects negative values.
func (c *RequestContext) SetMaxRedirects(n int) error {
	if n < 0 {
		return ErrNegativeCount
	}
	c.maxRedirects = n
	c.redirectsLimited = true
	return nil
}

// MaxRetriesOnIOError is how many times a send is retried after an I/O error.
func (c *RequestContext) MaxRetriesOnIOError() int {
	if !c.retriesLimited {
		return DefaultMaxRetries
	}
	return c.maxRetries
}

// SetMaxRetriesOnIOError rejects negative values.
func (c *RequestContext) SetMaxRetriesOnIOError(n int) error {
	if n < 0 {
		return ErrNegativeCount
	}
	c.maxRetries = n
	c.retriesLimited = true
	return nil
}

// UserFor returns the user ex should be sent as: the exchange's own binding
// wins over the context's.
func (c *RequestContext) UserFor(ex *Exchange) User {
	if ex != nil {
		if u := ex.RequestingUser(); u != nil {
			return u
		}
	}
	return c.User
}

// CookieUsage resolves the cookie flags into the store to use.
func (c *RequestContext) CookieUsage() CookieUsage {
	switch {
	case !c.UseCookies:
		return CookiesIgnore
	case c.UseGlobalState:
		return CookiesGlobal
	default:
		return CookiesLocal
	}
}
