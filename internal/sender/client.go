package sender

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"sync"

	"golang.org/x/net/publicsuffix"

	"github.com/GriffinCanCode/httpsender/internal/sender/message"
)

// Settings are the defaults a Client stamps on every RequestContext.
type Settings struct {
	FollowRedirects              bool
	MaxRedirects                 int
	MaxRetriesOnIOError          int
	UseCookies                   bool
	UseGlobalState               bool
	RemoveUserDefinedAuthHeaders bool
}

// DefaultSettings returns the stock limits with cookies disabled.
func DefaultSettings() Settings {
	return Settings{
		MaxRedirects:        message.DefaultMaxRedirects,
		MaxRetriesOnIOError: message.DefaultMaxRetries,
	}
}

// Client is the sender handle of one component: it sends every request with
// the same initiator and settings, and keeps a cookie jar of its own for
// when cookies are enabled without global state.
type Client struct {
	dispatcher   *Dispatcher
	initiator    message.Initiator
	localCookies http.CookieJar

	mu       sync.RWMutex
	settings Settings
	user     message.User
}

var _ message.Sender = (*Client)(nil)

// NewClient creates a client dispatching through d.
func NewClient(d *Dispatcher, initiator message.Initiator, s Settings) (*Client, error) {
	if s.MaxRedirects < 0 || s.MaxRetriesOnIOError < 0 {
		return nil, message.ErrNegativeCount
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	return &Client{
		dispatcher:   d,
		initiator:    initiator,
		localCookies: jar,
		settings:     s,
	}, nil
}

// Initiator returns the initiator stamped on requests.
func (c *Client) Initiator() message.Initiator { return c.initiator }

// LocalCookies returns the client's own jar.
func (c *Client) LocalCookies() http.CookieJar { return c.localCookies }

// Settings returns the current settings.
func (c *Client) Settings() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

// SetFollowRedirects sets whether sends without a RequestConfig follow redirects.
func (c *Client) SetFollowRedirects(follow bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings.FollowRedirects = follow
}

// SetMaxRedirects rejects negative values.
func (c *Client) SetMaxRedirects(n int) error {
	if n < 0 {
		return message.ErrNegativeCount
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings.MaxRedirects = n
	return nil
}

// SetMaxRetriesOnIOError rejects negative values.
func (c *Client) SetMaxRetriesOnIOError(n int) error {
	if n < 0 {
		return message.ErrNegativeCount
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings.MaxRetriesOnIOError = n
	return nil
}

// SetUseCookies enables cookie handling.
func (c *Client) SetUseCookies(use bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings.UseCookies = use
}

// SetUseGlobalState makes cookies come from the transport's shared jar.
func (c *Client) SetUseGlobalState(use bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings.UseGlobalState = use
}

// SetRemoveUserDefinedAuthHeaders lets the transport drop a caller-set
// Authorization header in favour of the user's credentials on 401/403.
func (c *Client) SetRemoveUserDefinedAuthHeaders(remove bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings.RemoveUserDefinedAuthHeaders = remove
}

// SetUser binds every request to u. nil unbinds.
func (c *Client) SetUser(u message.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = u
}

// NewRequestContext builds the context for one send from the current settings.
func (c *Client) NewRequestContext() *message.RequestContext {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rc := message.NewRequestContext(c.initiator, c)
	rc.FollowRedirects = c.settings.FollowRedirects
	rc.UseCookies = c.settings.UseCookies
	rc.UseGlobalState = c.settings.UseGlobalState
	rc.RemoveUserDefinedAuthHeaders = c.settings.RemoveUserDefinedAuthHeaders
	rc.User = c.user
	rc.LocalCookies = c.localCookies
	// Settings were validated when set.
	_ = rc.SetMaxRedirects(c.settings.MaxRedirects)
	_ = rc.SetMaxRetriesOnIOError(c.settings.MaxRetriesOnIOError)
	return rc
}

// SendAndReceive sends ex, following redirects if the client is set to.
func (c *Client) SendAndReceive(ctx context.Context, ex *message.Exchange) error {
	return c.dispatcher.Dispatch(ctx, c.NewRequestContext(), nil, ex, "")
}

// SendAndReceiveWith sends ex using cfg.
func (c *Client) SendAndReceiveWith(ctx context.Context, ex *message.Exchange, cfg *RequestConfig) error {
	return c.dispatcher.Dispatch(ctx, c.NewRequestContext(), cfg, ex, "")
}

// Download sends ex and writes the final response body to path.
func (c *Client) Download(ctx context.Context, ex *message.Exchange, cfg *RequestConfig, path string) error {
	return c.dispatcher.Dispatch(ctx, c.NewRequestContext(), cfg, ex, path)
}
