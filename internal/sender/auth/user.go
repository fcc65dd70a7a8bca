package auth

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/net/publicsuffix"

	"github.com/GriffinCanCode/httpsender/internal/sender/message"
)

// Credentials is a header a user adds to every request it reconciles.
type Credentials struct {
	Header string
	Value  string
}

// BasicAuth returns RFC 7617 credentials.
func BasicAuth(username, password string) Credentials {
	token := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	return Credentials{Header: "Authorization", Value: "Basic " + token}
}

// BearerToken returns RFC 6750 credentials.
func BearerToken(token string) Credentials {
	return Credentials{Header: "Authorization", Value: "Bearer " + token}
}

// HeaderCredentials sends value in a custom header such as X-API-Key.
func HeaderCredentials(header, value string) Credentials {
	return Credentials{Header: http.CanonicalHeaderKey(header), Value: value}
}

func (c Credentials) empty() bool { return c.Header == "" || c.Value == "" }

// LoginFunc establishes a session for u, typically by sending a login
// request whose cookies land in u.Cookies().
type LoginFunc func(ctx context.Context, u *SessionUser) error

// Option configures a SessionUser.
type Option func(*SessionUser) error

// WithCredentials sets the header added by ReconcileUser.
func WithCredentials(c Credentials) Option {
	return func(u *SessionUser) error {
		u.credentials = c
		return nil
	}
}

// WithLoggedInIndicator marks responses matching pattern as authenticated.
func WithLoggedInIndicator(pattern string) Option {
	return func(u *SessionUser) error {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("logged in indicator: %w", err)
		}
		u.loggedIn = re
		return nil
	}
}

// WithLoggedOutIndicator marks responses matching pattern as unauthenticated.
func WithLoggedOutIndicator(pattern string) Option {
	return func(u *SessionUser) error {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("logged out indicator: %w", err)
		}
		u.loggedOut = re
		return nil
	}
}

// WithLogin sets the function run on forced authentication.
func WithLogin(fn LoginFunc) Option {
	return func(u *SessionUser) error {
		u.login = fn
		return nil
	}
}

// SessionUser is a User backed by a cookie jar and optional static
// credentials. It is safe for concurrent use; logins are serialised.
type SessionUser struct {
	name        string
	jar         http.CookieJar
	credentials Credentials
	loggedIn    *regexp.Regexp
	loggedOut   *regexp.Regexp
	login       LoginFunc

	loginMu sync.Mutex
	mu      sync.RWMutex
	logins  int
}

var (
	_ message.User             = (*SessionUser)(nil)
	_ message.CookieHolder     = (*SessionUser)(nil)
	_ message.CredentialHolder = (*SessionUser)(nil)
)

// NewSessionUser creates a user with an empty cookie jar.
func NewSessionUser(name string, opts ...Option) (*SessionUser, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	u := &SessionUser{name: name, jar: jar}
	for _, opt := range opts {
		if err := opt(u); err != nil {
			return nil, err
		}
	}
	return u, nil
}

// Name returns the user name.
func (u *SessionUser) Name() string { return u.name }

// Cookies returns the user's jar.
func (u *SessionUser) Cookies() http.CookieJar { return u.jar }

// Authorization returns the configured Authorization value, if any.
func (u *SessionUser) Authorization(*url.URL) string {
	if u.credentials.Header != "Authorization" {
		return ""
	}
	return u.credentials.Value
}

// Logins returns how many forced authentications ran.
func (u *SessionUser) Logins() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.logins
}

// IsAuthenticated checks the response against the indicators. Without
// indicators any status other than 401 and 403 counts as authenticated.
func (u *SessionUser) IsAuthenticated(ex *message.Exchange) bool {
	if ex.IsResponseEmpty() {
		return false
	}
	if u.loggedIn == nil && u.loggedOut == nil {
		status := ex.Response.StatusCode
		return status != http.StatusUnauthorized && status != http.StatusForbidden
	}

	text := responseText(ex.Response)
	if u.loggedIn != nil {
		return u.loggedIn.MatchString(text)
	}
	return !u.loggedOut.MatchString(text)
}

// ReconcileSession replaces stale values of cookies the request sends
// explicitly with the values held in the jar.
func (u *SessionUser) ReconcileSession(_ context.Context, ex *message.Exchange) error {
	header := ex.Request.Header.Get("Cookie")
	if header == "" {
		return nil
	}
	current := make(map[string]string)
	for _, c := range u.jar.Cookies(ex.Request.URL) {
		current[c.Name] = c.Value
	}
	if len(current) == 0 {
		return nil
	}

	sent := (&http.Request{Header: http.Header{"Cookie": {header}}}).Cookies()
	pairs := make([]string, 0, len(sent))
	for _, c := range sent {
		if v, ok := current[c.Name]; ok {
			c.Value = v
		}
		pairs = append(pairs, c.Name+"="+c.Value)
	}
	ex.Request.Header.Set("Cookie", strings.Join(pairs, "; "))
	return nil
}

// ReconcileUser reconciles the session and adds the user's credentials.
func (u *SessionUser) ReconcileUser(ctx context.Context, ex *message.Exchange) error {
	if err := u.ReconcileSession(ctx, ex); err != nil {
		return err
	}
	if !u.credentials.empty() {
		ex.Request.Header.Set(u.credentials.Header, u.credentials.Value)
	}
	return nil
}

// QueueForcedAuthentication runs the login function. Concurrent callers
// wait for the login in progress instead of starting their own.
func (u *SessionUser) QueueForcedAuthentication(ctx context.Context, _ *message.Exchange) error {
	u.mu.RLock()
	before := u.logins
	u.mu.RUnlock()

	u.loginMu.Lock()
	defer u.loginMu.Unlock()

	u.mu.RLock()
	done := u.logins != before
	u.mu.RUnlock()
	if done {
		return nil
	}

	if u.login != nil {
		if err := u.login(ctx, u); err != nil {
			return fmt.Errorf("login %s: %w", u.name, err)
		}
	}

	u.mu.Lock()
	u.logins++
	u.mu.Unlock()
	return nil
}

func responseText(r *message.Response) string {
	var sb strings.Builder
	sb.WriteString(r.Proto)
	sb.WriteByte(' ')
	sb.WriteString(r.Reason)
	sb.WriteString("\r\n")
	_ = r.Header.Write(&sb)
	sb.WriteString("\r\n")
	sb.Write(r.Body)
	return sb.String()
}
