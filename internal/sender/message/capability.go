package message

import (
	"context"
	"net/http"
	"net/url"
)

// User is the per-target identity a request may be sent as. Implementations
// may be shared by concurrent sends and must synchronise themselves.
type User interface {
	// IsAuthenticated judges, from the exchange's response, whether the
	// request was served to an authenticated session.
	IsAuthenticated(ex *Exchange) bool
	// ReconcileSession refreshes session material only. Used while polling
	// an authentication flow.
	ReconcileSession(ctx context.Context, ex *Exchange) error
	// ReconcileUser mutates the request to carry the user's credentials.
	ReconcileUser(ctx context.Context, ex *Exchange) error
	// QueueForcedAuthentication makes the user log in again before the next
	// ReconcileUser.
	QueueForcedAuthentication(ctx context.Context, ex *Exchange) error
}

// CookieHolder is implemented by users that keep their own cookie jar. The
// transport uses it instead of the sender's jars.
type CookieHolder interface {
	Cookies() http.CookieJar
}

// CredentialHolder is implemented by users that can supply an
// Authorization value for u. An empty value means none.
type CredentialHolder interface {
	Authorization(u *url.URL) string
}

// Sender is the handle listeners receive to issue further requests. A
// request sent with the context passed to a listener is not broadcast back
// to listeners.
type Sender interface {
	SendAndReceive(ctx context.Context, ex *Exchange) error
}
