// Package redirect decides when a response is a redirect to follow, how the
// follow-up request changes, and where it goes.
package redirect

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/GriffinCanCode/httpsender/internal/sender/message"
)

// InvalidLocationError reports a Location header that could not be parsed
// even leniently.
type InvalidLocationError struct {
	Raw string
	Err error
}

// Error quotes the raw Location value.
func (e *InvalidLocationError) Error() string {
	return fmt.Sprintf("invalid redirect location %q: %v", e.Raw, e.Err)
}

// Unwrap returns the parse failure.
func (e *InvalidLocationError) Unwrap() error { return e.Err }

// IsRedirectNeeded reports whether status is one of the followed redirect codes.
func IsRedirectNeeded(status int) bool {
	switch status {
	case http.StatusMovedPermanently,
		http.StatusFound,
		http.StatusSeeOther,
		http.StatusTemporaryRedirect,
		http.StatusPermanentRedirect:
		return true
	}
	return false
}

// IsRequestRewriteNeeded reports whether following status turns the request
// into a body-less GET.
func IsRequestRewriteNeeded(status int, method string) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound:
		return strings.EqualFold(method, http.MethodPost)
	case http.StatusSeeOther:
		return !strings.EqualFold(method, http.MethodGet) && !strings.EqualFold(method, http.MethodHead)
	}
	return false
}

// RewriteToGet turns the request of ex into a GET without body.
func RewriteToGet(ex *message.Exchange) {
	ex.Request.Method = http.MethodGet
	ex.Request.Header.Del("Content-Type")
	ex.Request.Header.Del("Content-Length")
	ex.Request.Body = nil
}

// LocationOf resolves the Location of the response of ex against its request URL.
func LocationOf(ex *message.Exchange) (*url.URL, error) {
	if ex.Response == nil {
		return nil, nil
	}
	return ResolveLocation(ex.Request.URL, ex.Response.Header)
}

// ResolveLocation resolves the Location header against base. A missing or
// blank header yields nil, nil. A reference that is not a valid RFC 3986
// reference is retried with offending characters percent-encoded before an
// *InvalidLocationError is returned.
func ResolveLocation(base *url.URL, header http.Header) (*url.URL, error) {
	raw := strings.TrimSpace(header.Get("Location"))
	if raw == "" {
		return nil, nil
	}

	ref, err := parseStrict(raw)
	if err != nil {
		lenient, lerr := url.Parse(escapeLenient(raw))
		if lerr != nil {
			return nil, &InvalidLocationError{Raw: raw, Err: lerr}
		}
		ref = lenient
	}

	if base == nil {
		return ref, nil
	}
	return base.ResolveReference(ref), nil
}

func parseStrict(raw string) (*url.URL, error) {
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c == '%' {
			if i+2 >= len(raw) || !isHex(raw[i+1]) || !isHex(raw[i+2]) {
				return nil, fmt.Errorf("malformed escape at offset %d", i)
			}
			i += 2
			continue
		}
		if !isURIChar(c) {
			return nil, fmt.Errorf("illegal character %q at offset %d", c, i)
		}
	}
	return url.Parse(raw)
}

// escapeLenient percent-encodes every byte a URI reference may not carry,
// including a '%' that does not start a valid escape.
func escapeLenient(raw string) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c == '%' && i+2 < len(raw) && isHex(raw[i+1]) && isHex(raw[i+2]):
			sb.WriteByte(c)
		case c != '%' && isURIChar(c):
			sb.WriteByte(c)
		default:
			fmt.Fprintf(&sb, "%%%02X", c)
		}
	}
	return sb.String()
}

func isURIChar(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("-._~:/?#[]@!$&'()*+,;=", c) >= 0
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}
