package message

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/GriffinCanCode/httpsender/internal/shared/id"
)

// Errors returned when building an exchange.
var (
	ErrMissingURL    = errors.New("request has no URL")
	ErrMissingMethod = errors.New("request has no method")
)

var imagePath = regexp.MustCompile(`(?i)\.(bmp|ico|jpg|jpeg|gif|tiff|tif|png)$`)

// Request is the outbound half of an exchange.
type Request struct {
	Method string
	URL    *url.URL
	Proto  string
	Header http.Header
	Body   []byte
}

// IsImage reports whether the request path looks like an image resource.
func (r *Request) IsImage() bool {
	if r == nil || r.URL == nil {
		return false
	}
	return imagePath.MatchString(r.URL.Path)
}

// SetBody replaces the body and keeps Content-Length consistent with it.
func (r *Request) SetBody(body []byte) {
	r.Body = body
	if len(body) == 0 {
		r.Header.Del("Content-Length")
		return
	}
	r.Header.Set("Content-Length", strconv.Itoa(len(body)))
}

func (r *Request) clone() *Request {
	if r == nil {
		return nil
	}
	c := *r
	if r.URL != nil {
		u := *r.URL
		if r.URL.User != nil {
			uu := *r.URL.User
			u.User = &uu
		}
		c.URL = &u
	}
	c.Header = r.Header.Clone()
	if c.Header == nil {
		c.Header = make(http.Header)
	}
	c.Body = bytes.Clone(r.Body)
	return &c
}

// Response is the inbound half of an exchange.
type Response struct {
	Proto      string
	StatusCode int
	Reason     string
	Header     http.Header
	Body       []byte

	// Stream is the live body of an event stream. Body stays empty and the
	// reader of the exchange owns closing it.
	Stream io.ReadCloser

	// File is the path the body was written to, if it went to disk.
	File string

	charset string
}

// NewResponse creates an empty response with the given status.
func NewResponse(status int) *Response {
	return &Response{
		Proto:      "HTTP/1.1",
		StatusCode: status,
		Reason:     http.StatusText(status),
		Header:     make(http.Header),
	}
}

// ContentLength returns the declared Content-Length, or -1.
func (r *Response) ContentLength() int64 {
	if r == nil {
		return -1
	}
	n, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get("Content-Length")), 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
}

// IsEventStream reports whether the response declares text/event-stream.
func (r *Response) IsEventStream() bool {
	if r == nil {
		return false
	}
	ct := strings.ToLower(r.Header.Get("Content-Type"))
	return strings.HasPrefix(strings.TrimSpace(ct), "text/event-stream")
}

// SetCharset records the charset chosen for the body.
func (r *Response) SetCharset(charset string) { r.charset = charset }

func (r *Response) clone() *Response {
	if r == nil {
		return nil
	}
	c := *r
	c.Header = r.Header.Clone()
	if c.Header == nil {
		c.Header = make(http.Header)
	}
	c.Body = bytes.Clone(r.Body)
	c.Stream = nil
	return &c
}

// Exchange is an HTTP request together with its response and metadata.
type Exchange struct {
	ID       id.ExchangeID
	Request  *Request
	Response *Response

	// TimeSent is when the last attempt went out; Elapsed is how long it took
	// until the response body was consumed.
	TimeSent time.Time
	Elapsed  time.Duration

	// FromTarget is set when the response came from the requested server
	// rather than being synthesised locally.
	FromTarget bool

	mu   sync.RWMutex
	user User
}

// New builds an exchange for method and rawURL. A non-empty body also sets
// Content-Length.
func New(method, rawURL string, body []byte) (*Exchange, error) {
	if method == "" {
		return nil, ErrMissingMethod
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse request URL: %w", err)
	}
	ex := NewFromRequest(&Request{
		Method: strings.ToUpper(method),
		URL:    u,
		Proto:  "HTTP/1.1",
		Header: make(http.Header),
	})
	ex.Request.SetBody(body)
	return ex, nil
}

// NewFromRequest wraps an existing request in an exchange with an empty response.
func NewFromRequest(req *Request) *Exchange {
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	return &Exchange{
		ID:       id.NewExchangeID(),
		Request:  req,
		Response: &Response{Header: make(http.Header)},
	}
}

// Validate checks the exchange carries enough to be sent.
func (e *Exchange) Validate() error {
	if e.Request == nil || e.Request.URL == nil {
		return ErrMissingURL
	}
	if e.Request.Method == "" {
		return ErrMissingMethod
	}
	return nil
}

// RequestingUser returns the user the exchange is bound to, if any.
func (e *Exchange) RequestingUser() User {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.user
}

// SetRequestingUser binds the exchange to u.
func (e *Exchange) SetRequestingUser(u User) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.user = u
}

// IsResponseEmpty reports whether no response has been received yet.
func (e *Exchange) IsResponseEmpty() bool {
	return e.Response == nil || e.Response.StatusCode == 0
}

// ResetResponse clears any previous response before a new send.
func (e *Exchange) ResetResponse() {
	e.Response = &Response{Header: make(http.Header)}
	e.FromTarget = false
}

// CloneRequest copies the exchange with a fresh ID and an empty response.
func (e *Exchange) CloneRequest() *Exchange {
	c := &Exchange{
		ID:       id.NewExchangeID(),
		Request:  e.Request.clone(),
		Response: &Response{Header: make(http.Header)},
	}
	c.user = e.RequestingUser()
	return c
}

// CloneAll deep copies request and response. Timings and the live event
// stream are not carried over.
func (e *Exchange) CloneAll() *Exchange {
	c := e.CloneRequest()
	if e.Response != nil {
		c.Response = e.Response.clone()
	}
	c.FromTarget = e.FromTarget
	return c
}

// CopyResponseFrom makes other's response the response of e.
func (e *Exchange) CopyResponseFrom(other *Exchange) {
	e.Response = other.Response
	e.FromTarget = other.FromTarget
}

// MarshalLogObject renders the exchange for zap.
func (e *Exchange) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("id", e.ID.String())
	if e.Request != nil {
		enc.AddString("method", e.Request.Method)
		if e.Request.URL != nil {
			enc.AddString("uri", e.Request.URL.String())
		}
	}
	if !e.IsResponseEmpty() {
		enc.AddInt("status", e.Response.StatusCode)
		enc.AddInt("bodyLength", len(e.Response.Body))
	}
	if !e.TimeSent.IsZero() {
		enc.AddDuration("elapsed", e.Elapsed)
	}
	return nil
}
