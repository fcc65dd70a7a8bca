// Package transport puts exchanges on the wire with resty. It never follows
// redirects itself, retries I/O failures, rate limits, guards each target
// host with a circuit breaker and applies the cookie store a request asks for.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/httpsender/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/httpsender/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/httpsender/internal/sender"
	"github.com/GriffinCanCode/httpsender/internal/sender/body"
	"github.com/GriffinCanCode/httpsender/internal/sender/message"
)

// Errors returned by Send, wrapping the underlying transport error.
var (
	// ErrTimeout means no response arrived in time.
	ErrTimeout = errors.New("request timed out")
	// ErrUnknownHost means the target host name did not resolve.
	ErrUnknownHost = errors.New("unknown host")
)

// Options configure the HTTP transport.
type Options struct {
	// Timeout bounds the wait for response headers. The body is not
	// covered, so an event stream can stay open for as long as it runs.
	Timeout   time.Duration
	UserAgent string
	Proxy     string

	// RetryWaitMin and RetryWaitMax bound the backoff between I/O retries.
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	// RequestsPerSecond of zero disables rate limiting.
	RequestsPerSecond float64
	Burst             int

	// GlobalState enables the shared cookie jar. Requests asking for global
	// cookies are sent without any when it is off.
	GlobalState bool

	BreakerEnabled bool
	Breaker        resilience.Settings
}

// DefaultOptions returns the settings used when none are configured.
func DefaultOptions() Options {
	return Options{
		Timeout:        20 * time.Second,
		UserAgent:      "httpsender/1.0",
		RetryWaitMin:   100 * time.Millisecond,
		RetryWaitMax:   2 * time.Second,
		Burst:          1,
		BreakerEnabled: true,
		Breaker: resilience.Settings{
			Timeout: 30 * time.Second,
			ReadyToTrip: func(c resilience.Counts) bool {
				return c.ConsecutiveFailures >= 10
			},
		},
	}
}

// HTTP is a sender.Transport over resty.
type HTTP struct {
	client   *resty.Client
	limiter  *rate.Limiter
	breakers *resilience.Group
	global   http.CookieJar
	opts     Options

	logger  *zap.Logger
	metrics *monitoring.Metrics
}

var _ sender.Transport = (*HTTP)(nil)

// New creates the transport. logger and metrics may be nil.
func New(opts Options, logger *zap.Logger, metrics *monitoring.Metrics) (*HTTP, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("transport")

	global, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	// retryablehttp's pooled transport; compression stays off so bodies
	// arrive exactly as the server encoded them.
	pooled := retryablehttp.NewClient().HTTPClient.Transport
	if tr, ok := pooled.(*http.Transport); ok {
		tr.DisableCompression = true
		tr.ResponseHeaderTimeout = opts.Timeout
	}

	client := resty.New().
		SetTransport(pooled).
		SetCookieJar(nil).
		SetLogger(logger.Sugar()).
		SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}))
	if opts.UserAgent != "" {
		client.SetHeader("User-Agent", opts.UserAgent)
	}
	if opts.Proxy != "" {
		client.SetProxy(opts.Proxy)
	}

	t := &HTTP{
		client:  client,
		global:  global,
		opts:    opts,
		logger:  logger,
		metrics: metrics,
	}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	if opts.BreakerEnabled {
		settings := opts.Breaker
		settings.IsFailure = func(err error) bool {
			if errors.Is(err, ErrTimeout) {
				return true
			}
			return err != nil && !errors.Is(err, context.Canceled)
		}
		settings.OnStateChange = func(host string, from, to resilience.State) {
			t.logger.Warn("Circuit breaker state changed",
				zap.String("host", host),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
			t.metrics.IncBreakerTransition(to.String())
		}
		t.breakers = resilience.NewGroup(settings)
	}
	return t, nil
}

// BreakerStates reports the breaker of every host contacted so far.
func (t *HTTP) BreakerStates() map[string]resilience.State {
	if t.breakers == nil {
		return nil
	}
	return t.breakers.States()
}

// NewRound prepares the per-send state.
func (t *HTTP) NewRound(rc *message.RequestContext, cfg *sender.RequestConfig) sender.Round {
	return &round{t: t, rc: rc, timeout: cfg.ResponseTimeout()}
}

func (t *HTTP) cookieJar(rc *message.RequestContext, user message.User) http.CookieJar {
	if holder, ok := user.(message.CookieHolder); ok {
		if jar := holder.Cookies(); jar != nil {
			return jar
		}
	}
	switch rc.CookieUsage() {
	case message.CookiesGlobal:
		if t.opts.GlobalState {
			return t.global
		}
		return nil
	case message.CookiesLocal:
		return rc.LocalCookies
	default:
		return nil
	}
}

// round sends the hops of one logical send.
type round struct {
	t       *HTTP
	rc      *message.RequestContext
	timeout time.Duration
}

// Send puts one hop on the wire. The response timeout covers the wait for
// headers and the read of a buffered body. An event stream is handed over
// live, so its context outlives Send and only the caller's ctx ends it.
func (r *round) Send(ctx context.Context, ex *message.Exchange, sink body.Sink) error {
	ctx, cancel := context.WithCancelCause(ctx)
	var timer *time.Timer
	if r.timeout > 0 {
		timer = time.AfterFunc(r.timeout, func() {
			cancel(fmt.Errorf("%w: no response within %s", ErrTimeout, r.timeout))
		})
	}
	live := false
	defer func() {
		if timer != nil {
			timer.Stop()
		}
		if !live {
			cancel(nil)
		}
	}()

	if r.t.limiter != nil {
		if err := r.t.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}

	user := r.rc.UserFor(ex)
	jar := r.t.cookieJar(r.rc, user)
	ex.ResetResponse()

	resp, err := r.execute(ctx, ex, jar)
	if err != nil {
		return err
	}
	if value, ok := r.reauthentication(ex, user, resp.StatusCode); ok {
		r.t.logger.Debug("Replacing user defined Authorization header", zap.Object("exchange", ex))
		discard(resp.Body)
		ex.Request.Header.Set("Authorization", value)
		if resp, err = r.execute(ctx, ex, jar); err != nil {
			return err
		}
	}
	if timer != nil && eventStream(resp) {
		timer.Stop()
	}
	if err := r.consume(ex, resp, jar, sink); err != nil {
		return classify(ctx, err)
	}
	live = ex.Response.Stream != nil
	return nil
}

// execute runs the request through the host's breaker, retrying I/O errors.
func (r *round) execute(ctx context.Context, ex *message.Exchange, jar http.CookieJar) (*http.Response, error) {
	var resp *http.Response
	attempt := func() error {
		var err error
		resp, err = r.executeWithRetries(ctx, ex, jar)
		return err
	}
	if r.t.breakers == nil {
		return resp, attempt()
	}
	err := r.t.breakers.For(ex.Request.URL.Host).Execute(attempt)
	return resp, err
}

func (r *round) executeWithRetries(ctx context.Context, ex *message.Exchange, jar http.CookieJar) (*http.Response, error) {
	retries := r.rc.MaxRetriesOnIOError()
	for attempt := 0; ; attempt++ {
		ex.TimeSent = time.Now()
		resp, err := r.newRequest(ctx, ex, jar).Execute(ex.Request.Method, ex.Request.URL.String())
		if err == nil {
			return resp.RawResponse, nil
		}
		if resp != nil && resp.RawResponse != nil {
			discard(resp.RawResponse.Body)
		}

		if attempt >= retries {
			return nil, classify(ctx, err)
		}
		if retry, _ := retryablehttp.DefaultRetryPolicy(ctx, nil, err); !retry {
			return nil, classify(ctx, err)
		}
		wait := retryablehttp.DefaultBackoff(r.t.opts.RetryWaitMin, r.t.opts.RetryWaitMax, attempt, nil)
		r.t.logger.Debug("Retrying after I/O error",
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
			zap.Object("exchange", ex),
			zap.Error(err))
		r.t.metrics.IncTransportRetry()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, classify(ctx, ctx.Err())
		case <-timer.C:
		}
	}
}

func (r *round) newRequest(ctx context.Context, ex *message.Exchange, jar http.CookieJar) *resty.Request {
	req := r.t.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true)
	req.Header = ex.Request.Header.Clone()
	if jar != nil {
		req.SetCookies(jar.Cookies(ex.Request.URL))
	}
	if len(ex.Request.Body) > 0 {
		req.SetBody(ex.Request.Body)
	}
	return req
}

// reauthentication returns the user's Authorization value when a caller-set
// header was refused and the context allows replacing it.
func (r *round) reauthentication(ex *message.Exchange, user message.User, status int) (string, bool) {
	if !r.rc.RemoveUserDefinedAuthHeaders || user == nil {
		return "", false
	}
	if status != http.StatusUnauthorized && status != http.StatusForbidden {
		return "", false
	}
	current := ex.Request.Header.Get("Authorization")
	if current == "" {
		return "", false
	}
	holder, ok := user.(message.CredentialHolder)
	if !ok {
		return "", false
	}
	value := holder.Authorization(ex.Request.URL)
	if value == "" || value == current {
		return "", false
	}
	return value, true
}

func (r *round) consume(ex *message.Exchange, resp *http.Response, jar http.CookieJar, sink body.Sink) error {
	ex.Response = &message.Response{
		Proto:      resp.Proto,
		StatusCode: resp.StatusCode,
		Reason:     reason(resp),
		Header:     resp.Header.Clone(),
	}
	ex.FromTarget = true
	if jar != nil {
		if cookies := resp.Cookies(); len(cookies) > 0 {
			jar.SetCookies(ex.Request.URL, cookies)
		}
	}

	err := sink.Consume(ex, resp.Body)
	ex.Elapsed = time.Since(ex.TimeSent)
	if err != nil {
		return fmt.Errorf("consume response body: %w", err)
	}

	// The chunked framing is gone once buffered; report the real length.
	if chunked(resp) && ex.Response.Stream == nil && ex.Response.File == "" {
		ex.Response.Header.Set("Content-Length", strconv.Itoa(len(ex.Response.Body)))
	}
	return nil
}

func reason(resp *http.Response) string {
	return strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
}

func eventStream(resp *http.Response) bool {
	ct := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Type")))
	return strings.HasPrefix(ct, "text/event-stream")
}

func chunked(resp *http.Response) bool {
	for _, te := range resp.TransferEncoding {
		if strings.EqualFold(te, "chunked") {
			return true
		}
	}
	return false
}

func discard(rc io.ReadCloser) {
	if rc == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 64<<10))
	_ = rc.Close()
}

// classify tags timeouts and name resolution failures. A request cut short
// by the response timeout carries that cause on ctx.
func classify(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); errors.Is(cause, ErrTimeout) && !errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%w: %w", cause, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return fmt.Errorf("%w: %w", ErrUnknownHost, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}
