package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/httpsender/internal/infrastructure/config"
	"github.com/GriffinCanCode/httpsender/internal/infrastructure/logging"
	"github.com/GriffinCanCode/httpsender/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/httpsender/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/httpsender/internal/sender"
	"github.com/GriffinCanCode/httpsender/internal/sender/auth"
	"github.com/GriffinCanCode/httpsender/internal/sender/listener"
	"github.com/GriffinCanCode/httpsender/internal/sender/message"
	"github.com/GriffinCanCode/httpsender/internal/sender/redirect"
	"github.com/GriffinCanCode/httpsender/internal/sender/transport"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "fetch: %v\n", err)
		os.Exit(1)
	}
}

// headers collects repeated -H flags.
type headers []string

// String implements flag.Value.
func (h *headers) String() string { return strings.Join(*h, ", ") }

// Set appends one header line.
func (h *headers) Set(v string) error { *h = append(*h, v); return nil }

type options struct {
	method       string
	data         string
	headers      headers
	scope        headers
	output       string
	configFile   string
	initiator    string
	follow       bool
	maxRedirects int
	maxRetries   int
	timeout      time.Duration
	cookies      bool
	user         string
	password     string
	bearer       string
	loggedIn     string
	loginURL     string
	dev          bool
	verbose      bool
	metrics      bool
}

func parseFlags(args []string, stderr io.Writer) (*options, string, error) {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	fs.SetOutput(stderr)

	o := &options{}
	fs.StringVar(&o.method, "X", "", "Request method (default GET, or POST with -d)")
	fs.StringVar(&o.data, "d", "", "Request body")
	fs.Var(&o.headers, "H", "Request header 'Name: value' (repeatable)")
	fs.Var(&o.scope, "scope", "Glob of host/path redirects may go to (repeatable)")
	fs.StringVar(&o.output, "o", "", "Write the final response body to this file")
	fs.StringVar(&o.configFile, "config", "", "YAML configuration file")
	fs.StringVar(&o.initiator, "initiator", "manual", "Initiator recorded on requests")
	fs.BoolVar(&o.follow, "L", false, "Follow redirects")
	fs.IntVar(&o.maxRedirects, "max-redirs", -1, "Maximum redirects to follow")
	fs.IntVar(&o.maxRetries, "retries", -1, "Maximum retries on I/O errors")
	fs.DurationVar(&o.timeout, "timeout", 0, "Per hop response timeout")
	fs.BoolVar(&o.cookies, "cookies", false, "Keep cookies between hops")
	fs.StringVar(&o.user, "user", "", "Basic auth user name")
	fs.StringVar(&o.password, "pass", "", "Basic auth password")
	fs.StringVar(&o.bearer, "bearer", "", "Bearer token")
	fs.StringVar(&o.loggedIn, "logged-in", "", "Regex matching authenticated responses")
	fs.StringVar(&o.loginURL, "login", "", "URL requested to re-establish the session")
	fs.BoolVar(&o.dev, "dev", false, "Development logging")
	fs.BoolVar(&o.verbose, "v", false, "Log every hop")
	fs.BoolVar(&o.metrics, "metrics", false, "Include counters in the summary")

	if err := fs.Parse(args); err != nil {
		return nil, "", err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return nil, "", errors.New("exactly one URL is required")
	}
	return o, fs.Arg(0), nil
}

func loadConfig(o *options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configFile != "" {
		cfg, err = config.LoadFile(o.configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if o.follow {
		cfg.Sender.FollowRedirects = true
	}
	if o.maxRedirects >= 0 {
		cfg.Sender.MaxRedirects = o.maxRedirects
	}
	if o.maxRetries >= 0 {
		cfg.Sender.MaxRetries = o.maxRetries
	}
	if o.timeout > 0 {
		cfg.Sender.ResponseTimeout = o.timeout
	}
	if o.cookies {
		cfg.Sender.UseCookies = true
	}
	if o.dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}
	return cfg, cfg.Validate()
}

func transportOptions(cfg *config.Config) transport.Options {
	opts := transport.DefaultOptions()
	opts.Timeout = cfg.Transport.Timeout
	opts.UserAgent = cfg.Transport.UserAgent
	opts.Proxy = cfg.Transport.Proxy
	opts.RetryWaitMin = cfg.Transport.RetryWaitMin
	opts.RetryWaitMax = cfg.Transport.RetryWaitMax
	opts.GlobalState = cfg.Transport.GlobalState
	if cfg.RateLimit.Enabled {
		opts.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		opts.Burst = cfg.RateLimit.Burst
	}
	opts.BreakerEnabled = cfg.Breaker.Enabled
	threshold := cfg.Breaker.FailureThreshold
	opts.Breaker = resilience.Settings{
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
	}
	return opts
}

func senderSettings(cfg *config.Config) sender.Settings {
	return sender.Settings{
		FollowRedirects:              cfg.Sender.FollowRedirects,
		MaxRedirects:                 cfg.Sender.MaxRedirects,
		MaxRetriesOnIOError:          cfg.Sender.MaxRetries,
		UseCookies:                   cfg.Sender.UseCookies,
		UseGlobalState:               cfg.Sender.UseGlobalState,
		RemoveUserDefinedAuthHeaders: cfg.Sender.RemoveUserDefinedAuthHeaders,
	}
}

func buildRequest(o *options, rawURL string) (*message.Exchange, error) {
	method := o.method
	switch {
	case method != "":
	case o.data != "":
		method = http.MethodPost
	default:
		method = http.MethodGet
	}

	var body []byte
	if o.data != "" {
		body = []byte(o.data)
	}
	ex, err := message.New(method, rawURL, body)
	if err != nil {
		return nil, err
	}
	for _, h := range o.headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("malformed header %q", h)
		}
		ex.Request.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	if o.data != "" && ex.Request.Header.Get("Content-Type") == "" {
		ex.Request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	return ex, nil
}

// buildUser returns nil when no credentials or session handling was asked for.
func buildUser(o *options, d *sender.Dispatcher, settings sender.Settings) (*auth.SessionUser, error) {
	var opts []auth.Option
	switch {
	case o.bearer != "":
		opts = append(opts, auth.WithCredentials(auth.BearerToken(o.bearer)))
	case o.user != "":
		opts = append(opts, auth.WithCredentials(auth.BasicAuth(o.user, o.password)))
	}
	if o.loggedIn != "" {
		opts = append(opts, auth.WithLoggedInIndicator(o.loggedIn))
	}
	if o.loginURL != "" {
		login, err := sender.NewClient(d, message.InitiatorAuthentication, settings)
		if err != nil {
			return nil, err
		}
		loginURL := o.loginURL
		opts = append(opts, auth.WithLogin(func(ctx context.Context, u *auth.SessionUser) error {
			ex, err := message.New(http.MethodGet, loginURL, nil)
			if err != nil {
				return err
			}
			ex.SetRequestingUser(u)
			return login.SendAndReceiveWith(ctx, ex, sender.FollowRedirects)
		}))
	}
	if len(opts) == 0 {
		return nil, nil
	}
	return auth.NewSessionUser("cli", opts...)
}

type summary struct {
	ID       string             `json:"id"`
	Method   string             `json:"method"`
	URL      string             `json:"url"`
	Status   int                `json:"status"`
	Reason   string             `json:"reason,omitempty"`
	Headers  http.Header        `json:"headers,omitempty"`
	Body     string             `json:"body,omitempty"`
	File     string             `json:"file,omitempty"`
	Type     string             `json:"content_type,omitempty"`
	Charset  string             `json:"charset,omitempty"`
	Elapsed  string             `json:"elapsed"`
	Hops     []listener.Hop     `json:"hops,omitempty"`
	Breakers map[string]string  `json:"breakers,omitempty"`
	Metrics  map[string]float64 `json:"metrics,omitempty"`
	Logins   int                `json:"logins,omitempty"`
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	o, rawURL, err := parseFlags(args, os.Stderr)
	if err != nil {
		return err
	}
	initiator, ok := message.ParseInitiator(o.initiator)
	if !ok {
		return fmt.Errorf("unknown initiator %q", o.initiator)
	}
	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}

	logger := logging.NewOrNop(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	defer func() { _ = logger.Sync() }()

	registry := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(registry)

	tr, err := transport.New(transportOptions(cfg), logger, metrics)
	if err != nil {
		return fmt.Errorf("create transport: %w", err)
	}
	d := sender.New(tr,
		sender.WithLogger(logger),
		sender.WithMetrics(metrics),
		sender.WithChunkSize(cfg.Sender.ChunkSize))

	recorder := listener.NewRecorder(100)
	if err := d.AddListener(recorder); err != nil {
		return err
	}
	if o.verbose {
		if err := d.AddListener(listener.NewLogger(0, logger)); err != nil {
			return err
		}
	}

	settings := senderSettings(cfg)
	client, err := sender.NewClient(d, initiator, settings)
	if err != nil {
		return err
	}
	user, err := buildUser(o, d, settings)
	if err != nil {
		return err
	}
	if user != nil {
		client.SetUser(user)
	}

	var validator redirect.Validator
	if len(o.scope) > 0 {
		if validator, err = redirect.NewScopeValidator(o.scope...); err != nil {
			return err
		}
	}
	reqCfg := sender.NewRequestConfig(
		sender.WithFollowRedirects(cfg.Sender.FollowRedirects),
		sender.WithRedirectValidator(validator),
		sender.WithResponseTimeout(cfg.Sender.ResponseTimeout))

	ex, err := buildRequest(o, rawURL)
	if err != nil {
		return err
	}

	logger.Debug("Starting fetch", zap.Object("exchange", ex), zap.Stringer("initiator", initiator))
	if o.output != "" {
		err = client.Download(ctx, ex, reqCfg, o.output)
	} else {
		err = client.SendAndReceiveWith(ctx, ex, reqCfg)
	}
	if err != nil {
		return err
	}
	if ex.Response.Stream != nil {
		defer ex.Response.Stream.Close()
	}

	out := summary{
		ID:      ex.ID.String(),
		Method:  ex.Request.Method,
		URL:     ex.Request.URL.String(),
		Status:  ex.Response.StatusCode,
		Reason:  ex.Response.Reason,
		Headers: ex.Response.Header,
		File:    ex.Response.File,
		Type:    ex.Response.ContentType(),
		Elapsed: ex.Elapsed.String(),
		Hops:    recorder.Hops(),
	}
	if ex.Response.File == "" {
		body, err := ex.Response.DecodedBody()
		if err != nil {
			body = ex.Response.Body
		}
		out.Body = string(body)
		out.Charset = ex.Response.Charset()
	}
	if states := tr.BreakerStates(); len(states) > 0 {
		out.Breakers = make(map[string]string, len(states))
		for host, state := range states {
			out.Breakers[host] = state.String()
		}
	}
	if user != nil {
		out.Logins = user.Logins()
	}
	if o.metrics {
		if out.Metrics, err = counters(registry); err != nil {
			return err
		}
	}

	data, err := sonic.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	_, err = fmt.Fprintln(stdout, string(data))
	return err
}

// counters flattens every counter in reg to name{labels} -> value.
func counters(reg prometheus.Gatherer) (map[string]float64, error) {
	families, err := reg.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}
	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if m.GetCounter() == nil {
				continue
			}
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			key := mf.GetName()
			if len(labels) > 0 {
				key += "{" + strings.Join(labels, ",") + "}"
			}
			out[key] = m.GetCounter().GetValue()
		}
	}
	return out, nil
}
