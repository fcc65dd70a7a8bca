// Package sender dispatches HTTP requests: it attaches credentials, retries
// once after re-authenticating, follows redirects and keeps listeners
// informed of every hop.
package sender

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/httpsender/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/httpsender/internal/sender/auth"
	"github.com/GriffinCanCode/httpsender/internal/sender/body"
	"github.com/GriffinCanCode/httpsender/internal/sender/listener"
	"github.com/GriffinCanCode/httpsender/internal/sender/message"
	"github.com/GriffinCanCode/httpsender/internal/sender/redirect"
	"github.com/GriffinCanCode/httpsender/internal/shared/id"
)

// Dispatcher runs logical sends over a Transport. It is safe for concurrent
// use; per-send state lives in the RequestContext and the transport Round.
type Dispatcher struct {
	transport Transport
	listeners *listener.Registry
	gate      *auth.Gate
	finalize  Finalizer
	chunkSize int64

	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithListeners shares an existing registry.
func WithListeners(r *listener.Registry) Option {
	return func(d *Dispatcher) { d.listeners = r }
}

// WithFinalizer sets the hook run before the final response is broadcast.
func WithFinalizer(f Finalizer) Option {
	return func(d *Dispatcher) { d.finalize = f }
}

// WithChunkSize sets the write step used when bodies go to a file.
func WithChunkSize(n int64) Option {
	return func(d *Dispatcher) { d.chunkSize = n }
}

// New creates a dispatcher over t.
func New(t Transport, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		transport: t,
		chunkSize: body.DefaultChunkSize,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.Named("sender")
	if d.listeners == nil {
		d.listeners = listener.NewRegistry(d.logger, d.metrics)
	}
	d.gate = auth.NewGate(d.logger)
	return d
}

// Listeners returns the registry notified by this dispatcher.
func (d *Dispatcher) Listeners() *listener.Registry { return d.listeners }

// AddListener registers l.
func (d *Dispatcher) AddListener(l listener.Listener) error { return d.listeners.Add(l) }

// RemoveListener unregisters l.
func (d *Dispatcher) RemoveListener(l listener.Listener) error { return d.listeners.Remove(l) }

// Dispatch sends ex and leaves the final response on it. cfg nil means the
// context decides whether redirects are followed. A non-empty file sends
// the final body to that path instead of memory.
func (d *Dispatcher) Dispatch(ctx context.Context, rc *message.RequestContext, cfg *RequestConfig, ex *message.Exchange, file string) (err error) {
	switch {
	case ex == nil:
		return &Error{Kind: KindValidation, Err: ErrNilExchange}
	case rc == nil:
		return &Error{Kind: KindValidation, Err: ErrNilRequestContext}
	}
	if err := ex.Validate(); err != nil {
		return &Error{Kind: KindValidation, Err: err}
	}
	cfg = d.resolveConfig(rc, cfg)

	start := time.Now()
	defer func() {
		d.metrics.ObserveDispatch(rc.Initiator.String(), time.Since(start), err)
	}()

	log := d.logger.With(zap.String("dispatch", id.NewDispatchID().String()))
	s := &send{
		Dispatcher: d,
		rc:         rc,
		cfg:        cfg,
		round:      d.transport.NewRound(rc, cfg),
		sink:       d.sinkFor(cfg, file),
		log:        log,
	}
	return s.run(ctx, ex)
}

func (d *Dispatcher) resolveConfig(rc *message.RequestContext, cfg *RequestConfig) *RequestConfig {
	if cfg != nil {
		return cfg
	}
	if rc.FollowRedirects {
		return FollowRedirects
	}
	return NoRedirects
}

func (d *Dispatcher) sinkFor(cfg *RequestConfig, file string) body.Sink {
	if file == "" {
		return body.NewBuffer(d.metrics)
	}
	sink := body.NewFile(file, cfg.FollowsRedirects(), d.metrics)
	sink.ChunkSize = d.chunkSize
	return sink
}

// send is the state of one Dispatch call.
type send struct {
	*Dispatcher
	rc    *message.RequestContext
	cfg   *RequestConfig
	round Round
	sink  body.Sink
	log   *zap.Logger
}

func (s *send) run(ctx context.Context, ex *message.Exchange) error {
	if err := s.sendNoRedirects(ctx, ex, false); err != nil {
		return err
	}
	if s.cfg.FollowsRedirects() {
		if err := s.followRedirects(ctx, ex); err != nil {
			return err
		}
	}

	if s.finalize != nil {
		s.finalize(ctx, s.rc, s.round, ex)
	}
	if s.cfg.NotifiesListeners() {
		s.listeners.NotifyResponse(ctx, s.rc, ex)
	}
	return nil
}

// sendNoRedirects sends one hop. Listeners hear about the request always and
// about the response only when notifyResponse is set, even if the send fails.
func (s *send) sendNoRedirects(ctx context.Context, ex *message.Exchange, notifyResponse bool) error {
	s.log.Debug("Sending",
		zap.String("method", ex.Request.Method),
		zap.String("uri", ex.Request.URL.String()))
	start := time.Now()
	defer func() {
		s.log.Debug("Received response after",
			zap.Duration("elapsed", time.Since(start)),
			zap.String("uri", ex.Request.URL.String()))
		if notifyResponse && s.cfg.NotifiesListeners() {
			s.listeners.NotifyResponse(ctx, s.rc, ex)
		}
	}()

	if s.cfg.NotifiesListeners() {
		s.listeners.NotifyRequest(ctx, s.rc, ex)
	}
	return s.sendAuthenticated(ctx, ex)
}

// sendAuthenticated sends ex as its user, re-authenticating and re-sending
// at most once when the response shows the session was lost.
func (s *send) sendAuthenticated(ctx context.Context, ex *message.Exchange) error {
	user := s.rc.UserFor(ex)
	if err := s.gate.AttachCredentials(ctx, s.rc, ex, user, false); err != nil {
		return err
	}
	if err := s.transmit(ctx, ex); err != nil {
		return err
	}
	if !s.gate.NeedsRetry(s.rc, ex, user) {
		return nil
	}

	s.log.Debug("Unauthenticated response, retrying after authentication", zap.Object("exchange", ex))
	s.metrics.IncAuthRetry(s.rc.Initiator.String())
	if err := s.gate.AttachCredentials(ctx, s.rc, ex, user, true); err != nil {
		return err
	}
	return s.transmit(ctx, ex)
}

func (s *send) transmit(ctx context.Context, ex *message.Exchange) error {
	if err := s.round.Send(ctx, ex, s.sink); err != nil {
		return &Error{
			Kind:   KindTransport,
			Method: ex.Request.Method,
			URI:    ex.Request.URL.String(),
			Err:    err,
		}
	}
	s.metrics.ObserveHop(s.rc.Initiator.String(), ex.Response.StatusCode)
	return nil
}

// followRedirects performs redirect hops on clones of ex and copies each
// hop's response back onto ex.
func (s *send) followRedirects(ctx context.Context, ex *message.Exchange) error {
	validator := s.cfg.Validator()
	validator.NotifyMessageReceived(ex)

	user := s.rc.UserFor(ex)
	current := ex
	for i := 0; i < s.rc.MaxRedirects() && redirect.IsRedirectNeeded(current.Response.StatusCode); i++ {
		target, err := redirect.LocationOf(current)
		if err != nil {
			return &Error{
				Kind:   KindInvalidRedirectLocation,
				Method: current.Request.Method,
				URI:    current.Request.URL.String(),
				Err:    err,
			}
		}
		if target == nil {
			s.log.Debug("Redirect without Location, not following", zap.Object("exchange", current))
			s.metrics.IncRedirectStop("no_location")
			return nil
		}
		if !validator.IsValid(target) {
			s.log.Debug("Redirect target rejected by validator", zap.String("target", target.String()))
			s.metrics.IncRedirectStop("rejected")
			return nil
		}

		next := current.CloneAll()
		next.SetRequestingUser(user)
		next.Request.URL = target
		if redirect.IsRequestRewriteNeeded(current.Response.StatusCode, next.Request.Method) {
			redirect.RewriteToGet(next)
		}

		if err := s.sendNoRedirects(ctx, next, true); err != nil {
			return err
		}
		validator.NotifyMessageReceived(next)
		ex.CopyResponseFrom(next)
		current = next
	}

	if redirect.IsRedirectNeeded(current.Response.StatusCode) {
		s.metrics.IncRedirectStop("exhausted")
	}
	return nil
}
