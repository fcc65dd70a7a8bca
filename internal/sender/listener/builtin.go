package listener

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/httpsender/internal/sender/message"
)

// Funcs adapts plain functions to Listener. Register it by pointer; nil
// callbacks are skipped.
type Funcs struct {
	Priority   int
	OnRequest  func(ctx context.Context, ex *message.Exchange, initiator message.Initiator, s message.Sender) error
	OnResponse func(ctx context.Context, ex *message.Exchange, initiator message.Initiator, s message.Sender) error
}

// Order returns Priority.
func (f *Funcs) Order() int { return f.Priority }

// OnRequestSend calls OnRequest when set.
func (f *Funcs) OnRequestSend(ctx context.Context, ex *message.Exchange, initiator message.Initiator, s message.Sender) error {
	if f.OnRequest == nil {
		return nil
	}
	return f.OnRequest(ctx, ex, initiator, s)
}

// OnResponseReceive calls OnResponse when set.
func (f *Funcs) OnResponseReceive(ctx context.Context, ex *message.Exchange, initiator message.Initiator, s message.Sender) error {
	if f.OnResponse == nil {
		return nil
	}
	return f.OnResponse(ctx, ex, initiator, s)
}

// Logger logs every request and response at debug level.
type Logger struct {
	order  int
	logger *zap.Logger
}

// NewLogger creates a logging listener running at order.
func NewLogger(order int, logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{order: order, logger: logger.Named("traffic")}
}

// Order returns the order the listener was created with.
func (l *Logger) Order() int { return l.order }

// OnRequestSend logs the outgoing request.
func (l *Logger) OnRequestSend(_ context.Context, ex *message.Exchange, initiator message.Initiator, _ message.Sender) error {
	l.logger.Debug("Request", zap.Stringer("initiator", initiator), zap.Object("exchange", ex))
	return nil
}

// OnResponseReceive logs the response.
func (l *Logger) OnResponseReceive(_ context.Context, ex *message.Exchange, initiator message.Initiator, _ message.Sender) error {
	l.logger.Debug("Response", zap.Stringer("initiator", initiator), zap.Object("exchange", ex))
	return nil
}

// Hop is one response seen by a Recorder.
type Hop struct {
	Index     int           `json:"index"`
	Initiator string        `json:"initiator"`
	Method    string        `json:"method"`
	URL       string        `json:"url"`
	Status    int           `json:"status"`
	Location  string        `json:"location,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Recorder keeps the responses it is notified of, in arrival order.
type Recorder struct {
	order int

	mu   sync.Mutex
	hops []Hop
}

// NewRecorder creates a recording listener running at order.
func NewRecorder(order int) *Recorder {
	return &Recorder{order: order}
}

// Order returns the order the listener was created with.
func (r *Recorder) Order() int { return r.order }

// OnRequestSend does nothing; only responses are recorded.
func (r *Recorder) OnRequestSend(context.Context, *message.Exchange, message.Initiator, message.Sender) error {
	return nil
}

// OnResponseReceive appends a Hop for ex.
func (r *Recorder) OnResponseReceive(_ context.Context, ex *message.Exchange, initiator message.Initiator, _ message.Sender) error {
	hop := Hop{
		Initiator: initiator.String(),
		Method:    ex.Request.Method,
		URL:       ex.Request.URL.String(),
		Elapsed:   ex.Elapsed,
	}
	if ex.Response != nil {
		hop.Status = ex.Response.StatusCode
		hop.Location = ex.Response.Header.Get("Location")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	hop.Index = len(r.hops)
	r.hops = append(r.hops, hop)
	return nil
}

// Hops returns a copy of the recorded hops.
func (r *Recorder) Hops() []Hop {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Hop(nil), r.hops...)
}

// Reset drops the recorded hops.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hops = nil
}
