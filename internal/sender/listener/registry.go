// Package listener keeps the ordered set of observers notified before a
// request goes out and after its response arrives.
package listener

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/httpsender/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/httpsender/internal/sender/message"
)

// ErrNilListener is returned when registering or removing a nil listener.
var ErrNilListener = errors.New("listener must not be nil")

// Listener observes every request sent and response received. Lower Order
// values run first. A listener may send further requests through s; those
// are not broadcast to listeners while ctx is used.
type Listener interface {
	Order() int
	OnRequestSend(ctx context.Context, ex *message.Exchange, initiator message.Initiator, s message.Sender) error
	OnResponseReceive(ctx context.Context, ex *message.Exchange, initiator message.Initiator, s message.Sender) error
}

type guardKey struct{}

// Notifying reports whether ctx belongs to a notification pass in progress.
func Notifying(ctx context.Context) bool {
	v, _ := ctx.Value(guardKey{}).(bool)
	return v
}

// Registry holds listeners sorted by Order. Registration is copy-on-write so
// a pass in progress keeps iterating the listeners it started with.
type Registry struct {
	mu        sync.Mutex
	listeners []Listener

	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// NewRegistry creates an empty registry. logger and metrics may be nil.
func NewRegistry(logger *zap.Logger, metrics *monitoring.Metrics) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger:  logger.Named("listeners"),
		metrics: metrics,
	}
}

// Add registers l. Listeners with equal Order keep no particular order.
func (r *Registry) Add(l Listener) error {
	if l == nil {
		return ErrNilListener
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make([]Listener, len(r.listeners), len(r.listeners)+1)
	copy(next, r.listeners)
	next = append(next, l)
	sort.SliceStable(next, func(i, j int) bool { return next[i].Order() < next[j].Order() })
	r.listeners = next
	return nil
}

// Remove unregisters every listener equal to l. Removing an unknown listener
// is not an error. Listeners whose dynamic type is not comparable, such as a
// struct value holding a slice, never match; register a pointer to remove
// them later.
func (r *Registry) Remove(l Listener) error {
	if l == nil {
		return ErrNilListener
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make([]Listener, 0, len(r.listeners))
	for _, existing := range r.listeners {
		if !sameListener(existing, l) {
			next = append(next, existing)
		}
	}
	r.listeners = next
	return nil
}

func sameListener(a, b Listener) bool {
	ta := reflect.TypeOf(a)
	return ta == reflect.TypeOf(b) && ta.Comparable() && a == b
}

// Len returns the number of registered listeners.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listeners)
}

func (r *Registry) snapshot() []Listener {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listeners
}

// NotifyRequest runs OnRequestSend on every listener in order.
func (r *Registry) NotifyRequest(ctx context.Context, rc *message.RequestContext, ex *message.Exchange) {
	r.notify(ctx, "request", rc, ex, Listener.OnRequestSend)
}

// NotifyResponse runs OnResponseReceive on every listener in order.
func (r *Registry) NotifyResponse(ctx context.Context, rc *message.RequestContext, ex *message.Exchange) {
	r.notify(ctx, "response", rc, ex, Listener.OnResponseReceive)
}

type callback func(Listener, context.Context, *message.Exchange, message.Initiator, message.Sender) error

func (r *Registry) notify(ctx context.Context, event string, rc *message.RequestContext, ex *message.Exchange, fn callback) {
	if Notifying(ctx) {
		return
	}
	listeners := r.snapshot()
	if len(listeners) == 0 {
		return
	}

	ctx = context.WithValue(ctx, guardKey{}, true)
	for _, l := range listeners {
		if err := r.invoke(ctx, l, rc, ex, fn); err != nil {
			r.metrics.IncListenerFailure(event)
			r.logger.Error("Listener failed",
				zap.String("event", event),
				zap.String("listener", fmt.Sprintf("%T", l)),
				zap.Object("exchange", ex),
				zap.Error(err))
		}
	}
}

func (r *Registry) invoke(ctx context.Context, l Listener, rc *message.RequestContext, ex *message.Exchange, fn callback) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(l, ctx, ex, rc.Initiator, rc.Sender)
}
