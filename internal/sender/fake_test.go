package sender

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/GriffinCanCode/httpsender/internal/sender/body"
	"github.com/GriffinCanCode/httpsender/internal/sender/message"
)

// reply is what the fake origin answers for a path.
type reply struct {
	status int
	header map[string]string
	body   string
	err    error
}

// sent is what the fake transport saw on the wire.
type sent struct {
	method string
	url    string
	header http.Header
	body   string
	user   message.User
}

// fakeTransport answers from a script keyed by path. A path may have a
// queue of replies; the last one repeats.
type fakeTransport struct {
	mu     sync.Mutex
	script map[string][]reply
	log    []sent
	rounds int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{script: make(map[string][]reply)}
}

func (f *fakeTransport) on(path string, replies ...reply) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script[path] = append(f.script[path], replies...)
	return f
}

func (f *fakeTransport) requests() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.log...)
}

func (f *fakeTransport) NewRound(*message.RequestContext, *RequestConfig) Round {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rounds++
	return f
}

func (f *fakeTransport) Send(_ context.Context, ex *message.Exchange, sink body.Sink) error {
	f.mu.Lock()
	f.log = append(f.log, sent{
		method: ex.Request.Method,
		url:    ex.Request.URL.String(),
		header: ex.Request.Header.Clone(),
		body:   string(ex.Request.Body),
		user:   ex.RequestingUser(),
	})
	queue := f.script[ex.Request.URL.Path]
	r := reply{status: http.StatusNotFound}
	if len(queue) > 0 {
		r = queue[0]
		if len(queue) > 1 {
			f.script[ex.Request.URL.Path] = queue[1:]
		}
	}
	f.mu.Unlock()

	if r.err != nil {
		return r.err
	}
	ex.ResetResponse()
	ex.Response = message.NewResponse(r.status)
	for k, v := range r.header {
		ex.Response.Header.Set(k, v)
	}
	ex.FromTarget = true
	return sink.Consume(ex, io.NopCloser(strings.NewReader(r.body)))
}
