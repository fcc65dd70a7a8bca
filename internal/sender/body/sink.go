// Package body consumes response bodies into an exchange or onto disk.
package body

import (
	"errors"
	"fmt"
	"io"

	"github.com/GriffinCanCode/httpsender/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/httpsender/internal/sender/message"
)

// Sink takes ownership of a response body. It closes body unless it hands
// it to the exchange as a live stream.
type Sink interface {
	Consume(ex *message.Exchange, body io.ReadCloser) error
}

// Buffer reads bodies into memory. Event streams are not read; the live
// stream is attached to the response instead.
type Buffer struct {
	metrics *monitoring.Metrics
}

// NewBuffer creates a buffering sink. metrics may be nil.
func NewBuffer(metrics *monitoring.Metrics) *Buffer {
	return &Buffer{metrics: metrics}
}

// Consume reads body into memory, or attaches it live for an event stream.
func (b *Buffer) Consume(ex *message.Exchange, body io.ReadCloser) error {
	resp := ex.Response
	resp.Body = nil
	resp.Stream = nil
	resp.File = ""
	if body == nil {
		return nil
	}

	if resp.IsEventStream() {
		resp.SetCharset(resp.DeclaredCharset())
		resp.Stream = body
		return nil
	}

	defer body.Close()
	data, err := io.ReadAll(body)
	// A body shorter than its Content-Length is kept as received.
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("read response body: %w", err)
	}
	resp.Body = data
	b.metrics.AddBodyBytes("buffer", int64(len(data)))
	return nil
}
