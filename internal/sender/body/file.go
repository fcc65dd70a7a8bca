package body

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/GriffinCanCode/httpsender/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/httpsender/internal/sender/message"
	"github.com/GriffinCanCode/httpsender/internal/sender/redirect"
)

// DefaultChunkSize is the largest amount copied to disk per write step.
const DefaultChunkSize int64 = 16 << 20

// File writes bodies to Path. Responses that will be followed as redirects
// are handed to Fallback instead so the file only ever holds the final body.
type File struct {
	Path            string
	ChunkSize       int64
	FollowRedirects bool
	Fallback        Sink

	metrics *monitoring.Metrics
}

// NewFile creates a file sink that buffers followed redirects in memory.
func NewFile(path string, followRedirects bool, metrics *monitoring.Metrics) *File {
	return &File{
		Path:            path,
		ChunkSize:       DefaultChunkSize,
		FollowRedirects: followRedirects,
		Fallback:        NewBuffer(metrics),
		metrics:         metrics,
	}
}

// Consume streams body into the file and records its path on the response.
func (f *File) Consume(ex *message.Exchange, body io.ReadCloser) (err error) {
	resp := ex.Response
	if f.FollowRedirects && redirect.IsRedirectNeeded(resp.StatusCode) {
		return f.fallback().Consume(ex, body)
	}
	if body != nil {
		defer body.Close()
	}

	resp.Body = nil
	resp.Stream = nil
	resp.File = ""

	if dir := filepath.Dir(f.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}
	out, err := os.OpenFile(f.Path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Path, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", f.Path, cerr)
		}
	}()
	resp.File = f.Path

	if body == nil {
		return nil
	}

	written, err := f.copyChunks(out, body, resp.ContentLength())
	f.metrics.AddBodyBytes("file", written)
	if err != nil {
		return fmt.Errorf("write %s: %w", f.Path, err)
	}
	return nil
}

// copyChunks copies until EOF or until at least expected bytes arrived.
// expected is -1 when the length is unknown.
func (f *File) copyChunks(dst io.Writer, src io.Reader, expected int64) (int64, error) {
	chunk := f.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	var total int64
	for {
		n, err := io.CopyN(dst, src, chunk)
		total += n
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return total, nil
		case err != nil:
			return total, err
		}
		if expected >= 0 && total >= expected {
			return total, nil
		}
	}
}

func (f *File) fallback() Sink {
	if f.Fallback == nil {
		return NewBuffer(f.metrics)
	}
	return f.Fallback
}
