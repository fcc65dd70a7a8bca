package message

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/saintfish/chardet"
)

// DeclaredCharset returns the charset parameter of Content-Type, if any.
func (r *Response) DeclaredCharset() string {
	if r == nil {
		return ""
	}
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(ct)
	if err != nil {
		return ""
	}
	return params["charset"]
}

// Charset returns the charset chosen when the body was consumed, falling back
// to the declared one and finally to detection on the buffered body.
func (r *Response) Charset() string {
	if r == nil {
		return ""
	}
	if r.charset != "" {
		return r.charset
	}
	if declared := r.DeclaredCharset(); declared != "" {
		return declared
	}
	if len(r.Body) == 0 {
		return ""
	}
	result, err := chardet.NewTextDetector().DetectBest(r.Body)
	if err != nil {
		return ""
	}
	return result.Charset
}

// ContentType returns the declared media type, or one sniffed from the body.
func (r *Response) ContentType() string {
	if r == nil {
		return ""
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	if len(r.Body) == 0 {
		return ""
	}
	return mimetype.Detect(r.Body).String()
}

// DecodedBody returns the body with its Content-Encoding removed. Unknown
// encodings are an error; identity returns the body unchanged.
func (r *Response) DecodedBody() ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	encodings := strings.Split(r.Header.Get("Content-Encoding"), ",")
	data := r.Body
	// Encodings are listed in the order they were applied.
	for i := len(encodings) - 1; i >= 0; i-- {
		enc := strings.ToLower(strings.TrimSpace(encodings[i]))
		if enc == "" || enc == "identity" {
			continue
		}
		decoded, err := decode(enc, data)
		if err != nil {
			return nil, fmt.Errorf("decode %s body: %w", enc, err)
		}
		data = decoded
	}
	return data, nil
}

func decode(encoding string, data []byte) ([]byte, error) {
	src := bytes.NewReader(data)
	switch encoding {
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(src)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case "deflate":
		// Servers send both zlib-wrapped and raw deflate under this name.
		if zr, err := zlib.NewReader(src); err == nil {
			defer zr.Close()
			return io.ReadAll(zr)
		}
		fr := flate.NewReader(bytes.NewReader(data))
		defer fr.Close()
		return io.ReadAll(fr)
	case "zstd":
		dec, err := zstd.NewReader(src)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return io.ReadAll(dec)
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}
