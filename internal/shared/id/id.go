// Package id generates the identifiers carried by exchanges and dispatches.
//
// Identifiers are prefixed ULIDs: they sort by creation time and the prefix
// tells an exchange id from a dispatch id at a glance in logs.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ============================================================================
// Typed IDs
// ============================================================================

// ExchangeID identifies one request/response exchange (a single hop).
type ExchangeID string

// DispatchID identifies one logical send, covering every hop it performs.
type DispatchID string

// Prefixes of generated IDs.
const (
	ExchangePrefix = "ex"
	DispatchPrefix = "dsp"
)

// String returns the ID text.
func (id ExchangeID) String() string { return string(id) }

// String returns the ID text.
func (id DispatchID) String() string { return string(id) }

// ============================================================================
// Generator
// ============================================================================

// Generator produces monotonic ULIDs from a shared entropy source.
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator(rand.Reader)
	})
	return defaultGenerator
}

// NewGenerator creates a generator reading from entropy. Tests pass a
// deterministic reader.
func NewGenerator(entropy io.Reader) *Generator {
	return &Generator{entropy: ulid.Monotonic(entropy, 0)}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// WithPrefix creates a prefixed ULID string.
func (g *Generator) WithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewExchangeID generates a new exchange ID.
func NewExchangeID() ExchangeID {
	return ExchangeID(Default().WithPrefix(ExchangePrefix))
}

// NewDispatchID generates a new dispatch ID.
func NewDispatchID() DispatchID {
	return DispatchID(Default().WithPrefix(DispatchPrefix))
}

// ============================================================================
// Parsing
// ============================================================================

// Timestamp extracts the creation time of a prefixed or bare ID.
func Timestamp(id string) (time.Time, error) {
	if i := strings.LastIndexByte(id, '_'); i >= 0 {
		id = id[i+1:]
	}
	parsed, err := ulid.Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
