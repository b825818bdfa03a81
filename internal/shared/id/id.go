// Package id generates the identifiers used across the overlay service.
//
// Identifiers are prefixed ULIDs. They sort by creation time and the prefix
// says what they name when they turn up in logs:
//
//	brg_01HV...   bridge session
//	page_01HV...  loaded page (one per navigation)
//	req_01HV...   HTTP or stream request
//
// Script evaluation requests inside a bridge session use plain int64 ids from
// the session's own counter; those never leave the process.
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

// SessionID identifies a bridge session.
type SessionID string

// PageID identifies one navigation of a surface.
type PageID string

// RequestID identifies an inbound API request.
type RequestID string

const (
	SessionPrefix = "brg"
	PagePrefix    = "page"
	RequestPrefix = "req"
)

// Generator generates ULIDs with optional prefixes.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand, made monotonic so
// ids minted in the same millisecond still sort in order.
func NewGenerator() *Generator {
	return &Generator{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
// Tests use it for deterministic output.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: entropy,
	}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a "prefix_ULID" string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewSessionID generates a bridge session id.
func NewSessionID() SessionID {
	return SessionID(Default().GenerateWithPrefix(SessionPrefix))
}

// NewPageID generates a page id.
func NewPageID() PageID {
	return PageID(Default().GenerateWithPrefix(PagePrefix))
}

// NewRequestID generates a request id.
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

func (id SessionID) String() string { return string(id) }
func (id PageID) String() string    { return string(id) }
func (id RequestID) String() string { return string(id) }

// Split separates a prefixed id into its prefix and ULID parts.
func Split(id string) (prefix string, raw string, ok bool) {
	prefix, raw, ok = strings.Cut(id, "_")
	if !ok {
		return "", "", false
	}
	return prefix, raw, true
}

// IsValid reports whether id is a ULID, with or without a prefix.
func IsValid(id string) bool {
	if _, raw, ok := Split(id); ok {
		id = raw
	}
	_, err := ulid.Parse(id)
	return err == nil
}

// Timestamp extracts the creation time encoded in id.
func Timestamp(id string) (time.Time, error) {
	if _, raw, ok := Split(id); ok {
		id = raw
	}
	parsed, err := ulid.Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
