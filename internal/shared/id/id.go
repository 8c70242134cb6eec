// Package id provides centralized ID generation for the extension host.
//
// This package offers type-safe ULID generation with:
//   - Lexicographic sortability: Enables efficient time-based queries
//   - Prefixed types: Type-specific prefixes for debugging (ext_*, srf_*, job_*)
//   - Type safety: Separate types prevent ID misuse
//   - Performance: ~2μs per ULID behind a single entropy lock
//
// Install identity is assigned here, never derived from manifest content,
// so reinstalling the same package always yields a fresh identity.
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
// Type-Safe ID Wrappers
// ============================================================================

// ExtensionID identifies an installed extension
type ExtensionID string

// SurfaceID identifies a hosting script context
type SurfaceID string

// JobID identifies an asynchronous install job
type JobID string

// SnippetKey identifies a locally cached catalog snippet
type SnippetKey string

// ============================================================================
// ID Prefixes (for debugging and type identification)
// ============================================================================

const (
	ExtensionPrefix = "ext"
	SurfacePrefix   = "srf"
	JobPrefix       = "job"
	SnippetPrefix   = "snip"
	RequestPrefix   = "req"
)

// ============================================================================
// ULID Generator
// ============================================================================

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

var (
	// Default generator with cryptographically secure entropy
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator
func NewGenerator() *Generator {
	return &Generator{
		entropy: rand.Reader,
	}
}

// NewGeneratorWithEntropy creates a generator with custom entropy source
// Useful for testing with deterministic entropy
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: entropy,
	}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// ============================================================================
// Typed ID Generators
// ============================================================================

// NewExtensionID generates a new extension install identity
func NewExtensionID() ExtensionID {
	return ExtensionID(Default().GenerateWithPrefix(ExtensionPrefix))
}

// NewSurfaceID generates a new surface ID
func NewSurfaceID() SurfaceID {
	return SurfaceID(Default().GenerateWithPrefix(SurfacePrefix))
}

// NewJobID generates a new install job ID
func NewJobID() JobID {
	return JobID(Default().GenerateWithPrefix(JobPrefix))
}

// SnippetKeyFor builds the local cache key for a remote snippet id.
// Snippets keep their remote numeric identity, so this is deterministic
// rather than generated.
func SnippetKeyFor(remoteID int64) SnippetKey {
	return SnippetKey(fmt.Sprintf("%s_%d", SnippetPrefix, remoteID))
}

// NewRequestID generates a trace/request correlation ID
func NewRequestID() string {
	return Default().GenerateWithPrefix(RequestPrefix)
}

// ============================================================================
// Type Conversion and Validation
// ============================================================================

// String methods for ID types
func (id ExtensionID) String() string { return string(id) }
func (id SurfaceID) String() string   { return string(id) }
func (id JobID) String() string       { return string(id) }
func (k SnippetKey) String() string   { return string(k) }

// IsValid checks if an ID string is a valid ULID
func IsValid(id string) bool {
	_, err := ulid.Parse(id)
	return err == nil
}

// ValidPrefixed checks that s is prefix + "_" + a valid ULID.
func ValidPrefixed(s, prefix string) bool {
	rest, ok := strings.CutPrefix(s, prefix+"_")
	if !ok {
		return false
	}
	return IsValid(rest)
}

// Parse parses a ULID string
func Parse(id string) (ulid.ULID, error) {
	return ulid.Parse(id)
}

// Timestamp extracts the timestamp from a prefixed or bare ULID
func Timestamp(id string) (time.Time, error) {
	if i := strings.IndexByte(id, '_'); i >= 0 {
		id = id[i+1:]
	}
	parsed, err := Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
