package store

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
)

// TokenGenerator produces candidate anonymous identifiers.
//
// The generator makes no uniqueness guarantee; the store re-queries existing
// subjects before inserting and redraws on collision.
type TokenGenerator interface {
	Generate() (string, error)
}

// SecureTokenGenerator draws 64-bit tokens from a cryptographically secure
// random source and renders them as 16 lowercase hex characters.
//
// Tokens double as de-identified subject handles, so they must not be
// predictable from sequence or seed.
//
// Thread-safety: SecureTokenGenerator is stateless and safe for concurrent use.
type SecureTokenGenerator struct{}

// Generate returns a new random token, e.g. "9f86d081884c7d65".
func (SecureTokenGenerator) Generate() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// FixedTokenGenerator returns predetermined tokens for testing.
//
// This enables deterministic tests, including forced-collision scenarios
// where the same token is queued twice.
//
// Thread-safety: FixedTokenGenerator is safe for concurrent use via internal mutex.
type FixedTokenGenerator struct {
	mu     sync.Mutex
	tokens []string
	idx    int
}

// NewFixedTokenGenerator creates a generator that returns tokens in order.
//
// Example:
//
//	gen := NewFixedTokenGenerator("aaaa", "aaaa", "bbbb")
//	gen.Generate() // "aaaa"
//	gen.Generate() // "aaaa" (collides, store redraws)
//	gen.Generate() // "bbbb"
func NewFixedTokenGenerator(tokens ...string) *FixedTokenGenerator {
	return &FixedTokenGenerator{tokens: tokens}
}

// Generate returns the next predetermined token.
//
// Panics if all tokens have been consumed. This is a fail-fast approach to
// catch test misconfiguration (test created more subjects than expected).
func (g *FixedTokenGenerator) Generate() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.tokens) {
		panic("FixedTokenGenerator: all tokens exhausted")
	}
	token := g.tokens[g.idx]
	g.idx++
	return token, nil
}
