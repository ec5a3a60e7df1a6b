// Package testutil provides deterministic id sources for scenario runs and
// tests, so the same inputs produce byte-identical traces.
package testutil

import (
	"fmt"
	"sync"
)

// DefaultSessionID is returned by a FixedIDGenerator created with an empty id.
const DefaultSessionID = "test-session"

// FixedIDGenerator generates the same id every time.
//
// Unlike notebook.FixedGenerator, which returns ids in sequence and panics
// when they run out, this generator never runs dry. Scenario sessions use it
// for the session id.
//
// Thread-safety: FixedIDGenerator is stateless and safe for concurrent use.
type FixedIDGenerator struct {
	id string
}

// NewFixedIDGenerator creates a new fixed id generator.
//
// If id is empty, Generate() returns DefaultSessionID.
func NewFixedIDGenerator(id string) *FixedIDGenerator {
	if id == "" {
		id = DefaultSessionID
	}
	return &FixedIDGenerator{id: id}
}

// Generate returns the fixed id.
//
// Implements notebook.IDGenerator.
func (g *FixedIDGenerator) Generate() string {
	return g.id
}

// SequenceGenerator generates "<prefix>-1", "<prefix>-2", ... from a
// monotonic counter that can be reset for reuse.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type SequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	seq    int64
}

// NewSequenceGenerator creates a generator whose first id is "<prefix>-1".
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	return &SequenceGenerator{prefix: prefix}
}

// Generate advances the counter and returns the next id.
//
// Implements notebook.IDGenerator.
func (g *SequenceGenerator) Generate() string {
	return fmt.Sprintf("%s-%d", g.prefix, g.Next())
}

// Next increments and returns the counter.
func (g *SequenceGenerator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return g.seq
}

// Current returns the counter without incrementing.
func (g *SequenceGenerator) Current() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seq
}

// Reset sets the counter back to 0. The next id is "<prefix>-1" again.
func (g *SequenceGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq = 0
}
