package store

import (
	"fmt"
	"log/slog"
	"sort"

	"go.starlark.net/starlark"

	"github.com/roach88/nodebook/internal/codec"
)

// Store is a reference-counted, content-addressed value store.
// It is not safe for concurrent use; a session owns exactly one.
type Store struct {
	backend Backend
	codec   *codec.Codec
	refs    map[string]int
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for eviction and reload diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// New creates an empty Store over backend. Payloads already present in the
// backend are not adopted until Restore is called.
func New(backend Backend, c *codec.Codec, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		codec:   c,
		refs:    make(map[string]int),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Codec returns the codec values are encoded with.
func (s *Store) Codec() *codec.Codec {
	return s.codec
}

// Put encodes v and stores it, or adds a reference if an equal value is
// already stored. It returns the content hash.
func (s *Store) Put(v starlark.Value) (string, error) {
	enc, err := s.codec.Encode(v)
	if err != nil {
		return "", err
	}
	if err := s.PutEncoded(enc); err != nil {
		return "", err
	}
	return enc.Hash, nil
}

// PutEncoded is Put for a value that has already been encoded.
func (s *Store) PutEncoded(enc codec.Encoded) error {
	if s.refs[enc.Hash] > 0 {
		s.refs[enc.Hash]++
		return nil
	}
	if err := s.backend.Write(enc.Hash, enc.Payload); err != nil {
		return fmt.Errorf("put %s: %w", enc.Hash, err)
	}
	s.refs[enc.Hash] = 1
	return nil
}

// Get decodes the value stored under hash. Every call returns a new value.
func (s *Store) Get(hash string) (starlark.Value, error) {
	if s.refs[hash] == 0 {
		return nil, fmt.Errorf("get %s: %w", hash, ErrNotFound)
	}
	payload, err := s.backend.Read(hash)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", hash, err)
	}
	v, err := s.codec.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", hash, err)
	}
	return v, nil
}

// Incref adds a reference to a stored hash.
func (s *Store) Incref(hash string) error {
	if s.refs[hash] == 0 {
		return fmt.Errorf("incref %s: %w", hash, ErrNotFound)
	}
	s.refs[hash]++
	return nil
}

// Decref drops a reference and evicts the payload when none remain.
func (s *Store) Decref(hash string) error {
	n := s.refs[hash]
	if n == 0 {
		return fmt.Errorf("decref %s: %w", hash, ErrNotFound)
	}
	if n > 1 {
		s.refs[hash] = n - 1
		return nil
	}
	if err := s.backend.Delete(hash); err != nil {
		return fmt.Errorf("evict %s: %w", hash, err)
	}
	delete(s.refs, hash)
	s.logger.Debug("evicted value", "hash", hash)
	return nil
}

// Refcount returns the number of references to hash, 0 if not stored.
func (s *Store) Refcount(hash string) int {
	return s.refs[hash]
}

// Contains reports whether hash is stored.
func (s *Store) Contains(hash string) bool {
	return s.refs[hash] > 0
}

// Len returns the number of distinct stored values.
func (s *Store) Len() int {
	return len(s.refs)
}

// Hashes returns the stored hashes in sorted order.
func (s *Store) Hashes() []string {
	hashes := make([]string, 0, len(s.refs))
	for h := range s.refs {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)
	return hashes
}

// Refcounts returns a copy of the reference counts.
func (s *Store) Refcounts() map[string]int {
	out := make(map[string]int, len(s.refs))
	for h, n := range s.refs {
		out[h] = n
	}
	return out
}

// Restore adopts refcounts after a reload. Every counted hash must be present
// in the backend; payloads nobody references are deleted. Counts <= 0 are
// ignored.
func (s *Store) Restore(refcounts map[string]int) error {
	present, err := s.backend.List()
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	have := make(map[string]bool, len(present))
	for _, h := range present {
		have[h] = true
	}

	refs := make(map[string]int, len(refcounts))
	for h, n := range refcounts {
		if n <= 0 {
			continue
		}
		if !have[h] {
			return fmt.Errorf("restore: payload %s: %w", h, ErrNotFound)
		}
		refs[h] = n
	}

	for _, h := range present {
		if refs[h] > 0 {
			continue
		}
		if err := s.backend.Delete(h); err != nil {
			return fmt.Errorf("restore: %w", err)
		}
		s.logger.Debug("deleted orphan payload", "hash", h)
	}

	s.refs = refs
	return nil
}
