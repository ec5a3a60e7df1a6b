package store

import (
	"errors"
	"sort"
	"sync"
)

// ErrNotFound is returned for a hash that is not stored, either because it
// was never written or because its last reference was dropped.
var ErrNotFound = errors.New("value not found")

// Backend holds payloads by hash. It does no reference counting.
type Backend interface {
	Write(hash string, payload []byte) error
	Read(hash string) ([]byte, error)
	Delete(hash string) error
	List() ([]string, error)
}

// MemoryBackend keeps payloads in process memory.
type MemoryBackend struct {
	mu       sync.RWMutex
	payloads map[string][]byte
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{payloads: make(map[string][]byte)}
}

func (m *MemoryBackend) Write(hash string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads[hash] = append([]byte(nil), payload...)
	return nil
}

func (m *MemoryBackend) Read(hash string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	payload, ok := m.payloads[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return payload, nil
}

func (m *MemoryBackend) Delete(hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.payloads, hash)
	return nil
}

func (m *MemoryBackend) List() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hashes := make([]string, 0, len(m.payloads))
	for h := range m.payloads {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)
	return hashes, nil
}
