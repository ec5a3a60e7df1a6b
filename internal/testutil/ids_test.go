package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFixedIDGenerator_ReturnsSameID(t *testing.T) {
	gen := NewFixedIDGenerator("scenario-session")

	assert.Equal(t, "scenario-session", gen.Generate())
	assert.Equal(t, "scenario-session", gen.Generate())
}

func TestFixedIDGenerator_EmptyIDDefault(t *testing.T) {
	assert.Equal(t, DefaultSessionID, NewFixedIDGenerator("").Generate())
}

func TestFixedIDGenerator_ThreadSafe(t *testing.T) {
	gen := NewFixedIDGenerator("shared")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				assert.Equal(t, "shared", gen.Generate())
			}
		}()
	}
	wg.Wait()
}

func TestSequenceGenerator_Sequence(t *testing.T) {
	gen := NewSequenceGenerator("cell")

	assert.Equal(t, int64(0), gen.Current())
	assert.Equal(t, "cell-1", gen.Generate())
	assert.Equal(t, "cell-2", gen.Generate())
	assert.Equal(t, int64(2), gen.Current())
	assert.Equal(t, int64(3), gen.Next())
	assert.Equal(t, "cell-4", gen.Generate())
}

func TestSequenceGenerator_Reset(t *testing.T) {
	gen := NewSequenceGenerator("cell")
	gen.Generate()
	gen.Generate()

	gen.Reset()

	assert.Equal(t, int64(0), gen.Current())
	assert.Equal(t, "cell-1", gen.Generate())
}

func TestSequenceGenerator_Concurrent(t *testing.T) {
	gen := NewSequenceGenerator("cell")

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]bool)
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := gen.Generate()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 1000)
	assert.Equal(t, int64(1000), gen.Current())
}
