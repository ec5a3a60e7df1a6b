package store

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"

	"github.com/roach88/nodebook/internal/codec"
	"github.com/roach88/nodebook/internal/runtime"
)

type testEnv struct {
	rt    *runtime.Runtime
	store *Store
}

// storeModes mirrors the two session modes: values held in memory or as
// payload files on disk.
var storeModes = []string{"memory", "disk"}

func newTestStore(t *testing.T, mode string) *testEnv {
	t.Helper()
	rt := runtime.New()

	var backend Backend
	switch mode {
	case "memory":
		backend = NewMemoryBackend()
	case "disk":
		d, err := NewDiskBackend(t.TempDir(), 4)
		require.NoError(t, err)
		backend = d
	default:
		t.Fatalf("unknown mode %q", mode)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &testEnv{rt: rt, store: New(backend, codec.New(rt), WithLogger(logger))}
}

func (e *testEnv) exec(t *testing.T, code string) starlark.StringDict {
	t.Helper()
	res, err := e.rt.Exec(code, nil)
	require.NoError(t, err)
	return res.Globals
}

func (e *testEnv) roundTrip(t *testing.T, v starlark.Value) starlark.Value {
	t.Helper()
	hash, err := e.store.Put(v)
	require.NoError(t, err)
	got, err := e.store.Get(hash)
	require.NoError(t, err)
	return got
}

func assertEqualValues(t *testing.T, want, got starlark.Value) {
	t.Helper()
	eq, err := starlark.Equal(want, got)
	require.NoError(t, err)
	assert.True(t, eq, "want %s, got %s", want, got)
	assert.Equal(t, want.Type(), got.Type())
}

func call(t *testing.T, fn starlark.Value, args ...starlark.Value) starlark.Value {
	t.Helper()
	v, err := starlark.Call(&starlark.Thread{Name: "test"}, fn, starlark.Tuple(args), nil)
	require.NoError(t, err)
	return v
}

func TestStore_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		code string
		v    string
	}{
		{"int", "v = 42", "v"},
		{"string", `v = "foo"`, "v"},
		{"string_dict", `v = {"foo": "bar"}`, "v"},
		{"bytes", `v = b"foo"`, "v"},
		{"bytes_dict", `v = {b"foo": b"bar"}`, "v"},
		{"list", "v = [1, 2, 3]", "v"},
		{"tuple", "v = (1, 2, 3)", "v"},
		{"set", "v = set([1, 2, 3])", "v"},
		{"table", `v = table(["a", "b"], [(0, "foo"), (1, "bar"), (2, "baz")])`, "v"},
	}

	for _, mode := range storeModes {
		for _, tt := range tests {
			t.Run(mode+"/"+tt.name, func(t *testing.T) {
				env := newTestStore(t, mode)
				want := env.exec(t, tt.code)[tt.v]
				assertEqualValues(t, want, env.roundTrip(t, want))
			})
		}
	}
}

func TestStore_Function(t *testing.T) {
	for _, mode := range storeModes {
		t.Run(mode, func(t *testing.T) {
			env := newTestStore(t, mode)
			globals := env.exec(t, "def add(a, b):\n    return a + b\n")

			add := env.roundTrip(t, globals["add"])
			assert.Equal(t, starlark.MakeInt(8), call(t, add, starlark.MakeInt(3), starlark.MakeInt(5)))
		})
	}
}

func TestStore_Closure(t *testing.T) {
	code := `
t = table(["a", "b"], [(0, "foo"), (1, "bar"), (2, "baz")])

def foo():
    return t

def bar():
    return foo()
`
	for _, mode := range storeModes {
		t.Run(mode, func(t *testing.T) {
			env := newTestStore(t, mode)
			globals := env.exec(t, code)

			bar := env.roundTrip(t, globals["bar"])
			assertEqualValues(t, globals["t"], call(t, bar))
		})
	}
}

func TestStore_Immutability(t *testing.T) {
	for _, mode := range storeModes {
		t.Run(mode, func(t *testing.T) {
			env := newTestStore(t, mode)
			l := env.exec(t, "l = [1, 2, 3]")["l"].(*starlark.List)

			hash, err := env.store.Put(l)
			require.NoError(t, err)

			got, err := env.store.Get(hash)
			require.NoError(t, err)
			assertEqualValues(t, l, got)

			require.NoError(t, l.Append(starlark.MakeInt(42)))
			got, err = env.store.Get(hash)
			require.NoError(t, err)
			eq, err := starlark.Equal(l, got)
			require.NoError(t, err)
			assert.False(t, eq)

			// Mutating a fetched value does not reach the store either.
			require.NoError(t, got.(*starlark.List).Append(starlark.MakeInt(7)))
			again, err := env.store.Get(hash)
			require.NoError(t, err)
			assert.Equal(t, 3, again.(*starlark.List).Len())
		})
	}
}

func TestStore_RefcountLifecycle(t *testing.T) {
	for _, mode := range storeModes {
		t.Run(mode, func(t *testing.T) {
			env := newTestStore(t, mode)
			s := env.store

			h1, err := s.Put(starlark.MakeInt(1))
			require.NoError(t, err)
			assert.Equal(t, 1, s.Refcount(h1))

			// Equal value stores once.
			h2, err := s.Put(starlark.MakeInt(1))
			require.NoError(t, err)
			assert.Equal(t, h1, h2)
			assert.Equal(t, 2, s.Refcount(h1))
			assert.Equal(t, 1, s.Len())

			require.NoError(t, s.Incref(h1))
			assert.Equal(t, 3, s.Refcount(h1))

			require.NoError(t, s.Decref(h1))
			require.NoError(t, s.Decref(h1))
			assert.True(t, s.Contains(h1))

			require.NoError(t, s.Decref(h1))
			assert.False(t, s.Contains(h1))
			assert.Equal(t, 0, s.Refcount(h1))
			assert.Equal(t, 0, s.Len())
			assert.NotContains(t, s.Refcounts(), h1)

			_, err = s.Get(h1)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, s.Decref(h1), ErrNotFound)
			assert.ErrorIs(t, s.Incref(h1), ErrNotFound)
		})
	}
}

func TestStore_EvictionRemovesPayload(t *testing.T) {
	env := newTestStore(t, "disk")
	s := env.store

	hash, err := s.Put(starlark.String("evict me"))
	require.NoError(t, err)

	listed, err := s.backend.List()
	require.NoError(t, err)
	assert.Equal(t, []string{hash}, listed)

	require.NoError(t, s.Decref(hash))
	listed, err = s.backend.List()
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestStore_Hashes(t *testing.T) {
	env := newTestStore(t, "memory")
	s := env.store

	var want []string
	for _, v := range []starlark.Value{starlark.MakeInt(1), starlark.String("a"), starlark.None} {
		h, err := s.Put(v)
		require.NoError(t, err)
		want = append(want, h)
	}

	got := s.Hashes()
	assert.ElementsMatch(t, want, got)
	assert.IsIncreasing(t, got)
}

func TestStore_PutSerializationError(t *testing.T) {
	env := newTestStore(t, "memory")
	l := env.exec(t, "l = [1]\nl.append(l)")["l"]

	_, err := env.store.Put(l)
	require.Error(t, err)
	assert.True(t, codec.IsSerializationError(err))
	assert.Equal(t, 0, env.store.Len())
}

func TestStore_Restore(t *testing.T) {
	dir := t.TempDir()
	rt := runtime.New()
	c := codec.New(rt)

	backend, err := NewDiskBackend(dir, 0)
	require.NoError(t, err)
	s := New(backend, c)

	kept, err := s.Put(starlark.MakeInt(1))
	require.NoError(t, err)
	require.NoError(t, s.Incref(kept))
	orphan, err := s.Put(starlark.MakeInt(2))
	require.NoError(t, err)

	// A fresh store over the same directory adopts only what it is told about.
	reopened, err := NewDiskBackend(dir, 0)
	require.NoError(t, err)
	s2 := New(reopened, c)
	require.NoError(t, s2.Restore(map[string]int{kept: 2, "ignored": 0}))

	assert.Equal(t, 2, s2.Refcount(kept))
	assert.False(t, s2.Contains(orphan))
	listed, err := reopened.List()
	require.NoError(t, err)
	assert.Equal(t, []string{kept}, listed)

	v, err := s2.Get(kept)
	require.NoError(t, err)
	assert.Equal(t, starlark.MakeInt(1), v)
}

func TestStore_RestoreMissingPayload(t *testing.T) {
	env := newTestStore(t, "memory")
	err := env.store.Restore(map[string]int{"deadbeef": 1})
	assert.ErrorIs(t, err, ErrNotFound)
}
