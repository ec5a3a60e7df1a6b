package notebook

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"

	"github.com/roach88/nodebook/internal/analysis"
	"github.com/roach88/nodebook/internal/codec"
	"github.com/roach88/nodebook/internal/runtime"
	"github.com/roach88/nodebook/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestChain(t *testing.T) (*Chain, *store.Store) {
	t.Helper()
	return newTestChainOn(t, store.NewMemoryBackend())
}

func newTestChainOn(t *testing.T, backend store.Backend) (*Chain, *store.Store) {
	t.Helper()
	rt := runtime.New()
	st := store.New(backend, codec.New(rt), store.WithLogger(discardLogger()))
	return New(rt, st, WithLogger(discardLogger())), st
}

func mustRun(t *testing.T, c *Chain, id, after, code string) *RunResult {
	t.Helper()
	res, err := c.InsertAndRun(id, after, code)
	require.NoError(t, err)
	return res
}

func assertValue(t *testing.T, want, got starlark.Value) {
	t.Helper()
	require.NotNil(t, got, "want %s, got no value", want)
	eq, err := starlark.Equal(want, got)
	require.NoError(t, err)
	assert.True(t, eq, "want %s, got %s", want, got)
}

func assertOutputs(t *testing.T, want map[string]starlark.Value, got starlark.StringDict) {
	t.Helper()
	assert.ElementsMatch(t, keys(want), got.Keys())
	for name, v := range want {
		if g, ok := got[name]; ok {
			assertValue(t, v, g)
		}
	}
}

func keys(m map[string]starlark.Value) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func order(c *Chain) []string {
	var ids []string
	for _, p := range c.Positions() {
		ids = append(ids, p.ID)
	}
	return ids
}

func labels(c *Chain) []string {
	var out []string
	for _, p := range c.Positions() {
		out = append(out, p.Label)
	}
	return out
}

// assertLinks checks that prev/next form one acyclic list covering every node.
func assertLinks(t *testing.T, c *Chain) {
	t.Helper()
	seen := map[string]bool{}
	prev := ""
	for id := c.Head(); id != ""; {
		require.False(t, seen[id], "cycle at %s", id)
		seen[id] = true
		n, ok := c.Node(id)
		require.True(t, ok)
		assert.Equal(t, prev, n.Prev(), "prev of %s", id)
		prev = id
		id = n.Next()
	}
	assert.Len(t, seen, c.Len())
}

func hashOf(t *testing.T, v starlark.Value) string {
	t.Helper()
	h, err := codec.New(runtime.New()).Hash(v)
	require.NoError(t, err)
	return h
}

func TestChain_Scenario1(t *testing.T) {
	c, _ := newTestChain(t)

	res := mustRun(t, c, "111", "", "x = 42")
	assert.Nil(t, res.Display)
	assertOutputs(t, map[string]starlark.Value{"x": starlark.MakeInt(42)}, res.Outputs)

	res = mustRun(t, c, "222", "111", "x += 10")
	assert.Nil(t, res.Display)
	assertOutputs(t, map[string]starlark.Value{"x": starlark.MakeInt(52)}, res.Outputs)

	// Running again gives the same result.
	res, err := c.Run("222")
	require.NoError(t, err)
	assertOutputs(t, map[string]starlark.Value{"x": starlark.MakeInt(52)}, res.Outputs)

	res = mustRun(t, c, "333", "222", "x")
	assertValue(t, starlark.MakeInt(52), res.Display)
	assert.Empty(t, res.Outputs)

	res = mustRun(t, c, "444", "111", "x=1")
	assertOutputs(t, map[string]starlark.Value{"x": starlark.MakeInt(1)}, res.Outputs)
	assert.Equal(t, []string{"111", "444", "222", "333"}, order(c))
	assert.Equal(t, []string{"1", "2", "X", "X"}, labels(c))

	// 222 is healed on the way.
	res, err = c.Run("333")
	require.NoError(t, err)
	assertValue(t, starlark.MakeInt(11), res.Display)
	assert.Empty(t, res.Outputs)
	assert.Equal(t, []string{"1", "2", "3", "4"}, labels(c))
	assertLinks(t, c)
}

func TestChain_Scenario2(t *testing.T) {
	c, _ := newTestChain(t)

	res := mustRun(t, c, "a", "", "x = 42\nx")
	assertValue(t, starlark.MakeInt(42), res.Display)

	n, ok := c.Node("a")
	require.True(t, ok)
	assert.Equal(t, map[string]string{"x": hashOf(t, starlark.MakeInt(42))}, n.OutputBindings())
	assert.Empty(t, n.InputBindings())
}

func TestChain_Scenario3(t *testing.T) {
	c, _ := newTestChain(t)
	mustRun(t, c, "a", "", `x = "hello"`)

	res := mustRun(t, c, "b", "a", "x")
	assertValue(t, starlark.String("hello"), res.Display)
	assert.Empty(t, res.Outputs)

	n, _ := c.Node("b")
	assert.Empty(t, n.OutputBindings())
	assert.Equal(t, map[string]string{"x": hashOf(t, starlark.String("hello"))}, n.InputBindings())
}

func TestChain_InsertOrMoveIdempotent(t *testing.T) {
	c, _ := newTestChain(t)
	require.NoError(t, c.InsertOrMove("a", ""))
	require.NoError(t, c.InsertOrMove("b", "a"))
	require.NoError(t, c.InsertOrMove("c", "b"))

	for i := 0; i < 2; i++ {
		require.NoError(t, c.InsertOrMove("c", "a"))
		assert.Equal(t, []string{"a", "c", "b"}, order(c))
		assertLinks(t, c)
	}

	for i := 0; i < 2; i++ {
		require.NoError(t, c.InsertOrMove("b", ""))
		assert.Equal(t, []string{"b", "a", "c"}, order(c))
		assertLinks(t, c)
	}
}

func TestChain_InsertOrMovePreservesOrder(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		after string
		want  []string
	}{
		{"down", "b", "d", []string{"a", "c", "d", "b", "e"}},
		{"up", "d", "a", []string{"a", "d", "b", "c", "e"}},
		{"head_to_tail", "a", "e", []string{"b", "c", "d", "e", "a"}},
		{"tail_to_head", "e", "", []string{"e", "a", "b", "c", "d"}},
		{"already_there", "c", "b", []string{"a", "b", "c", "d", "e"}},
		{"new_in_middle", "z", "c", []string{"a", "b", "c", "z", "d", "e"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestChain(t)
			after := ""
			for _, id := range []string{"a", "b", "c", "d", "e"} {
				require.NoError(t, c.InsertOrMove(id, after))
				after = id
			}

			require.NoError(t, c.InsertOrMove(tt.id, tt.after))
			assert.Equal(t, tt.want, order(c))
			assertLinks(t, c)
		})
	}
}

func TestChain_InsertOrMoveErrors(t *testing.T) {
	c, _ := newTestChain(t)
	require.NoError(t, c.InsertOrMove("a", ""))

	err := c.InsertOrMove("b", "nope")
	assert.ErrorIs(t, err, ErrUnknownNode)
	_, ok := c.Node("b")
	assert.False(t, ok, "failed insert must not create the node")

	assert.Error(t, c.InsertOrMove("a", "a"))
	assert.Error(t, c.InsertOrMove("", ""))
	assertLinks(t, c)

	// An unknown anchor never moves an existing node to the head.
	require.NoError(t, c.InsertOrMove("b", "a"))
	assert.ErrorIs(t, c.InsertOrMove("b", "nope"), ErrUnknownNode)
	assert.Equal(t, []string{"a", "b"}, order(c))
}

func TestChain_NormalizesIDs(t *testing.T) {
	c, _ := newTestChain(t)
	// "é" precomposed and decomposed name the same node.
	require.NoError(t, c.InsertOrMove("caf\u00e9", ""))
	require.NoError(t, c.InsertOrMove("cafe\u0301", ""))
	assert.Equal(t, 1, c.Len())
}

func TestChain_SelectiveInvalidation(t *testing.T) {
	c, _ := newTestChain(t)
	mustRun(t, c, "a", "", "x = 1\nz = 5")
	mustRun(t, c, "b", "a", "b = x + 1")
	mustRun(t, c, "c", "b", "c = z * 2")
	assert.Equal(t, []string{"1", "2", "3"}, labels(c))

	mustRun(t, c, "a", "", "x = 2\nz = 5")
	assert.Equal(t, []string{"1", "X", "3"}, labels(c))
}

func TestChain_InvalidationFollowsConsumers(t *testing.T) {
	c, _ := newTestChain(t)
	mustRun(t, c, "a", "", "x = 1")
	mustRun(t, c, "b", "a", "y = x + 1")
	mustRun(t, c, "c", "b", "w = 3")
	mustRun(t, c, "d", "c", "v = y * 2")

	mustRun(t, c, "a", "", "x = 10")
	// d never reads x, but it consumed b's output.
	assert.Equal(t, []string{"1", "X", "3", "X"}, labels(c))
}

func TestChain_NewNameInvalidatesAnyVersion(t *testing.T) {
	c, _ := newTestChain(t)
	mustRun(t, c, "a", "", "x = 1")
	mustRun(t, c, "b", "a", "y = 2")
	mustRun(t, c, "c", "b", "z = x + 1")

	// b now shadows x, which c consumed from a.
	mustRun(t, c, "b", "a", "y = 2\nx = 1")
	assert.Equal(t, []string{"1", "2", "X"}, labels(c))
}

func TestChain_ShadowedChangeKeepsConsumerValid(t *testing.T) {
	c, _ := newTestChain(t)
	mustRun(t, c, "a", "", "x = 1")
	mustRun(t, c, "b", "a", "x = 2")
	mustRun(t, c, "c", "b", "y = x")

	// c reads b's x, which a's change cannot reach.
	mustRun(t, c, "a", "", "x = 5")
	assert.Equal(t, []string{"1", "2", "3"}, labels(c))

	res, err := c.Run("c")
	require.NoError(t, err)
	assertOutputs(t, map[string]starlark.Value{"y": starlark.MakeInt(2)}, res.Outputs)
}

func TestChain_MovedShadowingDefinition(t *testing.T) {
	tests := []struct {
		name      string
		move      func(t *testing.T, c *Chain)
		wantOrder []string
		want      []string
		wantY     int
	}{
		{
			// a's old hash differs from the one c consumed from b, but c
			// now reads a's x.
			name:      "older definition rerun below the shadow",
			move:      func(t *testing.T, c *Chain) { mustRun(t, c, "a", "b", "x = 5") },
			wantOrder: []string{"b", "a", "c"},
			want:      []string{"1", "2", "X"},
			wantY:     5,
		},
		{
			name:      "shadow moved above the older definition",
			move:      func(t *testing.T, c *Chain) { require.NoError(t, c.InsertOrMove("b", "")) },
			wantOrder: []string{"b", "a", "c"},
			want:      []string{"1", "2", "X"},
			wantY:     1,
		},
		{
			name:      "shadow moved below its consumer",
			move:      func(t *testing.T, c *Chain) { require.NoError(t, c.InsertOrMove("b", "c")) },
			wantOrder: []string{"a", "c", "b"},
			want:      []string{"1", "X", "3"},
			wantY:     1,
		},
		{
			name:      "move that changes nothing c reads",
			move:      func(t *testing.T, c *Chain) { require.NoError(t, c.InsertOrMove("c", "b")) },
			wantOrder: []string{"a", "b", "c"},
			want:      []string{"1", "2", "3"},
			wantY:     2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestChain(t)
			mustRun(t, c, "a", "", "x = 1")
			mustRun(t, c, "b", "a", "x = 2")
			mustRun(t, c, "c", "b", "y = x")

			tt.move(t, c)
			assert.Equal(t, tt.wantOrder, order(c))
			assert.Equal(t, tt.want, labels(c))
			assertLinks(t, c)

			hash, err := c.Resolve("c", "x")
			require.NoError(t, err)
			n, _ := c.Node("c")
			if n.Valid() {
				assert.Equal(t, hash, n.InputBindings()["x"], "a valid node read what it resolves to")
			}

			_, err = c.Run("c")
			require.NoError(t, err)
			assert.Equal(t, map[string]string{"y": hashOf(t, starlark.MakeInt(tt.wantY))}, n.OutputBindings())
		})
	}
}

func TestChain_MoveWithoutConsumers(t *testing.T) {
	c, _ := newTestChain(t)
	mustRun(t, c, "a", "", "x = 1")
	mustRun(t, c, "b", "a", "z = 3")
	mustRun(t, c, "c", "b", "y = x")

	require.NoError(t, c.InsertOrMove("b", ""))
	assert.Equal(t, []string{"b", "a", "c"}, order(c))
	assert.Equal(t, []string{"1", "2", "3"}, labels(c))
}

func TestChain_PositionsEmpty(t *testing.T) {
	c, _ := newTestChain(t)

	got := c.Positions()
	require.NotNil(t, got)
	assert.Empty(t, got)

	data, err := json.Marshal(got)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestChain_RemovedOutputInvalidates(t *testing.T) {
	c, _ := newTestChain(t)
	mustRun(t, c, "a", "", "x = 1\ny = 2")
	mustRun(t, c, "b", "a", "z = y")

	mustRun(t, c, "a", "", "x = 1")
	assert.Equal(t, []string{"1", "X"}, labels(c))

	_, err := c.Run("b")
	assert.True(t, IsUndefinedNameError(err))
}

func TestChain_AutoHealEquivalence(t *testing.T) {
	build := func(t *testing.T) *Chain {
		c, _ := newTestChain(t)
		mustRun(t, c, "a", "", "x = 1")
		mustRun(t, c, "b", "a", "y = x * 2")
		mustRun(t, c, "c", "b", "y + 1")
		mustRun(t, c, "a", "", "x = 5")
		return c
	}

	healed := build(t)
	got, err := healed.Run("c")
	require.NoError(t, err)

	manual := build(t)
	for _, id := range []string{"a", "b"} {
		_, err := manual.Run(id)
		require.NoError(t, err)
	}
	want, err := manual.Run("c")
	require.NoError(t, err)

	assertValue(t, want.Display, got.Display)
	assertValue(t, starlark.MakeInt(11), got.Display)
	assert.Equal(t, manual.Snapshot(), healed.Snapshot())
}

func TestChain_AutoHealDeepChain(t *testing.T) {
	const depth = 300
	c, _ := newTestChain(t)
	mustRun(t, c, "n0", "", "x = 0")
	for i := 1; i < depth; i++ {
		mustRun(t, c, fmt.Sprintf("n%d", i), fmt.Sprintf("n%d", i-1), "x += 1")
	}

	mustRun(t, c, "n0", "", "x = 1000")
	for _, p := range c.Positions()[1:] {
		assert.Equal(t, InvalidLabel, p.Label)
	}

	res := mustRun(t, c, "tail", fmt.Sprintf("n%d", depth-1), "x")
	assertValue(t, starlark.MakeInt(1000+depth-1), res.Display)
	for _, p := range c.Positions() {
		assert.NotEqual(t, InvalidLabel, p.Label, p.ID)
	}
}

func TestChain_RefcountLifecycle(t *testing.T) {
	c, st := newTestChain(t)
	h := hashOf(t, starlark.MakeInt(1))

	mustRun(t, c, "a", "", "x = 1")
	mustRun(t, c, "b", "a", "y = 1")
	assert.Equal(t, 2, st.Refcount(h))
	assert.Equal(t, 1, st.Len())

	mustRun(t, c, "b", "a", "y = 2")
	assert.Equal(t, 1, st.Refcount(h))

	mustRun(t, c, "a", "", "x = 3")
	assert.Equal(t, 0, st.Refcount(h))
	_, err := st.Get(h)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Only the two live bindings remain.
	assert.Equal(t, 2, st.Len())
	snap := c.Snapshot()
	assert.Equal(t, snap.Refcounts(), st.Refcounts())
}

func TestChain_UndefinedName(t *testing.T) {
	c, st := newTestChain(t)
	mustRun(t, c, "a", "", "x = 1")

	_, err := c.InsertAndRun("b", "a", "y = missing + x")
	require.Error(t, err)
	assert.True(t, IsUndefinedNameError(err))
	var ue *UndefinedNameError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "missing", ue.Name)
	assert.Equal(t, "b", ue.Node)

	assert.Equal(t, 1, st.Len())
	assert.Equal(t, []string{"1", "X"}, labels(c))
}

func TestChain_Builtins(t *testing.T) {
	c, _ := newTestChain(t)
	res := mustRun(t, c, "a", "", `n = len([1, 2]) + int("3")`)
	assertOutputs(t, map[string]starlark.Value{"n": starlark.MakeInt(5)}, res.Outputs)

	h, err := c.Resolve("a", "len")
	require.NoError(t, err)
	assert.Empty(t, h)

	// A binding shadows the builtin.
	mustRun(t, c, "b", "a", "len = 7")
	mustRun(t, c, "c", "b", "")
	h, err = c.Resolve("c", "len")
	require.NoError(t, err)
	assert.Equal(t, hashOf(t, starlark.MakeInt(7)), h)
}

func TestChain_ExecutionErrorCommitsNothing(t *testing.T) {
	c, st := newTestChain(t)
	mustRun(t, c, "a", "", "x = 1")
	mustRun(t, c, "b", "a", "y = x + 1")
	before := st.Refcounts()

	_, err := c.InsertAndRun("a", "", "x = 2\nfail('boom')")
	require.Error(t, err)
	assert.True(t, IsExecutionError(err))
	var ee *ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Contains(t, ee.Backtrace(), "boom")

	a, _ := c.Node("a")
	assert.False(t, a.Valid())
	assert.Equal(t, map[string]string{"x": hashOf(t, starlark.MakeInt(1))}, a.OutputBindings())
	assert.Equal(t, before, st.Refcounts())

	// b is healed through a, which fails again.
	require.NoError(t, c.Invalidate("b"))
	_, err = c.Run("b")
	assert.True(t, IsExecutionError(err))
}

func TestChain_SerializationErrorCommitsNothing(t *testing.T) {
	c, st := newTestChain(t)
	mustRun(t, c, "a", "", "x = [1]")
	before := st.Refcounts()

	_, err := c.InsertAndRun("a", "", "x = [1]\nx.append(x)")
	require.Error(t, err)
	assert.True(t, codec.IsSerializationError(err))

	a, _ := c.Node("a")
	assert.False(t, a.Valid())
	assert.Equal(t, before, st.Refcounts())
}

func TestChain_SyntaxErrorLeavesNode(t *testing.T) {
	c, _ := newTestChain(t)
	mustRun(t, c, "a", "", "x = 1")

	err := c.UpdateCode("a", "x = = 1")
	require.Error(t, err)
	assert.True(t, analysis.IsSyntaxError(err))

	a, _ := c.Node("a")
	assert.Equal(t, "x = 1", a.Code())
	assert.True(t, a.Valid())
}

func TestChain_UnknownNode(t *testing.T) {
	c, _ := newTestChain(t)

	_, err := c.Run("ghost")
	assert.ErrorIs(t, err, ErrUnknownNode)
	assert.ErrorIs(t, c.UpdateCode("ghost", "x = 1"), ErrUnknownNode)
	_, err = c.Resolve("ghost", "x")
	assert.ErrorIs(t, err, ErrUnknownNode)
}

func TestChain_NewNodeIsValid(t *testing.T) {
	c, _ := newTestChain(t)
	require.NoError(t, c.InsertOrMove("a", ""))

	a, _ := c.Node("a")
	assert.True(t, a.Valid())
	assert.Empty(t, a.Code())
	assert.Equal(t, []Position{{ID: "a", Label: "1"}}, c.Positions())
}

func TestChain_FunctionsAcrossCells(t *testing.T) {
	c, _ := newTestChain(t)
	mustRun(t, c, "a", "", "rate = 3")
	mustRun(t, c, "b", "a", "def scale(v):\n    return v * rate\n")
	res := mustRun(t, c, "c", "b", "load(\"math\", \"floor\")\nscale(floor(2.5))")
	assertValue(t, starlark.MakeInt(6), res.Display)

	cn, _ := c.Node("c")
	assert.Equal(t, []string{"math"}, cn.StaticImports())
	assert.Equal(t, []string{"scale"}, cn.StaticInputs())
}

func TestChain_SnapshotRestore(t *testing.T) {
	backend := store.NewMemoryBackend()
	c, _ := newTestChainOn(t, backend)
	mustRun(t, c, "a", "", "x = 42")
	mustRun(t, c, "b", "a", "x += 10")
	mustRun(t, c, "d", "a", "x = 1")
	rec := c.Snapshot()

	restored, st := newTestChainOn(t, backend)
	require.NoError(t, st.Restore(rec.Refcounts()))
	require.NoError(t, restored.Restore(rec))

	assert.Equal(t, c.Positions(), restored.Positions())
	assert.Equal(t, rec, restored.Snapshot())
	assertLinks(t, restored)

	res := mustRun(t, restored, "c", "b", "x")
	assertValue(t, starlark.MakeInt(11), res.Display)

	assert.Error(t, restored.Restore(rec), "restore into a non-empty chain")
}
