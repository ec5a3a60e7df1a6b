package harness

import (
	"context"

	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nodebook/internal/analysis"
	"github.com/roach88/nodebook/internal/ir"
	"github.com/roach88/nodebook/internal/notebook"
)

func parse(t *testing.T, src string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(src))
	require.NoError(t, err)
	return s
}

func TestRunWithGolden_Scenarios(t *testing.T) {
	tests := []string{
		"reorder_heal",
		"error_handling",
		"functions_and_loads",
	}

	for _, name := range tests {
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
			require.NoError(t, err)
			require.Equal(t, name, scenario.Name)

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Empty(t, result.Errors)
			assert.Len(t, result.Trace, len(scenario.Steps))
		})
	}
}

// Golden files are compared byte for byte, so each one must already be in
// the canonical form TraceJSON writes.
func TestGoldenFiles_Canonical(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("testdata", "golden", "*.golden"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		t.Run(filepath.Base(file), func(t *testing.T) {
			data, err := os.ReadFile(file)
			require.NoError(t, err)

			v, err := ir.UnmarshalIRValue(data)
			require.NoError(t, err)
			canonical, err := ir.MarshalCanonical(v)
			require.NoError(t, err)
			assert.Equal(t, string(canonical), string(data))
		})
	}
}

func TestTraceJSON_KeyOrder(t *testing.T) {
	got, err := TraceJSON("s", []TraceEvent{{
		Step:      4,
		Cell:      "d",
		Action:    "insert_and_run",
		Error:     "serialization",
		Stdout:    "hi\n",
		Positions: []string{"d:X"},
	}})
	require.NoError(t, err)
	assert.Equal(t,
		`{"scenario_name":"s","trace":[{"action":"insert_and_run","cell":"d","error":"serialization","positions":["d:X"],"stdout":"hi\n","step":4}]}`,
		string(got))
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/reorder_heal.yaml")
	require.NoError(t, err)

	first, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	second, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	assert.Equal(t, first.Trace, second.Trace)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Len(t, first.Fingerprint, 64)
}

func TestRun_FingerprintTracksState(t *testing.T) {
	base := parse(t, `
name: base
description: d
steps:
  - cell: a
    code: "x = 1"
`)
	changed := parse(t, `
name: changed
description: d
steps:
  - cell: a
    code: "x = 2"
`)
	reordered := parse(t, `
name: reordered
description: d
session: other-session
steps:
  - cell: a
    code: "x = 1"
`)

	r1, err := Run(context.Background(), base)
	require.NoError(t, err)
	r2, err := Run(context.Background(), changed)
	require.NoError(t, err)
	r3, err := Run(context.Background(), reordered)
	require.NoError(t, err)

	assert.NotEqual(t, r1.Fingerprint, r2.Fingerprint)
	// The session id is not part of the chain state.
	assert.Equal(t, r1.Fingerprint, r3.Fingerprint)
}

func TestRun_CapturesStdoutPerStep(t *testing.T) {
	s := parse(t, `
name: stdout
description: d
steps:
  - cell: a
    code: "print('one')"
  - cell: b
    after: a
    code: "x = 1"
  - cell: a
`)
	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	assert.Equal(t, "one\n", result.Trace[0].Stdout)
	assert.Equal(t, "None", result.Trace[0].Display)
	assert.Empty(t, result.Trace[1].Stdout)
	assert.Equal(t, "one\n", result.Trace[2].Stdout)
	assert.Equal(t, ActionRun, result.Trace[2].Action)
}

func TestRun_ExpectationFailures(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "display mismatch",
			yaml: `
name: t
description: d
steps:
  - cell: a
    code: "1 + 1"
    expect:
      display: "3"
`,
			want: "steps[0]: cell a: display: expected 3, got 2",
		},
		{
			name: "no display",
			yaml: `
name: t
description: d
steps:
  - cell: a
    code: "x = 1"
    expect:
      display: "1"
`,
			want: "display: expected 1, got None",
		},
		{
			name: "outputs mismatch",
			yaml: `
name: t
description: d
steps:
  - cell: a
    code: "x = 1"
    expect:
      outputs: { y: "1" }
`,
			want: "outputs: expected map[y:1], got map[x:1]",
		},
		{
			name: "unexpected error",
			yaml: `
name: t
description: d
steps:
  - cell: a
    code: "y = x"
`,
			want: "steps[0]: cell a: unexpected error",
		},
		{
			name: "expected error but succeeded",
			yaml: `
name: t
description: d
steps:
  - cell: a
    code: "x = 1"
    expect:
      error: execution
`,
			want: "expected execution error, run succeeded",
		},
		{
			name: "wrong error class",
			yaml: `
name: t
description: d
steps:
  - cell: a
    code: "y = x"
    expect:
      error: execution
`,
			want: "expected execution error, got undefined_name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Run(context.Background(), parse(t, tt.yaml))
			require.NoError(t, err)
			assert.False(t, result.Pass)
			require.Len(t, result.Errors, 1)
			assert.Contains(t, result.Errors[0], tt.want)
		})
	}
}

func TestErrorClass(t *testing.T) {
	_, syntaxErr := analysis.Analyze("x = = 1")
	require.Error(t, syntaxErr)

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"syntax", syntaxErr, ErrClassSyntax},
		{"undefined name", &notebook.UndefinedNameError{Node: "a", Name: "x"}, ErrClassUndefinedName},
		{"execution", &notebook.ExecutionError{Node: "a", Err: errors.New("boom")}, ErrClassExecution},
		{"unknown node", fmt.Errorf("run: %w", notebook.ErrUnknownNode), ErrClassUnknownNode},
		{"other", errors.New("disk full"), ErrClassOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorClass(tt.err))
		})
	}
}

func TestPositionLabels(t *testing.T) {
	got := PositionLabels([]notebook.Position{
		{ID: "a", Label: "1"},
		{ID: "b", Label: notebook.InvalidLabel},
	})
	assert.Equal(t, []string{"a:1", "b:X"}, got)
	assert.Empty(t, PositionLabels(nil))
}
