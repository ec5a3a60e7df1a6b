package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"

	"go.starlark.net/starlark"

	"github.com/roach88/nodebook/internal/analysis"
	"github.com/roach88/nodebook/internal/codec"
	"github.com/roach88/nodebook/internal/config"
	"github.com/roach88/nodebook/internal/ir"
	"github.com/roach88/nodebook/internal/notebook"
	"github.com/roach88/nodebook/internal/session"
	"github.com/roach88/nodebook/internal/testutil"
)

// Harness executes the steps of one scenario against a session.
type Harness struct {
	session *session.Session
	stdout  *bytes.Buffer
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory session. Step failures are
// recorded in the trace and only fail the result when the step did not
// expect them. An error is returned only when the session cannot be set up.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	sessionID := scenario.Session
	if sessionID == "" {
		sessionID = DefaultSessionID
	}

	cfg := config.Default()
	cfg.Mode = config.ModeMemory

	var stdout bytes.Buffer
	sess, err := session.Open(ctx, cfg,
		session.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		session.WithPrint(&stdout),
		session.WithIDGenerator(testutil.NewFixedIDGenerator(sessionID)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	defer sess.Close()

	h := &Harness{session: sess, stdout: &stdout}

	result := NewResult()
	for i, step := range scenario.Steps {
		h.executeStep(ctx, i, step, result)
	}

	actx := &AssertionContext{Session: sess}
	for _, msg := range EvaluateAssertions(scenario.Assertions, actx) {
		result.AddError(msg)
	}

	fp, err := Fingerprint(sess.Chain())
	if err != nil {
		return nil, err
	}
	result.Fingerprint = fp
	return result, nil
}

// executeStep runs one step and records its trace event.
func (h *Harness) executeStep(ctx context.Context, index int, step Step, result *Result) {
	h.stdout.Reset()

	ev := TraceEvent{Step: index, Cell: step.Cell, Action: ActionRun}
	var (
		res *notebook.RunResult
		err error
	)
	if step.Code != nil {
		ev.Action = ActionInsertAndRun
		res, err = h.session.InsertAndRun(ctx, step.Cell, step.After, *step.Code)
	} else {
		res, err = h.session.Run(ctx, step.Cell)
	}

	if err != nil {
		ev.Error = ErrorClass(err)
	} else {
		ev.Display = Repr(res.Display)
		ev.Outputs = reprs(res.Outputs)
	}
	ev.Stdout = h.stdout.String()
	ev.Positions = PositionLabels(h.session.Positions())
	result.AddTrace(ev)

	for _, msg := range checkExpect(index, step.Expect, ev, err) {
		result.AddError(msg)
	}
}

// checkExpect compares a step outcome with its expectation.
func checkExpect(index int, e *Expect, ev TraceEvent, err error) []string {
	var errs []string

	wantErr := ""
	if e != nil {
		wantErr = e.Error
	}
	switch {
	case err != nil && wantErr == "":
		return append(errs, fmt.Sprintf("steps[%d]: cell %s: unexpected error: %v", index, ev.Cell, err))
	case err == nil && wantErr != "":
		return append(errs, fmt.Sprintf("steps[%d]: cell %s: expected %s error, run succeeded", index, ev.Cell, wantErr))
	case err != nil:
		if ev.Error != wantErr {
			errs = append(errs, fmt.Sprintf("steps[%d]: cell %s: expected %s error, got %s: %v", index, ev.Cell, wantErr, ev.Error, err))
		}
		return errs
	case e == nil:
		return errs
	}

	if e.Display != nil {
		got := ev.Display
		if got == "" {
			got = "None"
		}
		if got != *e.Display {
			errs = append(errs, fmt.Sprintf("steps[%d]: cell %s: display: expected %s, got %s", index, ev.Cell, *e.Display, got))
		}
	}
	if e.Outputs != nil && !maps.Equal(e.Outputs, ev.Outputs) {
		errs = append(errs, fmt.Sprintf("steps[%d]: cell %s: outputs: expected %v, got %v", index, ev.Cell, e.Outputs, ev.Outputs))
	}
	return errs
}

// ErrorClass names the kind of a run error.
func ErrorClass(err error) string {
	switch {
	case analysis.IsSyntaxError(err):
		return ErrClassSyntax
	case notebook.IsUndefinedNameError(err):
		return ErrClassUndefinedName
	case codec.IsSerializationError(err):
		return ErrClassSerialization
	case notebook.IsExecutionError(err):
		return ErrClassExecution
	case errors.Is(err, notebook.ErrUnknownNode):
		return ErrClassUnknownNode
	default:
		return ErrClassOther
	}
}

// Repr returns the Starlark repr of v, or "" for nil.
func Repr(v starlark.Value) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func reprs(values starlark.StringDict) map[string]string {
	out := make(map[string]string, len(values))
	for name, v := range values {
		out[name] = v.String()
	}
	return out
}

// PositionLabels renders positions as "id:label" strings.
func PositionLabels(positions []notebook.Position) []string {
	labels := make([]string, len(positions))
	for i, p := range positions {
		labels[i] = p.ID + ":" + p.Label
	}
	return labels
}

// Fingerprint digests the observable state of a chain: node order, code,
// validity and bindings.
func Fingerprint(chain *notebook.Chain) (string, error) {
	nodes := make(ir.IRArray, 0, chain.Len())
	for _, n := range chain.Nodes() {
		nodes = append(nodes, ir.IRObject{
			"id":      ir.IRString(n.ID()),
			"code":    ir.IRString(n.Code()),
			"valid":   ir.IRBool(n.Valid()),
			"inputs":  bindingsIR(n.InputBindings()),
			"outputs": bindingsIR(n.OutputBindings()),
		})
	}
	return ir.ChainFingerprint(ir.IRObject{"nodes": nodes})
}

func bindingsIR(bindings map[string]string) ir.IRObject {
	obj := make(ir.IRObject, len(bindings))
	for name, hash := range bindings {
		obj[name] = ir.IRString(hash)
	}
	return obj
}
