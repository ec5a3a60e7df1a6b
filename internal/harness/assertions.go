package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/nodebook/internal/session"
)

// AssertionError is returned when an assertion fails.
// It includes the final positions to help debug the failure.
type AssertionError struct {
	Type      string   // Assertion type for categorization
	Expected  string   // Human-readable expected outcome
	Actual    string   // Human-readable actual outcome
	Positions []string // Final chain positions
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	fmt.Fprintf(&buf, "  Positions: [%s]\n", strings.Join(e.Positions, " "))

	return buf.String()
}

// AssertionContext provides the session assertions are evaluated against.
type AssertionContext struct {
	Session *session.Session
}

func (actx *AssertionContext) positions() []string {
	return PositionLabels(actx.Session.Positions())
}

// assertPositions checks the chain order and labels.
func assertPositions(actx *AssertionContext, a Assertion) error {
	got := actx.positions()
	if slices.Equal(got, a.Labels) {
		return nil
	}
	return &AssertionError{
		Type:      AssertPositions,
		Expected:  fmt.Sprintf("[%s]", strings.Join(a.Labels, " ")),
		Actual:    fmt.Sprintf("[%s]", strings.Join(got, " ")),
		Positions: got,
	}
}

// assertValid checks a cell's validity flag.
func assertValid(actx *AssertionContext, a Assertion) error {
	n, ok := actx.Session.Chain().Node(a.Cell)
	if !ok {
		return &AssertionError{
			Type:      AssertValid,
			Expected:  fmt.Sprintf("cell %s with valid=%t", a.Cell, *a.Valid),
			Actual:    "cell not found",
			Positions: actx.positions(),
		}
	}
	if n.Valid() == *a.Valid {
		return nil
	}
	return &AssertionError{
		Type:      AssertValid,
		Expected:  fmt.Sprintf("cell %s with valid=%t", a.Cell, *a.Valid),
		Actual:    fmt.Sprintf("valid=%t", n.Valid()),
		Positions: actx.positions(),
	}
}

// assertRefcount evaluates the expression, hashes its value and checks how
// many bindings reference it.
func assertRefcount(actx *AssertionContext, a Assertion) error {
	res, err := actx.Session.Runtime().Exec(a.Value, nil)
	if err != nil {
		return fmt.Errorf("refcount: evaluate %q: %w", a.Value, err)
	}
	if res.Display == nil {
		return fmt.Errorf("refcount: %q is not an expression", a.Value)
	}
	st := actx.Session.Store()
	hash, err := st.Codec().Hash(res.Display)
	if err != nil {
		return fmt.Errorf("refcount: hash %q: %w", a.Value, err)
	}

	got := st.Refcount(hash)
	if got == a.Count {
		return nil
	}
	return &AssertionError{
		Type:      AssertRefcount,
		Expected:  fmt.Sprintf("%s referenced %d times", a.Value, a.Count),
		Actual:    fmt.Sprintf("referenced %d times", got),
		Positions: actx.positions(),
	}
}

// assertStoreSize checks the number of stored values.
func assertStoreSize(actx *AssertionContext, a Assertion) error {
	got := actx.Session.Store().Len()
	if got == a.Count {
		return nil
	}
	return &AssertionError{
		Type:      AssertStoreSize,
		Expected:  fmt.Sprintf("%d values", a.Count),
		Actual:    fmt.Sprintf("%d values", got),
		Positions: actx.positions(),
	}
}

// EvaluateAssertions evaluates all assertions against the session.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch {
		case actx == nil || actx.Session == nil:
			err = fmt.Errorf("assertion[%d]: %s requires a session", i, assertion.Type)
		case assertion.Type == AssertPositions:
			err = assertPositions(actx, assertion)
		case assertion.Type == AssertValid:
			err = assertValid(actx, assertion)
		case assertion.Type == AssertRefcount:
			err = assertRefcount(actx, assertion)
		case assertion.Type == AssertStoreSize:
			err = assertStoreSize(actx, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
