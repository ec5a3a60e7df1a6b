package analysis

import (
	"errors"
	"fmt"

	"go.starlark.net/syntax"
)

// SyntaxError reports source that cannot be parsed.
// No partial analysis is produced when it is returned.
type SyntaxError struct {
	// Filename is the name the source was parsed under.
	Filename string

	// Line and Col locate the first error (1-based, zero if unknown).
	Line int
	Col  int

	// Msg is the parser's description of the problem.
	Msg string

	Err error
}

// Error implements the error interface.
func (e *SyntaxError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("syntax error: %s:%d:%d: %s", e.Filename, e.Line, e.Col, e.Msg)
	}
	return fmt.Sprintf("syntax error: %s: %s", e.Filename, e.Msg)
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

// IsSyntaxError returns true if err is (or wraps) a *SyntaxError.
func IsSyntaxError(err error) bool {
	var se *SyntaxError
	return errors.As(err, &se)
}

func newSyntaxError(filename string, err error) *SyntaxError {
	se := &SyntaxError{Filename: filename, Msg: err.Error(), Err: err}
	var perr syntax.Error
	if errors.As(err, &perr) {
		se.Line = int(perr.Pos.Line)
		se.Col = int(perr.Pos.Col)
		se.Msg = perr.Msg
	}
	return se
}
